package template

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/store"
	"github.com/leadmail/leadmail/internal/validate"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// DigestItem is one outcome awaiting review
type DigestItem struct {
	MessageID string
	Subject   string
	From      string
	Name      string
	Parser    string
	Status    string
	Score     int
	Decision  string
	Missing   []string
	Errors    []string
	Warnings  []string
}

// DigestData contains all data available to the digest template
type DigestData struct {
	Date  string
	Count int
	Items []DigestItem
}

// Email represents a rendered email ready to send
type Email struct {
	Subject string
	Body    string
}

// Engine handles digest rendering
type Engine struct {
	templates map[string]*template.Template
	now       func() time.Time
}

var funcs = template.FuncMap{"join": strings.Join}

// NewEngine parses the embedded templates
func NewEngine() (*Engine, error) {
	e := &Engine{
		templates: make(map[string]*template.Template),
		now:       time.Now,
	}

	for _, name := range []string{"digest"} {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, eris.Wrapf(err, "template: read %s", name)
		}

		tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, eris.Wrapf(err, "template: parse %s", name)
		}
		e.templates[name] = tmpl
	}

	return e, nil
}

// Item builds the digest entry for a stored outcome
func Item(o store.Outcome) DigestItem {
	it := DigestItem{
		MessageID: o.MessageID,
		Subject:   o.Subject,
		From:      o.Sender,
		Parser:    o.Parser,
		Status:    string(o.Status),
		Score:     o.Score,
		Decision:  string(o.Decision),
		Errors:    o.Errors,
		Warnings:  o.Warnings,
	}
	if it.Status == "" {
		it.Status = "non analysé"
	}
	if o.Record != nil {
		it.Name = strings.TrimSpace(lead.Str(o.Record.Subscriber.FirstName) + " " + lead.Str(o.Record.Subscriber.LastName))
		it.Missing = validate.Validate(o.Record).MissingRequiredFields
	}
	return it
}

// RenderDigest renders the review digest for outcomes
func (e *Engine) RenderDigest(outcomes []store.Outcome) (*Email, error) {
	data := DigestData{
		Date:  e.now().Format("02/01/2006 15:04"),
		Count: len(outcomes),
	}
	for _, o := range outcomes {
		data.Items = append(data.Items, Item(o))
	}

	var buf bytes.Buffer
	if err := e.templates["digest"].Execute(&buf, data); err != nil {
		return nil, eris.Wrap(err, "template: render digest")
	}

	return &Email{
		Subject: fmt.Sprintf("[leadmail] %d lead(s) à vérifier", len(outcomes)),
		Body:    buf.String(),
	}, nil
}

// AvailableTemplates returns the list of available template names
func (e *Engine) AvailableTemplates() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	return names
}
