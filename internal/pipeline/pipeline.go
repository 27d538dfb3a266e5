// Package pipeline runs messages through the lead stages in a fixed order:
// classify, select a parser, extract, validate.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadmail/leadmail/internal/allowlist"
	"github.com/leadmail/leadmail/internal/inbox"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/validate"
)

// Outcome is everything learned about one message
type Outcome struct {
	MessageID      string               `json:"messageId"`
	UID            uint32               `json:"uid,omitempty"`
	Subject        string               `json:"subject"`
	From           string               `json:"from"`
	Classification inbox.Classification `json:"classification"`
	Parsed         bool                 `json:"parsed"`
	Parse          *parser.Result       `json:"parse,omitempty"`
	Validation     *validate.Result     `json:"validation,omitempty"`
	Decision       validate.Decision    `json:"decision"`
	ProcessedAt    time.Time            `json:"processedAt"`
}

// Record returns the extracted record, nil when nothing was parsed
func (o Outcome) Record() *lead.Record {
	if o.Parse == nil {
		return nil
	}
	return o.Parse.Record
}

// Pipeline wires the classifier to a parser registry
type Pipeline struct {
	registry *parser.Registry
	known    []allowlist.Sender
	force    bool
	workers  int
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithKnownSenders sets the allowlist consulted by the classifier
func WithKnownSenders(known []allowlist.Sender) Option {
	return func(p *Pipeline) { p.known = known }
}

// WithForce parses messages the classifier rejected
func WithForce(force bool) Option {
	return func(p *Pipeline) { p.force = force }
}

// WithWorkers bounds Run concurrency
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New returns a pipeline over reg, the default registry when reg is nil
func New(reg *parser.Registry, opts ...Option) *Pipeline {
	if reg == nil {
		reg = parser.Default()
	}
	p := &Pipeline{registry: reg, workers: 1, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = zap.L().With(zap.String("component", "pipeline"))
	}
	return p
}

// Registry exposes the parser registry, for stats
func (p *Pipeline) Registry() *parser.Registry { return p.registry }

// Process runs one message through every stage. A message the classifier
// rejects is not parsed unless the pipeline was built WithForce.
func (p *Pipeline) Process(msg lead.Message) Outcome {
	out := Outcome{
		MessageID:   msg.ID,
		UID:         msg.UID,
		Subject:     msg.Subject,
		From:        msg.From,
		ProcessedAt: p.now(),
	}
	log := p.log.With(zap.String("message_id", msg.ID))

	out.Classification = inbox.Classify(msg, p.known)
	if !out.Classification.IsLead && !p.force {
		out.Decision = validate.DecisionReject
		log.Debug("not a lead", zap.Float64("score", out.Classification.Score))
		return out
	}

	res := p.registry.Parse(msg)
	out.Parsed = true
	out.Parse = &res
	if !res.Success {
		out.Decision = validate.DecisionReject
		log.Info("parse failed", zap.Strings("errors", res.Errors), zap.Bool("no_parser", res.NoParser))
		return out
	}

	v := res.Validation
	out.Validation = v
	out.Decision = v.Decision()
	log.Info("lead processed",
		zap.String("parser", string(res.Parser)),
		zap.String("status", string(v.Status)),
		zap.Int("score", v.Score),
		zap.String("decision", string(out.Decision)),
	)
	return out
}

// Run processes msgs with up to the configured number of workers. Results
// keep the input order; on cancellation the outcomes computed so far are
// returned with the context error.
func (p *Pipeline) Run(ctx context.Context, msgs []lead.Message) ([]Outcome, error) {
	out := make([]Outcome, len(msgs))
	done := make([]bool, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, m := range msgs {
		if gctx.Err() != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.Process(m)
			done[i] = true
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		partial := make([]Outcome, 0, len(out))
		for i, ok := range done {
			if ok {
				partial = append(partial, out[i])
			}
		}
		return partial, eris.Wrap(err, "pipeline: run")
	}
	return out, nil
}

// Summary counts outcomes per decision
type Summary struct {
	Total      int `json:"total"`
	Leads      int `json:"leads"`
	Parsed     int `json:"parsed"`
	AutoCreate int `json:"autoCreate"`
	Confirm    int `json:"confirm"`
	Rejected   int `json:"rejected"`
	NoParser   int `json:"noParser"`
}

func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Classification.IsLead {
			s.Leads++
		}
		if o.Parse != nil && o.Parse.Success {
			s.Parsed++
		}
		if o.Parse != nil && o.Parse.NoParser {
			s.NoParser++
		}
		switch o.Decision {
		case validate.DecisionAutoCreate:
			s.AutoCreate++
		case validate.DecisionConfirm:
			s.Confirm++
		default:
			s.Rejected++
		}
	}
	return s
}

// NeedsReview filters the outcomes a human has to look at: parsed leads
// that are not complete enough for automatic creation
func NeedsReview(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Decision == validate.DecisionConfirm || (o.Classification.IsLead && o.Decision == validate.DecisionReject) {
			out = append(out, o)
		}
	}
	return out
}
