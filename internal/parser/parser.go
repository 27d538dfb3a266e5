// Package parser turns a lead e-mail into a lead.Record. Each supported
// sender format is a Parser; the Registry picks one per message by priority.
package parser

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/lead"
)

// Dialect names a supported lead e-mail format
type Dialect string

const (
	DialectAssurProspect Dialect = "assurprospect" // marker-based platform notification
	DialectAssurLead     Dialect = "assurlead"     // tabular export
	DialectGeneric       Dialect = "generic"       // anything that scores like a lead
)

// Dialects lists every supported format, most specific first
var Dialects = []Dialect{DialectAssurProspect, DialectAssurLead, DialectGeneric}

// Default priorities; higher is tried first
const (
	PriorityAssurProspect = 100
	PriorityAssurLead     = 80
	PriorityGeneric       = 10
)

// Parser extracts a lead record from one message format
type Parser interface {
	Name() Dialect
	Priority() int
	CanParse(msg lead.Message) bool
	Parse(msg lead.Message) (*lead.Record, error)
}

// ErrEmptyMessage is returned when a message carries no text at all
var ErrEmptyMessage = eris.New("message has no text content")

// New builds the parser for d
func New(d Dialect) (Parser, error) {
	switch d {
	case DialectAssurProspect:
		return &assurProspect{}, nil
	case DialectAssurLead:
		return &assurLead{}, nil
	case DialectGeneric:
		return &generic{}, nil
	}
	return nil, eris.Errorf("unknown dialect %q", d)
}

// ParseDialect resolves a dialect name, case-insensitively
func ParseDialect(s string) (Dialect, error) {
	d := Dialect(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Dialects {
		if d == known {
			return d, nil
		}
	}
	return "", eris.Errorf("unknown dialect %q", s)
}

// scoringText is what detectors look at: the subject plus the message text,
// with table cells kept apart by tabs
func scoringText(msg lead.Message) string {
	return msg.Subject + "\n" + msg.RawText()
}
