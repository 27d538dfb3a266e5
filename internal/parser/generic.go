package parser

import (
	"strings"

	"github.com/leadmail/leadmail/internal/extract"
	"github.com/leadmail/leadmail/internal/lead"
)

// GenericThreshold is the minimum generic score for the fallback parser
const GenericThreshold = 2.0

// generic is the fallback for any message that carries enough lead fields
type generic struct{}

func (p *generic) Name() Dialect { return DialectGeneric }
func (p *generic) Priority() int { return PriorityGeneric }

func (p *generic) CanParse(msg lead.Message) bool {
	return extract.GenericScore(scoringText(msg)) >= GenericThreshold
}

// Parse works on the whole body; there is no block to isolate in free-form mail
func (p *generic) Parse(msg lead.Message) (*lead.Record, error) {
	body := msg.RawText()
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	b := extract.Common(body)
	rec := &lead.Record{Subscriber: b.Subscriber, Project: &b.Project}
	if rec.Project.Plan == nil {
		rec.Project.Plan = extract.CoverageLevel(body)
	}
	rec.Spouse = extract.Spouse(body)
	rec.Children = extract.Children(body, extract.ChildSlots(body))
	return rec, nil
}
