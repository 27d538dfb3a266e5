package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/leadmail/leadmail/internal/extract"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// assurProspect handles AssurProspect platform notifications. Their body has
// a prospect block framed by a heading and a legal footer, with optional
// spouse and children sections inside it.
type assurProspect struct{}

var (
	apStartMarkers = markerRes("Coordonnées du prospect", "Informations du prospect", "Détail de la demande")
	apEndMarkers   = markerRes("Ce message est confidentiel", "Conformément à la loi", "Pour vous désinscrire", "Cordialement", "L'équipe AssurProspect")

	apContractType = regexp.MustCompile(`(?im)(?:^|[|\t ])[ \t]*type de contrat[ \t]*[:|\t][ \t]*([^\n|\t]*[^\s|])`)
	apEmployees    = regexp.MustCompile(`(?im)(?:^|[|\t ])[ \t]*nombre de salari[ée]s[ \t]*[:|\t][ \t]*(\d+)`)
	apSector       = regexp.MustCompile(`(?im)(?:^|[|\t ])[ \t]*secteur d'activit[ée][ \t]*[:|\t][ \t]*([^\n|\t]*[^\s|])`)
)

// markerRes compiles literal phrases into case-insensitive patterns that
// accept both straight and typographic apostrophes
func markerRes(phrases ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		q := strings.ReplaceAll(regexp.QuoteMeta(p), "'", "['’]")
		out = append(out, regexp.MustCompile(`(?i)`+q))
	}
	return out
}

func (p *assurProspect) Name() Dialect { return DialectAssurProspect }
func (p *assurProspect) Priority() int { return PriorityAssurProspect }

// CanParse needs at least two of the three platform markers
func (p *assurProspect) CanParse(msg lead.Message) bool {
	return extract.AssurProspectMarkers(scoringText(msg)) >= 2
}

func (p *assurProspect) Parse(msg lead.Message) (*lead.Record, error) {
	body := msg.RawText()
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	block := mainBlock(body)

	// subscriber fields come from the part above the first family section
	own := block
	if first, _ := extract.FamilyHeadings(block); first > 0 {
		own = block[:first]
	}
	b := extract.Common(own)
	rec := &lead.Record{Subscriber: b.Subscriber, Project: &b.Project}
	sub := &rec.Subscriber

	if m := apContractType.FindStringSubmatch(block); m != nil && rec.Project.Plan == nil {
		rec.Project.Plan = lead.Parsed(extract.NormalizePlan(m[1]), lead.High, m[0])
	}
	if m := apEmployees.FindStringSubmatch(block); m != nil {
		if n, _ := strconv.Atoi(m[1]); n > 0 {
			if sub.Status == nil {
				sub.Status = lead.Inferred(extract.RegimeTNS, strings.TrimSpace(m[0]))
			}
			if sub.Regime == nil {
				sub.Regime = lead.Inferred(extract.RegimeIndependant, strings.TrimSpace(m[0]))
			}
		}
	}
	if m := apSector.FindStringSubmatch(block); m != nil && sub.Profession == nil {
		sub.Profession = lead.Parsed(text.ValidateField(m[1], 80), lead.Medium, m[0])
	}

	rec.Spouse = extract.Spouse(block)
	rec.Children = extract.Children(block, extract.ChildSlots(block))
	return rec, nil
}

// mainBlock isolates the prospect block: from the first start marker found to
// the earliest footer marker that sits after both the start and the last
// family section heading, so spouse and children sections are never cut.
func mainBlock(body string) string {
	start := 0
	for _, re := range apStartMarkers {
		if loc := re.FindStringIndex(body); loc != nil {
			start = loc[0]
			break
		}
	}
	_, lastFamily := extract.FamilyHeadings(body)

	end := len(body)
	for _, re := range apEndMarkers {
		for _, loc := range re.FindAllStringIndex(body, -1) {
			idx := loc[0]
			if idx > start && idx > lastFamily {
				if idx < end {
					end = idx
				}
				break
			}
		}
	}
	return body[start:end]
}
