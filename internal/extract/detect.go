package extract

import (
	"math"
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/text"
)

// MaxScore caps every content score
const MaxScore = 5.0

// AssurProspect markers, folded
var assurProspectMarkers = []string{
	"assurprospect",
	"coordonnees du prospect",
	"projet d'assurance",
}

// AssurProspectMarkers counts how many of the three AssurProspect markers occur in s
func AssurProspectMarkers(s string) int {
	f := text.Fold(s)
	n := 0
	for _, m := range assurProspectMarkers {
		if strings.Contains(f, m) {
			n++
		}
	}
	return n
}

// AssurProspectScore is MaxScore when all three markers are present, 0 otherwise
func AssurProspectScore(s string) float64 {
	if AssurProspectMarkers(s) == len(assurProspectMarkers) {
		return MaxScore
	}
	return 0
}

var (
	assurLeadMarkers = []string{"user id", "userid", "besoin en assurance", "type de besoin"}
	headerWords      = []string{"civilite", "nom", "prenom", "date de naissance", "code postal", "ville", "telephone", "email", "profession", "besoin"}
)

// MentionsAssurLead reports an explicit AssurLead mention
func MentionsAssurLead(s string) bool {
	return strings.Contains(text.Fold(s), "assurlead")
}

// HasAssurLeadMarkers reports any of the AssurLead domain markers
func HasAssurLeadMarkers(s string) bool {
	f := text.Fold(s)
	for _, m := range assurLeadMarkers {
		if strings.Contains(f, m) {
			return true
		}
	}
	return false
}

// HasTabHeader reports a tab-separated header line naming at least three
// known lead columns.
func HasTabHeader(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if !strings.Contains(line, "\t") {
			continue
		}
		n := 0
		for _, cell := range strings.Split(text.Fold(line), "\t") {
			cell = strings.TrimSpace(cell)
			for _, w := range headerWords {
				if cell == w {
					n++
					break
				}
			}
		}
		if n >= 3 {
			return true
		}
	}
	return false
}

var tableTagRe = regexp.MustCompile(`(?i)<table\b`)

// IsTabular reports a table-shaped body: three or more tab-bearing lines in
// the text, or an HTML table.
func IsTabular(raw, html string) bool {
	if tableTagRe.MatchString(html) {
		return true
	}
	n := 0
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, "\t") {
			n++
			if n >= 3 {
				return true
			}
		}
	}
	return false
}

// HasBasicFields reports the civility + (phone or postal) + profession combination
func HasBasicFields(s string) bool {
	return Civility(s) != nil &&
		(Telephone(s) != nil || PostalCode(s) != nil) &&
		Profession(s) != nil
}

// AssurLeadScore grades AssurLead evidence in tiers: explicit mention or a
// tab header 5, domain markers 4, basic field combination 3.
func AssurLeadScore(s string) float64 {
	switch {
	case MentionsAssurLead(s), HasTabHeader(s):
		return MaxScore
	case HasAssurLeadMarkers(s):
		return 4
	case HasBasicFields(s):
		return 3
	}
	return 0
}

// GenericSignals is the additive generic score broken down by group
type GenericSignals struct {
	Contact    float64
	Subscriber float64
	Needs      float64
}

// Total is the capped sum of all groups
func (g GenericSignals) Total() float64 {
	return math.Min(g.Contact+g.Subscriber+g.Needs, MaxScore)
}

// Generic scores how much of a lead s looks like, independent of any format
func Generic(s string) GenericSignals {
	var g GenericSignals
	add := func(dst *float64, ok bool, w float64) {
		if ok {
			*dst += w
		}
	}

	add(&g.Contact, LastName(s) != nil && FirstName(s) != nil, 0.5)
	add(&g.Contact, Email(s) != nil, 0.5)
	add(&g.Contact, Telephone(s) != nil, 0.5)
	add(&g.Contact, Address(s) != nil && PostalCode(s) != nil && City(s) != nil, 1.0)

	add(&g.Subscriber, BirthDate(s) != nil, 0.5)
	add(&g.Subscriber, Profession(s) != nil, 0.5)
	add(&g.Subscriber, Regime(s) != nil || Status(s) != nil, 0.5)

	add(&g.Needs, DateEffet(s) != nil, 0.5)
	add(&g.Needs, MentionsCurrentInsurance(s), 0.5)
	add(&g.Needs, MentionsCoverageLevel(s), 0.5)
	return g
}

// GenericScore is Generic(s).Total()
func GenericScore(s string) float64 {
	return Generic(s).Total()
}
