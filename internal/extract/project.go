package extract

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

const maxPlanLen = 80

var (
	dateEffetRules = []rule{
		labelled(lead.High,
			`date d'effet(?: souhait[ée]e)?`, `date d’effet(?: souhait[ée]e)?`,
			`date de d[ée]but(?: de contrat)?`, `d[ée]but de contrat`, `date de d[ée]marrage`, `effet souhait[ée]`),
		{re: regexp.MustCompile(`(?i)effet[^\n\d]{0,40}` + datePattern), conf: lead.Medium},
		{re: regexp.MustCompile(`(?i)[^\n]{0,40}(?:[àa] partir du|d[èe]s le)\s+` + datePattern), conf: lead.Low, group: 1, exclude: regexp.MustCompile(`(?i)naissance|n[ée]e? le`)},
	}

	planRules = []rule{
		labelled(lead.High,
			`gamme`, `formule`, `produit`, `offre`, `garantie souhait[ée]e`, `niveau de garantie`,
			`type de couverture`, `contrat souhait[ée]`),
	}

	madelinRules = []rule{
		labelled(lead.High, `(?:loi |contrat )?madelin`, `[ée]ligible madelin`),
	}
	madelinMentionRe = regexp.MustCompile(`(?i)\b(?:loi|contrat|cadre|dispositif)\s+madelin\b`)
	madelinNegRe     = regexp.MustCompile(`(?i)\b(?:pas|non|sans)\b[^\n]{0,20}madelin`)

	resiliationRules = []rule{
		labelled(lead.High, `r[ée]siliation`, `souhaite r[ée]silier`, `r[ée]siliation (?:de son|du) contrat(?: actuel)?`),
	}
	resiliationMentionRe = regexp.MustCompile(`(?i)\b(?:souhaite|veut|voudrait|envisage de)\s+r[ée]silier|\bd[ée]sire r[ée]silier|r[ée]siliation (?:de son|du) contrat`)

	insuredRules = []rule{
		labelled(lead.High,
			`actuellement assur[ée]e?`, `assur[ée]e? actuellement`, `d[ée]j[àa] assur[ée]e?`,
			`est-il actuellement assur[ée]e?`, `couverture actuelle`),
	}
	currentInsurerRules = []rule{
		labelled(lead.High, `assureur actuel`, `mutuelle actuelle`, `compagnie actuelle`),
	}
	notInsuredRe = regexp.MustCompile(`(?i)\b(?:pas|plus)\s+(?:de\s+)?(?:mutuelle\b|assur[ée])|\baucune\s+(?:mutuelle|compl[ée]mentaire)`)
	insuredRe    = regexp.MustCompile(`(?i)\b(?:actuellement|d[ée]j[àa])\s+assur[ée]|\bmutuelle actuelle\b|\bassureur actuel\b`)

	levelRe = regexp.MustCompile(`(?i)\bniveau\s*(\d{1,2})\s*(?:/|sur)\s*(\d{1,2})\b`)
)

// DateEffet returns the desired contract start date
func DateEffet(body string) *lead.Field[string] {
	return scan(body, dateEffetRules, NormalizeDate)
}

// Plan returns the requested plan or product range
func Plan(body string) *lead.Field[string] {
	return scan(body, planRules, NormalizePlan)
}

// NormalizePlan rejects overlong values and bare yes/no answers
func NormalizePlan(v string) string {
	v = text.ValidateField(v, maxPlanLen)
	if NormalizeYesNoOnly(v) {
		return ""
	}
	return v
}

// CoverageLevel returns a "Niveau X/Y" mention, used as a last-resort plan name
func CoverageLevel(body string) *lead.Field[string] {
	m := levelRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	return lead.Parsed("Niveau "+m[1]+"/"+m[2], lead.Medium, m[0])
}

// Madelin reports Madelin-law eligibility
func Madelin(body string) *lead.Field[bool] {
	if f := scanFlag(body, madelinRules, ParseYesNo); f != nil {
		return f
	}
	if m := madelinMentionRe.FindString(body); m != "" && !madelinNegRe.MatchString(body) {
		return lead.Flag(true, lead.Medium, m)
	}
	return nil
}

// Resiliation reports whether the prospect wants to terminate a current contract
func Resiliation(body string) *lead.Field[bool] {
	if f := scanFlag(body, resiliationRules, ParseYesNo); f != nil {
		return f
	}
	if m := resiliationMentionRe.FindString(body); m != "" {
		return lead.Flag(true, lead.Medium, m)
	}
	return nil
}

// CurrentlyInsured reports whether the prospect already has a contract
func CurrentlyInsured(body string) *lead.Field[bool] {
	if f := scanFlag(body, insuredRules, ParseYesNo); f != nil {
		return f
	}
	// "Assureur actuel : AXA" means insured, "Assureur actuel : aucun" means not
	if f := scan(body, currentInsurerRules, func(v string) string { return text.ValidateField(v, 60) }); f != nil {
		insured, ok := ParseYesNo(f.Value)
		if !ok {
			insured = true
		}
		return lead.Flag(insured, lead.High, f.OriginalText)
	}
	if m := notInsuredRe.FindString(body); m != "" {
		return lead.Flag(false, lead.Medium, m)
	}
	if m := insuredRe.FindString(body); m != "" {
		return lead.Flag(true, lead.Medium, m)
	}
	return nil
}

// MentionsCurrentInsurance reports any mention of an existing contract
func MentionsCurrentInsurance(body string) bool {
	return insuredRe.MatchString(body) || notInsuredRe.MatchString(body) ||
		strings.Contains(text.Fold(body), "actuellement assur")
}

// MentionsCoverageLevel reports a coverage level or plan mention
func MentionsCoverageLevel(body string) bool {
	return levelRe.MatchString(body) || Plan(body) != nil
}
