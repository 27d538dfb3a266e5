package extract

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

const (
	maxNameLen = 60
	namePart   = `[A-ZÀ-ÖØ-Þ][\p{L}'’\-]+`
)

var familyMention = regexp.MustCompile(`(?i)enfant|conjoint|[ée]poux|[ée]pouse|concubin`)

var (
	civilityRules = []rule{
		labelled(lead.High, `civilit[ée]`, `titre`, `genre`),
		loose(lead.Medium, `(?m)^[ \t]*(Monsieur|Madame|Mademoiselle)\b`),
	}

	lastNameRules = []rule{
		labelled(lead.High, `nom de famille`, `nom`, `nom de naissance`),
		{re: regexp.MustCompile(`\b(?:Monsieur|Madame|Mademoiselle|M\.|Mme|Mlle)[ \t]+(` + namePart + `)[ \t]+([A-ZÀ-ÖØ-Þ]{2,}(?:[\-' ][A-ZÀ-ÖØ-Þ]{2,})?)(?:[^\p{L}'\-]|$)`), conf: lead.Medium, group: 2},
	}

	firstNameRules = []rule{
		labelled(lead.High, `pr[ée]nom`),
		{re: regexp.MustCompile(`\b(?:Monsieur|Madame|Mademoiselle|M\.|Mme|Mlle)[ \t]+(` + namePart + `)[ \t]+[A-ZÀ-ÖØ-Þ]{2,}(?:[^\p{L}'\-]|$)`), conf: lead.Medium},
	}

	birthDateRules = []rule{
		labelled(lead.High, `date de naissance`, `n[ée]\(?e?\)? le`, `naissance`, `date naiss\.?`, `ddn`),
		{re: regexp.MustCompile(`(?i)\bn[ée]e?\s+le\s+` + datePattern), conf: lead.Medium},
		{re: regexp.MustCompile(`(?i)naissance[^\n\d]{0,30}` + datePattern), conf: lead.Low, exclude: familyMention},
	}
)

// Civility returns M., Mme or Mlle
func Civility(body string) *lead.Field[string] {
	return scan(body, civilityRules, NormalizeCivility)
}

// NormalizeCivility maps the many ways of writing a civility onto M./Mme/Mlle
func NormalizeCivility(v string) string {
	f := strings.Trim(text.Fold(v), " .")
	switch f {
	case "m", "mr", "monsieur", "homme", "masculin", "h":
		return "M."
	case "mme", "madame", "femme", "feminin", "f":
		return "Mme"
	case "mlle", "mademoiselle":
		return "Mlle"
	}
	return ""
}

// LastName returns the upper-cased family name
func LastName(body string) *lead.Field[string] {
	return scan(body, lastNameRules, NormalizeLastName)
}

// FirstName returns the capitalized given name
func FirstName(body string) *lead.Field[string] {
	return scan(body, firstNameRules, NormalizeFirstName)
}

// BirthDate returns the birth date as DD/MM/YYYY
func BirthDate(body string) *lead.Field[string] {
	return scan(body, birthDateRules, NormalizeDate)
}

// NormalizeLastName upper-cases a plausible family name
func NormalizeLastName(v string) string {
	return text.Upper(cleanName(v))
}

// NormalizeFirstName capitalizes a plausible given name
func NormalizeFirstName(v string) string {
	return text.Title(cleanName(v))
}

var nameCharsRe = regexp.MustCompile(`^[\p{L}][\p{L}'’ \-]*$`)

// cleanName rejects values that cannot be a person name
func cleanName(v string) string {
	v = text.ValidateField(v, maxNameLen)
	if v == "" || !nameCharsRe.MatchString(v) {
		return ""
	}
	return strings.Join(strings.Fields(v), " ")
}
