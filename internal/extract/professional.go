package extract

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// Regime codes
const (
	RegimeSalarie            = "salarie"
	RegimeTNS                = "tns"
	RegimeRetraite           = "retraite"
	RegimeLiberal            = "liberal"
	RegimeFonctionnaire      = "fonctionnaire"
	RegimeIndependant        = "independant"
	RegimeExploitantAgricole = "exploitant_agricole"
	RegimeEtudiant           = "etudiant"
	RegimeSansEmploi         = "sans_emploi"
)

// regimeKeywords is checked in order against the folded value; more specific
// phrases come before the ones they contain ("non salarie" before "salarie").
var regimeKeywords = []struct {
	keyword string
	code    string
}{
	{"travailleur non salari", RegimeTNS},
	{"non salari", RegimeTNS},
	{"non-salari", RegimeTNS},
	{"tns", RegimeTNS},
	{"gerant majoritaire", RegimeTNS},
	{"retrait", RegimeRetraite},
	{"profession liberale", RegimeLiberal},
	{"liberal", RegimeLiberal},
	{"fonctionnaire", RegimeFonctionnaire},
	{"fonction publique", RegimeFonctionnaire},
	{"agent public", RegimeFonctionnaire},
	{"exploitant agricole", RegimeExploitantAgricole},
	{"agricole", RegimeExploitantAgricole},
	{"msa", RegimeExploitantAgricole},
	{"auto-entrepreneur", RegimeIndependant},
	{"auto entrepreneur", RegimeIndependant},
	{"micro-entrepreneur", RegimeIndependant},
	{"independant", RegimeIndependant},
	{"artisan", RegimeIndependant},
	{"commercant", RegimeIndependant},
	{"etudiant", RegimeEtudiant},
	{"sans emploi", RegimeSansEmploi},
	{"sans activite", RegimeSansEmploi},
	{"demandeur d'emploi", RegimeSansEmploi},
	{"chomage", RegimeSansEmploi},
	{"salari", RegimeSalarie},
	{"regime general", RegimeSalarie},
	{"securite sociale", RegimeSalarie},
}

var wordBoundaryKeywords = map[string]bool{"tns": true, "msa": true}

// NormalizeRegime maps free text onto the regime vocabulary, case- and
// accent-insensitively. Unknown values return "".
func NormalizeRegime(v string) string {
	f := text.Fold(v)
	if f == "" {
		return ""
	}
	for _, k := range regimeKeywords {
		if wordBoundaryKeywords[k.keyword] {
			if containsWord(f, k.keyword) {
				return k.code
			}
			continue
		}
		if strings.Contains(f, k.keyword) {
			return k.code
		}
	}
	return ""
}

func containsWord(s, word string) bool {
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if w == word {
			return true
		}
	}
	return false
}

const maxProfessionLen = 80

var (
	professionRules = []rule{
		labelled(lead.High, `profession`, `m[ée]tier`, `activit[ée] professionnelle`, `emploi`, `fonction`, `poste`),
	}

	regimeRules = []rule{
		labelled(lead.High,
			`r[ée]gime(?: social| obligatoire| de s[ée]curit[ée] sociale| d'assurance maladie)?`,
			`statut social`, `caisse(?: d'affiliation)?`),
		{re: regexp.MustCompile(`(?i)\b(travailleur non[ \-]salari[ée]e?|TNS\b|profession lib[ée]rale|fonctionnaire|retrait[ée]e?)`), conf: lead.Low, exclude: familyMention},
	}

	categoryRules = []rule{
		labelled(lead.High, `cat[ée]gorie(?: socio-?professionnelle)?`, `csp`),
	}

	statusRules = []rule{
		labelled(lead.High, `statut(?: professionnel)?`, `situation professionnelle`),
	}
)

// Profession returns the declared occupation
func Profession(body string) *lead.Field[string] {
	return scan(body, professionRules, NormalizeProfession)
}

// NormalizeProfession rejects overlong values and bare yes/no answers
func NormalizeProfession(v string) string {
	v = text.ValidateField(v, maxProfessionLen)
	if NormalizeYesNoOnly(v) {
		return ""
	}
	return v
}

// Regime returns a regime code from the closed vocabulary
func Regime(body string) *lead.Field[string] {
	return scan(body, regimeRules, NormalizeRegime)
}

// Category returns cadre / non_cadre, or the raw category when unrecognized
func Category(body string) *lead.Field[string] {
	return scan(body, categoryRules, NormalizeCategory)
}

// NormalizeCategory maps cadre variants; other values are kept as written
func NormalizeCategory(v string) string {
	f := text.Fold(v)
	switch {
	case strings.Contains(f, "non cadre"), strings.Contains(f, "non-cadre"):
		return "non_cadre"
	case strings.Contains(f, "cadre"):
		return "cadre"
	}
	return text.ValidateField(v, 40)
}

// Status returns the professional status, normalized like the regime when possible
func Status(body string) *lead.Field[string] {
	return scan(body, statusRules, NormalizeStatus)
}

// NormalizeStatus uses the regime vocabulary and falls back to the raw value
func NormalizeStatus(v string) string {
	if code := NormalizeRegime(v); code != "" {
		return code
	}
	return text.ValidateField(v, 40)
}

// NormalizeYesNoOnly reports whether v is just a yes/no answer
func NormalizeYesNoOnly(v string) bool {
	_, ok := ParseYesNo(v)
	return ok && len(strings.Fields(v)) == 1
}
