package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// MaxChildren is the number of child slots probed when no count is stated
const MaxChildren = 5

const spouseWord = `(?:conjoint(?:e)?|[ée]poux|[ée]pouse|concubin(?:e)?|partenaire)`

var (
	// a heading line with no value: "Conjoint", "Informations du conjoint", "Enfants :"
	familyHeadingRe = regexp.MustCompile(`(?im)^[ \t]*(?:informations?|coordonn[ée]es|donn[ée]es)?[ \t]*(?:du |de l'|de la |des )?[ \t]*(?:` + spouseWord + `|enfants?)[ \t]*:?[ \t]*$`)

	spouseHeadingRe = regexp.MustCompile(`(?im)^[ \t]*(?:informations?|coordonn[ée]es|donn[ée]es)?[ \t]*(?:du |de l'|de la )?[ \t]*(` + spouseWord + `)[ \t]*:?[ \t]*$`)
	spouseInlineRe  = regexp.MustCompile(`(?im)^[ \t]*(` + spouseWord + `)[ \t]*[:|\t][ \t]*([^\n]*\S)`)
	childHeadingRe  = regexp.MustCompile(`(?im)^[ \t]*enfant[ \t]*(?:n[°o]\.?|#)?[ \t]*(\d)\b[ \t]*[:|\t]?[ \t]*([^\n]*)$`)
	childBirthRe    = regexp.MustCompile(`(?i)date de naissance (?:du|de l'|de la)\s*(\d)\s*(?:er|[eè]re|e|[eè]me|nd|nde)?\s+enfant[ \t]*[:|\t][ \t]*` + datePattern)
	childCountRe    = regexp.MustCompile(`(?im)^[ \t]*nombre d'enfants?[ \t]*(?:\(s\))?[ \t]*[:|\t][ \t]*(\d{1,2})`)
	sectionEndRe    = regexp.MustCompile(`\n[ \t]*\n`)

	spouseKeywordRules = struct {
		civility, lastName, firstName, birthDate, regime, profession []rule
	}{
		civility:   []rule{labelled(lead.High, `civilit[ée] (?:du |de l')?`+spouseWord)},
		lastName:   []rule{labelled(lead.High, `nom (?:du |de l'|de la )?`+spouseWord)},
		firstName:  []rule{labelled(lead.High, `pr[ée]nom (?:du |de l'|de la )?`+spouseWord)},
		birthDate:  []rule{labelled(lead.High, `date de naissance (?:du |de l'|de la )?`+spouseWord, `naissance (?:du |de l'|de la )?`+spouseWord)},
		regime:     []rule{labelled(lead.High, `r[ée]gime(?: social)? (?:du |de l'|de la )?`+spouseWord)},
		profession: []rule{labelled(lead.High, `profession (?:du |de l'|de la )?`+spouseWord)},
	}

	genderRules = []rule{
		labelled(lead.High, `sexe`, `genre`, `civilit[ée]`),
	}
)

// FamilyHeadings returns the byte offsets of the first and last family
// section headings in body, or -1, -1 when there are none.
// Label lines such as "Enfants à charge : 2" or "Conjoint : oui" are values,
// not headings.
func FamilyHeadings(body string) (first, last int) {
	locs := familyHeadingLocs(body)
	if len(locs) == 0 {
		return -1, -1
	}
	return locs[0][0], locs[len(locs)-1][0]
}

// familyHeadingLocs merges bare section headings with "Enfant N" lines,
// ordered by offset
func familyHeadingLocs(body string) [][]int {
	locs := append(familyHeadingRe.FindAllStringIndex(body, -1), childHeadingRe.FindAllStringIndex(body, -1)...)
	sort.Slice(locs, func(i, j int) bool { return locs[i][0] < locs[j][0] })
	return locs
}

// Spouse extracts the spouse sub-record, trying a dedicated multi-line
// section first, then a single "Conjoint : ..." line, then spouse-qualified
// labels anywhere in the body. Returns nil when nothing was found.
func Spouse(body string) *lead.Spouse {
	for _, try := range []func(string) *lead.Spouse{spouseSection, spouseInline, spouseKeywords} {
		if s := try(body); s != nil && s.Count() > 0 {
			return s
		}
	}
	return nil
}

func spouseSection(body string) *lead.Spouse {
	loc := spouseHeadingRe.FindStringSubmatchIndex(body)
	if loc == nil {
		return nil
	}
	section := sectionAfter(body, loc[1])
	if strings.TrimSpace(section) == "" {
		return nil
	}
	s := &lead.Spouse{
		Civility:   Civility(section),
		LastName:   LastName(section),
		FirstName:  FirstName(section),
		BirthDate:  BirthDate(section),
		Regime:     Regime(section),
		Category:   Category(section),
		Status:     Status(section),
		Profession: Profession(section),
	}
	if s.Civility == nil {
		s.Civility = civilityFromWord(body[loc[2]:loc[3]])
	}
	return s
}

var (
	inlineNameRe = regexp.MustCompile(`(` + namePart + `)[ \t]+([A-ZÀ-ÖØ-Þ]{2,}(?:[\-'][A-ZÀ-ÖØ-Þ]{2,})?)(?:[^\p{L}'\-]|$)`)
	inlineBornRe = regexp.MustCompile(`(?i)\bn[ée]e?\s+le\s+` + datePattern)
)

func spouseInline(body string) *lead.Spouse {
	m := spouseInlineRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	line := m[2]
	s := &lead.Spouse{Civility: civilityFromWord(m[1])}
	if n := inlineNameRe.FindStringSubmatch(line); n != nil {
		s.FirstName = lead.Parsed(text.Title(n[1]), lead.Medium, n[0])
		s.LastName = lead.Parsed(text.Upper(n[2]), lead.Medium, n[0])
	}
	if d := inlineBornRe.FindStringSubmatch(line); d != nil {
		s.BirthDate = lead.Parsed(text.CleanDate(d[1]), lead.Medium, d[0])
	} else if d := dateInRe.FindString(line); d != "" {
		s.BirthDate = lead.Parsed(text.CleanDate(d), lead.Low, d)
	}
	for _, part := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' || r == '|' || r == '(' || r == ')' }) {
		if code := NormalizeRegime(part); code != "" {
			s.Regime = lead.Parsed(code, lead.Medium, strings.TrimSpace(part))
			break
		}
	}
	// a lone civility from the heading word is not a spouse
	if s.Count() < 2 && s.Civility != nil {
		return nil
	}
	return s
}

func spouseKeywords(body string) *lead.Spouse {
	r := spouseKeywordRules
	return &lead.Spouse{
		Civility:   scan(body, r.civility, NormalizeCivility),
		LastName:   scan(body, r.lastName, NormalizeLastName),
		FirstName:  scan(body, r.firstName, NormalizeFirstName),
		BirthDate:  scan(body, r.birthDate, NormalizeDate),
		Regime:     scan(body, r.regime, NormalizeRegime),
		Profession: scan(body, r.profession, NormalizeProfession),
	}
}

func civilityFromWord(w string) *lead.Field[string] {
	switch f := text.Fold(w); {
	case f == "epoux" || f == "concubin":
		return lead.Inferred("M.", w)
	case f == "epouse" || f == "concubine" || f == "conjointe":
		return lead.Inferred("Mme", w)
	}
	return nil
}

// sectionAfter returns the text from offset up to the next blank line or
// the next family heading, whichever comes first.
func sectionAfter(body string, offset int) string {
	rest := body[offset:]
	trimmed := strings.TrimLeft(rest, "\n")
	skip := len(rest) - len(trimmed)

	end := len(rest)
	if loc := sectionEndRe.FindStringIndex(trimmed); loc != nil {
		end = skip + loc[0]
	}
	for _, loc := range familyHeadingLocs(rest[skip:end]) {
		if loc[0] > 0 {
			end = skip + loc[0]
			break
		}
	}
	return rest[:end]
}

// ChildSlots returns how many child indexes to probe: the stated or
// observed count when there is one, MaxChildren otherwise.
func ChildSlots(body string) int {
	n := 0
	if m := childCountRe.FindStringSubmatch(body); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	for _, m := range childHeadingRe.FindAllStringSubmatch(body, -1) {
		if i, _ := strconv.Atoi(m[1]); i > n {
			n = i
		}
	}
	for _, m := range childBirthRe.FindAllStringSubmatch(body, -1) {
		if i, _ := strconv.Atoi(m[1]); i > n {
			n = i
		}
	}
	if n <= 0 || n > MaxChildren {
		return MaxChildren
	}
	return n
}

// Children extracts up to slots children from "Enfant N" blocks, then merges
// "date de naissance du Nème enfant" lines by index without overwriting a
// birth date already found in a block.
func Children(body string, slots int) []lead.Child {
	if slots <= 0 || slots > MaxChildren {
		slots = MaxChildren
	}
	found := make(map[int]*lead.Child)

	locs := childHeadingRe.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range locs {
		idx, _ := strconv.Atoi(body[loc[2]:loc[3]])
		if idx < 1 || idx > slots {
			continue
		}
		blockEnd := len(body)
		if i+1 < len(locs) {
			blockEnd = locs[i+1][0]
		}
		block := sectionAfter(body[:blockEnd], loc[1])
		inline := body[loc[4]:loc[5]]

		c := child(found, idx)
		if c.BirthDate == nil {
			if d := BirthDate(block); d != nil {
				c.BirthDate = d
			} else if d := dateInRe.FindString(inline); d != "" {
				c.BirthDate = lead.Parsed(text.CleanDate(d), lead.High, body[loc[0]:loc[1]])
			}
		}
		if c.Gender == nil {
			c.Gender = scan(block, genderRules, NormalizeGender)
			if c.Gender == nil {
				c.Gender = genderIn(inline)
			}
		}
		if c.Regime == nil {
			c.Regime = scan(block, regimeRules[:1], NormalizeRegime)
		}
	}

	for _, m := range childBirthRe.FindAllStringSubmatch(body, -1) {
		idx, _ := strconv.Atoi(m[1])
		if idx < 1 || idx > slots {
			continue
		}
		c := child(found, idx)
		if c.BirthDate == nil {
			c.BirthDate = lead.Parsed(text.CleanDate(m[2]), lead.High, m[0])
		}
	}

	indexes := make([]int, 0, len(found))
	for idx, c := range found {
		if c.BirthDate != nil || c.Gender != nil || c.Regime != nil {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	out := make([]lead.Child, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *found[idx])
	}
	return out
}

func child(found map[int]*lead.Child, idx int) *lead.Child {
	c, ok := found[idx]
	if !ok {
		c = &lead.Child{}
		found[idx] = c
	}
	return c
}

// NormalizeGender maps a child gender or civility onto M / F
func NormalizeGender(v string) string {
	f := strings.Trim(text.Fold(v), " .")
	switch f {
	case "m", "masculin", "garcon", "fils", "homme", "h":
		return "M"
	case "f", "feminin", "fille", "femme":
		return "F"
	}
	return ""
}

var genderWordRe = regexp.MustCompile(`(?i)\b(gar[çc]on|fille|fils|masculin|f[ée]minin)\b`)

func genderIn(s string) *lead.Field[string] {
	m := genderWordRe.FindString(s)
	if m == "" {
		return nil
	}
	return lead.Parsed(NormalizeGender(m), lead.Medium, m)
}
