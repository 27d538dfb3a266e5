// Package extract holds the pattern-based field extractors shared by every
// format parser. Extractors are pure: they scan cleaned text, return the first
// acceptable match as a lead.Field, and return nil when nothing matched.
package extract

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// rule is one pattern variant; rules are tried in order, so the most precise
// (and most confident) variants come first.
type rule struct {
	re      *regexp.Regexp
	conf    lead.Confidence
	group   int            // submatch holding the value, 1 when zero
	exclude *regexp.Regexp // drop matches whose full text matches this
}

// Separators a "label : value" pair may use. Pipes and tabs come from
// cleaned HTML tables; a label may also follow a previous value on the same line.
const (
	lineStart = `(?:^|[|\t ])[ \t]*`
	labelSep  = `[ \t]*(?:\(s\)|\(e\))?[ \t]*[:|\t][ \t]*`
	lineValue = `([^\n|\t]*[^\s|])`
)

// labelled compiles a rule matching "<label> : value" where the value runs to
// the end of the line or the next table cell.
func labelled(conf lead.Confidence, labels ...string) rule {
	pattern := `(?im)` + lineStart + `(?:` + strings.Join(labels, "|") + `)` + labelSep + lineValue
	return rule{re: regexp.MustCompile(pattern), conf: conf}
}

// loose wraps a free-form pattern as a lower-confidence rule
func loose(conf lead.Confidence, pattern string) rule {
	return rule{re: regexp.MustCompile(pattern), conf: conf}
}

func (r rule) value(m []string) string {
	g := r.group
	if g == 0 {
		g = 1
	}
	if g >= len(m) {
		return ""
	}
	return m[g]
}

// scan returns the first match across rules whose value survives norm.
// norm returns "" to reject a candidate.
func scan(body string, rules []rule, norm func(string) string) *lead.Field[string] {
	if body == "" {
		return nil
	}
	for _, r := range rules {
		for _, m := range r.re.FindAllStringSubmatch(body, -1) {
			if r.exclude != nil && r.exclude.MatchString(m[0]) {
				continue
			}
			v := norm(cutAtNextLabel(r.value(m)))
			if v == "" {
				continue
			}
			return lead.Parsed(v, r.conf, trimMatch(m[0]))
		}
	}
	return nil
}

// scanFlag is scan for yes/no style values
func scanFlag(body string, rules []rule, norm func(string) (bool, bool)) *lead.Field[bool] {
	if body == "" {
		return nil
	}
	for _, r := range rules {
		for _, m := range r.re.FindAllStringSubmatch(body, -1) {
			if r.exclude != nil && r.exclude.MatchString(m[0]) {
				continue
			}
			v, ok := norm(cutAtNextLabel(r.value(m)))
			if !ok {
				continue
			}
			return lead.Flag(v, r.conf, trimMatch(m[0]))
		}
	}
	return nil
}

func trimMatch(s string) string {
	return strings.Trim(s, " \t\n|")
}

// Date fragments shared by several extractors
const datePattern = `(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4})`

var dateInRe = regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4}\b`)

// NormalizeDate pulls the first DD/MM/YYYY-like date out of v
func NormalizeDate(v string) string {
	return text.CleanDate(dateInRe.FindString(v))
}

var (
	yesWords = map[string]bool{"oui": true, "o": true, "yes": true, "y": true, "x": true, "vrai": true, "1": true}
	noWords  = map[string]bool{"non": true, "n": true, "no": true, "faux": true, "0": true, "aucun": true, "aucune": true}
)

// ParseYesNo reads a French yes/no answer; only the first word counts
func ParseYesNo(v string) (bool, bool) {
	fields := strings.FieldsFunc(text.Fold(v), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '(' || r == ')'
	})
	if len(fields) == 0 {
		return false, false
	}
	switch {
	case yesWords[fields[0]]:
		return true, true
	case noWords[fields[0]]:
		return false, true
	}
	return false, false
}

// nextLabelRe finds a second "Label :" glued on the same line
var nextLabelRe = regexp.MustCompile(`\s+[\p{L}'’][\p{L}'’ .()]{1,30}?\s?:`)

// cutAtNextLabel keeps only the first value of "Nom : X Prénom : Y" lines
func cutAtNextLabel(v string) string {
	if loc := nextLabelRe.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	return strings.TrimSpace(v)
}
