// Package text cleans raw email bodies and validates the small set of value
// formats the lead parsers care about (phone, email, postal code, date).
package text

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style\s*>`)
	blockRe   = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>|</tr\s*>`)
	cellRe    = regexp.MustCompile(`(?i)</t[dh]\s*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	entityRe  = regexp.MustCompile(`&(#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6}|[a-zA-Z]{2,8});`)
	blankRe   = regexp.MustCompile(`[ \t\x{00A0}]+`)
	spacesRe  = regexp.MustCompile(`[ \x{00A0}]+`)
	edgeRe    = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	edgeTabRe = regexp.MustCompile(` *\n *`)
	tabRe     = regexp.MustCompile(` *\t *`)
	manyNLRe  = regexp.MustCompile(`\n{3,}`)
)

// Named entities decoded by Clean. Anything else is left untouched.
var namedEntities = map[string]string{
	"nbsp":   " ",
	"amp":    "&",
	"lt":     "<",
	"gt":     ">",
	"quot":   `"`,
	"apos":   "'",
	"eacute": "é",
	"egrave": "è",
	"ecirc":  "ê",
	"euml":   "ë",
	"agrave": "à",
	"acirc":  "â",
	"ccedil": "ç",
	"ocirc":  "ô",
	"ucirc":  "û",
	"ugrave": "ù",
	"icirc":  "î",
	"iuml":   "ï",
	"Eacute": "É",
	"Egrave": "È",
	"Agrave": "À",
	"Ccedil": "Ç",
	"laquo":  "«",
	"raquo":  "»",
	"euro":   "€",
	"rsquo":  "’",
	"lsquo":  "‘",
	"ldquo":  "“",
	"rdquo":  "”",
	"hellip": "…",
	"ndash":  "–",
	"mdash":  "—",
	"deg":    "°",
}

// Clean strips markup, decodes entities and normalizes whitespace.
// Column separators from HTML tables become " | ".
func Clean(s string, isHTML bool) string {
	return clean(s, isHTML, false)
}

// CleanKeepTabs is Clean for tabular bodies: tabs survive and HTML table
// cells are separated by a tab.
func CleanKeepTabs(s string, isHTML bool) string {
	return clean(s, isHTML, true)
}

func clean(s string, isHTML, keepTabs bool) string {
	if s == "" {
		return ""
	}
	// every pass shortens s, so this terminates
	for {
		next := s
		if isHTML {
			next = stripTags(next, keepTabs)
		}
		next = decodeOnce(next)
		if next == s {
			break
		}
		s = next
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if keepTabs {
		s = spacesRe.ReplaceAllString(s, " ")
		s = tabRe.ReplaceAllString(s, "\t")
		s = edgeTabRe.ReplaceAllString(s, "\n")
	} else {
		s = blankRe.ReplaceAllString(s, " ")
		s = edgeRe.ReplaceAllString(s, "\n")
	}
	s = manyNLRe.ReplaceAllString(s, "\n\n")
	if keepTabs {
		return strings.Trim(s, " \n")
	}
	return strings.TrimSpace(s)
}

func stripTags(s string, keepTabs bool) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = blockRe.ReplaceAllString(s, "\n")
	sep := " | "
	if keepTabs {
		sep = "\t"
	}
	s = cellRe.ReplaceAllString(s, sep)
	return tagRe.ReplaceAllString(s, " ")
}

// DecodeEntities decodes the known named entities and all numeric ones,
// repeatedly, until no decodable entity is left
func DecodeEntities(s string) string {
	for {
		next := decodeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func decodeOnce(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if name[0] != '#' {
			if v, ok := namedEntities[name]; ok {
				return v
			}
			return m
		}
		var (
			n   uint64
			err error
		)
		if name[1] == 'x' || name[1] == 'X' {
			n, err = strconv.ParseUint(name[2:], 16, 32)
		} else {
			n, err = strconv.ParseUint(name[1:], 10, 32)
		}
		if err != nil || n == 0 || n > 0x10FFFF || (n >= 0xD800 && n <= 0xDFFF) {
			return m
		}
		if n == 0xA0 {
			return " "
		}
		return string(rune(n))
	})
}
