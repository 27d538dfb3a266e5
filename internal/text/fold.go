package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer("œ", "oe", "Œ", "oe", "æ", "ae", "Æ", "ae", "’", "'", "‘", "'")

// Fold lower-cases s and strips diacritics, for accent-insensitive matching
func Fold(s string) string {
	s = ligatures.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Upper upper-cases s with French casing rules
func Upper(s string) string {
	return cases.Upper(language.French).String(strings.TrimSpace(s))
}

// Title capitalizes each word of s and lower-cases the rest ("jEAN-paul" -> "Jean-Paul")
func Title(s string) string {
	// Casers keep state, so one per call
	return cases.Title(language.French).String(strings.TrimSpace(s))
}
