package text

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	leftoverEntityRe = regexp.MustCompile(`&[a-zA-Z]+;|&#\d+;`)
	emailShapeRe     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[a-z]{2,}$`)
	postalRe         = regexp.MustCompile(`\b\d{5}\b`)
	dateShapeRe      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	nonDigitRe       = regexp.MustCompile(`\D`)
)

// ValidateField returns v trimmed, or "" when it is too long or still carries
// markup that an upstream Clean should have removed.
func ValidateField(v string, maxLen int) string {
	v = strings.TrimSpace(v)
	if v == "" || utf8.RuneCountInString(v) > maxLen {
		return ""
	}
	if leftoverEntityRe.MatchString(v) || tagRe.MatchString(v) {
		return ""
	}
	return v
}

// CleanPhone keeps a 10-digit French number starting with 0.
// International +33/0033 prefixes are rewritten to the national form.
func CleanPhone(s string) string {
	s = strings.TrimSpace(s)
	digits := nonDigitRe.ReplaceAllString(s, "")
	switch {
	case strings.HasPrefix(s, "+33"):
		digits = "0" + strings.TrimPrefix(strings.TrimPrefix(digits, "33"), "0")
	case strings.HasPrefix(digits, "0033"):
		digits = "0" + strings.TrimPrefix(strings.TrimPrefix(digits, "0033"), "0")
	}
	if len(digits) != 10 || digits[0] != '0' {
		return ""
	}
	return digits
}

// CleanEmail lower-cases and trims; only local@domain.tld shapes survive
func CleanEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "mailto:")
	s = strings.Trim(s, "<>")
	if !emailShapeRe.MatchString(s) {
		return ""
	}
	return s
}

// CleanPostalCode returns the first standalone 5-digit run
func CleanPostalCode(s string) string {
	return postalRe.FindString(s)
}

// CleanDate normalizes to DD/MM/YYYY. Only day 1-31 and month 1-12 are
// checked, so 30/02/2020 is accepted.
func CleanDate(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "/", ".", "/").Replace(s)
	m := dateShapeRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return ""
	}
	return fmt.Sprintf("%02d/%02d/%s", day, month, m[3])
}

// DepartmentCode infers the French department from a postal code.
// Corsica (20xxx) maps to 2A/2B and overseas (97x, 98x) keeps three digits.
func DepartmentCode(postal string) string {
	if len(postal) != 5 || nonDigitRe.MatchString(postal) {
		return ""
	}
	switch {
	case strings.HasPrefix(postal, "20"):
		n, _ := strconv.Atoi(postal)
		if n < 20200 {
			return "2A"
		}
		return "2B"
	case strings.HasPrefix(postal, "97"), strings.HasPrefix(postal, "98"):
		return postal[:3]
	default:
		return postal[:2]
	}
}
