package extract

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

const (
	maxAddressLen = 120
	maxCityLen    = 60
)

var (
	emailRules = []rule{
		labelled(lead.High, `adresse e-?mail`, `e-?mail`, `courriel`, `mail`),
		loose(lead.Medium, `([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`),
	}

	phoneRules = []rule{
		labelled(lead.High,
			`t[ée]l[ée]phone(?: portable| mobile| fixe| principal)?`, `t[ée]l\.?(?: portable| mobile| fixe)?`,
			`portable`, `mobile`, `gsm`, `fixe`, `num[ée]ro de t[ée]l[ée]phone`),
		{re: phoneInRe, conf: lead.Medium},
	}

	phoneInRe = regexp.MustCompile(`((?:\+33[ \t]?(?:\(0\))?[ \t]?|0033[ \t]?|\b0)[1-9](?:[ \t.\-]?\d{2}){4})\b`)

	addressRules = []rule{
		labelled(lead.High, `adresse postale`, `adresse`, `rue`, `domicile`),
	}

	// "75001 PARIS" alone on a line
	postalLineRe = regexp.MustCompile(`(?m)^[ \t]*(\d{5})[ \t]+([\p{L}][\p{L}'’ \-]{1,50}[\p{L}])[ \t]*$`)

	postalRules = []rule{
		labelled(lead.High, `code postal`, `cp`, `c\.p\.?`),
		{re: postalLineRe, conf: lead.Medium},
	}

	cityRules = []rule{
		labelled(lead.High, `ville`, `commune`, `localit[ée]`),
		{re: postalLineRe, conf: lead.Medium, group: 2},
	}
)

// Email returns a lower-cased, shape-checked address
func Email(body string) *lead.Field[string] {
	return scan(body, emailRules, NormalizeEmail)
}

// NormalizeEmail keeps the first word of v when it is a valid address
func NormalizeEmail(v string) string {
	if fields := strings.Fields(v); len(fields) > 0 {
		v = fields[0]
	}
	return text.CleanEmail(v)
}

// Telephone returns a 10-digit French number
func Telephone(body string) *lead.Field[string] {
	return scan(body, phoneRules, NormalizePhone)
}

// NormalizePhone finds a French number inside v and returns its 10-digit form
func NormalizePhone(v string) string {
	if m := phoneInRe.FindString(v); m != "" {
		return text.CleanPhone(m)
	}
	return text.CleanPhone(v)
}

// Address returns the street address line
func Address(body string) *lead.Field[string] {
	return scan(body, addressRules, NormalizeAddress)
}

// NormalizeAddress rejects overlong values and e-mail addresses
func NormalizeAddress(v string) string {
	v = text.ValidateField(v, maxAddressLen)
	if strings.Contains(v, "@") {
		return ""
	}
	return v
}

// PostalCode returns a 5-digit postal code
func PostalCode(body string) *lead.Field[string] {
	return scan(body, postalRules, text.CleanPostalCode)
}

var leadingPostalRe = regexp.MustCompile(`^\d{5}[ \t,\-]*`)

// City returns the upper-cased city name
func City(body string) *lead.Field[string] {
	return scan(body, cityRules, NormalizeCity)
}

// NormalizeCity strips a leading postal code and upper-cases the name
func NormalizeCity(v string) string {
	v = leadingPostalRe.ReplaceAllString(strings.TrimSpace(v), "")
	v = text.ValidateField(v, maxCityLen)
	if v == "" || strings.ContainsAny(v, "0123456789@") {
		return ""
	}
	return text.Upper(v)
}

// DepartmentCode infers the department from an already extracted postal code
func DepartmentCode(postal *lead.Field[string]) *lead.Field[string] {
	if postal == nil {
		return nil
	}
	return lead.Inferred(text.DepartmentCode(postal.Value), postal.Value)
}
