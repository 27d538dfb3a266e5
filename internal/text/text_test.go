package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanHTML(t *testing.T) {
	in := "<html><style>p{color:red}</style><body><p>Nom&nbsp;: <b>DUPONT</b></p>" +
		"<div>Pr&eacute;nom : Jean</div><table><tr><td>Ville</td><td>Paris</td></tr></table>" +
		"<script>alert(1)</script></body></html>"

	got := Clean(in, true)

	assert.Contains(t, got, "Nom : DUPONT")
	assert.Contains(t, got, "Prénom : Jean")
	assert.Contains(t, got, "Ville | Paris")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color")
	assert.NotContains(t, got, "<")
}

func TestCleanKeepTabs(t *testing.T) {
	got := CleanKeepTabs("<tr><td>Nom</td><td>DUPONT</td></tr>", true)
	assert.Contains(t, got, "Nom\tDUPONT")

	got = CleanKeepTabs("Nom\tPrénom\nDUPONT\tJean", false)
	assert.Equal(t, "Nom\tPrénom\nDUPONT\tJean", got)
}

func TestDecodeEntities(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"caf&eacute;", "café"},
		{"&#233;t&#xE9;", "été"},
		{"a &amp; b", "a & b"},
		{"&unknown; stays", "&unknown; stays"},
		{"&#0; stays", "&#0; stays"},
		{"no entities", "no entities"},
		{"R&amp;amp;D", "R&D"},
		{"&#38;eacute;", "é"},
		{"&amp;unknown;", "&unknown;"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeEntities(tt.in))
		})
	}
}

func TestCleanWhitespace(t *testing.T) {
	got := Clean("  Nom :\t\t DUPONT  \r\n\r\n\r\n\r\nPrénom : Jean  ", false)
	assert.Equal(t, "Nom : DUPONT\n\nPrénom : Jean", got)
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"Nom : DUPONT\n\n\n\nPrénom : Jean",
		"<p>Bonjour</p><p>Coordonn&eacute;es du prospect</p><br><br><br><div>Tel : 06 12 34 56 78</div>",
		"<table><tr><td>Nom</td><td>Martin</td></tr><tr><td>CP</td><td>75001</td></tr></table>",
		"a\t\tb   c\r\nd",
		"&unknown; &#233;",
		"R&amp;amp;D",
		"&#38;eacute;",
		"&amp;amp;amp;lt;p&amp;gt;x",
		"&lt;b&gt;gras",
		"<p>&amp;lt;i&amp;gt;italique</p>",
		"&amp;#9;a\tb",
	}
	for _, in := range inputs {
		for _, isHTML := range []bool{false, true} {
			once := Clean(in, isHTML)
			assert.Equal(t, once, Clean(once, isHTML), "input %q html=%v", in, isHTML)

			tabs := CleanKeepTabs(in, isHTML)
			assert.Equal(t, tabs, CleanKeepTabs(tabs, isHTML), "input %q html=%v", in, isHTML)
		}
	}
}

func TestCleanEncodedMarkup(t *testing.T) {
	assert.Equal(t, "R&D", Clean("R&amp;amp;D", false))
	assert.Equal(t, "<b>gras", Clean("&lt;b&gt;gras", false))
	assert.Equal(t, "gras", Clean("&lt;b&gt;gras", true))
	assert.Equal(t, "italique", Clean("<p>&amp;lt;i&amp;gt;italique</p>", true))
}

func TestValidateField(t *testing.T) {
	assert.Equal(t, "DUPONT", ValidateField("  DUPONT ", 50))
	assert.Empty(t, ValidateField(strings.Repeat("a", 51), 50))
	assert.Empty(t, ValidateField("Jean&eacute;", 50))
	assert.Empty(t, ValidateField("<b>Jean</b>", 50))
	assert.Empty(t, ValidateField("   ", 50))
}

func TestCleanPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"06 12 34 56 78", "0612345678"},
		{"06.12.34.56.78", "0612345678"},
		{"+33 6 12 34 56 78", "0612345678"},
		{"+33 (0)6 12 34 56 78", "0612345678"},
		{"0033 1 23 45 67 89", "0123456789"},
		{"123", ""},
		{"6123456789", ""},
		{"06 12 34 56 78 90", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPhone(tt.in))
		})
	}
}

func TestCleanEmail(t *testing.T) {
	assert.Equal(t, "jean.dupont@example.fr", CleanEmail("  Jean.Dupont@Example.FR "))
	assert.Equal(t, "a@b.com", CleanEmail("<a@b.com>"))
	assert.Empty(t, CleanEmail("jean dupont@example.fr"))
	assert.Empty(t, CleanEmail("jean@example"))
	assert.Empty(t, CleanEmail("jean@example.c"))
	assert.Empty(t, CleanEmail("not an email"))
}

func TestCleanPostalCode(t *testing.T) {
	assert.Equal(t, "75001", CleanPostalCode("Paris 75001 France"))
	assert.Equal(t, "13008", CleanPostalCode("13008"))
	assert.Empty(t, CleanPostalCode("abc"))
	assert.Empty(t, CleanPostalCode("750011"))
}

func TestCleanDate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"01-02-2020", "01/02/2020"},
		{"1/2/2020", "01/02/2020"},
		{"15.08.1985", "15/08/1985"},
		// Only ranges are checked, not days per month
		{"30/02/2020", "30/02/2020"},
		{"32/01/2020", ""},
		{"01/13/2020", ""},
		{"2020-02-01", ""},
		{"hier", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanDate(tt.in))
		})
	}
}

func TestDepartmentCode(t *testing.T) {
	assert.Equal(t, "75", DepartmentCode("75001"))
	assert.Equal(t, "01", DepartmentCode("01000"))
	assert.Equal(t, "2A", DepartmentCode("20000"))
	assert.Equal(t, "2B", DepartmentCode("20200"))
	assert.Equal(t, "974", DepartmentCode("97400"))
	assert.Equal(t, "988", DepartmentCode("98800"))
	assert.Empty(t, DepartmentCode("7500"))
	assert.Empty(t, DepartmentCode("7500A"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "salarie", Fold("Salarié"))
	assert.Equal(t, "epoux", Fold("ÉPOUX"))
	assert.Equal(t, "coeur", Fold("cœur"))
	assert.Equal(t, "projet d'assurance", Fold("Projet d’assurance"))
}

func TestCasing(t *testing.T) {
	assert.Equal(t, "DUPONT", Upper(" dupont "))
	assert.Equal(t, "Jean", Title("JEAN"))
	assert.Equal(t, "Marie", Title("marie"))
}
