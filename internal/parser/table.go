package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/leadmail/leadmail/internal/text"
)

// cell is one label/value pair read from a table
type cell struct {
	label string // folded
	value string
	raw   string
}

// table is a flat, ordered list of label/value pairs. Two layouts are
// understood: one pair per row, and a header row followed by a value row.
type table []cell

// minHeaderCells is how many known labels make a row a header row
const minHeaderCells = 3

// tableFromHTML reads every <tr> of an HTML body
func tableFromHTML(html string) table {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var rows [][]string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		row := tr.Find("td, th").Map(func(_ int, td *goquery.Selection) string {
			return text.Clean(td.Text(), false)
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return tableFromRows(rows)
}

// tableFromText reads tab-separated lines
func tableFromText(s string) table {
	var rows [][]string
	for _, line := range strings.Split(s, "\n") {
		if !strings.Contains(line, "\t") {
			continue
		}
		row := strings.Split(line, "\t")
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}
	return tableFromRows(rows)
}

func tableFromRows(rows [][]string) table {
	var t table
	for i := 0; i < len(rows); i++ {
		row := rows[i]
		if i+1 < len(rows) && isHeaderRow(row) && len(rows[i+1]) == len(row) && !isHeaderRow(rows[i+1]) {
			next := rows[i+1]
			for j := range row {
				t = t.add(row[j], next[j])
			}
			i++
			continue
		}
		// label, value, label, value...
		for j := 0; j+1 < len(row); j += 2 {
			t = t.add(row[j], row[j+1])
		}
	}
	return t
}

func (t table) add(label, value string) table {
	label = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(label), ":"))
	value = strings.TrimSpace(value)
	if label == "" || value == "" {
		return t
	}
	return append(t, cell{label: text.Fold(label), value: value, raw: label + " : " + value})
}

func isHeaderRow(row []string) bool {
	n := 0
	for _, c := range row {
		if headerLabelRe.MatchString(text.Fold(strings.TrimSpace(c))) {
			n++
		}
	}
	return n >= minHeaderCells
}

// headerLabelRe recognizes the column names seen in AssurLead exports
var headerLabelRe = regexp.MustCompile(`^(?:civilite|nom|prenom|date de naissance|code postal|cp|ville|telephone|portable|e-?mail|profession|regime|statut|besoin|type de besoin|user ?id|date d'effet)$`)

// lookup returns the first value whose label matches one of the patterns,
// trying patterns in order, and whose normalized form is not empty
func (t table) lookup(patterns []*regexp.Regexp, norm func(string) string) (string, string) {
	for _, re := range patterns {
		for _, c := range t {
			if !re.MatchString(c.label) {
				continue
			}
			if v := norm(c.value); v != "" {
				return v, c.raw
			}
		}
	}
	return "", ""
}

// labels compiles anchored patterns over folded labels
func labels(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`^(?:` + p + `)$`)
	}
	return out
}
