package fhir

import (
	"fmt"
	"html"
	"strings"
)

// NarrativeRow is one labelled line of a generated narrative.
type NarrativeRow struct {
	Label string
	Value string
}

// GenerateNarrative renders labelled rows as an XHTML div. The heading and
// every row label and value are escaped, so extracted text can never inject
// markup into the resource.
func GenerateNarrative(heading string, rows []NarrativeRow) *Narrative {
	var b strings.Builder
	b.WriteString(`<div xmlns="http://www.w3.org/1999/xhtml">`)
	if heading != "" {
		b.WriteString(fmt.Sprintf("<p><b>%s</b></p>", escapeHTML(heading)))
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("<p><b>%s:</b> %s</p>", escapeHTML(r.Label), escapeHTML(r.Value)))
	}
	b.WriteString("</div>")

	return &Narrative{
		Status: NarrativeStatusGenerated,
		Div:    b.String(),
	}
}

// escapeHTML escapes all HTML-significant characters in s.
// Uses html.EscapeString which handles <, >, &, ", and '.
func escapeHTML(s string) string {
	return html.EscapeString(s)
}
