package models

import "strings"

// htmlEscaper encodes the ampersand first so the entities introduced for the other characters are never
// encoded twice.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML encodes &, <, >, " and ' so that user input can be displayed as text.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
