package services

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders accumulated reply text into markup that is safe to display. Raw HTML embedded in the
// text is omitted, which is the goldmark default.
type Markdown struct {
	md goldmark.Markdown
}

// DefaultHighlightStyle is the chroma style used for fenced code blocks when none is configured.
const DefaultHighlightStyle = "github"

// NewMarkdown creates a Markdown renderer with GitHub flavored extensions and code highlighting using the
// given chroma style.
func NewMarkdown(highlightStyle string) Markdown {
	if highlightStyle == "" {
		highlightStyle = DefaultHighlightStyle
	}
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(highlightStyle),
				),
			),
		),
	}
}

// Render converts the whole of raw into HTML.
func (m Markdown) Render(raw string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(raw), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}
