package handlers

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	tripalchat "github.com/tripalgpt/tripal-chat"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// View renders transcript state into HTML. Rendering is a pure function of its input: the same messages
// always produce the same markup, and no browser is involved.
type View struct {
	templates *template.Template
}

type message struct {
	ID      string
	Class   string
	Sender  string
	Content template.HTML
	State   string
}

type transcriptPageData struct {
	Messages    []message
	Live        bool
	InputLocked bool
}

// NewView parses the embedded templates.
func NewView() (View, error) {
	// The transcript page pulls in the head from layout and every message from partials.
	tmpl, err := template.ParseFS(
		tripalchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return View{}, err
	}
	return View{templates: tmpl}, nil
}

// viewMessage prepares a message for the templates. PlainEscaped text went through EscapeHTML and the
// rendered part of Markdown content comes from the markdown renderer; the raw tail of a live buffer is
// escaped here.
func viewMessage(msg models.Message) message {
	class := "ai-response"
	switch msg.Author {
	case models.AuthorUser:
		class = "user-input"
	case models.AuthorSystem:
		class = "system"
	}
	return message{
		ID:      msg.ID,
		Class:   class,
		Sender:  msg.Author.DisplayName(),
		Content: template.HTML(safeContent(msg)),
		State:   string(msg.State),
	}
}

func safeContent(msg models.Message) string {
	if msg.RenderMode != models.RenderModeMarkdown {
		return msg.Content
	}
	switch msg.State {
	case models.StateStreaming, models.StateIncomplete:
		n := min(max(msg.RenderedLen, 0), len(msg.Content))
		return msg.Content[:n] + models.EscapeHTML(msg.Content[n:])
	}
	return msg.Content
}

func viewMessages(msgs []models.Message) []message {
	res := make([]message, len(msgs))
	for i, msg := range msgs {
		res[i] = viewMessage(msg)
	}
	return res
}

// Transcript writes a standalone page containing all messages.
func (v View) Transcript(w io.Writer, msgs []models.Message) error {
	return v.page(w, transcriptPageData{Messages: viewMessages(msgs)})
}

func (v View) page(w io.Writer, data transcriptPageData) error {
	if err := v.templates.ExecuteTemplate(w, "transcript.html", data); err != nil {
		return fmt.Errorf("failed to execute transcript template: %w", err)
	}
	return nil
}

// Message renders the partial of a single message.
func (v View) Message(msg models.Message) (string, error) {
	var sb strings.Builder
	if err := v.templates.ExecuteTemplate(&sb, "message", viewMessage(msg)); err != nil {
		return "", fmt.Errorf("failed to execute message template: %w", err)
	}
	return sb.String(), nil
}

// RenderTranscript renders msgs into a standalone HTML page.
func RenderTranscript(msgs []models.Message) (string, error) {
	v, err := NewView()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := v.Transcript(&sb, msgs); err != nil {
		return "", err
	}
	return sb.String(), nil
}
