package models

import "time"

// Message represents an individual entry of the transcript. It carries the participant who wrote it, the
// content currently on display, the way that content must be rendered and its streaming state.
//
// A message is immutable once it reaches a closed state. While it is Streaming, Content holds the live
// buffer: raw characters appended ahead of markdown formatting, replaced wholesale on each re-render.
type Message struct {
	ID         string
	Author     Author
	Content    string
	RenderMode RenderMode
	State      State
	Timestamp  time.Time

	// RenderedLen is the length of the Content prefix produced by the markdown renderer. The rest of a
	// Streaming or Incomplete message is raw backend text.
	RenderedLen int
}

// Author represents the participant a message belongs to.
type Author string

// RenderMode represents how the content of a message is turned into markup.
type RenderMode string

// State represents the lifecycle of a message: Pending -> Streaming -> Closed, with Streaming -> Failed on
// transport failure and Streaming -> Incomplete when the stream is discarded by an intentional close.
type State string

const (
	// AuthorUser represents a message typed by the user. The content is always PlainEscaped.
	AuthorUser Author = "user"
	// AuthorAssistant represents a reply streamed from the backend.
	AuthorAssistant Author = "assistant"
	// AuthorSystem represents a message produced locally, such as the connection failure notice.
	AuthorSystem Author = "system"

	// RenderModePlainEscaped means Content is already HTML-escaped text.
	RenderModePlainEscaped RenderMode = "plain"
	// RenderModeMarkdown means Content is the output of the markdown renderer, or a live buffer on its way
	// to becoming one.
	RenderModeMarkdown RenderMode = "markdown"

	StatePending    State = "pending"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
	StateIncomplete State = "incomplete"
)

// DisplayName returns the label shown next to messages of this author.
func (a Author) DisplayName() string {
	if a == AuthorUser {
		return "You"
	}
	return "TriPalGPT"
}

// Closed reports whether the state is final. No transition leaves a closed state.
func (s State) Closed() bool {
	switch s {
	case StateClosed, StateFailed, StateIncomplete:
		return true
	}
	return false
}
