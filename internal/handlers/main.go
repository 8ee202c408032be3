package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tripalgpt/tripal-chat/internal/models"
)

// Transport represents the channel used to reach the backend. Send forwards the user's text and must not
// wait for the reply: chunks and lifecycle signals are delivered in order on Events, tagged with the session
// number passed to the Send they answer.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, session int, text string) error
	Events() <-chan models.Event
	Close() error
}

// Markdown maps accumulated raw reply text to markup that is safe to display.
type Markdown interface {
	Render(raw string) (string, error)
}

// Display is the view collaborator notified of every transcript change. All calls are made from the
// renderer's event loop, one at a time.
//
// MessageUpdated receives the raw chunk that caused the update as delta, which is empty when the update only
// finalises the message.
type Display interface {
	MessageAppended(index int, msg models.Message)
	MessageUpdated(index int, msg models.Message, delta string)
	ScrollToBottom()
	SetInputLocked(locked bool)
	ClearInput()
	InputRejected(text string, err error)
}

// Renderer maintains the transcript and drives its incremental updates as reply chunks arrive. It owns the
// single StreamSession of its transport; a renderer is not safe for concurrent use, Run serialises every
// event onto one goroutine.
type Renderer struct {
	transport Transport
	markdown  Markdown
	display   Display

	transcript models.Transcript
	session    *streamSession
	// sessions counts the replies requested so far and numbers the next one.
	sessions int
	scroll   autoScroller

	failureText string
	closed      bool

	logger *slog.Logger
}

// DefaultFailureText is the notice appended to the transcript when the transport fails.
const DefaultFailureText = "ごめんね、接続が切れちゃったよ。リロードしてもう一度試してみてね。"

const errLoggerKey = "err"

var (
	// ErrSessionActive is returned by Submit while a reply is still being received.
	ErrSessionActive = errors.New("a reply is still in flight")
	// ErrRendererClosed is returned by Submit after the transport was closed on purpose.
	ErrRendererClosed = errors.New("renderer is closed")

	errEmptyInput = errors.New("empty input")
)

// NewRenderer creates a Renderer over the given collaborators. An empty failureText selects
// DefaultFailureText.
func NewRenderer(transport Transport, markdown Markdown, display Display, failureText string,
	logger *slog.Logger,
) *Renderer {
	if failureText == "" {
		failureText = DefaultFailureText
	}
	return &Renderer{
		transport:   transport,
		markdown:    markdown,
		display:     display,
		failureText: failureText,
		logger:      logger.With(slog.String("module", "renderer")),
	}
}

// Run is the renderer's event loop. It connects the transport, then dispatches transport events, user
// submissions and scroll reports until ctx is done, or until inputs is closed and no reply is in flight.
// A nil inputs channel counts as closed. The transport is closed before Run returns.
func (r *Renderer) Run(ctx context.Context, inputs <-chan string, scrolls <-chan ScrollPosition) error {
	if err := r.transport.Connect(ctx); err != nil {
		r.OnStreamError(err)
	}

	events := r.transport.Events()
	for {
		if inputs == nil && r.session == nil {
			r.shutdown()
			return nil
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case ev := <-events:
			r.dispatch(ev)
		case text, ok := <-inputs:
			if !ok {
				inputs = nil
				continue
			}
			if err := r.Submit(ctx, text); err != nil {
				r.logger.Warn("Submission rejected", slog.String(errLoggerKey, err.Error()))
				r.display.InputRejected(text, err)
			}
		case pos := <-scrolls:
			r.OnScroll(pos)
		}
	}
}

func (r *Renderer) shutdown() {
	if err := r.transport.Close(); err != nil {
		r.logger.Error("Failed to close transport", slog.String(errLoggerKey, err.Error()))
	}
	r.OnTransportClosed()
}

// dispatch is the single persistent handler for transport events. What an event means depends only on the
// current session; events tagged with any other session are left over from an earlier reply and dropped.
func (r *Renderer) dispatch(ev models.Event) {
	if ev.Session != 0 && (r.session == nil || r.session.id != ev.Session) {
		r.logger.Debug("Dropping event of a finished reply",
			slog.String("kind", string(ev.Kind)), slog.Int("session", ev.Session))
		return
	}

	switch ev.Kind {
	case models.EventOpened:
		r.logger.Info("Transport connected")
	case models.EventChunk:
		r.OnChunk(ev.Chunk)
	case models.EventComplete:
		r.OnStreamComplete()
	case models.EventError:
		r.OnStreamError(ev.Err)
	case models.EventClosed:
		r.OnTransportClosed()
	default:
		r.logger.Warn("Unknown transport event", slog.String("kind", string(ev.Kind)))
	}
}

// Messages returns a copy of the transcript. Like every other method it must not race with Run.
func (r *Renderer) Messages() []models.Message {
	return r.transcript.Messages()
}
