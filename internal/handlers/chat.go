package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// streamSession is the bookkeeping for the one reply currently being received.
type streamSession struct {
	id  int
	raw strings.Builder
	// target is the transcript index of the open message, or -1 while no visible message was started.
	target     int
	firstChunk bool
}

func newStreamSession(id int) *streamSession {
	return &streamSession{id: id, target: -1, firstChunk: true}
}

// SessionState reports the state of the in-flight reply: Pending until its first non-empty chunk, then
// Streaming. ok is false when no reply is in flight.
func (r *Renderer) SessionState() (state models.State, ok bool) {
	if r.session == nil {
		return "", false
	}
	if r.session.target < 0 {
		return models.StatePending, true
	}
	return models.StateStreaming, true
}

// Submit handles text typed by the user. Input that is empty after trimming is ignored. While a reply is in
// flight the submission is rejected with ErrSessionActive.
//
// Otherwise the text is escaped, appended to the transcript as a closed user message and forwarded to the
// transport in its escaped form. A transport that refuses the text is treated as a transport failure.
func (r *Renderer) Submit(ctx context.Context, rawText string) error {
	err := r.submit(ctx, rawText)
	if errors.Is(err, errEmptyInput) {
		r.logger.Debug("Ignoring empty input")
		return nil
	}
	return err
}

func (r *Renderer) submit(ctx context.Context, rawText string) error {
	if strings.TrimSpace(rawText) == "" {
		return errEmptyInput
	}
	if r.closed {
		return ErrRendererClosed
	}
	if r.session != nil {
		return ErrSessionActive
	}

	safe := models.EscapeHTML(rawText)
	r.appendMessage(models.Message{
		ID:         uuid.New().String(),
		Author:     models.AuthorUser,
		Content:    safe,
		RenderMode: models.RenderModePlainEscaped,
		State:      models.StateClosed,
		Timestamp:  time.Now(),
	})
	r.display.ClearInput()

	r.lockInput()
	r.sessions++
	r.session = newStreamSession(r.sessions)

	if err := r.transport.Send(ctx, r.session.id, safe); err != nil {
		r.OnStreamError(fmt.Errorf("failed to send message: %w", err))
	}
	return nil
}

// OnChunk applies one chunk of reply text. An empty first chunk is a handshake and is discarded; an empty
// chunk after that ends the reply.
//
// A chunk is appended verbatim to the live buffer so partial text shows up immediately. When it contains a
// line break, the whole accumulated text is re-rendered as markdown and replaces the live buffer, since
// block structure cannot be known mid-line.
func (r *Renderer) OnChunk(chunk string) {
	s := r.session
	if s == nil {
		r.logger.Debug("Dropping chunk without active session", slog.Int("length", len(chunk)))
		return
	}

	if chunk == "" {
		if s.firstChunk {
			r.logger.Debug("Discarding handshake chunk")
			return
		}
		r.OnStreamComplete()
		return
	}
	s.firstChunk = false

	if s.target < 0 {
		s.target = r.appendMessage(models.Message{
			ID:         uuid.New().String(),
			Author:     models.AuthorAssistant,
			RenderMode: models.RenderModeMarkdown,
			State:      models.StateStreaming,
			Timestamp:  time.Now(),
		})
	}

	s.raw.WriteString(chunk)

	msg := r.transcript.At(s.target)
	msg.Content += chunk
	if strings.ContainsAny(chunk, "\r\n") {
		msg.Content = r.renderMarkdown(s.raw.String())
		msg.RenderedLen = len(msg.Content)
	}
	r.updateMessage(s.target, msg, chunk)
}

// OnStreamComplete finalises the open message with the markdown rendering of the complete reply and
// releases the session.
func (r *Renderer) OnStreamComplete() {
	s := r.session
	if s == nil {
		r.logger.Debug("Ignoring completion without active session")
		return
	}

	r.finalize(models.StateClosed)
	r.release()
}

// OnStreamError finalises the open message as failed, appends the failure notice and releases the session.
// Every failure gets its own notice, except a repeated report of a failure whose notice is still the last
// message of the transcript. Nothing is retried.
func (r *Renderer) OnStreamError(err error) {
	r.logger.Error("Transport failure", slog.String(errLoggerKey, err.Error()))

	if r.session != nil {
		r.finalize(models.StateFailed)
	}

	if r.lastIsNotice() {
		r.logger.Debug("Failure notice already shown")
	} else {
		r.appendMessage(models.Message{
			ID:         uuid.New().String(),
			Author:     models.AuthorSystem,
			Content:    models.EscapeHTML(r.failureText),
			RenderMode: models.RenderModePlainEscaped,
			State:      models.StateClosed,
			Timestamp:  time.Now(),
		})
	}

	r.release()
}

// OnTransportClosed discards the in-flight session after an intentional close. The open message is not
// re-rendered; it is marked incomplete. Input stays locked since nothing can be sent any more.
func (r *Renderer) OnTransportClosed() {
	if r.closed {
		return
	}
	r.closed = true

	if s := r.session; s != nil && s.target >= 0 {
		msg := r.transcript.At(s.target)
		msg.State = models.StateIncomplete
		r.updateMessage(s.target, msg, "")
	}
	r.session = nil
	r.lockInput()
}

func (r *Renderer) finalize(state models.State) {
	s := r.session
	if s.target < 0 {
		return
	}
	msg := r.transcript.At(s.target)
	msg.Content = r.renderMarkdown(s.raw.String())
	msg.RenderedLen = len(msg.Content)
	msg.State = state
	r.updateMessage(s.target, msg, "")
}

func (r *Renderer) lastIsNotice() bool {
	n := r.transcript.Len()
	return n > 0 && r.transcript.At(n-1).Author == models.AuthorSystem
}

func (r *Renderer) release() {
	r.session = nil
	if !r.closed {
		r.unlockInput()
	}
}

func (r *Renderer) renderMarkdown(raw string) string {
	html, err := r.markdown.Render(raw)
	if err != nil {
		r.logger.Error("Failed to render markdown, falling back to escaped text",
			slog.String(errLoggerKey, err.Error()))
		return models.EscapeHTML(raw)
	}
	return html
}

func (r *Renderer) appendMessage(msg models.Message) int {
	i := r.transcript.Append(msg)
	r.display.MessageAppended(i, msg)
	r.handleNewMessage()
	return i
}

func (r *Renderer) updateMessage(i int, msg models.Message, delta string) {
	if err := r.transcript.Update(i, msg); err != nil {
		r.logger.Error("Failed to update message",
			slog.String("message", fmt.Sprintf("%+v", msg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	r.display.MessageUpdated(i, msg, delta)
	r.handleNewMessage()
}

func (r *Renderer) lockInput() {
	r.display.SetInputLocked(true)
}

func (r *Renderer) unlockInput() {
	r.display.SetInputLocked(false)
}
