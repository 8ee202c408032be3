package handlers

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"
	tripalchat "github.com/tripalgpt/tripal-chat"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// Preview is a Display that serves the transcript to a local browser. Every change is pushed to connected
// pages as rendered HTML through server-sent events, and the page reports submissions and scroll positions
// back to the renderer.
type Preview struct {
	sseSrv *sse.Server
	view   View

	inputs  chan<- string
	scrolls chan<- ScrollPosition

	mu       sync.RWMutex
	messages []models.Message
	locked   bool

	logger *slog.Logger
}

// SSE event types pushed to the page.
var (
	messagesSSEType = sse.Type("messages")
	scrollSSEType   = sse.Type("scroll")
	inputSSEType    = sse.Type("input")
	closeSSEType    = sse.Type("closeChat")
)

// NewPreview creates a Preview forwarding submissions to inputs and scroll reports to scrolls, the same
// channels the renderer's Run loop reads.
func NewPreview(view View, inputs chan<- string, scrolls chan<- ScrollPosition, logger *slog.Logger) *Preview {
	return &Preview{
		sseSrv:  &sse.Server{},
		view:    view,
		inputs:  inputs,
		scrolls: scrolls,
		logger:  logger.With(slog.String("module", "preview")),
	}
}

// Router returns the HTTP handler of the preview.
func (p *Preview) Router() (http.Handler, error) {
	staticFS, err := fs.Sub(tripalchat.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/", p.HandleHome)
	r.Post("/chat", p.HandleChat)
	r.Post("/scroll", p.HandleScroll)
	r.Handle("/sse/messages", p.sseSrv)

	return r, nil
}

// HandleHome renders the full transcript page with the typing area.
func (p *Preview) HandleHome(w http.ResponseWriter, _ *http.Request) {
	p.mu.RLock()
	data := transcriptPageData{
		Messages:    viewMessages(p.messages),
		Live:        true,
		InputLocked: p.locked,
	}
	p.mu.RUnlock()

	if err := p.view.page(w, data); err != nil {
		p.logger.Error("Failed to render page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChat forwards the "user_chat" form field to the renderer. Validation, including ignoring empty
// input, is left to the renderer.
func (p *Preview) HandleChat(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("user_chat")

	select {
	case p.inputs <- text:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	}
}

// HandleScroll forwards a scroll report made of the "offset", "viewport" and "content" form fields.
func (p *Preview) HandleScroll(w http.ResponseWriter, r *http.Request) {
	var pos ScrollPosition
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"offset", &pos.Offset},
		{"viewport", &pos.Viewport},
		{"content", &pos.Content},
	} {
		v, err := strconv.ParseFloat(r.FormValue(f.name), 64)
		if err != nil {
			p.logger.Error("Invalid scroll report", slog.String("field", f.name), slog.String(errLoggerKey, err.Error()))
			http.Error(w, "invalid "+f.name, http.StatusBadRequest)
			return
		}
		*f.dst = v
	}

	select {
	case p.scrolls <- pos:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	}
}

// MessageAppended implements Display.
func (p *Preview) MessageAppended(_ int, msg models.Message) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()

	p.publishMessage(msg)
}

// MessageUpdated implements Display.
func (p *Preview) MessageUpdated(index int, msg models.Message, _ string) {
	p.mu.Lock()
	if index >= 0 && index < len(p.messages) {
		p.messages[index] = msg
	}
	p.mu.Unlock()

	p.publishMessage(msg)
}

// ScrollToBottom implements Display.
func (p *Preview) ScrollToBottom() {
	p.publish(scrollSSEType, "bottom")
}

// SetInputLocked implements Display.
func (p *Preview) SetInputLocked(locked bool) {
	p.mu.Lock()
	p.locked = locked
	p.mu.Unlock()

	state := "unlocked"
	if locked {
		state = "locked"
	}
	p.publish(inputSSEType, state)
}

// ClearInput implements Display.
func (p *Preview) ClearInput() {
	p.publish(inputSSEType, "clear")
}

// InputRejected implements Display. The page keeps the typed text, since it is only cleared for accepted
// input.
func (p *Preview) InputRejected(text string, err error) {
	p.logger.Debug("Input rejected", slog.Int("length", len(text)), slog.String(errLoggerKey, err.Error()))
}

// Messages returns a copy of the messages known to the preview.
func (p *Preview) Messages() []models.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msgs := make([]models.Message, len(p.messages))
	copy(msgs, p.messages)
	return msgs
}

func (p *Preview) publishMessage(msg models.Message) {
	partial, err := p.view.Message(msg)
	if err != nil {
		p.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	p.publish(messagesSSEType, partial)
}

func (p *Preview) publish(typ sse.EventType, data string) {
	e := &sse.Message{Type: typ}
	e.AppendData(data)
	if err := p.sseSrv.Publish(e); err != nil {
		p.logger.Debug("Failed to publish event", slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the SSE server. It tells every connected page to stop listening and
// disable its form, then waits up to 5 seconds for connections to terminate.
func (p *Preview) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: closeSSEType}
	// Event streams drop messages without data, so the close event carries some.
	e.AppendData("bye")

	_ = p.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return p.sseSrv.Shutdown(ctx)
}
