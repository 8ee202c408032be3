package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// WebSocketTransport keeps one persistent connection to the backend's /chat endpoint. Text frames carry raw
// text in both directions without any envelope, so the end of a reply is only visible as an empty frame.
// Incoming frames are tagged with the session of the latest Send; read failures belong to the connection.
type WebSocketTransport struct {
	endpoint string
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	session int

	events *eventQueue

	logger *slog.Logger
}

const wsWriteTimeout = 10 * time.Second

// NewWebSocketTransport creates a transport for baseURL. An http(s) scheme is mapped to ws(s).
func NewWebSocketTransport(baseURL string, logger *slog.Logger) (*WebSocketTransport, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/chat")
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}

	return &WebSocketTransport{
		endpoint: u.String(),
		dialer:   websocket.DefaultDialer,
		events:   newEventQueue(),
		logger:   logger.With(slog.String("module", "websocket-transport")),
	}, nil
}

// Connect dials the backend and starts reading frames. It returns once the connection is established.
func (w *WebSocketTransport) Connect(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("%w: error dialing %s: %w", ErrTransportOpen, w.endpoint, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("connect on closed transport: %w", ErrTransportClosed)
	}
	w.conn = conn
	w.mu.Unlock()

	w.logger.Info("Connected", slog.String("endpoint", w.endpoint))
	w.events.emit(models.Event{Kind: models.EventOpened})

	go w.read(conn)
	return nil
}

func (w *WebSocketTransport) read(conn *websocket.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if w.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.events.fail(0, fmt.Errorf("%w: backend closed the connection: %w", ErrTransportClosed, err))
				return
			}
			w.events.fail(0, fmt.Errorf("%w: error reading frame: %w", ErrTransportClosed, err))
			return
		}
		if typ != websocket.TextMessage {
			w.logger.Warn("Ignoring non-text frame", slog.Int("type", typ))
			continue
		}
		if !w.events.chunk(w.currentSession(), string(data)) {
			return
		}
	}
}

// Send writes text as a single text frame. Frames read from now on are attributed to session.
func (w *WebSocketTransport) Send(_ context.Context, session int, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("send on closed transport: %w", ErrTransportClosed)
	}
	if w.conn == nil {
		return fmt.Errorf("%w: not connected", ErrTransportOpen)
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("%w: error setting write deadline: %w", ErrTransportClosed, err)
	}
	w.session = session
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("%w: error writing frame: %w", ErrTransportClosed, err)
	}
	return nil
}

func (w *WebSocketTransport) currentSession() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Events returns the channel the transport publishes on.
func (w *WebSocketTransport) Events() <-chan models.Event {
	return w.events.ch
}

// Close sends a normal close frame and tears the connection down.
func (w *WebSocketTransport) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	w.events.shut()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		w.logger.Debug("Failed to send close frame", slog.String(errLoggerKey, err.Error()))
	}
	return conn.Close()
}

func (w *WebSocketTransport) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
