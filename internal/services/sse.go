package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tmaxmax/go-sse"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// SSETransport requests a server-push event stream per message. Each event carries a JSON document with a
// "message" field; the text is forwarded as a chunk as-is, including the empty string the backend uses both
// as an opening acknowledgment and as the end-of-stream sentinel.
type SSETransport struct {
	endpoint string
	client   *http.Client

	events *eventQueue
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

type sseChatEvent struct {
	Message *string `json:"message"`
}

// NewSSETransport creates a transport reading from baseURL + "/stream". The stream has no timeout; it
// stays open until the backend ends it or the transport is closed.
func NewSSETransport(baseURL string, logger *slog.Logger) *SSETransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &SSETransport{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/stream",
		client:   &http.Client{},
		events:   newEventQueue(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("module", "sse-transport")),
	}
}

// Connect announces readiness. The event stream itself is opened per message by Send.
func (s *SSETransport) Connect(context.Context) error {
	s.events.emit(models.Event{Kind: models.EventOpened})
	return nil
}

// Send opens the event stream for text in the background. Every event read from it is tagged with session,
// including the Complete delivered when the backend closes the stream after its end-of-stream sentinel.
func (s *SSETransport) Send(_ context.Context, session int, text string) error {
	if s.events.isShut() {
		return fmt.Errorf("send on closed transport: %w", ErrTransportClosed)
	}
	go s.stream(session, text)
	return nil
}

func (s *SSETransport) stream(session int, text string) {
	u := s.endpoint + "?" + url.Values{chatFormField: {text}}.Encode()
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, u, nil)
	if err != nil {
		s.events.fail(session, fmt.Errorf("%w: error creating request: %w", ErrTransportOpen, err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.events.fail(session, fmt.Errorf("%w: error sending request: %w", ErrTransportOpen, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.events.fail(session, fmt.Errorf("%w: unexpected status %s: %s", ErrTransportOpen, resp.Status, body))
		return
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.events.fail(session, fmt.Errorf("%w: error reading stream: %w", ErrTransportClosed, err))
			return
		}

		var data sseChatEvent
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			s.events.fail(session, fmt.Errorf("%w: error unmarshaling event: %w", ErrTransportProtocol, err))
			return
		}
		if data.Message == nil {
			s.events.fail(session, fmt.Errorf("%w: event without message field: %s", ErrTransportProtocol, ev.Data))
			return
		}

		s.logger.Debug("Received event", slog.String("type", ev.Type), slog.Int("length", len(*data.Message)))

		if !s.events.chunk(session, *data.Message) {
			return
		}
	}

	s.events.complete(session)
}

// Events returns the channel the transport publishes on.
func (s *SSETransport) Events() <-chan models.Event {
	return s.events.ch
}

// Close aborts any stream in flight.
func (s *SSETransport) Close() error {
	s.cancel()
	s.events.shut()
	return nil
}
