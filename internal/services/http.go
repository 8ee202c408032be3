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
	"time"

	"github.com/tripalgpt/tripal-chat/internal/models"
)

// HTTPTransport reaches the backend with one form-encoded POST per message and receives the whole reply as
// a JSON document. The reply is delivered as a single chunk followed by a Complete event.
type HTTPTransport struct {
	endpoint string
	client   *http.Client

	events *eventQueue
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

type httpChatResponse struct {
	Response *string `json:"response"`
}

// chatFormField is the form and query field the backend reads the user's text from.
const chatFormField = "user_chat"

// NewHTTPTransport creates a transport posting to baseURL + "/chat". A zero timeout means the request may
// wait for the backend indefinitely.
func NewHTTPTransport(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPTransport{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/chat",
		client:   &http.Client{Timeout: timeout},
		events:   newEventQueue(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("module", "http-transport")),
	}
}

// Connect is a no-op beyond announcing readiness, since every message opens its own request.
func (h *HTTPTransport) Connect(context.Context) error {
	h.events.emit(models.Event{Kind: models.EventOpened})
	return nil
}

// Send posts text to the backend in the background. The outcome is reported on Events, tagged with session.
func (h *HTTPTransport) Send(_ context.Context, session int, text string) error {
	if h.events.isShut() {
		return fmt.Errorf("send on closed transport: %w", ErrTransportClosed)
	}
	go h.post(session, text)
	return nil
}

func (h *HTTPTransport) post(session int, text string) {
	form := url.Values{chatFormField: {text}}
	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		h.events.fail(session, fmt.Errorf("%w: error creating request: %w", ErrTransportOpen, err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.events.fail(session, fmt.Errorf("%w: error sending request: %w", ErrTransportOpen, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		h.events.fail(session, fmt.Errorf("%w: unexpected status %s: %s", ErrTransportOpen, resp.Status, body))
		return
	}

	var res httpChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		h.events.fail(session, fmt.Errorf("%w: error decoding response: %w", ErrTransportProtocol, err))
		return
	}
	if res.Response == nil {
		h.events.fail(session, fmt.Errorf("%w: response field is missing", ErrTransportProtocol))
		return
	}

	h.logger.Debug("Received response", slog.Int("length", len(*res.Response)))

	if *res.Response != "" && !h.events.chunk(session, *res.Response) {
		return
	}
	h.events.complete(session)
}

// Events returns the channel the transport publishes on.
func (h *HTTPTransport) Events() <-chan models.Event {
	return h.events.ch
}

// Close cancels any request in flight.
func (h *HTTPTransport) Close() error {
	h.cancel()
	h.events.shut()
	return nil
}
