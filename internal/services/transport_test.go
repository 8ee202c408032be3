package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tripalgpt/tripal-chat/internal/models"
	"github.com/tripalgpt/tripal-chat/internal/services"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type eventSource interface {
	Events() <-chan models.Event
}

// collect reads events until one of the given kinds arrives, and returns everything read so far.
func collect(t *testing.T, src eventSource, until ...models.EventKind) []models.Event {
	t.Helper()

	var evs []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-src.Events():
			evs = append(evs, ev)
			for _, k := range until {
				if ev.Kind == k {
					return evs
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v, got %+v", until, evs)
		}
	}
}

// sessions returns the session of every reply event, skipping connection events.
func sessions(evs []models.Event) []int {
	var res []int
	for _, ev := range evs {
		if ev.Kind == models.EventChunk || ev.Kind == models.EventComplete || ev.Kind == models.EventError {
			res = append(res, ev.Session)
		}
	}
	return res
}

func allSession(evs []models.Event, want int) bool {
	for _, s := range sessions(evs) {
		if s != want {
			return false
		}
	}
	return true
}

func chunks(evs []models.Event) []string {
	var res []string
	for _, ev := range evs {
		if ev.Kind == models.EventChunk {
			res = append(res, ev.Chunk)
		}
	}
	return res
}

func TestHTTPTransport(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantChunks []string
		wantErr    error
	}{
		{
			name: "Response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{
					"response": "echo: " + r.FormValue("user_chat"),
				})
			},
			wantChunks: []string{"echo: Hi &lt;there&gt;"},
		},
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: services.ErrTransportOpen,
		},
		{
			name: "Malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "not json")
			},
			wantErr: services.ErrTransportProtocol,
		},
		{
			name: "Missing field",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"answer":"x"}`)
			},
			wantErr: services.ErrTransportProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
					return
				}
				tt.handler(w, r)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			tr := services.NewHTTPTransport(srv.URL, time.Second, discardLogger)
			defer tr.Close()

			if err := tr.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if evs := collect(t, tr, models.EventOpened); len(evs) != 1 {
				t.Fatalf("Connect() events = %+v, want one opened event", evs)
			}

			if err := tr.Send(context.Background(), 3, "Hi &lt;there&gt;"); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			evs := collect(t, tr, models.EventComplete, models.EventError)
			last := evs[len(evs)-1]
			if !allSession(evs, 3) {
				t.Errorf("sessions = %v, want all 3", sessions(evs))
			}

			if tt.wantErr != nil {
				if last.Kind != models.EventError || !errors.Is(last.Err, tt.wantErr) {
					t.Fatalf("last event = %+v, want error %v", last, tt.wantErr)
				}
				return
			}
			if last.Kind != models.EventComplete {
				t.Fatalf("last event = %+v, want complete", last)
			}
			if got := chunks(evs); strings.Join(got, "|") != strings.Join(tt.wantChunks, "|") {
				t.Errorf("chunks = %q, want %q", got, tt.wantChunks)
			}
		})
	}
}

func TestHTTPTransportSendAfterClose(t *testing.T) {
	tr := services.NewHTTPTransport("http://127.0.0.1:0", 0, discardLogger)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Send(context.Background(), 1, "hi"); !errors.Is(err, services.ErrTransportClosed) {
		t.Errorf("Send() error = %v, want %v", err, services.ErrTransportClosed)
	}
}

func TestSSETransport(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantChunks []string
		wantErr    error
	}{
		{
			name: "Stream with handshake and sentinel",
			body: "data: {\"message\":\"\"}\n\n" +
				"data: {\"message\":\"Hel\"}\n\n" +
				"data: {\"message\":\"lo\\n\"}\n\n" +
				"data: {\"message\":\"\"}\n\n",
			wantChunks: []string{"", "Hel", "lo\n", ""},
		},
		{
			name:    "Malformed event",
			body:    "data: {\"message\":\"ok\"}\n\ndata: oops\n\n",
			wantErr: services.ErrTransportProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queries := make(chan string, 1)
			mux := http.NewServeMux()
			mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
				queries <- r.URL.Query().Get("user_chat")
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				fmt.Fprint(w, tt.body)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			tr := services.NewSSETransport(srv.URL, discardLogger)
			defer tr.Close()

			if err := tr.Send(context.Background(), 5, "a & b"); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			evs := collect(t, tr, models.EventComplete, models.EventError)
			last := evs[len(evs)-1]
			if !allSession(evs, 5) {
				t.Errorf("sessions = %v, want all 5", sessions(evs))
			}

			if gotQuery := <-queries; gotQuery != "a & b" {
				t.Errorf("user_chat = %q, want %q", gotQuery, "a & b")
			}

			if tt.wantErr != nil {
				if last.Kind != models.EventError || !errors.Is(last.Err, tt.wantErr) {
					t.Fatalf("last event = %+v, want error %v", last, tt.wantErr)
				}
				return
			}
			if last.Kind != models.EventComplete {
				t.Fatalf("last event = %+v, want complete", last)
			}
			if got := chunks(evs); strings.Join(got, "|") != strings.Join(tt.wantChunks, "|") {
				t.Errorf("chunks = %q, want %q", got, tt.wantChunks)
			}
		})
	}
}

func TestSSETransportStreamHeldAfterSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"message\":\"\"}\n\n"+
			"data: {\"message\":\"Hi\"}\n\n"+
			"data: {\"message\":\"\"}\n\n")
		w.(http.Flusher).Flush()
		time.Sleep(100 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := services.NewSSETransport(srv.URL, discardLogger)
	defer tr.Close()

	if err := tr.Send(context.Background(), 7, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	evs := collect(t, tr, models.EventComplete, models.EventError)

	if last := evs[len(evs)-1]; last.Kind != models.EventComplete || last.Session != 7 {
		t.Errorf("last event = %+v, want complete of session 7", last)
	}
	if !allSession(evs, 7) {
		t.Errorf("sessions = %v, want all 7", sessions(evs))
	}
	if got := chunks(evs); strings.Join(got, "|") != "|Hi|" {
		t.Errorf("chunks = %q, want %q", got, []string{"", "Hi", ""})
	}
}

func TestSSETransportOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr := services.NewSSETransport(srv.URL, discardLogger)
	defer tr.Close()

	if err := tr.Send(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	evs := collect(t, tr, models.EventError)
	if err := evs[len(evs)-1].Err; !errors.Is(err, services.ErrTransportOpen) {
		t.Errorf("error = %v, want %v", err, services.ErrTransportOpen)
	}
}

func newEchoWebSocketServer(t *testing.T, replies func(string) []string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			text := string(data)
			if text == "drop" {
				return
			}
			for _, reply := range replies(text) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	})
	return httptest.NewServer(mux)
}

func TestWebSocketTransport(t *testing.T) {
	srv := newEchoWebSocketServer(t, func(text string) []string {
		return []string{"", "you said ", text, ""}
	})
	defer srv.Close()

	tr, err := services.NewWebSocketTransport(srv.URL, discardLogger)
	if err != nil {
		t.Fatalf("NewWebSocketTransport() error = %v", err)
	}
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	collect(t, tr, models.EventOpened)

	if err := tr.Send(context.Background(), 2, "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var got []string
	for len(got) < 4 {
		evs := collect(t, tr, models.EventChunk, models.EventError)
		if last := evs[len(evs)-1]; last.Kind == models.EventError {
			t.Fatalf("unexpected error event: %v", last.Err)
		}
		if !allSession(evs, 2) {
			t.Errorf("sessions = %v, want all 2", sessions(evs))
		}
		got = append(got, chunks(evs)...)
	}
	want := []string{"", "you said ", "hello", ""}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("chunks = %q, want %q", got, want)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if evs := collect(t, tr, models.EventClosed); evs[len(evs)-1].Kind != models.EventClosed {
		t.Errorf("Close() should deliver a closed event")
	}
	if err := tr.Send(context.Background(), 3, "again"); !errors.Is(err, services.ErrTransportClosed) {
		t.Errorf("Send() after Close() error = %v, want %v", err, services.ErrTransportClosed)
	}
}

func TestWebSocketTransportUnexpectedClose(t *testing.T) {
	srv := newEchoWebSocketServer(t, func(string) []string { return nil })
	defer srv.Close()

	tr, err := services.NewWebSocketTransport(srv.URL, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(context.Background(), 1, "drop"); err != nil {
		t.Fatal(err)
	}

	evs := collect(t, tr, models.EventError)
	last := evs[len(evs)-1]
	if !errors.Is(last.Err, services.ErrTransportClosed) {
		t.Errorf("error = %v, want %v", last.Err, services.ErrTransportClosed)
	}
	if last.Session != 0 {
		t.Errorf("error session = %d, want 0 for a connection failure", last.Session)
	}
}

func TestWebSocketTransportOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr, err := services.NewWebSocketTransport(srv.URL, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Connect(context.Background()); !errors.Is(err, services.ErrTransportOpen) {
		t.Errorf("Connect() error = %v, want %v", err, services.ErrTransportOpen)
	}
}

func TestNewWebSocketTransportScheme(t *testing.T) {
	if _, err := services.NewWebSocketTransport("ftp://example.com", discardLogger); err == nil {
		t.Error("NewWebSocketTransport() with ftp scheme should return error")
	}
}
