package main

import (
	"errors"
	"fmt"
	"html"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tripalgpt/tripal-chat/internal/handlers"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

const retryQueueSize = 8

// terminal prints the transcript as plain text. Reply chunks are written as they arrive, so the terminal
// shows raw characters ahead of any formatting, the way the live buffer does.
type terminal struct {
	w io.Writer
	// interactive is true when a person types on stdin and reads stdout: labels are emphasised and the
	// user's own lines are not echoed back.
	interactive bool
	// ready receives a token each time input unlocks.
	ready chan struct{}
	// retry holds lines turned away while a reply was in flight, to be sent again on the next unlock.
	retry chan string
}

func newTerminal(w *os.File, in *os.File) *terminal {
	return &terminal{
		w:           w,
		interactive: isTerminal(w) && isTerminal(in),
		ready:       newReady(),
		retry:       make(chan string, retryQueueSize),
	}
}

func newReady() chan struct{} {
	ready := make(chan struct{}, 1)
	ready <- struct{}{}
	return ready
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (t *terminal) label(a models.Author) string {
	if t.interactive {
		return "\033[1m" + a.DisplayName() + ":\033[0m "
	}
	return a.DisplayName() + ": "
}

func (t *terminal) MessageAppended(_ int, msg models.Message) {
	switch msg.Author {
	case models.AuthorUser:
		if !t.interactive {
			fmt.Fprintf(t.w, "%s%s\n", t.label(msg.Author), html.UnescapeString(msg.Content))
		}
	case models.AuthorSystem:
		fmt.Fprintf(t.w, "%s%s\n", t.label(msg.Author), html.UnescapeString(msg.Content))
	case models.AuthorAssistant:
		fmt.Fprint(t.w, t.label(msg.Author))
	}
}

func (t *terminal) MessageUpdated(_ int, msg models.Message, delta string) {
	fmt.Fprint(t.w, delta)

	switch msg.State {
	case models.StateClosed, models.StateFailed:
		fmt.Fprintln(t.w)
	case models.StateIncomplete:
		fmt.Fprintln(t.w, " [incomplete]")
	}
}

func (t *terminal) ScrollToBottom() {}

func (t *terminal) SetInputLocked(locked bool) {
	if locked {
		return
	}
	if t.interactive {
		fmt.Fprint(t.w, "> ")
	}
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func (t *terminal) ClearInput() {}

func (t *terminal) InputRejected(text string, err error) {
	if !errors.Is(err, handlers.ErrSessionActive) {
		fmt.Fprintf(t.w, "[not sent: %v] %s\n", err, text)
		return
	}
	select {
	case t.retry <- text:
		fmt.Fprintf(t.w, "[queued until the reply ends] %s\n", text)
	default:
		fmt.Fprintf(t.w, "[not sent: too many queued lines] %s\n", text)
	}
}
