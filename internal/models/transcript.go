package models

import (
	"errors"
	"fmt"
)

// Transcript is the ordered sequence of messages shown to the user. It is append-only: messages are never
// reordered or removed, and only a message that is not yet closed may be replaced.
type Transcript struct {
	messages []Message
}

// ErrMessageClosed is returned when an update targets a message that already reached a closed state.
var ErrMessageClosed = errors.New("message is closed")

// Append adds a message at the end of the transcript and returns its index.
func (t *Transcript) Append(msg Message) int {
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// Update replaces the message at index i. It refuses to touch a message whose current state is closed, so a
// finished message stays immutable.
func (t *Transcript) Update(i int, msg Message) error {
	if i < 0 || i >= len(t.messages) {
		return fmt.Errorf("message index %d out of range [0,%d)", i, len(t.messages))
	}
	if t.messages[i].State.Closed() {
		return fmt.Errorf("update message %s: %w", t.messages[i].ID, ErrMessageClosed)
	}
	t.messages[i] = msg
	return nil
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// At returns the message at index i.
func (t *Transcript) At(i int) Message {
	return t.messages[i]
}

// Messages returns a copy of all messages in order.
func (t *Transcript) Messages() []Message {
	msgs := make([]Message, len(t.messages))
	copy(msgs, t.messages)
	return msgs
}
