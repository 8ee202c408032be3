package handlers

import "github.com/tripalgpt/tripal-chat/internal/models"

// Displays fans every notification out to several displays, in order.
type Displays []Display

// MessageAppended implements Display.
func (ds Displays) MessageAppended(index int, msg models.Message) {
	for _, d := range ds {
		d.MessageAppended(index, msg)
	}
}

// MessageUpdated implements Display.
func (ds Displays) MessageUpdated(index int, msg models.Message, delta string) {
	for _, d := range ds {
		d.MessageUpdated(index, msg, delta)
	}
}

// ScrollToBottom implements Display.
func (ds Displays) ScrollToBottom() {
	for _, d := range ds {
		d.ScrollToBottom()
	}
}

// SetInputLocked implements Display.
func (ds Displays) SetInputLocked(locked bool) {
	for _, d := range ds {
		d.SetInputLocked(locked)
	}
}

// ClearInput implements Display.
func (ds Displays) ClearInput() {
	for _, d := range ds {
		d.ClearInput()
	}
}

// InputRejected implements Display.
func (ds Displays) InputRejected(text string, err error) {
	for _, d := range ds {
		d.InputRejected(text, err)
	}
}
