package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tripalgpt/tripal-chat/internal/handlers"
	"github.com/tripalgpt/tripal-chat/internal/models"
)

// htmlFile keeps a standalone HTML copy of the transcript at path, rewritten whenever a message closes.
type htmlFile struct {
	path     string
	view     handlers.View
	messages []models.Message

	logger *slog.Logger
}

func newHTMLFile(path string, view handlers.View, logger *slog.Logger) *htmlFile {
	return &htmlFile{
		path:   path,
		view:   view,
		logger: logger.With(slog.String("module", "html-file")),
	}
}

func (h *htmlFile) MessageAppended(_ int, msg models.Message) {
	h.messages = append(h.messages, msg)
	if msg.State.Closed() {
		h.write()
	}
}

func (h *htmlFile) MessageUpdated(index int, msg models.Message, _ string) {
	if index < 0 || index >= len(h.messages) {
		return
	}
	h.messages[index] = msg
	if msg.State.Closed() {
		h.write()
	}
}

func (h *htmlFile) ScrollToBottom() {}

func (h *htmlFile) SetInputLocked(bool) {}

func (h *htmlFile) ClearInput() {}

func (h *htmlFile) InputRejected(string, error) {}

func (h *htmlFile) write() {
	if err := h.writeFile(); err != nil {
		h.logger.Error("Failed to write transcript", slog.String("path", h.path), slog.String(errLoggerKey, err.Error()))
	}
}

// writeFile replaces the file atomically so a reader never sees a half written page.
func (h *htmlFile) writeFile() error {
	var buf bytes.Buffer
	if err := h.view.Transcript(&buf, h.messages); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".transcript-*.html")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), h.path)
}
