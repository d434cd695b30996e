// Package relay streams generation progress to clients over Server-Sent
// Events by polling the job store. Each connection gets its own poll and
// heartbeat tickers, both stopped when the client disconnects.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates an SSE writer and sets the stream headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named event with a JSON payload.
func (w *Writer) WriteEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}

	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("writing event name: %w", err)
	}
	// Multi-line payloads need a data: prefix per line.
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("writing data line: %w", err)
		}
	}
	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("writing terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteHeartbeat sends a comment frame that keeps intermediaries from
// closing an idle stream.
func (w *Writer) WriteHeartbeat() error {
	if _, err := w.w.Write([]byte(": heartbeat\n\n")); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	w.flusher.Flush()
	return nil
}
