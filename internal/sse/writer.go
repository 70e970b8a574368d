package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter to frame named SSE events, used by the
// agent-engine streaming HTTP endpoint.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer. It panics if
// the underlying ResponseWriter does not support flushing, matching the
// precondition every caller in this module already guarantees by only ever
// constructing a Writer from within an http.HandlerFunc.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("sse: response writer does not support flushing")
	}
	return &Writer{w: w, f: flusher}
}

// Send writes a named event with a JSON-encoded payload and flushes it.
func (w *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: marshal event %q: %w", event, err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("sse: write event %q: %w", event, err)
	}
	w.f.Flush()
	return nil
}
