// Package stream is the long-lived session primitive behind the three
// streaming flows: device linking, document sync, and merge-completion
// notification. All three share one wire encoding (SSE) and one loop
// contract; they differ only in watched counters, event shapes, and
// maximum duration.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// RetryMillis is the reconnection delay directive sent once per connection.
const RetryMillis = 3000

// Writer emits SSE frames with strictly increasing event ids so a client
// can resume via the Last-Event-ID header. Caching and compression are
// disabled end-to-end: a buffered or transformed event stream is a dead
// event stream.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	nextID  int64
}

// NewWriter prepares the response for streaming and emits the retry
// directive. lastEventID (0 when the client sends none) floors the ids of
// subsequent events.
func NewWriter(w http.ResponseWriter, lastEventID int64) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", RetryMillis); err != nil {
		return nil, fmt.Errorf("write retry directive: %w", err)
	}
	flusher.Flush()

	return &Writer{w: w, flusher: flusher, nextID: lastEventID + 1}, nil
}

// Event writes one frame: id, event name, JSON data, blank line.
func (sw *Writer) Event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}

	if _, err := fmt.Fprintf(sw.w, "id: %d\nevent: %s\ndata: %s\n\n", sw.nextID, name, payload); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	sw.nextID++
	sw.flusher.Flush()
	return nil
}

// KeepAlive writes a no-op comment line and flushes. A failed write, or
// the zero-byte probe after it, is how a dropped connection is observed.
func (sw *Writer) KeepAlive() error {
	if _, err := fmt.Fprintf(sw.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	sw.flusher.Flush()

	if _, err := sw.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}
	return nil
}

// ParseLastEventID reads the resumption header, 0 when absent or invalid.
func ParseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
