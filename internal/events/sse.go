package events

import (
	"errors"
	"net/http"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported by response writer")

var (
	dataPrefix = []byte("data: ")
	frameEnd   = []byte("\n\n")
	pingFrame  = []byte(":\n\n")
)

// SSESink writes events to an HTTP response as a server-sent event stream.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink writes the stream headers and flushes them so the client sees the
// connection open before the first event.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESink{w: w, flusher: flusher}, nil
}

// Send writes one "data:" frame.
func (s *SSESink) Send(data []byte) error {
	for _, part := range [][]byte{dataPrefix, data, frameEnd} {
		if _, err := s.w.Write(part); err != nil {
			return err
		}
	}
	s.flusher.Flush()
	return nil
}

// Ping writes an SSE comment line.
func (s *SSESink) Ping() error {
	if _, err := s.w.Write(pingFrame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
