package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// sseWriter writes Server-Sent Events, flushing after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("server: streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent sends data as one event named event.
func (s *sseWriter) writeEvent(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "server: marshal event")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return eris.Wrap(err, "server: write event")
	}
	s.flusher.Flush()
	return nil
}
