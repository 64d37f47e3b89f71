package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/RichardoC/localchat/internal/chat"
)

// sseWriter frames chat events as server-sent events and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// Send writes one "data: <json>" frame. Fallback notices stay local.
func (s *sseWriter) Send(e chat.Event) error {
	if e.Type == chat.EventFallback {
		return nil
	}
	if !s.started {
		s.start()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
