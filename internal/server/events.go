package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams "inbox" events as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, unsubscribe := s.backend.Subscribe()
	defer unsubscribe()
	s.clients.Add(1)
	defer s.clients.Add(-1)
	s.logger.Debug("sse client connected", "id", requestID(r.Context()))

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case inbox := <-updates:
			data, err := json.Marshal(inbox)
			if err != nil {
				s.logger.Warn("encode inbox", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: inbox\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			s.logger.Debug("sse client disconnected", "id", requestID(r.Context()))
			return
		}
	}
}
