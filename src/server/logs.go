package server

import (
	"fmt"
	"net/http"
)

// streamLogs writes every new log line to the client until it disconnects.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	if s.logger == nil {
		s.sendError(w, "logging is disabled", http.StatusNotFound)
		return
	}

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				// logger closed
				return
			}
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
