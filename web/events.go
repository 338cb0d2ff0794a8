package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

// handleEvents streams task events as server-sent events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeErr(w, http.StatusNotFound, "not_found", "event stream disabled")
		return
	}
	rc := http.NewResponseController(w)
	// the stream outlives the server's write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := s.deps.Hub.Subscribe(eventBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream unsupported", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
