package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleStream pushes newly stored messages to the browser as server-sent
// events. Each message is one `data:` line of JSON; comment lines keep the
// connection alive through proxies.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	// Confirm the stream immediately so EventSource fires its open event.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(s.streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case message := <-sub.Events():
			payload, err := json.Marshal(message)
			if err != nil {
				s.logger.Error().Err(err).Str("message_id", message.MessageID).Msg("encode stream event failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-sub.Done():
			return

		case <-r.Context().Done():
			return
		}
	}
}
