package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Stream handles GET /events/stream. The connection receives a
// connected frame, then message frames carrying one event each, with
// heartbeat frames whenever the stream idles past the configured
// interval.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sub := h.hub.Subscribe(parseProjectID(r))
	defer h.hub.Unsubscribe(sub)

	writeSSEFrame(w, "connected", map[string]any{
		"subscriber": sub.ID,
		"time":       time.Now().UTC(),
	})
	flusher.Flush()

	heartbeat := time.Duration(h.cfg.Server.HeartbeatSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	idle := time.NewTimer(heartbeat)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-sub.Events():
			if !ok {
				// evicted by the hub
				return
			}
			writeSSEFrame(w, "message", toEventResponse(ev))
			flusher.Flush()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(heartbeat)

		case <-idle.C:
			writeSSEFrame(w, "heartbeat", map[string]any{"time": time.Now().UTC()})
			flusher.Flush()
			idle.Reset(heartbeat)
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, frameType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", frameType)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
}
