package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/convertworks/convertd/internal/events"
)

// sseHandler streams conversion lifecycle events as Server-Sent Events.
// Each event is named by its lifecycle type (conversion-started,
// conversion-progress, ...) with the JSON payload as data.
type sseHandler struct {
	bus       *events.Bus
	logger    *slog.Logger
	heartbeat time.Duration
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	// Initial comment establishes the connection and triggers onopen.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}

		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshaling sse event", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
