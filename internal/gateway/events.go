// ABOUTME: SSE progress channel: a persistent push feed of per-session events
// ABOUTME: No replay for late subscribers; heartbeat comments keep proxies awake

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// heartbeatInterval paces SSE comment lines that keep idle connections from
// being reaped by intermediaries.
const heartbeatInterval = 15 * time.Second

// handleSessionEvents handles GET /api/sessions/{sessionID}/events. It
// subscribes the caller to the session's progress feed and relays events as
// SSE until the client disconnects or the session is removed. A subscriber
// attaching mid-command sees only events emitted after it attached.
func (g *Gateway) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	sess, ok := g.registry.Get(sessionID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Touch()

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.bus.Subscribe(r.Context(), sessionID)
	defer g.bus.Unsubscribe(sessionID, subID)
	g.metrics.SubscriberAttached()
	defer g.metrics.SubscriberDetached()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.logger.Debug("progress subscriber attached",
		"session_id", sessionID, "subscriber_id", subID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			g.logger.Debug("progress subscriber disconnected",
				"session_id", sessionID, "subscriber_id", subID)
			return

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, open := <-events:
			if !open {
				// Session removed or server shutting down.
				g.logger.Debug("progress feed closed",
					"session_id", sessionID, "subscriber_id", subID)
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
