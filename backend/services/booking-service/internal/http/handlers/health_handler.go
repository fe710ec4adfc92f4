package handlers

import (
	"net/http"
)

// Gauges reports runtime counters for the health endpoint.
type Gauges interface {
	ActivePolls() int
	LiveSessions() int
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler(g Gauges, watchers func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "ok"}
		if g != nil {
			body["active_polls"] = g.ActivePolls()
			body["live_sessions"] = g.LiveSessions()
		}
		if watchers != nil {
			body["login_watchers"] = watchers()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
