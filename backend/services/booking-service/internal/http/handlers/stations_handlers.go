package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultSuggestLimit = 10

// StationsHandlers serves the station directory.
type StationsHandlers struct {
	api    BookingAPI
	logger *zap.Logger
}

// NewStationsHandlers returns handler struct.
func NewStationsHandlers(api BookingAPI, logger *zap.Logger) *StationsHandlers {
	return &StationsHandlers{api: api, logger: logger}
}

// Names handles GET /api/stations.
func (h *StationsHandlers) Names(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"stations": h.api.Stations()})
}

// List handles GET /api/stations/list.
func (h *StationsHandlers) List(w http.ResponseWriter, r *http.Request) {
	all := h.api.StationList()
	writeSuccess(w, map[string]interface{}{
		"stations": all,
		"count":    len(all),
	})
}

// Suggest handles GET /api/stations/suggest?q=.
func (h *StationsHandlers) Suggest(w http.ResponseWriter, r *http.Request) {
	limit := defaultSuggestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	matches, err := h.api.SuggestStations(r.URL.Query().Get("q"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"suggestions": matches})
}
