package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/service"
)

// TicketsHandlers serves the availability queries.
type TicketsHandlers struct {
	api    BookingAPI
	logger *zap.Logger
}

// NewTicketsHandlers returns handler struct.
func NewTicketsHandlers(api BookingAPI, logger *zap.Logger) *TicketsHandlers {
	return &TicketsHandlers{api: api, logger: logger}
}

// Query handles POST /api/tickets/query.
func (h *TicketsHandlers) Query(w http.ResponseWriter, r *http.Request) {
	var in service.SearchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offers, err := h.api.Search(r.Context(), middleware.SessionIDFromContext(r.Context()), in)
	if err != nil {
		h.logger.Debug("ticket query failed", zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"trains": offerViews(offers),
		"count":  len(offers),
	})
}

// SmartQuery handles POST /api/tickets/smart-query.
func (h *TicketsHandlers) SmartQuery(w http.ResponseWriter, r *http.Request) {
	var in service.SmartSearchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.api.SmartSearch(r.Context(), middleware.SessionIDFromContext(r.Context()), in)
	if err != nil {
		h.logger.Debug("smart query failed", zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"date":    res.Date,
		"trains":  offerViews(res.Offers),
		"count":   len(res.Offers),
		"message": fmt.Sprintf("找到 %d 个车次", len(res.Offers)),
	})
}

// BatchQuery handles POST /api/tickets/batch-query.
func (h *TicketsHandlers) BatchQuery(w http.ResponseWriter, r *http.Request) {
	var in service.BatchSearchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.api.BatchSearch(r.Context(), middleware.SessionIDFromContext(r.Context()), in)
	if err != nil {
		h.logger.Debug("batch query failed", zap.Error(err))
		writeFailure(w, err)
		return
	}
	total := 0
	views := make(map[string][]map[string]interface{}, len(results))
	for date, offers := range results {
		total += len(offers)
		views[date] = offerViews(offers)
	}
	writeSuccess(w, map[string]interface{}{
		"results":      views,
		"total_trains": total,
	})
}
