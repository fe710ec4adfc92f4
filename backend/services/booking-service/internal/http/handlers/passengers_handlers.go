package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/models"
)

// PassengersHandlers lists the account's saved passengers.
type PassengersHandlers struct {
	api    BookingAPI
	logger *zap.Logger
}

// NewPassengersHandlers returns handler struct.
func NewPassengersHandlers(api BookingAPI, logger *zap.Logger) *PassengersHandlers {
	return &PassengersHandlers{api: api, logger: logger}
}

// List handles GET /api/passengers.
func (h *PassengersHandlers) List(w http.ResponseWriter, r *http.Request) {
	ps, err := h.api.Passengers(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		h.logger.Debug("passenger list failed", zap.Error(err))
		writeFailure(w, err)
		return
	}
	if ps == nil {
		ps = []models.Passenger{}
	}
	writeSuccess(w, map[string]interface{}{"passengers": ps})
}
