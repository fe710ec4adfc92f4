package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/service"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// BookingHandlers submits orders and lists the journal.
type BookingHandlers struct {
	api    BookingAPI
	logger *zap.Logger
}

// NewBookingHandlers returns handler struct.
func NewBookingHandlers(api BookingAPI, logger *zap.Logger) *BookingHandlers {
	return &BookingHandlers{api: api, logger: logger}
}

// Submit handles POST /api/booking/submit.
func (h *BookingHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var in service.BookingInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sid := middleware.SessionIDFromContext(r.Context())
	out, err := h.api.SubmitBooking(r.Context(), sid, in)
	if err != nil {
		h.logger.Warn("booking failed",
			zap.String("session_id", sid),
			zap.String("train_code", in.TrainCode),
			zap.Error(err),
		)
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"message":  out.Message,
		"attempts": out.Attempts,
	})
}

// History handles GET /api/booking/history.
func (h *BookingHandlers) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := h.api.BookingHistory(r.Context(), middleware.SessionIDFromContext(r.Context()), limit)
	if err != nil {
		h.logger.Error("booking history failed", zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"bookings": records})
}
