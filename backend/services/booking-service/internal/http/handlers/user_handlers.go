package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/http/middleware"
)

// UserHandlers reports and ends the session's login.
type UserHandlers struct {
	api    BookingAPI
	logger *zap.Logger
}

// NewUserHandlers returns handler struct.
func NewUserHandlers(api BookingAPI, logger *zap.Logger) *UserHandlers {
	return &UserHandlers{api: api, logger: logger}
}

// Status handles GET /api/user/status.
func (h *UserHandlers) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.api.UserStatus(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"logged_in": st.LoggedIn,
		"username":  st.Username,
	})
}

// Logout handles POST /api/user/logout.
func (h *UserHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	if err := h.api.Logout(r.Context(), sid); err != nil {
		h.logger.Warn("logout failed", zap.String("session_id", sid), zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"message": "已退出登录"})
}
