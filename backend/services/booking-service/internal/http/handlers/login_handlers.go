package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/ws"
)

// LoginHandlers serves the QR login endpoints.
type LoginHandlers struct {
	api    BookingAPI
	ws     *ws.Server
	logger *zap.Logger
}

// NewLoginHandlers returns handler struct.
func NewLoginHandlers(api BookingAPI, wsServer *ws.Server, logger *zap.Logger) *LoginHandlers {
	return &LoginHandlers{api: api, ws: wsServer, logger: logger}
}

// QRCode handles POST /api/login/qrcode.
func (h *LoginHandlers) QRCode(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	ch, err := h.api.BeginLogin(r.Context(), sid)
	if err != nil {
		h.logger.Warn("qr challenge failed", zap.String("session_id", sid), zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"uuid":     ch.UUID,
		"qr_image": ch.QRImage,
	})
}

// Status handles GET /api/login/status/{uuid}.
func (h *LoginHandlers) Status(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	st, err := h.api.LoginStatus(r.Context(), sid, r.PathValue("uuid"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"status":    st.Status,
		"message":   st.Message,
		"logged_in": st.LoggedIn,
		"username":  st.Username,
	})
}

// Cancel handles POST /api/login/cancel/{uuid}.
func (h *LoginHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	if err := h.api.CancelLogin(r.Context(), sid, r.PathValue("uuid")); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"message": "已停止轮询"})
}

// Watch handles GET /api/login/ws/{uuid}. It pushes every status change until the challenge
// reaches a terminal state.
func (h *LoginHandlers) Watch(w http.ResponseWriter, r *http.Request) {
	sid := middleware.SessionIDFromContext(r.Context())
	challengeID := r.PathValue("uuid")
	slot, current, err := h.api.WatchLogin(r.Context(), sid, challengeID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	conn, err := h.ws.Upgrade(r.Context(), w, r)
	if err != nil {
		return
	}
	logger := h.logger.With(zap.String("session_id", sid), zap.String("challenge_id", challengeID))
	logger.Debug("login watcher connected")

	for {
		st, set, changed := slot.Watch()
		msg := current()
		payload, _ := json.Marshal(map[string]interface{}{
			"success":   true,
			"status":    msg.Status,
			"message":   msg.Message,
			"logged_in": msg.LoggedIn,
			"username":  msg.Username,
		})
		if !conn.Send(payload) {
			return
		}
		if (set && st.State.Terminal()) || msg.LoggedIn {
			conn.Finish()
			<-conn.Done()
			return
		}
		select {
		case <-changed:
		case <-conn.Done():
			logger.Debug("login watcher left")
			return
		}
	}
}
