package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/service"
	"railbook/backend/services/booking-service/internal/stations"
)

// BookingAPI is the part of service.BookingService the handlers call.
type BookingAPI interface {
	BeginLogin(ctx context.Context, sid string) (service.LoginChallenge, error)
	LoginStatus(ctx context.Context, sid, challengeID string) (service.LoginStatus, error)
	WatchLogin(ctx context.Context, sid, challengeID string) (*poller.Slot, func() service.LoginStatus, error)
	CancelLogin(ctx context.Context, sid, challengeID string) error
	UserStatus(ctx context.Context, sid string) (service.UserStatus, error)
	Logout(ctx context.Context, sid string) error
	Search(ctx context.Context, sid string, in service.SearchInput) ([]models.Offer, error)
	SmartSearch(ctx context.Context, sid string, in service.SmartSearchInput) (inventory.SmartResult, error)
	BatchSearch(ctx context.Context, sid string, in service.BatchSearchInput) (map[string][]models.Offer, error)
	Passengers(ctx context.Context, sid string) ([]models.Passenger, error)
	SubmitBooking(ctx context.Context, sid string, in service.BookingInput) (service.BookingOutcome, error)
	BookingHistory(ctx context.Context, sid string, limit int) ([]models.BookingRecord, error)
	Stations() []string
	StationList() []stations.Station
	SuggestStations(query string, limit int) ([]stations.Station, error)
}

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess merges fields into a success envelope.
func writeSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

// writeFailure maps a core error to a status code and a user-facing message.
func writeFailure(w http.ResponseWriter, err error) {
	status, message := classify(err)
	writeError(w, status, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, railerr.ErrAuthRequired):
		return http.StatusUnauthorized, "请先登录"
	case errors.Is(err, railerr.ErrUnknownStation):
		return http.StatusBadRequest, "未知车站: " + err.Error()
	case errors.Is(err, railerr.ErrUnknownChallenge):
		return http.StatusNotFound, "无效的UUID"
	case errors.Is(err, railerr.ErrAttemptsExhausted):
		return http.StatusConflict, "下单失败: " + err.Error()
	case errors.Is(err, railerr.ErrChallengeExpired), errors.Is(err, railerr.ErrChallengeFailed):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, railerr.ErrUpstreamFormat):
		return http.StatusBadGateway, "12306 返回格式异常: " + err.Error()
	case errors.Is(err, railerr.ErrTransientUpstream), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "12306 暂时不可用: " + err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid body")
	}
	return nil
}
