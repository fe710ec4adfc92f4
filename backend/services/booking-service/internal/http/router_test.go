package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/http/cookiejar"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/auth"
	"railbook/backend/services/booking-service/internal/http/handlers"
	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/service"
	"railbook/backend/services/booking-service/internal/stations"
	"railbook/backend/services/booking-service/internal/ws"
)

type fakeAPI struct {
	mu   sync.Mutex
	sids []string
	slot *poller.Slot
}

func (f *fakeAPI) seen(sid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sids = append(f.sids, sid)
}

func (f *fakeAPI) sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sids...)
}

func (f *fakeAPI) BeginLogin(_ context.Context, sid string) (service.LoginChallenge, error) {
	f.seen(sid)
	return service.LoginChallenge{UUID: "qr-1", QRImage: "aW1n"}, nil
}

func (f *fakeAPI) LoginStatus(context.Context, string, string) (service.LoginStatus, error) {
	return service.LoginStatus{Status: "waiting"}, nil
}

func (f *fakeAPI) WatchLogin(_ context.Context, _ string, id string) (*poller.Slot, func() service.LoginStatus, error) {
	if id != "qr-1" {
		return nil, nil, railerr.ErrUnknownChallenge
	}
	return f.slot, func() service.LoginStatus {
		st, set := f.slot.Load()
		if !set {
			return service.LoginStatus{Status: "checking"}
		}
		return service.LoginStatus{
			Status:   string(st.State),
			Message:  st.Message,
			LoggedIn: st.State == auth.StateConfirmed,
			Username: st.Username,
		}
	}, nil
}

func (f *fakeAPI) CancelLogin(context.Context, string, string) error { return nil }

func (f *fakeAPI) UserStatus(_ context.Context, sid string) (service.UserStatus, error) {
	f.seen(sid)
	return service.UserStatus{}, nil
}

func (f *fakeAPI) Logout(context.Context, string) error { return nil }

func (f *fakeAPI) Search(context.Context, string, service.SearchInput) ([]models.Offer, error) {
	return nil, railerr.ErrAuthRequired
}

func (f *fakeAPI) SmartSearch(context.Context, string, service.SmartSearchInput) (inventory.SmartResult, error) {
	return inventory.SmartResult{}, railerr.ErrAuthRequired
}

func (f *fakeAPI) BatchSearch(context.Context, string, service.BatchSearchInput) (map[string][]models.Offer, error) {
	return nil, railerr.ErrAuthRequired
}

func (f *fakeAPI) Passengers(context.Context, string) ([]models.Passenger, error) {
	return nil, railerr.ErrAuthRequired
}

func (f *fakeAPI) SubmitBooking(context.Context, string, service.BookingInput) (service.BookingOutcome, error) {
	return service.BookingOutcome{}, railerr.ErrAuthRequired
}

func (f *fakeAPI) BookingHistory(context.Context, string, int) ([]models.BookingRecord, error) {
	return []models.BookingRecord{}, nil
}

func (f *fakeAPI) Stations() []string { return []string{"北京南"} }

func (f *fakeAPI) StationList() []stations.Station { return nil }

func (f *fakeAPI) SuggestStations(string, int) ([]stations.Station, error) { return nil, nil }

func newTestServer(t *testing.T, api *fakeAPI) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	wsServer := ws.NewServer(ws.NewManager(), time.Second, nil, logger)
	router := NewRouter(RouterDeps{
		LoginHandlers:      handlers.NewLoginHandlers(api, wsServer, logger),
		UserHandlers:       handlers.NewUserHandlers(api, logger),
		StationsHandlers:   handlers.NewStationsHandlers(api, logger),
		TicketsHandlers:    handlers.NewTicketsHandlers(api, logger),
		PassengersHandlers: handlers.NewPassengersHandlers(api, logger),
		BookingHandlers:    handlers.NewBookingHandlers(api, logger),
		HealthHandler:      handlers.NewHealthHandler(nil, wsServer.Open),
	}, middleware.Sessions(middleware.SessionOptions{Secret: "test-secret", TTL: time.Hour}, logger))

	srv := httptest.NewServer(middleware.Chain(router,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionCookieIsStableAcrossRequests(t *testing.T) {
	api := &fakeAPI{slot: poller.NewSlot()}
	srv := newTestServer(t, api)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL + "/api/user/status")
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
	}

	sids := api.sessions()
	if len(sids) != 2 || sids[0] == "" || sids[0] != sids[1] {
		t.Fatalf("session ids = %v", sids)
	}

	other := &http.Client{}
	resp, err := other.Get(srv.URL + "/api/user/status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if sids := api.sessions(); sids[2] == sids[0] {
		t.Fatal("cookie-less request reused a session")
	}
}

func TestTamperedCookieStartsNewSession(t *testing.T) {
	api := &fakeAPI{slot: poller.NewSlot()}
	srv := newTestServer(t, api)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/user/status", nil)
	req.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: "not-a-token"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || len(resp.Cookies()) == 0 {
		t.Fatalf("status = %d cookies = %v", resp.StatusCode, resp.Cookies())
	}
	if sids := api.sessions(); len(sids) != 1 || sids[0] == "" {
		t.Fatalf("session ids = %v", sids)
	}
}

func TestMethodGuard(t *testing.T) {
	srv := newTestServer(t, &fakeAPI{slot: poller.NewSlot()})

	resp, err := http.Get(srv.URL + "/api/booking/submit")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("status = %d allow = %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestProtectedRouteEnvelope(t *testing.T) {
	srv := newTestServer(t, &fakeAPI{slot: poller.NewSlot()})

	resp, err := http.Post(srv.URL+"/api/tickets/query", "application/json",
		strings.NewReader(`{"from_station":"北京","to_station":"上海","date":"明天"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized || body["success"] != false || body["message"] != "请先登录" {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestLoginWebSocketPushesUntilConfirmed(t *testing.T) {
	api := &fakeAPI{slot: poller.NewSlot()}
	srv := newTestServer(t, api)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/login/ws/qr-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() map[string]interface{} {
		t.Helper()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return msg
	}

	if first := read(); first["status"] != "checking" {
		t.Fatalf("first message = %v", first)
	}

	api.slot.Publish(auth.Status{ChallengeID: "qr-1", State: auth.StateScanned, Message: "已扫码"})
	api.slot.Publish(auth.Status{ChallengeID: "qr-1", State: auth.StateConfirmed, Username: "张三"})

	for {
		msg := read()
		if msg["status"] == string(auth.StateConfirmed) {
			if msg["logged_in"] != true || msg["username"] != "张三" {
				t.Fatalf("final message = %v", msg)
			}
			break
		}
	}

	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestLoginWebSocketUnknownChallenge(t *testing.T) {
	srv := newTestServer(t, &fakeAPI{slot: poller.NewSlot()})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/login/ws/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v", resp)
	}
}
