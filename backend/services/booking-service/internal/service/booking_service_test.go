package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"railbook/backend/services/booking-service/internal/booking"
	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/railerr"
	redisstore "railbook/backend/services/booking-service/internal/redis"
	"railbook/backend/services/booking-service/internal/session"
	"railbook/backend/services/booking-service/internal/stations"
	"railbook/backend/services/booking-service/internal/upstream"
	"railbook/backend/services/booking-service/internal/upstream/upstreamtest"
)

type fakeTransport struct {
	*upstreamtest.Fake
}

func (fakeTransport) ExportCookies() ([]byte, error) { return []byte(`[]`), nil }
func (fakeTransport) ImportCookies([]byte) error     { return nil }

type harness struct {
	svc   *BookingService
	fake  *upstreamtest.Fake
	store *redisstore.SessionStore
	mr    *miniredis.Miniredis
	sched *poller.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.NewSessionStore(client, redisstore.DefaultTTL, nil, nil)

	fake := upstreamtest.New()
	registry := session.NewRegistry(store, func() (session.Transport, error) {
		return fakeTransport{Fake: fake}, nil
	}, time.Hour, nil)

	table := stations.NewTable(map[string]string{"北京南": "VNP", "上海虹桥": "AOH"})
	engine := inventory.NewEngine(table, nil)
	sched := poller.NewScheduler(5*time.Millisecond, time.Second, nil)
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	svc := NewBookingService(Deps{
		Registry:     registry,
		Scheduler:    sched,
		Stations:     table,
		Engine:       engine,
		Orchestrator: booking.New(engine, booking.Options{RetryDelay: time.Millisecond}),
	})
	return &harness{svc: svc, fake: fake, store: store, mr: mr, sched: sched}
}

func (h *harness) login(t *testing.T, sid string) {
	t.Helper()
	if err := h.store.Save(context.Background(), sid, models.SessionState{Authenticated: true}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestLoginFlowPersistsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.JSON(upstream.PathCreateQR, `{"result_code":"0","uuid":"qr-1","image":"aW1n"}`)
	h.fake.Sequence(upstream.PathCheckQR, `{"result_code":"0"}`, `{"result_code":"1"}`, `{"result_code":"2"}`)
	h.fake.JSON(upstream.PathAuthUamtk, `{"result_code":0,"newapptk":"tk"}`)
	h.fake.JSON(upstream.PathUamAuthClient, `{"result_code":0,"username":"张三"}`)

	ch, err := h.svc.BeginLogin(ctx, "sid-1")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if ch.UUID != "qr-1" || ch.QRImage != "aW1n" {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if h.sched.Running("qr-1") {
		t.Fatalf("polling must wait for the first status request")
	}

	st, err := h.svc.LoginStatus(ctx, "sid-1", "qr-1")
	if err != nil {
		t.Fatalf("login status: %v", err)
	}
	if st.LoggedIn {
		t.Fatalf("not logged in yet")
	}

	waitFor(t, time.Second, func() bool {
		st, _ = h.svc.LoginStatus(ctx, "sid-1", "qr-1")
		return st.Status == "confirmed"
	})
	if st.Status != "confirmed" || !st.LoggedIn || st.Username != "张三" {
		t.Fatalf("unexpected status %+v", st)
	}
	if us, _ := h.svc.UserStatus(ctx, "sid-1"); !us.LoggedIn || us.Username != "张三" {
		t.Fatalf("unexpected user status %+v", us)
	}
	if !h.mr.Exists("session:sid-1") {
		t.Fatalf("authenticated session should be persisted")
	}

	if _, err := h.svc.LoginStatus(ctx, "sid-1", "other"); !errors.Is(err, railerr.ErrUnknownChallenge) {
		t.Fatalf("expected unknown challenge, got %v", err)
	}
}

func TestOperationsRequireLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Search(ctx, "anon", SearchInput{From: "北京南", To: "上海虹桥", Date: "2024-02-01"}); !errors.Is(err, railerr.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if _, err := h.svc.Passengers(ctx, "anon"); !errors.Is(err, railerr.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if _, err := h.svc.Search(ctx, "anon", SearchInput{From: "北京南"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if h.mr.Exists("session:anon") {
		t.Fatalf("anonymous sessions must not be stored")
	}
}

func TestSearchAndBookForHydratedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "sid-2")

	row := upstreamtest.Row(map[int]string{0: "sec", 2: "240000G1010C", 3: "G101", 6: "VNP", 7: "AOH", 8: "08:00", 9: "12:28", 10: "04:28", 11: "Y", 12: "lt", 15: "P2", 30: "有"})
	body, _ := json.Marshal(map[string]any{"data": map[string]any{"result": []string{row}}})
	h.fake.JSON(upstream.PathLeftTicketInit, ``)
	h.fake.JSON("otn/"+upstream.DefaultQueryPath, string(body))
	h.fake.JSON(upstream.PathPassengerDTOs, `{"status":true,"data":{"normal_passengers":[{"passenger_name":"张三","passenger_id_no":"110","mobile_no":"138"}]}}`)
	h.fake.JSON(upstream.PathSubmitOrder, `{"status":true}`)
	h.fake.JSON(upstream.PathInitDc, `<script>var globalRepeatSubmitToken = 't';var ticketInfoForPassengerForm={'leftTicketStr':'lt','key_check_isChange':'k','train_location':'P2'};</script>`)
	h.fake.JSON(upstream.PathQueueCount, `{"status":true,"data":{"ticket":"5","op_2":"false"}}`)
	h.fake.JSON(upstream.PathCheckOrderInfo, `{"status":true,"data":{"submitStatus":true}}`)
	h.fake.JSON(upstream.PathConfirmQueue, `{"status":true,"data":{"submitStatus":true}}`)

	offers, err := h.svc.Search(ctx, "sid-2", SearchInput{From: "北京南", To: "上海虹桥", Date: "2024-02-01"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 1 || offers[0].TrainCode != "G101" {
		t.Fatalf("unexpected offers %+v", offers)
	}
	stored, ok := h.store.Load(ctx, "sid-2")
	if !ok || stored.Inventory["G101"].Secret != "sec" {
		t.Fatalf("offer cache should be persisted, got %+v", stored)
	}

	out, err := h.svc.SubmitBooking(ctx, "sid-2", BookingInput{
		From: "北京南", To: "上海虹桥", Date: "2024-02-01", TrainCode: "G101", SeatType: "ze", PassengerIDs: []int{0, 7},
	})
	if err != nil {
		t.Fatalf("submit booking: %v", err)
	}
	if out.Attempts != 1 || out.Message != OrderQueuedMessage {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := h.fake.Last(upstream.PathConfirmQueue).Form.Get("oldPassengerStr"); got != "张三,1,110,1_" {
		t.Fatalf("unexpected passenger encoding %q", got)
	}

	if _, err := h.svc.SubmitBooking(ctx, "sid-2", BookingInput{
		From: "北京南", To: "上海虹桥", Date: "2024-02-01", TrainCode: "G101", PassengerIDs: []int{9},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid passenger selection, got %v", err)
	}

	submits := h.fake.Calls(upstream.PathSubmitOrder)
	if _, err := h.svc.SubmitBooking(ctx, "sid-2", BookingInput{
		From: "北京南", To: "上海虹桥", Date: "2024-02-01", TrainCode: "G101", SeatType: "wz", PassengerIDs: []int{0},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unsupported seat type, got %v", err)
	}
	if h.fake.Calls(upstream.PathSubmitOrder) != submits {
		t.Fatalf("an unsupported seat type must not reach the order endpoints")
	}
}

func TestBatchSearchAndLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "sid-3")
	h.fake.JSON(upstream.PathLeftTicketInit, ``)
	h.fake.Fail("otn/" + upstream.DefaultQueryPath)

	res, err := h.svc.BatchSearch(ctx, "sid-3", BatchSearchInput{From: "北京南", To: "上海虹桥", Dates: []string{"2024-02-01", "2024-02-02"}})
	if err != nil {
		t.Fatalf("batch search: %v", err)
	}
	if len(res) != 2 || len(res["2024-02-01"]) != 0 {
		t.Fatalf("failed dates should map to empty lists, got %v", res)
	}

	if err := h.svc.Logout(ctx, "sid-3"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.mr.Exists("session:sid-3") {
		t.Fatalf("logout should remove the stored session")
	}
	us, _ := h.svc.UserStatus(ctx, "sid-3")
	if us.LoggedIn {
		t.Fatalf("expected logged out")
	}
}

func TestSuggestStations(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.SuggestStations(" ", 5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	got, err := h.svc.SuggestStations("北京", 5)
	if err != nil || len(got) != 1 || got[0].Code != "VNP" {
		t.Fatalf("unexpected suggestions %v %v", got, err)
	}
}

func TestLogoutDuringPendingScanStaysLoggedOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.JSON(upstream.PathCreateQR, `{"result_code":"0","uuid":"qr-1","image":"aW1n"}`)
	h.fake.JSON(upstream.PathAuthUamtk, `{"result_code":0,"newapptk":"tk"}`)
	h.fake.JSON(upstream.PathUamAuthClient, `{"result_code":0,"username":"张三"}`)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.fake.Handle(upstream.PathCheckQR, func(*upstream.Request) (*upstream.Response, error) {
		once.Do(func() { close(entered) })
		<-release
		return upstreamtest.OK(`{"result_code":"2"}`), nil
	})

	if _, err := h.svc.BeginLogin(ctx, "sid-1"); err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if _, err := h.svc.LoginStatus(ctx, "sid-1", "qr-1"); err != nil {
		t.Fatalf("login status: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("poll loop never reached checkqr")
	}

	if err := h.svc.Logout(ctx, "sid-1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)
	if err := h.sched.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if h.mr.Exists("session:sid-1") {
		t.Fatalf("logged out session must not be persisted again")
	}
	if us, _ := h.svc.UserStatus(ctx, "sid-1"); us.LoggedIn {
		t.Fatalf("logged out session came back authenticated: %+v", us)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
