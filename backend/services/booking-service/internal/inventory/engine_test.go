package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/stations"
	"railbook/backend/services/booking-service/internal/upstream"
	"railbook/backend/services/booking-service/internal/upstream/upstreamtest"
)

type recordingScope struct {
	*upstreamtest.Fake
	mu         sync.Mutex
	remembered []models.Offer
}

func (s *recordingScope) RememberOffers(offers []models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remembered = append([]models.Offer(nil), offers...)
}

func newScope() *recordingScope {
	return &recordingScope{Fake: upstreamtest.New()}
}

func testTable() *stations.Table {
	return stations.NewTable(map[string]string{"北京南": "VNP", "上海虹桥": "AOH", "天津": "TJP"})
}

func offerRow(secret, trainNo, code, start, duration, canBuy string) string {
	return upstreamtest.Row(map[int]string{
		0:  secret,
		2:  trainNo,
		3:  code,
		6:  "VNP",
		7:  "AOH",
		8:  start,
		9:  "18:00",
		10: duration,
		11: canBuy,
		12: "left%2Bticket",
		13: "20240201",
		15: "P2",
		30: "有",
		31: "12",
		32: "",
	})
}

func resultBody(rows ...string) string {
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"result": rows}})
	return string(payload)
}

func dateOf(req *upstream.Request) string {
	_, raw, _ := strings.Cut(req.Path, "?")
	q, _ := url.ParseQuery(raw)
	return q.Get("leftTicketDTO.train_date")
}

func fixedEngine() *Engine {
	e := NewEngine(testTable(), nil)
	e.SetClock(func() time.Time { return time.Date(2024, 1, 15, 9, 30, 0, 0, ChinaZone) })
	return e
}

func TestSearchDiscoversQueryPathAndParsesRows(t *testing.T) {
	scope := newScope()
	scope.JSON(upstream.PathLeftTicketInit, `<html><script>var CLeftTicketUrl = 'leftTicket/queryZ';</script></html>`)
	scope.JSON("otn/leftTicket/queryZ", resultBody(
		offerRow("sec1", "240000G1010C", "G101", "08:00", "04:28", "Y"),
		offerRow("sec2", "240000D3030C", "D303", "07:10", "05:50", "N"),
		offerRow("", "240000G1050C", "G105", "09:00", "04:40", "Y"),
		"too|short",
	))

	offers, err := fixedEngine().Search(context.Background(), scope, "北京南", "上海虹桥", "2024-02-01")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 1 || offers[0].TrainCode != "G101" {
		t.Fatalf("expected only bookable G101, got %+v", offers)
	}
	o := offers[0]
	if o.Secret != "sec1" || o.TrainNo != "240000G1010C" || o.LeftTicket != "left%2Bticket" || o.Location != "P2" {
		t.Fatalf("unexpected offer fields %+v", o)
	}
	if o.Seat(models.SeatSecond) != "有" || o.Seat(models.SeatFirst) != "12" || o.Seat(models.SeatBusiness) != models.NoSeats {
		t.Fatalf("unexpected seats %+v", o.Seats)
	}

	if len(scope.remembered) != 2 {
		t.Fatalf("expected both parsed rows cached, got %d", len(scope.remembered))
	}
	last := scope.Last("otn/leftTicket/queryZ")
	if !strings.HasPrefix(strings.SplitN(last.Path, "?", 2)[1], "leftTicketDTO.train_date=2024-02-01&leftTicketDTO.from_station=VNP&leftTicketDTO.to_station=AOH") {
		t.Fatalf("unexpected query %q", last.Path)
	}
}

func TestSearchFallsBackToDefaultQueryPath(t *testing.T) {
	scope := newScope()
	scope.JSON(upstream.PathLeftTicketInit, `<html><script>var other = 'x';</script></html>`)
	scope.JSON("otn/"+upstream.DefaultQueryPath, resultBody())

	offers, err := fixedEngine().Search(context.Background(), scope, "北京南", "上海虹桥", "2024-02-01")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("expected no offers, got %d", len(offers))
	}
	if scope.Calls("otn/"+upstream.DefaultQueryPath) != 1 {
		t.Fatalf("default query path not used")
	}
}

func TestSearchErrors(t *testing.T) {
	e := fixedEngine()

	scope := newScope()
	if _, err := e.Search(context.Background(), scope, "火星", "上海虹桥", "2024-02-01"); !errors.Is(err, railerr.ErrUnknownStation) {
		t.Fatalf("expected unknown station, got %v", err)
	}
	if scope.Calls(upstream.PathLeftTicketInit) != 0 {
		t.Fatalf("no upstream call expected for unknown stations")
	}

	scope.Fail(upstream.PathLeftTicketInit)
	scope.JSON("otn/"+upstream.DefaultQueryPath, `{"status":false,"messages":["系统繁忙"]}`)
	if _, err := e.Search(context.Background(), scope, "北京南", "上海虹桥", "2024-02-01"); !errors.Is(err, railerr.ErrUpstreamFormat) {
		t.Fatalf("expected format error, got %v", err)
	}

	scope.JSON("otn/"+upstream.DefaultQueryPath, `<html>maintenance</html>`)
	if _, err := e.Search(context.Background(), scope, "北京南", "上海虹桥", "2024-02-01"); !errors.Is(err, railerr.ErrUpstreamFormat) {
		t.Fatalf("expected format error for html, got %v", err)
	}

	scope.Fail("otn/" + upstream.DefaultQueryPath)
	if _, err := e.Search(context.Background(), scope, "北京南", "上海虹桥", "2024-02-01"); !errors.Is(err, railerr.ErrTransientUpstream) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSmartSearchFiltersAndSorts(t *testing.T) {
	scope := newScope()
	scope.JSON(upstream.PathLeftTicketInit, ``)
	scope.JSON("otn/"+upstream.DefaultQueryPath, resultBody(
		offerRow("s1", "n1", "G105", "09:00", "04:40", "Y"),
		offerRow("s2", "n2", "D303", "07:10", "05:50", "Y"),
		offerRow("s3", "n3", "G101", "08:00", "04:28", "Y"),
		offerRow("s4", "n4", "K511", "06:00", "12:00", "Y"),
	))

	res, err := fixedEngine().SmartSearch(context.Background(), scope, SmartQuery{
		Origin: "北京南", Destination: "上海虹桥", Date: "明天", Types: "G", SortBy: SortTime,
	})
	if err != nil {
		t.Fatalf("smart search: %v", err)
	}
	if res.Date != "2024-01-16" {
		t.Fatalf("expected tomorrow, got %s", res.Date)
	}
	if len(res.Offers) != 2 || res.Offers[0].TrainCode != "G101" || res.Offers[1].TrainCode != "G105" {
		t.Fatalf("unexpected offers %+v", res.Offers)
	}
	for _, o := range res.Offers {
		if o.TrainType() != "G" {
			t.Fatalf("filter leaked %s", o.TrainCode)
		}
	}

	res, err = fixedEngine().SmartSearch(context.Background(), scope, SmartQuery{
		Origin: "北京南", Destination: "上海虹桥", Date: "20240205", Types: "g，d", SortBy: SortDuration,
	})
	if err != nil {
		t.Fatalf("smart search: %v", err)
	}
	if res.Date != "2024-02-05" || dateOf(scope.Last("otn/"+upstream.DefaultQueryPath)) != "2024-02-05" {
		t.Fatalf("unexpected date %s", res.Date)
	}
	got := []string{}
	for _, o := range res.Offers {
		got = append(got, o.TrainCode)
	}
	if strings.Join(got, ",") != "G101,G105,D303" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestBatchSearchIsolatesFailedDate(t *testing.T) {
	scope := newScope()
	scope.JSON(upstream.PathLeftTicketInit, ``)
	scope.Handle("otn/"+upstream.DefaultQueryPath, func(req *upstream.Request) (*upstream.Response, error) {
		// "BAD" resolves to the clock's date, which is made to fail.
		if dateOf(req) == "2024-01-15" {
			return nil, railerr.Transient("forced failure")
		}
		return upstreamtest.OK(resultBody(offerRow("s-"+dateOf(req), "n1", "G101", "08:00", "04:28", "Y"))), nil
	})

	out := fixedEngine().BatchSearch(context.Background(), scope, "北京南", "上海虹桥", []string{"2024-02-01", "BAD", "2024-02-03"}, "", "")
	if len(out) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(out))
	}
	if bad, ok := out["BAD"]; !ok || bad == nil || len(bad) != 0 {
		t.Fatalf("expected empty list for BAD, got %#v", bad)
	}
	for _, d := range []string{"2024-02-01", "2024-02-03"} {
		if len(out[d]) != 1 || out[d][0].Secret != "s-"+d {
			t.Fatalf("expected populated result for %s, got %+v", d, out[d])
		}
	}
}

func TestParseTypes(t *testing.T) {
	types := ParseTypes(" G, d ，K,,")
	if len(types) != 3 || !types["G"] || !types["D"] || !types["K"] {
		t.Fatalf("unexpected types %v", types)
	}
	if len(ParseTypes("")) != 0 {
		t.Fatalf("empty filter should be empty")
	}
}
