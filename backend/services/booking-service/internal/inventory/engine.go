// Package inventory searches upstream left-ticket inventory and turns result rows into offers.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/scrape"
	"railbook/backend/services/booking-service/internal/upstream"
)

// Sort keys accepted by SmartSearch.
const (
	SortNone     = ""
	SortTime     = "time"
	SortDuration = "duration"
)

// StationLookup resolves station names to telecodes.
type StationLookup interface {
	CodeFor(name string) (string, bool)
}

// Scope is the per-session context a search runs in: the session's transport and its offer cache.
type Scope interface {
	upstream.Doer
	RememberOffers(offers []models.Offer)
}

// Engine runs searches against upstream. It holds no per-session state.
type Engine struct {
	stations StationLookup
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(stations StationLookup, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		stations: stations,
		logger:   logger,
		now:      func() time.Time { return time.Now().In(ChinaZone) },
	}
}

// SetClock overrides the time source used for relative dates.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Search returns the currently bookable offers for a route on date (YYYY-MM-DD). Every parsed row,
// bookable or not, is handed to the scope's offer cache.
func (e *Engine) Search(ctx context.Context, scope Scope, origin, destination, date string) ([]models.Offer, error) {
	fromCode, ok := e.stations.CodeFor(origin)
	if !ok {
		return nil, fmt.Errorf("%w: %q", railerr.ErrUnknownStation, origin)
	}
	toCode, ok := e.stations.CodeFor(destination)
	if !ok {
		return nil, fmt.Errorf("%w: %q", railerr.ErrUnknownStation, destination)
	}

	queryPath := e.discoverQueryPath(ctx, scope)

	// upstream rejects reordered parameters, so the query string is built by hand.
	raw := "leftTicketDTO.train_date=" + url.QueryEscape(date) +
		"&leftTicketDTO.from_station=" + url.QueryEscape(fromCode) +
		"&leftTicketDTO.to_station=" + url.QueryEscape(toCode) +
		"&purpose_codes=ADULT"
	req := upstream.Get("otn/"+queryPath+"?"+raw, nil)
	req.Headers = map[string]string{"Referer": "https://kyfw.12306.cn/otn/leftTicket/init"}

	resp, err := scope.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data *struct {
			Result []string `json:"result"`
		} `json:"data"`
	}
	if err := resp.DecodeJSON(&envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil || envelope.Data.Result == nil {
		return nil, railerr.Format("left-ticket response has no data.result")
	}

	parsed := make([]models.Offer, 0, len(envelope.Data.Result))
	for _, row := range envelope.Data.Result {
		offer, ok := ParseRow(row)
		if !ok {
			continue
		}
		parsed = append(parsed, offer)
	}
	scope.RememberOffers(parsed)

	bookable := make([]models.Offer, 0, len(parsed))
	for _, o := range parsed {
		if o.Bookable {
			bookable = append(bookable, o)
		}
	}

	e.logger.Debug("left-ticket search",
		zap.String("from", fromCode),
		zap.String("to", toCode),
		zap.String("date", date),
		zap.Int("rows", len(envelope.Data.Result)),
		zap.Int("bookable", len(bookable)),
	)
	return bookable, nil
}

// discoverQueryPath reads the current query endpoint from the init page. The path rotates, so it is
// fetched on every search.
func (e *Engine) discoverQueryPath(ctx context.Context, doer upstream.Doer) string {
	resp, err := doer.Do(ctx, upstream.Get(upstream.PathLeftTicketInit, nil))
	if err != nil {
		e.logger.Debug("left-ticket init unavailable, using default query path", zap.Error(err))
		return upstream.DefaultQueryPath
	}
	if path, ok := scrape.Var(scrape.ScriptText(resp.Body), "CLeftTicketUrl"); ok && path != "" {
		return strings.TrimPrefix(path, "/")
	}
	return upstream.DefaultQueryPath
}

// SmartQuery is the input of SmartSearch.
type SmartQuery struct {
	Origin      string
	Destination string
	// Date accepts anything ResolveDate does.
	Date string
	// Types is a comma list of leading train-number characters, e.g. "G,D". Empty means all.
	Types string
	// SortBy is SortNone, SortTime or SortDuration.
	SortBy string
}

// SmartResult is a search with its resolved date.
type SmartResult struct {
	Date   string         `json:"date"`
	Offers []models.Offer `json:"offers"`
}

// SmartSearch resolves relative dates, filters by train type and sorts.
func (e *Engine) SmartSearch(ctx context.Context, scope Scope, q SmartQuery) (SmartResult, error) {
	date := ResolveDate(q.Date, e.now())
	offers, err := e.Search(ctx, scope, q.Origin, q.Destination, date)
	if err != nil {
		return SmartResult{Date: date}, err
	}
	offers = FilterTypes(offers, ParseTypes(q.Types))
	SortOffers(offers, q.SortBy)
	return SmartResult{Date: date, Offers: offers}, nil
}

// BatchSearch runs SmartSearch once per date. Results are keyed by the date expression as given; a
// failed date maps to an empty list and never aborts the batch.
func (e *Engine) BatchSearch(ctx context.Context, scope Scope, origin, destination string, dates []string, types, sortBy string) map[string][]models.Offer {
	out := make(map[string][]models.Offer, len(dates))
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			out[d] = []models.Offer{}
			continue
		}
		res, err := e.SmartSearch(ctx, scope, SmartQuery{
			Origin:      origin,
			Destination: destination,
			Date:        d,
			Types:       types,
			SortBy:      sortBy,
		})
		if err != nil {
			level := e.logger.Warn
			if errors.Is(err, railerr.ErrUnknownStation) {
				level = e.logger.Info
			}
			level("batch search date failed", zap.String("date", d), zap.Error(err))
			out[d] = []models.Offer{}
			continue
		}
		out[d] = res.Offers
	}
	return out
}

// ParseTypes splits a comma list (ASCII or full-width commas) into upper-case type letters.
func ParseTypes(list string) map[string]bool {
	list = strings.ReplaceAll(list, "，", ",")
	types := make(map[string]bool)
	for _, t := range strings.Split(list, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			types[t[:1]] = true
		}
	}
	return types
}

// FilterTypes keeps offers whose train number starts with one of types. An empty set keeps all.
func FilterTypes(offers []models.Offer, types map[string]bool) []models.Offer {
	if len(types) == 0 {
		return offers
	}
	kept := offers[:0:0]
	for _, o := range offers {
		if types[strings.ToUpper(o.TrainType())] {
			kept = append(kept, o)
		}
	}
	return kept
}

// SortOffers orders offers in place by departure time or duration. Unknown keys leave upstream order.
func SortOffers(offers []models.Offer, key string) {
	switch key {
	case SortTime:
		sort.SliceStable(offers, func(i, j int) bool {
			return clockMinutes(offers[i].StartTime) < clockMinutes(offers[j].StartTime)
		})
	case SortDuration:
		sort.SliceStable(offers, func(i, j int) bool {
			return clockMinutes(offers[i].Duration) < clockMinutes(offers[j].Duration)
		})
	}
}

// clockMinutes converts "HH:MM" to minutes. Malformed values sort last.
func clockMinutes(hhmm string) int {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return 1 << 30
	}
	hours, minutes := 0, 0
	if _, err := fmt.Sscanf(h+" "+m, "%d %d", &hours, &minutes); err != nil {
		return 1 << 30
	}
	return hours*60 + minutes
}
