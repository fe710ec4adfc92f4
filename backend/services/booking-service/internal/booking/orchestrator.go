// Package booking drives the upstream order chain for one train with bounded retries.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/upstream"
)

const (
	// DefaultMaxAttempts bounds the refresh-submit-confirm loop.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = time.Second
)

// Step is the position of an attempt in the order chain.
type Step string

const (
	StepQuerying       Step = "querying"
	StepSubmitted      Step = "submitted"
	StepInitialized    Step = "initialized"
	StepQueueConfirmed Step = "queue_confirmed"
	StepFailed         Step = "failed"
)

// Searcher refreshes offers before each attempt.
type Searcher interface {
	Search(ctx context.Context, scope inventory.Scope, origin, destination, date string) ([]models.Offer, error)
}

// Scope is the session a booking runs for.
type Scope interface {
	inventory.Scope
	Authenticated() bool
}

// Recorder journals booking outcomes.
type Recorder interface {
	RecordBooking(ctx context.Context, rec models.BookingRecord) error
}

// Request is one booking request.
type Request struct {
	SessionID   string
	Origin      string
	Destination string
	// Date is YYYY-MM-DD.
	Date       string
	TrainCode  string
	SeatType   string
	Passengers []models.Passenger
}

// Attempt is the state of one pass through the order chain. It is not persisted.
type Attempt struct {
	Number    int
	TrainCode string
	SeatCode  string
	Step      Step
	LastErr   error
}

// Result reports a queued order.
type Result struct {
	Attempts int
	Step     Step
}

// Options configure an Orchestrator.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Recorder    Recorder
	Logger      *zap.Logger
}

// Orchestrator runs booking attempts. It holds no per-session state.
type Orchestrator struct {
	search      Searcher
	maxAttempts int
	retryDelay  time.Duration
	recorder    Recorder
	logger      *zap.Logger
}

// New constructs an Orchestrator.
func New(search Searcher, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		search:      search,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
	}
}

// Book runs up to MaxAttempts attempts. Every attempt starts from a fresh search; nothing obtained
// by an earlier attempt is reused. Exhaustion returns *railerr.AttemptsExhaustedError.
func (o *Orchestrator) Book(ctx context.Context, scope Scope, req Request) (Result, error) {
	if !scope.Authenticated() {
		return Result{}, railerr.ErrAuthRequired
	}
	if len(req.Passengers) == 0 {
		return Result{}, errors.New("booking: no passengers selected")
	}
	if strings.TrimSpace(req.TrainCode) == "" {
		return Result{}, errors.New("booking: train code is required")
	}
	seatCode, err := SeatCode(req.SeatType)
	if err != nil {
		return Result{}, err
	}

	logger := o.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("train", req.TrainCode),
		zap.String("date", req.Date),
	)

	var lastErr error
	for n := 1; n <= o.maxAttempts; n++ {
		if n > 1 {
			if err := sleep(ctx, o.retryDelay); err != nil {
				o.record(ctx, req, n-1, models.BookingOutcomeRejected, err)
				return Result{Attempts: n - 1, Step: StepFailed}, err
			}
		}

		att := &Attempt{Number: n, TrainCode: req.TrainCode, SeatCode: seatCode, Step: StepQuerying}
		err := o.attempt(ctx, scope, req, att)
		if err == nil {
			logger.Info("order queued", zap.Int("attempt", n))
			o.record(ctx, req, n, models.BookingOutcomeQueued, nil)
			return Result{Attempts: n, Step: att.Step}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.record(ctx, req, n, models.BookingOutcomeRejected, ctxErr)
			return Result{Attempts: n, Step: StepFailed}, ctxErr
		}

		att.LastErr = err
		lastErr = err
		logger.Warn("booking attempt failed",
			zap.Int("attempt", n),
			zap.String("step", string(att.Step)),
			zap.Error(err),
		)
	}

	exhausted := &railerr.AttemptsExhaustedError{Attempts: o.maxAttempts, Last: lastErr}
	o.record(ctx, req, o.maxAttempts, models.BookingOutcomeExhausted, exhausted)
	return Result{Attempts: o.maxAttempts, Step: StepFailed}, exhausted
}

func (o *Orchestrator) attempt(ctx context.Context, scope Scope, req Request, att *Attempt) error {
	offer, err := o.refresh(ctx, scope, req)
	if err != nil {
		return err
	}

	if err := submitOrder(ctx, scope, req, offer); err != nil {
		return err
	}
	att.Step = StepSubmitted

	params, err := initialize(ctx, scope)
	if err != nil {
		return err
	}
	att.Step = StepInitialized

	if err := queueCount(ctx, scope, req, offer, params, att.SeatCode); err != nil {
		return err
	}

	ticketStr := PassengerTicketStr(att.SeatCode, req.Passengers)
	oldStr := OldPassengerStr(req.Passengers)
	if err := checkOrderInfo(ctx, scope, params, ticketStr, oldStr); err != nil {
		return err
	}
	if err := confirmQueue(ctx, scope, params, ticketStr, oldStr); err != nil {
		return err
	}
	att.Step = StepQueueConfirmed
	return nil
}

func (o *Orchestrator) refresh(ctx context.Context, scope Scope, req Request) (models.Offer, error) {
	offers, err := o.search.Search(ctx, scope, req.Origin, req.Destination, req.Date)
	if err != nil {
		return models.Offer{}, fmt.Errorf("refresh offers: %w", err)
	}
	for _, offer := range offers {
		if strings.EqualFold(offer.TrainCode, req.TrainCode) {
			return offer, nil
		}
	}
	return models.Offer{}, railerr.Transient("train %s is not bookable on %s", req.TrainCode, req.Date)
}

type envelope struct {
	Status   bool            `json:"status"`
	Messages []string        `json:"messages"`
	Data     json.RawMessage `json:"data"`
}

func (e envelope) message() string {
	if len(e.Messages) == 0 {
		return "no message"
	}
	return strings.Join(e.Messages, "; ")
}

func (e envelope) hasData() bool {
	d := strings.TrimSpace(string(e.Data))
	return d != "" && d != "null"
}

func post(ctx context.Context, doer upstream.Doer, path string, form url.Values) (envelope, error) {
	resp, err := doer.Do(ctx, upstream.PostForm(path, form))
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := resp.DecodeJSON(&env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func submitOrder(ctx context.Context, doer upstream.Doer, req Request, offer models.Offer) error {
	secret, err := url.QueryUnescape(offer.Secret)
	if err != nil {
		secret = offer.Secret
	}
	env, err := post(ctx, doer, upstream.PathSubmitOrder, url.Values{
		"secretStr":               {secret},
		"train_date":              {req.Date},
		"back_train_date":         {req.Date},
		"tour_flag":               {"dc"},
		"purpose_codes":           {"ADULT"},
		"query_from_station_name": {req.Origin},
		"query_to_station_name":   {req.Destination},
		"undefined":               {""},
	})
	if err != nil {
		return err
	}
	if !env.Status {
		return railerr.Transient("submit order rejected: %s", env.message())
	}
	return nil
}

func initialize(ctx context.Context, doer upstream.Doer) (InitParams, error) {
	resp, err := doer.Do(ctx, upstream.PostForm(upstream.PathInitDc, url.Values{"_json_att": {""}}))
	if err != nil {
		return InitParams{}, err
	}
	return ExtractInitParams(resp.Body)
}

func queueCount(ctx context.Context, doer upstream.Doer, req Request, offer models.Offer, p InitParams, seatCode string) error {
	env, err := post(ctx, doer, upstream.PathQueueCount, url.Values{
		"train_date":          {jsDate(req.Date)},
		"train_no":            {offer.TrainNo},
		"stationTrainCode":    {offer.TrainCode},
		"seatType":            {seatCode},
		"fromStationTelecode": {offer.FromCode},
		"toStationTelecode":   {offer.ToCode},
		"leftTicket":          {p.LeftTicketStr},
		"purpose_codes":       {p.PurposeCodes},
		"train_location":      {p.TrainLocation},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {p.Token},
	})
	if err != nil {
		return err
	}
	if !env.Status || !env.hasData() {
		return railerr.Transient("queue count rejected: %s", env.message())
	}

	var data struct {
		Ticket string `json:"ticket"`
		Count  string `json:"count"`
		Op2    string `json:"op_2"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return railerr.Format("queue count data: %v", err)
	}
	if data.Op2 == "true" {
		return railerr.Transient("queue is longer than remaining tickets")
	}
	if data.Ticket != "" && !anyPositive(data.Ticket) {
		return railerr.Transient("no tickets left for seat %s", seatCode)
	}
	return nil
}

// anyPositive reports whether a comma list of counts ("12,0") holds a non-zero count.
func anyPositive(list string) bool {
	for _, part := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n > 0 {
			return true
		}
	}
	return false
}

type submitStatus struct {
	SubmitStatus bool   `json:"submitStatus"`
	ErrMsg       string `json:"errMsg"`
}

func (e envelope) submitted(step string) error {
	if !e.Status || !e.hasData() {
		return railerr.Transient("%s rejected: %s", step, e.message())
	}
	var s submitStatus
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return railerr.Format("%s data: %v", step, err)
	}
	if !s.SubmitStatus {
		reason := s.ErrMsg
		if reason == "" {
			reason = e.message()
		}
		return railerr.Transient("%s rejected: %s", step, reason)
	}
	return nil
}

func checkOrderInfo(ctx context.Context, doer upstream.Doer, p InitParams, ticketStr, oldStr string) error {
	env, err := post(ctx, doer, upstream.PathCheckOrderInfo, url.Values{
		"cancel_flag":         {"2"},
		"bed_level_order_num": {"000000000000000000000000000000"},
		"passengerTicketStr":  {ticketStr},
		"oldPassengerStr":     {oldStr},
		"tour_flag":           {"dc"},
		"randCode":            {""},
		"whatsSelect":         {"1"},
		"sessionId":           {""},
		"sig":                 {""},
		"scene":               {"nc_login"},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {p.Token},
	})
	if err != nil {
		return err
	}
	return env.submitted("check order info")
}

func confirmQueue(ctx context.Context, doer upstream.Doer, p InitParams, ticketStr, oldStr string) error {
	leftTicket, err := url.QueryUnescape(p.LeftTicketStr)
	if err != nil {
		leftTicket = p.LeftTicketStr
	}
	env, err := post(ctx, doer, upstream.PathConfirmQueue, url.Values{
		"passengerTicketStr":  {ticketStr},
		"oldPassengerStr":     {oldStr},
		"randCode":            {""},
		"purpose_codes":       {p.PurposeCodes},
		"key_check_isChange":  {p.KeyCheckIsChange},
		"leftTicketStr":       {leftTicket},
		"train_location":      {p.TrainLocation},
		"choose_seats":        {""},
		"seatDetailType":      {"000"},
		"whatsSelect":         {"1"},
		"roomType":            {"00"},
		"dwAll":               {"N"},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {p.Token},
	})
	if err != nil {
		return err
	}
	return env.submitted("confirm queue")
}

// jsDate renders YYYY-MM-DD the way a browser's Date.toString does, which getQueueCount expects.
func jsDate(date string) string {
	t, err := time.ParseInLocation("2006-01-02", date, inventory.ChinaZone)
	if err != nil {
		return date
	}
	return t.Format("Mon Jan 02 2006 15:04:05") + " GMT+0800 (中国标准时间)"
}

func (o *Orchestrator) record(ctx context.Context, req Request, attempts int, outcome string, cause error) {
	if o.recorder == nil {
		return
	}
	seatCode, _ := SeatCode(req.SeatType) // validated by Book
	rec := models.BookingRecord{
		SessionID:      req.SessionID,
		TrainCode:      req.TrainCode,
		TrainDate:      req.Date,
		FromStation:    req.Origin,
		ToStation:      req.Destination,
		SeatType:       seatCode,
		PassengerCount: len(req.Passengers),
		Attempts:       attempts,
		Outcome:        outcome,
		CreatedAt:      time.Now().UTC(),
	}
	if cause != nil {
		rec.Reason = cause.Error()
	}
	// the journal write must not depend on the request context, which may already be done.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := o.recorder.RecordBooking(writeCtx, rec); err != nil {
		o.logger.Warn("journal booking outcome", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
