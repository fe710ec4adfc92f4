package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/auth"
	"railbook/backend/services/booking-service/internal/booking"
	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/passenger"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/session"
	"railbook/backend/services/booking-service/internal/stations"
)

// OrderQueuedMessage is shown after a successful booking. The real outcome is only visible in the
// upstream app.
const OrderQueuedMessage = "下单成功，请立即打开12306 APP查看未完成订单并付款！"

// ErrInvalidInput reports a malformed front-door request.
var ErrInvalidInput = railerr.ErrInvalidInput

// History lists journaled bookings.
type History interface {
	RecentBookings(ctx context.Context, sessionID string, limit int) ([]models.BookingRecord, error)
}

// BookingService is the front door of the booking core. Every call names its session; the service
// acquires it from the registry and persists it afterwards when it is authenticated.
type BookingService struct {
	registry     *session.Registry
	scheduler    *poller.Scheduler
	stations     *stations.Table
	engine       *inventory.Engine
	orchestrator *booking.Orchestrator
	history      History
	logger       *zap.Logger
	now          func() time.Time
}

// Deps collects BookingService collaborators. History is optional.
type Deps struct {
	Registry     *session.Registry
	Scheduler    *poller.Scheduler
	Stations     *stations.Table
	Engine       *inventory.Engine
	Orchestrator *booking.Orchestrator
	History      History
	Logger       *zap.Logger
}

// NewBookingService builds service.
func NewBookingService(deps Deps) *BookingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		registry:     deps.Registry,
		scheduler:    deps.Scheduler,
		stations:     deps.Stations,
		engine:       deps.Engine,
		orchestrator: deps.Orchestrator,
		history:      deps.History,
		logger:       logger,
		now:          func() time.Time { return time.Now().In(inventory.ChinaZone) },
	}
}

// LoginChallenge is a freshly issued QR code.
type LoginChallenge struct {
	UUID    string `json:"uuid"`
	QRImage string `json:"qr_image"`
}

// LoginStatus is what the front door reports while a challenge is pending.
type LoginStatus struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

// UserStatus reports whether a session is logged in.
type UserStatus struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

// SearchInput is a plain search request.
type SearchInput struct {
	From string `json:"from_station"`
	To   string `json:"to_station"`
	Date string `json:"date"`
}

// SmartSearchInput is a smart search request.
type SmartSearchInput struct {
	From   string `json:"from_station"`
	To     string `json:"to_station"`
	Date   string `json:"date"`
	Types  string `json:"train_types"`
	SortBy string `json:"sort_by"`
}

// BatchSearchInput is a multi-date search request.
type BatchSearchInput struct {
	From   string   `json:"from_station"`
	To     string   `json:"to_station"`
	Dates  []string `json:"dates"`
	Types  string   `json:"train_types"`
	SortBy string   `json:"sort_by"`
}

// BookingInput is a booking request. Passengers are picked by their index in the passenger list.
type BookingInput struct {
	From         string `json:"from_station"`
	To           string `json:"to_station"`
	Date         string `json:"date"`
	TrainCode    string `json:"train_no"`
	SeatType     string `json:"seat_type"`
	PassengerIDs []int  `json:"passenger_ids"`
}

// BookingOutcome reports a queued order.
type BookingOutcome struct {
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
}

func (s *BookingService) acquire(ctx context.Context, sid string) (*session.Session, error) {
	sess, err := s.registry.Acquire(ctx, sid)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *BookingService) persist(ctx context.Context, sess *session.Session) {
	if err := s.registry.Persist(ctx, sess); err != nil {
		s.logger.Warn("session persist failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// withSession runs fn under the session's operation lock and persists the session afterwards.
func (s *BookingService) withSession(ctx context.Context, sid string, fn func(*session.Session) error) error {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	defer s.persist(ctx, sess)
	return fn(sess)
}

// BeginLogin issues a new QR challenge. Any previous challenge loop for the session is cancelled.
func (s *BookingService) BeginLogin(ctx context.Context, sid string) (LoginChallenge, error) {
	var out LoginChallenge
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if prev := sess.ChallengeID(); prev != "" {
			s.scheduler.Cancel(prev)
		}
		ch, err := sess.Authenticator().IssueChallenge(ctx)
		if err != nil {
			return err
		}
		sess.BeginChallenge(ch.ID)
		sess.SetAuthenticated(false)
		out = LoginChallenge{UUID: ch.ID, QRImage: ch.Image}
		return nil
	})
	return out, err
}

// LoginStatus starts the poll loop for the challenge if needed and returns the latest status.
func (s *BookingService) LoginStatus(ctx context.Context, sid, challengeID string) (LoginStatus, error) {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return LoginStatus{}, err
	}
	if err := s.watch(sess, challengeID); err != nil {
		return LoginStatus{}, err
	}
	return s.loginStatus(sess), nil
}

// WatchLogin starts the poll loop like LoginStatus and returns the session's status slot for
// push delivery.
func (s *BookingService) WatchLogin(ctx context.Context, sid, challengeID string) (*poller.Slot, func() LoginStatus, error) {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return nil, nil, err
	}
	if err := s.watch(sess, challengeID); err != nil {
		return nil, nil, err
	}
	return sess.Slot(), func() LoginStatus { return s.loginStatus(sess) }, nil
}

func (s *BookingService) watch(sess *session.Session, challengeID string) error {
	if challengeID == "" || challengeID != sess.ChallengeID() {
		return fmt.Errorf("%w: %s", railerr.ErrUnknownChallenge, challengeID)
	}
	if sess.Authenticated() {
		return nil
	}
	if st, set := sess.Slot().Load(); set && st.State.Terminal() {
		return nil
	}
	s.scheduler.Start(poller.Job{
		ChallengeID: challengeID,
		SessionID:   sess.ID,
		Poller:      sess.Authenticator(),
		Slot:        sess.Slot(),
		OnConfirmed: func(ctx context.Context, _ auth.Status) {
			sess.Lock()
			defer sess.Unlock()
			if sess.ChallengeID() != challengeID || !s.registry.Holds(sess) {
				s.logger.Info("ignoring confirmation for abandoned challenge",
					zap.String("session_id", sess.ID),
					zap.String("challenge_id", challengeID),
				)
				return
			}
			sess.SetAuthenticated(true)
			s.persist(ctx, sess)
			s.logger.Info("session logged in", zap.String("session_id", sess.ID))
		},
	})
	return nil
}

func (s *BookingService) loginStatus(sess *session.Session) LoginStatus {
	st, set := sess.Slot().Load()
	if !set {
		return LoginStatus{Status: "checking", Message: "正在检查登录状态...", LoggedIn: sess.Authenticated()}
	}
	return LoginStatus{
		Status:   string(st.State),
		Message:  st.Message,
		LoggedIn: sess.Authenticated(),
		Username: st.Username,
	}
}

// CancelLogin stops polling the challenge.
func (s *BookingService) CancelLogin(ctx context.Context, sid, challengeID string) error {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return err
	}
	if challengeID != sess.ChallengeID() {
		return fmt.Errorf("%w: %s", railerr.ErrUnknownChallenge, challengeID)
	}
	s.scheduler.Cancel(challengeID)
	return nil
}

// UserStatus reports the session's login flag.
func (s *BookingService) UserStatus(ctx context.Context, sid string) (UserStatus, error) {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return UserStatus{}, err
	}
	return UserStatus{LoggedIn: sess.Authenticated(), Username: sess.Authenticator().Username()}, nil
}

// Logout forgets the session locally and in the store. It holds the session lock so a login
// confirmation racing with it cannot bring the session back.
func (s *BookingService) Logout(ctx context.Context, sid string) error {
	sess, err := s.acquire(ctx, sid)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	if id := sess.ChallengeID(); id != "" {
		s.scheduler.Cancel(id)
	}
	sess.SetAuthenticated(false)
	return s.registry.Drop(ctx, sid)
}

func requireAuth(sess *session.Session) error {
	if !sess.Authenticated() {
		return railerr.ErrAuthRequired
	}
	return nil
}

func required(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: 缺少必要参数", ErrInvalidInput)
		}
	}
	return nil
}

// Search runs a plain search.
func (s *BookingService) Search(ctx context.Context, sid string, in SearchInput) ([]models.Offer, error) {
	if err := required(in.From, in.To, in.Date); err != nil {
		return nil, err
	}
	var out []models.Offer
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if err := requireAuth(sess); err != nil {
			return err
		}
		offers, err := s.engine.Search(ctx, sess, in.From, in.To, in.Date)
		out = offers
		return err
	})
	return out, err
}

// SmartSearch runs a smart search.
func (s *BookingService) SmartSearch(ctx context.Context, sid string, in SmartSearchInput) (inventory.SmartResult, error) {
	if err := required(in.From, in.To, in.Date); err != nil {
		return inventory.SmartResult{}, err
	}
	var out inventory.SmartResult
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if err := requireAuth(sess); err != nil {
			return err
		}
		res, err := s.engine.SmartSearch(ctx, sess, inventory.SmartQuery{
			Origin:      in.From,
			Destination: in.To,
			Date:        in.Date,
			Types:       in.Types,
			SortBy:      in.SortBy,
		})
		out = res
		return err
	})
	return out, err
}

// BatchSearch runs one smart search per date.
func (s *BookingService) BatchSearch(ctx context.Context, sid string, in BatchSearchInput) (map[string][]models.Offer, error) {
	if err := required(in.From, in.To); err != nil {
		return nil, err
	}
	if len(in.Dates) == 0 {
		return nil, fmt.Errorf("%w: 缺少必要参数", ErrInvalidInput)
	}
	var out map[string][]models.Offer
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if err := requireAuth(sess); err != nil {
			return err
		}
		out = s.engine.BatchSearch(ctx, sess, in.From, in.To, in.Dates, in.Types, in.SortBy)
		return nil
	})
	return out, err
}

// Passengers lists the account's passengers.
func (s *BookingService) Passengers(ctx context.Context, sid string) ([]models.Passenger, error) {
	var out []models.Passenger
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if err := requireAuth(sess); err != nil {
			return err
		}
		ps, err := passenger.List(ctx, sess)
		out = ps
		return err
	})
	return out, err
}

// SubmitBooking books a train for the selected passengers. The session lock is held for the whole
// retry loop so two bookings of one session never interleave.
func (s *BookingService) SubmitBooking(ctx context.Context, sid string, in BookingInput) (BookingOutcome, error) {
	if err := required(in.From, in.To, in.Date, in.TrainCode); err != nil {
		return BookingOutcome{}, err
	}
	if len(in.PassengerIDs) == 0 {
		return BookingOutcome{}, fmt.Errorf("%w: 缺少必要参数", ErrInvalidInput)
	}
	if _, err := booking.SeatCode(in.SeatType); err != nil {
		return BookingOutcome{}, err
	}

	var out BookingOutcome
	err := s.withSession(ctx, sid, func(sess *session.Session) error {
		if err := requireAuth(sess); err != nil {
			return err
		}
		all, err := passenger.List(ctx, sess)
		if err != nil {
			return err
		}
		var selected []models.Passenger
		for _, idx := range in.PassengerIDs {
			if idx >= 0 && idx < len(all) {
				selected = append(selected, all[idx])
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("%w: 未选择有效的乘客", ErrInvalidInput)
		}

		res, err := s.orchestrator.Book(ctx, sess, booking.Request{
			SessionID:   sess.ID,
			Origin:      in.From,
			Destination: in.To,
			Date:        inventory.ResolveDate(in.Date, s.now()),
			TrainCode:   in.TrainCode,
			SeatType:    in.SeatType,
			Passengers:  selected,
		})
		if err != nil {
			return err
		}
		out = BookingOutcome{Attempts: res.Attempts, Message: OrderQueuedMessage}
		return nil
	})
	return out, err
}

// BookingHistory returns journaled bookings for the session.
func (s *BookingService) BookingHistory(ctx context.Context, sid string, limit int) ([]models.BookingRecord, error) {
	if s.history == nil {
		return []models.BookingRecord{}, nil
	}
	return s.history.RecentBookings(ctx, sid, limit)
}

// Stations returns all station names.
func (s *BookingService) Stations() []string {
	return s.stations.Names()
}

// StationList returns all stations with their codes.
func (s *BookingService) StationList() []stations.Station {
	return s.stations.All()
}

// SuggestStations returns stations matching query.
func (s *BookingService) SuggestStations(query string, limit int) ([]stations.Station, error) {
	if err := required(query); err != nil {
		return nil, fmt.Errorf("%w: 请输入查询关键词", ErrInvalidInput)
	}
	return s.stations.Suggest(query, limit), nil
}

// ActivePolls reports how many login loops are running.
func (s *BookingService) ActivePolls() int {
	return s.scheduler.Active()
}

// LiveSessions reports how many sessions are held in memory.
func (s *BookingService) LiveSessions() int {
	return s.registry.Len()
}
