// Package poller runs one background poll loop per outstanding QR challenge.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/auth"
	"railbook/backend/services/booking-service/internal/railerr"
)

const (
	// DefaultInterval is the pause between two polls of the same challenge.
	DefaultInterval    = 2 * time.Second
	defaultCallTimeout = 5 * time.Second
)

// Poller checks a challenge once.
type Poller interface {
	PollOnce(ctx context.Context, challengeID string) (auth.Status, error)
}

// Job describes one challenge to watch.
type Job struct {
	ChallengeID string
	SessionID   string
	Poller      Poller
	Slot        *Slot
	// OnConfirmed runs before the confirmed status is published, so readers never see a
	// confirmed status for a session that is not yet authenticated.
	OnConfirmed func(ctx context.Context, st auth.Status)
}

type entry struct {
	sessionID string
	started   time.Time
}

// Scheduler owns the "challenge id -> still polling" registry.
type Scheduler struct {
	interval    time.Duration
	callTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	running map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler builds a scheduler. Non-positive durations fall back to defaults.
func NewScheduler(interval, callTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval:    interval,
		callTimeout: callTimeout,
		logger:      logger,
		running:     make(map[string]*entry),
		stop:        make(chan struct{}),
	}
}

// Start launches the poll loop for job. It returns false without doing anything when a loop for the
// same challenge is already running.
func (s *Scheduler) Start(job Job) bool {
	if job.ChallengeID == "" || job.Poller == nil || job.Slot == nil {
		return false
	}
	select {
	case <-s.stop:
		return false
	default:
	}

	s.mu.Lock()
	if _, ok := s.running[job.ChallengeID]; ok {
		s.mu.Unlock()
		return false
	}
	e := &entry{sessionID: job.SessionID, started: time.Now()}
	s.running[job.ChallengeID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(job, e)
	return true
}

// Cancel removes the challenge from the registry. The loop notices on its next iteration; an
// in-flight upstream call is allowed to finish.
func (s *Scheduler) Cancel(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, challengeID)
}

// Running reports whether a loop is registered for challengeID.
func (s *Scheduler) Running(challengeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[challengeID]
	return ok
}

// Active returns how many loops are registered.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops every loop at its next check and waits for them to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) owns(id string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id] == e
}

func (s *Scheduler) release(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] == e {
		delete(s.running, id)
	}
}

func (s *Scheduler) loop(job Job, e *entry) {
	defer s.wg.Done()
	defer s.release(job.ChallengeID, e)

	logger := s.logger.With(zap.String("challenge_id", job.ChallengeID), zap.String("session_id", e.sessionID))
	logger.Debug("qr poll loop started")

	for {
		if !s.owns(job.ChallengeID, e) {
			logger.Debug("qr poll loop cancelled")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		st, err := job.Poller.PollOnce(ctx, job.ChallengeID)
		// A cancel that arrived during the call wins over its result.
		if !s.owns(job.ChallengeID, e) {
			cancel()
			logger.Debug("qr poll loop cancelled during poll")
			return
		}
		switch {
		case errors.Is(err, railerr.ErrUnknownChallenge):
			cancel()
			logger.Debug("challenge replaced, stopping poll loop")
			return
		case err != nil:
			logger.Debug("qr poll failed, will retry", zap.Error(err))
		case st.State.Terminal():
			cancel()
			if st.State == auth.StateConfirmed && job.OnConfirmed != nil {
				hookCtx, hookCancel := context.WithTimeout(context.Background(), s.callTimeout)
				job.OnConfirmed(hookCtx, st)
				hookCancel()
			}
			if !s.owns(job.ChallengeID, e) {
				logger.Debug("qr poll loop cancelled before publish")
				return
			}
			job.Slot.Publish(st)
			logger.Info("qr poll loop finished", zap.String("state", string(st.State)), zap.Duration("elapsed", time.Since(e.started)))
			return
		default:
			job.Slot.Publish(st)
		}
		cancel()

		select {
		case <-time.After(s.interval):
		case <-s.stop:
			return
		}
	}
}
