package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/models"
)

// Store persists session state between processes.
type Store interface {
	Save(ctx context.Context, sessionID string, state models.SessionState) error
	Load(ctx context.Context, sessionID string) (models.SessionState, bool)
	Delete(ctx context.Context, sessionID string) error
}

// TransportFactory opens a fresh upstream transport for a new session.
type TransportFactory func() (Transport, error)

// Registry owns live sessions. Memory is authoritative: the store is only read for sessions that are
// not live in this process.
type Registry struct {
	store        Store
	newTransport TransportFactory
	idleTTL      time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs a Registry. Sessions idle longer than idleTTL are removed by Sweep.
func NewRegistry(store Store, newTransport TransportFactory, idleTTL time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:        store,
		newTransport: newTransport,
		idleTTL:      idleTTL,
		logger:       logger,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
}

// Acquire returns the live session for id, hydrating it from the store or creating it.
func (r *Registry) Acquire(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session: empty id")
	}
	now := r.now()

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		s.touch(now)
		return s, nil
	}
	r.mu.Unlock()

	transport, err := r.newTransport()
	if err != nil {
		return nil, fmt.Errorf("session: open transport: %w", err)
	}
	s := newSession(id, transport, r.logger, now)

	if r.store != nil {
		if state, ok := r.store.Load(ctx, id); ok {
			if err := s.restore(state); err != nil {
				r.logger.Warn("session restore failed, starting fresh", zap.String("session_id", id), zap.Error(err))
				s = newSession(id, transport, r.logger, now)
			} else {
				r.logger.Debug("session hydrated", zap.String("session_id", id), zap.Bool("authenticated", state.Authenticated))
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		existing.touch(now)
		return existing, nil
	}
	r.sessions[id] = s
	return s, nil
}

// Persist saves the session when it is authenticated.
func (r *Registry) Persist(ctx context.Context, s *Session) error {
	if r.store == nil || !s.Authenticated() {
		return nil
	}
	state, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("session: snapshot: %w", err)
	}
	return r.store.Save(ctx, s.ID, state)
}

// Drop forgets the session in memory and in the store.
func (r *Registry) Drop(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	return r.store.Delete(ctx, id)
}

// Holds reports whether s is still the live session registered under its id.
func (r *Registry) Holds(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.ID] == s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the idle TTL and returns how many were removed.
// Evicted sessions remain in the store until its own TTL runs out.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
