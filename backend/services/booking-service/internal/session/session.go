// Package session holds the per-user context object passed into the booking core on every call.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/auth"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/upstream"
)

// Transport is a session's upstream connection with its cookie jar.
type Transport interface {
	upstream.Doer
	ExportCookies() ([]byte, error)
	ImportCookies(data []byte) error
}

// Session is one user's live state: transport, login, status slot and offer cache.
type Session struct {
	ID string

	transport Transport
	auth      *auth.Authenticator
	slot      *poller.Slot

	// op serializes front-door operations on the session.
	op sync.Mutex

	mu            sync.RWMutex
	authenticated bool
	challengeID   string
	offers        map[string]models.Offer
	lastSeen      time.Time
}

func newSession(id string, transport Transport, logger *zap.Logger, now time.Time) *Session {
	return &Session{
		ID:        id,
		transport: transport,
		auth:      auth.New(transport, logger.With(zap.String("session_id", id))),
		slot:      poller.NewSlot(),
		offers:    make(map[string]models.Offer),
		lastSeen:  now,
	}
}

// Lock takes the session's operation lock. Booking holds it for the whole retry loop.
func (s *Session) Lock() { s.op.Lock() }

// Unlock releases the operation lock.
func (s *Session) Unlock() { s.op.Unlock() }

// Do sends an upstream request with the session's cookies.
func (s *Session) Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	return s.transport.Do(ctx, req)
}

// Authenticator returns the session's QR authenticator.
func (s *Session) Authenticator() *auth.Authenticator { return s.auth }

// Slot returns the latest published login status.
func (s *Session) Slot() *poller.Slot { return s.slot }

// Authenticated reports the session's auth flag.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated flips the auth flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// ChallengeID returns the active QR challenge id.
func (s *Session) ChallengeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challengeID
}

// BeginChallenge records a new challenge and clears the previous status.
func (s *Session) BeginChallenge(id string) {
	s.mu.Lock()
	s.challengeID = id
	s.mu.Unlock()
	s.slot.Reset()
}

// RememberOffers replaces the offers cached for the trains in offers.
func (s *Session) RememberOffers(offers []models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offers {
		s.offers[strings.ToUpper(o.TrainCode)] = o
	}
}

// Offer returns a cached offer by display train number.
func (s *Session) Offer(trainCode string) (models.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[strings.ToUpper(trainCode)]
	return o, ok
}

// CachedTrains lists the train numbers in the offer cache.
func (s *Session) CachedTrains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.offers))
	for k := range s.offers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the persistable state including exported cookies.
func (s *Session) Snapshot() (models.SessionState, error) {
	creds, err := s.transport.ExportCookies()
	if err != nil {
		return models.SessionState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv := make(map[string]models.Offer, len(s.offers))
	for k, v := range s.offers {
		inv[k] = v
	}
	return models.SessionState{
		Authenticated: s.authenticated,
		ChallengeID:   s.challengeID,
		Inventory:     inv,
		Credentials:   creds,
	}, nil
}

func (s *Session) restore(state models.SessionState) error {
	if len(state.Credentials) > 0 {
		if err := s.transport.ImportCookies(state.Credentials); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = state.Authenticated
	s.challengeID = state.ChallengeID
	for k, v := range state.Inventory {
		s.offers[strings.ToUpper(k)] = v
	}
	return nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
