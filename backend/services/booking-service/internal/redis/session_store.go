package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/models"
)

// DefaultTTL is how long an authenticated session survives its last save.
const DefaultTTL = 24 * time.Hour

// storedSession is the redis payload.
type storedSession struct {
	Authenticated bool                    `json:"authenticated"`
	ChallengeID   string                  `json:"challenge_id,omitempty"`
	Inventory     map[string]models.Offer `json:"inventory,omitempty"`
	Credentials   []byte                  `json:"credentials,omitempty"`
	SavedAt       time.Time               `json:"saved_at"`
}

// SessionStore persists authenticated sessions.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	sealer *Sealer
	logger *zap.Logger
}

// NewSessionStore returns a redis-backed store. A nil sealer drops credentials from the payload.
func NewSessionStore(client *redis.Client, ttl time.Duration, sealer *Sealer, logger *zap.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{client: client, ttl: ttl, sealer: sealer, logger: logger}
}

func (s *SessionStore) key(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Save writes state and refreshes the TTL. Unauthenticated state is not persisted.
func (s *SessionStore) Save(ctx context.Context, sessionID string, state models.SessionState) error {
	if !state.Authenticated {
		return nil
	}
	payload := storedSession{
		Authenticated: state.Authenticated,
		ChallengeID:   state.ChallengeID,
		Inventory:     state.Inventory,
		SavedAt:       time.Now().UTC(),
	}
	if s.sealer != nil && len(state.Credentials) > 0 {
		sealed, err := s.sealer.Seal(state.Credentials)
		if err != nil {
			return fmt.Errorf("seal credentials: %w", err)
		}
		payload.Credentials = sealed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err()
}

// Load returns the stored state. Missing keys, an unreachable server and corrupt payloads all
// report absent.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (models.SessionState, bool) {
	result, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("session load failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return models.SessionState{}, false
	}

	var stored storedSession
	if err := json.Unmarshal(result, &stored); err != nil {
		s.logger.Warn("corrupt session payload", zap.String("session_id", sessionID), zap.Error(err))
		return models.SessionState{}, false
	}

	state := models.SessionState{
		Authenticated: stored.Authenticated,
		ChallengeID:   stored.ChallengeID,
		Inventory:     stored.Inventory,
	}
	if s.sealer != nil && len(stored.Credentials) > 0 {
		creds, err := s.sealer.Open(stored.Credentials)
		if err != nil {
			s.logger.Warn("session credentials unreadable", zap.String("session_id", sessionID), zap.Error(err))
			return models.SessionState{}, false
		}
		state.Credentials = creds
	}
	return state, true
}

// Delete removes stored state.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Ping reports whether redis answers.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
