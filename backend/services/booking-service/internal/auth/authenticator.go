// Package auth implements the QR-code login state machine.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/upstream"
)

// State of a login attempt.
type State string

const (
	StateIdle            State = "idle"
	StateChallengeIssued State = "challenge_issued"
	StateWaiting         State = "waiting"
	StateScanned         State = "scanned"
	StateConfirmed       State = "confirmed"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateExpired || s == StateFailed
}

// Challenge is one QR login attempt.
type Challenge struct {
	ID        string
	State     State
	CreatedAt time.Time
	// Image is the base64 encoded PNG to scan.
	Image string
}

// Status is the observable outcome of a poll.
type Status struct {
	ChallengeID string `json:"challenge_id"`
	State       State  `json:"state"`
	Message     string `json:"message"`
	Username    string `json:"username,omitempty"`
}

// Err maps terminal failure states to their sentinel errors.
func (s Status) Err() error {
	switch s.State {
	case StateExpired:
		return railerr.ErrChallengeExpired
	case StateFailed:
		return fmt.Errorf("%w: %s", railerr.ErrChallengeFailed, s.Message)
	}
	return nil
}

// Authenticator drives one session's login. Polls are serialized; state reads are not blocked by an
// in-flight poll.
type Authenticator struct {
	doer   upstream.Doer
	logger *zap.Logger
	now    func() time.Time

	pollMu sync.Mutex

	mu        sync.RWMutex
	challenge *Challenge
	message   string
	username  string
}

// New returns an idle Authenticator that talks through doer.
func New(doer upstream.Doer, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{doer: doer, logger: logger, now: time.Now}
}

// IssueChallenge requests a new QR code. Any previous challenge is discarded; on failure the
// authenticator is left idle. It waits for an in-flight poll so that poll cannot report on the new
// challenge.
func (a *Authenticator) IssueChallenge(ctx context.Context) (Challenge, error) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	a.mu.Lock()
	a.challenge = nil
	a.message = ""
	a.mu.Unlock()

	resp, err := a.doer.Do(ctx, upstream.PostForm(upstream.PathCreateQR, url.Values{"appid": {upstream.AppID}}))
	if err != nil {
		return Challenge{}, fmt.Errorf("create qr: %w", err)
	}
	var payload struct {
		ResultCode    resultCode `json:"result_code"`
		ResultMessage string     `json:"result_message"`
		UUID          string     `json:"uuid"`
		Image         string     `json:"image"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return Challenge{}, fmt.Errorf("create qr: %w", err)
	}
	if payload.ResultCode != "0" {
		return Challenge{}, fmt.Errorf("%w: create qr rejected: %s", railerr.ErrChallengeFailed, payload.ResultMessage)
	}
	if payload.UUID == "" {
		return Challenge{}, railerr.Format("create qr: empty uuid")
	}

	ch := Challenge{
		ID:        payload.UUID,
		State:     StateChallengeIssued,
		CreatedAt: a.now(),
		Image:     payload.Image,
	}
	a.mu.Lock()
	a.challenge = &ch
	a.message = "scan the QR code with the 12306 app"
	a.mu.Unlock()

	a.logger.Info("qr challenge issued", zap.String("challenge_id", ch.ID))
	return ch, nil
}

// PollOnce asks upstream for the challenge's status. Transport errors and unrecognized codes leave
// the state unchanged. A terminal challenge answers from memory without calling upstream. On upstream
// confirmation the credential activation handshake runs before the state becomes confirmed.
func (a *Authenticator) PollOnce(ctx context.Context, challengeID string) (Status, error) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	current, ok := a.lookup(challengeID)
	if !ok {
		return Status{ChallengeID: challengeID, State: StateIdle}, railerr.ErrUnknownChallenge
	}
	if current.State.Terminal() {
		return a.status(), nil
	}

	form := url.Values{"uuid": {challengeID}, "appid": {upstream.AppID}}
	resp, err := a.doer.Do(ctx, upstream.PostForm(upstream.PathCheckQR, form))
	if err != nil {
		return a.status(), fmt.Errorf("check qr: %w", err)
	}
	var payload struct {
		ResultCode    resultCode `json:"result_code"`
		ResultMessage string     `json:"result_message"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return a.status(), fmt.Errorf("check qr: %w", err)
	}

	switch payload.ResultCode {
	case "0":
		a.transition(challengeID, StateWaiting, "waiting for scan")
	case "1":
		a.transition(challengeID, StateScanned, "scanned, confirm the login on the phone")
	case "2":
		username, err := a.activate(ctx)
		if err != nil {
			a.logger.Warn("credential activation failed", zap.String("challenge_id", challengeID), zap.Error(err))
			a.transition(challengeID, StateFailed, "login activation failed: "+err.Error())
			break
		}
		a.mu.Lock()
		a.username = username
		a.mu.Unlock()
		a.transition(challengeID, StateConfirmed, "login confirmed")
		a.logger.Info("qr login confirmed", zap.String("challenge_id", challengeID))
	case "3":
		a.transition(challengeID, StateExpired, "qr code expired, request a new one")
	default:
		return a.status(), railerr.Transient("check qr: unexpected result_code %q: %s", string(payload.ResultCode), payload.ResultMessage)
	}
	return a.status(), nil
}

// activate exchanges the passport token for an application session: uamtk then uamauthclient.
func (a *Authenticator) activate(ctx context.Context) (string, error) {
	resp, err := a.doer.Do(ctx, upstream.PostForm(upstream.PathAuthUamtk, url.Values{"appid": {upstream.AppID}}))
	if err != nil {
		return "", fmt.Errorf("uamtk: %w", err)
	}
	var tk struct {
		ResultCode    resultCode `json:"result_code"`
		ResultMessage string     `json:"result_message"`
		NewAppTk      string     `json:"newapptk"`
	}
	if err := resp.DecodeJSON(&tk); err != nil {
		return "", fmt.Errorf("uamtk: %w", err)
	}
	if tk.NewAppTk == "" {
		return "", fmt.Errorf("uamtk: no token issued: %s", tk.ResultMessage)
	}

	resp, err = a.doer.Do(ctx, upstream.PostForm(upstream.PathUamAuthClient, url.Values{"tk": {tk.NewAppTk}}))
	if err != nil {
		return "", fmt.Errorf("uamauthclient: %w", err)
	}
	var client struct {
		ResultCode    resultCode `json:"result_code"`
		ResultMessage string     `json:"result_message"`
		Username      string     `json:"username"`
	}
	if err := resp.DecodeJSON(&client); err != nil {
		return "", fmt.Errorf("uamauthclient: %w", err)
	}
	if client.ResultCode != "0" {
		return "", fmt.Errorf("uamauthclient rejected: %s", client.ResultMessage)
	}
	return client.Username, nil
}

// Current returns the active challenge, if any.
func (a *Authenticator) Current() (Challenge, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.challenge == nil {
		return Challenge{}, false
	}
	return *a.challenge, true
}

// State returns the state of the active challenge, or idle.
func (a *Authenticator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.challenge == nil {
		return StateIdle
	}
	return a.challenge.State
}

// Username returns the account name reported during activation.
func (a *Authenticator) Username() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.username
}

// Reset drops the active challenge.
func (a *Authenticator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.challenge = nil
	a.message = ""
	a.username = ""
}

func (a *Authenticator) lookup(id string) (Challenge, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.challenge == nil || a.challenge.ID != id {
		return Challenge{}, false
	}
	return *a.challenge, true
}

func (a *Authenticator) transition(id string, next State, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil || a.challenge.ID != id || a.challenge.State.Terminal() {
		return
	}
	a.challenge.State = next
	a.message = message
}

func (a *Authenticator) status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.challenge == nil {
		return Status{State: StateIdle}
	}
	return Status{
		ChallengeID: a.challenge.ID,
		State:       a.challenge.State,
		Message:     a.message,
		Username:    a.username,
	}
}

// resultCode accepts both "0" and 0; the passport endpoints disagree on the type.
type resultCode string

func (c *resultCode) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*c = resultCode(str)
		return nil
	}
	*c = resultCode(s)
	return nil
}
