// Package railerr holds the error taxonomy shared by the booking core.
package railerr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStation is returned when a station name cannot be resolved to a code.
	ErrUnknownStation = errors.New("unknown station")
	// ErrUpstreamFormat means the upstream response did not match the expected shape.
	ErrUpstreamFormat = errors.New("upstream format changed")
	// ErrTransientUpstream covers network failures, timeouts and retryable negative answers.
	ErrTransientUpstream = errors.New("transient upstream failure")
	// ErrAuthRequired is returned for operations attempted without a confirmed login.
	ErrAuthRequired = errors.New("login required")
	// ErrAttemptsExhausted is matched by AttemptsExhaustedError.
	ErrAttemptsExhausted = errors.New("booking attempts exhausted")
	// ErrChallengeExpired reports a QR challenge that timed out upstream.
	ErrChallengeExpired = errors.New("qr challenge expired")
	// ErrChallengeFailed reports a QR challenge that could not be completed.
	ErrChallengeFailed = errors.New("qr challenge failed")
	// ErrUnknownChallenge is returned when a challenge id is not the session's active one.
	ErrUnknownChallenge = errors.New("unknown qr challenge")
	// ErrInvalidInput reports a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

// AttemptsExhaustedError carries the reason of the last failed booking attempt.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s after %d attempts", ErrAttemptsExhausted, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrAttemptsExhausted, e.Attempts, e.Last)
}

// Is reports ErrAttemptsExhausted as a match.
func (e *AttemptsExhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Last
}

// Transient wraps err so that it matches ErrTransientUpstream.
func Transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransientUpstream, fmt.Sprintf(format, args...))
}

// Format wraps a description so that it matches ErrUpstreamFormat.
func Format(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamFormat, fmt.Sprintf(format, args...))
}
