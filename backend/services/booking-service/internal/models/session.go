package models

// SessionState is the persisted part of a user session.
type SessionState struct {
	Authenticated bool             `json:"authenticated"`
	ChallengeID   string           `json:"challenge_id,omitempty"`
	Inventory     map[string]Offer `json:"inventory,omitempty"`
	// Credentials holds exported transport cookies. The store seals them before writing.
	Credentials []byte `json:"-"`
}
