package poller

import (
	"sync"

	"railbook/backend/services/booking-service/internal/auth"
)

// Slot holds the latest login status. One scheduler goroutine writes it; any number of request
// handlers read it. Watchers receive a channel that is closed on the next publish.
type Slot struct {
	mu      sync.Mutex
	status  auth.Status
	set     bool
	changed chan struct{}
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{changed: make(chan struct{})}
}

// Publish stores st and wakes watchers.
func (s *Slot) Publish(st auth.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.set = true
	close(s.changed)
	s.changed = make(chan struct{})
}

// Load returns the latest status and whether anything was published.
func (s *Slot) Load() (auth.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.set
}

// Watch returns the latest status plus a channel closed by the next Publish.
func (s *Slot) Watch() (auth.Status, bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.set, s.changed
}

// Reset clears the slot, waking watchers so they observe the empty state.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = auth.Status{}
	s.set = false
	close(s.changed)
	s.changed = make(chan struct{})
}
