package backend

import (
	"fmt"
	"sync"
)

// Slot is a single-occupancy token. Components that must exist at most
// once, such as the backend currently driving hardware, acquire a Slot
// instead of consulting a process global.
type Slot struct {
	mu    sync.Mutex
	owner any
}

// Acquire takes the slot for owner. Acquiring a slot already held by the
// same owner succeeds; a different owner gets ErrAlreadyInitialized.
func (s *Slot) Acquire(owner any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != nil && s.owner != owner {
		return fmt.Errorf("slot held by %T: %w", s.owner, ErrAlreadyInitialized)
	}
	s.owner = owner
	return nil
}

// Release frees the slot if owner holds it
func (s *Slot) Release(owner any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != owner {
		return false
	}
	s.owner = nil
	return true
}

// Owner returns the current holder or nil
func (s *Slot) Owner() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Held reports whether anyone holds the slot
func (s *Slot) Held() bool {
	return s.Owner() != nil
}
