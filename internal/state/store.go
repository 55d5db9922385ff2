package state

import (
	"sync"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// Store holds the current session status. Writers replace the whole
// record; readers get a copy.
type Store struct {
	mu       sync.RWMutex
	status   domain.SessionStatus
	onChange func(domain.SessionStatus)
}

func New() *Store {
	return &Store{}
}

// SetOnChange registers a callback invoked after every Replace with the new
// record. It runs outside the lock.
func (s *Store) SetOnChange(f func(domain.SessionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = f
}

func (s *Store) Snapshot() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Replace swaps in a new status record. A record claiming authentication
// without a connection or a user ID is normalized to unauthenticated.
func (s *Store) Replace(st domain.SessionStatus) {
	if st.Authenticated && (!st.Connected || st.UserID == 0) {
		st = domain.SessionStatus{Connected: st.Connected}
	}

	s.mu.Lock()
	s.status = st
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(st)
	}
}

// Reset restores the unauthenticated default.
func (s *Store) Reset() {
	s.Replace(domain.SessionStatus{})
}

func (s *Store) Authenticated() bool {
	return s.Snapshot().Authenticated
}
