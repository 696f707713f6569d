package cache

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSuperseded is returned by Publish when a snapshot refreshed more
// recently is already installed.
var ErrSuperseded = errors.New("snapshot superseded by a newer one")

// Store holds the current snapshot. Reads are lock-free; publishes are
// serialized and last-committed-wins.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	version uint64
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(newSnapshot())
	return s
}

// Current returns the installed snapshot. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish installs next and assigns its version. next must not be modified
// afterwards.
func (s *Store) Publish(next *Snapshot) (*Snapshot, error) {
	if err := next.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur.Populated() && next.RefreshedAt.Before(cur.RefreshedAt) {
		return cur, ErrSuperseded
	}
	s.version++
	next.Version = s.version
	s.current.Store(next)
	return next, nil
}
