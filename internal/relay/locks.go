package relay

import "sync"

// senderLocks hands out one mutex per sender id so turns for a single user
// are serialized while unrelated users proceed in parallel. Entries are
// reference-counted and removed once idle, so the map does not grow with the
// lifetime set of senders.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// lock blocks until the sender's mutex is held and returns the release func.
func (s *senderLocks) lock(senderID string) func() {
	s.mu.Lock()
	l, ok := s.locks[senderID]
	if !ok {
		l = &senderLock{}
		s.locks[senderID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, senderID)
		}
		s.mu.Unlock()
	}
}
