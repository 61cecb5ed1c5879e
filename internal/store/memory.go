package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the thread registry and the seen-event set in process memory.
// It implements both domain.ThreadStore and domain.DedupStore and is the
// default backend.
type Memory struct {
	mu      sync.Mutex
	threads map[string]string
	seen    map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		threads: make(map[string]string),
		seen:    make(map[string]time.Time),
	}
}

func (m *Memory) GetThread(_ context.Context, senderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[senderID], nil
}

func (m *Memory) SetThread(_ context.Context, senderID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[senderID] = threadID
	return nil
}

// TryClaim marks the event id as seen. Check and mark happen under one lock,
// so concurrent redeliveries of the same id admit exactly one claimer.
func (m *Memory) TryClaim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[eventID]; dup {
		return false, nil
	}
	m.seen[eventID] = time.Now()
	return true, nil
}

// PruneSeen drops seen-event records older than the given age and returns
// how many were removed. Callers that run for weeks should invoke this
// periodically to bound memory growth.
func (m *Memory) PruneSeen(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, id)
			removed++
		}
	}
	return removed
}

func (m *Memory) Close() error { return nil }
