package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// backend is the store surface the tests exercise for both implementations.
type backend interface {
	GetThread(ctx context.Context, senderID string) (string, error)
	SetThread(ctx context.Context, senderID, threadID string) error
	TryClaim(ctx context.Context, eventID string) (bool, error)
	Close() error
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s, err := NewSQLite(filepath.Join(t.TempDir(), "relay.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func runBackendTests(t *testing.T, open func(t *testing.T) backend) {
	ctx := context.Background()

	t.Run("get missing thread returns empty", func(t *testing.T) {
		s := open(t)
		got, err := s.GetThread(ctx, "user-unknown")
		if err != nil {
			t.Fatalf("GetThread: %v", err)
		}
		if got != "" {
			t.Errorf("thread id = %q, want empty", got)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		s := open(t)
		if err := s.SetThread(ctx, "u1", "t1"); err != nil {
			t.Fatalf("SetThread: %v", err)
		}
		got, err := s.GetThread(ctx, "u1")
		if err != nil {
			t.Fatalf("GetThread: %v", err)
		}
		if got != "t1" {
			t.Errorf("thread id = %q, want t1", got)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		s := open(t)
		s.SetThread(ctx, "u1", "t1")
		if err := s.SetThread(ctx, "u1", "t2"); err != nil {
			t.Fatalf("SetThread overwrite: %v", err)
		}
		got, _ := s.GetThread(ctx, "u1")
		if got != "t2" {
			t.Errorf("thread id = %q, want t2", got)
		}
	})

	t.Run("claim is idempotent", func(t *testing.T) {
		s := open(t)
		first, err := s.TryClaim(ctx, "mid-1")
		if err != nil {
			t.Fatalf("TryClaim: %v", err)
		}
		if !first {
			t.Error("first claim refused")
		}
		second, err := s.TryClaim(ctx, "mid-1")
		if err != nil {
			t.Fatalf("TryClaim: %v", err)
		}
		if second {
			t.Error("second claim of same id succeeded")
		}
		other, _ := s.TryClaim(ctx, "mid-2")
		if !other {
			t.Error("claim of fresh id refused")
		}
	})

	t.Run("concurrent claims admit one winner", func(t *testing.T) {
		s := open(t)
		const claimers = 20
		var wg sync.WaitGroup
		wins := make(chan bool, claimers)
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryClaim(ctx, "mid-race")
				if err != nil {
					t.Errorf("TryClaim: %v", err)
					return
				}
				if ok {
					wins <- true
				}
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for range wins {
			won++
		}
		if won != 1 {
			t.Errorf("winners = %d, want exactly 1", won)
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendTests(t, func(t *testing.T) backend { return NewMemory() })
}

func TestSQLiteBackend(t *testing.T) {
	runBackendTests(t, func(t *testing.T) backend { return newTestSQLite(t) })
}

func TestMemoryPruneSeen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.TryClaim(ctx, "old-1")
	m.TryClaim(ctx, "old-2")
	// Age the existing records past the cutoff.
	m.mu.Lock()
	for id := range m.seen {
		m.seen[id] = time.Now().Add(-48 * time.Hour)
	}
	m.mu.Unlock()
	m.TryClaim(ctx, "fresh")

	removed := m.PruneSeen(24 * time.Hour)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// Old ids are claimable again, fresh one still blocked.
	if ok, _ := m.TryClaim(ctx, "old-1"); !ok {
		t.Error("pruned id not claimable")
	}
	if ok, _ := m.TryClaim(ctx, "fresh"); ok {
		t.Error("fresh id was pruned")
	}
}

func TestSQLitePruneSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	s.TryClaim(ctx, "old")
	// Backdate the row past the cutoff.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE seen_events SET seen_at = ? WHERE event_id = 'old'`,
		time.Now().Add(-48*time.Hour),
	); err != nil {
		t.Fatal(err)
	}
	s.TryClaim(ctx, "fresh")

	removed, err := s.PruneSeen(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneSeen: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if ok, _ := s.TryClaim(ctx, "old"); !ok {
		t.Error("pruned id not claimable")
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	path := filepath.Join(t.TempDir(), "relay.db")

	s1, err := NewSQLite(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	s1.SetThread(ctx, "u1", "t1")
	s1.TryClaim(ctx, "mid-1")
	s1.Close()

	s2, err := NewSQLite(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, _ := s2.GetThread(ctx, "u1")
	if got != "t1" {
		t.Errorf("thread after reopen = %q, want t1", got)
	}
	if ok, _ := s2.TryClaim(ctx, "mid-1"); ok {
		t.Error("claimed id claimable again after reopen")
	}
}
