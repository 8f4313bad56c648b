package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/pkg/types"
)

// Run is one finished run as recorded by the Store.
type Run struct {
	ID       int64
	Grid     types.Grid
	Strategy string
	Collect  string
	Summary  metrics.Summary
	Finished time.Time
}

// Store is a thread-safe in-memory run history.
type Store struct {
	mu     sync.RWMutex
	runs   map[int64]*Run
	nextID int64
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Store that forgets runs older than ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		runs:   make(map[int64]*Run),
		nextID: 1,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Add records r, assigns its ID and stamps Finished if unset.
// Callers must not modify r afterwards.
func (s *Store) Add(r *Run) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	if r.Finished.IsZero() {
		r.Finished = s.now()
	}
	s.runs[r.ID] = r
	return r.ID
}

// Get returns the run with id if it is still within the TTL.
func (s *Store) Get(id int64) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok || !s.live(r) {
		return nil, false
	}
	return r, true
}

// List returns live runs, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		if s.live(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Latest returns the newest live run.
func (s *Store) Latest() (*Run, bool) {
	runs := s.List()
	if len(runs) == 0 {
		return nil, false
	}
	return runs[0], true
}

// Count returns the number of runs held, including expired ones not yet
// evicted.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Evict removes runs that finished before now minus TTL and returns how many
// were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, r := range s.runs {
		if !r.Finished.After(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired runs every half TTL (at least once a second) until ctx
// is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("history: evicted expired runs", "count", n)
			}
		}
	}
}

// live reports whether r is within the TTL. Caller must hold s.mu.
func (s *Store) live(r *Run) bool {
	return r.Finished.After(s.now().Add(-s.ttl))
}
