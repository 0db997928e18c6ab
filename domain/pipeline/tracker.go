package pipeline

import (
	"sync"
	"time"
)

// Committed is the visible state for one query key.
type Committed struct {
	Generation  uint64      `json:"generation"`
	Result      FetchResult `json:"result"`
	CommittedAt time.Time   `json:"committedAt"`
}

// Tracker assigns a generation to every run started for a key and only
// lets the newest generation publish its result. Older runs that finish
// late are discarded instead of overwriting what the caller sees.
type Tracker struct {
	mu        sync.Mutex
	issued    map[string]uint64
	committed map[string]Committed
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		issued:    make(map[string]uint64),
		committed: make(map[string]Committed),
	}
}

// Begin records a new run for key and returns its generation.
func (t *Tracker) Begin(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[key]++
	return t.issued[key]
}

// Commit publishes result if gen is still the newest generation for key.
// Error results commit too and replace previously visible records.
func (t *Tracker) Commit(key string, gen uint64, result FetchResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.issued[key] {
		return false
	}
	t.committed[key] = Committed{Generation: gen, Result: result, CommittedAt: time.Now()}
	return true
}

// Latest returns the last committed result for key.
func (t *Tracker) Latest(key string) (Committed, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.committed[key]
	return c, ok
}

// Current reports the newest generation issued for key.
func (t *Tracker) Current(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued[key]
}

// Reset forgets every committed result, e.g. after sign-out, and retires
// the runs in flight. Generations keep counting up, so a run begun before
// the reset can never commit over one begun after it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.issued {
		t.issued[k]++
	}
	t.committed = make(map[string]Committed)
}
