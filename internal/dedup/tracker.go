// Package dedup remembers which notifications have already been handled.
package dedup

import "sync"

// DefaultCeiling is the tracked-set size above which Prune applies.
const DefaultCeiling = 1000

// Tracker is a set of notification ids. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	ceiling int
}

// New creates a Tracker that prunes above ceiling. A ceiling below one uses DefaultCeiling.
func New(ceiling int) *Tracker {
	if ceiling < 1 {
		ceiling = DefaultCeiling
	}
	return &Tracker{
		seen:    make(map[string]struct{}),
		ceiling: ceiling,
	}
}

// Seed marks ids that existed before monitoring began.
func (t *Tracker) Seed(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		t.seen[id] = struct{}{}
	}
}

// IsNew reports whether id has not been seen and records it.
func (t *Tracker) IsNew(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	return true
}

// NeedsPrune reports whether the tracked set has grown past the ceiling.
func (t *Tracker) NeedsPrune() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.seen) > t.ceiling
}

// Prune keeps only the tracked ids present in live. It returns the number
// of ids forgotten.
func (t *Tracker) Prune(live []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := make(map[string]struct{}, len(live))
	for _, id := range live {
		if _, ok := t.seen[id]; ok {
			kept[id] = struct{}{}
		}
	}
	forgotten := len(t.seen) - len(kept)
	t.seen = kept
	return forgotten
}

// PruneIfNeeded prunes against live when the ceiling is exceeded.
func (t *Tracker) PruneIfNeeded(live []string) (int, bool) {
	if !t.NeedsPrune() {
		return 0, false
	}
	return t.Prune(live), true
}

// Len returns the number of tracked ids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.seen)
}
