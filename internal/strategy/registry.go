package strategy

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrUnknownStrategy is returned for ids the registry has never seen.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Registry is the ordered set of strategy entries. Entries are never removed; confidence and
// the active flag are the only mutable fields.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// NewRegistry builds a registry from entries in order.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, e := range entries {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends an entry; ids must be unique.
func (r *Registry) Add(e Entry) error {
	if e.ID == "" {
		return errors.New("strategy id is empty")
	}
	if e.Rule == nil {
		return fmt.Errorf("strategy %s has no rule", e.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[e.ID]; ok {
		return fmt.Errorf("duplicate strategy id %s", e.ID)
	}
	e.Confidence = clamp01(e.Confidence)
	r.index[e.ID] = len(r.entries)
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a snapshot of every entry in registry order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns a snapshot of one entry.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len is the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetState updates confidence (clamped to [0,1]) and the active flag, returning the
// previous values.
func (r *Registry) SetState(id string, confidence float64, active bool) (prev Entry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	prev = r.entries[i]
	r.entries[i].Confidence = clamp01(confidence)
	r.entries[i].Active = active
	return prev, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
