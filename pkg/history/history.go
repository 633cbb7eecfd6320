// Package history implements the bounded transaction history used for
// duplicate detection and outcome lookup.
package history

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// DefaultCapacity is the number of outcomes kept when no capacity is set.
const DefaultCapacity = 500

// History maps transaction signatures to outcomes. Entries are evicted
// oldest-first by insertion. A capacity of zero disables it: nothing is
// stored and nothing is found.
//
// Reads never refresh an entry, so eviction order is insertion order.
type History[V any] struct {
	capacity int
	entries  *lru.LRU[types.Signature, V]
}

// New creates a history holding at most capacity entries.
func New[V any](capacity int) *History[V] {
	h := &History[V]{}
	h.Resize(capacity)
	return h
}

// Contains reports whether sig has a recorded outcome.
func (h *History[V]) Contains(sig types.Signature) bool {
	if h.entries == nil {
		return false
	}
	return h.entries.Contains(sig)
}

// Get returns the outcome recorded for sig.
func (h *History[V]) Get(sig types.Signature) (V, bool) {
	if h.entries == nil {
		var zero V
		return zero, false
	}
	return h.entries.Peek(sig)
}

// Insert records outcome under sig, evicting the oldest entry when full.
func (h *History[V]) Insert(sig types.Signature, outcome V) {
	if h.entries == nil {
		return
	}
	if h.entries.Contains(sig) {
		h.replace(sig, outcome)
		return
	}
	h.entries.Add(sig, outcome)
}

// replace updates the outcome of an existing entry and keeps its place in
// the eviction order. The entries are re-added oldest first, as Add would
// move sig to the newest end.
func (h *History[V]) replace(sig types.Signature, outcome V) {
	keys := h.entries.Keys()
	values := make([]V, len(keys))
	for i, k := range keys {
		values[i], _ = h.entries.Peek(k)
		if k == sig {
			values[i] = outcome
		}
	}
	h.entries.Purge()
	for i, k := range keys {
		h.entries.Add(k, values[i])
	}
}

// Resize changes the capacity, dropping the oldest entries when shrinking.
func (h *History[V]) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	h.capacity = capacity
	if capacity == 0 {
		h.entries = nil
		return
	}
	if h.entries == nil {
		// NewLRU only fails for a non-positive size.
		h.entries, _ = lru.NewLRU[types.Signature, V](capacity, nil)
		return
	}
	h.entries.Resize(capacity)
}

// Len returns the number of recorded outcomes.
func (h *History[V]) Len() int {
	if h.entries == nil {
		return 0
	}
	return h.entries.Len()
}

// Capacity returns the configured capacity.
func (h *History[V]) Capacity() int {
	return h.capacity
}

// Signatures returns the recorded signatures, oldest first.
func (h *History[V]) Signatures() []types.Signature {
	if h.entries == nil {
		return nil
	}
	return h.entries.Keys()
}
