package svm

import "github.com/fortiblox/X1-Sandbox/internal/types"

// FeatureSet tracks which runtime features are active.
type FeatureSet struct {
	allEnabled bool
	active     map[types.Pubkey]uint64
	inactive   map[types.Pubkey]struct{}
}

// NewFeatureSet returns a set with no active features.
func NewFeatureSet() *FeatureSet {
	return &FeatureSet{
		active:   make(map[types.Pubkey]uint64),
		inactive: make(map[types.Pubkey]struct{}),
	}
}

// AllEnabled returns a set in which every feature is active at slot 0
// unless explicitly deactivated.
func AllEnabled() *FeatureSet {
	fs := NewFeatureSet()
	fs.allEnabled = true
	return fs
}

// Activate marks id active from slot.
func (f *FeatureSet) Activate(id types.Pubkey, slot uint64) {
	delete(f.inactive, id)
	f.active[id] = slot
}

// Deactivate marks id inactive.
func (f *FeatureSet) Deactivate(id types.Pubkey) {
	delete(f.active, id)
	f.inactive[id] = struct{}{}
}

// IsActive reports whether id is active.
func (f *FeatureSet) IsActive(id types.Pubkey) bool {
	if _, ok := f.active[id]; ok {
		return true
	}
	if _, ok := f.inactive[id]; ok {
		return false
	}
	return f.allEnabled
}

// ActivatedSlot returns the slot id was activated at.
func (f *FeatureSet) ActivatedSlot(id types.Pubkey) (uint64, bool) {
	if slot, ok := f.active[id]; ok {
		return slot, true
	}
	if f.IsActive(id) {
		return 0, true
	}
	return 0, false
}
