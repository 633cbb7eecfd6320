package sysvar

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

var (
	// ErrInvalidSysvarData is returned when a write to a sysvar address does
	// not decode as that sysvar.
	ErrInvalidSysvarData = errors.New("invalid sysvar data")

	// ErrSysvarNotFound is returned when reading a sysvar that was never
	// installed.
	ErrSysvarNotFound = errors.New("sysvar not found")
)

// newByAddress maps each cached sysvar address to a constructor for its
// value type. The instructions sysvar is built per transaction and is not
// cached.
var newByAddress = map[types.Pubkey]func() Sysvar{
	types.SysvarClockAddr:             func() Sysvar { return new(Clock) },
	types.SysvarEpochRewardsAddr:      func() Sysvar { return new(EpochRewards) },
	types.SysvarEpochScheduleAddr:     func() Sysvar { return new(EpochSchedule) },
	types.SysvarFeesAddr:              func() Sysvar { return new(Fees) },
	types.SysvarLastRestartSlotAddr:   func() Sysvar { return new(LastRestartSlot) },
	types.SysvarRecentBlockhashesAddr: func() Sysvar { return new(RecentBlockhashes) },
	types.SysvarRentAddr:              func() Sysvar { return new(Rent) },
	types.SysvarSlotHashesAddr:        func() Sysvar { return new(SlotHashes) },
	types.SysvarSlotHistoryAddr:       func() Sysvar { return new(SlotHistory) },
	types.SysvarStakeHistoryAddr:      func() Sysvar { return new(StakeHistory) },
}

// IsCached reports whether writes to addr are mirrored into a Cache.
func IsCached(addr types.Pubkey) bool {
	_, ok := newByAddress[addr]
	return ok
}

// Cache holds the decoded form of each sysvar account. It is derived state:
// the account store writes through it on every sysvar update.
type Cache struct {
	values map[types.Pubkey]Sysvar
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{values: make(map[types.Pubkey]Sysvar)}
}

// Update decodes data as the sysvar at addr and replaces the cached value.
// Addresses that are not cached sysvars are ignored.
func (c *Cache) Update(addr types.Pubkey, data []byte) error {
	ctor, ok := newByAddress[addr]
	if !ok {
		return nil
	}
	v := ctor()
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSysvarData, v.Name(), err)
	}
	c.values[addr] = v
	return nil
}

// Remove drops the cached value for addr.
func (c *Cache) Remove(addr types.Pubkey) {
	delete(c.values, addr)
}

// Get copies the cached value with the same address as dst into dst.
func (c *Cache) Get(dst Sysvar) error {
	v, ok := c.values[dst.Address()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSysvarNotFound, dst.Name())
	}
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}

// Clock returns the cached clock.
func (c *Cache) Clock() (Clock, error) {
	if v, ok := c.values[types.SysvarClockAddr].(*Clock); ok {
		return *v, nil
	}
	return Clock{}, fmt.Errorf("%w: clock", ErrSysvarNotFound)
}

// Rent returns the cached rent schedule.
func (c *Cache) Rent() (Rent, error) {
	if v, ok := c.values[types.SysvarRentAddr].(*Rent); ok {
		return *v, nil
	}
	return Rent{}, fmt.Errorf("%w: rent", ErrSysvarNotFound)
}

// Fees returns the cached fee calculator.
func (c *Cache) Fees() (Fees, error) {
	if v, ok := c.values[types.SysvarFeesAddr].(*Fees); ok {
		return *v, nil
	}
	return Fees{}, fmt.Errorf("%w: fees", ErrSysvarNotFound)
}

// EpochSchedule returns the cached epoch schedule.
func (c *Cache) EpochSchedule() (EpochSchedule, error) {
	if v, ok := c.values[types.SysvarEpochScheduleAddr].(*EpochSchedule); ok {
		return *v, nil
	}
	return EpochSchedule{}, fmt.Errorf("%w: epoch_schedule", ErrSysvarNotFound)
}

// SlotHashes returns the cached slot hashes. The slice is shared.
func (c *Cache) SlotHashes() (SlotHashes, error) {
	if v, ok := c.values[types.SysvarSlotHashesAddr].(*SlotHashes); ok {
		return *v, nil
	}
	return nil, fmt.Errorf("%w: slot_hashes", ErrSysvarNotFound)
}

// RecentBlockhashes returns the cached recent blockhashes. The slice is shared.
func (c *Cache) RecentBlockhashes() (RecentBlockhashes, error) {
	if v, ok := c.values[types.SysvarRecentBlockhashesAddr].(*RecentBlockhashes); ok {
		return *v, nil
	}
	return nil, fmt.Errorf("%w: recent_blockhashes", ErrSysvarNotFound)
}
