// Package programcache holds compiled programs keyed by address.
//
// Every executable account that is not a native-loader builtin has an entry
// here, installed whenever the account store writes the account. Identical
// bytecode deployed under several addresses is compiled once and shared.
package programcache

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/loader"
)

// Kind distinguishes the variants of an Entry.
type Kind uint8

const (
	// Builtin programs are implemented natively by the executor.
	Builtin Kind = iota
	// Loaded programs carry a validated executable.
	Loaded
)

func (k Kind) String() string {
	switch k {
	case Builtin:
		return "builtin"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is one cached program.
type Entry struct {
	Kind           Kind
	Loader         types.Pubkey
	DeploymentSlot uint64
	EffectiveSlot  uint64

	// AccountSize is the total size of the accounts the program was loaded
	// from, charged against the loaded-accounts data limit.
	AccountSize int

	// Name is set for builtins.
	Name string

	// Executable and Digest are set for loaded programs.
	Executable *loader.Executable
	Digest     [32]byte

	// EnvironmentVersion is the environment the executable was compiled
	// under.
	EnvironmentVersion uint64
}

// NewBuiltin returns an entry for a native program.
func NewBuiltin(slot uint64, name string) *Entry {
	return &Entry{
		Kind:           Builtin,
		Loader:         types.NativeLoaderAddr,
		DeploymentSlot: slot,
		EffectiveSlot:  slot,
		AccountSize:    len(name),
		Name:           name,
	}
}

// Cache maps program addresses to entries.
type Cache struct {
	slot     uint64
	env      *Environment
	entries  map[types.Pubkey]*Entry
	compiled map[[32]byte]*loader.Executable
}

// New creates an empty cache compiling under env.
func New(env *Environment) *Cache {
	if env == nil {
		env = DefaultEnvironment()
	}
	return &Cache{
		env:      env,
		entries:  make(map[types.Pubkey]*Entry),
		compiled: make(map[[32]byte]*loader.Executable),
	}
}

// Slot returns the slot new entries are deployed at.
func (c *Cache) Slot() uint64 { return c.slot }

// SetSlot moves the cache to slot.
func (c *Cache) SetSlot(slot uint64) { c.slot = slot }

// Environment returns the current compilation environment.
func (c *Cache) Environment() *Environment { return c.env }

// Find returns the entry for id.
func (c *Cache) Find(id types.Pubkey) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Replenish installs or replaces the entry for id.
func (c *Cache) Replenish(id types.Pubkey, e *Entry) {
	c.entries[id] = e
}

// Remove drops the entry for id.
func (c *Cache) Remove(id types.Pubkey) {
	delete(c.entries, id)
}

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.entries) }

// Compile validates elf and returns an entry for a program owned by
// loaderID deployed at the current slot.
func (c *Cache) Compile(loaderID types.Pubkey, elf []byte, accountSize int) (*Entry, error) {
	digest := blake3.Sum256(elf)
	exe, ok := c.compiled[digest]
	if !ok {
		var err error
		exe, err = loader.Load(elf, c.env.Loader)
		if err != nil {
			return nil, err
		}
		c.compiled[digest] = exe
	}
	return &Entry{
		Kind:               Loaded,
		Loader:             loaderID,
		DeploymentSlot:     c.slot,
		EffectiveSlot:      c.slot,
		AccountSize:        accountSize,
		Executable:         exe,
		Digest:             digest,
		EnvironmentVersion: c.env.Version,
	}, nil
}

// Overlay is a per-transaction view of a Cache. Replenish records
// modifications without touching the base until Commit.
type Overlay struct {
	base     *Cache
	modified map[types.Pubkey]*Entry
}

// NewOverlay returns an empty overlay over c.
func (c *Cache) NewOverlay() *Overlay {
	return &Overlay{base: c}
}

// Find returns the modified entry for id if any, else the base entry.
func (o *Overlay) Find(id types.Pubkey) (*Entry, bool) {
	if e, ok := o.modified[id]; ok {
		return e, true
	}
	return o.base.Find(id)
}

// Replenish records e for id in the overlay.
func (o *Overlay) Replenish(id types.Pubkey, e *Entry) {
	if o.modified == nil {
		o.modified = make(map[types.Pubkey]*Entry)
	}
	o.modified[id] = e
}

// Modified returns the number of entries recorded in the overlay.
func (o *Overlay) Modified() int { return len(o.modified) }

// Commit applies recorded entries to the base cache.
func (o *Overlay) Commit() {
	for id, e := range o.modified {
		o.base.Replenish(id, e)
	}
	o.modified = nil
}
