// Package lookuptable decodes address lookup table accounts and resolves
// indexes into addresses.
package lookuptable

import (
	"bytes"
	"errors"
	"math"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
)

// MetaSize is the fixed header preceding the addresses.
const MetaSize = 56

// MaxAddresses is the most addresses a table may hold.
const MaxAddresses = 256

const stateLookupTable = 1

var (
	ErrInvalidData  = errors.New("invalid address lookup table data")
	ErrNotActive    = errors.New("address lookup table is deactivated")
	ErrInvalidIndex = errors.New("invalid address lookup table index")
)

// Meta is the table header.
type Meta struct {
	DeactivationSlot           uint64
	LastExtendedSlot           uint64
	LastExtendedSlotStartIndex uint8
	Authority                  *types.Pubkey
}

// Table is a decoded lookup table account.
type Table struct {
	Meta
	Addresses []types.Pubkey
}

// New returns an active table owned by authority.
func New(authority *types.Pubkey, addresses []types.Pubkey) *Table {
	return &Table{
		Meta:      Meta{DeactivationSlot: math.MaxUint64, Authority: authority},
		Addresses: addresses,
	}
}

// Decode parses account data.
func Decode(data []byte) (*Table, error) {
	if len(data) < MetaSize || (len(data)-MetaSize)%types.PubkeySize != 0 {
		return nil, ErrInvalidData
	}
	dec := bin.NewBinDecoder(data[:MetaSize])
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil || tag != stateLookupTable {
		return nil, ErrInvalidData
	}
	t := &Table{}
	if t.DeactivationSlot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrInvalidData
	}
	if t.LastExtendedSlot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrInvalidData
	}
	if t.LastExtendedSlotStartIndex, err = dec.ReadUint8(); err != nil {
		return nil, ErrInvalidData
	}
	hasAuthority, err := dec.ReadUint8()
	if err != nil || hasAuthority > 1 {
		return nil, ErrInvalidData
	}
	if hasAuthority == 1 {
		b, err := dec.ReadBytes(types.PubkeySize)
		if err != nil {
			return nil, ErrInvalidData
		}
		var a types.Pubkey
		copy(a[:], b)
		t.Authority = &a
	}

	raw := data[MetaSize:]
	t.Addresses = make([]types.Pubkey, len(raw)/types.PubkeySize)
	for i := range t.Addresses {
		copy(t.Addresses[i][:], raw[i*types.PubkeySize:])
	}
	return t, nil
}

// Encode serializes the table into account data.
func (t *Table) Encode() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(stateLookupTable, bin.LE)
	_ = enc.WriteUint64(t.DeactivationSlot, bin.LE)
	_ = enc.WriteUint64(t.LastExtendedSlot, bin.LE)
	_ = enc.WriteUint8(t.LastExtendedSlotStartIndex)
	if t.Authority != nil {
		_ = enc.WriteUint8(1)
		_ = enc.WriteBytes(t.Authority[:], false)
	} else {
		_ = enc.WriteUint8(0)
	}

	out := make([]byte, MetaSize, MetaSize+len(t.Addresses)*types.PubkeySize)
	copy(out, buf.Bytes())
	for _, a := range t.Addresses {
		out = append(out, a[:]...)
	}
	return out
}

// IsActive reports whether the table can still be used at currentSlot. A
// deactivated table stays usable while its deactivation slot is in
// slotHashes.
func (t *Table) IsActive(currentSlot uint64, slotHashes sysvar.SlotHashes) bool {
	if t.DeactivationSlot == math.MaxUint64 || t.DeactivationSlot == currentSlot {
		return true
	}
	_, ok := slotHashes.Get(t.DeactivationSlot)
	return ok
}

// ActiveLen returns how many addresses are visible at currentSlot. Addresses
// appended in the current slot are not.
func (t *Table) ActiveLen(currentSlot uint64) int {
	if currentSlot > t.LastExtendedSlot {
		return len(t.Addresses)
	}
	return int(t.LastExtendedSlotStartIndex)
}

// Lookup resolves indexes at currentSlot.
func (t *Table) Lookup(currentSlot uint64, indexes []uint8, slotHashes sysvar.SlotHashes) ([]types.Pubkey, error) {
	if !t.IsActive(currentSlot, slotHashes) {
		return nil, ErrNotActive
	}
	n := t.ActiveLen(currentSlot)
	out := make([]types.Pubkey, len(indexes))
	for i, idx := range indexes {
		if int(idx) >= n {
			return nil, ErrInvalidIndex
		}
		out[i] = t.Addresses[idx]
	}
	return out, nil
}
