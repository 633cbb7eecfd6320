// Package accounts implements the account store of the sandbox ledger.
//
// Account state lives in a pluggable DB backend. The Store on top of it is
// the single source of truth for account contents and keeps the derived
// program and sysvar caches consistent with every write:
// - executable accounts owned by a bytecode loader are compiled into the
//   program cache
// - writes to sysvar addresses are decoded into the sysvar cache
// - accounts left with zero lamports are dropped
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// MaxDataLen is the largest account data the backends accept.
const MaxDataLen = 10 * 1024 * 1024

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// Account is the state held at one address.
type Account struct {
	Lamports uint64

	// Data is owned by Owner; only the owner program may change it.
	Data []byte

	Owner types.Pubkey

	// Executable marks deployed programs.
	Executable bool

	RentEpoch uint64
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// IsZero reports whether the account holds no lamports. Such an account is
// logically absent.
func (a *Account) IsZero() bool {
	return a.Lamports == 0
}

// Equal reports whether a and b hold the same state.
func (a *Account) Equal(b *Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}

// MarshalWithEncoder writes a in bincode layout:
// lamports, data (u64 length prefixed), owner, executable, rent epoch.
func (a *Account) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(a.Lamports, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(uint64(len(a.Data)), bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBytes(a.Data, false); err != nil {
		return err
	}
	if err := enc.WriteBytes(a.Owner[:], false); err != nil {
		return err
	}
	var exec uint8
	if a.Executable {
		exec = 1
	}
	if err := enc.WriteUint8(exec); err != nil {
		return err
	}
	return enc.WriteUint64(a.RentEpoch, bin.LE)
}

// UnmarshalWithDecoder reads an account written by MarshalWithEncoder.
// The decoded data never aliases the decoder's buffer.
func (a *Account) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if a.Lamports, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	n, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if n > MaxDataLen || n > uint64(dec.Remaining()) {
		return fmt.Errorf("%w: data length %d", ErrInvalidData, n)
	}
	data, err := dec.ReadBytes(int(n))
	if err != nil {
		return err
	}
	a.Data = append([]byte(nil), data...)
	owner, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(a.Owner[:], owner)
	exec, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	if exec > 1 {
		return fmt.Errorf("%w: executable flag %d", ErrInvalidData, exec)
	}
	a.Executable = exec == 1
	a.RentEpoch, err = dec.ReadUint64(bin.LE)
	return err
}

// Serialize encodes the account for storage.
func (a *Account) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := a.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeAccount decodes an account produced by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	a := new(Account)
	if err := a.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		if errors.Is(err, ErrInvalidData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return a, nil
}

// DB is an account storage backend. GetAccount returns a copy the caller
// owns, and SetAccount stores a copy of its argument.
type DB interface {
	// GetAccount returns ErrAccountNotFound for unknown addresses.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount is a no-op for unknown addresses.
	DeleteAccount(pubkey types.Pubkey) error

	HasAccount(pubkey types.Pubkey) (bool, error)
	AccountsCount() (uint64, error)

	// IterateAccounts calls fn for every account in ascending address
	// order, stopping at the first error fn returns.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	Close() error
}

// MemoryDB is a map-backed DB. It is the default backend.
type MemoryDB struct {
	accounts map[types.Pubkey]*Account
	closed   bool
}

var _ DB = (*MemoryDB)(nil)

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	if m.closed {
		return ErrClosed
	}
	m.accounts[pubkey] = account.Clone()
	return nil
}

func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

func (m *MemoryDB) AccountsCount() (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if m.closed {
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	for _, k := range keys {
		if err := fn(k, m.accounts[k].Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}
