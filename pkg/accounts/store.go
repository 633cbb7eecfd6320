package accounts

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/lookuptable"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/loader"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// KeyedAccount pairs an address with its account state.
type KeyedAccount struct {
	Pubkey  types.Pubkey
	Account *Account
}

// Store is the account store. It owns the backend and the caches derived
// from it. A Store is not safe for concurrent use.
type Store struct {
	db       DB
	programs *programcache.Cache
	sysvars  *sysvar.Cache
	log      zerolog.Logger
}

var _ transaction.AddressLoader = (*Store)(nil)

// NewStore creates a store over db with empty caches. A nil db selects a
// MemoryDB.
func NewStore(db DB, log zerolog.Logger) *Store {
	if db == nil {
		db = NewMemoryDB()
	}
	return &Store{
		db:       db,
		programs: programcache.New(nil),
		sysvars:  sysvar.NewCache(),
		log:      log.With().Str("component", "accounts").Logger(),
	}
}

// Programs returns the program cache.
func (s *Store) Programs() *programcache.Cache { return s.programs }

// Sysvars returns the sysvar cache.
func (s *Store) Sysvars() *sysvar.Cache { return s.sysvars }

// DB returns the backend.
func (s *Store) DB() DB { return s.db }

// Get returns a copy of the account at addr.
func (s *Store) Get(addr types.Pubkey) (*Account, bool) {
	acc, err := s.db.GetAccount(addr)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.log.Error().Err(err).Stringer("address", addr).Msg("read account")
		}
		return nil, false
	}
	return acc, true
}

// Put stores acc at addr without touching the caches. It is meant for
// accounts that need no cache synchronization, such as builtin programs.
func (s *Store) Put(addr types.Pubkey, acc *Account) error {
	return s.db.SetAccount(addr, acc)
}

// PutChecked stores acc at addr after synchronizing the caches with it.
//
// An executable account not owned by the native loader is compiled into the
// program cache; a failure to load it is returned and nothing is stored.
// Otherwise a write to a sysvar address must decode as that sysvar and
// replaces the cached value. An account left with zero lamports is removed.
func (s *Store) PutChecked(addr types.Pubkey, acc *Account) error {
	if acc.Executable && !addr.IsZero() && acc.Owner != types.NativeLoaderAddr {
		entry, err := s.LoadProgram(acc)
		if err != nil {
			s.log.Error().Err(err).
				Stringer("address", addr).
				Stringer("loader", acc.Owner).
				Msg("failed to load program")
			return fmt.Errorf("load program %s: %w", addr, err)
		}
		s.programs.Replenish(addr, entry)
	} else {
		if e, ok := s.programs.Find(addr); ok && e.Kind == programcache.Loaded {
			s.programs.Remove(addr)
		}
		if sysvar.IsCached(addr) {
			if err := s.sysvars.Update(addr, acc.Data); err != nil {
				return err
			}
			if addr == types.SysvarClockAddr {
				clock, _ := s.sysvars.Clock()
				s.programs.SetSlot(clock.Slot)
			}
		}
	}

	if acc.IsZero() {
		return s.db.DeleteAccount(addr)
	}
	return s.db.SetAccount(addr, acc)
}

func isProgramData(acc *Account) bool {
	return acc.Owner == types.BPFLoaderUpgradeableAddr && loader.IsProgramData(acc.Data)
}

// Sync commits post-execution account states. Upgradeable program data
// accounts are applied first, so that program accounts in the same batch
// resolve against their new program data.
//
// The batch is applied as a whole: if any account is rejected, the accounts
// already written are restored to their previous state.
func (s *Store) Sync(batch []KeyedAccount) error {
	var applied []KeyedAccount
	for _, pass := range []bool{true, false} {
		for _, ka := range batch {
			if isProgramData(ka.Account) != pass {
				continue
			}
			prev, _ := s.Get(ka.Pubkey)
			if err := s.PutChecked(ka.Pubkey, ka.Account); err != nil {
				s.rollback(applied)
				return err
			}
			applied = append(applied, KeyedAccount{Pubkey: ka.Pubkey, Account: prev})
		}
	}
	return nil
}

// rollback restores previous account states, newest first. A nil account
// was absent before.
func (s *Store) rollback(prev []KeyedAccount) {
	for i := len(prev) - 1; i >= 0; i-- {
		addr, acc := prev[i].Pubkey, prev[i].Account
		var err error
		if acc == nil {
			if e, ok := s.programs.Find(addr); ok && e.Kind == programcache.Loaded {
				s.programs.Remove(addr)
			}
			if sysvar.IsCached(addr) {
				s.sysvars.Remove(addr)
			}
			err = s.db.DeleteAccount(addr)
		} else {
			err = s.PutChecked(addr, acc)
		}
		if err != nil {
			s.log.Error().Err(err).Stringer("address", addr).Msg("failed to restore account")
		}
	}
}

// Withdraw debits a fee from addr. A nonce account must keep the rent
// exemption minimum of its state.
func (s *Store) Withdraw(addr types.Pubkey, lamports uint64) error {
	acc, ok := s.Get(addr)
	if !ok {
		s.log.Error().Stringer("address", addr).Msg("account not found when withdrawing fee")
		return transaction.ErrAccountNotFound
	}

	var minBalance uint64
	if kind, ok := nonce.SystemAccountKind(acc.Owner, acc.Data); ok && kind == nonce.NonceAccount {
		r, err := s.sysvars.Rent()
		if err != nil {
			return err
		}
		minBalance = r.MinimumBalance(nonce.StateSize)
	}

	required := lamports + minBalance
	if required < lamports || required > acc.Lamports {
		return transaction.ErrInsufficientFundsForFee
	}
	acc.Lamports -= lamports
	return s.db.SetAccount(addr, acc)
}

// LoadAddresses resolves lookup table references against the current slot
// and slot hashes.
func (s *Store) LoadAddresses(lookups []transaction.AddressTableLookup) (transaction.LoadedAddresses, error) {
	var loaded transaction.LoadedAddresses
	for _, l := range lookups {
		writable, readonly, err := s.lookup(l)
		if err != nil {
			return transaction.LoadedAddresses{}, err
		}
		loaded.Writable = append(loaded.Writable, writable...)
		loaded.Readonly = append(loaded.Readonly, readonly...)
	}
	return loaded, nil
}

func (s *Store) lookup(l transaction.AddressTableLookup) (writable, readonly []types.Pubkey, err error) {
	acc, ok := s.Get(l.AccountKey)
	if !ok {
		return nil, nil, transaction.ErrAddressLookupTableNotFound
	}
	if acc.Owner != types.AddressLookupTableProgramAddr {
		return nil, nil, transaction.ErrInvalidAddressLookupTableOwner
	}
	table, err := lookuptable.Decode(acc.Data)
	if err != nil {
		return nil, nil, transaction.ErrInvalidAddressLookupTableData
	}
	clock, err := s.sysvars.Clock()
	if err != nil {
		return nil, nil, err
	}
	slotHashes, err := s.sysvars.SlotHashes()
	if err != nil {
		return nil, nil, err
	}

	if writable, err = table.Lookup(clock.Slot, l.WritableIndexes, slotHashes); err != nil {
		return nil, nil, lookupError(err)
	}
	if readonly, err = table.Lookup(clock.Slot, l.ReadonlyIndexes, slotHashes); err != nil {
		return nil, nil, lookupError(err)
	}
	return writable, readonly, nil
}

func lookupError(err error) error {
	switch {
	case errors.Is(err, lookuptable.ErrNotActive):
		return transaction.ErrAddressLookupTableNotFound
	case errors.Is(err, lookuptable.ErrInvalidIndex):
		return transaction.ErrInvalidAddressLookupTableIndex
	default:
		return transaction.ErrInvalidAddressLookupTableData
	}
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	n, err := s.db.AccountsCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Iterate calls fn for every stored account in address order.
func (s *Store) Iterate(fn func(addr types.Pubkey, acc *Account) error) error {
	return s.db.IterateAccounts(fn)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.db.Close()
}
