package accounts

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// Key format: prefixAccount + pubkey (32 bytes).
var prefixAccount = []byte{0x01}

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the database directory. It is ignored when InMemory is set.
	Path string

	InMemory bool

	NumCompactors int
	NumMemtables  int

	// Logger receives badger's own log output.
	Logger zerolog.Logger
}

// DefaultBadgerDBConfig returns an in-memory configuration with logging
// disabled.
func DefaultBadgerDBConfig() BadgerDBConfig {
	return BadgerDBConfig{
		InMemory:      true,
		NumCompactors: 2,
		NumMemtables:  2,
		Logger:        zerolog.Nop(),
	}
}

// badgerLogger adapts zerolog to badger.Logger.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}

// BadgerDB is a DB backed by BadgerDB. Accounts are stored under their
// address in the bincode layout of Account.
type BadgerDB struct {
	db *badger.DB

	// accountsCount is maintained on every write
	accountsCount atomic.Uint64

	// mu serializes writes so existence checks and counts stay consistent
	mu sync.RWMutex

	closed atomic.Bool
}

var _ DB = (*BadgerDB)(nil)

// NewBadgerDB opens a database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithLogger(badgerLogger{log: cfg.Logger.With().Str("component", "badger").Logger()})
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b := &BadgerDB{db: db}

	var n uint64
	if err := b.IterateAccounts(func(types.Pubkey, *Account) error {
		n++
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	b.accountsCount.Store(n)
	return b, nil
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := account.Serialize()
	if err != nil {
		return fmt.Errorf("encode account %s: %w", pubkey, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(pubkey), data)
	}); err != nil {
		return err
	}
	if !exists {
		b.accountsCount.Add(1)
	}
	return nil
}

func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccountLocked(pubkey)
	if err != nil || !exists {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(pubkey))
	}); err != nil {
		return err
	}
	b.accountsCount.Add(^uint64(0))
	return nil
}

func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.hasAccountLocked(pubkey)
}

// hasAccountLocked requires b.mu.
func (b *BadgerDB) hasAccountLocked(pubkey types.Pubkey) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// IterateAccounts walks accounts in key order, which is address order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}
