// Package ledger provides an in-process ledger for executing transactions
// without a cluster.
//
// The Engine ties together the pieces of a minimal runtime:
// - the account store with its program and sysvar caches
// - a bounded transaction history for duplicate detection
// - the execution pipeline that sanitizes, admits, executes and commits
//   transactions
//
// An Engine is not safe for concurrent use. Callers sharing one across
// goroutines must serialize access themselves.
package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/history"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/executor"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// Engine errors.
var (
	ErrInitFailed      = errors.New("ledger initialization failed")
	ErrSysvarNotFound  = errors.New("sysvar account not found")
	ErrInvalidBuiltin  = errors.New("invalid builtin program")
	ErrProgramFileRead = errors.New("failed to read program file")

	// ErrInvalidExecutionResult is returned when an executor reports fewer
	// accounts than the transaction references.
	ErrInvalidExecutionResult = errors.New("executor returned an incomplete account list")
)

// genesisSeed is hashed into the first blockhash.
const genesisSeed = "genesis"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Engine is an in-memory ledger.
type Engine struct {
	store    *accounts.Store
	history  *history.History[*Outcome]
	builtins *executor.Registry
	executor svm.Executor
	features *svm.FeatureSet

	sigVerify            bool
	blockhashCheck       bool
	computeBudget        *svm.ComputeBudget
	logBytesLimit        int
	lamportsPerSignature uint64

	latestBlockhash types.Hash
	airdropKey      ed25519.PrivateKey

	log zerolog.Logger
}

// New creates an engine with the builtin programs, sysvars and a funded
// airdrop account in place.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	features := cfg.FeatureSet
	if features == nil {
		features = svm.AllEnabled()
	}
	builtins := executor.DefaultRegistry()
	if cfg.Builtins != nil {
		builtins = cfg.Builtins.Clone()
	}
	exec := cfg.Executor
	if exec == nil {
		exec = executor.New(builtins, cfg.ProgramRunner)
	}
	logLimit := -1
	if cfg.LogBytesLimit != nil {
		logLimit = *cfg.LogBytesLimit
	}

	_, airdropKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate airdrop key: %v", ErrInitFailed, err)
	}

	e := &Engine{
		store:                accounts.NewStore(cfg.Backend, cfg.Logger),
		history:              history.New[*Outcome](cfg.HistoryCapacity),
		builtins:             builtins,
		executor:             exec,
		features:             features,
		sigVerify:            cfg.SigVerify,
		blockhashCheck:       cfg.BlockhashCheck,
		computeBudget:        cfg.ComputeBudget,
		logBytesLimit:        logLimit,
		lamportsPerSignature: cfg.LamportsPerSignature,
		latestBlockhash:      types.ComputeHash([]byte(genesisSeed)),
		airdropKey:           airdropKey,
		log:                  cfg.Logger.With().Str("component", "ledger").Logger(),
	}
	if err := e.genesis(cfg.AirdropLamports); err != nil {
		e.store.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	e.log.Debug().
		Int("builtins", len(builtins.IDs())).
		Int("history_capacity", cfg.HistoryCapacity).
		Bool("sigverify", cfg.SigVerify).
		Bool("blockhash_check", cfg.BlockhashCheck).
		Stringer("blockhash", e.latestBlockhash).
		Msg("ledger initialized")
	return e, nil
}

func (e *Engine) genesis(airdropLamports uint64) error {
	if err := e.setDefaultSysvars(); err != nil {
		return err
	}

	for _, id := range e.builtins.IDs() {
		b, _ := e.builtins.Get(id)
		if !b.Enabled(e.features) {
			continue
		}
		e.store.Programs().Replenish(id, programcache.NewBuiltin(0, b.Name))
		if err := e.store.Put(id, &accounts.Account{
			Lamports:   1,
			Data:       []byte(b.Name),
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		}); err != nil {
			return fmt.Errorf("install builtin %s: %w", b.Name, err)
		}
	}

	for _, id := range []types.Pubkey{types.Ed25519PrecompileAddr, types.Secp256k1PrecompileAddr} {
		if err := e.store.Put(id, &accounts.Account{
			Lamports:   1,
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		}); err != nil {
			return fmt.Errorf("install precompile %s: %w", id, err)
		}
	}

	return e.store.Put(e.AirdropPubkey(), &accounts.Account{
		Lamports: airdropLamports,
		Owner:    types.SystemProgramAddr,
	})
}

func (e *Engine) setDefaultSysvars() error {
	clock := sysvar.Clock{}
	rent := sysvar.DefaultRent()
	schedule := sysvar.DefaultEpochSchedule()
	slotHistory := sysvar.DefaultSlotHistory()

	for _, s := range []sysvar.Sysvar{
		&clock,
		&sysvar.EpochRewards{},
		&schedule,
		&sysvar.Fees{LamportsPerSignature: e.lamportsPerSignature},
		&sysvar.LastRestartSlot{},
		&sysvar.RecentBlockhashes{{Blockhash: e.latestBlockhash, LamportsPerSignature: e.lamportsPerSignature}},
		&rent,
		&sysvar.SlotHashes{{Slot: clock.Slot, Hash: e.latestBlockhash}},
		&slotHistory,
		&sysvar.StakeHistory{},
	} {
		if err := e.SetSysvar(s); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the account backend.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Accounts returns the account store.
func (e *Engine) Accounts() *accounts.Store { return e.store }

// GetAccount returns a copy of the account at addr.
func (e *Engine) GetAccount(addr types.Pubkey) (*accounts.Account, bool) {
	return e.store.Get(addr)
}

// SetAccount stores acc at addr, keeping the program and sysvar caches in
// step with it.
func (e *Engine) SetAccount(addr types.Pubkey, acc *accounts.Account) error {
	return e.store.PutChecked(addr, acc.Clone())
}

// GetBalance returns the lamports held at addr.
func (e *Engine) GetBalance(addr types.Pubkey) (uint64, bool) {
	acc, ok := e.store.Get(addr)
	if !ok {
		return 0, false
	}
	return acc.Lamports, true
}

// LatestBlockhash returns the blockhash transactions must reference.
func (e *Engine) LatestBlockhash() types.Hash { return e.latestBlockhash }

// AirdropPubkey returns the address of the account that funds airdrops.
func (e *Engine) AirdropPubkey() types.Pubkey {
	return types.PubkeyFromPublicKey(e.airdropKey.Public().(ed25519.PublicKey))
}

// Airdrop transfers lamports from the airdrop account to addr.
func (e *Engine) Airdrop(addr types.Pubkey, lamports uint64) (*TransactionMetadata, error) {
	payer := e.AirdropPubkey()
	msg := transaction.NewMessage(
		[]transaction.Instruction{system.Transfer(payer, addr, lamports)},
		&payer,
		e.latestBlockhash,
	)
	tx, err := transaction.NewTransaction(msg, e.airdropKey)
	if err != nil {
		return nil, err
	}
	return e.Send(tx)
}

// GetSysvar decodes the sysvar account for dst into dst.
func (e *Engine) GetSysvar(dst sysvar.Sysvar) error {
	acc, ok := e.store.Get(dst.Address())
	if !ok {
		return fmt.Errorf("%w: %s", ErrSysvarNotFound, dst.Name())
	}
	return sysvar.Unmarshal(acc.Data, dst)
}

// SetSysvar writes s to its account, sized for the largest value of its
// type.
func (e *Engine) SetSysvar(s sysvar.Sysvar) error {
	data, err := sysvar.MarshalAccount(s)
	if err != nil {
		return err
	}
	return e.store.PutChecked(s.Address(), &accounts.Account{
		Lamports: 1,
		Data:     data,
		Owner:    types.SysvarOwnerAddr,
	})
}

// MinimumBalanceForRentExemption returns the balance an account with
// dataLen bytes of data needs to be rent exempt. It is never below one
// lamport, so the account is not treated as absent.
func (e *Engine) MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	r, err := e.store.Sysvars().Rent()
	if err != nil {
		r = sysvar.DefaultRent()
	}
	return max(1, r.MinimumBalance(dataLen))
}

// ExpireBlockhash replaces the latest blockhash with a new one. Transactions
// referencing the previous value are rejected from then on.
func (e *Engine) ExpireBlockhash() error {
	e.latestBlockhash = types.ComputeHash(e.latestBlockhash[:])
	return e.SetSysvar(&sysvar.RecentBlockhashes{{
		Blockhash:            e.latestBlockhash,
		LamportsPerSignature: e.lamportsPerSignature,
	}})
}

// WarpToSlot moves the clock to slot.
func (e *Engine) WarpToSlot(slot uint64) error {
	clock, err := e.store.Sysvars().Clock()
	if err != nil {
		return err
	}
	clock.Slot = slot
	return e.SetSysvar(&clock)
}

// ResizeHistory changes the history capacity. Zero disables it.
func (e *Engine) ResizeHistory(capacity int) {
	e.history.Resize(capacity)
}

// GetTransaction returns the recorded outcome of the transaction with
// signature sig.
func (e *Engine) GetTransaction(sig types.Signature) (*Outcome, bool) {
	return e.history.Get(sig)
}

// AddBuiltin registers b as a builtin program at id. The program account is
// owned by the bpf loader so that transactions can invoke it like any other
// deployed program.
func (e *Engine) AddBuiltin(id types.Pubkey, b *executor.Builtin) error {
	if b == nil || b.Process == nil {
		return ErrInvalidBuiltin
	}
	clock, err := e.store.Sysvars().Clock()
	if err != nil {
		return err
	}
	e.builtins.Register(id, b)
	e.store.Programs().Replenish(id, programcache.NewBuiltin(clock.Slot, b.Name))
	return e.store.Put(id, &accounts.Account{
		Lamports:   1,
		Data:       []byte{0},
		Owner:      types.BPFLoaderAddr,
		Executable: true,
	})
}

// AddProgram deploys elf at id under the bpf loader.
func (e *Engine) AddProgram(id types.Pubkey, elf []byte) error {
	return e.store.PutChecked(id, &accounts.Account{
		Lamports:   e.MinimumBalanceForRentExemption(uint64(len(elf))),
		Data:       append([]byte(nil), elf...),
		Owner:      types.BPFLoaderAddr,
		Executable: true,
	})
}

// AddProgramFromFile deploys the program image at path. Zstandard
// compressed images are decompressed first.
func (e *Engine) AddProgramFromFile(id types.Pubkey, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProgramFileRead, err)
	}
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return fmt.Errorf("%w: decompress %s: %v", ErrProgramFileRead, path, err)
		}
	}
	return e.AddProgram(id, data)
}
