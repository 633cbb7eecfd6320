package ledger

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/history"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/executor"
)

const (
	// LamportsPerSOL is the number of lamports in one SOL.
	LamportsPerSOL = 1_000_000_000

	// DefaultAirdropLamports funds the airdrop account of a new engine.
	DefaultAirdropLamports = 1_000_000 * LamportsPerSOL

	// DefaultLamportsPerSignature is the base fee per signature.
	DefaultLamportsPerSignature = 5000

	// DefaultLogBytesLimit caps the program log bytes kept per transaction.
	DefaultLogBytesLimit = 10_000
)

// ErrConfigInvalid is returned by New for a configuration it cannot use.
var ErrConfigInvalid = errors.New("invalid ledger configuration")

// Config holds engine configuration. It is read once by New; later changes
// have no effect on a running engine.
type Config struct {
	// SigVerify enables signature and precompile verification.
	SigVerify bool

	// BlockhashCheck rejects transactions whose recent blockhash is not the
	// latest one, unless they advance a valid durable nonce.
	BlockhashCheck bool

	// HistoryCapacity bounds the transaction history. Zero disables the
	// history and with it duplicate detection.
	HistoryCapacity int

	// ComputeBudget overrides the budget derived from a transaction's
	// compute budget instructions.
	ComputeBudget *svm.ComputeBudget

	// LogBytesLimit caps the program log bytes kept per transaction.
	// Nil keeps every message.
	LogBytesLimit *int

	// FeatureSet gates builtins and runtime behavior. Nil enables every
	// feature.
	FeatureSet *svm.FeatureSet

	// Builtins is the builtin program set. The engine works on its own copy.
	// Nil selects executor.DefaultRegistry.
	Builtins *executor.Registry

	// Executor runs transactions. Nil selects the default message processor
	// over Builtins and ProgramRunner.
	Executor svm.Executor

	// ProgramRunner executes loaded bytecode programs for the default
	// executor. Nil makes them fail as unsupported.
	ProgramRunner svm.ProgramRunner

	// Backend stores accounts. Nil selects an accounts.MemoryDB.
	Backend accounts.DB

	// AirdropLamports funds the airdrop account.
	AirdropLamports uint64

	LamportsPerSignature uint64

	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with verification and the blockhash
// check enabled.
func DefaultConfig() Config {
	logLimit := DefaultLogBytesLimit
	return Config{
		SigVerify:            true,
		BlockhashCheck:       true,
		HistoryCapacity:      history.DefaultCapacity,
		LogBytesLimit:        &logLimit,
		AirdropLamports:      DefaultAirdropLamports,
		LamportsPerSignature: DefaultLamportsPerSignature,
		Logger:               zerolog.Nop(),
	}
}

func (c *Config) validate() error {
	if c.HistoryCapacity < 0 {
		return fmt.Errorf("%w: negative history capacity", ErrConfigInvalid)
	}
	if c.LogBytesLimit != nil && *c.LogBytesLimit < 0 {
		return fmt.Errorf("%w: negative log bytes limit", ErrConfigInvalid)
	}
	return nil
}
