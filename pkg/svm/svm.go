// Package svm defines the contract between the ledger and the engine that
// executes instructions.
//
// The ledger resolves a transaction's accounts and hands them to an Executor
// together with a compute budget, a sysvar snapshot, the program cache and a
// log sink. The Executor runs the instructions in message order, stops at the
// first failure, and returns the outcome with the mutated account list.
//
// The package also carries the pieces every executor shares: the compute
// meter and compute budget directives, the per-instruction InvokeContext,
// the LogCollector and the FeatureSet.
package svm

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// MaxReturnData is the largest return data a program may set.
const MaxReturnData = 1024

// TransactionAccount is one entry of the account list an executor works on.
type TransactionAccount struct {
	Key     types.Pubkey
	Account *accounts.Account
}

// ProgramLookup finds compiled programs. Programs deployed while a
// transaction executes are recorded with Replenish and become visible to
// later transactions only when the transaction commits.
type ProgramLookup interface {
	Find(id types.Pubkey) (*programcache.Entry, bool)
	Replenish(id types.Pubkey, e *programcache.Entry)
}

// ReturnData is the last data set by a program in the transaction.
type ReturnData struct {
	ProgramID types.Pubkey
	Data      []byte
}

// InnerInstruction is an instruction issued by a program during execution.
type InnerInstruction struct {
	Instruction transaction.CompiledInstruction
	StackHeight uint8
}

// ExecutionRequest is everything an Executor needs to run one transaction.
type ExecutionRequest struct {
	Message *transaction.SanitizedMessage

	// Accounts holds the message accounts in message order, followed by
	// any program owner accounts loaded on their behalf. The executor
	// mutates them in place.
	Accounts []TransactionAccount

	// ProgramIndices gives, per instruction, the index in Accounts of the
	// invoked program. It is empty for instructions that invoke the native
	// loader.
	ProgramIndices [][]int

	Budget   ComputeBudget
	Sysvars  *sysvar.Cache
	Programs ProgramLookup
	Features *FeatureSet
	Logs     *LogCollector

	// Blockhash and LamportsPerSignature describe the ledger state the
	// transaction executes against. Nonce instructions derive from them.
	Blockhash            types.Hash
	LamportsPerSignature uint64
}

// ExecutionResult is the outcome of one transaction.
type ExecutionResult struct {
	// Err is nil on success, otherwise a *transaction.InstructionError
	// naming the failing instruction.
	Err error

	ComputeUnitsConsumed uint64

	// Accounts is the final account list, parallel to the request's.
	Accounts []TransactionAccount

	ReturnData        ReturnData
	InnerInstructions [][]InnerInstruction
}

// Executor runs the instructions of a transaction.
type Executor interface {
	Execute(req *ExecutionRequest) *ExecutionResult
}

// ProgramRunner executes loaded bytecode programs. It is invoked with the
// context of the current instruction and the cache entry of its program.
type ProgramRunner interface {
	Run(ctx *InvokeContext, program *programcache.Entry) error
}
