package svm

import (
	"fmt"
	"math"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// InstructionAccount is an account reference of the current instruction.
type InstructionAccount struct {
	IndexInTransaction int
	IsSigner           bool
	IsWritable         bool
}

// BorrowedAccount is an account of the current instruction. It aliases the
// transaction account, so writes are visible to later instructions.
type BorrowedAccount struct {
	*accounts.Account
	Key                types.Pubkey
	IndexInTransaction int
	IsSigner           bool
	IsWritable         bool
}

// CheckedAddLamports credits n lamports.
func (a *BorrowedAccount) CheckedAddLamports(n uint64) error {
	if a.Lamports > math.MaxUint64-n {
		return ErrArithmeticOverflow
	}
	a.Lamports += n
	return nil
}

// CheckedSubLamports debits n lamports.
func (a *BorrowedAccount) CheckedSubLamports(n uint64) error {
	if a.Lamports < n {
		return ErrArithmeticOverflow
	}
	a.Lamports -= n
	return nil
}

// TransactionContext is the state shared by all instructions of one
// transaction.
type TransactionContext struct {
	Accounts   []TransactionAccount
	ReturnData ReturnData
	Inner      [][]InnerInstruction
}

// InvokeContext is what a program sees while processing one instruction.
type InvokeContext struct {
	Tx       *TransactionContext
	Meter    *ComputeMeter
	Logs     *LogCollector
	Sysvars  *sysvar.Cache
	Features *FeatureSet
	Programs ProgramLookup
	Budget   ComputeBudget

	Blockhash            types.Hash
	LamportsPerSignature uint64

	programID types.Pubkey
	index     int
	data      []byte
	accounts  []InstructionAccount
}

// Prepare points the context at instruction index.
func (c *InvokeContext) Prepare(index int, programID types.Pubkey, accounts []InstructionAccount, data []byte) {
	c.index = index
	c.programID = programID
	c.accounts = accounts
	c.data = data
}

// ProgramID returns the program being invoked.
func (c *InvokeContext) ProgramID() types.Pubkey { return c.programID }

// InstructionIndex returns the position of the instruction in the message.
func (c *InvokeContext) InstructionIndex() int { return c.index }

// Data returns the instruction data.
func (c *InvokeContext) Data() []byte { return c.data }

// NumAccounts returns the number of instruction accounts.
func (c *InvokeContext) NumAccounts() int { return len(c.accounts) }

// InstructionAccounts returns the raw account references.
func (c *InvokeContext) InstructionAccounts() []InstructionAccount { return c.accounts }

// StackHeight is 1 for top-level instructions.
func (c *InvokeContext) StackHeight() int { return 1 }

// Account returns instruction account i.
func (c *InvokeContext) Account(i int) (*BorrowedAccount, error) {
	if i < 0 || i >= len(c.accounts) {
		return nil, ErrNotEnoughAccountKeys
	}
	ia := c.accounts[i]
	ta := c.Tx.Accounts[ia.IndexInTransaction]
	return &BorrowedAccount{
		Account:            ta.Account,
		Key:                ta.Key,
		IndexInTransaction: ia.IndexInTransaction,
		IsSigner:           ia.IsSigner,
		IsWritable:         ia.IsWritable,
	}, nil
}

// CheckNumAccounts fails when fewer than n accounts were passed.
func (c *InvokeContext) CheckNumAccounts(n int) error {
	if len(c.accounts) < n {
		return ErrNotEnoughAccountKeys
	}
	return nil
}

// IsSigner reports whether key is a signer of the current instruction.
func (c *InvokeContext) IsSigner(key types.Pubkey) bool {
	for _, ia := range c.accounts {
		if ia.IsSigner && c.Tx.Accounts[ia.IndexInTransaction].Key == key {
			return true
		}
	}
	return false
}

// Log records a program log line.
func (c *InvokeContext) Log(format string, args ...interface{}) {
	if c.Logs != nil {
		c.Logs.Log("Program log: " + fmt.Sprintf(format, args...))
	}
}

// Consume charges compute units.
func (c *InvokeContext) Consume(units uint64) error {
	return c.Meter.Consume(units)
}

// SetReturnData records data as the transaction's return data.
func (c *InvokeContext) SetReturnData(data []byte) error {
	if len(data) > MaxReturnData {
		return ErrInvalidArgument
	}
	c.Tx.ReturnData = ReturnData{ProgramID: c.programID, Data: append([]byte(nil), data...)}
	return nil
}

// RecordInnerInstruction appends ix to the trace of the current instruction.
func (c *InvokeContext) RecordInnerInstruction(ix transaction.CompiledInstruction, stackHeight uint8) {
	c.Tx.Inner[c.index] = append(c.Tx.Inner[c.index], InnerInstruction{Instruction: ix, StackHeight: stackHeight})
}

// Rent returns the rent sysvar.
func (c *InvokeContext) Rent() (sysvar.Rent, error) {
	return c.Sysvars.Rent()
}

// Clock returns the clock sysvar.
func (c *InvokeContext) Clock() (sysvar.Clock, error) {
	return c.Sysvars.Clock()
}

// RecentBlockhashes returns the recent blockhashes sysvar.
func (c *InvokeContext) RecentBlockhashes() (sysvar.RecentBlockhashes, error) {
	return c.Sysvars.RecentBlockhashes()
}
