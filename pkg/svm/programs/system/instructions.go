package system

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

type writer struct {
	buf *bytes.Buffer
	enc *bin.Encoder
}

func newWriter(tag uint32) *writer {
	buf := new(bytes.Buffer)
	w := &writer{buf: buf, enc: bin.NewBinEncoder(buf)}
	_ = w.enc.WriteUint32(tag, bin.LE)
	return w
}

func (w *writer) u64(v uint64) *writer {
	_ = w.enc.WriteUint64(v, bin.LE)
	return w
}

func (w *writer) pubkey(p types.Pubkey) *writer {
	_ = w.enc.WriteBytes(p[:], false)
	return w
}

func (w *writer) seed(s string) *writer {
	_ = w.enc.WriteUint64(uint64(len(s)), bin.LE)
	_ = w.enc.WriteBytes([]byte(s), false)
	return w
}

func (w *writer) instruction(accounts ...transaction.AccountMeta) transaction.Instruction {
	return transaction.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  accounts,
		Data:      w.buf.Bytes(),
	}
}

// CreateAccount builds an instruction that funds, allocates and assigns a
// new account. Both accounts must sign.
func CreateAccount(from, to types.Pubkey, lamports, space uint64, owner types.Pubkey) transaction.Instruction {
	return newWriter(InstructionCreateAccount).u64(lamports).u64(space).pubkey(owner).instruction(
		transaction.NewAccountMeta(from, true, true),
		transaction.NewAccountMeta(to, true, true),
	)
}

// CreateAccountWithSeed builds an instruction creating the account derived
// from base, seed and owner.
func CreateAccountWithSeed(from, to, base types.Pubkey, seed string, lamports, space uint64, owner types.Pubkey) transaction.Instruction {
	metas := []transaction.AccountMeta{
		transaction.NewAccountMeta(from, true, true),
		transaction.NewAccountMeta(to, false, true),
	}
	if base != from {
		metas = append(metas, transaction.NewAccountMeta(base, true, false))
	}
	return newWriter(InstructionCreateAccountWithSeed).pubkey(base).seed(seed).u64(lamports).u64(space).pubkey(owner).instruction(metas...)
}

// Assign builds an instruction that changes the owner of account.
func Assign(account, owner types.Pubkey) transaction.Instruction {
	return newWriter(InstructionAssign).pubkey(owner).instruction(
		transaction.NewAccountMeta(account, true, true),
	)
}

// Transfer builds a lamport transfer.
func Transfer(from, to types.Pubkey, lamports uint64) transaction.Instruction {
	return newWriter(InstructionTransfer).u64(lamports).instruction(
		transaction.NewAccountMeta(from, true, true),
		transaction.NewAccountMeta(to, false, true),
	)
}

// Allocate builds an instruction that sizes account's data.
func Allocate(account types.Pubkey, space uint64) transaction.Instruction {
	return newWriter(InstructionAllocate).u64(space).instruction(
		transaction.NewAccountMeta(account, true, true),
	)
}

// AllocateWithSeed builds an Allocate for a derived account.
func AllocateWithSeed(account, base types.Pubkey, seed string, space uint64, owner types.Pubkey) transaction.Instruction {
	return newWriter(InstructionAllocateWithSeed).pubkey(base).seed(seed).u64(space).pubkey(owner).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(base, true, false),
	)
}

// AssignWithSeed builds an Assign for a derived account.
func AssignWithSeed(account, base types.Pubkey, seed string, owner types.Pubkey) transaction.Instruction {
	return newWriter(InstructionAssignWithSeed).pubkey(base).seed(seed).pubkey(owner).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(base, true, false),
	)
}

// TransferWithSeed builds a transfer out of a derived account.
func TransferWithSeed(from, base types.Pubkey, seed string, fromOwner, to types.Pubkey, lamports uint64) transaction.Instruction {
	return newWriter(InstructionTransferWithSeed).u64(lamports).seed(seed).pubkey(fromOwner).instruction(
		transaction.NewAccountMeta(from, false, true),
		transaction.NewAccountMeta(base, true, false),
		transaction.NewAccountMeta(to, false, true),
	)
}

// AdvanceNonceAccount builds a nonce advance. It must be the first
// instruction of a transaction that uses the nonce.
func AdvanceNonceAccount(account, authority types.Pubkey) transaction.Instruction {
	return newWriter(InstructionAdvanceNonceAccount).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(types.SysvarRecentBlockhashesAddr, false, false),
		transaction.NewAccountMeta(authority, true, false),
	)
}

// WithdrawNonceAccount builds a withdrawal from a nonce account.
func WithdrawNonceAccount(account, authority, to types.Pubkey, lamports uint64) transaction.Instruction {
	return newWriter(InstructionWithdrawNonceAccount).u64(lamports).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(to, false, true),
		transaction.NewAccountMeta(types.SysvarRecentBlockhashesAddr, false, false),
		transaction.NewAccountMeta(types.SysvarRentAddr, false, false),
		transaction.NewAccountMeta(authority, true, false),
	)
}

// InitializeNonceAccount builds a nonce initialization.
func InitializeNonceAccount(account, authority types.Pubkey) transaction.Instruction {
	return newWriter(InstructionInitializeNonceAccount).pubkey(authority).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(types.SysvarRecentBlockhashesAddr, false, false),
		transaction.NewAccountMeta(types.SysvarRentAddr, false, false),
	)
}

// AuthorizeNonceAccount builds an authority change.
func AuthorizeNonceAccount(account, authority, newAuthority types.Pubkey) transaction.Instruction {
	return newWriter(InstructionAuthorizeNonceAccount).pubkey(newAuthority).instruction(
		transaction.NewAccountMeta(account, false, true),
		transaction.NewAccountMeta(authority, true, false),
	)
}

// UpgradeNonceAccount builds an upgrade of a legacy nonce.
func UpgradeNonceAccount(account types.Pubkey) transaction.Instruction {
	return newWriter(InstructionUpgradeNonceAccount).instruction(
		transaction.NewAccountMeta(account, false, true),
	)
}

// CreateNonceAccount returns the instructions creating and initializing a
// nonce account funded by from.
func CreateNonceAccount(from, account, authority types.Pubkey, lamports uint64) []transaction.Instruction {
	return []transaction.Instruction{
		CreateAccount(from, account, lamports, nonce.StateSize, types.SystemProgramAddr),
		InitializeNonceAccount(account, authority),
	}
}
