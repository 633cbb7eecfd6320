// Package system implements the System Program.
//
// The System Program is responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
// - Deriving accounts from a base address and seed
// - Managing durable nonce accounts
package system

import (
	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
)

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
	InstructionAllocateWithSeed
	InstructionAssignWithSeed
	InstructionTransferWithSeed
	InstructionUpgradeNonceAccount
)

// System Program error codes, reported as svm.CustomError.
const (
	ErrAccountAlreadyInUse svm.CustomError = iota
	ErrResultWithNegativeLamports
	ErrInvalidProgramID
	ErrInvalidAccountDataLength
	ErrMaxSeedLengthExceeded
	ErrAddressWithSeedMismatch
	ErrNonceNoRecentBlockhashes
	ErrNonceBlockhashNotExpired
	ErrNonceUnexpectedBlockhashValue
)

// MaxPermittedDataLength is the largest account the program will allocate.
const MaxPermittedDataLength = 10 * 1024 * 1024

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// reader decodes bincode instruction arguments, remembering the first error.
type reader struct {
	dec *bin.Decoder
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.dec.ReadUint32(bin.LE)
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	var v uint64
	v, r.err = r.dec.ReadUint64(bin.LE)
	return v
}

func (r *reader) pubkey() types.Pubkey {
	var p types.Pubkey
	if r.err != nil {
		return p
	}
	var b []byte
	if b, r.err = r.dec.ReadBytes(types.PubkeySize); r.err == nil {
		copy(p[:], b)
	}
	return p
}

func (r *reader) seed() string {
	n := r.u64()
	if r.err != nil {
		return ""
	}
	if n > uint64(r.dec.Remaining()) {
		r.err = svm.ErrInvalidInstructionData
		return ""
	}
	var b []byte
	b, r.err = r.dec.ReadBytes(int(n))
	return string(b)
}

// Process executes the instruction the context points at.
func (p *Processor) Process(ctx *svm.InvokeContext) error {
	r := &reader{dec: bin.NewBinDecoder(ctx.Data())}
	tag := r.u32()
	if r.err != nil {
		return svm.ErrInvalidInstructionData
	}

	switch tag {
	case InstructionCreateAccount:
		lamports, space, owner := r.u64(), r.u64(), r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		if err := ctx.CheckNumAccounts(2); err != nil {
			return err
		}
		to, err := ctx.Account(1)
		if err != nil {
			return err
		}
		return p.createAccount(ctx, to.Key, lamports, space, owner)

	case InstructionCreateAccountWithSeed:
		base, seed := r.pubkey(), r.seed()
		lamports, space, owner := r.u64(), r.u64(), r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		if err := ctx.CheckNumAccounts(2); err != nil {
			return err
		}
		to, err := ctx.Account(1)
		if err != nil {
			return err
		}
		if err := verifySeedAddress(ctx, to.Key, base, seed, owner); err != nil {
			return err
		}
		return p.createAccount(ctx, base, lamports, space, owner)

	case InstructionAssign:
		owner := r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		account, err := ctx.Account(0)
		if err != nil {
			return err
		}
		return assign(ctx, account, account.Key, owner)

	case InstructionTransfer:
		lamports := r.u64()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		if err := ctx.CheckNumAccounts(2); err != nil {
			return err
		}
		return transfer(ctx, 0, 1, lamports)

	case InstructionAllocate:
		space := r.u64()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		account, err := ctx.Account(0)
		if err != nil {
			return err
		}
		return allocate(ctx, account, account.Key, space)

	case InstructionAllocateWithSeed:
		base, seed, space, owner := r.pubkey(), r.seed(), r.u64(), r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		account, err := ctx.Account(0)
		if err != nil {
			return err
		}
		if err := verifySeedAddress(ctx, account.Key, base, seed, owner); err != nil {
			return err
		}
		if err := allocate(ctx, account, base, space); err != nil {
			return err
		}
		return assign(ctx, account, base, owner)

	case InstructionAssignWithSeed:
		base, seed, owner := r.pubkey(), r.seed(), r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		account, err := ctx.Account(0)
		if err != nil {
			return err
		}
		if err := verifySeedAddress(ctx, account.Key, base, seed, owner); err != nil {
			return err
		}
		return assign(ctx, account, base, owner)

	case InstructionTransferWithSeed:
		lamports, seed, fromOwner := r.u64(), r.seed(), r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		return transferWithSeed(ctx, lamports, seed, fromOwner)

	case InstructionAdvanceNonceAccount:
		return advanceNonceAccount(ctx)

	case InstructionWithdrawNonceAccount:
		lamports := r.u64()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		return withdrawNonceAccount(ctx, lamports)

	case InstructionInitializeNonceAccount:
		authority := r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		return initializeNonceAccount(ctx, authority)

	case InstructionAuthorizeNonceAccount:
		authority := r.pubkey()
		if r.err != nil {
			return svm.ErrInvalidInstructionData
		}
		return authorizeNonceAccount(ctx, authority)

	case InstructionUpgradeNonceAccount:
		return upgradeNonceAccount(ctx)

	default:
		return svm.ErrInvalidInstructionData
	}
}

// createAccount funds, allocates and assigns instruction account 1 from
// account 0. signer is the address that must authorize the allocation.
func (p *Processor) createAccount(ctx *svm.InvokeContext, signer types.Pubkey, lamports, space uint64, owner types.Pubkey) error {
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}
	if to.Lamports > 0 {
		ctx.Log("Create Account: account %s already in use", to.Key)
		return ErrAccountAlreadyInUse
	}
	if err := allocate(ctx, to, signer, space); err != nil {
		return err
	}
	if err := assign(ctx, to, signer, owner); err != nil {
		return err
	}
	return transfer(ctx, 0, 1, lamports)
}

func allocate(ctx *svm.InvokeContext, account *svm.BorrowedAccount, signer types.Pubkey, space uint64) error {
	if !ctx.IsSigner(signer) {
		ctx.Log("Allocate: 'to' account %s must sign", signer)
		return svm.ErrMissingRequiredSignature
	}
	if len(account.Data) > 0 || account.Owner != types.SystemProgramAddr {
		ctx.Log("Allocate: account %s already in use", account.Key)
		return ErrAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		ctx.Log("Allocate: requested %d, max allowed %d", space, MaxPermittedDataLength)
		return ErrInvalidAccountDataLength
	}
	account.Data = make([]byte, space)
	return nil
}

func assign(ctx *svm.InvokeContext, account *svm.BorrowedAccount, signer types.Pubkey, owner types.Pubkey) error {
	if account.Owner == owner {
		return nil
	}
	if !ctx.IsSigner(signer) {
		ctx.Log("Assign: account %s must sign", signer)
		return svm.ErrMissingRequiredSignature
	}
	account.Owner = owner
	return nil
}

func transfer(ctx *svm.InvokeContext, fromIndex, toIndex int, lamports uint64) error {
	from, err := ctx.Account(fromIndex)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		ctx.Log("Transfer: `from` account %s must sign", from.Key)
		return svm.ErrMissingRequiredSignature
	}
	return transferVerified(ctx, from, toIndex, lamports)
}

func transferVerified(ctx *svm.InvokeContext, from *svm.BorrowedAccount, toIndex int, lamports uint64) error {
	if len(from.Data) > 0 {
		ctx.Log("Transfer: `from` must not carry data")
		return svm.ErrInvalidArgument
	}
	if lamports > from.Lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports)
		return ErrResultWithNegativeLamports
	}
	to, err := ctx.Account(toIndex)
	if err != nil {
		return err
	}
	if err := from.CheckedSubLamports(lamports); err != nil {
		return err
	}
	return to.CheckedAddLamports(lamports)
}

func transferWithSeed(ctx *svm.InvokeContext, lamports uint64, seed string, fromOwner types.Pubkey) error {
	if err := ctx.CheckNumAccounts(3); err != nil {
		return err
	}
	from, err := ctx.Account(0)
	if err != nil {
		return err
	}
	base, err := ctx.Account(1)
	if err != nil {
		return err
	}
	if !base.IsSigner {
		ctx.Log("Transfer: 'from' account %s must sign", base.Key)
		return svm.ErrMissingRequiredSignature
	}
	if err := verifySeedAddress(ctx, from.Key, base.Key, seed, fromOwner); err != nil {
		return err
	}
	return transferVerified(ctx, from, 2, lamports)
}

func verifySeedAddress(ctx *svm.InvokeContext, address, base types.Pubkey, seed string, owner types.Pubkey) error {
	derived, err := types.CreateWithSeed(base, seed, owner)
	switch err {
	case nil:
	case types.ErrMaxSeedLengthExceeded:
		return ErrMaxSeedLengthExceeded
	default:
		return ErrAddressWithSeedMismatch
	}
	if derived != address {
		ctx.Log("Create: address %s does not match derived address %s", address, derived)
		return ErrAddressWithSeedMismatch
	}
	return nil
}
