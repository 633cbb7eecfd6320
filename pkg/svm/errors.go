package svm

import (
	"errors"
	"fmt"
)

// Instruction errors. A failing instruction reports one of these, or a
// CustomError, wrapped by the executor in a transaction.InstructionError.
var (
	ErrGenericError                = errors.New("generic instruction error")
	ErrInvalidArgument             = errors.New("invalid program argument")
	ErrInvalidInstructionData      = errors.New("invalid instruction data")
	ErrInvalidAccountData          = errors.New("invalid account data for instruction")
	ErrAccountDataTooSmall         = errors.New("account data too small for instruction")
	ErrInsufficientFunds           = errors.New("insufficient funds for instruction")
	ErrIncorrectProgramID          = errors.New("incorrect program id for instruction")
	ErrMissingRequiredSignature    = errors.New("missing required signature for instruction")
	ErrAccountAlreadyInitialized   = errors.New("instruction requires an uninitialized account")
	ErrUninitializedAccount        = errors.New("instruction requires an initialized account")
	ErrUnbalancedInstruction       = errors.New("sum of account balances before and after instruction do not match")
	ErrModifiedProgramID           = errors.New("instruction illegally modified the program id of an account")
	ErrExternalAccountLamportSpend = errors.New("instruction spent from the balance of an account it does not own")
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")
	ErrReadonlyLamportChange       = errors.New("instruction changed the balance of a read-only account")
	ErrReadonlyDataModified        = errors.New("instruction modified data of a read-only account")
	ErrExecutableModified          = errors.New("instruction changed executable bit of an account")
	ErrNotEnoughAccountKeys        = errors.New("insufficient account keys for instruction")
	ErrInvalidAccountOwner         = errors.New("invalid account owner")
	ErrArithmeticOverflow          = errors.New("program arithmetic overflowed")
	ErrUnsupportedProgramID        = errors.New("unsupported program id")
	ErrComputationalBudgetExceeded = errors.New("computational budget exceeded")
	ErrInvalidSeeds                = errors.New("provided seeds do not result in a valid address")
	ErrInvalidRealloc              = errors.New("failed to reallocate account data")
	ErrProgramFailedToComplete     = errors.New("program failed to complete")
)

// CustomError is a program-defined error code.
type CustomError uint32

func (e CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", uint32(e))
}
