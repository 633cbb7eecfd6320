package transaction

import (
	"errors"
	"fmt"
)

// Transaction-level errors. A transaction that fails with one of these either
// never reached execution, or executed and was charged a fee.
var (
	ErrAccountInUse                       = errors.New("account in use")
	ErrAccountLoadedTwice                 = errors.New("account loaded twice")
	ErrAccountNotFound                    = errors.New("attempt to debit an account but found no record of a prior credit")
	ErrProgramAccountNotFound             = errors.New("attempt to load a program that does not exist")
	ErrInsufficientFundsForFee            = errors.New("insufficient funds for fee")
	ErrInvalidAccountForFee               = errors.New("this account may not be used to pay transaction fees")
	ErrAlreadyProcessed                   = errors.New("this transaction has already been processed")
	ErrBlockhashNotFound                  = errors.New("blockhash not found")
	ErrInvalidAccountIndex                = errors.New("transaction contains an invalid account reference")
	ErrInvalidProgramForExecution         = errors.New("this program may not be used for executing instructions")
	ErrSanitizeFailure                    = errors.New("transaction failed to sanitize accounts offsets correctly")
	ErrSignatureFailure                   = errors.New("transaction did not pass signature verification")
	ErrTooManyAccountLocks                = errors.New("transaction locked too many accounts")
	ErrAddressLookupTableNotFound         = errors.New("transaction loads an address table account that doesn't exist")
	ErrInvalidAddressLookupTableOwner     = errors.New("transaction loads an address table account with an invalid owner")
	ErrInvalidAddressLookupTableData      = errors.New("transaction loads an address table account with invalid data")
	ErrInvalidAddressLookupTableIndex     = errors.New("transaction address table lookup uses an invalid index")
	ErrInvalidLoadedAccountsDataSizeLimit = errors.New("loaded accounts data size limit requested for this transaction is invalid")
	ErrUnsupportedVersion                 = errors.New("transaction version is unsupported")
)

// InstructionError reports the failure of a single instruction.
type InstructionError struct {
	Index uint8
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("error processing instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// NewInstructionError wraps err as the failure of instruction index.
func NewInstructionError(index int, err error) *InstructionError {
	return &InstructionError{Index: uint8(index), Err: err}
}

// DuplicateInstructionError is returned when a compute budget directive
// appears more than once.
type DuplicateInstructionError struct {
	Index uint8
}

func (e *DuplicateInstructionError) Error() string {
	return fmt.Sprintf("transaction contains a duplicate instruction (%d) that is not allowed", e.Index)
}

// InsufficientFundsForRentError is returned when a writable account ends the
// transaction in a rent state it is not allowed to transition into.
type InsufficientFundsForRentError struct {
	AccountIndex uint8
}

func (e *InsufficientFundsForRentError) Error() string {
	return fmt.Sprintf("transaction results in an account (%d) with insufficient funds for rent", e.AccountIndex)
}
