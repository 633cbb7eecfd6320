package ledger

import (
	"fmt"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
)

// TransactionMetadata describes an executed transaction.
type TransactionMetadata struct {
	Signature            types.Signature
	Logs                 []string
	InnerInstructions    [][]svm.InnerInstruction
	ComputeUnitsConsumed uint64
	ReturnData           svm.ReturnData

	// Fee is the fee charged, or that would be charged, to the fee payer.
	Fee uint64
}

// FailedTransactionMetadata is the error returned for a failed transaction.
// Meta carries whatever the pipeline gathered before the failure; for a
// transaction rejected before execution it holds only the signature.
type FailedTransactionMetadata struct {
	Err  error
	Meta TransactionMetadata
}

func (f *FailedTransactionMetadata) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", f.Meta.Signature, f.Err)
}

func (f *FailedTransactionMetadata) Unwrap() error { return f.Err }

// SimulatedTransactionInfo is the result of a simulation. PostAccounts are
// the writable accounts as they would be committed.
type SimulatedTransactionInfo struct {
	Meta         TransactionMetadata
	PostAccounts []accounts.KeyedAccount
}

// Outcome is what the history records for a transaction.
type Outcome struct {
	Meta TransactionMetadata

	// Err is nil for committed transactions.
	Err error
}

// Succeeded reports whether the transaction was committed.
func (o *Outcome) Succeeded() bool { return o.Err == nil }
