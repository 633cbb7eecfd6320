package ledger

import (
	"math/bits"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/rent"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// calculateFee charges every transaction and precompile signature at the
// engine's rate, plus the prioritization fee the transaction asked for.
func (e *Engine) calculateFee(msg *transaction.SanitizedMessage, limits svm.ComputeBudgetLimits) uint64 {
	signatures := uint64(msg.Header().NumRequiredSignatures) + msg.NumPrecompileSignatures()
	hi, base := bits.Mul64(e.lamportsPerSignature, signatures)
	if hi != 0 {
		return ^uint64(0)
	}
	fee, carry := bits.Add64(base, limits.PrioritizationFee(), 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return fee
}

// validateFeePayer checks that acc can pay fee and debits it. A nonce
// account must keep its rent exemption minimum, and the debit must leave
// the account in a rent state it may move into.
func (e *Engine) validateFeePayer(addr types.Pubkey, acc *accounts.Account, index int, fee uint64, r *sysvar.Rent) error {
	if acc.Lamports == 0 {
		return transaction.ErrAccountNotFound
	}
	kind, ok := nonce.SystemAccountKind(acc.Owner, acc.Data)
	if !ok {
		return transaction.ErrInvalidAccountForFee
	}

	var minBalance uint64
	if kind == nonce.NonceAccount {
		minBalance = r.MinimumBalance(nonce.StateSize)
	}
	if acc.Lamports < minBalance || acc.Lamports-minBalance < fee {
		return transaction.ErrInsufficientFundsForFee
	}

	dataLen := uint64(len(acc.Data))
	pre := rent.Classify(acc.Lamports, dataLen, r)
	acc.Lamports -= fee
	post := rent.Classify(acc.Lamports, dataLen, r)
	if !rent.CheckTransition(addr, pre, post) {
		return &transaction.InsufficientFundsForRentError{AccountIndex: uint8(index)}
	}
	return nil
}
