package executor

import (
	"bytes"
	"math/bits"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
)

// preAccount is the state of an instruction account before the instruction.
type preAccount struct {
	index      int
	writable   bool
	lamports   uint64
	owner      types.Pubkey
	executable bool
	data       []byte
}

// snapshot records every distinct instruction account of ctx.
func snapshot(ctx *svm.InvokeContext) []preAccount {
	seen := make(map[int]bool)
	var pre []preAccount
	for _, ia := range ctx.InstructionAccounts() {
		if seen[ia.IndexInTransaction] {
			continue
		}
		seen[ia.IndexInTransaction] = true
		a := ctx.Tx.Accounts[ia.IndexInTransaction].Account
		pre = append(pre, preAccount{
			index:      ia.IndexInTransaction,
			writable:   ia.IsWritable,
			lamports:   a.Lamports,
			owner:      a.Owner,
			executable: a.Executable,
			data:       append([]byte(nil), a.Data...),
		})
	}
	return pre
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// verify checks the changes the program made to its accounts:
// - only the owner may debit lamports or change data
// - read-only accounts are unchanged
// - ownership moves only from the program, and only with zeroed data
// - the executable flag is unchanged
// - lamports summed over the accounts are conserved
func verify(ctx *svm.InvokeContext, pre []preAccount) error {
	programID := ctx.ProgramID()
	var preHi, preLo, postHi, postLo, carry uint64
	for _, p := range pre {
		post := ctx.Tx.Accounts[p.index].Account
		ownedByProgram := p.owner == programID

		if p.owner != post.Owner && (!p.writable || !ownedByProgram || !isZeroed(post.Data)) {
			return svm.ErrModifiedProgramID
		}
		if !ownedByProgram && post.Lamports < p.lamports {
			return svm.ErrExternalAccountLamportSpend
		}
		if !p.writable && post.Lamports != p.lamports {
			return svm.ErrReadonlyLamportChange
		}
		if !bytes.Equal(p.data, post.Data) {
			if !p.writable {
				return svm.ErrReadonlyDataModified
			}
			if !ownedByProgram {
				return svm.ErrExternalAccountDataModified
			}
		}
		if p.executable != post.Executable {
			return svm.ErrExecutableModified
		}

		preLo, carry = bits.Add64(preLo, p.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, post.Lamports, 0)
		postHi += carry
	}
	if preHi != postHi || preLo != postLo {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}
