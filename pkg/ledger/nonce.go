package ledger

import (
	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// checkTransactionAge accepts a transaction that references the latest
// blockhash or advances a durable nonce holding its recent blockhash.
func (e *Engine) checkTransactionAge(msg *transaction.SanitizedMessage) error {
	recent := msg.RecentBlockhash()
	if recent == e.latestBlockhash {
		return nil
	}
	// A nonce stored at the current blockhash cannot be advanced again.
	if recent == nonce.DurableNonce(e.latestBlockhash) {
		return transaction.ErrBlockhashNotFound
	}
	if !e.checkNonce(msg, recent) {
		return transaction.ErrBlockhashNotFound
	}
	return nil
}

func (e *Engine) checkNonce(msg *transaction.SanitizedMessage, recent types.Hash) bool {
	addr, ok := nonceAddress(msg)
	if !ok {
		return false
	}
	acc, ok := e.store.Get(addr)
	if !ok || acc.Owner != types.SystemProgramAddr {
		return false
	}
	state, err := nonce.Decode(acc.Data)
	if err != nil {
		return false
	}
	data, ok := state.VerifyRecentBlockhash(recent)
	if !ok {
		return false
	}

	keys := msg.AccountKeys()
	for _, idx := range msg.Instructions()[0].Accounts {
		if msg.IsSigner(int(idx)) && keys[idx] == data.Authority {
			return true
		}
	}
	return false
}

// nonceAddress returns the nonce account advanced by the first instruction,
// if that instruction is a system nonce advance on a writable account.
func nonceAddress(msg *transaction.SanitizedMessage) (types.Pubkey, bool) {
	ixs := msg.Instructions()
	if len(ixs) == 0 || msg.ProgramID(0) != types.SystemProgramAddr {
		return types.Pubkey{}, false
	}
	ix := ixs[0]
	tag, err := bin.NewBinDecoder(ix.Data).ReadUint32(bin.LE)
	if err != nil || tag != system.InstructionAdvanceNonceAccount {
		return types.Pubkey{}, false
	}
	if len(ix.Accounts) == 0 || !msg.IsWritable(int(ix.Accounts[0])) {
		return types.Pubkey{}, false
	}
	return msg.AccountKeys()[ix.Accounts[0]], true
}
