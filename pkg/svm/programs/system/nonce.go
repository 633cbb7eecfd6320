package system

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
)

func checkSysvarAccount(ctx *svm.InvokeContext, index int, address types.Pubkey) error {
	account, err := ctx.Account(index)
	if err != nil {
		return err
	}
	if account.Key != address {
		return svm.ErrInvalidArgument
	}
	return nil
}

// writableNonce returns instruction account 0 with its decoded state.
func writableNonce(ctx *svm.InvokeContext, op string) (*svm.BorrowedAccount, *nonce.Versions, error) {
	account, err := ctx.Account(0)
	if err != nil {
		return nil, nil, err
	}
	if !account.IsWritable {
		ctx.Log("%s nonce account: Account %s must be writeable", op, account.Key)
		return nil, nil, svm.ErrInvalidArgument
	}
	if len(account.Data) < nonce.StateSize {
		return nil, nil, svm.ErrInvalidAccountData
	}
	state, err := nonce.Decode(account.Data)
	if err != nil {
		return nil, nil, svm.ErrInvalidAccountData
	}
	return account, state, nil
}

func storeNonce(account *svm.BorrowedAccount, state *nonce.Versions) {
	copy(account.Data, state.Encode())
}

func requireRecentBlockhashes(ctx *svm.InvokeContext, index int) error {
	if err := checkSysvarAccount(ctx, index, types.SysvarRecentBlockhashesAddr); err != nil {
		return err
	}
	recent, err := ctx.RecentBlockhashes()
	if err != nil {
		return svm.ErrInvalidArgument
	}
	if len(recent) == 0 {
		ctx.Log("Advance nonce account: recent blockhash list is empty")
		return ErrNonceNoRecentBlockhashes
	}
	return nil
}

func advanceNonceAccount(ctx *svm.InvokeContext) error {
	if err := ctx.CheckNumAccounts(2); err != nil {
		return err
	}
	if err := requireRecentBlockhashes(ctx, 1); err != nil {
		return err
	}
	account, state, err := writableNonce(ctx, "Advance")
	if err != nil {
		return err
	}
	if !state.Initialized {
		ctx.Log("Advance nonce account: Account %s state is invalid", account.Key)
		return svm.ErrInvalidAccountData
	}
	if !ctx.IsSigner(state.Data.Authority) {
		ctx.Log("Advance nonce account: Account %s must be a signer", state.Data.Authority)
		return svm.ErrMissingRequiredSignature
	}
	next := nonce.DurableNonce(ctx.Blockhash)
	if state.Data.DurableNonce == next {
		ctx.Log("Advance nonce account: nonce can only advance once per slot")
		return ErrNonceBlockhashNotExpired
	}
	storeNonce(account, nonce.NewInitialized(state.Data.Authority, next, ctx.LamportsPerSignature))
	return nil
}

func withdrawNonceAccount(ctx *svm.InvokeContext, lamports uint64) error {
	if err := ctx.CheckNumAccounts(4); err != nil {
		return err
	}
	if err := checkSysvarAccount(ctx, 2, types.SysvarRecentBlockhashesAddr); err != nil {
		return err
	}
	if err := checkSysvarAccount(ctx, 3, types.SysvarRentAddr); err != nil {
		return err
	}
	from, state, err := writableNonce(ctx, "Withdraw")
	if err != nil {
		return err
	}

	signer := from.Key
	if !state.Initialized {
		if lamports > from.Lamports {
			ctx.Log("Withdraw nonce account: insufficient lamports %d, need %d", from.Lamports, lamports)
			return svm.ErrInsufficientFunds
		}
	} else {
		if lamports == from.Lamports {
			if state.Data.DurableNonce == nonce.DurableNonce(ctx.Blockhash) {
				ctx.Log("Withdraw nonce account: nonce can only advance once per slot")
				return ErrNonceBlockhashNotExpired
			}
			storeNonce(from, &nonce.Versions{Version: nonce.Current})
		} else {
			rent, err := ctx.Rent()
			if err != nil {
				return svm.ErrInvalidArgument
			}
			minBalance := rent.MinimumBalance(uint64(len(from.Data)))
			if lamports > from.Lamports || from.Lamports-lamports < minBalance {
				ctx.Log("Withdraw nonce account: insufficient lamports %d, need %d", from.Lamports, lamports+minBalance)
				return svm.ErrInsufficientFunds
			}
		}
		signer = state.Data.Authority
	}

	if !ctx.IsSigner(signer) {
		ctx.Log("Withdraw nonce account: Account %s must sign", signer)
		return svm.ErrMissingRequiredSignature
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}
	if err := from.CheckedSubLamports(lamports); err != nil {
		return svm.ErrInsufficientFunds
	}
	return to.CheckedAddLamports(lamports)
}

func initializeNonceAccount(ctx *svm.InvokeContext, authority types.Pubkey) error {
	if err := ctx.CheckNumAccounts(3); err != nil {
		return err
	}
	if err := requireRecentBlockhashes(ctx, 1); err != nil {
		return err
	}
	if err := checkSysvarAccount(ctx, 2, types.SysvarRentAddr); err != nil {
		return err
	}
	account, state, err := writableNonce(ctx, "Initialize")
	if err != nil {
		return err
	}
	if state.Initialized {
		ctx.Log("Initialize nonce account: Account %s state is invalid", account.Key)
		return svm.ErrInvalidAccountData
	}
	rent, err := ctx.Rent()
	if err != nil {
		return svm.ErrInvalidArgument
	}
	minBalance := rent.MinimumBalance(uint64(len(account.Data)))
	if account.Lamports < minBalance {
		ctx.Log("Initialize nonce account: insufficient lamports %d, need %d", account.Lamports, minBalance)
		return svm.ErrInsufficientFunds
	}
	storeNonce(account, nonce.NewInitialized(authority, nonce.DurableNonce(ctx.Blockhash), ctx.LamportsPerSignature))
	return nil
}

func authorizeNonceAccount(ctx *svm.InvokeContext, authority types.Pubkey) error {
	account, state, err := writableNonce(ctx, "Authorize")
	if err != nil {
		return err
	}
	if !state.Initialized {
		ctx.Log("Authorize nonce account: Account %s state is invalid", account.Key)
		return svm.ErrInvalidAccountData
	}
	if !ctx.IsSigner(state.Data.Authority) {
		ctx.Log("Authorize nonce account: Account %s must sign", state.Data.Authority)
		return svm.ErrMissingRequiredSignature
	}
	state.Data.Authority = authority
	storeNonce(account, state)
	return nil
}

func upgradeNonceAccount(ctx *svm.InvokeContext) error {
	account, err := ctx.Account(0)
	if err != nil {
		return err
	}
	if account.Owner != types.SystemProgramAddr {
		return svm.ErrInvalidAccountOwner
	}
	_, state, err := writableNonce(ctx, "Upgrade")
	if err != nil {
		return err
	}
	upgraded, ok := state.Upgrade()
	if !ok {
		return svm.ErrInvalidArgument
	}
	storeNonce(account, upgraded)
	return nil
}
