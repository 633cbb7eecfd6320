package ledger

import (
	"fmt"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/precompile"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/rent"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// execution is the outcome of running a transaction through the pipeline
// up to, but not including, commit.
type execution struct {
	signature types.Signature
	err       error

	// executed is set once the transaction reached the executor. Only
	// executed transactions are charged and recorded.
	executed bool

	payer        types.Pubkey
	fee          uint64
	postAccounts []accounts.KeyedAccount
	programs     *programcache.Overlay
	result       *svm.ExecutionResult
}

func (x *execution) metadata(logs []string) TransactionMetadata {
	meta := TransactionMetadata{Signature: x.signature, Logs: logs, Fee: x.fee}
	if x.result != nil {
		meta.InnerInstructions = x.result.InnerInstructions
		meta.ComputeUnitsConsumed = x.result.ComputeUnitsConsumed
		meta.ReturnData = x.result.ReturnData
	}
	return meta
}

// Send executes tx and commits its effects. A transaction that executes
// but fails is still charged its fee and recorded in the history. The
// returned error is always a *FailedTransactionMetadata.
func (e *Engine) Send(tx *transaction.Transaction) (*TransactionMetadata, error) {
	logs := e.newLogCollector()
	x := e.execute(tx, logs)
	meta := x.metadata(logs.Drain())

	if x.err != nil {
		if x.executed {
			if err := e.store.Withdraw(x.payer, x.fee); err != nil {
				e.log.Error().Err(err).
					Stringer("signature", x.signature).
					Stringer("payer", x.payer).
					Uint64("fee", x.fee).
					Msg("failed to withdraw fee")
			}
			e.history.Insert(x.signature, &Outcome{Meta: meta, Err: x.err})
		}
		e.log.Debug().
			Stringer("signature", x.signature).
			Bool("executed", x.executed).
			Uint64("fee", x.fee).
			Uint64("compute_units", meta.ComputeUnitsConsumed).
			AnErr("error", x.err).
			Msg("transaction failed")
		return nil, &FailedTransactionMetadata{Err: x.err, Meta: meta}
	}

	if err := e.store.Sync(x.postAccounts); err != nil {
		e.log.Error().Err(err).Stringer("signature", x.signature).Msg("failed to commit accounts")
		return nil, &FailedTransactionMetadata{Err: err, Meta: meta}
	}
	x.programs.Commit()
	e.history.Insert(x.signature, &Outcome{Meta: meta})

	e.log.Debug().
		Stringer("signature", x.signature).
		Uint64("fee", x.fee).
		Uint64("compute_units", meta.ComputeUnitsConsumed).
		Msg("transaction committed")
	return &meta, nil
}

// Simulate executes tx without committing anything or touching the
// history.
func (e *Engine) Simulate(tx *transaction.Transaction) (*SimulatedTransactionInfo, error) {
	logs := e.newLogCollector()
	x := e.execute(tx, logs)
	meta := x.metadata(logs.Drain())
	if x.err != nil {
		return nil, &FailedTransactionMetadata{Err: x.err, Meta: meta}
	}
	return &SimulatedTransactionInfo{Meta: meta, PostAccounts: x.postAccounts}, nil
}

func (e *Engine) newLogCollector() *svm.LogCollector {
	return svm.NewLogCollector(e.logBytesLimit)
}

// execute runs every pipeline stage short of commit. Accounts are loaded as
// copies, so nothing in the store changes.
func (e *Engine) execute(tx *transaction.Transaction, logs *svm.LogCollector) *execution {
	x := &execution{signature: tx.Signature()}

	stx, err := transaction.Sanitize(tx, e.store)
	if err != nil {
		x.err = err
		return x
	}
	msg := stx.Message()

	if e.sigVerify {
		if err := stx.VerifySignatures(); err != nil {
			x.err = err
			return x
		}
		if err := precompile.VerifyMessage(msg); err != nil {
			x.err = err
			return x
		}
	}

	if e.blockhashCheck {
		if err := e.checkTransactionAge(msg); err != nil {
			e.log.Error().Err(err).
				Stringer("signature", x.signature).
				Stringer("blockhash", msg.RecentBlockhash()).
				Msg("transaction blockhash rejected")
			x.err = err
			return x
		}
	}
	if e.history.Capacity() > 0 && e.history.Contains(x.signature) {
		x.err = transaction.ErrAlreadyProcessed
		return x
	}
	limits, err := svm.ProcessComputeBudgetInstructions(msg)
	if err != nil {
		x.err = err
		return x
	}

	e.process(x, msg, limits, logs)
	return x
}

func (e *Engine) process(x *execution, msg *transaction.SanitizedMessage, limits svm.ComputeBudgetLimits, logs *svm.LogCollector) {
	budget := limits.Budget()
	if e.computeBudget != nil {
		budget = *e.computeBudget
	}
	rentSchedule, err := e.store.Sysvars().Rent()
	if err != nil {
		x.err = err
		return
	}
	x.fee = e.calculateFee(msg, limits)

	keys := msg.AccountKeys()
	txAccounts := make([]svm.TransactionAccount, 0, len(keys))
	payerValidated := false
	for i, key := range keys {
		var acc *accounts.Account
		if key == types.SysvarInstructionsAddr {
			acc = &accounts.Account{
				Data:  sysvar.ConstructInstructionsData(msg),
				Owner: types.SysvarOwnerAddr,
			}
		} else {
			var ok bool
			if acc, ok = e.store.Get(key); !ok {
				acc = &accounts.Account{}
			}
			if !payerValidated && (!msg.IsInvoked(i) || msg.IsInstructionAccount(i)) {
				if err := e.validateFeePayer(key, acc, i, x.fee, &rentSchedule); err != nil {
					e.log.Error().Err(err).
						Stringer("signature", x.signature).
						Stringer("payer", key).
						Msg("fee payer rejected")
					x.err = err
					return
				}
				payerValidated = true
				x.payer = key
			}
		}
		txAccounts = append(txAccounts, svm.TransactionAccount{Key: key, Account: acc})
	}
	if !payerValidated {
		e.log.Error().Stringer("signature", x.signature).Msg("no fee payer found")
		x.err = transaction.ErrAccountNotFound
		return
	}

	programIndices, txAccounts, err := e.resolvePrograms(msg, txAccounts)
	if err != nil {
		e.log.Error().Err(err).Stringer("signature", x.signature).Msg("program resolution failed")
		x.err = err
		return
	}

	x.programs = e.store.Programs().NewOverlay()
	x.executed = true
	x.result = e.executor.Execute(&svm.ExecutionRequest{
		Message:              msg,
		Accounts:             txAccounts,
		ProgramIndices:       programIndices,
		Budget:               budget,
		Sysvars:              e.store.Sysvars(),
		Programs:             x.programs,
		Features:             e.features,
		Logs:                 logs,
		Blockhash:            e.latestBlockhash,
		LamportsPerSignature: e.lamportsPerSignature,
	})
	if x.result == nil {
		x.result = &svm.ExecutionResult{}
	}
	x.err = x.result.Err
	if len(x.result.Accounts) < len(keys) {
		e.log.Error().
			Stringer("signature", x.signature).
			Int("accounts", len(x.result.Accounts)).
			Int("expected", len(keys)).
			Msg("invalid execution result")
		if x.err == nil {
			x.err = fmt.Errorf("%w: got %d accounts, want %d", ErrInvalidExecutionResult, len(x.result.Accounts), len(keys))
		}
		return
	}
	if x.err == nil {
		x.err = e.checkAccountsRent(msg, x.result.Accounts, &rentSchedule)
	}

	for i := range keys {
		if msg.IsWritable(i) {
			ta := x.result.Accounts[i]
			x.postAccounts = append(x.postAccounts, accounts.KeyedAccount{Pubkey: ta.Key, Account: ta.Account})
		}
	}
}

// resolvePrograms maps each instruction to the index of its program
// account. The owner of every invoked program that is not a native program
// is appended to the account list, so the executor can check the loader.
func (e *Engine) resolvePrograms(msg *transaction.SanitizedMessage, txAccounts []svm.TransactionAccount) ([][]int, []svm.TransactionAccount, error) {
	ixs := msg.Instructions()
	indices := make([][]int, len(ixs))
	for i, ix := range ixs {
		programIndex := int(ix.ProgramIDIndex)
		programID := txAccounts[programIndex].Key
		if programID == types.NativeLoaderAddr {
			continue
		}
		program := txAccounts[programIndex].Account
		if !program.Executable {
			return nil, nil, transaction.ErrInvalidProgramForExecution
		}
		indices[i] = []int{programIndex}

		owner := program.Owner
		if owner == types.NativeLoaderAddr || containsKey(txAccounts, owner) {
			continue
		}
		ownerAccount, ok := e.store.Get(owner)
		if !ok {
			return nil, nil, transaction.ErrProgramAccountNotFound
		}
		if ownerAccount.Owner != types.NativeLoaderAddr || !ownerAccount.Executable {
			return nil, nil, transaction.ErrInvalidProgramForExecution
		}
		txAccounts = append(txAccounts, svm.TransactionAccount{Key: owner, Account: ownerAccount})
	}
	return indices, txAccounts, nil
}

func containsKey(txAccounts []svm.TransactionAccount, key types.Pubkey) bool {
	for _, ta := range txAccounts {
		if ta.Key == key {
			return true
		}
	}
	return false
}

// checkAccountsRent verifies the rent state transition of every writable
// account left with data.
func (e *Engine) checkAccountsRent(msg *transaction.SanitizedMessage, post []svm.TransactionAccount, r *sysvar.Rent) error {
	for i := range msg.AccountKeys() {
		if !msg.IsWritable(i) {
			continue
		}
		ta := post[i]
		if len(ta.Account.Data) == 0 {
			continue
		}
		pre := rent.State{Kind: rent.Uninitialized}
		if acc, ok := e.store.Get(ta.Key); ok {
			pre = rent.Classify(acc.Lamports, uint64(len(acc.Data)), r)
		}
		postState := rent.Classify(ta.Account.Lamports, uint64(len(ta.Account.Data)), r)
		if !rent.CheckTransition(ta.Key, pre, postState) {
			return &transaction.InsufficientFundsForRentError{AccountIndex: uint8(i)}
		}
	}
	return nil
}
