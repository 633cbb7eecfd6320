package ledger

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/testutil"
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/nonce"
	"github.com/fortiblox/X1-Sandbox/pkg/precompile"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/executor"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

const fee = DefaultLamportsPerSignature

func newEngine(t *testing.T, opts ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func fund(t *testing.T, e *Engine, lamports uint64) testutil.Keypair {
	t.Helper()
	kp := testutil.NewKeypair()
	require.NoError(t, e.SetAccount(kp.Pubkey, &accounts.Account{
		Lamports: lamports,
		Owner:    types.SystemProgramAddr,
	}))
	return kp
}

func sign(t *testing.T, blockhash types.Hash, payer testutil.Keypair, ixs []transaction.Instruction, signers ...testutil.Keypair) *transaction.Transaction {
	t.Helper()
	msg := transaction.NewMessage(ixs, &payer.Pubkey, blockhash)
	keys := []ed25519.PrivateKey{payer.Private}
	for _, s := range signers {
		keys = append(keys, s.Private)
	}
	tx, err := transaction.NewTransaction(msg, keys...)
	require.NoError(t, err)
	return tx
}

func balance(t *testing.T, e *Engine, addr types.Pubkey) uint64 {
	t.Helper()
	lamports, _ := e.GetBalance(addr)
	return lamports
}

func TestNew(t *testing.T) {
	e := newEngine(t)

	assert.Equal(t, types.ComputeHash([]byte("genesis")), e.LatestBlockhash())
	assert.Equal(t, uint64(DefaultAirdropLamports), balance(t, e, e.AirdropPubkey()))

	sys, ok := e.GetAccount(types.SystemProgramAddr)
	require.True(t, ok)
	assert.True(t, sys.Executable)
	assert.Equal(t, types.NativeLoaderAddr, sys.Owner)
	assert.Equal(t, []byte("system_program"), sys.Data)

	for _, id := range []types.Pubkey{types.Ed25519PrecompileAddr, types.Secp256k1PrecompileAddr} {
		acc, ok := e.GetAccount(id)
		require.True(t, ok)
		assert.True(t, acc.Executable)
	}

	var clock sysvar.Clock
	require.NoError(t, e.GetSysvar(&clock))
	assert.Equal(t, uint64(0), clock.Slot)

	var blockhashes sysvar.RecentBlockhashes
	require.NoError(t, e.GetSysvar(&blockhashes))
	require.Len(t, blockhashes, 1)
	assert.Equal(t, e.LatestBlockhash(), blockhashes[0].Blockhash)

	var hashes sysvar.SlotHashes
	require.NoError(t, e.GetSysvar(&hashes))
	assert.Equal(t, sysvar.SlotHashes{{Slot: 0, Hash: e.LatestBlockhash()}}, hashes)

	var stake sysvar.StakeHistory
	assert.NoError(t, e.GetSysvar(&stake))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = -1
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestNewSkipsGatedBuiltins(t *testing.T) {
	features := svm.AllEnabled()
	features.Deactivate(executor.LoaderV4Feature)
	e := newEngine(t, func(c *Config) { c.FeatureSet = features })

	_, ok := e.GetAccount(types.LoaderV4Addr)
	assert.False(t, ok)
	_, ok = e.GetAccount(types.BPFLoaderAddr)
	assert.True(t, ok)
}

func TestSetAccountRoundTrip(t *testing.T) {
	e := newEngine(t)
	addr := testutil.NewPubkey()
	acc := &accounts.Account{
		Lamports: 42,
		Data:     []byte{1, 2, 3},
		Owner:    testutil.NewPubkey(),
	}
	require.NoError(t, e.SetAccount(addr, acc))

	got, ok := e.GetAccount(addr)
	require.True(t, ok)
	assert.True(t, acc.Equal(got))

	got.Data[0] = 9
	again, _ := e.GetAccount(addr)
	assert.Equal(t, byte(1), again.Data[0])
}

func TestTransferEndToEnd(t *testing.T) {
	e := newEngine(t)
	a := testutil.NewKeypair()
	b := testutil.NewPubkey()

	_, err := e.Airdrop(a.Pubkey, 10*LamportsPerSOL)
	require.NoError(t, err)
	initial := balance(t, e, a.Pubkey)
	require.Equal(t, uint64(10*LamportsPerSOL), initial)

	tx := sign(t, e.LatestBlockhash(), a, []transaction.Instruction{system.Transfer(a.Pubkey, b, 64)})
	meta, err := e.Send(tx)
	require.NoError(t, err)

	assert.Equal(t, initial-64-fee, balance(t, e, a.Pubkey))
	assert.Equal(t, uint64(64), balance(t, e, b))
	assert.Equal(t, uint64(fee), meta.Fee)
	assert.Equal(t, svm.SystemProgramComputeUnits, meta.ComputeUnitsConsumed)
	assert.Equal(t, []string{
		"Program 11111111111111111111111111111111 invoke [1]",
		"Program 11111111111111111111111111111111 success",
	}, meta.Logs)

	outcome, ok := e.GetTransaction(tx.Signature())
	require.True(t, ok)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, tx.Signature(), outcome.Meta.Signature)
}

func TestDuplicateRejected(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1)})

	_, err := e.Send(tx)
	require.NoError(t, err)
	before := balance(t, e, payer.Pubkey)

	_, err = e.Send(tx)
	assert.ErrorIs(t, err, transaction.ErrAlreadyProcessed)
	assert.Equal(t, before, balance(t, e, payer.Pubkey))
}

func TestDuplicateAcceptedWithoutHistory(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.HistoryCapacity = 0 })
	payer := fund(t, e, LamportsPerSOL)
	to := testutil.NewPubkey()
	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Transfer(payer.Pubkey, to, 1)})

	_, err := e.Send(tx)
	require.NoError(t, err)
	_, err = e.Send(tx)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), balance(t, e, to))
	_, ok := e.GetTransaction(tx.Signature())
	assert.False(t, ok)
}

func TestHistoryBound(t *testing.T) {
	e := newEngine(t)
	e.ResizeHistory(2)

	var sigs []types.Signature
	for i := 0; i < 3; i++ {
		meta, err := e.Airdrop(testutil.NewPubkey(), 1_000_000)
		require.NoError(t, err)
		sigs = append(sigs, meta.Signature)
	}

	_, ok := e.GetTransaction(sigs[0])
	assert.False(t, ok)
	for _, sig := range sigs[1:] {
		_, ok := e.GetTransaction(sig)
		assert.True(t, ok)
	}
}

func TestFailedTransactionIsChargedAndRecorded(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 2*LamportsPerSOL),
	})

	_, err := e.Send(tx)
	var failed *FailedTransactionMetadata
	require.ErrorAs(t, err, &failed)
	var ixErr *transaction.InstructionError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, uint8(0), ixErr.Index)
	assert.ErrorIs(t, err, system.ErrResultWithNegativeLamports)
	assert.Equal(t, svm.SystemProgramComputeUnits, failed.Meta.ComputeUnitsConsumed)
	assert.NotEmpty(t, failed.Meta.Logs)

	assert.Equal(t, uint64(LamportsPerSOL-fee), balance(t, e, payer.Pubkey))

	outcome, ok := e.GetTransaction(tx.Signature())
	require.True(t, ok)
	assert.False(t, outcome.Succeeded())

	_, err = e.Send(tx)
	assert.ErrorIs(t, err, transaction.ErrAlreadyProcessed)
}

func TestBlockhashExpiry(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	stale := e.LatestBlockhash()
	require.NoError(t, e.ExpireBlockhash())
	assert.NotEqual(t, stale, e.LatestBlockhash())

	var blockhashes sysvar.RecentBlockhashes
	require.NoError(t, e.GetSysvar(&blockhashes))
	assert.Equal(t, e.LatestBlockhash(), blockhashes[0].Blockhash)

	tx := sign(t, stale, payer, []transaction.Instruction{system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1)})
	_, err := e.Send(tx)
	assert.ErrorIs(t, err, transaction.ErrBlockhashNotFound)
	assert.Equal(t, uint64(LamportsPerSOL), balance(t, e, payer.Pubkey))
	_, ok := e.GetTransaction(tx.Signature())
	assert.False(t, ok)
}

func TestBlockhashCheckDisabled(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.BlockhashCheck = false })
	payer := fund(t, e, LamportsPerSOL)
	tx := sign(t, types.Hash{7}, payer, []transaction.Instruction{system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1)})

	_, err := e.Send(tx)
	assert.NoError(t, err)
}

func TestSignatureVerification(t *testing.T) {
	build := func(t *testing.T, e *Engine) *transaction.Transaction {
		payer := fund(t, e, LamportsPerSOL)
		tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1)})
		tx.Signatures[0][0] ^= 0xff
		return tx
	}

	t.Run("enabled", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.Send(build(t, e))
		assert.ErrorIs(t, err, transaction.ErrSignatureFailure)
	})

	t.Run("disabled", func(t *testing.T) {
		e := newEngine(t, func(c *Config) { c.SigVerify = false })
		_, err := e.Send(build(t, e))
		assert.NoError(t, err)
	})
}

func TestPrecompileVerification(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	signer := testutil.NewKeypair()

	ix := precompile.NewEd25519Instruction(signer.Private, []byte("hello"))
	meta, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{ix}))
	require.NoError(t, err)
	assert.Equal(t, uint64(2*fee), meta.Fee)
	assert.Equal(t, uint64(0), meta.ComputeUnitsConsumed)

	bad := precompile.NewEd25519Instruction(signer.Private, []byte("hello again"))
	bad.Data[len(bad.Data)-1] ^= 1
	_, err = e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{bad}))
	var ixErr *transaction.InstructionError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, uint8(0), ixErr.Index)
	assert.ErrorIs(t, err, precompile.InvalidSignature)
}

func TestFeePayerValidation(t *testing.T) {
	e := newEngine(t)
	transferFrom := func(payer testutil.Keypair) *transaction.Transaction {
		return sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1)})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := e.Send(transferFrom(testutil.NewKeypair()))
		assert.ErrorIs(t, err, transaction.ErrAccountNotFound)
	})

	t.Run("not system owned", func(t *testing.T) {
		payer := testutil.NewKeypair()
		require.NoError(t, e.SetAccount(payer.Pubkey, &accounts.Account{Lamports: LamportsPerSOL, Owner: testutil.NewPubkey()}))
		_, err := e.Send(transferFrom(payer))
		assert.ErrorIs(t, err, transaction.ErrInvalidAccountForFee)
	})

	t.Run("underfunded", func(t *testing.T) {
		payer := fund(t, e, fee-1)
		tx := transferFrom(payer)
		_, err := e.Send(tx)
		assert.ErrorIs(t, err, transaction.ErrInsufficientFundsForFee)
		assert.Equal(t, uint64(fee-1), balance(t, e, payer.Pubkey))
		_, ok := e.GetTransaction(tx.Signature())
		assert.False(t, ok)
	})

	t.Run("left rent paying", func(t *testing.T) {
		payer := fund(t, e, e.MinimumBalanceForRentExemption(0))
		_, err := e.Send(transferFrom(payer))
		var rentErr *transaction.InsufficientFundsForRentError
		require.ErrorAs(t, err, &rentErr)
		assert.Equal(t, uint8(0), rentErr.AccountIndex)
	})
}

func TestRentTransition(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	account := fund(t, e, 1000)

	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Allocate(account.Pubkey, 10)}, account)
	_, err := e.Send(tx)
	var rentErr *transaction.InsufficientFundsForRentError
	require.ErrorAs(t, err, &rentErr)
	assert.Equal(t, uint8(1), rentErr.AccountIndex)

	acc, ok := e.GetAccount(account.Pubkey)
	require.True(t, ok)
	assert.Empty(t, acc.Data)
	assert.Equal(t, uint64(LamportsPerSOL-2*fee), balance(t, e, payer.Pubkey))
}

func TestInvalidProgram(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)

	t.Run("missing", func(t *testing.T) {
		ix := transaction.Instruction{ProgramID: testutil.NewPubkey(), Data: []byte{1}}
		_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{ix}))
		assert.ErrorIs(t, err, transaction.ErrInvalidProgramForExecution)
	})

	t.Run("owner not a loader", func(t *testing.T) {
		id := testutil.NewPubkey()
		owner := testutil.NewPubkey()
		require.NoError(t, e.Accounts().Put(owner, &accounts.Account{Lamports: 1, Owner: types.SystemProgramAddr}))
		require.NoError(t, e.Accounts().Put(id, &accounts.Account{Lamports: 1, Owner: owner, Executable: true}))

		ix := transaction.Instruction{ProgramID: id}
		_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{ix}))
		assert.ErrorIs(t, err, transaction.ErrInvalidProgramForExecution)
	})

	t.Run("owner missing", func(t *testing.T) {
		id := testutil.NewPubkey()
		require.NoError(t, e.Accounts().Put(id, &accounts.Account{Lamports: 1, Owner: testutil.NewPubkey(), Executable: true}))

		ix := transaction.Instruction{ProgramID: id}
		_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{ix}))
		assert.ErrorIs(t, err, transaction.ErrProgramAccountNotFound)
	})

	assert.Equal(t, uint64(LamportsPerSOL), balance(t, e, payer.Pubkey))
}

func TestComputeBudget(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)

	meta, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		svm.SetComputeUnitLimit(1000),
		svm.SetComputeUnitPrice(1_000_000),
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1),
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(fee+1000), meta.Fee)
	assert.Equal(t, uint64(LamportsPerSOL-1-fee-1000), balance(t, e, payer.Pubkey))

	_, err = e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		svm.SetComputeUnitLimit(1000),
		svm.SetComputeUnitLimit(2000),
	}))
	var dup *transaction.DuplicateInstructionError
	assert.ErrorAs(t, err, &dup)

	_, err = e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		svm.SetComputeUnitLimit(100),
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1),
	}))
	assert.ErrorIs(t, err, svm.ErrComputationalBudgetExceeded)
}

func TestComputeBudgetOverride(t *testing.T) {
	e := newEngine(t, func(c *Config) {
		c.ComputeBudget = &svm.ComputeBudget{ComputeUnitLimit: 10, HeapSize: svm.MinHeapFrameBytes}
	})
	payer := fund(t, e, LamportsPerSOL)

	_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1),
	}))
	assert.ErrorIs(t, err, svm.ErrComputationalBudgetExceeded)
}

func TestSimulate(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	to := testutil.NewPubkey()
	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{system.Transfer(payer.Pubkey, to, 64)})

	info, err := e.Simulate(tx)
	require.NoError(t, err)
	assert.Equal(t, svm.SystemProgramComputeUnits, info.Meta.ComputeUnitsConsumed)

	post := make(map[types.Pubkey]uint64)
	for _, ka := range info.PostAccounts {
		post[ka.Pubkey] = ka.Account.Lamports
	}
	assert.Equal(t, map[types.Pubkey]uint64{
		payer.Pubkey: LamportsPerSOL - 64 - fee,
		to:           64,
	}, post)

	assert.Equal(t, uint64(LamportsPerSOL), balance(t, e, payer.Pubkey))
	_, ok := e.GetAccount(to)
	assert.False(t, ok)
	_, ok = e.GetTransaction(tx.Signature())
	assert.False(t, ok)

	_, err = e.Send(tx)
	assert.NoError(t, err)
}

func TestSimulateFailure(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 2*LamportsPerSOL),
	})

	_, err := e.Simulate(tx)
	assert.ErrorIs(t, err, system.ErrResultWithNegativeLamports)
	assert.Equal(t, uint64(LamportsPerSOL), balance(t, e, payer.Pubkey))
}

func TestDurableNonce(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	nonceAccount := testutil.NewKeypair()

	_, err := e.Send(sign(t, e.LatestBlockhash(), payer,
		system.CreateNonceAccount(payer.Pubkey, nonceAccount.Pubkey, payer.Pubkey, e.MinimumBalanceForRentExemption(nonce.StateSize)),
		nonceAccount,
	))
	require.NoError(t, err)

	acc, ok := e.GetAccount(nonceAccount.Pubkey)
	require.True(t, ok)
	state, err := nonce.Decode(acc.Data)
	require.NoError(t, err)
	require.True(t, state.Initialized)
	stored := state.Data.DurableNonce

	to := testutil.NewPubkey()
	useNonce := func() *transaction.Transaction {
		return sign(t, stored, payer, []transaction.Instruction{
			system.AdvanceNonceAccount(nonceAccount.Pubkey, payer.Pubkey),
			system.Transfer(payer.Pubkey, to, 1),
		})
	}

	_, err = e.Send(useNonce())
	assert.ErrorIs(t, err, transaction.ErrBlockhashNotFound)

	require.NoError(t, e.ExpireBlockhash())
	_, err = e.Send(useNonce())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), balance(t, e, to))

	acc, _ = e.GetAccount(nonceAccount.Pubkey)
	state, err = nonce.Decode(acc.Data)
	require.NoError(t, err)
	assert.Equal(t, nonce.DurableNonce(e.LatestBlockhash()), state.Data.DurableNonce)

	t.Run("authority must sign", func(t *testing.T) {
		require.NoError(t, e.ExpireBlockhash())
		other := fund(t, e, LamportsPerSOL)
		tx := sign(t, state.Data.DurableNonce, other, []transaction.Instruction{
			system.AdvanceNonceAccount(nonceAccount.Pubkey, other.Pubkey),
		})
		_, err := e.Send(tx)
		assert.ErrorIs(t, err, transaction.ErrBlockhashNotFound)
	})
}

func TestWarpToSlot(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.WarpToSlot(1000))

	var clock sysvar.Clock
	require.NoError(t, e.GetSysvar(&clock))
	assert.Equal(t, uint64(1000), clock.Slot)
	assert.Equal(t, uint64(1000), e.Accounts().Programs().Slot())
}

func TestSetSysvarValidatesData(t *testing.T) {
	e := newEngine(t)
	err := e.SetAccount(types.SysvarClockAddr, &accounts.Account{
		Lamports: 1,
		Data:     []byte{1, 2},
		Owner:    types.SysvarOwnerAddr,
	})
	assert.ErrorIs(t, err, sysvar.ErrInvalidSysvarData)
}

func TestSysvarAccountsSizedForMaximum(t *testing.T) {
	e := newEngine(t)
	for addr, size := range map[types.Pubkey]int{
		types.SysvarRecentBlockhashesAddr: 6008,
		types.SysvarSlotHashesAddr:        20488,
		types.SysvarStakeHistoryAddr:      16392,
		types.SysvarClockAddr:             40,
	} {
		acc, ok := e.GetAccount(addr)
		require.True(t, ok, addr.String())
		assert.Len(t, acc.Data, size, addr.String())
	}

	require.NoError(t, e.ExpireBlockhash())
	var recent sysvar.RecentBlockhashes
	require.NoError(t, e.GetSysvar(&recent))
	require.Len(t, recent, 1)
	assert.Equal(t, e.LatestBlockhash(), recent[0].Blockhash)
}

func TestMinimumBalanceForRentExemption(t *testing.T) {
	e := newEngine(t)
	r := sysvar.DefaultRent()
	assert.Equal(t, r.MinimumBalance(100), e.MinimumBalanceForRentExemption(100))

	require.NoError(t, e.SetSysvar(&sysvar.Rent{ExemptionThreshold: 2}))
	assert.Equal(t, uint64(1), e.MinimumBalanceForRentExemption(100))
}

func TestLogBytesLimit(t *testing.T) {
	limit := 60
	e := newEngine(t, func(c *Config) { c.LogBytesLimit = &limit })
	payer := fund(t, e, LamportsPerSOL)

	meta, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Program 11111111111111111111111111111111 invoke [1]",
		svm.LogTruncated,
	}, meta.Logs)
}

func TestAddBuiltin(t *testing.T) {
	e := newEngine(t)
	payer := fund(t, e, LamportsPerSOL)
	id := testutil.NewPubkey()

	require.NoError(t, e.AddBuiltin(id, &executor.Builtin{
		Name: "echo",
		Cost: 7,
		Process: func(ctx *svm.InvokeContext) error {
			ctx.Log("echo %x", ctx.Data())
			return ctx.SetReturnData(ctx.Data())
		},
	}))
	acc, ok := e.GetAccount(id)
	require.True(t, ok)
	assert.Equal(t, types.BPFLoaderAddr, acc.Owner)

	meta, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		{ProgramID: id, Data: []byte{0xab}},
	}))
	require.NoError(t, err)
	assert.Contains(t, meta.Logs, "Program log: echo ab")
	assert.Equal(t, svm.ReturnData{ProgramID: id, Data: []byte{0xab}}, meta.ReturnData)
	assert.Equal(t, uint64(7), meta.ComputeUnitsConsumed)

	assert.ErrorIs(t, e.AddBuiltin(id, &executor.Builtin{Name: "empty"}), ErrInvalidBuiltin)
}

type runnerFunc func(ctx *svm.InvokeContext, program *programcache.Entry) error

func (f runnerFunc) Run(ctx *svm.InvokeContext, program *programcache.Entry) error {
	return f(ctx, program)
}

func TestAddProgram(t *testing.T) {
	elf := testutil.BuildELF(testutil.ReturnProgram(0))

	t.Run("without runner", func(t *testing.T) {
		e := newEngine(t)
		payer := fund(t, e, LamportsPerSOL)
		id := testutil.NewPubkey()
		require.NoError(t, e.AddProgram(id, elf))

		acc, ok := e.GetAccount(id)
		require.True(t, ok)
		assert.True(t, acc.Executable)
		assert.Equal(t, e.MinimumBalanceForRentExemption(uint64(len(elf))), acc.Lamports)

		_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{{ProgramID: id}}))
		assert.ErrorIs(t, err, svm.ErrUnsupportedProgramID)
	})

	t.Run("with runner", func(t *testing.T) {
		var ran []types.Pubkey
		e := newEngine(t, func(c *Config) {
			c.ProgramRunner = runnerFunc(func(ctx *svm.InvokeContext, program *programcache.Entry) error {
				ran = append(ran, ctx.ProgramID())
				assert.Equal(t, programcache.Loaded, program.Kind)
				return ctx.Consume(5)
			})
		})
		payer := fund(t, e, LamportsPerSOL)
		id := testutil.NewPubkey()
		require.NoError(t, e.AddProgram(id, elf))

		meta, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{{ProgramID: id}}))
		require.NoError(t, err)
		assert.Equal(t, []types.Pubkey{id}, ran)
		assert.Equal(t, uint64(5), meta.ComputeUnitsConsumed)
	})

	t.Run("programs deployed by a runner", func(t *testing.T) {
		deployed := testutil.NewPubkey()
		fail := false
		e := newEngine(t, func(c *Config) {
			c.ProgramRunner = runnerFunc(func(ctx *svm.InvokeContext, program *programcache.Entry) error {
				ctx.Programs.Replenish(deployed, program)
				if _, ok := ctx.Programs.Find(deployed); !ok {
					return svm.ErrUnsupportedProgramID
				}
				if fail {
					return svm.CustomError(1)
				}
				return nil
			})
		})
		payer := fund(t, e, LamportsPerSOL)
		id := testutil.NewPubkey()
		require.NoError(t, e.AddProgram(id, elf))

		_, err := e.Simulate(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{{ProgramID: id}}))
		require.NoError(t, err)
		_, ok := e.Accounts().Programs().Find(deployed)
		assert.False(t, ok)

		fail = true
		_, err = e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{{ProgramID: id, Data: []byte{1}}}))
		require.Error(t, err)
		_, ok = e.Accounts().Programs().Find(deployed)
		assert.False(t, ok)

		fail = false
		_, err = e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{{ProgramID: id, Data: []byte{2}}}))
		require.NoError(t, err)
		entry, ok := e.Accounts().Programs().Find(deployed)
		require.True(t, ok)
		assert.Equal(t, programcache.Loaded, entry.Kind)
	})

	t.Run("invalid image", func(t *testing.T) {
		e := newEngine(t)
		err := e.AddProgram(testutil.NewPubkey(), []byte("not an elf"))
		assert.ErrorIs(t, err, accounts.ErrInvalidAccountData)
	})
}

func TestAddProgramFromFile(t *testing.T) {
	e := newEngine(t)
	elf := testutil.BuildELF(testutil.ReturnProgram(0))
	dir := t.TempDir()

	plain := filepath.Join(dir, "program.so")
	require.NoError(t, os.WriteFile(plain, elf, 0o644))
	plainID := testutil.NewPubkey()
	require.NoError(t, e.AddProgramFromFile(plainID, plain))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := filepath.Join(dir, "program.so.zst")
	require.NoError(t, os.WriteFile(compressed, enc.EncodeAll(elf, nil), 0o644))
	require.NoError(t, enc.Close())
	compressedID := testutil.NewPubkey()
	require.NoError(t, e.AddProgramFromFile(compressedID, compressed))

	for _, id := range []types.Pubkey{plainID, compressedID} {
		acc, ok := e.GetAccount(id)
		require.True(t, ok)
		assert.Equal(t, elf, acc.Data)
		entry, ok := e.Accounts().Programs().Find(id)
		require.True(t, ok)
		assert.Equal(t, programcache.Loaded, entry.Kind)
	}

	err = e.AddProgramFromFile(testutil.NewPubkey(), filepath.Join(dir, "missing.so"))
	assert.ErrorIs(t, err, ErrProgramFileRead)
}

func TestBadgerBackend(t *testing.T) {
	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig())
	require.NoError(t, err)
	e := newEngine(t, func(c *Config) { c.Backend = db })

	to := testutil.NewPubkey()
	_, err = e.Airdrop(to, LamportsPerSOL)
	require.NoError(t, err)
	assert.Equal(t, uint64(LamportsPerSOL), balance(t, e, to))
	assert.Equal(t, uint64(DefaultAirdropLamports-LamportsPerSOL-fee), balance(t, e, e.AirdropPubkey()))
}

func TestCustomExecutor(t *testing.T) {
	boom := errors.New("boom")
	e := newEngine(t, func(c *Config) {
		c.Executor = executorFunc(func(req *svm.ExecutionRequest) *svm.ExecutionResult {
			return &svm.ExecutionResult{
				Err:      transaction.NewInstructionError(0, boom),
				Accounts: req.Accounts,
			}
		})
	})
	payer := fund(t, e, LamportsPerSOL)

	_, err := e.Send(sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
		system.Transfer(payer.Pubkey, testutil.NewPubkey(), 1),
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(LamportsPerSOL-fee), balance(t, e, payer.Pubkey))
}

func TestExecutorWithIncompleteResult(t *testing.T) {
	for name, res := range map[string]func(req *svm.ExecutionRequest) *svm.ExecutionResult{
		"short account list": func(req *svm.ExecutionRequest) *svm.ExecutionResult {
			return &svm.ExecutionResult{Accounts: req.Accounts[:1]}
		},
		"nil result": func(*svm.ExecutionRequest) *svm.ExecutionResult { return nil },
	} {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, func(c *Config) { c.Executor = executorFunc(res) })
			payer := fund(t, e, LamportsPerSOL)
			to := testutil.NewPubkey()

			tx := sign(t, e.LatestBlockhash(), payer, []transaction.Instruction{
				system.Transfer(payer.Pubkey, to, 1),
			})
			_, err := e.Simulate(tx)
			assert.ErrorIs(t, err, ErrInvalidExecutionResult)

			_, err = e.Send(tx)
			assert.ErrorIs(t, err, ErrInvalidExecutionResult)
			assert.Equal(t, uint64(LamportsPerSOL-fee), balance(t, e, payer.Pubkey))
			_, ok := e.GetAccount(to)
			assert.False(t, ok)
		})
	}
}

type executorFunc func(req *svm.ExecutionRequest) *svm.ExecutionResult

func (f executorFunc) Execute(req *svm.ExecutionRequest) *svm.ExecutionResult { return f(req) }
