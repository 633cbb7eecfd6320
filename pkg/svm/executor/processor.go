// Package executor implements the default instruction execution engine.
//
// The MessageProcessor runs a transaction's instructions in message order:
// - Builtin programs are dispatched through a Registry
// - Loaded bytecode programs are handed to an optional svm.ProgramRunner
// - Precompile instructions are verified before execution and skipped here
// - After each instruction the account changes are checked against the
//   runtime's ownership and balance rules
package executor

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/precompile"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// MessageProcessor is the default svm.Executor.
type MessageProcessor struct {
	builtins *Registry
	runner   svm.ProgramRunner
}

var _ svm.Executor = (*MessageProcessor)(nil)

// New creates a processor dispatching builtins through builtins and loaded
// programs through runner. A nil runner makes every loaded program fail with
// svm.ErrUnsupportedProgramID.
func New(builtins *Registry, runner svm.ProgramRunner) *MessageProcessor {
	if builtins == nil {
		builtins = DefaultRegistry()
	}
	return &MessageProcessor{builtins: builtins, runner: runner}
}

// Execute runs every instruction of req.Message, stopping at the first
// failure. Accounts in req are mutated in place.
func (p *MessageProcessor) Execute(req *svm.ExecutionRequest) *svm.ExecutionResult {
	msg := req.Message
	ixs := msg.Instructions()
	tx := &svm.TransactionContext{
		Accounts: req.Accounts,
		Inner:    make([][]svm.InnerInstruction, len(ixs)),
	}
	meter := svm.NewComputeMeter(req.Budget.ComputeUnitLimit)
	logs := req.Logs
	if logs == nil {
		logs = svm.NewLogCollector(-1)
	}
	ctx := &svm.InvokeContext{
		Tx:                   tx,
		Meter:                meter,
		Logs:                 logs,
		Sysvars:              req.Sysvars,
		Features:             req.Features,
		Programs:             req.Programs,
		Budget:               req.Budget,
		Blockhash:            req.Blockhash,
		LamportsPerSignature: req.LamportsPerSignature,
	}

	instructionsSysvar := -1
	for i, a := range tx.Accounts {
		if a.Key == types.SysvarInstructionsAddr && a.Account != nil {
			instructionsSysvar = i
			break
		}
	}

	result := &svm.ExecutionResult{Accounts: tx.Accounts}
	for i, ix := range ixs {
		programID := msg.ProgramID(i)
		if precompile.Is(programID) {
			continue
		}
		if instructionsSysvar >= 0 {
			sysvar.SetCurrentInstructionIndex(tx.Accounts[instructionsSysvar].Account.Data, uint16(i))
		}

		metas := make([]svm.InstructionAccount, len(ix.Accounts))
		for j, a := range ix.Accounts {
			idx := int(a)
			metas[j] = svm.InstructionAccount{
				IndexInTransaction: idx,
				IsSigner:           msg.IsSigner(idx),
				IsWritable:         msg.IsWritable(idx),
			}
		}
		ctx.Prepare(i, programID, metas, ix.Data)

		logs.Logf("Program %s invoke [%d]", programID, ctx.StackHeight())
		err := p.processInstruction(ctx, req.ProgramIndices[i])
		if err != nil {
			logs.Logf("Program %s failed: %v", programID, err)
			result.Err = transaction.NewInstructionError(i, err)
			break
		}
		logs.Logf("Program %s success", programID)
	}

	result.ComputeUnitsConsumed = meter.Consumed()
	result.ReturnData = tx.ReturnData
	result.InnerInstructions = tx.Inner
	return result
}

func (p *MessageProcessor) processInstruction(ctx *svm.InvokeContext, programIndices []int) error {
	if len(programIndices) == 0 {
		return svm.ErrUnsupportedProgramID
	}
	pre := snapshot(ctx)
	if err := p.invoke(ctx); err != nil {
		return err
	}
	return verify(ctx, pre)
}

func (p *MessageProcessor) invoke(ctx *svm.InvokeContext) error {
	programID := ctx.ProgramID()
	if ctx.Programs == nil {
		return svm.ErrUnsupportedProgramID
	}
	entry, ok := ctx.Programs.Find(programID)
	if !ok {
		return svm.ErrUnsupportedProgramID
	}
	switch entry.Kind {
	case programcache.Builtin:
		b, ok := p.builtins.Get(programID)
		if !ok || !b.Enabled(ctx.Features) {
			return svm.ErrUnsupportedProgramID
		}
		if err := ctx.Consume(b.Cost); err != nil {
			return err
		}
		return b.Process(ctx)
	case programcache.Loaded:
		if p.runner == nil {
			return svm.ErrUnsupportedProgramID
		}
		return p.runner.Run(ctx, entry)
	default:
		return svm.ErrUnsupportedProgramID
	}
}
