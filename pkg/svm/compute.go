package svm

import (
	"bytes"
	"math/bits"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// Compute unit limits.
const (
	DefaultInstructionComputeUnitLimit = uint32(200_000)
	MaxComputeUnitLimit                = uint32(1_400_000)
)

// Default builtin costs.
const (
	SystemProgramComputeUnits = uint64(150)
	ComputeBudgetComputeUnits = uint64(150)
	LoaderComputeUnits        = uint64(570)
)

// Heap frame bounds.
const (
	MinHeapFrameBytes    = uint32(32 * 1024)
	MaxHeapFrameBytes    = uint32(256 * 1024)
	HeapFrameGranularity = uint32(1024)
)

// MaxLoadedAccountsDataSizeBytes caps the account data a transaction may load.
const MaxLoadedAccountsDataSizeBytes = uint32(64 * 1024 * 1024)

// Compute budget instruction tags.
const (
	computeBudgetRequestUnitsDeprecated uint8 = iota
	computeBudgetRequestHeapFrame
	computeBudgetSetComputeUnitLimit
	computeBudgetSetComputeUnitPrice
	computeBudgetSetLoadedAccountsDataSizeLimit
)

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining uint64
	limit     uint64
}

// NewComputeMeter creates a meter holding limit units.
func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{remaining: limit, limit: limit}
}

// Consume deducts cost. When fewer units remain, the meter is drained and
// ErrComputationalBudgetExceeded is returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.remaining < cost {
		cm.remaining = 0
		return ErrComputationalBudgetExceeded
	}
	cm.remaining -= cost
	return nil
}

// Remaining returns the units left.
func (cm *ComputeMeter) Remaining() uint64 { return cm.remaining }

// Consumed returns the units used so far.
func (cm *ComputeMeter) Consumed() uint64 { return cm.limit - cm.remaining }

// Limit returns the initial budget.
func (cm *ComputeMeter) Limit() uint64 { return cm.limit }

// ComputeBudget is the execution budget handed to the executor.
type ComputeBudget struct {
	ComputeUnitLimit uint64
	HeapSize         uint32
}

// DefaultComputeBudget is the budget of a single-instruction transaction
// with no directives.
func DefaultComputeBudget() ComputeBudget {
	return ComputeBudget{
		ComputeUnitLimit: uint64(DefaultInstructionComputeUnitLimit),
		HeapSize:         MinHeapFrameBytes,
	}
}

// ComputeBudgetLimits are the values a transaction requests through
// compute budget instructions, with defaults filled in.
type ComputeBudgetLimits struct {
	ComputeUnitLimit    uint32
	ComputeUnitPrice    uint64
	HeapSize            uint32
	LoadedAccountsBytes uint32
}

// Budget converts the limits into an execution budget.
func (l ComputeBudgetLimits) Budget() ComputeBudget {
	return ComputeBudget{ComputeUnitLimit: uint64(l.ComputeUnitLimit), HeapSize: l.HeapSize}
}

// PrioritizationFee returns ceil(price * limit / 1e6) lamports.
func (l ComputeBudgetLimits) PrioritizationFee() uint64 {
	const microLamportsPerLamport = 1_000_000
	price, limit := l.ComputeUnitPrice, uint64(l.ComputeUnitLimit)
	if price == 0 || limit == 0 {
		return 0
	}
	hi, lo := bits.Mul64(price, limit)
	if hi != 0 {
		return ^uint64(0)
	}
	fee := lo / microLamportsPerLamport
	if lo%microLamportsPerLamport != 0 {
		fee++
	}
	return fee
}

// ProcessComputeBudgetInstructions scans msg for compute budget directives.
// Each directive may appear once. The default unit limit is
// DefaultInstructionComputeUnitLimit per instruction that is not a compute
// budget instruction, capped at MaxComputeUnitLimit.
func ProcessComputeBudgetInstructions(msg *transaction.SanitizedMessage) (ComputeBudgetLimits, error) {
	var (
		heap, unitLimit, loadedBytes *uint32
		price                        *uint64
		nonBudget                    uint32
	)
	for i, ix := range msg.Instructions() {
		if msg.ProgramID(i) != types.ComputeBudgetProgramAddr {
			nonBudget++
			continue
		}
		invalid := transaction.NewInstructionError(i, ErrInvalidInstructionData)
		duplicate := &transaction.DuplicateInstructionError{Index: uint8(i)}
		if len(ix.Data) == 0 {
			return ComputeBudgetLimits{}, invalid
		}
		dec := bin.NewBinDecoder(ix.Data[1:])
		switch ix.Data[0] {
		case computeBudgetRequestHeapFrame:
			v, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return ComputeBudgetLimits{}, invalid
			}
			if heap != nil {
				return ComputeBudgetLimits{}, duplicate
			}
			if v < MinHeapFrameBytes || v > MaxHeapFrameBytes || v%HeapFrameGranularity != 0 {
				return ComputeBudgetLimits{}, invalid
			}
			heap = &v
		case computeBudgetSetComputeUnitLimit:
			v, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return ComputeBudgetLimits{}, invalid
			}
			if unitLimit != nil {
				return ComputeBudgetLimits{}, duplicate
			}
			unitLimit = &v
		case computeBudgetSetComputeUnitPrice:
			v, err := dec.ReadUint64(bin.LE)
			if err != nil {
				return ComputeBudgetLimits{}, invalid
			}
			if price != nil {
				return ComputeBudgetLimits{}, duplicate
			}
			price = &v
		case computeBudgetSetLoadedAccountsDataSizeLimit:
			v, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return ComputeBudgetLimits{}, invalid
			}
			if loadedBytes != nil {
				return ComputeBudgetLimits{}, duplicate
			}
			loadedBytes = &v
		default:
			return ComputeBudgetLimits{}, invalid
		}
	}

	limits := ComputeBudgetLimits{
		HeapSize:            MinHeapFrameBytes,
		LoadedAccountsBytes: MaxLoadedAccountsDataSizeBytes,
	}
	if heap != nil {
		limits.HeapSize = *heap
	}
	if unitLimit != nil {
		limits.ComputeUnitLimit = *unitLimit
	} else {
		limits.ComputeUnitLimit = saturatingMul(nonBudget, DefaultInstructionComputeUnitLimit)
	}
	if limits.ComputeUnitLimit > MaxComputeUnitLimit {
		limits.ComputeUnitLimit = MaxComputeUnitLimit
	}
	if price != nil {
		limits.ComputeUnitPrice = *price
	}
	if loadedBytes != nil {
		if *loadedBytes == 0 {
			return ComputeBudgetLimits{}, transaction.ErrInvalidLoadedAccountsDataSizeLimit
		}
		if *loadedBytes < limits.LoadedAccountsBytes {
			limits.LoadedAccountsBytes = *loadedBytes
		}
	}
	return limits, nil
}

func saturatingMul(a, b uint32) uint32 {
	p := uint64(a) * uint64(b)
	if p > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(p)
}

func computeBudgetInstruction(tag uint8, write func(enc *bin.Encoder) error) transaction.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(tag)
	_ = write(enc)
	return transaction.Instruction{ProgramID: types.ComputeBudgetProgramAddr, Data: buf.Bytes()}
}

// RequestHeapFrame builds an instruction requesting a heap of size bytes.
func RequestHeapFrame(size uint32) transaction.Instruction {
	return computeBudgetInstruction(computeBudgetRequestHeapFrame, func(enc *bin.Encoder) error {
		return enc.WriteUint32(size, bin.LE)
	})
}

// SetComputeUnitLimit builds an instruction setting the unit limit.
func SetComputeUnitLimit(units uint32) transaction.Instruction {
	return computeBudgetInstruction(computeBudgetSetComputeUnitLimit, func(enc *bin.Encoder) error {
		return enc.WriteUint32(units, bin.LE)
	})
}

// SetComputeUnitPrice builds an instruction setting the price in
// micro-lamports per unit.
func SetComputeUnitPrice(microLamports uint64) transaction.Instruction {
	return computeBudgetInstruction(computeBudgetSetComputeUnitPrice, func(enc *bin.Encoder) error {
		return enc.WriteUint64(microLamports, bin.LE)
	})
}

// SetLoadedAccountsDataSizeLimit builds an instruction capping loaded
// account data.
func SetLoadedAccountsDataSizeLimit(limit uint32) transaction.Instruction {
	return computeBudgetInstruction(computeBudgetSetLoadedAccountsDataSizeLimit, func(enc *bin.Encoder) error {
		return enc.WriteUint32(limit, bin.LE)
	})
}
