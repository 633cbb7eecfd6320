// Package precompile verifies the signature precompile instructions.
//
// Precompiles never run inside the executor. Their instructions are checked
// once, up front, against every instruction of the transaction, since the
// signature, key and message may live in other instructions' data.
package precompile

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

// Precompile error codes, reported as svm.CustomError.
const (
	InvalidPublicKey svm.CustomError = iota
	InvalidRecoveryID
	InvalidSignature
	InvalidDataOffsets
	InvalidInstructionDataSize
)

// Verifier checks the data of one precompile instruction. datas holds the
// data of every instruction in the transaction.
type Verifier func(data []byte, datas [][]byte) error

var verifiers = map[types.Pubkey]Verifier{
	types.Ed25519PrecompileAddr:   VerifyEd25519,
	types.Secp256k1PrecompileAddr: VerifySecp256k1,
}

// Is reports whether id is a precompile this package verifies.
func Is(id types.Pubkey) bool {
	_, ok := verifiers[id]
	return ok
}

// VerifyMessage verifies every precompile instruction of msg. A failure is
// reported as a *transaction.InstructionError.
func VerifyMessage(msg *transaction.SanitizedMessage) error {
	ixs := msg.Instructions()
	datas := make([][]byte, len(ixs))
	for i, ix := range ixs {
		datas[i] = ix.Data
	}
	for i, ix := range ixs {
		verify, ok := verifiers[msg.ProgramID(i)]
		if !ok {
			continue
		}
		if err := verify(ix.Data, datas); err != nil {
			return transaction.NewInstructionError(i, err)
		}
	}
	return nil
}

func u16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}
