package sysvar

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

const (
	instructionsFlagSigner   = 1 << 0
	instructionsFlagWritable = 1 << 1
)

// ConstructInstructionsData builds the contents of the instructions sysvar
// for msg. The trailing u16 holds the index of the executing instruction and
// starts at zero.
func ConstructInstructionsData(msg *transaction.SanitizedMessage) []byte {
	keys := msg.AccountKeys()
	ixs := msg.Instructions()

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	_ = enc.WriteUint16(uint16(len(ixs)), bin.LE)
	offsetsAt := buf.Len()
	for range ixs {
		_ = enc.WriteUint16(0, bin.LE)
	}

	offsets := make([]uint16, len(ixs))
	for i, ix := range ixs {
		offsets[i] = uint16(buf.Len())
		_ = enc.WriteUint16(uint16(len(ix.Accounts)), bin.LE)
		for _, a := range ix.Accounts {
			var flags uint8
			if msg.IsSigner(int(a)) {
				flags |= instructionsFlagSigner
			}
			if msg.IsWritable(int(a)) {
				flags |= instructionsFlagWritable
			}
			_ = enc.WriteUint8(flags)
			_ = enc.WriteBytes(keys[a][:], false)
		}
		_ = enc.WriteBytes(keys[ix.ProgramIDIndex][:], false)
		_ = enc.WriteUint16(uint16(len(ix.Data)), bin.LE)
		_ = enc.WriteBytes(ix.Data, false)
	}
	_ = enc.WriteUint16(0, bin.LE)

	data := buf.Bytes()
	for i, off := range offsets {
		binary.LittleEndian.PutUint16(data[offsetsAt+2*i:], off)
	}
	return data
}

// SetCurrentInstructionIndex rewrites the trailing index of an instructions
// sysvar buffer.
func SetCurrentInstructionIndex(data []byte, index uint16) {
	if len(data) < 2 {
		return
	}
	binary.LittleEndian.PutUint16(data[len(data)-2:], index)
}

// LoadCurrentInstructionIndex reads the trailing index of an instructions
// sysvar buffer.
func LoadCurrentInstructionIndex(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(data[len(data)-2:])
}
