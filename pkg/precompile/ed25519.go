package precompile

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"filippo.io/edwards25519"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

const (
	ed25519OffsetsStart = 2
	ed25519OffsetsSize  = 14
	ed25519CurrentIx    = 0xFFFF
)

// VerifyEd25519 checks an ed25519 precompile instruction. The layout is a
// signature count, a padding byte and one 14-byte offsets record per
// signature.
func VerifyEd25519(data []byte, datas [][]byte) error {
	if len(data) < ed25519OffsetsStart {
		return InvalidInstructionDataSize
	}
	count := int(data[0])
	if count == 0 && len(data) > ed25519OffsetsStart {
		return InvalidInstructionDataSize
	}
	if len(data) < count*ed25519OffsetsSize+ed25519OffsetsStart {
		return InvalidInstructionDataSize
	}

	slice := func(ix, off, size uint16) ([]byte, error) {
		src := data
		if ix != ed25519CurrentIx {
			if int(ix) >= len(datas) {
				return nil, InvalidDataOffsets
			}
			src = datas[ix]
		}
		end := int(off) + int(size)
		if end > len(src) {
			return nil, InvalidDataOffsets
		}
		return src[off:end], nil
	}

	for i := 0; i < count; i++ {
		rec := ed25519OffsetsStart + i*ed25519OffsetsSize
		sig, err := slice(u16(data, rec+2), u16(data, rec), ed25519.SignatureSize)
		if err != nil {
			return err
		}
		pub, err := slice(u16(data, rec+6), u16(data, rec+4), ed25519.PublicKeySize)
		if err != nil {
			return err
		}
		if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
			return InvalidPublicKey
		}
		msg, err := slice(u16(data, rec+12), u16(data, rec+8), u16(data, rec+10))
		if err != nil {
			return err
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return InvalidSignature
		}
	}
	return nil
}

// NewEd25519Instruction builds a precompile instruction carrying one
// signature of msg by priv, with key, signature and message all inline.
func NewEd25519Instruction(priv ed25519.PrivateKey, msg []byte) transaction.Instruction {
	const (
		pubkeyOffset = ed25519OffsetsStart + ed25519OffsetsSize
		sigOffset    = pubkeyOffset + ed25519.PublicKeySize
		msgOffset    = sigOffset + ed25519.SignatureSize
	)
	sig := ed25519.Sign(priv, msg)

	var buf bytes.Buffer
	buf.Write([]byte{1, 0})
	for _, v := range []uint16{
		sigOffset, ed25519CurrentIx,
		pubkeyOffset, ed25519CurrentIx,
		msgOffset, uint16(len(msg)), ed25519CurrentIx,
	} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(priv.Public().(ed25519.PublicKey))
	buf.Write(sig)
	buf.Write(msg)
	return transaction.Instruction{ProgramID: types.Ed25519PrecompileAddr, Data: buf.Bytes()}
}
