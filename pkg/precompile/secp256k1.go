package precompile

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

const (
	secp256k1OffsetsStart = 1
	secp256k1OffsetsSize  = 11
	secp256k1SigSize      = 64
	ethAddressSize        = 20
)

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// EthAddress returns the Ethereum-style address of pub.
func EthAddress(pub *btcec.PublicKey) []byte {
	return keccak256(pub.SerializeUncompressed()[1:])[12:]
}

// VerifySecp256k1 checks a secp256k1 recovery precompile instruction. Each
// 11-byte offsets record names a 64-byte signature followed by its recovery
// id, a 20-byte eth address and a message, each in some instruction's data.
func VerifySecp256k1(data []byte, datas [][]byte) error {
	if len(data) == 0 {
		return InvalidInstructionDataSize
	}
	count := int(data[0])
	if count == 0 && len(data) > secp256k1OffsetsStart {
		return InvalidInstructionDataSize
	}
	if len(data) < count*secp256k1OffsetsSize+secp256k1OffsetsStart {
		return InvalidInstructionDataSize
	}

	slice := func(ix uint8, off, size uint16) ([]byte, error) {
		if int(ix) >= len(datas) {
			return nil, InvalidInstructionDataSize
		}
		src := datas[ix]
		end := int(off) + int(size)
		if end > len(src) {
			return nil, InvalidSignature
		}
		return src[off:end], nil
	}

	for i := 0; i < count; i++ {
		rec := secp256k1OffsetsStart + i*secp256k1OffsetsSize
		sigOff, sigIx := u16(data, rec), data[rec+2]
		ethOff, ethIx := u16(data, rec+3), data[rec+5]
		msgOff, msgSize, msgIx := u16(data, rec+6), u16(data, rec+8), data[rec+10]

		if int(sigIx) >= len(datas) {
			return InvalidInstructionDataSize
		}
		sigData := datas[sigIx]
		sigEnd := int(sigOff) + secp256k1SigSize
		if sigEnd >= len(sigData) {
			return InvalidSignature
		}
		recID := sigData[sigEnd]
		if recID > 3 {
			return InvalidRecoveryID
		}

		eth, err := slice(ethIx, ethOff, ethAddressSize)
		if err != nil {
			return err
		}
		msg, err := slice(msgIx, msgOff, msgSize)
		if err != nil {
			return err
		}

		compact := make([]byte, 0, secp256k1SigSize+1)
		compact = append(compact, 27+recID)
		compact = append(compact, sigData[sigOff:sigEnd]...)
		pub, _, err := ecdsa.RecoverCompact(compact, keccak256(msg))
		if err != nil {
			return InvalidSignature
		}
		if !bytes.Equal(EthAddress(pub), eth) {
			return InvalidSignature
		}
	}
	return nil
}

// NewSecp256k1Instruction builds a precompile instruction carrying one
// recoverable signature of msg by priv. ixIndex is the position the
// instruction will take in its transaction.
func NewSecp256k1Instruction(priv *btcec.PrivateKey, msg []byte, ixIndex uint8) (transaction.Instruction, error) {
	const (
		ethOffset = secp256k1OffsetsStart + secp256k1OffsetsSize
		sigOffset = ethOffset + ethAddressSize
		msgOffset = sigOffset + secp256k1SigSize + 1
	)
	compact, err := ecdsa.SignCompact(priv, keccak256(msg), false)
	if err != nil {
		return transaction.Instruction{}, err
	}

	var buf bytes.Buffer
	buf.WriteByte(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(sigOffset))
	buf.WriteByte(ixIndex)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(ethOffset))
	buf.WriteByte(ixIndex)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(msgOffset))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(msg)))
	buf.WriteByte(ixIndex)
	buf.Write(EthAddress(priv.PubKey()))
	buf.Write(compact[1:])
	buf.WriteByte(compact[0] - 27)
	buf.Write(msg)
	return transaction.Instruction{ProgramID: types.Secp256k1PrecompileAddr, Data: buf.Bytes()}, nil
}
