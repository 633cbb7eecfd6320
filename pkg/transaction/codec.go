package transaction

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// versionPrefix marks a versioned message; the low bits carry the version.
const versionPrefix = 0x80

var errLengthOverflow = errors.New("length does not fit in compact-u16")

func writeCompactU16(enc *bin.Encoder, n int) error {
	if n < 0 || n > 0xffff {
		return errLengthOverflow
	}
	var buf []byte
	bin.EncodeCompactU16Length(&buf, n)
	return enc.WriteBytes(buf, false)
}

func writeShortBytes(enc *bin.Encoder, b []byte) error {
	if err := writeCompactU16(enc, len(b)); err != nil {
		return err
	}
	return enc.WriteBytes(b, false)
}

// Serialize encodes the message in its wire format. These are the bytes
// that signers sign.
func (m *Message) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	if m.Version == MessageVersionV0 {
		if err := enc.WriteByte(versionPrefix); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes([]byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}, false); err != nil {
		return nil, err
	}

	if err := writeCompactU16(enc, len(m.AccountKeys)); err != nil {
		return nil, err
	}
	for _, k := range m.AccountKeys {
		if err := enc.WriteBytes(k[:], false); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes(m.RecentBlockhash[:], false); err != nil {
		return nil, err
	}

	if err := writeCompactU16(enc, len(m.Instructions)); err != nil {
		return nil, err
	}
	for _, ix := range m.Instructions {
		if err := enc.WriteByte(ix.ProgramIDIndex); err != nil {
			return nil, err
		}
		if err := writeShortBytes(enc, ix.Accounts); err != nil {
			return nil, err
		}
		if err := writeShortBytes(enc, ix.Data); err != nil {
			return nil, err
		}
	}

	if m.Version == MessageVersionV0 {
		if err := writeCompactU16(enc, len(m.AddressTableLookups)); err != nil {
			return nil, err
		}
		for _, l := range m.AddressTableLookups {
			if err := enc.WriteBytes(l.AccountKey[:], false); err != nil {
				return nil, err
			}
			if err := writeShortBytes(enc, l.WritableIndexes); err != nil {
				return nil, err
			}
			if err := writeShortBytes(enc, l.ReadonlyIndexes); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func readShortBytes(dec *bin.Decoder) ([]byte, error) {
	n, err := dec.ReadCompactU16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return dec.ReadBytes(n)
}

func readPubkey(dec *bin.Decoder) (types.Pubkey, error) {
	var p types.Pubkey
	b, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return p, err
	}
	copy(p[:], b)
	return p, nil
}

func decodeMessage(dec *bin.Decoder) (*Message, error) {
	m := &Message{}

	first, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	if first&versionPrefix != 0 {
		if version := first &^ versionPrefix; version != 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}
		m.Version = MessageVersionV0
		if first, err = dec.ReadUint8(); err != nil {
			return nil, err
		}
	}
	m.Header.NumRequiredSignatures = first
	if m.Header.NumReadonlySignedAccounts, err = dec.ReadUint8(); err != nil {
		return nil, err
	}
	if m.Header.NumReadonlyUnsignedAccounts, err = dec.ReadUint8(); err != nil {
		return nil, err
	}

	numKeys, err := dec.ReadCompactU16()
	if err != nil {
		return nil, err
	}
	m.AccountKeys = make([]types.Pubkey, numKeys)
	for i := range m.AccountKeys {
		if m.AccountKeys[i], err = readPubkey(dec); err != nil {
			return nil, err
		}
	}
	hash, err := dec.ReadBytes(types.HashSize)
	if err != nil {
		return nil, err
	}
	copy(m.RecentBlockhash[:], hash)

	numInstructions, err := dec.ReadCompactU16()
	if err != nil {
		return nil, err
	}
	m.Instructions = make([]CompiledInstruction, numInstructions)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramIDIndex, err = dec.ReadUint8(); err != nil {
			return nil, err
		}
		if ix.Accounts, err = readShortBytes(dec); err != nil {
			return nil, err
		}
		if ix.Data, err = readShortBytes(dec); err != nil {
			return nil, err
		}
	}

	if m.Version == MessageVersionV0 {
		numLookups, err := dec.ReadCompactU16()
		if err != nil {
			return nil, err
		}
		m.AddressTableLookups = make([]AddressTableLookup, numLookups)
		for i := range m.AddressTableLookups {
			l := &m.AddressTableLookups[i]
			if l.AccountKey, err = readPubkey(dec); err != nil {
				return nil, err
			}
			if l.WritableIndexes, err = readShortBytes(dec); err != nil {
				return nil, err
			}
			if l.ReadonlyIndexes, err = readShortBytes(dec); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// DeserializeMessage decodes a message from its wire format.
func DeserializeMessage(data []byte) (*Message, error) {
	m, err := decodeMessage(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// Serialize encodes the transaction: a compact-u16 signature count, the
// signatures, then the message.
func (tx *Transaction) Serialize() ([]byte, error) {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := writeCompactU16(enc, len(tx.Signatures)); err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		if err := enc.WriteBytes(sig[:], false); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes(msg, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a transaction from its wire format.
func Deserialize(data []byte) (*Transaction, error) {
	dec := bin.NewBinDecoder(data)
	numSigs, err := dec.ReadCompactU16()
	if err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	tx := &Transaction{Signatures: make([]types.Signature, numSigs)}
	for i := range tx.Signatures {
		b, err := dec.ReadBytes(types.SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("decode signatures: %w", err)
		}
		copy(tx.Signatures[i][:], b)
	}
	msg, err := decodeMessage(dec)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if dec.HasRemaining() {
		return nil, fmt.Errorf("decode transaction: %d trailing bytes", dec.Remaining())
	}
	tx.Message = *msg
	return tx, nil
}
