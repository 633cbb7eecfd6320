// Package transaction implements the transaction and message model: compiling
// instructions into a message, the wire format, signing, and sanitization into
// the view the execution pipeline works on.
package transaction

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// MessageVersion distinguishes legacy messages from versioned ones.
type MessageVersion uint8

const (
	// MessageVersionLegacy has no version prefix and no lookups.
	MessageVersionLegacy MessageVersion = iota

	// MessageVersionV0 may reference address lookup tables.
	MessageVersionV0
)

// MessageHeader describes the account types in a message.
type MessageHeader struct {
	// NumRequiredSignatures is the number of signatures required.
	NumRequiredSignatures uint8

	// NumReadonlySignedAccounts is the number of readonly signer accounts.
	NumReadonlySignedAccounts uint8

	// NumReadonlyUnsignedAccounts is the number of readonly non-signer accounts.
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction is an instruction with its program and accounts
// replaced by indexes into the message account list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// AddressTableLookup references entries of an address lookup table.
type AddressTableLookup struct {
	AccountKey      types.Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is the signed part of a transaction.
type Message struct {
	Version             MessageVersion
	Header              MessageHeader
	AccountKeys         []types.Pubkey
	RecentBlockhash     types.Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
}

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta is shorthand for a writable or read-only account reference.
func NewAccountMeta(pubkey types.Pubkey, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: writable}
}

// Instruction is an uncompiled instruction addressed by pubkeys.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// LookupTableAccount is the client-side view of a lookup table used when
// compiling a v0 message.
type LookupTableAccount struct {
	Key       types.Pubkey
	Addresses []types.Pubkey
}

type keyFlags struct {
	signer   bool
	writable bool
	invoked  bool
}

type compiledKeys struct {
	order []types.Pubkey
	flags map[types.Pubkey]*keyFlags
}

func compileKeys(instructions []Instruction, payer *types.Pubkey) *compiledKeys {
	ck := &compiledKeys{flags: make(map[types.Pubkey]*keyFlags)}
	get := func(k types.Pubkey) *keyFlags {
		f, ok := ck.flags[k]
		if !ok {
			f = &keyFlags{}
			ck.flags[k] = f
			ck.order = append(ck.order, k)
		}
		return f
	}
	if payer != nil {
		f := get(*payer)
		f.signer = true
		f.writable = true
	}
	for _, ix := range instructions {
		get(ix.ProgramID).invoked = true
		for _, meta := range ix.Accounts {
			f := get(meta.Pubkey)
			f.signer = f.signer || meta.IsSigner
			f.writable = f.writable || meta.IsWritable
		}
	}
	return ck
}

// partition orders keys as writable signers, readonly signers, writable
// non-signers, readonly non-signers, keeping first-seen order in each group.
func (ck *compiledKeys) partition(keys []types.Pubkey) ([]types.Pubkey, MessageHeader) {
	var ws, rs, wu, ru []types.Pubkey
	for _, k := range keys {
		f := ck.flags[k]
		switch {
		case f.signer && f.writable:
			ws = append(ws, k)
		case f.signer:
			rs = append(rs, k)
		case f.writable:
			wu = append(wu, k)
		default:
			ru = append(ru, k)
		}
	}
	header := MessageHeader{
		NumRequiredSignatures:       uint8(len(ws) + len(rs)),
		NumReadonlySignedAccounts:   uint8(len(rs)),
		NumReadonlyUnsignedAccounts: uint8(len(ru)),
	}
	out := make([]types.Pubkey, 0, len(keys))
	out = append(out, ws...)
	out = append(out, rs...)
	out = append(out, wu...)
	out = append(out, ru...)
	return out, header
}

// NewMessage compiles instructions into a legacy message. The payer, when
// given, becomes the first account.
func NewMessage(instructions []Instruction, payer *types.Pubkey, blockhash types.Hash) *Message {
	ck := compileKeys(instructions, payer)
	keys, header := ck.partition(ck.order)
	msg := &Message{
		Version:         MessageVersionLegacy,
		Header:          header,
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	msg.Instructions = compileInstructions(instructions, indexMap(keys))
	return msg
}

// NewMessageV0 compiles instructions into a v0 message. Non-signer accounts
// that are never invoked as programs and appear in one of tables are loaded
// through that table instead of being listed statically.
func NewMessageV0(instructions []Instruction, payer types.Pubkey, blockhash types.Hash, tables []LookupTableAccount) *Message {
	ck := compileKeys(instructions, &payer)

	moved := make(map[types.Pubkey]bool)
	var lookups []AddressTableLookup
	var loadedWritable, loadedReadonly []types.Pubkey
	for _, table := range tables {
		lookup := AddressTableLookup{AccountKey: table.Key}
		for _, k := range ck.order {
			f := ck.flags[k]
			if f.signer || f.invoked || moved[k] {
				continue
			}
			for i, addr := range table.Addresses {
				if addr != k || i > 255 {
					continue
				}
				if f.writable {
					lookup.WritableIndexes = append(lookup.WritableIndexes, uint8(i))
					loadedWritable = append(loadedWritable, k)
				} else {
					lookup.ReadonlyIndexes = append(lookup.ReadonlyIndexes, uint8(i))
					loadedReadonly = append(loadedReadonly, k)
				}
				moved[k] = true
				break
			}
		}
		if len(lookup.WritableIndexes)+len(lookup.ReadonlyIndexes) > 0 {
			lookups = append(lookups, lookup)
		}
	}

	var static []types.Pubkey
	for _, k := range ck.order {
		if !moved[k] {
			static = append(static, k)
		}
	}
	keys, header := ck.partition(static)

	all := make([]types.Pubkey, 0, len(keys)+len(loadedWritable)+len(loadedReadonly))
	all = append(all, keys...)
	all = append(all, loadedWritable...)
	all = append(all, loadedReadonly...)

	return &Message{
		Version:             MessageVersionV0,
		Header:              header,
		AccountKeys:         keys,
		RecentBlockhash:     blockhash,
		Instructions:        compileInstructions(instructions, indexMap(all)),
		AddressTableLookups: lookups,
	}
}

func indexMap(keys []types.Pubkey) map[types.Pubkey]uint8 {
	m := make(map[types.Pubkey]uint8, len(keys))
	for i, k := range keys {
		m[k] = uint8(i)
	}
	return m
}

func compileInstructions(instructions []Instruction, index map[types.Pubkey]uint8) []CompiledInstruction {
	out := make([]CompiledInstruction, len(instructions))
	for i, ix := range instructions {
		accounts := make([]uint8, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			accounts[j] = index[meta.Pubkey]
		}
		out[i] = CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       accounts,
			Data:           ix.Data,
		}
	}
	return out
}

// IsSigner reports whether the static account at index i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// isWritableStatic applies the header rule to a static account index.
func (m *Message) isWritableStatic(i int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return i-numSigners < numWritableUnsigned
}

// SignerKeys returns the accounts whose signatures the message requires.
func (m *Message) SignerKeys() []types.Pubkey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return m.AccountKeys[:n]
}

// FeePayer returns the first account, or the zero key for an empty message.
func (m *Message) FeePayer() types.Pubkey {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return m.AccountKeys[0]
}
