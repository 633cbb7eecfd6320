package transaction

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// MaxTxAccountLocks is the most accounts a single transaction may reference.
const MaxTxAccountLocks = 64

// LoadedAddresses are the accounts a v0 message pulls from lookup tables.
type LoadedAddresses struct {
	Writable []types.Pubkey
	Readonly []types.Pubkey
}

// Len returns the total number of loaded addresses.
func (l LoadedAddresses) Len() int {
	return len(l.Writable) + len(l.Readonly)
}

// AddressLoader resolves lookup table references into concrete addresses.
type AddressLoader interface {
	LoadAddresses(lookups []AddressTableLookup) (LoadedAddresses, error)
}

// SanitizedMessage is a structurally valid message with its lookup tables
// resolved. All index-based queries range over static keys followed by
// loaded writable and then loaded readonly keys.
type SanitizedMessage struct {
	message  *Message
	loaded   LoadedAddresses
	keys     []types.Pubkey
	writable []bool
	invoked  []bool
	ixAcct   []bool
}

// SanitizedTransaction pairs a sanitized message with its signatures.
type SanitizedTransaction struct {
	message    *SanitizedMessage
	signatures []types.Signature
	raw        *Transaction
}

// Sanitize validates the shape of tx, resolves its lookups through loader and
// checks the resulting account list.
func Sanitize(tx *Transaction, loader AddressLoader) (*SanitizedTransaction, error) {
	msg := &tx.Message
	if int(msg.Header.NumRequiredSignatures) != len(tx.Signatures) {
		return nil, ErrSanitizeFailure
	}
	if err := msg.sanitize(); err != nil {
		return nil, err
	}

	var loaded LoadedAddresses
	if msg.Version == MessageVersionV0 && len(msg.AddressTableLookups) > 0 {
		if loader == nil {
			return nil, ErrAddressLookupTableNotFound
		}
		var err error
		if loaded, err = loader.LoadAddresses(msg.AddressTableLookups); err != nil {
			return nil, err
		}
	}

	sm := newSanitizedMessage(msg, loaded)
	if err := sm.validateAccountLocks(); err != nil {
		return nil, err
	}
	return &SanitizedTransaction{
		message:    sm,
		signatures: tx.Signatures,
		raw:        tx,
	}, nil
}

// sanitize checks header consistency and that every index is in range.
func (m *Message) sanitize() error {
	h := m.Header
	numStatic := len(m.AccountKeys)
	if int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > numStatic {
		return ErrSanitizeFailure
	}
	// The fee payer must be a writable signer.
	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		return ErrSanitizeFailure
	}

	numLoaded := 0
	if m.Version == MessageVersionV0 {
		for _, l := range m.AddressTableLookups {
			n := len(l.WritableIndexes) + len(l.ReadonlyIndexes)
			if n == 0 {
				return ErrSanitizeFailure
			}
			numLoaded += n
		}
	} else if len(m.AddressTableLookups) > 0 {
		return ErrSanitizeFailure
	}
	total := numStatic + numLoaded
	if total > 256 {
		return ErrSanitizeFailure
	}

	for _, ix := range m.Instructions {
		// The payer can never be a program, and programs are never loaded
		// from a lookup table.
		if ix.ProgramIDIndex == 0 || int(ix.ProgramIDIndex) >= numStatic {
			return ErrSanitizeFailure
		}
		for _, a := range ix.Accounts {
			if int(a) >= total {
				return ErrSanitizeFailure
			}
		}
	}
	return nil
}

func newSanitizedMessage(msg *Message, loaded LoadedAddresses) *SanitizedMessage {
	keys := make([]types.Pubkey, 0, len(msg.AccountKeys)+loaded.Len())
	keys = append(keys, msg.AccountKeys...)
	keys = append(keys, loaded.Writable...)
	keys = append(keys, loaded.Readonly...)

	sm := &SanitizedMessage{
		message:  msg,
		loaded:   loaded,
		keys:     keys,
		writable: make([]bool, len(keys)),
		invoked:  make([]bool, len(keys)),
		ixAcct:   make([]bool, len(keys)),
	}
	for _, ix := range msg.Instructions {
		sm.invoked[ix.ProgramIDIndex] = true
		for _, a := range ix.Accounts {
			sm.ixAcct[a] = true
		}
	}

	upgradeableLoaderPresent := false
	for _, k := range keys {
		if k == types.BPFLoaderUpgradeableAddr {
			upgradeableLoaderPresent = true
			break
		}
	}
	for i, k := range keys {
		w := sm.isWritableIndex(i)
		if types.IsReservedAccountKey(k) {
			w = false
		}
		if sm.invoked[i] && !upgradeableLoaderPresent {
			w = false
		}
		sm.writable[i] = w
	}
	return sm
}

func (m *SanitizedMessage) isWritableIndex(i int) bool {
	numStatic := len(m.message.AccountKeys)
	if i < numStatic {
		return m.message.isWritableStatic(i)
	}
	return i-numStatic < len(m.loaded.Writable)
}

func (m *SanitizedMessage) validateAccountLocks() error {
	if len(m.keys) > MaxTxAccountLocks {
		return ErrTooManyAccountLocks
	}
	seen := make(map[types.Pubkey]struct{}, len(m.keys))
	for _, k := range m.keys {
		if _, ok := seen[k]; ok {
			return ErrAccountLoadedTwice
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Message returns the underlying message.
func (m *SanitizedMessage) Message() *Message { return m.message }

// AccountKeys returns every account the message references, including
// loaded ones.
func (m *SanitizedMessage) AccountKeys() []types.Pubkey { return m.keys }

// LoadedAddresses returns the accounts resolved from lookup tables.
func (m *SanitizedMessage) LoadedAddresses() LoadedAddresses { return m.loaded }

// Instructions returns the compiled instructions.
func (m *SanitizedMessage) Instructions() []CompiledInstruction { return m.message.Instructions }

// RecentBlockhash returns the blockhash the message was built against.
func (m *SanitizedMessage) RecentBlockhash() types.Hash { return m.message.RecentBlockhash }

// Header returns the message header.
func (m *SanitizedMessage) Header() MessageHeader { return m.message.Header }

// FeePayer returns the first account.
func (m *SanitizedMessage) FeePayer() types.Pubkey { return m.keys[0] }

// IsSigner reports whether account i signed the transaction.
func (m *SanitizedMessage) IsSigner(i int) bool {
	return i < int(m.message.Header.NumRequiredSignatures)
}

// IsWritable reports whether account i may be modified, after demoting
// reserved keys and invoked programs.
func (m *SanitizedMessage) IsWritable(i int) bool {
	return i >= 0 && i < len(m.writable) && m.writable[i]
}

// IsInvoked reports whether account i is the program of some instruction.
func (m *SanitizedMessage) IsInvoked(i int) bool {
	return i >= 0 && i < len(m.invoked) && m.invoked[i]
}

// IsInstructionAccount reports whether account i is passed to some
// instruction as an account.
func (m *SanitizedMessage) IsInstructionAccount(i int) bool {
	return i >= 0 && i < len(m.ixAcct) && m.ixAcct[i]
}

// ProgramID returns the program invoked by instruction ix.
func (m *SanitizedMessage) ProgramID(ix int) types.Pubkey {
	return m.keys[m.message.Instructions[ix].ProgramIDIndex]
}

// NumPrecompileSignatures counts the signatures verified by precompile
// instructions. The count is the first data byte of each such instruction.
func (m *SanitizedMessage) NumPrecompileSignatures() uint64 {
	var n uint64
	for _, ix := range m.message.Instructions {
		pid := m.keys[ix.ProgramIDIndex]
		if (pid == types.Ed25519PrecompileAddr || pid == types.Secp256k1PrecompileAddr) && len(ix.Data) > 0 {
			n += uint64(ix.Data[0])
		}
	}
	return n
}

// Message returns the sanitized message.
func (tx *SanitizedTransaction) Message() *SanitizedMessage { return tx.message }

// Signature returns the first signature, which identifies the transaction.
func (tx *SanitizedTransaction) Signature() types.Signature { return tx.signatures[0] }

// Signatures returns all signatures.
func (tx *SanitizedTransaction) Signatures() []types.Signature { return tx.signatures }

// Transaction returns the transaction this view was built from.
func (tx *SanitizedTransaction) Transaction() *Transaction { return tx.raw }

// VerifySignatures checks every signature against the message.
func (tx *SanitizedTransaction) VerifySignatures() error {
	return tx.raw.VerifySignatures()
}
