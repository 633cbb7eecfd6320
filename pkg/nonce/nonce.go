// Package nonce encodes durable nonce accounts.
//
// A nonce account stores a durable nonce derived from a past blockhash.
// Transactions may reference that value instead of a recent blockhash as long
// as their first instruction advances the nonce.
package nonce

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// StateSize is the data length of a nonce account.
const StateSize = 80

const durableNoncePrefix = "DURABLE_NONCE"

// ErrInvalidState is returned when account data is not a nonce state.
var ErrInvalidState = errors.New("invalid nonce account state")

// Version tags the layout of the stored state.
type Version uint32

const (
	// Legacy nonces stored a raw blockhash and are upgraded on first use.
	Legacy Version = iota
	Current
)

// Data is the content of an initialized nonce.
type Data struct {
	Authority            types.Pubkey
	DurableNonce         types.Hash
	LamportsPerSignature uint64
}

// Versions is a decoded nonce account. Data is meaningful only when
// Initialized is set.
type Versions struct {
	Version     Version
	Initialized bool
	Data        Data
}

// DurableNonce derives the durable nonce value for blockhash.
func DurableNonce(blockhash types.Hash) types.Hash {
	return types.HashParts([]byte(durableNoncePrefix), blockhash[:])
}

// NewInitialized returns a current-version initialized state.
func NewInitialized(authority types.Pubkey, durableNonce types.Hash, lamportsPerSignature uint64) *Versions {
	return &Versions{
		Version:     Current,
		Initialized: true,
		Data: Data{
			Authority:            authority,
			DurableNonce:         durableNonce,
			LamportsPerSignature: lamportsPerSignature,
		},
	}
}

// Decode parses nonce account data.
func Decode(data []byte) (*Versions, error) {
	dec := bin.NewBinDecoder(data)
	version, err := dec.ReadUint32(bin.LE)
	if err != nil || version > uint32(Current) {
		return nil, ErrInvalidState
	}
	state, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, ErrInvalidState
	}
	v := &Versions{Version: Version(version)}
	switch state {
	case 0:
		return v, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: state %d", ErrInvalidState, state)
	}

	v.Initialized = true
	b, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, ErrInvalidState
	}
	copy(v.Data.Authority[:], b)
	if b, err = dec.ReadBytes(types.HashSize); err != nil {
		return nil, ErrInvalidState
	}
	copy(v.Data.DurableNonce[:], b)
	if v.Data.LamportsPerSignature, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrInvalidState
	}
	return v, nil
}

// Encode serializes v into StateSize bytes.
func (v *Versions) Encode() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(uint32(v.Version), bin.LE)
	if !v.Initialized {
		_ = enc.WriteUint32(0, bin.LE)
	} else {
		_ = enc.WriteUint32(1, bin.LE)
		_ = enc.WriteBytes(v.Data.Authority[:], false)
		_ = enc.WriteBytes(v.Data.DurableNonce[:], false)
		_ = enc.WriteUint64(v.Data.LamportsPerSignature, bin.LE)
	}
	out := make([]byte, StateSize)
	copy(out, buf.Bytes())
	return out
}

// Upgrade converts an initialized legacy state to the current version. It
// returns false when there is nothing to upgrade.
func (v *Versions) Upgrade() (*Versions, bool) {
	if v.Version != Legacy || !v.Initialized {
		return nil, false
	}
	up := *v
	up.Version = Current
	up.Data.DurableNonce = DurableNonce(v.Data.DurableNonce)
	return &up, true
}

// VerifyRecentBlockhash returns the nonce data when v is a current,
// initialized state holding recentBlockhash as its durable nonce.
func (v *Versions) VerifyRecentBlockhash(recentBlockhash types.Hash) (*Data, bool) {
	if v.Version != Current || !v.Initialized || v.Data.DurableNonce != recentBlockhash {
		return nil, false
	}
	return &v.Data, true
}

// AccountKind classifies accounts that may pay fees.
type AccountKind uint8

const (
	// SystemAccount is a plain system-owned account with no data.
	SystemAccount AccountKind = iota + 1
	// NonceAccount is a system-owned initialized nonce account.
	NonceAccount
)

// SystemAccountKind classifies an account by owner and data. It returns
// false for accounts that are neither kind.
func SystemAccountKind(owner types.Pubkey, data []byte) (AccountKind, bool) {
	if owner != types.SystemProgramAddr {
		return 0, false
	}
	if len(data) == 0 {
		return SystemAccount, true
	}
	if len(data) != StateSize {
		return 0, false
	}
	v, err := Decode(data)
	if err != nil || !v.Initialized {
		return 0, false
	}
	return NonceAccount, true
}
