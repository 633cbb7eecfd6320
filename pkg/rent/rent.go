// Package rent classifies accounts by how their balance relates to the rent
// exemption minimum and decides which transitions a transaction may cause.
package rent

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/sysvar"
)

// Kind enumerates rent states.
type Kind uint8

const (
	// Uninitialized accounts have zero lamports.
	Uninitialized Kind = iota

	// RentPaying accounts hold lamports below the exemption minimum.
	RentPaying

	// RentExempt accounts hold at least the exemption minimum.
	RentExempt
)

func (k Kind) String() string {
	switch k {
	case Uninitialized:
		return "uninitialized"
	case RentPaying:
		return "rent_paying"
	case RentExempt:
		return "rent_exempt"
	default:
		return "unknown"
	}
}

// State is the rent state of one account. DataSize and Lamports are only
// meaningful for RentPaying.
type State struct {
	Kind     Kind
	Lamports uint64
	DataSize uint64
}

// Classify returns the rent state of an account with the given balance and
// data length under schedule r.
func Classify(lamports, dataLen uint64, r *sysvar.Rent) State {
	switch {
	case lamports == 0:
		return State{Kind: Uninitialized}
	case r.IsExempt(lamports, dataLen):
		return State{Kind: RentExempt}
	default:
		return State{Kind: RentPaying, Lamports: lamports, DataSize: dataLen}
	}
}

// TransitionAllowed reports whether an account may move from pre to post.
// Any account may end uninitialized or exempt. An account may end
// rent-paying only if it already was, its data size did not change and its
// balance did not grow.
func TransitionAllowed(pre, post State) bool {
	switch post.Kind {
	case Uninitialized, RentExempt:
		return true
	case RentPaying:
		switch pre.Kind {
		case Uninitialized, RentExempt:
			return false
		case RentPaying:
			return post.DataSize == pre.DataSize && post.Lamports <= pre.Lamports
		}
	}
	return false
}

// CheckTransition applies TransitionAllowed, exempting the incinerator.
func CheckTransition(address types.Pubkey, pre, post State) bool {
	if address == types.IncineratorAddr {
		return true
	}
	return TransitionAllowed(pre, post)
}
