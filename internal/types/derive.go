package types

import (
	"bytes"
	"errors"

	"filippo.io/edwards25519"
)

// Limits on address derivation inputs.
const (
	MaxSeedLen = 32
	MaxSeeds   = 16
)

const pdaMarker = "ProgramDerivedAddress"

var (
	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLen
	// or too many seeds are given.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrInvalidSeeds is returned when the seeds derive an on-curve point.
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")

	// ErrIllegalOwner is returned when a seeded address would collide with
	// the program derived address namespace.
	ErrIllegalOwner = errors.New("provided owner is not allowed")
)

// IsOnCurve reports whether p decodes to a point on the ed25519 curve.
func IsOnCurve(p Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// CreateProgramAddress derives an off-curve address from seeds and program.
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrMaxSeedLengthExceeded
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return Pubkey{}, ErrMaxSeedLengthExceeded
		}
		parts = append(parts, s)
	}
	parts = append(parts, program[:], []byte(pdaMarker))
	addr := Pubkey(HashParts(parts...))
	if IsOnCurve(addr) {
		return Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the
// first valid program address with its bump.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	withBump := append(append([][]byte{}, seeds...), nil)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if errors.Is(err, ErrMaxSeedLengthExceeded) {
			return Pubkey{}, 0, err
		}
	}
	return Pubkey{}, 0, ErrInvalidSeeds
}

// CreateWithSeed derives sha256(base || seed || owner).
func CreateWithSeed(base Pubkey, seed string, owner Pubkey) (Pubkey, error) {
	if len(seed) > MaxSeedLen {
		return Pubkey{}, ErrMaxSeedLengthExceeded
	}
	if bytes.HasSuffix(owner[:], []byte(pdaMarker)) {
		return Pubkey{}, ErrIllegalOwner
	}
	return Pubkey(HashParts(base[:], []byte(seed), owner[:])), nil
}
