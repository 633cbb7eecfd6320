// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// Keypair is an ed25519 signing key with its address.
type Keypair struct {
	Private ed25519.PrivateKey
	Pubkey  types.Pubkey
}

// NewKeypair generates a random keypair.
func NewKeypair() Keypair {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return Keypair{Private: priv, Pubkey: types.PubkeyFromPublicKey(pub)}
}

// NewPubkey returns a random address with no known private key.
func NewPubkey() types.Pubkey {
	var p types.Pubkey
	if _, err := rand.Read(p[:]); err != nil {
		panic(err)
	}
	return p
}
