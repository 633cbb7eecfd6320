package transaction

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// ErrUnknownSigner is returned when signing with a key the message does not
// require.
var ErrUnknownSigner = errors.New("keypair is not a required signer of this message")

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction signs msg with every key in signers. All required signers
// must be supplied.
func NewTransaction(msg *Message, signers ...ed25519.PrivateKey) (*Transaction, error) {
	tx := &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	for i, sig := range tx.Signatures {
		if sig.IsZero() {
			return nil, fmt.Errorf("missing signature for %s", msg.AccountKeys[i])
		}
	}
	return tx, nil
}

// Sign places a signature from each key at the position of its pubkey.
// Positions of signers not supplied are left untouched.
func (tx *Transaction) Sign(signers ...ed25519.PrivateKey) error {
	data, err := tx.Message.Serialize()
	if err != nil {
		return err
	}
	required := tx.Message.SignerKeys()
	if len(tx.Signatures) < len(required) {
		sigs := make([]types.Signature, len(required))
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	for _, key := range signers {
		pub := types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey))
		idx := -1
		for i, k := range required {
			if k == pub {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSigner, pub)
		}
		copy(tx.Signatures[idx][:], ed25519.Sign(key, data))
	}
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures checks each signature against its signer and the
// serialized message.
func (tx *Transaction) VerifySignatures() error {
	data, err := tx.Message.Serialize()
	if err != nil {
		return ErrSignatureFailure
	}
	keys := tx.Message.AccountKeys
	if len(tx.Signatures) > len(keys) {
		return ErrSignatureFailure
	}
	for i, sig := range tx.Signatures {
		if !sig.Verify(keys[i], data) {
			return ErrSignatureFailure
		}
	}
	return nil
}
