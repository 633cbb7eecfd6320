package precompile

import (
	"testing"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/testutil"
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

func TestEd25519(t *testing.T) {
	kp := testutil.NewKeypair()
	ix := NewEd25519Instruction(kp.Private, []byte("hello"))
	require.NoError(t, VerifyEd25519(ix.Data, [][]byte{ix.Data}))

	t.Run("tampered message", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[len(data)-1] ^= 1
		assert.Equal(t, InvalidSignature, VerifyEd25519(data, [][]byte{data}))
	})

	t.Run("offsets past data", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[10] = 0xFF // message offset
		assert.Equal(t, InvalidDataOffsets, VerifyEd25519(data, [][]byte{data}))
	})

	t.Run("instruction index out of range", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[4], data[5] = 3, 0 // signature instruction index
		assert.Equal(t, InvalidDataOffsets, VerifyEd25519(data, [][]byte{data}))
	})

	t.Run("invalid public key", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		pub := data[16:48]
		for i := 2; ; i++ {
			var candidate [32]byte
			candidate[0] = byte(i)
			if _, err := new(edwards25519.Point).SetBytes(candidate[:]); err != nil {
				copy(pub, candidate[:])
				break
			}
		}
		assert.Equal(t, InvalidPublicKey, VerifyEd25519(data, [][]byte{data}))
	})

	t.Run("size", func(t *testing.T) {
		assert.Equal(t, InvalidInstructionDataSize, VerifyEd25519([]byte{1}, nil))
		assert.Equal(t, InvalidInstructionDataSize, VerifyEd25519([]byte{0, 0, 0}, nil))
		assert.Equal(t, InvalidInstructionDataSize, VerifyEd25519([]byte{1, 0, 0, 0}, nil))
		assert.NoError(t, VerifyEd25519([]byte{0, 0}, nil))
	})
}

func TestSecp256k1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ix, err := NewSecp256k1Instruction(priv, []byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, VerifySecp256k1(ix.Data, [][]byte{ix.Data}))

	t.Run("wrong address", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[12] ^= 1
		assert.Equal(t, InvalidSignature, VerifySecp256k1(data, [][]byte{data}))
	})

	t.Run("recovery id", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[32+64] = 4
		assert.Equal(t, InvalidRecoveryID, VerifySecp256k1(data, [][]byte{data}))
	})

	t.Run("signature instruction missing", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[3] = 2
		assert.Equal(t, InvalidInstructionDataSize, VerifySecp256k1(data, [][]byte{data}))
	})

	t.Run("message past data", func(t *testing.T) {
		data := append([]byte(nil), ix.Data...)
		data[9] = 0xFF
		assert.Equal(t, InvalidSignature, VerifySecp256k1(data, [][]byte{data}))
	})

	t.Run("size", func(t *testing.T) {
		assert.Equal(t, InvalidInstructionDataSize, VerifySecp256k1(nil, nil))
		assert.Equal(t, InvalidInstructionDataSize, VerifySecp256k1([]byte{0, 1}, nil))
		assert.Equal(t, InvalidInstructionDataSize, VerifySecp256k1([]byte{1, 0}, nil))
		assert.NoError(t, VerifySecp256k1([]byte{0}, nil))
	})
}

func TestVerifyMessage(t *testing.T) {
	payer := testutil.NewKeypair()
	signer := testutil.NewKeypair()
	good := NewEd25519Instruction(signer.Private, []byte("msg"))
	bad := NewEd25519Instruction(signer.Private, []byte("msg"))
	bad.Data[len(bad.Data)-1] = 'x'

	sanitize := func(ixs ...transaction.Instruction) *transaction.SanitizedMessage {
		msg := transaction.NewMessage(ixs, &payer.Pubkey, types.Hash{})
		tx, err := transaction.NewTransaction(msg, payer.Private)
		require.NoError(t, err)
		stx, err := transaction.Sanitize(tx, nil)
		require.NoError(t, err)
		return stx.Message()
	}

	assert.NoError(t, VerifyMessage(sanitize(good)))

	err := VerifyMessage(sanitize(good, bad))
	var ixErr *transaction.InstructionError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, uint8(1), ixErr.Index)
	assert.ErrorIs(t, err, InvalidSignature)

	assert.True(t, Is(types.Secp256k1PrecompileAddr))
	assert.False(t, Is(types.SystemProgramAddr))
}
