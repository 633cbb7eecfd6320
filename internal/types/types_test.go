package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	p, err := PubkeyFromBase58("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.True(t, p.IsZero())
	assert.Equal(t, "11111111111111111111111111111111", p.String())

	_, err = PubkeyFromBase58("abc")
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	var q Pubkey
	require.NoError(t, q.UnmarshalText([]byte(SysvarClockAddr.String())))
	assert.Equal(t, SysvarClockAddr, q)
}

func TestSignatureVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := SignatureFromBytes(ed25519.Sign(priv, msg))
	require.NoError(t, err)

	assert.True(t, sig.Verify(PubkeyFromPublicKey(pub), msg))
	assert.False(t, sig.Verify(PubkeyFromPublicKey(pub), []byte("other")))

	var parsed Signature
	require.NoError(t, parsed.UnmarshalText([]byte(sig.String())))
	assert.Equal(t, sig, parsed)
}

func TestHashParts(t *testing.T) {
	assert.Equal(t, ComputeHash([]byte("genesis")), HashParts([]byte("gen"), []byte("esis")))
	h, err := HashFromHex(ComputeHash(nil).Hex())
	require.NoError(t, err)
	assert.Equal(t, ComputeHash(nil), h)
}

func TestReservedAccountKeys(t *testing.T) {
	assert.True(t, IsReservedAccountKey(SysvarClockAddr))
	assert.True(t, IsReservedAccountKey(SystemProgramAddr))
	assert.True(t, IsReservedAccountKey(SysvarOwnerAddr))
	assert.False(t, IsReservedAccountKey(IncineratorAddr))
	assert.False(t, IsReservedAccountKey(Pubkey{1}))

	assert.Equal(t, "SysvarRecentB1ockHashes11111111111111111111", SysvarRecentBlockhashesAddr.String())
}

func TestFindProgramAddress(t *testing.T) {
	program := Pubkey{7}
	seeds := [][]byte{[]byte("vault"), {1, 2, 3}}

	addr, bump, err := FindProgramAddress(seeds, program)
	require.NoError(t, err)
	assert.False(t, IsOnCurve(addr))

	again, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	_, _, err = FindProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, program)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress(make([][]byte, MaxSeeds+1), program)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)
}

func TestCreateWithSeed(t *testing.T) {
	base, owner := Pubkey{1}, Pubkey{2}

	addr, err := CreateWithSeed(base, "stake:0", owner)
	require.NoError(t, err)
	assert.Equal(t, Pubkey(HashParts(base[:], []byte("stake:0"), owner[:])), addr)

	_, err = CreateWithSeed(base, string(make([]byte, MaxSeedLen+1)), owner)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	var illegal Pubkey
	copy(illegal[32-len(pdaMarker):], pdaMarker)
	_, err = CreateWithSeed(base, "x", illegal)
	assert.ErrorIs(t, err, ErrIllegalOwner)
}
