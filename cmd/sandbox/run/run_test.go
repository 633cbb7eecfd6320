package run

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/testutil"
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

func testConfig() Config {
	return Config{
		LogFormat:       "text",
		Encoding:        "base64",
		SigVerify:       true,
		BlockhashCheck:  true,
		HistoryCapacity: 500,
		LogBytesLimit:   10000,
		Backend:         "memory",
	}
}

// genesisTransfer signs a transfer against the blockhash a new ledger
// starts with.
func genesisTransfer(t *testing.T, from testutil.Keypair, lamports uint64) []byte {
	t.Helper()
	msg := transaction.NewMessage(
		[]transaction.Instruction{system.Transfer(from.Pubkey, testutil.NewPubkey(), lamports)},
		&from.Pubkey,
		types.ComputeHash([]byte("genesis")),
	)
	tx, err := transaction.NewTransaction(msg, from.Private)
	require.NoError(t, err)
	data, err := tx.Serialize()
	require.NoError(t, err)
	return data
}

func TestParsePairs(t *testing.T) {
	a, b := testutil.NewPubkey(), testutil.NewPubkey()

	pairs, err := parsePairs(fmt.Sprintf("%s=100, %s=path/to/program.so,", a, b))
	require.NoError(t, err)
	assert.Equal(t, []pair{{address: a, value: "100"}, {address: b, value: "path/to/program.so"}}, pairs)

	pairs, err = parsePairs("")
	require.NoError(t, err)
	assert.Empty(t, pairs)

	_, err = parsePairs(a.String())
	assert.Error(t, err)
	_, err = parsePairs("not-base58=1")
	assert.Error(t, err)
}

func TestDecodeTransaction(t *testing.T) {
	data := genesisTransfer(t, testutil.NewKeypair(), 1)

	for _, tc := range []struct {
		encoding string
		encoded  string
	}{
		{"base64", base64.StdEncoding.EncodeToString(data)},
		{"base58", base58.Encode(data)},
	} {
		tx, err := decodeTransaction(tc.encoded, tc.encoding)
		require.NoError(t, err, tc.encoding)
		out, err := tx.Serialize()
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}

	_, err := decodeTransaction("", "hex")
	assert.Error(t, err)
}

func TestExecute(t *testing.T) {
	t.Run("transfer scenario", func(t *testing.T) {
		assert.NoError(t, execute(zerolog.Nop(), testConfig()))
	})

	t.Run("encoded transaction", func(t *testing.T) {
		payer := testutil.NewKeypair()
		conf := testConfig()
		conf.Airdrops = fmt.Sprintf("%s=%d", payer.Pubkey, 1_000_000_000)
		conf.Transaction = base64.StdEncoding.EncodeToString(genesisTransfer(t, payer, 64))
		assert.NoError(t, execute(zerolog.Nop(), conf))

		conf.Simulate = true
		conf.Backend = "badger"
		assert.NoError(t, execute(zerolog.Nop(), conf))
	})

	t.Run("failing transaction", func(t *testing.T) {
		payer := testutil.NewKeypair()
		conf := testConfig()
		conf.Transaction = base64.StdEncoding.EncodeToString(genesisTransfer(t, payer, 64))
		err := execute(zerolog.Nop(), conf)
		assert.ErrorIs(t, err, transaction.ErrAccountNotFound)
	})

	t.Run("invalid backend", func(t *testing.T) {
		conf := testConfig()
		conf.Backend = "bolt"
		assert.Error(t, execute(zerolog.Nop(), conf))
	})
}
