package sysvar

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/testutil"
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

func TestAccountLayoutSizes(t *testing.T) {
	rent := DefaultRent()
	schedule := DefaultEpochSchedule()
	history := DefaultSlotHistory()

	tests := []struct {
		sysvar Sysvar
		size   int
	}{
		{&Clock{Slot: 5}, 40},
		{&rent, 17},
		{&schedule, 33},
		{&EpochRewards{}, 81},
		{&Fees{}, 8},
		{&LastRestartSlot{}, 8},
		{&RecentBlockhashes{{LamportsPerSignature: 5000}}, 8 + 40},
		{&SlotHashes{{Slot: 0}}, 8 + 40},
		{&history, 131097},
		{&StakeHistory{}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.sysvar.Name(), func(t *testing.T) {
			data, err := Marshal(tt.sysvar)
			require.NoError(t, err)
			assert.Len(t, data, tt.size)
		})
	}
}

func TestMarshalAccountPadsVectors(t *testing.T) {
	rent := DefaultRent()
	history := DefaultSlotHistory()
	recent := RecentBlockhashes{{Blockhash: types.ComputeHash([]byte("a")), LamportsPerSignature: 5000}}

	tests := []struct {
		sysvar Sysvar
		size   int
	}{
		{&recent, 6008},
		{&SlotHashes{{Slot: 3}}, 20488},
		{&StakeHistory{}, 16392},
		{&history, 131097},
		{&rent, 17},
		{&Clock{Slot: 5}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.sysvar.Name(), func(t *testing.T) {
			data, err := MarshalAccount(tt.sysvar)
			require.NoError(t, err)
			assert.Len(t, data, tt.size)
		})
	}

	data, err := MarshalAccount(&recent)
	require.NoError(t, err)
	var decoded RecentBlockhashes
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, recent, decoded)
}

func TestRentMinimumBalance(t *testing.T) {
	rent := DefaultRent()
	assert.Equal(t, uint64(890880), rent.MinimumBalance(0))
	assert.Equal(t, uint64(1447680), rent.MinimumBalance(80))
	assert.True(t, rent.IsExempt(890880, 0))
	assert.False(t, rent.IsExempt(890879, 0))
}

func TestCacheUpdate(t *testing.T) {
	c := NewCache()

	_, err := c.Clock()
	assert.ErrorIs(t, err, ErrSysvarNotFound)

	data, err := Marshal(&Clock{Slot: 42, UnixTimestamp: 7})
	require.NoError(t, err)
	require.NoError(t, c.Update(types.SysvarClockAddr, data))

	clock, err := c.Clock()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), clock.Slot)

	var viaGet Clock
	require.NoError(t, c.Get(&viaGet))
	assert.Equal(t, clock, viaGet)

	err = c.Update(types.SysvarClockAddr, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSysvarData)
	clock, err = c.Clock()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), clock.Slot, "failed update keeps the previous value")

	assert.NoError(t, c.Update(testutil.NewPubkey(), []byte{1}))
	assert.False(t, IsCached(types.SysvarInstructionsAddr))
}

func TestSlotHistoryRoundTrip(t *testing.T) {
	h := DefaultSlotHistory()
	h.Add(100)
	data, err := Marshal(&h)
	require.NoError(t, err)

	var decoded SlotHistory
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, uint64(101), decoded.NextSlot)
	assert.Equal(t, uint64(1<<0), decoded.Bits[0])
	assert.Equal(t, uint64(1<<(100-64)), decoded.Bits[1])
}

func TestConstructInstructionsData(t *testing.T) {
	payer := testutil.NewKeypair()
	to := testutil.NewPubkey()
	ix := transaction.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []transaction.AccountMeta{
			transaction.NewAccountMeta(payer.Pubkey, true, true),
			transaction.NewAccountMeta(to, false, false),
		},
		Data: []byte{9, 9},
	}
	msg := transaction.NewMessage([]transaction.Instruction{ix}, &payer.Pubkey, types.Hash{})
	tx, err := transaction.NewTransaction(msg, payer.Private)
	require.NoError(t, err)
	stx, err := transaction.Sanitize(tx, nil)
	require.NoError(t, err)

	data := ConstructInstructionsData(stx.Message())

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[0:]))
	offset := binary.LittleEndian.Uint16(data[2:])
	assert.Equal(t, uint16(4), offset)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[offset:]))
	assert.Equal(t, byte(instructionsFlagSigner|instructionsFlagWritable), data[offset+2])
	assert.Equal(t, payer.Pubkey[:], data[offset+3:offset+35])
	assert.Equal(t, byte(0), data[offset+35])
	// 4 header + 2 count + 2*33 accounts + 32 program + 2 len + 2 data + 2 index
	assert.Len(t, data, 4+2+66+32+2+2+2)

	SetCurrentInstructionIndex(data, 3)
	assert.Equal(t, uint16(3), LoadCurrentInstructionIndex(data))
}
