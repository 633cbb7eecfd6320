package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/testutil"
	"github.com/fortiblox/X1-Sandbox/internal/types"
)

func TestSymbolHash(t *testing.T) {
	// Known values of the runtime syscall registry.
	assert.Equal(t, uint32(0x207559bd), SymbolHash("sol_log_"))
	assert.Equal(t, uint32(0x71e3cf81), SymbolHash("entrypoint"))
}

func TestLoadMinimalProgram(t *testing.T) {
	elf := testutil.BuildELF(testutil.ReturnProgram(0))

	exe, err := Load(elf, Config{})
	require.NoError(t, err)
	assert.Len(t, exe.Text, 2)
	assert.Equal(t, uint64(0), exe.Entry)
	assert.Empty(t, exe.Syscalls)
}

func TestLoadResolvesSyscalls(t *testing.T) {
	elf := testutil.BuildELF(testutil.ReturnProgram(0), "sol_log_")
	allowed := map[uint32]string{SymbolHash("sol_log_"): "sol_log_"}

	exe, err := Load(elf, Config{Syscalls: allowed})
	require.NoError(t, err)
	require.Len(t, exe.Text, 3)
	assert.Equal(t, []uint32{SymbolHash("sol_log_")}, exe.Syscalls)
	assert.Equal(t, uint64(SymbolHash("sol_log_")), exe.Text[2]>>32)
}

func TestLoadRejectsUnknownSyscall(t *testing.T) {
	elf := testutil.BuildELF(testutil.ReturnProgram(0), "sol_definitely_not_real")
	allowed := map[uint32]string{SymbolHash("sol_log_"): "sol_log_"}

	_, err := Load(elf, Config{Syscalls: allowed})
	assert.ErrorIs(t, err, ErrUnresolvedSymbol)

	_, err = Load(elf, Config{})
	assert.NoError(t, err)
}

func TestLoadRejectsMalformedImages(t *testing.T) {
	good := testutil.BuildELF(testutil.ReturnProgram(0))
	mutate := func(f func(b []byte)) []byte {
		b := append([]byte{}, good...)
		f(b)
		return b
	}

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrInvalidELF},
		{"bad magic", mutate(func(b []byte) { b[0] = 0 }), ErrInvalidELF},
		{"32-bit", mutate(func(b []byte) { b[4] = 1 }), ErrUnsupportedClass},
		{"big endian", mutate(func(b []byte) { b[5] = 2 }), ErrUnsupportedEndian},
		{"wrong machine", mutate(func(b []byte) { binary.LittleEndian.PutUint16(b[18:], 62) }), ErrUnsupportedMachine},
		{"entry past text", mutate(func(b []byte) { binary.LittleEndian.PutUint64(b[24:], 64+16) }), ErrEntrypointOutOfRange},
		{"truncated", good[:len(good)-1], ErrInvalidELF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data, Config{})
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLoadEnforcesMaxSize(t *testing.T) {
	elf := testutil.BuildELF(testutil.ReturnProgram(0))
	_, err := Load(elf, Config{MaxSize: len(elf) - 1})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUpgradeableStateRoundTrip(t *testing.T) {
	authority := testutil.NewPubkey()
	data := NewProgramDataAccountData(42, &authority, []byte{1, 2, 3})
	require.Len(t, data, UpgradeableProgramDataMetadataSize+3)
	assert.True(t, IsProgramData(data))

	st, err := DecodeUpgradeableState(data)
	require.NoError(t, err)
	assert.Equal(t, UpgradeableProgramData, st.Kind)
	assert.Equal(t, uint64(42), st.Slot)
	require.NotNil(t, st.Authority)
	assert.Equal(t, authority, *st.Authority)

	pd := testutil.NewPubkey()
	prog := NewProgramAccountData(pd)
	require.Len(t, prog, UpgradeableProgramSize)
	assert.False(t, IsProgramData(prog))
	st, err = DecodeUpgradeableState(prog)
	require.NoError(t, err)
	assert.Equal(t, UpgradeableProgram, st.Kind)
	assert.Equal(t, pd, st.ProgramData)

	_, err = DecodeUpgradeableState([]byte{9, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = DecodeUpgradeableState([]byte{2, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLoaderV4State(t *testing.T) {
	authority := testutil.NewPubkey()
	data := NewLoaderV4AccountData(LoaderV4State{Slot: 7, AuthorityAddressOrNextVersion: authority, Status: LoaderV4Deployed}, []byte{0xaa})
	require.Len(t, data, LoaderV4MetadataSize+1)

	st, err := DecodeLoaderV4State(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.Slot)
	assert.Equal(t, authority, st.AuthorityAddressOrNextVersion)
	assert.Equal(t, LoaderV4Deployed, st.Status)

	_, err = DecodeLoaderV4State(data[:10])
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProgramDataAddressIsOffCurve(t *testing.T) {
	addr, err := ProgramDataAddress(testutil.NewPubkey())
	require.NoError(t, err)
	assert.False(t, types.IsOnCurve(addr))
}
