package loader

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

// Fixed account layout sizes.
const (
	// UpgradeableProgramSize is the size of a program pointer account.
	UpgradeableProgramSize = 4 + 32

	// UpgradeableBufferMetadataSize is the header of a buffer account.
	UpgradeableBufferMetadataSize = 4 + 1 + 32

	// UpgradeableProgramDataMetadataSize is the header preceding the ELF in
	// a program data account.
	UpgradeableProgramDataMetadataSize = 4 + 8 + 1 + 32

	// LoaderV4MetadataSize is the header preceding the ELF in a loader v4
	// program account.
	LoaderV4MetadataSize = 8 + 32 + 8
)

// ErrInvalidState is returned when loader account data does not decode.
var ErrInvalidState = errors.New("invalid loader account state")

// UpgradeableKind is the variant tag of an upgradeable loader account.
type UpgradeableKind uint32

const (
	UpgradeableUninitialized UpgradeableKind = iota
	UpgradeableBuffer
	UpgradeableProgram
	UpgradeableProgramData
)

// UpgradeableState is the decoded header of an account owned by the
// upgradeable loader. Which fields are set depends on Kind.
type UpgradeableState struct {
	Kind UpgradeableKind

	// Authority is the buffer or upgrade authority, if any.
	Authority *types.Pubkey

	// ProgramData is the program data address of a Program account.
	ProgramData types.Pubkey

	// Slot is the deployment slot of a ProgramData account.
	Slot uint64
}

func writeOptionalPubkey(enc *bin.Encoder, p *types.Pubkey) error {
	if p == nil {
		return enc.WriteUint8(0)
	}
	if err := enc.WriteUint8(1); err != nil {
		return err
	}
	return enc.WriteBytes(p[:], false)
}

func readOptionalPubkey(dec *bin.Decoder) (*types.Pubkey, error) {
	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		b, err := dec.ReadBytes(types.PubkeySize)
		if err != nil {
			return nil, err
		}
		var p types.Pubkey
		copy(p[:], b)
		return &p, nil
	default:
		return nil, fmt.Errorf("invalid option tag %d", tag)
	}
}

// DecodeUpgradeableState decodes the header of an upgradeable loader account.
func DecodeUpgradeableState(data []byte) (*UpgradeableState, error) {
	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	s := &UpgradeableState{Kind: UpgradeableKind(tag)}
	switch s.Kind {
	case UpgradeableUninitialized:
	case UpgradeableBuffer:
		s.Authority, err = readOptionalPubkey(dec)
	case UpgradeableProgram:
		var b []byte
		if b, err = dec.ReadBytes(types.PubkeySize); err == nil {
			copy(s.ProgramData[:], b)
		}
	case UpgradeableProgramData:
		if s.Slot, err = dec.ReadUint64(bin.LE); err == nil {
			s.Authority, err = readOptionalPubkey(dec)
		}
	default:
		return nil, fmt.Errorf("%w: unknown variant %d", ErrInvalidState, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return s, nil
}

// Encode serializes the header. The result is exactly the fixed metadata
// size of the variant, zero padded.
func (s *UpgradeableState) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(uint32(s.Kind), bin.LE); err != nil {
		return nil, err
	}
	size := 4
	switch s.Kind {
	case UpgradeableBuffer:
		if err := writeOptionalPubkey(enc, s.Authority); err != nil {
			return nil, err
		}
		size = UpgradeableBufferMetadataSize
	case UpgradeableProgram:
		if err := enc.WriteBytes(s.ProgramData[:], false); err != nil {
			return nil, err
		}
		size = UpgradeableProgramSize
	case UpgradeableProgramData:
		if err := enc.WriteUint64(s.Slot, bin.LE); err != nil {
			return nil, err
		}
		if err := writeOptionalPubkey(enc, s.Authority); err != nil {
			return nil, err
		}
		size = UpgradeableProgramDataMetadataSize
	}
	out := make([]byte, size)
	copy(out, buf.Bytes())
	return out, nil
}

// IsProgramData reports whether data holds an upgradeable ProgramData header.
func IsProgramData(data []byte) bool {
	return len(data) >= 4 && data[0] == byte(UpgradeableProgramData) &&
		data[1] == 0 && data[2] == 0 && data[3] == 0
}

// NewProgramAccountData returns the data of a program pointer account.
func NewProgramAccountData(programData types.Pubkey) []byte {
	out, _ := (&UpgradeableState{Kind: UpgradeableProgram, ProgramData: programData}).Encode()
	return out
}

// NewProgramDataAccountData returns the data of a program data account
// holding elf.
func NewProgramDataAccountData(slot uint64, authority *types.Pubkey, elf []byte) []byte {
	header, _ := (&UpgradeableState{Kind: UpgradeableProgramData, Slot: slot, Authority: authority}).Encode()
	return append(header, elf...)
}

// ProgramDataAddress derives the program data address of an upgradeable
// program.
func ProgramDataAddress(program types.Pubkey) (types.Pubkey, error) {
	addr, _, err := types.FindProgramAddress([][]byte{program[:]}, types.BPFLoaderUpgradeableAddr)
	return addr, err
}

// LoaderV4Status is the deployment status of a loader v4 program.
type LoaderV4Status uint64

const (
	LoaderV4Retracted LoaderV4Status = iota
	LoaderV4Deployed
	LoaderV4Finalized
)

// LoaderV4State is the header of a loader v4 program account.
type LoaderV4State struct {
	Slot                          uint64
	AuthorityAddressOrNextVersion types.Pubkey
	Status                        LoaderV4Status
}

// DecodeLoaderV4State decodes the header of a loader v4 program account.
func DecodeLoaderV4State(data []byte) (*LoaderV4State, error) {
	if len(data) < LoaderV4MetadataSize {
		return nil, ErrInvalidState
	}
	dec := bin.NewBinDecoder(data)
	s := &LoaderV4State{}
	var err error
	if s.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrInvalidState
	}
	b, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, ErrInvalidState
	}
	copy(s.AuthorityAddressOrNextVersion[:], b)
	status, err := dec.ReadUint64(bin.LE)
	if err != nil || status > uint64(LoaderV4Finalized) {
		return nil, ErrInvalidState
	}
	s.Status = LoaderV4Status(status)
	return s, nil
}

// NewLoaderV4AccountData returns the data of a loader v4 program account.
func NewLoaderV4AccountData(state LoaderV4State, elf []byte) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint64(state.Slot, bin.LE)
	_ = enc.WriteBytes(state.AuthorityAddressOrNextVersion[:], false)
	_ = enc.WriteUint64(uint64(state.Status), bin.LE)
	_ = enc.WriteBytes(elf, false)
	return buf.Bytes()
}
