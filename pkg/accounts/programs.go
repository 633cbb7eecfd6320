package accounts

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/programcache"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/loader"
)

// Program load errors.
var (
	ErrInvalidAccountData = errors.New("invalid account data for program")
	ErrMissingAccount     = errors.New("program data account not found")
	ErrIncorrectProgramID = errors.New("owner is not a program loader")
)

// LoadProgram compiles the program held by acc according to its owning
// loader:
// - the deprecated and v2 loaders keep the image in the account itself
// - the upgradeable loader points at a separate program data account whose
//   image follows a fixed header
// - the v4 loader keeps the image after its state header
func (s *Store) LoadProgram(acc *Account) (*programcache.Entry, error) {
	var (
		elf  []byte
		size int
	)
	switch acc.Owner {
	case types.BPFLoaderAddr, types.BPFLoaderDeprecatedAddr:
		elf, size = acc.Data, len(acc.Data)

	case types.BPFLoaderUpgradeableAddr:
		state, err := loader.DecodeUpgradeableState(acc.Data)
		if err != nil || state.Kind != loader.UpgradeableProgram {
			return nil, fmt.Errorf("%w: not an upgradeable program account", ErrInvalidAccountData)
		}
		programData, ok := s.Get(state.ProgramData)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingAccount, state.ProgramData)
		}
		if len(programData.Data) < loader.UpgradeableProgramDataMetadataSize {
			return nil, fmt.Errorf("%w: program data too short", ErrInvalidAccountData)
		}
		elf = programData.Data[loader.UpgradeableProgramDataMetadataSize:]
		size = len(acc.Data) + len(programData.Data)

	case types.LoaderV4Addr:
		if len(acc.Data) < loader.LoaderV4MetadataSize {
			return nil, fmt.Errorf("%w: program account too short", ErrInvalidAccountData)
		}
		elf, size = acc.Data[loader.LoaderV4MetadataSize:], len(acc.Data)

	default:
		return nil, ErrIncorrectProgramID
	}

	entry, err := s.programs.Compile(acc.Owner, elf, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return entry, nil
}
