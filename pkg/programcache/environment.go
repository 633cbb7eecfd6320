package programcache

import (
	"sort"

	"github.com/fortiblox/X1-Sandbox/pkg/svm/loader"
)

// DefaultSyscalls lists the syscalls a deployed program may import.
var DefaultSyscalls = []string{
	"abort",
	"sol_panic_",
	"sol_log_",
	"sol_log_64_",
	"sol_log_pubkey",
	"sol_log_compute_units_",
	"sol_log_data",
	"sol_memcpy_",
	"sol_memmove_",
	"sol_memset_",
	"sol_memcmp_",
	"sol_alloc_free_",
	"sol_sha256",
	"sol_keccak256",
	"sol_blake3",
	"sol_secp256k1_recover",
	"sol_create_program_address",
	"sol_try_find_program_address",
	"sol_invoke_signed_c",
	"sol_invoke_signed_rust",
	"sol_set_return_data",
	"sol_get_return_data",
	"sol_get_stack_height",
	"sol_get_processed_sibling_instruction",
	"sol_remaining_compute_units",
	"sol_get_clock_sysvar",
	"sol_get_epoch_schedule_sysvar",
	"sol_get_fees_sysvar",
	"sol_get_rent_sysvar",
	"sol_get_last_restart_slot",
	"sol_get_epoch_rewards_sysvar",
	"sol_get_sysvar",
	"sol_curve_validate_point",
	"sol_curve_group_op",
	"sol_curve_multiscalar_mul",
	"sol_alt_bn128_group_op",
	"sol_alt_bn128_compression",
	"sol_big_mod_exp",
	"sol_poseidon",
}

// Environment is the configuration programs are compiled against. Entries
// compiled under one environment are not valid under another.
type Environment struct {
	Version uint64
	Loader  loader.Config
}

// NewEnvironment builds an environment accepting the given syscalls.
func NewEnvironment(version uint64, syscalls []string) *Environment {
	allowed := make(map[uint32]string, len(syscalls))
	for _, name := range syscalls {
		allowed[loader.SymbolHash(name)] = name
	}
	return &Environment{Version: version, Loader: loader.Config{Syscalls: allowed}}
}

// DefaultEnvironment accepts DefaultSyscalls.
func DefaultEnvironment() *Environment {
	return NewEnvironment(1, DefaultSyscalls)
}

// Syscalls returns the accepted syscall names in sorted order.
func (e *Environment) Syscalls() []string {
	names := make([]string, 0, len(e.Loader.Syscalls))
	for _, name := range e.Loader.Syscalls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
