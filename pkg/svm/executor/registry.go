package executor

import (
	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/svm"
	"github.com/fortiblox/X1-Sandbox/pkg/svm/programs/system"
)

// LoaderV4Feature gates the v4 loader builtin.
var LoaderV4Feature = types.Pubkey(types.ComputeHash([]byte("feature:enable_loader_v4")))

// ProcessFunc executes one instruction of a builtin program.
type ProcessFunc func(ctx *svm.InvokeContext) error

// Builtin is a program implemented natively rather than loaded as bytecode.
type Builtin struct {
	Name string

	// Cost is charged before Process runs.
	Cost uint64

	// Feature gates the builtin when non-zero.
	Feature types.Pubkey

	Process ProcessFunc
}

// Enabled reports whether b is active under fs.
func (b *Builtin) Enabled(fs *svm.FeatureSet) bool {
	return b.Feature.IsZero() || fs == nil || fs.IsActive(b.Feature)
}

// Registry is the set of builtin programs an engine installs. It is built
// once per engine and owned by it.
type Registry struct {
	builtins map[types.Pubkey]*Builtin
	order    []types.Pubkey
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[types.Pubkey]*Builtin)}
}

// Register adds or replaces the builtin at id.
func (r *Registry) Register(id types.Pubkey, b *Builtin) {
	if _, ok := r.builtins[id]; !ok {
		r.order = append(r.order, id)
	}
	r.builtins[id] = b
}

// Get returns the builtin at id.
func (r *Registry) Get(id types.Pubkey) (*Builtin, bool) {
	b, ok := r.builtins[id]
	return b, ok
}

// IDs returns the registered program ids in registration order.
func (r *Registry) IDs() []types.Pubkey {
	return append([]types.Pubkey(nil), r.order...)
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	for _, id := range r.order {
		b := *r.builtins[id]
		c.Register(id, &b)
	}
	return c
}

func noop(*svm.InvokeContext) error { return nil }

func unsupported(*svm.InvokeContext) error { return svm.ErrUnsupportedProgramID }

// DefaultRegistry returns the builtins every engine starts with: the system
// and compute budget programs and the bytecode loaders. Loader instructions
// (deploy, upgrade, close) are not supported; programs are installed through
// the engine instead.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(types.SystemProgramAddr, &Builtin{
		Name:    "system_program",
		Cost:    svm.SystemProgramComputeUnits,
		Process: system.NewProcessor().Process,
	})
	r.Register(types.ComputeBudgetProgramAddr, &Builtin{
		Name:    "compute_budget_program",
		Cost:    svm.ComputeBudgetComputeUnits,
		Process: noop,
	})
	r.Register(types.BPFLoaderDeprecatedAddr, &Builtin{
		Name:    "solana_bpf_loader_deprecated_program",
		Cost:    svm.LoaderComputeUnits,
		Process: unsupported,
	})
	r.Register(types.BPFLoaderAddr, &Builtin{
		Name:    "solana_bpf_loader_program",
		Cost:    svm.LoaderComputeUnits,
		Process: unsupported,
	})
	r.Register(types.BPFLoaderUpgradeableAddr, &Builtin{
		Name:    "solana_bpf_loader_upgradeable_program",
		Cost:    svm.LoaderComputeUnits,
		Process: unsupported,
	})
	r.Register(types.LoaderV4Addr, &Builtin{
		Name:    "loader_v4",
		Cost:    svm.LoaderComputeUnits,
		Feature: LoaderV4Feature,
		Process: unsupported,
	})
	return r
}
