package params

import (
	"fmt"
	"sync"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

// HookPhase names a point in the benchmark lifecycle at which install hooks
// run.
type HookPhase string

// Hook phases.
const (
	PhasePostInstall HookPhase = "post-install"
	PhasePreLoad     HookPhase = "pre-load"
	PhasePostLoad    HookPhase = "post-load"
)

// HookFunc is an install hook registered by a workload plugin.
type HookFunc func() error

// Runner is the executable binding of an operation type. Execution itself
// lives outside the core; the registry only carries the contract.
type Runner struct {
	Name  string
	Fn    any
	Async bool
}

// StandardValueSource generates one fresh standard value for a
// (operation, field) pair, used by the query randomizer.
type StandardValueSource func() any

// QueryRandomizationInfo describes where the randomizer finds the range
// clauses of an operation and which parameter names it may rewrite.
type QueryRandomizationInfo struct {
	QueryName            string
	ParameterNameOptions [][]string
	OptionalParameters   []string
}

// DefaultQueryRandomizationInfo is used when an operation has no registered
// randomization info.
var DefaultQueryRandomizationInfo = QueryRandomizationInfo{
	QueryName:            "range",
	ParameterNameOptions: [][]string{{"gte", "gt"}, {"lte", "lt"}},
	OptionalParameters:   []string{"format"},
}

type opField struct {
	op    string
	field string
}

// Registry maps operation types and names to parameter source builders and
// holds the standard-value pools, query randomization infos, runners, and
// install hooks. Registration happens once at startup; the registry is
// frozen before any partition is created.
type Registry struct {
	mu     sync.Mutex
	frozen bool

	byOp   map[string]Builder
	byName map[string]Builder

	standardValueSources map[opField]StandardValueSource
	standardValues       map[opField][]any

	randomizationInfos map[string]QueryRandomizationInfo

	runners map[string]Runner
	hooks   map[HookPhase][]HookFunc
}

// NewRegistry creates an empty registry with the built-in sources installed.
func NewRegistry() *Registry {
	r := &Registry{
		byOp:                 make(map[string]Builder),
		byName:               make(map[string]Builder),
		standardValueSources: make(map[opField]StandardValueSource),
		standardValues:       make(map[opField][]any),
		randomizationInfos:   make(map[string]QueryRandomizationInfo),
		runners:              make(map[string]Runner),
		hooks:                make(map[HookPhase][]HookFunc),
	}
	registerBuiltins(r)
	return r
}

// Freeze forbids further registration. Partition creation happens only on a
// frozen registry.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) register(target map[string]Builder, key string, builder Builder) error {
	if builder == nil {
		return serrors.NewAssertionError("parameter source for %q must not be nil", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return serrors.NewAssertionError("registry is frozen; cannot register %q", key)
	}
	target[key] = builder
	return nil
}

// RegisterSourceForOperation binds a builder to a built-in or user-defined
// operation type.
func (r *Registry) RegisterSourceForOperation(opType workload.OperationType, builder Builder) error {
	return r.register(r.byOp, string(opType), builder)
}

// RegisterSourceForName binds a builder to an explicit param-source name.
func (r *Registry) RegisterSourceForName(name string, builder Builder) error {
	return r.register(r.byName, name, builder)
}

// RegisterFuncForName binds a plain parameter function to a name, the
// simplest plugin extension point.
func (r *Registry) RegisterFuncForName(name string, fn func(w *workload.Workload, params map[string]any) (map[string]any, error)) error {
	return r.register(r.byName, name, func(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
		return &delegatingSource{workload: w, params: params, delegate: fn}, nil
	})
}

// SourceForOperation creates the parameter source for an operation type,
// falling back to the passthrough source for unknown types.
func (r *Registry) SourceForOperation(ctx *ExecutionContext, opType string, w *workload.Workload, params map[string]any, taskName string) (Source, error) {
	r.mu.Lock()
	builder, ok := r.byOp[opType]
	r.mu.Unlock()
	if !ok {
		return NewPassthroughSource(ctx, w, params, taskName)
	}
	return builder(ctx, w, params, taskName)
}

// SourceForName creates the parameter source registered under an explicit name.
func (r *Registry) SourceForName(ctx *ExecutionContext, name string, w *workload.Workload, params map[string]any) (Source, error) {
	r.mu.Lock()
	builder, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("unknown parameter source %q", name),
			"register it in the workload plugin before using it")
	}
	return builder(ctx, w, params, name)
}

// RegisterStandardValueSource registers the generator for a
// (operation, field) pair. Re-registration for the same pair is allowed since
// workload plugins load more than once per run.
func (r *Registry) RegisterStandardValueSource(opName, fieldName string, source StandardValueSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standardValueSources[opField{opName, fieldName}] = source
}

// GenerateStandardValuesIfAbsent lazily fills the value pool for a
// (operation, field) pair. The pool is generated exactly once.
func (r *Registry) GenerateStandardValuesIfAbsent(opName, fieldName string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := opField{opName, fieldName}
	if _, ok := r.standardValues[key]; ok {
		return nil
	}
	source, ok := r.standardValueSources[key]
	if !ok {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("cannot generate standard values for operation %s, field %s: standard value source is missing",
				opName, fieldName),
			"register the source in the workload plugin")
	}
	values := make([]any, n)
	for i := range values {
		values[i] = source()
	}
	r.standardValues[key] = values
	return nil
}

// StandardValue returns the i-th saved value of a (operation, field) pool.
func (r *Registry) StandardValue(opName, fieldName string, i int) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	values, ok := r.standardValues[opField{opName, fieldName}]
	if !ok {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("no standard values generated for operation %s, field %s", opName, fieldName), "")
	}
	if i < 0 || i >= len(values) {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("standard value index %d out of range for operation %s, field %s (%d values total)",
				i, opName, fieldName, len(values)), "")
	}
	return values[i], nil
}

// FreshStandardValue draws a new value directly from the registered source,
// bypassing the saved pool.
func (r *Registry) FreshStandardValue(opName, fieldName string) (any, error) {
	r.mu.Lock()
	source, ok := r.standardValueSources[opField{opName, fieldName}]
	r.mu.Unlock()
	if !ok {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("could not find standard value source for operation %s, field %s", opName, fieldName), "")
	}
	return source(), nil
}

// HasStandardValueSource reports whether a generator is registered for the pair.
func (r *Registry) HasStandardValueSource(opName, fieldName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.standardValueSources[opField{opName, fieldName}]
	return ok
}

// RegisterQueryRandomizationInfo attaches randomization info to an operation.
func (r *Registry) RegisterQueryRandomizationInfo(opName string, info QueryRandomizationInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.randomizationInfos[opName] = info
}

// QueryRandomizationInfoFor returns the info registered for the operation or
// the default.
func (r *Registry) QueryRandomizationInfoFor(opName string) QueryRandomizationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.randomizationInfos[opName]; ok {
		return info
	}
	return DefaultQueryRandomizationInfo
}

// RegisterRunner binds a named operation to an executable runner. The core
// never invokes runners; the surrounding load generator does.
func (r *Registry) RegisterRunner(name string, fn any, async bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return serrors.NewAssertionError("registry is frozen; cannot register runner %q", name)
	}
	r.runners[name] = Runner{Name: name, Fn: fn, Async: async}
	return nil
}

// RunnerFor returns the runner registered under the given name.
func (r *Registry) RunnerFor(name string) (Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runner, ok := r.runners[name]
	return runner, ok
}

// RegisterHook appends an install hook for the given phase.
func (r *Registry) RegisterHook(phase HookPhase, hook HookFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return serrors.NewAssertionError("registry is frozen; cannot register hook for phase %q", phase)
	}
	r.hooks[phase] = append(r.hooks[phase], hook)
	return nil
}

// Hooks returns the install hooks of a phase in registration order.
func (r *Registry) Hooks(phase HookPhase) []HookFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HookFunc(nil), r.hooks[phase]...)
}

// registerBuiltins wires the built-in operation types to their sources.
func registerBuiltins(r *Registry) {
	for _, opType := range []workload.OperationType{workload.Bulk, workload.ProtoBulk, workload.ProduceStreamMessage} {
		_ = r.RegisterSourceForOperation(opType, NewBulkSource)
	}
	_ = r.RegisterSourceForOperation(workload.Search, NewSearchSource)
	_ = r.RegisterSourceForOperation(workload.VectorSearch, NewVectorSearchSource)
	_ = r.RegisterSourceForOperation(workload.ProtoVectorSearch, NewVectorSearchSource)
	_ = r.RegisterSourceForOperation(workload.BulkVectorDataSet, NewBulkVectorsSource)
	_ = r.RegisterSourceForOperation(workload.CreateIndex, NewCreateIndexSource)
	_ = r.RegisterSourceForOperation(workload.DeleteIndex, NewDeleteIndexSource)
	_ = r.RegisterSourceForOperation(workload.CreateDataStream, NewCreateDataStreamSource)
	_ = r.RegisterSourceForOperation(workload.DeleteDataStream, NewDeleteDataStreamSource)
	_ = r.RegisterSourceForOperation(workload.CreateIndexTemplate, NewCreateIndexTemplateSource)
	_ = r.RegisterSourceForOperation(workload.DeleteIndexTemplate, NewDeleteIndexTemplateSource)
	_ = r.RegisterSourceForOperation(workload.CreateComposableTemplate, NewCreateComposableTemplateSource)
	_ = r.RegisterSourceForOperation(workload.DeleteComposableTemplate, NewDeleteIndexTemplateSource)
	_ = r.RegisterSourceForOperation(workload.CreateComponentTemplate, NewCreateComponentTemplateSource)
	_ = r.RegisterSourceForOperation(workload.DeleteComponentTemplate, NewDeleteComponentTemplateSource)
	_ = r.RegisterSourceForOperation(workload.Sleep, NewSleepSource)
	_ = r.RegisterSourceForOperation(workload.ForceMerge, NewForceMergeSource)
	_ = r.RegisterSourceForOperation(workload.OpenPointInTime, NewOpenPointInTimeSource)
	_ = r.RegisterSourceForOperation(workload.ClosePointInTime, NewClosePointInTimeSource)

	// also register by name, so workloads can reference it explicitly
	_ = r.RegisterSourceForName("file-reader", NewBulkSource)
}
