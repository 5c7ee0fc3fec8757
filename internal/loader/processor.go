package loader

import (
	"fmt"
	"math"
	"strings"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/params"
	"github.com/searchbench/sbench/internal/workload"
)

// Processor is a pluggable post-load transform. Processors run in a fixed
// order and mutate the workload in place.
type Processor interface {
	OnAfterLoadWorkload(w *workload.Workload) error
}

// Preparer is implemented by processors that also take part in the prepare
// phase, before any client starts.
type Preparer interface {
	OnPrepareWorkload(w *workload.Workload, dataRootDir string) error
}

// ProcessorRegistry holds the processors in application order. The default
// set is installed first; workload plugins may append custom processors.
type ProcessorRegistry struct {
	processors []Processor
}

// NewProcessorRegistry creates a registry with the given default processors.
func NewProcessorRegistry(defaults ...Processor) *ProcessorRegistry {
	return &ProcessorRegistry{processors: defaults}
}

// Register appends a custom processor.
func (r *ProcessorRegistry) Register(p Processor) {
	r.processors = append(r.processors, p)
}

// Apply runs all processors in order.
func (r *ProcessorRegistry) Apply(w *workload.Workload) error {
	for _, p := range r.processors {
		if err := p.OnAfterLoadWorkload(w); err != nil {
			return err
		}
	}
	return nil
}

// ParseTaskFilters parses filter expressions of the forms <name>,
// type:<op-type>, and tag:<tag>.
func ParseTaskFilters(expressions []string) ([]workload.TaskFilter, error) {
	var filters []workload.TaskFilter
	for _, expr := range expressions {
		parts := strings.Split(expr, ":")
		switch len(parts) {
		case 1:
			filters = append(filters, workload.TaskNameFilter{Name: parts[0]})
		case 2:
			switch parts[0] {
			case "type":
				filters = append(filters, workload.TaskOpTypeFilter{OpType: parts[1]})
			case "tag":
				filters = append(filters, workload.TaskTagFilter{Tag: parts[1]})
			default:
				return nil, serrors.NewSystemSetupError(
					fmt.Sprintf("invalid format for filtered tasks: [%s]; expected [type] but got [%s]", expr, parts[0]), "")
			}
		default:
			return nil, serrors.NewSystemSetupError(
				fmt.Sprintf("invalid format for filtered tasks: [%s]", expr), "")
		}
	}
	return filters, nil
}

// TaskFilterProcessor removes tasks from every test procedure according to an
// include or exclude filter list.
type TaskFilterProcessor struct {
	filters []workload.TaskFilter
	exclude bool
}

// NewTaskFilterProcessor builds the processor from the configured include or
// exclude expressions; include wins when both are given.
func NewTaskFilterProcessor(includeTasks, excludeTasks []string) (*TaskFilterProcessor, error) {
	expressions := includeTasks
	exclude := false
	if len(expressions) == 0 {
		expressions = excludeTasks
		exclude = true
	}
	filters, err := ParseTaskFilters(expressions)
	if err != nil {
		return nil, err
	}
	return &TaskFilterProcessor{filters: filters, exclude: exclude}, nil
}

// filterOut reports whether a schedule element must be removed. A parallel
// group matching an include filter at its own level keeps its children.
func (p *TaskFilterProcessor) filterOut(element workload.ScheduleElement) bool {
	type matcher interface {
		Matches(f workload.TaskFilter) bool
	}
	m, ok := element.(matcher)
	if !ok {
		return !p.exclude
	}
	for _, f := range p.filters {
		if m.Matches(f) {
			if _, isParallel := element.(*workload.Parallel); isParallel && p.exclude {
				// an excluded parallel group is filtered child by child
				return false
			}
			return p.exclude
		}
	}
	return !p.exclude
}

// OnAfterLoadWorkload implements Processor.
func (p *TaskFilterProcessor) OnAfterLoadWorkload(w *workload.Workload) error {
	if len(p.filters) == 0 {
		return nil
	}

	for _, procedure := range w.TestProcedures {
		var elementsToRemove []workload.ScheduleElement
		for _, element := range procedure.Schedule {
			if p.filterOut(element) {
				elementsToRemove = append(elementsToRemove, element)
				continue
			}
			parallel, ok := element.(*workload.Parallel)
			if !ok {
				continue
			}
			if !p.exclude {
				// an include match at the group level keeps the children intact
				continue
			}
			var leavesToRemove []*workload.Task
			for _, leaf := range parallel.Tasks {
				if p.filterOut(leaf) {
					leavesToRemove = append(leavesToRemove, leaf)
				}
			}
			for _, leaf := range leavesToRemove {
				output.Info("removing sub-task due to task filter",
					"task", leaf.Name, "test-procedure", procedure.Name)
				parallel.RemoveTask(leaf)
			}
		}
		for _, element := range elementsToRemove {
			output.Info("removing task due to task filter",
				"task", fmt.Sprintf("%v", element), "test-procedure", procedure.Name)
			procedure.RemoveElement(element)
		}
	}
	return nil
}

// testModeDocs is the document count every bulk document set is shrunk to in
// test mode.
const testModeDocs = 1000

// testModeTimePeriod caps task time periods in test mode, in seconds.
const testModeTimePeriod = 10

// TestModeProcessor rewrites the workload for a smoke run: 1k-document
// corpora, minimal iteration counts, capped time periods, and effectively
// unthrottled target throughput so the throttling code paths stay exercised.
type TestModeProcessor struct{}

// OnAfterLoadWorkload implements Processor.
func (p *TestModeProcessor) OnAfterLoadWorkload(w *workload.Workload) error {
	output.Info("preparing workload for test mode", "workload", w.Name)
	for _, corpus := range w.Corpora {
		for _, docs := range corpus.Documents {
			if !docs.IsBulk() {
				continue
			}
			docs.NumberOfDocuments = testModeDocs

			if docs.HasCompressedCorpus() {
				stem, archiveExt := ioutils.SplitExt(docs.DocumentArchive)
				innerStem, fileExt := ioutils.SplitExt(stem)
				docs.DocumentArchive = fmt.Sprintf("%s-1k%s%s", innerStem, fileExt, archiveExt)
				docs.DocumentFile = fmt.Sprintf("%s-1k%s", innerStem, fileExt)
			} else if docs.HasUncompressedCorpus() {
				stem, fileExt := ioutils.SplitExt(docs.DocumentFile)
				docs.DocumentFile = fmt.Sprintf("%s-1k%s", stem, fileExt)
			} else {
				return serrors.NewAssertionError(
					"document corpus %q has neither compressed nor uncompressed corpus", corpus.Name)
			}

			// size checks make no sense against the shrunken files
			docs.CompressedSizeInBytes = nil
			docs.UncompressedSizeInBytes = nil
		}
	}

	for _, procedure := range w.TestProcedures {
		for _, task := range procedure.LeafTasks() {
			// iteration-based schedules are divided among all clients; keep
			// at least one iteration per client
			if task.WarmupIterations != nil && *task.WarmupIterations > task.Clients {
				count := task.Clients
				task.WarmupIterations = &count
			}
			if task.Iterations != nil && *task.Iterations > task.Clients {
				count := task.Clients
				task.Iterations = &count
			}
			if task.WarmupTimePeriod != nil && *task.WarmupTimePeriod > 0 {
				zero := 0
				task.WarmupTimePeriod = &zero
			}
			if task.TimePeriod != nil && *task.TimePeriod > testModeTimePeriod {
				capped := testModeTimePeriod
				task.TimePeriod = &capped
			}

			// keep throttled to expose errors but raise the target so short
			// test runs are not slowed down
			throughput, err := task.TargetThroughput()
			if err != nil {
				return err
			}
			if throughput != nil {
				delete(task.Params, "target-throughput")
				delete(task.Params, "target-interval")
				task.Params["target-throughput"] = fmt.Sprintf("%d %s", int64(math.MaxInt64), throughput.Unit)
			}
		}
	}
	return nil
}

// QueryRandomizerProcessor rewires search operations that carry range
// clauses to a parameter source that substitutes the range bounds on every
// invocation: from a pre-generated standard-value pool with probability rf,
// from a freshly drawn value otherwise.
type QueryRandomizerProcessor struct {
	registry *params.Registry
	ctx      *params.ExecutionContext

	// rf is the probability of reusing a saved value; n the pool size.
	rf float64
	n  int
}

// NewQueryRandomizerProcessor creates the processor.
func NewQueryRandomizerProcessor(ctx *params.ExecutionContext, rf float64, n int) *QueryRandomizerProcessor {
	return &QueryRandomizerProcessor{registry: ctx.Registry, ctx: ctx, rf: rf, n: n}
}

// OnAfterLoadWorkload implements Processor.
func (p *QueryRandomizerProcessor) OnAfterLoadWorkload(w *workload.Workload) error {
	for _, procedure := range w.TestProcedures {
		for _, task := range procedure.LeafTasks() {
			op := task.Operation
			if op.OperationType() != workload.Search && op.OperationType() != workload.VectorSearch {
				continue
			}
			body, ok := op.Params["body"].(map[string]any)
			if !ok {
				continue
			}
			queryName := p.registry.QueryRandomizationInfoFor(op.Name).QueryName
			fields := rangeFields(body, queryName)
			if len(fields) == 0 {
				continue
			}

			sourceName := "randomized-" + op.Name
			builder := p.randomizingBuilder(op.Name, queryName, fields)
			if err := p.registry.RegisterSourceForName(sourceName, builder); err != nil {
				return err
			}
			op.ParamSource = sourceName
			output.Debug("randomizing query bounds", "operation", op.Name, "fields", fields)
		}
	}
	return nil
}

// randomizingBuilder wraps the search source: each Params call deep-copies
// the operation body and substitutes the bounds of every range clause.
func (p *QueryRandomizerProcessor) randomizingBuilder(opName, queryName string, fields []string) params.Builder {
	return func(ctx *params.ExecutionContext, w *workload.Workload, opParams map[string]any, name string) (params.Source, error) {
		inner, err := params.NewSearchSource(ctx, w, opParams, opName)
		if err != nil {
			return nil, err
		}
		for _, field := range fields {
			if !p.registry.HasStandardValueSource(opName, field) {
				return nil, serrors.NewSystemSetupError(
					fmt.Sprintf("could not find standard value source for operation %s, field %s", opName, field),
					"make sure this is registered in the workload plugin")
			}
			if err := p.registry.GenerateStandardValuesIfAbsent(opName, field, p.n); err != nil {
				return nil, err
			}
		}
		return &randomizingSearchSource{
			inner:     inner,
			registry:  p.registry,
			rng:       ctx.Rand(),
			opName:    opName,
			queryName: queryName,
			fields:    fields,
			rf:        p.rf,
			n:         p.n,
		}, nil
	}
}

// randomizingSearchSource decorates a search source with per-invocation
// range-bound substitution. The operation template itself is never modified.
type randomizingSearchSource struct {
	inner     params.Source
	registry  *params.Registry
	rng       randSource
	opName    string
	queryName string
	fields    []string
	rf        float64
	n         int
}

// randSource is the subset of math/rand used by the randomizer.
type randSource interface {
	Float64() float64
	Intn(n int) int
}

// Partition implements params.Source.
func (s *randomizingSearchSource) Partition(partitionIndex, totalPartitions int) (params.Source, error) {
	inner, err := s.inner.Partition(partitionIndex, totalPartitions)
	if err != nil {
		return nil, err
	}
	clone := *s
	clone.inner = inner
	return &clone, nil
}

// Size implements params.Source.
func (s *randomizingSearchSource) Size() (int, bool) { return s.inner.Size() }

// Params implements params.Source.
func (s *randomizingSearchSource) Params() (map[string]any, error) {
	record, err := s.inner.Params()
	if err != nil {
		return nil, err
	}
	body, ok := record["body"].(map[string]any)
	if !ok {
		return record, nil
	}

	// deep copy so the shared operation template stays untouched
	copied, err := deepCopyBody(body)
	if err != nil {
		return nil, err
	}

	for _, field := range s.fields {
		var value any
		if s.rng.Float64() < s.rf {
			value, err = s.registry.StandardValue(s.opName, field, s.rng.Intn(s.n))
		} else {
			value, err = s.freshValue(field)
		}
		if err != nil {
			return nil, err
		}
		bounds, ok := value.(map[string]any)
		if !ok {
			return nil, serrors.NewSystemSetupError(
				fmt.Sprintf("standard value for operation %s, field %s must be an object", s.opName, field), "")
		}
		substituteRangeBounds(copied, s.queryName, field, bounds)
	}
	record["body"] = copied
	return record, nil
}

func (s *randomizingSearchSource) freshValue(field string) (any, error) {
	if !s.registry.HasStandardValueSource(s.opName, field) {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("could not find standard value source for operation %s, field %s", s.opName, field), "")
	}
	if err := s.registry.GenerateStandardValuesIfAbsent(s.opName, field, s.n); err != nil {
		return nil, err
	}
	// drawing an unsaved fresh value: regenerate from the source directly
	return s.registry.FreshStandardValue(s.opName, field)
}

func deepCopyBody(body map[string]any) (map[string]any, error) {
	encoded, err := fastJSON.Marshal(body)
	if err != nil {
		return nil, err
	}
	var copied map[string]any
	if err := fastJSON.Unmarshal(encoded, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}

// rangeFields returns the field names of all range clauses in a query body.
func rangeFields(node any, queryName string) []string {
	var fields []string
	switch n := node.(type) {
	case map[string]any:
		for key, value := range n {
			if key == queryName {
				if clause, ok := value.(map[string]any); ok {
					for field := range clause {
						fields = append(fields, field)
					}
					continue
				}
			}
			fields = append(fields, rangeFields(value, queryName)...)
		}
	case []any:
		for _, item := range n {
			fields = append(fields, rangeFields(item, queryName)...)
		}
	}
	return fields
}

// substituteRangeBounds replaces the bounds of the range clause of the given
// field wherever it occurs in the body.
func substituteRangeBounds(node any, queryName, field string, bounds map[string]any) {
	switch n := node.(type) {
	case map[string]any:
		for key, value := range n {
			if key == queryName {
				if clause, ok := value.(map[string]any); ok {
					if _, exists := clause[field]; exists {
						clause[field] = bounds
						continue
					}
				}
			}
			substituteRangeBounds(value, queryName, field, bounds)
		}
	case []any:
		for _, item := range n {
			substituteRangeBounds(item, queryName, field, bounds)
		}
	}
}
