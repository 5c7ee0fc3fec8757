package workload

import (
	"fmt"
	"strconv"
	"strings"
)

// OperationType identifies a built-in operation. Arbitrary user-defined
// operation types are carried as plain strings alongside this closed set.
type OperationType string

// Built-in operation types.
const (
	Bulk                     OperationType = "bulk"
	ProtoBulk                OperationType = "proto-bulk"
	ProduceStreamMessage     OperationType = "produce-stream-message"
	Search                   OperationType = "search"
	VectorSearch             OperationType = "vector-search"
	ProtoVectorSearch        OperationType = "proto-vector-search"
	BulkVectorDataSet        OperationType = "bulk-vector-data-set"
	CreateIndex              OperationType = "create-index"
	DeleteIndex              OperationType = "delete-index"
	CreateDataStream         OperationType = "create-data-stream"
	DeleteDataStream         OperationType = "delete-data-stream"
	CreateIndexTemplate      OperationType = "create-index-template"
	DeleteIndexTemplate      OperationType = "delete-index-template"
	CreateComposableTemplate OperationType = "create-composable-template"
	DeleteComposableTemplate OperationType = "delete-composable-template"
	CreateComponentTemplate  OperationType = "create-component-template"
	DeleteComponentTemplate  OperationType = "delete-component-template"
	Sleep                    OperationType = "sleep"
	ForceMerge               OperationType = "force-merge"
	OpenPointInTime          OperationType = "open-point-in-time"
	ClosePointInTime         OperationType = "close-point-in-time"
)

var adminOps = map[OperationType]bool{
	CreateIndex:              true,
	DeleteIndex:              true,
	CreateDataStream:         true,
	DeleteDataStream:         true,
	CreateIndexTemplate:      true,
	DeleteIndexTemplate:      true,
	CreateComposableTemplate: true,
	DeleteComposableTemplate: true,
	CreateComponentTemplate:  true,
	DeleteComponentTemplate:  true,
	Sleep:                    true,
	ForceMerge:               true,
}

var builtinOps = map[OperationType]bool{
	Bulk: true, ProtoBulk: true, ProduceStreamMessage: true,
	Search: true, VectorSearch: true, ProtoVectorSearch: true, BulkVectorDataSet: true,
	CreateIndex: true, DeleteIndex: true,
	CreateDataStream: true, DeleteDataStream: true,
	CreateIndexTemplate: true, DeleteIndexTemplate: true,
	CreateComposableTemplate: true, DeleteComposableTemplate: true,
	CreateComponentTemplate: true, DeleteComponentTemplate: true,
	Sleep: true, ForceMerge: true,
	OpenPointInTime: true, ClosePointInTime: true,
}

// IsBuiltin reports whether the hyphenated operation type names a built-in.
func (o OperationType) IsBuiltin() bool { return builtinOps[o] }

// AdminOp reports whether the operation is administrative. Administrative
// operations default to being excluded from results publishing.
func (o OperationType) AdminOp() bool { return adminOps[o] }

// Operation is a named request kind plus its static parameters.
type Operation struct {
	Name string

	// Type is the operation type in hyphenated form. It may name a built-in
	// OperationType or a user-defined runner.
	Type string

	Meta   map[string]any
	Params map[string]any

	// ParamSource names an explicitly registered parameter source; empty
	// means the source is derived from Type.
	ParamSource string
}

func (o *Operation) String() string { return o.Name }

// OperationType returns the typed form of Type.
func (o *Operation) OperationType() OperationType { return OperationType(o.Type) }

// Throughput is a task's target throughput with its unit.
type Throughput struct {
	Value float64
	Unit  string
}

func (t Throughput) String() string {
	return fmt.Sprintf("%g %s", t.Value, t.Unit)
}

// ParseThroughput accepts either a bare number (unit defaults to ops/s) or a
// "<number> <unit>" string.
func ParseThroughput(v any) (*Throughput, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case int:
		return &Throughput{Value: float64(value), Unit: "ops/s"}, nil
	case int64:
		return &Throughput{Value: float64(value), Unit: "ops/s"}, nil
	case float64:
		return &Throughput{Value: value, Unit: "ops/s"}, nil
	case string:
		fields := strings.Fields(value)
		if len(fields) != 2 {
			return nil, fmt.Errorf("throughput %q must have format \"<value> <unit>\"", value)
		}
		num, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("throughput value %q is not numeric", fields[0])
		}
		return &Throughput{Value: num, Unit: fields[1]}, nil
	default:
		return nil, fmt.Errorf("unsupported throughput type %T", v)
	}
}

// ScheduleElement is one ordered element of a test procedure schedule:
// either a single Task or a Parallel group.
type ScheduleElement interface {
	// Leaves returns the leaf tasks in schedule order.
	Leaves() []*Task
}

// Task binds an operation to a client count and a timing or iteration budget.
type Task struct {
	Name      string
	Operation *Operation
	Tags      []string
	Meta      map[string]any

	// Exactly one of the (warmup-)iterations / (warmup-)time-period pairs
	// may be used; nil means unset. Time periods are in seconds.
	WarmupIterations *int
	Iterations       *int
	WarmupTimePeriod *int
	TimePeriod       *int

	Clients         int
	CompletesParent bool

	// Schedule names a custom scheduler; empty selects the default.
	Schedule string

	// Params is the raw task specification, passed through to schedulers
	// and merged into operation parameters.
	Params map[string]any
}

func (t *Task) String() string { return t.Name }

// Leaves implements ScheduleElement.
func (t *Task) Leaves() []*Task { return []*Task{t} }

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool { return contains(t.Tags, tag) }

// TargetThroughput returns the task's target throughput, or nil when
// unthrottled.
func (t *Task) TargetThroughput() (*Throughput, error) {
	if v, ok := t.Params["target-throughput"]; ok {
		return ParseThroughput(v)
	}
	if v, ok := t.Params["target-interval"]; ok {
		interval, err := ParseThroughput(v)
		if err != nil || interval == nil {
			return nil, err
		}
		return &Throughput{Value: 1 / interval.Value, Unit: "ops/s"}, nil
	}
	return nil, nil
}

// Matches reports whether the task matches the given filter.
func (t *Task) Matches(f TaskFilter) bool { return f.Matches(t) }

// Parallel is an ordered group of tasks whose clients run concurrently.
type Parallel struct {
	Tasks []*Task

	// Clients caps the total number of clients; 0 means the sum of the
	// children's clients.
	Clients int

	// CompletedBy names the child whose termination ends the whole group.
	CompletedBy string
}

func (p *Parallel) String() string {
	return fmt.Sprintf("%d parallel tasks", len(p.Tasks))
}

// Leaves implements ScheduleElement.
func (p *Parallel) Leaves() []*Task { return p.Tasks }

// TotalClients is the effective client count of the group.
func (p *Parallel) TotalClients() int {
	if p.Clients > 0 {
		return p.Clients
	}
	var sum int
	for _, t := range p.Tasks {
		sum += t.Clients
	}
	return sum
}

// RemoveTask drops a child task from the group.
func (p *Parallel) RemoveTask(task *Task) {
	for i, t := range p.Tasks {
		if t == task {
			p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
			return
		}
	}
}

// Matches reports whether any child task matches the given filter.
func (p *Parallel) Matches(f TaskFilter) bool {
	for _, t := range p.Tasks {
		if t.Matches(f) {
			return true
		}
	}
	return false
}

// TestProcedure is a named, ordered schedule of tasks.
type TestProcedure struct {
	Name        string
	Description string
	UserInfo    string
	Meta        map[string]any

	// Parameters are the workload-level parameters overridden by the
	// procedure-level ones.
	Parameters map[string]any

	Default  bool
	Selected bool

	// AutoGenerated marks procedures synthesized from a bare top-level
	// schedule.
	AutoGenerated bool

	Schedule []ScheduleElement
}

func (tp *TestProcedure) String() string { return tp.Name }

// LeafTasks returns all leaf tasks of the schedule in order.
func (tp *TestProcedure) LeafTasks() []*Task {
	var tasks []*Task
	for _, element := range tp.Schedule {
		tasks = append(tasks, element.Leaves()...)
	}
	return tasks
}

// RemoveElement drops a schedule element.
func (tp *TestProcedure) RemoveElement(element ScheduleElement) {
	for i, e := range tp.Schedule {
		if e == element {
			tp.Schedule = append(tp.Schedule[:i], tp.Schedule[i+1:]...)
			return
		}
	}
}

// TaskFilter selects tasks by some predicate.
type TaskFilter interface {
	Matches(t *Task) bool
	String() string
}

// TaskNameFilter matches a task by its name.
type TaskNameFilter struct {
	Name string
}

// Matches implements TaskFilter.
func (f TaskNameFilter) Matches(t *Task) bool { return t.Name == f.Name }

func (f TaskNameFilter) String() string { return fmt.Sprintf("name %s", f.Name) }

// TaskOpTypeFilter matches a task by its operation type.
type TaskOpTypeFilter struct {
	OpType string
}

// Matches implements TaskFilter.
func (f TaskOpTypeFilter) Matches(t *Task) bool { return t.Operation.Type == f.OpType }

func (f TaskOpTypeFilter) String() string { return fmt.Sprintf("type %s", f.OpType) }

// TaskTagFilter matches a task carrying the given tag.
type TaskTagFilter struct {
	Tag string
}

// Matches implements TaskFilter.
func (f TaskTagFilter) Matches(t *Task) bool { return t.HasTag(f.Tag) }

func (f TaskTagFilter) String() string { return fmt.Sprintf("tag %s", f.Tag) }
