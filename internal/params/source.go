// Package params implements the per-operation parameter sources: generators
// that turn a task's static parameters into the stream of per-invocation
// parameter records handed to the operation runners. It also hosts the
// builder registry binding operation types to sources and runners.
package params

import (
	"fmt"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

// Source produces the concrete parameters of each operation invocation.
//
// A Source is constructed once per task. The load generator then calls
// Partition once per client to obtain a per-client instance and loops on
// Params. Finite sources return ErrExhausted when done; infinite sources
// never do.
type Source interface {
	// Partition returns the per-client source for the given partition.
	// partitionIndex is in [0, totalPartitions).
	Partition(partitionIndex, totalPartitions int) (Source, error)

	// Params returns a fresh parameter record ready to hand to the runner.
	// Finite sources return errors.ErrExhausted when no records remain.
	// Params does not block, except for streaming sources, which wait for
	// the next chunk from the ingestion manager.
	Params() (map[string]any, error)

	// Size returns the number of records this source will produce, or
	// ok=false for infinite sources.
	Size() (int, bool)
}

// ProgressReporter is implemented by sources that can report task progress
// to the surrounding scheduler.
type ProgressReporter interface {
	// TaskProgress returns the progress value and its unit ("%" or "GB").
	TaskProgress() (float64, string)
}

// Builder constructs a Source for an operation of a workload. The
// ExecutionContext replaces process-wide globals: it carries the data
// directory, the streaming ingestion manager, and the seeded RNG.
type Builder func(ctx *ExecutionContext, w *workload.Workload, params map[string]any, operationName string) (Source, error)

// passthroughSource is the default source: it hands the static operation
// parameters through unchanged and is infinite.
type passthroughSource struct {
	params map[string]any
}

// NewPassthroughSource wraps static parameters in a Source.
func NewPassthroughSource(_ *ExecutionContext, _ *workload.Workload, params map[string]any, _ string) (Source, error) {
	return &passthroughSource{params: params}, nil
}

// Partition implements Source; passthrough sources are shared by all clients.
func (s *passthroughSource) Partition(int, int) (Source, error) { return s, nil }

// Params implements Source.
func (s *passthroughSource) Params() (map[string]any, error) {
	return copyParams(s.params), nil
}

// Size implements Source.
func (s *passthroughSource) Size() (int, bool) { return 0, false }

// delegatingSource adapts a plain function to the Source contract.
type delegatingSource struct {
	workload *workload.Workload
	params   map[string]any
	delegate func(w *workload.Workload, params map[string]any) (map[string]any, error)
}

// Partition implements Source.
func (s *delegatingSource) Partition(int, int) (Source, error) { return s, nil }

// Params implements Source.
func (s *delegatingSource) Params() (map[string]any, error) {
	return s.delegate(s.workload, s.params)
}

// Size implements Source.
func (s *delegatingSource) Size() (int, bool) { return 0, false }

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// clientParams extracts the transport-level parameters that every source
// passes through to the client layer.
func clientParams(params map[string]any) map[string]any {
	return map[string]any{
		"request-timeout": params["request-timeout"],
		"headers":         params["headers"],
		"opaque-id":       params["opaque-id"],
	}
}

// targetName resolves the default operation target: an explicitly configured
// index or data stream, or the singleton declared by the workload.
func targetName(w *workload.Workload, params map[string]any) string {
	var defaultTarget string
	if len(w.Indices) == 1 {
		defaultTarget = w.Indices[0].Name
	} else if len(w.DataStreams) == 1 {
		defaultTarget = w.DataStreams[0].Name
	}

	if target := stringParam(params, "index", ""); target != "" {
		return target
	}
	return stringParam(params, "data-stream", defaultTarget)
}

// stringParam reads an optional string parameter with a default.
func stringParam(params map[string]any, key, defaultValue string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultValue
}

// requiredStringParam reads a mandatory string parameter.
func requiredStringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil || v == "" {
		return "", serrors.NewSyntaxError(
			fmt.Sprintf("value cannot be empty for param %s", key), "", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", serrors.NewSyntaxError(
			fmt.Sprintf("value must be a string for param %s", key), "", key)
	}
	return s, nil
}

// intParam reads an optional integer parameter; JSON numbers arrive as
// float64 and are accepted when integral.
func intParam(params map[string]any, key string, defaultValue int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultValue, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, serrors.NewSyntaxError(fmt.Sprintf("'%s' must be numeric", key), "", key)
}

// requiredIntParam reads a mandatory integer parameter.
func requiredIntParam(params map[string]any, key string) (int, error) {
	if _, ok := params[key]; !ok {
		return 0, serrors.NewSyntaxError(
			fmt.Sprintf("mandatory parameter '%s' is missing", key), "", key)
	}
	return intParam(params, key, 0)
}

// floatParam reads an optional float parameter and enforces a range.
// minExclusive selects (min, max] over [min, max].
func floatParam(params map[string]any, key string, defaultValue, minValue, maxValue float64, minExclusive bool) (float64, error) {
	value := defaultValue
	if v, ok := params[key]; ok && v != nil {
		switch n := v.(type) {
		case int:
			value = float64(n)
		case int64:
			value = float64(n)
		case float64:
			value = n
		default:
			return 0, serrors.NewSyntaxError(fmt.Sprintf("'%s' must be numeric", key), "", key)
		}
	}

	outOfRange := value > maxValue
	if minExclusive {
		outOfRange = outOfRange || value <= minValue
	} else {
		outOfRange = outOfRange || value < minValue
	}
	if outOfRange {
		bracket := "["
		if minExclusive {
			bracket = "("
		}
		return 0, serrors.NewSyntaxError(
			fmt.Sprintf("'%s' must be in the range %s%.1f, %.1f] but was %.1f",
				key, bracket, minValue, maxValue, value), "", key)
	}
	return value, nil
}

// boolParam reads an optional boolean parameter.
func boolParam(params map[string]any, key string, defaultValue bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// stringListParam accepts a string or list of strings.
func stringListParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch value := v.(type) {
	case string:
		return []string{value}
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
