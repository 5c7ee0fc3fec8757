package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

func TestRegistry_BuiltinsInstalled(t *testing.T) {
	r := NewRegistry()
	ctx := NewExecutionContext(t.TempDir(), r, 1)
	w := &workload.Workload{Name: "unittest"}

	// an unknown operation type falls back to the passthrough source
	source, err := r.SourceForOperation(ctx, "my-custom-op", w, map[string]any{"foo": "bar"}, "task")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "bar", record["foo"])

	// sleep is a registered built-in and validates its parameters
	_, err = r.SourceForOperation(ctx, string(workload.Sleep), w, map[string]any{}, "task")
	require.Error(t, err)

	source, err = r.SourceForOperation(ctx, string(workload.Sleep), w, map[string]any{"duration": 4.5}, "task")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, 4.5, record["duration"])
}

func TestRegistry_SourceForName(t *testing.T) {
	r := NewRegistry()
	ctx := NewExecutionContext(t.TempDir(), r, 1)
	w := &workload.Workload{Name: "unittest"}

	_, err := r.SourceForName(ctx, "no-such-source", w, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrSystemSetup)

	require.NoError(t, r.RegisterSourceForName("my-source", NewPassthroughSource))
	source, err := r.SourceForName(ctx, "my-source", w, map[string]any{"x": 1})
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, 1, record["x"])
}

func TestRegistry_FreezeForbidsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	err := r.RegisterSourceForName("late", NewPassthroughSource)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrAssertion)

	err = r.RegisterRunner("late-runner", func() {}, false)
	require.Error(t, err)

	err = r.RegisterHook(PhasePostInstall, func() error { return nil })
	require.Error(t, err)
}

func TestRegistry_StandardValues_SingleInitialization(t *testing.T) {
	r := NewRegistry()

	calls := 0
	r.RegisterStandardValueSource("op", "field", func() any {
		calls++
		return map[string]any{"gte": calls}
	})

	require.NoError(t, r.GenerateStandardValuesIfAbsent("op", "field", 5))
	assert.Equal(t, 5, calls)

	// a second generation call is a no-op
	require.NoError(t, r.GenerateStandardValuesIfAbsent("op", "field", 5))
	assert.Equal(t, 5, calls)

	v, err := r.StandardValue("op", "field", 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"gte": 3}, v)

	_, err = r.StandardValue("op", "field", 99)
	require.Error(t, err)

	_, err = r.StandardValue("other-op", "field", 0)
	require.Error(t, err)
}

func TestRegistry_StandardValues_MissingSource(t *testing.T) {
	r := NewRegistry()
	err := r.GenerateStandardValuesIfAbsent("op", "missing", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrSystemSetup)
}

func TestRegistry_RunnersAndHooks(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterRunner("wait-for-recovery", func() {}, true))
	runner, ok := r.RunnerFor("wait-for-recovery")
	require.True(t, ok)
	assert.True(t, runner.Async)

	_, ok = r.RunnerFor("unknown")
	assert.False(t, ok)

	ran := 0
	require.NoError(t, r.RegisterHook(PhasePostInstall, func() error { ran++; return nil }))
	require.NoError(t, r.RegisterHook(PhasePostInstall, func() error { ran += 10; return nil }))
	for _, hook := range r.Hooks(PhasePostInstall) {
		require.NoError(t, hook())
	}
	assert.Equal(t, 11, ran)
	assert.Empty(t, r.Hooks(PhasePreLoad))
}

func TestRegistry_QueryRandomizationInfo(t *testing.T) {
	r := NewRegistry()

	info := r.QueryRandomizationInfoFor("unregistered")
	assert.Equal(t, "range", info.QueryName)

	r.RegisterQueryRandomizationInfo("geo-op", QueryRandomizationInfo{
		QueryName:            "geo_distance",
		ParameterNameOptions: [][]string{{"distance"}},
	})
	assert.Equal(t, "geo_distance", r.QueryRandomizationInfoFor("geo-op").QueryName)
}
