package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

func searchWorkload() *workload.Workload {
	return &workload.Workload{
		Name:    "unittest",
		Indices: []*workload.Index{{Name: "logs"}},
	}
}

func TestSearchSource_Defaults(t *testing.T) {
	source, err := NewSearchSource(nil, searchWorkload(), map[string]any{
		"body": map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
	}, "default-search")
	require.NoError(t, err)

	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "logs", record["index"])
	assert.Equal(t, false, record["detailed-results"])
	assert.Equal(t, true, record["calculate-recall"])
	assert.Equal(t, true, record["response-compression-enabled"])
	assert.NotNil(t, record["body"])

	// infinite and idempotent across partitions
	_, finite := source.Size()
	assert.False(t, finite)
	partition, err := source.Partition(3, 8)
	require.NoError(t, err)
	again, err := partition.Params()
	require.NoError(t, err)
	assert.Equal(t, record, again)
}

func TestSearchSource_MissingTarget(t *testing.T) {
	_, err := NewSearchSource(nil, &workload.Workload{Name: "unittest"}, map[string]any{}, "search")
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrWorkloadSyntax)
}

func TestSearchSource_TypeWithDataStream(t *testing.T) {
	_, err := NewSearchSource(nil, searchWorkload(), map[string]any{
		"data-stream": "logs-ds",
		"type":        "_doc",
	}, "search")
	require.Error(t, err)
}

func TestSearchSource_Assertions(t *testing.T) {
	base := map[string]any{
		"index":      "logs",
		"assertions": []any{map[string]any{"property": "hits", "condition": ">", "value": 0}},
	}

	// assertions without detailed results nor pagination are rejected
	_, err := NewSearchSource(nil, searchWorkload(), copyParams(base), "search")
	require.Error(t, err)

	withDetails := copyParams(base)
	withDetails["detailed-results"] = true
	source, err := NewSearchSource(nil, searchWorkload(), withDetails, "search")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.NotNil(t, record["assertions"])

	// paginated queries always retrieve detailed results
	paginated := copyParams(base)
	paginated["pages"] = 5
	paginated["results-per-page"] = 100
	source, err = NewSearchSource(nil, searchWorkload(), paginated, "search")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, 5, record["pages"])
	assert.Equal(t, 100, record["results-per-page"])
}

func TestSearchSource_PointInTimeReference(t *testing.T) {
	source, err := NewSearchSource(nil, searchWorkload(), map[string]any{
		"with-point-in-time-from": "open-pit",
	}, "search")
	require.NoError(t, err)

	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "open-pit", record["with-point-in-time-from"])
}

func TestSearchSource_FreshCopyPerCall(t *testing.T) {
	source, err := NewSearchSource(nil, searchWorkload(), map[string]any{}, "search")
	require.NoError(t, err)

	first, err := source.Params()
	require.NoError(t, err)
	first["index"] = "mutated"

	second, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "logs", second["index"])
}
