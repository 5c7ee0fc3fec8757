package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

func adminWorkload() *workload.Workload {
	return &workload.Workload{
		Name: "unittest",
		Indices: []*workload.Index{
			{Name: "logs-a", Body: map[string]any{"settings": map[string]any{"index.number_of_shards": 3}}},
			{Name: "logs-b"},
		},
		Templates: []*workload.IndexTemplate{
			{Name: "default", Pattern: "logs-*", DeleteMatchingIndices: true, Content: map[string]any{"index-pattern": "logs-*"}},
		},
	}
}

func TestCreateIndexSource_DefaultsToWorkloadIndices(t *testing.T) {
	source, err := NewCreateIndexSource(nil, adminWorkload(), map[string]any{}, "create-index")
	require.NoError(t, err)

	record, err := source.Params()
	require.NoError(t, err)
	definitions := record["indices"].([]indexDefinition)
	require.Len(t, definitions, 2)
	assert.Equal(t, "logs-a", definitions[0].Name)
	assert.Equal(t, "logs-b", definitions[1].Name)
}

func TestCreateIndexSource_FilterAndSettingsMerge(t *testing.T) {
	source, err := NewCreateIndexSource(nil, adminWorkload(), map[string]any{
		"index":    "logs-a",
		"settings": map[string]any{"index.number_of_replicas": 1},
	}, "create-index")
	require.NoError(t, err)

	record, err := source.Params()
	require.NoError(t, err)
	definitions := record["indices"].([]indexDefinition)
	require.Len(t, definitions, 1)
	settings := definitions[0].Body["settings"].(map[string]any)
	assert.Equal(t, 3, settings["index.number_of_shards"])
	assert.Equal(t, 1, settings["index.number_of_replicas"])
}

func TestCreateIndexSource_ExplicitIndexWithoutWorkloadIndices(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}

	_, err := NewCreateIndexSource(nil, w, map[string]any{}, "create-index")
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrWorkloadSyntax)

	source, err := NewCreateIndexSource(nil, w, map[string]any{"index": "ad-hoc"}, "create-index")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	definitions := record["indices"].([]indexDefinition)
	require.Len(t, definitions, 1)
	assert.Equal(t, "ad-hoc", definitions[0].Name)
}

func TestDeleteIndexSource_Defaults(t *testing.T) {
	source, err := NewDeleteIndexSource(nil, adminWorkload(), map[string]any{}, "delete-index")
	require.NoError(t, err)

	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-a", "logs-b"}, record["indices"])
	assert.Equal(t, true, record["only-if-exists"])

	source, err = NewDeleteIndexSource(nil, adminWorkload(), map[string]any{"only-if-exists": false}, "delete-index")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, false, record["only-if-exists"])

	_, err = NewDeleteIndexSource(nil, &workload.Workload{}, map[string]any{}, "delete-index")
	require.Error(t, err)
}

func TestDataStreamSources(t *testing.T) {
	w := &workload.Workload{
		Name:        "unittest",
		DataStreams: []*workload.DataStream{{Name: "metrics"}, {Name: "traces"}},
	}

	source, err := NewCreateDataStreamSource(nil, w, map[string]any{}, "create-data-stream")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics", "traces"}, record["data-streams"])

	source, err = NewDeleteDataStreamSource(nil, w, map[string]any{"data-stream": "metrics"}, "delete-data-stream")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics"}, record["data-streams"])

	_, err = NewDeleteDataStreamSource(nil, &workload.Workload{}, map[string]any{}, "delete-data-stream")
	require.Error(t, err)
}

func TestDeleteIndexTemplateSource(t *testing.T) {
	source, err := NewDeleteIndexTemplateSource(nil, adminWorkload(), map[string]any{}, "delete-index-template")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	definitions := record["templates"].([]deleteTemplateDefinition)
	require.Len(t, definitions, 1)
	assert.Equal(t, "default", definitions[0].Name)
	assert.True(t, definitions[0].DeleteMatchingIndices)
	assert.Equal(t, "logs-*", definitions[0].IndexPattern)

	// explicit template with delete-matching-indices requires a pattern
	_, err = NewDeleteIndexTemplateSource(nil, &workload.Workload{}, map[string]any{
		"template":                "t1",
		"delete-matching-indices": true,
	}, "delete-index-template")
	require.Error(t, err)
}

func TestSleepSource_Validation(t *testing.T) {
	_, err := NewSleepSource(nil, nil, map[string]any{}, "sleep")
	require.Error(t, err)

	_, err = NewSleepSource(nil, nil, map[string]any{"duration": "long"}, "sleep")
	require.Error(t, err)

	_, err = NewSleepSource(nil, nil, map[string]any{"duration": -1}, "sleep")
	require.Error(t, err)

	source, err := NewSleepSource(nil, nil, map[string]any{"duration": 2}, "sleep")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, 2, record["duration"])
}

func TestForceMergeSource(t *testing.T) {
	source, err := NewForceMergeSource(nil, adminWorkload(), map[string]any{}, "force-merge")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "logs-a,logs-b", record["index"])
	assert.Equal(t, "blocking", record["mode"])
	assert.Equal(t, 10, record["poll-period"])

	source, err = NewForceMergeSource(nil, &workload.Workload{}, map[string]any{
		"mode":             "polling",
		"poll-period":      5,
		"max-num-segments": 1,
	}, "force-merge")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, "_all", record["index"])
	assert.Equal(t, "polling", record["mode"])
	assert.Equal(t, 5, record["poll-period"])
	assert.Equal(t, 1, record["max-num-segments"])

	_, err = NewForceMergeSource(nil, &workload.Workload{}, map[string]any{"mode": "sometimes"}, "force-merge")
	require.Error(t, err)
}

func TestPointInTimeSources(t *testing.T) {
	w := &workload.Workload{
		Name:    "unittest",
		Indices: []*workload.Index{{Name: "logs"}},
	}

	source, err := NewOpenPointInTimeSource(nil, w, map[string]any{"keep-alive": "1m"}, "open-pit")
	require.NoError(t, err)
	record, err := source.Params()
	require.NoError(t, err)
	assert.Equal(t, "logs", record["index"])
	assert.Equal(t, "1m", record["keep-alive"])

	source, err = NewClosePointInTimeSource(nil, w, map[string]any{"with-point-in-time-from": "open-pit"}, "close-pit")
	require.NoError(t, err)
	record, err = source.Params()
	require.NoError(t, err)
	assert.Equal(t, "open-pit", record["with-point-in-time-from"])
}
