package params

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

func writeVectorFbin(t *testing.T, dir string, name string, rows, dim int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	buf := make([]byte, 8+rows*dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dim))
	for i := 0; i < rows*dim; i++ {
		binary.LittleEndian.PutUint32(buf[8+i*4:], math.Float32bits(float32(i)))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func writeNeighborsBin(t *testing.T, dir string, rows, k int) string {
	t.Helper()
	path := filepath.Join(dir, "neighbors.bin")
	buf := make([]byte, 8+2*rows*k*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k))
	for i := 0; i < rows*k; i++ {
		binary.LittleEndian.PutUint32(buf[8+i*4:], uint32(i))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func vectorSearchParams(t *testing.T, extra map[string]any) map[string]any {
	t.Helper()
	dir := t.TempDir()
	queries := writeVectorFbin(t, dir, "queries.fbin", 10, 4)
	neighbors := writeNeighborsBin(t, dir, 10, 3)

	p := map[string]any{
		"index":                     "vectors",
		"field":                     "embedding",
		"data_set_format":           "bigann",
		"data_set_path":             queries,
		"neighbors_data_set_path":   neighbors,
		"neighbors_data_set_format": "bigann",
		"k":                         3,
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestVectorSearchSource_Params(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}
	source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, nil), "knn-search")
	require.NoError(t, err)

	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	record, err := partition.Params()
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2"}, record["neighbors"])

	body := record["body"].(map[string]any)
	assert.Equal(t, 3, body["size"])
	query := body["query"].(map[string]any)
	knn := query["knn"].(map[string]any)
	clause := knn["embedding"].(map[string]any)
	assert.Equal(t, 3, clause["k"])
	assert.Equal(t, []float32{0, 1, 2, 3}, clause["vector"])

	requestParams := record["request-params"].(map[string]any)
	assert.Equal(t, "false", requestParams["_source"])
	assert.Equal(t, "false", requestParams["allow_partial_search_results"])
}

func TestVectorSearchSource_PartitionsSplitQueries(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}

	counts := make(map[int]int)
	for c := 0; c < 3; c++ {
		source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, nil), "knn-search")
		require.NoError(t, err)
		partition, err := source.Partition(c, 3)
		require.NoError(t, err)
		for {
			_, err := partition.Params()
			if err == serrors.ErrExhausted {
				break
			}
			require.NoError(t, err)
			counts[c]++
		}
	}

	// 10 queries over 3 clients: 3 + 3 + 4 (remainder on the last)
	assert.Equal(t, 3, counts[0])
	assert.Equal(t, 3, counts[1])
	assert.Equal(t, 4, counts[2])
}

func TestVectorSearchSource_Repetitions(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}
	source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{"repetitions": 2}), "knn-search")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	count := 0
	for {
		_, err := partition.Params()
		if err == serrors.ErrExhausted {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 20, count)
}

func TestVectorSearchSource_FilterShapes(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}
	filterBody := map[string]any{"term": map[string]any{"color": "red"}}

	t.Run("boolean", func(t *testing.T) {
		source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{
			"filter_type": "boolean",
			"filter_body": filterBody,
		}), "knn-search")
		require.NoError(t, err)
		partition, err := source.Partition(0, 1)
		require.NoError(t, err)
		record, err := partition.Params()
		require.NoError(t, err)

		query := record["body"].(map[string]any)["query"].(map[string]any)
		boolClause := query["bool"].(map[string]any)
		assert.Equal(t, filterBody, boolClause["filter"])
		assert.Len(t, boolClause["must"], 1)
	})

	t.Run("efficient", func(t *testing.T) {
		source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{
			"filter_type": "efficient",
			"filter_body": filterBody,
		}), "knn-search")
		require.NoError(t, err)
		partition, err := source.Partition(0, 1)
		require.NoError(t, err)
		record, err := partition.Params()
		require.NoError(t, err)

		query := record["body"].(map[string]any)["query"].(map[string]any)
		clause := query["knn"].(map[string]any)["embedding"].(map[string]any)
		assert.Equal(t, filterBody, clause["filter"])
	})

	t.Run("script", func(t *testing.T) {
		source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{
			"filter_type": "script",
			"filter_body": filterBody,
		}), "knn-search")
		require.NoError(t, err)
		partition, err := source.Partition(0, 1)
		require.NoError(t, err)
		record, err := partition.Params()
		require.NoError(t, err)

		query := record["body"].(map[string]any)["query"].(map[string]any)
		scriptScore := query["script_score"].(map[string]any)
		script := scriptScore["script"].(map[string]any)
		assert.Equal(t, "knn_score", script["source"])
		scriptParams := script["params"].(map[string]any)
		assert.Equal(t, "embedding", scriptParams["field"])
		assert.Equal(t, "l2", scriptParams["space_type"])
	})

	t.Run("post_filter", func(t *testing.T) {
		source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{
			"filter_type": "post_filter",
			"filter_body": filterBody,
		}), "knn-search")
		require.NoError(t, err)
		partition, err := source.Partition(0, 1)
		require.NoError(t, err)
		record, err := partition.Params()
		require.NoError(t, err)

		body := record["body"].(map[string]any)
		assert.Equal(t, filterBody, body["post_filter"])
		_, hasKnn := body["query"].(map[string]any)["knn"]
		assert.True(t, hasKnn, "post_filter keeps the plain knn query")
	})
}

func TestVectorSearchSource_NestedFieldWrapsQuery(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}
	source, err := NewVectorSearchSource(nil, w, vectorSearchParams(t, map[string]any{
		"field": "parent.embedding",
	}), "knn-search")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)
	record, err := partition.Params()
	require.NoError(t, err)

	query := record["body"].(map[string]any)["query"].(map[string]any)
	nested := query["nested"].(map[string]any)
	assert.Equal(t, "parent", nested["path"])
	inner := nested["query"].(map[string]any)
	_, hasKnn := inner["knn"]
	assert.True(t, hasKnn)
}

func TestBulkVectorsSource_FlatIngest(t *testing.T) {
	dir := t.TempDir()
	vectors := writeVectorFbin(t, dir, "train.fbin", 10, 2)
	w := &workload.Workload{Name: "unittest"}

	source, err := NewBulkVectorsSource(nil, w, map[string]any{
		"field":           "embedding",
		"data_set_format": "bigann",
		"data_set_path":   vectors,
		"bulk_size":       4,
		"index":           "vectors",
	}, "vector-ingest")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	record, err := partition.Params()
	require.NoError(t, err)
	assert.Equal(t, 4, record["size"])
	assert.Equal(t, defaultVectorRetries, record["retries"])
	assert.Equal(t, true, record["with-action-metadata"])

	body := record["body"].([]any)
	require.Len(t, body, 8)
	action := body[0].(map[string]any)["index"].(map[string]any)
	assert.Equal(t, "vectors", action["_index"])
	assert.Equal(t, 0, action["_id"])
	doc := body[1].(map[string]any)
	assert.Equal(t, []float32{0, 1}, doc["embedding"])

	// 10 vectors at bulk size 4: 4 + 4 + 2, then exhausted
	record, err = partition.Params()
	require.NoError(t, err)
	assert.Equal(t, 4, record["size"])
	record, err = partition.Params()
	require.NoError(t, err)
	assert.Equal(t, 2, record["size"])
	_, err = partition.Params()
	assert.ErrorIs(t, err, serrors.ErrExhausted)
}

func TestBulkVectorsSource_CustomIDField(t *testing.T) {
	dir := t.TempDir()
	vectors := writeVectorFbin(t, dir, "train.fbin", 4, 2)
	w := &workload.Workload{Name: "unittest"}

	source, err := NewBulkVectorsSource(nil, w, map[string]any{
		"field":           "embedding",
		"data_set_format": "bigann",
		"data_set_path":   vectors,
		"bulk_size":       4,
		"index":           "vectors",
		"id-field-name":   "doc_id",
	}, "vector-ingest")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	record, err := partition.Params()
	require.NoError(t, err)
	body := record["body"].([]any)
	action := body[0].(map[string]any)["index"].(map[string]any)
	_, hasID := action["_id"]
	assert.False(t, hasID, "custom id fields go into the document body")
	doc := body[1].(map[string]any)
	assert.Equal(t, 0, doc["doc_id"])
}

func TestVectorPartitionSource_Validation(t *testing.T) {
	w := &workload.Workload{Name: "unittest"}

	_, err := newVectorPartitionSource(w, map[string]any{
		"field":           "embedding",
		"data_set_format": "bigann",
	}, 1)
	require.Error(t, err, "either path or corpus is required")

	_, err = newVectorPartitionSource(w, map[string]any{
		"field":           "embedding",
		"data_set_format": "bigann",
		"data_set_path":   "a.fbin",
		"data_set_corpus": "c",
	}, 1)
	require.Error(t, err, "path and corpus are mutually exclusive")
}
