package params

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

func testContext(t *testing.T) *ExecutionContext {
	t.Helper()
	return NewExecutionContext(t.TempDir(), NewRegistry(), 42)
}

func writeCorpusFile(t *testing.T, docs int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.json")
	var b strings.Builder
	for i := 0; i < docs; i++ {
		fmt.Fprintf(&b, "{\"id\": %d}\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func corpusWorkload(t *testing.T, docs int) *workload.Workload {
	t.Helper()
	path := writeCorpusFile(t, docs)
	return &workload.Workload{
		Name:    "unittest",
		Indices: []*workload.Index{{Name: "test-idx"}},
		Corpora: []*workload.DocumentCorpus{{
			Name: "default",
			Documents: []*workload.DocumentSet{{
				SourceFormat:      workload.SourceFormatBulk,
				DocumentFile:      path,
				NumberOfDocuments: docs,
				TargetIndex:       "test-idx",
			}},
		}},
	}
}

func TestBounds_GoldenPartitioning(t *testing.T) {
	// 10 documents across 4 clients
	expected := []struct {
		offsetLines int
		docs        int
		lines       int
	}{
		{0, 3, 3}, {3, 2, 2}, {5, 3, 3}, {8, 2, 2},
	}
	for client, want := range expected {
		offsetLines, docs, lines := bounds(10, client, client, 4, false)
		assert.Equal(t, want.offsetLines, offsetLines, "client %d offset", client)
		assert.Equal(t, want.docs, docs, "client %d docs", client)
		assert.Equal(t, want.lines, lines, "client %d lines", client)
	}
}

func TestBounds_CoverExactlyWithoutOverlap(t *testing.T) {
	for _, tc := range []struct{ docs, clients int }{
		{10, 4}, {10, 3}, {1, 1}, {7, 8}, {1000, 7}, {143, 12}, {10000, 16},
	} {
		t.Run(fmt.Sprintf("%d_docs_%d_clients", tc.docs, tc.clients), func(t *testing.T) {
			total := 0
			prevEnd := 0
			for c := 0; c < tc.clients; c++ {
				offset, docs, _ := bounds(tc.docs, c, c, tc.clients, false)
				assert.Equal(t, prevEnd, offset, "client %d must start where the previous ended", c)
				prevEnd = offset + docs
				total += docs
			}
			assert.Equal(t, tc.docs, total)
			assert.Equal(t, tc.docs, prevEnd, "last client must end exactly at the corpus end")
		})
	}
}

func TestBounds_ActionAndMetaDataDoublesLines(t *testing.T) {
	offsetLines, docs, lines := bounds(10, 1, 1, 4, true)
	assert.Equal(t, 6, offsetLines)
	assert.Equal(t, 2, docs)
	assert.Equal(t, 4, lines)
}

func TestNumberOfBulks_Golden(t *testing.T) {
	corpora := []*workload.DocumentCorpus{{
		Name: "default",
		Documents: []*workload.DocumentSet{{
			SourceFormat:      workload.SourceFormatBulk,
			NumberOfDocuments: 10,
			TargetIndex:       "test-idx",
		}},
	}}
	// ceil(3/5) + ceil(2/5) + ceil(3/5) + ceil(2/5) = 4
	total := 0
	for c := 0; c < 4; c++ {
		total += numberOfBulks(corpora, c, c, 4, 5)
	}
	assert.Equal(t, 4, total)
}

func TestBulkSource_Validation(t *testing.T) {
	ctx := testContext(t)
	w := corpusWorkload(t, 10)

	_, err := NewBulkSource(ctx, w, map[string]any{}, "bulk")
	require.Error(t, err, "missing bulk-size")

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 0}, "bulk")
	require.Error(t, err)

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 5, "batch-size": 8}, "bulk")
	require.Error(t, err, "batch-size must be a multiple of bulk-size")

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 5, "conflicts": "silly"}, "bulk")
	require.Error(t, err)

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 5, "conflicts": "random", "on-conflict": "purge"}, "bulk")
	require.Error(t, err)

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 5, "ingest-percentage": 0}, "bulk")
	require.Error(t, err, "ingest-percentage bound is exclusive at zero")

	_, err = NewBulkSource(ctx, w, map[string]any{"bulk-size": 5}, "bulk")
	require.NoError(t, err)
}

func TestBulkSource_RejectsConflictsOnActionMetaDataCorpus(t *testing.T) {
	ctx := testContext(t)
	w := corpusWorkload(t, 10)
	w.Corpora[0].Documents[0].IncludesActionAndMetaData = true
	w.Corpora[0].Documents[0].TargetIndex = ""

	_, err := NewBulkSource(ctx, w, map[string]any{"bulk-size": 5, "conflicts": "random"}, "bulk")
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrWorkloadSyntax)
}

func TestBulkSource_UnpartitionedParamsFails(t *testing.T) {
	ctx := testContext(t)
	source, err := NewBulkSource(ctx, corpusWorkload(t, 10), map[string]any{"bulk-size": 5}, "bulk")
	require.NoError(t, err)

	_, err = source.Params()
	assert.ErrorIs(t, err, serrors.ErrAssertion)
}

func drainBulks(t *testing.T, source Source) []map[string]any {
	t.Helper()
	var records []map[string]any
	for {
		record, err := source.Params()
		if err == serrors.ErrExhausted {
			return records
		}
		require.NoError(t, err)
		records = append(records, record)
	}
}

func TestBulkSource_EndToEnd_SingleClient(t *testing.T) {
	ctx := testContext(t)
	w := corpusWorkload(t, 10)

	source, err := NewBulkSource(ctx, w, map[string]any{"bulk-size": 4}, "bulk")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	records := drainBulks(t, partition)
	require.Len(t, records, 3) // ceil(10/4)

	assert.Equal(t, 4, records[0]["bulk-size"])
	assert.Equal(t, 4, records[1]["bulk-size"])
	assert.Equal(t, 2, records[2]["bulk-size"])
	assert.Equal(t, "test-idx", records[0]["index"])
	assert.Equal(t, true, records[0]["action-metadata-present"])
	assert.Equal(t, "docs", records[0]["unit"])

	body := records[0]["body"].([]byte)
	lines := bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n"))
	require.Len(t, lines, 8) // meta line + doc line per document
	assert.Contains(t, string(lines[0]), `"index": {"_index": "test-idx"}`)
	assert.Equal(t, `{"id": 0}`, string(lines[1]))
}

func TestBulkSource_PartitionsAreDisjointAndComplete(t *testing.T) {
	const docs = 10
	const clients = 4

	var allDocs []string
	totalBulks := 0
	for c := 0; c < clients; c++ {
		ctx := testContext(t)
		w := corpusWorkload(t, docs)
		// per-client corpus copies share nothing; pin the file to one path
		source, err := NewBulkSource(ctx, w, map[string]any{"bulk-size": 5}, "bulk")
		require.NoError(t, err)
		partition, err := source.Partition(c, clients)
		require.NoError(t, err)

		records := drainBulks(t, partition)
		totalBulks += len(records)
		for _, record := range records {
			body := record["body"].([]byte)
			for _, line := range bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n")) {
				if bytes.HasPrefix(line, []byte(`{"id":`)) {
					allDocs = append(allDocs, string(line))
				}
			}
		}
	}

	assert.Equal(t, 4, totalBulks) // golden: ceil(3/5)+ceil(2/5)+ceil(3/5)+ceil(2/5)
	require.Len(t, allDocs, docs, "partitions must cover the corpus exactly once")
	seen := make(map[string]bool)
	for _, doc := range allDocs {
		assert.False(t, seen[doc], "document %s assigned twice", doc)
		seen[doc] = true
	}
}

func TestBulkSource_IngestPercentage(t *testing.T) {
	ctx := testContext(t)
	w := corpusWorkload(t, 10)

	source, err := NewBulkSource(ctx, w, map[string]any{"bulk-size": 2, "ingest-percentage": 40}, "bulk")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	records := drainBulks(t, partition)
	// 5 bulks total, 40% -> ceil(2) = 2
	assert.Len(t, records, 2)
}

func TestBulkSource_Looped(t *testing.T) {
	ctx := testContext(t)
	w := corpusWorkload(t, 4)

	source, err := NewBulkSource(ctx, w, map[string]any{"bulk-size": 2, "looped": true}, "bulk")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	// 2 bulks per pass; a looped source keeps going past the corpus end
	for i := 0; i < 7; i++ {
		record, err := partition.Params()
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, 2, record["bulk-size"])
	}
}

func TestBulkSource_IDConflicts_UpdateUniform(t *testing.T) {
	const docs = 100
	ctx := testContext(t)
	w := corpusWorkload(t, docs)

	source, err := NewBulkSource(ctx, w, map[string]any{
		"bulk-size":            10,
		"conflicts":            "random",
		"conflict-probability": 100,
		"on-conflict":          "update",
		"recency":              0,
	}, "bulk")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	records := drainBulks(t, partition)

	var actions, updates, docLines int
	for _, record := range records {
		body := record["body"].([]byte)
		for _, line := range bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n")) {
			switch {
			case bytes.HasPrefix(line, []byte(`{"update"`)), bytes.HasPrefix(line, []byte(`{"index"`)):
				actions++
				if bytes.HasPrefix(line, []byte(`{"update"`)) {
					updates++
				}
				// ids stay within the corpus id space
				assert.Regexp(t, `"_id": "00000000\d\d"`, string(line))
			case bytes.HasPrefix(line, []byte(`{"doc":`)):
				docLines++
				assert.Regexp(t, `^\{"doc":\{"id": \d+\}\}$`, string(line))
			}
		}
	}

	assert.Equal(t, docs, actions)
	// the very first document cannot conflict (nothing was emitted yet);
	// everything after that must, at probability 100
	assert.Equal(t, docs-1, updates)
	assert.Equal(t, updates, docLines, "every update action wraps its document in a doc object")
}

func TestBulkSource_DataStreamUsesCreateAction(t *testing.T) {
	path := writeCorpusFile(t, 4)
	w := &workload.Workload{
		Name:        "unittest",
		DataStreams: []*workload.DataStream{{Name: "logs-ds"}},
		Corpora: []*workload.DocumentCorpus{{
			Name: "default",
			Documents: []*workload.DocumentSet{{
				SourceFormat:      workload.SourceFormatBulk,
				DocumentFile:      path,
				NumberOfDocuments: 4,
				TargetDataStream:  "logs-ds",
			}},
		}},
	}

	source, err := NewBulkSource(testContext(t), w, map[string]any{"bulk-size": 2}, "bulk")
	require.NoError(t, err)
	partition, err := source.Partition(0, 1)
	require.NoError(t, err)

	record, err := partition.Params()
	require.NoError(t, err)
	body := record["body"].([]byte)
	assert.Contains(t, string(body), `{"create": {"_index": "logs-ds"}}`)
	assert.Equal(t, "logs-ds", record["index"])
}

func TestBulkSource_RepartitionYieldsEqualStreams(t *testing.T) {
	paramsSpec := map[string]any{"bulk-size": 3}

	collect := func() []string {
		ctx := NewExecutionContext(t.TempDir(), NewRegistry(), 7)
		w := corpusWorkload(t, 9)
		// pin the corpus content; the file path differs but the bytes match
		source, err := NewBulkSource(ctx, w, copyParams(paramsSpec), "bulk")
		require.NoError(t, err)
		partition, err := source.Partition(0, 2)
		require.NoError(t, err)
		var bodies []string
		for _, record := range drainBulks(t, partition) {
			bodies = append(bodies, string(record["body"].([]byte)))
		}
		return bodies
	}

	assert.Equal(t, collect(), collect())
}

func TestBuildConflictingIDs(t *testing.T) {
	ctx := testContext(t)

	assert.Nil(t, buildConflictingIDs(NoConflicts, 10, 0, ctx.Rand()))

	seq := buildConflictingIDs(SequentialConflicts, 3, 5, ctx.Rand())
	assert.Equal(t, []string{"0000000005", "0000000006", "0000000007"}, seq)

	random := buildConflictingIDs(RandomConflicts, 100, 0, ctx.Rand())
	require.Len(t, random, 100)
	seen := make(map[string]bool)
	for _, id := range random {
		seen[id] = true
	}
	assert.Len(t, seen, 100, "shuffling must preserve the id set")
}
