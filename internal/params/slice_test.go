package params

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ingest"
	"github.com/searchbench/sbench/internal/ioutils"
)

func TestFileSlice_ReadsAssignedWindow(t *testing.T) {
	path := writeCorpusFile(t, 20)
	_, err := ioutils.PrepareOffsetTable(path, 5)
	require.NoError(t, err)

	slice := NewFileSlice(path, 5, 10)
	require.NoError(t, slice.Open(4))
	defer slice.Close()

	var all []string
	for {
		lines, err := slice.Next()
		if err == serrors.ErrExhausted {
			break
		}
		require.NoError(t, err)
		for _, line := range lines {
			all = append(all, strings.TrimSuffix(string(line), "\n"))
		}
	}

	require.Len(t, all, 10)
	assert.Equal(t, `{"id": 5}`, all[0])
	assert.Equal(t, `{"id": 14}`, all[9])
}

func TestFileSlice_BulkSizing(t *testing.T) {
	path := writeCorpusFile(t, 10)

	slice := NewFileSlice(path, 0, 10)
	require.NoError(t, slice.Open(4))
	defer slice.Close()

	sizes := []int{}
	for {
		lines, err := slice.Next()
		if err == serrors.ErrExhausted {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(lines))
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

// byteFetcher serves a single in-memory object for streaming tests.
type byteFetcher struct {
	data []byte
}

func (f *byteFetcher) Size(context.Context, string) (int64, error) { return int64(len(f.data)), nil }

func (f *byteFetcher) FetchRange(_ context.Context, _ string, start, end int64) ([]byte, error) {
	if end >= int64(len(f.data)) {
		end = int64(len(f.data)) - 1
	}
	return f.data[start : end+1], nil
}

func TestStreamingSlice_YieldsExactBulks(t *testing.T) {
	var b strings.Builder
	const docs = 100
	for i := 0; i < docs; i++ {
		fmt.Fprintf(&b, "{\"seq\": %d}\n", i)
	}

	manager := ingest.NewManager(t.TempDir(), 1)
	producer := ingest.NewProducer(manager, &byteFetcher{data: []byte(b.String())}, []string{"corpus"})
	done, err := producer.Start(context.Background())
	require.NoError(t, err)

	slice := NewStreamingSlice(manager)
	require.NoError(t, slice.Open(7))

	var all []string
	for {
		lines, err := slice.Next()
		if err == serrors.ErrExhausted {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(lines), 7)
		for _, line := range lines {
			all = append(all, strings.TrimSuffix(string(line), "\n"))
		}
	}
	require.NoError(t, <-done)

	require.Len(t, all, docs)
	// chunks are consumed in producer order, so document order is preserved
	for i, line := range all {
		assert.Equal(t, fmt.Sprintf(`{"seq": %d}`, i), line)
	}
}
