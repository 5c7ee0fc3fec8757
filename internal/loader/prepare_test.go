package loader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/params"
	"github.com/searchbench/sbench/internal/workload"
)

func int64Ptr(v int64) *int64 { return &v }

func corpusContent(docs int) string {
	var b strings.Builder
	for i := 0; i < docs; i++ {
		fmt.Fprintf(&b, "{\"id\": %d}\n", i)
	}
	return b.String()
}

func newPreparator(offline, testMode bool) *DocumentSetPreparator {
	return &DocumentSetPreparator{
		WorkloadName: "unittest",
		Downloader:   &Downloader{Offline: offline, TestMode: testMode},
		Decompressor: &Decompressor{},
		OffsetStride: 3,
	}
}

func TestPrepareDocumentSet_LocalFileUpToDate(t *testing.T) {
	dataRoot := t.TempDir()
	content := corpusContent(10)
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "documents.json"), []byte(content), 0o644))

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		NumberOfDocuments:       10,
		UncompressedSizeInBytes: int64Ptr(int64(len(content))),
	}

	// offline: no download may be needed, the local file suffices
	p := newPreparator(true, false)
	require.NoError(t, p.PrepareDocumentSet(docs, dataRoot))

	// offset table exists with ceil(10/3) entries
	table, err := os.ReadFile(ioutils.OffsetTablePath(filepath.Join(dataRoot, "documents.json")))
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(table), "\n"))

	// re-preparing is a no-op and must not hit the network either
	require.NoError(t, p.PrepareDocumentSet(docs, dataRoot))
}

func TestPrepareDocumentSet_DecompressesArchive(t *testing.T) {
	dataRoot := t.TempDir()
	content := corpusContent(6)

	archivePath := filepath.Join(dataRoot, "documents.json.gz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	info, err := os.Stat(archivePath)
	require.NoError(t, err)

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		DocumentArchive:         "documents.json.gz",
		NumberOfDocuments:       6,
		CompressedSizeInBytes:   int64Ptr(info.Size()),
		UncompressedSizeInBytes: int64Ptr(int64(len(content))),
	}

	p := newPreparator(true, false)
	require.NoError(t, p.PrepareDocumentSet(docs, dataRoot))

	extracted, err := os.ReadFile(filepath.Join(dataRoot, "documents.json"))
	require.NoError(t, err)
	assert.Equal(t, content, string(extracted))
}

func TestPrepareDocumentSet_WrongUncompressedSize(t *testing.T) {
	dataRoot := t.TempDir()
	content := corpusContent(6)

	archivePath := filepath.Join(dataRoot, "documents.json.gz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	info, err := os.Stat(archivePath)
	require.NoError(t, err)

	docs := &workload.DocumentSet{
		SourceFormat:          workload.SourceFormatBulk,
		DocumentFile:          "documents.json",
		DocumentArchive:       "documents.json.gz",
		NumberOfDocuments:     6,
		CompressedSizeInBytes: int64Ptr(info.Size()),
		// deliberately wrong
		UncompressedSizeInBytes: int64Ptr(int64(len(content)) + 1),
	}

	p := newPreparator(true, false)
	err = p.PrepareDocumentSet(docs, dataRoot)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrData)
}

func TestPrepareDocumentSet_OfflineWithoutData(t *testing.T) {
	docs := &workload.DocumentSet{
		SourceFormat:      workload.SourceFormatBulk,
		DocumentFile:      "documents.json",
		BaseURL:           "http://benchmarks.example.org/corpora",
		NumberOfDocuments: 10,
	}

	p := newPreparator(true, false)
	err := p.PrepareDocumentSet(docs, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrSystemSetup)
}

func TestPrepareDocumentSet_Download(t *testing.T) {
	content := corpusContent(5)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/corpora/documents.json" {
			fmt.Fprint(w, content)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		BaseURL:                 server.URL + "/corpora",
		NumberOfDocuments:       5,
		UncompressedSizeInBytes: int64Ptr(int64(len(content))),
	}

	p := newPreparator(false, false)
	dataRoot := t.TempDir()
	require.NoError(t, p.PrepareDocumentSet(docs, dataRoot))

	downloaded, err := os.ReadFile(filepath.Join(dataRoot, "documents.json"))
	require.NoError(t, err)
	assert.Equal(t, content, string(downloaded))
}

func TestPrepareDocumentSet_404InTestMode(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	docs := &workload.DocumentSet{
		SourceFormat:      workload.SourceFormatBulk,
		DocumentFile:      "documents-1k.json",
		BaseURL:           server.URL,
		NumberOfDocuments: 1000,
	}

	p := newPreparator(false, true)
	err := p.PrepareDocumentSet(docs, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrData)
	assert.Contains(t, err.Error(), "does not support test mode")
}

func TestPrepareDocumentSet_DownloadSizeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "too short")
	}))
	defer server.Close()

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		BaseURL:                 server.URL,
		NumberOfDocuments:       5,
		UncompressedSizeInBytes: int64Ptr(1 << 20),
	}

	p := newPreparator(false, false)
	err := p.PrepareDocumentSet(docs, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrData)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestPrepareDocumentSet_InconsistentLineCount(t *testing.T) {
	dataRoot := t.TempDir()
	content := corpusContent(7)
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "documents.json"), []byte(content), 0o644))

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		NumberOfDocuments:       10, // declared count disagrees with the file
		UncompressedSizeInBytes: int64Ptr(int64(len(content))),
	}

	p := newPreparator(true, false)
	err := p.PrepareDocumentSet(docs, dataRoot)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrData)

	// the inconsistent table must have been discarded
	_, statErr := os.Stat(ioutils.OffsetTablePath(filepath.Join(dataRoot, "documents.json")))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDefaultPreparatorProcessor_PreparesUsedCorpora(t *testing.T) {
	dataRootDir := t.TempDir()
	content := corpusContent(8)
	dataRoot := filepath.Join(dataRootDir, "unittest", "default")
	require.NoError(t, os.MkdirAll(dataRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "documents.json"), []byte(content), 0o644))

	bulkOp := &workload.Operation{
		Name: "index-docs",
		Type: "bulk",
		Params: map[string]any{
			"operation-type": "bulk",
			"bulk-size":      4,
		},
	}
	w := &workload.Workload{
		Name:    "unittest",
		Indices: []*workload.Index{{Name: "logs"}},
		Corpora: []*workload.DocumentCorpus{{
			Name: "default",
			Documents: []*workload.DocumentSet{{
				SourceFormat:            workload.SourceFormatBulk,
				DocumentFile:            "documents.json",
				NumberOfDocuments:       8,
				TargetIndex:             "logs",
				UncompressedSizeInBytes: int64Ptr(int64(len(content))),
			}},
		}},
		TestProcedures: []*workload.TestProcedure{{
			Name: "default", Default: true,
			Schedule: []workload.ScheduleElement{
				&workload.Task{Name: "index-docs", Operation: bulkOp, Clients: 1, Params: map[string]any{}},
			},
		}},
	}

	ctx := params.NewExecutionContext(dataRootDir, params.NewRegistry(), 1)
	p := &DefaultPreparatorProcessor{
		Ctx:        ctx,
		Preparator: newPreparator(true, false),
	}
	require.NoError(t, p.OnPrepareWorkload(w, dataRootDir))

	docs := w.Corpora[0].Documents[0]
	assert.True(t, filepath.IsAbs(docs.DocumentFile), "prepared document sets carry absolute paths")
	_, err := os.Stat(ioutils.OffsetTablePath(docs.DocumentFile))
	assert.NoError(t, err, "offset table must exist after preparation")
}

func TestPrepareBundledDocumentSet(t *testing.T) {
	workloadRoot := t.TempDir()
	content := corpusContent(4)
	require.NoError(t, os.WriteFile(filepath.Join(workloadRoot, "documents.json"), []byte(content), 0o644))

	docs := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		NumberOfDocuments:       4,
		UncompressedSizeInBytes: int64Ptr(int64(len(content))),
	}

	p := newPreparator(true, false)
	prepared, err := p.PrepareBundledDocumentSet(docs, workloadRoot)
	require.NoError(t, err)
	assert.True(t, prepared)

	// missing files are a miss, not an error
	missing := &workload.DocumentSet{
		SourceFormat: workload.SourceFormatBulk,
		DocumentFile: "other.json",
	}
	prepared, err = p.PrepareBundledDocumentSet(missing, workloadRoot)
	require.NoError(t, err)
	assert.False(t, prepared)

	// a present file with the wrong size is an error
	wrongSize := &workload.DocumentSet{
		SourceFormat:            workload.SourceFormatBulk,
		DocumentFile:            "documents.json",
		NumberOfDocuments:       4,
		UncompressedSizeInBytes: int64Ptr(1),
	}
	_, err = p.PrepareBundledDocumentSet(wrongSize, workloadRoot)
	require.Error(t, err)
}
