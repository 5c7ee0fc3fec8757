package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchbench/sbench/internal/config"
	serrors "github.com/searchbench/sbench/internal/errors"
)

func TestLoad_AppliesProcessors(t *testing.T) {
	spec := `{
		"version": 2,
		"indices": [{"name": "logs"}],
		"corpora": [{
			"name": "default",
			"documents": [{"source-file": "documents.json.bz2", "document-count": 5000000, "uncompressed-bytes": 1234}]
		}],
		"schedule": [
			{"operation": {"operation-type": "bulk", "name": "index-docs", "bulk-size": 500}, "tags": ["write"]},
			{"operation": {"operation-type": "search", "name": "query", "index": "logs"}, "iterations": 100, "clients": 2}
		]
	}`
	path := writeWorkload(t, spec, nil)

	cfg := config.DefaultConfig()
	cfg.TestMode = true
	cfg.Workload.IncludeTasks = []string{"tag:write", "query"}

	w, err := Load(Options{SpecFile: path, Config: cfg})
	require.NoError(t, err)

	// the filter kept both tasks, test mode shrank the corpus and budgets
	assert.Len(t, w.TestProcedures[0].LeafTasks(), 2)
	docs := w.Corpora[0].Documents[0]
	assert.Equal(t, "documents-1k.json.bz2", docs.DocumentArchive)
	assert.Equal(t, 1000, docs.NumberOfDocuments)
	assert.Nil(t, docs.UncompressedSizeInBytes)

	query := w.TestProcedures[0].LeafTasks()[1]
	assert.Equal(t, 2, *query.Iterations)
}

func TestLoad_UnknownTestProcedure(t *testing.T) {
	path := writeWorkload(t, fmt.Sprintf(`{%s}`, minimalSchedule), nil)

	cfg := config.DefaultConfig()
	cfg.Workload.TestProcedure = "no-such-procedure"

	_, err := Load(Options{SpecFile: path, Config: cfg})
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrSystemSetup)
	assert.Contains(t, err.Error(), "no-such-procedure")
}

func TestLoad_SelectsProcedureByName(t *testing.T) {
	spec := `{
		"test_procedures": [
			{"name": "append", "default": true, "schedule": [{"operation": {"operation-type": "force-merge"}}]},
			{"name": "query-heavy", "schedule": [{"operation": {"operation-type": "force-merge"}}]}
		]
	}`
	path := writeWorkload(t, spec, nil)

	cfg := config.DefaultConfig()
	cfg.Workload.TestProcedure = "query-heavy"

	w, err := Load(Options{SpecFile: path, Config: cfg})
	require.NoError(t, err)
	selected := w.SelectedTestProcedureOrDefault()
	require.NotNil(t, selected)
	assert.Equal(t, "query-heavy", selected.Name)
}

func TestList(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"geonames", "nyc-taxis"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "workload.json"), []byte("{}"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-workload"), 0o755))

	names, err := List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"geonames", "nyc-taxis"}, names)
}

func TestWorkloadNameFromFile(t *testing.T) {
	assert.Equal(t, "geonames", workloadNameFromFile("/workloads/geonames/workload.json"))
	assert.Equal(t, "nyc-taxis", workloadNameFromFile("/specs/nyc-taxis.json"))
}
