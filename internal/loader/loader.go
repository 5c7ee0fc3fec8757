package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/searchbench/sbench/internal/config"
	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/params"
	"github.com/searchbench/sbench/internal/workload"
)

// Options parameterize a workload load.
type Options struct {
	// WorkloadName names the workload; empty derives it from the spec file.
	WorkloadName string

	// SpecFile is the path of the workload definition file.
	SpecFile string

	// MappingDir holds referenced body files; empty uses the spec file's
	// directory.
	MappingDir string

	// Config supplies workload parameters, task filters, test mode, and the
	// randomizer settings.
	Config *config.Config

	// Ctx is the execution context shared with the parameter sources.
	Ctx *params.ExecutionContext
}

// Load reads, validates, and post-processes a workload. The processors run
// in fixed order: task filter, test-mode shrinker, query randomizer.
func Load(opts Options) (*workload.Workload, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ctx := opts.Ctx
	if ctx == nil {
		dataDir, err := cfg.ExpandDataDir()
		if err != nil {
			return nil, err
		}
		ctx = params.NewExecutionContext(dataDir, nil, cfg.Seed)
	}

	name := opts.WorkloadName
	if name == "" {
		name = workloadNameFromFile(opts.SpecFile)
	}

	reader, err := NewFileReader(cfg.Workload.Params, cfg.Workload.TestProcedure)
	if err != nil {
		return nil, err
	}
	w, err := reader.Read(name, opts.SpecFile, opts.MappingDir)
	if err != nil {
		return nil, err
	}

	if cfg.Workload.TestProcedure != "" {
		if _, found := w.FindTestProcedure(cfg.Workload.TestProcedure); !found {
			names := make([]string, 0, len(w.TestProcedures))
			for _, tp := range w.TestProcedures {
				names = append(names, tp.Name)
			}
			return nil, serrors.NewSystemSetupError(
				fmt.Sprintf("unknown test procedure %q for workload %q", cfg.Workload.TestProcedure, w.Name),
				fmt.Sprintf("available test procedures: %s", strings.Join(names, ", ")))
		}
	}

	registry := NewProcessorRegistry()
	filter, err := NewTaskFilterProcessor(cfg.Workload.IncludeTasks, cfg.Workload.ExcludeTasks)
	if err != nil {
		return nil, err
	}
	registry.Register(filter)
	if cfg.TestMode {
		registry.Register(&TestModeProcessor{})
	}
	if cfg.Randomization.Enabled {
		registry.Register(NewQueryRandomizerProcessor(ctx, cfg.Randomization.RepeatFrequency, cfg.Randomization.Count))
	}

	if err := registry.Apply(w); err != nil {
		return nil, err
	}
	output.Debug("loaded workload", "workload", w.Name, "test-procedures", len(w.TestProcedures))
	return w, nil
}

func workloadNameFromFile(specFile string) string {
	base := filepath.Base(specFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "workload" || name == "" {
		// workload.json files take the directory name
		return filepath.Base(filepath.Dir(specFile))
	}
	return name
}

// List returns the workload names found below root: every directory holding
// a workload.json.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("cannot list workloads in %s: %v", root, err), "")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), "workload.json")); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
