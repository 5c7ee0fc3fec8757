// Package cmd provides CLI command implementations.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/searchbench/sbench/internal/config"
	"github.com/searchbench/sbench/internal/output"
)

var (
	// Global flags
	configFlag     string
	verboseFlag    bool
	timestampsFlag bool
	dataDirFlag    string
	offlineFlag    bool
	testModeFlag   bool
	seedFlag       int64

	workloadParamsFlag []string
	testProcedureFlag  string
	includeTasksFlag   []string
	excludeTasksFlag   []string

	// Resolved configuration (loaded during PersistentPreRunE)
	resolvedConfig *config.Config
)

// NewRootCmd creates the root command for the sbench driver.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sbench",
		Short:         "Benchmark driver for search and analytics clusters",
		Long:          `sbench loads workload definitions, provisions their data corpora, and generates a controlled operation load against a search/analytics cluster.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeGlobals(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (env: SBENCH_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&timestampsFlag, "timestamps", true, "Show timestamps in log output")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Root directory for corpus data (env: SBENCH_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "Forbid network access during preparation")
	rootCmd.PersistentFlags().BoolVar(&testModeFlag, "test-mode", false, "Shrink corpora and budgets for a smoke run")
	rootCmd.PersistentFlags().Int64Var(&seedFlag, "seed", 0, "Seed for reproducible randomized decisions")
	rootCmd.PersistentFlags().StringSliceVar(&workloadParamsFlag, "workload-params", nil, "Workload template parameters as key=value pairs")
	rootCmd.PersistentFlags().StringVar(&testProcedureFlag, "test-procedure", "", "Select a test procedure by name")
	rootCmd.PersistentFlags().StringSliceVar(&includeTasksFlag, "include-tasks", nil, "Keep only tasks matching these filters")
	rootCmd.PersistentFlags().StringSliceVar(&excludeTasksFlag, "exclude-tasks", nil, "Drop tasks matching these filters")

	rootCmd.AddCommand(NewWorkloadCmd())
	rootCmd.AddCommand(NewExpandCorpusCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// initializeGlobals sets up logging and loads configuration.
func initializeGlobals(cmd *cobra.Command) error {
	configPath := configFlag
	if configPath == "" {
		configPath = os.Getenv("SBENCH_CONFIG")
	}
	cfg, err := config.Load(config.LoaderOptions{ConfigFlag: configPath})
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// flags win over config file and environment
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDirFlag
	}
	if cmd.Flags().Changed("offline") {
		cfg.Offline = offlineFlag
	}
	if cmd.Flags().Changed("test-mode") {
		cfg.TestMode = testModeFlag
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seedFlag
	}
	if cmd.Flags().Changed("test-procedure") {
		cfg.Workload.TestProcedure = testProcedureFlag
	}
	if cmd.Flags().Changed("include-tasks") {
		cfg.Workload.IncludeTasks = includeTasksFlag
	}
	if cmd.Flags().Changed("exclude-tasks") {
		cfg.Workload.ExcludeTasks = excludeTasksFlag
	}
	if cmd.Flags().Changed("workload-params") {
		merged := make(map[string]any, len(workloadParamsFlag))
		for k, v := range cfg.Workload.Params {
			merged[k] = v
		}
		for _, pair := range workloadParamsFlag {
			key, value, err := splitKeyValue(pair)
			if err != nil {
				return err
			}
			merged[key] = value
		}
		cfg.Workload.Params = merged
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	resolvedConfig = cfg

	logCfg := output.LogConfig{Verbose: verboseFlag}
	if cmd.Flags().Changed("timestamps") {
		logCfg.Timestamps = output.BoolPtr(timestampsFlag)
	}
	output.SetupLogging(logCfg)

	if verboseFlag {
		output.Debug("initializing CLI",
			"data-dir", cfg.DataDir,
			"test-mode", cfg.TestMode,
			"offline", cfg.Offline,
		)
	}
	return nil
}

func splitKeyValue(pair string) (string, string, error) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("workload parameter %q must have the form key=value", pair)
}

// Config returns the resolved driver configuration.
func Config() *config.Config {
	return resolvedConfig
}
