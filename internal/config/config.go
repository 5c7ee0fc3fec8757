// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// Defaults for tunables that have no workload-level override.
const (
	// DefaultChunkSizeMB is the streaming-ingestion chunk size in megabytes.
	DefaultChunkSizeMB = 50

	// DefaultOffsetStride is the line stride of the corpus file offset table.
	DefaultOffsetStride = 50000

	// DefaultRandomizationCount is the size of a saved standard-value pool.
	DefaultRandomizationCount = 5000

	// DefaultRepeatFrequency is the probability of drawing a query bound
	// from the saved pool rather than generating a fresh one.
	DefaultRepeatFrequency = 0.3
)

// RandomizationConfig controls the query randomizer processor.
type RandomizationConfig struct {
	// Enabled turns the processor on.
	Enabled bool `mapstructure:"enabled"`

	// RepeatFrequency is the probability in [0,1] of reusing a saved value.
	RepeatFrequency float64 `mapstructure:"repeat-frequency"`

	// Count is the number of standard values generated per (operation, field).
	Count int `mapstructure:"count"`
}

// WorkloadConfig groups the workload-selection options.
type WorkloadConfig struct {
	// Params are the user-supplied workload template parameters.
	Params map[string]any `mapstructure:"params"`

	// TestProcedure selects a test procedure by name. Empty selects the default.
	TestProcedure string `mapstructure:"test-procedure"`

	// IncludeTasks keeps only matching tasks. Mutually exclusive with ExcludeTasks.
	IncludeTasks []string `mapstructure:"include-tasks"`

	// ExcludeTasks drops matching tasks.
	ExcludeTasks []string `mapstructure:"exclude-tasks"`
}

// Config represents the sbench driver configuration.
// Loaded from ~/.sbench/config.yaml, overridable via SBENCH_* env vars and flags.
type Config struct {
	// DataDir is the root directory for downloaded corpora and chunk files.
	// Env: SBENCH_DATA_DIR, Default: ~/.sbench/data
	DataDir string `mapstructure:"data-dir"`

	// Offline forbids any network access during preparation.
	Offline bool `mapstructure:"offline"`

	// TestMode shrinks corpora and task budgets for a smoke run.
	TestMode bool `mapstructure:"test-mode"`

	// ChunkSizeMB is the streaming-ingestion chunk size in megabytes.
	ChunkSizeMB int `mapstructure:"chunk-size-mb"`

	// OffsetStride is the line stride of corpus offset tables.
	OffsetStride int `mapstructure:"offset-stride"`

	// Seed makes randomized decisions (id conflicts, query bounds) reproducible.
	// Zero means seed from entropy.
	Seed int64 `mapstructure:"seed"`

	Workload      WorkloadConfig      `mapstructure:"workload"`
	Randomization RandomizationConfig `mapstructure:"randomization"`
}

// DefaultConfig returns a Config with all default values populated.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "~/.sbench/data",
		ChunkSizeMB:  DefaultChunkSizeMB,
		OffsetStride: DefaultOffsetStride,
		Randomization: RandomizationConfig{
			RepeatFrequency: DefaultRepeatFrequency,
			Count:           DefaultRandomizationCount,
		},
	}
}

// LoaderOptions contains options for loading configuration.
type LoaderOptions struct {
	// ConfigFlag is the --config flag value. Empty means the default path.
	ConfigFlag string
}

// Load reads the configuration file (if present), applies environment
// overrides, and returns the resolved Config. A missing config file is not
// an error; defaults apply.
func Load(opts LoaderOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("data-dir", "~/.sbench/data")
	v.SetDefault("chunk-size-mb", DefaultChunkSizeMB)
	v.SetDefault("offset-stride", DefaultOffsetStride)
	v.SetDefault("randomization.repeat-frequency", DefaultRepeatFrequency)
	v.SetDefault("randomization.count", DefaultRandomizationCount)

	v.SetEnvPrefix("SBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFlag != "" {
		v.SetConfigFile(opts.ConfigFlag)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.ConfigFlag, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".sbench"))
			v.SetConfigName("config")
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("reading config file: %w", err)
				}
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces cross-field rules on the resolved configuration.
func (c *Config) Validate() error {
	if len(c.Workload.IncludeTasks) > 0 && len(c.Workload.ExcludeTasks) > 0 {
		return serrors.NewSystemSetupError(
			"include-tasks and exclude-tasks are mutually exclusive",
			"drop one of the two filter lists")
	}
	if c.ChunkSizeMB <= 0 {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("chunk-size-mb must be positive but was %d", c.ChunkSizeMB), "")
	}
	if c.OffsetStride <= 0 {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("offset-stride must be positive but was %d", c.OffsetStride), "")
	}
	if c.Randomization.RepeatFrequency < 0 || c.Randomization.RepeatFrequency > 1 {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("randomization.repeat-frequency must be in [0,1] but was %g",
				c.Randomization.RepeatFrequency), "")
	}
	return nil
}

// ExpandDataDir resolves a leading "~" in DataDir against the user home.
func (c *Config) ExpandDataDir() (string, error) {
	if !strings.HasPrefix(c.DataDir, "~") {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(c.DataDir, "~")), nil
}
