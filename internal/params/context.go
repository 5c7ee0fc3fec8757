package params

import (
	"math/rand"
	"sync"

	"github.com/searchbench/sbench/internal/ingest"
)

// ExecutionContext carries the per-run state parameter sources need. One
// context exists per benchmark run; it replaces implicit process-wide
// globals so that the single-producer semantics of the streaming pipeline
// become an assertion rather than a convention.
type ExecutionContext struct {
	// DataDir is the root directory for corpus files and streamed chunks.
	DataDir string

	// Ingest is the streaming ingestion manager; nil until a streaming
	// corpus is in play.
	Ingest *ingest.Manager

	// Registry resolves nested sources and standard values.
	Registry *Registry

	mu   sync.Mutex
	rng  *rand.Rand
	seed int64
}

// NewExecutionContext creates a context. seed zero draws a random seed.
func NewExecutionContext(dataDir string, registry *Registry, seed int64) *ExecutionContext {
	if registry == nil {
		registry = NewRegistry()
	}
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(rand.Int63())
	}
	return &ExecutionContext{
		DataDir:  dataDir,
		Registry: registry,
		rng:      rand.New(src),
		seed:     seed,
	}
}

// Rand returns a RNG derived from the run seed. Each call yields an
// independently seeded generator so per-client sources never share one.
func (c *ExecutionContext) Rand() *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rand.New(rand.NewSource(c.rng.Int63()))
}

// EnsureIngest lazily creates the streaming ingestion manager.
func (c *ExecutionContext) EnsureIngest(chunkSizeMB int) *ingest.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Ingest == nil {
		c.Ingest = ingest.NewManager(c.DataDir, chunkSizeMB)
	}
	return c.Ingest
}
