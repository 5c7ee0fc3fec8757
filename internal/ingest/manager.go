// Package ingest implements the streaming ingestion pipeline: a single
// producer ranges over an object-storage blob in parallel parts and emits
// line-aligned chunk files; bulk clients consume the chunks in arrival order
// under a bounded backlog.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// DefaultChunkSizeMB is the chunk size used when the configuration does not
// override it.
const DefaultChunkSizeMB = 50

// Manager owns the shared state of the streaming pipeline. One Manager
// exists per benchmark process; at most one producer may be started on it.
type Manager struct {
	mu        sync.Mutex
	loadFull  *sync.Cond // producer waits while the backlog exceeds plimsoll
	loadEmpty *sync.Cond // consumers wait while no unread chunk exists

	// rdIndex is the next chunk to be consumed, wrCount the next chunk to
	// be produced. Both only ever grow; rdIndex <= wrCount at all times.
	rdIndex int
	wrCount int

	// plimsoll and ballast are the high- and low-water marks of the
	// pending-chunks backlog.
	plimsoll int
	ballast  int

	chunkSize int64
	dataDir   string

	producerStarted bool
	producerErr     error
	producerDone    bool
}

// NewManager creates a pipeline manager writing chunks into dataDir.
// chunkSizeMB <= 0 selects the default.
func NewManager(dataDir string, chunkSizeMB int) *Manager {
	if chunkSizeMB <= 0 {
		chunkSizeMB = DefaultChunkSizeMB
	}
	plimsoll := 4 * runtime.NumCPU()
	m := &Manager{
		plimsoll:  plimsoll,
		ballast:   plimsoll / 2,
		chunkSize: int64(chunkSizeMB) * 1024 * 1024,
		dataDir:   dataDir,
	}
	m.loadFull = sync.NewCond(&m.mu)
	m.loadEmpty = sync.NewCond(&m.mu)
	return m
}

// ChunkPath returns the path of the chunk file with the given id.
func (m *Manager) ChunkPath(id int) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("chunk-%05d", id))
}

// ReadIndex returns the id of the next chunk to be consumed. Exposed for
// task progress reporting.
func (m *Manager) ReadIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rdIndex
}

// ChunkSizeBytes returns the configured chunk size.
func (m *Manager) ChunkSizeBytes() int64 { return m.chunkSize }

// markStarted flags the single producer as started. It fails when a producer
// already runs in this process.
func (m *Manager) markStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producerStarted {
		return serrors.NewAssertionError("streaming producer already started in this process")
	}
	m.producerStarted = true
	return nil
}

// publishChunk records a newly written chunk and applies backpressure: after
// incrementing wrCount and waking consumers, the producer blocks while more
// than plimsoll chunks are pending.
func (m *Manager) publishChunk() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wrCount++
	m.loadEmpty.Broadcast()
	for m.wrCount-m.rdIndex > m.plimsoll {
		m.loadFull.Wait()
	}
}

// finish publishes the terminator chunk state and records the producer outcome.
func (m *Manager) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.producerDone = true
	m.producerErr = err
	m.loadEmpty.Broadcast()
}

// NextChunk blocks until an unread chunk is available and claims it.
// The second return value is false at end-of-stream (a zero-length chunk);
// the terminator is left in place so every consumer observes it.
func (m *Manager) NextChunk() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.rdIndex == m.wrCount {
		if m.producerDone {
			return "", false, m.producerErr
		}
		m.loadEmpty.Wait()
	}

	id := m.rdIndex
	path := m.ChunkPath(id)
	info, err := os.Stat(path)
	if err != nil {
		return "", false, serrors.NewDataError(
			fmt.Sprintf("streamed chunk %d disappeared: %v", id, err), path)
	}
	if info.Size() == 0 {
		return "", false, nil
	}

	m.rdIndex++
	if m.wrCount-id < m.ballast {
		m.loadFull.Signal()
	}
	return path, true, nil
}

// ReleaseChunk deletes a fully consumed chunk file.
func (m *Manager) ReleaseChunk(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
