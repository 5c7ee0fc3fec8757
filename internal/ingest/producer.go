package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/output"
)

// ObjectFetcher abstracts range-GET access to an object store.
type ObjectFetcher interface {
	// Size returns the ContentLength of the object.
	Size(ctx context.Context, key string) (int64, error)

	// FetchRange downloads the inclusive byte range [start, end].
	FetchRange(ctx context.Context, key string, start, end int64) ([]byte, error)
}

// byteRange is an inclusive byte range, matching HTTP range header semantics
// (RFC 9110).
type byteRange struct {
	start int64
	end   int64
}

// partitionRange splits [beg, end) into chunkSize units with inclusive bounds.
func partitionRange(beg, end, chunkSize int64) []byteRange {
	length := end - beg
	if length <= 0 {
		return nil
	}
	n := (length + chunkSize - 1) / chunkSize
	ranges := make([]byteRange, 0, n)
	for i := int64(0); i < n; i++ {
		r := byteRange{start: beg + i*chunkSize}
		if i == n-1 {
			r.end = end - 1
		} else {
			r.end = r.start + chunkSize - 1
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// Producer streams object-storage blobs into line-aligned local chunk files.
type Producer struct {
	manager *Manager
	fetcher ObjectFetcher
	keys    []string

	// numWorkers bounds the concurrent range downloads per window.
	numWorkers int
}

// NewProducer creates the single producer of a streaming run.
func NewProducer(manager *Manager, fetcher ObjectFetcher, keys []string) *Producer {
	return &Producer{
		manager:    manager,
		fetcher:    fetcher,
		keys:       keys,
		numWorkers: 2 * runtime.NumCPU(),
	}
}

// Start launches the producer in the background after asserting that no other
// producer runs in this process. The returned channel delivers the terminal
// producer error (nil on clean end-of-stream).
func (p *Producer) Start(ctx context.Context) (<-chan error, error) {
	if err := p.manager.markStarted(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		err := p.run(ctx)
		p.manager.finish(err)
		done <- err
	}()
	return done, nil
}

// run iterates the configured keys and emits line-aligned chunks, carrying
// partial trailing lines across chunk boundaries. A final empty chunk marks
// end-of-stream.
func (p *Producer) run(ctx context.Context) error {
	chunkID := 0
	var partial []byte

	for keyIdx, key := range p.keys {
		lastKey := keyIdx == len(p.keys)-1
		size, err := p.fetcher.Size(ctx, key)
		if err != nil {
			return serrors.NewDataError(
				fmt.Sprintf("could not determine size of object %q: %v", key, err), key)
		}
		output.Debug("streaming object", "key", key, "size", size)

		ranges := partitionRange(0, size, p.manager.chunkSize)
		for window := 0; window < len(ranges); window += p.numWorkers {
			limit := window + p.numWorkers
			if limit > len(ranges) {
				limit = len(ranges)
			}

			parts := make([][]byte, limit-window)
			g, gctx := errgroup.WithContext(ctx)
			for i, r := range ranges[window:limit] {
				g.Go(func() error {
					data, err := p.fetcher.FetchRange(gctx, key, r.start, r.end)
					if err != nil {
						return serrors.NewDataError(
							fmt.Sprintf("could not download bytes %d-%d of object %q: %v",
								r.start, r.end, key, err), key)
					}
					parts[i] = data
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, part := range parts {
				lastPart := lastKey && window+i == len(ranges)-1
				if lastPart {
					// the final chunk runs to the true end of the object, so
					// a trailing line without a newline is not lost
					if err := p.writeChunk(chunkID, partial, part); err != nil {
						return err
					}
					partial = nil
					chunkID++
					p.manager.publishChunk()
					continue
				}
				cut := bytes.LastIndexByte(part, '\n')
				if cut < 0 {
					return serrors.Wrap(serrors.ErrDataStreaming,
						fmt.Sprintf("could not locate document end in chunk %d", chunkID))
				}
				if err := p.writeChunk(chunkID, partial, part[:cut+1]); err != nil {
					return err
				}
				partial = append([]byte(nil), part[cut+1:]...)
				chunkID++
				p.manager.publishChunk()
			}
		}
	}

	// end-of-stream terminator
	if err := p.writeChunk(chunkID, nil, nil); err != nil {
		return err
	}
	p.manager.publishChunk()
	return nil
}

func (p *Producer) writeChunk(id int, partial, data []byte) error {
	path := p.manager.ChunkPath(id)
	f, err := os.Create(path)
	if err != nil {
		return serrors.NewDataError(fmt.Sprintf("could not create chunk file: %v", err), path)
	}
	defer f.Close()

	if len(partial) > 0 {
		if _, err := f.Write(partial); err != nil {
			return serrors.NewDataError(fmt.Sprintf("could not write chunk file: %v", err), path)
		}
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return serrors.NewDataError(fmt.Sprintf("could not write chunk file: %v", err), path)
		}
	}
	return nil
}
