package params

import (
	"bufio"
	"fmt"
	"io"
	"os"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ingest"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/output"
)

// Slice is the line window over a single document file assigned to one
// client. In file mode it seeks to its offset via the offset table and reads
// bulkSize lines per iteration. In streaming mode it pulls whole chunk files
// from the ingestion manager instead and re-slices them into bulkSize lines.
type Slice struct {
	fileName      string
	offset        int
	numberOfLines int
	bulkSize      int

	// file mode
	file    *os.File
	reader  *bufio.Reader
	current int

	// streaming mode
	manager   *ingest.Manager
	chunkPath string
	chunk     *bufio.Reader
	chunkFile *os.File
	exhausted bool
}

// NewFileSlice creates a Slice reading numberOfLines lines starting at line
// offset of the given file.
func NewFileSlice(fileName string, offset, numberOfLines int) *Slice {
	return &Slice{fileName: fileName, offset: offset, numberOfLines: numberOfLines}
}

// NewStreamingSlice creates a Slice consuming chunks from the streaming
// ingestion pipeline.
func NewStreamingSlice(manager *ingest.Manager) *Slice {
	return &Slice{manager: manager}
}

// Open prepares the slice for reading with the given bulk size.
func (s *Slice) Open(bulkSize int) error {
	s.bulkSize = bulkSize
	if s.manager != nil {
		return nil // chunks are claimed lazily on first read
	}

	f, err := os.Open(s.fileName)
	if err != nil {
		return serrors.NewDataError(fmt.Sprintf("could not open corpus file: %v", err), s.fileName)
	}
	if err := ioutils.SkipLines(s.fileName, f, s.offset); err != nil {
		f.Close()
		return err
	}
	output.Debug("opened corpus slice",
		"file", s.fileName, "offset", s.offset, "lines", s.numberOfLines, "bulk-size", bulkSize)
	s.file = f
	s.reader = bufio.NewReaderSize(f, 1024*1024)
	return nil
}

// Close releases the underlying file.
func (s *Slice) Close() error {
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	if s.chunkFile != nil {
		s.chunkFile.Close()
		s.chunkFile = nil
	}
	return nil
}

// Next returns the next bulkSize lines, or ErrExhausted at the end of the
// slice. The final call may return fewer lines.
func (s *Slice) Next() ([][]byte, error) {
	if s.manager != nil {
		return s.fillBulkFromChunks()
	}

	if s.current >= s.numberOfLines {
		return nil, serrors.ErrExhausted
	}
	want := s.bulkSize
	if remaining := s.numberOfLines - s.current; remaining < want {
		want = remaining
	}

	lines := make([][]byte, 0, want)
	for len(lines) < want {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, serrors.NewDataError(fmt.Sprintf("reading corpus file: %v", err), s.fileName)
		}
	}
	s.current += len(lines)
	if len(lines) == 0 {
		return nil, serrors.ErrExhausted
	}
	return lines, nil
}

// fillBulkFromChunks concatenates lines across chunk boundaries until a full
// bulk is assembled or the stream terminates.
func (s *Slice) fillBulkFromChunks() ([][]byte, error) {
	if s.exhausted {
		return nil, serrors.ErrExhausted
	}

	want := s.bulkSize
	var lines [][]byte
	for want > 0 {
		if s.chunk == nil {
			ok, err := s.openNextChunk()
			if err != nil {
				return nil, err
			}
			if !ok {
				s.exhausted = true
				if len(lines) == 0 {
					return nil, serrors.ErrExhausted
				}
				return lines, nil
			}
		}

		line, err := s.chunk.ReadBytes('\n')
		if len(line) > 0 {
			lines = append(lines, line)
			want--
		}
		if err == io.EOF {
			s.chunkFile.Close()
			s.chunkFile = nil
			s.chunk = nil
			if err := s.manager.ReleaseChunk(s.chunkPath); err != nil {
				return nil, serrors.NewDataError(fmt.Sprintf("releasing chunk: %v", err), s.chunkPath)
			}
		} else if err != nil {
			return nil, serrors.NewDataError(fmt.Sprintf("reading chunk: %v", err), s.chunkPath)
		}
	}
	return lines, nil
}

func (s *Slice) openNextChunk() (bool, error) {
	path, ok, err := s.manager.NextChunk()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, serrors.NewDataError(fmt.Sprintf("opening chunk: %v", err), path)
	}
	s.chunkPath = path
	s.chunkFile = f
	s.chunk = bufio.NewReaderSize(f, 1024*1024)
	return true, nil
}

func (s *Slice) String() string {
	if s.manager != nil {
		return "streaming-slice"
	}
	return fmt.Sprintf("%s[%d;%d]", s.fileName, s.offset, s.offset+s.numberOfLines)
}
