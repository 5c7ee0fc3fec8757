package ioutils

import (
	"bufio"
	"fmt"
	"io"
	"os"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// ExpandResult describes a synthesized corpus: the metadata a workload
// definition needs to reference it.
type ExpandResult struct {
	Documents         int
	UncompressedBytes int64
}

// ExpandCorpus synthesizes an enlarged corpus by cycling over the documents
// of inputFile until numDocs documents are written, then builds the offset
// table sidecar. Used to grow a small seed corpus to benchmark scale.
func ExpandCorpus(inputFile, outputFile string, numDocs, stride int) (*ExpandResult, error) {
	if numDocs <= 0 {
		return nil, serrors.NewAssertionError("number of documents must be positive but was %d", numDocs)
	}

	seed, err := readLines(inputFile)
	if err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, serrors.NewDataError("corpus seed file contains no documents", inputFile)
	}

	out, err := os.Create(outputFile)
	if err != nil {
		return nil, fmt.Errorf("creating corpus file: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, 1024*1024)

	var written int64
	for i := 0; i < numDocs; i++ {
		line := seed[i%len(seed)]
		n, err := w.Write(line)
		if err != nil {
			return nil, fmt.Errorf("writing corpus file: %w", err)
		}
		written += int64(n)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing corpus file: %w", err)
	}

	if _, err := PrepareOffsetTable(outputFile, stride); err != nil {
		return nil, err
	}
	return &ExpandResult{Documents: numDocs, UncompressedBytes: written}, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("could not open corpus seed file: %v", err), path)
	}
	defer f.Close()

	var lines [][]byte
	r := bufio.NewReaderSize(f, 1024*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading corpus seed file: %w", err)
		}
	}
}
