package ioutils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// OffsetTablePath returns the sidecar path of the offset table for a corpus file.
func OffsetTablePath(documentFile string) string {
	return documentFile + ".offset"
}

// PrepareOffsetTable scans documentFile and writes its offset table sidecar:
// one "line;byte_offset" entry per stride block, starting at line 0, so a
// file of L lines yields exactly ceil(L/stride) entries. It returns the total
// number of lines read. An up-to-date sidecar (newer than the data file) is
// left untouched and its line count returned instead.
func PrepareOffsetTable(documentFile string, stride int) (int, error) {
	if stride <= 0 {
		return 0, serrors.NewAssertionError("offset table stride must be positive but was %d", stride)
	}

	tablePath := OffsetTablePath(documentFile)
	dataInfo, err := os.Stat(documentFile)
	if err != nil {
		return 0, fmt.Errorf("reading corpus file: %w", err)
	}
	if tableInfo, err := os.Stat(tablePath); err == nil && tableInfo.ModTime().After(dataInfo.ModTime()) {
		if lines, err := countLines(documentFile); err == nil {
			return lines, nil
		}
	}

	in, err := os.Open(documentFile)
	if err != nil {
		return 0, fmt.Errorf("opening corpus file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(tablePath)
	if err != nil {
		return 0, fmt.Errorf("creating offset table: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	r := bufio.NewReaderSize(in, 1024*1024)
	var lineNo int
	var offset int64
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if lineNo%stride == 0 {
				fmt.Fprintf(w, "%d;%d\n", lineNo, offset)
			}
			offset += int64(len(line))
			lineNo++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("scanning corpus file: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("writing offset table: %w", err)
	}
	return lineNo, nil
}

// RemoveOffsetTable deletes the sidecar of documentFile if it exists.
func RemoveOffsetTable(documentFile string) error {
	err := os.Remove(OffsetTablePath(documentFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SkipLines positions f at the start of logical line targetLine, using the
// offset table to seek past whole stride blocks and scanning only the
// remainder. Without a table it scans from the beginning.
func SkipLines(documentFile string, f *os.File, targetLine int) error {
	if targetLine <= 0 {
		return nil
	}

	remaining := targetLine
	if entryLine, byteOffset, ok := nearestOffset(documentFile, targetLine); ok {
		if _, err := f.Seek(byteOffset, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to offset table entry: %w", err)
		}
		remaining = targetLine - entryLine
	}

	r := bufio.NewReaderSize(f, 1024*1024)
	for i := 0; i < remaining; i++ {
		if _, err := r.ReadBytes('\n'); err != nil {
			return serrors.NewDataError(
				fmt.Sprintf("could not skip to line %d: file ends after %d lines", targetLine, targetLine-remaining+i),
				documentFile)
		}
	}

	// rewind the read-ahead the buffered reader consumed past the target line
	if _, err := f.Seek(int64(-r.Buffered()), io.SeekCurrent); err != nil {
		return fmt.Errorf("repositioning after skip: %w", err)
	}
	return nil
}

// nearestOffset returns the largest offset table entry at or below targetLine.
func nearestOffset(documentFile string, targetLine int) (int, int64, bool) {
	table, err := os.Open(OffsetTablePath(documentFile))
	if err != nil {
		return 0, 0, false
	}
	defer table.Close()

	var bestLine int
	var bestOffset int64
	var found bool
	scanner := bufio.NewScanner(table)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ";", 2)
		if len(parts) != 2 {
			return 0, 0, false
		}
		line, err1 := strconv.Atoi(parts[0])
		off, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		if line > targetLine {
			break
		}
		bestLine, bestOffset, found = line, off, true
	}
	return bestLine, bestOffset, found
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1024*1024)
	var lines int
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lines++
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
