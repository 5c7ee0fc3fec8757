// Package ioutils provides corpus file helpers: archive handling, offset
// tables, and line-oriented access used by the bulk readers.
package ioutils

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v3"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// archiveExtensions are the archive formats recognized for corpus files.
var archiveExtensions = []string{".zip", ".bz2", ".gz", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".zst", ".lz4"}

// IsArchive reports whether the file name carries a recognized archive extension.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SplitExt splits a file name into (stem, extension), treating the compound
// extensions ".tar.gz" and ".tar.bz2" as a single extension.
func SplitExt(name string) (string, string) {
	lower := strings.ToLower(name)
	for _, compound := range []string{".tar.gz", ".tar.bz2"} {
		if strings.HasSuffix(lower, compound) {
			return name[:len(name)-len(compound)], name[len(name)-len(compound):]
		}
	}
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)], ext
}

// Decompress extracts archivePath into targetDir. Single-stream formats
// (bz2, gz, zst, lz4) produce one file named after the archive without its
// extension; zip and tar archives extract all entries.
func Decompress(archivePath, targetDir string) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".tar"),
		strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"),
		strings.HasSuffix(lower, ".tar.bz2"):
		return extractTar(archivePath, targetDir)
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, targetDir)
	case strings.HasSuffix(lower, ".bz2"):
		return extractStream(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case strings.HasSuffix(lower, ".gz"):
		return extractStream(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case strings.HasSuffix(lower, ".zst"):
		return extractStream(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return zstd.NewReader(r)
		})
	case strings.HasSuffix(lower, ".lz4"):
		return extractStream(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return lz4.NewReader(r), nil
		})
	default:
		return serrors.NewDataError(
			fmt.Sprintf("unsupported archive format for %s", archivePath), archivePath)
	}
}

func extractStream(archivePath, targetDir string, wrap func(io.Reader) (io.Reader, error)) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	decoder, err := wrap(in)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", archivePath, err)
	}
	if closer, ok := decoder.(io.Closer); ok {
		defer closer.Close()
	}

	stem, _ := SplitExt(filepath.Base(archivePath))
	out, err := os.Create(filepath.Join(targetDir, stem))
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, decoder); err != nil {
		return fmt.Errorf("decompressing %s: %w", archivePath, err)
	}
	return nil
}

func extractZip(archivePath, targetDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractZipEntry(f, targetDir); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, targetDir string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	// zip entries may carry paths; corpus archives hold a single flat entry.
	target := filepath.Join(targetDir, filepath.Base(f.Name))
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func extractTar(archivePath, targetDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	var stream io.Reader = in
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("reading archive %s: %w", archivePath, err)
		}
		defer gz.Close()
		stream = gz
	case strings.HasSuffix(lower, ".tar.bz2"):
		stream = bzip2.NewReader(in)
	}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar archive %s: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := filepath.Join(targetDir, filepath.Base(hdr.Name))
		out, err := os.Create(target)
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		out.Close()
	}
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
