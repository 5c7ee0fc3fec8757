// Package dataset reads vector datasets used by the vector-search and
// vector-bulk parameter sources. Two formats are supported: self-describing
// HDF5 files in the ann-benchmarks layout, and the flat binary "bigann"
// family with an 8-byte (rows, row_length) header.
package dataset

import (
	"fmt"
	"strings"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// Context tells a reader how a dataset will be used, which selects the HDF5
// group to read and the expected element type.
type Context int

// Dataset contexts.
const (
	ContextIndex Context = iota + 1
	ContextQuery
	ContextNeighbors
	ContextParents
	ContextAttributes
)

// HDF5 group names per context.
func (c Context) hdf5Group() (string, error) {
	switch c {
	case ContextIndex:
		return "train", nil
	case ContextQuery:
		return "test", nil
	case ContextNeighbors:
		return "neighbors", nil
	case ContextParents:
		return "parents", nil
	case ContextAttributes:
		return "attributes", nil
	default:
		return "", fmt.Errorf("unsupported dataset context %d", c)
	}
}

// Format names.
const (
	FormatHDF5   = "hdf5"
	FormatBigANN = "bigann"
)

// DataSet reads rows from a vector dataset. Implementations are positioned
// readers; Read advances the position, Seek and Reset move it.
type DataSet interface {
	// Read returns up to chunkSize rows, or nil at the end of the dataset.
	Read(chunkSize int) ([][]float32, error)

	// Seek moves the reader to the given row offset.
	Seek(offset int) error

	// Size returns the number of rows.
	Size() (int, error)

	// Reset moves the reader back to the beginning.
	Reset() error

	// Close releases the underlying file.
	Close() error
}

// Get returns a DataSet for the given format, path, and context.
func Get(format, path string, context Context) (DataSet, error) {
	switch format {
	case FormatHDF5:
		return newHDF5DataSet(path, context)
	case FormatBigANN:
		return newBigANNDataSet(path)
	default:
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("invalid data set format %q", format),
			"supported formats are hdf5 and bigann")
	}
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}
