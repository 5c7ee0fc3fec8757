package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	serrors "github.com/searchbench/sbench/internal/errors"
)

const bigannHeaderLength = 8

// bigann file extensions.
const (
	extFbin  = "fbin"  // float32 vectors
	extU8bin = "u8bin" // uint8 vectors
	extBin   = "bin"   // ground truth: uint32 ids followed by float32 distances
)

// bigANNDataSet reads the flat binary vector formats of the Big ANN
// benchmarks: a little-endian (rows, row_length) header followed by
// rows × row_length values. The ground-truth variant (.bin) carries two full
// blocks — neighbor ids then distances — and only the id block is read.
type bigANNDataSet struct {
	path        string
	file        *os.File
	rows        int
	rowLength   int
	bytesPerNum int
	groundTruth bool
	current     int
}

func newBigANNDataSet(path string) (DataSet, error) {
	if path == "" {
		return nil, serrors.NewSystemSetupError("bigann dataset path is empty", "")
	}

	d := &bigANNDataSet{path: path}
	switch extensionOf(path) {
	case extFbin:
		d.bytesPerNum = 4
	case extU8bin:
		d.bytesPerNum = 1
	case extBin:
		d.bytesPerNum = 4
		d.groundTruth = true
	default:
		return nil, serrors.NewDataError(
			fmt.Sprintf("unknown extension %q, supported extensions are: fbin, u8bin, bin", extensionOf(path)),
			path)
	}

	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *bigANNDataSet) open() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("reading dataset size: %w", err)
	}
	if info.Size() < bigannHeaderLength {
		f.Close()
		return serrors.NewDataError(
			fmt.Sprintf("invalid file: file size cannot be less than %d bytes", bigannHeaderLength), d.path)
	}

	var header [bigannHeaderLength]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return fmt.Errorf("reading dataset header: %w", err)
	}
	d.rows = int(binary.LittleEndian.Uint32(header[0:4]))
	d.rowLength = int(binary.LittleEndian.Uint32(header[4:8]))

	payload := int64(d.rows) * int64(d.rowLength) * int64(d.bytesPerNum)
	if d.groundTruth {
		// ids block plus an equally sized distances block
		payload *= 2
	}
	if info.Size()-bigannHeaderLength != payload {
		f.Close()
		return serrors.NewDataError(
			"invalid file: size does not match rows, dimension and bytes per value", d.path)
	}

	d.file = f
	d.current = 0
	return nil
}

// Read implements DataSet.
func (d *bigANNDataSet) Read(chunkSize int) ([][]float32, error) {
	if d.current >= d.rows {
		return nil, nil
	}

	end := d.current + chunkSize
	if end > d.rows {
		end = d.rows
	}

	rowBytes := d.rowLength * d.bytesPerNum
	buf := make([]byte, (end-d.current)*rowBytes)
	if _, err := io.ReadFull(d.file, buf); err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("reading vectors: %v", err), d.path)
	}

	vectors := make([][]float32, end-d.current)
	for i := range vectors {
		row := make([]float32, d.rowLength)
		base := i * rowBytes
		for j := 0; j < d.rowLength; j++ {
			switch d.bytesPerNum {
			case 1:
				row[j] = float32(buf[base+j])
			case 4:
				raw := binary.LittleEndian.Uint32(buf[base+j*4:])
				if d.groundTruth {
					row[j] = float32(raw)
				} else {
					row[j] = math.Float32frombits(raw)
				}
			}
		}
		vectors[i] = row
	}
	d.current = end
	return vectors, nil
}

// Seek implements DataSet.
func (d *bigANNDataSet) Seek(offset int) error {
	if offset < 0 {
		return serrors.NewAssertionError("offset must be greater than or equal to 0")
	}
	if offset >= d.rows {
		return serrors.NewAssertionError("offset %d must be less than the data set size %d", offset, d.rows)
	}

	byteOffset := int64(bigannHeaderLength) + int64(d.rowLength)*int64(d.bytesPerNum)*int64(offset)
	if _, err := d.file.Seek(byteOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking dataset: %w", err)
	}
	d.current = offset
	return nil
}

// Size implements DataSet.
func (d *bigANNDataSet) Size() (int, error) { return d.rows, nil }

// Reset implements DataSet.
func (d *bigANNDataSet) Reset() error {
	if _, err := d.file.Seek(bigannHeaderLength, io.SeekStart); err != nil {
		return fmt.Errorf("resetting dataset: %w", err)
	}
	d.current = 0
	return nil
}

// Close implements DataSet.
func (d *bigANNDataSet) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
