package dataset

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/searchbench/sbench/internal/errors"
)

func writeFbin(t *testing.T, rows, rowLength int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.fbin")
	buf := make([]byte, bigannHeaderLength+rows*rowLength*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rowLength))
	for i := 0; i < rows*rowLength; i++ {
		binary.LittleEndian.PutUint32(buf[bigannHeaderLength+i*4:], math.Float32bits(float32(i)))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func writeGroundTruth(t *testing.T, rows, k int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neighbors.bin")
	buf := make([]byte, bigannHeaderLength+2*rows*k*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k))
	for i := 0; i < rows*k; i++ {
		// ids block
		binary.LittleEndian.PutUint32(buf[bigannHeaderLength+i*4:], uint32(i*7))
		// distances block
		binary.LittleEndian.PutUint32(buf[bigannHeaderLength+rows*k*4+i*4:], math.Float32bits(float32(i)*0.5))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestBigANN_ReadAll(t *testing.T) {
	path := writeFbin(t, 10, 3)

	ds, err := Get(FormatBigANN, path, ContextIndex)
	require.NoError(t, err)
	defer ds.Close()

	size, err := ds.Size()
	require.NoError(t, err)
	assert.Equal(t, 10, size)

	first, err := ds.Read(4)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, []float32{0, 1, 2}, first[0])
	assert.Equal(t, []float32{9, 10, 11}, first[3])

	rest, err := ds.Read(100)
	require.NoError(t, err)
	assert.Len(t, rest, 6)

	done, err := ds.Read(1)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestBigANN_SeekAndReset(t *testing.T) {
	path := writeFbin(t, 10, 2)

	ds, err := Get(FormatBigANN, path, ContextIndex)
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.Seek(7))
	rows, err := ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{14, 15}, rows[0])

	require.NoError(t, ds.Reset())
	rows, err = ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, rows[0])

	assert.Error(t, ds.Seek(-1))
	assert.Error(t, ds.Seek(10))
}

func TestBigANN_GroundTruth(t *testing.T) {
	path := writeGroundTruth(t, 4, 5)

	ds, err := Get(FormatBigANN, path, ContextNeighbors)
	require.NoError(t, err)
	defer ds.Close()

	size, err := ds.Size()
	require.NoError(t, err)
	assert.Equal(t, 4, size)

	rows, err := ds.Read(1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []float32{0, 7, 14, 21, 28}, rows[0])
}

func TestBigANN_SizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.fbin")
	buf := make([]byte, bigannHeaderLength+3)
	binary.LittleEndian.PutUint32(buf[0:4], 10)
	binary.LittleEndian.PutUint32(buf[4:8], 4)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := Get(FormatBigANN, path, ContextIndex)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrData)
}

func TestBigANN_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))

	_, err := Get(FormatBigANN, path, ContextIndex)
	assert.Error(t, err)
}

func TestGet_UnknownFormat(t *testing.T) {
	_, err := Get("parquet", "whatever", ContextIndex)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrSystemSetup)
}
