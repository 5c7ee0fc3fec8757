package dataset

import (
	"fmt"

	"gonum.org/v1/hdf5"

	serrors "github.com/searchbench/sbench/internal/errors"
)

// hdf5DataSet reads a dataset group from an ann-benchmarks style HDF5 file
// (train / test / neighbors, plus parents and attributes for the nested and
// attribute-annotated variants).
type hdf5DataSet struct {
	path    string
	group   string
	file    *hdf5.File
	dset    *hdf5.Dataset
	rows    int
	cols    int
	current int
}

func newHDF5DataSet(path string, context Context) (DataSet, error) {
	group, err := context.hdf5Group()
	if err != nil {
		return nil, err
	}

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("opening HDF5 file: %v", err), path)
	}

	dset, err := f.OpenDataset(group)
	if err != nil {
		f.Close()
		return nil, serrors.NewDataError(
			fmt.Sprintf("HDF5 file does not contain dataset %q: %v", group, err), path)
	}

	space := dset.Space()
	dims, _, err := space.SimpleExtentDims()
	space.Close()
	if err != nil {
		dset.Close()
		f.Close()
		return nil, serrors.NewDataError(fmt.Sprintf("reading HDF5 extents: %v", err), path)
	}
	if len(dims) == 0 || len(dims) > 2 {
		dset.Close()
		f.Close()
		return nil, serrors.NewDataError(
			fmt.Sprintf("dataset %q must be one- or two-dimensional but has %d dimensions", group, len(dims)), path)
	}

	d := &hdf5DataSet{
		path:  path,
		group: group,
		file:  f,
		dset:  dset,
		rows:  int(dims[0]),
		cols:  1,
	}
	if len(dims) == 2 {
		d.cols = int(dims[1])
	}
	return d, nil
}

// Read implements DataSet.
func (d *hdf5DataSet) Read(chunkSize int) ([][]float32, error) {
	if d.current >= d.rows {
		return nil, nil
	}

	end := d.current + chunkSize
	if end > d.rows {
		end = d.rows
	}
	count := end - d.current

	flat := make([]float32, count*d.cols)
	if err := d.readSubset(flat, d.current, count); err != nil {
		return nil, err
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vectors[i] = flat[i*d.cols : (i+1)*d.cols]
	}
	d.current = end
	return vectors, nil
}

func (d *hdf5DataSet) readSubset(dst []float32, offset, count int) error {
	filespace := d.dset.Space()
	defer filespace.Close()

	start := []uint{uint(offset), 0}
	blocks := []uint{uint(count), uint(d.cols)}
	memDims := []uint{uint(count), uint(d.cols)}
	if d.cols == 1 {
		// one-dimensional datasets (parents, flat neighbors)
		start = start[:1]
		blocks = blocks[:1]
		memDims = memDims[:1]
	}

	if err := filespace.SelectHyperslab(start, nil, blocks, nil); err != nil {
		return serrors.NewDataError(fmt.Sprintf("selecting HDF5 hyperslab: %v", err), d.path)
	}

	memspace, err := hdf5.CreateSimpleDataspace(memDims, nil)
	if err != nil {
		return serrors.NewDataError(fmt.Sprintf("creating HDF5 memory space: %v", err), d.path)
	}
	defer memspace.Close()

	if err := d.dset.ReadSubset(&dst, memspace, filespace); err != nil {
		return serrors.NewDataError(fmt.Sprintf("reading HDF5 subset: %v", err), d.path)
	}
	return nil
}

// Seek implements DataSet.
func (d *hdf5DataSet) Seek(offset int) error {
	if offset < 0 {
		return serrors.NewAssertionError("offset must be greater than or equal to 0")
	}
	if offset >= d.rows {
		return serrors.NewAssertionError("offset %d must be less than the data set size %d", offset, d.rows)
	}
	d.current = offset
	return nil
}

// Size implements DataSet.
func (d *hdf5DataSet) Size() (int, error) { return d.rows, nil }

// Reset implements DataSet.
func (d *hdf5DataSet) Reset() error {
	d.current = 0
	return nil
}

// Close implements DataSet.
func (d *hdf5DataSet) Close() error {
	if d.dset != nil {
		d.dset.Close()
	}
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// StringAttributes reads the attribute columns of an HDF5 dataset as strings.
// Only the HDF5 format carries attribute data.
type StringAttributes struct {
	ds      *hdf5DataSet
	current int
}

// OpenStringAttributes opens the attributes group of an HDF5 file.
func OpenStringAttributes(path string) (*StringAttributes, error) {
	ds, err := newHDF5DataSet(path, ContextAttributes)
	if err != nil {
		return nil, err
	}
	return &StringAttributes{ds: ds.(*hdf5DataSet)}, nil
}

// Read returns up to chunkSize attribute rows.
func (a *StringAttributes) Read(chunkSize int) ([][]string, error) {
	if a.current >= a.ds.rows {
		return nil, nil
	}
	end := a.current + chunkSize
	if end > a.ds.rows {
		end = a.ds.rows
	}
	count := end - a.current

	flat := make([]string, count*a.ds.cols)
	filespace := a.ds.dset.Space()
	defer filespace.Close()

	if err := filespace.SelectHyperslab([]uint{uint(a.current), 0}, nil, []uint{uint(count), uint(a.ds.cols)}, nil); err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("selecting HDF5 hyperslab: %v", err), a.ds.path)
	}
	memspace, err := hdf5.CreateSimpleDataspace([]uint{uint(count), uint(a.ds.cols)}, nil)
	if err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("creating HDF5 memory space: %v", err), a.ds.path)
	}
	defer memspace.Close()

	if err := a.ds.dset.ReadSubset(&flat, memspace, filespace); err != nil {
		return nil, serrors.NewDataError(fmt.Sprintf("reading HDF5 attributes: %v", err), a.ds.path)
	}

	rows := make([][]string, count)
	for i := range rows {
		rows[i] = flat[i*a.ds.cols : (i+1)*a.ds.cols]
	}
	a.current = end
	return rows, nil
}

// Seek moves the attribute reader to the given row offset.
func (a *StringAttributes) Seek(offset int) error {
	if offset < 0 || offset >= a.ds.rows {
		return serrors.NewAssertionError("attribute offset %d out of range [0, %d)", offset, a.ds.rows)
	}
	a.current = offset
	return nil
}

// Close releases the underlying file.
func (a *StringAttributes) Close() error { return a.ds.Close() }
