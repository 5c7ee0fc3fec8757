package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ingest"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/params"
	"github.com/searchbench/sbench/internal/workload"
)

// Downloader fetches corpus files over HTTP(S) or from object storage.
type Downloader struct {
	// Offline forbids all network access.
	Offline bool

	// TestMode turns an HTTP 404 into the dedicated "workload does not
	// support test mode" diagnostic.
	TestMode bool

	// HTTPClient can be replaced in tests. Nil uses the default client.
	HTTPClient *http.Client
}

// Download fetches the file behind sourceURL (or baseURL/file-name) to
// targetPath and verifies its size.
func (d *Downloader) Download(baseURL, sourceURL, targetPath string, expectedSize *int64) error {
	fileName := filepath.Base(targetPath)

	dataURL := sourceURL
	if dataURL == "" {
		if baseURL == "" {
			return serrors.NewDataError("cannot download data because no base URL is provided", targetPath)
		}
		separator := "/"
		if strings.HasSuffix(baseURL, "/") {
			separator = ""
		}
		// joined manually: URL resolution does not understand s3 schemes
		dataURL = baseURL + separator + fileName
	}

	if d.Offline {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("cannot find %s; please disable offline mode and retry", targetPath), "")
	}

	if err := ioutils.EnsureDir(filepath.Dir(targetPath)); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	output.Info("downloading workload data", "url", dataURL, "target", targetPath)

	var err error
	if strings.HasPrefix(dataURL, "s3://") {
		err = d.downloadS3(dataURL, targetPath)
	} else {
		err = d.downloadHTTP(dataURL, targetPath)
	}
	if err != nil {
		return err
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("could not download %s to %s; verify data are available and check your "+
				"Internet connection", dataURL, targetPath), "")
	}
	if expectedSize != nil && info.Size() != *expectedSize {
		return serrors.NewDataError(
			fmt.Sprintf("%s is corrupt: downloaded %d bytes but %d bytes are expected",
				targetPath, info.Size(), *expectedSize), targetPath)
	}
	return nil
}

func (d *Downloader) downloadHTTP(dataURL, targetPath string) error {
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(dataURL)
	if err != nil {
		return serrors.NewDataError(
			fmt.Sprintf("could not download %s to %s: %v", dataURL, targetPath, err), targetPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && d.TestMode {
		return serrors.NewDataError(
			"this workload does not support test mode; ask the workload author to add it or disable "+
				"test mode and retry", targetPath)
	}
	if resp.StatusCode != http.StatusOK {
		return serrors.NewDataError(
			fmt.Sprintf("could not download %s to %s (HTTP status: %d)", dataURL, targetPath, resp.StatusCode),
			targetPath)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", targetPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return serrors.NewDataError(
			fmt.Sprintf("could not download %s to %s: %v", dataURL, targetPath, err), targetPath)
	}
	return nil
}

func (d *Downloader) downloadS3(dataURL, targetPath string) error {
	trimmed := strings.TrimPrefix(dataURL, "s3://")
	slash := strings.IndexByte(trimmed, '/')
	if slash < 0 {
		return serrors.NewDataError(fmt.Sprintf("invalid S3 URL %s", dataURL), targetPath)
	}
	bucket, key := trimmed[:slash], trimmed[slash+1:]

	ctx := context.Background()
	fetcher, err := ingest.NewS3Fetcher(ctx, bucket)
	if err != nil {
		return serrors.NewDataError(fmt.Sprintf("could not reach S3: %v", err), targetPath)
	}
	size, err := fetcher.Size(ctx, key)
	if err != nil {
		return serrors.NewDataError(
			fmt.Sprintf("could not download %s to %s: %v", dataURL, targetPath, err), targetPath)
	}
	data, err := fetcher.FetchRange(ctx, key, 0, size-1)
	if err != nil {
		return serrors.NewDataError(
			fmt.Sprintf("could not download %s to %s: %v", dataURL, targetPath, err), targetPath)
	}
	return os.WriteFile(targetPath, data, 0o644)
}

// Decompressor extracts corpus archives and verifies the result.
type Decompressor struct{}

// Decompress extracts archivePath next to itself and verifies that the
// resulting documentsPath has the declared uncompressed size.
func (d *Decompressor) Decompress(archivePath, documentsPath string, uncompressedSize *int64) error {
	output.Info("decompressing workload data", "archive", archivePath, "target", documentsPath)
	if err := ioutils.Decompress(archivePath, filepath.Dir(archivePath)); err != nil {
		return err
	}

	info, err := os.Stat(documentsPath)
	if err != nil {
		return serrors.NewDataError(
			fmt.Sprintf("decompressing %s did not create %s; check with the workload author whether "+
				"the compressed archive has been created correctly", archivePath, documentsPath),
			documentsPath)
	}
	if uncompressedSize != nil && info.Size() != *uncompressedSize {
		return serrors.NewDataError(
			fmt.Sprintf("%s is corrupt: extracted %d bytes but %d bytes are expected",
				documentsPath, info.Size(), *uncompressedSize), documentsPath)
	}
	return nil
}

// DocumentSetPreparator ensures each referenced corpus file is locally
// present, size-checked, and indexed by a file offset table.
type DocumentSetPreparator struct {
	WorkloadName string
	Downloader   *Downloader
	Decompressor *Decompressor

	// OffsetStride is the line stride of the generated offset tables.
	OffsetStride int
}

func (p *DocumentSetPreparator) isLocallyAvailable(fileName string) bool {
	info, err := os.Stat(fileName)
	return err == nil && info.Mode().IsRegular()
}

func (p *DocumentSetPreparator) hasExpectedSize(fileName string, expectedSize *int64) bool {
	if expectedSize == nil {
		return true
	}
	info, err := os.Stat(fileName)
	return err == nil && info.Size() == *expectedSize
}

// createOffsetTable builds (or verifies) the offset table of a document file
// and checks the line count against the declared document count.
func (p *DocumentSetPreparator) createOffsetTable(documentFilePath string, expectedLines int) error {
	linesRead, err := ioutils.PrepareOffsetTable(documentFilePath, p.OffsetStride)
	if err != nil {
		return err
	}
	if expectedLines > 0 && linesRead != expectedLines {
		// an inconsistent table must not survive for the next run
		if err := ioutils.RemoveOffsetTable(documentFilePath); err != nil {
			return err
		}
		return serrors.NewDataError(
			fmt.Sprintf("data in %s for workload %s are invalid: expected %d lines but got %d",
				documentFilePath, p.WorkloadName, expectedLines, linesRead), documentFilePath)
	}
	return nil
}

// PrepareDocumentSet prepares a document set locally.
//
// Precondition: the document set declares a compressed or an uncompressed
// file reference. Postcondition on success: the uncompressed file and its
// offset table exist locally with the expected sizes.
func (p *DocumentSetPreparator) PrepareDocumentSet(docs *workload.DocumentSet, dataRoot string) error {
	docPath := filepath.Join(dataRoot, docs.DocumentFile)
	var archivePath string
	if docs.HasCompressedCorpus() {
		archivePath = filepath.Join(dataRoot, docs.DocumentArchive)
	}

	for {
		if p.isLocallyAvailable(docPath) && p.hasExpectedSize(docPath, docs.UncompressedSizeInBytes) {
			break
		}
		if docs.HasCompressedCorpus() && p.isLocallyAvailable(archivePath) &&
			p.hasExpectedSize(archivePath, docs.CompressedSizeInBytes) {
			if err := p.Decompressor.Decompress(archivePath, docPath, docs.UncompressedSizeInBytes); err != nil {
				return err
			}
			continue
		}

		var targetPath string
		var expectedSize *int64
		switch {
		case docs.HasCompressedCorpus():
			targetPath = archivePath
			expectedSize = docs.CompressedSizeInBytes
		case docs.HasUncompressedCorpus():
			targetPath = docPath
			expectedSize = docs.UncompressedSizeInBytes
		default:
			// the schema rules this out
			return serrors.NewAssertionError("workload %s specifies documents but no corpus", p.WorkloadName)
		}

		if err := p.Downloader.Download(docs.BaseURL, docs.SourceURL, targetPath, expectedSize); err != nil {
			return err
		}
	}

	return p.createOffsetTable(docPath, docs.NumberOfLines())
}

// PrepareBundledDocumentSet prepares a document set shipped next to the
// workload file. It returns true when the files were found and prepared; a
// present file with a wrong size is an error, not a miss.
func (p *DocumentSetPreparator) PrepareBundledDocumentSet(docs *workload.DocumentSet, dataRoot string) (bool, error) {
	docPath := filepath.Join(dataRoot, docs.DocumentFile)
	var archivePath string
	if docs.HasCompressedCorpus() {
		archivePath = filepath.Join(dataRoot, docs.DocumentArchive)
	}

	for {
		if p.isLocallyAvailable(docPath) {
			if !p.hasExpectedSize(docPath, docs.UncompressedSizeInBytes) {
				return false, serrors.NewDataError(
					fmt.Sprintf("%s is present but does not have the expected size of %d bytes",
						docPath, *docs.UncompressedSizeInBytes), docPath)
			}
			if err := p.createOffsetTable(docPath, docs.NumberOfLines()); err != nil {
				return false, err
			}
			return true, nil
		}

		if docs.HasCompressedCorpus() && p.isLocallyAvailable(archivePath) {
			if !p.hasExpectedSize(archivePath, docs.CompressedSizeInBytes) {
				// a present archive with the wrong size hints at a stale or
				// miswritten workload definition
				return false, serrors.NewDataError(
					fmt.Sprintf("%s is present but does not have the expected size of %d bytes",
						archivePath, *docs.CompressedSizeInBytes), archivePath)
			}
			if err := p.Decompressor.Decompress(archivePath, docPath, docs.UncompressedSizeInBytes); err != nil {
				return false, err
			}
			continue
		}
		return false, nil
	}
}

// UsedCorpora returns the corpora actually referenced by an operation of the
// selected test procedure, with document sets unioned per corpus name.
func UsedCorpora(ctx *params.ExecutionContext, w *workload.Workload) ([]*workload.DocumentCorpus, error) {
	if len(w.Corpora) == 0 {
		return nil, nil
	}
	procedure := w.SelectedTestProcedureOrDefault()
	if procedure == nil {
		return nil, nil
	}

	merged := make(map[string]*workload.DocumentCorpus)
	var order []string
	for _, task := range procedure.LeafTasks() {
		source, err := OperationParameters(ctx, w, task)
		if err != nil {
			return nil, err
		}
		carrier, ok := source.(interface {
			Corpora() []*workload.DocumentCorpus
		})
		if !ok {
			continue
		}
		for _, corpus := range carrier.Corpora() {
			if existing, found := merged[corpus.Name]; found {
				union, err := existing.Union(corpus)
				if err != nil {
					return nil, err
				}
				merged[corpus.Name] = union
			} else {
				merged[corpus.Name] = corpus
				order = append(order, corpus.Name)
			}
		}
	}

	result := make([]*workload.DocumentCorpus, 0, len(order))
	for _, name := range order {
		result = append(result, merged[name])
	}
	return result, nil
}

// OperationParameters creates the parameter source of a task, honoring an
// explicitly named param-source.
func OperationParameters(ctx *params.ExecutionContext, w *workload.Workload, task *workload.Task) (params.Source, error) {
	op := task.Operation
	if op.ParamSource != "" {
		return ctx.Registry.SourceForName(ctx, op.ParamSource, w, op.Params)
	}
	return ctx.Registry.SourceForOperation(ctx, op.Type, w, op.Params, task.Name)
}

// DefaultPreparatorProcessor resolves local presence of every document set
// of every corpus the selected test procedure references.
type DefaultPreparatorProcessor struct {
	Ctx          *params.ExecutionContext
	Preparator   *DocumentSetPreparator
	WorkloadRoot string
}

// OnAfterLoadWorkload implements Processor as a no-op; preparation happens
// in the prepare phase.
func (p *DefaultPreparatorProcessor) OnAfterLoadWorkload(*workload.Workload) error { return nil }

// OnPrepareWorkload implements Preparer: it downloads, decompresses, and
// indexes each referenced document set, then rewrites its file references to
// absolute paths for the readers.
func (p *DefaultPreparatorProcessor) OnPrepareWorkload(w *workload.Workload, dataRootDir string) error {
	corpora, err := UsedCorpora(p.Ctx, w)
	if err != nil {
		return err
	}
	for _, corpus := range corpora {
		if corpus.IsStreaming() {
			// streamed corpora are produced lazily; nothing to prepare
			continue
		}
		dataRoot := filepath.Join(dataRootDir, w.Name, corpus.Name)
		for _, docs := range corpus.Documents {
			if !docs.IsBulk() {
				continue
			}
			// attempt the bundled layout next to the workload first
			if p.WorkloadRoot != "" {
				prepared, err := p.Preparator.PrepareBundledDocumentSet(docs, p.WorkloadRoot)
				if err != nil {
					return err
				}
				if prepared {
					rebaseDocumentSet(docs, p.WorkloadRoot)
					continue
				}
			}
			if err := p.Preparator.PrepareDocumentSet(docs, dataRoot); err != nil {
				return err
			}
			rebaseDocumentSet(docs, dataRoot)
		}
	}
	return nil
}

// rebaseDocumentSet makes the file references absolute so readers can open
// them regardless of the working directory.
func rebaseDocumentSet(docs *workload.DocumentSet, dataRoot string) {
	if docs.DocumentFile != "" && !filepath.IsAbs(docs.DocumentFile) {
		docs.DocumentFile = filepath.Join(dataRoot, docs.DocumentFile)
	}
	if docs.DocumentArchive != "" && !filepath.IsAbs(docs.DocumentArchive) {
		docs.DocumentArchive = filepath.Join(dataRoot, docs.DocumentArchive)
	}
}
