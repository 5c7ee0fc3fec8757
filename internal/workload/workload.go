// Package workload defines the typed in-memory representation of a benchmark
// workload: indices, data streams, templates, document corpora, operations,
// and test procedures. Instances are built by the loader, rewritten by the
// workload processors, and treated as immutable afterwards.
package workload

import (
	"fmt"
	"strings"
)

// SourceFormatBulk is the only corpus source format currently supported.
const SourceFormatBulk = "bulk"

// Workload is the complete benchmark description.
type Workload struct {
	Name                string
	Description         string
	Meta                map[string]any
	Parameters          map[string]any
	Indices             []*Index
	DataStreams         []*DataStream
	Templates           []*IndexTemplate
	ComposableTemplates []*IndexTemplate
	ComponentTemplates  []*ComponentTemplate
	Corpora             []*DocumentCorpus
	TestProcedures      []*TestProcedure
}

func (w *Workload) String() string {
	return w.Name
}

// SelectedTestProcedure returns the procedure explicitly selected for this
// run, or nil if none is.
func (w *Workload) SelectedTestProcedure() *TestProcedure {
	for _, tp := range w.TestProcedures {
		if tp.Selected {
			return tp
		}
	}
	return nil
}

// DefaultTestProcedure returns the procedure marked default, or nil.
func (w *Workload) DefaultTestProcedure() *TestProcedure {
	for _, tp := range w.TestProcedures {
		if tp.Default {
			return tp
		}
	}
	return nil
}

// SelectedTestProcedureOrDefault returns the selected procedure falling back
// to the default one.
func (w *Workload) SelectedTestProcedureOrDefault() *TestProcedure {
	if tp := w.SelectedTestProcedure(); tp != nil {
		return tp
	}
	return w.DefaultTestProcedure()
}

// FindTestProcedure returns the procedure with the given name.
func (w *Workload) FindTestProcedure(name string) (*TestProcedure, bool) {
	for _, tp := range w.TestProcedures {
		if tp.Name == name {
			return tp, true
		}
	}
	return nil, false
}

// Index is a concrete index declared by the workload, with an optional
// rendered body.
type Index struct {
	Name  string
	Body  map[string]any
	Types []string
}

func (i *Index) String() string { return i.Name }

// DataStream is a data stream declared by the workload.
type DataStream struct {
	Name string
}

func (d *DataStream) String() string { return d.Name }

// IndexTemplate covers index templates and composable templates.
type IndexTemplate struct {
	Name                  string
	Pattern               string
	Content               map[string]any
	DeleteMatchingIndices bool
}

// ComponentTemplate is a building block referenced by composable templates.
type ComponentTemplate struct {
	Name    string
	Content map[string]any
}

// DocumentCorpus is a named collection of document sets.
type DocumentCorpus struct {
	Name string
	Meta map[string]any

	// StreamingIngestion names the object-storage flavor ("aws") when the
	// corpus is produced lazily through the streaming pipeline; empty for
	// regular file-backed corpora.
	StreamingIngestion string

	Documents []*DocumentSet
}

func (c *DocumentCorpus) String() string { return c.Name }

// IsStreaming reports whether the corpus uses the streaming ingestion pipeline.
func (c *DocumentCorpus) IsStreaming() bool { return c.StreamingIngestion != "" }

// Filter returns a copy of the corpus holding only document sets matching the
// source format and, when non-empty, the target index / data stream lists.
func (c *DocumentCorpus) Filter(sourceFormat string, targetIndices, targetDataStreams []string) *DocumentCorpus {
	filtered := &DocumentCorpus{
		Name:               c.Name,
		Meta:               c.Meta,
		StreamingIngestion: c.StreamingIngestion,
	}
	for _, docs := range c.Documents {
		if sourceFormat != "" && docs.SourceFormat != sourceFormat {
			continue
		}
		if len(targetIndices) > 0 && !contains(targetIndices, docs.TargetIndex) {
			continue
		}
		if len(targetDataStreams) > 0 && !contains(targetDataStreams, docs.TargetDataStream) {
			continue
		}
		filtered.Documents = append(filtered.Documents, docs)
	}
	return filtered
}

// Union merges the document sets of other into a copy of this corpus,
// dropping duplicates. Both corpora must have the same name.
func (c *DocumentCorpus) Union(other *DocumentCorpus) (*DocumentCorpus, error) {
	if c.Name != other.Name {
		return nil, fmt.Errorf("cannot union document corpus %s with %s", c.Name, other.Name)
	}
	merged := &DocumentCorpus{
		Name:               c.Name,
		Meta:               c.Meta,
		StreamingIngestion: c.StreamingIngestion,
		Documents:          append([]*DocumentSet(nil), c.Documents...),
	}
	for _, docs := range other.Documents {
		duplicate := false
		for _, existing := range merged.Documents {
			if existing.sameIdentity(docs) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			merged.Documents = append(merged.Documents, docs)
		}
	}
	return merged, nil
}

// NumberOfDocuments sums the document counts of all sets in the given format.
func (c *DocumentCorpus) NumberOfDocuments(sourceFormat string) int {
	var total int
	for _, docs := range c.Documents {
		if docs.SourceFormat == sourceFormat {
			total += docs.NumberOfDocuments
		}
	}
	return total
}

// DocumentSet is one (compressed?, uncompressed) file pair within a corpus.
type DocumentSet struct {
	SourceFormat string

	// DocumentFile is the uncompressed file name; DocumentArchive the
	// compressed one, empty when the corpus ships uncompressed only.
	DocumentFile    string
	DocumentArchive string

	// BaseURL is the download location prefix; SourceURL, when set, is the
	// complete download location and takes precedence.
	BaseURL   string
	SourceURL string

	IncludesActionAndMetaData bool

	NumberOfDocuments int

	// Sizes are nil when unknown (e.g. after the test-mode rewrite).
	CompressedSizeInBytes   *int64
	UncompressedSizeInBytes *int64

	// Exactly one of TargetIndex / TargetDataStream is set unless the file
	// carries its own action and meta-data lines.
	TargetIndex      string
	TargetType       string
	TargetDataStream string

	Meta map[string]any
}

func (d *DocumentSet) String() string {
	if d.DocumentArchive != "" {
		return d.DocumentArchive
	}
	return d.DocumentFile
}

// IsBulk reports whether the set is in bulk source format.
func (d *DocumentSet) IsBulk() bool { return d.SourceFormat == SourceFormatBulk }

// HasCompressedCorpus reports whether a compressed archive is declared.
func (d *DocumentSet) HasCompressedCorpus() bool { return d.DocumentArchive != "" }

// HasUncompressedCorpus reports whether an uncompressed file is declared.
func (d *DocumentSet) HasUncompressedCorpus() bool { return d.DocumentFile != "" }

// LinesPerDocument is 2 when every document carries its own action and
// meta-data line, 1 otherwise.
func (d *DocumentSet) LinesPerDocument() int {
	if d.IncludesActionAndMetaData {
		return 2
	}
	return 1
}

// NumberOfLines is the total line count of the uncompressed file.
func (d *DocumentSet) NumberOfLines() int {
	return d.NumberOfDocuments * d.LinesPerDocument()
}

func (d *DocumentSet) sameIdentity(other *DocumentSet) bool {
	return d.DocumentFile == other.DocumentFile &&
		d.TargetIndex == other.TargetIndex &&
		d.TargetDataStream == other.TargetDataStream
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// CorporaNames returns the names of all given corpora, for error messages.
func CorporaNames(corpora []*DocumentCorpus) string {
	names := make([]string, 0, len(corpora))
	for _, c := range corpora {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
