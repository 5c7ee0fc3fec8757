package params

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

// IDConflict determines which id conflicts to simulate during indexing.
type IDConflict int

// Conflict modes. Conflict simulation assumes each document in the corpus
// gets an id in [0, corpus size).
const (
	NoConflicts IDConflict = iota
	SequentialConflicts
	RandomConflicts
)

func parseIDConflicts(params map[string]any) (IDConflict, error) {
	switch v := stringParam(params, "conflicts", ""); v {
	case "":
		return NoConflicts, nil
	case "sequential":
		return SequentialConflicts, nil
	case "random":
		return RandomConflicts, nil
	default:
		return NoConflicts, serrors.NewSyntaxError(
			fmt.Sprintf("unknown 'conflicts' setting [%s]", v), "", "conflicts")
	}
}

// bulkSource validates the bulk operation parameters once per task and hands
// out the shared per-task partition source.
type bulkSource struct {
	partitionSource *bulkPartitionSource
}

// NewBulkSource builds the bulk ingest source.
func NewBulkSource(ctx *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	idConflicts, err := parseIDConflicts(params)
	if err != nil {
		return nil, err
	}
	if _, ok := params["data-streams"]; ok && idConflicts != NoConflicts {
		return nil, serrors.NewSyntaxError("'conflicts' cannot be used with 'data-streams'", "", "conflicts")
	}

	var conflictProbability, recency float64
	onConflict := ""
	if idConflicts != NoConflicts {
		conflictProbability, err = floatParam(params, "conflict-probability", 25, 0, 100, false)
		if err != nil {
			return nil, err
		}
		onConflict = stringParam(params, "on-conflict", "index")
		if onConflict != "index" && onConflict != "update" {
			return nil, serrors.NewSyntaxError(
				fmt.Sprintf("unknown 'on-conflict' setting [%s]", onConflict), "", "on-conflict")
		}
		recency, err = floatParam(params, "recency", 0, 0, 1, false)
		if err != nil {
			return nil, err
		}
	}

	corpora, err := usedCorpora(w, params)
	if err != nil {
		return nil, err
	}
	if len(corpora) == 0 {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("there is no document corpus definition for workload %s; "+
				"you must add at least one before making bulk requests", w.Name),
			"", "corpora")
	}

	for _, corpus := range corpora {
		for _, docs := range corpus.Documents {
			if docs.IncludesActionAndMetaData && idConflicts != NoConflicts {
				return nil, serrors.NewSyntaxError(
					fmt.Sprintf("cannot generate id conflicts as %s in document corpus %s already contains "+
						"an action and meta-data line", docs, corpus),
					"", "conflicts")
			}
		}
	}

	bulkSize, err := requiredIntParam(params, "bulk-size")
	if err != nil {
		return nil, err
	}
	if bulkSize <= 0 {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("'bulk-size' must be positive but was %d", bulkSize), "", "bulk-size")
	}

	batchSize, err := intParam(params, "batch-size", bulkSize)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("'batch-size' must be positive but was %d", batchSize), "", "batch-size")
	}
	if batchSize < bulkSize {
		return nil, serrors.NewSyntaxError(
			"'batch-size' must be greater than or equal to 'bulk-size'", "", "batch-size")
	}
	if batchSize%bulkSize != 0 {
		return nil, serrors.NewSyntaxError(
			"'batch-size' must be a multiple of 'bulk-size'", "", "batch-size")
	}

	ingestPercentage, err := floatParam(params, "ingest-percentage", 100, 0, 100, true)
	if err != nil {
		return nil, err
	}

	return &bulkSource{partitionSource: &bulkPartitionSource{
		ctx:                 ctx,
		corpora:             corpora,
		batchSize:           batchSize,
		bulkSize:            bulkSize,
		ingestPercentage:    ingestPercentage,
		idConflicts:         idConflicts,
		conflictProbability: conflictProbability,
		onConflict:          onConflict,
		recency:             recency,
		pipeline:            stringParam(params, "pipeline", ""),
		looped:              boolParam(params, "looped", false),
		originalParams:      params,
		streaming:           corpora[0].IsStreaming(),
		totalBulks:          1,
	}}, nil
}

// Partition implements Source by registering the client with the shared
// per-task partition source and returning it.
func (s *bulkSource) Partition(partitionIndex, totalPartitions int) (Source, error) {
	if err := s.partitionSource.register(partitionIndex, totalPartitions); err != nil {
		return nil, err
	}
	return s.partitionSource, nil
}

// Params implements Source.
func (s *bulkSource) Params() (map[string]any, error) {
	return nil, serrors.NewAssertionError("do not use a bulk parameter source without partitioning")
}

// Size implements Source.
func (s *bulkSource) Size() (int, bool) { return 0, false }

// Corpora returns the corpora this task ingests; the preparator uses it to
// decide what to download.
func (s *bulkSource) Corpora() []*workload.DocumentCorpus {
	return s.partitionSource.corpora
}

// usedCorpora resolves the corpora a bulk task works on: those named by the
// 'corpora' parameter (default: all), filtered down to bulk document sets
// matching the optional indices / data-streams parameters.
func usedCorpora(w *workload.Workload, params map[string]any) ([]*workload.DocumentCorpus, error) {
	var corpora []*workload.DocumentCorpus
	workloadCorpora := make([]string, 0, len(w.Corpora))
	for _, corpus := range w.Corpora {
		workloadCorpora = append(workloadCorpora, corpus.Name)
	}
	corporaNames := stringListParam(params, "corpora")
	if len(corporaNames) == 0 {
		corporaNames = workloadCorpora
	}

	for _, corpus := range w.Corpora {
		if !containsString(corporaNames, corpus.Name) {
			continue
		}
		filtered := corpus.Filter(workload.SourceFormatBulk,
			stringListParam(params, "indices"), stringListParam(params, "data-streams"))
		if filtered.IsStreaming() || filtered.NumberOfDocuments(workload.SourceFormatBulk) > 0 {
			corpora = append(corpora, filtered)
		}
	}

	if len(w.Corpora) > 0 && len(corpora) == 0 {
		return nil, serrors.NewAssertionError(
			"the provided corpus %v does not match any of the corpora %v", corporaNames, workloadCorpora)
	}
	return corpora, nil
}

// bulkPartitionSource is shared by all clients of one bulk task. Client
// registration happens through Partition; the actual reader pipeline is
// initialized lazily on the first Params call, once the full partition range
// is known.
type bulkPartitionSource struct {
	ctx     *ExecutionContext
	corpora []*workload.DocumentCorpus

	batchSize           int
	bulkSize            int
	ingestPercentage    float64
	idConflicts         IDConflict
	conflictProbability float64
	onConflict          string
	recency             float64
	pipeline            string
	looped              bool
	originalParams      map[string]any
	streaming           bool

	partitions      []int
	totalPartitions int

	currentBulk int
	totalBulks  int
	stream      *bulkStream
}

func (s *bulkPartitionSource) register(partitionIndex, totalPartitions int) error {
	if s.totalPartitions == 0 {
		s.totalPartitions = totalPartitions
	} else if s.totalPartitions != totalPartitions {
		return serrors.NewAssertionError(
			"total partitions is expected to be [%d] but was [%d]", s.totalPartitions, totalPartitions)
	}
	s.partitions = append(s.partitions, partitionIndex)
	return nil
}

// Partition implements Source; further partition calls keep registering.
func (s *bulkPartitionSource) Partition(partitionIndex, totalPartitions int) (Source, error) {
	if err := s.register(partitionIndex, totalPartitions); err != nil {
		return nil, err
	}
	return s, nil
}

// Size implements Source.
func (s *bulkPartitionSource) Size() (int, bool) {
	if s.streaming {
		return 0, false
	}
	return s.totalBulks, true
}

// Params implements Source. It yields one bulk request per call and
// terminates (or loops) when the configured ingest percentage is reached.
func (s *bulkPartitionSource) Params() (map[string]any, error) {
	if s.currentBulk == 0 {
		if err := s.initInternalParams(); err != nil {
			return nil, err
		}
	}
	// the reader pipeline always reads all files; the bulk counter ensures
	// early termination when an ingest percentage is configured
	if !s.streaming && s.currentBulk == s.totalBulks {
		if !s.looped {
			return nil, serrors.ErrExhausted
		}
		s.currentBulk = 0
		if err := s.initInternalParams(); err != nil {
			return nil, err
		}
	}
	s.currentBulk++
	return s.stream.next()
}

func (s *bulkPartitionSource) initInternalParams() error {
	if len(s.partitions) == 0 {
		return serrors.NewAssertionError("no partitions registered on bulk parameter source")
	}
	// the registered partitions form a continuous range of client ids
	sort.Ints(s.partitions)
	startIndex := s.partitions[0]
	endIndex := s.partitions[len(s.partitions)-1]

	readers, err := createReaders(s.ctx, s.totalPartitions, startIndex, endIndex, s.corpora,
		s.batchSize, s.bulkSize, s.idConflicts, s.conflictProbability, s.onConflict, s.recency)
	if err != nil {
		return err
	}
	s.stream = &bulkStream{
		readers:        readers,
		pipeline:       s.pipeline,
		originalParams: s.originalParams,
	}

	if !s.streaming {
		allBulks := numberOfBulks(s.corpora, startIndex, endIndex, s.totalPartitions, s.bulkSize)
		s.totalBulks = int(math.Ceil(float64(allBulks) * s.ingestPercentage / 100))
	}
	return nil
}

// TaskProgress implements ProgressReporter. File-backed tasks report percent
// complete; streaming tasks report consumed gigabytes.
func (s *bulkPartitionSource) TaskProgress() (float64, string) {
	if s.streaming {
		if s.ctx.Ingest == nil {
			return 0, "GB"
		}
		consumed := float64(s.ctx.Ingest.ReadIndex()) * float64(s.ctx.Ingest.ChunkSizeBytes())
		return consumed / 1e9, "GB"
	}
	return float64(s.currentBulk) / float64(s.totalBulks), "%"
}

// bounds calculates the start offset and document count for a range of
// clients. Rounding at the partition boundaries guarantees that the
// partitions cover the corpus exactly, with no gap and no overlap.
func bounds(totalDocs, startClientIndex, endClientIndex, numClients int, includesActionAndMetaData bool) (offsetLines, docs, lines int) {
	linesPerDoc := 1
	if includesActionAndMetaData {
		linesPerDoc = 2
	}

	docsPerClient := float64(totalDocs) / float64(numClients)

	startOffsetDocs := int(math.Round(docsPerClient * float64(startClientIndex)))
	endOffsetDocs := int(math.Round(docsPerClient * float64(endClientIndex+1)))

	offsetLines = startOffsetDocs * linesPerDoc
	docs = endOffsetDocs - startOffsetDocs
	lines = docs * linesPerDoc
	return offsetLines, docs, lines
}

// numberOfBulks returns the number of bulk operations the given client range
// will issue.
func numberOfBulks(corpora []*workload.DocumentCorpus, startPartitionIndex, endPartitionIndex, totalPartitions, bulkSize int) int {
	var bulks int
	for _, corpus := range corpora {
		for _, docs := range corpus.Documents {
			_, numDocs, _ := bounds(docs.NumberOfDocuments, startPartitionIndex, endPartitionIndex,
				totalPartitions, docs.IncludesActionAndMetaData)
			bulks += numDocs / bulkSize
			if numDocs%bulkSize > 0 {
				bulks++
			}
		}
	}
	return bulks
}

// buildConflictingIDs pre-generates the id pool of a client partition. Each
// client indexes its own offset range so conflicts never cross clients.
func buildConflictingIDs(conflicts IDConflict, docsToIndex, offset int, rng *rand.Rand) []string {
	if conflicts == NoConflicts {
		return nil
	}
	ids := make([]string, docsToIndex)
	for i := range ids {
		ids[i] = fmt.Sprintf("%010d", offset+i)
	}
	if conflicts == RandomConflicts {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids
}

// bulkStream turns the readers of a client range into the per-bulk parameter
// records handed to the bulk runner.
type bulkStream struct {
	readers        []*docReader
	pipeline       string
	originalParams map[string]any

	current      int
	opened       bool
	batch        []bulkItem
	batchIndex   int
	batchTarget  string
	batchDocType string
}

func (s *bulkStream) next() (map[string]any, error) {
	for {
		if s.batchIndex < len(s.batch) {
			item := s.batch[s.batchIndex]
			s.batchIndex++
			return s.bulkParams(item), nil
		}

		if s.current >= len(s.readers) {
			return nil, serrors.ErrExhausted
		}
		reader := s.readers[s.current]
		if !s.opened {
			if err := reader.open(); err != nil {
				return nil, err
			}
			s.opened = true
		}

		target, docType, batch, err := reader.next()
		if err == serrors.ErrExhausted {
			reader.close()
			s.current++
			s.opened = false
			continue
		}
		if err != nil {
			return nil, err
		}
		s.batch = batch
		s.batchIndex = 0
		s.batchTarget = target
		s.batchDocType = docType
	}
}

func (s *bulkStream) bulkParams(item bulkItem) map[string]any {
	p := copyParams(s.originalParams)
	p["index"] = s.batchTarget
	p["type"] = s.batchDocType
	// the action and meta-data line is always present: either the source
	// file carries it or the reader injected it
	p["action-metadata-present"] = true
	p["body"] = item.body
	p["bulk-size"] = item.docs
	p["unit"] = "docs"
	if s.pipeline != "" {
		p["pipeline"] = s.pipeline
	}
	return p
}
