package params

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/workload"
)

// recencySlope controls how sharply a recency > 0 biases conflicting-id
// selection towards recently emitted ids.
const recencySlope = 30

// actionMetaData generates the action and meta-data line preceding each
// document. It is constant when no id conflicts are configured and stateful
// otherwise, tracking the ids emitted so far.
type actionMetaData struct {
	indexWithID  string
	updateWithID string
	indexNoID    string
	createNoID   string

	conflictingIDs      []string
	conflictProbability float64 // in [0, 1]
	recency             float64
	onConflict          string
	useCreate           bool

	idUpTo int
	rng    *rand.Rand
}

func newActionMetaData(indexName, typeName string, conflictingIDs []string, conflictProbability float64,
	onConflict string, recency float64, useCreate bool, rng *rand.Rand) (*actionMetaData, error) {
	if useCreate && len(conflictingIDs) > 0 {
		return nil, serrors.NewAssertionError("index mode '_create' cannot be used with conflicting ids")
	}

	g := &actionMetaData{
		conflictingIDs:      conflictingIDs,
		conflictProbability: conflictProbability / 100,
		recency:             recency,
		onConflict:          onConflict,
		useCreate:           useCreate,
		rng:                 rng,
	}
	if typeName != "" {
		g.indexWithID = fmt.Sprintf(`{"index": {"_index": "%s", "_type": "%s", "_id": "%%s"}}`+"\n", indexName, typeName)
		g.updateWithID = fmt.Sprintf(`{"update": {"_index": "%s", "_type": "%s", "_id": "%%s"}}`+"\n", indexName, typeName)
		g.indexNoID = fmt.Sprintf(`{"index": {"_index": "%s", "_type": "%s"}}`+"\n", indexName, typeName)
	} else {
		g.indexWithID = fmt.Sprintf(`{"index": {"_index": "%s", "_id": "%%s"}}`+"\n", indexName)
		g.updateWithID = fmt.Sprintf(`{"update": {"_index": "%s", "_id": "%%s"}}`+"\n", indexName)
		g.indexNoID = fmt.Sprintf(`{"index": {"_index": "%s"}}`+"\n", indexName)
		g.createNoID = fmt.Sprintf(`{"create": {"_index": "%s"}}`+"\n", indexName)
	}
	return g, nil
}

// isConstant reports whether the generator always returns the same line.
func (g *actionMetaData) isConstant() bool { return g.conflictingIDs == nil }

// next returns the action ("index", "update" or "create") and the meta-data
// line for the next document.
func (g *actionMetaData) next() (string, []byte, error) {
	if g.conflictingIDs == nil {
		if g.useCreate {
			return "create", []byte(g.createNoID), nil
		}
		return "index", []byte(g.indexNoID), nil
	}

	var docID string
	action := "index"
	if g.conflictProbability > 0 && g.idUpTo > 0 && g.rng.Float64() <= g.conflictProbability {
		var idx int
		if g.recency == 0 {
			// a recency of zero draws uniformly over all emitted ids
			idx = g.rng.Intn(g.idUpTo)
		} else {
			// a recency > 0 biases selection towards more recent ids via a
			// clipped exponential; a smaller range picks higher indexes
			idxRange := math.Min(g.rng.ExpFloat64()/(recencySlope*g.recency), 1)
			idx = int(math.Round(float64(g.idUpTo-1) * (1 - idxRange)))
		}
		docID = g.conflictingIDs[idx]
		action = g.onConflict
	} else {
		if g.idUpTo >= len(g.conflictingIDs) {
			return "", nil, serrors.ErrExhausted
		}
		docID = g.conflictingIDs[g.idUpTo]
		g.idUpTo++
	}

	switch action {
	case "index":
		return "index", []byte(fmt.Sprintf(g.indexWithID, docID)), nil
	case "update":
		return "update", []byte(fmt.Sprintf(g.updateWithID, docID)), nil
	default:
		return "", nil, serrors.NewAssertionError("unknown action [%s]", action)
	}
}

// bulkItem is one assembled bulk request: the document count and the
// concatenated request body.
type bulkItem struct {
	docs int
	body []byte
}

// docReader reads a slice of a corpus file in batches of one or more bulks,
// injecting action and meta-data lines unless the source file already
// carries them.
type docReader struct {
	dataFile  string
	batchSize int
	bulkSize  int
	slice     *Slice
	target    string
	docType   string

	// metaData is nil when the source file includes its own action and
	// meta-data lines.
	metaData         *actionMetaData
	constantMetaLine []byte
}

// createReader builds the reader for one document set slice.
func createReader(ctx *ExecutionContext, corpus *workload.DocumentCorpus, docs *workload.DocumentSet,
	offset, numLines, numDocs, batchSize, bulkSize int, idConflicts IDConflict,
	conflictProbability float64, onConflict string, recency float64) (*docReader, error) {

	var slice *Slice
	if corpus.IsStreaming() {
		slice = NewStreamingSlice(ctx.EnsureIngest(0))
	} else {
		slice = NewFileSlice(docs.DocumentFile, offset, numLines)
	}

	target := ""
	useCreate := false
	if docs.TargetIndex != "" {
		target = docs.TargetIndex
	} else if docs.TargetDataStream != "" {
		target = docs.TargetDataStream
		useCreate = true
		if idConflicts != NoConflicts {
			// documents can only be created, not updated, in data streams
			return nil, serrors.NewAssertionError("conflicts cannot be generated with append only data streams")
		}
	}

	if docs.IncludesActionAndMetaData {
		return &docReader{
			dataFile: docs.DocumentFile,
			// batch size only counts documents, but documents sit on every
			// other line here
			batchSize: batchSize,
			bulkSize:  bulkSize * 2,
			slice:     slice,
			target:    target,
			docType:   docs.TargetType,
		}, nil
	}

	metaData, err := newActionMetaData(target, docs.TargetType,
		buildConflictingIDs(idConflicts, numDocs, offsetDocs(offset, docs), ctx.Rand()),
		conflictProbability, onConflict, recency, useCreate, ctx.Rand())
	if err != nil {
		return nil, err
	}
	return &docReader{
		dataFile:  docs.DocumentFile,
		batchSize: batchSize,
		bulkSize:  bulkSize,
		slice:     slice,
		target:    target,
		docType:   docs.TargetType,
		metaData:  metaData,
	}, nil
}

// offsetDocs converts a line offset back into a document offset.
func offsetDocs(offsetLines int, docs *workload.DocumentSet) int {
	return offsetLines / docs.LinesPerDocument()
}

// createReaders builds the readers for a continuous client range over all
// participating corpora.
func createReaders(ctx *ExecutionContext, numClients, startClientIndex, endClientIndex int,
	corpora []*workload.DocumentCorpus, batchSize, bulkSize int, idConflicts IDConflict,
	conflictProbability float64, onConflict string, recency float64) ([]*docReader, error) {

	var readers []*docReader
	for _, corpus := range corpora {
		for _, docs := range corpus.Documents {
			if corpus.IsStreaming() {
				reader, err := createReader(ctx, corpus, docs, 0, 0, 0, batchSize, bulkSize,
					idConflicts, conflictProbability, onConflict, recency)
				if err != nil {
					return nil, err
				}
				readers = append(readers, reader)
				continue
			}

			offset, numDocs, numLines := bounds(docs.NumberOfDocuments, startClientIndex, endClientIndex,
				numClients, docs.IncludesActionAndMetaData)
			if numDocs == 0 {
				output.Debug("clients skip document set (no documents to read)",
					"corpus", corpus.Name, "file", docs.DocumentFile,
					"clients", fmt.Sprintf("%d-%d", startClientIndex, endClientIndex))
				continue
			}
			output.Debug("assigned bulk range",
				"corpus", corpus.Name, "file", docs.DocumentFile,
				"clients", fmt.Sprintf("%d-%d", startClientIndex, endClientIndex),
				"docs", numDocs, "offset", offset)
			reader, err := createReader(ctx, corpus, docs, offset, numLines, numDocs, batchSize, bulkSize,
				idConflicts, conflictProbability, onConflict, recency)
			if err != nil {
				return nil, err
			}
			readers = append(readers, reader)
		}
	}
	return readers, nil
}

func (r *docReader) open() error {
	if err := r.slice.Open(r.bulkSize); err != nil {
		return err
	}
	if r.metaData != nil && r.metaData.isConstant() {
		// hoist the line out of the per-document loop
		_, line, err := r.metaData.next()
		if err != nil {
			return err
		}
		r.constantMetaLine = line
	}
	return nil
}

func (r *docReader) close() {
	r.slice.Close()
}

// next returns the lines of up to batchSize documents, grouped into bulks.
func (r *docReader) next() (string, string, []bulkItem, error) {
	var batch []bulkItem
	docsInBatch := 0
	for docsInBatch < r.batchSize {
		docsInBulk, bulk, err := r.readBulk()
		if err == serrors.ErrExhausted {
			break
		}
		if err != nil {
			return "", "", nil, err
		}
		if docsInBulk == 0 {
			break
		}
		docsInBatch += docsInBulk
		batch = append(batch, bulkItem{docs: docsInBulk, body: bytes.Join(bulk, nil)})
	}
	if docsInBatch == 0 {
		return "", "", nil, serrors.ErrExhausted
	}
	return r.target, r.docType, batch, nil
}

// readBulk assembles the lines of one bulk request.
func (r *docReader) readBulk() (int, [][]byte, error) {
	docs, err := r.slice.Next()
	if err != nil {
		return 0, nil, err
	}

	// source files with action and meta-data lines pass through verbatim
	if r.metaData == nil {
		return len(docs) / 2, docs, nil
	}

	if r.constantMetaLine != nil {
		bulk := make([][]byte, 0, 2*len(docs))
		for _, doc := range docs {
			bulk = append(bulk, r.constantMetaLine, doc)
		}
		return len(docs), bulk, nil
	}

	bulk := make([][]byte, 0, 2*len(docs))
	for _, doc := range docs {
		action, metaLine, err := r.metaData.next()
		if err == serrors.ErrExhausted {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		bulk = append(bulk, metaLine)
		if action == "update" {
			// the document has to fit on one line below the update action
			trimmed := bytes.TrimRight(doc, "\r\n")
			wrapped := make([]byte, 0, len(trimmed)+len(`{"doc":}`)+1)
			wrapped = append(wrapped, []byte(`{"doc":`)...)
			wrapped = append(wrapped, trimmed...)
			wrapped = append(wrapped, []byte("}\n")...)
			bulk = append(bulk, wrapped)
		} else {
			bulk = append(bulk, doc)
		}
	}
	return len(bulk) / 2, bulk, nil
}
