package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/searchbench/sbench/internal/dataset"
	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

const nestedFieldSeparator = "."

// defaultVectorRetries is the bulk-vector request retry budget forwarded to
// the runner.
const defaultVectorRetries = 10

// vectorPartitionSource reads vectors from a data set and partitions them
// across clients. It underlies both the vector search and the vector bulk
// ingest sources.
type vectorPartitionSource struct {
	w *workload.Workload

	fieldName string
	isNested  bool
	context   dataset.Context

	format     string
	path       string
	corpusName string
	corpora    []*workload.DocumentCorpus

	totalNumVectors int
	numVectors      int
	total           int
	current         int
	offset          int

	data dataset.DataSet
}

func newVectorPartitionSource(w *workload.Workload, params map[string]any, context dataset.Context) (*vectorPartitionSource, error) {
	fieldName, err := requiredStringParam(params, "field")
	if err != nil {
		return nil, err
	}
	format, err := requiredStringParam(params, "data_set_format")
	if err != nil {
		return nil, err
	}
	path := stringParam(params, "data_set_path", "")
	corpusName := stringParam(params, "data_set_corpus", "")
	if path == "" && corpusName == "" {
		return nil, serrors.NewSyntaxError(
			"dataset is missing: provide either dataset file path or valid corpus", "", "data_set_path")
	}
	if path != "" && corpusName != "" {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("provide either dataset file path '%s' or corpus '%s', but not both", path, corpusName),
			"", "data_set_path")
	}

	totalNumVectors, err := intParam(params, "num_vectors", -1)
	if err != nil {
		return nil, err
	}

	s := &vectorPartitionSource{
		w:               w,
		fieldName:       fieldName,
		isNested:        strings.Contains(fieldName, nestedFieldSeparator),
		context:         context,
		format:          format,
		path:            path,
		corpusName:      corpusName,
		totalNumVectors: totalNumVectors,
		total:           1,
	}
	s.corpora, err = s.extractCorpora(corpusName, format)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// extractCorpora returns the workload corpora matching the given name and
// source format.
func (s *vectorPartitionSource) extractCorpora(corpusName, sourceFormat string) ([]*workload.DocumentCorpus, error) {
	if corpusName == "" {
		return nil, nil
	}
	var corpora []*workload.DocumentCorpus
	var known []string
	for _, corpus := range s.w.Corpora {
		known = append(known, corpus.Name)
		if corpus.Name != corpusName {
			continue
		}
		filtered := corpus.Filter(sourceFormat, nil, nil)
		if len(filtered.Documents) > 0 {
			corpora = append(corpora, filtered)
		}
		break
	}
	if len(known) > 0 && len(corpora) == 0 {
		return nil, serrors.NewSystemSetupError(
			fmt.Sprintf("the provided corpus %s does not match any of the corpora %s", corpusName, strings.Join(known, ", ")), "")
	}
	return corpora, nil
}

// Corpora returns the corpora backing this source; the preparator uses it
// to decide what to download.
func (s *vectorPartitionSource) Corpora() []*workload.DocumentCorpus {
	return s.corpora
}

// corpusFilePaths returns the document files of the named corpus.
func (s *vectorPartitionSource) corpusFilePaths(name, sourceFormat string) []string {
	var files []string
	for _, corpus := range s.corpora {
		if corpus.Name != name {
			continue
		}
		for _, docs := range corpus.Filter(sourceFormat, nil, nil).Documents {
			files = append(files, docs.DocumentFile)
		}
	}
	return files
}

func validateCorpusPaths(paths []string) error {
	if len(paths) == 0 {
		return serrors.NewSyntaxError(
			"dataset is missing: provide either dataset file path or valid corpus", "", "data_set_corpus")
	}
	if len(paths) > 1 {
		return serrors.NewSyntaxError(
			fmt.Sprintf("vector search does not support more than one document file path %v", paths),
			"", "data_set_corpus")
	}
	return nil
}

// splitFields splits a dot-separated field name into its outer and inner
// parts. One level of nesting is supported.
func (s *vectorPartitionSource) splitFields() (string, string, error) {
	parts := strings.Split(s.fieldName, nestedFieldSeparator)
	if len(parts) != 2 {
		return "", "", serrors.NewSyntaxError(
			fmt.Sprintf("field name %s is not a nested field name; only one level of nesting is supported", s.fieldName),
			"", "field")
	}
	return parts[0], parts[1], nil
}

// partition computes the vector range of one client and returns a copy of
// the source positioned at its offset with a fresh data set handle.
func (s *vectorPartitionSource) partition(partitionIndex, totalPartitions int) (*vectorPartitionSource, error) {
	if s.corpusName != "" && s.path == "" {
		paths := s.corpusFilePaths(s.corpusName, s.format)
		if err := validateCorpusPaths(paths); err != nil {
			return nil, err
		}
		s.path = paths[0]
	}
	if s.data == nil {
		data, err := dataset.Get(s.format, s.path, s.context)
		if err != nil {
			return nil, err
		}
		s.data = data
	}
	size, err := s.data.Size()
	if err != nil {
		return nil, err
	}
	if s.totalNumVectors < 0 || s.totalNumVectors > size {
		s.totalNumVectors = size
	}
	s.total = s.totalNumVectors

	partition := *s
	minVectorsPerPartition := s.totalNumVectors / totalPartitions
	partition.offset = partitionIndex * minVectorsPerPartition
	partition.numVectors = minVectorsPerPartition

	// uneven splits push the remainder onto the last partition
	if s.totalNumVectors%totalPartitions != 0 && partitionIndex == totalPartitions-1 {
		partition.numVectors += s.totalNumVectors - minVectorsPerPartition*totalPartitions
	}

	// every client needs its own handle on the data set
	data, err := dataset.Get(s.format, s.path, s.context)
	if err != nil {
		return nil, err
	}
	if partition.offset > 0 {
		if err := data.Seek(partition.offset); err != nil {
			return nil, err
		}
	}
	partition.data = data
	partition.current = partition.offset
	return &partition, nil
}

// vectorSearchSource yields one k-NN query per vector of a query data set,
// together with the true neighbors for recall checking.
type vectorSearchSource struct {
	*vectorPartitionSource

	k           int
	repetitions int
	currentRep  int

	neighborsFormat     string
	neighborsPath       string
	neighborsCorpusName string
	neighbors           dataset.DataSet

	queryParams map[string]any
	filterType  string
	filterBody  any
}

// NewVectorSearchSource builds the vector-search source.
func NewVectorSearchSource(ctx *ExecutionContext, w *workload.Workload, params map[string]any, operationName string) (Source, error) {
	base, err := NewSearchSource(ctx, w, params, operationName)
	if err != nil {
		return nil, err
	}
	queryParams := base.(*searchSource).queryParams

	partitionSource, err := newVectorPartitionSource(w, params, dataset.ContextQuery)
	if err != nil {
		return nil, err
	}

	k, err := requiredIntParam(params, "k")
	if err != nil {
		return nil, err
	}
	repetitions, err := intParam(params, "repetitions", 1)
	if err != nil {
		return nil, err
	}

	neighborsFormat := stringParam(params, "neighbors_data_set_format", partitionSource.format)
	neighborsPath := stringParam(params, "neighbors_data_set_path", "")
	neighborsCorpus := stringParam(params, "neighbors_data_set_corpus", "")
	if neighborsPath != "" && neighborsCorpus != "" {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("provide either neighbor's dataset file path '%s' or corpus '%s'", neighborsPath, neighborsCorpus),
			"", "neighbors_data_set_path")
	}

	queryParams["k"] = k
	queryParams["operation-type"] = stringParam(params, "operation-type", string(workload.VectorSearch))
	queryParams["id-field-name"] = params["id-field-name"]
	for _, key := range []string{"filter", "filter_type", "filter_body"} {
		if v, ok := params[key]; ok {
			queryParams[key] = v
		}
	}

	s := &vectorSearchSource{
		vectorPartitionSource: partitionSource,
		k:                     k,
		repetitions:           repetitions,
		currentRep:            1,
		neighborsFormat:       neighborsFormat,
		neighborsPath:         neighborsPath,
		neighborsCorpusName:   neighborsCorpus,
		queryParams:           queryParams,
		filterType:            stringParam(params, "filter_type", ""),
		filterBody:            params["filter_body"],
	}

	// a corpus-backed neighbors data set joins the corpora list so the
	// preparator downloads it
	if neighborsCorpus != "" {
		neighborsCorpora, err := s.extractCorpora(neighborsCorpus, neighborsFormat)
		if err != nil {
			return nil, err
		}
		for _, c := range neighborsCorpora {
			s.corpora = append(s.corpora, c)
		}
	}
	return s, nil
}

// Partition implements Source.
func (s *vectorSearchSource) Partition(partitionIndex, totalPartitions int) (Source, error) {
	base, err := s.vectorPartitionSource.partition(partitionIndex, totalPartitions)
	if err != nil {
		return nil, err
	}

	neighborsPath := s.neighborsPath
	if s.neighborsCorpusName != "" && neighborsPath == "" {
		paths := s.corpusFilePaths(s.neighborsCorpusName, s.neighborsFormat)
		if err := validateCorpusPaths(paths); err != nil {
			return nil, err
		}
		neighborsPath = paths[0]
	}
	if neighborsPath == "" {
		neighborsPath = base.path
	}

	neighbors, err := dataset.Get(s.neighborsFormat, neighborsPath, dataset.ContextNeighbors)
	if err != nil {
		return nil, err
	}
	if base.offset > 0 {
		if err := neighbors.Seek(base.offset); err != nil {
			return nil, err
		}
	}

	partition := *s
	partition.vectorPartitionSource = base
	partition.neighborsPath = neighborsPath
	partition.neighbors = neighbors
	return &partition, nil
}

// Size implements Source.
func (s *vectorSearchSource) Size() (int, bool) {
	return s.numVectors * s.repetitions, true
}

// TaskProgress implements ProgressReporter.
func (s *vectorSearchSource) TaskProgress() (float64, string) {
	return float64(s.current) / float64(s.total), "%"
}

// Params implements Source: one query vector with its true neighbors per call.
func (s *vectorSearchSource) Params() (map[string]any, error) {
	exhausted := s.current >= s.numVectors+s.offset
	if exhausted && s.currentRep < s.repetitions {
		if err := s.data.Seek(s.offset); err != nil {
			return nil, err
		}
		if err := s.neighbors.Seek(s.offset); err != nil {
			return nil, err
		}
		s.current = s.offset
		s.currentRep++
	} else if exhausted {
		return nil, serrors.ErrExhausted
	}

	vectors, err := s.data.Read(1)
	if err != nil {
		return nil, err
	}
	neighborRows, err := s.neighbors.Read(1)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(neighborRows) == 0 {
		return nil, serrors.ErrExhausted
	}

	vector := vectors[0]
	neighbors := neighborRows[0]
	limit := s.k
	if limit > len(neighbors) {
		limit = len(neighbors)
	}
	trueNeighbors := make([]string, limit)
	for i := 0; i < limit; i++ {
		trueNeighbors[i] = strconv.FormatInt(int64(neighbors[i]), 10)
	}

	s.queryParams["neighbors"] = trueNeighbors
	s.updateRequestParams()
	if err := s.updateBodyParams(vector); err != nil {
		return nil, err
	}
	s.current++
	return copyParams(s.queryParams), nil
}

func (s *vectorSearchSource) updateRequestParams() {
	requestParams, _ := s.queryParams["request-params"].(map[string]any)
	if requestParams == nil {
		requestParams = make(map[string]any)
	}
	if _, ok := requestParams["_source"]; !ok {
		requestParams["_source"] = "false"
	}
	if _, ok := requestParams["allow_partial_search_results"]; !ok {
		requestParams["allow_partial_search_results"] = "false"
	}
	s.queryParams["request-params"] = requestParams
}

func (s *vectorSearchSource) updateBodyParams(vector []float32) error {
	body, _ := s.queryParams["body"].(map[string]any)
	if body == nil {
		body = make(map[string]any)
	}
	if _, ok := body["size"]; !ok {
		body["size"] = s.k
	}

	var efficientFilter any
	if s.filterType == "efficient" {
		efficientFilter = s.filterBody
	}

	query, err := s.buildQueryBody(vector, efficientFilter)
	if err != nil {
		return err
	}
	body["query"] = query

	if s.filterType == "post_filter" {
		body["post_filter"] = s.filterBody
	}
	s.queryParams["body"] = body
	return nil
}

// buildQueryBody builds the approximate nearest neighbor query for one
// vector, applying the configured filter shape.
func (s *vectorSearchSource) buildQueryBody(vector []float32, efficientFilter any) (map[string]any, error) {
	knnClause := map[string]any{
		"vector": vector,
		"k":      s.k,
	}
	if efficientFilter != nil {
		knnClause["filter"] = efficientFilter
	}
	knnQuery := map[string]any{
		"knn": map[string]any{
			s.fieldName: knnClause,
		},
	}

	if s.isNested {
		outerField, _, err := s.splitFields()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"nested": map[string]any{
				"path":  outerField,
				"query": knnQuery,
			},
		}, nil
	}

	if s.filterType != "" && efficientFilter == nil && s.filterType != "post_filter" {
		return s.knnQueryWithFilter(vector, knnQuery)
	}
	return knnQuery, nil
}

func (s *vectorSearchSource) knnQueryWithFilter(vector []float32, knnQuery map[string]any) (map[string]any, error) {
	switch s.filterType {
	case "script":
		return map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"bool": map[string]any{"filter": s.filterBody}},
				"script": map[string]any{
					"source": "knn_score",
					"lang":   "knn",
					"params": map[string]any{
						"field":       s.fieldName,
						"query_value": vector,
						"space_type":  "l2",
					},
				},
			},
		}, nil
	case "boolean":
		return map[string]any{
			"bool": map[string]any{
				"filter": s.filterBody,
				"must":   []any{knnQuery},
			},
		}, nil
	default:
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("unsupported filter type: %s", s.filterType), "", "filter_type")
	}
}

// bulkVectorsSource creates bulk index requests from a data set of vectors.
type bulkVectorsSource struct {
	*vectorPartitionSource

	bulkSize      int
	retries       int
	indexName     string
	idFieldName   string
	filterAttrs   []string
	parentsPath   string
	parentsCorpus string

	parents    dataset.DataSet
	attributes *dataset.StringAttributes

	// actionBuffer groups nested vectors of one parent document across
	// bulk boundaries.
	actionBuffer   map[string]any
	actionParentID int
}

// NewBulkVectorsSource builds the bulk-vector-data-set source.
func NewBulkVectorsSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	partitionSource, err := newVectorPartitionSource(w, params, dataset.ContextIndex)
	if err != nil {
		return nil, err
	}

	bulkSize, err := requiredIntParam(params, "bulk_size")
	if err != nil {
		return nil, err
	}
	retries, err := intParam(params, "retries", defaultVectorRetries)
	if err != nil {
		return nil, err
	}
	indexName, err := requiredStringParam(params, "index")
	if err != nil {
		return nil, err
	}

	return &bulkVectorsSource{
		vectorPartitionSource: partitionSource,
		bulkSize:              bulkSize,
		retries:               retries,
		indexName:             indexName,
		idFieldName:           stringParam(params, "id-field-name", "_id"),
		filterAttrs:           stringListParam(params, "filter_attributes"),
		parentsPath:           stringParam(params, "parents_data_set_path", partitionSource.path),
		parentsCorpus:         partitionSource.corpusName,
	}, nil
}

// Partition implements Source.
func (s *bulkVectorsSource) Partition(partitionIndex, totalPartitions int) (Source, error) {
	base, err := s.vectorPartitionSource.partition(partitionIndex, totalPartitions)
	if err != nil {
		return nil, err
	}

	partition := *s
	partition.vectorPartitionSource = base

	parentsPath := s.parentsPath
	if s.parentsCorpus != "" && parentsPath == "" {
		paths := s.corpusFilePaths(s.parentsCorpus, s.format)
		if err := validateCorpusPaths(paths); err != nil {
			return nil, err
		}
		parentsPath = paths[0]
	}
	if parentsPath == "" {
		parentsPath = base.path
	}
	partition.parentsPath = parentsPath

	if s.isNested {
		parents, err := dataset.Get(s.format, parentsPath, dataset.ContextParents)
		if err != nil {
			return nil, err
		}
		if base.offset > 0 {
			if err := parents.Seek(base.offset); err != nil {
				return nil, err
			}
		}
		partition.parents = parents
	}

	if len(s.filterAttrs) > 0 {
		attributes, err := dataset.OpenStringAttributes(parentsPath)
		if err != nil {
			return nil, err
		}
		if base.offset > 0 {
			if err := attributes.Seek(base.offset); err != nil {
				return nil, err
			}
		}
		partition.attributes = attributes
	}
	return &partition, nil
}

// Size implements Source.
func (s *bulkVectorsSource) Size() (int, bool) {
	if s.bulkSize == 0 {
		return 0, false
	}
	return (s.numVectors + s.bulkSize - 1) / s.bulkSize, true
}

// TaskProgress implements ProgressReporter.
func (s *bulkVectorsSource) TaskProgress() (float64, string) {
	return float64(s.current) / float64(s.total), "%"
}

// action builds the meta-data entry for one document. The id lands in the
// meta-data only for the default _id field; custom id fields go into the
// document body instead.
func (s *bulkVectorsSource) action(docID int) map[string]any {
	metadata := map[string]any{"_index": s.indexName}
	if s.idFieldName == "_id" {
		metadata["_id"] = docID
	}
	return map[string]any{"index": metadata}
}

// Params implements Source: one bulk request of vectors per call.
func (s *bulkVectorsSource) Params() (map[string]any, error) {
	if s.current >= s.numVectors+s.offset {
		return nil, serrors.ErrExhausted
	}

	remaining := s.numVectors + s.offset - s.current
	bulkSize := s.bulkSize
	if remaining < bulkSize {
		bulkSize = remaining
	}

	vectors, err := s.data.Read(bulkSize)
	if err != nil {
		return nil, err
	}

	var parentIDs []int
	if s.isNested {
		rows, err := s.parents.Read(bulkSize)
		if err != nil {
			return nil, err
		}
		parentIDs = make([]int, len(rows))
		for i, row := range rows {
			parentIDs[i] = int(row[0])
		}
	}

	var attributeRows [][]string
	if len(s.filterAttrs) > 0 {
		attributeRows, err = s.attributes.Read(bulkSize)
		if err != nil {
			return nil, err
		}
	}

	body, err := s.bulkTransform(vectors, parentIDs, attributeRows)
	if err != nil {
		return nil, err
	}
	size := len(body) / 2

	if !s.isNested {
		// the nested case advances current inside bulkTransform since one
		// document may absorb an irregular number of vectors
		s.current += size
	}

	return map[string]any{
		"body":                 body,
		"retries":              s.retries,
		"size":                 size,
		"with-action-metadata": true,
	}, nil
}

// bulkTransform turns a batch of vectors into alternating action meta-data
// and document entries in the bulk wire shape.
func (s *bulkVectorsSource) bulkTransform(vectors [][]float32, parentIDs []int, attributes [][]string) ([]any, error) {
	if !s.isNested && len(s.filterAttrs) == 0 {
		return s.transformFlat(vectors, nil), nil
	}
	if len(s.filterAttrs) > 0 {
		return s.transformFlat(vectors, attributes), nil
	}
	return s.transformNested(vectors, parentIDs)
}

// transformFlat emits one document per vector, optionally annotated with
// attribute columns.
func (s *bulkVectorsSource) transformFlat(vectors [][]float32, attributes [][]string) []any {
	addIDToBody := s.idFieldName != "_id"
	actions := make([]any, 0, 2*len(vectors))
	for i, vector := range vectors {
		docID := s.current + i
		doc := map[string]any{s.fieldName: vector}
		if attributes != nil {
			for col, attrName := range s.filterAttrs {
				if col < len(attributes[i]) && attributes[i][col] != "None" {
					doc[attrName] = attributes[i][col]
				}
			}
		}
		if addIDToBody {
			doc[s.idFieldName] = docID
		}
		actions = append(actions, s.action(docID), doc)
	}
	return actions
}

// transformNested groups vectors by parent id, emitting one document per
// parent whose outer field is the array of nested vectors. The action buffer
// carries a partially filled parent across bulk boundaries.
func (s *bulkVectorsSource) transformNested(vectors [][]float32, parentIDs []int) ([]any, error) {
	outerField, innerField, err := s.splitFields()
	if err != nil {
		return nil, err
	}
	addIDToBody := s.idFieldName != "_id"

	if s.actionBuffer == nil {
		s.actionBuffer = map[string]any{outerField: []any{}}
		s.actionParentID = parentIDs[0]
		if addIDToBody {
			s.actionBuffer[s.idFieldName] = s.actionParentID
		}
	}

	var actions []any
	for i, vector := range vectors {
		nested := map[string]any{innerField: vector}
		currentParentID := parentIDs[i]

		if s.actionParentID == currentParentID {
			s.actionBuffer[outerField] = append(s.actionBuffer[outerField].([]any), nested)
			continue
		}

		// flush the completed parent document
		actions = append(actions, s.action(s.actionParentID), s.actionBuffer)
		s.current += len(s.actionBuffer[outerField].([]any))

		s.actionBuffer = map[string]any{outerField: []any{nested}}
		if addIDToBody {
			s.actionBuffer[s.idFieldName] = currentParentID
		}
		s.actionParentID = currentParentID
	}

	maxPosition := s.offset + s.numVectors
	buffered := len(s.actionBuffer[outerField].([]any))
	if s.current+buffered+s.bulkSize >= maxPosition {
		// final flush of the remaining vectors of this partition
		s.current += buffered
		actions = append(actions, s.action(s.actionParentID), s.actionBuffer)
		s.actionBuffer = nil
	}
	return actions, nil
}
