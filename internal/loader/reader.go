package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/ioutils"
	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/template"
	"github.com/searchbench/sbench/internal/workload"
)

// Supported workload schema versions.
const (
	MinSupportedVersion = 2
	MaxSupportedVersion = 2
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// FileReader creates a workload from a workload definition file: it renders
// the template, verifies the result against the schema, and constructs the
// model.
type FileReader struct {
	validator         *SchemaValidator
	workloadParams    map[string]any
	completeParams    *template.CompleteParams
	selectedProcedure string
}

// NewFileReader creates a reader for the given user parameters and test
// procedure selection.
func NewFileReader(workloadParams map[string]any, selectedProcedure string) (*FileReader, error) {
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FileReader{
		validator:         validator,
		workloadParams:    workloadParams,
		completeParams:    template.NewCompleteParams(workloadParams),
		selectedProcedure: selectedProcedure,
	}, nil
}

// Read loads the workload specification file, validates it, and returns the
// model. mappingDir is where referenced body files live; empty defaults to
// the spec file's directory.
func (r *FileReader) Read(workloadName, specFile, mappingDir string) (*workload.Workload, error) {
	if mappingDir == "" {
		mappingDir = filepath.Dir(specFile)
	}
	output.Debug("reading workload specification", "file", specFile)

	rendered, err := template.RenderFromFile(specFile, r.workloadParams, r.completeParams)
	if err != nil {
		return nil, err
	}

	// keep the fully rendered workload on disk: error messages reference
	// line numbers in the rendered form, not the template
	dumpPath := dumpRendered(rendered)

	var spec map[string]any
	if err := json.Unmarshal([]byte(rendered), &spec); err != nil {
		msg := fmt.Sprintf("could not load %q: %v.", specFile, err)
		var syntaxErr *json.SyntaxError
		if ok := asJSONSyntaxError(err, &syntaxErr); ok {
			msg += contextWindow(rendered, syntaxErr.Offset)
		}
		if dumpPath != "" {
			msg += fmt.Sprintf(" The complete workload has been written to %q for diagnosis.", dumpPath)
		}
		return nil, serrors.NewSyntaxError(msg, specFile, "")
	}

	// check the version before schema validation to avoid bogus errors
	if err := checkVersion(workloadName, spec); err != nil {
		return nil, err
	}

	if err := r.validator.Validate(workloadName, []byte(rendered)); err != nil {
		if dumpPath != "" {
			output.Details(fmt.Sprintf("The complete workload has been written to %q for diagnosis.", dumpPath))
		}
		return nil, err
	}

	reader := &specReader{
		name:              workloadName,
		workloadParams:    r.workloadParams,
		completeParams:    r.completeParams,
		selectedProcedure: r.selectedProcedure,
		mappingDir:        mappingDir,
	}
	w, err := reader.read(spec)
	if err != nil {
		return nil, err
	}

	// at this point every workload parameter must have been referenced
	if unused := r.completeParams.UnusedUserParams(); len(unused) > 0 {
		suggestions := r.completeParams.CloseMatches(unused)
		hint := ""
		if len(suggestions) > 0 {
			hint = fmt.Sprintf("perhaps you intend to use %s instead; all parameters exposed by this workload: %s",
				strings.Join(suggestions, ", "),
				strings.Join(r.completeParams.SortedWorkloadDefined(), ", "))
		}
		return nil, serrors.NewWorkloadConfigError(
			fmt.Sprintf("some of your workload parameters %v are not used by this workload", unused), hint)
	}
	return w, nil
}

func asJSONSyntaxError(err error, target **json.SyntaxError) bool {
	se, ok := err.(*json.SyntaxError)
	if ok {
		*target = se
	}
	return ok
}

// contextWindow renders the +-3 lines around a JSON syntax error offset.
func contextWindow(doc string, offset int64) string {
	if offset <= 0 || offset > int64(len(doc)) {
		return ""
	}
	lines := strings.Split(doc, "\n")
	lineIdx, col := 0, int(offset)
	for i, line := range lines {
		if col <= len(line) {
			lineIdx = i
			break
		}
		col -= len(line) + 1
	}

	start := lineIdx - 3
	if start < 0 {
		start = 0
	}
	end := lineIdx + 3
	if end >= len(lines) {
		end = len(lines) - 1
	}

	var b strings.Builder
	b.WriteString(" Lines containing the error:\n\n")
	for i := start; i <= end; i++ {
		b.WriteString(lines[i])
		b.WriteString("\n")
		if i == lineIdx {
			b.WriteString(strings.Repeat("-", max(col-1, 0)))
			b.WriteString("^ Error is here\n")
		}
	}
	return b.String()
}

func dumpRendered(rendered string) string {
	tmp, err := os.CreateTemp("", "sbench-workload-*.json")
	if err != nil {
		return ""
	}
	defer tmp.Close()
	if _, err := tmp.WriteString(rendered); err != nil {
		return ""
	}
	output.Debug("rendered workload written for diagnosis", "path", tmp.Name())
	return tmp.Name()
}

func checkVersion(workloadName string, spec map[string]any) error {
	raw, ok := spec["version"]
	if !ok {
		return nil // defaults to the maximum supported version
	}
	version, isNum := rawInt(raw)
	if !isNum {
		return serrors.NewSyntaxError(
			fmt.Sprintf("version identifier for workload %s must be numeric but was [%v]", workloadName, raw),
			"", "version")
	}
	if version < MinSupportedVersion {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("workload %s is on version %d but needs to be updated at least to version %d "+
				"to work with this driver", workloadName, version, MinSupportedVersion),
			"upgrade the workload definition")
	}
	if version > MaxSupportedVersion {
		return serrors.NewSystemSetupError(
			fmt.Sprintf("workload %s requires a newer driver (supported workload version: %d, "+
				"required workload version: %d)", workloadName, MaxSupportedVersion, version),
			"upgrade the benchmark driver")
	}
	return nil
}

func rawInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// specReader constructs a workload instance from its parsed JSON description.
type specReader struct {
	name              string
	workloadParams    map[string]any
	completeParams    *template.CompleteParams
	selectedProcedure string
	mappingDir        string
}

func (r *specReader) errorf(format string, args ...any) error {
	return serrors.NewSyntaxError(
		fmt.Sprintf("Workload '%s' is invalid. %s", r.name, fmt.Sprintf(format, args...)), "", "")
}

func (r *specReader) read(spec map[string]any) (*workload.Workload, error) {
	w := &workload.Workload{
		Name:        r.name,
		Description: optString(spec, "description"),
		Meta:        optMap(spec, "meta"),
		Parameters:  optMap(spec, "parameters"),
	}

	for _, idxSpec := range optList(spec, "indices") {
		idx, err := r.createIndex(idxSpec)
		if err != nil {
			return nil, err
		}
		w.Indices = append(w.Indices, idx)
	}
	for _, dsSpec := range optList(spec, "data-streams") {
		name, err := r.reqString(dsSpec, "name", "data-streams")
		if err != nil {
			return nil, err
		}
		w.DataStreams = append(w.DataStreams, &workload.DataStream{Name: name})
	}
	if len(w.Indices) > 0 && len(w.DataStreams) > 0 {
		return nil, r.errorf("indices and data-streams cannot both be specified")
	}

	var err error
	if w.Templates, err = r.createIndexTemplates(optList(spec, "templates")); err != nil {
		return nil, err
	}
	if w.ComposableTemplates, err = r.createIndexTemplates(optList(spec, "composable-templates")); err != nil {
		return nil, err
	}
	for _, tplSpec := range optList(spec, "component-templates") {
		tpl, err := r.createComponentTemplate(tplSpec)
		if err != nil {
			return nil, err
		}
		w.ComponentTemplates = append(w.ComponentTemplates, tpl)
	}

	if w.Corpora, err = r.createCorpora(optList(spec, "corpora"), w.Indices, w.DataStreams); err != nil {
		return nil, err
	}
	if w.TestProcedures, err = r.createTestProcedures(spec); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *specReader) createIndex(spec map[string]any) (*workload.Index, error) {
	name, err := r.reqString(spec, "name", "indices")
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if bodyFile := optString(spec, "body"); bodyFile != "" {
		body, err = r.loadTemplateBody(bodyFile, fmt.Sprintf("definition for index %s in %s", name, bodyFile))
		if err != nil {
			return nil, err
		}
	}
	return &workload.Index{Name: name, Body: body, Types: optStringList(spec, "types")}, nil
}

func (r *specReader) createIndexTemplates(specs []map[string]any) ([]*workload.IndexTemplate, error) {
	var templates []*workload.IndexTemplate
	for _, tplSpec := range specs {
		name, err := r.reqString(tplSpec, "name", "templates")
		if err != nil {
			return nil, err
		}
		templateFile, err := r.reqString(tplSpec, "template", name)
		if err != nil {
			return nil, err
		}
		pattern, err := r.reqString(tplSpec, "index-pattern", name)
		if err != nil {
			return nil, err
		}
		content, err := r.loadTemplateBody(templateFile,
			fmt.Sprintf("definition for index template %s in %s", name, templateFile))
		if err != nil {
			return nil, err
		}
		templates = append(templates, &workload.IndexTemplate{
			Name:                  name,
			Pattern:               pattern,
			Content:               content,
			DeleteMatchingIndices: optBool(tplSpec, "delete-matching-indices", true),
		})
	}
	return templates, nil
}

func (r *specReader) createComponentTemplate(spec map[string]any) (*workload.ComponentTemplate, error) {
	name, err := r.reqString(spec, "name", "component-templates")
	if err != nil {
		return nil, err
	}
	templateFile, err := r.reqString(spec, "template", name)
	if err != nil {
		return nil, err
	}
	content, err := r.loadTemplateBody(templateFile,
		fmt.Sprintf("definition for component template %s in %s", name, templateFile))
	if err != nil {
		return nil, err
	}
	return &workload.ComponentTemplate{Name: name, Content: content}, nil
}

// loadTemplateBody loads a referenced body file through the template
// assembler so its variables are tracked and rendered like the root file.
func (r *specReader) loadTemplateBody(fileName, description string) (map[string]any, error) {
	src := template.NewSource(r.mappingDir, fileName)
	if err := src.LoadFromFile(); err != nil {
		return nil, err
	}
	rendered, err := template.Render(src.Assembled, template.RenderOptions{
		Vars:           r.workloadParams,
		BasePath:       r.mappingDir,
		CompleteParams: r.completeParams,
	})
	if err != nil {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("could not load file template for '%s': %v", description, err), fileName, "")
	}
	var body map[string]any
	if err := fastJSON.Unmarshal([]byte(rendered), &body); err != nil {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("could not load file template for '%s': %v", description, err), fileName, "")
	}
	return body, nil
}

func (r *specReader) createCorpora(corporaSpecs []map[string]any, indices []*workload.Index,
	dataStreams []*workload.DataStream) ([]*workload.DocumentCorpus, error) {

	var corpora []*workload.DocumentCorpus
	knownNames := make(map[string]bool)
	for _, corpusSpec := range corporaSpecs {
		name, err := r.reqString(corpusSpec, "name", "corpora")
		if err != nil {
			return nil, err
		}
		if knownNames[name] {
			return nil, r.errorf("Duplicate document corpus name [%s].", name)
		}
		knownNames[name] = true

		corpus := &workload.DocumentCorpus{
			Name:               name,
			Meta:               optMap(corpusSpec, "meta"),
			StreamingIngestion: optString(corpusSpec, "streaming-ingestion"),
		}

		// corpus-level defaults
		defaultBaseURL := optString(corpusSpec, "base-url")
		defaultSourceFormat := optStringDefault(corpusSpec, "source-format", workload.SourceFormatBulk)
		defaultActionMeta := optBool(corpusSpec, "includes-action-and-meta-data", false)

		corpusTargetIdx := optString(corpusSpec, "target-index")
		if corpusTargetIdx == "" && len(indices) == 1 {
			corpusTargetIdx = indices[0].Name
		}
		corpusTargetDS := optString(corpusSpec, "target-data-stream")
		if corpusTargetDS == "" && len(dataStreams) == 1 {
			corpusTargetDS = dataStreams[0].Name
		}
		corpusTargetType := optString(corpusSpec, "target-type")
		if corpusTargetType == "" && len(indices) == 1 && len(indices[0].Types) == 1 {
			corpusTargetType = indices[0].Types[0]
		}

		for _, docSpec := range optList(corpusSpec, "documents") {
			docs, err := r.createDocumentSet(docSpec, name, indices, dataStreams,
				defaultBaseURL, defaultSourceFormat, defaultActionMeta,
				corpusTargetIdx, corpusTargetDS, corpusTargetType)
			if err != nil {
				return nil, err
			}
			corpus.Documents = append(corpus.Documents, docs)
		}
		corpora = append(corpora, corpus)
	}
	return corpora, nil
}

func (r *specReader) createDocumentSet(docSpec map[string]any, corpusName string,
	indices []*workload.Index, dataStreams []*workload.DataStream,
	defaultBaseURL, defaultSourceFormat string, defaultActionMeta bool,
	corpusTargetIdx, corpusTargetDS, corpusTargetType string) (*workload.DocumentSet, error) {

	sourceFormat := optStringDefault(docSpec, "source-format", defaultSourceFormat)
	if sourceFormat != workload.SourceFormatBulk {
		return nil, r.errorf("Unknown source-format [%s] in document corpus [%s].", sourceFormat, corpusName)
	}

	sourceFile, err := r.reqString(docSpec, "source-file", corpusName)
	if err != nil {
		return nil, err
	}
	var documentArchive, documentFile string
	if ioutils.IsArchive(sourceFile) {
		documentArchive = sourceFile
		documentFile, _ = ioutils.SplitExt(sourceFile)
	} else {
		documentFile = sourceFile
	}

	docs := &workload.DocumentSet{
		SourceFormat:    sourceFormat,
		DocumentFile:    documentFile,
		DocumentArchive: documentArchive,
		BaseURL:         optStringDefault(docSpec, "base-url", defaultBaseURL),
		SourceURL:       optString(docSpec, "source-url"),
		Meta:            optMap(docSpec, "meta"),
	}
	docs.NumberOfDocuments = optInt(docSpec, "document-count", 0)
	docs.CompressedSizeInBytes = optInt64Ptr(docSpec, "compressed-bytes")
	docs.UncompressedSizeInBytes = optInt64Ptr(docSpec, "uncompressed-bytes")
	docs.IncludesActionAndMetaData = optBoolDefault(docSpec, "includes-action-and-meta-data", defaultActionMeta)

	if docs.IncludesActionAndMetaData {
		// the per-document meta lines carry the target
		return docs, nil
	}

	docs.TargetType = optStringDefault(docSpec, "target-type", corpusTargetType)

	targetDS := optStringDefault(docSpec, "target-data-stream", corpusTargetDS)
	if targetDS == "" && len(dataStreams) > 0 && corpusTargetDS == "" {
		return nil, r.errorf("Mandatory element 'target-data-stream' is missing in '%s'.", sourceFile)
	}
	if targetDS != "" && len(indices) > 0 {
		return nil, r.errorf("target-data-stream cannot be used when using indices")
	}
	if targetDS != "" && docs.TargetType != "" {
		return nil, r.errorf("target-type cannot be used when using data-streams")
	}
	docs.TargetDataStream = targetDS

	targetIdx := optStringDefault(docSpec, "target-index", corpusTargetIdx)
	if targetIdx != "" && len(dataStreams) > 0 {
		return nil, r.errorf("target-index cannot be used when using data-streams")
	}
	docs.TargetIndex = targetIdx

	if docs.TargetIndex == "" && docs.TargetDataStream == "" {
		required := "target-data-stream"
		if len(indices) > 0 {
			required = "target-index"
		}
		return nil, r.errorf("a %s is required for %s", required, sourceFile)
	}
	return docs, nil
}

func (r *specReader) createTestProcedures(spec map[string]any) ([]*workload.TestProcedure, error) {
	ops, err := r.parseOperations(spec["operations"])
	if err != nil {
		return nil, err
	}
	workloadLevelParams := optMap(spec, "parameters")

	procedureSpecs, autoGenerated, err := r.testProcedureSpecs(spec)
	if err != nil {
		return nil, err
	}

	var procedures []*workload.TestProcedure
	var defaultProcedure *workload.TestProcedure
	knownNames := make(map[string]bool)
	singleProcedure := len(procedureSpecs) == 1

	for _, procSpec := range procedureSpecs {
		name, err := r.reqString(procSpec, "name", "test_procedures")
		if err != nil {
			return nil, err
		}
		if knownNames[name] {
			return nil, r.errorf("Duplicate test_procedure with name '%s'.", name)
		}
		knownNames[name] = true

		// a sole test procedure is default and selected no matter what
		isDefault := singleProcedure || optBool(procSpec, "default", false)
		selected := singleProcedure || r.selectedProcedure == name
		if isDefault && defaultProcedure != nil {
			return nil, r.errorf("Both '%s' and '%s' are defined as default test_procedures. "+
				"Please define only one of them as default.", defaultProcedure.Name, name)
		}

		scheduleSpecs, ok := procSpec["schedule"].([]any)
		if !ok {
			return nil, r.errorf("Mandatory element 'schedule' is missing in '%s'.", name)
		}
		var schedule []workload.ScheduleElement
		for _, opSpec := range scheduleSpecs {
			entry, ok := opSpec.(map[string]any)
			if !ok {
				return nil, r.errorf("Invalid schedule entry in test_procedure '%s'.", name)
			}
			if parallelSpec, isParallel := entry["parallel"].(map[string]any); isParallel {
				parallel, err := r.parseParallel(parallelSpec, ops, name)
				if err != nil {
					return nil, err
				}
				schedule = append(schedule, parallel)
			} else {
				task, err := r.parseTask(entry, ops, name, taskDefaults{})
				if err != nil {
					return nil, err
				}
				schedule = append(schedule, task)
			}
		}

		// duplicate task names are confusing in published results
		knownTaskNames := make(map[string]bool)
		for _, element := range schedule {
			for _, task := range element.Leaves() {
				if knownTaskNames[task.Name] {
					return nil, r.errorf("TestProcedure '%s' contains multiple tasks with the name '%s'. "+
						"Please use the task's name property to assign a unique name for each task.", name, task.Name)
				}
				knownTaskNames[task.Name] = true
			}
		}

		merged := make(map[string]any, len(workloadLevelParams))
		for k, v := range workloadLevelParams {
			merged[k] = v
		}
		for k, v := range optMap(procSpec, "parameters") {
			merged[k] = v
		}

		procedure := &workload.TestProcedure{
			Name:          name,
			Description:   optString(procSpec, "description"),
			UserInfo:      optString(procSpec, "user-info"),
			Meta:          optMap(procSpec, "meta"),
			Parameters:    merged,
			Default:       isDefault,
			Selected:      selected,
			AutoGenerated: autoGenerated,
			Schedule:      schedule,
		}
		if isDefault {
			defaultProcedure = procedure
		}
		procedures = append(procedures, procedure)
	}

	if len(procedures) > 0 && defaultProcedure == nil {
		names := make([]string, 0, len(procedures))
		for _, p := range procedures {
			names = append(names, p.Name)
		}
		return nil, r.errorf("No default test_procedure specified. Please edit the workload and add "+
			"\"default\": true to one of the test_procedures %s.", strings.Join(names, ", "))
	}
	return procedures, nil
}

// testProcedureSpecs resolves the exactly-one-of test_procedure /
// test_procedures / schedule rule. A bare schedule auto-generates a single
// default procedure.
func (r *specReader) testProcedureSpecs(spec map[string]any) ([]map[string]any, bool, error) {
	schedule, hasSchedule := spec["schedule"]
	procedure, hasProcedure := spec["test_procedure"]
	procedures, hasProcedures := spec["test_procedures"]

	count := 0
	for _, present := range []bool{hasSchedule, hasProcedure, hasProcedures} {
		if present {
			count++
		}
	}
	switch {
	case count == 0:
		return nil, false, r.errorf("You must define 'test_procedure', 'test_procedures' or 'schedule' but none is specified.")
	case count > 1:
		return nil, false, r.errorf("Multiple out of 'test_procedure', 'test_procedures' or 'schedule' are defined but only one of them is allowed.")
	case hasProcedure:
		spec, ok := procedure.(map[string]any)
		if !ok {
			return nil, false, r.errorf("'test_procedure' must be an object.")
		}
		return []map[string]any{spec}, false, nil
	case hasProcedures:
		list, ok := procedures.([]any)
		if !ok {
			return nil, false, r.errorf("'test_procedures' must be a list.")
		}
		specs := make([]map[string]any, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false, r.errorf("every entry of 'test_procedures' must be an object.")
			}
			specs = append(specs, m)
		}
		return specs, false, nil
	default:
		return []map[string]any{{
			"name":     "default",
			"schedule": schedule,
		}}, true, nil
	}
}

type taskDefaults struct {
	warmupIterations *int
	iterations       *int
	warmupTimePeriod *int
	timePeriod       *int
	completedByName  string
}

func (r *specReader) parseParallel(spec map[string]any, ops map[string]*workload.Operation, procedureName string) (*workload.Parallel, error) {
	defaults := taskDefaults{
		warmupIterations: optIntPtr(spec, "warmup-iterations"),
		iterations:       optIntPtr(spec, "iterations"),
		warmupTimePeriod: optIntPtr(spec, "warmup-time-period"),
		timePeriod:       optIntPtr(spec, "time-period"),
		completedByName:  optString(spec, "completed-by"),
	}

	taskSpecs, ok := spec["tasks"].([]any)
	if !ok {
		return nil, r.errorf("Mandatory element 'tasks' is missing in 'parallel'.")
	}
	var tasks []*workload.Task
	for _, taskSpec := range taskSpecs {
		entry, ok := taskSpec.(map[string]any)
		if !ok {
			return nil, r.errorf("Invalid task in 'parallel' element of test_procedure '%s'.", procedureName)
		}
		task, err := r.parseTask(entry, ops, procedureName, defaults)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if defaults.completedByName != "" {
		var completionTask *workload.Task
		for _, task := range tasks {
			if !task.CompletesParent {
				continue
			}
			if completionTask == nil {
				completionTask = task
			} else {
				return nil, r.errorf("'parallel' element for test_procedure '%s' contains multiple tasks with "+
					"the name '%s' which are marked with 'completed-by' but only task is allowed to match.",
					procedureName, defaults.completedByName)
			}
		}
		if completionTask == nil {
			return nil, r.errorf("'parallel' element for test_procedure '%s' is marked with 'completed-by' "+
				"with task name '%s' but no task with this name exists.", procedureName, defaults.completedByName)
		}
	}
	return &workload.Parallel{Tasks: tasks, Clients: optInt(spec, "clients", 0)}, nil
}

func (r *specReader) parseTask(spec map[string]any, ops map[string]*workload.Operation, procedureName string,
	defaults taskDefaults) (*workload.Task, error) {

	var op *workload.Operation
	switch opSpec := spec["operation"].(type) {
	case string:
		if known, ok := ops[opSpec]; ok {
			op = known
		} else {
			// may as well be an inline operation referenced by type name
			inline, err := r.parseOperation(opSpec,
				fmt.Sprintf("inline operation in test_procedure %s", procedureName))
			if err != nil {
				return nil, err
			}
			op = inline
		}
	case map[string]any:
		inline, err := r.parseOperation(opSpec,
			fmt.Sprintf("inline operation in test_procedure %s", procedureName))
		if err != nil {
			return nil, err
		}
		op = inline
	default:
		return nil, r.errorf("Mandatory element 'operation' is missing in test_procedure '%s'.", procedureName)
	}

	taskName := optStringDefault(spec, "name", op.Name)
	task := &workload.Task{
		Name:             taskName,
		Operation:        op,
		Tags:             optStringList(spec, "tags"),
		Meta:             optMap(spec, "meta"),
		WarmupIterations: orIntPtr(optIntPtr(spec, "warmup-iterations"), defaults.warmupIterations),
		Iterations:       orIntPtr(optIntPtr(spec, "iterations"), defaults.iterations),
		WarmupTimePeriod: orIntPtr(optIntPtr(spec, "warmup-time-period"), defaults.warmupTimePeriod),
		TimePeriod:       orIntPtr(optIntPtr(spec, "time-period"), defaults.timePeriod),
		Clients:          optInt(spec, "clients", 1),
		CompletesParent:  taskName == defaults.completedByName,
		Schedule:         optString(spec, "schedule"),
		Params:           spec,
	}

	if task.WarmupIterations != nil && task.TimePeriod != nil {
		return nil, r.errorf("Operation '%s' in test_procedure '%s' defines '%d' warmup iterations and a time "+
			"period of '%d' seconds. Please do not mix time periods and iterations.",
			op.Name, procedureName, *task.WarmupIterations, *task.TimePeriod)
	}
	if task.WarmupTimePeriod != nil && task.Iterations != nil {
		return nil, r.errorf("Operation '%s' in test_procedure '%s' defines a warmup time period of '%d' seconds "+
			"and '%d' iterations. Please do not mix time periods and iterations.",
			op.Name, procedureName, *task.WarmupTimePeriod, *task.Iterations)
	}
	if _, hasThroughput := spec["target-throughput"]; hasThroughput {
		if _, hasInterval := spec["target-interval"]; hasInterval {
			return nil, r.errorf("Task '%s' in test_procedure '%s' specifies both target-throughput and "+
				"target-interval. Please set only one of them.", taskName, procedureName)
		}
	}
	return task, nil
}

func (r *specReader) parseOperations(specs any) (map[string]*workload.Operation, error) {
	ops := make(map[string]*workload.Operation)
	list, _ := specs.([]any)
	for _, opSpec := range list {
		op, err := r.parseOperation(opSpec, "operations")
		if err != nil {
			return nil, err
		}
		if _, exists := ops[op.Name]; exists {
			return nil, r.errorf("Duplicate operation with name '%s'.", op.Name)
		}
		ops[op.Name] = op
	}
	return ops, nil
}

func (r *specReader) parseOperation(opSpec any, errorCtx string) (*workload.Operation, error) {
	var op *workload.Operation
	switch spec := opSpec.(type) {
	case string:
		// just a name; assume a simple operation like force-merge
		op = &workload.Operation{Name: spec, Type: spec, Params: map[string]any{}}
	case map[string]any:
		opType, err := r.reqString(spec, "operation-type", errorCtx)
		if err != nil {
			return nil, err
		}
		op = &workload.Operation{
			Name:        optStringDefault(spec, "name", opType),
			Type:        opType,
			Meta:        optMap(spec, "meta"),
			ParamSource: optString(spec, "param-source"),
			// pass through all parameters by default
			Params: spec,
		}
	default:
		return nil, r.errorf("Invalid operation in '%s'.", errorCtx)
	}

	opType := op.OperationType()
	if opType.IsBuiltin() {
		if _, ok := op.Params["include-in-results-publishing"]; !ok {
			op.Params["include-in-results-publishing"] = !opType.AdminOp()
		}
		output.Debug("using built-in operation type", "type", op.Type, "operation", op.Name)
	} else {
		output.Info("using user-provided operation type", "type", op.Type, "operation", op.Name)
	}
	return op, nil
}

func (r *specReader) reqString(m map[string]any, key, errorCtx string) (string, error) {
	if v, ok := m[key].(string); ok && v != "" {
		return v, nil
	}
	return "", r.errorf("Mandatory element '%s' is missing in '%s'.", key, errorCtx)
}

func optString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func optStringDefault(m map[string]any, key, defaultValue string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

func optBool(m map[string]any, key string, defaultValue bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultValue
}

func optBoolDefault(m map[string]any, key string, defaultValue bool) bool {
	return optBool(m, key, defaultValue)
}

func optMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func optList(m map[string]any, key string) []map[string]any {
	list, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

func optStringList(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func optInt(m map[string]any, key string, defaultValue int) int {
	if v, ok := rawInt(m[key]); ok {
		return v
	}
	return defaultValue
}

func optIntPtr(m map[string]any, key string) *int {
	if v, ok := rawInt(m[key]); ok {
		return &v
	}
	return nil
}

func optInt64Ptr(m map[string]any, key string) *int64 {
	if v, ok := rawInt(m[key]); ok {
		v64 := int64(v)
		return &v64
	}
	return nil
}

func orIntPtr(primary, fallback *int) *int {
	if primary != nil {
		return primary
	}
	return fallback
}
