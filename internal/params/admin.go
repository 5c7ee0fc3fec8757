package params

import (
	"fmt"
	"strings"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

// staticSource is the shared shape of the administrative sources: parameters
// are resolved once at construction and returned unchanged on every call.
type staticSource struct {
	params map[string]any
}

// Partition implements Source; administrative sources are idempotent across
// clients.
func (s *staticSource) Partition(int, int) (Source, error) { return s, nil }

// Params implements Source.
func (s *staticSource) Params() (map[string]any, error) { return copyParams(s.params), nil }

// Size implements Source.
func (s *staticSource) Size() (int, bool) { return 0, false }

// indexDefinition pairs an index name with its optional body.
type indexDefinition struct {
	Name string
	Body map[string]any
}

// templateDefinition pairs a template name with its body.
type templateDefinition struct {
	Name string
	Body map[string]any
}

// deleteTemplateDefinition adds the matching-indices deletion parameters.
type deleteTemplateDefinition struct {
	Name                  string
	DeleteMatchingIndices bool
	IndexPattern          string
}

// NewCreateIndexSource builds the create-index source: either every index
// declared by the workload (optionally filtered) or an explicit index from
// the operation parameters, with settings merged into the body.
func NewCreateIndexSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	requestParams := mapParam(params, "request-params")
	settings := mapParam(params, "settings")

	var definitions []indexDefinition
	if len(w.Indices) > 0 {
		filter := stringListParam(params, "index")
		for _, idx := range w.Indices {
			if len(filter) > 0 && !containsString(filter, idx.Name) {
				continue
			}
			body := mergeSettings(idx.Body, settings)
			definitions = append(definitions, indexDefinition{Name: idx.Name, Body: body})
		}
	} else {
		names := stringListParam(params, "index")
		if len(names) == 0 {
			return nil, serrors.NewSyntaxError(
				"please set the property 'index' for the create-index operation", "", "index")
		}
		body := mergeSettings(mapParam(params, "body"), settings)
		for _, name := range names {
			definitions = append(definitions, indexDefinition{Name: name, Body: body})
		}
	}

	p := copyParams(params)
	p["indices"] = definitions
	p["request-params"] = requestParams
	return &staticSource{params: p}, nil
}

// NewDeleteIndexSource builds the delete-index source. Without an explicit
// target it deletes every index declared by the workload.
func NewDeleteIndexSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	names := stringListParam(params, "index")
	if len(names) == 0 {
		for _, idx := range w.Indices {
			names = append(names, idx.Name)
		}
	}
	if len(names) == 0 {
		return nil, serrors.NewSyntaxError("delete-index operation targets no index", "", "index")
	}

	p := copyParams(params)
	p["indices"] = names
	p["request-params"] = mapParam(params, "request-params")
	p["only-if-exists"] = boolParam(params, "only-if-exists", true)
	return &staticSource{params: p}, nil
}

// NewCreateDataStreamSource builds the create-data-stream source.
func NewCreateDataStreamSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	var names []string
	if len(w.DataStreams) > 0 {
		filter := stringListParam(params, "data-stream")
		for _, ds := range w.DataStreams {
			if len(filter) > 0 && !containsString(filter, ds.Name) {
				continue
			}
			names = append(names, ds.Name)
		}
	} else {
		names = stringListParam(params, "data-stream")
		if len(names) == 0 {
			return nil, serrors.NewSyntaxError(
				"please set the property 'data-stream' for the create-data-stream operation", "", "data-stream")
		}
	}

	p := copyParams(params)
	p["data-streams"] = names
	p["request-params"] = mapParam(params, "request-params")
	return &staticSource{params: p}, nil
}

// NewDeleteDataStreamSource builds the delete-data-stream source.
func NewDeleteDataStreamSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	names := stringListParam(params, "data-stream")
	if len(names) == 0 {
		for _, ds := range w.DataStreams {
			names = append(names, ds.Name)
		}
	}
	if len(names) == 0 {
		return nil, serrors.NewSyntaxError("delete-data-stream operation targets no data stream", "", "data-stream")
	}

	p := copyParams(params)
	p["data-streams"] = names
	p["request-params"] = mapParam(params, "request-params")
	p["only-if-exists"] = boolParam(params, "only-if-exists", true)
	return &staticSource{params: p}, nil
}

// NewCreateIndexTemplateSource builds the create-index-template source.
func NewCreateIndexTemplateSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	settings := mapParam(params, "settings")

	var definitions []templateDefinition
	if len(w.Templates) > 0 {
		filter := stringParam(params, "template", "")
		for _, tpl := range w.Templates {
			if filter != "" && tpl.Name != filter {
				continue
			}
			definitions = append(definitions, templateDefinition{
				Name: tpl.Name,
				Body: mergeSettings(tpl.Content, settings),
			})
		}
	} else {
		name, err := requiredStringParam(params, "template")
		if err != nil {
			return nil, serrors.NewSyntaxError(
				"please set the properties 'template' and 'body' for the create-index-template operation", "", "template")
		}
		body := mapParam(params, "body")
		if body == nil {
			return nil, serrors.NewSyntaxError(
				"please set the properties 'template' and 'body' for the create-index-template operation", "", "body")
		}
		definitions = append(definitions, templateDefinition{Name: name, Body: body})
	}

	p := copyParams(params)
	p["templates"] = definitions
	p["request-params"] = mapParam(params, "request-params")
	return &staticSource{params: p}, nil
}

// NewDeleteIndexTemplateSource builds the delete-index-template source, also
// used for delete-composable-template.
func NewDeleteIndexTemplateSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	var definitions []deleteTemplateDefinition
	templates := append(append([]*workload.IndexTemplate(nil), w.Templates...), w.ComposableTemplates...)
	if len(templates) > 0 {
		filter := stringParam(params, "template", "")
		for _, tpl := range templates {
			if filter != "" && tpl.Name != filter {
				continue
			}
			definitions = append(definitions, deleteTemplateDefinition{
				Name:                  tpl.Name,
				DeleteMatchingIndices: tpl.DeleteMatchingIndices,
				IndexPattern:          tpl.Pattern,
			})
		}
	} else {
		name, err := requiredStringParam(params, "template")
		if err != nil {
			return nil, serrors.NewSyntaxError(
				fmt.Sprintf("please set the property 'template' for the %v operation", params["operation-type"]),
				"", "template")
		}
		deleteMatching := boolParam(params, "delete-matching-indices", false)
		pattern := stringParam(params, "index-pattern", "")
		if deleteMatching && pattern == "" {
			return nil, serrors.NewSyntaxError(
				"the property 'index-pattern' is required for delete-index-template if 'delete-matching-indices' is true",
				"", "index-pattern")
		}
		definitions = append(definitions, deleteTemplateDefinition{
			Name:                  name,
			DeleteMatchingIndices: deleteMatching,
			IndexPattern:          pattern,
		})
	}

	p := copyParams(params)
	p["templates"] = definitions
	p["only-if-exists"] = boolParam(params, "only-if-exists", true)
	p["request-params"] = mapParam(params, "request-params")
	return &staticSource{params: p}, nil
}

// newCreateTemplateSource is shared by the composable and component template
// create sources: merge optional settings under the template.settings path.
func newCreateTemplateSource(templates []templateDefinition, params map[string]any, opType string) (Source, error) {
	var definitions []templateDefinition
	if name := stringParam(params, "template", ""); name != "" && mapParam(params, "body") != nil {
		definitions = append(definitions, templateDefinition{Name: name, Body: mapParam(params, "body")})
	} else if len(templates) > 0 {
		filter := stringParam(params, "template", "")
		settings := mapParam(params, "settings")
		for _, tpl := range templates {
			if filter != "" && tpl.Name != filter {
				continue
			}
			body := tpl.Body
			if _, hasTemplate := body["template"]; hasTemplate && settings != nil {
				body = mergeAtPath(body, []string{"template", "settings"}, settings)
			}
			definitions = append(definitions, templateDefinition{Name: tpl.Name, Body: body})
		}
	} else {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("please set the properties 'template' and 'body' for the %s operation "+
				"or declare composable and/or component templates in the workload", opType),
			"", "template")
	}

	p := copyParams(params)
	p["templates"] = definitions
	p["request-params"] = mapParam(params, "request-params")
	return &staticSource{params: p}, nil
}

// NewCreateComposableTemplateSource builds the create-composable-template source.
func NewCreateComposableTemplateSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	templates := make([]templateDefinition, 0, len(w.ComposableTemplates))
	for _, tpl := range w.ComposableTemplates {
		templates = append(templates, templateDefinition{Name: tpl.Name, Body: tpl.Content})
	}
	return newCreateTemplateSource(templates, params, "create-composable-template")
}

// NewCreateComponentTemplateSource builds the create-component-template source.
func NewCreateComponentTemplateSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	templates := make([]templateDefinition, 0, len(w.ComponentTemplates))
	for _, tpl := range w.ComponentTemplates {
		templates = append(templates, templateDefinition{Name: tpl.Name, Body: tpl.Content})
	}
	return newCreateTemplateSource(templates, params, "create-component-template")
}

// NewDeleteComponentTemplateSource builds the delete-component-template source.
func NewDeleteComponentTemplateSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	var names []string
	if len(w.ComponentTemplates) > 0 {
		filter := stringParam(params, "template", "")
		for _, tpl := range w.ComponentTemplates {
			if filter != "" && tpl.Name != filter {
				continue
			}
			names = append(names, tpl.Name)
		}
	} else {
		name, err := requiredStringParam(params, "template")
		if err != nil {
			return nil, serrors.NewSyntaxError(
				fmt.Sprintf("please set the property 'template' for the %v operation", params["operation-type"]),
				"", "template")
		}
		names = append(names, name)
	}

	return &staticSource{params: map[string]any{
		"templates":      names,
		"only-if-exists": boolParam(params, "only-if-exists", true),
		"request-params": mapParam(params, "request-params"),
	}}, nil
}

// NewSleepSource validates and passes through the sleep duration.
func NewSleepSource(_ *ExecutionContext, _ *workload.Workload, params map[string]any, _ string) (Source, error) {
	v, ok := params["duration"]
	if !ok {
		return nil, serrors.NewSyntaxError(
			"parameter 'duration' is mandatory for sleep operation", "", "duration")
	}
	duration, ok := asFloat(v)
	if !ok {
		return nil, serrors.NewSyntaxError(
			"parameter 'duration' for sleep operation must be a number", "", "duration")
	}
	if duration < 0 {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("parameter 'duration' must be non-negative but was %g", duration), "", "duration")
	}
	return &staticSource{params: params}, nil
}

// NewForceMergeSource builds the force-merge source. Without an explicit
// target it merges every declared index and data stream, or _all.
func NewForceMergeSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	var declared []string
	for _, idx := range w.Indices {
		declared = append(declared, idx.Name)
	}
	for _, ds := range w.DataStreams {
		declared = append(declared, ds.Name)
	}
	defaultTarget := "_all"
	if len(declared) > 0 {
		defaultTarget = strings.Join(declared, ",")
	}

	target := stringParam(params, "index", "")
	if target == "" {
		target = stringParam(params, "data-stream", defaultTarget)
	}

	mode := stringParam(params, "mode", "blocking")
	if mode != "blocking" && mode != "polling" {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("unknown force-merge mode [%s]", mode), "", "mode")
	}
	pollPeriod, err := intParam(params, "poll-period", 10)
	if err != nil {
		return nil, err
	}

	p := map[string]any{
		"index":            target,
		"max-num-segments": params["max-num-segments"],
		"mode":             mode,
		"poll-period":      pollPeriod,
	}
	for k, v := range clientParams(params) {
		p[k] = v
	}
	return &staticSource{params: p}, nil
}

// NewOpenPointInTimeSource builds the open-point-in-time source.
func NewOpenPointInTimeSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, _ string) (Source, error) {
	p := map[string]any{
		"index":      targetName(w, params),
		"keep-alive": params["keep-alive"],
	}
	for k, v := range clientParams(params) {
		p[k] = v
	}
	return &staticSource{params: p}, nil
}

// NewClosePointInTimeSource builds the close-point-in-time source. The PIT
// id itself is resolved at runtime from the named open-PIT task.
func NewClosePointInTimeSource(_ *ExecutionContext, _ *workload.Workload, params map[string]any, _ string) (Source, error) {
	p := map[string]any{
		"with-point-in-time-from": params["with-point-in-time-from"],
	}
	for k, v := range clientParams(params) {
		p[k] = v
	}
	return &staticSource{params: p}, nil
}

func mapParam(params map[string]any, key string) map[string]any {
	if v, ok := params[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// mergeSettings merges index settings into a body, creating the settings
// section if needed. The input body is not modified.
func mergeSettings(body, settings map[string]any) map[string]any {
	if settings == nil {
		return body
	}
	merged := make(map[string]any, len(body)+1)
	for k, v := range body {
		merged[k] = v
	}
	if existing, ok := merged["settings"].(map[string]any); ok {
		combined := make(map[string]any, len(existing)+len(settings))
		for k, v := range existing {
			combined[k] = v
		}
		for k, v := range settings {
			combined[k] = v
		}
		merged["settings"] = combined
	} else {
		merged["settings"] = settings
	}
	return merged
}

// mergeAtPath deep-merges newContent into the map found at path, creating
// intermediate maps as needed. The input is copied along the path.
func mergeAtPath(content map[string]any, path []string, newContent map[string]any) map[string]any {
	if newContent == nil {
		return content
	}
	result := copyParams(content)
	cursor := result
	for _, key := range path {
		next, ok := cursor[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
		} else {
			next = copyParams(next)
		}
		cursor[key] = next
		cursor = next
	}
	deepMerge(cursor, newContent)
	return result
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
