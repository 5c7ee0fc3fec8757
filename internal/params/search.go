package params

import (
	"fmt"

	serrors "github.com/searchbench/sbench/internal/errors"
	"github.com/searchbench/sbench/internal/workload"
)

// searchSource resolves the static query parameters once and returns the
// same record on every call. Search sources are infinite and idempotent
// across partitions.
type searchSource struct {
	queryParams map[string]any
}

// NewSearchSource builds the search source.
func NewSearchSource(_ *ExecutionContext, w *workload.Workload, params map[string]any, operationName string) (Source, error) {
	target := targetName(w, params)
	typeName := stringParam(params, "type", "")
	if stringParam(params, "data-stream", "") != "" && typeName != "" {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("'type' not supported with 'data-stream' for operation '%s'", operationName),
			"", "type")
	}
	if target == "" {
		return nil, serrors.NewSyntaxError(
			fmt.Sprintf("'index' or 'data-stream' is mandatory and is missing for operation '%s'", operationName),
			"", "index")
	}

	detailedResults := boolParam(params, "detailed-results", false)

	queryParams := map[string]any{
		"index":                        target,
		"type":                         typeName,
		"cache":                        params["cache"],
		"detailed-results":             detailedResults,
		"calculate-recall":             boolParam(params, "calculate-recall", true),
		"request-params":               mapParam(params, "request-params"),
		"response-compression-enabled": boolParam(params, "response-compression-enabled", true),
		"body":                         params["body"],
	}

	pages, err := intParam(params, "pages", 0)
	if err != nil {
		return nil, err
	}
	if pages > 0 {
		queryParams["pages"] = pages
	}
	if resultsPerPage, err := intParam(params, "results-per-page", 0); err != nil {
		return nil, err
	} else if resultsPerPage > 0 {
		queryParams["results-per-page"] = resultsPerPage
	}
	if pit := stringParam(params, "with-point-in-time-from", ""); pit != "" {
		queryParams["with-point-in-time-from"] = pit
	}
	if profileMetrics := params["profile-metrics"]; profileMetrics != nil {
		queryParams["profile-metrics"] = profileMetrics
		sampleSize, err := intParam(params, "profile-metrics-sample-size", 0)
		if err != nil {
			return nil, err
		}
		queryParams["profile-metrics-sample-size"] = sampleSize
	}

	if assertions, ok := params["assertions"]; ok {
		// for paginated queries detailed results are always retrieved, so
		// the flag only matters for unpaginated ones
		if !detailedResults && pages == 0 {
			return nil, serrors.NewSyntaxError(
				"the property [detailed-results] must be [true] if assertions are defined",
				"", "assertions")
		}
		queryParams["assertions"] = assertions
	}

	for k, v := range clientParams(params) {
		queryParams[k] = v
	}

	return &searchSource{queryParams: queryParams}, nil
}

// Partition implements Source.
func (s *searchSource) Partition(int, int) (Source, error) { return s, nil }

// Params implements Source.
func (s *searchSource) Params() (map[string]any, error) {
	return copyParams(s.queryParams), nil
}

// Size implements Source.
func (s *searchSource) Size() (int, bool) { return 0, false }
