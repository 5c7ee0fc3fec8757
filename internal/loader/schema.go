// Package loader reads, validates, and post-processes workload definitions:
// schema validation of the rendered JSON, model construction with all
// cross-field invariants, the workload processors, and local preparation of
// document sets.
package loader

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	serrors "github.com/searchbench/sbench/internal/errors"
)

//go:embed schema/workload.cue
var workloadSchemaCUE []byte

// SchemaValidator validates rendered workload JSON against the embedded CUE
// schema.
type SchemaValidator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewSchemaValidator compiles the embedded schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(workloadSchemaCUE)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling workload schema: %w", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath("#Workload"))
	if def.Err() != nil {
		return nil, fmt.Errorf("resolving #Workload definition: %w", def.Err())
	}

	return &SchemaValidator{ctx: ctx, schema: def}, nil
}

// Validate unifies the workload JSON with the schema and reports violations
// as WorkloadSyntaxError.
func (v *SchemaValidator) Validate(workloadName string, rendered []byte) error {
	expr, err := cuejson.Extract(workloadName+".json", rendered)
	if err != nil {
		return serrors.NewSyntaxError(
			fmt.Sprintf("workload %q is not valid JSON: %v", workloadName, err), workloadName, "")
	}

	value := v.ctx.BuildExpr(expr)
	if value.Err() != nil {
		return serrors.NewSyntaxError(
			fmt.Sprintf("workload %q could not be evaluated: %v", workloadName, value.Err()), workloadName, "")
	}

	unified := v.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return serrors.NewSyntaxError(
			fmt.Sprintf("workload %q is invalid.\n\nError details: %v", workloadName, err), workloadName, "")
	}
	return nil
}
