package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailError_Format(t *testing.T) {
	err := NewSyntaxError("indices and data-streams cannot both be specified", "workload.json", "data-streams")

	var detail *DetailError
	require.ErrorAs(t, err, &detail)

	msg := err.Error()
	assert.Contains(t, msg, "invalid workload")
	assert.Contains(t, msg, "Location: workload.json")
	assert.Contains(t, msg, "Field: data-streams")
	assert.Contains(t, msg, "indices and data-streams cannot both be specified")
}

func TestDetailError_Unwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"syntax", NewSyntaxError("bad", "", ""), ErrWorkloadSyntax},
		{"setup", NewSystemSetupError("offline", ""), ErrSystemSetup},
		{"data", NewDataError("size mismatch", "documents.json"), ErrData},
		{"config", NewWorkloadConfigError("unused params", ""), ErrWorkloadConfig},
		{"assertion", NewAssertionError("partitions disagree: %d != %d", 4, 8), ErrAssertion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestExitCodeFromError(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFromError(nil))
	assert.Equal(t, ExitSyntaxError, ExitCodeFromError(NewSyntaxError("bad", "", "")))
	assert.Equal(t, ExitSetupError, ExitCodeFromError(NewSystemSetupError("offline", "")))
	assert.Equal(t, ExitDataError, ExitCodeFromError(NewDataError("mismatch", "")))
	assert.Equal(t, ExitDataError, ExitCodeFromError(Wrap(ErrDataStreaming, "no newline in chunk")))
	assert.Equal(t, ExitConfigError, ExitCodeFromError(NewWorkloadConfigError("unused", "")))
	assert.Equal(t, ExitAssertionError, ExitCodeFromError(NewAssertionError("bug")))
	assert.Equal(t, ExitGeneralError, ExitCodeFromError(errors.New("anything else")))
}

func TestExitError_PreservesWrappedCode(t *testing.T) {
	inner := NewDataError("corrupt archive", "docs.json.bz2")
	err := &ExitError{Code: ExitDataError, Err: inner}

	assert.Equal(t, inner.Error(), err.Error())
	assert.ErrorIs(t, err, ErrData)

	wrapped := fmt.Errorf("running benchmark: %w", err)
	var exitErr *ExitError
	require.ErrorAs(t, wrapped, &exitErr)
	assert.Equal(t, ExitDataError, exitErr.Code)
}
