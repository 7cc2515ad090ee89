package operations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "factorpanel/internal/errors"
)

func TestOperationErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := NewExecutionError(StageIDExport, cause, false)

	assert.Equal(t, "[execution] export: step execution failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	fatal := NewFatalError("cannot plan run", nil)
	assert.Equal(t, "[fatal] cannot plan run", fatal.Error())

	var nilErr *OperationError
	assert.Equal(t, "unknown pipeline error", nilErr.Error())
	assert.NoError(t, nilErr.Unwrap())
}

func TestClassifyStepError(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{
			name:      "remote load failure",
			err:       apperrors.NewLoadError("https://example.com/f.csv", errors.New("503")),
			wantType:  ErrorTypeExecution,
			retryable: true,
		},
		{
			name:     "remote not found",
			err:      apperrors.NewLoadError("https://example.com/f.csv", errors.New("404")).WithContext("status", 404),
			wantType: ErrorTypeExecution,
		},
		{
			name:      "remote throttled",
			err:       apperrors.NewLoadError("https://example.com/f.csv", errors.New("429")).WithContext("status", 429),
			wantType:  ErrorTypeExecution,
			retryable: true,
		},
		{
			name:     "local load failure",
			err:      apperrors.NewLoadError("data/header.csv", errors.New("no such file")),
			wantType: ErrorTypeExecution,
		},
		{
			name:      "wrapped remote load failure",
			err:       fmt.Errorf("firms: %w", apperrors.NewLoadError("http://host/x.csv", errors.New("reset"))),
			wantType:  ErrorTypeExecution,
			retryable: true,
		},
		{
			name:     "cardinality guard",
			err:      apperrors.NewCardinalityError("cross join", 10, 5),
			wantType: ErrorTypeExecution,
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			wantType: ErrorTypeCancellation,
		},
		{
			name:     "already classified",
			err:      NewValidationError("", "tables not available"),
			wantType: ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStepError(ctx, StageIDLoad, tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, StageIDLoad, got.Step)
			assert.Equal(t, tt.retryable, IsRetryable(got))
		})
	}
}

func TestClassifyStepErrorKeepsDomainType(t *testing.T) {
	fitErr := apperrors.NewFitError("all", "no model could be fitted")
	got := classifyStepError(context.Background(), StageIDRegress, fitErr)

	assert.True(t, apperrors.IsType(got, apperrors.ErrTypeFit))
	assert.Equal(t, ErrorTypeExecution, GetErrorType(got))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "x", "y"))

	base := errors.New("boom")
	wrapped := WrapError(base, StageIDPanel, "build failed")
	assert.Equal(t, StageIDPanel, wrapped.Step)
	assert.ErrorIs(t, wrapped, base)

	existing := NewTimeoutError("", "1s")
	again := WrapError(existing, StageIDPanel, "retry")
	assert.Same(t, existing, again)
	assert.Equal(t, StageIDPanel, again.Step)
	assert.Contains(t, again.Message, "retry: step exceeded timeout of 1s")
}

func TestErrorList(t *testing.T) {
	var list ErrorList
	assert.False(t, list.HasErrors())
	assert.Equal(t, "no errors", list.Error())

	list.Add(nil)
	list.Add(NewExecutionError(StageIDRegress, apperrors.NewFitError("all", "none"), false))
	list.Add(NewValidationError(StageIDVisualize, "missing column"))

	assert.True(t, list.HasErrors())
	assert.Len(t, list.GetByStage(StageIDRegress), 1)
	assert.Contains(t, list.Error(), "2 errors occurred")

	var err error = &list
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeFit))
}

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10, MaxDelay: 35, Multiplier: 2}
	assert.EqualValues(t, 10, cfg.Delay(1))
	assert.EqualValues(t, 20, cfg.Delay(2))
	assert.EqualValues(t, 35, cfg.Delay(3))
}
