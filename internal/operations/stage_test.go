package operations_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorpanel/internal/operations"
)

func TestStepStateTransitions(t *testing.T) {
	s := operations.NewStepState("load", "Load Inputs")
	assert.Equal(t, operations.StepStatusPending, s.Status)
	assert.Zero(t, s.Duration())

	s.Start()
	assert.Equal(t, operations.StepStatusActive, s.Status)
	assert.Equal(t, 1, s.Attempts)
	require.NotNil(t, s.StartTime)

	boom := errors.New("boom")
	s.Fail(boom)
	assert.Equal(t, operations.StepStatusFailed, s.Status)
	assert.Equal(t, boom, s.Error)

	s.Start()
	assert.Equal(t, 2, s.Attempts)
	assert.Nil(t, s.EndTime)

	time.Sleep(2 * time.Millisecond)
	s.Complete()
	assert.Equal(t, operations.StepStatusCompleted, s.Status)
	assert.NoError(t, s.Error)
	assert.Positive(t, s.Duration())
}

func TestStepStateSkip(t *testing.T) {
	s := operations.NewStepState("export", "Export Artifacts")
	s.Skip("dependency regress failed")

	assert.Equal(t, operations.StepStatusSkipped, s.Status)
	assert.Equal(t, "dependency regress failed", s.Message)
	assert.NotNil(t, s.EndTime)
}

func TestStepStateMetadata(t *testing.T) {
	s := operations.NewStepState("panel", "Build Panel")
	assert.Zero(t, s.Rows())

	s.SetMetadata(operations.MetaRows, 42)
	s.SetMetadata("engine", "frame")

	assert.Equal(t, 42, s.Rows())
	v, ok := s.GetMetadata("engine")
	require.True(t, ok)
	assert.Equal(t, "frame", v)

	_, ok = s.GetMetadata("missing")
	assert.False(t, ok)
}

func TestBaseStage(t *testing.T) {
	b := operations.NewBaseStage("classify", "Classify Industries", []string{"membership"})
	assert.Equal(t, "classify", b.ID())
	assert.Equal(t, "Classify Industries", b.Name())
	assert.Equal(t, []string{"membership"}, b.GetDependencies())
	assert.NoError(t, b.Validate(operations.NewOperationState("run")))

	empty := operations.NewBaseStage("load", "Load Inputs", nil)
	assert.NotNil(t, empty.GetDependencies())
	assert.Empty(t, empty.GetDependencies())

	deps := []string{"panel"}
	copied := operations.NewBaseStage("membership", "Filter Membership", deps)
	deps[0] = "mutated"
	assert.Equal(t, []string{"panel"}, copied.GetDependencies())
}

func TestOperationStateQueries(t *testing.T) {
	state := operations.NewOperationState("run-1")
	for _, id := range []string{"a", "b", "c"} {
		state.SetStage(id, operations.NewStepState(id, id))
	}
	assert.False(t, state.IsComplete())

	state.GetStage("a").Complete()
	state.GetStage("b").Fail(errors.New("x"))
	state.GetStage("c").Skip("dependency b failed")

	assert.True(t, state.IsComplete())
	assert.True(t, state.HasFailures())
	assert.Equal(t, []string{"a"}, state.StepIDs(operations.StepStatusCompleted))
	assert.Equal(t, []string{"b"}, state.StepIDs(operations.StepStatusFailed))
	assert.Equal(t, map[operations.StepStatus]int{
		operations.StepStatusCompleted: 1,
		operations.StepStatusFailed:    1,
		operations.StepStatusSkipped:   1,
	}, state.Counts())

	state.SetParameter("engine", "sqlite")
	v, ok := state.Parameter("engine")
	require.True(t, ok)
	assert.Equal(t, "sqlite", v)

	cause := errors.New("interrupted")
	state.Cancel(cause)
	assert.Equal(t, operations.OperationStatusCancelled, state.Status)
	assert.Equal(t, cause, state.Error)
	assert.NotNil(t, state.EndTime)
}
