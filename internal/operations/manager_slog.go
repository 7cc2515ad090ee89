package operations

import (
	"context"
	"log/slog"
	"time"
)

// logOperationStart logs the start of a run
func (m *Manager) logOperationStart(ctx context.Context, operationID string, steps []string) {
	m.logger.InfoContext(ctx, "operation_start",
		slog.String("operation_id", operationID),
		slog.Any("steps", steps))
}

// logOperationComplete logs the end of a run with the step tally
func (m *Manager) logOperationComplete(ctx context.Context, state *OperationState) {
	level := slog.LevelInfo
	if state.Status != OperationStatusCompleted {
		level = slog.LevelError
	}
	counts := state.Counts()
	m.logger.Log(ctx, level, "operation_complete",
		slog.String("operation_id", state.ID),
		slog.String("status", string(state.Status)),
		slog.Duration("duration", state.Duration()),
		slog.Int("completed", counts[StepStatusCompleted]),
		slog.Int("failed", counts[StepStatusFailed]),
		slog.Int("skipped", counts[StepStatusSkipped]),
		slog.Any("failed_steps", state.StepIDs(StepStatusFailed)))
}

// logOperationError logs a failure to plan a run
func (m *Manager) logOperationError(ctx context.Context, operationID string, err error) {
	m.logger.ErrorContext(ctx, "operation_error",
		slog.String("operation_id", operationID),
		slog.String("error", errString(err)))
}

// logStageStart logs the start of a step attempt
func (m *Manager) logStageStart(ctx context.Context, operationID, stageID string, attempt int) {
	m.logger.InfoContext(ctx, "stage_start",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.Int("attempt", attempt))
}

// logStageComplete logs the completion of a step
func (m *Manager) logStageComplete(ctx context.Context, operationID, stageID string, duration time.Duration, rows int) {
	m.logger.InfoContext(ctx, "stage_complete",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.Duration("duration", duration),
		slog.Int("rows", rows))
}

// logStageError logs a step failure
func (m *Manager) logStageError(ctx context.Context, operationID, stageID string, err error) {
	m.logger.ErrorContext(ctx, "stage_error",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.String("error_type", string(GetErrorType(err))),
		slog.String("error", errString(err)))
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
