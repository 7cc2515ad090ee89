package operations

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"factorpanel/internal/infrastructure"
)

// Manager runs registered steps in dependency order
type Manager struct {
	registry *Registry
	config   *Config
	tracer   *OperationTracer
	logger   *slog.Logger
}

// NewManager creates a Manager. Nil arguments fall back to an empty
// registry, the default config, a no-op tracer and the global logger.
func NewManager(registry *Registry, config *Config, tracer *OperationTracer, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if tracer == nil {
		tracer, _ = NewOperationTracer(nil)
	}
	return &Manager{
		registry: registry,
		config:   config,
		tracer:   tracer,
		logger:   infrastructure.WithComponent(logger, "pipeline"),
	}
}

// RegisterStage registers a Step with the manager
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// GetRegistry returns the registry of the manager
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Execute runs the requested steps, or all of them, and returns the final
// state. The error is the first step failure, or an *ErrorList when the
// config continues past failures.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, error) {
	if req.ID == "" {
		req.ID = infrastructure.GetTraceID(ctx)
	}
	if req.ID == "" {
		req.ID = infrastructure.GenerateTraceID()
	}
	if infrastructure.GetTraceID(ctx) == "" {
		ctx = infrastructure.WithTraceID(ctx, req.ID)
	}

	state := NewOperationState(req.ID)
	for k, v := range req.Parameters {
		state.SetParameter(k, v)
	}

	steps, err := m.selectSteps(req)
	if err != nil {
		m.logOperationError(ctx, req.ID, err)
		state.Fail(err)
		return m.createResponse(state), NewFatalError("cannot plan run", err)
	}

	ids := make([]string, len(steps))
	for i, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
		ids[i] = step.ID()
	}

	ctx, span := m.tracer.TraceOperationExecution(ctx, req.ID, ids)
	defer span.End()

	m.logOperationStart(ctx, req.ID, ids)
	state.Start()

	err = m.executeSequential(ctx, state, steps)

	if err != nil {
		if GetErrorType(err) == ErrorTypeCancellation {
			state.Cancel(err)
		} else {
			state.Fail(err)
		}
	} else {
		state.Complete()
	}

	m.tracer.RecordOperationCompletion(ctx, span, state.Duration(), err)
	m.logOperationComplete(ctx, state)

	return m.createResponse(state), err
}

func (m *Manager) selectSteps(req OperationRequest) ([]Step, error) {
	if len(req.Steps) == 0 {
		return m.registry.GetDependencyOrder()
	}
	return m.registry.Closure(req.Steps)
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	var failures ErrorList

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			m.logger.WarnContext(ctx, "operation_cancelled",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()))
			m.skipRemaining(state, steps[i:], "run cancelled")
			return NewCancellationError(step.ID(), err)
		}

		stepState := state.GetStage(step.ID())
		if stepState.Status == StepStatusSkipped {
			m.logger.InfoContext(ctx, "stage_skipped",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.String("reason", stepState.Message))
			continue
		}

		m.logger.DebugContext(ctx, "executing_stage",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(steps)))

		err := m.executeStage(ctx, state, step)
		if err == nil {
			continue
		}

		m.logStageError(ctx, state.ID, step.ID(), err)
		if GetErrorType(err) == ErrorTypeCancellation {
			m.skipRemaining(state, steps[i+1:], "run cancelled")
			return err
		}
		if !m.config.ContinueOnError {
			m.skipRemaining(state, steps[i+1:], fmt.Sprintf("step %s failed", step.ID()))
			return err
		}
		var opErr *OperationError
		if stderrors.As(err, &opErr) {
			failures.Add(opErr)
		} else {
			failures.Add(WrapError(err, step.ID(), "step execution failed"))
		}
		m.skipDependentStages(state, steps, step.ID())
	}

	if failures.HasErrors() {
		return &failures
	}
	return nil
}

// executeStage executes a single Step with retry logic
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError(fmt.Sprintf("no state for step %s", step.ID()), nil)
	}

	if err := m.checkDependencies(state, step); err != nil {
		stepState.Skip(err.Error())
		return err
	}

	if err := step.Validate(state); err != nil {
		verr := NewValidationError(step.ID(), err.Error())
		stepState.Fail(verr)
		return verr
	}

	timeout := m.config.GetStageTimeout(step.ID())
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// records emitted inside the step carry its id
	stageCtx = infrastructure.WithStep(stageCtx, step.ID())

	retry := m.config.RetryConfig
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		stepState.Start()
		m.logStageStart(ctx, state.ID, step.ID(), attempt)

		spanCtx, span := m.tracer.TraceStageExecution(stageCtx, state.ID, step.ID(), attempt)
		err := step.Execute(spanCtx, state)
		duration := stepState.Duration()

		var opErr *OperationError
		switch {
		case err == nil:
		case stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			opErr = NewTimeoutError(step.ID(), timeout.String())
			opErr.Cause = err
		default:
			opErr = classifyStepError(ctx, step.ID(), err)
		}

		if opErr == nil {
			stepState.Complete()
			m.tracer.RecordStageCompletion(spanCtx, span, step.ID(), duration, stepState.Rows(), nil)
			span.End()
			m.logStageComplete(ctx, state.ID, step.ID(), duration, stepState.Rows())
			return nil
		}

		m.tracer.RecordStageCompletion(spanCtx, span, step.ID(), duration, 0, opErr)
		span.End()

		if opErr.Type == ErrorTypeTimeout || !opErr.Retryable || attempt >= retry.MaxAttempts {
			stepState.Fail(opErr)
			return opErr
		}

		delay := retry.Delay(attempt)
		m.logger.WarnContext(ctx, "stage_retry",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retry.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-stageCtx.Done():
			final := classifyStepError(ctx, step.ID(), stageCtx.Err())
			if ctx.Err() == nil {
				final = NewTimeoutError(step.ID(), timeout.String())
			}
			stepState.Fail(final)
			return final
		}
	}
}

// skipDependentStages marks every step that depends, transitively, on the
// failed step as skipped
func (m *Manager) skipDependentStages(state *OperationState, steps []Step, failedStageID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep != failedStageID {
				continue
			}
			stepState := state.GetStage(step.ID())
			if stepState != nil && stepState.Status == StepStatusPending {
				stepState.Skip(fmt.Sprintf("dependency %s failed", failedStageID))
				m.skipDependentStages(state, steps, step.ID())
			}
			break
		}
	}
}

func (m *Manager) skipRemaining(state *OperationState, steps []Step, reason string) {
	for _, step := range steps {
		if stepState := state.GetStage(step.ID()); stepState != nil && stepState.Status == StepStatusPending {
			stepState.Skip(reason)
		}
	}
}

// checkDependencies verifies that all dependencies completed
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not scheduled", dep))
		}
		if depState.Status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not completed (status: %s)", dep, depState.Status))
		}
	}
	return nil
}

// createResponse creates a run response from state
func (m *Manager) createResponse(state *OperationState) *OperationResponse {
	state.mu.RLock()
	defer state.mu.RUnlock()

	resp := &OperationResponse{
		ID:        state.ID,
		Status:    state.Status,
		Steps:     state.Steps,
		Artifacts: make(map[string]interface{}, len(state.Context)),
	}
	if state.EndTime != nil {
		resp.Duration = state.EndTime.Sub(state.StartTime)
	}
	for k, v := range state.Context {
		resp.Artifacts[k] = v
	}
	if state.Error != nil {
		resp.Error = state.Error.Error()
	}
	return resp
}
