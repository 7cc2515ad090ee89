package operations

import (
	"context"
	"sync"
	"time"
)

// Step is a single unit of a pipeline run
type Step interface {
	// ID returns the unique identifier for this Step
	ID() string

	// Name returns the human-readable name for this Step
	Name() string

	// Execute runs the Step against the shared run state
	Execute(ctx context.Context, state *OperationState) error

	// Validate checks that the artifacts the Step consumes are present
	Validate(state *OperationState) error

	// GetDependencies returns the IDs of steps that must complete first
	GetDependencies() []string
}

// StepStatus is the lifecycle position of a step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepState is the progress of one step within a run. Attempts counts
// Start calls, so a retried step reports how often it ran.
type StepState struct {
	mu        sync.RWMutex
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    StepStatus             `json:"status"`
	StartTime *time.Time             `json:"start_time,omitempty"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Attempts  int                    `json:"attempts"`
	Message   string                 `json:"message"`
	Error     error                  `json:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewStepState returns a pending step
func NewStepState(id, name string) *StepState {
	return &StepState{
		ID:       id,
		Name:     name,
		Status:   StepStatusPending,
		Metadata: make(map[string]interface{}),
	}
}

// Start begins a new attempt
func (s *StepState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()
	s.StartTime, s.EndTime = &started, nil
	s.Status = StepStatusActive
	s.Attempts++
}

// Complete ends the step successfully, clearing any earlier attempt's error
func (s *StepState) Complete() { s.end(StepStatusCompleted, nil, "") }

// Fail ends the step with err
func (s *StepState) Fail(err error) { s.end(StepStatusFailed, err, "") }

// Skip ends a step that never ran, with the reason shown to the user
func (s *StepState) Skip(reason string) { s.end(StepStatusSkipped, nil, reason) }

func (s *StepState) end(status StepStatus, err error, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ended := time.Now()
	s.EndTime = &ended
	s.Status = status
	s.Error = err
	if message != "" {
		s.Message = message
	}
}

func (s *StepState) currentStatus() StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// SetMetadata records a value reported by the Step, such as a row count
func (s *StepState) SetMetadata(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Metadata[key] = value
}

// GetMetadata returns a value recorded with SetMetadata
func (s *StepState) GetMetadata(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Metadata[key]
	return v, ok
}

// Rows returns the row count the Step reported, or 0
func (s *StepState) Rows() int {
	v, ok := s.GetMetadata(MetaRows)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// Duration is the time spent in the latest attempt
func (s *StepState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.StartTime == nil:
		return 0
	case s.EndTime == nil:
		return time.Since(*s.StartTime)
	default:
		return s.EndTime.Sub(*s.StartTime)
	}
}

// BaseStage carries the identity and dependencies of a Step. Steps embed
// it and override Validate when they consume artifacts.
type BaseStage struct {
	id   string
	name string
	deps []string
}

// NewBaseStage returns the identity of a step depending on deps
func NewBaseStage(id, name string, deps []string) BaseStage {
	return BaseStage{id: id, name: name, deps: append([]string{}, deps...)}
}

func (b BaseStage) ID() string                { return b.id }
func (b BaseStage) Name() string              { return b.name }
func (b BaseStage) GetDependencies() []string { return b.deps }

// Validate accepts any state
func (b BaseStage) Validate(*OperationState) error { return nil }
