package operations

import (
	"sort"
	"sync"
	"time"
)

// OperationStatusValue is the overall status of a run
type OperationStatusValue string

const (
	OperationStatusPending   OperationStatusValue = "pending"
	OperationStatusRunning   OperationStatusValue = "running"
	OperationStatusCompleted OperationStatusValue = "completed"
	OperationStatusFailed    OperationStatusValue = "failed"
	OperationStatusCancelled OperationStatusValue = "cancelled"
)

// OperationState is the shared state of one pipeline run. Steps hand their
// artifacts to each other through Context.
type OperationState struct {
	mu sync.RWMutex

	ID        string               `json:"id"`
	Status    OperationStatusValue `json:"status"`
	StartTime time.Time            `json:"start_time"`
	EndTime   *time.Time           `json:"end_time,omitempty"`

	Steps      map[string]*StepState  `json:"steps"`
	Context    map[string]interface{} `json:"-"`
	Parameters map[string]interface{} `json:"parameters"`

	Error error `json:"-"`
}

// NewOperationState creates a pending run
func NewOperationState(id string) *OperationState {
	return &OperationState{
		ID:         id,
		Status:     OperationStatusPending,
		StartTime:  time.Now(),
		Steps:      make(map[string]*StepState),
		Context:    make(map[string]interface{}),
		Parameters: make(map[string]interface{}),
	}
}

// Start marks the run as running
func (p *OperationState) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = OperationStatusRunning
	p.StartTime = time.Now()
}

// Complete marks the run as completed
func (p *OperationState) Complete() { p.finish(OperationStatusCompleted, nil) }

// Fail marks the run as failed with err
func (p *OperationState) Fail(err error) { p.finish(OperationStatusFailed, err) }

// Cancel marks the run as cancelled; err is the cancellation cause
func (p *OperationState) Cancel(err error) { p.finish(OperationStatusCancelled, err) }

func (p *OperationState) finish(status OperationStatusValue, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.EndTime = &now
	p.Status = status
	p.Error = err
}

// GetStage returns the state of a step, or nil
func (p *OperationState) GetStage(stageID string) *StepState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Steps[stageID]
}

// SetStage replaces the state of a step
func (p *OperationState) SetStage(stageID string, state *StepState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Steps[stageID] = state
}

// GetContext returns an artifact left by an earlier step
func (p *OperationState) GetContext(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.Context[key]
	return val, ok
}

// SetContext stores an artifact for later steps
func (p *OperationState) SetContext(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Context[key] = value
}

// Parameter returns a request parameter
func (p *OperationState) Parameter(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.Parameters[key]
	return val, ok
}

// SetParameter records a request parameter
func (p *OperationState) SetParameter(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Parameters[key] = value
}

// Duration returns the run time so far, or the total once finished
func (p *OperationState) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

// StepIDs returns the sorted IDs of the steps in status
func (p *OperationState) StepIDs(status StepStatus) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, step := range p.Steps {
		if step.currentStatus() == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of steps per status
func (p *OperationState) Counts() map[StepStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[StepStatus]int, 5)
	for _, step := range p.Steps {
		counts[step.currentStatus()]++
	}
	return counts
}

// IsComplete reports whether no step is pending or active
func (p *OperationState) IsComplete() bool {
	counts := p.Counts()
	return counts[StepStatusPending] == 0 && counts[StepStatusActive] == 0
}

// HasFailures reports whether any step failed
func (p *OperationState) HasFailures() bool {
	return p.Counts()[StepStatusFailed] > 0
}
