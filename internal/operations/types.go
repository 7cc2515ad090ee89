package operations

import (
	"time"
)

// Pipeline step identifiers
const (
	StageIDLoad       = "load"
	StageIDPanel      = "panel"
	StageIDMembership = "membership"
	StageIDClassify   = "classify"
	StageIDFactors    = "factors"
	StageIDRegress    = "regress"
	StageIDVisualize  = "visualize"
	StageIDExport     = "export"
)

// Pipeline step names
const (
	StageNameLoad       = "Load Inputs"
	StageNamePanel      = "Build Panel"
	StageNameMembership = "Filter Membership"
	StageNameClassify   = "Classify Industries"
	StageNameFactors    = "Merge Factors"
	StageNameRegress    = "Fit Factor Models"
	StageNameVisualize  = "Render Histograms"
	StageNameExport     = "Export Artifacts"
)

// Context keys for the artifacts steps hand to each other
const (
	ContextKeyTables     = "tables"
	ContextKeyPanel      = "panel"
	ContextKeyFinal      = "final"
	ContextKeyResults    = "results"
	ContextKeyPlotFiles  = "plot_files"
	ContextKeyExportPath = "export_path"
	ContextKeyReportPath = "report_path"
)

// Step metadata keys
const (
	MetaRows    = "rows"
	MetaOutput  = "output"
	MetaSources = "sources"
)

// Default timeouts
const (
	DefaultStageTimeout     = 30 * time.Minute
	DefaultLoadTimeout      = 10 * time.Minute
	DefaultRegressTimeout   = 5 * time.Minute
	DefaultVisualizeTimeout = 5 * time.Minute
)

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before the given retry attempt (1-based)
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if c.MaxDelay > 0 && d > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// OperationRequest describes one pipeline run
type OperationRequest struct {
	ID string `json:"id"`
	// Steps limits the run to these step IDs and their dependencies; empty runs all
	Steps      []string               `json:"steps,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// OperationResponse summarizes a finished run
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`

	// Artifacts holds what the steps left in the run context
	Artifacts map[string]interface{} `json:"-"`
}
