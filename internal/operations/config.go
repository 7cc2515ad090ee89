package operations

import (
	"time"

	"factorpanel/internal/config"
)

// Config controls how the Manager executes steps
type Config struct {
	// StageTimeouts bounds each attempt of a step; unlisted steps get
	// DefaultStageTimeout
	StageTimeouts map[string]time.Duration `json:"stage_timeouts"`

	// RetryConfig applies to retryable failures only
	RetryConfig RetryConfig `json:"retry_config"`

	// ContinueOnError runs steps that do not depend on a failed step
	ContinueOnError bool `json:"continue_on_error"`
}

// NewConfig returns the built-in step timeouts with default retries.
// It stops at the first failure.
func NewConfig() *Config {
	return &Config{
		StageTimeouts: map[string]time.Duration{
			StageIDLoad:      DefaultLoadTimeout,
			StageIDRegress:   DefaultRegressTimeout,
			StageIDVisualize: DefaultVisualizeTimeout,
		},
		RetryConfig: NewRetryConfig(),
	}
}

// ConfigFromSettings builds the runner config from the application runner
// section. Zero values keep the defaults.
func ConfigFromSettings(rc config.RunnerConfig) *Config {
	b := NewConfigBuilder().WithContinueOnError(rc.ContinueOnError)

	retry := NewRetryConfig()
	if rc.RetryAttempts > 0 {
		retry.MaxAttempts = rc.RetryAttempts
	}
	if rc.RetryDelay > 0 {
		retry.InitialDelay = rc.RetryDelay
	}
	if rc.MaxRetryDelay > 0 {
		retry.MaxDelay = rc.MaxRetryDelay
	}
	b.WithRetryConfig(retry)

	for id, timeout := range rc.StepTimeouts {
		if timeout > 0 {
			b.WithStageTimeout(id, timeout)
		}
	}
	return b.Build()
}

// GetStageTimeout returns the per-attempt timeout of a step
func (c *Config) GetStageTimeout(stageID string) time.Duration {
	if timeout, ok := c.StageTimeouts[stageID]; ok {
		return timeout
	}
	return DefaultStageTimeout
}

// SetStageTimeout overrides the timeout of a step
func (c *Config) SetStageTimeout(stageID string, timeout time.Duration) {
	if c.StageTimeouts == nil {
		c.StageTimeouts = make(map[string]time.Duration)
	}
	c.StageTimeouts[stageID] = timeout
}

// ConfigBuilder assembles a Config starting from NewConfig
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder starts from the defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: NewConfig()}
}

// WithStageTimeout overrides the timeout of a step
func (b *ConfigBuilder) WithStageTimeout(stageID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetStageTimeout(stageID, timeout)
	return b
}

// WithRetryConfig replaces the retry policy
func (b *ConfigBuilder) WithRetryConfig(retry RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = retry
	return b
}

// WithContinueOnError sets whether independent steps run after a failure
func (b *ConfigBuilder) WithContinueOnError(continueOnError bool) *ConfigBuilder {
	b.config.ContinueOnError = continueOnError
	return b
}

// Build returns the assembled Config
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
