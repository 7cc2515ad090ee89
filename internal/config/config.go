package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"factorpanel/pkg/contracts/domain"
)

// Config represents the complete application configuration
type Config struct {
	Inputs         InputsConfig         `yaml:"inputs" envconfig:"INPUTS"`
	Columns        ColumnsConfig        `yaml:"columns" envconfig:"COLUMNS"`
	Window         WindowConfig         `yaml:"window" envconfig:"WINDOW"`
	Returns        ReturnsConfig        `yaml:"returns" envconfig:"RETURNS"`
	Classification ClassificationConfig `yaml:"classification" envconfig:"CLASSIFICATION"`
	Factors        FactorsConfig        `yaml:"factors" envconfig:"FACTORS"`
	Join           JoinConfig           `yaml:"join" envconfig:"JOIN"`
	Limits         LimitsConfig         `yaml:"limits" envconfig:"LIMITS"`
	Overlap        OverlapConfig        `yaml:"overlap" envconfig:"OVERLAP"`
	Regression     RegressionConfig     `yaml:"regression" envconfig:"REGRESSION"`
	Plots          PlotsConfig          `yaml:"plots" envconfig:"PLOTS"`
	Output         OutputConfig         `yaml:"output" envconfig:"OUTPUT"`
	Runner         RunnerConfig         `yaml:"runner" envconfig:"RUNNER"`
	Logging        LoggingConfig        `yaml:"logging" envconfig:"LOGGING"`
	Observability  ObservabilityConfig  `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// InputsConfig locates the six input tables. Each location is a local path
// or an http(s) URL.
type InputsConfig struct {
	FirmHeader     string        `yaml:"firm_header" envconfig:"FIRM_HEADER" validate:"required"`
	IndexReturns   string        `yaml:"index_returns" envconfig:"INDEX_RETURNS" validate:"required"`
	Membership     string        `yaml:"membership" envconfig:"MEMBERSHIP" validate:"required"`
	FirmReturns    string        `yaml:"firm_returns" envconfig:"FIRM_RETURNS" validate:"required"`
	Classification string        `yaml:"classification" envconfig:"CLASSIFICATION" validate:"required"`
	Factors        string        `yaml:"factors" envconfig:"FACTORS" validate:"required"`
	DateLayout     string        `yaml:"date_layout" envconfig:"DATE_LAYOUT" validate:"required"`
	Delimiter      string        `yaml:"delimiter" envconfig:"DELIMITER" validate:"len=1"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" validate:"gt=0"`
	// RemoteRPS throttles remote fetches; 0 disables the limit
	RemoteRPS   float64 `yaml:"remote_rps" envconfig:"REMOTE_RPS" validate:"gte=0"`
	RemoteBurst int     `yaml:"remote_burst" envconfig:"REMOTE_BURST" validate:"gte=0"`
}

// ColumnsConfig names the source columns of every input table
type ColumnsConfig struct {
	FirmHeader     FirmHeaderColumns     `yaml:"firm_header" envconfig:"FIRM_HEADER"`
	IndexReturns   IndexReturnsColumns   `yaml:"index_returns" envconfig:"INDEX_RETURNS"`
	Membership     MembershipColumns     `yaml:"membership" envconfig:"MEMBERSHIP"`
	FirmReturns    FirmReturnsColumns    `yaml:"firm_returns" envconfig:"FIRM_RETURNS"`
	Classification ClassificationColumns `yaml:"classification" envconfig:"CLASSIFICATION"`
	Factors        FactorsColumns        `yaml:"factors" envconfig:"FACTORS"`
}

// FirmHeaderColumns names the firm header columns
type FirmHeaderColumns struct {
	Permno       string `yaml:"permno" envconfig:"PERMNO" validate:"required"`
	IndustryCode string `yaml:"industry_code" envconfig:"INDUSTRY_CODE" validate:"required"`
	Name         string `yaml:"name" envconfig:"NAME" validate:"required"`
	Begin        string `yaml:"begin" envconfig:"BEGIN" validate:"required"`
	End          string `yaml:"end" envconfig:"END" validate:"required"`
}

// IndexReturnsColumns names the market index return columns
type IndexReturnsColumns struct {
	Date string `yaml:"date" envconfig:"DATE" validate:"required"`
}

// MembershipColumns names the index membership columns
type MembershipColumns struct {
	Permno string `yaml:"permno" envconfig:"PERMNO" validate:"required"`
	Start  string `yaml:"start" envconfig:"START" validate:"required"`
	End    string `yaml:"end" envconfig:"END" validate:"required"`
}

// FirmReturnsColumns names the monthly firm return columns
type FirmReturnsColumns struct {
	Permno      string `yaml:"permno" envconfig:"PERMNO" validate:"required"`
	Date        string `yaml:"date" envconfig:"DATE" validate:"required"`
	Return      string `yaml:"return" envconfig:"RETURN" validate:"required"`
	ReturnExDiv string `yaml:"return_ex_div" envconfig:"RETURN_EX_DIV" validate:"required"`
}

// ClassificationColumns names the industry classification columns. Scheme
// may be empty when the table carries a single scheme.
type ClassificationColumns struct {
	Scheme string `yaml:"scheme" envconfig:"SCHEME"`
	Class  string `yaml:"class" envconfig:"CLASS" validate:"required"`
	Start  string `yaml:"start" envconfig:"START" validate:"required"`
	End    string `yaml:"end" envconfig:"END" validate:"required"`
}

// FactorsColumns names the three-factor table columns
type FactorsColumns struct {
	Date  string `yaml:"date" envconfig:"DATE" validate:"required"`
	MktRF string `yaml:"mktrf" envconfig:"MKTRF" validate:"required"`
	SMB   string `yaml:"smb" envconfig:"SMB" validate:"required"`
	HML   string `yaml:"hml" envconfig:"HML" validate:"required"`
	RF    string `yaml:"rf" envconfig:"RF" validate:"required"`
}

// WindowConfig bounds the analysis sample (ISO dates, inclusive).
// MembershipGranularity "month" widens membership intervals to whole
// calendar months, matching month-end panel dates to intervals that end
// earlier in the same month.
type WindowConfig struct {
	Start                 string `yaml:"start" envconfig:"START" validate:"required,datetime=2006-01-02"`
	End                   string `yaml:"end" envconfig:"END" validate:"required,datetime=2006-01-02"`
	MembershipGranularity string `yaml:"membership_granularity" envconfig:"MEMBERSHIP_GRANULARITY" validate:"oneof=day month"`
}

// ReturnsConfig controls return validation and missing-value handling
type ReturnsConfig struct {
	Floor         float64 `yaml:"floor" envconfig:"FLOOR"`
	MissingPolicy string  `yaml:"missing_policy" envconfig:"MISSING_POLICY" validate:"oneof=zero drop"`
	InvalidPolicy string  `yaml:"invalid_policy" envconfig:"INVALID_POLICY" validate:"oneof=zero drop"`
}

// ClassificationConfig controls the industry range join
type ClassificationConfig struct {
	Scheme        int `yaml:"scheme" envconfig:"SCHEME"`
	SentinelClass int `yaml:"sentinel_class" envconfig:"SENTINEL_CLASS"`
	SentinelBound int `yaml:"sentinel_bound" envconfig:"SENTINEL_BOUND"`
}

// FactorsConfig controls decoding of the three-factor table
type FactorsConfig struct {
	Scale          float64 `yaml:"scale" envconfig:"SCALE" validate:"gt=0"`
	SkipNonMonthly bool    `yaml:"skip_non_monthly" envconfig:"SKIP_NON_MONTHLY"`
}

// JoinConfig selects the relational engine used for the joins
type JoinConfig struct {
	Engine string `yaml:"engine" envconfig:"ENGINE" validate:"oneof=frame sqlite"`
}

// LimitsConfig guards against join cardinality explosions
type LimitsConfig struct {
	MaxRows int64 `yaml:"max_rows" envconfig:"MAX_ROWS" validate:"gt=0"`
}

// OverlapConfig decides what happens when overlapping intervals duplicate rows
type OverlapConfig struct {
	Policy string `yaml:"policy" envconfig:"POLICY" validate:"oneof=warn reject allow"`
}

// RegressionConfig controls the factor-model fits
type RegressionConfig struct {
	Classes         []int   `yaml:"classes" envconfig:"CLASSES" validate:"required,min=1"`
	Dependent       string  `yaml:"dependent" envconfig:"DEPENDENT" validate:"oneof=ret excess"`
	ConfidenceLevel float64 `yaml:"confidence_level" envconfig:"CONFIDENCE_LEVEL" validate:"gt=0,lt=1"`
}

// PlotsConfig controls the diagnostic histograms
type PlotsConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	Dir     string  `yaml:"dir" envconfig:"DIR"`
	Column  string  `yaml:"column" envconfig:"COLUMN" validate:"oneof=ret retx"`
	Bins    []int   `yaml:"bins" envconfig:"BINS" validate:"required,min=1,dive,gt=1"`
	Width   float64 `yaml:"width" envconfig:"WIDTH" validate:"gt=0"`
	Height  float64 `yaml:"height" envconfig:"HEIGHT" validate:"gt=0"`
}

// OutputConfig lists optional artifacts. Empty paths disable the artifact.
type OutputConfig struct {
	ExportPath string `yaml:"export_path" envconfig:"EXPORT_PATH"`
	ReportPath string `yaml:"report_path" envconfig:"REPORT_PATH"`
}

// RunnerConfig controls step execution. StepTimeouts is keyed by step id
// and overrides the built-in per-step timeouts.
type RunnerConfig struct {
	ContinueOnError bool                     `yaml:"continue_on_error" envconfig:"CONTINUE_ON_ERROR"`
	RetryAttempts   int                      `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" validate:"gte=1"`
	RetryDelay      time.Duration            `yaml:"retry_delay" envconfig:"RETRY_DELAY" validate:"gte=0"`
	MaxRetryDelay   time.Duration            `yaml:"max_retry_delay" envconfig:"MAX_RETRY_DELAY" validate:"gte=0"`
	StepTimeouts    map[string]time.Duration `yaml:"step_timeouts" envconfig:"STEP_TIMEOUTS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ObservabilityConfig controls tracing and the metrics textfile
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Tracing     bool   `yaml:"tracing" envconfig:"TRACING"`
	TraceFile   string `yaml:"trace_file" envconfig:"TRACE_FILE"`
	MetricsFile string `yaml:"metrics_file" envconfig:"METRICS_FILE"`
}

// Load builds the configuration from defaults, an optional YAML file and
// FP_* environment variables, in increasing order of precedence.
// An empty path searches the default locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}

	baseDir := ""
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML file values onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the first config file found in the default locations
func getConfigFilePath() string {
	for _, location := range defaultConfigLocations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// resolvePaths makes relative local paths relative to the config file directory
func (c *Config) resolvePaths(baseDir string) {
	if baseDir == "" || baseDir == "." {
		return
	}
	for _, p := range []*string{
		&c.Inputs.FirmHeader,
		&c.Inputs.IndexReturns,
		&c.Inputs.Membership,
		&c.Inputs.FirmReturns,
		&c.Inputs.Classification,
		&c.Inputs.Factors,
		&c.Plots.Dir,
		&c.Output.ExportPath,
		&c.Output.ReportPath,
	} {
		*p = ResolvePath(baseDir, *p)
	}
}

// ResolvePath joins a relative local path onto baseDir. URLs, absolute
// paths and empty strings are returned unchanged.
func ResolvePath(baseDir, p string) string {
	if p == "" || IsRemote(p) || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// IsRemote reports whether a location is an http(s) URL
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	start, end, err := c.Window.Keys()
	if err != nil {
		return err
	}
	if start > end {
		return fmt.Errorf("analysis window start %s is after end %s", start, end)
	}

	if !containsInt(c.Regression.Classes, c.Classification.SentinelClass) {
		return fmt.Errorf("regression classes %v must include the sentinel class %d",
			c.Regression.Classes, c.Classification.SentinelClass)
	}

	if c.Returns.Floor >= 0 {
		return fmt.Errorf("return floor must be negative, got %g", c.Returns.Floor)
	}

	if c.Plots.Enabled && c.Plots.Dir == "" {
		return fmt.Errorf("plots are enabled but no plot directory is set")
	}

	return nil
}

// Keys returns the window bounds as packed date keys
func (w WindowConfig) Keys() (domain.DateKey, domain.DateKey, error) {
	start, err := time.Parse(ISODateLayout, w.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window start %q: %w", w.Start, err)
	}
	end, err := time.Parse(ISODateLayout, w.End)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid window end %q: %w", w.End, err)
	}
	return domain.NewDateKey(start), domain.NewDateKey(end), nil
}

// DelimiterRune returns the input field delimiter
func (i InputsConfig) DelimiterRune() rune {
	if i.Delimiter == "" {
		return ','
	}
	return []rune(i.Delimiter)[0]
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Inputs: InputsConfig{
			FirmHeader:     "data/header.csv",
			IndexReturns:   "data/index_returns.csv",
			Membership:     "data/membership.csv",
			FirmReturns:    "data/firm_returns.csv",
			Classification: "data/siccodes.csv",
			Factors:        "data/ff_factors.csv",
			DateLayout:     DefaultDateLayout,
			Delimiter:      ",",
			HTTPTimeout:    DefaultHTTPTimeout,
			RemoteRPS:      DefaultRemoteRPS,
			RemoteBurst:    DefaultRemoteBurst,
		},
		Columns: ColumnsConfig{
			FirmHeader: FirmHeaderColumns{
				Permno:       "PERMNO",
				IndustryCode: "HSICCD",
				Name:         "HCOMNAM",
				Begin:        "BEGDAT",
				End:          "ENDDAT",
			},
			IndexReturns: IndexReturnsColumns{Date: "DATE"},
			Membership: MembershipColumns{
				Permno: "PERMNO",
				Start:  "START",
				End:    "ENDING",
			},
			FirmReturns: FirmReturnsColumns{
				Permno:      "PERMNO",
				Date:        "DATE",
				Return:      "RET",
				ReturnExDiv: "RETX",
			},
			Classification: ClassificationColumns{
				Scheme: "scheme",
				Class:  "class",
				Start:  "start",
				End:    "end",
			},
			Factors: FactorsColumns{
				Date:  "date",
				MktRF: "Mkt-RF",
				SMB:   "SMB",
				HML:   "HML",
				RF:    "RF",
			},
		},
		Window: WindowConfig{
			Start:                 DefaultWindowStart,
			End:                   DefaultWindowEnd,
			MembershipGranularity: GranularityMonth,
		},
		Returns: ReturnsConfig{
			Floor:         DefaultReturnFloor,
			MissingPolicy: PolicyZero,
			InvalidPolicy: PolicyZero,
		},
		Classification: ClassificationConfig{
			Scheme:        DefaultClassificationScheme,
			SentinelClass: DefaultSentinelClass,
			SentinelBound: DefaultSentinelBound,
		},
		Factors: FactorsConfig{
			Scale:          100,
			SkipNonMonthly: true,
		},
		Join:    JoinConfig{Engine: EngineFrame},
		Limits:  LimitsConfig{MaxRows: DefaultMaxRows},
		Overlap: OverlapConfig{Policy: OverlapWarn},
		Regression: RegressionConfig{
			Classes:         []int{1, 2, 3, 4, 5},
			Dependent:       DependentReturn,
			ConfidenceLevel: 0.95,
		},
		Plots: PlotsConfig{
			Enabled: true,
			Dir:     "plots",
			Column:  "ret",
			Bins:    []int{100, 250, 1000},
			Width:   8,
			Height:  5,
		},
		Runner: RunnerConfig{
			ContinueOnError: true,
			RetryAttempts:   DefaultRetryAttempts,
			RetryDelay:      DefaultRetryDelay,
			MaxRetryDelay:   DefaultMaxRetryDelay,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/factorpanel.log",
		},
		Observability: ObservabilityConfig{
			ServiceName: AppName,
		},
	}
}
