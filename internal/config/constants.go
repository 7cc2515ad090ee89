package config

import "time"

// Application constants
const (
	AppName = "factorpanel"

	// EnvPrefix namespaces environment overrides, e.g. FP_JOIN_ENGINE
	EnvPrefix = "FP"

	ISODateLayout     = "2006-01-02"
	DefaultDateLayout = "02Jan2006"

	DefaultHTTPTimeout = 30 * time.Second
	DefaultRemoteRPS   = 2.0
	DefaultRemoteBurst = 2

	DefaultWindowStart = "1925-01-01"
	DefaultWindowEnd   = "2020-12-31"

	DefaultReturnFloor = -0.99

	DefaultClassificationScheme = 5
	DefaultSentinelClass        = 5
	DefaultSentinelBound        = -9999

	DefaultMaxRows int64 = 50_000_000

	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

// Missing and invalid return policies
const (
	PolicyZero = "zero"
	PolicyDrop = "drop"
)

// Membership interval granularities
const (
	GranularityDay   = "day"
	GranularityMonth = "month"
)

// Join engines
const (
	EngineFrame  = "frame"
	EngineSQLite = "sqlite"
)

// Overlap policies
const (
	OverlapWarn   = "warn"
	OverlapReject = "reject"
	OverlapAllow  = "allow"
)

// Regression dependent variables
const (
	DependentReturn = "ret"
	DependentExcess = "excess"
)

var defaultConfigLocations = []string{
	"factorpanel.yaml",
	"configs/factorpanel.yaml",
}
