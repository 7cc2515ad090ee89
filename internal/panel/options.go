package panel

import (
	"factorpanel/internal/config"
	"factorpanel/pkg/contracts/domain"
)

// Options carries the join and cleaning policies of a build
type Options struct {
	WindowStart domain.DateKey
	WindowEnd   domain.DateKey

	// MonthlyMembership widens membership intervals to whole months
	MonthlyMembership bool

	// MissingPolicy and InvalidPolicy are config.PolicyZero or config.PolicyDrop
	MissingPolicy string
	InvalidPolicy string

	// OverlapPolicy is config.OverlapWarn, OverlapReject or OverlapAllow
	OverlapPolicy string

	Sentinel Sentinel
	MaxRows  int64
}

// Sentinel is attached to rows whose industry code matches no range
type Sentinel struct {
	Class int
	Bound int
}

// OptionsFromConfig extracts build options from the run configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	start, end, err := cfg.Window.Keys()
	if err != nil {
		return Options{}, err
	}
	return Options{
		WindowStart:       start,
		WindowEnd:         end,
		MonthlyMembership: cfg.Window.MembershipGranularity == config.GranularityMonth,
		MissingPolicy:     cfg.Returns.MissingPolicy,
		InvalidPolicy:     cfg.Returns.InvalidPolicy,
		OverlapPolicy:     cfg.Overlap.Policy,
		Sentinel: Sentinel{
			Class: cfg.Classification.SentinelClass,
			Bound: cfg.Classification.SentinelBound,
		},
		MaxRows: cfg.Limits.MaxRows,
	}, nil
}
