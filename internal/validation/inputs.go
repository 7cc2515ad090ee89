package validation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
)

// Check is the outcome of one pre-flight check
type Check struct {
	Name     string
	Location string
	Err      error
}

// OK reports whether the check passed
func (c Check) OK() bool { return c.Err == nil }

// Report collects the checks of a pre-flight run
type Report struct {
	Checks []Check
}

// Failed returns the checks that did not pass
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// Err summarizes the failed checks as one validation error, or nil
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, len(failed))
	for i, c := range failed {
		msgs[i] = fmt.Sprintf("%s: %v", c.Name, c.Err)
	}
	return apperrors.NewAppValidationError(
		fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(r.Checks), strings.Join(msgs, "; "))).
		WithContext("failed", len(failed))
}

type source struct {
	name     string
	location string
	columns  []string
}

func sources(cfg *config.Config) []source {
	c := cfg.Columns
	classCols := []string{c.Classification.Class, c.Classification.Start, c.Classification.End}
	if c.Classification.Scheme != "" {
		classCols = append(classCols, c.Classification.Scheme)
	}
	return []source{
		{"firm_header", cfg.Inputs.FirmHeader, []string{
			c.FirmHeader.Permno, c.FirmHeader.IndustryCode, c.FirmHeader.Name, c.FirmHeader.Begin, c.FirmHeader.End}},
		{"index_returns", cfg.Inputs.IndexReturns, []string{c.IndexReturns.Date}},
		{"membership", cfg.Inputs.Membership, []string{c.Membership.Permno, c.Membership.Start, c.Membership.End}},
		{"firm_returns", cfg.Inputs.FirmReturns, []string{
			c.FirmReturns.Permno, c.FirmReturns.Date, c.FirmReturns.Return, c.FirmReturns.ReturnExDiv}},
		{"classification", cfg.Inputs.Classification, classCols},
		// the factor date column header is often blank
		{"factors", cfg.Inputs.Factors, []string{c.Factors.MktRF, c.Factors.SMB, c.Factors.HML, c.Factors.RF}},
	}
}

// ValidateConfig checks every configured input source and output location.
// All checks run; the report lists each outcome.
func (v *FileValidator) ValidateConfig(ctx context.Context, cfg *config.Config) Report {
	var report Report
	delim := cfg.Inputs.DelimiterRune()

	for _, s := range sources(cfg) {
		check := Check{Name: s.name, Location: s.location}
		if config.IsRemote(s.location) {
			check.Err = v.ValidateRemote(ctx, s.location)
		} else if check.Err = v.ValidateFile(s.location); check.Err == nil {
			check.Err = v.ValidateHeader(s.location, delim, s.columns)
		}
		report.Checks = append(report.Checks, check)
	}

	var outputs []Check
	if cfg.Plots.Enabled {
		outputs = append(outputs, Check{Name: "plots_dir", Location: cfg.Plots.Dir})
	}
	if cfg.Output.ExportPath != "" {
		outputs = append(outputs, Check{Name: "export_dir", Location: filepath.Dir(cfg.Output.ExportPath)})
	}
	if cfg.Output.ReportPath != "" {
		outputs = append(outputs, Check{Name: "report_dir", Location: filepath.Dir(cfg.Output.ReportPath)})
	}
	for _, check := range outputs {
		check.Err = v.ValidateOutputDirectory(check.Location)
		report.Checks = append(report.Checks, check)
	}

	v.logger.InfoContext(ctx, "Pre-flight checks complete",
		"checks", len(report.Checks),
		"failed", len(report.Failed()))
	return report
}
