package panel

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/infrastructure"
	"factorpanel/pkg/contracts/domain"
)

// Inputs are the loaded tables a build consumes
type Inputs struct {
	Firms          dataframe.DataFrame
	Calendar       dataframe.DataFrame
	Membership     dataframe.DataFrame
	Returns        dataframe.DataFrame
	Classification dataframe.DataFrame
	Factors        dataframe.DataFrame
}

// Builder turns the loaded inputs into the analysis table. Relational work
// is delegated to a Joiner; cleaning policies and guards live here so both
// engines share them.
type Builder struct {
	opts   Options
	joiner Joiner
	logger *slog.Logger
}

// NewBuilder creates a Builder
func NewBuilder(opts Options, joiner Joiner, logger *slog.Logger) *Builder {
	return &Builder{
		opts:   opts,
		joiner: joiner,
		logger: infrastructure.WithComponent(logger, "panel").With("engine", joiner.Name()),
	}
}

// Build runs panel construction, membership filtering, classification and
// the factor merge in order
func (b *Builder) Build(ctx context.Context, in Inputs) (dataframe.DataFrame, error) {
	df, err := b.BuildPanel(ctx, in.Firms, in.Calendar, in.Returns)
	if err != nil {
		return df, err
	}
	if df, err = b.FilterMembership(ctx, df, in.Membership); err != nil {
		return df, err
	}
	if df, err = b.Classify(ctx, df, in.Classification); err != nil {
		return df, err
	}
	return b.MergeFactors(ctx, df, in.Factors)
}

// BuildPanel produces one row per firm and trading date inside the firm's
// trading window, with its return if one was recorded
func (b *Builder) BuildPanel(ctx context.Context, firms, calendar, returns dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := requireAll(
		check{firms, "firms", frame.FirmColumns},
		check{calendar, "calendar", frame.CalendarColumns},
		check{returns, "returns", frame.ReturnColumns},
	); err != nil {
		return firms, err
	}

	firms, dupFirms, err := uniqueFirms(firms)
	if err != nil {
		return firms, err
	}
	rawDates, err := frame.Ints(calendar, frame.Date)
	if err != nil {
		return calendar, err
	}
	dates := frame.SortedDistinct(rawDates)

	pairs := int64(firms.Nrow()) * int64(len(dates))
	if err := b.guard("cross join of firms and calendar", pairs); err != nil {
		return firms, err
	}

	active, err := b.joiner.CrossActive(ctx, firms, dataframe.New(frame.IntSeries(frame.Date, dates)))
	if err != nil {
		return active, err
	}
	panel, dupReturns, err := b.joiner.AttachReturns(ctx, active, returns)
	if err != nil {
		return panel, err
	}

	panel = panel.Select(frame.PanelColumns)
	if panel.Err != nil {
		return panel, panel.Err
	}

	if dupFirms > 0 {
		b.logger.WarnContext(ctx, "firm header repeats permnos, first record kept", "duplicates", dupFirms)
	}
	if dupReturns > 0 {
		b.logger.WarnContext(ctx, "returns repeat (permno, date) keys, first row kept", "duplicates", dupReturns)
	}
	b.logger.InfoContext(ctx, "panel built",
		"firms", firms.Nrow(),
		"dates", len(dates),
		"pairs", pairs,
		"rows_out", panel.Nrow())
	return panel, nil
}

// FilterMembership keeps panel rows that fall inside an index membership
// interval and the analysis window, then applies the return policies and
// derives year and month
func (b *Builder) FilterMembership(ctx context.Context, panel, membership dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := requireAll(
		check{panel, "panel", frame.PanelColumns},
		check{membership, "membership", frame.MembershipColumns},
	); err != nil {
		return panel, err
	}

	err := b.logMembershipOverlaps(ctx, membership)
	if err != nil {
		return panel, err
	}

	if b.opts.MonthlyMembership {
		if membership, err = monthlyIntervals(membership); err != nil {
			return panel, err
		}
	}

	out, err := b.joiner.JoinMembership(ctx, panel, membership, b.opts.WindowStart, b.opts.WindowEnd)
	if err != nil {
		return out, err
	}
	if err := b.guard("membership join", int64(out.Nrow())); err != nil {
		return out, err
	}

	_, dups, err := frame.KeyCounts(out)
	if err != nil {
		return out, err
	}
	if err := b.applyOverlapPolicy(ctx, "membership", dups); err != nil {
		return out, err
	}

	out, stats, err := b.applyReturnPolicies(out)
	if err != nil {
		return out, err
	}

	out, err = withPeriod(out)
	if err != nil {
		return out, err
	}
	out = out.Select(frame.MembershipOutput)

	b.logger.InfoContext(ctx, "membership filter applied",
		"window_start", b.opts.WindowStart.String(),
		"window_end", b.opts.WindowEnd.String(),
		"rows_in", panel.Nrow(),
		"rows_out", out.Nrow(),
		"missing_zeroed", stats.missingZeroed,
		"missing_dropped", stats.missingDropped,
		"invalid_zeroed", stats.invalidZeroed,
		"invalid_dropped", stats.invalidDropped)
	return out, out.Err
}

// Classify attaches an industry class to every row by range join on the
// industry code. Rows matching no range get the sentinel class and bounds.
func (b *Builder) Classify(ctx context.Context, panel, classes dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := requireAll(
		check{panel, "panel", frame.MembershipOutput},
		check{classes, "classification", frame.ClassificationColumns},
	); err != nil {
		return panel, err
	}

	index, err := buildIntervalIndex(classes)
	if err != nil {
		return panel, err
	}
	if overlaps := index.overlaps(); len(overlaps) > 0 {
		b.logger.DebugContext(ctx, "classification ranges overlap", "pairs", len(overlaps))
	}

	out, err := b.joiner.JoinClassification(ctx, panel, classes, b.opts.Sentinel)
	if err != nil {
		return out, err
	}
	if err := b.guard("classification join", int64(out.Nrow())); err != nil {
		return out, err
	}
	if err := b.applyOverlapPolicy(ctx, "classification", out.Nrow()-panel.Nrow()); err != nil {
		return out, err
	}

	unmatched, err := countSentinel(out, b.opts.Sentinel)
	if err != nil {
		return out, err
	}

	out = out.Select(frame.ClassifiedColumns)
	b.logger.InfoContext(ctx, "classification attached",
		"rows_in", panel.Nrow(),
		"rows_out", out.Nrow(),
		"unmatched", unmatched,
		"sentinel_class", b.opts.Sentinel.Class)
	return out, out.Err
}

// MergeFactors attaches the monthly factor values by (year, month) and
// drops the industry code columns
func (b *Builder) MergeFactors(ctx context.Context, panel, factors dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := requireAll(
		check{panel, "panel", frame.ClassifiedColumns},
		check{factors, "factors", frame.FactorColumns},
	); err != nil {
		return panel, err
	}

	out, err := b.joiner.JoinFactors(ctx, panel, factors)
	if err != nil {
		return out, err
	}

	unmatched := 0
	for _, v := range frame.Floats(out, frame.MktRF) {
		if math.IsNaN(v) {
			unmatched++
		}
	}

	out = out.Select(frame.FinalColumns)
	b.logger.InfoContext(ctx, "factors merged",
		"rows_out", out.Nrow(),
		"unmatched_months", unmatched)
	return out, out.Err
}

func (b *Builder) guard(operation string, rows int64) error {
	if b.opts.MaxRows > 0 && rows > b.opts.MaxRows {
		return apperrors.NewCardinalityError(operation, rows, b.opts.MaxRows)
	}
	return nil
}

func (b *Builder) applyOverlapPolicy(ctx context.Context, stage string, duplicates int) error {
	if duplicates <= 0 {
		return nil
	}
	switch b.opts.OverlapPolicy {
	case config.OverlapReject:
		return apperrors.NewAppValidationError(
			fmt.Sprintf("%s join produced %d duplicate rows from overlapping intervals", stage, duplicates)).
			WithContext("stage", stage).
			WithContext("duplicates", duplicates)
	case config.OverlapAllow:
		b.logger.DebugContext(ctx, "overlapping intervals duplicated rows", "stage", stage, "duplicates", duplicates)
	default:
		b.logger.WarnContext(ctx, "overlapping intervals duplicated rows", "stage", stage, "duplicates", duplicates)
	}
	return nil
}

type policyStats struct {
	missingZeroed, missingDropped int
	invalidZeroed, invalidDropped int
}

// applyReturnPolicies zero-fills or drops rows whose return is missing or
// invalid. Zero-filling only replaces NaN values; the status is kept. A row
// labelled valid that still lacks either return is treated as missing.
func (b *Builder) applyReturnPolicies(df dataframe.DataFrame) (dataframe.DataFrame, policyStats, error) {
	var stats policyStats
	status := frame.Strings(df, frame.Status)
	ret := frame.Floats(df, frame.Return)
	retx := frame.Floats(df, frame.ReturnExDiv)

	keep := make([]int, 0, len(status))
	for i, s := range status {
		st := domain.ReturnStatus(s)
		if st == domain.ReturnValid && (math.IsNaN(ret[i]) || math.IsNaN(retx[i])) {
			st = domain.ReturnMissing
			status[i] = string(st)
		}

		var policy string
		switch st {
		case domain.ReturnMissing:
			policy = b.opts.MissingPolicy
		case domain.ReturnInvalid:
			policy = b.opts.InvalidPolicy
		default:
			keep = append(keep, i)
			continue
		}

		if policy == config.PolicyDrop {
			if st == domain.ReturnMissing {
				stats.missingDropped++
			} else {
				stats.invalidDropped++
			}
			continue
		}

		if math.IsNaN(ret[i]) {
			ret[i] = 0
		}
		if math.IsNaN(retx[i]) {
			retx[i] = 0
		}
		if st == domain.ReturnMissing {
			stats.missingZeroed++
		} else {
			stats.invalidZeroed++
		}
		keep = append(keep, i)
	}

	df = frame.With(df,
		frame.FloatSeries(frame.Return, ret),
		frame.FloatSeries(frame.ReturnExDiv, retx),
		frame.StringSeries(frame.Status, status),
	)
	if len(keep) == len(status) {
		return df, stats, df.Err
	}
	df = frame.Take(df, keep)
	return df, stats, df.Err
}

// logMembershipOverlaps reports firms whose membership intervals overlap
func (b *Builder) logMembershipOverlaps(ctx context.Context, membership dataframe.DataFrame) error {
	if !b.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	permnos, err := frame.Ints(membership, frame.Permno)
	if err != nil {
		return err
	}
	starts, err := frame.Ints(membership, frame.Start)
	if err != nil {
		return err
	}
	ends, err := frame.Ints(membership, frame.Ending)
	if err != nil {
		return err
	}

	byFirm := make(map[int][]interval)
	for i, p := range permnos {
		byFirm[p] = append(byFirm[p], interval{start: starts[i], end: ends[i], row: i})
	}
	firms := make([]int, 0, len(byFirm))
	for p := range byFirm {
		firms = append(firms, p)
	}
	sort.Ints(firms)
	for _, p := range firms {
		if n := len(newIntervalIndex(byFirm[p]).overlaps()); n > 0 {
			b.logger.DebugContext(ctx, "membership intervals overlap", "permno", p, "pairs", n)
		}
	}
	return nil
}

// uniqueFirms keeps the first record per permno, sorted by permno
func uniqueFirms(firms dataframe.DataFrame) (dataframe.DataFrame, int, error) {
	permnos, err := frame.Ints(firms, frame.Permno)
	if err != nil {
		return firms, 0, err
	}
	seen := make(map[int]struct{}, len(permnos))
	idx := make([]int, 0, len(permnos))
	for i, p := range permnos {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool { return permnos[idx[a]] < permnos[idx[b]] })

	out := frame.Take(firms, idx)
	return out, len(permnos) - len(idx), out.Err
}

// monthlyIntervals widens every membership interval to whole months. Date
// keys are yyyymmdd, so day 01 and day 31 bound every date of a month.
func monthlyIntervals(membership dataframe.DataFrame) (dataframe.DataFrame, error) {
	starts, err := frame.Ints(membership, frame.Start)
	if err != nil {
		return membership, err
	}
	ends, err := frame.Ints(membership, frame.Ending)
	if err != nil {
		return membership, err
	}
	for i := range starts {
		starts[i] = starts[i]/100*100 + 1
		ends[i] = ends[i]/100*100 + 31
	}
	out := frame.With(membership, frame.IntSeries(frame.Start, starts), frame.IntSeries(frame.Ending, ends))
	return out, out.Err
}

// withPeriod derives year and month from the date key
func withPeriod(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	dates, err := frame.Ints(df, frame.Date)
	if err != nil {
		return df, err
	}
	years := make([]int, len(dates))
	months := make([]int, len(dates))
	for i, d := range dates {
		years[i] = domain.DateKey(d).Year()
		months[i] = domain.DateKey(d).Month()
	}
	df = frame.With(df, frame.IntSeries(frame.Year, years), frame.IntSeries(frame.Month, months))
	return df, df.Err
}

func countSentinel(df dataframe.DataFrame, s Sentinel) (int, error) {
	classes, err := frame.Ints(df, frame.Class)
	if err != nil {
		return 0, err
	}
	lo, err := frame.Ints(df, frame.SicStart)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range classes {
		if classes[i] == s.Class && lo[i] == s.Bound {
			n++
		}
	}
	return n, nil
}

type check struct {
	df    dataframe.DataFrame
	table string
	cols  []string
}

func requireAll(checks ...check) error {
	for _, c := range checks {
		if err := frame.Require(c.df, c.table, c.cols...); err != nil {
			return apperrors.NewAppValidationError(err.Error()).WithContext("table", c.table)
		}
	}
	return nil
}
