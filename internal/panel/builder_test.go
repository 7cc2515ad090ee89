package panel

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/shared/testutil"
	"factorpanel/pkg/contracts/domain"
)

func TestScenarioSingleMembershipMonth(t *testing.T) {
	in := Inputs{
		Firms:          firmsFrame(domain.Firm{Permno: 1, IndustryCode: 1500, Name: "ONE", Begin: 20000101, End: 20000331}),
		Calendar:       calendarFrame(20000131, 20000229, 20000331),
		Membership:     membershipFrame(domain.MembershipInterval{Permno: 1, Start: 20000201, End: 20000228}),
		Returns:        returnsFrame(),
		Classification: classesFrame(domain.ClassificationInterval{Class: 2, Start: 1500, End: 1599}),
		Factors: factorsFrame(
			domain.FactorRecord{Year: 2000, Month: 1, MktRF: 0.01},
			domain.FactorRecord{Year: 2000, Month: 2, MktRF: 0.02},
			domain.FactorRecord{Year: 2000, Month: 3, MktRF: 0.03},
		),
	}

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out, err := b.Build(context.Background(), in)
		require.NoError(t, err)

		require.Equal(t, 1, out.Nrow())
		assert.Equal(t, frame.FinalColumns, out.Names())
		assert.Equal(t, []int{20000229}, ints(t, out, frame.Date))
		assert.Equal(t, []int{2}, ints(t, out, frame.Class))
		assert.Equal(t, []float64{0.02}, frame.Floats(out, frame.MktRF))
		assert.Equal(t, []float64{0}, frame.Floats(out, frame.Return), "missing return is zero-filled")
		assert.Equal(t, []string{"missing"}, frame.Strings(out, frame.Status))
	})

	dayOpts := defaultOptions()
	dayOpts.MonthlyMembership = false
	forEachEngine(t, dayOpts, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out, err := b.Build(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, 0, out.Nrow(), "day granularity excludes 2000-02-29 from an interval ending 2000-02-28")
	})
}

func classifyOne(t *testing.T, b *Builder, code int) dataframe.DataFrame {
	t.Helper()
	ctx := context.Background()
	panel, err := b.BuildPanel(ctx,
		firmsFrame(domain.Firm{Permno: 7, IndustryCode: code, Name: "X", Begin: 20000101, End: 20001231}),
		calendarFrame(20000131),
		returnsFrame(returnRow{7, 20000131, 0.05, 0.05, domain.ReturnValid}),
	)
	require.NoError(t, err)
	panel, err = b.FilterMembership(ctx, panel, membershipFrame(domain.MembershipInterval{Permno: 7, Start: 19990101, End: 20201231}))
	require.NoError(t, err)

	out, err := b.Classify(ctx, panel, classesFrame(
		domain.ClassificationInterval{Class: 1, Start: 100, End: 999},
		domain.ClassificationInterval{Class: 2, Start: 1500, End: 1599},
		domain.ClassificationInterval{Class: 3, Start: 4900, End: 4949},
	))
	require.NoError(t, err)
	return out
}

func TestClassifyMatchesRange(t *testing.T) {
	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out := classifyOne(t, b, 1500)
		assert.Equal(t, []int{2}, ints(t, out, frame.Class))
		assert.Equal(t, []int{1500}, ints(t, out, frame.SicStart))
		assert.Equal(t, []int{1599}, ints(t, out, frame.SicEnd))
	})
}

func TestClassifyUnmatchedGetsSentinel(t *testing.T) {
	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, logs *testutil.BufferedSlogHandler) {
		out := classifyOne(t, b, 9999)
		assert.Equal(t, []int{5}, ints(t, out, frame.Class))
		assert.Equal(t, []int{-9999}, ints(t, out, frame.SicStart))
		assert.Equal(t, []int{-9999}, ints(t, out, frame.SicEnd))
		assert.True(t, logs.ContainsAttr("unmatched", 1))
	})
}

func TestClassifyOverlappingRangesDuplicateRows(t *testing.T) {
	ctx := context.Background()
	panel := dataframe.New(
		frame.IntSeries(frame.Permno, []int{1, 2}),
		frame.StringSeries(frame.Name, []string{"A", "B"}),
		frame.IntSeries(frame.IndustryCode, []int{4925, 100}),
		frame.IntSeries(frame.Date, []int{20000131, 20000131}),
		frame.FloatSeries(frame.Return, []float64{0.1, 0.2}),
		frame.FloatSeries(frame.ReturnExDiv, []float64{0.1, 0.2}),
		frame.StringSeries(frame.Status, []string{"valid", "valid"}),
		frame.IntSeries(frame.Year, []int{2000, 2000}),
		frame.IntSeries(frame.Month, []int{1, 1}),
	)
	classes := classesFrame(
		domain.ClassificationInterval{Class: 4, Start: 4900, End: 4999},
		domain.ClassificationInterval{Class: 3, Start: 4900, End: 4949},
		domain.ClassificationInterval{Class: 1, Start: 100, End: 999},
	)

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, logs *testutil.BufferedSlogHandler) {
		out, err := b.Classify(ctx, panel, classes)
		require.NoError(t, err)

		assert.Equal(t, []int{1, 1, 2}, ints(t, out, frame.Permno))
		assert.Equal(t, []int{3, 4, 1}, ints(t, out, frame.Class), "matches ordered by range bounds")
		testutil.AssertLogContains(t, logs, slog.LevelWarn, "overlapping intervals")
	})

	reject := defaultOptions()
	reject.OverlapPolicy = config.OverlapReject
	forEachEngine(t, reject, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		_, err := b.Classify(ctx, panel, classes)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})
}

func panelInputs() (firms, calendar, returns dataframe.DataFrame) {
	firms = firmsFrame(
		domain.Firm{Permno: 20, IndustryCode: 4925, Name: "BETA", Begin: 20000229, End: 20000229},
		domain.Firm{Permno: 10, IndustryCode: 1500, Name: "ALPHA", Begin: 20000131, End: 20000331},
		domain.Firm{Permno: 20, IndustryCode: 1, Name: "BETA AGAIN", Begin: 19000101, End: 20991231},
	)
	calendar = calendarFrame(20000331, 20000131, 20000229, 20000131)
	returns = returnsFrame(
		returnRow{10, 20000131, 0.01, 0.01, domain.ReturnValid},
		returnRow{10, 20000131, 0.99, 0.99, domain.ReturnValid},
		returnRow{10, 20000229, nan, nan, domain.ReturnInvalid},
		returnRow{20, 20000229, 0.02, 0.015, domain.ReturnValid},
		returnRow{99, 20000229, 0.5, 0.5, domain.ReturnValid},
	)
	return firms, calendar, returns
}

func TestBuildPanel(t *testing.T) {
	firms, calendar, returns := panelInputs()

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, logs *testutil.BufferedSlogHandler) {
		out, err := b.BuildPanel(context.Background(), firms, calendar, returns)
		require.NoError(t, err)

		assert.Equal(t, frame.PanelColumns, out.Names())
		assert.Equal(t, []int{10, 10, 10, 20}, ints(t, out, frame.Permno))
		assert.Equal(t, []int{20000131, 20000229, 20000331, 20000229}, ints(t, out, frame.Date))
		assert.Equal(t, []string{"ALPHA", "ALPHA", "ALPHA", "BETA"}, frame.Strings(out, frame.Name))
		assert.Equal(t, []string{"valid", "invalid", "missing", "valid"}, frame.Strings(out, frame.Status))

		ret := frame.Floats(out, frame.Return)
		assert.Equal(t, 0.01, ret[0], "first duplicate return wins")
		assert.True(t, math.IsNaN(ret[1]))
		assert.True(t, math.IsNaN(ret[2]))
		assert.Equal(t, 0.02, ret[3])

		_, dups, err := frame.KeyCounts(out)
		require.NoError(t, err)
		assert.Zero(t, dups)

		assert.True(t, logs.ContainsAttr("duplicates", 1))
	})
}

func TestBuildPanelCardinalityGuard(t *testing.T) {
	firms, calendar, returns := panelInputs()
	opts := defaultOptions()
	opts.MaxRows = 5

	forEachEngine(t, opts, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		_, err := b.BuildPanel(context.Background(), firms, calendar, returns)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeCardinality))
		assert.Contains(t, err.Error(), "6 rows")
	})
}

func TestBuildPanelRequiresColumns(t *testing.T) {
	_, calendar, returns := panelInputs()
	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		_, err := b.BuildPanel(context.Background(), calendarFrame(1), calendar, returns)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})
}

func TestFilterMembershipPolicies(t *testing.T) {
	firms, calendar, returns := panelInputs()
	membership := membershipFrame(
		domain.MembershipInterval{Permno: 10, Start: 19990101, End: 20201231},
		domain.MembershipInterval{Permno: 20, Start: 20000201, End: 20000229},
	)

	tests := []struct {
		name    string
		missing string
		invalid string
		dates   []int
		ret     []float64
		status  []string
	}{
		{
			name:    "zero fills both",
			missing: config.PolicyZero,
			invalid: config.PolicyZero,
			dates:   []int{20000131, 20000229, 20000331, 20000229},
			ret:     []float64{0.01, 0, 0, 0.02},
			status:  []string{"valid", "invalid", "missing", "valid"},
		},
		{
			name:    "drop missing keeps invalid zeroed",
			missing: config.PolicyDrop,
			invalid: config.PolicyZero,
			dates:   []int{20000131, 20000229, 20000229},
			ret:     []float64{0.01, 0, 0.02},
			status:  []string{"valid", "invalid", "valid"},
		},
		{
			name:    "drop both",
			missing: config.PolicyDrop,
			invalid: config.PolicyDrop,
			dates:   []int{20000131, 20000229},
			ret:     []float64{0.01, 0.02},
			status:  []string{"valid", "valid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			opts.MissingPolicy = tt.missing
			opts.InvalidPolicy = tt.invalid

			forEachEngine(t, opts, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
				ctx := context.Background()
				panel, err := b.BuildPanel(ctx, firms, calendar, returns)
				require.NoError(t, err)

				out, err := b.FilterMembership(ctx, panel, membership)
				require.NoError(t, err)

				assert.Equal(t, frame.MembershipOutput, out.Names())
				assert.Equal(t, tt.dates, ints(t, out, frame.Date))
				assert.Equal(t, tt.ret, frame.Floats(out, frame.Return))
				assert.Equal(t, tt.status, frame.Strings(out, frame.Status))

				years := ints(t, out, frame.Year)
				months := ints(t, out, frame.Month)
				for i, d := range tt.dates {
					assert.Equal(t, d/10000, years[i])
					assert.Equal(t, d/100%100, months[i])
				}
			})
		})
	}
}

func TestFilterMembershipIncompleteValidRow(t *testing.T) {
	firms := firmsFrame(domain.Firm{Permno: 10, IndustryCode: 1500, Name: "ALPHA", Begin: 20000131, End: 20000229})
	calendar := calendarFrame(20000131, 20000229)
	returns := returnsFrame(
		returnRow{10, 20000131, 0.01, nan, domain.ReturnValid},
		returnRow{10, 20000229, 0.02, 0.02, domain.ReturnValid},
	)
	membership := membershipFrame(domain.MembershipInterval{Permno: 10, Start: 19990101, End: 20201231})

	tests := []struct {
		name   string
		policy string
		dates  []int
		retx   []float64
		status []string
	}{
		{"zero", config.PolicyZero, []int{20000131, 20000229}, []float64{0, 0.02}, []string{"missing", "valid"}},
		{"drop", config.PolicyDrop, []int{20000229}, []float64{0.02}, []string{"valid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			opts.MissingPolicy = tt.policy

			forEachEngine(t, opts, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
				ctx := context.Background()
				panel, err := b.BuildPanel(ctx, firms, calendar, returns)
				require.NoError(t, err)

				out, err := b.FilterMembership(ctx, panel, membership)
				require.NoError(t, err)

				assert.Equal(t, tt.dates, ints(t, out, frame.Date))
				assert.Equal(t, tt.retx, frame.Floats(out, frame.ReturnExDiv))
				assert.Equal(t, tt.status, frame.Strings(out, frame.Status))
			})
		})
	}
}

func TestFilterMembershipWindowAndOverlap(t *testing.T) {
	firms := firmsFrame(domain.Firm{Permno: 1, IndustryCode: 100, Name: "A", Begin: 19000101, End: 20991231})
	calendar := calendarFrame(19241231, 19250130, 20201231, 20210129)
	membership := membershipFrame(
		domain.MembershipInterval{Permno: 1, Start: 19000101, End: 20991231},
		domain.MembershipInterval{Permno: 1, Start: 20200101, End: 20991231},
	)

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, logs *testutil.BufferedSlogHandler) {
		ctx := context.Background()
		panel, err := b.BuildPanel(ctx, firms, calendar, returnsFrame())
		require.NoError(t, err)

		out, err := b.FilterMembership(ctx, panel, membership)
		require.NoError(t, err)

		assert.Equal(t, []int{19250130, 20201231, 20201231}, ints(t, out, frame.Date),
			"window bounds applied, overlapping intervals duplicate the 2020 row")
		testutil.AssertLogContains(t, logs, slog.LevelWarn, "overlapping intervals")
	})

	reject := defaultOptions()
	reject.OverlapPolicy = config.OverlapReject
	forEachEngine(t, reject, func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		ctx := context.Background()
		panel, err := b.BuildPanel(ctx, firms, calendar, returnsFrame())
		require.NoError(t, err)

		_, err = b.FilterMembership(ctx, panel, membership)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})
}

func TestMergeFactors(t *testing.T) {
	panel := dataframe.New(
		frame.IntSeries(frame.Permno, []int{1, 1}),
		frame.StringSeries(frame.Name, []string{"A", "A"}),
		frame.IntSeries(frame.IndustryCode, []int{100, 100}),
		frame.IntSeries(frame.Date, []int{20000131, 20000229}),
		frame.FloatSeries(frame.Return, []float64{0.1, 0.2}),
		frame.FloatSeries(frame.ReturnExDiv, []float64{0.1, 0.2}),
		frame.StringSeries(frame.Status, []string{"valid", "valid"}),
		frame.IntSeries(frame.Year, []int{2000, 2000}),
		frame.IntSeries(frame.Month, []int{1, 2}),
		frame.IntSeries(frame.Class, []int{1, 1}),
		frame.IntSeries(frame.SicStart, []int{100, 100}),
		frame.IntSeries(frame.SicEnd, []int{999, 999}),
	)
	factors := factorsFrame(
		domain.FactorRecord{Year: 2000, Month: 1, MktRF: 0.01, SMB: 0.02, HML: 0.03, RF: 0.004},
		domain.FactorRecord{Year: 2000, Month: 1, MktRF: 9, SMB: 9, HML: 9, RF: 9},
	)

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out, err := b.MergeFactors(context.Background(), panel, factors)
		require.NoError(t, err)

		assert.Equal(t, frame.FinalColumns, out.Names())
		mkt := frame.Floats(out, frame.MktRF)
		assert.Equal(t, 0.01, mkt[0], "first factor row per month wins")
		assert.True(t, math.IsNaN(mkt[1]), "unmatched month keeps NaN")
		assert.Equal(t, 0.004, frame.Floats(out, frame.RF)[0])
	})
}

func TestFinalTableInvariants(t *testing.T) {
	in := richInputs()

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out, err := b.Build(context.Background(), in)
		require.NoError(t, err)
		require.Greater(t, out.Nrow(), 0)

		rows, err := frame.AnalysisRows(out)
		require.NoError(t, err)

		firms := map[int]domain.Firm{}
		for _, f := range richFirms {
			if _, ok := firms[f.Permno]; !ok {
				firms[f.Permno] = f
			}
		}
		for _, r := range rows {
			d := domain.DateKey(r.Date)
			f := firms[r.Permno]
			assert.True(t, f.Active(d), "row %v outside trading window", r)
			assert.True(t, d >= 19250101 && d <= 20201231)

			inMembership := false
			for _, m := range richMembership {
				widened := domain.MembershipInterval{Start: m.Start/100*100 + 1, End: m.End/100*100 + 31}
				if m.Permno == r.Permno && widened.Contains(d) {
					inMembership = true
				}
			}
			assert.True(t, inMembership, "row %v outside membership", r)

			assert.False(t, math.IsNaN(r.Return))
			assert.False(t, math.IsNaN(r.ReturnExDiv))
			assert.GreaterOrEqual(t, r.Return, -0.99)
			assert.GreaterOrEqual(t, r.ReturnExDiv, -0.99)
			assert.Contains(t, []int{1, 2, 3, 4, 5}, r.Class)
		}
	})
}

func TestEnginesAgree(t *testing.T) {
	in := richInputs()
	var results []dataframe.DataFrame

	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		out, err := b.Build(context.Background(), in)
		require.NoError(t, err)
		results = append(results, out)
	})

	require.Len(t, results, 2)
	assert.Equal(t, results[0].Records(), results[1].Records())
}

func TestBuildIsDeterministic(t *testing.T) {
	forEachEngine(t, defaultOptions(), func(t *testing.T, b *Builder, _ *testutil.BufferedSlogHandler) {
		first, err := b.Build(context.Background(), richInputs())
		require.NoError(t, err)
		second, err := b.Build(context.Background(), richInputs())
		require.NoError(t, err)

		s1, err := Summarize(first)
		require.NoError(t, err)
		s2, err := Summarize(second)
		require.NoError(t, err)

		assert.Equal(t, s1, s2)
		assert.Equal(t, first.Records(), second.Records())
	})
}

func TestNewJoinerUnknown(t *testing.T) {
	_, err := NewJoiner(context.Background(), "spark")
	assert.Error(t, err)
}
