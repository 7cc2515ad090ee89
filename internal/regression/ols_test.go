package regression

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/shared/testutil"
)

type model struct {
	class                    int
	alpha, mkt, smb, hml, rf float64
}

// synthetic builds n rows per model with y = a + b1*mkt + b2*smb + b3*hml + e
func synthetic(n int, noise float64, models ...model) dataframe.DataFrame {
	rng := rand.New(rand.NewPCG(7, 11))
	var classes []int
	var ret, mkt, smb, hml, rf []float64
	for _, m := range models {
		for i := 0; i < n; i++ {
			f1 := rng.NormFloat64() * 0.05
			f2 := rng.NormFloat64() * 0.03
			f3 := rng.NormFloat64() * 0.03
			classes = append(classes, m.class)
			mkt = append(mkt, f1)
			smb = append(smb, f2)
			hml = append(hml, f3)
			rf = append(rf, m.rf)
			ret = append(ret, m.alpha+m.mkt*f1+m.smb*f2+m.hml*f3+rng.NormFloat64()*noise)
		}
	}
	return table(classes, ret, mkt, smb, hml, rf)
}

func table(classes []int, ret, mkt, smb, hml, rf []float64) dataframe.DataFrame {
	return dataframe.New(
		frame.IntSeries(frame.Class, classes),
		frame.FloatSeries(frame.Return, ret),
		frame.FloatSeries(frame.MktRF, mkt),
		frame.FloatSeries(frame.SMB, smb),
		frame.FloatSeries(frame.HML, hml),
		frame.FloatSeries(frame.RF, rf),
	)
}

func TestFitOLSRecoversExactCoefficients(t *testing.T) {
	df := synthetic(50, 0, model{class: 1, alpha: 0.01, mkt: 1.2, smb: 0.5, hml: -0.3})

	res, err := FitOLS(df, nil, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "pooled", res.Model)
	assert.Equal(t, []string{Intercept, frame.MktRF, frame.SMB, frame.HML}, res.Names())
	assert.Equal(t, 50, res.N)
	assert.Equal(t, 46, res.DFResid)
	for i, want := range []float64{0.01, 1.2, 0.5, -0.3} {
		assert.InDelta(t, want, res.Coefficients[i].Estimate, 1e-9)
	}
	assert.InDelta(t, 1, res.RSquared, 1e-9)
	assert.InDelta(t, 0, res.ResidualStdErr, 1e-9)
}

func TestFitOLSIntervalsAndCovariance(t *testing.T) {
	df := synthetic(400, 0.002, model{class: 1, alpha: 0.004, mkt: 0.9, smb: 0.2, hml: 0.4})

	res, err := FitOLS(df, nil, DefaultOptions())
	require.NoError(t, err)

	truth := []float64{0.004, 0.9, 0.2, 0.4}
	for i, c := range res.Coefficients {
		assert.InDelta(t, truth[i], c.Estimate, 0.02, c.Name)
		assert.Less(t, c.Lower, c.Estimate)
		assert.Greater(t, c.Upper, c.Estimate)
		assert.InDelta(t, c.Estimate-c.Lower, c.Upper-c.Estimate, 1e-12, "interval is symmetric")
		assert.InDelta(t, math.Sqrt(res.Covariance[i][i]), c.StdErr, 1e-15)
		assert.InDelta(t, c.Estimate/c.StdErr, c.TStat, 1e-9)
		assert.GreaterOrEqual(t, c.PValue, 0.0)
		assert.LessOrEqual(t, c.PValue, 1.0)
	}
	// large sample t quantile is close to the normal 1.96
	width := res.Coefficients[1].Upper - res.Coefficients[1].Estimate
	assert.InDelta(t, 1.966, width/res.Coefficients[1].StdErr, 0.01)

	for i := range res.Covariance {
		for j := range res.Covariance {
			assert.InDelta(t, res.Covariance[i][j], res.Covariance[j][i], 1e-18)
		}
	}
	assert.Greater(t, res.RSquared, 0.9)
	assert.Less(t, res.AdjRSquared, res.RSquared)

	narrow := DefaultOptions()
	narrow.ConfidenceLevel = 0.5
	res50, err := FitOLS(df, nil, narrow)
	require.NoError(t, err)
	assert.Less(t, res50.Coefficients[1].Upper-res50.Coefficients[1].Lower,
		res.Coefficients[1].Upper-res.Coefficients[1].Lower)
}

func TestFitOLSClassFilter(t *testing.T) {
	df := synthetic(60, 0,
		model{class: 1, alpha: 0, mkt: 1, smb: 0, hml: 0},
		model{class: 2, alpha: 0.02, mkt: 0.5, smb: 1.5, hml: 0.1},
	)

	res, err := FitOLS(df, Class(2), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "class 2", res.Model)
	assert.Equal(t, 60, res.N)

	smb, ok := res.Coefficient(frame.SMB)
	require.True(t, ok)
	assert.InDelta(t, 1.5, smb.Estimate, 1e-9)

	_, ok = res.Coefficient("missing")
	assert.False(t, ok)
}

func TestFitOLSExcessReturn(t *testing.T) {
	df := synthetic(40, 0, model{class: 1, alpha: 0.01, mkt: 1, smb: 0.2, hml: 0.3, rf: 0.003})

	opts := DefaultOptions()
	opts.Dependent = config.DependentExcess
	res, err := FitOLS(df, nil, opts)
	require.NoError(t, err)

	assert.Equal(t, config.DependentExcess, res.Dependent)
	assert.InDelta(t, 0.007, res.Coefficients[0].Estimate, 1e-9)
	assert.InDelta(t, 1, res.Coefficients[1].Estimate, 1e-9)
}

func TestFitOLSExcludesIncompleteRows(t *testing.T) {
	df := synthetic(30, 0, model{class: 1, alpha: 0.01, mkt: 1, smb: 0.2, hml: 0.3})
	mkt := frame.Floats(df, frame.MktRF)
	mkt[0], mkt[5] = math.NaN(), math.NaN()
	ret := frame.Floats(df, frame.Return)
	ret[9] = math.NaN()
	df = frame.With(df, frame.FloatSeries(frame.MktRF, mkt), frame.FloatSeries(frame.Return, ret))

	res, err := FitOLS(df, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 27, res.N)
	assert.Equal(t, 3, res.Excluded)
	assert.InDelta(t, 1, res.Coefficients[1].Estimate, 1e-9)
}

func TestFitOLSErrors(t *testing.T) {
	good := synthetic(30, 0.01, model{class: 1, alpha: 0.01, mkt: 1, smb: 0.2, hml: 0.3})

	n := 20
	ones := make([]int, n)
	ret := make([]float64, n)
	mkt := make([]float64, n)
	double := make([]float64, n)
	zeros := make([]float64, n)
	for i := range ones {
		ones[i] = 1
		mkt[i] = float64(i%7) / 100
		double[i] = 2 * mkt[i]
		ret[i] = float64(i%5) / 100
	}

	tests := []struct {
		name   string
		df     dataframe.DataFrame
		filter IndustryFilter
		opts   Options
		msg    string
	}{
		{
			name:   "empty class subsample",
			df:     good,
			filter: Class(4),
			opts:   DefaultOptions(),
			msg:    "empty subsample",
		},
		{
			name: "fewer rows than parameters",
			df: table([]int{1, 1, 1}, []float64{0.1, 0.2, 0.3}, []float64{1, 2, 3},
				[]float64{3, 1, 2}, []float64{2, 3, 1}, []float64{0, 0, 0}),
			opts: DefaultOptions(),
			msg:  "cannot identify",
		},
		{
			name: "collinear regressors",
			df:   table(ones, ret, mkt, double, ret, zeros),
			opts: DefaultOptions(),
			msg:  "ill-conditioned",
		},
		{
			name: "constant regressor",
			df:   table(ones, ret, mkt, zeros, double, zeros),
			opts: DefaultOptions(),
			msg:  "ill-conditioned",
		},
		{
			name: "missing column",
			df:   dataframe.New(frame.FloatSeries(frame.Return, []float64{1})),
			opts: DefaultOptions(),
			msg:  "missing",
		},
		{
			name: "bad confidence level",
			df:   good,
			opts: Options{Dependent: config.DependentReturn, ConfidenceLevel: 1},
			msg:  "confidence level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FitOLS(tt.df, tt.filter, tt.opts)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeFit))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFitAll(t *testing.T) {
	df := synthetic(40, 0.01,
		model{class: 1, alpha: 0, mkt: 1, smb: 0, hml: 0},
		model{class: 2, alpha: 0.01, mkt: 0.8, smb: 0.3, hml: 0.1},
		model{class: 5, alpha: 0, mkt: 1.1, smb: -0.2, hml: 0.2},
	)
	logger, logs := testutil.NewTestLogger(t)

	set, err := FitAll(context.Background(), df, []int{1, 2, 3, 4, 5}, DefaultOptions(), logger)
	require.NoError(t, err)

	var names []string
	for _, f := range set.Fits {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"class 1", "class 2", "class 3", "class 4", "class 5", "pooled"}, names)
	assert.Len(t, set.Succeeded(), 4)
	assert.Len(t, set.Failed(), 2)

	pooled, ok := set.Get("pooled")
	require.True(t, ok)
	require.NoError(t, pooled.Err)
	assert.Equal(t, 120, pooled.Result.N)
	assert.Nil(t, pooled.Class)

	class3, ok := set.Get("class 3")
	require.True(t, ok)
	assert.Nil(t, class3.Result)
	assert.True(t, apperrors.IsType(class3.Err, apperrors.ErrTypeFit))

	assert.True(t, logs.ContainsMessage("model fit failed"))
	assert.True(t, logs.ContainsAttr("model", "class 4"))
}

func TestFitAllEveryModelFails(t *testing.T) {
	df := table([]int{1}, []float64{0.1}, []float64{0.1}, []float64{0.1}, []float64{0.1}, []float64{0})
	logger, _ := testutil.NewTestLogger(t)

	set, err := FitAll(context.Background(), df, []int{1, 2}, DefaultOptions(), logger)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeFit))
	assert.Len(t, set.Failed(), 3)
}

func TestFitAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger, _ := testutil.NewTestLogger(t)

	set, err := FitAll(ctx, synthetic(10, 0, model{class: 1}), []int{1}, DefaultOptions(), logger)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, set.Fits)
}
