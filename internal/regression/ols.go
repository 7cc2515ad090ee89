package regression

import (
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
)

// MaxCondition is the largest design condition number accepted before a
// fit is rejected as collinear
const MaxCondition = 1e12

// Intercept is the name of the constant term
const Intercept = "Intercept"

// Regressors are the factor columns, in coefficient order after the intercept
var Regressors = []string{frame.MktRF, frame.SMB, frame.HML}

// IndustryFilter selects the rows of one class. A nil filter fits the
// pooled sample.
type IndustryFilter *int

// Class returns a filter for a single industry class
func Class(c int) IndustryFilter {
	return &c
}

// Options configures a fit
type Options struct {
	// Dependent is config.DependentReturn or config.DependentExcess
	Dependent       string
	ConfidenceLevel float64
}

// DefaultOptions regresses raw returns with 95% intervals
func DefaultOptions() Options {
	return Options{Dependent: config.DependentReturn, ConfidenceLevel: 0.95}
}

// OptionsFromConfig extracts fit options from the run configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dependent:       cfg.Regression.Dependent,
		ConfidenceLevel: cfg.Regression.ConfidenceLevel,
	}
}

// Coefficient is one estimated parameter
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	TStat    float64 `json:"t"`
	PValue   float64 `json:"p_value"`
	Lower    float64 `json:"ci_lower"`
	Upper    float64 `json:"ci_upper"`
}

// Result is a fitted model
type Result struct {
	Model           string        `json:"model"`
	Dependent       string        `json:"dependent"`
	N               int           `json:"n"`
	Excluded        int           `json:"excluded"`
	DFResid         int           `json:"df_resid"`
	Coefficients    []Coefficient `json:"coefficients"`
	Covariance      [][]float64   `json:"covariance"`
	RSquared        float64       `json:"r_squared"`
	AdjRSquared     float64       `json:"adj_r_squared"`
	ResidualStdErr  float64       `json:"residual_std_err"`
	ConfidenceLevel float64       `json:"confidence_level"`
	Condition       float64       `json:"condition"`
}

// Names returns the coefficient names in order
func (r *Result) Names() []string {
	names := make([]string, len(r.Coefficients))
	for i, c := range r.Coefficients {
		names[i] = c.Name
	}
	return names
}

// Coefficient looks up a parameter by name
func (r *Result) Coefficient(name string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// ModelName labels a filter the way results and reports refer to it
func ModelName(filter IndustryFilter) string {
	if filter == nil {
		return "pooled"
	}
	return fmt.Sprintf("class %d", *filter)
}

// FitOLS regresses the dependent return on the three factors plus an
// intercept over the rows selected by filter. Rows with a NaN in any used
// column are excluded and counted.
func FitOLS(df dataframe.DataFrame, filter IndustryFilter, opts Options) (*Result, error) {
	model := ModelName(filter)
	if opts.ConfidenceLevel <= 0 || opts.ConfidenceLevel >= 1 {
		return nil, apperrors.NewFitError(model, fmt.Sprintf("confidence level %v outside (0, 1)", opts.ConfidenceLevel))
	}

	y, x, excluded, err := design(df, filter, opts)
	if err != nil {
		return nil, apperrors.NewFitError(model, err.Error())
	}

	n, p := len(y), len(Regressors)+1
	if n == 0 {
		return nil, apperrors.NewFitError(model, "empty subsample").WithContext("excluded", excluded)
	}
	if n <= p {
		return nil, apperrors.NewFitError(model,
			fmt.Sprintf("%d observations cannot identify %d parameters", n, p)).
			WithContext("n", n)
	}

	xm := mat.NewDense(n, p, x)
	ym := mat.NewVecDense(n, y)

	var qr mat.QR
	qr.Factorize(xm)
	cond := qr.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > MaxCondition {
		return nil, apperrors.NewFitError(model,
			fmt.Sprintf("design matrix is rank deficient or ill-conditioned (condition number %.3g)", cond)).
			WithContext("condition", cond)
	}

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, ym); err != nil {
		return nil, apperrors.NewFitError(model, "least squares solve failed: "+err.Error())
	}

	var fitted, resid mat.VecDense
	fitted.MulVec(xm, &beta)
	resid.SubVec(ym, &fitted)
	ssr := mat.Dot(&resid, &resid)
	dfResid := n - p
	s2 := ssr / float64(dfResid)

	var xtx mat.SymDense
	xtx.SymOuterK(1, xm.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, apperrors.NewFitError(model, "X'X is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, apperrors.NewFitError(model, "X'X inversion failed: "+err.Error())
	}
	var cov mat.SymDense
	cov.ScaleSym(s2, &inv)

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dfResid)}
	q := t.Quantile(1 - (1-opts.ConfidenceLevel)/2)

	names := append([]string{Intercept}, Regressors...)
	res := &Result{
		Model:           model,
		Dependent:       opts.Dependent,
		N:               n,
		Excluded:        excluded,
		DFResid:         dfResid,
		Coefficients:    make([]Coefficient, p),
		Covariance:      make([][]float64, p),
		ResidualStdErr:  math.Sqrt(s2),
		ConfidenceLevel: opts.ConfidenceLevel,
		Condition:       cond,
	}
	for i := 0; i < p; i++ {
		est := beta.AtVec(i)
		se := math.Sqrt(cov.At(i, i))
		c := Coefficient{
			Name:     names[i],
			Estimate: est,
			StdErr:   se,
			Lower:    est - q*se,
			Upper:    est + q*se,
		}
		if se > 0 {
			c.TStat = est / se
			c.PValue = 2 * t.Survival(math.Abs(c.TStat))
		} else {
			c.TStat = math.Copysign(math.Inf(1), est)
		}
		res.Coefficients[i] = c

		res.Covariance[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			res.Covariance[i][j] = cov.At(i, j)
		}
	}

	res.RSquared = stat.RSquaredFrom(fitted.RawVector().Data, y, nil)
	res.AdjRSquared = 1 - (1-res.RSquared)*float64(n-1)/float64(dfResid)
	return res, nil
}

// design extracts the dependent vector and the row-major design matrix
// with a leading column of ones
func design(df dataframe.DataFrame, filter IndustryFilter, opts Options) (y, x []float64, excluded int, err error) {
	cols := append([]string{frame.Return}, Regressors...)
	if opts.Dependent == config.DependentExcess {
		cols = append(cols, frame.RF)
	}
	if filter != nil {
		cols = append(cols, frame.Class)
	}
	if err := frame.Require(df, "analysis table", cols...); err != nil {
		return nil, nil, 0, err
	}

	var classes []int
	if filter != nil {
		if classes, err = frame.Ints(df, frame.Class); err != nil {
			return nil, nil, 0, err
		}
	}
	ret := frame.Floats(df, frame.Return)
	var rf []float64
	if opts.Dependent == config.DependentExcess {
		rf = frame.Floats(df, frame.RF)
	}
	factors := make([][]float64, len(Regressors))
	for i, name := range Regressors {
		factors[i] = frame.Floats(df, name)
	}

rows:
	for i := range ret {
		if filter != nil && classes[i] != *filter {
			continue
		}
		dep := ret[i]
		if rf != nil {
			dep -= rf[i]
		}
		if math.IsNaN(dep) {
			excluded++
			continue
		}
		for _, f := range factors {
			if math.IsNaN(f[i]) {
				excluded++
				continue rows
			}
		}

		y = append(y, dep)
		x = append(x, 1)
		for _, f := range factors {
			x = append(x, f[i])
		}
	}
	return y, x, excluded, nil
}
