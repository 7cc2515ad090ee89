package regression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-gota/gota/dataframe"

	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/infrastructure"
)

// ModelFit is the outcome of one model in a result set. Exactly one of
// Result and Err is set.
type ModelFit struct {
	Name   string
	Class  IndustryFilter
	Result *Result
	Err    error
}

// ResultSet holds every per-class model followed by the pooled model
type ResultSet struct {
	Fits []ModelFit
}

// Succeeded returns the fits that produced a result
func (s *ResultSet) Succeeded() []ModelFit {
	var out []ModelFit
	for _, f := range s.Fits {
		if f.Err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Failed returns the fits that produced an error
func (s *ResultSet) Failed() []ModelFit {
	var out []ModelFit
	for _, f := range s.Fits {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Get returns the fit with the given model name
func (s *ResultSet) Get(name string) (ModelFit, bool) {
	for _, f := range s.Fits {
		if f.Name == name {
			return f, true
		}
	}
	return ModelFit{}, false
}

// FitAll fits one model per class and the pooled model. Per-model failures
// are kept in the set; an error is returned only when no model could be
// fitted or the context was cancelled.
func FitAll(ctx context.Context, df dataframe.DataFrame, classes []int, opts Options, logger *slog.Logger) (*ResultSet, error) {
	logger = infrastructure.WithComponent(logger, "regression")

	filters := make([]IndustryFilter, 0, len(classes)+1)
	for _, c := range classes {
		filters = append(filters, Class(c))
	}
	filters = append(filters, nil)

	set := &ResultSet{Fits: make([]ModelFit, 0, len(filters))}
	for _, filter := range filters {
		if err := ctx.Err(); err != nil {
			return set, err
		}

		fit := ModelFit{Name: ModelName(filter), Class: filter}
		fit.Result, fit.Err = FitOLS(df, filter, opts)
		set.Fits = append(set.Fits, fit)

		if fit.Err != nil {
			logger.WarnContext(ctx, "model fit failed", "model", fit.Name, "error", fit.Err)
			continue
		}
		logger.InfoContext(ctx, "model fitted",
			"model", fit.Name,
			"n", fit.Result.N,
			"excluded", fit.Result.Excluded,
			"r_squared", fit.Result.RSquared)
	}

	if failed := set.Failed(); len(failed) == len(set.Fits) {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.Name
		}
		return set, apperrors.NewFitError("all", fmt.Sprintf("no model could be fitted (%s)", strings.Join(names, ", ")))
	}
	return set, nil
}
