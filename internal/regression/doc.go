// Package regression fits ordinary least squares factor models of firm
// returns on the market, size and value factors.
//
// A model is fitted on the pooled final table or on the rows of a single
// industry class. Degenerate samples (empty, fewer rows than parameters,
// collinear regressors) are reported as FIT errors rather than returning
// meaningless coefficients.
package regression
