package exporter

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"

	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/regression"
)

// FailuresSheet lists the models that could not be fitted
const FailuresSheet = "failures"

var coefficientHeader = []string{"model", "term", "coef", "std_err", "t", "p_value", "ci_lower", "ci_upper"}

// WriteSummary prints every model as an aligned text table
func (e *Exporter) WriteSummary(w io.Writer, set *regression.ResultSet) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, fit := range set.Fits {
		if fit.Err != nil {
			fmt.Fprintf(tw, "== %s: not fitted: %v\n\n", fit.Name, fit.Err)
			continue
		}
		r := fit.Result
		fmt.Fprintf(tw, "== %s  dep=%s  n=%d  excluded=%d  R2=%.4f  adjR2=%.4f  s=%.6g\n",
			fit.Name, r.Dependent, r.N, r.Excluded, r.RSquared, r.AdjRSquared, r.ResidualStdErr)

		level := int(r.ConfidenceLevel*100 + 0.5)
		fmt.Fprintf(tw, "term\tcoef\tstd err\tt\tP>|t|\t[%d%% lower\tupper]\n", level)
		for _, c := range r.Coefficients {
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.3f\t%.4f\t%.6f\t%.6f\n",
				c.Name, c.Estimate, c.StdErr, c.TStat, c.PValue, c.Lower, c.Upper)
		}

		fmt.Fprintf(tw, "covariance\t%s\n", strings.Join(r.Names(), "\t"))
		for i, row := range r.Covariance {
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = fmt.Sprintf("%.4e", v)
			}
			fmt.Fprintf(tw, "%s\t%s\n", r.Coefficients[i].Name, strings.Join(cells, "\t"))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// WriteReport writes the regression results to path: one sheet per model
// for .xlsx, one coefficient row per term for .csv
func (e *Exporter) WriteReport(ctx context.Context, set *regression.ResultSet, path string) error {
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case FormatXLSX:
		err = writeWorkbook(set, path)
	case FormatCSV:
		err = e.csv.WriteCSV(path, WriteOptions{
			Headers:   coefficientHeader,
			Records:   coefficientRecords(set),
			BOMPrefix: true,
		})
	default:
		return apperrors.NewAppValidationError(
			fmt.Sprintf("unsupported report format %q, use %s or %s", ext, FormatXLSX, FormatCSV)).
			WithContext("path", path)
	}
	if err != nil {
		return apperrors.NewStorageError("write regression report", err).WithContext("path", path)
	}

	e.logger.InfoContext(ctx, "regression report written",
		"path", path,
		"models", len(set.Succeeded()),
		"failed", len(set.Failed()))
	return nil
}

func coefficientRecords(set *regression.ResultSet) [][]string {
	var records [][]string
	for _, fit := range set.Succeeded() {
		for _, c := range fit.Result.Coefficients {
			records = append(records, []string{
				fit.Name,
				c.Name,
				formatFloat(c.Estimate),
				formatFloat(c.StdErr),
				formatFloat(c.TStat),
				formatFloat(c.PValue),
				formatFloat(c.Lower),
				formatFloat(c.Upper),
			})
		}
	}
	return records
}

func writeWorkbook(set *regression.ResultSet, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	first := ""
	for _, fit := range set.Succeeded() {
		if err := writeModelSheet(f, fit.Name, fit.Result); err != nil {
			return err
		}
		if first == "" {
			first = fit.Name
		}
	}

	if failed := set.Failed(); len(failed) > 0 {
		if _, err := f.NewSheet(FailuresSheet); err != nil {
			return err
		}
		if err := f.SetSheetRow(FailuresSheet, "A1", &[]interface{}{"model", "error"}); err != nil {
			return err
		}
		for i, fit := range failed {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := f.SetSheetRow(FailuresSheet, cell, &[]interface{}{fit.Name, fit.Err.Error()}); err != nil {
				return err
			}
		}
		if first == "" {
			first = FailuresSheet
		}
	}

	if first != "" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
		idx, err := f.GetSheetIndex(first)
		if err != nil {
			return err
		}
		f.SetActiveSheet(idx)
	}
	return f.SaveAs(path)
}

func writeModelSheet(f *excelize.File, sheet string, r *regression.Result) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]interface{}{
		{"dependent", r.Dependent},
		{"observations", r.N},
		{"excluded", r.Excluded},
		{"df_resid", r.DFResid},
		{"r_squared", r.RSquared},
		{"adj_r_squared", r.AdjRSquared},
		{"residual_std_err", r.ResidualStdErr},
		{"confidence_level", r.ConfidenceLevel},
		{},
	}

	header := make([]interface{}, 0, len(coefficientHeader)-1)
	for _, h := range coefficientHeader[1:] {
		header = append(header, h)
	}
	rows = append(rows, header)
	for _, c := range r.Coefficients {
		rows = append(rows, []interface{}{c.Name, c.Estimate, c.StdErr, c.TStat, c.PValue, c.Lower, c.Upper})
	}
	rows = append(rows, []interface{}{})

	covHeader := []interface{}{"covariance"}
	for _, name := range r.Names() {
		covHeader = append(covHeader, name)
	}
	rows = append(rows, covHeader)
	for i, cov := range r.Covariance {
		row := []interface{}{r.Coefficients[i].Name}
		for _, v := range cov {
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
