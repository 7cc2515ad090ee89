// Package exporter writes the artifacts of a run.
//
// This package contains three main components:
//
// CSVWriter: Core CSV writing with optional UTF-8 BOM for spreadsheet
// compatibility, used for coefficient tables.
//
// Table export: the final analysis table as CSV (gota) or Parquet
// (parquet-go), selected by file extension.
//
// Reports: regression summaries as aligned text tables, and as an XLSX
// workbook with one sheet per model.
//
// Example usage:
//
//	exp := exporter.New(logger)
//	n, err := exp.ExportTable(ctx, final, "out/final.parquet")
//
//	exp.WriteSummary(os.Stdout, results)
//	err = exp.WriteReport(ctx, results, "out/regressions.xlsx")
package exporter
