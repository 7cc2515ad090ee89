package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/parquet-go/parquet-go"

	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/frame"
	"factorpanel/internal/infrastructure"
	"factorpanel/pkg/contracts/domain"
)

// Supported table formats, chosen by file extension
const (
	FormatCSV     = ".csv"
	FormatParquet = ".parquet"
	FormatXLSX    = ".xlsx"
)

// Exporter writes tables and regression reports
type Exporter struct {
	csv    *CSVWriter
	logger *slog.Logger
}

// New creates an Exporter
func New(logger *slog.Logger) *Exporter {
	logger = infrastructure.WithComponent(logger, "exporter")
	return &Exporter{csv: NewCSVWriter(logger), logger: logger}
}

// ExportTable writes the final analysis table to path and returns the
// number of rows written
func (e *Exporter) ExportTable(ctx context.Context, df dataframe.DataFrame, path string) (int, error) {
	if err := frame.Require(df, "final table", frame.FinalColumns...); err != nil {
		return 0, apperrors.NewAppValidationError(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, apperrors.NewStorageError("create export directory", err).WithContext("path", path)
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case FormatCSV:
		err = writeTableCSV(df.Select(frame.FinalColumns), path)
	case FormatParquet:
		err = writeTableParquet(df, path)
	default:
		return 0, apperrors.NewAppValidationError(
			fmt.Sprintf("unsupported export format %q, use %s or %s", ext, FormatCSV, FormatParquet)).
			WithContext("path", path)
	}
	if err != nil {
		return 0, apperrors.NewStorageError("export final table", err).WithContext("path", path)
	}

	e.logger.InfoContext(ctx, "final table exported", "path", path, "rows", df.Nrow())
	return df.Nrow(), nil
}

func writeTableCSV(df dataframe.DataFrame, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeTableParquet(df dataframe.DataFrame, path string) error {
	rows, err := frame.AnalysisRows(df)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := parquet.Write[domain.AnalysisRow](f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
