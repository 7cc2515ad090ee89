package validation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// headerScanLines bounds how far into a file the header row is searched.
// Factor files start with a free-text preamble.
const headerScanLines = 64

// FileValidator checks input sources and output locations before a run
type FileValidator struct {
	logger *slog.Logger
	client *http.Client
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger, timeout time.Duration) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// ValidateOutputDirectory ensures output directory exists or can be created
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	// Verify it's writable by creating a test file
	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	file.Close()
	os.Remove(testFile)

	v.logger.Debug("Output directory validated",
		slog.String("directory", dir))
	return nil
}

// ValidateFile checks if a specific file exists and is readable
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("File does not exist",
			slog.String("file", path))
		return fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		v.logger.Error("Path is a directory, not a file",
			slog.String("path", path))
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() == 0 {
		v.logger.Error("File is empty",
			slog.String("file", path))
		return fmt.Errorf("file %s is empty", path)
	}

	file, err := os.Open(path)
	if err != nil {
		v.logger.Error("File is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("File validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateHeader checks that one of the first lines of a delimited file
// names every required column. Names match case-insensitively.
func (v *FileValidator) ValidateHeader(path string, delimiter rune, required []string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for line := 1; line <= headerScanLines; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("file %s line %d: %w", path, line, err)
		}
		if missing := missingColumns(record, required); len(missing) == 0 {
			v.logger.Debug("Header validated",
				slog.String("file", path),
				slog.Int("line", line))
			return nil
		}
	}

	v.logger.Error("Required columns not found",
		slog.String("file", path),
		slog.Any("required", required))
	return fmt.Errorf("file %s: no header row with columns %s in the first %d lines",
		path, strings.Join(required, ", "), headerScanLines)
}

// ValidateRemote checks that a URL answers with a success status
func (v *FileValidator) ValidateRemote(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid URL %s: %w", url, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("Remote source unreachable",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return fmt.Errorf("remote source %s unreachable: %w", url, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		v.logger.Error("Remote source returned an error status",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode))
		return fmt.Errorf("remote source %s returned %s", url, resp.Status)
	}
	return nil
}

func missingColumns(record, required []string) []string {
	have := make(map[string]bool, len(record))
	for _, f := range record {
		have[strings.ToLower(strings.TrimSpace(f))] = true
	}
	var missing []string
	for _, c := range required {
		if !have[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	return missing
}
