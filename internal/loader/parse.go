package loader

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"

	apperrors "factorpanel/internal/errors"
	"factorpanel/pkg/contracts/domain"
)

// column is one raw string column of an input table
type column struct {
	table  string
	name   string
	values []string
	// lines maps row index to the source line; nil means header on line 1
	lines []int
}

func (c column) line(i int) int {
	if c.lines != nil {
		return c.lines[i]
	}
	return i + 2
}

func (c column) parseError(i int, cause error) error {
	return apperrors.NewParsingError(
		fmt.Sprintf("%s: column %s line %d: cannot parse %q", c.table, c.name, c.line(i), c.values[i]), cause).
		WithContext("table", c.table).
		WithContext("column", c.name).
		WithContext("line", c.line(i))
}

// pick finds a column by name, ignoring case and surrounding spaces
func pick(df dataframe.DataFrame, table, name string, lines []int) (column, error) {
	for _, n := range df.Names() {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return column{table: table, name: name, values: df.Col(n).Records(), lines: lines}, nil
		}
	}
	return column{}, apperrors.NewParsingError(fmt.Sprintf("%s: missing column %q", table, name), nil).
		WithContext("table", table).
		WithContext("column", name)
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}

// ints parses every value as an integer
func (c column) ints() ([]int, error) {
	out := make([]int, len(c.values))
	for i, v := range c.values {
		n, err := parseInt(v)
		if err != nil {
			return nil, c.parseError(i, err)
		}
		out[i] = n
	}
	return out, nil
}

// intsOrZero parses integers, mapping blank cells to zero. It returns the
// number of blanks.
func (c column) intsOrZero() ([]int, int, error) {
	out := make([]int, len(c.values))
	blanks := 0
	for i, v := range c.values {
		if strings.TrimSpace(v) == "" {
			blanks++
			continue
		}
		n, err := parseInt(v)
		if err != nil {
			return nil, 0, c.parseError(i, err)
		}
		out[i] = n
	}
	return out, blanks, nil
}

// dates parses every value with layout
func (c column) dates(layout string) ([]int, error) {
	out := make([]int, len(c.values))
	for i, v := range c.values {
		t, err := time.Parse(layout, strings.TrimSpace(v))
		if err != nil {
			return nil, c.parseError(i, err)
		}
		out[i] = int(domain.NewDateKey(t))
	}
	return out, nil
}

// floats parses every value as a float scaled by 1/scale
func (c column) floats(scale float64) ([]float64, error) {
	out := make([]float64, len(c.values))
	for i, v := range c.values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			if err == nil {
				err = fmt.Errorf("not a finite number")
			}
			return nil, c.parseError(i, err)
		}
		out[i] = f / scale
	}
	return out, nil
}

func (c column) strings() []string {
	out := make([]string, len(c.values))
	for i, v := range c.values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

// parseInt accepts plain integers and integral decimals such as "10107.0"
func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

// returnValue classifies one raw return cell. Non-numeric codes are missing,
// values below floor are invalid. Both yield NaN.
func returnValue(raw string, floor float64) (float64, domain.ReturnStatus) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return math.NaN(), domain.ReturnMissing
	}
	if f < floor {
		return math.NaN(), domain.ReturnInvalid
	}
	return f, domain.ReturnValid
}

// combineStatus derives the row status from the total and ex-dividend
// returns. Invalid wins over missing; a row is valid only when both are.
func combineStatus(ret, retx domain.ReturnStatus) domain.ReturnStatus {
	switch {
	case ret == domain.ReturnInvalid || retx == domain.ReturnInvalid:
		return domain.ReturnInvalid
	case ret == domain.ReturnMissing || retx == domain.ReturnMissing:
		return domain.ReturnMissing
	}
	return domain.ReturnValid
}

// isMonthKey reports whether s is a packed YYYYMM period
func isMonthKey(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	month := (int(s[4]-'0'))*10 + int(s[5]-'0')
	return month >= 1 && month <= 12
}
