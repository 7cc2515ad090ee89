package frame

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"factorpanel/pkg/contracts/domain"
)

// Require checks that df is error free and carries every named column
func Require(df dataframe.DataFrame, table string, cols ...string) error {
	if df.Err != nil {
		return fmt.Errorf("%s: %w", table, df.Err)
	}
	have := make(map[string]bool, df.Ncol())
	for _, n := range df.Names() {
		have[n] = true
	}
	for _, c := range cols {
		if !have[c] {
			return fmt.Errorf("%s: missing column %q", table, c)
		}
	}
	return nil
}

// Ints returns an integer column
func Ints(df dataframe.DataFrame, col string) ([]int, error) {
	vals, err := df.Col(col).Int()
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col, err)
	}
	return vals, nil
}

// Floats returns a float column. Missing values are NaN.
func Floats(df dataframe.DataFrame, col string) []float64 {
	return df.Col(col).Float()
}

// Strings returns a column as strings
func Strings(df dataframe.DataFrame, col string) []string {
	return df.Col(col).Records()
}

// IntSeries builds a named integer series
func IntSeries(name string, vals []int) series.Series {
	return series.New(vals, series.Int, name)
}

// FloatSeries builds a named float series
func FloatSeries(name string, vals []float64) series.Series {
	return series.New(vals, series.Float, name)
}

// StringSeries builds a named string series
func StringSeries(name string, vals []string) series.Series {
	return series.New(vals, series.String, name)
}

// Take returns the rows of df at idx, in idx order. Indexes may repeat.
func Take(df dataframe.DataFrame, idx []int) dataframe.DataFrame {
	if len(idx) == 0 {
		return EmptyLike(df)
	}
	return df.Subset(idx)
}

// With adds or replaces columns
func With(df dataframe.DataFrame, cols ...series.Series) dataframe.DataFrame {
	for _, c := range cols {
		if df.Err != nil {
			return df
		}
		df = df.Mutate(c)
	}
	return df
}

// EmptyLike returns a zero-row frame with the schema of df
func EmptyLike(df dataframe.DataFrame) dataframe.DataFrame {
	cols := make([]series.Series, 0, df.Ncol())
	for _, name := range df.Names() {
		cols = append(cols, df.Col(name).Empty())
	}
	return dataframe.New(cols...)
}

// Key identifies one (firm, date) observation
type Key struct {
	Permno int
	Date   int
}

// KeyCounts returns the number of distinct (permno, date) keys and how
// many rows repeat an already seen key.
func KeyCounts(df dataframe.DataFrame) (distinct, duplicates int, err error) {
	permnos, err := Ints(df, Permno)
	if err != nil {
		return 0, 0, err
	}
	dates, err := Ints(df, Date)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[Key]struct{}, len(permnos))
	for i := range permnos {
		k := Key{permnos[i], dates[i]}
		if _, ok := seen[k]; ok {
			duplicates++
			continue
		}
		seen[k] = struct{}{}
	}
	return len(seen), duplicates, nil
}

// SortedDistinct returns the distinct values in ascending order
func SortedDistinct(vals []int) []int {
	out := make([]int, 0, len(vals))
	seen := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// AnalysisRows converts a final table into typed rows
func AnalysisRows(df dataframe.DataFrame) ([]domain.AnalysisRow, error) {
	if err := Require(df, "final table", FinalColumns...); err != nil {
		return nil, err
	}
	ints := make(map[string][]int, 5)
	for _, c := range []string{Permno, Date, Year, Month, Class} {
		v, err := Ints(df, c)
		if err != nil {
			return nil, err
		}
		ints[c] = v
	}
	names := Strings(df, Name)
	status := Strings(df, Status)
	ret, retx := Floats(df, Return), Floats(df, ReturnExDiv)
	mkt, smb, hml, rf := Floats(df, MktRF), Floats(df, SMB), Floats(df, HML), Floats(df, RF)

	rows := make([]domain.AnalysisRow, df.Nrow())
	for i := range rows {
		rows[i] = domain.AnalysisRow{
			Permno:      ints[Permno][i],
			Name:        names[i],
			Date:        ints[Date][i],
			Year:        ints[Year][i],
			Month:       ints[Month][i],
			Return:      ret[i],
			ReturnExDiv: retx[i],
			Status:      status[i],
			Class:       ints[Class][i],
			MktRF:       mkt[i],
			SMB:         smb[i],
			HML:         hml[i],
			RF:          rf[i],
		}
	}
	return rows, nil
}

// FloatsEqual compares float slices treating NaN as equal to NaN
func FloatsEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		an, bn := math.IsNaN(a[i]), math.IsNaN(b[i])
		if an || bn {
			if an != bn {
				return false
			}
			continue
		}
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
