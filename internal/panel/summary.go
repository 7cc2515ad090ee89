package panel

import (
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/stat"

	"factorpanel/internal/frame"
)

// Summary describes a final analysis table
type Summary struct {
	Rows             int
	Firms            int
	Dates            int
	ClassCounts      map[int]int
	StatusCounts     map[string]int
	MeanReturn       float64
	StdReturn        float64
	UnmatchedFactors int
}

// Classes returns the observed classes in ascending order
func (s Summary) Classes() []int {
	out := make([]int, 0, len(s.ClassCounts))
	for c := range s.ClassCounts {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Summarize computes descriptive counts over a final table
func Summarize(df dataframe.DataFrame) (Summary, error) {
	if err := frame.Require(df, "final table", frame.FinalColumns...); err != nil {
		return Summary{}, err
	}
	permnos, err := frame.Ints(df, frame.Permno)
	if err != nil {
		return Summary{}, err
	}
	dates, err := frame.Ints(df, frame.Date)
	if err != nil {
		return Summary{}, err
	}
	classes, err := frame.Ints(df, frame.Class)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Rows:         df.Nrow(),
		Firms:        len(frame.SortedDistinct(permnos)),
		Dates:        len(frame.SortedDistinct(dates)),
		ClassCounts:  make(map[int]int),
		StatusCounts: make(map[string]int),
		MeanReturn:   math.NaN(),
		StdReturn:    math.NaN(),
	}
	for _, c := range classes {
		s.ClassCounts[c]++
	}
	for _, st := range frame.Strings(df, frame.Status) {
		s.StatusCounts[st]++
	}
	for _, v := range frame.Floats(df, frame.MktRF) {
		if math.IsNaN(v) {
			s.UnmatchedFactors++
		}
	}

	var rets []float64
	for _, v := range frame.Floats(df, frame.Return) {
		if !math.IsNaN(v) {
			rets = append(rets, v)
		}
	}
	switch len(rets) {
	case 0:
	case 1:
		s.MeanReturn = rets[0]
	default:
		s.MeanReturn, s.StdReturn = stat.MeanStdDev(rets, nil)
	}
	return s, nil
}
