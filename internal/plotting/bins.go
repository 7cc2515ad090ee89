// Package plotting renders return-distribution histograms. Rendering never
// changes the analysis table.
package plotting

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"
)

// Bins is a histogram over equal-width bins
type Bins struct {
	Dividers []float64
	Counts   []float64
	// Dropped counts NaN and infinite values left out of the histogram
	Dropped int
}

// Width returns the width of every bin
func (b Bins) Width() float64 {
	if len(b.Dividers) < 2 {
		return 0
	}
	return b.Dividers[1] - b.Dividers[0]
}

// Total returns the number of binned values
func (b Bins) Total() float64 {
	return floats.Sum(b.Counts)
}

// Bin splits the finite values into n equal-width bins spanning their range.
// The upper edge is nudged up so the maximum lands in the last bin.
func Bin(values []float64, n int) (Bins, error) {
	if n < 1 {
		return Bins{}, fmt.Errorf("bin count must be positive, got %d", n)
	}

	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
	}
	dropped := len(values) - len(finite)
	if len(finite) == 0 {
		return Bins{Dropped: dropped}, fmt.Errorf("no finite values to bin")
	}
	sort.Float64s(finite)

	lo, hi := finite[0], finite[len(finite)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = math.Nextafter(hi, math.Inf(1))

	return Bins{
		Dividers: dividers,
		Counts:   stat.Histogram(nil, dividers, finite, nil),
		Dropped:  dropped,
	}, nil
}

// histogram turns bins into a plotter without re-binning
func (b Bins) histogram() *plotter.Histogram {
	hb := make([]plotter.HistogramBin, len(b.Counts))
	for i, c := range b.Counts {
		hb[i] = plotter.HistogramBin{Min: b.Dividers[i], Max: b.Dividers[i+1], Weight: c}
	}
	return &plotter.Histogram{
		Bins:      hb,
		Width:     b.Width(),
		LineStyle: plotter.DefaultLineStyle,
	}
}
