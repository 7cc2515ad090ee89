package panel

import (
	"context"
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"

	"factorpanel/internal/frame"
	"factorpanel/pkg/contracts/domain"
)

// FrameJoiner runs every join in memory on gota frames. Equality joins use
// hash maps and the range join uses a sorted interval index.
type FrameJoiner struct{}

// NewFrameJoiner returns the in-memory engine
func NewFrameJoiner() *FrameJoiner {
	return &FrameJoiner{}
}

// Name implements Joiner
func (j *FrameJoiner) Name() string { return "frame" }

// Close implements Joiner
func (j *FrameJoiner) Close() error { return nil }

// CrossActive implements Joiner
func (j *FrameJoiner) CrossActive(ctx context.Context, firms, calendar dataframe.DataFrame) (dataframe.DataFrame, error) {
	if firms.Nrow() == 0 || calendar.Nrow() == 0 {
		return frame.NewEmpty([]string{frame.Permno, frame.Name, frame.IndustryCode, frame.Date}), nil
	}

	crossed := firms.CrossJoin(calendar)
	if crossed.Err != nil {
		return crossed, crossed.Err
	}
	if err := ctx.Err(); err != nil {
		return crossed, err
	}

	dates, err := frame.Ints(crossed, frame.Date)
	if err != nil {
		return crossed, err
	}
	begin, err := frame.Ints(crossed, frame.Begin)
	if err != nil {
		return crossed, err
	}
	end, err := frame.Ints(crossed, frame.End)
	if err != nil {
		return crossed, err
	}

	keep := make([]int, 0, len(dates))
	for i, d := range dates {
		if d >= begin[i] && d <= end[i] {
			keep = append(keep, i)
		}
	}

	out := frame.Take(crossed, keep).Select([]string{frame.Permno, frame.Name, frame.IndustryCode, frame.Date})
	return out, out.Err
}

// AttachReturns implements Joiner
func (j *FrameJoiner) AttachReturns(ctx context.Context, panel, returns dataframe.DataFrame) (dataframe.DataFrame, int, error) {
	rp, err := frame.Ints(returns, frame.Permno)
	if err != nil {
		return panel, 0, err
	}
	rd, err := frame.Ints(returns, frame.Date)
	if err != nil {
		return panel, 0, err
	}
	rret, rretx := frame.Floats(returns, frame.Return), frame.Floats(returns, frame.ReturnExDiv)
	rstatus := frame.Strings(returns, frame.Status)

	first := make(map[frame.Key]int, len(rp))
	dups := 0
	for i := range rp {
		k := frame.Key{Permno: rp[i], Date: rd[i]}
		if _, ok := first[k]; ok {
			dups++
			continue
		}
		first[k] = i
	}

	pp, err := frame.Ints(panel, frame.Permno)
	if err != nil {
		return panel, 0, err
	}
	pd, err := frame.Ints(panel, frame.Date)
	if err != nil {
		return panel, 0, err
	}

	ret := make([]float64, len(pp))
	retx := make([]float64, len(pp))
	status := make([]string, len(pp))
	for i := range pp {
		r, ok := first[frame.Key{Permno: pp[i], Date: pd[i]}]
		if !ok {
			ret[i], retx[i] = math.NaN(), math.NaN()
			status[i] = string(domain.ReturnMissing)
			continue
		}
		ret[i], retx[i], status[i] = rret[r], rretx[r], rstatus[r]
	}

	out := frame.With(panel,
		frame.FloatSeries(frame.Return, ret),
		frame.FloatSeries(frame.ReturnExDiv, retx),
		frame.StringSeries(frame.Status, status),
	)
	return out, dups, out.Err
}

type membershipSpan struct {
	start, end, row int
}

// JoinMembership implements Joiner
func (j *FrameJoiner) JoinMembership(ctx context.Context, panel, membership dataframe.DataFrame, start, end domain.DateKey) (dataframe.DataFrame, error) {
	mp, err := frame.Ints(membership, frame.Permno)
	if err != nil {
		return panel, err
	}
	ms, err := frame.Ints(membership, frame.Start)
	if err != nil {
		return panel, err
	}
	me, err := frame.Ints(membership, frame.Ending)
	if err != nil {
		return panel, err
	}

	byFirm := make(map[int][]membershipSpan)
	for i := range mp {
		byFirm[mp[i]] = append(byFirm[mp[i]], membershipSpan{start: ms[i], end: me[i], row: i})
	}
	for _, spans := range byFirm {
		sort.SliceStable(spans, func(a, b int) bool {
			if spans[a].start != spans[b].start {
				return spans[a].start < spans[b].start
			}
			return spans[a].end < spans[b].end
		})
	}

	pp, err := frame.Ints(panel, frame.Permno)
	if err != nil {
		return panel, err
	}
	pd, err := frame.Ints(panel, frame.Date)
	if err != nil {
		return panel, err
	}

	idx := make([]int, 0, len(pp))
	for i := range pp {
		d := pd[i]
		if d < int(start) || d > int(end) {
			continue
		}
		for _, s := range byFirm[pp[i]] {
			if d >= s.start && d <= s.end {
				idx = append(idx, i)
			}
		}
	}

	out := frame.Take(panel, idx)
	return out, out.Err
}

// JoinClassification implements Joiner
func (j *FrameJoiner) JoinClassification(ctx context.Context, panel, classes dataframe.DataFrame, sentinel Sentinel) (dataframe.DataFrame, error) {
	index, err := buildIntervalIndex(classes)
	if err != nil {
		return panel, err
	}

	codes, err := frame.Ints(panel, frame.IndustryCode)
	if err != nil {
		return panel, err
	}

	n := len(codes)
	idx := make([]int, 0, n)
	class := make([]int, 0, n)
	lo := make([]int, 0, n)
	hi := make([]int, 0, n)
	for i, code := range codes {
		hits := index.lookup(code)
		if len(hits) == 0 {
			idx = append(idx, i)
			class = append(class, sentinel.Class)
			lo = append(lo, sentinel.Bound)
			hi = append(hi, sentinel.Bound)
			continue
		}
		for _, h := range hits {
			it := index.items[h]
			idx = append(idx, i)
			class = append(class, it.class)
			lo = append(lo, it.start)
			hi = append(hi, it.end)
		}
	}

	out := frame.With(frame.Take(panel, idx),
		frame.IntSeries(frame.Class, class),
		frame.IntSeries(frame.SicStart, lo),
		frame.IntSeries(frame.SicEnd, hi),
	)
	return out, out.Err
}

// JoinFactors implements Joiner
func (j *FrameJoiner) JoinFactors(ctx context.Context, panel, factors dataframe.DataFrame) (dataframe.DataFrame, error) {
	fy, err := frame.Ints(factors, frame.Year)
	if err != nil {
		return panel, err
	}
	fm, err := frame.Ints(factors, frame.Month)
	if err != nil {
		return panel, err
	}
	values := [][]float64{
		frame.Floats(factors, frame.MktRF),
		frame.Floats(factors, frame.SMB),
		frame.Floats(factors, frame.HML),
		frame.Floats(factors, frame.RF),
	}

	first := make(map[[2]int]int, len(fy))
	for i := range fy {
		k := [2]int{fy[i], fm[i]}
		if _, ok := first[k]; !ok {
			first[k] = i
		}
	}

	py, err := frame.Ints(panel, frame.Year)
	if err != nil {
		return panel, err
	}
	pm, err := frame.Ints(panel, frame.Month)
	if err != nil {
		return panel, err
	}

	out := make([][]float64, len(values))
	for c := range out {
		out[c] = make([]float64, len(py))
	}
	for i := range py {
		r, ok := first[[2]int{py[i], pm[i]}]
		for c := range values {
			if ok {
				out[c][i] = values[c][r]
			} else {
				out[c][i] = math.NaN()
			}
		}
	}

	df := frame.With(panel,
		frame.FloatSeries(frame.MktRF, out[0]),
		frame.FloatSeries(frame.SMB, out[1]),
		frame.FloatSeries(frame.HML, out[2]),
		frame.FloatSeries(frame.RF, out[3]),
	)
	return df, df.Err
}

func buildIntervalIndex(classes dataframe.DataFrame) (*intervalIndex, error) {
	cls, err := frame.Ints(classes, frame.Class)
	if err != nil {
		return nil, err
	}
	starts, err := frame.Ints(classes, frame.SicStart)
	if err != nil {
		return nil, err
	}
	ends, err := frame.Ints(classes, frame.SicEnd)
	if err != nil {
		return nil, err
	}
	items := make([]interval, len(cls))
	for i := range cls {
		items[i] = interval{class: cls[i], start: starts[i], end: ends[i], row: i}
	}
	return newIntervalIndex(items), nil
}
