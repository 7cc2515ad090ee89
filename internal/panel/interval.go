package panel

import "sort"

// interval is one classification range with its source row
type interval struct {
	class int
	start int
	end   int
	row   int
}

// intervalIndex answers "which ranges contain code" on possibly
// overlapping closed ranges. Ranges are sorted by (start, end, class, row)
// and maxEnd[i] holds the largest end among the first i+1 ranges, so a
// lookup scans backwards from the last range starting at or before code and
// stops once no earlier range can reach it.
type intervalIndex struct {
	items  []interval
	maxEnd []int
	cache  map[int][]int
}

func newIntervalIndex(items []interval) *intervalIndex {
	sorted := make([]interval, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end < b.end
		}
		if a.class != b.class {
			return a.class < b.class
		}
		return a.row < b.row
	})

	maxEnd := make([]int, len(sorted))
	for i, it := range sorted {
		maxEnd[i] = it.end
		if i > 0 && maxEnd[i-1] > it.end {
			maxEnd[i] = maxEnd[i-1]
		}
	}
	return &intervalIndex{items: sorted, maxEnd: maxEnd, cache: make(map[int][]int)}
}

// lookup returns positions into items of the ranges containing code, in
// sorted order
func (x *intervalIndex) lookup(code int) []int {
	if hit, ok := x.cache[code]; ok {
		return hit
	}

	hi := sort.Search(len(x.items), func(i int) bool { return x.items[i].start > code })
	var found []int
	for i := hi - 1; i >= 0 && x.maxEnd[i] >= code; i-- {
		if x.items[i].end >= code {
			found = append(found, i)
		}
	}
	for l, r := 0, len(found)-1; l < r; l, r = l+1, r-1 {
		found[l], found[r] = found[r], found[l]
	}

	x.cache[code] = found
	return found
}

// overlaps returns pairs of ranges that share at least one code
func (x *intervalIndex) overlaps() [][2]interval {
	var out [][2]interval
	for i := 1; i < len(x.items); i++ {
		for j := i - 1; j >= 0 && x.maxEnd[j] >= x.items[i].start; j-- {
			if x.items[j].end >= x.items[i].start {
				out = append(out, [2]interval{x.items[j], x.items[i]})
			}
		}
	}
	return out
}
