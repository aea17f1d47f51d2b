package analytics

import (
	"sort"

	"github.com/spanlens/spanlens/pkg/types"
)

// OverlapCount returns the number of unordered span pairs that strictly
// overlap.
func OverlapCount(spans []types.Span) int {
	sorted := byStart(spans)
	count := 0
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			// Later spans start no earlier, so once one starts at or after
			// this end nothing further can overlap it.
			if sorted[j].Start >= sorted[i].End {
				break
			}
			if sorted[i].Overlaps(sorted[j]) {
				count++
			}
		}
	}
	return count
}

// OverlapPairs returns every overlapping pair by span id, ordered by the first
// span's start.
func OverlapPairs(spans []types.Span) [][2]string {
	sorted := byStart(spans)
	var pairs [][2]string
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Start >= sorted[i].End {
				break
			}
			if sorted[i].Overlaps(sorted[j]) {
				pairs = append(pairs, [2]string{sorted[i].ID, sorted[j].ID})
			}
		}
	}
	return pairs
}

// Related returns the spans that strictly overlap target, in input order.
func Related(spans []types.Span, target types.Span) []types.Span {
	out := make([]types.Span, 0)
	for _, s := range spans {
		if target.Overlaps(s) {
			out = append(out, s)
		}
	}
	return out
}

// Concurrency is the peak number of simultaneously open spans.
type Concurrency struct {
	Max int     `json:"max"`
	At  float64 `json:"at"`
}

type edge struct {
	time  float64
	delta int
}

// MaxConcurrency sweeps start/end edges in time order. At equal instants ends
// are processed before starts, so back-to-back spans do not count as
// concurrent. At is the first instant the maximum is reached.
func MaxConcurrency(spans []types.Span) Concurrency {
	edges := make([]edge, 0, 2*len(spans))
	for _, s := range spans {
		edges = append(edges, edge{s.Start, +1}, edge{s.End, -1})
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].time != edges[j].time {
			return edges[i].time < edges[j].time
		}
		return edges[i].delta < edges[j].delta
	})

	var c Concurrency
	open := 0
	for _, e := range edges {
		open += e.delta
		if open > c.Max {
			c.Max = open
			c.At = e.time
		}
	}
	return c
}

// byStart returns a start-sorted copy; ties keep input order.
func byStart(spans []types.Span) []types.Span {
	sorted := append([]types.Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return sorted
}
