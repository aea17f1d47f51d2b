package analytics

import (
	"sort"

	"github.com/spanlens/spanlens/pkg/types"
)

// Gap is idle time between two consecutive spans in start order.
type Gap struct {
	// Time is the end of the span before the gap.
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	After    string  `json:"after"`
	Before   string  `json:"before"`
}

// Gaps reports the largest gaps above opts.GapThreshold between
// start-adjacent spans, largest first.
func Gaps(spans []types.Span, opts Options) []Gap {
	sorted := byStart(spans)
	gaps := make([]Gap, 0)
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		d := next.Start - prev.End
		if d > opts.GapThreshold {
			gaps = append(gaps, Gap{Time: prev.End, Duration: d, After: prev.ID, Before: next.ID})
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Duration > gaps[j].Duration })
	return truncate(gaps, opts.MaxGaps)
}

// Pattern is a layer transition and how often it occurs.
type Pattern struct {
	Sequence string `json:"sequence"`
	From     string `json:"from"`
	To       string `json:"to"`
	Count    int    `json:"count"`
}

// Patterns counts layer bigrams over start-sorted spans and returns the most
// frequent. Equal counts keep first-occurrence order.
func Patterns(spans []types.Span, opts Options) []Pattern {
	sorted := byStart(spans)
	index := make(map[[2]string]int)
	patterns := make([]Pattern, 0)
	for i := 1; i < len(sorted); i++ {
		key := [2]string{sorted[i-1].Layer, sorted[i].Layer}
		if at, ok := index[key]; ok {
			patterns[at].Count++
			continue
		}
		index[key] = len(patterns)
		patterns = append(patterns, Pattern{
			Sequence: key[0] + " → " + key[1],
			From:     key[0],
			To:       key[1],
			Count:    1,
		})
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Count > patterns[j].Count })
	return truncate(patterns, opts.MaxPatterns)
}

// Path is a run of near-contiguous spans.
type Path struct {
	Name     string       `json:"name"`
	Start    float64      `json:"start"`
	End      float64      `json:"end"`
	Duration float64      `json:"duration"`
	Spans    []types.Span `json:"spans"`
}

// CriticalPaths groups start-sorted spans into runs. A span extends the
// current run when it starts no later than the run's latest end plus
// opts.PathTolerance; otherwise the run closes and the span starts a new one.
// Only runs closed by a breaking span count, and of those the runs of more
// than two spans are kept, longest first. The run still open at the end of
// input is not a path.
func CriticalPaths(spans []types.Span, opts Options) []Path {
	sorted := byStart(spans)
	paths := make([]Path, 0)

	var run []types.Span
	var runEnd float64
	closeRun := func() {
		if len(run) > 2 {
			first, last := run[0], run[len(run)-1]
			paths = append(paths, Path{
				Name:     first.DisplayName + " → " + last.DisplayName,
				Start:    first.Start,
				End:      runEnd,
				Duration: runEnd - first.Start,
				Spans:    run,
			})
		}
	}

	for _, s := range sorted {
		if len(run) > 0 && s.Start <= runEnd+opts.PathTolerance {
			run = append(run, s)
			if s.End > runEnd {
				runEnd = s.End
			}
			continue
		}
		closeRun()
		run = []types.Span{s}
		runEnd = s.End
	}

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Duration > paths[j].Duration })
	return truncate(paths, opts.MaxCriticalPaths)
}

func truncate[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
