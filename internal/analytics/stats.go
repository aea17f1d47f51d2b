package analytics

import (
	"sort"

	"github.com/influxdata/tdigest"

	"github.com/spanlens/spanlens/pkg/types"
)

// LayerStat summarizes the spans of one layer.
type LayerStat struct {
	Layer         string  `json:"layer"`
	Count         int     `json:"count"`
	TotalDuration float64 `json:"total_duration"`
}

// Quantiles are approximate duration quantiles.
type Quantiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// Statistics is the full derived analysis of a dataset under a filter.
type Statistics struct {
	TotalSpans       int          `json:"total_spans"`
	VisibleSpans     int          `json:"visible_spans"`
	TimelineDuration float64      `json:"timeline_duration"`
	AverageDuration  float64      `json:"average_duration"`
	OverlapCount     int          `json:"overlap_count"`
	Concurrency      Concurrency  `json:"concurrency"`
	Layers           []LayerStat  `json:"layers"`
	Longest          []types.Span `json:"longest"`
	Quantiles        Quantiles    `json:"quantiles"`
	Gaps             []Gap        `json:"gaps"`
	Patterns         []Pattern    `json:"patterns"`
	CriticalPaths    []Path       `json:"critical_paths"`
}

// Compute derives statistics. Gaps and patterns describe the whole dataset and
// use all; everything else uses the filtered view.
func Compute(all, filtered []types.Span, opts Options) Statistics {
	return Statistics{
		TotalSpans:       len(all),
		VisibleSpans:     len(filtered),
		TimelineDuration: TimeRange(filtered, opts).Width(),
		AverageDuration:  AverageDuration(filtered),
		OverlapCount:     OverlapCount(filtered),
		Concurrency:      MaxConcurrency(filtered),
		Layers:           LayerBreakdown(filtered),
		Longest:          Longest(filtered, opts.MaxLongest),
		Quantiles:        DurationQuantiles(filtered),
		Gaps:             Gaps(all, opts),
		Patterns:         Patterns(all, opts),
		CriticalPaths:    CriticalPaths(filtered, opts),
	}
}

// AverageDuration returns the mean duration, or 0 for no spans.
func AverageDuration(spans []types.Span) float64 {
	if len(spans) == 0 {
		return 0
	}
	var total float64
	for _, s := range spans {
		total += s.Duration
	}
	return total / float64(len(spans))
}

// LayerBreakdown returns per-layer counts and total durations sorted by layer.
func LayerBreakdown(spans []types.Span) []LayerStat {
	byLayer := make(map[string]*LayerStat)
	for _, s := range spans {
		st, ok := byLayer[s.Layer]
		if !ok {
			st = &LayerStat{Layer: s.Layer}
			byLayer[s.Layer] = st
		}
		st.Count++
		st.TotalDuration += s.Duration
	}
	out := make([]LayerStat, 0, len(byLayer))
	for _, st := range byLayer {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// Longest returns up to n spans by descending duration; ties keep input order.
func Longest(spans []types.Span, n int) []types.Span {
	sorted := append(make([]types.Span, 0, len(spans)), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Duration > sorted[j].Duration })
	return truncate(sorted, n)
}

// DurationQuantiles estimates p50/p90/p99 of span durations with a t-digest.
func DurationQuantiles(spans []types.Span) Quantiles {
	if len(spans) == 0 {
		return Quantiles{}
	}
	td := tdigest.NewWithCompression(100)
	for _, s := range spans {
		td.Add(s.Duration, 1)
	}
	return Quantiles{
		P50: td.Quantile(0.5),
		P90: td.Quantile(0.9),
		P99: td.Quantile(0.99),
	}
}

// SelectionSummary describes the selected spans that are currently visible.
type SelectionSummary struct {
	Count           int      `json:"count"`
	TotalDuration   float64  `json:"total_duration"`
	AverageDuration float64  `json:"average_duration"`
	IDs             []string `json:"ids"`
}

// Summarize returns the summary over spans whose id is in selected, in span
// order.
func Summarize(spans []types.Span, selected map[string]struct{}) SelectionSummary {
	sum := SelectionSummary{IDs: make([]string, 0)}
	for _, s := range spans {
		if _, ok := selected[s.ID]; !ok {
			continue
		}
		sum.Count++
		sum.TotalDuration += s.Duration
		sum.IDs = append(sum.IDs, s.ID)
	}
	if sum.Count > 0 {
		sum.AverageDuration = sum.TotalDuration / float64(sum.Count)
	}
	return sum
}
