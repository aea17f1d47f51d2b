// Package analytics computes derived timeline statistics over spans.
//
// Every function returns a zero or empty result for empty input. Inputs are
// never modified.
package analytics

import "github.com/spanlens/spanlens/pkg/types"

// Options holds the analysis thresholds. All durations are milliseconds.
type Options struct {
	// GapThreshold is the minimum idle time reported as a gap.
	GapThreshold float64

	// PathTolerance is how far after a path's latest end the next span may
	// start and still extend the path.
	PathTolerance float64

	// PaddingRatio pads the time range on each side.
	PaddingRatio float64

	// DefaultRange is returned when there are no spans.
	DefaultRange types.TimeRange

	MaxGaps          int
	MaxPatterns      int
	MaxCriticalPaths int
	MaxLongest       int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		GapThreshold:     100,
		PathTolerance:    100,
		PaddingRatio:     0.05,
		DefaultRange:     types.TimeRange{Start: 0, End: 1000},
		MaxGaps:          3,
		MaxPatterns:      5,
		MaxCriticalPaths: 3,
		MaxLongest:       5,
	}
}
