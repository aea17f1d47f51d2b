package analytics

import (
	"math"

	"github.com/spanlens/spanlens/pkg/types"
)

// TimeRange returns the min start and max end over spans, padded on each side
// by opts.PaddingRatio of the width.
func TimeRange(spans []types.Span, opts Options) types.TimeRange {
	if len(spans) == 0 {
		return opts.DefaultRange
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range spans {
		lo = math.Min(lo, s.Start)
		hi = math.Max(hi, s.End)
	}
	pad := (hi - lo) * opts.PaddingRatio
	return types.TimeRange{Start: lo - pad, End: hi + pad}
}
