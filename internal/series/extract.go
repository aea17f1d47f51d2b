// Package series extracts per-actor numeric time series from raw events.
package series

import (
	"sort"

	"github.com/spanlens/spanlens/internal/timestamp"
	"github.com/spanlens/spanlens/pkg/types"
)

// Extract builds attribute → actor → points from every numeric attribute that
// is not the timestamp. Events with an unusable timestamp contribute nothing.
// Each actor's points are sorted ascending by time; equal times keep input order.
func Extract(events []types.RawEvent) types.NumericSeries {
	out := make(types.NumericSeries)
	for _, ev := range events {
		if len(ev.Attributes) == 0 {
			continue
		}
		t := timestamp.Parse(ev.Timestamp)
		if !timestamp.Valid(t) {
			continue
		}
		for _, name := range ev.AttributeNames() {
			if name == types.FieldTimestamp {
				continue
			}
			byActor, ok := out[name]
			if !ok {
				byActor = make(map[string][]types.SeriesPoint)
				out[name] = byActor
			}
			byActor[ev.Actor] = append(byActor[ev.Actor], types.SeriesPoint{Time: t, Value: ev.Attributes[name]})
		}
	}

	for _, byActor := range out {
		for _, points := range byActor {
			sort.SliceStable(points, func(i, j int) bool { return points[i].Time < points[j].Time })
		}
	}
	return out
}
