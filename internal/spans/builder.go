// Package spans pairs open and close marker events into spans.
package spans

import (
	"sort"
	"strconv"

	"github.com/spanlens/spanlens/internal/timestamp"
	"github.com/spanlens/spanlens/pkg/types"
)

// Unclosed describes an event id that was opened but never closed.
type Unclosed struct {
	EventID     string
	DisplayName string
	Start       float64
}

// Result is the output of a build.
type Result struct {
	// Spans are sorted ascending by start; ties keep input order.
	Spans []types.Span

	// Unclosed lists ids still open at the end of input, in opening order.
	Unclosed []Unclosed

	// Skipped counts events dropped for an unusable timestamp or a missing id.
	Skipped int
}

type openMarker struct {
	start float64
	event types.RawEvent
	order int
}

// Build pairs events in file order. The first occurrence of an id opens a span
// and the next occurrence closes it; the id may then be reused.
func Build(events []types.RawEvent) Result {
	var res Result
	open := make(map[string]openMarker)
	used := make(map[string]int)
	opened := 0

	for _, ev := range events {
		t := timestamp.Parse(ev.Timestamp)
		if !timestamp.Valid(t) || ev.EventID == "" {
			res.Skipped++
			continue
		}

		marker, isOpen := open[ev.EventID]
		if !isOpen {
			open[ev.EventID] = openMarker{start: t, event: ev, order: opened}
			opened++
			continue
		}
		delete(open, ev.EventID)

		res.Spans = append(res.Spans, types.Span{
			ID:          spanID(used, marker.event.EventID, marker.start),
			EventID:     marker.event.EventID,
			Start:       marker.start,
			End:         t,
			Duration:    t - marker.start,
			DisplayName: marker.event.DisplayName,
			Layer:       marker.event.LayerKey(),
			Actor:       marker.event.Actor,
		})
	}

	sort.SliceStable(res.Spans, func(i, j int) bool {
		return res.Spans[i].Start < res.Spans[j].Start
	})

	if len(open) > 0 {
		markers := make([]openMarker, 0, len(open))
		for _, m := range open {
			markers = append(markers, m)
		}
		sort.Slice(markers, func(i, j int) bool { return markers[i].order < markers[j].order })
		for _, m := range markers {
			res.Unclosed = append(res.Unclosed, Unclosed{
				EventID:     m.event.EventID,
				DisplayName: m.event.DisplayName,
				Start:       m.start,
			})
		}
	}
	return res
}

// spanID derives "<event_id>-<start>" and appends "#n" when a dataset repeats
// the same id at the same start.
func spanID(used map[string]int, eventID string, start float64) string {
	id := eventID + "-" + strconv.FormatFloat(start, 'f', -1, 64)
	n := used[id]
	used[id] = n + 1
	if n == 0 {
		return id
	}
	return id + "#" + strconv.Itoa(n)
}
