package types

import "sort"

// Span is one reconstructed open→close interval. Times are milliseconds.
type Span struct {
	// ID is derived from the event id and the start time and is unique per dataset.
	ID string `json:"id"`

	// EventID is the marker id shared by the open and close events.
	EventID string `json:"event_id"`

	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`

	// DisplayName, Layer and Actor come from the opening event.
	DisplayName string `json:"display_name"`
	Layer       string `json:"layer"`
	Actor       string `json:"actor"`
}

// Overlaps reports strict interval overlap. Touching endpoints do not overlap
// and a span never overlaps itself.
func (s Span) Overlaps(o Span) bool {
	if s.ID != "" && s.ID == o.ID {
		return false
	}
	return s.Start < o.End && s.End > o.Start
}

// TimeRange is the padded visible window over a set of spans, in milliseconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Width returns End - Start.
func (r TimeRange) Width() float64 {
	return r.End - r.Start
}

// Group is a display bucket of spans sharing an (actor, layer) pair.
type Group struct {
	Actor string `json:"actor"`
	Layer string `json:"layer"`
	Spans []Span `json:"spans"`
}

// SeriesPoint is one sample of a numeric attribute. Time is milliseconds.
type SeriesPoint struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// NumericSeries maps attribute name → actor → points ordered by time.
type NumericSeries map[string]map[string][]SeriesPoint

// Attributes returns the attribute names in sorted order.
func (n NumericSeries) Attributes() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actors returns the actors that have points for attribute, sorted.
func (n NumericSeries) Actors(attribute string) []string {
	byActor := n[attribute]
	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	return actors
}
