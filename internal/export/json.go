package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
)

// Document is the JSON export. Its events array can be imported again as
// pre-paired records.
type Document struct {
	Metadata Metadata `json:"metadata"`
	Events   []Record `json:"events"`
}

// Metadata describes an export. Times in TimeRange are seconds; Statistics
// keeps the engine's millisecond unit.
type Metadata struct {
	ExportTime  time.Time            `json:"export_time"`
	DatasetID   string               `json:"dataset_id,omitempty"`
	TotalEvents int                  `json:"total_events"`
	TimeRange   Range                `json:"time_range"`
	Statistics  analytics.Statistics `json:"statistics"`
}

// Range is a time range in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Record is one exported span. Times are seconds.
type Record struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Layer    string  `json:"layer"`
	Actor    string  `json:"actor"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// BuildDocument assembles the JSON export from the full span list of snap.
// The metadata time range is the padded range of the current view.
func BuildDocument(snap *engine.Snapshot, opts Options) Document {
	all := snap.Spans

	doc := Document{
		Metadata: Metadata{
			ExportTime:  opts.now().UTC(),
			DatasetID:   snap.DatasetID,
			TotalEvents: len(all),
			TimeRange:   Range{Start: seconds(snap.TimeRange.Start), End: seconds(snap.TimeRange.End)},
			Statistics:  analytics.Compute(all, all, opts.Analytics),
		},
		Events: make([]Record, 0, len(all)),
	}
	for _, s := range all {
		doc.Events = append(doc.Events, Record{
			ID:       s.EventID,
			Name:     s.DisplayName,
			Layer:    s.Layer,
			Actor:    s.Actor,
			Start:    seconds(s.Start),
			End:      seconds(s.End),
			Duration: seconds(s.Duration),
		})
	}
	return doc
}

// WriteJSON writes the JSON export of snap to w.
func WriteJSON(w io.Writer, snap *engine.Snapshot, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(BuildDocument(snap, opts)); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to encode JSON export", err)
	}
	return nil
}
