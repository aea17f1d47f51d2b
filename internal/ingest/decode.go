// Package ingest classifies and decodes event log payloads.
//
// Four shapes are accepted:
//
//   - a bare array of raw events
//   - {"layers": [...], "events": [...]}: layer definitions plus raw events
//   - {"events": [...]}: pre-paired span records, each expanded into an open
//     and a close event
//   - {"data": [...]}: a wrapped array of raw events
//
// The payload is classified before any field is interpreted. Anything else is
// rejected.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/pkg/types"
)

// Format identifies the shape a payload was decoded from.
type Format string

const (
	FormatBare    Format = "bare"
	FormatLayered Format = "layered"
	FormatPaired  Format = "paired"
	FormatWrapped Format = "wrapped"
)

// CompleteSuffix is appended to the display name of synthetic close events.
const CompleteSuffix = " Complete"

// DefaultLayerColor is used for declared layers without a color.
const DefaultLayerColor = "#666666"

// Payload is a decoded import.
type Payload struct {
	Format Format
	Events []types.RawEvent

	// Layers is set only for the layered format, in declaration order.
	Layers []types.LayerDef
}

// LayerOrder returns the declared layer ids in order.
func (p Payload) LayerOrder() []string {
	ids := make([]string, 0, len(p.Layers))
	for _, l := range p.Layers {
		ids = append(ids, l.ID)
	}
	return ids
}

// Colors maps declared layer ids to their color.
func (p Payload) Colors() map[string]string {
	colors := make(map[string]string, len(p.Layers))
	for _, l := range p.Layers {
		c := l.Color
		if c == "" {
			c = DefaultLayerColor
		}
		colors[l.ID] = c
	}
	return colors
}

// PairedRecord is one pre-paired span as found in the paired format and in
// JSON exports. Start and end are seconds.
type PairedRecord struct {
	ID       FlexString      `json:"id"`
	Name     FlexString      `json:"name"`
	Start    types.Timestamp `json:"start"`
	End      types.Timestamp `json:"end"`
	Category FlexString      `json:"category"`
	Layer    FlexString      `json:"layer"`
	Actor    FlexString      `json:"actor"`
}

// FlexString decodes a JSON string or number into its text form.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*f = FlexString(data)
	}
	return nil
}

// Decode classifies payload and decodes it. Errors are IMPORT-category
// SpanlensErrors.
func Decode(payload []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Payload{}, errors.NewImportError(errors.CodeMalformedPayload, "empty payload")
	}

	switch trimmed[0] {
	case '[':
		events, err := decodeEvents(trimmed)
		if err != nil {
			return Payload{}, err
		}
		return finish(Payload{Format: FormatBare, Events: events})
	case '{':
	default:
		return Payload{}, errors.NewImportError(errors.CodeUnknownFormat,
			"payload must be an array of events or an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "invalid JSON", err)
	}

	if rawLayers, ok := fields["layers"]; ok {
		return decodeLayered(rawLayers, fields["events"])
	}
	if raw, ok := fields["events"]; ok && isArray(raw) {
		return decodePaired(raw)
	}
	if raw, ok := fields["data"]; ok && isArray(raw) {
		events, err := decodeEvents(raw)
		if err != nil {
			return Payload{}, err
		}
		return finish(Payload{Format: FormatWrapped, Events: events})
	}

	return Payload{}, errors.NewImportError(errors.CodeUnknownFormat,
		"no recognized event array: expected an array, {events}, {data} or {layers, events}")
}

func decodeLayered(rawLayers, rawEvents json.RawMessage) (Payload, error) {
	if !isArray(rawLayers) || !isArray(rawEvents) {
		return Payload{}, errors.NewImportError(errors.CodeMissingArrays,
			"invalid log format: expected { layers: [...], events: [...] }")
	}

	var layers []types.LayerDef
	if err := json.Unmarshal(rawLayers, &layers); err != nil {
		return Payload{}, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "invalid layer definitions", err)
	}
	events, err := decodeEvents(rawEvents)
	if err != nil {
		return Payload{}, err
	}
	return finish(Payload{Format: FormatLayered, Events: events, Layers: layers})
}

func decodePaired(raw json.RawMessage) (Payload, error) {
	var records []PairedRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return Payload{}, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "invalid paired event records", err)
	}
	return finish(Payload{Format: FormatPaired, Events: ExpandPaired(records)})
}

// ExpandPaired turns each record into an open event at start and a close event
// at end. The close event's display name gets CompleteSuffix.
func ExpandPaired(records []PairedRecord) []types.RawEvent {
	events := make([]types.RawEvent, 0, 2*len(records))
	for _, r := range records {
		open := types.RawEvent{
			Timestamp:   r.Start,
			EventID:     string(r.ID),
			DisplayName: string(r.Name),
			Actor:       string(r.Actor),
			Layer:       string(r.Layer),
			Category:    string(r.Category),
		}
		closing := open
		closing.Timestamp = r.End
		closing.DisplayName = open.DisplayName + CompleteSuffix
		events = append(events, open, closing)
	}
	return events
}

func decodeEvents(raw json.RawMessage) ([]types.RawEvent, error) {
	var events []types.RawEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "invalid event records", err)
	}
	return events, nil
}

func finish(p Payload) (Payload, error) {
	if len(p.Events) == 0 {
		return Payload{}, errors.NewImportError(errors.CodeNoEvents, "no valid events found in payload").
			WithDetails(map[string]interface{}{"format": string(p.Format)})
	}
	return p, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
