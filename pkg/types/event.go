// Package types provides core data types for spanlens.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Field names with a fixed meaning in a raw event record.
const (
	FieldTimestamp   = "timestamp"
	FieldEventID     = "event_id"
	FieldDisplayName = "display_name"
	FieldActor       = "actor"
	FieldLayer       = "layer"
	FieldCategory    = "category"
)

// Timestamp is a timestamp exactly as it appeared in the input: a JSON number,
// a JSON string, or absent.
type Timestamp struct {
	// Number holds the value when IsNumber is set.
	Number float64

	// Text holds the value when the input was a string.
	Text string

	// IsNumber reports whether the input was a JSON number.
	IsNumber bool

	// Present reports whether the field was present and non-null.
	Present bool
}

// NumberTimestamp returns a numeric timestamp (seconds).
func NumberTimestamp(v float64) Timestamp {
	return Timestamp{Number: v, IsNumber: true, Present: true}
}

// TextTimestamp returns a textual timestamp.
func TextTimestamp(s string) Timestamp {
	return Timestamp{Text: s, Present: true}
}

// MarshalJSON writes the timestamp back in its original representation.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch {
	case !t.Present:
		return []byte("null"), nil
	case t.IsNumber:
		return json.Marshal(t.Number)
	default:
		return json.Marshal(t.Text)
	}
}

// UnmarshalJSON accepts a number, a string or null. Other JSON values are kept
// as present-but-unusable so the parser can reject them.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	t.Present = true

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &t.Text)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid numeric timestamp %s: %w", data, err)
		}
		t.Number = v
		t.IsNumber = true
	}
	return nil
}

// RawEvent is one marker occurrence as read from an event log. Each event id
// is expected twice: once when the span opens and once when it closes.
type RawEvent struct {
	Timestamp   Timestamp
	EventID     string
	DisplayName string
	Actor       string
	Layer       string
	Category    string

	// Attributes holds every numeric field other than the timestamp.
	Attributes map[string]float64

	// Extra holds the remaining non-numeric fields verbatim.
	Extra map[string]json.RawMessage
}

// LayerKey returns the layer tag, falling back to the category tag.
func (e RawEvent) LayerKey() string {
	if e.Layer != "" {
		return e.Layer
	}
	return e.Category
}

// AttributeNames returns the numeric attribute names in sorted order.
func (e RawEvent) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON decodes an arbitrary event object. Identity fields given as
// numbers are kept in their textual form as well as in Attributes.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("event must be an object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("event must be an object, got null")
	}

	*e = RawEvent{}
	for key, raw := range fields {
		raw = bytes.TrimSpace(raw)

		if key == FieldTimestamp {
			if err := e.Timestamp.UnmarshalJSON(raw); err != nil {
				// Unusable timestamps are dropped later by the span builder.
				e.Timestamp = Timestamp{Present: true}
			}
			continue
		}

		if v, ok := numericValue(raw); ok {
			if e.Attributes == nil {
				e.Attributes = make(map[string]float64)
			}
			e.Attributes[key] = v
		}

		switch key {
		case FieldEventID:
			e.EventID = textValue(raw)
		case FieldDisplayName:
			e.DisplayName = textValue(raw)
		case FieldActor:
			e.Actor = textValue(raw)
		case FieldLayer:
			e.Layer = textValue(raw)
		case FieldCategory:
			e.Category = textValue(raw)
		default:
			if _, numeric := e.Attributes[key]; numeric {
				continue
			}
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[key] = append(json.RawMessage(nil), raw...)
		}
	}
	return nil
}

// MarshalJSON encodes the event as a flat object.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 6+len(e.Attributes)+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = v
	}
	if e.Timestamp.Present {
		out[FieldTimestamp] = e.Timestamp
	}
	setString(out, FieldEventID, e.EventID)
	setString(out, FieldDisplayName, e.DisplayName)
	setString(out, FieldActor, e.Actor)
	setString(out, FieldLayer, e.Layer)
	setString(out, FieldCategory, e.Category)
	for k, v := range e.Attributes {
		out[k] = v
	}
	return json.Marshal(out)
}

// LayerDef declares a layer in the structured log format.
type LayerDef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"color,omitempty"`
}

func setString(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func numericValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	switch raw[0] {
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return 0, false
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 't', 'f':
		return string(raw)
	}
	return ""
}
