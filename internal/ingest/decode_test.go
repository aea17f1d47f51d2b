package ingest

import (
	"errors"
	"testing"

	serrors "github.com/spanlens/spanlens/internal/errors"
)

func TestDecode_Formats(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
		events int
	}{
		{
			name:   "bare array",
			input:  `[{"timestamp": 0, "event_id": "A"}, {"timestamp": 1, "event_id": "A"}]`,
			format: FormatBare,
			events: 2,
		},
		{
			name:   "wrapped data",
			input:  `{"data": [{"timestamp": "0", "event_id": "A"}]}`,
			format: FormatWrapped,
			events: 1,
		},
		{
			name:   "paired events",
			input:  `{"events": [{"id": "A", "name": "Brake", "start": 1, "end": 2.5, "category": "control", "actor": "Car1"}]}`,
			format: FormatPaired,
			events: 2,
		},
		{
			name: "layered",
			input: `{"layers": [{"id": "scenario", "color": "#ff0000"}, {"id": "selection"}],
				"events": [{"timestamp": 0, "event_id": "A", "layer": "scenario"}]}`,
			format: FormatLayered,
			events: 1,
		},
		{
			name:   "events not an array falls through to data",
			input:  `{"events": {"x": 1}, "data": [{"timestamp": 0, "event_id": "A"}]}`,
			format: FormatWrapped,
			events: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Format != tt.format {
				t.Errorf("format = %s, want %s", p.Format, tt.format)
			}
			if len(p.Events) != tt.events {
				t.Errorf("events = %d, want %d", len(p.Events), tt.events)
			}
		})
	}
}

func TestDecode_PairedExpansion(t *testing.T) {
	p, err := Decode([]byte(`{"events": [{"id": 7, "name": "Brake", "start": 1.5, "end": "2.5", "layer": "control", "actor": "Car1"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	open, closing := p.Events[0], p.Events[1]
	if open.EventID != "7" || closing.EventID != "7" {
		t.Errorf("event ids = %q/%q", open.EventID, closing.EventID)
	}
	if open.DisplayName != "Brake" || closing.DisplayName != "Brake Complete" {
		t.Errorf("display names = %q/%q", open.DisplayName, closing.DisplayName)
	}
	if !open.Timestamp.IsNumber || open.Timestamp.Number != 1.5 {
		t.Errorf("open timestamp = %+v", open.Timestamp)
	}
	if closing.Timestamp.Text != "2.5" {
		t.Errorf("close timestamp = %+v", closing.Timestamp)
	}
	if open.Actor != "Car1" || closing.LayerKey() != "control" {
		t.Errorf("actor/layer not carried: %+v", closing)
	}
}

func TestDecode_LayeredMetadata(t *testing.T) {
	p, err := Decode([]byte(`{"layers": [{"id": "scenario", "display_name": "Scenario", "color": "#ff0000"}, {"id": "selection"}],
		"events": [{"timestamp": 0, "event_id": "A"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	order := p.LayerOrder()
	if len(order) != 2 || order[0] != "scenario" || order[1] != "selection" {
		t.Errorf("layer order = %v", order)
	}
	colors := p.Colors()
	if colors["scenario"] != "#ff0000" || colors["selection"] != DefaultLayerColor {
		t.Errorf("colors = %v", colors)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
	}{
		{"empty", ``, serrors.CodeMalformedPayload},
		{"invalid json", `{"events": [`, serrors.CodeMalformedPayload},
		{"scalar", `42`, serrors.CodeUnknownFormat},
		{"unknown object", `{"foo": []}`, serrors.CodeUnknownFormat},
		{"layers without events", `{"layers": []}`, serrors.CodeMissingArrays},
		{"layers not an array", `{"layers": {}, "events": []}`, serrors.CodeMissingArrays},
		{"empty bare array", `[]`, serrors.CodeNoEvents},
		{"empty data", `{"data": []}`, serrors.CodeNoEvents},
		{"empty paired", `{"events": []}`, serrors.CodeNoEvents},
		{"non-object event", `[1, 2]`, serrors.CodeMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if serrors.GetCategory(err) != serrors.ErrCategoryImport {
				t.Errorf("category = %q, want IMPORT", serrors.GetCategory(err))
			}
			if serrors.GetCode(err) != tt.code {
				t.Errorf("code = %q, want %q (%v)", serrors.GetCode(err), tt.code, err)
			}
		})
	}
}

func TestDecode_NoEventsMatchesSentinel(t *testing.T) {
	_, err := Decode([]byte(`[]`))
	if !errors.Is(err, serrors.NewImportError(serrors.CodeNoEvents, "")) {
		t.Errorf("expected NO_EVENTS, got %v", err)
	}
}
