package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/export"
	"github.com/spanlens/spanlens/internal/observability"
	"github.com/spanlens/spanlens/internal/storage"
)

const testLog = `[
	{"timestamp": 0, "event_id": "scn", "display_name": "Scenario", "layer": "scenario"},
	{"timestamp": 0.5, "event_id": "brake", "display_name": "Brake", "layer": "control", "actor": "Car1", "speed": 30},
	{"timestamp": 1, "event_id": "radar", "display_name": "Radar", "layer": "sensor", "actor": "Car2", "speed": 12},
	{"timestamp": 2, "event_id": "brake", "display_name": "Brake", "layer": "control", "actor": "Car1"},
	{"timestamp": 2.5, "event_id": "radar", "display_name": "Radar", "layer": "sensor", "actor": "Car2"},
	{"timestamp": 10, "event_id": "scn", "display_name": "Scenario", "layer": "scenario"}
]`

type testServer struct {
	*httptest.Server
	engine *engine.Engine
	stats  *observability.CallStats
}

func newTestServer(t *testing.T, withStorage bool) *testServer {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.SearchDebounce = 5 * time.Millisecond
	eng := engine.New(opts)
	t.Cleanup(eng.Close)

	exportOpts := export.DefaultOptions()
	exportOpts.TempDir = t.TempDir()

	var exporter *export.Exporter
	if withStorage {
		store, err := storage.NewLocalStorage(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		exporter = export.NewExporter(store, exportOpts)
	}

	stats := observability.NewCallStats(time.Hour)
	mux := http.NewServeMux()
	NewHandler(eng, exporter, stats, Config{Export: exportOpts}).Register(mux, DefaultMiddleware())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: eng, stats: stats}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (s *testServer) mustStatus(t *testing.T, method, path, body string, want int) []byte {
	t.Helper()
	resp, data := s.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d (%s)", method, path, resp.StatusCode, want, data)
	}
	return data
}

func TestImportAndQuery(t *testing.T) {
	s := newTestServer(t, false)

	var imp ImportResponse
	data := s.mustStatus(t, "POST", "/v1/import?source=test", testLog, http.StatusOK)
	if err := json.Unmarshal(data, &imp); err != nil {
		t.Fatal(err)
	}
	if imp.Spans != 3 || imp.DatasetID == "" || imp.RequestID == "" {
		t.Errorf("unexpected import response %+v", imp)
	}

	var spans SpansResponse
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/spans", "", http.StatusOK), &spans)
	if spans.Count != 3 || spans.Total != 3 {
		t.Errorf("spans = %d/%d, want 3/3", spans.Count, spans.Total)
	}

	var tr TimeRangeResponse
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/time-range", "", http.StatusOK), &tr)
	if tr.Start != -500 || tr.End != 10500 {
		t.Errorf("time range = %+v", tr)
	}

	s.mustStatus(t, "GET", "/v1/spans/brake-500", "", http.StatusOK)
	s.mustStatus(t, "GET", "/v1/spans/nope", "", http.StatusNotFound)

	var related SpansResponse
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/spans/brake-500/related", "", http.StatusOK), &related)
	if related.Count != 2 {
		t.Errorf("related = %d, want 2", related.Count)
	}

	var series SeriesResponse
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/series", "", http.StatusOK), &series)
	if len(series.Attributes) != 1 || series.Attributes[0] != "speed" {
		t.Errorf("attributes = %v", series.Attributes)
	}
	s.mustStatus(t, "GET", "/v1/series?attribute=speed", "", http.StatusOK)
	s.mustStatus(t, "GET", "/v1/series?attribute=altitude", "", http.StatusNotFound)

	s.mustStatus(t, "GET", "/v1/statistics", "", http.StatusOK)
	s.mustStatus(t, "GET", "/v1/groups", "", http.StatusOK)
}

func TestImport_Rejected(t *testing.T) {
	s := newTestServer(t, false)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	resp, data := s.do(t, "POST", "/v1/import", `{"layers": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var e ErrorResponse
	json.Unmarshal(data, &e)
	if e.Code != errors.CodeMissingArrays {
		t.Errorf("code = %s, want MISSING_ARRAYS", e.Code)
	}
	if n := len(s.engine.Spans()); n != 3 {
		t.Errorf("failed import replaced dataset: %d spans", n)
	}
}

func TestFilterEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	var f FilterResponse
	json.Unmarshal(s.mustStatus(t, "PUT", "/v1/filter", `{"layers": ["sensor"]}`, http.StatusOK), &f)
	if f.Visible != 1 || f.Total != 3 {
		t.Errorf("after PUT: visible %d total %d", f.Visible, f.Total)
	}

	json.Unmarshal(s.mustStatus(t, "POST", "/v1/filter/toggle", `{"layer": "control"}`, http.StatusOK), &f)
	if f.Visible != 2 {
		t.Errorf("after toggle: visible %d, want 2", f.Visible)
	}
	s.mustStatus(t, "POST", "/v1/filter/toggle", `{}`, http.StatusBadRequest)
	s.mustStatus(t, "PUT", "/v1/filter", `{"layers": `, http.StatusBadRequest)

	json.Unmarshal(s.mustStatus(t, "POST", "/v1/search", `{"term": "BRA", "flush": true}`, http.StatusOK), &f)
	if f.Visible != 1 || f.Filter.Search != "BRA" {
		t.Errorf("after search: %+v", f)
	}

	s.mustStatus(t, "POST", "/v1/search", `{"term": "radar"}`, http.StatusAccepted)
	deadline := time.Now().Add(2 * time.Second)
	for s.engine.Filter().Search() != "radar" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.engine.Filter().Search(); got != "radar" {
		t.Errorf("debounced search not applied: %q", got)
	}
}

func TestSelectionEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	s.mustStatus(t, "POST", "/v1/selection", `{"id": "brake-500"}`, http.StatusOK)
	var sum struct {
		Count int `json:"count"`
	}
	json.Unmarshal(s.mustStatus(t, "POST", "/v1/selection", `{"id": "radar-1000", "multi": true}`, http.StatusOK), &sum)
	if sum.Count != 2 {
		t.Errorf("selection count = %d, want 2", sum.Count)
	}
	s.mustStatus(t, "POST", "/v1/selection", `{"id": "ghost"}`, http.StatusNotFound)
	s.mustStatus(t, "POST", "/v1/selection", `{}`, http.StatusBadRequest)

	s.mustStatus(t, "DELETE", "/v1/selection", "", http.StatusOK)
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/selection", "", http.StatusOK), &sum)
	if sum.Count != 0 {
		t.Errorf("selection not cleared: %d", sum.Count)
	}
}

func TestExportDownload(t *testing.T) {
	s := newTestServer(t, false)

	s.mustStatus(t, "GET", "/v1/export?format=svg", "", http.StatusConflict)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	resp, data := s.do(t, "GET", "/v1/export?format=csv", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %s", ct)
	}
	if !strings.HasPrefix(string(data), "event_id,display_name,layer,start_time,end_time,duration") {
		t.Errorf("unexpected CSV: %s", data)
	}

	resp, data = s.do(t, "GET", "/v1/export?format=svg&attribute=speed", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "<svg") {
		t.Errorf("series SVG: status %d", resp.StatusCode)
	}
	s.mustStatus(t, "GET", "/v1/export?format=pdf", "", http.StatusBadRequest)
}

func TestExportUpload(t *testing.T) {
	s := newTestServer(t, true)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	var up UploadResponse
	json.Unmarshal(s.mustStatus(t, "POST", "/v1/export?format=json,csv", "", http.StatusCreated), &up)
	if len(up.Artifacts) != 2 || up.Artifacts[0].Format != export.FormatJSON {
		t.Errorf("artifacts = %+v", up.Artifacts)
	}

	noStore := newTestServer(t, false)
	noStore.mustStatus(t, "POST", "/v1/export", "", http.StatusServiceUnavailable)
}

func TestStoredExports(t *testing.T) {
	s := newTestServer(t, true)
	s.mustStatus(t, "POST", "/v1/import", testLog, http.StatusOK)

	var up UploadResponse
	json.Unmarshal(s.mustStatus(t, "POST", "/v1/export?format=json,csv", "", http.StatusCreated), &up)
	base := "/v1/exports/" + up.DatasetID

	var listed struct{ Objects []string }
	json.Unmarshal(s.mustStatus(t, "GET", base, "", http.StatusOK), &listed)
	if len(listed.Objects) != 2 {
		t.Errorf("objects = %v, want 2", listed.Objects)
	}

	data := s.mustStatus(t, "GET", base+"/csv", "", http.StatusOK)
	if !strings.HasPrefix(string(data), "event_id,display_name") {
		t.Errorf("unexpected csv %q", data)
	}
	s.mustStatus(t, "GET", base+"/svg", "", http.StatusNotFound)

	var removed struct{ Removed []string }
	json.Unmarshal(s.mustStatus(t, "DELETE", base+"?format=csv", "", http.StatusOK), &removed)
	if len(removed.Removed) != 1 || !strings.HasSuffix(removed.Removed[0], "spans.csv") {
		t.Errorf("removed = %v", removed.Removed)
	}
	s.mustStatus(t, "GET", base+"/csv", "", http.StatusNotFound)

	json.Unmarshal(s.mustStatus(t, "DELETE", base, "", http.StatusOK), &removed)
	if len(removed.Removed) != 1 {
		t.Errorf("removed = %v, want only the json export", removed.Removed)
	}
	s.mustStatus(t, "DELETE", base, "", http.StatusNotFound)

	noStore := newTestServer(t, false)
	noStore.mustStatus(t, "GET", "/v1/exports/x", "", http.StatusServiceUnavailable)
}

func TestImportErrorDetails(t *testing.T) {
	s := newTestServer(t, false)

	var resp ErrorResponse
	json.Unmarshal(s.mustStatus(t, "POST", "/v1/import", `{"events": []}`, http.StatusBadRequest), &resp)
	if resp.Code != "NO_EVENTS" || resp.Details["format"] == "" || resp.Details["format"] == nil {
		t.Errorf("unexpected error response %+v", resp)
	}
}

func TestQueryStatsAndWarnings(t *testing.T) {
	s := newTestServer(t, false)
	s.mustStatus(t, "POST", "/v1/import", `[{"timestamp": 0, "event_id": "open"}]`, http.StatusOK)
	s.mustStatus(t, "GET", "/v1/spans", "", http.StatusOK)
	s.mustStatus(t, "GET", "/v1/spans", "", http.StatusOK)

	var w struct {
		Warnings []engine.Warning `json:"warnings"`
	}
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/warnings", "", http.StatusOK), &w)
	found := false
	for _, entry := range w.Warnings {
		if entry.Level == engine.LevelWarn && strings.Contains(entry.Message, "open") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unclosed warning, got %+v", w.Warnings)
	}

	var qs QueryStatsResponse
	json.Unmarshal(s.mustStatus(t, "GET", "/v1/stats/queries", "", http.StatusOK), &qs)
	if len(qs.Calls) == 0 || qs.Calls[0].Name != "spans" || qs.Calls[0].Frequency != 2 {
		t.Errorf("calls = %+v", qs.Calls)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	s := newTestServer(t, false)

	req, _ := http.NewRequest("GET", s.URL+"/v1/filter", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("request id = %q", got)
	}
	if got := resp.Header.Get("X-Correlation-ID"); got != "req-42" {
		t.Errorf("correlation id = %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := ChainMiddleware(RecoveryMiddleware, RequestIDMiddleware)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewImportError(errors.CodeUnknownFormat, "x"), http.StatusBadRequest},
		{errors.NewQueryError(errors.CodeSpanNotFound, "x"), http.StatusNotFound},
		{errors.NewQueryError(errors.CodeInvalidFilter, "x"), http.StatusBadRequest},
		{errors.NewExportError(errors.CodeNothingToRender, "x", nil), http.StatusConflict},
		{errors.NewExportError(errors.CodeRenderFailed, "x", nil), http.StatusInternalServerError},
		{errors.NewStorageError(errors.CodeObjectNotFound, "x", nil), http.StatusNotFound},
		{errors.NewStorageError(errors.CodeUploadFailed, "x", nil), http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
