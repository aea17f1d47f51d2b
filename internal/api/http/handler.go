package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/export"
	"github.com/spanlens/spanlens/internal/filter"
	"github.com/spanlens/spanlens/internal/observability"
	"github.com/spanlens/spanlens/pkg/types"
)

// DefaultMaxImportBytes caps import request bodies.
const DefaultMaxImportBytes = 64 << 20

// DefaultKeepAlive is the comment interval on idle event streams.
const DefaultKeepAlive = 15 * time.Second

// Config tunes the handler.
type Config struct {
	MaxImportBytes int64
	Export         export.Options

	// KeepAlive is the idle interval after which event streams send a
	// comment line.
	KeepAlive time.Duration

	// Done, when closed, ends every open event stream.
	Done <-chan struct{}
}

// Handler serves the timeline API.
type Handler struct {
	engine   *engine.Engine
	exporter *export.Exporter
	stats    *observability.CallStats
	cfg      Config
}

// NewHandler creates a handler. exporter may be nil, in which case uploads
// are refused; stats may be nil.
func NewHandler(eng *engine.Engine, exporter *export.Exporter, stats *observability.CallStats, cfg Config) *Handler {
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = DefaultMaxImportBytes
	}
	if cfg.Export.Now == nil {
		cfg.Export = export.DefaultOptions()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Handler{engine: eng, exporter: exporter, stats: stats, cfg: cfg}
}

// Register mounts every route on mux behind middleware.
func (h *Handler) Register(mux *http.ServeMux, middleware func(http.Handler) http.Handler) {
	routes := []struct {
		pattern string
		name    string
		fn      func(http.ResponseWriter, *http.Request) error
	}{
		{"POST /v1/import", "import", h.importPayload},
		{"GET /v1/spans", "spans", h.spans},
		{"GET /v1/spans/{id}", "span", h.span},
		{"GET /v1/spans/{id}/related", "related", h.related},
		{"GET /v1/time-range", "time_range", h.timeRange},
		{"GET /v1/statistics", "statistics", h.statistics},
		{"GET /v1/series", "series", h.series},
		{"GET /v1/groups", "groups", h.groups},
		{"GET /v1/filter", "filter", h.getFilter},
		{"PUT /v1/filter", "set_filter", h.setFilter},
		{"POST /v1/filter/toggle", "toggle", h.toggle},
		{"POST /v1/search", "search", h.search},
		{"GET /v1/selection", "selection", h.selection},
		{"POST /v1/selection", "select", h.selectSpan},
		{"DELETE /v1/selection", "clear_selection", h.clearSelection},
		{"GET /v1/warnings", "warnings", h.warnings},
		{"GET /v1/export", "export", h.download},
		{"POST /v1/export", "upload", h.upload},
		{"GET /v1/exports/{dataset}", "list_exports", h.listExports},
		{"GET /v1/exports/{dataset}/{format}", "fetch_export", h.fetchExport},
		{"DELETE /v1/exports/{dataset}", "remove_exports", h.removeExports},
		{"GET /v1/stats/queries", "query_stats", h.queryStats},
		{"GET /v1/events", "events", h.events},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, middleware(h.track(rt.name, rt.fn)))
	}
}

// track records call statistics and turns a returned error into a response.
func (h *Handler) track(name string, fn func(http.ResponseWriter, *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := fn(w, r)
		if h.stats != nil {
			h.stats.RecordCall(name, time.Since(start), err)
		}
		if err != nil {
			writeServiceError(w, err, GetRequestID(r.Context()))
		}
	})
}

func badRequest(format string, args ...interface{}) error {
	return errors.NewQueryError(errors.CodeInvalidRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// ImportResponse is returned by POST /v1/import.
type ImportResponse struct {
	engine.LoadResult
	RequestID string `json:"request_id"`
}

func (h *Handler) importPayload(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxImportBytes))
	if err != nil {
		return badRequest("failed to read payload: %v", err)
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "http"
	}

	res, err := h.engine.Import(r.Context(), source, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ImportResponse{LoadResult: res, RequestID: GetRequestID(r.Context())})
	return nil
}

// SpansResponse is returned by GET /v1/spans.
type SpansResponse struct {
	Spans      []types.Span `json:"spans"`
	Count      int          `json:"count"`
	Total      int          `json:"total"`
	Generation uint64       `json:"generation"`
}

func (h *Handler) spans(w http.ResponseWriter, r *http.Request) error {
	snap := h.engine.Snapshot()
	list := snap.Filtered
	switch view := r.URL.Query().Get("view"); view {
	case "", "filtered":
	case "all":
		list = snap.Spans
	default:
		return badRequest("unknown view %q: expected filtered or all", view)
	}
	writeJSON(w, http.StatusOK, SpansResponse{
		Spans:      list,
		Count:      len(list),
		Total:      len(snap.Spans),
		Generation: snap.Generation,
	})
	return nil
}

func (h *Handler) span(w http.ResponseWriter, r *http.Request) error {
	s, err := h.engine.Span(r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s)
	return nil
}

func (h *Handler) related(w http.ResponseWriter, r *http.Request) error {
	related, err := h.engine.RelatedSpans(r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, SpansResponse{
		Spans:      related,
		Count:      len(related),
		Total:      len(h.engine.Spans()),
		Generation: h.engine.Snapshot().Generation,
	})
	return nil
}

// TimeRangeResponse is returned by GET /v1/time-range. Values are ms.
type TimeRangeResponse struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Width float64 `json:"width"`
}

func (h *Handler) timeRange(w http.ResponseWriter, r *http.Request) error {
	tr := h.engine.TimeRange()
	writeJSON(w, http.StatusOK, TimeRangeResponse{Start: tr.Start, End: tr.End, Width: tr.Width()})
	return nil
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.engine.Statistics())
	return nil
}

// SeriesResponse is returned by GET /v1/series without an attribute.
type SeriesResponse struct {
	Attributes []string            `json:"attributes"`
	Series     types.NumericSeries `json:"series"`
}

func (h *Handler) series(w http.ResponseWriter, r *http.Request) error {
	if attr := r.URL.Query().Get("attribute"); attr != "" {
		byActor, err := h.engine.SeriesFor(attr)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, byActor)
		return nil
	}
	s := h.engine.NumericSeries()
	writeJSON(w, http.StatusOK, SeriesResponse{Attributes: s.Attributes(), Series: s})
	return nil
}

func (h *Handler) groups(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.engine.Groups())
	return nil
}

// FilterResponse describes the current filter and what it can select from.
type FilterResponse struct {
	Filter  filter.Spec       `json:"filter"`
	Layers  []string          `json:"layers"`
	Actors  []string          `json:"actors"`
	Colors  map[string]string `json:"colors"`
	Visible int               `json:"visible"`
	Total   int               `json:"total"`
}

func filterResponse(snap *engine.Snapshot) FilterResponse {
	return FilterResponse{
		Filter:  snap.Filter,
		Layers:  snap.Layers,
		Actors:  snap.Actors,
		Colors:  snap.Colors,
		Visible: len(snap.Filtered),
		Total:   len(snap.Spans),
	}
}

func (h *Handler) getFilter(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, filterResponse(h.engine.Snapshot()))
	return nil
}

// FilterRequest updates the filter. Omitted fields keep their value; an empty
// list deactivates every value of that dimension.
type FilterRequest struct {
	Layers []string `json:"layers"`
	Actors []string `json:"actors"`
	Search *string  `json:"search"`
}

func (h *Handler) setFilter(w http.ResponseWriter, r *http.Request) error {
	var req FilterRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	if req.Layers != nil {
		h.recordFilter("layer", req.Layers...)
	}
	if req.Actors != nil {
		h.recordFilter("actor", req.Actors...)
	}
	if req.Search != nil {
		h.recordFilter("search", *req.Search)
	}
	snap := h.engine.UpdateFilter(func(state filter.State) filter.State {
		if req.Layers != nil {
			state = state.WithLayers(req.Layers)
		}
		if req.Actors != nil {
			state = state.WithActors(req.Actors)
		}
		if req.Search != nil {
			state = state.WithSearch(*req.Search)
		}
		return state
	})
	writeJSON(w, http.StatusOK, filterResponse(snap))
	return nil
}

// ToggleRequest flips one layer and/or one actor.
type ToggleRequest struct {
	Layer *string `json:"layer"`
	Actor *string `json:"actor"`
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) error {
	var req ToggleRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Layer == nil && req.Actor == nil {
		return errors.NewQueryError(errors.CodeInvalidFilter, "toggle needs a layer or an actor")
	}

	var snap *engine.Snapshot
	if req.Layer != nil {
		snap = h.engine.ToggleLayer(*req.Layer)
		h.recordFilter("layer", *req.Layer)
	}
	if req.Actor != nil {
		snap = h.engine.ToggleActor(*req.Actor)
		h.recordFilter("actor", *req.Actor)
	}
	writeJSON(w, http.StatusOK, filterResponse(snap))
	return nil
}

// SearchRequest sets the free-text search term. Without Flush the change is
// debounced and the response is 202.
type SearchRequest struct {
	Term  string `json:"term"`
	Flush bool   `json:"flush"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) error {
	var req SearchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	h.recordFilter("search", req.Term)

	h.engine.SearchLater(req.Term)
	if req.Flush {
		h.engine.FlushSearch()
		writeJSON(w, http.StatusOK, filterResponse(h.engine.Snapshot()))
		return nil
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"pending": h.engine.SearchPending(),
		"term":    req.Term,
	})
	return nil
}

func (h *Handler) recordFilter(dimension string, values ...string) {
	if h.stats == nil {
		return
	}
	for _, v := range values {
		h.stats.RecordFilter(dimension, v)
	}
}

// SelectRequest toggles selection of a span.
type SelectRequest struct {
	ID    string `json:"id"`
	Multi bool   `json:"multi"`
}

func (h *Handler) selection(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, h.engine.Selection())
	return nil
}

func (h *Handler) selectSpan(w http.ResponseWriter, r *http.Request) error {
	var req SelectRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return badRequest("id is required")
	}
	summary, err := h.engine.SelectSpan(req.ID, req.Multi)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summary)
	return nil
}

func (h *Handler) clearSelection(w http.ResponseWriter, r *http.Request) error {
	h.engine.ClearSelection()
	writeJSON(w, http.StatusOK, analytics.SelectionSummary{IDs: []string{}})
	return nil
}

func (h *Handler) warnings(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]interface{}{"warnings": h.engine.Warnings()})
	return nil
}

// download renders one format of the current snapshot into the response.
// With format=svg and an attribute, the attribute's series chart is rendered
// instead of the timeline.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) error {
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return err
	}
	snap := h.engine.Snapshot()

	var buf bytes.Buffer
	if attr := r.URL.Query().Get("attribute"); attr != "" && f == export.FormatSVG {
		err = export.WriteSeriesSVG(&buf, snap, attr, h.cfg.Export)
	} else {
		err = export.Render(r.Context(), &buf, snap, f, h.cfg.Export)
	}
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", contentType(f))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	return nil
}

func contentType(f export.Format) string {
	switch f {
	case export.FormatJSON:
		return "application/json"
	case export.FormatCSV:
		return "text/csv"
	case export.FormatSVG:
		return "image/svg+xml"
	}
	return "application/vnd.sqlite3"
}

// UploadResponse is returned by POST /v1/export.
type UploadResponse struct {
	DatasetID string            `json:"dataset_id"`
	Artifacts []export.Artifact `json:"artifacts"`
	RequestID string            `json:"request_id"`
}

// upload renders the requested formats (comma separated, default all) and
// stores them in object storage.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) error {
	if !h.requireExporter(w, r) {
		return nil
	}

	formats, err := parseFormats(r.URL.Query().Get("format"))
	if err != nil {
		return err
	}

	snap := h.engine.Snapshot()
	artifacts, err := h.exporter.Export(r.Context(), snap, formats)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, UploadResponse{
		DatasetID: snap.DatasetID,
		Artifacts: artifacts,
		RequestID: GetRequestID(r.Context()),
	})
	return nil
}

// parseFormats reads a comma separated format list. Empty means every format.
func parseFormats(raw string) ([]export.Format, error) {
	if raw == "" {
		return nil, nil
	}
	var formats []export.Format
	for _, name := range strings.Split(raw, ",") {
		f, err := export.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func (h *Handler) requireExporter(w http.ResponseWriter, r *http.Request) bool {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export storage is not configured", GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) error {
	if !h.requireExporter(w, r) {
		return nil
	}
	objects, err := h.exporter.List(r.Context(), r.PathValue("dataset"))
	if err != nil {
		return err
	}
	if objects == nil {
		objects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objects})
	return nil
}

func (h *Handler) fetchExport(w http.ResponseWriter, r *http.Request) error {
	if !h.requireExporter(w, r) {
		return nil
	}
	f, err := export.ParseFormat(r.PathValue("format"))
	if err != nil {
		return err
	}
	data, err := h.exporter.Fetch(r.Context(), r.PathValue("dataset"), f)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentType(f))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return nil
}

// removeExports deletes stored exports of a dataset, optionally limited to
// format=a,b.
func (h *Handler) removeExports(w http.ResponseWriter, r *http.Request) error {
	if !h.requireExporter(w, r) {
		return nil
	}
	formats, err := parseFormats(r.URL.Query().Get("format"))
	if err != nil {
		return err
	}
	removed, err := h.exporter.Remove(r.Context(), r.PathValue("dataset"), formats)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
	return nil
}

// QueryStatsResponse is returned by GET /v1/stats/queries.
type QueryStatsResponse struct {
	Calls   []observability.OperationStats `json:"calls"`
	Filters []observability.OperationStats `json:"filters"`
	Memo    engine.MemoStats               `json:"memo"`
}

func (h *Handler) queryStats(w http.ResponseWriter, r *http.Request) error {
	resp := QueryStatsResponse{
		Calls:   []observability.OperationStats{},
		Filters: []observability.OperationStats{},
		Memo:    h.engine.MemoStats(),
	}
	if h.stats != nil {
		resp.Calls = h.stats.TopCalls(50)
		resp.Filters = h.stats.TopFilters(10)
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}
