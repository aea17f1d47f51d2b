// Package engine holds the loaded dataset and the filter state and publishes
// every recompute as an immutable Snapshot.
//
// Writers (loads, filter changes) are serialized. Each change recomputes the
// derived model wholesale and swaps the published snapshot pointer, so readers
// never observe a partially updated model and never block.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/debounce"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/filter"
	"github.com/spanlens/spanlens/internal/grouping"
	"github.com/spanlens/spanlens/internal/ingest"
	"github.com/spanlens/spanlens/internal/notify"
	"github.com/spanlens/spanlens/internal/series"
	"github.com/spanlens/spanlens/internal/spans"
	"github.com/spanlens/spanlens/pkg/types"
)

var tracer = otel.Tracer("github.com/spanlens/spanlens/internal/engine")

// defaultPalette colors layers of formats that carry no color definitions.
var defaultPalette = []string{
	"#3b82f6", "#10b981", "#f59e0b", "#ef4444",
	"#8b5cf6", "#ec4899", "#14b8a6", "#f97316",
}

// Options configures an Engine.
type Options struct {
	Analytics      analytics.Options
	SearchDebounce time.Duration
	WarningLogSize int
	MemoEntries    int

	// Notifier receives one notification per published snapshot. A private
	// notifier is created when nil.
	Notifier *notify.Notifier

	// Now is used for warning timestamps; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the standard engine settings.
func DefaultOptions() Options {
	return Options{
		Analytics:      analytics.DefaultOptions(),
		SearchDebounce: 300 * time.Millisecond,
		WarningLogSize: 100,
		MemoEntries:    16,
	}
}

// dataset is everything derived from one load. It never changes after
// construction.
type dataset struct {
	id         string
	generation uint64
	format     ingest.Format
	loadedAt   time.Time
	events     []types.RawEvent
	spans      []types.Span
	byID       map[string]int
	series     types.NumericSeries
	layerDefs  []types.LayerDef
	layerOrder []string
	layers     []string
	actors     []string
	colors     map[string]string
	skipped    int
	unclosed   []spans.Unclosed
}

// view is everything derived from a dataset under one filter state.
type view struct {
	filtered   []types.Span
	timeRange  types.TimeRange
	statistics analytics.Statistics
	groups     []types.Group
}

// Snapshot is a consistent, read-only picture of the engine. Callers must not
// modify the slices or maps it holds.
type Snapshot struct {
	DatasetID  string               `json:"dataset_id"`
	Generation uint64               `json:"generation"`
	Format     string               `json:"format"`
	LoadedAt   time.Time            `json:"loaded_at"`
	Spans      []types.Span         `json:"spans"`
	Filtered   []types.Span         `json:"filtered"`
	TimeRange  types.TimeRange      `json:"time_range"`
	Statistics analytics.Statistics `json:"statistics"`
	Groups     []types.Group        `json:"groups"`
	Series     types.NumericSeries  `json:"series"`
	Filter     filter.Spec          `json:"filter"`
	Layers     []string             `json:"layers"`
	LayerDefs  []types.LayerDef     `json:"layer_defs"`
	Actors     []string             `json:"actors"`
	Colors     map[string]string    `json:"colors"`

	state  filter.State
	events []types.RawEvent
}

// State returns the filter state the snapshot was computed with.
func (s *Snapshot) State() filter.State {
	return s.state
}

// RawEvents returns the events the dataset was built from.
func (s *Snapshot) RawEvents() []types.RawEvent {
	return s.events
}

// LoadResult summarizes a load.
type LoadResult struct {
	DatasetID string   `json:"dataset_id"`
	Format    string   `json:"format"`
	Events    int      `json:"events"`
	Spans     int      `json:"spans"`
	Unclosed  int      `json:"unclosed"`
	Skipped   int      `json:"skipped"`
	Layers    []string `json:"layers"`
	Actors    []string `json:"actors"`
}

// Engine is the timeline reconstruction and analytics engine.
type Engine struct {
	opts Options

	mu         sync.Mutex
	data       *dataset
	state      filter.State
	memo       *memo
	warnings   *warningLog
	selected   map[string]struct{}
	generation uint64
	// searchEpoch counts immediate search changes; a debounced search
	// scheduled under an older epoch is dropped.
	searchEpoch uint64

	current  atomic.Pointer[Snapshot]
	search   *debounce.Debouncer
	notifier *notify.Notifier
}

// New creates an engine holding an empty dataset.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewNotifier(notify.DefaultBufferSize)
	}
	e := &Engine{
		opts:     opts,
		memo:     newMemo(opts.MemoEntries),
		warnings: newWarningLog(opts.WarningLogSize),
		selected: make(map[string]struct{}),
		search:   debounce.New(opts.SearchDebounce),
		notifier: opts.Notifier,
	}
	e.mu.Lock()
	e.installLocked(e.buildDataset(nil, nil, ""))
	e.mu.Unlock()
	return e
}

// Close cancels any pending debounced search.
func (e *Engine) Close() {
	e.search.Stop()
}

// Import decodes payload and replaces the dataset. A failed import leaves the
// previous dataset in place.
func (e *Engine) Import(ctx context.Context, source string, payload []byte) (LoadResult, error) {
	_, span := tracer.Start(ctx, "engine.Import")
	defer span.End()
	span.SetAttributes(attribute.String("spanlens.source", source), attribute.Int("spanlens.payload_bytes", len(payload)))

	p, err := ingest.Decode(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		e.mu.Lock()
		e.logLocked(LevelError, fmt.Sprintf("Failed to import %s: %v", source, err))
		e.mu.Unlock()
		return LoadResult{}, err
	}

	res := e.load(p.Events, p.Layers, p.Format, source)
	span.SetAttributes(
		attribute.String("spanlens.format", string(p.Format)),
		attribute.Int("spanlens.spans", res.Spans),
		attribute.Int("spanlens.unclosed", res.Unclosed),
	)
	return res, nil
}

// Load replaces the dataset with events. layerDefs, when non-empty, define the
// active layer set, the display order and the colors.
func (e *Engine) Load(events []types.RawEvent, layerDefs []types.LayerDef) LoadResult {
	format := ingest.FormatBare
	if len(layerDefs) > 0 {
		format = ingest.FormatLayered
	}
	return e.load(events, layerDefs, format, "events")
}

func (e *Engine) load(events []types.RawEvent, layerDefs []types.LayerDef, format ingest.Format, source string) LoadResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	ds := e.buildDataset(events, layerDefs, format)
	for _, u := range ds.unclosed {
		e.logLocked(LevelWarn, fmt.Sprintf("Unclosed event: %s (%s)", u.EventID, u.DisplayName))
	}
	if len(ds.unclosed) > 0 {
		log.Printf("Warning: %d unclosed event ids in %s", len(ds.unclosed), source)
	}
	e.logLocked(LevelInfo, fmt.Sprintf("Imported %d events from %s", len(ds.spans), source))

	e.installLocked(ds)

	return LoadResult{
		DatasetID: ds.id,
		Format:    string(ds.format),
		Events:    len(events),
		Spans:     len(ds.spans),
		Unclosed:  len(ds.unclosed),
		Skipped:   ds.skipped,
		Layers:    ds.layers,
		Actors:    ds.actors,
	}
}

// buildDataset runs the span builder and the series extractor. It does not
// touch engine state apart from the generation counter.
func (e *Engine) buildDataset(events []types.RawEvent, layerDefs []types.LayerDef, format ingest.Format) *dataset {
	e.generation++
	built := spans.Build(events)

	ds := &dataset{
		id:         newDatasetID(),
		generation: e.generation,
		format:     format,
		loadedAt:   e.opts.Now(),
		events:     events,
		spans:      built.Spans,
		byID:       make(map[string]int, len(built.Spans)),
		series:     series.Extract(events),
		layerDefs:  layerDefs,
		skipped:    built.Skipped,
		unclosed:   built.Unclosed,
	}
	if ds.spans == nil {
		ds.spans = []types.Span{}
	}
	for i, s := range ds.spans {
		ds.byID[s.ID] = i
	}

	layerSet := make(map[string]struct{})
	actorSet := make(map[string]struct{})
	for _, s := range ds.spans {
		layerSet[s.Layer] = struct{}{}
		actorSet[s.Actor] = struct{}{}
	}
	ds.actors = sortedSet(actorSet)

	if len(layerDefs) > 0 {
		p := ingest.Payload{Layers: layerDefs}
		ds.layerOrder = p.LayerOrder()
		ds.layers = ds.layerOrder
		ds.colors = p.Colors()
	} else {
		ds.layers = sortedSet(layerSet)
		ds.colors = make(map[string]string, len(ds.layers))
		for i, l := range ds.layers {
			ds.colors[l] = defaultPalette[i%len(defaultPalette)]
		}
	}
	return ds
}

// installLocked makes ds current with the default filter: every declared or
// discovered layer and every actor active, no search term.
func (e *Engine) installLocked(ds *dataset) {
	e.data = ds
	e.memo.reset()
	e.selected = make(map[string]struct{})
	e.state = filter.New(ds.layers, ds.actors, "")
	e.publishLocked(notify.DatasetLoaded)
}

// publishLocked recomputes (or recalls) the view for the current state and
// swaps the snapshot pointer, then tells subscribers.
func (e *Engine) publishLocked(kind notify.Type) *Snapshot {
	ds := e.data
	key := memoKey(ds.generation, e.state)
	v, ok := e.memo.get(key)
	if !ok {
		v = e.computeView(ds, e.state)
		e.memo.put(key, v)
	}

	snap := &Snapshot{
		DatasetID:  ds.id,
		Generation: ds.generation,
		Format:     string(ds.format),
		LoadedAt:   ds.loadedAt,
		Spans:      ds.spans,
		Filtered:   v.filtered,
		TimeRange:  v.timeRange,
		Statistics: v.statistics,
		Groups:     v.groups,
		Series:     ds.series,
		Filter:     e.state.Spec(),
		Layers:     ds.layers,
		LayerDefs:  ds.layerDefs,
		Actors:     ds.actors,
		Colors:     ds.colors,
		state:      e.state,
		events:     ds.events,
	}
	e.current.Store(snap)
	e.notifyLocked(kind, snap)
	return snap
}

func (e *Engine) notifyLocked(kind notify.Type, snap *Snapshot) {
	e.notifier.Publish(notify.Notification{
		Type:       kind,
		DatasetID:  snap.DatasetID,
		Generation: snap.Generation,
		Visible:    len(snap.Filtered),
		Total:      len(snap.Spans),
		Timestamp:  e.opts.Now().UnixMilli(),
	})
}

// Notifications returns the notifier snapshot changes are published on.
func (e *Engine) Notifications() *notify.Notifier {
	return e.notifier
}

func (e *Engine) computeView(ds *dataset, state filter.State) *view {
	filtered := filter.Apply(ds.spans, state)
	return &view{
		filtered:   filtered,
		timeRange:  analytics.TimeRange(filtered, e.opts.Analytics),
		statistics: analytics.Compute(ds.spans, filtered, e.opts.Analytics),
		groups:     grouping.Group(filtered, ds.layerOrder),
	}
}

// update applies fn to the filter state and publishes the result. A change
// of search term supersedes any pending debounced search.
func (e *Engine) update(fn func(filter.State) filter.State) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := fn(e.state)
	if next.Search() != e.state.Search() {
		e.searchEpoch++
		e.search.Cancel()
	}
	e.state = next
	return e.publishLocked(notify.FilterChanged)
}

// UpdateFilter applies fn to the current filter state under the engine lock,
// so concurrent partial updates never lose each other's changes.
func (e *Engine) UpdateFilter(fn func(filter.State) filter.State) *Snapshot {
	return e.update(fn)
}

// SetFilter replaces the whole filter state.
func (e *Engine) SetFilter(state filter.State) *Snapshot {
	return e.update(func(filter.State) filter.State { return state })
}

// SetActiveLayers replaces the active layer set.
func (e *Engine) SetActiveLayers(layers []string) *Snapshot {
	return e.update(func(s filter.State) filter.State { return s.WithLayers(layers) })
}

// SetActiveActors replaces the active actor set.
func (e *Engine) SetActiveActors(actors []string) *Snapshot {
	return e.update(func(s filter.State) filter.State { return s.WithActors(actors) })
}

// SetSearchTerm applies a search term immediately.
func (e *Engine) SetSearchTerm(term string) *Snapshot {
	return e.update(func(s filter.State) filter.State { return s.WithSearch(term) })
}

// ToggleLayer flips one layer.
func (e *Engine) ToggleLayer(layer string) *Snapshot {
	return e.update(func(s filter.State) filter.State { return s.ToggleLayer(layer) })
}

// ToggleActor flips one actor.
func (e *Engine) ToggleActor(actor string) *Snapshot {
	return e.update(func(s filter.State) filter.State { return s.ToggleActor(actor) })
}

// SearchLater schedules a search term after the debounce delay. A later call
// before the delay elapses replaces this one.
func (e *Engine) SearchLater(term string) {
	e.mu.Lock()
	epoch := e.searchEpoch
	e.mu.Unlock()
	e.search.Trigger(func() { e.applySearch(epoch, term) })
}

// applySearch installs a debounced term unless an immediate search change
// happened after it was scheduled.
func (e *Engine) applySearch(epoch uint64, term string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.searchEpoch {
		return
	}
	e.state = e.state.WithSearch(term)
	e.publishLocked(notify.FilterChanged)
}

// FlushSearch applies a pending debounced search now.
func (e *Engine) FlushSearch() {
	e.search.Flush()
}

// SearchPending reports whether a debounced search is waiting.
func (e *Engine) SearchPending() bool {
	return e.search.Pending()
}

// Snapshot returns the current snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Spans returns the full span list.
func (e *Engine) Spans() []types.Span { return e.Snapshot().Spans }

// FilteredSpans returns the spans passing the current filter.
func (e *Engine) FilteredSpans() []types.Span { return e.Snapshot().Filtered }

// TimeRange returns the padded range of the filtered spans.
func (e *Engine) TimeRange() types.TimeRange { return e.Snapshot().TimeRange }

// Statistics returns the analytics of the current view.
func (e *Engine) Statistics() analytics.Statistics { return e.Snapshot().Statistics }

// NumericSeries returns the numeric series of the dataset.
func (e *Engine) NumericSeries() types.NumericSeries { return e.Snapshot().Series }

// Groups returns the display groups of the filtered spans.
func (e *Engine) Groups() []types.Group { return e.Snapshot().Groups }

// Layers returns the known layers in display order.
func (e *Engine) Layers() []string { return e.Snapshot().Layers }

// Actors returns the known actors, sorted.
func (e *Engine) Actors() []string { return e.Snapshot().Actors }

// Colors returns the layer color map.
func (e *Engine) Colors() map[string]string { return e.Snapshot().Colors }

// Filter returns the current filter state.
func (e *Engine) Filter() filter.State { return e.Snapshot().state }

// Span looks up a span by id in the current dataset.
func (e *Engine) Span(id string) (types.Span, error) {
	e.mu.Lock()
	ds := e.data
	e.mu.Unlock()

	i, ok := ds.byID[id]
	if !ok {
		return types.Span{}, errors.NewQueryError(errors.CodeSpanNotFound, fmt.Sprintf("span %q not found", id))
	}
	return ds.spans[i], nil
}

// RelatedSpans returns the filtered spans overlapping span id.
func (e *Engine) RelatedSpans(id string) ([]types.Span, error) {
	target, err := e.Span(id)
	if err != nil {
		return nil, err
	}
	return analytics.Related(e.FilteredSpans(), target), nil
}

// SeriesFor returns the per-actor points of one attribute.
func (e *Engine) SeriesFor(attribute string) (map[string][]types.SeriesPoint, error) {
	byActor, ok := e.NumericSeries()[attribute]
	if !ok {
		return nil, errors.NewQueryError(errors.CodeUnknownAttribute, fmt.Sprintf("no numeric attribute %q", attribute))
	}
	return byActor, nil
}

// Warnings returns the warning log, oldest first.
func (e *Engine) Warnings() []Warning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings.list()
}

// Log appends an entry to the warning log.
func (e *Engine) Log(level, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLocked(level, message)
}

// MemoStats reports snapshot memo usage.
func (e *Engine) MemoStats() MemoStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memo.stats()
}

func (e *Engine) logLocked(level, message string) {
	e.warnings.add(Warning{Time: e.opts.Now(), Level: level, Message: message})
}

func newDatasetID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
