// Package watch re-imports an event log whenever the file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spanlens/spanlens/internal/debounce"
	"github.com/spanlens/spanlens/internal/engine"
)

// DefaultDebounce is the quiet period between the last write and a reload.
const DefaultDebounce = 250 * time.Millisecond

// Importer accepts raw payloads. *engine.Engine implements it.
type Importer interface {
	Import(ctx context.Context, source string, payload []byte) (engine.LoadResult, error)
}

// Result is the outcome of one reload.
type Result struct {
	At   time.Time
	Load engine.LoadResult
	Err  error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithOnReload registers a callback run after every reload attempt.
func WithOnReload(fn func(Result)) Option {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// Watcher watches a single file. The containing directory is watched so that
// editors replacing the file by rename are picked up too.
type Watcher struct {
	path     string
	target   Importer
	delay    time.Duration
	onReload func(Result)

	mu       sync.Mutex
	last     Result
	reloads  int
	debounce *debounce.Debouncer
}

// New creates a watcher for path feeding target.
func New(path string, target Importer, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: failed to resolve %s: %w", path, err)
	}
	w := &Watcher{
		path:   abs,
		target: target,
		delay:  DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debounce = debounce.New(w.delay)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Reload reads the file and imports it. A failed import leaves the previous
// dataset in place.
func (w *Watcher) Reload(ctx context.Context) Result {
	res := Result{At: time.Now()}
	payload, err := os.ReadFile(w.path)
	if err != nil {
		res.Err = fmt.Errorf("watch: failed to read %s: %w", w.path, err)
	} else {
		res.Load, res.Err = w.target.Import(ctx, w.path, payload)
	}

	if res.Err != nil {
		log.Printf("Warning: reload of %s failed, keeping previous dataset: %v", w.path, res.Err)
	} else {
		log.Printf("Reloaded %s: %d spans (dataset %s)", w.path, res.Load.Spans, res.Load.DatasetID)
	}

	w.mu.Lock()
	w.last = res
	w.reloads++
	cb := w.onReload
	w.mu.Unlock()

	if cb != nil {
		cb(res)
	}
	return res
}

// Last returns the most recent reload result and the number of reloads.
func (w *Watcher) Last() (Result, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.reloads
}

// Run imports the file once, then reloads it after each burst of changes
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch: failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	defer w.debounce.Stop()

	w.Reload(ctx)
	log.Printf("Watching %s for changes", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.debounce.Trigger(func() { w.Reload(ctx) })
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: watch error on %s: %v", w.path, err)
		}
	}
}
