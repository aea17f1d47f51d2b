package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/export"
)

func (o *options) analytics() analytics.Options {
	a := analytics.DefaultOptions()
	a.GapThreshold = o.gapThreshold
	a.PathTolerance = o.tolerance
	return a
}

func (o *options) newEngine() *engine.Engine {
	eopts := engine.DefaultOptions()
	eopts.Analytics = o.analytics()
	return engine.New(eopts)
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".sqlite3", ".db":
		return true
	}
	return false
}

// load builds an engine from a log file or span archive and applies the
// filter flags.
func (o *options) load(ctx context.Context, path string) (*engine.Engine, engine.LoadResult, error) {
	eng := o.newEngine()

	var (
		res engine.LoadResult
		err error
	)
	if isArchive(path) {
		events, defs, rerr := export.ReadArchive(ctx, path)
		if rerr != nil {
			eng.Close()
			return nil, res, rerr
		}
		res = eng.Load(events, defs)
	} else {
		payload, rerr := os.ReadFile(path)
		if rerr != nil {
			eng.Close()
			return nil, res, fmt.Errorf("failed to read %s: %w", path, rerr)
		}
		res, err = eng.Import(ctx, path, payload)
		if err != nil {
			eng.Close()
			return nil, res, err
		}
	}

	o.applyFilter(eng)
	return eng, res, nil
}

func (o *options) applyFilter(eng *engine.Engine) {
	state := eng.Filter()
	if len(o.layers) > 0 {
		state = state.WithLayers(o.layers)
	}
	if len(o.actors) > 0 {
		state = state.WithActors(o.actors)
	}
	if o.search != "" {
		state = state.WithSearch(o.search)
	}
	eng.SetFilter(state)
}
