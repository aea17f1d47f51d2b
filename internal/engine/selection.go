package engine

import (
	"fmt"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/notify"
)

// SelectSpan toggles selection of span id. Without multi the selection is
// replaced by id, or cleared if id was the only selected span.
func (e *Engine) SelectSpan(id string, multi bool) (analytics.SelectionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.data.byID[id]; !ok {
		return analytics.SelectionSummary{}, errors.NewQueryError(errors.CodeSpanNotFound, fmt.Sprintf("span %q not found", id))
	}

	_, wasSelected := e.selected[id]
	switch {
	case multi && wasSelected:
		delete(e.selected, id)
	case multi:
		e.selected[id] = struct{}{}
	case wasSelected && len(e.selected) == 1:
		e.selected = make(map[string]struct{})
	default:
		e.selected = map[string]struct{}{id: {}}
	}
	snap := e.current.Load()
	e.notifyLocked(notify.SelectionChanged, snap)
	return analytics.Summarize(snap.Filtered, e.selected), nil
}

// ClearSelection deselects everything.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = make(map[string]struct{})
	e.notifyLocked(notify.SelectionChanged, e.current.Load())
}

// Selection summarizes the selected spans that pass the current filter.
func (e *Engine) Selection() analytics.SelectionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return analytics.Summarize(e.current.Load().Filtered, e.selected)
}
