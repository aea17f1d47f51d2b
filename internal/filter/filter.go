// Package filter implements the layer/actor/search filter over spans.
package filter

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/spanlens/spanlens/pkg/types"
)

// State is the active layer set, the active actor set and the search term.
// Methods that change the state return a new value; a State is never patched
// in place once published.
type State struct {
	layers map[string]struct{}
	actors map[string]struct{}
	search string
	folded string
}

// Spec is the serializable form of a State.
type Spec struct {
	Layers []string `json:"layers"`
	Actors []string `json:"actors"`
	Search string   `json:"search"`
}

// New builds a state from explicit sets.
func New(layers, actors []string, search string) State {
	s := State{
		layers: toSet(layers),
		actors: toSet(actors),
	}
	return s.WithSearch(search)
}

// FromSpec builds a state from its serializable form.
func FromSpec(spec Spec) State {
	return New(spec.Layers, spec.Actors, spec.Search)
}

// Spec returns the serializable form with sorted sets.
func (s State) Spec() Spec {
	return Spec{
		Layers: sortedKeys(s.layers),
		Actors: sortedKeys(s.actors),
		Search: s.search,
	}
}

// Search returns the search term as set.
func (s State) Search() string {
	return s.search
}

// SearchKey returns the normalized term used for matching.
func (s State) SearchKey() string {
	return s.folded
}

// Layers returns the active layers in sorted order.
func (s State) Layers() []string {
	return sortedKeys(s.layers)
}

// Actors returns the active actors in sorted order.
func (s State) Actors() []string {
	return sortedKeys(s.actors)
}

// LayerActive reports whether layer is in the active set.
func (s State) LayerActive(layer string) bool {
	_, ok := s.layers[layer]
	return ok
}

// ActorActive reports whether actor is in the active set.
func (s State) ActorActive(actor string) bool {
	_, ok := s.actors[actor]
	return ok
}

// WithLayers replaces the active layer set.
func (s State) WithLayers(layers []string) State {
	s.layers = toSet(layers)
	return s
}

// WithActors replaces the active actor set.
func (s State) WithActors(actors []string) State {
	s.actors = toSet(actors)
	return s
}

// WithSearch replaces the search term. Matching ignores case and surrounding
// whitespace.
func (s State) WithSearch(term string) State {
	s.search = term
	s.folded = fold(strings.TrimSpace(term))
	return s
}

// ToggleLayer flips membership of layer.
func (s State) ToggleLayer(layer string) State {
	s.layers = toggle(s.layers, layer)
	return s
}

// ToggleActor flips membership of actor.
func (s State) ToggleActor(actor string) State {
	s.actors = toggle(s.actors, actor)
	return s
}

// Matches reports whether span passes all three predicates.
func (s State) Matches(span types.Span) bool {
	if !s.LayerActive(span.Layer) || !s.ActorActive(span.Actor) {
		return false
	}
	if s.folded == "" {
		return true
	}
	return strings.Contains(fold(span.DisplayName), s.folded) ||
		strings.Contains(fold(span.EventID), s.folded) ||
		strings.Contains(fold(span.Layer), s.folded)
}

// Apply returns the spans passing the filter, preserving order. The input
// slice is not modified.
func Apply(spans []types.Span, s State) []types.Span {
	out := make([]types.Span, 0, len(spans))
	for _, span := range spans {
		if s.Matches(span) {
			out = append(out, span)
		}
	}
	return out
}

// Equal reports whether two states select the same spans for any input.
func (s State) Equal(o State) bool {
	return s.folded == o.folded && sameSet(s.layers, o.layers) && sameSet(s.actors, o.actors)
}

func fold(v string) string {
	return cases.Fold().String(v)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toggle(set map[string]struct{}, key string) map[string]struct{} {
	out := make(map[string]struct{}, len(set)+1)
	for k := range set {
		out[k] = struct{}{}
	}
	if _, ok := out[key]; ok {
		delete(out, key)
	} else {
		out[key] = struct{}{}
	}
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
