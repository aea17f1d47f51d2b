// Package grouping orders spans into (actor, layer) display groups.
package grouping

import (
	"sort"

	"github.com/spanlens/spanlens/pkg/types"
)

// Group buckets spans by (actor, layer). Groups sort by actor, then by the
// position of the layer in layerOrder, with layers missing from layerOrder
// after all listed ones in lexicographic order. Spans keep their input order
// within a group. An empty layerOrder gives plain lexicographic layer order.
func Group(spans []types.Span, layerOrder []string) []types.Group {
	type key struct{ actor, layer string }

	index := make(map[key]int)
	groups := make([]types.Group, 0)
	for _, s := range spans {
		k := key{s.Actor, s.Layer}
		at, ok := index[k]
		if !ok {
			at = len(groups)
			index[k] = at
			groups = append(groups, types.Group{Actor: s.Actor, Layer: s.Layer})
		}
		groups[at].Spans = append(groups[at].Spans, s)
	}

	rank := make(map[string]int, len(layerOrder))
	for i, id := range layerOrder {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	layerRank := func(layer string) int {
		if r, ok := rank[layer]; ok {
			return r
		}
		return len(layerOrder)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Actor != b.Actor {
			return a.Actor < b.Actor
		}
		ra, rb := layerRank(a.Layer), layerRank(b.Layer)
		if ra != rb {
			return ra < rb
		}
		return a.Layer < b.Layer
	})
	return groups
}
