package engine

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/spanlens/spanlens/internal/filter"
)

// memo caches derived views per filter state for the current dataset. It is
// cleared whenever a dataset is loaded. Callers hold the engine mutex.
type memo struct {
	limit   int
	entries map[uint64]*view
	order   []uint64
	hits    int64
	misses  int64
}

// MemoStats reports memo effectiveness.
type MemoStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func newMemo(limit int) *memo {
	return &memo{limit: limit, entries: make(map[uint64]*view)}
}

func (m *memo) get(key uint64) (*view, bool) {
	if m.limit <= 0 {
		m.misses++
		return nil, false
	}
	v, ok := m.entries[key]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

func (m *memo) put(key uint64, v *view) {
	if m.limit <= 0 {
		return
	}
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = v
	for len(m.order) > m.limit {
		delete(m.entries, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *memo) reset() {
	m.entries = make(map[uint64]*view)
	m.order = nil
}

func (m *memo) stats() MemoStats {
	return MemoStats{Entries: len(m.entries), Hits: m.hits, Misses: m.misses}
}

// memoKey hashes the dataset generation and the filter state. Set members are
// hashed in sorted order so equal states share a key.
func memoKey(generation uint64, state filter.State) uint64 {
	h := murmur3.New64()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], generation)
	h.Write(buf[:])

	writeSet := func(tag byte, values []string) {
		h.Write([]byte{tag})
		for _, v := range values {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(v)))
			h.Write(buf[:])
			h.Write([]byte(v))
		}
	}
	spec := state.Spec()
	writeSet('L', spec.Layers)
	writeSet('A', spec.Actors)
	writeSet('S', []string{state.SearchKey()})

	return h.Sum64()
}
