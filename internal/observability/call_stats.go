// Package observability provides call statistics for the query surface and
// OpenTelemetry tracing setup.
package observability

import (
	"sort"
	"sync"
	"time"
)

// CallStats tracks how often each query operation is called and which filter
// dimensions callers use.
type CallStats struct {
	mu      sync.RWMutex
	calls   map[string]*OperationStats
	filters map[string]*OperationStats
	window  time.Duration
}

// OperationStats holds statistics for one operation or filter dimension.
type OperationStats struct {
	Name         string         `json:"name"`
	Frequency    int64          `json:"frequency"`
	Errors       int64          `json:"errors"`
	TotalLatency time.Duration  `json:"total_latency"`
	LastSeen     time.Time      `json:"last_seen"`
	Values       map[string]int `json:"values,omitempty"` // filter value → count
}

// AverageLatency returns the mean latency per call.
func (s OperationStats) AverageLatency() time.Duration {
	if s.Frequency == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Frequency)
}

// NewCallStats creates a tracker. Entries not seen within window are removed
// by Prune.
func NewCallStats(window time.Duration) *CallStats {
	return &CallStats{
		calls:   make(map[string]*OperationStats),
		filters: make(map[string]*OperationStats),
		window:  window,
	}
}

// RecordCall records one call of operation. A non-nil err counts as an error.
func (c *CallStats) RecordCall(operation string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := entry(c.calls, operation)
	stats.Frequency++
	stats.TotalLatency += latency
	stats.LastSeen = time.Now()
	if err != nil {
		stats.Errors++
	}
}

// RecordFilter records a filter change along dimension ("layer", "actor",
// "search") to value.
func (c *CallStats) RecordFilter(dimension, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := entry(c.filters, dimension)
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Values[value]++
}

func entry(m map[string]*OperationStats, name string) *OperationStats {
	stats, ok := m[name]
	if !ok {
		stats = &OperationStats{Name: name, Values: make(map[string]int)}
		m[name] = stats
	}
	return stats
}

// TopCalls returns the n most frequent operations, most frequent first.
func (c *CallStats) TopCalls(n int) []OperationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return top(c.calls, n)
}

// TopFilters returns the n most used filter dimensions.
func (c *CallStats) TopFilters(n int) []OperationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return top(c.filters, n)
}

// top copies the entries so callers cannot mutate tracker state. Ties are
// broken by name.
func top(m map[string]*OperationStats, n int) []OperationStats {
	if n <= 0 || len(m) == 0 {
		return []OperationStats{}
	}

	stats := make([]OperationStats, 0, len(m))
	for _, s := range m {
		cp := *s
		cp.Values = make(map[string]int, len(s.Values))
		for v, count := range s.Values {
			cp.Values[v] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Name < stats[j].Name
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
func (c *CallStats) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := time.Now().Add(-c.window)
	for _, m := range []map[string]*OperationStats{c.calls, c.filters} {
		for name, stats := range m {
			if stats.LastSeen.Before(threshold) {
				delete(m, name)
			}
		}
	}
}
