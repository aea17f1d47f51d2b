package analytics

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/spanlens/spanlens/pkg/types"
)

func span(id string, start, end float64) types.Span {
	return types.Span{ID: id, EventID: id, DisplayName: id, Start: start, End: end, Duration: end - start}
}

func layered(id, layer string, start, end float64) types.Span {
	s := span(id, start, end)
	s.Layer = layer
	return s
}

func TestTimeRange(t *testing.T) {
	opts := DefaultOptions()

	r := TimeRange(nil, opts)
	if r.Start != 0 || r.End != 1000 {
		t.Errorf("empty range = %+v, want {0 1000}", r)
	}

	r = TimeRange([]types.Span{span("a", 100, 200), span("b", 150, 300)}, opts)
	if r.Start != 90 || r.End != 310 {
		t.Errorf("range = %+v, want {90 310}", r)
	}

	// Zero-width data must not blow up.
	r = TimeRange([]types.Span{span("a", 500, 500)}, opts)
	if r.Start != 500 || r.End != 500 {
		t.Errorf("zero-width range = %+v", r)
	}
}

func TestOverlapCount(t *testing.T) {
	tests := []struct {
		name  string
		spans []types.Span
		want  int
	}{
		{"empty", nil, 0},
		{"overlapping", []types.Span{span("a", 0, 10), span("b", 5, 15)}, 1},
		{"touching", []types.Span{span("a", 0, 5), span("b", 5, 10)}, 0},
		{"nested", []types.Span{span("a", 0, 100), span("b", 10, 20), span("c", 30, 40)}, 2},
		{"unsorted input", []types.Span{span("c", 30, 40), span("a", 0, 100), span("b", 10, 20)}, 2},
		{"three way", []types.Span{span("a", 0, 10), span("b", 1, 10), span("c", 2, 10)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverlapCount(tt.spans); got != tt.want {
				t.Errorf("OverlapCount = %d, want %d", got, tt.want)
			}
			if got := len(OverlapPairs(tt.spans)); got != tt.want {
				t.Errorf("len(OverlapPairs) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxConcurrency(t *testing.T) {
	c := MaxConcurrency([]types.Span{span("1", 0, 10), span("2", 2, 8), span("3", 9, 20)})
	if c.Max != 2 {
		t.Errorf("max concurrency = %d, want 2", c.Max)
	}
	if c.At != 2 {
		t.Errorf("max reached at %v, want 2", c.At)
	}

	if c := MaxConcurrency(nil); c.Max != 0 || c.At != 0 {
		t.Errorf("empty concurrency = %+v", c)
	}
}

func TestMaxConcurrency_EndsBeforeStarts(t *testing.T) {
	// b starts exactly when a ends: never concurrent.
	c := MaxConcurrency([]types.Span{span("a", 0, 5), span("b", 5, 10)})
	if c.Max != 1 {
		t.Errorf("back-to-back spans max = %d, want 1", c.Max)
	}

	// Three spans chained at shared instants stay at 1, the fourth overlapping raises it.
	c = MaxConcurrency([]types.Span{span("a", 0, 5), span("b", 5, 10), span("c", 10, 15), span("d", 9, 11)})
	if c.Max != 2 || c.At != 9 {
		t.Errorf("chained max = %+v, want {2 9}", c)
	}
}

func TestGaps(t *testing.T) {
	opts := DefaultOptions()
	spans := []types.Span{
		span("a", 0, 100),
		span("b", 150, 200),  // gap 50, ignored
		span("c", 500, 600),  // gap 300
		span("d", 1600, 1700), // gap 1000
		span("e", 1900, 2000), // gap 200
		span("f", 2150, 2200), // gap 150
	}
	gaps := Gaps(spans, opts)
	if len(gaps) != 3 {
		t.Fatalf("expected 3 gaps, got %d: %+v", len(gaps), gaps)
	}
	want := []float64{1000, 300, 200}
	for i, g := range gaps {
		if g.Duration != want[i] {
			t.Errorf("gap %d = %v, want %v", i, g.Duration, want[i])
		}
	}
	if gaps[0].Time != 600 || gaps[0].After != "c" || gaps[0].Before != "d" {
		t.Errorf("largest gap = %+v", gaps[0])
	}

	if g := Gaps([]types.Span{span("a", 0, 100), span("b", 200, 300)}, opts); len(g) != 0 {
		t.Errorf("gap equal to threshold should not be reported: %+v", g)
	}
}

func TestPatterns(t *testing.T) {
	spans := []types.Span{
		layered("1", "scenario", 0, 1),
		layered("2", "control", 1, 2),
		layered("3", "sensor", 2, 3),
		layered("4", "control", 3, 4),
		layered("5", "sensor", 4, 5),
		layered("6", "scenario", 5, 6),
	}
	patterns := Patterns(spans, DefaultOptions())
	if len(patterns) == 0 || patterns[0].Sequence != "control → sensor" || patterns[0].Count != 2 {
		t.Fatalf("top pattern = %+v", patterns)
	}
	// Ties keep first-occurrence order.
	if patterns[1].Sequence != "scenario → control" {
		t.Errorf("second pattern = %+v", patterns[1])
	}
	if len(patterns) != 4 {
		t.Errorf("expected 4 distinct bigrams, got %d", len(patterns))
	}
}

func TestPatterns_TopFive(t *testing.T) {
	var spans []types.Span
	for i := 0; i < 20; i++ {
		spans = append(spans, layered(fmt.Sprint(i), fmt.Sprintf("L%d", i), float64(i), float64(i+1)))
	}
	if got := len(Patterns(spans, DefaultOptions())); got != 5 {
		t.Errorf("expected 5 patterns, got %d", got)
	}
}

func TestCriticalPaths(t *testing.T) {
	spans := []types.Span{
		// Run 1: three spans, 0..500.
		span("a", 0, 200),
		span("b", 250, 400),
		span("c", 450, 500),
		// Break (starts 2000 > 500+100).
		// Run 2: two spans only, dropped.
		span("d", 2000, 2100),
		span("e", 2150, 2200),
		// Run 3: four spans, 5000..7060.
		span("f", 5000, 7000),
		span("g", 5100, 5200),
		span("h", 5300, 5400),
		span("i", 7050, 7060),
		// Breaks run 3; its own run is never closed.
		span("j", 9000, 9100),
	}
	paths := CriticalPaths(spans, DefaultOptions())
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %+v", len(paths), paths)
	}
	if paths[0].Duration != 2060 || len(paths[0].Spans) != 4 || paths[0].Name != "f → i" {
		t.Errorf("longest path = %+v", paths[0])
	}
	if paths[1].Duration != 500 || paths[1].Name != "a → c" {
		t.Errorf("second path = %+v", paths[1])
	}
}

func TestCriticalPaths_ToleranceUsesLatestEnd(t *testing.T) {
	// b ends before a; c is within tolerance of a's end but not b's.
	spans := []types.Span{span("a", 0, 1000), span("b", 10, 20), span("c", 1050, 1100), span("d", 5000, 5100)}
	paths := CriticalPaths(spans, DefaultOptions())
	if len(paths) != 1 || len(paths[0].Spans) != 3 {
		t.Errorf("expected one 3-span path, got %+v", paths)
	}
}

func TestCriticalPaths_OpenRunIgnored(t *testing.T) {
	spans := []types.Span{span("a", 0, 10), span("b", 20, 30), span("c", 40, 50)}
	if paths := CriticalPaths(spans, DefaultOptions()); len(paths) != 0 {
		t.Errorf("a run never broken is not a path, got %+v", paths)
	}
}

func TestEmptyInputs(t *testing.T) {
	opts := DefaultOptions()
	st := Compute(nil, nil, opts)
	if st.TotalSpans != 0 || st.OverlapCount != 0 || st.Concurrency.Max != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if len(st.Gaps) != 0 || len(st.Patterns) != 0 || len(st.CriticalPaths) != 0 || len(st.Longest) != 0 {
		t.Errorf("expected empty lists, got %+v", st)
	}
	if st.TimelineDuration != 1000 {
		t.Errorf("timeline duration = %v, want 1000", st.TimelineDuration)
	}
	if st.Gaps == nil || st.Patterns == nil || st.CriticalPaths == nil {
		t.Error("empty lists should be non-nil so they encode as []")
	}
}

func TestCompute(t *testing.T) {
	all := []types.Span{
		layered("a", "control", 0, 100),
		layered("b", "control", 50, 250),
		layered("c", "sensor", 1000, 1100),
	}
	filtered := all[:2]
	st := Compute(all, filtered, DefaultOptions())

	if st.TotalSpans != 3 || st.VisibleSpans != 2 {
		t.Errorf("counts = %d/%d", st.TotalSpans, st.VisibleSpans)
	}
	if st.OverlapCount != 1 || st.Concurrency.Max != 2 {
		t.Errorf("overlap/concurrency = %d/%d", st.OverlapCount, st.Concurrency.Max)
	}
	if st.AverageDuration != 150 {
		t.Errorf("average = %v, want 150", st.AverageDuration)
	}
	if len(st.Layers) != 1 || st.Layers[0].Count != 2 || st.Layers[0].TotalDuration != 300 {
		t.Errorf("layers = %+v", st.Layers)
	}
	if st.Longest[0].ID != "b" {
		t.Errorf("longest = %+v", st.Longest)
	}
	// The gap after b is computed on all spans.
	if len(st.Gaps) != 1 || st.Gaps[0].Duration != 750 {
		t.Errorf("gaps = %+v", st.Gaps)
	}
	if st.Quantiles.P50 < 100 || st.Quantiles.P50 > 200 {
		t.Errorf("p50 = %v out of range", st.Quantiles.P50)
	}
}

func TestRelatedAndSummary(t *testing.T) {
	spans := []types.Span{span("a", 0, 10), span("b", 5, 15), span("c", 10, 20)}
	rel := Related(spans, spans[0])
	if len(rel) != 1 || rel[0].ID != "b" {
		t.Errorf("related = %+v", rel)
	}

	sum := Summarize(spans, map[string]struct{}{"a": {}, "c": {}, "zzz": {}})
	if sum.Count != 2 || sum.TotalDuration != 20 || sum.AverageDuration != 10 {
		t.Errorf("summary = %+v", sum)
	}
	if empty := Summarize(spans, nil); empty.Count != 0 || empty.AverageDuration != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func genSpans() gopter.Gen {
	return gen.SliceOf(gen.SliceOfN(2, gen.Int64Range(0, 200))).Map(func(raw [][]int64) []types.Span {
		spans := make([]types.Span, 0, len(raw))
		for i, pair := range raw {
			if len(pair) < 2 {
				continue
			}
			lo, hi := pair[0], pair[1]
			if lo > hi {
				lo, hi = hi, lo
			}
			spans = append(spans, span(fmt.Sprintf("s%d", i), float64(lo), float64(hi)))
		}
		return spans
	})
}

func bruteForceOverlaps(spans []types.Span) int {
	n := 0
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.Start < b.End && a.End > b.Start {
				n++
			}
		}
	}
	return n
}

func bruteForceConcurrency(spans []types.Span) int {
	best := 0
	for _, probe := range spans {
		// Concurrency just after a start is a candidate peak.
		count := 0
		for _, s := range spans {
			if s.Start <= probe.Start && s.End > probe.Start {
				count++
			}
		}
		if count > best {
			best = count
		}
	}
	return best
}

func TestProperty_Analytics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("overlap is symmetric and irreflexive", prop.ForAll(
		func(spans []types.Span) bool {
			for _, a := range spans {
				if a.Overlaps(a) {
					return false
				}
				for _, b := range spans {
					if a.Overlaps(b) != b.Overlaps(a) {
						return false
					}
				}
			}
			return true
		},
		genSpans(),
	))

	properties.Property("overlap count matches the pairwise definition", prop.ForAll(
		func(spans []types.Span) bool {
			return OverlapCount(spans) == bruteForceOverlaps(spans)
		},
		genSpans(),
	))

	properties.Property("max concurrency matches a brute-force probe", prop.ForAll(
		func(spans []types.Span) bool {
			// Zero-length spans are never open under the end-before-start rule.
			var positive []types.Span
			for _, s := range spans {
				if s.End > s.Start {
					positive = append(positive, s)
				}
			}
			return MaxConcurrency(positive).Max == bruteForceConcurrency(positive)
		},
		genSpans(),
	))

	properties.Property("analytics are deterministic", prop.ForAll(
		func(spans []types.Span) bool {
			a := Compute(spans, spans, DefaultOptions())
			b := Compute(spans, spans, DefaultOptions())
			return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
		},
		genSpans(),
	))

	properties.TestingRun(t)
}
