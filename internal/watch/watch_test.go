package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spanlens/spanlens/internal/engine"
)

const (
	oneSpan  = `[{"timestamp": 0, "event_id": "A"}, {"timestamp": 1, "event_id": "A"}]`
	twoSpans = `[{"timestamp": 0, "event_id": "A"}, {"timestamp": 1, "event_id": "A"},
		{"timestamp": 2, "event_id": "B"}, {"timestamp": 3, "event_id": "B"}]`
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(oneSpan), 0644); err != nil {
		t.Fatal(err)
	}
	e := engine.New(engine.DefaultOptions())
	defer e.Close()

	w, err := New(path, e)
	if err != nil {
		t.Fatal(err)
	}
	res := w.Reload(context.Background())
	if res.Err != nil || res.Load.Spans != 1 {
		t.Fatalf("Reload = %+v", res)
	}

	// A broken file keeps the previous dataset.
	if err := os.WriteFile(path, []byte(`{"nope": 1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if res := w.Reload(context.Background()); res.Err == nil {
		t.Error("expected reload error")
	}
	if n := len(e.Spans()); n != 1 {
		t.Errorf("previous dataset lost: %d spans", n)
	}
	if _, n := w.Last(); n != 2 {
		t.Errorf("reloads = %d, want 2", n)
	}
}

func TestReload_MissingFile(t *testing.T) {
	e := engine.New(engine.DefaultOptions())
	defer e.Close()
	w, err := New(filepath.Join(t.TempDir(), "missing.json"), e)
	if err != nil {
		t.Fatal(err)
	}
	if res := w.Reload(context.Background()); res.Err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRun_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(oneSpan), 0644); err != nil {
		t.Fatal(err)
	}
	e := engine.New(engine.DefaultOptions())
	defer e.Close()

	results := make(chan Result, 16)
	w, err := New(path, e, WithDebounce(20*time.Millisecond), WithOnReload(func(r Result) { results <- r }))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case r := <-results:
		if r.Err != nil || r.Load.Spans != 1 {
			t.Fatalf("initial import = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no initial import")
	}

	if err := os.WriteFile(path, []byte(twoSpans), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(e.Spans()) == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
