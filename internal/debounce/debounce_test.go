package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_OnlyLastRuns(t *testing.T) {
	d := New(20 * time.Millisecond)

	var mu sync.Mutex
	var ran []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		d.Trigger(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}

	// Give any stray timers a chance to fire.
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != 4 {
		t.Errorf("ran = %v, want [4]", ran)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	d := New(time.Hour)
	var count int32

	d.Trigger(func() { atomic.AddInt32(&count, 1) })
	if !d.Pending() {
		t.Fatal("expected a pending call")
	}
	d.Flush()

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if d.Pending() {
		t.Error("flush should clear the pending call")
	}

	// Flushing with nothing pending is a no-op.
	d.Flush()
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("count = %d after empty flush, want 1", count)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := New(10 * time.Millisecond)
	var count int32

	d.Trigger(func() { atomic.AddInt32(&count, 1) })
	d.Stop()
	d.Trigger(func() { atomic.AddInt32(&count, 1) })

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("count = %d, want 0 after Stop", count)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := New(10 * time.Millisecond)
	results := make(chan string, 2)

	d.Trigger(func() { results <- "cancelled" })
	d.Cancel()
	if d.Pending() {
		t.Error("nothing should be pending after Cancel")
	}
	d.Flush()

	d.Trigger(func() { results <- "after" })
	select {
	case got := <-results:
		if got != "after" {
			t.Errorf("got %q, want the trigger after Cancel", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trigger after Cancel never ran")
	}

	time.Sleep(30 * time.Millisecond)
	select {
	case got := <-results:
		t.Errorf("unexpected extra call %q", got)
	default:
	}
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	d := New(10 * time.Millisecond)
	results := make(chan string, 4)

	d.Trigger(func() { results <- "first" })
	time.Sleep(60 * time.Millisecond)
	d.Trigger(func() { results <- "second" })

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-results:
			if got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
