package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	l := New(Config{})

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"engine", "watcher", "http"} {
		name := name
		l.Register(name, CloserFunc(func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}))
	}

	if err := l.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := strings.Join(order, ","); got != "http,watcher,engine" {
		t.Errorf("close order = %s", got)
	}

	// Second call is a no-op.
	if err := l.Shutdown(context.Background(), "again"); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran %d times", len(order))
	}
}

func TestShutdown_JoinsCloseErrors(t *testing.T) {
	l := New(Config{})
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	l.Register("a", CloserFunc(func() error { return errA }))
	l.Register("b", CloserFunc(func() error { return errB }))

	err := l.Shutdown(context.Background(), "test")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestShutdown_DrainsInFlight(t *testing.T) {
	l := New(Config{DrainTimeout: time.Second})
	if !l.Enter() {
		t.Fatal("Enter should succeed before shutdown")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Leave()
	}()

	start := time.Now()
	if err := l.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("shutdown should have waited for the in-flight request")
	}
	if l.Enter() {
		t.Error("Enter should fail after shutdown")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	l := New(Config{DrainTimeout: 20 * time.Millisecond})
	l.Enter()

	err := l.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "1 in-flight") {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestHTTPMiddleware_RejectsDuringShutdown(t *testing.T) {
	l := New(Config{})
	h := l.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.InFlight() != 1 {
			t.Errorf("in flight = %d during request", l.InFlight())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	l.Shutdown(context.Background(), "test")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during shutdown = %d", rec.Code)
	}
}

func TestWait_ServeLoopFailure(t *testing.T) {
	l := New(Config{})
	boom := errors.New("bind failed")
	l.Go("http", func() error { return boom })

	err := l.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected serve error, got %v", err)
	}
	if !l.IsShuttingDown() {
		t.Error("Wait should have shut down")
	}
}

func TestWait_StopsHTTPServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.NotFoundHandler()}

	l := New(Config{ShutdownTimeout: 2 * time.Second})
	l.Register("http", HTTPServer(srv, time.Second))
	l.Go("http", ServeHTTP(func() error { return srv.Serve(lis) }))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done should be closed")
	}
}
