// Package server coordinates the lifecycle of the long-running services:
// serve loops, in-flight tracking and ordered shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds lifecycle timeouts.
type Config struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Lifecycle runs serve loops and shuts them down in reverse registration
// order once a signal arrives, the context ends or a loop fails.
type Lifecycle struct {
	cfg Config

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	draining     atomic.Bool
	inFlight     atomic.Int64

	mu      sync.Mutex
	closers []namedCloser

	errCh chan error
	loops sync.WaitGroup
}

// New creates a lifecycle manager.
func New(cfg Config) *Lifecycle {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	return &Lifecycle{
		cfg:        cfg,
		shutdownCh: make(chan struct{}),
		errCh:      make(chan error, 8),
	}
}

// Register adds a resource closed during shutdown. Resources close in
// reverse order of registration.
func (l *Lifecycle) Register(name string, closer io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, closer: closer})
}

// Go runs a serve loop. A loop returning a non-nil error ends Wait.
func (l *Lifecycle) Go(name string, serve func() error) {
	l.loops.Add(1)
	go func() {
		defer l.loops.Done()
		if err := serve(); err != nil {
			select {
			case l.errCh <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

// Wait blocks until SIGINT/SIGTERM, ctx cancellation or a failed serve loop,
// then shuts down. The serve loop error, if any, is returned.
func (l *Lifecycle) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var cause error
	reason := ""
	select {
	case sig := <-sigCh:
		reason = fmt.Sprintf("received signal: %v", sig)
	case <-ctx.Done():
		reason = "context cancelled"
	case err := <-l.errCh:
		reason = "serve loop failed"
		cause = err
	case <-l.shutdownCh:
		return nil
	}

	if err := l.Shutdown(context.Background(), reason); err != nil && cause == nil {
		cause = err
	}
	return cause
}

// Shutdown drains in-flight requests and closes every registered resource.
// Only the first call does any work.
func (l *Lifecycle) Shutdown(ctx context.Context, reason string) error {
	var shutdownErr error

	l.shutdownOnce.Do(func() {
		log.Printf("Shutting down: %s", reason)
		l.draining.Store(true)
		close(l.shutdownCh)

		shutdownCtx, cancel := context.WithTimeout(ctx, l.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := l.drain(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain failed: %w", err))
		}

		l.mu.Lock()
		closers := l.closers
		l.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.closer.Close(); err != nil {
				log.Printf("Warning: failed to close %s: %v", c.name, err)
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}

		done := make(chan struct{})
		go func() {
			l.loops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			errs = append(errs, errors.New("serve loops did not stop in time"))
		}

		shutdownErr = errors.Join(errs...)
		log.Println("Shutdown complete")
	})

	return shutdownErr
}

func (l *Lifecycle) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, l.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := l.inFlight.Load(); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Enter counts a request in. It returns false once shutdown has begun.
func (l *Lifecycle) Enter() bool {
	if l.draining.Load() {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Leave counts a request out.
func (l *Lifecycle) Leave() {
	l.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has begun.
func (l *Lifecycle) IsShuttingDown() bool {
	return l.draining.Load()
}

// InFlight returns the number of requests being served.
func (l *Lifecycle) InFlight() int64 {
	return l.inFlight.Load()
}

// Done is closed when shutdown begins.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.shutdownCh
}

// HTTPMiddleware tracks in-flight requests and refuses new ones with 503
// during shutdown.
func (l *Lifecycle) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Enter() {
			w.Header().Set("Connection", "close")
			http.Error(w, "Service Unavailable - Shutting Down", http.StatusServiceUnavailable)
			return
		}
		defer l.Leave()
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor is the gRPC counterpart of HTTPMiddleware.
func (l *Lifecycle) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !l.Enter() {
			return nil, status.Error(codes.Unavailable, "shutting down")
		}
		defer l.Leave()
		return handler(ctx, req)
	}
}

// HTTPServer closes srv gracefully within timeout.
func HTTPServer(srv *http.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// GRPCServer stops srv gracefully, forcing it after timeout.
func GRPCServer(srv *grpc.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			srv.Stop()
		}
		return nil
	})
}

// ServeHTTP adapts http.Server.Serve for Go, treating ErrServerClosed as a
// clean exit.
func ServeHTTP(serve func() error) func() error {
	return func() error {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
