// Package app wires the spanlens services together and manages their
// lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/spanlens/spanlens/internal/api/grpc"
	httpapi "github.com/spanlens/spanlens/internal/api/http"
	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/config"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/export"
	"github.com/spanlens/spanlens/internal/observability"
	"github.com/spanlens/spanlens/internal/server"
	"github.com/spanlens/spanlens/internal/storage"
	"github.com/spanlens/spanlens/internal/watch"
	"github.com/spanlens/spanlens/pkg/types"
)

// App manages the spanlens service lifecycle.
type App struct {
	cfg *config.Config

	engine    *engine.Engine
	storage   storage.ObjectStorage
	exporter  *export.Exporter
	stats     *observability.CallStats
	lifecycle *server.Lifecycle
	watcher   *watch.Watcher

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	tracingShutdown func(context.Context) error

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// EngineOptions maps the configured tunables onto engine options.
func EngineOptions(cfg *config.Config) engine.Options {
	opts := engine.DefaultOptions()
	opts.Analytics = analyticsOptions(cfg)
	opts.SearchDebounce = cfg.Engine.SearchDebounce
	opts.WarningLogSize = cfg.Engine.WarningLogSize
	if cfg.Engine.MemoEntries > 0 {
		opts.MemoEntries = cfg.Engine.MemoEntries
	}
	return opts
}

// ExportOptions maps the configuration onto export rendering options.
func ExportOptions(cfg *config.Config) export.Options {
	opts := export.DefaultOptions()
	opts.Analytics = analyticsOptions(cfg)
	opts.TempDir = cfg.Export.TempDir
	if cfg.Export.Width > 0 {
		opts.Width = cfg.Export.Width
	}
	opts.Height = cfg.Export.Height
	return opts
}

func analyticsOptions(cfg *config.Config) analytics.Options {
	opts := analytics.DefaultOptions()
	opts.GapThreshold = cfg.Engine.GapThreshold
	opts.PathTolerance = cfg.Engine.PathTolerance
	opts.PaddingRatio = cfg.Engine.PaddingRatio
	opts.DefaultRange = types.TimeRange{Start: cfg.Engine.DefaultRangeStart, End: cfg.Engine.DefaultRangeEnd}
	return opts
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}
	if a.cfg.Watch.Path != "" {
		if err := a.startWatcher(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}
	a.startStatsPruner(ctx)

	log.Printf("spanlens started: http=%s grpc=%v watch=%q", a.HTTPAddr(), a.cfg.GRPC.Enabled, a.cfg.Watch.Path)
	return nil
}

// initSharedResources sets up tracing, storage, the engine and the exporter.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.tracingShutdown, err = observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:     a.cfg.Tracing.Enabled,
		Endpoint:    a.cfg.Tracing.Endpoint,
		ServiceName: a.cfg.Tracing.ServiceName,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.engine = engine.New(EngineOptions(a.cfg))
	a.exporter = export.NewExporter(a.storage, ExportOptions(a.cfg))
	a.stats = observability.NewCallStats(a.cfg.StatsWindow)
	a.lifecycle = server.New(server.Config{ShutdownTimeout: a.cfg.ShutdownTimeout})

	// Closed last.
	a.lifecycle.Register("tracing", server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.tracingShutdown(ctx)
	}))
	a.lifecycle.Register("engine", server.CloserFunc(func() error {
		a.engine.Close()
		return nil
	}))
	return nil
}

func (a *App) startHTTP() error {
	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		a.lifecycle.HTTPMiddleware,
		httpapi.DefaultMiddleware(),
	)
	handler := httpapi.NewHandler(a.engine, a.exporter, a.stats, httpapi.Config{
		MaxImportBytes: a.cfg.HTTP.MaxImportBytes,
		Export:         ExportOptions(a.cfg),
		Done:           a.lifecycle.Done(),
	})
	handler.Register(mux, middleware)
	mux.HandleFunc("GET /health", a.healthHandler("spanlens"))

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpListener = lis
	a.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.lifecycle.Register("http", server.HTTPServer(a.httpServer, 10*time.Second))
	a.lifecycle.Go("http", server.ServeHTTP(func() error {
		log.Printf("HTTP server listening on %s", lis.Addr())
		return a.httpServer.Serve(lis)
	}))
	return nil
}

func (a *App) startGRPC() error {
	a.grpcServer = grpcapi.NewServer(
		grpcapi.NewTimelineServer(a.engine),
		a.stats,
		grpc.ChainUnaryInterceptor(a.lifecycle.UnaryInterceptor()),
	)

	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = lis

	a.lifecycle.Register("grpc", server.GRPCServer(a.grpcServer, 10*time.Second))
	a.lifecycle.Go("grpc", func() error {
		log.Printf("gRPC server listening on %s", lis.Addr())
		return a.grpcServer.Serve(lis)
	})
	return nil
}

func (a *App) startWatcher(ctx context.Context) error {
	w, err := watch.New(a.cfg.Watch.Path, a.engine, watch.WithDebounce(a.cfg.Watch.Debounce))
	if err != nil {
		return err
	}
	a.watcher = w

	watchCtx, cancel := context.WithCancel(ctx)
	a.lifecycle.Register("watcher", server.CloserFunc(func() error {
		cancel()
		return nil
	}))
	a.lifecycle.Go("watcher", func() error {
		return w.Run(watchCtx)
	})
	return nil
}

// startStatsPruner drops expired call statistics periodically.
func (a *App) startStatsPruner(ctx context.Context) {
	interval := a.cfg.StatsWindow / 4
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.lifecycle.Done():
				return
			case <-ticker.C:
				a.stats.Prune()
			}
		}
	}()
}

// Engine returns the engine served by the app.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Watcher returns the file watcher, or nil when watching is disabled.
func (a *App) Watcher() *watch.Watcher {
	return a.watcher
}

// HTTPAddr returns the address the HTTP server listens on.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return a.cfg.HTTP.Addr
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the address the gRPC server listens on, or "" when it is
// disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Wait blocks until a shutdown signal, ctx cancellation or a server failure,
// then stops every service.
func (a *App) Wait(ctx context.Context) error {
	err := a.lifecycle.Wait(ctx)
	a.markStopped()
	return err
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	if !a.markStopped() {
		return nil
	}
	log.Printf("Initiating graceful shutdown...")
	err := a.lifecycle.Shutdown(ctx, "stop requested")
	log.Printf("spanlens stopped")
	return err
}

func (a *App) markStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.running = false
	if a.cancel != nil {
		a.cancel()
	}
	return true
}

// cleanup releases what a failed Start managed to create.
func (a *App) cleanup() {
	if a.lifecycle != nil {
		a.lifecycle.Shutdown(context.Background(), "startup failed")
	} else if a.tracingShutdown != nil {
		a.tracingShutdown(context.Background())
	}
	if a.httpListener != nil {
		a.httpListener.Close()
	}
	if a.grpcListener != nil {
		a.grpcListener.Close()
	}
	a.markStopped()
}

// healthHandler reports liveness and the loaded dataset.
func (a *App) healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := a.engine.Snapshot()
		status, code := "healthy", http.StatusOK
		if a.lifecycle.IsShuttingDown() {
			status, code = "shutting_down", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     status,
			"service":    service,
			"dataset_id": snap.DatasetID,
			"spans":      len(snap.Spans),
			"generation": snap.Generation,
		})
	}
}
