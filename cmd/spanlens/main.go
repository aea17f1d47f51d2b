// Package main implements the spanlens server binary.
// It serves the timeline engine over HTTP and, optionally, gRPC, and can
// keep a log file loaded as it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/spanlens/spanlens/internal/app"
	"github.com/spanlens/spanlens/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// flags holds command line overrides. Empty values leave the file and
// environment settings alone.
type flags struct {
	configFile string
	envFile    string
	dataDir    string
	httpAddr   string
	grpcAddr   string
	noGRPC     bool
	watchPath  string
	storage    string
}

func main() {
	var (
		f           flags
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML, JSON or TOML)")
	flag.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before SPANLENS_* variables are read")
	flag.StringVar(&f.dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&f.httpAddr, "http-addr", "", "HTTP server address")
	flag.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC server address")
	flag.BoolVar(&f.noGRPC, "no-grpc", false, "Disable the gRPC server")
	flag.StringVar(&f.watchPath, "watch", "", "Log file to load and reload on change")
	flag.StringVar(&f.storage, "storage", "", "Export storage type: local, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "spanlens - timeline reconstruction and analytics server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: spanlens [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  spanlens --data-dir /data/spanlens\n")
		fmt.Fprintf(os.Stderr, "  spanlens --watch ./scenario.json --no-grpc\n")
		fmt.Fprintf(os.Stderr, "  spanlens --config /etc/spanlens/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_DATA_DIR             Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_HTTP_ADDR            HTTP server address\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_GRPC_ADDR            gRPC server address\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_GRPC_ENABLED         Enable the gRPC server (true/false)\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_WATCH_PATH           Log file to watch\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_STORAGE_TYPE         Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_STORAGE_S3_BUCKET    S3 bucket for exports\n")
		fmt.Fprintf(os.Stderr, "  SPANLENS_TRACING_ENDPOINT     OTLP/HTTP endpoint\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("spanlens version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.Wait(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if f.configFile != "" {
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Command line flags have the highest priority.
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.GRPC.Addr = f.grpcAddr
	}
	if f.noGRPC {
		cfg.GRPC.Enabled = false
	}
	if f.watchPath != "" {
		cfg.Watch.Path = f.watchPath
	}
	if f.storage != "" {
		cfg.Storage.Type = f.storage
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("spanlens %s", version)
	log.Printf("Configuration:")
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC:     %s", cfg.GRPC.Addr)
	}
	if cfg.Watch.Path != "" {
		log.Printf("  Watch:    %s (debounce %v)", cfg.Watch.Path, cfg.Watch.Debounce)
	}
	if cfg.Tracing.Enabled {
		log.Printf("  Tracing:  %s", cfg.Tracing.Endpoint)
	}
	log.Printf("")
}
