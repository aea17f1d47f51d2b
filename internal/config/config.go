// Package config provides configuration for the spanlens services.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SPANLENS_"

// Config holds the configuration for the spanlens server.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir" env:"DATA_DIR"`

	HTTP    HTTPConfig    `json:"http" yaml:"http" toml:"http" envPrefix:"HTTP_"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc" toml:"grpc" envPrefix:"GRPC_"`
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Watch   WatchConfig   `json:"watch" yaml:"watch" toml:"watch" envPrefix:"WATCH_"`
	Engine  EngineConfig  `json:"engine" yaml:"engine" toml:"engine" envPrefix:"ENGINE_"`
	Export  ExportConfig  `json:"export" yaml:"export" toml:"export" envPrefix:"EXPORT_"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing" envPrefix:"TRACING_"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// StatsWindow is how long call statistics are retained
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window" toml:"stats_window" env:"STATS_WINDOW"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout" env:"IDLE_TIMEOUT"`

	// MaxImportBytes caps import request bodies
	MaxImportBytes int64 `json:"max_import_bytes" yaml:"max_import_bytes" toml:"max_import_bytes" env:"MAX_IMPORT_BYTES"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// StorageConfig holds export storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" toml:"type" env:"TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" toml:"path" env:"PATH"`

	S3 S3Config `json:"s3" yaml:"s3" toml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket" env:"BUCKET"`
	Region string `json:"region" yaml:"region" toml:"region" env:"REGION"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint     string `json:"endpoint" yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" toml:"use_path_style" env:"USE_PATH_STYLE"`
}

// WatchConfig configures reloading a log file when it changes.
type WatchConfig struct {
	// Path is the file to load and watch; empty disables watching
	Path     string        `json:"path" yaml:"path" toml:"path" env:"PATH"`
	Debounce time.Duration `json:"debounce" yaml:"debounce" toml:"debounce" env:"DEBOUNCE"`
}

// EngineConfig holds the analysis tunables. Times are milliseconds.
type EngineConfig struct {
	GapThreshold      float64       `json:"gap_threshold_ms" yaml:"gap_threshold_ms" toml:"gap_threshold_ms" env:"GAP_THRESHOLD_MS"`
	PathTolerance     float64       `json:"path_tolerance_ms" yaml:"path_tolerance_ms" toml:"path_tolerance_ms" env:"PATH_TOLERANCE_MS"`
	PaddingRatio      float64       `json:"padding_ratio" yaml:"padding_ratio" toml:"padding_ratio" env:"PADDING_RATIO"`
	DefaultRangeStart float64       `json:"default_range_start_ms" yaml:"default_range_start_ms" toml:"default_range_start_ms" env:"DEFAULT_RANGE_START_MS"`
	DefaultRangeEnd   float64       `json:"default_range_end_ms" yaml:"default_range_end_ms" toml:"default_range_end_ms" env:"DEFAULT_RANGE_END_MS"`
	SearchDebounce    time.Duration `json:"search_debounce" yaml:"search_debounce" toml:"search_debounce" env:"SEARCH_DEBOUNCE"`
	WarningLogSize    int           `json:"warning_log_size" yaml:"warning_log_size" toml:"warning_log_size" env:"WARNING_LOG_SIZE"`
	MemoEntries       int           `json:"memo_entries" yaml:"memo_entries" toml:"memo_entries" env:"MEMO_ENTRIES"`
}

// ExportConfig holds export rendering configuration.
type ExportConfig struct {
	// TempDir holds archives while they are built
	TempDir string `json:"temp_dir" yaml:"temp_dir" toml:"temp_dir" env:"TEMP_DIR"`
	Width   int    `json:"width" yaml:"width" toml:"width" env:"WIDTH"`
	Height  int    `json:"height" yaml:"height" toml:"height" env:"HEIGHT"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `json:"service_name" yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" toml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/spanlens",
		HTTP: HTTPConfig{
			Addr:           ":8090",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxImportBytes: 64 << 20,
		},
		GRPC: GRPCConfig{
			Addr:    ":9095",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Engine: EngineConfig{
			GapThreshold:      100,
			PathTolerance:     100,
			PaddingRatio:      0.05,
			DefaultRangeStart: 0,
			DefaultRangeEnd:   1000,
			SearchDebounce:    300 * time.Millisecond,
			WarningLogSize:    100,
			MemoEntries:       16,
		},
		Export: ExportConfig{
			Width: 1200,
		},
		Tracing: TracingConfig{
			ServiceName: "spanlens",
			SampleRatio: 1,
		},
		ShutdownTimeout: 30 * time.Second,
		StatsWindow:     time.Hour,
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/spanlens"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Export.TempDir == "" {
		c.Export.TempDir = filepath.Join(c.DataDir, "tmp")
	}
	if c.Watch.Path != "" {
		if abs, err := filepath.Abs(c.Watch.Path); err == nil {
			c.Watch.Path = abs
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	e := c.Engine
	if e.GapThreshold < 0 || e.PathTolerance < 0 {
		return fmt.Errorf("engine thresholds must not be negative")
	}
	if e.PaddingRatio < 0 || e.PaddingRatio > 1 {
		return fmt.Errorf("engine.padding_ratio must be between 0 and 1, got %g", e.PaddingRatio)
	}
	if e.DefaultRangeEnd <= e.DefaultRangeStart {
		return fmt.Errorf("engine default range is empty: [%g, %g]", e.DefaultRangeStart, e.DefaultRangeEnd)
	}
	if e.WarningLogSize < 1 {
		return fmt.Errorf("engine.warning_log_size must be positive, got %d", e.WarningLogSize)
	}

	if c.StatsWindow <= 0 {
		return fmt.Errorf("stats_window must be positive, got %v", c.StatsWindow)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", c.Tracing.SampleRatio)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays SPANLENS_* environment variables onto cfg, e.g.
// SPANLENS_HTTP_ADDR or SPANLENS_STORAGE_S3_BUCKET.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv exports the variables in a .env file into the process
// environment without overriding variables already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional file, overlays the environment, then resolves
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Export.TempDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
