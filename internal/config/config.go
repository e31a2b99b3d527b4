// Package config loads tempograph's settings.
//
// Precedence, lowest first: built-in defaults, the YAML (or JSON) file,
// TEMPOGRAPH_* environment variables, then command-line flags applied by
// the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tempograph/internal/ir"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// PlanMode decides what closing a plan scope without error does.
type PlanMode string

const (
	// PlanDiscard drops the plan's writes unless committed explicitly.
	PlanDiscard PlanMode = "discard"
	// PlanCommit folds the plan's writes into the main timeline.
	PlanCommit PlanMode = "commit"
)

// Config is the full configuration.
type Config struct {
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Timeline TimelineConfig `json:"timeline" yaml:"timeline"`
	Plan     PlanConfig     `json:"plan" yaml:"plan"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend    string        `json:"backend" yaml:"backend"`
	Path       string        `json:"path" yaml:"path"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
}

// TimelineConfig names the root branch.
type TimelineConfig struct {
	RootBranch string `json:"root_branch" yaml:"root_branch"`
}

// PlanConfig sets the end-of-scope behavior of plans.
type PlanConfig struct {
	Mode PlanMode `json:"mode" yaml:"mode"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			Path:       "tempograph.db",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Timeline: TimelineConfig{RootBranch: ir.DefaultRootBranch},
		Plan:     PlanConfig{Mode: PlanDiscard},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: "tempograph",
			SampleRate:  1.0,
		},
	}
}

// Load returns defaults overlaid with the file at path (if non-empty) and
// the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// JSON documents are YAML too, so one strict decoder covers both.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadEnv applies TEMPOGRAPH_* overrides. Malformed values are errors
// rather than silently ignored.
func loadEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("TEMPOGRAPH_BACKEND", &cfg.Storage.Backend)
	str("TEMPOGRAPH_DB", &cfg.Storage.Path)
	boolean("TEMPOGRAPH_SYNC_WRITES", &cfg.Storage.SyncWrites)
	if v, ok := lookup("TEMPOGRAPH_GC_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TEMPOGRAPH_GC_INTERVAL: %w", err))
		} else {
			cfg.Storage.GCInterval = d
		}
	}
	str("TEMPOGRAPH_ROOT_BRANCH", &cfg.Timeline.RootBranch)
	if v, ok := lookup("TEMPOGRAPH_PLAN_MODE"); ok && v != "" {
		cfg.Plan.Mode = PlanMode(v)
	}
	str("TEMPOGRAPH_LOG_LEVEL", &cfg.Logging.Level)
	str("TEMPOGRAPH_LOG_FORMAT", &cfg.Logging.Format)
	boolean("TEMPOGRAPH_TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("TEMPOGRAPH_SERVICE_NAME", &cfg.Tracing.ServiceName)
	if v, ok := lookup("TEMPOGRAPH_TRACE_SAMPLE_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TEMPOGRAPH_TRACE_SAMPLE_RATE: %w", err))
		} else {
			cfg.Tracing.SampleRate = f
		}
	}
	str("TEMPOGRAPH_METRICS_ADDR", &cfg.Metrics.Addr)
	return errors.Join(errs...)
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, badger, memory; got %q", c.Storage.Backend)
	}
	if c.Storage.GCInterval < 0 {
		return fmt.Errorf("storage.gc_interval must be >= 0")
	}
	if c.Timeline.RootBranch == "" {
		return fmt.Errorf("timeline.root_branch must not be empty")
	}
	switch c.Plan.Mode {
	case PlanDiscard, PlanCommit:
	default:
		return fmt.Errorf("plan.mode must be discard or commit; got %q", c.Plan.Mode)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be debug, info, warn or error; got %q", s)
	}
}
