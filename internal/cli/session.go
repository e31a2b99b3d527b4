package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/config"
	"github.com/roach88/tempograph/internal/engine"
	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/kvstore"
	"github.com/roach88/tempograph/internal/memstore"
	"github.com/roach88/tempograph/internal/observability"
	"github.com/roach88/tempograph/internal/store"
)

// session is one opened engine plus the process plumbing around it.
type session struct {
	cfg      config.Config
	engine   *engine.Engine
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// loadConfig applies the global flags on top of config.Load.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog handler named by cfg. Logs go to w so that
// stdout stays clean for command output.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// openBackend opens the storage backend cfg selects.
func openBackend(cfg config.StorageConfig, logger *slog.Logger) (engine.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.Path, store.WithSyncWrites(cfg.SyncWrites))
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger:
		kvCfg := kvstore.DefaultConfig(cfg.Path)
		kvCfg.SyncWrites = cfg.SyncWrites
		kvCfg.GCInterval = cfg.GCInterval
		kvCfg.Logger = logger
		st, err := kvstore.Open(kvCfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openSession loads config, installs logging and tracing, and opens the
// engine. The caller must Close the session.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	ctx := commandContext(cmd)
	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, cmd.ErrOrStderr(), logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize tracing", err)
	}

	logger.Debug("opening backend", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)
	backend, err := openBackend(cfg.Storage, logger)
	if err != nil {
		observability.ShutdownWithTimeout(ctx, shutdown, logger)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng, err := engine.Open(ctx, backend,
		engine.WithLogger(logger),
		engine.WithRootBranch(cfg.Timeline.RootBranch),
		engine.WithPlanMode(cfg.Plan.Mode),
	)
	if err != nil {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
		observability.ShutdownWithTimeout(ctx, shutdown, logger)
		return nil, WrapExitError(ExitCommandError, "failed to open engine", err)
	}

	return &session{cfg: cfg, engine: eng, logger: logger, shutdown: shutdown}, nil
}

// Close persists the cursor, closes the backend and flushes spans.
func (s *session) Close(ctx context.Context) error {
	err := s.engine.Close(ctx)
	observability.ShutdownWithTimeout(ctx, s.shutdown, s.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to close engine", err)
	}
	return nil
}

// withSession runs fn against an opened session and closes it after, even
// when the command context was cancelled. A close failure is reported
// only when fn succeeded.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	runErr := fn(ctx, s)
	closeErr := s.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// parseEntity parses a command-line entity reference.
func parseEntity(s string) (ir.EntityRef, error) {
	ref, err := ir.ParseEntityRef(s)
	if err != nil {
		return ir.EntityRef{}, WrapExitError(ExitCommandError, "invalid entity", err)
	}
	return ref, nil
}

// parseAt parses --at, filling in the current branch when omitted.
func parseAt(s string, now ir.Time) (ir.Time, error) {
	t, err := ir.ParseTime(s)
	if err != nil {
		return ir.Time{}, WrapExitError(ExitCommandError, "invalid time", err)
	}
	if t.Branch == "" {
		t.Branch = now.Branch
	}
	return t, nil
}

// engineError maps engine failures onto exit codes: storage failures are
// command errors, everything else is a failed operation.
func engineError(message string, err error) error {
	if ir.IsStorageError(err) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
