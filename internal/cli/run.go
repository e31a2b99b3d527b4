package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tempograph/internal/engine"
	"github.com/roach88/tempograph/internal/harness"
	"github.com/roach88/tempograph/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// MetricsAddr overrides metrics.addr. Empty disables the endpoint.
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve requests from stdin",
		Long: `Start the single-writer engine loop and serve JSON requests, one per
line on stdin. Each request gets one JSON response line on stdout, in
order. The loop stops at end of input or on Ctrl-C.

Requests name an op and its fields:
  {"op":"set_stat","entity":"world/hero","key":"hp","value":10}
  {"op":"time_travel","turn":2}
  {"op":"new_branch","branch":"what-if","turn":1}
  {"op":"start_plan"}  {"op":"commit_plan"}  {"op":"discard_plan"}

Example:
  tempograph run --db ./world.db --metrics-addr :9090 < requests.jsonl`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				return runServe(ctx, s, opts, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runServe(parent context.Context, s *session, opts *RunOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.Metrics.Addr
	}
	if addr != "" {
		stop, err := serveMetrics(addr, s)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics endpoint", err)
		}
		defer stop()
	}

	s.logger.Info("serving requests", "now", s.engine.Now().String())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.engine.Serve(ctx) }()

	lines := readLines(ctx, cmd.InOrStdin())
	client := s.engine.Client()
	enc := json.NewEncoder(cmd.OutOrStdout())
	served := 0

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := enc.Encode(handleLine(ctx, client, line)); err != nil {
				cancel()
				<-serveErr
				return WrapExitError(ExitCommandError, "failed to write response", err)
			}
			served++
		}
	}

	s.engine.Stop()
	err := <-serveErr
	s.logger.Info("engine stopped", "requests", served)
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}

// handleLine decodes one request line and runs it.
func handleLine(ctx context.Context, client *engine.Client, line []byte) Envelope {
	var req engine.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errEnvelope("BAD_REQUEST", fmt.Sprintf("decode request: %v", err), nil)
	}
	resp, err := client.Call(ctx, req)
	if err != nil {
		return errEnvelope(harness.ErrorCode(err), err.Error(), nil)
	}
	return okEnvelope(resp)
}

// readLines streams non-empty lines of r until EOF or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			select {
			case out <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown.
func serveMetrics(addr string, s *session) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	s.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics endpoint shutdown", "error", err)
		}
	}, nil
}
