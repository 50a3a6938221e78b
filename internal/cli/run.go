package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/causalverse/internal/config"
	"github.com/roach88/causalverse/internal/emergence"
	"github.com/roach88/causalverse/internal/journal"
	"github.com/roach88/causalverse/internal/universe"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Duration time.Duration // 0 runs until interrupted
	Out      string        // optional archive written on shutdown
}

// RunSummary is reported when the run command stops.
type RunSummary struct {
	Universe string              `json:"universe"`
	Stores   int                 `json:"stores"`
	Patterns []emergence.Pattern `json:"patterns"`
	Digest   string              `json:"digest"`
	Archive  string              `json:"archive,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <document>",
		Short: "Host a universe with journaling and emergence detection",
		Long: `Import a universe document and host it.

The universe is started, its events are appended to the configured journal,
and the emergence detector samples it at the configured interval. When a
metrics address is configured, detector metrics are served for Prometheus.
On shutdown the full universe state is checkpointed to the journal.

Example:
  causalverse run ./universe.json --config ./causalverse.yaml
  causalverse run ./universe.json.zst --duration 30s --out ./final.json.zst`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUniverse(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write a zstd archive of the final state")

	return cmd
}

func runUniverse(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	logger.Info("opening journal", "backend", cfg.Journal.Backend, "path", cfg.Journal.Path)
	j, err := cfg.Journal.OpenJournal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			logger.Error("error closing journal", "error", closeErr)
		}
	}()

	m, err := universe.Import(doc,
		universe.WithLogger(logger),
		universe.WithAutoRepair(cfg.Universe.AutoRepair),
		universe.WithMaxIterations(cfg.Universe.MaxIterations),
		universe.WithSink(journal.SinkFor(j, doc.UniverseID)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to import universe", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := m.Start(); err != nil {
		return WrapExitError(ExitCommandError, "failed to start universe", err)
	}

	det := emergence.New(m, emergence.WithLogger(logger))
	if err := det.Start(ctx, cfg.Emergence); err != nil {
		return WrapExitError(ExitCommandError, "failed to start emergence detector", err)
	}
	defer det.Stop()

	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics, det.Metrics())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	logger.Info("universe running", "universe", m.ID(), "stores", len(m.StoreKeys()))
	fmt.Fprintln(cmd.ErrOrStderr(), "Universe running. Press Ctrl-C to stop.")

	<-ctx.Done()
	det.Stop()

	if err := m.Pause(); err != nil {
		return WrapExitError(ExitFailure, "failed to pause universe", err)
	}
	// the parent context is done; the checkpoint gets its own
	checkpointCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := journal.Checkpoint(checkpointCtx, j, m); err != nil {
		return WrapExitError(ExitFailure, "failed to checkpoint universe", err)
	}

	final, err := m.Export()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to export universe", err)
	}
	digest, err := final.Digest()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest universe", err)
	}
	if opts.Out != "" {
		if err := journal.WriteArchiveFile(opts.Out, final); err != nil {
			return WrapExitError(ExitCommandError, "failed to write archive", err)
		}
	}
	logger.Info("universe stopped gracefully", "digest", digest)

	summary := RunSummary{
		Universe: m.ID(),
		Stores:   len(m.StoreKeys()),
		Patterns: det.Patterns(emergence.Filter{}),
		Digest:   digest,
		Archive:  opts.Out,
	}
	out := opts.formatter(cmd)
	return out.Result(summary, nil, func(w io.Writer) {
		fmt.Fprintf(w, "Universe %s stopped: %d stores, %d patterns\n", summary.Universe, summary.Stores, len(summary.Patterns))
		fmt.Fprintf(w, "Digest: %s\n", summary.Digest)
		if summary.Archive != "" {
			fmt.Fprintf(w, "Archive: %s\n", summary.Archive)
		}
	})
}

// metricsServer exposes the detector registry over HTTP.
func metricsServer(cfg config.MetricsConfig, metrics *emergence.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
