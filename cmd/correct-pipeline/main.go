// correct-pipeline drives a sequencing-read correction run: it converts
// raw reads into a store, overlaps the correction library against its
// references, computes per-partition layouts, runs consensus workers
// through the configured backend, and merges the results into a corrected
// store. Rerunning the same work directory resumes after the last
// completed stage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"corrector/internal/apperrors"
	"corrector/internal/config"
	"corrector/internal/dispatch"
	"corrector/internal/notify"
	"corrector/internal/observability"
	"corrector/internal/pipeline"
	"corrector/internal/planner"
	"corrector/internal/preflight"
	"corrector/internal/tools"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	runFile := flag.String("run", "", "run configuration file (YAML)")
	workerBin := flag.String("worker-bin", "", "partition-worker binary (default: next to this binary)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load(*runFile)
	if err != nil {
		return err
	}

	// The work directory must exist before preflight probes it.
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return apperrors.Internal("workdir", err)
	}

	// Metrics are optional: no port, no listener, no recording.
	var metrics *observability.Metrics
	var metricsServer *http.Server
	if cfg.MetricsPort != "" {
		var handler http.Handler
		metrics, handler, err = observability.NewMetrics(ctx)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", handler)
		metricsServer = &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Starting metrics server", "port", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	notifier, err := newNotifier(cfg, metrics)
	if err != nil {
		return err
	}

	ceiling, err := planner.DescriptorCeiling()
	if err != nil {
		return apperrors.Internal("planner.rlimit", err)
	}
	plan := planner.Compute(cfg.Partitions, cfg.Threads, ceiling)
	slog.Info("Partition plan",
		"partitions", plan.Partitions, "threads", plan.Threads, "ceiling", plan.DescriptorCeiling)

	backend, err := newBackend(cfg, plan, metrics)
	if err != nil {
		return err
	}
	defer backend.Close()

	toolSet := tools.Resolve(cfg.Tools)

	checker := preflight.NewChecker(backend, toolSet, cfg.WorkDir)
	// In container mode the tools live in the image, not on this host.
	checker.SkipTools = cfg.Backend() == config.BackendContainer
	if report := checker.Run(ctx); !report.OK() {
		name, check, _ := report.FirstFailure()
		return apperrors.Validation(name, check.Message)
	}

	worker, err := resolveWorkerBin(*workerBin)
	if err != nil {
		return err
	}

	orc := pipeline.New(pipeline.Options{
		Config:    cfg,
		Plan:      plan,
		Backend:   backend,
		Tools:     toolSet,
		Notifier:  notifier,
		Metrics:   metrics,
		WorkerBin: worker,
	})
	runErr := orc.Run(ctx)

	// Teardown: flush callbacks, then stop the metrics listener.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := notifier.Close(drainCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	return runErr
}

// newNotifier builds the callback notifier; without a URL it is inert.
func newNotifier(cfg *config.Run, metrics *observability.Metrics) (*notify.Notifier, error) {
	var key string
	if cfg.Notify.KeyFile != "" {
		key = config.GetSecretFile(cfg.Notify.KeyFile)
		if key == "" {
			return nil, apperrors.Validation("notify.keyFile",
				fmt.Sprintf("cannot read signing key from %s", cfg.Notify.KeyFile))
		}
	}

	runID := filepath.Base(cfg.WorkDir)
	return notify.New(runID, notify.Config{
		URL:        cfg.Notify.URL,
		SigningKey: key,
		Events:     cfg.Notify.Events,
	}, metrics), nil
}

// newBackend builds the dispatch backend the configuration selects.
func newBackend(cfg *config.Run, plan planner.Plan, metrics *observability.Metrics) (dispatch.Backend, error) {
	switch cfg.Backend() {
	case config.BackendGrid:
		slog.Info("Using grid backend", "submit", cfg.Grid.Submit)
		return dispatch.NewGrid(cfg.Grid.Submit, cfg.Grid.Options), nil
	case config.BackendContainer:
		slog.Info("Using container backend", "image", cfg.Container.Image)
		return dispatch.NewContainer(cfg.Container.Image, cfg.Container.Concurrency)
	default:
		slog.Info("Using local backend", "concurrency", plan.Threads)
		// A typed nil would still satisfy the recorder interface; hand the
		// pool an untyped nil when metrics are disabled.
		if metrics == nil {
			return dispatch.NewLocal(plan.Threads, nil), nil
		}
		return dispatch.NewLocal(plan.Threads, metrics), nil
	}
}

// resolveWorkerBin locates the partition-worker binary: an explicit flag
// wins, then a sibling of this executable, then PATH.
func resolveWorkerBin(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "partition-worker")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath("partition-worker")
	if err != nil {
		return "", apperrors.Validation("workerBin",
			"partition-worker binary not found next to this binary or on PATH")
	}
	return path, nil
}
