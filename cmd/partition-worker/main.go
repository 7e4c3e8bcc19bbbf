// partition-worker runs the consensus step for one partition of a
// correction run. The driver dispatches it through the configured backend;
// on a grid it is invoked by the stage wrapper on whatever node the
// scheduler picked, reading its parameters from the shared work directory.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"corrector/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Partition worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "", "run work directory")
	partition := flag.Int("partition", 0, "partition index (default: SGE_TASK_ID)")
	flag.Parse()

	if *dir == "" {
		slog.Error("-dir is required")
		os.Exit(2)
	}

	// Grid task arrays pass the index through the environment.
	p := *partition
	if p == 0 {
		if id := os.Getenv("SGE_TASK_ID"); id != "" && id != "undefined" {
			parsed, err := strconv.Atoi(id)
			if err != nil {
				slog.Error("Invalid SGE_TASK_ID", "value", id)
				os.Exit(2)
			}
			p = parsed
		}
	}
	if p < 1 {
		slog.Error("No partition index given via -partition or SGE_TASK_ID")
		os.Exit(2)
	}

	runner, err := worker.NewRunner(*dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	return runner.Run(ctx, p)
}
