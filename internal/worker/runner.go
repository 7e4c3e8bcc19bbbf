package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"corrector/internal/apperrors"
	"corrector/internal/stage"
	"corrector/internal/tools"
)

// Runner executes the consensus step for single partitions of one run.
type Runner struct {
	dir   string
	tools *tools.Set
}

// NewRunner loads the worker spec from the work directory.
func NewRunner(dir string) (*Runner, error) {
	spec, err := LoadSpec(dir)
	if err != nil {
		return nil, err
	}
	return &Runner{dir: dir, tools: tools.Resolve(spec.Tools)}, nil
}

// Run executes consensus for one partition: build the partition store from
// its layout, call consensus, export sequence and quality, then write the
// completion marker. The marker is written last and atomically, so its
// presence guarantees the exported files are whole.
//
// A partition whose marker already exists is skipped without touching any
// file, which makes grid task-array reruns harmless.
func (r *Runner) Run(ctx context.Context, partition int) error {
	logger := slog.With("component", "worker", "partition", partition)

	marker := stage.TaskMarkerPath(r.dir, StageName, partition)
	if stage.MarkerExists(marker) {
		logger.Info("Partition already complete, skipping")
		return nil
	}

	layout := filepath.Join(r.dir, LayoutFile(partition))
	if _, err := os.Stat(layout); err != nil {
		return apperrors.Validation("layout", fmt.Sprintf("partition %d layout missing: %v", partition, err))
	}

	// A bank left behind by a crashed attempt is stale; the layout is the
	// source of truth, so rebuild from scratch.
	bank := filepath.Join(r.dir, BankDir(partition))
	if err := os.RemoveAll(bank); err != nil {
		return apperrors.Internal("worker.cleanBank", err)
	}

	start := time.Now()
	logger.Info("Partition consensus starting")

	if err := tools.Run(ctx, StageName, r.tools.Bank, "-layout", layout, "-bank", bank); err != nil {
		return err
	}
	if err := tools.Run(ctx, StageName, r.tools.Consensus, "-bank", bank); err != nil {
		return err
	}

	fasta := filepath.Join(r.dir, FastaFile(partition))
	qual := filepath.Join(r.dir, QualFile(partition))
	if err := tools.Run(ctx, StageName, r.tools.Export, "-bank", bank, "-fasta", fasta, "-qual", qual); err != nil {
		return err
	}

	// The bank is an intermediate; only the exports and the marker survive.
	if err := os.RemoveAll(bank); err != nil {
		logger.Warn("Failed to remove partition bank", "error", err)
	}

	if err := stage.WriteMarker(marker); err != nil {
		return apperrors.Internal("worker.writeMarker", err)
	}

	logger.Info("Partition consensus complete", "duration", time.Since(start))
	return nil
}
