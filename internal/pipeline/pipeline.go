// Package pipeline drives a correction run from raw reads to a corrected
// read store. Stages run strictly in order and each one is guarded by a
// completion marker, so an interrupted run resumes exactly where it
// stopped when invoked again with the same work directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"corrector/internal/apperrors"
	"corrector/internal/config"
	"corrector/internal/dispatch"
	"corrector/internal/notify"
	"corrector/internal/observability"
	"corrector/internal/planner"
	"corrector/internal/stage"
	"corrector/internal/tools"
	"corrector/internal/worker"
)

// Scratch file names inside the work directory.
const (
	readsFile    = "reads.rec"
	storeDir     = "reads.store"
	overlapsFile = "overlaps.ovl"
	layoutPrefix = "layout"
	mergedFasta  = "corrected.fasta"
	mergedQual   = "corrected.qual"
)

// Options wires an orchestrator's collaborators.
type Options struct {
	Config    *config.Run
	Plan      planner.Plan
	Backend   dispatch.Backend
	Tools     *tools.Set
	Notifier  *notify.Notifier
	Metrics   *observability.Metrics // nil disables recording
	WorkerBin string                 // partition-worker binary for the consensus stage
}

// Orchestrator runs the stage sequence for one correction run.
type Orchestrator struct {
	cfg       *config.Run
	plan      planner.Plan
	backend   dispatch.Backend
	tools     *tools.Set
	notifier  *notify.Notifier
	metrics   *observability.Metrics
	workerBin string
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:       opts.Config,
		plan:      opts.Plan,
		backend:   opts.Backend,
		tools:     opts.Tools,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		workerBin: opts.WorkerBin,
		logger:    slog.With("component", "pipeline"),
	}
}

// Run executes the full stage sequence. The first stage error aborts the
// run; completed stages keep their markers so the next invocation resumes
// past them.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()

	if err := os.MkdirAll(o.cfg.WorkDir, 0o755); err != nil {
		return apperrors.Internal("pipeline.workdir", err)
	}

	o.logger.Info("Run starting",
		"workDir", o.cfg.WorkDir,
		"inputs", len(o.cfg.Inputs),
		"partitions", o.plan.Partitions,
		"threads", o.plan.Threads,
	)
	o.notifier.Emit(notify.EventRunStart, map[string]any{
		"workDir":    o.cfg.WorkDir,
		"partitions": o.plan.Partitions,
	})

	if err := o.run(ctx); err != nil {
		o.notifier.Emit(notify.EventRunFailed, map[string]any{"error": err.Error()})
		return err
	}

	if o.cfg.CleanupEnabled() {
		o.logger.Info("Removing scratch tree", "workDir", o.cfg.WorkDir)
		if err := os.RemoveAll(o.cfg.WorkDir); err != nil {
			// The output store is already in place; a lingering scratch
			// tree is not worth failing the run over.
			o.logger.Warn("Failed to remove scratch tree", "error", err)
		}
	}

	o.logger.Info("Run complete", "output", o.cfg.Output, "duration", time.Since(start))
	o.notifier.Emit(notify.EventRunComplete, map[string]any{
		"output":          o.cfg.Output,
		"durationSeconds": time.Since(start).Seconds(),
	})
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	// Consensus workers pick their tool locations up from the work
	// directory; on a grid that is the only channel to the exec host.
	if err := worker.WriteSpec(o.cfg.WorkDir, &worker.Spec{Tools: o.cfg.Tools}); err != nil {
		return err
	}

	if err := o.runStage(ctx, o.convertStage()); err != nil {
		return err
	}
	if err := o.runStage(ctx, o.buildStoreStage()); err != nil {
		return err
	}

	// Classification is a cheap read-only query, so it reruns on every
	// invocation rather than carrying a marker.
	libs, err := classifyLibraries(ctx, o.tools, o.storePath())
	if err != nil {
		return err
	}
	o.logger.Info("Libraries classified",
		"target", libs.TargetName, "refLo", libs.RefLo, "refHi", libs.RefHi)

	if err := o.runStage(ctx, o.overlapStage(libs)); err != nil {
		return err
	}
	if err := o.runStage(ctx, o.correctStage()); err != nil {
		return err
	}
	if err := o.runConsensus(ctx); err != nil {
		return err
	}
	return o.merge(ctx, libs)
}

// runConsensus runs the partition workers and counts each newly observed
// partition marker, so the completion counter tracks partitions that
// actually finished, on failed runs included.
func (o *Orchestrator) runConsensus(ctx context.Context) error {
	before := o.completedPartitions()
	err := o.runStage(ctx, o.consensusStage())
	if o.metrics != nil {
		for range o.completedPartitions() - before {
			o.metrics.RecordPartitionCompleted(ctx)
		}
	}
	return err
}

// completedPartitions counts partitions whose consensus marker is on disk.
func (o *Orchestrator) completedPartitions() int {
	done := 0
	for p := 1; p <= o.plan.Partitions; p++ {
		if stage.MarkerExists(stage.TaskMarkerPath(o.cfg.WorkDir, worker.StageName, p)) {
			done++
		}
	}
	return done
}

// runStage wraps stage execution with events and metrics. Stages that are
// already complete are skipped silently: a resumed run reports only the
// work it actually performs.
func (o *Orchestrator) runStage(ctx context.Context, s *stage.Stage) error {
	if s.Complete() {
		o.logger.Info("Stage already complete", "stage", s.Name)
		return nil
	}

	o.notifier.EmitStage(notify.EventStageStart, s.Name)
	if o.metrics != nil {
		o.metrics.RecordStageStarted(ctx, s.Name)
	}

	start := time.Now()
	err := s.Run(ctx, o.backend)
	if o.metrics != nil {
		o.metrics.RecordStageCompleted(ctx, s.Name, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	o.notifier.EmitStage(notify.EventStageComplete, s.Name)
	return nil
}

func (o *Orchestrator) storePath() string {
	return filepath.Join(o.cfg.WorkDir, storeDir)
}

// convertStage turns every raw input into the internal record format.
func (o *Orchestrator) convertStage() *stage.Stage {
	args := fmt.Sprintf("%q -output %s", o.tools.Convert, readsFile)
	for _, in := range o.cfg.Inputs {
		args += fmt.Sprintf(" %q", in)
	}
	return &stage.Stage{
		Name:     "convert",
		Dir:      o.cfg.WorkDir,
		Commands: []string{args},
	}
}

// buildStoreStage loads the converted records into the read store.
func (o *Orchestrator) buildStoreStage() *stage.Stage {
	return &stage.Stage{
		Name: "buildstore",
		Dir:  o.cfg.WorkDir,
		Commands: []string{
			fmt.Sprintf("%q -reads %s -store %s -threads %d",
				o.tools.BuildStore, readsFile, storeDir, o.plan.Threads),
		},
	}
}

// overlapStage computes overlaps between the correction library and the
// contiguous reference range.
func (o *Orchestrator) overlapStage(libs *Libraries) *stage.Stage {
	return &stage.Stage{
		Name: "overlap",
		Dir:  o.cfg.WorkDir,
		Commands: []string{
			fmt.Sprintf("%q -store %s -overlap %s -hash %d -ref %d-%d -errrate %g -threads %d",
				o.tools.BuildStore, storeDir, overlapsFile,
				libs.Target, libs.RefLo, libs.RefHi,
				o.cfg.MaxErrorRate, o.plan.Threads),
		},
	}
}

// correctStage computes the corrected layouts, one file per partition.
func (o *Orchestrator) correctStage() *stage.Stage {
	return &stage.Stage{
		Name: "correct",
		Dir:  o.cfg.WorkDir,
		Commands: []string{
			fmt.Sprintf("%q -store %s -overlaps %s -output %s -partitions %d -threads %d -minlen %d -errrate %g",
				o.tools.Layout, storeDir, overlapsFile, layoutPrefix,
				o.plan.Partitions, o.plan.Threads,
				o.cfg.MinReadLength, o.cfg.MaxErrorRate),
		},
	}
}

// consensusStage runs the partition worker once per partition. The worker
// writes its own marker after its exports are whole, so the wrapper only
// carries the early-exit check.
func (o *Orchestrator) consensusStage() *stage.Stage {
	return &stage.Stage{
		Name:        worker.StageName,
		Dir:         o.cfg.WorkDir,
		Tasks:       o.plan.Partitions,
		SelfMarking: true,
		Commands: []string{
			fmt.Sprintf("%q -dir %q -partition \"$task\"", o.workerBin, o.cfg.WorkDir),
		},
	}
}
