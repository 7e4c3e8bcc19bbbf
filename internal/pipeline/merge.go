package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"corrector/internal/apperrors"
	"corrector/internal/notify"
	"corrector/internal/stage"
	"corrector/internal/tools"
	"corrector/internal/worker"
)

const mergeStage = "merge"

// merge concatenates the per-partition exports and imports the result into
// the final corrected store, tagged with the target library's name. The
// whole step shares one marker: the import lands outside the scratch tree,
// so once the marker exists the output is in place and a rerun skips it.
//
// Partitions are concatenated in descending index order, which keeps the
// output ordering stable across reruns regardless of the order in which
// partitions finished.
func (o *Orchestrator) merge(ctx context.Context, libs *Libraries) error {
	marker := stage.MarkerPath(o.cfg.WorkDir, mergeStage)
	if stage.MarkerExists(marker) {
		o.logger.Info("Stage already complete", "stage", mergeStage)
		return nil
	}

	o.notifier.EmitStage(notify.EventStageStart, mergeStage)
	if o.metrics != nil {
		o.metrics.RecordStageStarted(ctx, mergeStage)
	}

	start := time.Now()
	err := o.doMerge(ctx, libs)
	if o.metrics != nil {
		o.metrics.RecordStageCompleted(ctx, mergeStage, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	if err := stage.WriteMarker(marker); err != nil {
		return apperrors.Internal("merge.writeMarker", err)
	}
	o.notifier.EmitStage(notify.EventStageComplete, mergeStage)
	return nil
}

func (o *Orchestrator) doMerge(ctx context.Context, libs *Libraries) error {
	fastaParts := make([]string, 0, o.plan.Partitions)
	qualParts := make([]string, 0, o.plan.Partitions)
	for p := o.plan.Partitions; p >= 1; p-- {
		fastaParts = append(fastaParts, filepath.Join(o.cfg.WorkDir, worker.FastaFile(p)))
		qualParts = append(qualParts, filepath.Join(o.cfg.WorkDir, worker.QualFile(p)))
	}

	fasta := filepath.Join(o.cfg.WorkDir, mergedFasta)
	if err := concat(fasta, fastaParts); err != nil {
		return err
	}
	qual := filepath.Join(o.cfg.WorkDir, mergedQual)
	if err := concat(qual, qualParts); err != nil {
		return err
	}

	return tools.Run(ctx, mergeStage, o.tools.Convert,
		"-import",
		"-fasta", fasta,
		"-qual", qual,
		"-library", libs.TargetName,
		"-output", o.cfg.Output,
	)
}

// concat writes the given parts into dst in order. Written to a temp file
// and renamed so a crash mid-concat never leaves a plausible-looking
// partial merge behind.
func concat(dst string, parts []string) error {
	tmp := fmt.Sprintf("%s.%d.tmp", dst, os.Getpid())
	out, err := os.Create(tmp)
	if err != nil {
		return apperrors.Internal("merge.concat", err)
	}

	for _, part := range parts {
		in, err := os.Open(part)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return apperrors.Internal("merge.concat", err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return apperrors.Internal("merge.concat", err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.Internal("merge.concat", err)
	}
	return os.Rename(tmp, dst)
}
