// Package stage provides the idempotent unit of pipeline work. A stage
// checks its completion marker, generates an executable wrapper if one is
// not already on disk, dispatches it through a backend, and verifies the
// expected markers afterwards. A stage whose marker already exists performs
// no external invocation at all, which is what makes the whole pipeline
// safely resumable after interruption.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"corrector/internal/apperrors"
	"corrector/internal/dispatch"
)

// Stage is a named, idempotent unit of work with a completion marker.
type Stage struct {
	Name string // marker and wrapper file prefix; also the dispatch job name
	Dir  string // working directory; wrapper and markers live here

	// Tasks > 1 dispatches the wrapper once per partition index 1..Tasks
	// and requires one marker per index. Otherwise the stage is a single
	// invocation with a single marker.
	Tasks int

	// Commands are the shell lines the wrapper executes. Arrayed stages
	// may reference the partition index as $task.
	Commands []string

	// SelfMarking stages run commands that write their own per-invocation
	// marker (the partition worker does this atomically). The wrapper then
	// only performs the early-exit marker check.
	SelfMarking bool
}

// ScriptPath returns the wrapper location. Deleting the wrapper is the
// manual lever to force regeneration after a failure.
func (s *Stage) ScriptPath() string {
	return filepath.Join(s.Dir, s.Name+".sh")
}

func (s *Stage) arrayed() bool {
	return s.Tasks > 1
}

// Complete reports whether the stage already finished in a prior run.
func (s *Stage) Complete() bool {
	if MarkerExists(MarkerPath(s.Dir, s.Name)) {
		return true
	}
	if !s.arrayed() {
		return false
	}
	for i := 1; i <= s.Tasks; i++ {
		if !MarkerExists(TaskMarkerPath(s.Dir, s.Name, i)) {
			return false
		}
	}
	return true
}

// Run drives the stage state machine: marker check, wrapper generation,
// dispatch, marker verification. A missing marker after dispatch is fatal
// and the error names the artifact to remove before retrying.
func (s *Stage) Run(ctx context.Context, backend dispatch.Backend) error {
	logger := slog.With("component", "stage", "stage", s.Name)

	if s.Complete() {
		logger.Info("Stage already complete, skipping")
		return nil
	}

	if err := s.writeWrapper(); err != nil {
		return apperrors.Internal("stage.writeWrapper", err)
	}

	logger.Info("Dispatching stage", "tasks", s.Tasks)
	job := dispatch.Job{Name: s.Name, Script: s.ScriptPath(), Dir: s.Dir, Tasks: s.Tasks}
	if err := backend.Dispatch(ctx, job); err != nil {
		return err
	}

	if err := s.verify(); err != nil {
		return err
	}

	// Collapse an arrayed stage to one stage-level marker so reruns skip
	// without probing every partition.
	if s.arrayed() {
		if err := WriteMarker(MarkerPath(s.Dir, s.Name)); err != nil {
			return apperrors.Internal("stage.writeMarker", err)
		}
	}

	logger.Info("Stage complete")
	return nil
}

// verify checks the expected markers after dispatch returned.
func (s *Stage) verify() error {
	if !s.arrayed() {
		if !MarkerExists(MarkerPath(s.Dir, s.Name)) {
			return apperrors.Incomplete(s.Name, s.ScriptPath(), "success marker missing")
		}
		return nil
	}

	var missing []string
	for i := 1; i <= s.Tasks; i++ {
		if !MarkerExists(TaskMarkerPath(s.Dir, s.Name, i)) {
			missing = append(missing, fmt.Sprintf("%d", i))
		}
	}
	if len(missing) > 0 {
		detail := fmt.Sprintf("markers missing for partitions %s", strings.Join(missing, ", "))
		return apperrors.Incomplete(s.Name, s.ScriptPath(), detail)
	}
	return nil
}

// writeWrapper generates the executable wrapper if it is not already
// present. An existing wrapper is reused untouched: after a partial
// failure a human removes it (or the partial markers) to force a rerun.
//
// The wrapper re-checks its per-invocation marker before doing real work,
// which guards against partial grid task-array reruns.
func (s *Stage) writeWrapper() error {
	path := s.ScriptPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by correct-pipeline. Remove this file to force regeneration.\n")
	b.WriteString("task=$1\n")
	b.WriteString("if [ -z \"$task\" ]; then task=$SGE_TASK_ID; fi\n")
	b.WriteString("if [ -z \"$task\" ] || [ \"$task\" = \"undefined\" ]; then task=1; fi\n")
	fmt.Fprintf(&b, "cd %q || exit 1\n", s.Dir)
	if s.arrayed() {
		fmt.Fprintf(&b, "marker=\"%s.$task.success\"\n", s.Name)
	} else {
		fmt.Fprintf(&b, "marker=%q\n", s.Name+".success")
	}
	b.WriteString("if [ -e \"$marker\" ]; then exit 0; fi\n")
	b.WriteString("set -e\n")
	for _, command := range s.Commands {
		b.WriteString(command)
		b.WriteByte('\n')
	}
	if !s.SelfMarking {
		b.WriteString(": > \"$marker.$$\"\n")
		b.WriteString("mv \"$marker.$$\" \"$marker\"\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o755)
}
