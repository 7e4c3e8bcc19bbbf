package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"corrector/internal/apperrors"
	"corrector/internal/config"
	"corrector/internal/stage"
)

// setupRun builds a work directory with a worker spec pointing at stub
// tools. The stubs imitate the real binaries closely enough to exercise
// the runner: the bank tool creates the bank directory, the export tool
// writes the fasta and qual files.
func setupRun(t *testing.T) (dir string) {
	t.Helper()
	dir = t.TempDir()
	binDir := filepath.Join(dir, "bin")
	if err := os.Mkdir(binDir, 0o755); err != nil {
		t.Fatalf("Failed to create bin dir: %v", err)
	}

	stubs := map[string]string{
		"bankbuild":     "#!/bin/sh\necho bankbuild >> \"$(dirname \"$4\")/calls\"\nmkdir -p \"$4\"\n",
		"bankconsensus": "#!/bin/sh\necho bankconsensus >> \"$(dirname \"$2\")/calls\"\ntouch \"$2/consensus\"\n",
		"bankexport":    "#!/bin/sh\necho bankexport >> \"$(dirname \"$2\")/calls\"\necho '>read1' > \"$4\"\necho '40 40' > \"$6\"\n",
	}
	for name, body := range stubs {
		if err := os.WriteFile(filepath.Join(binDir, name), []byte(body), 0o755); err != nil {
			t.Fatalf("Failed to write stub %s: %v", name, err)
		}
	}

	spec := &Spec{Tools: config.Tools{BinDir: binDir}}
	if err := WriteSpec(dir, spec); err != nil {
		t.Fatalf("Failed to write spec: %v", err)
	}
	return dir
}

func writeLayout(t *testing.T, dir string, partition int) {
	t.Helper()
	path := filepath.Join(dir, LayoutFile(partition))
	if err := os.WriteFile(path, []byte("layout data"), 0o644); err != nil {
		t.Fatalf("Failed to write layout: %v", err)
	}
}

func TestRunProducesExportsAndMarker(t *testing.T) {
	t.Parallel()
	dir := setupRun(t)
	writeLayout(t, dir, 3)

	runner, err := NewRunner(dir)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, f := range []string{FastaFile(3), QualFile(3)} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("Expected export %s: %v", f, err)
		}
	}
	if !stage.MarkerExists(stage.TaskMarkerPath(dir, StageName, 3)) {
		t.Error("Expected partition marker after successful run")
	}
	if _, err := os.Stat(filepath.Join(dir, BankDir(3))); !os.IsNotExist(err) {
		t.Error("Expected intermediate bank to be removed")
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	if err != nil {
		t.Fatalf("Expected tool call log: %v", err)
	}
	if got, want := string(calls), "bankbuild\nbankconsensus\nbankexport\n"; got != want {
		t.Errorf("Expected tool order %q, got %q", want, got)
	}
}

func TestRunSkipsCompletePartition(t *testing.T) {
	t.Parallel()
	dir := setupRun(t)

	// Marker present, no layout: a rerun must not touch the tools at all.
	if err := stage.WriteMarker(stage.TaskMarkerPath(dir, StageName, 1)); err != nil {
		t.Fatalf("Failed to write marker: %v", err)
	}

	runner, err := NewRunner(dir)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "calls")); !os.IsNotExist(err) {
		t.Error("Expected no tool invocations for a complete partition")
	}
}

func TestRunFailsWithoutLayout(t *testing.T) {
	t.Parallel()
	dir := setupRun(t)

	runner, err := NewRunner(dir)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	err = runner.Run(context.Background(), 7)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for missing layout, got %v", err)
	}
}

func TestRunToolFailureLeavesNoMarker(t *testing.T) {
	t.Parallel()
	dir := setupRun(t)
	writeLayout(t, dir, 2)

	// Make consensus fail with diagnostic output.
	failing := "#!/bin/sh\necho 'consensus: bank corrupt' >&2\nexit 3\n"
	if err := os.WriteFile(filepath.Join(dir, "bin", "bankconsensus"), []byte(failing), 0o755); err != nil {
		t.Fatalf("Failed to replace stub: %v", err)
	}

	runner, err := NewRunner(dir)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	err = runner.Run(context.Background(), 2)
	if !errors.Is(err, apperrors.ErrToolFailure) {
		t.Fatalf("Expected tool failure, got %v", err)
	}
	if stage.MarkerExists(stage.TaskMarkerPath(dir, StageName, 2)) {
		t.Error("Expected no marker after a failed run")
	}
}

func TestRunRebuildsStaleBank(t *testing.T) {
	t.Parallel()
	dir := setupRun(t)
	writeLayout(t, dir, 4)

	// A bank from a crashed attempt must be discarded before rebuilding.
	stale := filepath.Join(dir, BankDir(4), "leftover")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("Failed to create stale bank: %v", err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatalf("Failed to write stale file: %v", err)
	}

	runner, err := NewRunner(dir)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !stage.MarkerExists(stage.TaskMarkerPath(dir, StageName, 4)) {
		t.Error("Expected partition marker after rebuild")
	}
}

func TestLoadSpecMissing(t *testing.T) {
	t.Parallel()
	if _, err := LoadSpec(t.TempDir()); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for missing spec, got %v", err)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	in := &Spec{Tools: config.Tools{BinDir: "/opt/corrector/bin", Consensus: "bankconsensus-v2"}}
	if err := WriteSpec(dir, in); err != nil {
		t.Fatalf("WriteSpec failed: %v", err)
	}

	out, err := LoadSpec(dir)
	if err != nil {
		t.Fatalf("LoadSpec failed: %v", err)
	}
	if out.Tools.BinDir != in.Tools.BinDir || out.Tools.Consensus != in.Tools.Consensus {
		t.Errorf("Spec round trip mismatch: %+v", out)
	}
}
