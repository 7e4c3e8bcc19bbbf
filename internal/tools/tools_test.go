package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"corrector/internal/apperrors"
	"corrector/internal/config"
)

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	set := Resolve(config.Tools{})

	if set.Convert != DefaultConvert {
		t.Errorf("Expected default convert tool, got %q", set.Convert)
	}
	if got := len(set.All()); got != 7 {
		t.Errorf("Expected 7 tools, got %d", got)
	}
}

func TestResolveBinDir(t *testing.T) {
	t.Parallel()
	set := Resolve(config.Tools{BinDir: "/opt/corrector/bin", Consensus: "bankconsensus-v2"})

	if set.Bank != "/opt/corrector/bin/bankbuild" {
		t.Errorf("Expected bank tool under bin dir, got %q", set.Bank)
	}
	if set.Consensus != "/opt/corrector/bin/bankconsensus-v2" {
		t.Errorf("Expected override under bin dir, got %q", set.Consensus)
	}

	// Absolute overrides ignore the bin dir.
	set = Resolve(config.Tools{BinDir: "/opt/corrector/bin", Convert: "/usr/local/bin/recconvert"})
	if set.Convert != "/usr/local/bin/recconvert" {
		t.Errorf("Expected absolute override untouched, got %q", set.Convert)
	}
}

func TestVerifyMissingTool(t *testing.T) {
	t.Parallel()
	set := Resolve(config.Tools{BinDir: t.TempDir()})

	err := set.Verify()
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for missing tools, got %v", err)
	}
}

func TestRunCapturesFailureOutput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tool := filepath.Join(dir, "failing")
	script := "#!/bin/sh\necho 'line 1'\necho 'store is corrupt' >&2\nexit 2\n"
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write tool: %v", err)
	}

	err := Run(context.Background(), "buildstore", tool, "-store", "reads.store")
	if !errors.Is(err, apperrors.ErrToolFailure) {
		t.Fatalf("Expected tool failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "store is corrupt") {
		t.Errorf("Expected error to carry tool output, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "buildstore") {
		t.Errorf("Expected error to name the stage, got %q", err.Error())
	}
}

func TestOutputReturnsStdout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tool := filepath.Join(dir, "info")
	script := "#!/bin/sh\nprintf '0\\treads\\tcorrect\\n'\n"
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write tool: %v", err)
	}

	out, err := Output(context.Background(), "classify", tool, "-libinfo", "reads.store")
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if out != "0\treads\tcorrect\n" {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestLastLines(t *testing.T) {
	t.Parallel()
	long := "a\nb\nc\nd\ne\nf\ng"
	if got := lastLines(long, 3); got != "e\nf\ng" {
		t.Errorf("Expected tail, got %q", got)
	}
	if got := lastLines("a\nb", 5); got != "a\nb" {
		t.Errorf("Expected short input untouched, got %q", got)
	}
}
