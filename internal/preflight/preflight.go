// Package preflight validates the environment before a run starts. A
// pipeline run can occupy a cluster for hours, so misconfiguration is
// caught up front rather than three stages in.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"corrector/internal/dispatch"
	"corrector/internal/tools"
)

// Status represents the outcome of one check.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// CheckResult contains the result of one preflight check.
type CheckResult struct {
	Status  Status
	Message string
}

// Report collects all check results for one run.
type Report struct {
	Checks map[string]CheckResult
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, check := range r.Checks {
		if check.Status != StatusOK {
			return false
		}
	}
	return true
}

// FirstFailure returns the name and result of one failed check, if any.
func (r *Report) FirstFailure() (string, CheckResult, bool) {
	for name, check := range r.Checks {
		if check.Status != StatusOK {
			return name, check, true
		}
	}
	return "", CheckResult{}, false
}

// Checker runs preflight checks against the run environment.
type Checker struct {
	backend dispatch.Backend
	tools   *tools.Set
	workDir string
	timeout time.Duration

	// SkipTools disables the local tool lookup. Container runs resolve
	// tools inside the image, where LookPath on the host proves nothing.
	SkipTools bool
}

// NewChecker creates a preflight checker for one run.
func NewChecker(backend dispatch.Backend, toolSet *tools.Set, workDir string) *Checker {
	return &Checker{
		backend: backend,
		tools:   toolSet,
		workDir: workDir,
		timeout: 5 * time.Second,
	}
}

// Run executes all checks and returns the report.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{Checks: make(map[string]CheckResult)}

	report.Checks["backend"] = c.checkBackend(ctx)
	report.Checks["workdir"] = c.checkWorkDir()
	if !c.SkipTools {
		report.Checks["tools"] = c.checkTools()
	}

	return report
}

// checkBackend verifies the dispatch backend is ready to accept work.
func (c *Checker) checkBackend(ctx context.Context) CheckResult {
	if c.backend == nil {
		return CheckResult{Status: StatusFailed, Message: "backend not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Ready(ctx); err != nil {
		return CheckResult{Status: StatusFailed, Message: err.Error()}
	}
	return CheckResult{Status: StatusOK}
}

// checkWorkDir verifies the scratch directory exists and is writable.
func (c *Checker) checkWorkDir() CheckResult {
	info, err := os.Stat(c.workDir)
	if err != nil {
		return CheckResult{Status: StatusFailed, Message: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFailed, Message: fmt.Sprintf("%s is not a directory", c.workDir)}
	}

	probe := filepath.Join(c.workDir, fmt.Sprintf(".preflight.%d", os.Getpid()))
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return CheckResult{Status: StatusFailed, Message: fmt.Sprintf("workdir not writable: %v", err)}
	}
	os.Remove(probe)

	return CheckResult{Status: StatusOK}
}

// checkTools verifies every pipeline binary resolves to an executable.
func (c *Checker) checkTools() CheckResult {
	if err := c.tools.Verify(); err != nil {
		return CheckResult{Status: StatusFailed, Message: err.Error()}
	}
	return CheckResult{Status: StatusOK}
}
