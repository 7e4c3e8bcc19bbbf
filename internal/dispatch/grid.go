package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"corrector/internal/apperrors"
)

// Grid submits stage wrappers to an external batch scheduler and blocks
// until the scheduler reports the submission finished. A single submission
// covers all partition indices of an arrayed stage; the scheduler
// load-balances the tasks itself.
type Grid struct {
	submit  string   // batch submit command, e.g. "qsub"
	options []string // backend-specific resource options, passed through
	logger  *slog.Logger
}

// NewGrid creates a grid backend around the given submit command.
func NewGrid(submit string, options []string) *Grid {
	return &Grid{
		submit:  submit,
		options: options,
		logger:  slog.With("component", "dispatch", "backend", "grid"),
	}
}

// Dispatch performs one synchronous batch submission. Per-task exit status
// is not interpreted here: the scheduler's aggregate exit code for an array
// job is unreliable, so completion is verified via markers by the stage.
func (g *Grid) Dispatch(ctx context.Context, job Job) error {
	args := []string{
		"-sync", "y",
		"-N", "cor_" + job.Name,
		"-j", "y",
		"-o", "/dev/null",
	}
	if job.arrayed() {
		args = append(args, "-t", fmt.Sprintf("1-%d", job.Tasks))
	}
	args = append(args, g.options...)
	args = append(args, job.Script)

	g.logger.Info("Submitting to grid", "stage", job.Name, "tasks", job.taskCount(), "command", g.submit)

	cmd := exec.CommandContext(ctx, g.submit, args...)
	cmd.Dir = job.Dir
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The submission ran and the job finished nonzero; markers
			// decide whether the stage actually completed.
			g.logger.Warn("Grid submission finished nonzero", "stage", job.Name, "error", err)
			return nil
		}
		return apperrors.Internal("grid.submit", err)
	}
	return nil
}

// Ready verifies the submit command is resolvable.
func (g *Grid) Ready(ctx context.Context) error {
	_, err := exec.LookPath(g.submit)
	return err
}

// Close is a no-op for the grid backend.
func (g *Grid) Close() error {
	return nil
}

var _ Backend = (*Grid)(nil)
