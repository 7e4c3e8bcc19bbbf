package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"corrector/internal/procpool"
)

// Local runs stage wrappers as concurrent local processes through a
// process pool.
type Local struct {
	pool   *procpool.Pool
	logger *slog.Logger
}

// NewLocal creates a local backend with the given concurrency limit.
func NewLocal(concurrency int, metrics procpool.MetricsRecorder) *Local {
	return &Local{
		pool:   procpool.New(concurrency, metrics),
		logger: slog.With("component", "dispatch", "backend", "local"),
	}
}

// Dispatch submits one wrapper invocation per task index and drains the
// pool to completion.
func (l *Local) Dispatch(ctx context.Context, job Job) error {
	tasks := job.taskCount()
	l.logger.Info("Dispatching locally", "stage", job.Name, "tasks", tasks)

	if job.arrayed() {
		for i := 1; i <= tasks; i++ {
			l.pool.Submit(fmt.Sprintf("%s %d", job.Script, i))
		}
	} else {
		l.pool.Submit(job.Script)
	}
	return l.pool.DrainAndWait(ctx)
}

// Ready verifies the wrapper host can spawn processes at all; there is no
// external dependency to probe, so it only checks the shell exists.
func (l *Local) Ready(ctx context.Context) error {
	_, err := os.Stat("/bin/sh")
	return err
}

// Close is a no-op; the pool holds no resources once drained.
func (l *Local) Close() error {
	return nil
}

var _ Backend = (*Local)(nil)
