// Package procpool provides a bounded pool of concurrently running local
// shell commands. Commands are queued FIFO and started as slots free up;
// DrainAndWait blocks until every submitted command's process has exited.
//
// The pool does not interpret exit codes. Stage completion is decided by
// on-disk success markers, so a nonzero exit is logged and left for the
// marker verification pass to surface.
package procpool

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"corrector/pkg/backoff"
)

// MetricsRecorder is an optional interface for recording pool metrics.
type MetricsRecorder interface {
	RecordLocalJobStarted(ctx context.Context)
	RecordLocalJobFinished(ctx context.Context, durationSeconds float64, success bool)
}

// Stats holds pool counters, observable after DrainAndWait returns.
type Stats struct {
	Submitted   int64 // commands ever submitted
	Started     int64 // processes started
	Finished    int64 // processes reaped
	PeakRunning int   // largest observed running-set size
}

// Pool runs submitted shell commands with bounded concurrency.
type Pool struct {
	mu      sync.Mutex
	queue   []string // pending commands, FIFO
	limit   int
	stats   Stats
	logger  *slog.Logger
	metrics MetricsRecorder

	spawnRetryDelay *backoff.Config
}

// New creates a pool with the given concurrency limit. A limit below 1 is
// clamped to 1.
func New(limit int, metrics MetricsRecorder) *Pool {
	p := &Pool{
		logger:  slog.With("component", "procpool"),
		metrics: metrics,
		spawnRetryDelay: &backoff.Config{
			Initial: 250 * time.Millisecond,
			Max:     10 * time.Second,
			Jitter:  true,
		},
	}
	p.SetConcurrency(limit)
	return p
}

// SetConcurrency sets the maximum number of concurrently running commands.
// Values below 1 are clamped to 1. Takes effect at the next dispatch step.
func (p *Pool) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.limit = n
	p.mu.Unlock()
}

// Submit appends a command to the queue. It has no side effect beyond
// enqueuing and may be called any number of times before draining.
func (p *Pool) Submit(command string) {
	p.mu.Lock()
	p.queue = append(p.queue, command)
	p.stats.Submitted++
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

type finished struct {
	command string
	start   time.Time
	err     error
}

// DrainAndWait runs every queued command and blocks until all of them have
// terminated. The running set never exceeds the concurrency limit; when the
// queue is empty the call waits for the remaining processes before
// returning. A spawn failure that is not transient aborts the drain after
// the already-running processes have been reaped.
func (p *Pool) DrainAndWait(ctx context.Context) error {
	done := make(chan finished)
	running := 0
	var spawnErr error

	for {
		// Fill free slots from the head of the queue.
		for spawnErr == nil {
			p.mu.Lock()
			if running >= p.limit || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			command := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			cmd, err := p.spawn(ctx, command)
			if err != nil {
				spawnErr = err
				break
			}

			running++
			p.mu.Lock()
			p.stats.Started++
			if running > p.stats.PeakRunning {
				p.stats.PeakRunning = running
			}
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.RecordLocalJobStarted(ctx)
			}

			start := time.Now()
			go func(command string, cmd *exec.Cmd, start time.Time) {
				done <- finished{command: command, start: start, err: cmd.Wait()}
			}(command, cmd, start)
		}

		if running == 0 {
			p.mu.Lock()
			empty := len(p.queue) == 0
			p.mu.Unlock()
			if empty || spawnErr != nil {
				return spawnErr
			}
			continue
		}

		// Block until any one outstanding process exits, then loop to
		// refill slots.
		res := <-done
		running--
		p.reap(ctx, res)
	}
}

// reap records one finished process.
func (p *Pool) reap(ctx context.Context, res finished) {
	p.mu.Lock()
	p.stats.Finished++
	p.mu.Unlock()

	duration := time.Since(res.start)
	if res.err != nil {
		// Exit status is the caller's concern via success markers.
		p.logger.Warn("Command exited nonzero", "command", res.command, "error", res.err, "duration", duration)
	} else {
		p.logger.Debug("Command finished", "command", res.command, "duration", duration)
	}
	if p.metrics != nil {
		p.metrics.RecordLocalJobFinished(ctx, duration.Seconds(), res.err == nil)
	}
}

// spawn starts a command via the shell, retrying transient resource
// exhaustion (fork/exec EAGAIN) after a delay. Retries are bounded only by
// OS recovery: the delay is capped, not the attempt count.
func (p *Pool) spawn(ctx context.Context, command string) (*exec.Cmd, error) {
	for attempt := 1; ; attempt++ {
		cmd := exec.Command("/bin/sh", "-c", command)
		err := cmd.Start()
		if err == nil {
			return cmd, nil
		}
		if !isTransient(err) {
			return nil, err
		}

		delay := backoff.Exponential(attempt, p.spawnRetryDelay)
		p.logger.Warn("Process creation failed, retrying", "command", command, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// isTransient reports whether a spawn failure is temporary resource
// exhaustion rather than a real error.
func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}
