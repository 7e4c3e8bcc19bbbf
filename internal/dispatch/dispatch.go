// Package dispatch provides the execution backends a pipeline stage can be
// sent to. All backends share one synchronous contract: Dispatch returns
// only after every requested invocation has terminated, successfully or
// not. Backends never interpret per-task exit status; stage completion is
// decided by success markers on disk.
package dispatch

import "context"

// Job describes one stage dispatch: a generated wrapper script, optionally
// fanned out over a task-array range.
type Job struct {
	Name   string // stage name; used for grid job naming and logging
	Script string // absolute path of the executable wrapper
	Dir    string // working directory for invocations
	Tasks  int    // >1 dispatches indices 1..Tasks; otherwise one invocation
}

// taskCount normalizes Tasks for iteration.
func (j Job) taskCount() int {
	if j.Tasks > 1 {
		return j.Tasks
	}
	return 1
}

// arrayed reports whether the job fans out over a task-array range.
func (j Job) arrayed() bool {
	return j.Tasks > 1
}

// Backend is an execution strategy for stage wrappers.
//
// New backends (a different batch system, for instance) plug in here
// without touching the orchestrator.
type Backend interface {
	// Dispatch runs the job and blocks until all invocations terminated.
	Dispatch(ctx context.Context, job Job) error

	// Ready checks the backend can accept work (submit command present,
	// container daemon reachable). Used by preflight.
	Ready(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
