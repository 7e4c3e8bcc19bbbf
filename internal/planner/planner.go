// Package planner computes a resource-safe partitioning for a correction
// run. Every partition's consensus step holds several file descriptors open
// at once, so the partition count is bounded by the process's descriptor
// ceiling, and the layout tool requires more partitions than threads.
package planner

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// BaseReserve is the number of file descriptors reserved for everything
// that is not a partition: stdio, the store, logs, and tool scratch files.
const BaseReserve = 20

// Plan is the adjusted (partitions, threads) pair for one run. Computed
// once and immutable thereafter.
//
// Invariants: Partitions > Threads, and
// DescriptorCeiling - (BaseReserve + Threads) > Partitions.
type Plan struct {
	Partitions        int
	Threads           int
	DescriptorCeiling int
}

// DescriptorCeiling returns the soft limit on open file descriptors for
// the current process.
func DescriptorCeiling() (int, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	return int(lim.Cur), nil
}

// Compute adjusts the requested partition and thread counts so that both
// plan invariants hold, warning whenever the request is downgraded.
func Compute(partitions, threads, ceiling int) Plan {
	logger := slog.With("component", "planner")

	reserve := BaseReserve + threads
	if ceiling-reserve <= partitions {
		// One below the headroom keeps the strict invariant
		// partitions + reserve < ceiling.
		partitions = ceiling - reserve - 1
		if threads > partitions {
			threads = partitions - 1
		}
		logger.Warn("Partition plan downgraded to fit descriptor ceiling",
			"partitions", partitions, "threads", threads, "ceiling", ceiling, "reserve", reserve)
	}
	if threads < 1 {
		threads = 1
	}
	if partitions <= threads {
		partitions = threads + 1
		logger.Warn("Partition count raised above thread count",
			"partitions", partitions, "threads", threads)
	}

	return Plan{
		Partitions:        partitions,
		Threads:           threads,
		DescriptorCeiling: ceiling,
	}
}
