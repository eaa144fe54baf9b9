//go:build linux

package config

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// AvailableParallelism returns the number of CPUs this process may run on.
// The affinity mask is honoured so a process pinned with taskset or a cpuset
// cgroup does not oversubscribe; runtime.NumCPU is the fallback.
func AvailableParallelism() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return max(runtime.NumCPU(), 1)
}
