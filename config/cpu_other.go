//go:build !linux

package config

import "runtime"

// AvailableParallelism returns the number of logical CPUs.
func AvailableParallelism() int {
	return max(runtime.NumCPU(), 1)
}
