package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mrvillage/ieu/logger"
)

const (
	// EnvNumThreads is the primary worker-count override.
	EnvNumThreads = "IEU_NUM_THREADS"
	// EnvFallbackNumThreads is consulted when EnvNumThreads is unset or
	// invalid, so a process tuned for rayon-style pools sizes ieu the same.
	EnvFallbackNumThreads = "RAYON_NUM_THREADS"
	// EnvLogLevel sets the level of the process-wide pool's logger.
	EnvLogLevel = "IEU_LOG_LEVEL"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// NumThreads resolves the worker count from the process environment.
func NumThreads() int {
	return ResolveNumThreads(os.LookupEnv)
}

// ResolveNumThreads returns the first valid count among EnvNumThreads and
// EnvFallbackNumThreads, falling back to AvailableParallelism.  A value is
// valid when it parses as a non-negative decimal integer; anything else is
// ignored rather than reported.
func ResolveNumThreads(lookup LookupFunc) int {
	for _, key := range []string{EnvNumThreads, EnvFallbackNumThreads} {
		if n, ok := parseCount(lookup, key); ok {
			return n
		}
	}
	return AvailableParallelism()
}

func parseCount(lookup LookupFunc, key string) (int, bool) {
	raw, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 31)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// LogLevel resolves EnvLogLevel, returning def when it is unset or invalid.
func LogLevel(lookup LookupFunc, def logger.Level) logger.Level {
	raw, ok := lookup(EnvLogLevel)
	if !ok {
		return def
	}
	lvl, err := logger.ParseLevel(raw)
	if err != nil {
		return def
	}
	return lvl
}
