// Package ieu runs parallel-for loops on a process-wide worker pool.
//
//	ieu.Execute(len(rows), func(i int) {
//		rows[i] = transform(rows[i])
//	})
//
// The pool is built on first use.  Its size is read once from
// IEU_NUM_THREADS, then RAYON_NUM_THREADS, then the number of CPUs the
// process may run on, and stays fixed for the life of the process.
//
// Every call goes through one process-wide lock, so rounds issued from
// unrelated call sites never run at the same time.  Code that needs
// independent concurrent rounds should own a worker.WorkerPool.  Calling
// Execute from inside a round function deadlocks.
package ieu

import (
	"os"
	"sync"

	"github.com/mrvillage/ieu/config"
	"github.com/mrvillage/ieu/logger"
	"github.com/mrvillage/ieu/metrics"
	"github.com/mrvillage/ieu/worker"
)

var global struct {
	mu   sync.Mutex
	pool *worker.WorkerPool
}

// poolLocked returns the process-wide pool, creating it if needed.  The
// caller must hold global.mu.
func poolLocked() *worker.WorkerPool {
	if global.pool == nil {
		size := config.NumThreads()
		log := logger.New(config.LogLevel(os.LookupEnv, logger.LevelError))
		global.pool = worker.NewWorkerPool(size,
			worker.WithName("global"),
			worker.WithLogger(log),
		)
		log.Debugf("ieu: global pool created with %d workers", size)
	}
	return global.pool
}

// Execute calls fn(i) for every i in [0, n) on the process-wide pool and
// returns once every call has returned.  See worker.WorkerPool.Execute for
// the panic behaviour.
func Execute(n int, fn func(i int)) {
	global.mu.Lock()
	defer global.mu.Unlock()
	poolLocked().Execute(n, fn)
}

// ExecuteChunked is the chunked form of Execute; see
// worker.WorkerPool.ExecuteChunked.
func ExecuteChunked(n, chunk int, fn func(start, end int)) {
	global.mu.Lock()
	defer global.mu.Unlock()
	poolLocked().ExecuteChunked(n, chunk, fn)
}

// NumThreads returns the worker count of the process-wide pool, creating the
// pool if it does not exist yet.
func NumThreads() int {
	global.mu.Lock()
	defer global.mu.Unlock()
	return poolLocked().NumWorkers()
}

// Stats returns a snapshot of the process-wide pool's counters.
func Stats() metrics.Snapshot {
	global.mu.Lock()
	p := poolLocked()
	global.mu.Unlock()
	return p.Metrics().Snapshot()
}
