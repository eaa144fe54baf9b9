// Package worker provides a fixed-size goroutine pool exposing a blocking
// parallel-for: Execute(n, fn) calls fn(i) exactly once for every i in
// [0, n) and returns only after the last call has finished.
package worker

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrvillage/ieu/logger"
	"github.com/mrvillage/ieu/metrics"
)

// WorkerPool runs parallel-for rounds on a fixed set of goroutines.
//
// Design choices:
//   - workerCount goroutines are started by NewWorkerPool and reused for
//     every round; between rounds they block on a private wake channel.
//   - There is no job queue.  A round publishes one function and a count;
//     workers claim indices from a shared atomic cursor, so faster workers
//     naturally take more of the range.
//   - Completion is a reusable barrier: the last worker to run out of
//     indices wakes the caller.
//   - Rounds are admitted one at a time.  Concurrent callers of Execute on
//     the same pool are serialized, never interleaved.
type WorkerPool struct {
	crew    *crew
	metrics *metrics.Metrics
	cleanup runtime.Cleanup
}

// crew is everything the worker goroutines and teardown need.  It holds no
// reference to the WorkerPool so an abandoned pool can still be collected.
type crew struct {
	name  string
	cb    *controlBlock
	wakes []chan struct{}
	wg    sync.WaitGroup
	log   *logger.Logger
}

// Option configures a WorkerPool.
type Option func(*options)

type options struct {
	name    string
	log     *logger.Logger
	metrics *metrics.Metrics
}

// WithName sets the name used in log lines and metric labels.  Defaults to a
// random UUID.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the pool's logger.  Defaults to a logger that discards
// everything.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics makes the pool record into m instead of a private Metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewWorkerPool starts workerCount goroutines and returns the pool that owns
// them.  A negative count is treated as zero; a pool with zero workers
// completes every round immediately without calling the round function.
func NewWorkerPool(workerCount int, opts ...Option) *WorkerPool {
	if workerCount < 0 {
		workerCount = 0
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = uuid.NewString()
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics()
	}

	c := &crew{
		name:  o.name,
		cb:    newControlBlock(workerCount),
		wakes: make([]chan struct{}, workerCount),
		log:   o.log,
	}
	m := o.metrics
	c.cb.onPanic = func(p *TaskPanic) {
		m.IncrementPanics()
		c.log.Errorf("pool %s: index %d panicked: %v", c.name, p.Index, p.Value)
	}

	c.wg.Add(workerCount)
	for id := range c.wakes {
		// One buffered token: a wake sent before the worker is back on
		// its receive is not lost.
		c.wakes[id] = make(chan struct{}, 1)
		go c.run(id, c.wakes[id])
	}

	wp := &WorkerPool{crew: c, metrics: m}
	if workerCount > 0 {
		wp.cleanup = runtime.AddCleanup(wp, func(c *crew) {
			c.log.Warnf("pool %s: collected without Stop; shutting down workers", c.name)
			c.shutdown()
		}, c)
	}
	c.log.Debugf("pool %s: started %d workers", c.name, workerCount)
	return wp
}

// run is the loop of one worker goroutine.
func (c *crew) run(id int, wake <-chan struct{}) {
	defer c.wg.Done()
	cb := c.cb
	for {
		<-wake
		t := cb.pending.Load()
		if t == nil {
			c.log.Debugf("pool %s: worker %d exiting", c.name, id)
			cb.arrive()
			return
		}
		if cb.race(t) > 0 {
			cb.participants.Add(1)
		}
		cb.arrive()
	}
}

// wakeAll hands every worker its wake token.  Sends never block: each
// channel is drained by its worker before the worker arrives at the barrier,
// and a new round is only published after every worker has arrived.
func (c *crew) wakeAll() {
	for _, w := range c.wakes {
		w <- struct{}{}
	}
}

// shutdown runs the terminal round.  Workers observe a nil task, arrive at
// the barrier and return; only then is it safe to drop the control block.
func (c *crew) shutdown() {
	cb := c.cb
	cb.admission.Lock()
	defer cb.admission.Unlock()
	if cb.stopped {
		return
	}
	cb.stopped = true
	if cb.workers == 0 {
		return
	}

	cb.pending.Store(nil)
	cb.finished.Store(0)
	c.wakeAll()
	cb.await()
	c.wg.Wait()
	c.log.Debugf("pool %s: stopped", c.name)
}

// Execute calls fn(i) for every i in [0, n) on the pool's workers and blocks
// until all calls have returned.  The order of calls is unspecified.
//
// Calls to Execute on the same pool are serialized: a second caller waits
// until the first round has fully completed.  Calling Execute on the same
// pool from inside fn therefore deadlocks.
//
// If fn panics for some index, the remaining indices still run and Execute
// then panics with a *TaskPanic describing the first failure.  The pool
// stays usable.  Execute panics with ErrStopped after Stop.
func (wp *WorkerPool) Execute(n int, fn func(i int)) {
	if n < 0 {
		panic(fmt.Sprintf("worker: negative item count %d", n))
	}
	if fn == nil {
		panic("worker: nil round function")
	}

	c := wp.crew
	cb := c.cb
	cb.admission.Lock()
	defer cb.admission.Unlock()
	if cb.stopped {
		panic(ErrStopped)
	}
	if cb.workers == 0 {
		return
	}

	start := time.Now()
	cb.publish(fn, n)
	c.wakeAll()
	cb.await()
	// Every worker has arrived, so none still holds the task.
	cb.pending.Store(nil)
	wp.metrics.RecordRound(n, int(cb.participants.Load()), time.Since(start))

	if p := cb.takeFault(); p != nil {
		panic(p)
	}
}

// ExecuteChunked splits [0, n) into consecutive chunks of size chunk and
// calls fn(start, end) once per chunk, with chunks claimed dynamically like
// single indices in Execute.  A chunk size below 1 is treated as 1 and one
// larger than n as n.
func (wp *WorkerPool) ExecuteChunked(n, chunk int, fn func(start, end int)) {
	if chunk < 1 {
		chunk = 1
	}
	if fn == nil {
		panic("worker: nil round function")
	}
	if n > 0 && chunk > n {
		chunk = n
	}
	chunks := n
	if n > 0 {
		chunks = n / chunk
		if n%chunk != 0 {
			chunks++
		}
	}
	wp.Execute(chunks, func(c int) {
		start := c * chunk
		fn(start, start+min(chunk, n-start))
	})
}

// Stop shuts the workers down and waits for every one of them to return.
// It waits for an in-flight round to finish first.  Stop is idempotent.
func (wp *WorkerPool) Stop() {
	if wp.crew.cb.workers > 0 {
		wp.cleanup.Stop()
	}
	wp.crew.shutdown()
}

// NumWorkers returns the number of worker goroutines.
func (wp *WorkerPool) NumWorkers() int {
	return int(wp.crew.cb.workers)
}

// Name returns the pool's name.
func (wp *WorkerPool) Name() string {
	return wp.crew.name
}

// Metrics returns the counters the pool records into.
func (wp *WorkerPool) Metrics() *metrics.Metrics {
	return wp.metrics
}
