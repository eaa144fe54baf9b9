package worker

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// task is the callable published for one round.
type task struct {
	fn func(i int)
}

// controlBlock is the state shared between a WorkerPool handle and every one
// of its worker goroutines.  It is allocated once and referenced by pointer
// for the lifetime of the pool; workers never see the WorkerPool itself.
//
// The caller holding admission is the only writer of pending, roundSize and
// the counter resets.  Workers only load pending/roundSize and add to cursor,
// finished and participants.
type controlBlock struct {
	workers int64

	// pending is nil between rounds and during shutdown.
	pending   atomic.Pointer[task]
	roundSize atomic.Int64
	cursor    atomic.Int64
	finished  atomic.Int64

	participants atomic.Int64

	doneMu sync.Mutex
	done   bool
	doneCv *sync.Cond

	admission sync.Mutex
	stopped   bool // guarded by admission

	faultMu sync.Mutex
	fault   *TaskPanic
	onPanic func(p *TaskPanic)
}

func newControlBlock(workers int) *controlBlock {
	cb := &controlBlock{workers: int64(workers)}
	cb.doneCv = sync.NewCond(&cb.doneMu)
	return cb
}

// publish installs fn for a round of n items.  Must be called with admission
// held and with no worker mid-round.
func (cb *controlBlock) publish(fn func(i int), n int) {
	cb.cursor.Store(0)
	cb.finished.Store(0)
	cb.participants.Store(0)
	cb.roundSize.Store(int64(n))
	cb.pending.Store(&task{fn: fn})
}

// race claims indices until the cursor passes the round size and reports how
// many this worker processed.
func (cb *controlBlock) race(t *task) int {
	size := cb.roundSize.Load()
	claimed := 0
	for {
		i := cb.cursor.Add(1) - 1
		if i >= size {
			return claimed
		}
		claimed++
		cb.invoke(t, int(i))
	}
}

// invoke runs one index.  A panic is recorded instead of unwinding the worker
// so the barrier still closes.
func (cb *controlBlock) invoke(t *task, i int) {
	defer func() {
		if r := recover(); r != nil {
			cb.recordPanic(&TaskPanic{Index: i, Value: r, Stack: debug.Stack()})
		}
	}()
	t.fn(i)
}

func (cb *controlBlock) recordPanic(p *TaskPanic) {
	cb.faultMu.Lock()
	if cb.fault == nil {
		cb.fault = p
	}
	cb.faultMu.Unlock()
	if cb.onPanic != nil {
		cb.onPanic(p)
	}
}

// takeFault returns and clears the first panic of the round just closed.
func (cb *controlBlock) takeFault() *TaskPanic {
	cb.faultMu.Lock()
	defer cb.faultMu.Unlock()
	p := cb.fault
	cb.fault = nil
	return p
}

// arrive reports this worker's completion of the current round.  The worker
// that brings finished up to the worker count closes the barrier.
func (cb *controlBlock) arrive() {
	if cb.finished.Add(1) == cb.workers {
		cb.doneMu.Lock()
		cb.done = true
		cb.doneMu.Unlock()
		cb.doneCv.Broadcast()
	}
}

// await blocks until the barrier closes and re-arms it for the next round.
func (cb *controlBlock) await() {
	cb.doneMu.Lock()
	for !cb.done {
		cb.doneCv.Wait()
	}
	cb.done = false
	cb.doneMu.Unlock()
}
