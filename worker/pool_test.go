package worker_test

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrvillage/ieu/metrics"
	"github.com/mrvillage/ieu/worker"
)

// within fails the test if fn does not return before d elapses.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %v", what, d)
	}
}

func TestWorkerPool_CoversEveryIndexOnce(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	defer wp.Stop()

	for _, n := range []int{0, 1, 2, 3, 4, 5, 17, 100, 10_000} {
		hits := make([]int32, n)
		wp.Execute(n, func(i int) {
			atomic.AddInt32(&hits[i], 1)
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d invoked %d times, want 1", n, i, h)
			}
		}
	}
}

func TestWorkerPool_NeverPassesOutOfRangeIndex(t *testing.T) {
	wp := worker.NewWorkerPool(8)
	defer wp.Stop()

	var bad atomic.Int64
	const n = 257
	wp.Execute(n, func(i int) {
		if i < 0 || i >= n {
			bad.Add(1)
		}
	})
	if bad.Load() != 0 {
		t.Errorf("got %d out-of-range indices, want 0", bad.Load())
	}
}

func TestWorkerPool_ZeroItems(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	defer wp.Stop()

	var calls atomic.Int64
	within(t, 5*time.Second, "Execute(0)", func() {
		for i := 0; i < 100; i++ {
			wp.Execute(0, func(int) { calls.Add(1) })
		}
	})
	if calls.Load() != 0 {
		t.Errorf("got %d calls, want 0", calls.Load())
	}
}

func TestWorkerPool_CumulativeRounds(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	var cnt atomic.Int64
	inc := func(int) { cnt.Add(1) }

	wp.Execute(10, inc)
	wp.Execute(20, inc)
	wp.Execute(50, inc)
	wp.Stop()

	if cnt.Load() != 80 {
		t.Errorf("counter: got %d, want 80", cnt.Load())
	}
}

func TestWorkerPool_UnderSubscription(t *testing.T) {
	m := metrics.NewMetrics()
	wp := worker.NewWorkerPool(4, worker.WithMetrics(m))
	defer wp.Stop()

	// Each call waits for the other, so neither index can finish unless two
	// distinct workers hold them at once.
	var calls, arrived atomic.Int64
	var met atomic.Bool
	both := make(chan struct{})
	wp.Execute(2, func(int) {
		calls.Add(1)
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			met.Store(true)
		case <-time.After(5 * time.Second):
		}
	})

	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
	if !met.Load() {
		t.Error("the two indices never ran concurrently")
	}
	s := m.Snapshot()
	if s.LastParticipants != 2 {
		t.Errorf("participants: got %d, want 2", s.LastParticipants)
	}
	if s.LastItems != 2 {
		t.Errorf("last items: got %d, want 2", s.LastItems)
	}
}

func TestWorkerPool_NoCallRunningAfterReturn(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	defer wp.Stop()

	var running atomic.Int64
	wp.Execute(64, func(int) {
		running.Add(1)
		time.Sleep(time.Millisecond)
		running.Add(-1)
	})
	if r := running.Load(); r != 0 {
		t.Errorf("got %d calls still running after Execute returned, want 0", r)
	}
}

func TestWorkerPool_UnevenWorkIsShared(t *testing.T) {
	m := metrics.NewMetrics()
	wp := worker.NewWorkerPool(4, worker.WithMetrics(m))
	defer wp.Stop()

	// Index 0 is slow; with dynamic claiming the other workers drain the
	// rest of the range while it runs.
	var done atomic.Int64
	var doneBeforeSlow atomic.Int64
	wp.Execute(200, func(i int) {
		if i == 0 {
			time.Sleep(50 * time.Millisecond)
			doneBeforeSlow.Store(done.Load())
		}
		done.Add(1)
	})
	if done.Load() != 200 {
		t.Fatalf("done: got %d, want 200", done.Load())
	}
	if runtime.GOMAXPROCS(0) > 1 && doneBeforeSlow.Load() == 0 {
		t.Error("no other index completed while index 0 was running")
	}
}

// span records the sequence numbers bracketing one round's invocations.
type span struct {
	first atomic.Int64
	last  atomic.Int64
}

func newSpan() *span {
	s := &span{}
	s.first.Store(1 << 62)
	return s
}

func (s *span) record(seq *atomic.Int64, work func()) {
	start := seq.Add(1)
	for {
		cur := s.first.Load()
		if start >= cur || s.first.CompareAndSwap(cur, start) {
			break
		}
	}
	work()
	end := seq.Add(1)
	for {
		cur := s.last.Load()
		if end <= cur || s.last.CompareAndSwap(cur, end) {
			break
		}
	}
}

func disjoint(a, b *span) bool {
	return a.last.Load() < b.first.Load() || b.last.Load() < a.first.Load()
}

func TestWorkerPool_RoundsNeverOverlap(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	defer wp.Stop()

	var seq atomic.Int64
	a, b := newSpan(), newSpan()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wp.Execute(8, func(int) {
			a.record(&seq, func() { time.Sleep(2 * time.Millisecond) })
		})
	}()
	go func() {
		defer wg.Done()
		wp.Execute(8, func(int) {
			b.record(&seq, func() { time.Sleep(2 * time.Millisecond) })
		})
	}()
	wg.Wait()

	if !disjoint(a, b) {
		t.Errorf("rounds overlapped: a=[%d,%d] b=[%d,%d]",
			a.first.Load(), a.last.Load(), b.first.Load(), b.last.Load())
	}
}

func TestWorkerPool_ConcurrentCallers(t *testing.T) {
	wp := worker.NewWorkerPool(4)
	defer wp.Stop()

	const callers = 16
	const perCall = 100
	var cnt atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for c := 0; c < callers; c++ {
		go func() {
			defer wg.Done()
			wp.Execute(perCall, func(int) { cnt.Add(1) })
		}()
	}
	wg.Wait()

	if cnt.Load() != callers*perCall {
		t.Errorf("counter: got %d, want %d", cnt.Load(), callers*perCall)
	}
}

func TestWorkerPool_StopTerminatesWorkers(t *testing.T) {
	// Warm up so runtime helper goroutines exist before counting.
	warm := worker.NewWorkerPool(1)
	warm.Stop()

	before := runtime.NumGoroutine()
	wp := worker.NewWorkerPool(16)
	wp.Execute(100, func(int) {})
	within(t, 5*time.Second, "Stop", wp.Stop)

	// Worker goroutines have returned once Stop does; allow the runtime a
	// moment to reap them from the count.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("goroutines: got %d after Stop, want <= %d", after, before)
	}
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	wp := worker.NewWorkerPool(2)
	within(t, 5*time.Second, "double Stop", func() {
		wp.Stop()
		wp.Stop()
	})
}

func TestWorkerPool_StopWithoutRounds(t *testing.T) {
	wp := worker.NewWorkerPool(3)
	within(t, 5*time.Second, "Stop", wp.Stop)
}

func TestWorkerPool_ZeroWorkers(t *testing.T) {
	wp := worker.NewWorkerPool(0)
	if wp.NumWorkers() != 0 {
		t.Errorf("NumWorkers: got %d, want 0", wp.NumWorkers())
	}
	var calls atomic.Int64
	within(t, time.Second, "Execute on empty pool", func() {
		wp.Execute(10, func(int) { calls.Add(1) })
	})
	if calls.Load() != 0 {
		t.Errorf("calls: got %d, want 0", calls.Load())
	}
	within(t, time.Second, "Stop on empty pool", wp.Stop)
}

func TestWorkerPool_NegativeWorkersClampToZero(t *testing.T) {
	wp := worker.NewWorkerPool(-3)
	defer wp.Stop()
	if wp.NumWorkers() != 0 {
		t.Errorf("NumWorkers: got %d, want 0", wp.NumWorkers())
	}
}

func TestWorkerPool_ExecuteAfterStopPanics(t *testing.T) {
	wp := worker.NewWorkerPool(2)
	wp.Stop()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, worker.ErrStopped) {
			t.Errorf("recovered %v, want ErrStopped", r)
		}
	}()
	wp.Execute(1, func(int) {})
}

func TestWorkerPool_NegativeCountPanics(t *testing.T) {
	wp := worker.NewWorkerPool(2)
	defer wp.Stop()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative count")
		}
	}()
	wp.Execute(-1, func(int) {})
}

func TestWorkerPool_TaskPanicPropagates(t *testing.T) {
	m := metrics.NewMetrics()
	wp := worker.NewWorkerPool(4, worker.WithMetrics(m))
	defer wp.Stop()

	sentinel := errors.New("boom")
	var calls atomic.Int64
	func() {
		defer func() {
			r := recover()
			p, ok := r.(*worker.TaskPanic)
			if !ok {
				t.Fatalf("recovered %T (%v), want *worker.TaskPanic", r, r)
			}
			if p.Index != 7 {
				t.Errorf("Index: got %d, want 7", p.Index)
			}
			if !errors.Is(p, sentinel) {
				t.Errorf("TaskPanic should unwrap to the panic value")
			}
			if len(p.Stack) == 0 {
				t.Error("Stack should not be empty")
			}
		}()
		wp.Execute(50, func(i int) {
			calls.Add(1)
			if i == 7 {
				panic(sentinel)
			}
		})
	}()

	if calls.Load() != 50 {
		t.Errorf("calls: got %d, want 50 (every index still runs)", calls.Load())
	}
	if s := m.Snapshot(); s.Panics != 1 {
		t.Errorf("Panics: got %d, want 1", s.Panics)
	}

	// The pool remains usable after a failed round.
	var after atomic.Int64
	within(t, 5*time.Second, "Execute after panic", func() {
		wp.Execute(10, func(int) { after.Add(1) })
	})
	if after.Load() != 10 {
		t.Errorf("calls after panic: got %d, want 10", after.Load())
	}
}

func TestWorkerPool_ExecuteChunked(t *testing.T) {
	wp := worker.NewWorkerPool(3)
	defer wp.Stop()

	cases := []struct {
		n, chunk   int
		wantChunks int64
	}{
		{0, 4, 0},
		{1, 4, 1},
		{10, 3, 4},
		{12, 4, 3},
		{100, 7, 15},
		{5, 0, 5},
		{5, math.MaxInt, 1},
		{100, math.MaxInt - 1, 1},
	}
	for _, tc := range cases {
		hits := make([]int32, tc.n)
		var chunks atomic.Int64
		wp.ExecuteChunked(tc.n, tc.chunk, func(start, end int) {
			chunks.Add(1)
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Errorf("n=%d chunk=%d: index %d covered %d times, want 1", tc.n, tc.chunk, i, h)
			}
		}
		if chunks.Load() != tc.wantChunks {
			t.Errorf("n=%d chunk=%d: got %d chunks, want %d", tc.n, tc.chunk, chunks.Load(), tc.wantChunks)
		}
	}
}

// Bounds near the top of the int range must not wrap; only the ranges are
// checked so no backing slice is needed.
func TestWorkerPool_ExecuteChunkedHugeRange(t *testing.T) {
	wp := worker.NewWorkerPool(2)
	defer wp.Stop()

	var chunks atomic.Int64
	var bad atomic.Int64
	var mu sync.Mutex
	var ranges [][2]int
	wp.ExecuteChunked(math.MaxInt, math.MaxInt/2+1, func(start, end int) {
		chunks.Add(1)
		if start < 0 || end <= start {
			bad.Add(1)
		}
		mu.Lock()
		ranges = append(ranges, [2]int{start, end})
		mu.Unlock()
	})
	if bad.Load() != 0 {
		t.Fatalf("got %d malformed ranges: %v", bad.Load(), ranges)
	}
	// The second chunk is one index short of the first.
	if chunks.Load() != 2 {
		t.Fatalf("chunks: got %d, want 2", chunks.Load())
	}
	var total int
	for _, r := range ranges {
		total += r[1] - r[0]
	}
	if total != math.MaxInt {
		t.Errorf("covered %d indices, want %d", total, math.MaxInt)
	}
}

func TestWorkerPool_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	wp := worker.NewWorkerPool(2, worker.WithMetrics(m), worker.WithName("metrics-pool"))
	defer wp.Stop()

	if wp.Name() != "metrics-pool" {
		t.Errorf("Name: got %q, want metrics-pool", wp.Name())
	}
	if wp.Metrics() != m {
		t.Error("Metrics should return the injected instance")
	}
	wp.Execute(10, func(int) {})
	wp.Execute(5, func(int) {})

	s := m.Snapshot()
	if s.Rounds != 2 || s.Items != 15 {
		t.Errorf("got rounds=%d items=%d, want 2/15", s.Rounds, s.Items)
	}
}

func TestWorkerPool_DefaultNameIsUnique(t *testing.T) {
	a := worker.NewWorkerPool(1)
	b := worker.NewWorkerPool(1)
	defer a.Stop()
	defer b.Stop()
	if a.Name() == "" || a.Name() == b.Name() {
		t.Errorf("default names should be unique and non-empty, got %q and %q", a.Name(), b.Name())
	}
}
