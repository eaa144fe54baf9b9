package worker

import (
	"errors"
	"fmt"
)

// ErrStopped is the panic value of Execute on a pool that has been stopped.
var ErrStopped = errors.New("worker: pool is stopped")

// TaskPanic describes a panic raised by a round function.  Execute re-panics
// with a *TaskPanic in the caller's goroutine once every other index of the
// round has run and the barrier has closed.
type TaskPanic struct {
	// Index is the item index whose invocation panicked.  When several
	// indices panic in one round only the first one recorded is kept.
	Index int
	// Value is the value passed to panic.
	Value interface{}
	// Stack is the worker goroutine's stack at the time of the panic.
	Stack []byte
}

func (p *TaskPanic) Error() string {
	return fmt.Sprintf("worker: index %d panicked: %v", p.Index, p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *TaskPanic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}
