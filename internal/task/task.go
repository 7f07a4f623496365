// Package task runs a caller-supplied unit of work as an isolated
// asynchronous task and reports a tagged outcome: ok, error, signal, or
// failure. The parent inspects the outcome by polling; nothing here blocks
// unless the caller asks to wait.
//
// A task ends in exactly one state. "error" means the work itself failed
// or panicked; "signal" means the task was killed with a signal on its
// expected list; "failure" means infrastructure trouble (a task that could
// not start, or a kill with an unexpected signal). The outcome fields are
// written once, on the first transition out of pending, and never change.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
)

// Status is a task's lifecycle state.
type Status int

const (
	StatusInitialized Status = iota
	StatusPending
	StatusOK
	StatusError
	StatusSignal
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusPending:
		return "pending"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusSignal:
		return "signal"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusError || s == StatusSignal || s == StatusFailure
}

// Func is the work a task performs. The context is cancelled when the task
// is killed.
type Func func(ctx context.Context) (any, error)

// Option configures a task at construction.
type Option func(*Task)

// WithExpectedSignals lists the signals that end a task in the "signal"
// state rather than "failure".
func WithExpectedSignals(sigs ...syscall.Signal) Option {
	return func(t *Task) {
		for _, s := range sigs {
			t.expected[s] = true
		}
	}
}

// Task is one asynchronous unit of work.
type Task struct {
	fn       Func
	expected map[syscall.Signal]bool

	mu      sync.Mutex
	status  Status
	result  any
	err     error
	sig     syscall.Signal
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a task around fn. The task does nothing until Start.
func New(fn Func, opts ...Option) *Task {
	t := &Task{
		fn:       fn,
		expected: make(map[syscall.Signal]bool),
		status:   StatusInitialized,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the work. A task without a work function, or one started
// twice, goes straight to failure.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusInitialized {
		err := fmt.Errorf("task already started (status %s)", t.status)
		t.mu.Unlock()
		return err
	}
	if t.fn == nil {
		t.status = StatusFailure
		t.err = errors.New("task has no work function")
		close(t.done)
		t.mu.Unlock()
		return t.err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.status = StatusPending
	t.mu.Unlock()

	go t.run(runCtx)
	return nil
}

func (t *Task) run(ctx context.Context) {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		result, err = t.fn(ctx)
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		// Killed while running; the kill already resolved the task and the
		// late result is discarded, like a child that died mid-write.
		return
	}
	if err != nil {
		t.status = StatusError
		t.err = err
	} else {
		t.status = StatusOK
		t.result = result
	}
	t.cancel()
	close(t.done)
}

// Kill forwards a signal to a live task, resolving it immediately: to the
// "signal" state if the signal is expected, otherwise to "failure". It
// reports whether the task was live to receive it.
func (t *Task) Kill(sig syscall.Signal) bool {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return false
	}
	if t.expected[sig] {
		t.status = StatusSignal
		t.sig = sig
	} else {
		t.status = StatusFailure
		t.err = fmt.Errorf("task killed by unexpected signal %d (%s)", int(sig), sig)
	}
	cancel := t.cancel
	close(t.done)
	t.mu.Unlock()

	cancel()
	return true
}

// IsComplete reports, without blocking, whether the task has reached a
// terminal state.
func (t *Task) IsComplete() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Status returns the current state without blocking.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Wait blocks until the task is terminal or the context expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result waits for completion and returns the work's value. A task in the
// "error" or "failure" state surfaces its captured error; a task ended by
// a signal surfaces a descriptive error instead of a value.
func (t *Task) Result(ctx context.Context) (any, error) {
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusOK:
		return t.result, nil
	case StatusSignal:
		return nil, fmt.Errorf("task ended by signal %d (%s)", int(t.sig), t.sig)
	default:
		return nil, t.err
	}
}

// Err waits for completion and returns the captured error, or nil for a
// task that ended in "ok" or "signal".
func (t *Task) Err(ctx context.Context) error {
	if err := t.Wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Signal waits for completion and returns the terminating signal; ok is
// false unless the task actually ended in the "signal" state.
func (t *Task) Signal(ctx context.Context) (syscall.Signal, bool) {
	if err := t.Wait(ctx); err != nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig, t.status == StatusSignal
}
