package worker

import "errors"

// Pool lifecycle and submission errors.
var (
	// ErrPoolNotStarted is returned by Submit before Start has been called.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop has been called.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by Start when called twice.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by Submit when the bounded queue is at
	// capacity. The item is dropped, not queued.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor causes a panic in NewPool. A pool cannot run
	// without a processor function.
	ErrNilProcessor = errors.New("worker pool processor is nil")

	// ErrStopTimeout is returned by Stop when workers do not drain the
	// queue within the given timeout.
	ErrStopTimeout = errors.New("worker pool stop timed out")
)
