// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// # Overview
//
// The pool manages a fixed number of goroutines that process work items of
// type T from a bounded channel. Worker count and queue size are fixed at
// creation, so memory and goroutine overhead are predictable under any load.
//
//	pool := worker.NewPool[Event](
//	    4,    // workers
//	    256,  // queue size
//	    func(ctx context.Context, ev Event) error {
//	        return publish(ctx, ev)
//	    },
//	)
//
// # Non-Blocking Submit
//
// Submit uses a non-blocking send: when the queue is at capacity the item is
// dropped, the drop counter is incremented, and ErrQueueFull is returned.
// Callers never block waiting for queue space, which makes the pool safe to
// feed from latency-sensitive paths such as connection read loops. A rising
// drop count is the backpressure signal that workers cannot keep up.
//
// # Lifecycle
//
// Start launches the workers with a context that bounds all processing.
// Stop closes the queue, lets workers drain remaining items, and waits up to
// the given timeout before returning ErrStopTimeout. Submissions made during
// or after Stop fail with ErrPoolStopped.
//
// Lifecycle guarantees:
//   - Start can only be called once
//   - Submit fails if the pool is not started or already stopped
//   - Stop is idempotent
//   - Workers complete in-flight work before exiting
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Statistics are tracked
// with atomic counters and read via Stats without locking.
package worker
