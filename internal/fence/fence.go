// Package fence tracks GPU progress as a timeline of frame ids.
//
// A [Fence] is the GPU-side timeline. [Queue] owns submission to a
// hal.Queue and records submission indices, [QueueFence] maps frame ids
// onto those indices, and [Manual] is a CPU-driven timeline for headless
// runs and tests. [Synchronizer] sits on top of any Fence and throttles
// how many frames the CPU may run ahead of the GPU.
package fence

import "errors"

// Fence errors.
var (
	// ErrNotMonotonic is returned when a signal value does not increase.
	ErrNotMonotonic = errors.New("fence: signal value must increase")

	// ErrNotSignaled is returned when waiting for a value never signaled.
	ErrNotSignaled = errors.New("fence: value was never signaled")
)

// Fence is a monotonically increasing GPU timeline.
type Fence interface {
	// Signal enqueues value on the timeline behind all work submitted so far.
	Signal(value uint64) error

	// Completed returns the highest value the GPU is known to have reached.
	Completed() uint64

	// Wait blocks until Completed() >= value. There is no timeout.
	Wait(value uint64) error
}
