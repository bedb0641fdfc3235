package fence

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// Poll backoff while waiting for a submission index.
const (
	minPollDelay = 20 * time.Microsecond
	maxPollDelay = 2 * time.Millisecond
)

// Queue wraps a hal.Queue and remembers the most recent submission index.
// All command buffers of the core go through Submit so that frame ids
// and one-shot uploads can be related to submission indices.
//
// Queue is not safe for concurrent use; it belongs to the submitting goroutine.
type Queue struct {
	device hal.Device
	queue  hal.Queue
	last   uint64
}

// NewQueue wraps queue. device is used for idle waits.
func NewQueue(device hal.Device, queue hal.Queue) *Queue {
	return &Queue{device: device, queue: queue}
}

// Raw returns the underlying hal.Queue.
func (q *Queue) Raw() hal.Queue { return q.queue }

// Submit submits command buffers and returns their submission index.
// Submission never blocks on GPU progress.
func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	idx, err := q.queue.Submit(cmds)
	if err != nil {
		return 0, fmt.Errorf("fence: submit %d command buffers: %w", len(cmds), err)
	}
	if idx > q.last {
		q.last = idx
	}
	return idx, nil
}

// LastSubmission returns the index of the most recent submission, or 0.
func (q *Queue) LastSubmission() uint64 { return q.last }

// Completed returns the highest submission index the GPU has finished.
func (q *Queue) Completed() uint64 { return q.queue.PollCompleted() }

// WaitSubmission blocks until submission idx has completed.
func (q *Queue) WaitSubmission(idx uint64) error {
	if idx == 0 || q.queue.PollCompleted() >= idx {
		return nil
	}
	if idx >= q.last {
		// Nothing newer is queued, so an idle wait is exact.
		if err := q.device.WaitIdle(); err != nil {
			return fmt.Errorf("fence: wait idle: %w", err)
		}
		return nil
	}
	delay := minPollDelay
	for q.queue.PollCompleted() < idx {
		time.Sleep(delay)
		if delay < maxPollDelay {
			delay *= 2
		}
	}
	return nil
}

// mark pins a fence value to a submission index.
type mark struct {
	value      uint64
	submission uint64
}

// QueueFence is a Fence over a Queue's submission indices. Signal(v)
// pins value v to the most recent submission; v completes when that
// submission does.
type QueueFence struct {
	queue     *Queue
	marks     []mark
	signaled  uint64
	completed uint64
}

// NewQueueFence creates a fence on q.
func NewQueueFence(q *Queue) *QueueFence {
	return &QueueFence{queue: q}
}

// Signal implements Fence.
func (f *QueueFence) Signal(value uint64) error {
	if value <= f.signaled {
		return fmt.Errorf("%w: %d after %d", ErrNotMonotonic, value, f.signaled)
	}
	f.signaled = value
	f.marks = append(f.marks, mark{value: value, submission: f.queue.LastSubmission()})
	return nil
}

// Completed implements Fence.
func (f *QueueFence) Completed() uint64 {
	done := f.queue.Completed()
	n := 0
	for n < len(f.marks) && f.marks[n].submission <= done {
		f.completed = f.marks[n].value
		n++
	}
	if n > 0 {
		f.marks = append(f.marks[:0], f.marks[n:]...)
	}
	return f.completed
}

// Wait implements Fence.
func (f *QueueFence) Wait(value uint64) error {
	if f.Completed() >= value {
		return nil
	}
	if value > f.signaled {
		return fmt.Errorf("%w: %d (last %d)", ErrNotSignaled, value, f.signaled)
	}
	for _, m := range f.marks {
		if m.value >= value {
			if err := f.queue.WaitSubmission(m.submission); err != nil {
				return err
			}
			break
		}
	}
	f.Completed()
	return nil
}
