package fence

import (
	"fmt"
	"sync"
)

// Manual is a Fence advanced by hand.
//
// With AutoRetire set, Wait completes the requested value immediately,
// which is how a headless run without a real GPU behaves. Tests leave it
// unset and use OnWait to play the GPU: the hook runs at the moment the
// CPU would block and may call Retire.
//
// Manual is safe for concurrent use; Retire may be called from another goroutine.
type Manual struct {
	mu        sync.Mutex
	cond      *sync.Cond
	signaled  uint64
	completed uint64

	// OnWait runs before Wait blocks on an incomplete value, outside the lock.
	OnWait func(value uint64)

	// AutoRetire completes every waited-on value without blocking.
	AutoRetire bool
}

// NewManual creates a fence at value 0.
func NewManual() *Manual {
	m := &Manual{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Signal implements Fence.
func (m *Manual) Signal(value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value <= m.signaled {
		return fmt.Errorf("%w: %d after %d", ErrNotMonotonic, value, m.signaled)
	}
	m.signaled = value
	return nil
}

// Signaled returns the last signaled value.
func (m *Manual) Signaled() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signaled
}

// Completed implements Fence.
func (m *Manual) Completed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

// Retire marks every value up to v as complete. Values beyond the last
// signal are clamped; the timeline never moves backwards.
func (m *Manual) Retire(v uint64) {
	m.mu.Lock()
	if v > m.signaled {
		v = m.signaled
	}
	if v > m.completed {
		m.completed = v
		m.cond.Broadcast()
	}
	m.mu.Unlock()
}

// Wait implements Fence.
func (m *Manual) Wait(value uint64) error {
	m.mu.Lock()
	if value > m.signaled {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d (last %d)", ErrNotSignaled, value, m.signaled)
	}
	pending := m.completed < value
	m.mu.Unlock()

	if !pending {
		return nil
	}
	if m.OnWait != nil {
		m.OnWait(value)
	}
	if m.AutoRetire {
		m.Retire(value)
	}

	m.mu.Lock()
	for m.completed < value {
		m.cond.Wait()
	}
	m.mu.Unlock()
	return nil
}
