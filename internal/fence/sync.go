package fence

import "fmt"

// DefaultMaxInFlight is used when a Synchronizer is created with a
// non-positive limit.
const DefaultMaxInFlight = 2

// Synchronizer throttles CPU progress to at most maxInFlight frames
// ahead of the GPU and tracks the last retired frame id.
//
// Frame ids start at 1; id 0 is retired from the start, so resources
// stamped with 0 are always reclaimable.
//
// Fence failures are fatal: they are logged and then panic. A
// Synchronizer belongs to the submitting goroutine.
type Synchronizer struct {
	fence       Fence
	maxInFlight uint64
	signaled    uint64
	inFlight    uint64
	lastRetired uint64
	waits       uint64
}

// NewSynchronizer creates a synchronizer over f.
func NewSynchronizer(f Fence, maxInFlight int) *Synchronizer {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Synchronizer{
		fence:       f,
		maxInFlight: uint64(maxInFlight), //nolint:gosec // G115: positive, checked above
	}
}

// SignalWork mints the next frame id, signals it behind all submitted
// work and counts it as in flight. It returns the new id.
func (s *Synchronizer) SignalWork() uint64 {
	id := s.signaled + 1
	if err := s.fence.Signal(id); err != nil {
		fatal(fmt.Errorf("fence: signal frame %d: %w", id, err))
	}
	s.signaled = id
	s.inFlight++
	return id
}

// Wait blocks only if the number of frames in flight has reached the
// limit, then retires whatever the GPU has completed. It reports whether
// it actually blocked.
func (s *Synchronizer) Wait() bool {
	waited := false
	if s.inFlight >= s.maxInFlight {
		target := s.signaled - s.maxInFlight + 1
		slogger().Debug("fence: frames in flight saturated, waiting",
			"frame", target, "in_flight", s.inFlight)
		if err := s.fence.Wait(target); err != nil {
			fatal(fmt.Errorf("fence: wait frame %d: %w", target, err))
		}
		waited = true
		s.waits++
	}
	s.retire()
	return waited
}

// WaitAll signals a new frame id and blocks until the GPU reaches it.
func (s *Synchronizer) WaitAll() {
	id := s.SignalWork()
	if err := s.fence.Wait(id); err != nil {
		fatal(fmt.Errorf("fence: wait all (frame %d): %w", id, err))
	}
	s.retire()
}

// LastRetired returns the most recent frame id confirmed complete.
// It only changes inside Wait and WaitAll.
func (s *Synchronizer) LastRetired() uint64 { return s.lastRetired }

// LastSignaled returns the most recently minted frame id.
func (s *Synchronizer) LastSignaled() uint64 { return s.signaled }

// InFlight returns the number of signaled frames not yet retired.
func (s *Synchronizer) InFlight() int { return int(s.inFlight) } //nolint:gosec // G115: bounded by maxInFlight+1

// MaxInFlight returns the configured limit.
func (s *Synchronizer) MaxInFlight() int { return int(s.maxInFlight) } //nolint:gosec // G115: from an int

// Waits returns how many times Wait actually blocked.
func (s *Synchronizer) Waits() uint64 { return s.waits }

// IsRetired reports whether frame id has been confirmed complete.
func (s *Synchronizer) IsRetired(id uint64) bool { return id <= s.lastRetired }

func (s *Synchronizer) retire() {
	done := s.fence.Completed()
	if done > s.signaled {
		done = s.signaled
	}
	if done <= s.lastRetired {
		return
	}
	s.inFlight -= done - s.lastRetired
	s.lastRetired = done
}

func fatal(err error) {
	slogger().Error("fence: fatal", "err", err)
	panic(err)
}
