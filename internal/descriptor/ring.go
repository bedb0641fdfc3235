package descriptor

import "fmt"

// stack is one frame's region of the ring.
type stack struct {
	pos     uint32
	release []func()
}

// Ring is the GPU-visible descriptor area: one stack per frame in
// flight. Tables are copied to the top of the current stack at bind
// time. A stack may be cleared only after the frame that last used it
// has retired; NextStack followed by ClearCurrentStack does that once
// per frame.
//
// Ring is not safe for concurrent use.
type Ring struct {
	stacks   []stack
	capacity uint32
	current  int
	base     uint64
	descs    []Descriptor
}

// NewRing creates a ring of frames stacks holding capacity descriptors each.
func NewRing(frames, capacity int) *Ring {
	if frames < 1 {
		frames = 1
	}
	return &Ring{
		stacks:   make([]stack, frames),
		capacity: uint32(capacity), //nolint:gosec // G115: configured capacity fits in uint32
		base:     nextBase(),
		descs:    make([]Descriptor, frames*capacity),
	}
}

// Current returns the index of the active stack.
func (r *Ring) Current() int { return r.current }

// Used returns the number of descriptors on the active stack.
func (r *Ring) Used() int { return int(r.stacks[r.current].pos) }

// Capacity returns the capacity of one stack.
func (r *Ring) Capacity() int { return int(r.capacity) }

// CopyToCurrent copies src contiguously onto the active stack and
// returns the GPU handle of the first copied descriptor.
func (r *Ring) CopyToCurrent(src ...Descriptor) (GPUHandle, error) {
	st := &r.stacks[r.current]
	n := uint32(len(src)) //nolint:gosec // G115: table sizes are small
	if st.pos+n > r.capacity {
		return 0, fmt.Errorf("%w: stack %d has %d of %d used, need %d",
			ErrStackFull, r.current, st.pos, r.capacity, n)
	}
	first := uint64(r.current)*uint64(r.capacity) + uint64(st.pos)
	copy(r.descs[first:], src)
	st.pos += n
	return GPUHandle(r.base + first*Stride), nil
}

// Table returns the n descriptors starting at h.
func (r *Ring) Table(h GPUHandle, n int) ([]Descriptor, error) {
	if uint64(h) < r.base || (uint64(h)-r.base)%Stride != 0 {
		return nil, ErrBadHandle
	}
	first := (uint64(h) - r.base) / Stride
	if first+uint64(n) > uint64(len(r.descs)) {
		return nil, ErrBadHandle
	}
	return r.descs[first : first+uint64(n)], nil
}

// Defer registers fn to run when the active stack is next cleared.
// Objects built from a stack's tables, like bind groups, share its lifetime.
func (r *Ring) Defer(fn func()) {
	st := &r.stacks[r.current]
	st.release = append(st.release, fn)
}

// NextStack makes the next frame's stack active.
func (r *Ring) NextStack() {
	r.current = (r.current + 1) % len(r.stacks)
}

// ClearCurrentStack empties the active stack and runs its deferred
// releases. The caller guarantees the GPU no longer reads it.
func (r *Ring) ClearCurrentStack() {
	st := &r.stacks[r.current]
	for _, fn := range st.release {
		fn()
	}
	st.release = st.release[:0]
	first := r.current * int(r.capacity)
	clear(r.descs[first : first+int(st.pos)])
	st.pos = 0
}

// Reset clears every stack, running all deferred releases.
func (r *Ring) Reset() {
	for range r.stacks {
		r.NextStack()
		r.ClearCurrentStack()
	}
}
