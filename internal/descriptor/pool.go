// Package descriptor manages descriptor slots: fixed-capacity pools of
// CPU-side descriptors with O(1) allocation, typed heaps that create
// views into those slots, and the GPU-visible ring of per-frame stacks
// that descriptor tables are copied into at bind time.
package descriptor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Descriptor errors.
var (
	// ErrHeapFull is returned when a pool has no free slot.
	ErrHeapFull = errors.New("descriptor: heap is full")

	// ErrStackFull is returned when the current ring stack cannot hold a table.
	ErrStackFull = errors.New("descriptor: ring stack is full")

	// ErrForeignSlot is returned when a slot is released to a pool that
	// did not allocate it, or released twice.
	ErrForeignSlot = errors.New("descriptor: slot belongs to another heap")

	// ErrBadHandle is returned when a GPU handle does not address the ring.
	ErrBadHandle = errors.New("descriptor: handle outside ring")
)

// Stride is the distance between consecutive descriptor handles.
const Stride = 32

// HeapType identifies what a pool holds.
type HeapType uint8

// Heap types.
const (
	HeapResource HeapType = iota // constant buffers and shader resources
	HeapRenderTarget
	HeapDepthStencil
)

// String returns the heap type name.
func (t HeapType) String() string {
	switch t {
	case HeapResource:
		return "CBV_SRV"
	case HeapRenderTarget:
		return "RTV"
	case HeapDepthStencil:
		return "DSV"
	default:
		return fmt.Sprintf("HeapType(%d)", int(t))
	}
}

// Kind is the kind of view a descriptor describes.
type Kind uint8

// Descriptor kinds.
const (
	KindNone Kind = iota
	KindConstantBuffer
	KindShaderResource
	KindRenderTarget
	KindDepthStencil
)

// Descriptor describes how a shader or attachment sees a resource.
type Descriptor struct {
	Kind Kind

	// Buffer range for constant buffer views.
	Buffer hal.Buffer
	Offset uint64
	Size   uint64

	// View for texture views.
	View hal.TextureView

	// Null marks the shared placeholder view; it reads zeros and is not
	// owned by the slot.
	Null bool

	// SampleType and Dimension describe shader resource views.
	SampleType gputypes.TextureSampleType
	Dimension  gputypes.TextureViewDimension
}

// CPUHandle addresses a descriptor slot in a pool.
type CPUHandle uint64

// GPUHandle addresses a shader-visible descriptor.
type GPUHandle uint64

// Slot is one descriptor in a pool. The pointer is the handle callers
// keep; it stays valid until released.
type Slot struct {
	CPU   CPUHandle
	GPU   GPUHandle
	index uint32
	pool  *Pool
}

// Index returns the slot's position in its pool.
func (s *Slot) Index() int { return int(s.index) }

// heapSeq gives every pool or ring a distinct address range.
var heapSeq atomic.Uint64

func nextBase() uint64 { return heapSeq.Add(1) << 32 }

// Pool pre-slices a heap into fixed-stride handle pairs and hands them
// out from a free list.
//
// Pool is not safe for concurrent use.
type Pool struct {
	typ   HeapType
	slots []Slot
	descs []Descriptor
	inUse []bool
	free  []uint32
}

// NewPool creates a pool of capacity slots. GPU handles are filled in
// only for shader-visible pools.
func NewPool(typ HeapType, capacity int, shaderVisible bool) *Pool {
	p := &Pool{
		typ:   typ,
		slots: make([]Slot, capacity),
		descs: make([]Descriptor, capacity),
		inUse: make([]bool, capacity),
		free:  make([]uint32, capacity),
	}
	cpuBase := nextBase()
	var gpuBase uint64
	if shaderVisible {
		gpuBase = nextBase()
	}
	for i := range p.slots {
		off := uint64(i) * Stride
		p.slots[i] = Slot{CPU: CPUHandle(cpuBase + off), index: uint32(i), pool: p} //nolint:gosec // G115: capacity fits in uint32
		if shaderVisible {
			p.slots[i].GPU = GPUHandle(gpuBase + off)
		}
		// Pop from the end hands out slot 0 first.
		p.free[capacity-1-i] = uint32(i) //nolint:gosec // G115: capacity fits in uint32
	}
	return p
}

// Type returns the heap type.
func (p *Pool) Type() HeapType { return p.typ }

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// Free returns the number of unallocated slots.
func (p *Pool) Free() int { return len(p.free) }

// Allocate pops a free slot.
func (p *Pool) Allocate() (*Slot, error) {
	n := len(p.free)
	if n == 0 {
		return nil, fmt.Errorf("%w: %s capacity %d", ErrHeapFull, p.typ, len(p.slots))
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[idx] = true
	return &p.slots[idx], nil
}

// Release clears the slot's descriptor and pushes it back on the free list.
func (p *Pool) Release(s *Slot) error {
	if s == nil || s.pool != p {
		return ErrForeignSlot
	}
	if !p.inUse[s.index] {
		return fmt.Errorf("%w: slot %d is already free", ErrForeignSlot, s.index)
	}
	p.inUse[s.index] = false
	p.descs[s.index] = Descriptor{}
	p.free = append(p.free, s.index)
	return nil
}

// Set writes a descriptor into a slot.
func (p *Pool) Set(s *Slot, d Descriptor) { p.descs[s.index] = d }

// Get reads the descriptor stored in a slot.
func (p *Pool) Get(s *Slot) Descriptor { return p.descs[s.index] }
