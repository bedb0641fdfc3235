// Package alloc implements the paged free-list allocator behind dynamic
// (per-frame) GPU memory.
//
// Pages are fixed-size upload buffers that stay mapped for their whole
// life. Allocation is first-fit over each page's list of free spans;
// freed spans go back on the list as they are, without coalescing.
// Fully free pages are kept until Destroy.
package alloc

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Allocator errors.
var (
	// ErrTooLarge is returned when a request does not fit in a single page.
	ErrTooLarge = errors.New("alloc: allocation exceeds page size")

	// ErrInvalidAlignment is returned for alignments that are not a power of two.
	ErrInvalidAlignment = errors.New("alloc: alignment must be a power of two")

	// ErrZeroSize is returned for empty requests.
	ErrZeroSize = errors.New("alloc: zero-sized allocation")

	// ErrForeignBlock is returned when deallocating a block this allocator
	// did not hand out, or one already deallocated.
	ErrForeignBlock = errors.New("alloc: block does not belong to this allocator")
)

// Page size limits.
const (
	// DefaultPageSize is the page size used when Config.PageSize is zero (4 MB).
	DefaultPageSize = 4 << 20

	// MinPageSize is the smallest page the allocator will commit (64 KB).
	MinPageSize = 64 << 10
)

// DefaultUsage is the buffer usage of dynamic pages: CPU-written, read by
// the GPU as constants, vertices or indices.
const DefaultUsage = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc |
	gputypes.BufferUsageUniform | gputypes.BufferUsageVertex | gputypes.BufferUsageIndex

// Config configures an Allocator.
type Config struct {
	// Label prefixes page buffer labels.
	Label string

	// PageSize is the size of every page in bytes. Values below
	// MinPageSize are raised to it; zero selects DefaultPageSize.
	PageSize uint64

	// Usage is the buffer usage of pages. Zero selects DefaultUsage.
	Usage gputypes.BufferUsage
}

// Block is one sub-allocation inside a page.
type Block struct {
	// CPU is the persistently mapped memory of the block.
	CPU []byte

	// Buffer is the page buffer the block lives in.
	Buffer hal.Buffer

	// Offset is the block's byte offset inside Buffer.
	Offset uint64

	// Size is the requested size rounded up to the alignment.
	Size uint64

	page  int
	start uint64
	span  uint64
}

// Valid reports whether b refers to an allocation.
func (b Block) Valid() bool { return b.Buffer != nil }

// Page reports the index of the page holding b.
func (b Block) Page() int { return b.page }

type span struct {
	offset uint64
	size   uint64
}

type page struct {
	buffer hal.Buffer
	mem    []byte
	free   []span
	used   uint64

	// live maps the start of every outstanding span to its size.
	live map[uint64]uint64
}

// Allocator hands out aligned blocks from persistently mapped pages.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	device   hal.Device
	label    string
	pageSize uint64
	usage    gputypes.BufferUsage
	pages    []*page
}

// New creates an allocator. No page is committed until the first Allocate.
func New(device hal.Device, cfg Config) *Allocator {
	size := cfg.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	if size < MinPageSize {
		size = MinPageSize
	}
	usage := cfg.Usage
	if usage == 0 {
		usage = DefaultUsage
	}
	label := cfg.Label
	if label == "" {
		label = "dynamic"
	}
	return &Allocator{device: device, label: label, pageSize: size, usage: usage}
}

// PageSize returns the size of a page, which is also the largest
// allocation the allocator can serve.
func (a *Allocator) PageSize() uint64 { return a.pageSize }

// Pages returns the number of committed pages.
func (a *Allocator) Pages() int { return len(a.pages) }

// Used returns the number of bytes handed out, alignment padding included.
func (a *Allocator) Used() uint64 {
	var n uint64
	for _, p := range a.pages {
		n += p.used
	}
	return n
}

// Allocate returns a block of at least size bytes whose offset is a
// multiple of alignment. The first free span, in page order, that can
// hold the aligned request is split; a new page is committed only when
// no span fits.
func (a *Allocator) Allocate(size, alignment uint64) (Block, error) {
	if size == 0 {
		return Block{}, ErrZeroSize
	}
	if alignment == 0 {
		alignment = 1
	}
	if bits.OnesCount64(alignment) != 1 {
		return Block{}, fmt.Errorf("%w: %d", ErrInvalidAlignment, alignment)
	}
	rounded := alignUp(size, alignment)
	if rounded > a.pageSize {
		return Block{}, fmt.Errorf("%w: %d bytes (page %d)", ErrTooLarge, rounded, a.pageSize)
	}

	for i, p := range a.pages {
		if b, ok := p.carve(rounded, alignment); ok {
			b.page = i
			return b, nil
		}
	}

	p, err := a.newPage()
	if err != nil {
		return Block{}, err
	}
	a.pages = append(a.pages, p)
	b, _ := p.carve(rounded, alignment)
	b.page = len(a.pages) - 1
	return b, nil
}

// Deallocate returns b's span to its page's free list.
func (a *Allocator) Deallocate(b Block) error {
	if b.page < 0 || b.page >= len(a.pages) || a.pages[b.page].buffer != b.Buffer {
		return ErrForeignBlock
	}
	p := a.pages[b.page]
	if size, ok := p.live[b.start]; !ok || size != b.span {
		return fmt.Errorf("%w: span at %d is not allocated", ErrForeignBlock, b.start)
	}
	delete(p.live, b.start)
	p.free = append(p.free, span{offset: b.start, size: b.span})
	p.used -= b.span
	return nil
}

// Destroy unmaps and releases every page. Outstanding blocks become invalid.
func (a *Allocator) Destroy() {
	for _, p := range a.pages {
		if err := a.device.UnmapBuffer(p.buffer); err != nil {
			slogger().Warn("alloc: unmap page", "label", a.label, "err", err)
		}
		a.device.DestroyBuffer(p.buffer)
	}
	a.pages = nil
}

func (a *Allocator) newPage() (*page, error) {
	label := fmt.Sprintf("%s page %d", a.label, len(a.pages))
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  a.pageSize,
		Usage: a.usage,
	})
	if err != nil {
		return nil, fmt.Errorf("alloc: create %s: %w", label, err)
	}
	m, err := a.device.MapBuffer(buf, 0, a.pageSize)
	if err != nil {
		a.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("alloc: map %s: %w", label, err)
	}
	slogger().Debug("alloc: committed page", "label", label, "size", a.pageSize)
	return &page{
		buffer: buf,
		mem:    unsafe.Slice((*byte)(m.Ptr), a.pageSize),
		free:   []span{{offset: 0, size: a.pageSize}},
		live:   make(map[uint64]uint64),
	}, nil
}

func (p *page) carve(size, alignment uint64) (Block, bool) {
	for i, s := range p.free {
		aligned := alignUp(s.offset, alignment)
		need := aligned - s.offset + size
		if s.size < need {
			continue
		}
		if s.size == need {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = span{offset: s.offset + need, size: s.size - need}
		}
		p.used += need
		p.live[s.offset] = need
		return Block{
			CPU:    p.mem[aligned : aligned+size : aligned+size],
			Buffer: p.buffer,
			Offset: aligned,
			Size:   size,
			start:  s.offset,
			span:   need,
		}, true
	}
	return Block{}, false
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
