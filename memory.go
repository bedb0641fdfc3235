package g3d

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/alloc"
	"github.com/gogpu/g3d/internal/upload"
)

// StaticBufferUsage is the usage of buffers created by AllocateStaticBuffer.
const StaticBufferUsage = gputypes.BufferUsageVertex | gputypes.BufferUsageIndex |
	gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst

// Subresource is the source data of one texture subresource: a mip
// level of an array layer, in layer-major order.
type Subresource = upload.Subresource

// TextureDesc describes a texture allocation.
type TextureDesc struct {
	Width  uint32
	Height uint32

	// DepthOrArrayLayers is the depth of 3D textures or the layer count
	// of 2D textures. Zero means 1.
	DepthOrArrayLayers uint32

	// MipLevels is the number of mip levels. Zero means 1.
	MipLevels uint32

	// Dimension defaults to 2D.
	Dimension gputypes.TextureDimension

	Format gputypes.TextureFormat

	// Usage is added to the usage the allocation path needs (copy
	// destination for uploads, shader binding for views).
	Usage gputypes.TextureUsage

	// SampleCount defaults to 1.
	SampleCount uint32
}

func (d TextureDesc) halDesc(label string, usage gputypes.TextureUsage) hal.TextureDescriptor {
	desc := hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              d.Width,
			Height:             d.Height,
			DepthOrArrayLayers: max(d.DepthOrArrayLayers, 1),
		},
		MipLevelCount: max(d.MipLevels, 1),
		SampleCount:   max(d.SampleCount, 1),
		Dimension:     d.Dimension,
		Format:        d.Format,
		Usage:         d.Usage | usage,
	}
	if desc.Dimension == gputypes.TextureDimensionUndefined {
		desc.Dimension = gputypes.TextureDimension2D
	}
	return desc
}

// ResourceDesc describes an uninitialized committed resource: a render
// target, a depth buffer, or a read-back buffer.
type ResourceDesc struct {
	Kind ResourceKind

	// Size and BufferUsage describe buffers.
	Size        uint64
	BufferUsage gputypes.BufferUsage

	// Texture describes textures.
	Texture TextureDesc
}

// allocation is the backing of one memory handle.
type allocation struct {
	name   string
	handle Handle
	size   uint64

	// frameIDs holds the last frame that wrote or bound each slot: one
	// entry for static memory, one per frame in flight for dynamic.
	frameIDs []uint64

	// Static backing.
	buffer      hal.Buffer
	texture     hal.Texture
	textureDesc hal.TextureDescriptor

	// Dynamic backing, one block per frame slot.
	blocks []alloc.Block

	views []ViewHandle
	freed bool
}

// retiredBy reports whether every slot's last use is at or before id.
func (a *allocation) retiredBy(id uint64) bool {
	for _, f := range a.frameIDs {
		if f > id {
			return false
		}
	}
	return true
}

// slot returns the frame slot index an access in frame slot i uses.
func (a *allocation) slot(i int) int {
	if a.handle.IsDynamic() {
		return i
	}
	return 0
}

// touch records that the current frame uses a's current slot.
func (g *Gpu) touch(a *allocation) {
	a.frameIDs[a.slot(g.frameIndex)] = g.CurrentFrameID()
}

func (g *Gpu) mintHandle(kind ResourceKind, lifetime Lifetime) (Handle, bool) {
	if g.nextMemory >= MaxHandleID {
		return InvalidHandle, false
	}
	g.nextMemory++
	return newHandle(g.nextMemory, kind, lifetime), true
}

func (g *Gpu) lookup(h Handle) (*allocation, error) {
	if g.closed {
		return nil, ErrClosed
	}
	a, ok := g.memory[h]
	if !ok || a.freed {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return a, nil
}

// AllocateDynamicMemory reserves size bytes of CPU-writable memory per
// frame in flight. Contents start zeroed.
//
// Requests larger than Config.MaxDynamicAllocation fail softly: the
// result is InvalidHandle and a warning is logged.
func (g *Gpu) AllocateDynamicMemory(size uint64, name string) Handle {
	switch {
	case g.closed:
		slogger().Warn("g3d: dynamic allocation on closed gpu", "name", name)
		return InvalidHandle
	case size == 0:
		slogger().Warn("g3d: zero-sized dynamic allocation", "name", name)
		return InvalidHandle
	case size > g.cfg.MaxDynamicAllocation:
		slogger().Warn("g3d: dynamic allocation exceeds cap",
			"name", name, "size", size, "cap", g.cfg.MaxDynamicAllocation)
		return InvalidHandle
	}
	h, ok := g.mintHandle(KindBuffer, Dynamic)
	if !ok {
		slogger().Warn("g3d: memory handles exhausted", "name", name)
		return InvalidHandle
	}

	a := &allocation{
		name:     name,
		handle:   h,
		size:     size,
		frameIDs: make([]uint64, g.cfg.FramesInFlight),
		blocks:   make([]alloc.Block, g.cfg.FramesInFlight),
	}
	for i := range a.blocks {
		b, err := g.dynamic.Allocate(size, UniformAlignment)
		if err != nil {
			fatal("g3d: allocate dynamic memory %q slot %d: %w", name, i, err)
		}
		clear(b.CPU)
		a.blocks[i] = b
	}
	g.memory[h] = a
	slogger().Debug("g3d: dynamic memory allocated",
		"name", name, "handle", h, "size", size, "pages", g.dynamic.Pages())
	return h
}

// AllocateStaticBuffer uploads data into a new device-local buffer and
// blocks until the copy has completed. The buffer size is len(data)
// rounded up to alignment.
func (g *Gpu) AllocateStaticBuffer(data []byte, alignment uint64, name string) (Handle, error) {
	if g.closed {
		return InvalidHandle, ErrClosed
	}
	buf, size, err := g.uploader.Buffer(data, alignment, StaticBufferUsage, name)
	if err != nil {
		return InvalidHandle, fmt.Errorf("g3d: static buffer %q: %w", name, err)
	}
	h, ok := g.mintHandle(KindBuffer, Static)
	if !ok {
		g.device.DestroyBuffer(buf)
		return InvalidHandle, fmt.Errorf("%w: handles exhausted", ErrInvalidHandle)
	}
	g.memory[h] = &allocation{
		name:     name,
		handle:   h,
		size:     size,
		frameIDs: []uint64{g.CurrentFrameID()},
		buffer:   buf,
	}
	return h, nil
}

// AllocateStaticTexture uploads subs into a new texture and blocks until
// the copy has completed. subs lists every mip of every array layer,
// layer-major. The texture ends up readable by shaders.
func (g *Gpu) AllocateStaticTexture(desc TextureDesc, subs []Subresource, name string) (Handle, error) {
	if g.closed {
		return InvalidHandle, ErrClosed
	}
	hd := desc.halDesc(name, gputypes.TextureUsageCopyDst|gputypes.TextureUsageTextureBinding)
	tex, err := g.uploader.Texture(&hd, subs)
	if err != nil {
		return InvalidHandle, fmt.Errorf("g3d: static texture %q: %w", name, err)
	}
	h, ok := g.mintHandle(KindTexture, Static)
	if !ok {
		g.device.DestroyTexture(tex)
		return InvalidHandle, fmt.Errorf("%w: handles exhausted", ErrInvalidHandle)
	}
	g.memory[h] = &allocation{
		name:        name,
		handle:      h,
		size:        textureSize(&hd),
		frameIDs:    []uint64{g.CurrentFrameID()},
		texture:     tex,
		textureDesc: hd,
	}
	return h, nil
}

// AllocateStaticResource creates an uninitialized committed resource.
func (g *Gpu) AllocateStaticResource(desc ResourceDesc, name string) (Handle, error) {
	if g.closed {
		return InvalidHandle, ErrClosed
	}
	a := &allocation{name: name, frameIDs: []uint64{g.CurrentFrameID()}}
	switch desc.Kind {
	case KindBuffer:
		if desc.Size == 0 {
			return InvalidHandle, fmt.Errorf("g3d: resource %q: %w", name, upload.ErrEmptyBuffer)
		}
		usage := desc.BufferUsage
		if usage == 0 {
			usage = StaticBufferUsage
		}
		buf, err := g.device.CreateBuffer(&hal.BufferDescriptor{Label: name, Size: desc.Size, Usage: usage})
		if err != nil {
			return InvalidHandle, fmt.Errorf("g3d: create buffer %q: %w", name, err)
		}
		a.buffer, a.size = buf, desc.Size
	case KindTexture:
		t := desc.Texture
		if t.Width == 0 || t.Height == 0 || t.Format == gputypes.TextureFormatUndefined {
			return InvalidHandle, fmt.Errorf("g3d: resource %q: %w", name, upload.ErrEmptyTexture)
		}
		usage := gputypes.TextureUsageTextureBinding
		if t.Format.IsDepthStencil() || t.Usage&gputypes.TextureUsageRenderAttachment != 0 {
			usage |= gputypes.TextureUsageRenderAttachment
		}
		hd := t.halDesc(name, usage)
		tex, err := g.device.CreateTexture(&hd)
		if err != nil {
			return InvalidHandle, fmt.Errorf("g3d: create texture %q: %w", name, err)
		}
		a.texture, a.textureDesc, a.size = tex, hd, textureSize(&hd)
	default:
		return InvalidHandle, fmt.Errorf("%w: %s", ErrWrongKind, desc.Kind)
	}

	h, ok := g.mintHandle(desc.Kind, Static)
	if !ok {
		a.destroy(g)
		return InvalidHandle, fmt.Errorf("%w: handles exhausted", ErrInvalidHandle)
	}
	a.handle = h
	g.memory[h] = a
	return h, nil
}

// UpdateMemory copies data into the current frame's slot of dynamic
// memory h at offset, and records the current frame as that slot's
// last use. It is the only way to write dynamic memory.
func (g *Gpu) UpdateMemory(h Handle, data []byte, offset uint64) error {
	if !h.IsDynamic() {
		return fmt.Errorf("%w: %s", ErrNotDynamic, h)
	}
	a, err := g.lookup(h)
	if err != nil {
		return err
	}
	if offset > a.size || uint64(len(data)) > a.size-offset {
		return fmt.Errorf("%w: %d bytes at %d in %d", ErrOutOfRange, len(data), offset, a.size)
	}
	copy(a.blocks[g.frameIndex].CPU[offset:], data)
	g.touch(a)
	return nil
}

// FreeMemory queues h for release. The memory, and every view of it,
// is released once all frames that used it have retired.
func (g *Gpu) FreeMemory(h Handle) error {
	a, err := g.lookup(h)
	if err != nil {
		return err
	}
	a.freed = true
	g.retired = append(g.retired, h)
	return nil
}

// ReadbackMemory reads size bytes at offset from a static buffer created
// with BufferUsageMapRead. The caller makes sure the GPU has finished
// writing it, typically with WaitAll.
func (g *Gpu) ReadbackMemory(h Handle, offset, size uint64) ([]byte, error) {
	a, err := g.lookup(h)
	if err != nil {
		return nil, err
	}
	if a.buffer == nil {
		return nil, fmt.Errorf("%w: %s is not a static buffer", ErrWrongKind, h)
	}
	if offset > a.size || size > a.size-offset {
		return nil, fmt.Errorf("%w: %d bytes at %d in %d", ErrOutOfRange, size, offset, a.size)
	}
	return g.uploader.Read(a.buffer, offset, size)
}

// MemorySize returns the size of h in bytes: the requested size for
// dynamic memory, the aligned size for buffers, the upload footprint
// for textures.
func (g *Gpu) MemorySize(h Handle) (uint64, error) {
	a, err := g.lookup(h)
	if err != nil {
		return 0, err
	}
	return a.size, nil
}

// bufferRange resolves buffer memory for the current frame slot.
func (g *Gpu) bufferRange(h Handle) (*allocation, hal.Buffer, uint64, uint64, error) {
	a, err := g.lookup(h)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	if h.Kind() != KindBuffer {
		return nil, nil, 0, 0, fmt.Errorf("%w: %s", ErrWrongKind, h)
	}
	if h.IsDynamic() {
		b := a.blocks[g.frameIndex]
		return a, b.Buffer, b.Offset, a.size, nil
	}
	return a, a.buffer, 0, a.size, nil
}

// destroy frees a's native resources and dynamic blocks.
func (a *allocation) destroy(g *Gpu) {
	if a.buffer != nil {
		g.device.DestroyBuffer(a.buffer)
		a.buffer = nil
	}
	if a.texture != nil {
		g.device.DestroyTexture(a.texture)
		a.texture = nil
	}
	for _, b := range a.blocks {
		if err := g.dynamic.Deallocate(b); err != nil {
			slogger().Warn("g3d: deallocate dynamic block", "name", a.name, "err", err)
		}
	}
	a.blocks = nil
}

func textureSize(desc *hal.TextureDescriptor) uint64 {
	_, total, err := upload.Footprints(desc)
	if err != nil {
		return 0
	}
	return total
}
