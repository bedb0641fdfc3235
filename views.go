package g3d

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/descriptor"
)

// viewHeap is the descriptor heap a view's slots live in.
type viewHeap interface {
	Get(s *descriptor.Slot) descriptor.Descriptor
	Release(s *descriptor.Slot) error
}

// view is the backing of one view handle. Dynamic constant buffer views
// hold one descriptor per frame slot; every other view holds one.
type view struct {
	memory Handle
	kind   descriptor.Kind
	heap   viewHeap
	slots  []*descriptor.Slot
}

// current returns the descriptor frame slot frameIndex binds.
func (v *view) current(frameIndex int) descriptor.Descriptor {
	if len(v.slots) == 1 {
		return v.heap.Get(v.slots[0])
	}
	return v.heap.Get(v.slots[frameIndex])
}

func (g *Gpu) addView(v *view) ViewHandle {
	g.nextView++
	vh := ViewHandle{id: g.nextView}
	g.views[vh] = v
	if a, ok := g.memory[v.memory]; ok {
		a.views = append(a.views, vh)
	}
	return vh
}

// resolveView returns the view behind vh and its memory allocation, if
// the view has one.
func (g *Gpu) resolveView(vh ViewHandle) (*view, *allocation, error) {
	if g.closed {
		return nil, nil, ErrClosed
	}
	v, ok := g.views[vh]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidView, vh)
	}
	return v, g.memory[v.memory], nil
}

// CreateConstantBufferView creates a constant buffer view of buffer
// memory h. A view of dynamic memory follows the frame slot: each frame
// binds the copy UpdateMemory wrote in that frame. Static buffers used
// as constants should be allocated with UniformAlignment.
func (g *Gpu) CreateConstantBufferView(h Handle) (ViewHandle, error) {
	a, err := g.lookup(h)
	if err != nil {
		return InvalidView, err
	}
	if h.Kind() != KindBuffer {
		return InvalidView, fmt.Errorf("%w: constant buffer view of %s", ErrWrongKind, h)
	}

	v := &view{memory: h, kind: descriptor.KindConstantBuffer, heap: g.resources}
	if h.IsDynamic() {
		for _, b := range a.blocks {
			s, err := g.resources.CreateConstantBufferView(b.Buffer, b.Offset, b.Size)
			if err != nil {
				g.releaseView(v)
				return InvalidView, fmt.Errorf("g3d: constant buffer view of %q: %w", a.name, err)
			}
			v.slots = append(v.slots, s)
		}
	} else {
		s, err := g.resources.CreateConstantBufferView(a.buffer, 0, a.size)
		if err != nil {
			return InvalidView, fmt.Errorf("g3d: constant buffer view of %q: %w", a.name, err)
		}
		v.slots = append(v.slots, s)
	}
	return g.addView(v), nil
}

// CreateTextureView creates a shader resource view of texture memory h
// covering all mips and layers. Depth textures get a depth view that a
// comparison sampler can read.
func (g *Gpu) CreateTextureView(h Handle) (ViewHandle, error) {
	a, err := g.textureMemory(h)
	if err != nil {
		return InvalidView, err
	}
	desc := viewDesc(a)
	sampleType := gputypes.TextureSampleTypeFloat
	if a.textureDesc.Format.HasDepth() {
		sampleType = gputypes.TextureSampleTypeDepth
		desc.Aspect = gputypes.TextureAspectDepthOnly
	}
	s, err := g.resources.CreateTextureView(a.texture, &desc, sampleType)
	if err != nil {
		return InvalidView, err
	}
	return g.addView(&view{memory: h, kind: descriptor.KindShaderResource, heap: g.resources, slots: []*descriptor.Slot{s}}), nil
}

// CreateRenderTargetView creates a render target view of mip 0 of
// texture memory h.
func (g *Gpu) CreateRenderTargetView(h Handle) (ViewHandle, error) {
	a, err := g.attachmentMemory(h)
	if err != nil {
		return InvalidView, err
	}
	if a.textureDesc.Format.IsDepthStencil() {
		return InvalidView, fmt.Errorf("%w: render target view of depth format %s", ErrWrongKind, a.textureDesc.Format)
	}
	desc := attachmentDesc(a)
	s, err := g.rtvs.CreateView(a.texture, &desc)
	if err != nil {
		return InvalidView, err
	}
	return g.addView(&view{memory: h, kind: descriptor.KindRenderTarget, heap: g.rtvs, slots: []*descriptor.Slot{s}}), nil
}

// CreateDepthStencilView creates a depth-stencil view of mip 0 of
// texture memory h.
func (g *Gpu) CreateDepthStencilView(h Handle) (ViewHandle, error) {
	a, err := g.attachmentMemory(h)
	if err != nil {
		return InvalidView, err
	}
	if !a.textureDesc.Format.IsDepthStencil() {
		return InvalidView, fmt.Errorf("%w: depth-stencil view of color format %s", ErrWrongKind, a.textureDesc.Format)
	}
	desc := attachmentDesc(a)
	s, err := g.dsvs.CreateView(a.texture, &desc)
	if err != nil {
		return InvalidView, err
	}
	return g.addView(&view{memory: h, kind: descriptor.KindDepthStencil, heap: g.dsvs, slots: []*descriptor.Slot{s}}), nil
}

// CreateNullTextureView creates a shader resource view with no memory.
// It fills unused descriptor table entries and reads zeros.
func (g *Gpu) CreateNullTextureView() (ViewHandle, error) {
	if g.closed {
		return InvalidView, ErrClosed
	}
	s, err := g.resources.CreateNullView()
	if err != nil {
		return InvalidView, err
	}
	return g.addView(&view{memory: NullHandle, kind: descriptor.KindShaderResource, heap: g.resources, slots: []*descriptor.Slot{s}}), nil
}

// DestroyView releases a view before its memory is freed. Views of
// freed memory are released by the reaper and need no call.
func (g *Gpu) DestroyView(vh ViewHandle) error {
	v, a, err := g.resolveView(vh)
	if err != nil {
		return err
	}
	if a != nil {
		for i, x := range a.views {
			if x == vh {
				a.views = append(a.views[:i], a.views[i+1:]...)
				break
			}
		}
		// The view's descriptor may be bound by a frame still in flight.
		g.touch(a)
	}
	delete(g.views, vh)
	g.ring.Defer(func() { g.releaseView(v) })
	return nil
}

// releaseView returns v's descriptors to their heap.
func (g *Gpu) releaseView(v *view) {
	for _, s := range v.slots {
		if err := v.heap.Release(s); err != nil {
			slogger().Warn("g3d: release view descriptor", "err", err)
		}
	}
	v.slots = nil
}

func (g *Gpu) textureMemory(h Handle) (*allocation, error) {
	a, err := g.lookup(h)
	if err != nil {
		return nil, err
	}
	if h.Kind() != KindTexture {
		return nil, fmt.Errorf("%w: texture view of %s", ErrWrongKind, h)
	}
	return a, nil
}

func (g *Gpu) attachmentMemory(h Handle) (*allocation, error) {
	a, err := g.textureMemory(h)
	if err != nil {
		return nil, err
	}
	if a.textureDesc.Usage&gputypes.TextureUsageRenderAttachment == 0 {
		return nil, fmt.Errorf("%w: %s was not created as an attachment", ErrWrongKind, h)
	}
	return a, nil
}

func viewDesc(a *allocation) hal.TextureViewDescriptor {
	td := &a.textureDesc
	dim := gputypes.TextureViewDimension2D
	switch {
	case td.Dimension == gputypes.TextureDimension3D:
		dim = gputypes.TextureViewDimension3D
	case td.Dimension == gputypes.TextureDimension1D:
		dim = gputypes.TextureViewDimension1D
	case td.Size.DepthOrArrayLayers > 1:
		dim = gputypes.TextureViewDimension2DArray
	}
	layers := td.Size.DepthOrArrayLayers
	if td.Dimension == gputypes.TextureDimension3D {
		layers = 1
	}
	return hal.TextureViewDescriptor{
		Label:           a.name,
		Format:          td.Format,
		Dimension:       dim,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   td.MipLevelCount,
		ArrayLayerCount: layers,
	}
}

func attachmentDesc(a *allocation) hal.TextureViewDescriptor {
	return hal.TextureViewDescriptor{
		Label:           a.name,
		Format:          a.textureDesc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	}
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
