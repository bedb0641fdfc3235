package descriptor

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// heap couples a pool with the device that creates views into it.
type heap struct {
	*Pool
	device hal.Device
}

// Release destroys the slot's native view, if any, and frees the slot.
func (h *heap) Release(s *Slot) error {
	if s == nil || s.pool != h.Pool {
		return ErrForeignSlot
	}
	if d := h.Get(s); d.View != nil && !d.Null {
		h.device.DestroyTextureView(d.View)
	}
	return h.Pool.Release(s)
}

func (h *heap) textureView(tex hal.Texture, desc *hal.TextureViewDescriptor, d Descriptor) (*Slot, error) {
	s, err := h.Allocate()
	if err != nil {
		return nil, err
	}
	view, err := h.device.CreateTextureView(tex, desc)
	if err != nil {
		_ = h.Pool.Release(s)
		return nil, fmt.Errorf("descriptor: create %s view %q: %w", h.typ, desc.Label, err)
	}
	d.View = view
	h.Set(s, d)
	return s, nil
}

// RenderTargetHeap holds render target views.
type RenderTargetHeap struct{ heap }

// NewRenderTargetHeap creates a CPU-only heap of capacity render target views.
func NewRenderTargetHeap(device hal.Device, capacity int) *RenderTargetHeap {
	return &RenderTargetHeap{heap{NewPool(HeapRenderTarget, capacity, false), device}}
}

// CreateView creates a render target view of tex into a new slot.
func (h *RenderTargetHeap) CreateView(tex hal.Texture, desc *hal.TextureViewDescriptor) (*Slot, error) {
	return h.textureView(tex, desc, Descriptor{Kind: KindRenderTarget, Dimension: desc.Dimension})
}

// DepthStencilHeap holds depth-stencil views.
type DepthStencilHeap struct{ heap }

// NewDepthStencilHeap creates a CPU-only heap of capacity depth-stencil views.
func NewDepthStencilHeap(device hal.Device, capacity int) *DepthStencilHeap {
	return &DepthStencilHeap{heap{NewPool(HeapDepthStencil, capacity, false), device}}
}

// CreateView creates a depth-stencil view of tex into a new slot.
func (h *DepthStencilHeap) CreateView(tex hal.Texture, desc *hal.TextureViewDescriptor) (*Slot, error) {
	return h.textureView(tex, desc, Descriptor{Kind: KindDepthStencil, Dimension: desc.Dimension})
}

// ResourceHeap holds constant buffer and shader resource views.
type ResourceHeap struct {
	heap
	nullTex  hal.Texture
	nullView hal.TextureView
}

// NewResourceHeap creates a heap of capacity constant buffer and shader
// resource views.
func NewResourceHeap(device hal.Device, capacity int) *ResourceHeap {
	return &ResourceHeap{heap: heap{NewPool(HeapResource, capacity, true), device}}
}

// CreateConstantBufferView describes size bytes of buf at offset.
func (h *ResourceHeap) CreateConstantBufferView(buf hal.Buffer, offset, size uint64) (*Slot, error) {
	s, err := h.Allocate()
	if err != nil {
		return nil, err
	}
	h.Set(s, Descriptor{Kind: KindConstantBuffer, Buffer: buf, Offset: offset, Size: size})
	return s, nil
}

// CreateTextureView creates a shader resource view of tex.
func (h *ResourceHeap) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor, sampleType gputypes.TextureSampleType) (*Slot, error) {
	dim := desc.Dimension
	if dim == gputypes.TextureViewDimensionUndefined {
		dim = gputypes.TextureViewDimension2D
	}
	return h.textureView(tex, desc, Descriptor{Kind: KindShaderResource, SampleType: sampleType, Dimension: dim})
}

// CreateNullView creates a shader resource view that reads zeros. All
// null views share one 1x1 texture owned by the heap.
func (h *ResourceHeap) CreateNullView() (*Slot, error) {
	if h.nullView == nil {
		tex, err := h.device.CreateTexture(&hal.TextureDescriptor{
			Label:         "null texture",
			Size:          hal.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        gputypes.TextureFormatRGBA8Unorm,
			Usage:         gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			return nil, fmt.Errorf("descriptor: create null texture: %w", err)
		}
		view, err := h.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:     "null view",
			Format:    gputypes.TextureFormatRGBA8Unorm,
			Dimension: gputypes.TextureViewDimension2D,
			Aspect:    gputypes.TextureAspectAll,
		})
		if err != nil {
			h.device.DestroyTexture(tex)
			return nil, fmt.Errorf("descriptor: create null view: %w", err)
		}
		h.nullTex, h.nullView = tex, view
	}
	s, err := h.Allocate()
	if err != nil {
		return nil, err
	}
	h.Set(s, Descriptor{
		Kind:       KindShaderResource,
		View:       h.nullView,
		Null:       true,
		SampleType: gputypes.TextureSampleTypeFloat,
		Dimension:  gputypes.TextureViewDimension2D,
	})
	return s, nil
}

// Destroy releases the shared null texture. Slots still allocated keep
// their descriptors but must not be bound afterwards.
func (h *ResourceHeap) Destroy() {
	if h.nullView != nil {
		h.device.DestroyTextureView(h.nullView)
		h.device.DestroyTexture(h.nullTex)
		h.nullView, h.nullTex = nil, nil
	}
}
