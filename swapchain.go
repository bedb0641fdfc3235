package g3d

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/descriptor"
)

// ResizeNotifier delivers window resize events. gpucontext.EventSource
// implements it.
type ResizeNotifier interface {
	OnResize(fn func(width, height int))
}

var _ ResizeNotifier = gpucontext.EventSource(nil)

// backBuffer is one swap chain image. Headless chains own the texture;
// surface chains fill the view on every acquire.
type backBuffer struct {
	texture hal.Texture
	view    ViewHandle
	slot    *descriptor.Slot
}

// SwapChain owns the back buffers and their state transitions.
//
// With a surface it acquires and presents surface textures. Without one
// it rotates through BackBufferCount offscreen render targets, which is
// how headless runs and tests render.
type SwapChain struct {
	g           *Gpu
	surface     hal.Surface
	ownsSurface bool
	window      gpucontext.WindowProvider
	format      gputypes.TextureFormat
	width       uint32
	height      uint32
	buffers     []backBuffer
	index       int

	acquired *hal.AcquiredSurfaceTexture
	current  bool // the back buffer of this frame has been handed out

	mu      sync.Mutex
	pending *[2]uint32 // latched resize from the window goroutine
}

func newSwapChain(g *Gpu, surface hal.Surface, window gpucontext.WindowProvider, width, height uint32) (*SwapChain, error) {
	s := &SwapChain{
		g:       g,
		surface: surface,
		window:  window,
		format:  g.cfg.SurfaceFormat,
		width:   width,
		height:  height,
		buffers: make([]backBuffer, g.cfg.BackBufferCount),
	}
	for i := range s.buffers {
		slot, err := g.rtvs.Allocate()
		if err != nil {
			s.destroy()
			return nil, fmt.Errorf("g3d: back buffer view: %w", err)
		}
		s.buffers[i].slot = slot
		s.buffers[i].view = g.addView(&view{
			memory: InvalidHandle,
			kind:   descriptor.KindRenderTarget,
			heap:   g.rtvs,
			slots:  []*descriptor.Slot{slot},
		})
	}
	if err := s.create(); err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

// create configures the surface or creates the offscreen targets at
// the current size.
func (s *SwapChain) create() error {
	if s.surface != nil {
		err := s.surface.Configure(s.g.device, &hal.SurfaceConfiguration{
			Width:       s.width,
			Height:      s.height,
			Format:      s.format,
			Usage:       gputypes.TextureUsageRenderAttachment,
			PresentMode: s.g.cfg.PresentMode,
			AlphaMode:   gputypes.CompositeAlphaModeOpaque,
		})
		if err != nil {
			return fmt.Errorf("g3d: configure surface %dx%d: %w", s.width, s.height, err)
		}
		return nil
	}

	for i := range s.buffers {
		bb := &s.buffers[i]
		tex, err := s.g.device.CreateTexture(&hal.TextureDescriptor{
			Label:         fmt.Sprintf("back buffer %d", i),
			Size:          hal.Extent3D{Width: s.width, Height: s.height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        s.format,
			Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc |
				gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			return fmt.Errorf("g3d: create back buffer %d: %w", i, err)
		}
		view, err := s.g.device.CreateTextureView(tex, s.viewDesc())
		if err != nil {
			s.g.device.DestroyTexture(tex)
			return fmt.Errorf("g3d: create back buffer %d view: %w", i, err)
		}
		bb.texture = tex
		s.g.rtvs.Set(bb.slot, descriptor.Descriptor{
			Kind:      descriptor.KindRenderTarget,
			View:      view,
			Dimension: gputypes.TextureViewDimension2D,
		})
	}
	return nil
}

// release drops the surface configuration or the offscreen targets.
// The back buffer view handles stay valid.
func (s *SwapChain) release() {
	if s.surface != nil {
		if s.acquired != nil {
			s.surface.DiscardTexture(s.acquired.Texture)
			s.acquired = nil
		}
		s.surface.Unconfigure(s.g.device)
		return
	}
	for i := range s.buffers {
		bb := &s.buffers[i]
		if bb.slot != nil {
			if d := s.g.rtvs.Get(bb.slot); d.View != nil {
				s.g.device.DestroyTextureView(d.View)
			}
			s.g.rtvs.Set(bb.slot, descriptor.Descriptor{Kind: descriptor.KindRenderTarget})
		}
		if bb.texture != nil {
			s.g.device.DestroyTexture(bb.texture)
			bb.texture = nil
		}
	}
}

func (s *SwapChain) destroy() {
	s.release()
	for i := range s.buffers {
		bb := &s.buffers[i]
		if bb.slot == nil {
			continue
		}
		// Surface views are owned by the descriptor stack that created them.
		s.g.rtvs.Set(bb.slot, descriptor.Descriptor{Kind: descriptor.KindRenderTarget})
		delete(s.g.views, bb.view)
		if err := s.g.rtvs.Release(bb.slot); err != nil {
			slogger().Warn("g3d: release back buffer view", "err", err)
		}
		bb.slot = nil
	}
	if s.ownsSurface && s.surface != nil {
		s.surface.Destroy()
		s.surface = nil
	}
}

func (s *SwapChain) viewDesc() *hal.TextureViewDescriptor {
	return &hal.TextureViewDescriptor{
		Label:           "back buffer",
		Format:          s.format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	}
}

// Size returns the back buffer size.
func (s *SwapChain) Size() (width, height uint32) { return s.width, s.height }

// Format returns the back buffer format.
func (s *SwapChain) Format() gputypes.TextureFormat { return s.format }

// Index returns the index of the current back buffer.
func (s *SwapChain) Index() int { return s.index }

// Headless reports whether the chain renders offscreen.
func (s *SwapChain) Headless() bool { return s.surface == nil }

// Texture returns the current headless back buffer texture, or nil
// with a surface.
func (s *SwapChain) Texture() hal.Texture {
	if s.surface != nil {
		return nil
	}
	return s.buffers[s.index].texture
}

// CurrentBackBufferView returns the render target view of this frame's
// back buffer. The first call in a frame applies a latched resize and,
// with a surface, acquires the next surface texture.
func (s *SwapChain) CurrentBackBufferView() (ViewHandle, error) {
	if s.current {
		return s.buffers[s.index].view, nil
	}
	s.applyPendingResize()
	if s.surface != nil {
		if err := s.acquire(); err != nil {
			return InvalidView, err
		}
	}
	s.current = true
	return s.buffers[s.index].view, nil
}

func (s *SwapChain) acquire() error {
	acquired, err := s.surface.AcquireTexture(nil)
	if errors.Is(err, hal.ErrSurfaceOutdated) {
		slogger().Info("g3d: surface outdated, reconfiguring")
		if err := s.create(); err != nil {
			return err
		}
		acquired, err = s.surface.AcquireTexture(nil)
	}
	if err != nil {
		return fmt.Errorf("g3d: acquire back buffer: %w", err)
	}
	view, err := s.g.device.CreateTextureView(acquired.Texture, s.viewDesc())
	if err != nil {
		s.surface.DiscardTexture(acquired.Texture)
		return fmt.Errorf("g3d: back buffer view: %w", err)
	}
	s.acquired = acquired
	s.g.rtvs.Set(s.buffers[s.index].slot, descriptor.Descriptor{
		Kind:      descriptor.KindRenderTarget,
		View:      view,
		Dimension: gputypes.TextureViewDimension2D,
	})
	// The view lives as long as this frame's descriptor stack.
	s.g.ring.Defer(func() { s.g.device.DestroyTextureView(view) })
	return nil
}

// TransitionToRenderTarget records the barrier that makes the current
// back buffer writable as a color attachment.
func (s *SwapChain) TransitionToRenderTarget(c *CmdList) error {
	return s.transition(c, gputypes.TextureUsageNone, gputypes.TextureUsageRenderAttachment)
}

// TransitionToPresent records the barrier back to the presentable state.
func (s *SwapChain) TransitionToPresent(c *CmdList) error {
	return s.transition(c, gputypes.TextureUsageRenderAttachment, gputypes.TextureUsageNone)
}

func (s *SwapChain) transition(c *CmdList, from, to gputypes.TextureUsage) error {
	enc, err := c.Encoder()
	if err != nil {
		return err
	}
	if _, err := s.CurrentBackBufferView(); err != nil {
		return err
	}
	tex := s.Texture()
	if s.acquired != nil {
		tex = s.acquired.Texture
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll, MipLevelCount: 1, ArrayLayerCount: 1},
		Usage:   hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
	}})
	return nil
}

// present shows the current back buffer and advances to the next one.
func (s *SwapChain) present() {
	if s.acquired != nil {
		err := s.g.queue.Raw().Present(s.surface, s.acquired.Texture, nil)
		s.acquired = nil
		switch {
		case errors.Is(err, hal.ErrSurfaceOutdated):
			slogger().Info("g3d: surface outdated on present")
			if err := s.create(); err != nil {
				fatal("g3d: reconfigure surface: %w", err)
			}
		case err != nil:
			fatal("g3d: present: %w", err)
		}
	}
	s.current = false
	s.index = (s.index + 1) % len(s.buffers)
}

// Resize recreates the back buffers at width x height after waiting for
// the GPU to go idle. Back buffer view handles stay the same.
func (s *SwapChain) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("g3d: resize to %dx%d: %w", width, height, hal.ErrZeroArea)
	}
	if width == s.width && height == s.height {
		return nil
	}
	s.g.WaitAll()
	s.release()
	s.width, s.height = width, height
	s.index = 0
	s.current = false
	if err := s.create(); err != nil {
		return err
	}
	slogger().Info("g3d: swap chain resized", "width", width, "height", height)
	return nil
}

func (s *SwapChain) latchResize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.mu.Lock()
	s.pending = &[2]uint32{uint32(width), uint32(height)} //nolint:gosec // G115: positive, checked above
	s.mu.Unlock()
}

func (s *SwapChain) applyPendingResize() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	if err := s.Resize(p[0], p[1]); err != nil {
		fatal("g3d: apply resize: %w", err)
	}
}

// CurrentBackBufferView returns the render target view of this frame's
// back buffer. See SwapChain.CurrentBackBufferView.
func (g *Gpu) CurrentBackBufferView() (ViewHandle, error) {
	return g.swap.CurrentBackBufferView()
}

// OnResize waits for the GPU to finish all work, then resizes the swap
// chain. Call it from the submitting goroutine.
func (g *Gpu) OnResize(width, height uint32) error {
	return g.swap.Resize(width, height)
}

// OnToggleFullScreen waits for the GPU, then resizes the swap chain to
// the window's new size. The window layer switches the mode itself; a
// Gpu without a window only waits.
func (g *Gpu) OnToggleFullScreen() error {
	g.WaitAll()
	if g.swap.window == nil {
		return nil
	}
	w, h := windowSize(g.swap.window)
	if w == 0 || h == 0 {
		return nil
	}
	return g.swap.Resize(w, h)
}

// HandleWindowEvents subscribes to resize events of src. Events may
// arrive on any goroutine; the newest size is applied on the submitting
// goroutine at the next back buffer acquire.
func (g *Gpu) HandleWindowEvents(src ResizeNotifier) {
	src.OnResize(g.swap.latchResize)
}
