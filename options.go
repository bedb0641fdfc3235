package g3d

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/alloc"
)

// Configuration defaults and limits.
const (
	// DefaultFramesInFlight is the default number of frames the CPU may
	// run ahead of the GPU.
	DefaultFramesInFlight = 2

	// MaxFramesInFlight is the largest accepted FramesInFlight.
	MaxFramesInFlight = 4

	// DefaultBackBufferCount is the default number of swap chain buffers.
	DefaultBackBufferCount = 3

	// DefaultMaxDynamicAllocation is the default per-allocation cap of
	// dynamic memory (64 KB, one constant buffer's worth of matrices).
	DefaultMaxDynamicAllocation = 64 << 10

	// DefaultRenderTargetViews is the default render target heap capacity.
	DefaultRenderTargetViews = 64

	// DefaultDepthStencilViews is the default depth-stencil heap capacity.
	DefaultDepthStencilViews = 32

	// DefaultResourceViews is the default CBV/SRV heap capacity.
	DefaultResourceViews = 4096

	// DefaultDescriptorStackSize is the default number of descriptors one
	// frame may copy into the shader-visible ring.
	DefaultDescriptorStackSize = 1024

	// DefaultMaxTimestampPasses is the default number of timed render
	// passes per command list and frame.
	DefaultMaxTimestampPasses = 16

	// DefaultWidth and DefaultHeight size the swap chain when neither the
	// config nor a window provides a size.
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// defaultBackend is the backend New opens when Config.Backend is left
// at its default. Platform files override it.
var defaultBackend = gputypes.BackendEmpty

// Config holds the static configuration of a Gpu. Zero fields take
// their defaults; out-of-range fields are clamped.
type Config struct {
	// FramesInFlight is the number of frames the CPU may record while the
	// GPU still executes earlier ones. It is also the number of copies of
	// every dynamic allocation. Clamped to [1, MaxFramesInFlight].
	FramesInFlight int

	// BackBufferCount is the number of swap chain buffers. At least 2.
	BackBufferCount int

	// DynamicPageSize is the size of one dynamic memory page.
	// Defaults to alloc.DefaultPageSize; at least alloc.MinPageSize.
	DynamicPageSize uint64

	// MaxDynamicAllocation caps a single dynamic allocation. Requests
	// above it fail softly. Never larger than DynamicPageSize.
	MaxDynamicAllocation uint64

	// Descriptor heap capacities.
	RenderTargetViews int
	DepthStencilViews int
	ResourceViews     int

	// DescriptorStackSize is the capacity of each frame's stack in the
	// shader-visible descriptor ring.
	DescriptorStackSize int

	// MaxTimestampPasses is the number of render passes per command list
	// and frame that get GPU timestamps. Passes beyond it are untimed.
	MaxTimestampPasses int

	// Swap chain format, size and present mode.
	SurfaceFormat gputypes.TextureFormat
	Width         uint32
	Height        uint32
	PresentMode   gputypes.PresentMode

	// Backend selects the hal backend New opens. BackendEmpty (the zero
	// value) picks the platform default: DX12 on Windows, noop elsewhere.
	Backend gputypes.Backend
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FramesInFlight:       DefaultFramesInFlight,
		BackBufferCount:      DefaultBackBufferCount,
		DynamicPageSize:      alloc.DefaultPageSize,
		MaxDynamicAllocation: DefaultMaxDynamicAllocation,
		RenderTargetViews:    DefaultRenderTargetViews,
		DepthStencilViews:    DefaultDepthStencilViews,
		ResourceViews:        DefaultResourceViews,
		DescriptorStackSize:  DefaultDescriptorStackSize,
		MaxTimestampPasses:   DefaultMaxTimestampPasses,
		SurfaceFormat:        gputypes.TextureFormatBGRA8Unorm,
		Width:                DefaultWidth,
		Height:               DefaultHeight,
		PresentMode:          gputypes.PresentModeFifo,
		Backend:              defaultBackend,
	}
}

// normalized returns c with defaults and clamps applied.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FramesInFlight <= 0 {
		c.FramesInFlight = d.FramesInFlight
	}
	if c.FramesInFlight > MaxFramesInFlight {
		c.FramesInFlight = MaxFramesInFlight
	}
	if c.BackBufferCount < 2 {
		c.BackBufferCount = d.BackBufferCount
	}
	if c.DynamicPageSize == 0 {
		c.DynamicPageSize = d.DynamicPageSize
	}
	if c.DynamicPageSize < alloc.MinPageSize {
		c.DynamicPageSize = alloc.MinPageSize
	}
	if c.MaxDynamicAllocation == 0 {
		c.MaxDynamicAllocation = d.MaxDynamicAllocation
	}
	if c.MaxDynamicAllocation > c.DynamicPageSize {
		c.MaxDynamicAllocation = c.DynamicPageSize
	}
	if c.RenderTargetViews <= 0 {
		c.RenderTargetViews = d.RenderTargetViews
	}
	// Back buffers always get render target views.
	if c.RenderTargetViews < c.BackBufferCount {
		c.RenderTargetViews = c.BackBufferCount
	}
	if c.DepthStencilViews <= 0 {
		c.DepthStencilViews = d.DepthStencilViews
	}
	if c.ResourceViews <= 0 {
		c.ResourceViews = d.ResourceViews
	}
	if c.DescriptorStackSize <= 0 {
		c.DescriptorStackSize = d.DescriptorStackSize
	}
	if c.MaxTimestampPasses <= 0 {
		c.MaxTimestampPasses = d.MaxTimestampPasses
	}
	if c.SurfaceFormat == gputypes.TextureFormatUndefined {
		c.SurfaceFormat = d.SurfaceFormat
	}
	if c.Width == 0 || c.Height == 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.PresentMode == gputypes.PresentModeUndefined {
		c.PresentMode = d.PresentMode
	}
	if c.Backend == gputypes.BackendEmpty {
		c.Backend = defaultBackend
	}
	return c
}

// LatencyWaiter blocks until the platform is ready for the next frame
// (a DXGI frame-latency waitable object, for example). PresentFrame
// calls it after the synchronizer wait.
type LatencyWaiter interface {
	WaitForFrameLatency()
}

// Option configures a Gpu during creation.
//
// Example:
//
//	gpu, err := g3d.New(
//	    g3d.WithConfig(cfg),
//	    g3d.WithWindow(window),
//	)
type Option func(*options)

type options struct {
	config        Config
	fence         Fence
	surface       hal.Surface
	nativeWindow  *nativeWindow
	window        gpucontext.WindowProvider
	latencyWaiter LatencyWaiter
}

type nativeWindow struct {
	display, window uintptr
}

func defaultOptions() options {
	return options{config: DefaultConfig()}
}

// WithConfig sets the configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithFence replaces the queue-backed frame fence. A ManualFence with
// AutoRetire set paces a headless run without a GPU; tests use one to
// control the GPU timeline.
func WithFence(f Fence) Option {
	return func(o *options) {
		o.fence = f
	}
}

// WithSurface presents into an existing surface. The Gpu configures it
// but does not destroy it.
func WithSurface(s hal.Surface) Option {
	return func(o *options) {
		o.surface = s
	}
}

// WithNativeWindow makes New create a surface for a native window.
// It is ignored by NewWithDevice, which has no instance.
func WithNativeWindow(displayHandle, windowHandle uintptr) Option {
	return func(o *options) {
		o.nativeWindow = &nativeWindow{display: displayHandle, window: windowHandle}
	}
}

// WithWindow sets the window the swap chain belongs to. Its size
// overrides Config.Width and Config.Height and is re-read by
// OnToggleFullScreen.
func WithWindow(w gpucontext.WindowProvider) Option {
	return func(o *options) {
		o.window = w
	}
}

// WithLatencyWaiter sets the frame-latency object PresentFrame waits on.
func WithLatencyWaiter(w LatencyWaiter) Option {
	return func(o *options) {
		o.latencyWaiter = w
	}
}
