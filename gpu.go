package g3d

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/alloc"
	"github.com/gogpu/g3d/internal/descriptor"
	"github.com/gogpu/g3d/internal/fence"
	"github.com/gogpu/g3d/internal/upload"
)

// Fence is the GPU timeline frames are signaled on. A custom Fence can
// be injected with WithFence.
type Fence = fence.Fence

// ManualFence is a Fence advanced by hand. See WithFence.
type ManualFence = fence.Manual

// NewManualFence creates a ManualFence at value 0.
func NewManualFence() *ManualFence { return fence.NewManual() }

// UniformAlignment is the offset and size granularity of constant
// buffer views, and the alignment of every dynamic allocation.
const UniformAlignment = 256

// Gpu is the aggregate root of the core: it owns the device, the
// synchronizer, every allocator and heap, and the swap chain.
//
// A Gpu is not safe for concurrent use. All methods must be called from
// the goroutine that submits work.
type Gpu struct {
	cfg Config

	instance   hal.Instance // nil when the device was injected
	device     hal.Device
	queue      *fence.Queue
	sync       *fence.Synchronizer
	uploader   *upload.Uploader
	dynamic    *alloc.Allocator
	rtvs       *descriptor.RenderTargetHeap
	dsvs       *descriptor.DepthStencilHeap
	resources  *descriptor.ResourceHeap
	ring       *descriptor.Ring
	swap       *SwapChain
	latency    LatencyWaiter
	timestamps bool

	frameIndex int
	nextMemory uint32
	nextView   uint32
	memory     map[Handle]*allocation
	views      map[ViewHandle]*view
	retired    []Handle
	cmdLists   map[*CmdList]struct{}
	stats      frameStats
	closed     bool
}

// New opens the configured backend's first adapter and creates a Gpu on
// it. The Gpu owns the device and destroys it on Close.
func New(opts ...Option) (*Gpu, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.config.normalized()

	backend, ok := hal.GetBackend(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, cfg.Backend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << cfg.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("g3d: create instance: %w", err)
	}

	if o.surface == nil && o.nativeWindow != nil {
		surface, err := instance.CreateSurface(o.nativeWindow.display, o.nativeWindow.window)
		if err != nil {
			instance.Destroy()
			return nil, fmt.Errorf("g3d: create surface: %w", err)
		}
		o.surface = surface
	}

	adapters := instance.EnumerateAdapters(o.surface)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("g3d: open device: %w", err)
	}
	slogger().Info("g3d: device opened",
		"backend", cfg.Backend, "adapter", selected.Info.Name)

	g, err := newGpu(openDev.Device, openDev.Queue, o, cfg)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	g.instance = instance
	if o.nativeWindow != nil {
		g.swap.ownsSurface = true
	}
	return g, nil
}

// NewWithDevice creates a Gpu on a device owned by the caller. Close
// releases everything the Gpu created but leaves the device open.
func NewWithDevice(device hal.Device, queue hal.Queue, opts ...Option) (*Gpu, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newGpu(device, queue, o, o.config.normalized())
}

func newGpu(device hal.Device, queue hal.Queue, o options, cfg Config) (*Gpu, error) {
	q := fence.NewQueue(device, queue)
	f := o.fence
	if f == nil {
		f = fence.NewQueueFence(q)
	}

	g := &Gpu{
		cfg:       cfg,
		device:    device,
		queue:     q,
		sync:      fence.NewSynchronizer(f, cfg.FramesInFlight),
		uploader:  upload.New(device, q),
		dynamic:   alloc.New(device, alloc.Config{Label: "dynamic", PageSize: cfg.DynamicPageSize}),
		rtvs:      descriptor.NewRenderTargetHeap(device, cfg.RenderTargetViews),
		dsvs:      descriptor.NewDepthStencilHeap(device, cfg.DepthStencilViews),
		resources: descriptor.NewResourceHeap(device, cfg.ResourceViews),
		ring:      descriptor.NewRing(cfg.FramesInFlight, cfg.DescriptorStackSize),
		latency:   o.latencyWaiter,
		memory:    make(map[Handle]*allocation),
		views:     make(map[ViewHandle]*view),
		cmdLists:  make(map[*CmdList]struct{}),
	}
	g.timestamps = g.detectTimestamps()

	width, height := cfg.Width, cfg.Height
	if o.window != nil {
		if w, h := windowSize(o.window); w > 0 && h > 0 {
			width, height = w, h
		}
	}
	swap, err := newSwapChain(g, o.surface, o.window, width, height)
	if err != nil {
		g.resources.Destroy()
		g.dynamic.Destroy()
		return nil, err
	}
	g.swap = swap
	return g, nil
}

// detectTimestamps reports whether the device can create timestamp
// query sets.
func (g *Gpu) detectTimestamps() bool {
	qs, err := g.device.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: "timestamp support check",
		Type:  hal.QueryTypeTimestamp,
		Count: 2,
	})
	if err != nil {
		slogger().Warn("g3d: GPU timestamps unavailable", "err", err)
		return false
	}
	g.device.DestroyQuerySet(qs)
	return true
}

func windowSize(w gpucontext.WindowProvider) (uint32, uint32) {
	width, height := w.Size()
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	return uint32(width), uint32(height) //nolint:gosec // G115: positive, checked above
}

// Device returns the hal device.
func (g *Gpu) Device() hal.Device { return g.device }

// Queue returns the hal queue. Submit through ExecuteCmdLists so that
// frame ids stay related to submissions.
func (g *Gpu) Queue() hal.Queue { return g.queue.Raw() }

// Config returns the normalized configuration.
func (g *Gpu) Config() Config { return g.cfg }

// FramesInFlight returns the number of frame slots.
func (g *Gpu) FramesInFlight() int { return g.cfg.FramesInFlight }

// FrameIndex returns the current frame slot in [0, FramesInFlight).
func (g *Gpu) FrameIndex() int { return g.frameIndex }

// CurrentFrameID returns the id the frame being recorded will be
// signaled with.
func (g *Gpu) CurrentFrameID() uint64 { return g.sync.LastSignaled() + 1 }

// LastRetiredFrameID returns the newest frame id the GPU has completed.
// It never decreases.
func (g *Gpu) LastRetiredFrameID() uint64 { return g.sync.LastRetired() }

// IsFrameFinished reports whether frame id has retired. Id 0 is always
// finished.
func (g *Gpu) IsFrameFinished(id uint64) bool { return g.sync.IsRetired(id) }

// SwapChain returns the swap chain.
func (g *Gpu) SwapChain() *SwapChain { return g.swap }

// TimestampsSupported reports whether command lists record GPU time.
func (g *Gpu) TimestampsSupported() bool { return g.timestamps }

// WaitAll blocks until the GPU has finished all submitted work, then
// releases every freed allocation.
func (g *Gpu) WaitAll() {
	g.sync.WaitAll()
	g.reap()
}

// Close waits for the GPU, then releases every command list, view and
// allocation, the swap chain and the heaps. A device opened by New is
// destroyed as well. Close is idempotent.
func (g *Gpu) Close() error {
	if g.closed {
		return nil
	}
	g.WaitAll()

	for c := range g.cmdLists {
		c.release()
	}
	clear(g.cmdLists)

	g.swap.destroy()
	g.ring.Reset()

	for h, a := range g.memory {
		g.release(a)
		delete(g.memory, h)
	}
	g.retired = nil
	for vh, v := range g.views {
		g.releaseView(v)
		delete(g.views, vh)
	}

	g.resources.Destroy()
	g.dynamic.Destroy()
	g.closed = true

	if g.instance != nil {
		g.device.Destroy()
		g.instance.Destroy()
		g.instance = nil
	}
	slogger().Info("g3d: closed")
	return nil
}
