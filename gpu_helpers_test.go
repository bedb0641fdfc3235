package g3d

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice opens a device on the noop backend. Its buffers are
// plain Go memory, so mapped contents can be inspected.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// newTestGpu creates a headless Gpu on a noop device with a small
// configuration. It is closed when the test ends.
func newTestGpu(t *testing.T, opts ...Option) *Gpu {
	t.Helper()
	device, queue := createNoopDevice(t)
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 64, 64
	cfg.DynamicPageSize = 64 << 10
	cfg.MaxDynamicAllocation = 16 << 10
	g, err := NewWithDevice(device, queue, append([]Option{WithConfig(cfg)}, opts...)...)
	if err != nil {
		t.Fatalf("NewWithDevice failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// newManualGpu creates a test Gpu whose frames retire only when the test
// says so.
func newManualGpu(t *testing.T) (*Gpu, *ManualFence) {
	t.Helper()
	f := NewManualFence()
	g := newTestGpu(t, WithFence(f))
	t.Cleanup(func() {
		// Let Close's WaitAll through.
		f.AutoRetire = true
	})
	return g, f
}
