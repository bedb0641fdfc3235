package g3d

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/g3d/internal/alloc"
)

func TestNewOnNoopBackend(t *testing.T) {
	prev := defaultBackend
	defaultBackend = gputypes.BackendEmpty
	t.Cleanup(func() { defaultBackend = prev })

	g, err := New(WithConfig(Config{Width: 32, Height: 16}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.instance == nil {
		t.Error("New did not keep its instance")
	}
	if w, h := g.SwapChain().Size(); w != 32 || h != 16 {
		t.Errorf("Size() = %dx%d, want 32x16", w, h)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if g.instance != nil {
		t.Error("Close kept the instance")
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(WithConfig(Config{Backend: gputypes.Backend(200)}))
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("New() = %v, want ErrNoBackend", err)
	}
}

func TestConfigNormalized(t *testing.T) {
	d := DefaultConfig()
	tests := []struct {
		name  string
		in    Config
		check func(Config) bool
	}{
		{"zero is default", Config{}, func(c Config) bool {
			return c.FramesInFlight == DefaultFramesInFlight && c.BackBufferCount == DefaultBackBufferCount &&
				c.Width == DefaultWidth && c.Height == DefaultHeight && c.SurfaceFormat == d.SurfaceFormat
		}},
		{"frames clamped", Config{FramesInFlight: 9}, func(c Config) bool { return c.FramesInFlight == MaxFramesInFlight }},
		{"single back buffer", Config{BackBufferCount: 1}, func(c Config) bool { return c.BackBufferCount == DefaultBackBufferCount }},
		{"small page raised", Config{DynamicPageSize: 1024}, func(c Config) bool { return c.DynamicPageSize == alloc.MinPageSize }},
		{"cap within page", Config{DynamicPageSize: 128 << 10, MaxDynamicAllocation: 1 << 20}, func(c Config) bool {
			return c.MaxDynamicAllocation == 128<<10
		}},
		{"rtvs cover back buffers", Config{BackBufferCount: 4, RenderTargetViews: 2}, func(c Config) bool { return c.RenderTargetViews == 4 }},
		{"half size", Config{Width: 100}, func(c Config) bool { return c.Width == DefaultWidth && c.Height == DefaultHeight }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.normalized(); !tt.check(got) {
				t.Errorf("normalized() = %+v", got)
			}
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	g := newTestGpu(t)
	h := g.AllocateDynamicMemory(128, "cb")
	if _, err := g.CreateConstantBufferView(h); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateCmdList("list"); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if g.dynamic.Pages() != 0 {
		t.Errorf("dynamic pages after Close = %d, want 0", g.dynamic.Pages())
	}

	if _, err := g.AllocateStaticBuffer([]byte{1}, 4, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("AllocateStaticBuffer after Close = %v, want ErrClosed", err)
	}
	if h := g.AllocateDynamicMemory(16, "late"); h != InvalidHandle {
		t.Errorf("AllocateDynamicMemory after Close = %v, want InvalidHandle", h)
	}
	if _, err := g.CreateCmdList("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateCmdList after Close = %v, want ErrClosed", err)
	}
	if _, err := g.CreateNullTextureView(); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateNullTextureView after Close = %v, want ErrClosed", err)
	}
}

func TestFrameIDs(t *testing.T) {
	g := newTestGpu(t)
	if !g.IsFrameFinished(0) {
		t.Error("frame 0 not finished")
	}
	if g.CurrentFrameID() != 1 || g.LastRetiredFrameID() != 0 {
		t.Errorf("start: current %d, retired %d, want 1, 0", g.CurrentFrameID(), g.LastRetiredFrameID())
	}
	var last uint64
	for range 5 {
		g.PresentFrame()
		if r := g.LastRetiredFrameID(); r < last {
			t.Fatalf("LastRetiredFrameID went back from %d to %d", last, r)
		}
		last = g.LastRetiredFrameID()
	}
	if g.CurrentFrameID() != 6 {
		t.Errorf("CurrentFrameID() = %d, want 6", g.CurrentFrameID())
	}
	if !g.IsFrameFinished(5) {
		t.Error("noop frame 5 not finished")
	}
}

// countingWaiter counts latency waits.
type countingWaiter struct{ n int }

func (w *countingWaiter) WaitForFrameLatency() { w.n++ }

func TestStats(t *testing.T) {
	w := &countingWaiter{}
	g := newTestGpu(t, WithLatencyWaiter(w))
	h := g.AllocateDynamicMemory(256, "cb")
	if _, err := g.CreateConstantBufferView(h); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		g.PresentFrame()
	}
	st := g.Stats()
	if st.Frames != 3 {
		t.Errorf("Frames = %d, want 3", st.Frames)
	}
	if st.Allocations != 1 {
		t.Errorf("Allocations = %d, want 1", st.Allocations)
	}
	// One view per back buffer plus the constant buffer view.
	if want := g.Config().BackBufferCount + 1; st.Views != want {
		t.Errorf("Views = %d, want %d", st.Views, want)
	}
	if st.DynamicPages != 1 || st.DynamicBytes == 0 {
		t.Errorf("DynamicPages %d, DynamicBytes %d", st.DynamicPages, st.DynamicBytes)
	}
	if st.GPUTime != 0 {
		t.Errorf("GPUTime = %v without timestamps", st.GPUTime)
	}
	if w.n != 3 {
		t.Errorf("latency waits = %d, want 3", w.n)
	}
}

func TestFrameStatsAverage(t *testing.T) {
	var s frameStats
	if s.average() != 0 {
		t.Error("average of no samples is not zero")
	}
	s.times[0], s.times[1] = 10, 30
	s.samples = 2
	if got := s.average(); got != 20 {
		t.Errorf("average() = %v, want 20", got)
	}
}
