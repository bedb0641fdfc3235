package g3d

import "time"

// frameTimeWindow is the number of frames FrameStats averages over.
const frameTimeWindow = 64

// FrameStats is a snapshot of per-frame counters.
type FrameStats struct {
	// Frames is the number of presented frames.
	Frames uint64

	// FrameTime is the CPU time between the last two PresentFrame calls.
	FrameTime time.Duration

	// AverageFrameTime averages FrameTime over the last 64 frames.
	AverageFrameTime time.Duration

	// GPUTime is the timestamped GPU time of the command lists of the
	// last measured frame. Zero when timestamps are unsupported.
	GPUTime time.Duration

	// BlockingWaits counts PresentFrame calls that had to wait for the GPU.
	BlockingWaits uint64

	// FramesInFlight is the number of frames signaled but not retired.
	FramesInFlight int

	// LastRetiredFrame is the newest retired frame id.
	LastRetiredFrame uint64

	// DynamicPages and DynamicBytes describe the dynamic allocator.
	DynamicPages int
	DynamicBytes uint64

	// PendingFrees is the number of freed handles awaiting release.
	PendingFrees int

	// Allocations and Views count live handles.
	Allocations int
	Views       int
}

type frameStats struct {
	frames    uint64
	samples   uint64
	last      time.Time
	times     [frameTimeWindow]time.Duration
	gpuTime   time.Duration
	lastGPU   time.Duration
	frameTime time.Duration
}

func (s *frameStats) endFrame(now time.Time) {
	if !s.last.IsZero() {
		s.frameTime = now.Sub(s.last)
		s.times[s.samples%frameTimeWindow] = s.frameTime
		s.samples++
	}
	s.last = now
	s.frames++
	if s.gpuTime > 0 {
		s.lastGPU = s.gpuTime
	}
	s.gpuTime = 0
}

func (s *frameStats) average() time.Duration {
	n := min(s.samples, frameTimeWindow)
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.times[:n] {
		sum += d
	}
	return sum / time.Duration(n) //nolint:gosec // G115: n <= frameTimeWindow
}

// Stats returns the current frame statistics.
func (g *Gpu) Stats() FrameStats {
	return FrameStats{
		Frames:           g.stats.frames,
		FrameTime:        g.stats.frameTime,
		AverageFrameTime: g.stats.average(),
		GPUTime:          g.stats.lastGPU,
		BlockingWaits:    g.sync.Waits(),
		FramesInFlight:   g.sync.InFlight(),
		LastRetiredFrame: g.sync.LastRetired(),
		DynamicPages:     g.dynamic.Pages(),
		DynamicBytes:     g.dynamic.Used(),
		PendingFrees:     len(g.retired),
		Allocations:      len(g.memory),
		Views:            len(g.views),
	}
}
