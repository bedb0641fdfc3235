package g3d

import (
	"time"

	"github.com/gogpu/wgpu/hal"
)

// ExecuteCmdLists submits the closed command lists in order. Lists that
// are still open, or were already submitted since their last Close, are
// skipped with a warning.
func (g *Gpu) ExecuteCmdLists(lists ...*CmdList) {
	cmds := make([]hal.CommandBuffer, 0, len(lists))
	for _, c := range lists {
		buf, ok := c.take()
		if !ok {
			slogger().Warn("g3d: command list not ready for execution", "name", c.name)
			continue
		}
		cmds = append(cmds, buf)
		g.stats.gpuTime += c.gpuTime
	}
	if len(cmds) == 0 {
		return
	}
	if _, err := g.queue.Submit(cmds); err != nil {
		fatal("g3d: execute %d command lists: %w", len(cmds), err)
	}
}

// PresentFrame ends the current frame. In order it presents the back
// buffer, signals the frame on the fence, waits only if the maximum
// number of frames is in flight, waits on the latency object, advances
// the frame slot, recycles that slot's descriptor stack and releases
// freed memory whose frames have all retired.
//
// Afterwards the new frame slot's previous contents are no longer read
// by the GPU.
func (g *Gpu) PresentFrame() {
	g.swap.present()
	g.sync.SignalWork()
	g.sync.Wait()
	if g.latency != nil {
		g.latency.WaitForFrameLatency()
	}

	g.frameIndex = (g.frameIndex + 1) % g.cfg.FramesInFlight
	g.ring.NextStack()
	g.ring.ClearCurrentStack()
	g.reap()

	g.stats.endFrame(time.Now())
}

// reap releases every freed allocation whose slots have all retired.
// Allocations with a slot still in flight stay queued.
func (g *Gpu) reap() {
	retired := g.sync.LastRetired()
	kept := g.retired[:0]
	for _, h := range g.retired {
		a, ok := g.memory[h]
		if !ok {
			continue
		}
		if !a.retiredBy(retired) {
			kept = append(kept, h)
			continue
		}
		g.release(a)
		delete(g.memory, h)
	}
	clear(g.retired[len(kept):])
	g.retired = kept
}

// release invalidates a's views and frees its backing.
func (g *Gpu) release(a *allocation) {
	for _, vh := range a.views {
		if v, ok := g.views[vh]; ok {
			g.releaseView(v)
			delete(g.views, vh)
		}
	}
	a.views = nil
	a.destroy(g)
	slogger().Debug("g3d: memory released", "name", a.name, "handle", a.handle)
}

// PendingFrees returns the number of freed handles not yet released.
func (g *Gpu) PendingFrees() int { return len(g.retired) }
