package g3d

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// timestampSize is the size of one resolved timestamp query.
const timestampSize = 8

// CmdList records GPU commands. It owns one command encoder per frame
// slot, so a slot's encoder is reset only once the frame that last used
// it has retired. It opens at most once per frame.
type CmdList struct {
	g        *Gpu
	name     string
	encoders []hal.CommandEncoder
	spent    [][]hal.CommandBuffer // per slot, reset on the slot's next Open
	slot     int
	open     bool
	opened   uint64 // frame id of the last Open
	ready    hal.CommandBuffer // closed and not yet executed

	pass    hal.RenderPassEncoder
	rootSig *RootSignature

	// Timestamps: two queries per pass, MaxTimestampPasses passes per slot.
	queries  hal.QuerySet
	readback hal.Buffer
	passes   []uint32 // timed passes recorded per slot
	period   float64  // nanoseconds per tick
	gpuTime  time.Duration
}

// CreateCmdList creates a command list. The Gpu releases it on Close
// unless Destroy is called first.
func (g *Gpu) CreateCmdList(name string) (*CmdList, error) {
	if g.closed {
		return nil, ErrClosed
	}
	n := g.cfg.FramesInFlight
	c := &CmdList{
		g:        g,
		name:     name,
		encoders: make([]hal.CommandEncoder, 0, n),
		spent:    make([][]hal.CommandBuffer, n),
		passes:   make([]uint32, n),
	}
	for i := range n {
		enc, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
			Label: fmt.Sprintf("%s/%d", name, i),
		})
		if err != nil {
			c.release()
			return nil, fmt.Errorf("g3d: command list %q: %w", name, err)
		}
		c.encoders = append(c.encoders, enc)
	}

	if g.timestamps {
		if err := c.createQueries(); err != nil {
			c.release()
			return nil, err
		}
	}
	g.cmdLists[c] = struct{}{}
	return c, nil
}

func (c *CmdList) createQueries() error {
	g := c.g
	count := uint32(g.cfg.FramesInFlight * g.cfg.MaxTimestampPasses * 2) //nolint:gosec // G115: small configured values
	qs, err := g.device.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: c.name + " timestamps",
		Type:  hal.QueryTypeTimestamp,
		Count: count,
	})
	if err != nil {
		return fmt.Errorf("g3d: command list %q timestamps: %w", c.name, err)
	}
	rb, err := g.uploader.Readback(uint64(count)*timestampSize, c.name+" timestamps")
	if err != nil {
		g.device.DestroyQuerySet(qs)
		return fmt.Errorf("g3d: command list %q timestamp readback: %w", c.name, err)
	}
	c.queries, c.readback = qs, rb
	c.period = float64(g.queue.Raw().GetTimestampPeriod())
	return nil
}

// Name returns the list's name.
func (c *CmdList) Name() string { return c.name }

// IsOpen reports whether the list is recording.
func (c *CmdList) IsOpen() bool { return c.open }

// Open starts recording into the current frame slot's encoder,
// recycling the command buffers that slot produced last time. A second
// Open in the same frame fails with ErrCmdListState.
func (c *CmdList) Open() error {
	if c.open {
		return fmt.Errorf("%w: %q already open", ErrCmdListState, c.name)
	}
	g := c.g
	if g.closed {
		return ErrClosed
	}
	frame := g.CurrentFrameID()
	if c.opened == frame {
		return fmt.Errorf("%w: %q already opened in frame %d", ErrCmdListState, c.name, frame)
	}
	c.slot = g.frameIndex
	c.collectTimestamps()

	enc := c.encoders[c.slot]
	if len(c.spent[c.slot]) > 0 {
		enc.ResetAll(c.spent[c.slot])
		c.spent[c.slot] = c.spent[c.slot][:0]
	}
	if err := enc.BeginEncoding(c.name); err != nil {
		fatal("g3d: open command list %q: %w", c.name, err)
	}
	c.open = true
	c.opened = frame
	c.ready = nil
	c.rootSig = nil
	return nil
}

// Close ends recording. The list can then be passed to ExecuteCmdLists.
func (c *CmdList) Close() error {
	if !c.open || c.pass != nil {
		return fmt.Errorf("%w: close %q (open %v, in pass %v)", ErrCmdListState, c.name, c.open, c.pass != nil)
	}
	enc := c.encoders[c.slot]
	if n := c.passes[c.slot]; c.queries != nil && n > 0 {
		first := c.firstQuery(c.slot)
		enc.ResolveQuerySet(c.queries, first, n*2, c.readback, uint64(first)*timestampSize)
	}
	buf, err := enc.EndEncoding()
	if err != nil {
		fatal("g3d: close command list %q: %w", c.name, err)
	}
	c.spent[c.slot] = append(c.spent[c.slot], buf)
	c.ready = buf
	c.open = false
	return nil
}

// take hands the recorded buffer to ExecuteCmdLists once.
func (c *CmdList) take() (hal.CommandBuffer, bool) {
	if c.open || c.ready == nil {
		return nil, false
	}
	buf := c.ready
	c.ready = nil
	return buf, true
}

// Encoder returns the command encoder for copies and barriers. It is
// only available while the list is open and outside a render pass.
func (c *CmdList) Encoder() (hal.CommandEncoder, error) {
	if !c.open || c.pass != nil {
		return nil, fmt.Errorf("%w: encoder of %q", ErrCmdListState, c.name)
	}
	return c.encoders[c.slot], nil
}

// ColorAttachment is a render target of a render pass.
type ColorAttachment struct {
	View ViewHandle

	// Clear clears the target to ClearColor instead of loading it.
	Clear      bool
	ClearColor gputypes.Color
}

// DepthAttachment is the depth-stencil target of a render pass.
type DepthAttachment struct {
	View ViewHandle

	// Clear clears depth to ClearDepth instead of loading it.
	Clear      bool
	ClearDepth float32
}

// RenderPassDesc describes a render pass.
type RenderPassDesc struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
}

// BeginRenderPass starts a render pass. Passes within the per-frame
// limit get begin and end timestamps when the device supports them.
func (c *CmdList) BeginRenderPass(desc RenderPassDesc) error {
	if !c.open || c.pass != nil {
		return fmt.Errorf("%w: begin pass %q in %q", ErrCmdListState, desc.Label, c.name)
	}
	g := c.g
	hd := hal.RenderPassDescriptor{Label: desc.Label}
	for _, ca := range desc.Color {
		tv, err := c.attachment(ca.View)
		if err != nil {
			return err
		}
		att := hal.RenderPassColorAttachment{View: tv, LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}
		if ca.Clear {
			att.LoadOp, att.ClearValue = gputypes.LoadOpClear, ca.ClearColor
		}
		hd.ColorAttachments = append(hd.ColorAttachments, att)
	}
	if desc.Depth != nil {
		tv, err := c.attachment(desc.Depth.View)
		if err != nil {
			return err
		}
		att := &hal.RenderPassDepthStencilAttachment{
			View:         tv,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
		if desc.Depth.Clear {
			att.DepthLoadOp, att.DepthClearValue = gputypes.LoadOpClear, desc.Depth.ClearDepth
		}
		hd.DepthStencilAttachment = att
	}

	if c.queries != nil && c.passes[c.slot] < uint32(g.cfg.MaxTimestampPasses) { //nolint:gosec // G115: small configured value
		begin := c.firstQuery(c.slot) + c.passes[c.slot]*2
		end := begin + 1
		hd.TimestampWrites = &hal.RenderPassTimestampWrites{
			QuerySet:                  c.queries,
			BeginningOfPassWriteIndex: &begin,
			EndOfPassWriteIndex:       &end,
		}
		c.passes[c.slot]++
	}

	c.pass = c.encoders[c.slot].BeginRenderPass(&hd)
	return nil
}

func (c *CmdList) attachment(vh ViewHandle) (hal.TextureView, error) {
	v, a, err := c.g.resolveView(vh)
	if err != nil {
		return nil, err
	}
	d := v.current(c.g.frameIndex)
	if d.View == nil {
		return nil, fmt.Errorf("%w: %s has no texture view", ErrInvalidView, vh)
	}
	if a != nil {
		c.g.touch(a)
	}
	return d.View, nil
}

// EndRenderPass ends the current render pass.
func (c *CmdList) EndRenderPass() error {
	if c.pass == nil {
		return fmt.Errorf("%w: no render pass in %q", ErrCmdListState, c.name)
	}
	c.pass.End()
	c.pass = nil
	return nil
}

// Pass returns the current render pass encoder, or nil outside a pass.
func (c *CmdList) Pass() hal.RenderPassEncoder { return c.pass }

// RootSignature returns the signature set by SetPipeline.
func (c *CmdList) RootSignature() *RootSignature { return c.rootSig }

// SetPipeline binds a render pipeline and the root signature its layout
// was created from. SetBindings resolves parameters against rs.
func (c *CmdList) SetPipeline(p hal.RenderPipeline, rs *RootSignature) error {
	if c.pass == nil {
		return fmt.Errorf("%w: set pipeline outside a pass", ErrCmdListState)
	}
	c.pass.SetPipeline(p)
	c.rootSig = rs
	return nil
}

// SetVertexBuffer binds buffer memory h to vertex buffer slot. Dynamic
// memory binds the current frame's copy.
func (c *CmdList) SetVertexBuffer(slot uint32, h Handle, offset uint64) error {
	if c.pass == nil {
		return fmt.Errorf("%w: set vertex buffer outside a pass", ErrCmdListState)
	}
	a, buf, base, size, err := c.g.bufferRange(h)
	if err != nil {
		return err
	}
	if offset >= size {
		return fmt.Errorf("%w: vertex offset %d in %d", ErrOutOfRange, offset, size)
	}
	c.pass.SetVertexBuffer(slot, buf, base+offset)
	c.g.touch(a)
	return nil
}

// SetIndexBuffer binds buffer memory h as the index buffer.
func (c *CmdList) SetIndexBuffer(h Handle, format gputypes.IndexFormat, offset uint64) error {
	if c.pass == nil {
		return fmt.Errorf("%w: set index buffer outside a pass", ErrCmdListState)
	}
	a, buf, base, size, err := c.g.bufferRange(h)
	if err != nil {
		return err
	}
	if offset >= size {
		return fmt.Errorf("%w: index offset %d in %d", ErrOutOfRange, offset, size)
	}
	c.pass.SetIndexBuffer(buf, format, base+offset)
	c.g.touch(a)
	return nil
}

// SetViewport sets the viewport of the current pass.
func (c *CmdList) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	if c.pass != nil {
		c.pass.SetViewport(x, y, width, height, minDepth, maxDepth)
	}
}

// SetScissorRect sets the scissor rectangle of the current pass.
func (c *CmdList) SetScissorRect(x, y, width, height uint32) {
	if c.pass != nil {
		c.pass.SetScissorRect(x, y, width, height)
	}
}

// Draw draws non-indexed primitives.
func (c *CmdList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if c.pass != nil {
		c.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

// DrawIndexed draws indexed primitives.
func (c *CmdList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if c.pass != nil {
		c.pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

// GPUTime returns the GPU time of the passes this list recorded the
// last time the current slot was used. Zero without timestamp support.
func (c *CmdList) GPUTime() time.Duration { return c.gpuTime }

func (c *CmdList) firstQuery(slot int) uint32 {
	return uint32(slot * c.g.cfg.MaxTimestampPasses * 2) //nolint:gosec // G115: small configured values
}

// collectTimestamps reads the resolved queries of the slot about to be
// reused. Its frame has retired, so the values are final.
func (c *CmdList) collectTimestamps() {
	n := c.passes[c.slot]
	c.passes[c.slot] = 0
	if c.queries == nil || n == 0 {
		return
	}
	first := uint64(c.firstQuery(c.slot))
	raw, err := c.g.uploader.Read(c.readback, first*timestampSize, uint64(n)*2*timestampSize)
	if err != nil {
		slogger().Warn("g3d: read timestamps", "list", c.name, "err", err)
		return
	}
	var ticks uint64
	for i := range n {
		begin := binary.LittleEndian.Uint64(raw[i*16:])
		end := binary.LittleEndian.Uint64(raw[i*16+8:])
		if end > begin {
			ticks += end - begin
		}
	}
	c.gpuTime = time.Duration(float64(ticks) * c.period)
}

// Destroy waits for the GPU and releases the list's encoders and
// queries.
func (c *CmdList) Destroy() {
	if _, ok := c.g.cmdLists[c]; !ok {
		return
	}
	c.g.WaitAll()
	c.release()
	delete(c.g.cmdLists, c)
}

func (c *CmdList) release() {
	g := c.g
	for i, enc := range c.encoders {
		if i < len(c.spent) && len(c.spent[i]) > 0 {
			enc.ResetAll(c.spent[i])
			c.spent[i] = nil
		}
		enc.Destroy()
	}
	c.encoders = nil
	if c.queries != nil {
		g.device.DestroyQuerySet(c.queries)
		c.queries = nil
	}
	if c.readback != nil {
		g.device.DestroyBuffer(c.readback)
		c.readback = nil
	}
}
