package g3d

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d/internal/alloc"
	"github.com/gogpu/g3d/internal/descriptor"
)

// RootConstants sets the 32-bit values of a constants parameter.
type RootConstants struct {
	Param  uint32
	Values []uint32
}

// RootConstantBuffer binds a constant buffer view to a CBV parameter.
type RootConstantBuffer struct {
	Param uint32
	View  ViewHandle
}

// RootTable binds views to a table parameter, one per descriptor of
// its ranges, in range order.
type RootTable struct {
	Param uint32
	Views []ViewHandle
}

// Bindings is everything one draw binds, expressed against the root
// signature set on the command list.
type Bindings struct {
	Constants       []RootConstants
	ConstantBuffers []RootConstantBuffer
	Tables          []RootTable
}

// SetBindings applies b to the current render pass of c.
//
// Tables copy each view's current-frame descriptor into the current
// descriptor stack; constants are written to transient dynamic memory.
// Both, and the bind groups built from them, live until the frame's
// stack is recycled. Every memory referenced is stamped with the
// current frame.
func (g *Gpu) SetBindings(c *CmdList, b *Bindings) error {
	if c.pass == nil {
		return fmt.Errorf("%w: bindings outside a render pass", ErrCmdListState)
	}
	rs := c.rootSig
	if rs == nil {
		return ErrNoRootSignature
	}

	for _, rc := range b.Constants {
		p, err := rs.param(rc.Param, ParamConstants)
		if err != nil {
			return err
		}
		if uint32(len(rc.Values)) > p.Num32BitValues { //nolint:gosec // G115: small slices
			return fmt.Errorf("%w: %d constants for parameter %d of %d values",
				ErrBindingMismatch, len(rc.Values), rc.Param, p.Num32BitValues)
		}
		block := g.transient(uint64(p.Num32BitValues) * 4)
		for i, v := range rc.Values {
			binary.LittleEndian.PutUint32(block.CPU[i*4:], v)
		}
		clear(block.CPU[len(rc.Values)*4:])
		entries := []gputypes.BindGroupEntry{{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: block.Buffer.NativeHandle(),
				Offset: block.Offset,
				Size:   uint64(p.Num32BitValues) * 4,
			},
		}}
		g.bindGroup(c, rs, rc.Param, entries)
	}

	for _, cb := range b.ConstantBuffers {
		if _, err := rs.param(cb.Param, ParamConstantBuffer); err != nil {
			return err
		}
		d, err := g.bindable(cb.View, descriptor.KindConstantBuffer)
		if err != nil {
			return err
		}
		entries := []gputypes.BindGroupEntry{{Binding: 0, Resource: bufferBinding(d)}}
		g.bindGroup(c, rs, cb.Param, entries)
	}

	for _, t := range b.Tables {
		if err := g.bindTable(c, rs, t); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gpu) bindTable(c *CmdList, rs *RootSignature, t RootTable) error {
	p, err := rs.param(t.Param, ParamTable)
	if err != nil {
		return err
	}
	if len(t.Views) != p.descriptorCount() {
		return fmt.Errorf("%w: %d views for table %d of %d descriptors",
			ErrBindingMismatch, len(t.Views), t.Param, p.descriptorCount())
	}

	src := make([]descriptor.Descriptor, 0, len(t.Views))
	i := 0
	for _, r := range p.Ranges {
		want := descriptor.KindShaderResource
		if r.Kind == RangeConstantBuffer {
			want = descriptor.KindConstantBuffer
		}
		for range r.Count {
			d, err := g.bindable(t.Views[i], want)
			if err != nil {
				return err
			}
			src = append(src, d)
			i++
		}
	}

	var table []descriptor.Descriptor
	if len(src) > 0 {
		h, err := g.ring.CopyToCurrent(src...)
		if err != nil {
			return fmt.Errorf("g3d: table %d: %w", t.Param, err)
		}
		if table, err = g.ring.Table(h, len(src)); err != nil {
			return fmt.Errorf("g3d: table %d: %w", t.Param, err)
		}
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(table)+len(rs.samplers[t.Param]))
	for j, d := range table {
		e := gputypes.BindGroupEntry{Binding: uint32(j)} //nolint:gosec // G115: table sizes are small
		if d.Kind == descriptor.KindConstantBuffer {
			e.Resource = bufferBinding(d)
		} else {
			e.Resource = gputypes.TextureViewBinding{TextureView: d.View.NativeHandle()}
		}
		entries = append(entries, e)
	}
	for j, s := range rs.samplers[t.Param] {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(len(table) + j), //nolint:gosec // G115: table sizes are small
			Resource: gputypes.SamplerBinding{Sampler: s.NativeHandle()},
		})
	}
	g.bindGroup(c, rs, t.Param, entries)
	return nil
}

// bindable resolves vh to its current-frame descriptor, checks its kind
// and stamps its memory with the current frame.
func (g *Gpu) bindable(vh ViewHandle, want descriptor.Kind) (descriptor.Descriptor, error) {
	v, a, err := g.resolveView(vh)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	if v.kind != want {
		return descriptor.Descriptor{}, fmt.Errorf("%w: %s is not bindable here", ErrWrongKind, vh)
	}
	if a != nil {
		g.touch(a)
	}
	return v.current(g.frameIndex), nil
}

// bindGroup creates a transient bind group, sets it on the pass and
// ties its lifetime to the current descriptor stack.
func (g *Gpu) bindGroup(c *CmdList, rs *RootSignature, param uint32, entries []gputypes.BindGroupEntry) {
	group, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s/%d", rs.desc.Label, param),
		Layout:  rs.groups[param],
		Entries: entries,
	})
	if err != nil {
		fatal("g3d: bind parameter %d of %q: %w", param, rs.desc.Label, err)
	}
	c.pass.SetBindGroup(param, group, nil)
	g.ring.Defer(func() { g.device.DestroyBindGroup(group) })
}

// transient carves a block of per-frame memory that is released when
// the current descriptor stack is recycled.
func (g *Gpu) transient(size uint64) alloc.Block {
	b, err := g.dynamic.Allocate(alignUp(size, 16), UniformAlignment)
	if err != nil {
		fatal("g3d: transient constants: %w", err)
	}
	g.ring.Defer(func() {
		if err := g.dynamic.Deallocate(b); err != nil {
			slogger().Warn("g3d: release transient constants", "err", err)
		}
	})
	return b
}

func bufferBinding(d descriptor.Descriptor) gputypes.BufferBinding {
	return gputypes.BufferBinding{Buffer: d.Buffer.NativeHandle(), Offset: d.Offset, Size: d.Size}
}

// param returns root parameter i, checking its kind.
func (rs *RootSignature) param(i uint32, kind ParameterKind) (*RootParameter, error) {
	if int(i) >= len(rs.desc.Parameters) {
		return nil, fmt.Errorf("%w: parameter %d of %d", ErrBindingMismatch, i, len(rs.desc.Parameters))
	}
	p := &rs.desc.Parameters[i]
	if p.Kind != kind {
		return nil, fmt.Errorf("%w: parameter %d is %s, not %s", ErrBindingMismatch, i, p.Kind, kind)
	}
	return p, nil
}
