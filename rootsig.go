package g3d

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ParameterKind is the kind of a root parameter.
type ParameterKind uint8

// Root parameter kinds.
const (
	// ParamConstants is a block of 32-bit values set directly at bind time.
	ParamConstants ParameterKind = iota

	// ParamConstantBuffer is a single constant buffer view.
	ParamConstantBuffer

	// ParamTable is a descriptor table: contiguous ranges of views plus
	// static samplers.
	ParamTable
)

// String returns the kind name.
func (k ParameterKind) String() string {
	switch k {
	case ParamConstants:
		return "constants"
	case ParamConstantBuffer:
		return "cbv"
	case ParamTable:
		return "table"
	default:
		return fmt.Sprintf("ParameterKind(%d)", k)
	}
}

// RangeKind is the kind of views in a descriptor range.
type RangeKind uint8

// Descriptor range kinds.
const (
	RangeConstantBuffer RangeKind = iota
	RangeShaderResource
)

// DescriptorRange is Count consecutive views of one kind in a table.
type DescriptorRange struct {
	Kind  RangeKind
	Count uint32

	// SampleType and Dimension describe shader resource ranges. They
	// default to float and 2D.
	SampleType gputypes.TextureSampleType
	Dimension  gputypes.TextureViewDimension
}

// StaticSampler is a sampler baked into a table's layout.
type StaticSampler struct {
	Filter      gputypes.FilterMode
	AddressMode gputypes.AddressMode

	// Compare makes the sampler a comparison sampler, as used for
	// shadow maps. CompareFunctionUndefined disables comparison.
	Compare gputypes.CompareFunction

	// MaxAnisotropy is 1 (off) through 16. Zero means 1.
	MaxAnisotropy uint16
}

// RootParameter is one bind slot of a root signature.
type RootParameter struct {
	Kind       ParameterKind
	Visibility gputypes.ShaderStages

	// Num32BitValues is the size of a constants parameter.
	Num32BitValues uint32

	// Ranges and Samplers describe a table parameter. Views take
	// bindings 0..n-1 in range order; samplers follow.
	Ranges   []DescriptorRange
	Samplers []StaticSampler
}

// descriptorCount returns the number of views a table parameter binds.
func (p *RootParameter) descriptorCount() int {
	n := 0
	for _, r := range p.Ranges {
		n += int(r.Count)
	}
	return n
}

// RootSignatureDesc describes a root signature.
type RootSignatureDesc struct {
	Label      string
	Parameters []RootParameter
}

// RootSignature is the binding layout of a pipeline. Root parameter i
// is bind group i.
type RootSignature struct {
	desc     RootSignatureDesc
	device   hal.Device
	groups   []hal.BindGroupLayout
	layout   hal.PipelineLayout
	samplers [][]hal.Sampler
}

// CreateRootSignature builds the bind group layouts, static samplers and
// pipeline layout described by desc.
func (g *Gpu) CreateRootSignature(desc RootSignatureDesc) (*RootSignature, error) {
	if g.closed {
		return nil, ErrClosed
	}
	rs := &RootSignature{
		desc:     desc,
		device:   g.device,
		groups:   make([]hal.BindGroupLayout, 0, len(desc.Parameters)),
		samplers: make([][]hal.Sampler, len(desc.Parameters)),
	}
	for i := range desc.Parameters {
		p := &desc.Parameters[i]
		entries, err := layoutEntries(p)
		if err != nil {
			rs.Destroy()
			return nil, fmt.Errorf("g3d: root signature %q parameter %d: %w", desc.Label, i, err)
		}
		layout, err := g.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s/%d", desc.Label, i),
			Entries: entries,
		})
		if err != nil {
			rs.Destroy()
			return nil, fmt.Errorf("g3d: root signature %q parameter %d layout: %w", desc.Label, i, err)
		}
		rs.groups = append(rs.groups, layout)

		for j, ss := range p.Samplers {
			sampler, err := g.device.CreateSampler(samplerDesc(ss, fmt.Sprintf("%s/%d/s%d", desc.Label, i, j)))
			if err != nil {
				rs.Destroy()
				return nil, fmt.Errorf("g3d: root signature %q sampler %d.%d: %w", desc.Label, i, j, err)
			}
			rs.samplers[i] = append(rs.samplers[i], sampler)
		}
	}

	layout, err := g.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: rs.groups,
	})
	if err != nil {
		rs.Destroy()
		return nil, fmt.Errorf("g3d: root signature %q pipeline layout: %w", desc.Label, err)
	}
	rs.layout = layout
	return rs, nil
}

func layoutEntries(p *RootParameter) ([]gputypes.BindGroupLayoutEntry, error) {
	uniform := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: p.Visibility,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}
	}

	switch p.Kind {
	case ParamConstants:
		if p.Num32BitValues == 0 {
			return nil, fmt.Errorf("%w: empty constants", ErrBindingMismatch)
		}
		return []gputypes.BindGroupLayoutEntry{uniform(0)}, nil
	case ParamConstantBuffer:
		return []gputypes.BindGroupLayoutEntry{uniform(0)}, nil
	case ParamTable:
		if len(p.Ranges) == 0 && len(p.Samplers) == 0 {
			return nil, fmt.Errorf("%w: empty table", ErrBindingMismatch)
		}
		var entries []gputypes.BindGroupLayoutEntry
		var binding uint32
		for _, r := range p.Ranges {
			for range r.Count {
				switch r.Kind {
				case RangeConstantBuffer:
					entries = append(entries, uniform(binding))
				case RangeShaderResource:
					entries = append(entries, gputypes.BindGroupLayoutEntry{
						Binding:    binding,
						Visibility: p.Visibility,
						Texture: &gputypes.TextureBindingLayout{
							SampleType:    sampleTypeOr(r.SampleType),
							ViewDimension: dimensionOr(r.Dimension),
						},
					})
				default:
					return nil, fmt.Errorf("%w: range kind %d", ErrBindingMismatch, r.Kind)
				}
				binding++
			}
		}
		for _, ss := range p.Samplers {
			typ := gputypes.SamplerBindingTypeFiltering
			if ss.Compare != gputypes.CompareFunctionUndefined {
				typ = gputypes.SamplerBindingTypeComparison
			}
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    binding,
				Visibility: p.Visibility,
				Sampler:    &gputypes.SamplerBindingLayout{Type: typ},
			})
			binding++
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: parameter kind %s", ErrBindingMismatch, p.Kind)
	}
}

func samplerDesc(ss StaticSampler, label string) *hal.SamplerDescriptor {
	filter := ss.Filter
	if filter == gputypes.FilterModeUndefined {
		filter = gputypes.FilterModeLinear
	}
	address := ss.AddressMode
	if address == gputypes.AddressModeUndefined {
		address = gputypes.AddressModeClampToEdge
	}
	return &hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: filter,
		LodMaxClamp:  32,
		Compare:      ss.Compare,
		Anisotropy:   max(ss.MaxAnisotropy, 1),
	}
}

func sampleTypeOr(t gputypes.TextureSampleType) gputypes.TextureSampleType {
	if t == gputypes.TextureSampleTypeUndefined {
		return gputypes.TextureSampleTypeFloat
	}
	return t
}

func dimensionOr(d gputypes.TextureViewDimension) gputypes.TextureViewDimension {
	if d == gputypes.TextureViewDimensionUndefined {
		return gputypes.TextureViewDimension2D
	}
	return d
}

// Desc returns the description the signature was created from.
func (rs *RootSignature) Desc() RootSignatureDesc { return rs.desc }

// Layout returns the pipeline layout for render pipeline creation.
func (rs *RootSignature) Layout() hal.PipelineLayout { return rs.layout }

// NumParameters returns the number of root parameters.
func (rs *RootSignature) NumParameters() int { return len(rs.desc.Parameters) }

// Destroy releases the layouts and samplers. The caller makes sure no
// frame in flight still uses the signature.
func (rs *RootSignature) Destroy() {
	if rs.layout != nil {
		rs.device.DestroyPipelineLayout(rs.layout)
		rs.layout = nil
	}
	for _, l := range rs.groups {
		rs.device.DestroyBindGroupLayout(l)
	}
	rs.groups = nil
	for _, ss := range rs.samplers {
		for _, s := range ss {
			rs.device.DestroySampler(s)
		}
	}
	rs.samplers = nil
}
