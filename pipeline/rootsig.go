package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/g3d"
)

type rootSignatureFile struct {
	Label      string          `json:"label"`
	Parameters []parameterFile `json:"parameters"`
}

type parameterFile struct {
	Kind       string        `json:"kind"`
	Visibility []string      `json:"visibility,omitempty"`
	Values     uint32        `json:"values,omitempty"`
	Ranges     []rangeFile   `json:"ranges,omitempty"`
	Samplers   []samplerFile `json:"samplers,omitempty"`
}

type rangeFile struct {
	Kind       string `json:"kind"`
	Count      uint32 `json:"count"`
	SampleType string `json:"sampleType,omitempty"`
	Dimension  string `json:"dimension,omitempty"`
}

type samplerFile struct {
	Filter        string `json:"filter,omitempty"`
	Address       string `json:"address,omitempty"`
	Compare       string `json:"compare,omitempty"`
	MaxAnisotropy uint16 `json:"maxAnisotropy,omitempty"`
}

var (
	parameterKinds = map[string]g3d.ParameterKind{
		"constants": g3d.ParamConstants,
		"cbv":       g3d.ParamConstantBuffer,
		"table":     g3d.ParamTable,
	}
	rangeKinds = map[string]g3d.RangeKind{
		"cbv": g3d.RangeConstantBuffer,
		"srv": g3d.RangeShaderResource,
	}
	stages = map[string]gputypes.ShaderStages{
		"vertex":   gputypes.ShaderStageVertex,
		"fragment": gputypes.ShaderStageFragment,
	}
	sampleTypes = map[string]gputypes.TextureSampleType{
		"":      gputypes.TextureSampleTypeUndefined,
		"float": gputypes.TextureSampleTypeFloat,
		"depth": gputypes.TextureSampleTypeDepth,
		"uint":  gputypes.TextureSampleTypeUint,
		"sint":  gputypes.TextureSampleTypeSint,
	}
	dimensions = map[string]gputypes.TextureViewDimension{
		"":         gputypes.TextureViewDimensionUndefined,
		"2d":       gputypes.TextureViewDimension2D,
		"2d-array": gputypes.TextureViewDimension2DArray,
		"cube":     gputypes.TextureViewDimensionCube,
		"3d":       gputypes.TextureViewDimension3D,
	}
	filters = map[string]gputypes.FilterMode{
		"":        gputypes.FilterModeUndefined,
		"nearest": gputypes.FilterModeNearest,
		"linear":  gputypes.FilterModeLinear,
	}
	addressModes = map[string]gputypes.AddressMode{
		"":       gputypes.AddressModeUndefined,
		"clamp":  gputypes.AddressModeClampToEdge,
		"repeat": gputypes.AddressModeRepeat,
		"mirror": gputypes.AddressModeMirrorRepeat,
	}
	compares = map[string]gputypes.CompareFunction{
		"":              gputypes.CompareFunctionUndefined,
		"never":         gputypes.CompareFunctionNever,
		"less":          gputypes.CompareFunctionLess,
		"equal":         gputypes.CompareFunctionEqual,
		"less-equal":    gputypes.CompareFunctionLessEqual,
		"greater":       gputypes.CompareFunctionGreater,
		"not-equal":     gputypes.CompareFunctionNotEqual,
		"greater-equal": gputypes.CompareFunctionGreaterEqual,
		"always":        gputypes.CompareFunctionAlways,
	}
)

// lookup resolves name in table, naming field in the error.
func lookup[T any](table map[string]T, field, name string) (T, error) {
	v, ok := table[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unknown %s %q", ErrRootSignature, field, name)
	}
	return v, nil
}

// ParseRootSignature decodes a JSON root signature file. Unknown
// fields and names are errors.
func ParseRootSignature(data []byte) (g3d.RootSignatureDesc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var f rootSignatureFile
	if err := dec.Decode(&f); err != nil {
		return g3d.RootSignatureDesc{}, fmt.Errorf("%w: %w", ErrRootSignature, err)
	}

	desc := g3d.RootSignatureDesc{Label: f.Label}
	for i, pf := range f.Parameters {
		p, err := pf.desc()
		if err != nil {
			return g3d.RootSignatureDesc{}, fmt.Errorf("parameter %d: %w", i, err)
		}
		desc.Parameters = append(desc.Parameters, p)
	}
	return desc, nil
}

// LoadRootSignature reads and parses a root signature file.
func LoadRootSignature(path string) (g3d.RootSignatureDesc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return g3d.RootSignatureDesc{}, err
	}
	desc, err := ParseRootSignature(data)
	if err != nil {
		return g3d.RootSignatureDesc{}, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

func (pf parameterFile) desc() (g3d.RootParameter, error) {
	var p g3d.RootParameter
	var err error
	if p.Kind, err = lookup(parameterKinds, "parameter kind", pf.Kind); err != nil {
		return p, err
	}
	for _, s := range pf.Visibility {
		stage, err := lookup(stages, "stage", s)
		if err != nil {
			return p, err
		}
		p.Visibility |= stage
	}
	if p.Visibility == gputypes.ShaderStageNone {
		p.Visibility = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}

	switch p.Kind {
	case g3d.ParamConstants:
		if pf.Values == 0 {
			return p, fmt.Errorf("%w: constants need a value count", ErrRootSignature)
		}
		p.Num32BitValues = pf.Values
	case g3d.ParamTable:
		for _, rf := range pf.Ranges {
			r, err := rf.desc()
			if err != nil {
				return p, err
			}
			p.Ranges = append(p.Ranges, r)
		}
		for _, sf := range pf.Samplers {
			s, err := sf.desc()
			if err != nil {
				return p, err
			}
			p.Samplers = append(p.Samplers, s)
		}
	}
	if p.Kind != g3d.ParamTable && (len(pf.Ranges) > 0 || len(pf.Samplers) > 0) {
		return p, fmt.Errorf("%w: ranges on a %s parameter", ErrRootSignature, p.Kind)
	}
	return p, nil
}

func (rf rangeFile) desc() (g3d.DescriptorRange, error) {
	var r g3d.DescriptorRange
	var err error
	if r.Kind, err = lookup(rangeKinds, "range kind", rf.Kind); err != nil {
		return r, err
	}
	if rf.Count == 0 {
		return r, fmt.Errorf("%w: empty %s range", ErrRootSignature, rf.Kind)
	}
	r.Count = rf.Count
	if r.SampleType, err = lookup(sampleTypes, "sample type", rf.SampleType); err != nil {
		return r, err
	}
	if r.Dimension, err = lookup(dimensions, "dimension", rf.Dimension); err != nil {
		return r, err
	}
	return r, nil
}

func (sf samplerFile) desc() (g3d.StaticSampler, error) {
	var s g3d.StaticSampler
	var err error
	if s.Filter, err = lookup(filters, "filter", sf.Filter); err != nil {
		return s, err
	}
	if s.AddressMode, err = lookup(addressModes, "address mode", sf.Address); err != nil {
		return s, err
	}
	if s.Compare, err = lookup(compares, "compare function", sf.Compare); err != nil {
		return s, err
	}
	if sf.MaxAnisotropy > 16 {
		return s, fmt.Errorf("%w: anisotropy %d above 16", ErrRootSignature, sf.MaxAnisotropy)
	}
	s.MaxAnisotropy = sf.MaxAnisotropy
	return s, nil
}
