package pipeline

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/g3d"
)

// bindingKind is what a WGSL resource binding expects.
type bindingKind uint8

const (
	bindUniform bindingKind = iota
	bindTexture
	bindDepthTexture
	bindSampler
	bindComparisonSampler
)

func (k bindingKind) String() string {
	switch k {
	case bindUniform:
		return "uniform buffer"
	case bindTexture:
		return "texture"
	case bindDepthTexture:
		return "depth texture"
	case bindSampler:
		return "sampler"
	case bindComparisonSampler:
		return "comparison sampler"
	default:
		return fmt.Sprintf("bindingKind(%d)", k)
	}
}

type bindingKey struct{ group, binding uint32 }

// compileShader parses, lowers and validates WGSL source.
func compileShader(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: %w (and %d more)", ErrCompile, &verrs[0], len(verrs)-1)
	}
	return module, nil
}

// checkEntryPoint fails unless module has an entry point name of stage.
func checkEntryPoint(module *ir.Module, name string, stage ir.ShaderStage) error {
	for _, ep := range module.EntryPoints {
		if ep.Name == name {
			if ep.Stage != stage {
				return fmt.Errorf("%w: %q has the wrong stage", ErrEntryPoint, name)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q not found", ErrEntryPoint, name)
}

// shaderBindings reflects the @group/@binding resources of module.
func shaderBindings(module *ir.Module) (map[bindingKey]bindingKind, error) {
	out := make(map[bindingKey]bindingKind)
	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		key := bindingKey{gv.Binding.Group, gv.Binding.Binding}
		switch gv.Space {
		case ir.SpaceUniform:
			out[key] = bindUniform
		case ir.SpaceHandle:
			if int(gv.Type) >= len(module.Types) {
				return nil, fmt.Errorf("%w: %s has no type", ErrCompile, gv.Name)
			}
			switch t := module.Types[gv.Type].Inner.(type) {
			case ir.ImageType:
				if t.Class == ir.ImageClassDepth {
					out[key] = bindDepthTexture
				} else {
					out[key] = bindTexture
				}
			case ir.SamplerType:
				if t.Comparison {
					out[key] = bindComparisonSampler
				} else {
					out[key] = bindSampler
				}
			default:
				return nil, fmt.Errorf("%w: %s: unsupported handle type %T", g3d.ErrBindingMismatch, gv.Name, t)
			}
		default:
			return nil, fmt.Errorf("%w: %s: address space %d cannot be bound", g3d.ErrBindingMismatch, gv.Name, gv.Space)
		}
	}
	return out, nil
}

// layoutBindings lists what desc provides at each group and binding.
func layoutBindings(desc g3d.RootSignatureDesc) map[bindingKey]bindingKind {
	out := make(map[bindingKey]bindingKind)
	for i, p := range desc.Parameters {
		group := uint32(i) //nolint:gosec // G115: parameter counts are small
		switch p.Kind {
		case g3d.ParamConstants, g3d.ParamConstantBuffer:
			out[bindingKey{group, 0}] = bindUniform
		case g3d.ParamTable:
			var b uint32
			for _, r := range p.Ranges {
				kind := bindUniform
				if r.Kind == g3d.RangeShaderResource {
					kind = bindTexture
					if r.SampleType == gputypes.TextureSampleTypeDepth {
						kind = bindDepthTexture
					}
				}
				for range r.Count {
					out[bindingKey{group, b}] = kind
					b++
				}
			}
			for _, s := range p.Samplers {
				kind := bindSampler
				if s.Compare != gputypes.CompareFunctionUndefined {
					kind = bindComparisonSampler
				}
				out[bindingKey{group, b}] = kind
				b++
			}
		}
	}
	return out
}

// checkBindings fails if a resource of module is missing from desc or
// has a different kind there. Layout entries the shader does not use
// are fine.
func checkBindings(module *ir.Module, desc g3d.RootSignatureDesc) error {
	used, err := shaderBindings(module)
	if err != nil {
		return err
	}
	layout := layoutBindings(desc)
	for key, kind := range used {
		have, ok := layout[key]
		if !ok {
			return fmt.Errorf("%w: @group(%d) @binding(%d) is not in root signature %q",
				g3d.ErrBindingMismatch, key.group, key.binding, desc.Label)
		}
		if have != kind {
			return fmt.Errorf("%w: @group(%d) @binding(%d) is a %s in the shader and a %s in %q",
				g3d.ErrBindingMismatch, key.group, key.binding, kind, have, desc.Label)
		}
	}
	return nil
}
