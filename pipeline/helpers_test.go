package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/g3d"
)

const forwardWGSL = `
struct Camera {
    view_proj: mat4x4<f32>,
}

@group(0) @binding(0) var<uniform> camera: Camera;
@group(1) @binding(0) var albedo: texture_2d<f32>;
@group(1) @binding(1) var albedo_sampler: sampler;

struct VsOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@location(0) pos: vec3<f32>, @location(1) uv: vec2<f32>) -> VsOut {
    var out: VsOut;
    out.pos = camera.view_proj * vec4<f32>(pos, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VsOut) -> @location(0) vec4<f32> {
    return textureSample(albedo, albedo_sampler, in.uv);
}
`

const forwardRootSig = `{
  "label": "forward",
  "parameters": [
    {"kind": "cbv", "visibility": ["vertex"]},
    {"kind": "table", "visibility": ["fragment"],
     "ranges": [{"kind": "srv", "count": 1}],
     "samplers": [{"filter": "linear", "address": "repeat"}]}
  ]
}`

// tweak returns forwardWGSL with the fragment output scaled, a stand-in
// for an edited shader.
func tweak(scale string) string {
	return strings.Replace(forwardWGSL, "in.uv);", "in.uv) * "+scale+";", 1)
}

// fakeHost is a Gpu whose frame progress the test controls.
type fakeHost struct {
	*g3d.Gpu
	current, retired uint64

	// rootSigErr fails every root signature build while set.
	rootSigErr error
}

func (h *fakeHost) CurrentFrameID() uint64         { return h.current }
func (h *fakeHost) IsFrameFinished(id uint64) bool { return id <= h.retired }

func (h *fakeHost) CreateRootSignature(desc g3d.RootSignatureDesc) (*g3d.RootSignature, error) {
	if h.rootSigErr != nil {
		return nil, h.rootSigErr
	}
	return h.Gpu.CreateRootSignature(desc)
}

func newTestGpu(t *testing.T) *g3d.Gpu {
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
	cfg := g3d.DefaultConfig()
	cfg.Width, cfg.Height = 32, 32
	g, err := g3d.NewWithDevice(openDev.Device, openDev.Queue, g3d.WithConfig(cfg))
	if err != nil {
		t.Fatalf("NewWithDevice failed: %v", err)
	}
	t.Cleanup(func() {
		_ = g.Close()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return g
}

// writeFile writes content to name under dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// forwardFixture writes the forward shader and root signature and
// returns a Desc for them.
func forwardFixture(t *testing.T) (Desc, string) {
	t.Helper()
	dir := t.TempDir()
	desc := Desc{
		Name:              "forward",
		ShaderPath:        writeFile(t, dir, "forward.wgsl", forwardWGSL),
		RootSignaturePath: writeFile(t, dir, "forward.json", forwardRootSig),
		ColorFormats:      []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
		DepthFormat:       gputypes.TextureFormatDepth32Float,
	}
	return desc, dir
}

// recordFrame opens c, begins a pass on the back buffer and runs fn in
// it, then submits and presents.
func recordFrame(t *testing.T, g *g3d.Gpu, c *g3d.CmdList, fn func()) {
	t.Helper()
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	bb, err := g.CurrentBackBufferView()
	if err != nil {
		t.Fatalf("CurrentBackBufferView() error = %v", err)
	}
	if err := c.BeginRenderPass(g3d.RenderPassDesc{
		Label: "test",
		Color: []g3d.ColorAttachment{{View: bb}},
	}); err != nil {
		t.Fatalf("BeginRenderPass() error = %v", err)
	}
	fn()
	if err := c.EndRenderPass(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	g.ExecuteCmdLists(c)
	g.PresentFrame()
}

func chtimes(path string, at time.Time) error { return os.Chtimes(path, at, at) }
