package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/pipeline"
)

const (
	shadowMapSize = 1024
	vertexStride  = 32 // position, normal, uv

	// sceneConstantsSize is two matrices and the light direction.
	sceneConstantsSize = 2*64 + 16
)

// lightDir is the direction the light travels.
var lightDir = mgl32.Vec3{-0.4, -1, -0.3}.Normalize()

var vertexLayout = []gputypes.VertexBufferLayout{{
	ArrayStride: vertexStride,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: gputypes.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
	},
}}

// scene is a cube standing on a ground plane, lit by one shadow-casting
// directional light.
type scene struct {
	gpu *g3d.Gpu
	log *slog.Logger

	cmd     *g3d.CmdList
	shadow  *pipeline.State
	forward *pipeline.State

	vertices   g3d.Handle
	indices    g3d.Handle
	indexCount uint32

	albedo     g3d.Handle
	albedoView g3d.ViewHandle

	shadowMap g3d.Handle
	shadowDSV g3d.ViewHandle
	shadowSRV g3d.ViewHandle

	depth    g3d.Handle
	depthDSV g3d.ViewHandle

	constants     g3d.Handle
	constantsView g3d.ViewHandle

	lightViewProj mgl32.Mat4
}

func newScene(gpu *g3d.Gpu, assets, albedoPath string, log *slog.Logger) (*scene, error) {
	s := &scene{gpu: gpu, log: log}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	var err error
	if s.cmd, err = gpu.CreateCmdList("scene"); err != nil {
		return nil, err
	}

	vertices, indices := meshData()
	if s.vertices, err = gpu.AllocateStaticBuffer(vertices, 0, "mesh vertices"); err != nil {
		return nil, err
	}
	if s.indices, err = gpu.AllocateStaticBuffer(indices, 0, "mesh indices"); err != nil {
		return nil, err
	}
	s.indexCount = uint32(len(indices) / 2) //nolint:gosec // G115: small mesh

	img, err := loadAlbedo(albedoPath)
	if err != nil {
		return nil, err
	}
	if s.albedo, s.albedoView, err = uploadAlbedo(gpu, img); err != nil {
		return nil, fmt.Errorf("albedo: %w", err)
	}

	if s.shadowMap, err = gpu.AllocateStaticResource(g3d.ResourceDesc{
		Kind: g3d.KindTexture,
		Texture: g3d.TextureDesc{
			Width:  shadowMapSize,
			Height: shadowMapSize,
			Format: gputypes.TextureFormatDepth32Float,
		},
	}, "shadow map"); err != nil {
		return nil, err
	}
	if s.shadowDSV, err = gpu.CreateDepthStencilView(s.shadowMap); err != nil {
		return nil, err
	}
	if s.shadowSRV, err = gpu.CreateTextureView(s.shadowMap); err != nil {
		return nil, err
	}
	if err := s.createDepth(); err != nil {
		return nil, err
	}

	s.constants = gpu.AllocateDynamicMemory(sceneConstantsSize, "scene constants")
	if !s.constants.Valid() {
		return nil, fmt.Errorf("scene constants: %w", g3d.ErrInvalidHandle)
	}
	if s.constantsView, err = gpu.CreateConstantBufferView(s.constants); err != nil {
		return nil, err
	}

	cfg := gpu.Config()
	if s.shadow, err = pipeline.New(gpu, pipeline.Desc{
		Name:                "shadow",
		ShaderPath:          filepath.Join(assets, "shadow.wgsl"),
		RootSignaturePath:   filepath.Join(assets, "shadow.json"),
		VertexBuffers:       vertexLayout,
		DepthFormat:         gputypes.TextureFormatDepth32Float,
		DepthBias:           2,
		DepthBiasSlopeScale: 2,
		CullMode:            gputypes.CullModeFront,
	}); err != nil {
		return nil, err
	}
	if s.forward, err = pipeline.New(gpu, pipeline.Desc{
		Name:              "forward",
		ShaderPath:        filepath.Join(assets, "forward.wgsl"),
		RootSignaturePath: filepath.Join(assets, "forward.json"),
		VertexBuffers:     vertexLayout,
		ColorFormats:      []gputypes.TextureFormat{cfg.SurfaceFormat},
		DepthFormat:       gputypes.TextureFormatDepth32Float,
		CullMode:          gputypes.CullModeBack,
	}); err != nil {
		return nil, err
	}

	s.lightViewProj = orthographic(6, 0.5, 30).Mul4(mgl32.LookAtV(lightDir.Mul(-10), mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}))
	ok = true
	return s, nil
}

// createDepth allocates the scene depth buffer at the swap chain size.
func (s *scene) createDepth() error {
	w, h := s.gpu.SwapChain().Size()
	var err error
	if s.depth, err = s.gpu.AllocateStaticResource(g3d.ResourceDesc{
		Kind:    g3d.KindTexture,
		Texture: g3d.TextureDesc{Width: w, Height: h, Format: gputypes.TextureFormatDepth32Float},
	}, "scene depth"); err != nil {
		return err
	}
	s.depthDSV, err = s.gpu.CreateDepthStencilView(s.depth)
	return err
}

// resize replaces the depth buffer. The old one is released once the
// frames using it retire.
func (s *scene) resize(width, height uint32) error {
	if err := s.gpu.OnResize(width, height); err != nil {
		return err
	}
	if err := s.gpu.FreeMemory(s.depth); err != nil {
		return err
	}
	return s.createDepth()
}

// run renders frames until ctx is done or frames have been presented.
// Zero frames means no limit.
func (s *scene) run(ctx context.Context, frames uint64, resizeAt uint64) error {
	start := time.Now()
	for n := uint64(1); frames == 0 || n <= frames; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n == resizeAt {
			w, h := s.gpu.SwapChain().Size()
			if err := s.resize(w*3/4, h*3/4); err != nil {
				return fmt.Errorf("resize: %w", err)
			}
		}
		if err := s.frame(time.Since(start)); err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		if n%60 == 0 {
			s.logStats()
		}
	}
	s.logStats()
	return nil
}

func (s *scene) frame(elapsed time.Duration) error {
	g, c := s.gpu, s.cmd
	if err := s.updateConstants(elapsed); err != nil {
		return err
	}
	if err := c.Open(); err != nil {
		return err
	}
	sc := g.SwapChain()
	if err := sc.TransitionToRenderTarget(c); err != nil {
		return err
	}

	if err := c.BeginRenderPass(g3d.RenderPassDesc{
		Label: "shadow",
		Depth: &g3d.DepthAttachment{View: s.shadowDSV, Clear: true, ClearDepth: 1},
	}); err != nil {
		return err
	}
	if s.shadow.ApplyState(c) {
		c.SetViewport(0, 0, shadowMapSize, shadowMapSize, 0, 1)
		if err := g.SetBindings(c, &g3d.Bindings{
			Constants: []g3d.RootConstants{{Param: 0, Values: bits(s.lightViewProj)}},
		}); err != nil {
			return err
		}
		if err := s.drawMesh(); err != nil {
			return err
		}
	}
	if err := c.EndRenderPass(); err != nil {
		return err
	}

	bb, err := g.CurrentBackBufferView()
	if err != nil {
		return err
	}
	if err := c.BeginRenderPass(g3d.RenderPassDesc{
		Label: "forward",
		Color: []g3d.ColorAttachment{{View: bb, Clear: true, ClearColor: gputypes.Color{R: 0.05, G: 0.06, B: 0.08, A: 1}}},
		Depth: &g3d.DepthAttachment{View: s.depthDSV, Clear: true, ClearDepth: 1},
	}); err != nil {
		return err
	}
	if s.forward.ApplyState(c) {
		w, h := sc.Size()
		c.SetViewport(0, 0, float32(w), float32(h), 0, 1)
		if err := g.SetBindings(c, &g3d.Bindings{
			ConstantBuffers: []g3d.RootConstantBuffer{{Param: 0, View: s.constantsView}},
			Tables:          []g3d.RootTable{{Param: 1, Views: []g3d.ViewHandle{s.albedoView, s.shadowSRV}}},
		}); err != nil {
			return err
		}
		if err := s.drawMesh(); err != nil {
			return err
		}
	}
	if err := c.EndRenderPass(); err != nil {
		return err
	}

	if err := sc.TransitionToPresent(c); err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return err
	}
	g.ExecuteCmdLists(c)
	g.PresentFrame()
	return nil
}

func (s *scene) drawMesh() error {
	if err := s.cmd.SetVertexBuffer(0, s.vertices, 0); err != nil {
		return err
	}
	if err := s.cmd.SetIndexBuffer(s.indices, gputypes.IndexFormatUint16, 0); err != nil {
		return err
	}
	s.cmd.DrawIndexed(s.indexCount, 1, 0, 0, 0)
	return nil
}

// updateConstants writes this frame's camera into the dynamic constant
// buffer. The camera circles the cube.
func (s *scene) updateConstants(elapsed time.Duration) error {
	w, h := s.gpu.SwapChain().Size()
	angle := elapsed.Seconds() * 0.5
	eye := mgl32.Vec3{float32(6 * math.Cos(angle)), 3, float32(6 * math.Sin(angle))}
	viewProj := perspective(math.Pi/3, float32(w)/float32(h), 0.1, 50).Mul4(mgl32.LookAtV(eye, mgl32.Vec3{0, 0.5, 0}, mgl32.Vec3{0, 1, 0}))

	buf := make([]byte, sceneConstantsSize)
	putMat(buf[0:], viewProj)
	putMat(buf[64:], s.lightViewProj)
	for i, v := range lightDir {
		binary.LittleEndian.PutUint32(buf[128+i*4:], math.Float32bits(v))
	}
	return s.gpu.UpdateMemory(s.constants, buf, 0)
}

func putMat(dst []byte, m mgl32.Mat4) {
	for i, v := range m {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func (s *scene) logStats() {
	st := s.gpu.Stats()
	s.log.Info("frame stats",
		"frames", st.Frames,
		"avg_frame", st.AverageFrameTime,
		"gpu", st.GPUTime,
		"blocking_waits", st.BlockingWaits,
		"in_flight", st.FramesInFlight,
		"dynamic_pages", st.DynamicPages,
		"dynamic_bytes", st.DynamicBytes,
		"pending_frees", st.PendingFrees,
		"shadow_version", s.shadow.Version(),
		"forward_version", s.forward.Version(),
	)
}

// close waits for the GPU and releases everything the scene created.
func (s *scene) close() {
	s.gpu.WaitAll()
	for _, st := range []*pipeline.State{s.shadow, s.forward} {
		if st != nil {
			st.Close()
		}
	}
	if s.cmd != nil {
		s.cmd.Destroy()
	}
	for _, v := range []g3d.ViewHandle{s.albedoView, s.shadowDSV, s.shadowSRV, s.depthDSV, s.constantsView} {
		if v.Valid() {
			_ = s.gpu.DestroyView(v)
		}
	}
	for _, h := range []g3d.Handle{s.vertices, s.indices, s.albedo, s.shadowMap, s.depth, s.constants} {
		if h.Valid() {
			_ = s.gpu.FreeMemory(h)
		}
	}
}

// meshData returns the vertices and uint16 indices of a unit cube
// resting on a 10x10 ground plane.
func meshData() (vertices, indices []byte) {
	type vertex struct {
		pos, normal mgl32.Vec3
		u, v        float32
	}
	var vs []vertex
	var is []uint16
	quad := func(corners [4]mgl32.Vec3, normal mgl32.Vec3, uvScale float32) {
		base := uint16(len(vs)) //nolint:gosec // G115: small mesh
		uvs := [4][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
		for i, c := range corners {
			vs = append(vs, vertex{c, normal, uvs[i][0] * uvScale, uvs[i][1] * uvScale})
		}
		is = append(is, base, base+1, base+2, base, base+2, base+3)
	}

	quad([4]mgl32.Vec3{{-5, 0, 5}, {5, 0, 5}, {5, 0, -5}, {-5, 0, -5}}, mgl32.Vec3{0, 1, 0}, 4)

	type face struct{ normal, u, v mgl32.Vec3 }
	faces := []face{
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
	}
	center := mgl32.Vec3{0, 0.5, 0}
	at := func(f face, a, b float32) mgl32.Vec3 {
		return center.Add(f.normal.Mul(0.5)).Add(f.u.Mul(0.5 * a)).Add(f.v.Mul(0.5 * b))
	}
	for _, f := range faces {
		quad([4]mgl32.Vec3{at(f, -1, -1), at(f, 1, -1), at(f, 1, 1), at(f, -1, 1)}, f.normal, 1)
	}

	vertices = make([]byte, 0, len(vs)*vertexStride)
	for _, v := range vs {
		for _, f := range []float32{v.pos[0], v.pos[1], v.pos[2], v.normal[0], v.normal[1], v.normal[2], v.u, v.v} {
			vertices = binary.LittleEndian.AppendUint32(vertices, math.Float32bits(f))
		}
	}
	indices = make([]byte, 0, len(is)*2)
	for _, i := range is {
		indices = binary.LittleEndian.AppendUint16(indices, i)
	}
	return vertices, indices
}
