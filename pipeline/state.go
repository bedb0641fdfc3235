package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/watch"
)

// Default entry point names.
const (
	DefaultVertexEntry   = "vs_main"
	DefaultFragmentEntry = "fs_main"
)

// FrameTracker reports GPU progress by frame id. *g3d.Gpu implements it.
type FrameTracker interface {
	CurrentFrameID() uint64
	IsFrameFinished(id uint64) bool
}

// Host is the device a State builds pipelines on. *g3d.Gpu implements it.
type Host interface {
	FrameTracker
	Device() hal.Device
	CreateRootSignature(desc g3d.RootSignatureDesc) (*g3d.RootSignature, error)
}

// Desc describes a hot-reloadable render pipeline.
type Desc struct {
	Name string

	// ShaderPath is a WGSL file holding the vertex and fragment entry points.
	ShaderPath string

	// RootSignaturePath is a JSON root signature file.
	RootSignaturePath string

	// VertexEntry defaults to vs_main. FragmentEntry defaults to fs_main
	// and is ignored by depth-only pipelines (no ColorFormats).
	VertexEntry   string
	FragmentEntry string

	VertexBuffers []gputypes.VertexBufferLayout
	ColorFormats  []gputypes.TextureFormat

	// DepthFormat enables depth testing and writing when set.
	// DepthCompare defaults to less.
	DepthFormat         gputypes.TextureFormat
	DepthCompare        gputypes.CompareFunction
	DepthBias           int32
	DepthBiasSlopeScale float32

	Topology gputypes.PrimitiveTopology
	CullMode gputypes.CullMode
}

func (d *Desc) vertexEntry() string {
	if d.VertexEntry == "" {
		return DefaultVertexEntry
	}
	return d.VertexEntry
}

func (d *Desc) fragmentEntry() string {
	if d.FragmentEntry == "" {
		return DefaultFragmentEntry
	}
	return d.FragmentEntry
}

// sources is a compiled and checked combination of shader and root
// signature, ready to be built on the GPU.
type sources struct {
	shader  string
	rootSig g3d.RootSignatureDesc
	version uint64

	// seq orders snapshots by when their files were read.
	seq uint64
}

// slot is one of the two pipeline objects of a State.
type slot struct {
	shader   hal.ShaderModule
	rootSig  *g3d.RootSignature
	pipeline hal.RenderPipeline
	version  uint64

	// frameID is the last frame that bound the slot; 0 if none did.
	frameID uint64
}

func (sl *slot) destroy(device hal.Device) {
	if sl.pipeline != nil {
		device.DestroyRenderPipeline(sl.pipeline)
	}
	if sl.rootSig != nil {
		sl.rootSig.Destroy()
	}
	if sl.shader != nil {
		device.DestroyShaderModule(sl.shader)
	}
	*sl = slot{}
}

// State is a double-buffered, hot-reloadable render pipeline.
//
// ApplyState, Close and the accessors belong to the submitting
// goroutine. OnFileChanged may be called from any goroutine; it
// compiles there and hands the result over through a channel.
type State struct {
	host Host
	desc Desc

	slots   [2]slot
	active  int // -1 until a build succeeds
	pending *sources
	updates chan *sources
	closed  atomic.Bool

	// Compiler side, guarded by mu. Compilation itself runs unlocked.
	mu      sync.Mutex
	shader  *string
	rootSig *g3d.RootSignatureDesc
	version uint64
	seq     uint64
	posted  uint64
}

// New loads and compiles both files and builds the first pipeline. A
// compile failure is logged, not returned: the State is then invalid
// and ApplyState reports false until a fixed file is loaded.
func New(host Host, desc Desc) (*State, error) {
	if host == nil || desc.ShaderPath == "" || desc.RootSignaturePath == "" {
		return nil, fmt.Errorf("%w: %q needs a host, a shader and a root signature", ErrDesc, desc.Name)
	}
	if desc.Name == "" {
		desc.Name = filepath.Base(desc.ShaderPath)
	}
	s := &State{
		host:    host,
		desc:    desc,
		active:  -1,
		updates: make(chan *sources, 1),
	}
	s.reloadRootSignature()
	s.reloadShader()
	s.update()
	return s, nil
}

// Watch registers the State's files with m.
func (s *State) Watch(m *watch.Monitor) error {
	for _, p := range []string{s.desc.ShaderPath, s.desc.RootSignaturePath} {
		if err := m.AddListener(p, s.OnFileChanged); err != nil {
			return fmt.Errorf("pipeline %q: %w", s.desc.Name, err)
		}
	}
	return nil
}

// OnFileChanged reloads the file at path if it belongs to the State,
// compiles the combination with the other file and queues the result.
// Failures are logged and leave the running pipeline alone.
func (s *State) OnFileChanged(path string) {
	if s.closed.Load() {
		return
	}
	switch filepath.Clean(path) {
	case filepath.Clean(s.desc.ShaderPath):
		s.reloadShader()
	case filepath.Clean(s.desc.RootSignaturePath):
		s.reloadRootSignature()
	}
}

func (s *State) reloadShader() {
	data, err := os.ReadFile(s.desc.ShaderPath)
	if err != nil {
		logger().Warn("pipeline: read shader", "name", s.desc.Name, "err", err)
		return
	}
	src := string(data)
	s.mu.Lock()
	s.shader = &src
	s.mu.Unlock()
	s.compile()
}

func (s *State) reloadRootSignature() {
	rs, err := LoadRootSignature(s.desc.RootSignaturePath)
	if err != nil {
		logger().Warn("pipeline: load root signature", "name", s.desc.Name, "err", err)
		return
	}
	s.mu.Lock()
	s.rootSig = &rs
	s.mu.Unlock()
	s.compile()
}

// compile checks the newest shader against the newest root signature
// and posts the pair on success.
func (s *State) compile() {
	src := s.snapshot()
	if src == nil {
		return
	}
	if err := s.check(src.shader, src.rootSig); err != nil {
		logger().Warn("pipeline: compile failed, keeping the previous state",
			"name", s.desc.Name, "err", err)
		return
	}
	s.publish(src)
}

// snapshot copies the current file contents, or returns nil while one
// of them has never loaded.
func (s *State) snapshot() *sources {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shader == nil || s.rootSig == nil {
		return nil
	}
	s.seq++
	return &sources{shader: *s.shader, rootSig: *s.rootSig, seq: s.seq}
}

// publish numbers src and posts it, unless a snapshot taken after it
// was already posted.
func (s *State) publish(src *sources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.seq < s.posted {
		logger().Debug("pipeline: dropping superseded compile", "name", s.desc.Name)
		return
	}
	s.posted = src.seq
	s.version++
	src.version = s.version
	s.post(src)
}

func (s *State) check(shader string, rs g3d.RootSignatureDesc) error {
	module, err := compileShader(shader)
	if err != nil {
		return err
	}
	if err := checkEntryPoint(module, s.desc.vertexEntry(), ir.StageVertex); err != nil {
		return err
	}
	if len(s.desc.ColorFormats) > 0 {
		if err := checkEntryPoint(module, s.desc.fragmentEntry(), ir.StageFragment); err != nil {
			return err
		}
	}
	return checkBindings(module, rs)
}

// post queues u, replacing an update the submitting goroutine has not
// picked up yet.
func (s *State) post(u *sources) {
	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// ApplyState sets the active pipeline and its root signature on c,
// first promoting a pending update if a slot is safe to rebuild. It
// reports false when there is nothing valid to draw with; the caller
// skips the draw.
func (s *State) ApplyState(c *g3d.CmdList) bool {
	s.update()
	if s.active < 0 {
		return false
	}
	sl := &s.slots[s.active]
	if err := c.SetPipeline(sl.pipeline, sl.rootSig); err != nil {
		logger().Warn("pipeline: apply", "name", s.desc.Name, "err", err)
		return false
	}
	sl.frameID = s.host.CurrentFrameID()
	return true
}

// update takes the newest posted sources and rebuilds a slot whose
// last frame has retired, staging slot first. With both slots in
// flight the update stays pending.
func (s *State) update() {
	select {
	case u := <-s.updates:
		s.pending = u
	default:
	}
	if s.pending == nil {
		return
	}

	for _, i := range s.candidates() {
		sl := &s.slots[i]
		if sl.frameID != 0 && !s.host.IsFrameFinished(sl.frameID) {
			continue
		}
		next, err := s.build(s.pending, i)
		if err != nil {
			logger().Warn("pipeline: build failed, keeping the previous state",
				"name", s.desc.Name, "version", s.pending.version, "err", err)
			// Not retried; the next edit posts a new update.
			s.pending = nil
			return
		}
		sl.destroy(s.host.Device())
		*sl = next
		s.active = i
		logger().Info("pipeline: promoted", "name", s.desc.Name, "slot", i, "version", next.version)
		s.pending = nil
		return
	}
	logger().Debug("pipeline: both slots in flight, update deferred",
		"name", s.desc.Name, "version", s.pending.version)
}

func (s *State) candidates() [2]int {
	if s.active < 0 {
		return [2]int{0, 1}
	}
	return [2]int{1 - s.active, s.active}
}

// build creates the GPU objects of src for slot i.
func (s *State) build(src *sources, i int) (slot, error) {
	device := s.host.Device()
	label := fmt.Sprintf("%s/%d", s.desc.Name, i)
	next := slot{version: src.version}

	var err error
	next.shader, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: src.shader},
	})
	if err != nil {
		return slot{}, fmt.Errorf("create shader module: %w", err)
	}
	next.rootSig, err = s.host.CreateRootSignature(src.rootSig)
	if err != nil {
		next.destroy(device)
		return slot{}, err
	}
	next.pipeline, err = device.CreateRenderPipeline(s.pipelineDesc(label, next.shader, next.rootSig))
	if err != nil {
		next.destroy(device)
		return slot{}, fmt.Errorf("create render pipeline: %w", err)
	}
	return next, nil
}

func (s *State) pipelineDesc(label string, shader hal.ShaderModule, rs *g3d.RootSignature) *hal.RenderPipelineDescriptor {
	d := &s.desc
	pd := &hal.RenderPipelineDescriptor{
		Label:  label,
		Layout: rs.Layout(),
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: d.vertexEntry(),
			Buffers:    d.VertexBuffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology: d.Topology,
			CullMode: d.CullMode,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	}
	if d.DepthFormat != gputypes.TextureFormatUndefined {
		compare := d.DepthCompare
		if compare == gputypes.CompareFunctionUndefined {
			compare = gputypes.CompareFunctionLess
		}
		keep := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		pd.DepthStencil = &hal.DepthStencilState{
			Format:              d.DepthFormat,
			DepthWriteEnabled:   true,
			DepthCompare:        compare,
			StencilFront:        keep,
			StencilBack:         keep,
			DepthBias:           d.DepthBias,
			DepthBiasSlopeScale: d.DepthBiasSlopeScale,
		}
	}
	if len(d.ColorFormats) > 0 {
		targets := make([]gputypes.ColorTargetState, len(d.ColorFormats))
		for i, f := range d.ColorFormats {
			targets[i] = gputypes.ColorTargetState{Format: f, WriteMask: gputypes.ColorWriteMaskAll}
		}
		pd.Fragment = &hal.FragmentState{
			Module:     shader,
			EntryPoint: d.fragmentEntry(),
			Targets:    targets,
		}
	}
	return pd
}

// Valid reports whether a pipeline has been built.
func (s *State) Valid() bool { return s.active >= 0 }

// Pipeline returns the active pipeline, or nil.
func (s *State) Pipeline() hal.RenderPipeline {
	if s.active < 0 {
		return nil
	}
	return s.slots[s.active].pipeline
}

// RootSignature returns the active root signature, or nil.
func (s *State) RootSignature() *g3d.RootSignature {
	if s.active < 0 {
		return nil
	}
	return s.slots[s.active].rootSig
}

// Version returns the version of the active pipeline: 1 for the first
// successful compile, incremented by each later one. Zero when invalid.
func (s *State) Version() uint64 {
	if s.active < 0 {
		return 0
	}
	return s.slots[s.active].version
}

// Pending reports whether a compiled update is waiting for a slot.
func (s *State) Pending() bool { return s.pending != nil || len(s.updates) > 0 }

// Close destroys both slots. The caller makes sure the GPU is done with
// them, for example with Gpu.WaitAll.
func (s *State) Close() {
	if s.closed.Swap(true) {
		return
	}
	device := s.host.Device()
	for i := range s.slots {
		s.slots[i].destroy(device)
	}
	s.active = -1
	s.pending = nil
	select {
	case <-s.updates:
	default:
	}
}
