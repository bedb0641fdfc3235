package g3d

// The noop backend is always available for headless runs and tests.
import _ "github.com/gogpu/wgpu/hal/noop"
