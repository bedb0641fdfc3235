//go:build windows && !(js && wasm)

package g3d

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/dx12"
)

func init() {
	defaultBackend = gputypes.BackendDX12
}
