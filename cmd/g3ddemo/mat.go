package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// clipDepth remaps GL clip depth [-w, w] to the [0, w] range the
// device expects.
var clipDepth = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// perspective maps view depth to [0, 1]. fovY is in radians.
func perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	return clipDepth.Mul4(mgl32.Perspective(fovY, aspect, near, far))
}

// orthographic maps view depth to [0, 1].
func orthographic(halfWidth, near, far float32) mgl32.Mat4 {
	return clipDepth.Mul4(mgl32.Ortho(-halfWidth, halfWidth, -halfWidth, halfWidth, near, far))
}

// bits returns m as the 32-bit values root constants carry.
func bits(m mgl32.Mat4) []uint32 {
	out := make([]uint32, len(m))
	for i, v := range m {
		out[i] = math.Float32bits(v)
	}
	return out
}
