package main

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-5 }

func TestLookAtMovesEyeToOrigin(t *testing.T) {
	eye := mgl32.Vec3{3, 4, 5}
	view := mgl32.LookAtV(eye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	got := view.Mul4x1(eye.Vec4(1))
	for i := range 3 {
		if !near(got[i], 0) {
			t.Fatalf("eye in view space = %v, want origin", got)
		}
	}
	// The target lies straight ahead, down -z.
	target := view.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	if !near(target[0], 0) || !near(target[1], 0) || target[2] >= 0 {
		t.Errorf("target in view space = %v, want on -z", target)
	}
}

func TestProjectionDepthRange(t *testing.T) {
	tests := []struct {
		name      string
		proj      mgl32.Mat4
		near, far float32
	}{
		{"perspective", perspective(math.Pi/3, 1.5, 0.1, 50), 0.1, 50},
		{"orthographic", orthographic(10, 1, 30), 1, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range []struct{ z, want float32 }{{-tt.near, 0}, {-tt.far, 1}} {
				p := tt.proj.Mul4x1(mgl32.Vec4{0, 0, c.z, 1})
				if got := p[2] / p[3]; !near(got, c.want) {
					t.Errorf("depth at z=%v = %v, want %v", c.z, got, c.want)
				}
			}
		})
	}
}

func TestClipDepthKeepsXY(t *testing.T) {
	gl := mgl32.Perspective(math.Pi/3, 1.5, 0.1, 50)
	p := mgl32.Vec4{1, -2, -3, 1}
	want := gl.Mul4x1(p)
	got := perspective(math.Pi/3, 1.5, 0.1, 50).Mul4x1(p)
	for _, i := range []int{0, 1, 3} {
		if !near(got[i], want[i]) {
			t.Errorf("component %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBits(t *testing.T) {
	b := bits(mgl32.Ident4())
	if len(b) != 16 {
		t.Fatalf("len(bits) = %d, want 16", len(b))
	}
	if b[0] != math.Float32bits(1) || b[1] != 0 || b[15] != math.Float32bits(1) {
		t.Errorf("bits(Ident4()) = %v", b)
	}
}
