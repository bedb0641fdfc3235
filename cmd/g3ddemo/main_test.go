package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/pipeline"
)

func TestWriteAssetsKeepsEdits(t *testing.T) {
	dir := t.TempDir()
	edited := filepath.Join(dir, "shadow.wgsl")
	if err := os.WriteFile(edited, []byte("// mine"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := writeAssets(dir); err != nil {
		t.Fatalf("writeAssets() error = %v", err)
	}
	for _, name := range []string{"forward.wgsl", "forward.json", "shadow.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	data, err := os.ReadFile(edited)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "// mine" {
		t.Errorf("existing shadow.wgsl overwritten: %q", data)
	}
}

func TestBuiltInRootSignaturesParse(t *testing.T) {
	for _, name := range []string{"assets/forward.json", "assets/shadow.json"} {
		t.Run(name, func(t *testing.T) {
			data, err := embedded.ReadFile(name)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := pipeline.ParseRootSignature(data); err != nil {
				t.Errorf("ParseRootSignature() error = %v", err)
			}
		})
	}
}

func TestMipChain(t *testing.T) {
	levels := mipChain(checkerboard(64, 8))
	if len(levels) != 7 {
		t.Fatalf("got %d levels, want 7", len(levels))
	}
	for i, l := range levels {
		if want := 64 >> i; l.Bounds().Dx() != want || l.Bounds().Dy() != want {
			t.Errorf("level %d is %v, want %dx%d", i, l.Bounds(), want, want)
		}
	}
}

func TestMeshData(t *testing.T) {
	vertices, indices := meshData()
	if got, want := len(vertices), 28*vertexStride; got != want {
		t.Errorf("vertex bytes = %d, want %d", got, want)
	}
	if got, want := len(indices), 42*2; got != want {
		t.Errorf("index bytes = %d, want %d", got, want)
	}
}

func TestSceneRendersHeadless(t *testing.T) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	openDev, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer openDev.Device.Destroy()

	cfg := g3d.DefaultConfig()
	cfg.Width, cfg.Height = 160, 120
	gpu, err := g3d.NewWithDevice(openDev.Device, openDev.Queue, g3d.WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer gpu.Close()

	dir := t.TempDir()
	if err := writeAssets(dir); err != nil {
		t.Fatal(err)
	}
	sc, err := newScene(gpu, dir, "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newScene() error = %v", err)
	}
	defer sc.close()
	if !sc.shadow.Valid() || !sc.forward.Valid() {
		t.Fatalf("built-in pipelines invalid: shadow %v forward %v", sc.shadow.Valid(), sc.forward.Valid())
	}

	if err := sc.run(context.Background(), 8, 4); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	st := gpu.Stats()
	if st.Frames != 8 {
		t.Errorf("Frames = %d, want 8", st.Frames)
	}
	if w, h := gpu.SwapChain().Size(); w != 120 || h != 90 {
		t.Errorf("swap chain size after resize = %dx%d, want 120x90", w, h)
	}
}
