package upload

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
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
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// recordingQueue counts submissions and checks every one is waited on.
type recordingQueue struct {
	queue     hal.Queue
	submitted []uint64
	waited    []uint64
}

func (q *recordingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	idx, err := q.queue.Submit(cmds)
	q.submitted = append(q.submitted, idx)
	return idx, err
}

func (q *recordingQueue) WaitSubmission(idx uint64) error {
	q.waited = append(q.waited, idx)
	return nil
}

func TestUploadBufferBlocks(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	rq := &recordingQueue{queue: queue}
	u := New(device, rq)

	buf, size, err := u.Buffer(make([]byte, 100), 256, gputypes.BufferUsageVertex, "mesh")
	if err != nil {
		t.Fatal(err)
	}
	if buf == nil || size != 256 {
		t.Errorf("buffer=%v size=%d, want aligned size 256", buf, size)
	}
	if len(rq.submitted) != 1 || len(rq.waited) != 1 || rq.submitted[0] != rq.waited[0] {
		t.Errorf("submitted %v waited %v: upload must wait on its own submission", rq.submitted, rq.waited)
	}

	if _, _, err := u.Buffer(nil, 4, gputypes.BufferUsageVertex, "empty"); !errors.Is(err, ErrEmptyBuffer) {
		t.Errorf("empty upload err = %v", err)
	}
}

func TestUploadTexture(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	rq := &recordingQueue{queue: queue}
	u := New(device, rq)

	desc := &hal.TextureDescriptor{
		Label:         "albedo",
		Size:          hal.Extent3D{Width: 8, Height: 8, DepthOrArrayLayers: 1},
		MipLevelCount: 2,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
	}
	subs := []Subresource{
		{Data: make([]byte, 8*8*4)},
		{Data: make([]byte, 4*4*4)},
	}
	tex, err := u.Texture(desc, subs)
	if err != nil {
		t.Fatal(err)
	}
	if tex == nil {
		t.Fatal("nil texture")
	}
	if len(rq.waited) != 1 {
		t.Errorf("waited %d times, want 1", len(rq.waited))
	}

	if _, err := u.Texture(desc, subs[:1]); !errors.Is(err, ErrSubresourceCount) {
		t.Errorf("missing mip err = %v", err)
	}
	short := []Subresource{{Data: make([]byte, 10)}, subs[1]}
	if _, err := u.Texture(desc, short); !errors.Is(err, ErrShortData) {
		t.Errorf("short data err = %v", err)
	}
}

func TestFootprints(t *testing.T) {
	tests := []struct {
		name      string
		desc      hal.TextureDescriptor
		want      []Footprint
		wantTotal uint64
	}{
		{
			name: "rgba8 with mips",
			desc: hal.TextureDescriptor{
				Size:          hal.Extent3D{Width: 100, Height: 10, DepthOrArrayLayers: 1},
				MipLevelCount: 2,
				Dimension:     gputypes.TextureDimension2D,
				Format:        gputypes.TextureFormatRGBA8Unorm,
			},
			want: []Footprint{
				{Offset: 0, MipLevel: 0, Width: 100, Height: 10, Depth: 1, RowPitch: 512, Rows: 10, RowBytes: 400},
				{Offset: 5120, MipLevel: 1, Width: 50, Height: 5, Depth: 1, RowPitch: 256, Rows: 5, RowBytes: 200},
			},
			wantTotal: 5120 + 1280,
		},
		{
			name: "array layers",
			desc: hal.TextureDescriptor{
				Size:      hal.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 2},
				Dimension: gputypes.TextureDimension2D,
				Format:    gputypes.TextureFormatR8Unorm,
			},
			want: []Footprint{
				{Offset: 0, Width: 4, Height: 4, Depth: 1, RowPitch: 256, Rows: 4, RowBytes: 4},
				{Offset: 1024, ArrayLayer: 1, Width: 4, Height: 4, Depth: 1, RowPitch: 256, Rows: 4, RowBytes: 4},
			},
			wantTotal: 2048,
		},
		{
			name: "block compressed",
			desc: hal.TextureDescriptor{
				Size:      hal.Extent3D{Width: 10, Height: 10, DepthOrArrayLayers: 1},
				Dimension: gputypes.TextureDimension2D,
				Format:    gputypes.TextureFormatBC1RGBAUnorm,
			},
			want: []Footprint{
				{Offset: 0, Width: 10, Height: 10, Depth: 1, RowPitch: 256, Rows: 3, RowBytes: 24},
			},
			wantTotal: 768,
		},
		{
			name: "volume",
			desc: hal.TextureDescriptor{
				Size:      hal.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 3},
				Dimension: gputypes.TextureDimension3D,
				Format:    gputypes.TextureFormatRGBA32Float,
			},
			want: []Footprint{
				{Offset: 0, Width: 2, Height: 2, Depth: 3, RowPitch: 256, Rows: 2, RowBytes: 32},
			},
			wantTotal: 1536,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := Footprints(&tt.desc)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d footprints, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("footprint %d = %+v, want %+v", i, got[i], tt.want[i])
				}
				if got[i].Offset%PlacementAlignment != 0 || got[i].RowPitch%RowPitchAlignment != 0 {
					t.Errorf("footprint %d misaligned: %+v", i, got[i])
				}
			}
		})
	}
}

func TestFootprintsErrors(t *testing.T) {
	_, _, err := Footprints(&hal.TextureDescriptor{
		Size:   hal.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		Format: gputypes.TextureFormatASTC4x4Unorm,
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
	_, _, err = Footprints(&hal.TextureDescriptor{Format: gputypes.TextureFormatRGBA8Unorm})
	if !errors.Is(err, ErrEmptyTexture) {
		t.Errorf("err = %v, want ErrEmptyTexture", err)
	}
}

func TestCopyRowsRespectsPitch(t *testing.T) {
	// 3x2 RGBA8 source with a padded source pitch of 16 bytes.
	fp := Footprint{Offset: 512, Width: 3, Height: 2, Depth: 1, RowPitch: 256, Rows: 2, RowBytes: 12}
	src := make([]byte, 32)
	for i := range src {
		src[i] = byte(i + 1)
	}
	mem := make([]byte, 1024)
	copyRows(mem, fp, Subresource{Data: src, RowPitch: 16})

	if !bytes.Equal(mem[512:524], src[0:12]) {
		t.Errorf("row 0 = %v", mem[512:524])
	}
	if !bytes.Equal(mem[768:780], src[16:28]) {
		t.Errorf("row 1 = %v", mem[768:780])
	}
	for _, b := range mem[524:768] {
		if b != 0 {
			t.Fatal("padding between rows was written")
		}
	}
}

func TestReadback(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, &recordingQueue{queue: queue})
	buf, err := u.Readback(16, "timestamps")
	if err != nil {
		t.Fatal(err)
	}
	data, err := u.Read(buf, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 16 {
		t.Errorf("read %d bytes", len(data))
	}
}
