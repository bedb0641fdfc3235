package alloc

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func createNoopDevice(t *testing.T) (hal.Device, func()) {
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
	return openDev.Device, cleanup
}

func TestAllocateAlignment(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	tests := []struct {
		size, alignment uint64
	}{
		{1, 1},
		{3, 4},
		{17, 16},
		{100, 256},
		{256, 256},
		{300, 512},
		{5, 4096},
		{64, 64},
	}
	for _, tt := range tests {
		b, err := a.Allocate(tt.size, tt.alignment)
		if err != nil {
			t.Fatalf("Allocate(%d, %d): %v", tt.size, tt.alignment, err)
		}
		if b.Offset%tt.alignment != 0 {
			t.Errorf("Allocate(%d, %d): offset %d not aligned", tt.size, tt.alignment, b.Offset)
		}
		if b.Size < tt.size || b.Size%tt.alignment != 0 {
			t.Errorf("Allocate(%d, %d): size %d", tt.size, tt.alignment, b.Size)
		}
		if uint64(len(b.CPU)) != b.Size {
			t.Errorf("Allocate(%d, %d): CPU len %d, size %d", tt.size, tt.alignment, len(b.CPU), b.Size)
		}
		if p := uintptr(unsafe.Pointer(&b.CPU[0])); uint64(p)%tt.alignment != 0 {
			t.Errorf("Allocate(%d, %d): CPU pointer %#x not aligned", tt.size, tt.alignment, p)
		}
	}
}

func TestAllocateBlocksDoNotOverlap(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	var blocks []Block
	for i := 0; i < 64; i++ {
		b, err := a.Allocate(uint64(100+i*7), 256)
		if err != nil {
			t.Fatal(err)
		}
		for j := range b.CPU {
			b.CPU[j] = byte(i)
		}
		blocks = append(blocks, b)
	}
	for i, b := range blocks {
		for _, v := range b.CPU {
			if v != byte(i) {
				t.Fatalf("block %d overwritten by another block", i)
			}
		}
	}
}

func TestAllocateGrowsPages(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	half := uint64(MinPageSize / 2)
	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(half, 256); err != nil {
			t.Fatal(err)
		}
	}
	if a.Pages() != 2 {
		t.Errorf("Pages = %d, want 2", a.Pages())
	}
	if a.Used() != 3*half {
		t.Errorf("Used = %d, want %d", a.Used(), 3*half)
	}
}

func TestAllocFreeCyclesDoNotGrow(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	// A working set of 8 blocks recycled many times must stay in one page.
	live := make([]Block, 8)
	for i := range live {
		b, err := a.Allocate(256, 256)
		if err != nil {
			t.Fatal(err)
		}
		live[i] = b
	}
	for cycle := 0; cycle < 2000; cycle++ {
		i := cycle % len(live)
		if err := a.Deallocate(live[i]); err != nil {
			t.Fatal(err)
		}
		b, err := a.Allocate(256, 256)
		if err != nil {
			t.Fatal(err)
		}
		live[i] = b
	}
	if a.Pages() != 1 {
		t.Errorf("Pages = %d after alloc/free cycles, want 1", a.Pages())
	}
	if a.Used() != 8*256 {
		t.Errorf("Used = %d, want %d", a.Used(), 8*256)
	}
}

func TestDeallocateReusesSpan(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	whole, err := a.Allocate(MinPageSize, 256)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(whole); err != nil {
		t.Fatal(err)
	}
	again, err := a.Allocate(MinPageSize, 256)
	if err != nil {
		t.Fatal(err)
	}
	if a.Pages() != 1 || again.Offset != 0 {
		t.Errorf("freed page not reused: pages=%d offset=%d", a.Pages(), again.Offset)
	}
}

func TestDeallocateTwice(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	b, err := a.Allocate(1024, 256)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(b); err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(b); !errors.Is(err, ErrForeignBlock) {
		t.Fatalf("second Deallocate err = %v, want ErrForeignBlock", err)
	}

	// The span went back once, so two new blocks cannot overlap.
	x, _ := a.Allocate(1024, 256)
	y, _ := a.Allocate(1024, 256)
	if x.Page() == y.Page() && x.Offset < y.Offset+y.Size && y.Offset < x.Offset+x.Size {
		t.Errorf("blocks overlap: [%d,+%d) and [%d,+%d)", x.Offset, x.Size, y.Offset, y.Size)
	}
	if a.Used() != 2048 {
		t.Errorf("Used = %d, want 2048", a.Used())
	}
}

func TestNoCoalescing(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	quarter := uint64(MinPageSize / 4)
	var bs []Block
	for i := 0; i < 4; i++ {
		b, err := a.Allocate(quarter, 256)
		if err != nil {
			t.Fatal(err)
		}
		bs = append(bs, b)
	}
	_ = a.Deallocate(bs[0])
	_ = a.Deallocate(bs[1])

	// Two adjacent free quarters are not merged, so half a page needs a new page.
	if _, err := a.Allocate(2*quarter, 256); err != nil {
		t.Fatal(err)
	}
	if a.Pages() != 2 {
		t.Errorf("Pages = %d, want 2 (spans must not coalesce)", a.Pages())
	}
}

func TestAllocateErrors(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	a := New(device, Config{PageSize: MinPageSize})
	defer a.Destroy()

	tests := []struct {
		name            string
		size, alignment uint64
		want            error
	}{
		{"zero size", 0, 256, ErrZeroSize},
		{"bad alignment", 16, 3, ErrInvalidAlignment},
		{"too large", MinPageSize + 1, 1, ErrTooLarge},
		{"too large after rounding", MinPageSize - 1, MinPageSize * 2, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Allocate(tt.size, tt.alignment); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if err := a.Deallocate(Block{page: 5}); !errors.Is(err, ErrForeignBlock) {
		t.Errorf("Deallocate foreign block err = %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	device, cleanup := createNoopDevice(t)
	defer cleanup()

	if got := New(device, Config{}).PageSize(); got != DefaultPageSize {
		t.Errorf("default PageSize = %d", got)
	}
	if got := New(device, Config{PageSize: 10}).PageSize(); got != MinPageSize {
		t.Errorf("clamped PageSize = %d", got)
	}
}
