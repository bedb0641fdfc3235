package upload

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Copy layout rules for buffer-to-texture copies.
const (
	// RowPitchAlignment is the required alignment of a staging row pitch.
	RowPitchAlignment = 256

	// PlacementAlignment is the required alignment of each subresource's
	// offset inside the staging buffer.
	PlacementAlignment = 512
)

// Footprint is the staging layout of one texture subresource.
type Footprint struct {
	// Offset is the subresource's byte offset in the staging buffer.
	Offset uint64

	// MipLevel and ArrayLayer identify the subresource.
	MipLevel   uint32
	ArrayLayer uint32

	// Width, Height and Depth are the subresource extent in texels.
	Width  uint32
	Height uint32
	Depth  uint32

	// RowPitch is the padded staging row pitch in bytes.
	RowPitch uint32

	// Rows is the number of block rows per depth slice.
	Rows uint32

	// RowBytes is the tightly packed size of one block row.
	RowBytes uint32
}

// SliceSize returns the staging size of one depth slice.
func (f Footprint) SliceSize() uint64 { return uint64(f.RowPitch) * uint64(f.Rows) }

// Size returns the staging size of the whole subresource.
func (f Footprint) Size() uint64 { return f.SliceSize() * uint64(f.Depth) }

// Footprints computes the staging layout of every subresource of desc,
// ordered layer-major (all mips of layer 0, then layer 1, ...), and the
// total staging size.
func Footprints(desc *hal.TextureDescriptor) ([]Footprint, uint64, error) {
	block, ok := formatBlock(desc.Format)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, desc.Format)
	}
	if desc.Size.Width == 0 || desc.Size.Height == 0 {
		return nil, 0, ErrEmptyTexture
	}
	mips := desc.MipLevelCount
	if mips == 0 {
		mips = 1
	}

	layers := desc.Size.DepthOrArrayLayers
	depth := uint32(1)
	if desc.Dimension == gputypes.TextureDimension3D {
		depth, layers = layers, 1
	}
	if layers == 0 {
		layers = 1
	}
	if depth == 0 {
		depth = 1
	}

	out := make([]Footprint, 0, mips*layers)
	var offset uint64
	for layer := uint32(0); layer < layers; layer++ {
		for mip := uint32(0); mip < mips; mip++ {
			w := max(desc.Size.Width>>mip, 1)
			h := max(desc.Size.Height>>mip, 1)
			d := max(depth>>mip, 1)

			blocksWide := (w + block.width - 1) / block.width
			rows := (h + block.height - 1) / block.height
			rowBytes := blocksWide * block.bytes

			offset = alignUp(offset, PlacementAlignment)
			fp := Footprint{
				Offset:     offset,
				MipLevel:   mip,
				ArrayLayer: layer,
				Width:      w,
				Height:     h,
				Depth:      d,
				RowPitch:   uint32(alignUp(uint64(rowBytes), RowPitchAlignment)), //nolint:gosec // G115: row bytes fit in uint32
				Rows:       rows,
				RowBytes:   rowBytes,
			}
			out = append(out, fp)
			offset += fp.Size()
		}
	}
	return out, offset, nil
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
