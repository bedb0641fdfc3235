// Package upload creates committed GPU resources and fills them with
// initial data through a staging buffer.
//
// Every upload is synchronous: it records a copy, submits it and blocks
// until the GPU has finished before releasing the staging buffer. That
// makes it a load-time tool; per-frame data goes through dynamic memory.
package upload

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Upload errors.
var (
	// ErrUnsupportedFormat is returned for texture formats without a known memory layout.
	ErrUnsupportedFormat = errors.New("upload: unsupported texture format")

	// ErrEmptyTexture is returned for textures with a zero extent.
	ErrEmptyTexture = errors.New("upload: texture has zero extent")

	// ErrEmptyBuffer is returned when uploading no bytes.
	ErrEmptyBuffer = errors.New("upload: buffer data is empty")

	// ErrSubresourceCount is returned when the number of subresources does
	// not match the texture's mip and layer count.
	ErrSubresourceCount = errors.New("upload: subresource count mismatch")

	// ErrShortData is returned when a subresource holds fewer bytes than its extent needs.
	ErrShortData = errors.New("upload: subresource data too short")
)

// Submitter submits command buffers and waits for a submission to complete.
type Submitter interface {
	Submit(cmds []hal.CommandBuffer) (uint64, error)
	WaitSubmission(idx uint64) error
}

// Subresource is the source data of one texture subresource.
type Subresource struct {
	// Data holds the texels, rows RowPitch bytes apart.
	Data []byte

	// RowPitch is the byte distance between rows in Data. Zero means
	// tightly packed.
	RowPitch uint32

	// SlicePitch is the byte distance between depth slices in Data.
	// Zero means RowPitch times the number of rows.
	SlicePitch uint64
}

// Uploader creates committed resources on a device.
type Uploader struct {
	device hal.Device
	queue  Submitter
}

// New creates an uploader that submits copies through queue.
func New(device hal.Device, queue Submitter) *Uploader {
	return &Uploader{device: device, queue: queue}
}

// Buffer creates a device-local buffer holding data. The buffer size is
// len(data) rounded up to alignment (minimum 4, the copy granularity);
// the rounded size is returned alongside the buffer.
func (u *Uploader) Buffer(data []byte, alignment uint64, usage gputypes.BufferUsage, label string) (hal.Buffer, uint64, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyBuffer
	}
	if alignment < 4 {
		alignment = 4
	}
	size := alignUp(uint64(len(data)), alignment)

	dst, err := u.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("upload: create buffer %q: %w", label, err)
	}

	err = u.staged(label, size, func(mem []byte) error {
		copy(mem, data)
		return nil
	}, func(enc hal.CommandEncoder, staging hal.Buffer) {
		enc.CopyBufferToBuffer(staging, dst, []hal.BufferCopy{{Size: size}})
	})
	if err != nil {
		u.device.DestroyBuffer(dst)
		return nil, 0, err
	}
	slogger().Debug("upload: buffer", "label", label, "size", size)
	return dst, size, nil
}

// Texture creates a texture from desc and fills every subresource. The
// copy goes through a staging buffer laid out by Footprints; rows are
// copied one at a time because the staging row pitch is padded. After
// the copy the texture is left in the shader-read state.
func (u *Uploader) Texture(desc *hal.TextureDescriptor, subs []Subresource) (hal.Texture, error) {
	fps, total, err := Footprints(desc)
	if err != nil {
		return nil, err
	}
	if len(subs) != len(fps) {
		return nil, fmt.Errorf("%w: got %d, texture has %d", ErrSubresourceCount, len(subs), len(fps))
	}
	block, _ := formatBlock(desc.Format)
	for i, fp := range fps {
		if err := checkSubresource(fp, subs[i]); err != nil {
			return nil, fmt.Errorf("subresource %d (mip %d, layer %d): %w", i, fp.MipLevel, fp.ArrayLayer, err)
		}
	}

	td := *desc
	td.Usage |= gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
	if td.MipLevelCount == 0 {
		td.MipLevelCount = 1
	}
	if td.SampleCount == 0 {
		td.SampleCount = 1
	}
	tex, err := u.device.CreateTexture(&td)
	if err != nil {
		return nil, fmt.Errorf("upload: create texture %q: %w", desc.Label, err)
	}

	aspect := gputypes.TextureAspectAll
	whole := hal.TextureRange{Aspect: aspect, MipLevelCount: td.MipLevelCount, ArrayLayerCount: max(layerCount(&td), 1)}

	err = u.staged(desc.Label, total, func(mem []byte) error {
		for i, fp := range fps {
			copyRows(mem, fp, subs[i])
		}
		return nil
	}, func(enc hal.CommandEncoder, staging hal.Buffer) {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: tex,
			Range:   whole,
			Usage:   hal.TextureUsageTransition{OldUsage: gputypes.TextureUsageNone, NewUsage: gputypes.TextureUsageCopyDst},
		}})
		regions := make([]hal.BufferTextureCopy, len(fps))
		for i, fp := range fps {
			regions[i] = hal.BufferTextureCopy{
				BufferLayout: hal.ImageDataLayout{
					Offset:       fp.Offset,
					BytesPerRow:  fp.RowPitch,
					RowsPerImage: fp.Rows * block.height,
				},
				TextureBase: hal.ImageCopyTexture{
					Texture:  tex,
					MipLevel: fp.MipLevel,
					Origin:   hal.Origin3D{Z: fp.ArrayLayer},
					Aspect:   aspect,
				},
				Size: hal.Extent3D{Width: fp.Width, Height: fp.Height, DepthOrArrayLayers: fp.Depth},
			}
		}
		enc.CopyBufferToTexture(staging, tex, regions)
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: tex,
			Range:   whole,
			Usage:   hal.TextureUsageTransition{OldUsage: gputypes.TextureUsageCopyDst, NewUsage: gputypes.TextureUsageTextureBinding},
		}})
	})
	if err != nil {
		u.device.DestroyTexture(tex)
		return nil, err
	}
	slogger().Debug("upload: texture", "label", desc.Label,
		"width", desc.Size.Width, "height", desc.Size.Height, "subresources", len(fps), "staging", total)
	return tex, nil
}

// Readback creates a host-visible buffer the GPU can write into, such as
// a query resolve target. Nothing is uploaded.
func (u *Uploader) Readback(size uint64, label string) (hal.Buffer, error) {
	buf, err := u.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  alignUp(size, 8),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst | gputypes.BufferUsageQueryResolve,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: create readback %q: %w", label, err)
	}
	return buf, nil
}

// Read copies size bytes at offset out of a readback buffer. The caller
// must know that the GPU has finished writing the range.
func (u *Uploader) Read(buf hal.Buffer, offset, size uint64) ([]byte, error) {
	m, err := u.device.MapBuffer(buf, offset, size)
	if err != nil {
		return nil, fmt.Errorf("upload: map readback: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := u.device.UnmapBuffer(buf); err != nil {
		return nil, fmt.Errorf("upload: unmap readback: %w", err)
	}
	return out, nil
}

// staged creates a staging buffer of size bytes, lets fill write it,
// records the copy with record, submits and blocks until the GPU is done.
func (u *Uploader) staged(label string, size uint64, fill func([]byte) error, record func(hal.CommandEncoder, hal.Buffer)) error {
	staging, err := u.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + " staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("upload: create staging for %q: %w", label, err)
	}
	defer u.device.DestroyBuffer(staging)

	m, err := u.device.MapBuffer(staging, 0, size)
	if err != nil {
		return fmt.Errorf("upload: map staging for %q: %w", label, err)
	}
	if err := fill(unsafe.Slice((*byte)(m.Ptr), size)); err != nil {
		_ = u.device.UnmapBuffer(staging)
		return err
	}
	if err := u.device.UnmapBuffer(staging); err != nil {
		return fmt.Errorf("upload: unmap staging for %q: %w", label, err)
	}

	enc, err := u.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + " upload"})
	if err != nil {
		return fmt.Errorf("upload: create encoder for %q: %w", label, err)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding(label + " upload"); err != nil {
		return fmt.Errorf("upload: begin encoding for %q: %w", label, err)
	}
	record(enc, staging)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("upload: end encoding for %q: %w", label, err)
	}
	defer u.device.FreeCommandBuffer(cmd)

	idx, err := u.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("upload: submit %q: %w", label, err)
	}
	if err := u.queue.WaitSubmission(idx); err != nil {
		return fmt.Errorf("upload: wait %q: %w", label, err)
	}
	return nil
}

func checkSubresource(fp Footprint, sub Subresource) error {
	pitch := uint64(sub.RowPitch)
	if pitch == 0 {
		pitch = uint64(fp.RowBytes)
	}
	if pitch < uint64(fp.RowBytes) {
		return fmt.Errorf("%w: row pitch %d below row size %d", ErrShortData, pitch, fp.RowBytes)
	}
	slice := sub.SlicePitch
	if slice == 0 {
		slice = pitch * uint64(fp.Rows)
	}
	need := slice*uint64(fp.Depth-1) + pitch*uint64(fp.Rows-1) + uint64(fp.RowBytes)
	if uint64(len(sub.Data)) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortData, len(sub.Data), need)
	}
	return nil
}

// copyRows copies a subresource row by row from its source pitch into
// the padded staging pitch.
func copyRows(mem []byte, fp Footprint, sub Subresource) {
	srcPitch := uint64(sub.RowPitch)
	if srcPitch == 0 {
		srcPitch = uint64(fp.RowBytes)
	}
	srcSlice := sub.SlicePitch
	if srcSlice == 0 {
		srcSlice = srcPitch * uint64(fp.Rows)
	}
	n := uint64(fp.RowBytes)
	for z := uint64(0); z < uint64(fp.Depth); z++ {
		for row := uint64(0); row < uint64(fp.Rows); row++ {
			dst := fp.Offset + z*fp.SliceSize() + row*uint64(fp.RowPitch)
			src := z*srcSlice + row*srcPitch
			copy(mem[dst:dst+n], sub.Data[src:src+n])
		}
	}
}

func layerCount(desc *hal.TextureDescriptor) uint32 {
	if desc.Dimension == gputypes.TextureDimension3D {
		return 1
	}
	return desc.Size.DepthOrArrayLayers
}
