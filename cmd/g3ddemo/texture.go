package main

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png" // albedo files
	"os"

	"github.com/gogpu/gputypes"
	_ "golang.org/x/image/bmp" // albedo files
	"golang.org/x/image/draw"

	"github.com/gogpu/g3d"
)

// loadAlbedo decodes the image at path, or makes a checkerboard when
// path is empty.
func loadAlbedo(path string) (*image.RGBA, error) {
	if path == "" {
		return checkerboard(256, 32), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

func checkerboard(size, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	light := color.RGBA{R: 0xe0, G: 0xd8, B: 0xc8, A: 0xff}
	dark := color.RGBA{R: 0x50, G: 0x60, B: 0x78, A: 0xff}
	for y := range size {
		for x := range size {
			c := light
			if (x/cell+y/cell)%2 == 1 {
				c = dark
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// mipChain returns base followed by successively halved copies down to
// 1x1, each filtered from the previous level.
func mipChain(base *image.RGBA) []*image.RGBA {
	levels := []*image.RGBA{base}
	for prev := base; prev.Bounds().Dx() > 1 || prev.Bounds().Dy() > 1; {
		w := max(prev.Bounds().Dx()/2, 1)
		h := max(prev.Bounds().Dy()/2, 1)
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, next)
		prev = next
	}
	return levels
}

// uploadAlbedo uploads img with a full mip chain and returns the
// texture and its shader resource view.
func uploadAlbedo(gpu *g3d.Gpu, img *image.RGBA) (g3d.Handle, g3d.ViewHandle, error) {
	levels := mipChain(img)
	subs := make([]g3d.Subresource, len(levels))
	for i, l := range levels {
		subs[i] = g3d.Subresource{Data: l.Pix, RowPitch: uint32(l.Stride)} //nolint:gosec // G115: image strides fit
	}
	desc := g3d.TextureDesc{
		Width:     uint32(img.Bounds().Dx()), //nolint:gosec // G115: image sizes fit
		Height:    uint32(img.Bounds().Dy()), //nolint:gosec // G115: image sizes fit
		MipLevels: uint32(len(levels)),       //nolint:gosec // G115: at most 32 levels
		Format:    gputypes.TextureFormatRGBA8Unorm,
	}
	tex, err := gpu.AllocateStaticTexture(desc, subs, "albedo")
	if err != nil {
		return g3d.InvalidHandle, g3d.InvalidView, err
	}
	view, err := gpu.CreateTextureView(tex)
	if err != nil {
		_ = gpu.FreeMemory(tex)
		return g3d.InvalidHandle, g3d.InvalidView, err
	}
	return tex, view, nil
}
