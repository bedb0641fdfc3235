package upload

import "github.com/gogpu/gputypes"

// blockInfo describes the memory layout of a texture format: the byte
// size of one block and the block's width and height in texels.
// Uncompressed formats have 1x1 blocks.
type blockInfo struct {
	bytes  uint32
	width  uint32
	height uint32
}

func formatBlock(f gputypes.TextureFormat) (blockInfo, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return blockInfo{1, 1, 1}, true

	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return blockInfo{2, 1, 1}, true

	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float:
		return blockInfo{4, 1, 1}, true

	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return blockInfo{8, 1, 1}, true

	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return blockInfo{16, 1, 1}, true

	case gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb,
		gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC4RSnorm:
		return blockInfo{8, 4, 4}, true

	case gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC2RGBAUnormSrgb,
		gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb,
		gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatBC5RGSnorm,
		gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatBC6HRGBFloat,
		gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb:
		return blockInfo{16, 4, 4}, true
	}
	return blockInfo{}, false
}
