package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ChannelLayout is the channel arrangement of a pixel format.
type ChannelLayout uint8

const (
	LayoutUndefined ChannelLayout = iota
	LayoutR
	LayoutRG
	LayoutRGBA
	LayoutBGRA
	LayoutDepth
	LayoutDepthStencil
)

// String returns the layout name.
func (l ChannelLayout) String() string {
	switch l {
	case LayoutR:
		return "R"
	case LayoutRG:
		return "RG"
	case LayoutRGBA:
		return "RGBA"
	case LayoutBGRA:
		return "BGRA"
	case LayoutDepth:
		return "Depth"
	case LayoutDepthStencil:
		return "DepthStencil"
	default:
		return "Undefined"
	}
}

// channels returns the number of color channels.
func (l ChannelLayout) channels() int {
	switch l {
	case LayoutR, LayoutDepth:
		return 1
	case LayoutRG, LayoutDepthStencil:
		return 2
	case LayoutRGBA, LayoutBGRA:
		return 4
	default:
		return 0
	}
}

// NumericType is the per-channel numeric interpretation of a pixel format.
type NumericType uint8

const (
	TypeUndefined NumericType = iota
	TypeUNorm8
	TypeSNorm8
	TypeUInt8
	TypeSInt8
	TypeSRGB8
	TypeUNorm16
	TypeFloat16
	TypeUNorm24
	TypeUInt32
	TypeSInt32
	TypeFloat32
)

// String returns the numeric type name.
func (t NumericType) String() string {
	switch t {
	case TypeUNorm8:
		return "UNorm8"
	case TypeSNorm8:
		return "SNorm8"
	case TypeUInt8:
		return "UInt8"
	case TypeSInt8:
		return "SInt8"
	case TypeSRGB8:
		return "SRGB8"
	case TypeUNorm16:
		return "UNorm16"
	case TypeFloat16:
		return "Float16"
	case TypeUNorm24:
		return "UNorm24"
	case TypeUInt32:
		return "UInt32"
	case TypeSInt32:
		return "SInt32"
	case TypeFloat32:
		return "Float32"
	default:
		return "Undefined"
	}
}

// bits returns the channel width in bits.
func (t NumericType) bits() int {
	switch t {
	case TypeUNorm8, TypeSNorm8, TypeUInt8, TypeSInt8, TypeSRGB8:
		return 8
	case TypeUNorm16, TypeFloat16:
		return 16
	case TypeUNorm24:
		return 24
	case TypeUInt32, TypeSInt32, TypeFloat32:
		return 32
	default:
		return 0
	}
}

// Format is a pixel format: a channel layout combined with a numeric type.
type Format struct {
	Layout ChannelLayout
	Type   NumericType
}

// Commonly used formats.
var (
	FormatRGBA8Unorm  = Format{LayoutRGBA, TypeUNorm8}
	FormatRGBA8SRGB   = Format{LayoutRGBA, TypeSRGB8}
	FormatBGRA8Unorm  = Format{LayoutBGRA, TypeUNorm8}
	FormatBGRA8SRGB   = Format{LayoutBGRA, TypeSRGB8}
	FormatRGBA16Float = Format{LayoutRGBA, TypeFloat16}
	FormatRGBA32Float = Format{LayoutRGBA, TypeFloat32}
	FormatR32Float    = Format{LayoutR, TypeFloat32}
	FormatDepth32     = Format{LayoutDepth, TypeFloat32}
	FormatDepth24S8   = Format{LayoutDepthStencil, TypeUNorm24}
)

func (f Format) String() string {
	return f.Layout.String() + "_" + f.Type.String()
}

// IsDepth reports whether the format has a depth aspect.
func (f Format) IsDepth() bool {
	return f.Layout == LayoutDepth || f.Layout == LayoutDepthStencil
}

// HasStencil reports whether the format has a stencil aspect.
func (f Format) HasStencil() bool { return f.Layout == LayoutDepthStencil }

// TexelSize returns the size of one texel in bytes, or 0 for an
// undefined format.
func (f Format) TexelSize() uint64 {
	if f.Layout == LayoutDepthStencil {
		// 24-bit depth packs with stencil into 32 bits; 32-bit depth is padded to 64.
		if f.Type == TypeUNorm24 {
			return 4
		}
		return 8
	}
	return uint64(f.Layout.channels() * f.Type.bits() / 8)
}

// textureFormats maps every format that has a portable native equivalent.
// Pairs missing here (BGRA with anything but 8-bit unorm/srgb, sRGB
// single-channel, 24-bit color) have no mapping on any backend.
var textureFormats = map[Format]gputypes.TextureFormat{
	{LayoutR, TypeUNorm8}:   gputypes.TextureFormatR8Unorm,
	{LayoutR, TypeSNorm8}:   gputypes.TextureFormatR8Snorm,
	{LayoutR, TypeUInt8}:    gputypes.TextureFormatR8Uint,
	{LayoutR, TypeSInt8}:    gputypes.TextureFormatR8Sint,
	{LayoutR, TypeUNorm16}:  gputypes.TextureFormatR16Unorm,
	{LayoutR, TypeFloat16}:  gputypes.TextureFormatR16Float,
	{LayoutR, TypeUInt32}:   gputypes.TextureFormatR32Uint,
	{LayoutR, TypeSInt32}:   gputypes.TextureFormatR32Sint,
	{LayoutR, TypeFloat32}:  gputypes.TextureFormatR32Float,
	{LayoutRG, TypeUNorm8}:  gputypes.TextureFormatRG8Unorm,
	{LayoutRG, TypeSNorm8}:  gputypes.TextureFormatRG8Snorm,
	{LayoutRG, TypeUNorm16}: gputypes.TextureFormatRG16Unorm,
	{LayoutRG, TypeFloat16}: gputypes.TextureFormatRG16Float,
	{LayoutRG, TypeFloat32}: gputypes.TextureFormatRG32Float,

	{LayoutRGBA, TypeUNorm8}:  gputypes.TextureFormatRGBA8Unorm,
	{LayoutRGBA, TypeSRGB8}:   gputypes.TextureFormatRGBA8UnormSrgb,
	{LayoutRGBA, TypeSNorm8}:  gputypes.TextureFormatRGBA8Snorm,
	{LayoutRGBA, TypeUInt8}:   gputypes.TextureFormatRGBA8Uint,
	{LayoutRGBA, TypeSInt8}:   gputypes.TextureFormatRGBA8Sint,
	{LayoutRGBA, TypeUNorm16}: gputypes.TextureFormatRGBA16Unorm,
	{LayoutRGBA, TypeFloat16}: gputypes.TextureFormatRGBA16Float,
	{LayoutRGBA, TypeUInt32}:  gputypes.TextureFormatRGBA32Uint,
	{LayoutRGBA, TypeSInt32}:  gputypes.TextureFormatRGBA32Sint,
	{LayoutRGBA, TypeFloat32}: gputypes.TextureFormatRGBA32Float,
	{LayoutBGRA, TypeUNorm8}:  gputypes.TextureFormatBGRA8Unorm,
	{LayoutBGRA, TypeSRGB8}:   gputypes.TextureFormatBGRA8UnormSrgb,

	{LayoutDepth, TypeUNorm16}:        gputypes.TextureFormatDepth16Unorm,
	{LayoutDepth, TypeFloat32}:        gputypes.TextureFormatDepth32Float,
	{LayoutDepthStencil, TypeUNorm24}: gputypes.TextureFormatDepth24PlusStencil8,
	{LayoutDepthStencil, TypeFloat32}: gputypes.TextureFormatDepth32FloatStencil8,
}

// TextureFormat translates f into the portable native format used by the
// hal layer. Unmappable pairs fail with ErrUnsupportedFormat.
func (f Format) TextureFormat() (gputypes.TextureFormat, error) {
	tf, ok := textureFormats[f]
	if !ok {
		return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %s has no native equivalent", ErrUnsupportedFormat, f)
	}
	return tf, nil
}

// FormatFromTextureFormat is the inverse of Format.TextureFormat.
func FormatFromTextureFormat(tf gputypes.TextureFormat) (Format, bool) {
	for f, v := range textureFormats {
		if v == tf {
			return f, true
		}
	}
	return Format{}, false
}

// SupportedFormats returns every format with a portable mapping.
func SupportedFormats() []Format {
	out := make([]Format, 0, len(textureFormats))
	for f := range textureFormats {
		out = append(out, f)
	}
	return out
}
