package metal

import (
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/core"
)

// MTLPixelFormat values. hal/metal only builds on darwin, so the table
// carries its own copy of the enum.
const (
	pixelR8Unorm              = 10
	pixelR8Snorm              = 12
	pixelR8Uint               = 13
	pixelR8Sint               = 14
	pixelR16Unorm             = 20
	pixelR16Float             = 25
	pixelRG8Unorm             = 30
	pixelRG8Snorm             = 32
	pixelR32Uint              = 53
	pixelR32Sint              = 54
	pixelR32Float             = 55
	pixelRG16Unorm            = 60
	pixelRG16Float            = 65
	pixelRGBA8Unorm           = 70
	pixelRGBA8UnormSRGB       = 71
	pixelRGBA8Snorm           = 72
	pixelRGBA8Uint            = 73
	pixelRGBA8Sint            = 74
	pixelBGRA8Unorm           = 80
	pixelBGRA8UnormSRGB       = 81
	pixelRG32Float            = 105
	pixelRGBA16Unorm          = 110
	pixelRGBA16Float          = 115
	pixelRGBA32Uint           = 123
	pixelRGBA32Sint           = 124
	pixelRGBA32Float          = 125
	pixelDepth16Unorm         = 250
	pixelDepth32Float         = 252
	pixelDepth24UnormStencil8 = 255
	pixelDepth32FloatStencil8 = 260
)

var formats = core.NewFormatTable(map[rhi.Format]uint32{
	{Layout: rhi.LayoutR, Type: rhi.TypeUNorm8}:   pixelR8Unorm,
	{Layout: rhi.LayoutR, Type: rhi.TypeSNorm8}:   pixelR8Snorm,
	{Layout: rhi.LayoutR, Type: rhi.TypeUInt8}:    pixelR8Uint,
	{Layout: rhi.LayoutR, Type: rhi.TypeSInt8}:    pixelR8Sint,
	{Layout: rhi.LayoutR, Type: rhi.TypeUNorm16}:  pixelR16Unorm,
	{Layout: rhi.LayoutR, Type: rhi.TypeFloat16}:  pixelR16Float,
	{Layout: rhi.LayoutR, Type: rhi.TypeUInt32}:   pixelR32Uint,
	{Layout: rhi.LayoutR, Type: rhi.TypeSInt32}:   pixelR32Sint,
	{Layout: rhi.LayoutR, Type: rhi.TypeFloat32}:  pixelR32Float,
	{Layout: rhi.LayoutRG, Type: rhi.TypeUNorm8}:  pixelRG8Unorm,
	{Layout: rhi.LayoutRG, Type: rhi.TypeSNorm8}:  pixelRG8Snorm,
	{Layout: rhi.LayoutRG, Type: rhi.TypeUNorm16}: pixelRG16Unorm,
	{Layout: rhi.LayoutRG, Type: rhi.TypeFloat16}: pixelRG16Float,
	{Layout: rhi.LayoutRG, Type: rhi.TypeFloat32}: pixelRG32Float,

	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUNorm8}:  pixelRGBA8Unorm,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSRGB8}:   pixelRGBA8UnormSRGB,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSNorm8}:  pixelRGBA8Snorm,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUInt8}:   pixelRGBA8Uint,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSInt8}:   pixelRGBA8Sint,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUNorm16}: pixelRGBA16Unorm,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeFloat16}: pixelRGBA16Float,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUInt32}:  pixelRGBA32Uint,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSInt32}:  pixelRGBA32Sint,
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeFloat32}: pixelRGBA32Float,
	{Layout: rhi.LayoutBGRA, Type: rhi.TypeUNorm8}:  pixelBGRA8Unorm,
	{Layout: rhi.LayoutBGRA, Type: rhi.TypeSRGB8}:   pixelBGRA8UnormSRGB,

	{Layout: rhi.LayoutDepth, Type: rhi.TypeUNorm16}:        pixelDepth16Unorm,
	{Layout: rhi.LayoutDepth, Type: rhi.TypeFloat32}:        pixelDepth32Float,
	{Layout: rhi.LayoutDepthStencil, Type: rhi.TypeUNorm24}: pixelDepth24UnormStencil8,
	{Layout: rhi.LayoutDepthStencil, Type: rhi.TypeFloat32}: pixelDepth32FloatStencil8,
})
