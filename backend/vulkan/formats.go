package vulkan

import (
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/core"
)

// formats maps every portable format to its VkFormat.
var formats = core.NewFormatTable(map[rhi.Format]uint32{
	{Layout: rhi.LayoutR, Type: rhi.TypeUNorm8}:   uint32(vk.FormatR8Unorm),
	{Layout: rhi.LayoutR, Type: rhi.TypeSNorm8}:   uint32(vk.FormatR8Snorm),
	{Layout: rhi.LayoutR, Type: rhi.TypeUInt8}:    uint32(vk.FormatR8Uint),
	{Layout: rhi.LayoutR, Type: rhi.TypeSInt8}:    uint32(vk.FormatR8Sint),
	{Layout: rhi.LayoutR, Type: rhi.TypeUNorm16}:  uint32(vk.FormatR16Unorm),
	{Layout: rhi.LayoutR, Type: rhi.TypeFloat16}:  uint32(vk.FormatR16Sfloat),
	{Layout: rhi.LayoutR, Type: rhi.TypeUInt32}:   uint32(vk.FormatR32Uint),
	{Layout: rhi.LayoutR, Type: rhi.TypeSInt32}:   uint32(vk.FormatR32Sint),
	{Layout: rhi.LayoutR, Type: rhi.TypeFloat32}:  uint32(vk.FormatR32Sfloat),
	{Layout: rhi.LayoutRG, Type: rhi.TypeUNorm8}:  uint32(vk.FormatR8g8Unorm),
	{Layout: rhi.LayoutRG, Type: rhi.TypeSNorm8}:  uint32(vk.FormatR8g8Snorm),
	{Layout: rhi.LayoutRG, Type: rhi.TypeUNorm16}: uint32(vk.FormatR16g16Unorm),
	{Layout: rhi.LayoutRG, Type: rhi.TypeFloat16}: uint32(vk.FormatR16g16Sfloat),
	{Layout: rhi.LayoutRG, Type: rhi.TypeFloat32}: uint32(vk.FormatR32g32Sfloat),

	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUNorm8}:  uint32(vk.FormatR8g8b8a8Unorm),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSRGB8}:   uint32(vk.FormatR8g8b8a8Srgb),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSNorm8}:  uint32(vk.FormatR8g8b8a8Snorm),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUInt8}:   uint32(vk.FormatR8g8b8a8Uint),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSInt8}:   uint32(vk.FormatR8g8b8a8Sint),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUNorm16}: uint32(vk.FormatR16g16b16a16Unorm),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeFloat16}: uint32(vk.FormatR16g16b16a16Sfloat),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeUInt32}:  uint32(vk.FormatR32g32b32a32Uint),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeSInt32}:  uint32(vk.FormatR32g32b32a32Sint),
	{Layout: rhi.LayoutRGBA, Type: rhi.TypeFloat32}: uint32(vk.FormatR32g32b32a32Sfloat),
	{Layout: rhi.LayoutBGRA, Type: rhi.TypeUNorm8}:  uint32(vk.FormatB8g8r8a8Unorm),
	{Layout: rhi.LayoutBGRA, Type: rhi.TypeSRGB8}:   uint32(vk.FormatB8g8r8a8Srgb),

	{Layout: rhi.LayoutDepth, Type: rhi.TypeUNorm16}:        uint32(vk.FormatD16Unorm),
	{Layout: rhi.LayoutDepth, Type: rhi.TypeFloat32}:        uint32(vk.FormatD32Sfloat),
	{Layout: rhi.LayoutDepthStencil, Type: rhi.TypeUNorm24}: uint32(vk.FormatD24UnormS8Uint),
	{Layout: rhi.LayoutDepthStencil, Type: rhi.TypeFloat32}: uint32(vk.FormatD32SfloatS8Uint),
})
