package vulkan

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/internal/core"
)

// Extension names negotiated at device creation.
const (
	ExtSurface             = "VK_KHR_surface"
	ExtSwapchain           = "VK_KHR_swapchain"
	ExtMaintenance3        = "VK_KHR_maintenance3"
	ExtDescriptorIndexing  = "VK_EXT_descriptor_indexing"
	ExtDepthClipEnable     = "VK_EXT_depth_clip_enable"
	ExtShaderFloat16Int8   = "VK_KHR_shader_float16_int8"
	ExtDrawIndirectCount   = "VK_KHR_draw_indirect_count"
	ExtTimelineSemaphore   = "VK_KHR_timeline_semaphore"
	ExtCalibratedTimestamp = "VK_EXT_calibrated_timestamps"
)

// minBindlessBindings is the smallest per-group binding count the resource
// table needs to be useful.
const minBindlessBindings = 64

// Extensions returns the extension dependency graph. Surface, swapchain,
// and descriptor indexing are required; the rest are enabled when present.
func Extensions() *core.FeatureGraph {
	return core.NewFeatureGraph(
		core.FeatureNode{Name: ExtSurface, Required: true},
		core.FeatureNode{Name: ExtSwapchain, Requires: []string{ExtSurface}, Required: true},
		core.FeatureNode{Name: ExtMaintenance3},
		core.FeatureNode{
			Name:     ExtDescriptorIndexing,
			Requires: []string{ExtMaintenance3},
			Required: true,
			Probe: func(a hal.ExposedAdapter) bool {
				return a.Capabilities.Limits.MaxBindingsPerBindGroup >= minBindlessBindings
			},
		},
		core.FeatureNode{Name: ExtDepthClipEnable, Native: gputypes.FeatureDepthClipControl},
		core.FeatureNode{Name: ExtShaderFloat16Int8, Native: gputypes.FeatureShaderF16},
		core.FeatureNode{Name: ExtDrawIndirectCount, Native: gputypes.FeatureMultiDrawIndirectCount},
		core.FeatureNode{Name: ExtTimelineSemaphore},
		core.FeatureNode{
			Name:     ExtCalibratedTimestamp,
			Requires: []string{ExtTimelineSemaphore},
			Native:   gputypes.FeatureTimestampQuery,
		},
	)
}
