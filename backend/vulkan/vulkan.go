// Package vulkan registers the Vulkan backend.
//
// The backend drives the pure Go hal/vulkan driver with explicit barriers,
// reusable command buffers and subpass dependencies. Import it for side
// effects:
//
//	import _ "github.com/gogpu/rhi/backend/vulkan"
package vulkan

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	halvk "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/core"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

func init() {
	rhi.Register(rhi.APIVulkan, func() rhi.Backend { return Backend{} })
}

// Backend opens Vulkan devices.
type Backend struct{}

// API returns rhi.APIVulkan.
func (Backend) API() rhi.API { return rhi.APIVulkan }

// Open creates a device. cfg.Executor, when set, replaces hal/vulkan.
func (Backend) Open(cfg rhi.Config) (rhi.Device, error) {
	dev, err := core.Open(Profile(), cfg)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Profile returns the Vulkan policy.
func Profile() *core.Profile {
	return &core.Profile{
		API:                    rhi.APIVulkan,
		Driver:                 halvk.Backend{},
		Backends:               gputypes.BackendsVulkan,
		ExplicitBarriers:       true,
		ReusableCommandBuffers: true,
		NativeSubpasses:        true,
		Formats:                formats,
		TableCapacity:          TableCapacity,
		Features:               Extensions(),
		ShaderSource:           ShaderSource,
	}
}

// TableCapacity derives per-class table capacity from the per-stage
// binding limits, capped by the bindings a single group may hold.
func TableCapacity(l gputypes.Limits) rhi.TableCapacity {
	limit := func(n uint32) uint32 {
		if l.MaxBindingsPerBindGroup > 0 {
			return min(n, l.MaxBindingsPerBindGroup)
		}
		return n
	}
	var c rhi.TableCapacity
	c[rhi.ClassUniformBuffer] = limit(l.MaxUniformBuffersPerShaderStage)
	c[rhi.ClassStorageBuffer] = limit(l.MaxStorageBuffersPerShaderStage)
	c[rhi.ClassSampledImage] = limit(l.MaxSampledTexturesPerShaderStage)
	c[rhi.ClassStorageImage] = limit(l.MaxStorageTexturesPerShaderStage)
	c[rhi.ClassSampler] = limit(l.MaxSamplersPerShaderStage)
	return c
}

// ShaderSource accepts SPIR-V only.
func ShaderSource(code rhi.ShaderCode) (hal.ShaderSource, error) {
	if len(code.SPIRV) == 0 {
		return hal.ShaderSource{}, fmt.Errorf("%w: vulkan shaders need SPIR-V", rhi.ErrInvalidDescriptor)
	}
	if code.SPIRV[0] != spirvMagic {
		return hal.ShaderSource{}, fmt.Errorf("%w: bad SPIR-V magic %#08x", rhi.ErrInvalidDescriptor, code.SPIRV[0])
	}
	return hal.ShaderSource{SPIRV: code.SPIRV}, nil
}
