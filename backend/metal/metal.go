// Package metal registers the Metal backend.
//
// Metal tracks hazards itself, so the backend validates declared usage
// transitions without emitting barriers, allocates a fresh command encoder
// for every recording and compiles each subpass into an independent render
// pass. The native driver exists on darwin only; elsewhere the backend runs
// when rhi.Config.Executor supplies another hal implementation.
//
//	import _ "github.com/gogpu/rhi/backend/metal"
package metal

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/core"
)

// TableClassCapacity is the resource table capacity of every class,
// the argument buffer tier 2 resource limit.
const TableClassCapacity = 500_000

func init() {
	rhi.Register(rhi.APIMetal, func() rhi.Backend { return Backend{} })
}

// Backend opens Metal devices.
type Backend struct{}

// API returns rhi.APIMetal.
func (Backend) API() rhi.API { return rhi.APIMetal }

// Open creates a device.
func (Backend) Open(cfg rhi.Config) (rhi.Device, error) {
	dev, err := core.Open(Profile(), cfg)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Profile returns the Metal policy. Driver is nil off darwin.
func Profile() *core.Profile {
	return &core.Profile{
		API:           rhi.APIMetal,
		Driver:        driver(),
		Backends:      gputypes.BackendsMetal,
		Formats:       formats,
		TableCapacity: TableCapacity,
		Features:      Families(),
		ShaderSource:  ShaderSource,
	}
}

// TableCapacity is fixed regardless of limits.
func TableCapacity(gputypes.Limits) rhi.TableCapacity {
	var c rhi.TableCapacity
	for _, class := range rhi.ResourceClasses {
		c[class] = TableClassCapacity
	}
	return c
}

// ShaderSource accepts WGSL text, which the driver translates to MSL when
// the module is created.
func ShaderSource(code rhi.ShaderCode) (hal.ShaderSource, error) {
	if code.Source == "" {
		return hal.ShaderSource{}, fmt.Errorf("%w: metal shaders need source text", rhi.ErrInvalidDescriptor)
	}
	return hal.ShaderSource{WGSL: code.Source}, nil
}
