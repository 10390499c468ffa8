package core

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Sampler implements rhi.Sampler.
type Sampler struct {
	resource
	desc   rhi.SamplerDesc
	native hal.Sampler
}

var _ rhi.Sampler = (*Sampler)(nil)

func filterMode(f rhi.Filter) gputypes.FilterMode {
	if f == rhi.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func addressMode(a rhi.AddressMode) gputypes.AddressMode {
	switch a {
	case rhi.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	case rhi.AddressClampToEdge:
		return gputypes.AddressModeClampToEdge
	default:
		return gputypes.AddressModeRepeat
	}
}

// CreateSampler creates a sampler. LodMax 0 leaves the mip range open.
func (d *Device) CreateSampler(desc rhi.SamplerDesc) (rhi.Sampler, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	if desc.MaxAnisotropy > 16 {
		return nil, fmt.Errorf("%w: sampler %q anisotropy %d above 16", rhi.ErrInvalidDescriptor, desc.Name, desc.MaxAnisotropy)
	}
	lodMax := desc.LodMax
	if lodMax == 0 {
		lodMax = 32
	}
	if desc.LodMin > lodMax {
		return nil, fmt.Errorf("%w: sampler %q lod range [%g, %g]", rhi.ErrInvalidDescriptor, desc.Name, desc.LodMin, lodMax)
	}
	addr := addressMode(desc.Address)
	native, err := d.hal.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Name,
		AddressModeU: addr,
		AddressModeV: addr,
		AddressModeW: addr,
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MipFilter),
		LodMinClamp:  desc.LodMin,
		LodMaxClamp:  lodMax,
		Anisotropy:   max(desc.MaxAnisotropy, 1),
	})
	if err != nil {
		return nil, rhi.NewDeviceError("create sampler", err)
	}
	s := &Sampler{desc: desc, native: native}
	s.setup(d, desc.Name)
	return s, nil
}

// Destroy releases the sampler.
func (s *Sampler) Destroy() {
	if s.release() {
		s.dev.hal.DestroySampler(s.native)
	}
}
