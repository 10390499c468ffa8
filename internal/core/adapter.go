package core

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// deviceTypeRank orders adapter types from most to least preferred.
func deviceTypeRank(t gputypes.DeviceType) uint64 {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 4
	case gputypes.DeviceTypeIntegratedGPU:
		return 3
	case gputypes.DeviceTypeVirtualGPU:
		return 2
	case gputypes.DeviceTypeCPU:
		return 1
	default:
		return 0
	}
}

// Score rates an adapter: the device type rank dominates, the maximum 2D
// texture dimension breaks ties within a type.
func Score(a hal.ExposedAdapter) uint64 {
	return deviceTypeRank(a.Info.DeviceType)<<32 | uint64(a.Capabilities.Limits.MaxTextureDimension2D)
}

// SelectAdapter picks the adapter to open.
//
// With a non-empty name the first adapter whose name contains it (case
// insensitive) wins. Otherwise the highest Score wins and equal scores
// keep enumeration order.
func SelectAdapter(adapters []hal.ExposedAdapter, name string) (int, error) {
	if len(adapters) == 0 {
		return -1, rhi.ErrNoAdapters
	}
	if name != "" {
		want := strings.ToLower(name)
		for i, a := range adapters {
			if strings.Contains(strings.ToLower(a.Info.Name), want) {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: no adapter matches %q", rhi.ErrUnsupported, name)
	}
	best, bestScore := 0, Score(adapters[0])
	for i := 1; i < len(adapters); i++ {
		if s := Score(adapters[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, nil
}
