package metal

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/internal/core"
)

// GPU family and feature-set names negotiated at device creation.
const (
	FamilyCommon1        = "MTLGPUFamilyCommon1"
	FamilyCommon2        = "MTLGPUFamilyCommon2"
	FamilyCommon3        = "MTLGPUFamilyCommon3"
	FamilyMetal3         = "MTLGPUFamilyMetal3"
	ArgumentBuffersTier2 = "MTLArgumentBuffersTier2"
	DepthClipMode        = "MTLDepthClipMode"
	HalfPrecision        = "MTLShaderHalf"
	CounterSampling      = "MTLCounterSamplingAtStageBoundary"
)

// Families returns the GPU family dependency graph. Common1 is the only
// hard requirement; everything above it degrades.
func Families() *core.FeatureGraph {
	return core.NewFeatureGraph(
		core.FeatureNode{Name: FamilyCommon1, Required: true},
		core.FeatureNode{Name: FamilyCommon2, Requires: []string{FamilyCommon1}, Native: gputypes.FeatureIndirectFirstInstance},
		core.FeatureNode{Name: FamilyCommon3, Requires: []string{FamilyCommon2}},
		core.FeatureNode{
			Name:     ArgumentBuffersTier2,
			Requires: []string{FamilyCommon2},
			Probe: func(a hal.ExposedAdapter) bool {
				return a.Info.DeviceType != gputypes.DeviceTypeCPU
			},
		},
		core.FeatureNode{Name: FamilyMetal3, Requires: []string{FamilyCommon3, ArgumentBuffersTier2}},
		core.FeatureNode{Name: DepthClipMode, Native: gputypes.FeatureDepthClipControl},
		core.FeatureNode{Name: HalfPrecision, Requires: []string{FamilyCommon2}, Native: gputypes.FeatureShaderF16},
		core.FeatureNode{Name: CounterSampling, Requires: []string{FamilyMetal3}, Native: gputypes.FeatureTimestampQuery},
	)
}
