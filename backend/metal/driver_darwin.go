//go:build darwin

package metal

import (
	"github.com/gogpu/wgpu/hal"
	halmtl "github.com/gogpu/wgpu/hal/metal"
)

func driver() hal.Backend { return halmtl.Backend{} }
