//go:build !darwin

package metal

import "github.com/gogpu/wgpu/hal"

func driver() hal.Backend { return nil }
