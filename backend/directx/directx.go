// Package directx registers a Direct3D 12 placeholder so the API can be
// named in configuration. Opening it fails with rhi.ErrNotImplemented.
package directx

import (
	"fmt"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.Register(rhi.APIDirectX, func() rhi.Backend { return Backend{} })
}

// Backend is the Direct3D 12 stub.
type Backend struct{}

// API returns rhi.APIDirectX.
func (Backend) API() rhi.API { return rhi.APIDirectX }

// Open always fails.
func (Backend) Open(rhi.Config) (rhi.Device, error) {
	return nil, fmt.Errorf("%w: %s", rhi.ErrNotImplemented, rhi.APIDirectX)
}
