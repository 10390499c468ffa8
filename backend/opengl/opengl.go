// Package opengl registers an OpenGL placeholder so the API can be named
// in configuration. Opening it fails with rhi.ErrNotImplemented.
package opengl

import (
	"fmt"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.Register(rhi.APIOpenGL, func() rhi.Backend { return Backend{} })
}

// Backend is the OpenGL stub.
type Backend struct{}

// API returns rhi.APIOpenGL.
func (Backend) API() rhi.API { return rhi.APIOpenGL }

// Open always fails.
func (Backend) Open(rhi.Config) (rhi.Device, error) {
	return nil, fmt.Errorf("%w: %s", rhi.ErrNotImplemented, rhi.APIOpenGL)
}
