package core

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/rhi"
)

// resource is embedded by every object a Device creates.
type resource struct {
	dev  *Device
	api  rhi.API
	name string
	dead atomic.Bool
}

func (r *resource) setup(d *Device, name string) {
	r.dev, r.api, r.name = d, d.profile.API, name
}

// API returns the backend tag fixed at creation.
func (r *resource) API() rhi.API { return r.api }

// Name returns the debug name.
func (r *resource) Name() string { return r.name }

func (r *resource) owner() *Device { return r.dev }

func (r *resource) destroyed() bool { return r.dead.Load() }

// release flips the resource to destroyed. It returns false if it already was.
func (r *resource) release() bool { return r.dead.CompareAndSwap(false, true) }

// owned is implemented by every core resource.
type owned interface {
	rhi.Resource
	owner() *Device
	destroyed() bool
}

// adopt converts a public resource into the core type T, checking that it
// is live and was created by d.
func adopt[T owned](d *Device, r rhi.Resource, what string) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("%w: nil %s", rhi.ErrInvalidDescriptor, what)
	}
	if err := rhi.CheckSameAPI(d.api, r); err != nil {
		return zero, fmt.Errorf("%s: %w", what, err)
	}
	v, ok := r.(T)
	if !ok || v.owner() != d {
		return zero, fmt.Errorf("%w: %s %q belongs to another device", rhi.ErrBackendMismatch, what, r.Name())
	}
	if v.destroyed() {
		return zero, fmt.Errorf("%w: %s %q", rhi.ErrDestroyed, what, r.Name())
	}
	return v, nil
}
