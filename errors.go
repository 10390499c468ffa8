package rhi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/wgpu/hal"
)

// Precondition violations. These are programming errors in the calling
// layer; Must turns them into an immediate panic for callers that prefer
// fail-fast behavior.
var (
	// ErrBackendMismatch is returned when resources of different APIs are combined.
	ErrBackendMismatch = errors.New("rhi: resources belong to different backends")

	// ErrBufferOverflow is returned when a copy or fill exceeds a buffer.
	ErrBufferOverflow = errors.New("rhi: buffer overflow")

	// ErrNotHostVisible is returned when the host touches device-local memory.
	ErrNotHostVisible = errors.New("rhi: buffer is not host visible")

	// ErrIndexOutOfBounds is returned for a resource table index past its capacity.
	ErrIndexOutOfBounds = errors.New("rhi: resource table index out of bounds")

	// ErrInvalidState is returned when a command is recorded in the wrong state.
	ErrInvalidState = errors.New("rhi: invalid command buffer state")

	// ErrInvalidDescriptor is returned for malformed creation parameters.
	ErrInvalidDescriptor = errors.New("rhi: invalid descriptor")

	// ErrHazard is returned in strict mode for an inconsistent usage transition.
	ErrHazard = errors.New("rhi: usage hazard")

	// ErrDestroyed is returned when a destroyed resource is used.
	ErrDestroyed = errors.New("rhi: resource destroyed")
)

// Configuration and capability errors.
var (
	// ErrNoAdapters is returned when adapter enumeration finds nothing.
	ErrNoAdapters = errors.New("rhi: no physical devices found")

	// ErrUnsupported is returned for a configuration the device cannot create.
	ErrUnsupported = errors.New("rhi: unsupported configuration")

	// ErrUnsupportedFormat is returned when a format has no native mapping.
	ErrUnsupportedFormat = errors.New("rhi: unsupported format")

	// ErrMissingExtension is returned when a required extension is unavailable.
	ErrMissingExtension = errors.New("rhi: required extension not available")

	// ErrBackendNotRegistered is returned when no backend is registered for an API.
	ErrBackendNotRegistered = errors.New("rhi: backend not registered")

	// ErrNotImplemented is returned by stub backends.
	ErrNotImplemented = errors.New("rhi: backend not implemented")

	// ErrSwapchainOutOfDate is returned when the surface must be reconfigured.
	ErrSwapchainOutOfDate = errors.New("rhi: swapchain out of date")
)

// Device-level error kinds. A DeviceError matches exactly one of them
// through errors.Is.
var (
	ErrOutOfHostMemory   = errors.New("rhi: out of host memory")
	ErrOutOfDeviceMemory = errors.New("rhi: out of device memory")
	ErrDeviceLost        = errors.New("rhi: device lost")
	ErrTimeout           = errors.New("rhi: timeout")
	ErrUnknown           = errors.New("rhi: unknown device error")
)

// DeviceError reports a failure returned by the native driver.
type DeviceError struct {
	// Op is the operation that failed, e.g. "create buffer".
	Op string
	// Kind is one of the device-level error kinds above.
	Kind error
	// Err is the native error.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is matches the error kind.
func (e *DeviceError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the native error.
func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError classifies a native error. Nil stays nil.
func NewDeviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) error {
	switch {
	case strings.Contains(err.Error(), "OUT_OF_HOST_MEMORY"):
		return ErrOutOfHostMemory
	case errors.Is(err, hal.ErrDeviceOutOfMemory),
		strings.Contains(err.Error(), "OUT_OF_DEVICE_MEMORY"):
		return ErrOutOfDeviceMemory
	case errors.Is(err, hal.ErrDeviceLost):
		return ErrDeviceLost
	case errors.Is(err, hal.ErrTimeout):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// Must returns v or panics with err. It implements the fail-fast policy
// for precondition violations.
//
//	buf := rhi.Must(dev.CreateBuffer(desc))
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
