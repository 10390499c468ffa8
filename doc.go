// Package rhi is a rendering hardware interface: one resource and
// command-recording API over several native graphics backends.
//
// # Overview
//
// rhi hides the differences between explicit-barrier, reusable-command-buffer
// APIs (Vulkan) and hazard-tracked, single-use encoder APIs (Metal) behind a
// single contract:
//
//   - Every GPU object implements Resource: it carries the API tag of the
//     device that created it and is released explicitly with Destroy.
//   - Resources are bound through one ResourceTable per command buffer
//     instead of per-draw descriptor sets.
//   - Usage transitions are declared with SynchronizeBufferUsage and
//     SynchronizeImageUsage. Backends with explicit barriers emit them;
//     the others validate them.
//   - Resources still referenced by in-flight work are queued on a command
//     buffer and destroyed once that work completes.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/rhi"
//		_ "github.com/gogpu/rhi/backend/metal"
//		_ "github.com/gogpu/rhi/backend/vulkan"
//	)
//
//	dev, err := rhi.NewDevice(rhi.WithValidation(true))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	cb := rhi.Must(dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: "main"}))
//	_ = cb.Begin()
//	// record
//	_ = cb.End()
//	_ = dev.Submit(cb)
//	_ = dev.WaitForCommandBuffer(cb)
//
// # Backends
//
// Backends register from init in their packages under backend/. DirectX
// and OpenGL are registered stubs that fail with ErrNotImplemented.
// Any backend can run on an alternate hal driver through WithExecutor,
// which is how tests exercise the Vulkan and Metal policies headless.
//
// # Errors
//
// Precondition violations (ErrBackendMismatch, ErrBufferOverflow,
// ErrIndexOutOfBounds, ErrInvalidState) are returned as wrapped sentinels.
// Callers that prefer fail-fast behavior wrap calls in Must. Driver
// failures are reported as *DeviceError and match one of the device error
// kinds with errors.Is.
//
// # Thread Safety
//
// Objects guard their state with a mutex, but recording is designed for a
// single control thread.
package rhi
