package rhi

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/gogpu/gpucontext"
)

// Backend opens devices for one native API.
//
// Backend packages register themselves from init; applications opt in with
// a blank import:
//
//	import _ "github.com/gogpu/rhi/backend/vulkan"
type Backend interface {
	API() API
	Open(cfg Config) (Device, error)
}

// priority is the order NewDevice tries backends in when no API is
// requested. Metal is native on Apple platforms; elsewhere Vulkan leads.
var priority = defaultPriority(runtime.GOOS)

func defaultPriority(goos string) []API {
	if goos == "darwin" || goos == "ios" {
		return []API{APIMetal, APIVulkan, APIDirectX, APIOpenGL}
	}
	return []API{APIVulkan, APIMetal, APIDirectX, APIOpenGL}
}

func priorityNames() []string {
	names := make([]string, len(priority))
	for i, a := range priority {
		names[i] = a.String()
	}
	return names
}

var backends = gpucontext.NewRegistry[Backend](gpucontext.WithPriority(priorityNames()...))

// Register makes a backend available under its API. A later registration
// for the same API replaces the earlier one.
func Register(api API, factory func() Backend) {
	backends.Register(api.String(), factory)
}

// Unregister removes the backend for api.
func Unregister(api API) {
	backends.Unregister(api.String())
}

// IsRegistered reports whether a backend is registered for api.
func IsRegistered(api API) bool {
	return backends.Has(api.String())
}

// Available returns the registered APIs in priority order.
func Available() []API {
	var out []API
	for _, a := range priority {
		if backends.Has(a.String()) {
			out = append(out, a)
		}
	}
	for _, name := range backends.Available() {
		a, err := ParseAPI(name)
		if err == nil && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// NewDevice opens a device on the requested backend, or on the first
// registered backend that opens successfully when no API is requested.
func NewDevice(opts ...Option) (Device, error) {
	cfg := NewConfig(opts...)
	if cfg.API != APIUndefined {
		return openBackend(cfg.API, cfg)
	}

	candidates := Available()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no backends registered", ErrBackendNotRegistered)
	}
	var errs []error
	for _, api := range candidates {
		cfg.API = api
		dev, err := openBackend(api, cfg)
		if err == nil {
			return dev, nil
		}
		Logger().Debug("rhi: backend unavailable", "api", api, "err", err)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func openBackend(api API, cfg Config) (Device, error) {
	b := backends.Get(api.String())
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotRegistered, api)
	}
	dev, err := b.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("rhi: open %s: %w", api, err)
	}
	Logger().Info("rhi: device opened", "api", api, "adapter", dev.AdapterInfo().Name)
	return dev, nil
}
