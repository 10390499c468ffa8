package rhi

import "github.com/gogpu/wgpu/hal"

// Config holds device creation parameters.
// Use functional options to customize it.
//
// Example:
//
//	// Best registered backend, validation on
//	dev, err := rhi.NewDevice(rhi.WithValidation(true))
//
//	// Vulkan policy executed on the CPU rasterizer
//	dev, err := rhi.NewDevice(
//		rhi.WithAPI(rhi.APIVulkan),
//		rhi.WithExecutor(software.API{}),
//	)
type Config struct {
	// API selects the backend. APIUndefined tries every registered backend
	// in priority order.
	API API

	// AdapterName, when set, selects the first adapter whose name contains
	// it instead of the highest scored one.
	AdapterName string

	// Executor replaces the backend's native driver. The backend keeps its
	// own policy (barriers, command buffer reuse, table capacity) and runs
	// it on the given hal implementation.
	Executor hal.Backend

	// Validation enables driver validation layers.
	Validation bool

	// StrictHazards turns usage-transition diagnostics into ErrHazard.
	StrictHazards bool

	// RequiredFeatures are backend feature names that must be available.
	// Features the backend treats as optional are only warned about.
	RequiredFeatures []string

	// Label names the device in logs and debug tools.
	Label string
}

// Option configures a Config.
type Option func(*Config)

// NewConfig applies opts to the default configuration.
func NewConfig(opts ...Option) Config {
	c := Config{Label: "rhi"}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithAPI selects the backend API.
func WithAPI(api API) Option {
	return func(c *Config) {
		c.API = api
	}
}

// WithAdapter selects an adapter by name substring.
func WithAdapter(name string) Option {
	return func(c *Config) {
		c.AdapterName = name
	}
}

// WithExecutor runs the backend on an alternate hal implementation,
// e.g. software.API{} for headless rendering.
func WithExecutor(b hal.Backend) Option {
	return func(c *Config) {
		c.Executor = b
	}
}

// WithValidation enables or disables driver validation.
func WithValidation(enabled bool) Option {
	return func(c *Config) {
		c.Validation = enabled
	}
}

// WithStrictHazards makes inconsistent usage transitions fail with ErrHazard
// instead of logging a debug diagnostic.
func WithStrictHazards(strict bool) Option {
	return func(c *Config) {
		c.StrictHazards = strict
	}
}

// WithRequiredFeatures marks backend features as required. Device creation
// fails with ErrMissingExtension if one is unavailable.
func WithRequiredFeatures(names ...string) Option {
	return func(c *Config) {
		c.RequiredFeatures = append(c.RequiredFeatures, names...)
	}
}

// WithLabel sets the device label.
func WithLabel(label string) Option {
	return func(c *Config) {
		c.Label = label
	}
}
