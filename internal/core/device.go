package core

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Device implements rhi.Device over a hal device and queue.
//
// Completion tracking uses hal submission indices: Submit records the
// index returned by the queue and waits compare it against PollCompleted.
// hal has no per-submission wait, so a wait on an incomplete submission
// falls back to WaitIdle.
type Device struct {
	resource
	profile *Profile
	cfg     rhi.Config

	instance hal.Instance
	adapter  hal.ExposedAdapter
	hal      hal.Device
	queue    hal.Queue

	limits   gputypes.Limits
	features []rhi.FeatureState
	tableCap rhi.TableCapacity

	arena destroyArena
	gen   atomic.Uint64

	layoutOnce  sync.Once
	emptyLayout hal.PipelineLayout
	layoutErr   error

	mu            sync.Mutex
	lastSubmitted uint64
	// idleAt is the last submission known complete through WaitIdle.
	idleAt uint64
}

var _ rhi.Device = (*Device)(nil)

// Open creates a device for the profile. The hal driver is cfg.Executor
// when set, otherwise p.Driver.
func Open(p *Profile, cfg rhi.Config) (*Device, error) {
	driver := cfg.Executor
	if driver == nil {
		driver = p.Driver
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: no %s driver on %s", rhi.ErrUnsupported, p.API, runtime.GOOS)
	}

	flags := gputypes.InstanceFlagsNone
	if cfg.Validation {
		flags |= gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := driver.CreateInstance(&hal.InstanceDescriptor{Backends: p.Backends, Flags: flags})
	if err != nil {
		return nil, rhi.NewDeviceError("create instance", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	idx, err := SelectAdapter(adapters, cfg.AdapterName)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	chosen := adapters[idx]

	states, bits, err := p.Features.Resolve(chosen, cfg.RequiredFeatures)
	if err != nil {
		instance.Destroy()
		return nil, err
	}

	open, err := chosen.Adapter.Open(bits, chosen.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, rhi.NewDeviceError("open device", err)
	}

	d := &Device{
		profile:  p,
		cfg:      cfg,
		instance: instance,
		adapter:  chosen,
		hal:      open.Device,
		queue:    open.Queue,
		limits:   chosen.Capabilities.Limits,
		features: states,
	}
	d.setup(d, cfg.Label)
	if p.TableCapacity != nil {
		d.tableCap = p.TableCapacity(d.limits)
	}

	slogger().Info("rhi: adapter selected",
		"api", p.API,
		"adapter", chosen.Info.Name,
		"type", chosen.Info.DeviceType,
		"score", Score(chosen),
		"candidates", len(adapters))
	return d, nil
}

// nextGeneration returns a device-unique resource table layout generation.
func (d *Device) nextGeneration() uint64 { return d.gen.Add(1) }

// emptyPipelineLayout is used by pipelines recorded without a resource table.
func (d *Device) emptyPipelineLayout() (hal.PipelineLayout, error) {
	d.layoutOnce.Do(func() {
		pl, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: "rhi/empty"})
		d.emptyLayout, d.layoutErr = pl, rhi.NewDeviceError("create empty pipeline layout", err)
	})
	return d.emptyLayout, d.layoutErr
}

// AdapterInfo returns the selected adapter's description.
func (d *Device) AdapterInfo() gputypes.AdapterInfo { return d.adapter.Info }

// Limits returns the adapter limits the device was opened with.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// Features returns the negotiation result of every backend feature.
func (d *Device) Features() []rhi.FeatureState { return slices.Clone(d.features) }

// IsFeatureEnabled reports whether a backend feature was enabled.
func (d *Device) IsFeatureEnabled(name string) bool {
	for _, f := range d.features {
		if f.Name == name {
			return f.Enabled
		}
	}
	return false
}

// FormatToNative translates f into the backend pixel format enum.
func (d *Device) FormatToNative(f rhi.Format) (uint32, error) {
	return d.profile.Formats.ToNative(f)
}

// FormatFromNative translates a backend pixel format back.
func (d *Device) FormatFromNative(n uint32) (rhi.Format, bool) {
	return d.profile.Formats.FromNative(n)
}

// formatCaps returns the hal format and its capabilities, or an error when
// the format has no mapping on this backend.
func (d *Device) formatCaps(f rhi.Format) (gputypes.TextureFormat, hal.TextureFormatCapabilityFlags, error) {
	if _, err := d.profile.Formats.ToNative(f); err != nil {
		return 0, 0, err
	}
	tf, err := f.TextureFormat()
	if err != nil {
		return 0, 0, err
	}
	return tf, d.adapter.Adapter.TextureFormatCapabilities(tf).Flags, nil
}

// IsImageSamplingSupported reports whether images of format f can be sampled.
func (d *Device) IsImageSamplingSupported(f rhi.Format) bool {
	_, caps, err := d.formatCaps(f)
	return err == nil && caps&hal.TextureFormatCapabilitySampled != 0
}

// IsImageConfigurationSupported reports whether CreateImage would accept desc.
func (d *Device) IsImageConfigurationSupported(desc rhi.ImageDesc) bool {
	return d.checkImage(desc.Normalized()) == nil
}

// GetSupportedImageFormat returns the first candidate usable with usage.
func (d *Device) GetSupportedImageFormat(candidates []rhi.Format, usage rhi.ImageUsage) (rhi.Format, bool) {
	for _, f := range candidates {
		probe := rhi.ImageDesc{Width: 1, Height: 1, Format: f, Usage: usage}
		if d.IsImageConfigurationSupported(probe) {
			return f, true
		}
	}
	return rhi.Format{}, false
}

// checkImage validates a normalized descriptor against the adapter.
func (d *Device) checkImage(n rhi.ImageDesc) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Memory == rhi.MemoryHostVisible {
		return fmt.Errorf("%w: host-visible image %q", rhi.ErrUnsupported, n.Name)
	}
	_, caps, err := d.formatCaps(n.Format)
	if err != nil {
		return err
	}
	need := []struct {
		usage rhi.ImageUsage
		flag  hal.TextureFormatCapabilityFlags
	}{
		{rhi.ImageColorAttachment, hal.TextureFormatCapabilityRenderAttachment},
		{rhi.ImageDepthAttachment, hal.TextureFormatCapabilityRenderAttachment},
		{rhi.ImageSampled, hal.TextureFormatCapabilitySampled},
		{rhi.ImageStorage, hal.TextureFormatCapabilityStorage},
	}
	for _, c := range need {
		if n.Usage.Has(c.usage) && caps&c.flag == 0 {
			return fmt.Errorf("%w: %s does not support %s usage", rhi.ErrUnsupported, n.Format, c.usage)
		}
	}
	if n.Samples > 1 && caps&hal.TextureFormatCapabilityMultisample == 0 {
		return fmt.Errorf("%w: %s does not support %dx multisampling", rhi.ErrUnsupported, n.Format, n.Samples)
	}
	if maxDim := d.limits.MaxTextureDimension2D; maxDim > 0 && (n.Width > maxDim || n.Height > maxDim) {
		return fmt.Errorf("%w: %dx%d exceeds max dimension %d", rhi.ErrUnsupported, n.Width, n.Height, maxDim)
	}
	if maxLayers := d.limits.MaxTextureArrayLayers; maxLayers > 0 && n.Layers > maxLayers {
		return fmt.Errorf("%w: %d layers exceed max %d", rhi.ErrUnsupported, n.Layers, maxLayers)
	}
	return nil
}

// Submit submits ended command buffers to the queue in order.
func (d *Device) Submit(cbs ...rhi.CommandBuffer) error {
	if d.destroyed() {
		return rhi.ErrDestroyed
	}
	if len(cbs) == 0 {
		return nil
	}
	list := make([]*CommandBuffer, 0, len(cbs))
	natives := make([]hal.CommandBuffer, 0, len(cbs))
	for _, c := range cbs {
		cb, err := adopt[*CommandBuffer](d, c, "command buffer")
		if err != nil {
			return err
		}
		if slices.Contains(list, cb) {
			return fmt.Errorf("%w: command buffer %q submitted twice", rhi.ErrInvalidState, cb.name)
		}
		native, err := cb.readyForSubmit()
		if err != nil {
			return err
		}
		list = append(list, cb)
		natives = append(natives, native)
	}

	d.mu.Lock()
	idx, err := d.queue.Submit(natives)
	if err != nil {
		d.mu.Unlock()
		return rhi.NewDeviceError("submit", err)
	}
	d.lastSubmitted = idx
	d.mu.Unlock()

	for _, cb := range list {
		d.arena.Defer(idx, cb.markSubmitted(idx))
	}
	d.Poll()
	return nil
}

// lastSubmission returns the index of the most recent submission.
func (d *Device) lastSubmission() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSubmitted
}

// completedIndex returns the highest submission known complete.
func (d *Device) completedIndex() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return max(d.queue.PollCompleted(), d.idleAt)
}

// Poll runs deferred destruction for every completed submission without
// blocking and returns the number of resources destroyed.
func (d *Device) Poll() int {
	if d.destroyed() {
		// The queue is idle after teardown.
		return d.arena.FlushAll()
	}
	return d.arena.Triage(d.completedIndex())
}

// waitFor blocks until submission idx has completed.
func (d *Device) waitFor(idx uint64) error {
	if idx == 0 || d.completedIndex() >= idx {
		return nil
	}
	return d.waitIdle()
}

func (d *Device) waitIdle() error {
	d.mu.Lock()
	target := d.lastSubmitted
	d.mu.Unlock()

	if err := d.hal.WaitIdle(); err != nil {
		return rhi.NewDeviceError("wait idle", err)
	}

	d.mu.Lock()
	d.idleAt = max(d.idleAt, target)
	d.mu.Unlock()
	return nil
}

// WaitForCommandBuffer blocks until cb's last submission completes, then
// drains the deferred destruction that was waiting on it.
func (d *Device) WaitForCommandBuffer(c rhi.CommandBuffer) error {
	cb, err := adopt[*CommandBuffer](d, c, "command buffer")
	if err != nil {
		return err
	}
	return cb.wait()
}

// WaitIdle blocks until all submitted work completes and drains every
// deferred destruction.
func (d *Device) WaitIdle() error {
	if err := d.waitIdle(); err != nil {
		return err
	}
	d.Poll()
	return nil
}

// PendingDestruction returns the number of resources waiting for GPU
// completion.
func (d *Device) PendingDestruction() int { return d.arena.Len() }

// Destroy drains the queue, runs all deferred destruction and releases the
// native device.
func (d *Device) Destroy() {
	if !d.release() {
		return
	}
	if err := d.waitIdle(); err != nil {
		slogger().Warn("rhi: wait idle during device teardown", "err", err)
	}
	d.arena.FlushAll()
	if d.emptyLayout != nil {
		d.hal.DestroyPipelineLayout(d.emptyLayout)
	}
	d.hal.Destroy()
	d.adapter.Adapter.Destroy()
	d.instance.Destroy()
	slogger().Info("rhi: device destroyed", "api", d.api)
}

// hazard reports usage diagnostics. Strict devices fail with ErrHazard;
// others log at debug level.
func (d *Device) hazard(op, subject string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	msg := strings.Join(slices.Compact(problems), "; ")
	if d.cfg.StrictHazards {
		return fmt.Errorf("%w: %s %q: %s", rhi.ErrHazard, op, subject, msg)
	}
	slogger().Debug("rhi: usage hazard", "op", op, "resource", subject, "problem", msg)
	return nil
}
