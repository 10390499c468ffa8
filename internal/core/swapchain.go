package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

const maxFramesInFlight = 8

// swapSlot is one entry of the frame ring.
type swapSlot struct {
	cb    *CommandBuffer
	image *Image
}

// Swapchain implements rhi.Swapchain on a hal surface.
//
// hal surfaces hand out one texture at a time, so a frame must be presented
// before the next is acquired. Each slot owns a command buffer; reacquiring
// a slot waits for that command buffer, which bounds the CPU to
// FramesInFlight frames ahead of the GPU.
type Swapchain struct {
	resource
	window  rhi.Window
	surface hal.Surface
	format  rhi.Format
	vsync   bool

	mu       sync.Mutex
	config   hal.SurfaceConfiguration
	slots    []swapSlot
	index    int
	acquired hal.SurfaceTexture
}

var _ rhi.Swapchain = (*Swapchain)(nil)

// physicalSize converts the window's logical size to pixels.
func physicalSize(w rhi.Window) (uint32, uint32) {
	lw, lh := w.Size()
	scale := w.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	return uint32(float64(lw) * scale), uint32(float64(lh) * scale)
}

// surfaceError maps hal presentation errors onto the rhi taxonomy.
func surfaceError(op string, err error) error {
	switch {
	case errors.Is(err, hal.ErrSurfaceOutdated), errors.Is(err, hal.ErrSurfaceLost):
		return fmt.Errorf("%s: %w: %w", op, rhi.ErrSwapchainOutOfDate, err)
	case errors.Is(err, hal.ErrNotReady):
		return fmt.Errorf("%s: %w: %w", op, rhi.ErrTimeout, err)
	case errors.Is(err, hal.ErrZeroArea):
		return fmt.Errorf("%s: %w: %w", op, rhi.ErrInvalidDescriptor, err)
	default:
		return rhi.NewDeviceError(op, err)
	}
}

// CreateSwapchain binds a surface to desc.Window and configures it at the
// window's physical size.
func (d *Device) CreateSwapchain(desc rhi.SwapchainDesc) (rhi.Swapchain, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	if desc.Window == nil {
		return nil, fmt.Errorf("%w: swapchain %q has no window", rhi.ErrInvalidDescriptor, desc.Name)
	}
	frames := desc.FramesInFlight
	if frames == 0 {
		frames = 2
	}
	if frames < 0 || frames > maxFramesInFlight {
		return nil, fmt.Errorf("%w: %d frames in flight, want 1..%d", rhi.ErrInvalidDescriptor, frames, maxFramesInFlight)
	}
	format := desc.Format
	if format == (rhi.Format{}) {
		format = rhi.FormatBGRA8Unorm
	}
	tf, err := format.TextureFormat()
	if err != nil {
		return nil, err
	}

	display, window := desc.Window.NativeHandles()
	surface, err := d.instance.CreateSurface(display, window)
	if err != nil {
		return nil, rhi.NewDeviceError("create surface", err)
	}
	if caps := d.adapter.Adapter.SurfaceCapabilities(surface); caps != nil && len(caps.Formats) > 0 &&
		!slices.Contains(caps.Formats, tf) {
		surface.Destroy()
		return nil, fmt.Errorf("%w: surface cannot present %s", rhi.ErrUnsupportedFormat, format)
	}

	sc := &Swapchain{window: desc.Window, surface: surface, format: format, vsync: desc.VSync, index: -1}
	sc.setup(d, desc.Name)
	w, h := physicalSize(desc.Window)
	sc.config = hal.SurfaceConfiguration{
		Width:       w,
		Height:      h,
		Format:      tf,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
		PresentMode: gputypes.PresentModeImmediate,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	}
	if desc.VSync {
		sc.config.PresentMode = gputypes.PresentModeFifo
	}
	if err := surface.Configure(d.hal, &sc.config); err != nil {
		surface.Destroy()
		return nil, surfaceError("configure surface", err)
	}
	sc.slots = make([]swapSlot, frames)
	for i := range sc.slots {
		sc.slots[i].cb = d.newCommandBuffer(fmt.Sprintf("%s/frame%d", desc.Name, i))
	}
	slogger().Info("rhi: swapchain configured",
		"name", desc.Name, "width", w, "height", h, "format", format, "frames", frames, "vsync", desc.VSync)
	return sc, nil
}

func (s *Swapchain) FramesInFlight() int { return len(s.slots) }
func (s *Swapchain) Format() rhi.Format  { return s.format }

// FrameIndex returns the slot of the last acquired frame, -1 before the
// first acquire.
func (s *Swapchain) FrameIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Size returns the configured size in pixels.
func (s *Swapchain) Size() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Width, s.config.Height
}

// AcquireNextFrame advances to the next slot, waits for its previous
// command buffer and acquires a surface image. The returned image starts
// with untracked (undefined) contents.
func (s *Swapchain) AcquireNextFrame() (rhi.Frame, error) {
	if s.destroyed() {
		return rhi.Frame{}, fmt.Errorf("%w: swapchain %q", rhi.ErrDestroyed, s.name)
	}
	if s.window.Closed() {
		return rhi.Frame{}, fmt.Errorf("%w: window of %q closed", rhi.ErrSwapchainOutOfDate, s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired != nil {
		return rhi.Frame{}, fmt.Errorf("%w: frame %d of %q not presented", rhi.ErrInvalidState, s.index, s.name)
	}
	next := (s.index + 1) % len(s.slots)
	slot := &s.slots[next]
	if err := slot.cb.wait(); err != nil {
		return rhi.Frame{}, err
	}
	if slot.image != nil {
		slot.image.Destroy()
		slot.image = nil
	}

	acq, err := s.surface.AcquireTexture(nil)
	if err != nil {
		return rhi.Frame{}, surfaceError("acquire frame", err)
	}
	if acq.Suboptimal {
		slogger().Debug("rhi: swapchain suboptimal", "swapchain", s.name)
	}
	format := s.format
	img, err := s.dev.wrapSurfaceImage(fmt.Sprintf("%s/image%d", s.name, next), acq.Texture, format, s.config.Width, s.config.Height)
	if err != nil {
		s.surface.DiscardTexture(acq.Texture)
		return rhi.Frame{}, err
	}
	img.resetTracking()
	slot.image = img
	s.index = next
	s.acquired = acq.Texture
	return rhi.Frame{Index: next, Image: img, CommandBuffer: slot.cb}, nil
}

// Present queues the frame image for display. The frame's command buffer
// must have been submitted.
func (s *Swapchain) Present(f rhi.Frame) error {
	if s.destroyed() {
		return fmt.Errorf("%w: swapchain %q", rhi.ErrDestroyed, s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired == nil || f.Index != s.index {
		return fmt.Errorf("%w: frame %d of %q is not the acquired frame", rhi.ErrInvalidState, f.Index, s.name)
	}
	cb := s.slots[s.index].cb
	if st := cb.State(); st != rhi.StateSubmitted && st != rhi.StateCompleted {
		return fmt.Errorf("%w: present of frame %d with command buffer in state %s",
			rhi.ErrInvalidState, f.Index, st)
	}
	tex := s.acquired
	s.acquired = nil
	if err := s.dev.queue.Present(s.surface, tex, nil); err != nil {
		return surfaceError("present", err)
	}
	return nil
}

// Resize waits for the device to go idle and reconfigures the surface.
// Zero dimensions re-read the window size.
func (s *Swapchain) Resize(width, height uint32) error {
	if s.destroyed() {
		return fmt.Errorf("%w: swapchain %q", rhi.ErrDestroyed, s.name)
	}
	if width == 0 || height == 0 {
		width, height = physicalSize(s.window)
	}
	if err := s.dev.WaitIdle(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired != nil {
		s.surface.DiscardTexture(s.acquired)
		s.acquired = nil
	}
	s.releaseImages()
	cfg := s.config
	cfg.Width, cfg.Height = width, height
	if err := s.surface.Configure(s.dev.hal, &cfg); err != nil {
		return surfaceError("resize surface", err)
	}
	s.config = cfg
	slogger().Info("rhi: swapchain resized", "name", s.name, "width", width, "height", height)
	return nil
}

func (s *Swapchain) releaseImages() {
	for i := range s.slots {
		if s.slots[i].image != nil {
			s.slots[i].image.Destroy()
			s.slots[i].image = nil
		}
	}
}

// Destroy waits for in-flight frames and releases the surface and the
// slot command buffers.
func (s *Swapchain) Destroy() {
	if !s.release() {
		return
	}
	d := s.dev
	if err := d.waitIdle(); err != nil {
		slogger().Warn("rhi: swapchain destroy", "name", s.name, "err", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired != nil {
		s.surface.DiscardTexture(s.acquired)
		s.acquired = nil
	}
	s.releaseImages()
	for _, slot := range s.slots {
		slot.cb.Destroy()
	}
	d.Poll()
	s.surface.Unconfigure(d.hal)
	s.surface.Destroy()
}
