// Package editor is the frame loop of the rhi editor: it owns the device,
// the swapchain and the render tasks, and turns window input into a
// per-frame snapshot.
//
// A host drives an App by calling Update until it returns false:
//
//	app, err := editor.New(cfg, window, editor.WithEvents(events),
//		editor.WithTasks(&editor.ClearTask{Color: cfg.ClearColor}))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer app.Close()
//	for app.Update() {
//	}
package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shaders"
)

// Option configures an App.
type Option func(*App)

// WithEvents attaches the input snapshot to src.
func WithEvents(src gpucontext.EventSource) Option {
	return func(a *App) { a.events = src }
}

// WithTasks sets the render tasks, run in order each frame.
func WithTasks(tasks ...RenderTask) Option {
	return func(a *App) { a.tasks = append(a.tasks, tasks...) }
}

// WithDeviceOptions appends device options after the ones derived from
// the config, e.g. rhi.WithExecutor for headless runs.
func WithDeviceOptions(opts ...rhi.Option) Option {
	return func(a *App) { a.devOpts = append(a.devOpts, opts...) }
}

// WithContext bounds limiter waits by ctx. A canceled context ends the loop.
func WithContext(ctx context.Context) Option {
	return func(a *App) { a.ctx = ctx }
}

// App is the editor application object.
type App struct {
	cfg     Config
	ctx     context.Context
	win     rhi.Window
	events  gpucontext.EventSource
	devOpts []rhi.Option

	dev     rhi.Device
	sc      rhi.Swapchain
	table   rhi.ResourceTable
	lib     *shaders.Library
	watcher *shaders.Watcher
	input   *Input
	limiter *Limiter
	tasks   []RenderTask

	prepared bool
	frames   uint64
	quit     atomic.Bool
	err      error

	// readback receives the frame copy of a pending capture.
	readback rhi.Buffer

	mu          sync.Mutex
	reloads     []string
	capture     string
	lastCapture string
}

// New opens a device and a swapchain on win. The default task list is a
// single ClearTask with the configured clear color.
func New(cfg Config, win rhi.Window, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if win == nil {
		return nil, fmt.Errorf("%w: no window", rhi.ErrInvalidDescriptor)
	}
	a := &App{cfg: cfg, ctx: context.Background(), win: win, input: NewInput()}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.tasks) == 0 {
		a.tasks = []RenderTask{&ClearTask{Color: cfg.ClearColor}}
	}
	if a.events != nil {
		a.input.Attach(a.events)
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.dev, err = rhi.NewDevice(append(cfg.DeviceOptions(), a.devOpts...)...)
	if err != nil {
		return nil, err
	}
	a.sc, err = a.dev.CreateSwapchain(rhi.SwapchainDesc{
		Name:           "editor",
		Window:         win,
		FramesInFlight: cfg.FramesInFlight,
		VSync:          cfg.VSync,
	})
	if err != nil {
		return nil, err
	}
	if a.table, err = a.dev.CreateResourceTable(rhi.ResourceTableDesc{Name: "editor/table"}); err != nil {
		return nil, err
	}
	if err := a.openShaders(); err != nil {
		return nil, err
	}
	a.limiter = NewLimiter(cfg.FPSLimit)

	ok = true
	rhi.Logger().Info("editor: started",
		"api", a.dev.API(), "adapter", a.dev.AdapterInfo().Name,
		"frames", a.sc.FramesInFlight(), "fps_limit", cfg.FPSLimit, "tasks", len(a.tasks))
	return a, nil
}

func (a *App) openShaders() error {
	dir := a.cfg.Resources
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		rhi.Logger().Warn("editor: no resources directory", "dir", dir)
		return nil
	}
	lib, err := shaders.OpenLibrary(dir)
	if err != nil {
		return err
	}
	a.lib = lib
	if !a.cfg.HotReload {
		return nil
	}
	w, err := shaders.Watch(dir, 0)
	if err != nil {
		rhi.Logger().Warn("editor: shader hot reload disabled", "dir", dir, "err", err)
		return nil
	}
	a.watcher = w
	return nil
}

func (a *App) Device() rhi.Device        { return a.dev }
func (a *App) Swapchain() rhi.Swapchain  { return a.sc }
func (a *App) Input() *Input             { return a.input }
func (a *App) Limiter() *Limiter         { return a.limiter }
func (a *App) Shaders() *shaders.Library { return a.lib }

// Frames returns the number of frames presented.
func (a *App) Frames() uint64 { return a.frames }

// Err returns the error that ended the loop, if any.
func (a *App) Err() error { return a.err }

// Quit makes the next Update return false.
func (a *App) Quit() { a.quit.Store(true) }

// Capture requests a PNG of the next frame at path. An empty path names a
// timestamped file in the capture directory.
func (a *App) Capture(path string) {
	if path == "" {
		path = filepath.Join(a.cfg.Capture.Dir, time.Now().Format("frame-20060102-150405.000")+".png")
	}
	a.mu.Lock()
	a.capture = path
	a.mu.Unlock()
}

// LastCapture returns the path of the last written capture.
func (a *App) LastCapture() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCapture
}

// ReloadBundle schedules the bundle at path for reloading at the next frame.
func (a *App) ReloadBundle(path string) {
	a.mu.Lock()
	a.reloads = append(a.reloads, path)
	a.mu.Unlock()
}

// Update runs one iteration of the loop and reports whether to continue.
func (a *App) Update() bool {
	if a.quit.Load() || a.win.Closed() {
		return false
	}
	a.input.Poll()
	a.hotkeys()
	if a.quit.Load() {
		return false
	}
	if err := a.limiter.Wait(a.ctx); err != nil {
		return false
	}
	a.drainWatcher()
	running, err := a.frame()
	if err != nil {
		a.err = err
		rhi.Logger().Error("editor: frame failed", "frame", a.frames, "err", err)
		return false
	}
	return running
}

func (a *App) hotkeys() {
	switch {
	case a.input.KeyPressed(gpucontext.KeyEscape):
		a.Quit()
	case a.input.KeyPressed(gpucontext.KeyF12):
		a.Capture("")
	case a.input.KeyPressed(gpucontext.KeyF5) && a.lib != nil:
		for _, name := range a.lib.Bundles() {
			a.ReloadBundle(filepath.Join(a.lib.Dir(), name))
		}
	}
}

func (a *App) drainWatcher() {
	if a.watcher == nil {
		return
	}
	for {
		select {
		case path, ok := <-a.watcher.Changes():
			if !ok {
				a.watcher = nil
				return
			}
			a.ReloadBundle(path)
		default:
			return
		}
	}
}

// windowSize returns the window size in pixels.
func (a *App) windowSize() (uint32, uint32) {
	w, h := a.win.Size()
	scale := a.win.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	return uint32(float64(max(w, 0)) * scale), uint32(float64(max(h, 0)) * scale)
}

func (a *App) frame() (bool, error) {
	w, h := a.windowSize()
	if w == 0 || h == 0 {
		// Minimized.
		return true, nil
	}
	if sw, sh := a.sc.Size(); sw != w || sh != h {
		if err := a.sc.Resize(w, h); err != nil {
			return false, err
		}
	}
	frame, err := a.sc.AcquireNextFrame()
	if errors.Is(err, rhi.ErrSwapchainOutOfDate) {
		if a.win.Closed() {
			return false, nil
		}
		return true, a.sc.Resize(0, 0)
	}
	if err != nil {
		return false, err
	}
	if !a.prepared {
		if err := a.prepare(frame.Image); err != nil {
			return false, err
		}
	}

	a.mu.Lock()
	capture := a.capture
	a.capture = ""
	a.mu.Unlock()

	cb := frame.CommandBuffer
	defer a.releaseReadback(cb)
	if err := a.record(cb, frame, capture != ""); err != nil {
		return false, err
	}
	if err := a.dev.Submit(cb); err != nil {
		return false, err
	}
	if err := a.sc.Present(frame); err != nil && !errors.Is(err, rhi.ErrSwapchainOutOfDate) {
		return false, err
	}
	a.frames++
	if a.readback != nil {
		if err := a.writeCapture(cb, a.readback, frame.Image, capture); err != nil {
			rhi.Logger().Warn("editor: capture failed", "path", capture, "err", err)
		}
	}
	return true, nil
}

// releaseReadback destroys the capture buffer once cb no longer uses it.
// A recording that never reached the queue releases it at once.
func (a *App) releaseReadback(cb rhi.CommandBuffer) {
	buf := a.readback
	if buf == nil {
		return
	}
	a.readback = nil
	switch cb.State() {
	case rhi.StateSubmitted, rhi.StateCompleted:
		if err := cb.QueueBufferForDestruction(buf); err != nil {
			rhi.Logger().Warn("editor: release capture buffer", "err", err)
		}
	default:
		buf.Destroy()
	}
}

func (a *App) prepare(img rhi.Image) error {
	target := &Target{
		Image:          img,
		FramesInFlight: a.sc.FramesInFlight(),
		Table:          a.table,
		Shaders:        a.lib,
	}
	for i, t := range a.tasks {
		if err := t.Prepare(a.dev, target); err != nil {
			for _, done := range a.tasks[:i] {
				done.Release()
			}
			return fmt.Errorf("editor: prepare task %d: %w", i, err)
		}
	}
	a.prepared = true
	return nil
}

// record fills cb for frame. With capture set it also copies the frame
// into a.readback.
func (a *App) record(cb rhi.CommandBuffer, frame rhi.Frame, capture bool) error {
	if err := cb.Begin(); err != nil {
		return err
	}
	a.applyReloads(cb)
	if err := cb.BindResourceTable(a.table); err != nil {
		return err
	}
	img := frame.Image
	if err := cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}); err != nil {
		return err
	}
	for i, t := range a.tasks {
		if err := t.Record(cb, frame); err != nil {
			return fmt.Errorf("editor: task %d: %w", i, err)
		}
	}

	last := rhi.UsageColorAttachment
	if capture {
		buf, err := a.dev.CreateBuffer(rhi.BufferDesc{
			Name:   "editor/capture",
			Size:   img.ByteSize(),
			Usage:  rhi.BufferTransferDst,
			Memory: rhi.MemoryHostVisible,
		})
		if err != nil {
			return err
		}
		a.readback = buf
		if err := cb.SynchronizeImageUsage(img, rhi.UsageColorAttachment, rhi.UsageTransferSrc, rhi.ImageRange{}); err != nil {
			return err
		}
		if err := cb.CopyImageToBuffer(img, buf, 0, 0, 0); err != nil {
			return err
		}
		last = rhi.UsageTransferSrc
	}
	if err := cb.SynchronizeImageUsage(img, last, rhi.UsagePresent, rhi.ImageRange{}); err != nil {
		return err
	}
	return cb.End()
}

// applyReloads reloads scheduled bundles and rebuilds the pipelines of
// tasks that load shaders. Failures keep the previous shaders.
func (a *App) applyReloads(cb rhi.CommandBuffer) {
	a.mu.Lock()
	paths := a.reloads
	a.reloads = nil
	a.mu.Unlock()
	if len(paths) == 0 || a.lib == nil {
		return
	}
	reloaded := false
	for _, p := range paths {
		if err := a.lib.Reload(p); err != nil {
			rhi.Logger().Warn("editor: bundle reload failed", "path", p, "err", err)
			continue
		}
		reloaded = true
	}
	if !reloaded {
		return
	}
	for i, t := range a.tasks {
		r, ok := t.(ShaderReloader)
		if !ok {
			continue
		}
		if err := r.ReloadShaders(cb); err != nil {
			rhi.Logger().Warn("editor: shader reload failed", "task", i, "err", err)
		}
	}
}

func (a *App) writeCapture(cb rhi.CommandBuffer, readback rhi.Buffer, img rhi.Image, path string) error {
	if err := a.dev.WaitForCommandBuffer(cb); err != nil {
		return err
	}
	texels := make([]byte, readback.Size())
	if err := readback.ReadToMemory(texels, 0, 0); err != nil {
		return err
	}
	out, err := frameImage(texels, int(img.Width()), int(img.Height()), img.Format(), a.cfg.Capture.Scale)
	if err != nil {
		return err
	}
	if err := writePNG(path, out); err != nil {
		return err
	}
	a.mu.Lock()
	a.lastCapture = path
	a.mu.Unlock()
	rhi.Logger().Info("editor: frame captured", "path", path, "width", out.Bounds().Dx(), "height", out.Bounds().Dy())
	return nil
}

// Close waits for the device, releases the tasks and destroys everything
// New created.
func (a *App) Close() error {
	var errs []error
	if a.dev != nil {
		errs = append(errs, a.dev.WaitIdle())
	}
	if a.prepared {
		for _, t := range a.tasks {
			t.Release()
		}
		a.prepared = false
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	if a.lib != nil {
		errs = append(errs, a.lib.Close())
		a.lib = nil
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.table != nil {
		a.table.Destroy()
		a.table = nil
	}
	if a.sc != nil {
		a.sc.Destroy()
		a.sc = nil
	}
	if a.dev != nil {
		a.dev.Destroy()
		a.dev = nil
	}
	return errors.Join(errs...)
}
