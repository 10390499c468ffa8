package editor

import (
	"encoding/binary"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/rhi"
	_ "github.com/gogpu/rhi/backend/metal"
	_ "github.com/gogpu/rhi/backend/vulkan"
	"github.com/gogpu/rhi/shaders"
)

var apis = []rhi.API{rhi.APIVulkan, rhi.APIMetal}

// testWindow is a zero-handle window; the software surface renders into
// memory.
type testWindow struct {
	w, h   int
	closed bool
}

func (w *testWindow) Size() (int, int)                  { return w.w, w.h }
func (w *testWindow) ScaleFactor() float64              { return 1 }
func (w *testWindow) RequestRedraw()                    {}
func (w *testWindow) NativeHandles() (uintptr, uintptr) { return 0, 0 }
func (w *testWindow) Closed() bool                      { return w.closed }

func testConfig(api rhi.API) Config {
	cfg := DefaultConfig()
	cfg.Backend = api.String()
	cfg.FPSLimit = 0
	cfg.Resources = ""
	cfg.HotReload = false
	cfg.VSync = false
	cfg.StrictHazards = true
	return cfg
}

func newApp(t *testing.T, cfg Config, win *testWindow, opts ...Option) *App {
	t.Helper()
	opts = append(opts, WithDeviceOptions(rhi.WithExecutor(software.API{})))
	app, err := New(cfg, win, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func update(t *testing.T, app *App, n int) {
	t.Helper()
	for i := range n {
		if !app.Update() {
			t.Fatalf("Update %d stopped: %v", i, app.Err())
		}
	}
}

// stubShaders returns code each backend accepts that draws nothing on the
// software rasterizer.
func stubShaders(api rhi.API, entry string) rhi.ShaderCode {
	if api == rhi.APIVulkan {
		return rhi.ShaderCode{SPIRV: []uint32{0x07230203, 0x00010000, 0, 1, 0}}
	}
	return rhi.ShaderCode{Source: "// " + entry + "\n"}
}

func writeOverlayBundle(t *testing.T, path, tag string) {
	t.Helper()
	b := shaders.NewBuilder()
	for _, api := range apis {
		for _, d := range []rhi.ShaderDesc{
			{Name: OverlayVertexShader, Stage: rhi.StageVertex, EntryPoint: "vs_main", Code: stubShaders(api, tag)},
			{Name: OverlayFragmentShader, Stage: rhi.StageFragment, EntryPoint: "fs_main", Code: stubShaders(api, tag)},
		} {
			if err := b.Add(api, d); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := shaders.WriteFile(path, b); err != nil {
		t.Fatal(err)
	}
}

func TestFrameLoop(t *testing.T) {
	for _, api := range apis {
		t.Run(api.String(), func(t *testing.T) {
			app := newApp(t, testConfig(api), &testWindow{w: 64, h: 48})
			if app.Device().API() != api {
				t.Fatalf("API() = %s", app.Device().API())
			}
			update(t, app, 5)
			if app.Frames() != 5 {
				t.Errorf("Frames() = %d", app.Frames())
			}
			if got := app.Swapchain().FrameIndex(); got != 0 {
				t.Errorf("FrameIndex() = %d after 5 frames of 2", got)
			}
		})
	}
}

func TestLoopTermination(t *testing.T) {
	win := &testWindow{w: 32, h: 32}
	app := newApp(t, testConfig(rhi.APIMetal), win)
	update(t, app, 1)
	win.closed = true
	if app.Update() {
		t.Error("Update continued after the window closed")
	}
	if app.Err() != nil {
		t.Errorf("Err() = %v after close", app.Err())
	}

	app = newApp(t, testConfig(rhi.APIMetal), &testWindow{w: 32, h: 32})
	app.Quit()
	if app.Update() {
		t.Error("Update continued after Quit")
	}

	ev := &fakeEvents{}
	app = newApp(t, testConfig(rhi.APIVulkan), &testWindow{w: 32, h: 32}, WithEvents(ev))
	update(t, app, 1)
	ev.keyPress(gpucontext.KeyEscape, 0)
	if app.Update() {
		t.Error("Update continued after Escape")
	}
}

func TestResizeAndMinimize(t *testing.T) {
	dir := t.TempDir()
	writeOverlayBundle(t, filepath.Join(dir, "editor"+shaders.Ext), "v1")
	cfg := testConfig(rhi.APIVulkan)
	cfg.Resources = dir
	win := &testWindow{w: 64, h: 64}
	app := newApp(t, cfg, win, WithTasks(&ClearTask{Color: [4]float64{0, 0, 1, 1}}, &OverlayTask{}))
	update(t, app, 2)

	win.w, win.h = 80, 40
	update(t, app, 2)
	if w, h := app.Swapchain().Size(); w != 80 || h != 40 {
		t.Errorf("swapchain size = %dx%d, want 80x40", w, h)
	}

	win.w, win.h = 0, 0
	frames := app.Frames()
	update(t, app, 3)
	if app.Frames() != frames {
		t.Errorf("rendered %d frames while minimized", app.Frames()-frames)
	}
}

func TestCapture(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		scale float64
		w, h  int
	}{
		{1, 64, 48},
		{0.5, 32, 24},
	} {
		cfg := testConfig(rhi.APIMetal)
		cfg.Capture.Scale = tt.scale
		app := newApp(t, cfg, &testWindow{w: 64, h: 48})
		update(t, app, 1)

		path := filepath.Join(dir, "shot.png")
		app.Capture(path)
		update(t, app, 1)
		if app.LastCapture() != path {
			t.Fatalf("LastCapture() = %q", app.LastCapture())
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		pc, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if pc.Width != tt.w || pc.Height != tt.h {
			t.Errorf("scale %g: capture is %dx%d, want %dx%d", tt.scale, pc.Width, pc.Height, tt.w, tt.h)
		}
		// Capturing does not disturb the loop.
		update(t, app, 2)
	}
}

func TestOverlayHotReload(t *testing.T) {
	for _, api := range apis {
		t.Run(api.String(), func(t *testing.T) {
			dir := t.TempDir()
			bundle := filepath.Join(dir, "editor"+shaders.Ext)
			writeOverlayBundle(t, bundle, "v1")

			cfg := testConfig(api)
			cfg.Resources = dir
			overlay := &OverlayTask{Rect: [4]float32{4, 4, 16, 8}, Color: [4]float32{1, 1, 1, 0.5}}
			app := newApp(t, cfg, &testWindow{w: 64, h: 48}, WithTasks(&ClearTask{}, overlay))
			update(t, app, 3)

			if overlay.slot != 0 {
				t.Errorf("overlay uniform slot = %d", overlay.slot)
			}
			if r, ok := app.table.Bound(rhi.ClassUniformBuffer, overlay.slot); !ok || r != overlay.uniforms {
				t.Error("overlay uniforms not bound in the frame table")
			}
			oldPipeline, oldVS := overlay.pipeline, overlay.vs

			writeOverlayBundle(t, bundle, "v2")
			app.ReloadBundle(bundle)
			update(t, app, 1)
			if overlay.pipeline == oldPipeline || overlay.vs == oldVS {
				t.Fatal("pipeline not rebuilt after reload")
			}

			// A corrupt bundle keeps the current pipeline.
			if err := os.WriteFile(bundle, []byte("corrupt"), 0o644); err != nil {
				t.Fatal(err)
			}
			current := overlay.pipeline
			app.ReloadBundle(bundle)
			update(t, app, 2)
			if overlay.pipeline != current {
				t.Error("pipeline replaced after a failed reload")
			}
		})
	}
}

func TestOverlayProjection(t *testing.T) {
	o := &OverlayTask{Rect: [4]float32{1, 2, 3, 4}, Color: [4]float32{0.25, 0.5, 0.75, 1}}
	block := o.uniformBlock(200, 100)
	if len(block) != overlayUniformSize {
		t.Fatalf("block is %d bytes", len(block))
	}
	f := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(block[4*i:])) }
	var proj mgl32.Mat4
	for i := range proj {
		proj[i] = f(i)
	}
	for _, tt := range []struct {
		px, ndc mgl32.Vec2
	}{
		{mgl32.Vec2{0, 0}, mgl32.Vec2{-1, 1}},
		{mgl32.Vec2{200, 100}, mgl32.Vec2{1, -1}},
		{mgl32.Vec2{100, 50}, mgl32.Vec2{0, 0}},
	} {
		got := proj.Mul4x1(mgl32.Vec4{tt.px[0], tt.px[1], 0, 1})
		if !mgl32.FloatEqual(got[0], tt.ndc[0]) || !mgl32.FloatEqual(got[1], tt.ndc[1]) {
			t.Errorf("pixel %v -> %v, want %v", tt.px, got.Vec2(), tt.ndc)
		}
	}
	if f(16) != 1 || f(19) != 4 || f(20) != 0.25 || f(23) != 1 {
		t.Errorf("rect/color = %v %v %v %v", f(16), f(19), f(20), f(23))
	}
}

func TestOverlaySource(t *testing.T) {
	src, err := OverlaySource(7)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := shaders.Compile(rhi.APIVulkan, OverlayVertexShader, rhi.StageVertex, "vs_main", src); err != nil {
		t.Errorf("built-in overlay does not compile: %v", err)
	}
	if want := "@binding(7)"; !strings.Contains(src, want) {
		t.Errorf("source lacks %s", want)
	}
}

func TestTargetReserve(t *testing.T) {
	app := newApp(t, testConfig(rhi.APIVulkan), &testWindow{w: 16, h: 16})
	table, err := app.Device().CreateResourceTable(rhi.ResourceTableDesc{Name: "small", Capacity: rhi.TableCapacity{2, 1, 1, 1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	defer table.Destroy()
	target := &Target{Table: table}
	if first, err := target.Reserve(rhi.ClassUniformBuffer, 1); err != nil || first != 0 {
		t.Errorf("first reserve = %d, %v", first, err)
	}
	if first, err := target.Reserve(rhi.ClassUniformBuffer, 1); err != nil || first != 1 {
		t.Errorf("second reserve = %d, %v", first, err)
	}
	if _, err := target.Reserve(rhi.ClassUniformBuffer, 1); !errors.Is(err, rhi.ErrIndexOutOfBounds) {
		t.Errorf("exhausted: got %v, want ErrIndexOutOfBounds", err)
	}
	if first, err := target.Reserve(rhi.ClassSampler, 1); err != nil || first != 0 {
		t.Errorf("other class = %d, %v", first, err)
	}
}

// openRegionTask leaves a debug region open, so End fails.
type openRegionTask struct{}

func (openRegionTask) Prepare(rhi.Device, *Target) error { return nil }
func (openRegionTask) Release()                          {}
func (openRegionTask) Record(cb rhi.CommandBuffer, _ rhi.Frame) error {
	return cb.BeginDebugRegion("unbalanced", [4]float32{})
}

func TestCaptureReleasedOnRecordError(t *testing.T) {
	app := newApp(t, testConfig(rhi.APIVulkan), &testWindow{w: 16, h: 16}, WithTasks(openRegionTask{}))
	app.Capture(filepath.Join(t.TempDir(), "never.png"))
	if app.Update() {
		t.Fatal("Update continued after a failed recording")
	}
	if !errors.Is(app.Err(), rhi.ErrInvalidState) {
		t.Errorf("Err() = %v, want ErrInvalidState", app.Err())
	}
	if app.readback != nil {
		t.Error("capture buffer still held after the failed frame")
	}
}

func TestReleaseReadback(t *testing.T) {
	app := newApp(t, testConfig(rhi.APIMetal), &testWindow{w: 16, h: 16})
	dev := app.Device()
	newReadback := func() rhi.Buffer {
		buf, err := dev.CreateBuffer(rhi.BufferDesc{Name: "capture", Size: 16,
			Usage: rhi.BufferTransferDst, Memory: rhi.MemoryHostVisible})
		if err != nil {
			t.Fatal(err)
		}
		return buf
	}
	alive := func(buf rhi.Buffer) bool {
		return !errors.Is(buf.ReadToMemory(make([]byte, 16), 0, 0), rhi.ErrDestroyed)
	}
	cb, err := dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: "capture"})
	if err != nil {
		t.Fatal(err)
	}
	defer cb.Destroy()

	// Never submitted: released at once.
	buf := newReadback()
	app.readback = buf
	app.releaseReadback(cb)
	if alive(buf) {
		t.Error("unsubmitted capture buffer not destroyed")
	}

	// Submitted: released through the command buffer's queue.
	if err := cb.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Submit(cb); err != nil {
		t.Fatal(err)
	}
	buf = newReadback()
	app.readback = buf
	app.releaseReadback(cb)
	if app.readback != nil {
		t.Error("readback still set after release")
	}
	if err := dev.WaitForCommandBuffer(cb); err != nil {
		t.Fatal(err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatal(err)
	}
	if alive(buf) {
		t.Error("submitted capture buffer not destroyed after completion")
	}
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
}
