// Command rhi-editor runs the editor frame loop headless.
//
// Windowing is left to the host application; this driver renders into an
// offscreen surface on the CPU executor for a fixed number of frames and
// can write the last one to a PNG file:
//
//	rhi-editor -config editor.yaml -frames 120 -capture last.png
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/rhi"
	_ "github.com/gogpu/rhi/backend/directx"
	_ "github.com/gogpu/rhi/backend/metal"
	_ "github.com/gogpu/rhi/backend/opengl"
	_ "github.com/gogpu/rhi/backend/vulkan"
	"github.com/gogpu/rhi/editor"
)

// offscreen is a window without a native surface. It reports itself
// closed once limit frames have been requested.
type offscreen struct {
	w, h   int
	frames int
	limit  int
}

func (o *offscreen) Size() (int, int)                  { return o.w, o.h }
func (o *offscreen) ScaleFactor() float64              { return 1 }
func (o *offscreen) RequestRedraw()                    {}
func (o *offscreen) NativeHandles() (uintptr, uintptr) { return 0, 0 }
func (o *offscreen) Closed() bool                      { return o.limit > 0 && o.frames >= o.limit }

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		envFile    = flag.String("env", ".env", "dotenv file with RHI_* overrides")
		frames     = flag.Int("frames", 60, "frames to render; 0 runs until interrupted")
		capture    = flag.String("capture", "", "write the last frame to this PNG file")
		overlay    = flag.Bool("overlay", true, "draw the overlay rectangle")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := editor.LoadConfig(*configPath, *envFile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tasks := []editor.RenderTask{&editor.ClearTask{Color: cfg.ClearColor}}
	if *overlay {
		tasks = append(tasks, &editor.OverlayTask{
			Rect:  [4]float32{16, 16, float32(cfg.Width) / 3, 48},
			Color: [4]float32{1, 1, 1, 0.6},
		})
	}

	win := &offscreen{w: cfg.Width, h: cfg.Height, limit: *frames}
	app, err := editor.New(cfg, win,
		editor.WithTasks(tasks...),
		editor.WithContext(ctx),
		editor.WithDeviceOptions(rhi.WithExecutor(software.API{})),
	)
	if err != nil {
		log.Fatal(err)
	}

	for {
		if *capture != "" && win.limit > 0 && win.frames == win.limit-1 {
			app.Capture(*capture)
		}
		if !app.Update() {
			break
		}
		win.frames++
	}
	if err := app.Err(); err != nil {
		app.Close()
		log.Fatal(err)
	}
	if err := app.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("%d frames on %s", app.Frames(), app.Device().API())
	if p := app.LastCapture(); p != "" {
		log.Printf("captured %s", p)
	}
}
