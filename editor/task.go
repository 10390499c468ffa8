package editor

import (
	"fmt"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shaders"
)

// RenderTask records one stage of a frame. Tasks run in registration order
// inside the frame's command buffer, after the frame image has been moved
// to color attachment usage.
type RenderTask interface {
	// Prepare creates the task's device objects.
	Prepare(dev rhi.Device, target *Target) error
	// Record draws into frame.Image.
	Record(cb rhi.CommandBuffer, frame rhi.Frame) error
	// Release destroys what Prepare created.
	Release()
}

// ShaderReloader is implemented by tasks whose pipelines come from shader
// bundles. Reload runs at a frame boundary, with cb recording, after the
// library has picked up changed bundles.
type ShaderReloader interface {
	ReloadShaders(cb rhi.CommandBuffer) error
}

// Target describes what tasks render into. Render passes created against
// Image must be rebound to each frame's image before they begin.
type Target struct {
	Image          rhi.Image
	FramesInFlight int
	// Table is the frame's resource table. Tasks reserve slots in it.
	Table rhi.ResourceTable
	// Shaders is the bundle library, nil when no resources directory is
	// configured.
	Shaders *shaders.Library

	mu   sync.Mutex
	next [len(rhi.ResourceClasses)]uint32
}

// Reserve returns the first of n consecutive free slots of class.
func (t *Target) Reserve(class rhi.ResourceClass, n uint32) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	first := t.next[class]
	if first+n > t.Table.Capacity(class) {
		return 0, fmt.Errorf("%w: %d %s slots after %d (capacity %d)",
			rhi.ErrIndexOutOfBounds, n, class, first, t.Table.Capacity(class))
	}
	t.next[class] = first + n
	return first, nil
}

// framePass is a single-attachment render pass that follows the frame image.
type framePass struct {
	pass rhi.RenderPass
}

func newFramePass(dev rhi.Device, name string, img rhi.Image, load rhi.LoadOp, clear [4]float64) (*framePass, error) {
	pass, err := dev.CreateRenderPass(rhi.RenderPassDesc{
		Name: name,
		Attachments: []rhi.Attachment{{
			Image: img,
			Load:  load,
			Store: rhi.StoreStore,
			Clear: rhi.ClearValue{Color: clear},
		}},
	})
	if err != nil {
		return nil, err
	}
	return &framePass{pass: pass}, nil
}

// begin rebinds the pass to img, resizing it to match, and begins it.
func (p *framePass) begin(cb rhi.CommandBuffer, img rhi.Image) error {
	if err := p.pass.Rebind(0, img); err != nil {
		return err
	}
	if w, h := p.pass.Size(); w != img.Width() || h != img.Height() {
		if err := p.pass.Resize(img.Width(), img.Height()); err != nil {
			return err
		}
	}
	return cb.BeginRenderPass(p.pass)
}

func (p *framePass) destroy() {
	if p != nil {
		p.pass.Destroy()
	}
}

// ClearTask clears the frame image to a color.
type ClearTask struct {
	Color [4]float64

	pass *framePass
}

var _ RenderTask = (*ClearTask)(nil)

func (t *ClearTask) Prepare(dev rhi.Device, target *Target) error {
	p, err := newFramePass(dev, "editor/clear", target.Image, rhi.LoadClear, t.Color)
	if err != nil {
		return err
	}
	t.pass = p
	return nil
}

func (t *ClearTask) Record(cb rhi.CommandBuffer, frame rhi.Frame) error {
	if err := cb.BeginDebugRegion("clear", [4]float32{float32(t.Color[0]), float32(t.Color[1]), float32(t.Color[2]), 1}); err != nil {
		return err
	}
	if err := t.pass.begin(cb, frame.Image); err != nil {
		return err
	}
	if err := cb.EndRenderPass(); err != nil {
		return err
	}
	return cb.EndDebugRegion()
}

func (t *ClearTask) Release() {
	t.pass.destroy()
	t.pass = nil
}
