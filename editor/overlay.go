package editor

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"errors"
	"math"
	"text/template"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shaders"
)

//go:embed overlay.wgsl
var overlayWGSL string

var overlayTemplate = template.Must(template.New("overlay").Parse(overlayWGSL))

// Default bundle entries of the overlay shaders.
const (
	OverlayVertexShader   = "overlay.vs"
	OverlayFragmentShader = "overlay.fs"
)

const (
	// uniformStride separates per-frame uniform blocks; it matches the
	// common minimum uniform offset alignment.
	uniformStride = 256
	// projection, rect and color
	overlayUniformSize = 16*4 + 4*4 + 4*4
)

// OverlaySource returns the built-in overlay WGSL reading its uniform block
// from binding.
func OverlaySource(binding uint32) (string, error) {
	var buf bytes.Buffer
	if err := overlayTemplate.Execute(&buf, struct{ Binding uint32 }{binding}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// OverlayTask draws a translucent rectangle over the frame in pixel
// coordinates. The projection, rectangle and color live in a per-frame
// uniform block bound through the resource table.
//
// Shaders are looked up in the bundle library first; without a matching
// entry the built-in WGSL is compiled for the device.
type OverlayTask struct {
	// Rect is x, y, width and height in pixels from the top-left corner.
	Rect  [4]float32
	Color [4]float32
	// VertexShader and FragmentShader name bundle entries. Empty names
	// select the defaults.
	VertexShader   string
	FragmentShader string

	dev      rhi.Device
	lib      *shaders.Library
	table    rhi.ResourceTable
	slot     uint32
	frames   int
	pass     *framePass
	uniforms rhi.Buffer
	vs, fs   rhi.Shader
	pipeline rhi.GraphicsPipeline
	block    [overlayUniformSize]byte
}

var (
	_ RenderTask     = (*OverlayTask)(nil)
	_ ShaderReloader = (*OverlayTask)(nil)
)

func (t *OverlayTask) Prepare(dev rhi.Device, target *Target) (err error) {
	t.dev, t.lib, t.table = dev, target.Shaders, target.Table
	t.frames = max(target.FramesInFlight, 1)
	defer func() {
		if err != nil {
			t.Release()
		}
	}()
	if t.slot, err = target.Reserve(rhi.ClassUniformBuffer, 1); err != nil {
		return err
	}
	if t.pass, err = newFramePass(dev, "editor/overlay", target.Image, rhi.LoadLoad, [4]float64{}); err != nil {
		return err
	}
	t.uniforms, err = dev.CreateBuffer(rhi.BufferDesc{
		Name:   "editor/overlay-uniforms",
		Size:   uniformStride * uint64(t.frames),
		Usage:  rhi.BufferUniform,
		Memory: rhi.MemoryHostVisible,
	})
	if err != nil {
		return err
	}
	if t.vs, t.fs, err = t.loadShaders(); err != nil {
		return err
	}
	t.pipeline, err = t.buildPipeline(t.vs, t.fs)
	return err
}

func (t *OverlayTask) names() (vs, fs string) {
	vs, fs = t.VertexShader, t.FragmentShader
	if vs == "" {
		vs = OverlayVertexShader
	}
	if fs == "" {
		fs = OverlayFragmentShader
	}
	return vs, fs
}

func (t *OverlayTask) loadShaders() (vs, fs rhi.Shader, err error) {
	vsName, fsName := t.names()
	if vs, err = t.shader(vsName, rhi.StageVertex, "vs_main"); err != nil {
		return nil, nil, err
	}
	if fs, err = t.shader(fsName, rhi.StageFragment, "fs_main"); err != nil {
		vs.Destroy()
		return nil, nil, err
	}
	return vs, fs, nil
}

func (t *OverlayTask) shader(name string, stage rhi.ShaderStage, entry string) (rhi.Shader, error) {
	if t.lib != nil {
		desc, _, err := t.lib.Shader(name, t.dev.API())
		if err == nil {
			return t.dev.CreateShader(desc)
		}
		if !errors.Is(err, shaders.ErrNotFound) {
			return nil, err
		}
	}
	src, err := OverlaySource(t.table.BindingNumber(rhi.ClassUniformBuffer, t.slot))
	if err != nil {
		return nil, err
	}
	desc, err := shaders.Compile(t.dev.API(), name, stage, entry, src)
	if err != nil {
		return nil, err
	}
	return t.dev.CreateShader(desc)
}

func (t *OverlayTask) buildPipeline(vs, fs rhi.Shader) (rhi.GraphicsPipeline, error) {
	return t.dev.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Name:     "editor/overlay",
		Pass:     t.pass.pass,
		Vertex:   vs,
		Fragment: fs,
		Topology: rhi.TopologyTriangleList,
		Cull:     rhi.CullNone,
		Blend:    rhi.BlendAlpha,
	})
}

// uniformBlock encodes the overlay block for a w by h target.
func (t *OverlayTask) uniformBlock(w, h uint32) []byte {
	proj := mgl32.Ortho2D(0, float32(w), float32(h), 0)
	vals := make([]float32, 0, overlayUniformSize/4)
	vals = append(vals, proj[:]...)
	vals = append(vals, t.Rect[:]...)
	vals = append(vals, t.Color[:]...)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(t.block[4*i:], math.Float32bits(v))
	}
	return t.block[:]
}

func (t *OverlayTask) Record(cb rhi.CommandBuffer, frame rhi.Frame) error {
	off := uint64(frame.Index%t.frames) * uniformStride
	if err := t.uniforms.CopyFromMemory(t.uniformBlock(frame.Image.Width(), frame.Image.Height()), 0, 0, off); err != nil {
		return err
	}
	if err := t.table.BindUniformBuffer(t.slot, t.uniforms, off, overlayUniformSize); err != nil {
		return err
	}
	if err := cb.BeginDebugRegion("overlay", t.Color); err != nil {
		return err
	}
	if err := t.pass.begin(cb, frame.Image); err != nil {
		return err
	}
	if err := t.pipeline.Begin(cb); err != nil {
		return err
	}
	if err := t.pipeline.Draw(cb, 6, 0); err != nil {
		return err
	}
	if err := t.pipeline.End(cb); err != nil {
		return err
	}
	if err := cb.EndRenderPass(); err != nil {
		return err
	}
	return cb.EndDebugRegion()
}

// ReloadShaders rebuilds the pipeline from the current bundles. The old
// pipeline and shaders are destroyed once cb's work has completed.
func (t *OverlayTask) ReloadShaders(cb rhi.CommandBuffer) error {
	vs, fs, err := t.loadShaders()
	if err != nil {
		return err
	}
	p, err := t.buildPipeline(vs, fs)
	if err != nil {
		vs.Destroy()
		fs.Destroy()
		return err
	}
	old := []rhi.Resource{t.pipeline, t.vs, t.fs}
	t.pipeline, t.vs, t.fs = p, vs, fs
	var errs []error
	for _, r := range old {
		errs = append(errs, cb.QueueForDestruction(r))
	}
	return errors.Join(errs...)
}

func (t *OverlayTask) Release() {
	for _, r := range []rhi.Resource{t.pipeline, t.vs, t.fs, t.uniforms} {
		if r != nil {
			r.Destroy()
		}
	}
	t.pass.destroy()
	t.pipeline, t.vs, t.fs, t.uniforms, t.pass = nil, nil, nil, nil, nil
}
