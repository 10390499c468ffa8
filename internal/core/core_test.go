package core

import (
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/rhi"
)

// spirvStub is a valid SPIR-V header without entry points. The software
// rasterizer cannot execute it, so draws fall back to the attachment clear.
var spirvStub = []uint32{0x07230203, 0x00010000, 0, 1, 0}

// testFormats maps every portable format onto its gputypes value.
func testFormats() *FormatTable {
	m := make(map[rhi.Format]uint32)
	for _, f := range rhi.SupportedFormats() {
		tf, _ := f.TextureFormat()
		m[f] = uint32(tf)
	}
	return NewFormatTable(m)
}

// testProfile returns a profile that behaves like the Vulkan backend
// (explicit) or the Metal backend (tracked), executed on the software hal.
func testProfile(api rhi.API) *Profile {
	explicit := api == rhi.APIVulkan
	return &Profile{
		API:                    api,
		Driver:                 software.API{},
		ExplicitBarriers:       explicit,
		ReusableCommandBuffers: explicit,
		NativeSubpasses:        explicit,
		Formats:                testFormats(),
		TableCapacity: func(gputypes.Limits) rhi.TableCapacity {
			return rhi.TableCapacity{8, 8, 8, 8, 8}
		},
		Features: NewFeatureGraph(FeatureNode{Name: "core", Required: true}),
		ShaderSource: func(code rhi.ShaderCode) (hal.ShaderSource, error) {
			if len(code.SPIRV) > 0 {
				return hal.ShaderSource{SPIRV: code.SPIRV}, nil
			}
			return hal.ShaderSource{WGSL: code.Source}, nil
		},
	}
}

var profiles = []rhi.API{rhi.APIVulkan, rhi.APIMetal}

func openDevice(t *testing.T, api rhi.API, opts ...rhi.Option) *Device {
	t.Helper()
	cfg := rhi.NewConfig(append([]rhi.Option{rhi.WithAPI(api)}, opts...)...)
	d, err := Open(testProfile(api), cfg)
	if err != nil {
		t.Fatalf("Open(%s): %v", api, err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func mustBuffer(t *testing.T, d *Device, size uint64, usage rhi.BufferUsage, mem rhi.MemoryLocation) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(rhi.BufferDesc{Name: t.Name(), Size: size, Usage: usage, Memory: mem})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	return b.(*Buffer)
}

func mustImage(t *testing.T, d *Device, desc rhi.ImageDesc) *Image {
	t.Helper()
	img, err := d.CreateImage(desc)
	if err != nil {
		t.Fatalf("CreateImage(%s): %v", desc.Name, err)
	}
	return img.(*Image)
}

func mustCommandBuffer(t *testing.T, d *Device) *CommandBuffer {
	t.Helper()
	cb, err := d.CreateCommandBuffer(rhi.CommandBufferDesc{Name: t.Name()})
	if err != nil {
		t.Fatalf("CreateCommandBuffer: %v", err)
	}
	t.Cleanup(cb.Destroy)
	return cb.(*CommandBuffer)
}

// shaderCode returns code the profile accepts that draws nothing.
func shaderCode(api rhi.API) rhi.ShaderCode {
	if api == rhi.APIVulkan {
		return rhi.ShaderCode{SPIRV: spirvStub}
	}
	return rhi.ShaderCode{Source: "// no entry points\n"}
}

func mustShader(t *testing.T, d *Device, stage rhi.ShaderStage) *Shader {
	t.Helper()
	s, err := d.CreateShader(rhi.ShaderDesc{Name: stage.String(), Stage: stage, Code: shaderCode(d.api)})
	if err != nil {
		t.Fatalf("CreateShader(%s): %v", stage, err)
	}
	return s.(*Shader)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// gatedQueue holds back completion reports until released, standing in
// for a GPU that has not finished.
type gatedQueue struct {
	hal.Queue

	mu       sync.Mutex
	released uint64
}

func (q *gatedQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return min(q.Queue.PollCompleted(), q.released)
}

func (q *gatedQueue) release(idx uint64) {
	q.mu.Lock()
	q.released = idx
	q.mu.Unlock()
}

// gate installs a gatedQueue on d. Device.WaitIdle still completes
// everything, as the real hal does.
func gate(d *Device) *gatedQueue {
	q := &gatedQueue{Queue: d.queue}
	d.queue = q
	return q
}

// headlessWindow is a zero-handle window; the software surface renders
// into memory.
type headlessWindow struct {
	w, h   int
	closed bool
}

func (w *headlessWindow) Size() (int, int)                  { return w.w, w.h }
func (w *headlessWindow) ScaleFactor() float64              { return 1 }
func (w *headlessWindow) RequestRedraw()                    {}
func (w *headlessWindow) NativeHandles() (uintptr, uintptr) { return 0, 0 }
func (w *headlessWindow) Closed() bool                      { return w.closed }
