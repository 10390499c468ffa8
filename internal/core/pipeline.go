package core

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// variants caches one native pipeline per resource table layout
// generation. Generation 0 is the empty layout used when no table is bound.
type variants[P any] struct {
	mu    sync.Mutex
	cache map[uint64]P
}

func (v *variants[P]) get(gen uint64, build func() (P, error)) (P, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.cache[gen]; ok {
		return p, nil
	}
	p, err := build()
	if err != nil {
		return p, err
	}
	if v.cache == nil {
		v.cache = make(map[uint64]P)
	}
	v.cache[gen] = p
	return p, nil
}

func (v *variants[P]) drain(fn func(P)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for gen, p := range v.cache {
		fn(p)
		delete(v.cache, gen)
	}
}

func (v *variants[P]) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}

// GraphicsPipeline implements rhi.GraphicsPipeline.
type GraphicsPipeline struct {
	resource
	pass     *RenderPass
	subpass  int
	vertex   *Shader
	fragment *Shader
	layout   rhi.VertexLayout

	primitive gputypes.PrimitiveState
	targets   []gputypes.ColorTargetState
	depth     *hal.DepthStencilState
	samples   uint32

	natives variants[hal.RenderPipeline]
}

var _ rhi.GraphicsPipeline = (*GraphicsPipeline)(nil)

func topology(t rhi.Topology) gputypes.PrimitiveTopology {
	switch t {
	case rhi.TopologyTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	case rhi.TopologyLineList:
		return gputypes.PrimitiveTopologyLineList
	case rhi.TopologyLineStrip:
		return gputypes.PrimitiveTopologyLineStrip
	case rhi.TopologyPointList:
		return gputypes.PrimitiveTopologyPointList
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}

func cullMode(c rhi.CullMode) gputypes.CullMode {
	switch c {
	case rhi.CullFront:
		return gputypes.CullModeFront
	case rhi.CullBack:
		return gputypes.CullModeBack
	default:
		return gputypes.CullModeNone
	}
}

func blendState(b rhi.BlendMode) *gputypes.BlendState {
	var s gputypes.BlendState
	switch b {
	case rhi.BlendAlpha:
		s = gputypes.BlendStateAlpha()
	case rhi.BlendPremultiplied:
		s = gputypes.BlendStatePremultiplied()
	default:
		return nil
	}
	return &s
}

var vertexFormats = map[rhi.VertexFormat]gputypes.VertexFormat{
	rhi.VertexFloat:  gputypes.VertexFormatFloat32,
	rhi.VertexFloat2: gputypes.VertexFormatFloat32x2,
	rhi.VertexFloat3: gputypes.VertexFormatFloat32x3,
	rhi.VertexFloat4: gputypes.VertexFormatFloat32x4,
}

// vertexBuffers maps a vertex layout onto a single hal vertex buffer.
func vertexBuffers(l rhi.VertexLayout) ([]gputypes.VertexBufferLayout, error) {
	if l.Empty() {
		return nil, nil
	}
	vb := gputypes.VertexBufferLayout{ArrayStride: uint64(l.Stride), StepMode: gputypes.VertexStepModeVertex}
	for _, a := range l.Attributes {
		vf, ok := vertexFormats[a.Format]
		if !ok {
			return nil, fmt.Errorf("%w: vertex attribute %d has format %s", rhi.ErrInvalidDescriptor, a.Location, a.Format)
		}
		if a.Offset+a.Format.Size() > l.Stride {
			return nil, fmt.Errorf("%w: vertex attribute %d ends past stride %d", rhi.ErrInvalidDescriptor, a.Location, l.Stride)
		}
		vb.Attributes = append(vb.Attributes, gputypes.VertexAttribute{
			Format:         vf,
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		})
	}
	return []gputypes.VertexBufferLayout{vb}, nil
}

func adoptShader(d *Device, s rhi.Shader, stage rhi.ShaderStage, what string) (*Shader, error) {
	sh, err := adopt[*Shader](d, s, what)
	if err != nil {
		return nil, err
	}
	if sh.stage != stage {
		return nil, fmt.Errorf("%w: %s %q is a %s shader", rhi.ErrInvalidDescriptor, what, sh.name, sh.stage)
	}
	return sh, nil
}

// CreateGraphicsPipeline validates desc against its render pass subpass.
// Native pipelines are built when the pipeline is first begun with a given
// resource table layout.
func (d *Device) CreateGraphicsPipeline(desc rhi.GraphicsPipelineDesc) (rhi.GraphicsPipeline, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	if desc.Fill != rhi.FillSolid {
		return nil, fmt.Errorf("%w: pipeline %q: wireframe fill", rhi.ErrUnsupported, desc.Name)
	}
	pass, err := adopt[*RenderPass](d, desc.Pass, "render pass")
	if err != nil {
		return nil, err
	}
	if desc.Subpass < 0 || desc.Subpass >= len(pass.subpasses) {
		return nil, fmt.Errorf("%w: pipeline %q subpass %d of %d", rhi.ErrInvalidDescriptor, desc.Name, desc.Subpass, len(pass.subpasses))
	}
	sp := pass.subpasses[desc.Subpass]
	vs, err := adoptShader(d, desc.Vertex, rhi.StageVertex, "vertex shader")
	if err != nil {
		return nil, err
	}
	var fs *Shader
	if desc.Fragment != nil || len(sp.ColorAttachments) > 0 {
		if fs, err = adoptShader(d, desc.Fragment, rhi.StageFragment, "fragment shader"); err != nil {
			return nil, err
		}
	}
	if (desc.DepthTest || desc.DepthWrite) && !sp.UseDepth {
		return nil, fmt.Errorf("%w: pipeline %q tests depth in a subpass without depth", rhi.ErrInvalidDescriptor, desc.Name)
	}
	if _, err := vertexBuffers(desc.Layout); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}

	front := gputypes.FrontFaceCCW
	if desc.Winding == rhi.WindingClockwise {
		front = gputypes.FrontFaceCW
	}
	p := &GraphicsPipeline{
		pass:     pass,
		subpass:  desc.Subpass,
		vertex:   vs,
		fragment: fs,
		layout:   desc.Layout,
		primitive: gputypes.PrimitiveState{
			Topology:  topology(desc.Topology),
			FrontFace: front,
			CullMode:  cullMode(desc.Cull),
		},
		samples: pass.samples,
	}
	for _, ai := range sp.ColorAttachments {
		img := pass.colors[ai].Image.(*Image)
		p.targets = append(p.targets, gputypes.ColorTargetState{
			Format:    img.format,
			Blend:     blendState(desc.Blend),
			WriteMask: gputypes.ColorWriteMaskAll,
		})
	}
	if sp.UseDepth {
		compare := gputypes.CompareFunctionAlways
		if desc.DepthTest {
			compare = gputypes.CompareFunctionLess
		}
		keep := hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways}
		p.depth = &hal.DepthStencilState{
			Format:            pass.depth.Image.(*Image).format,
			DepthWriteEnabled: desc.DepthWrite,
			DepthCompare:      compare,
			StencilFront:      keep,
			StencilBack:       keep,
		}
	}
	p.setup(d, desc.Name)
	return p, nil
}

// native returns the variant for a table layout generation.
func (p *GraphicsPipeline) native(gen uint64, layout hal.PipelineLayout) (hal.RenderPipeline, error) {
	return p.natives.get(gen, func() (hal.RenderPipeline, error) {
		if p.vertex.destroyed() || (p.fragment != nil && p.fragment.destroyed()) {
			return nil, fmt.Errorf("%w: shader of pipeline %q", rhi.ErrDestroyed, p.name)
		}
		buffers, _ := vertexBuffers(p.layout)
		desc := &hal.RenderPipelineDescriptor{
			Label:        p.name,
			Layout:       layout,
			Vertex:       hal.VertexState{Module: p.vertex.native, EntryPoint: p.vertex.entry, Buffers: buffers},
			Primitive:    p.primitive,
			DepthStencil: p.depth,
			Multisample:  gputypes.MultisampleState{Count: p.samples, Mask: ^uint64(0)},
		}
		if p.fragment != nil {
			desc.Fragment = &hal.FragmentState{Module: p.fragment.native, EntryPoint: p.fragment.entry, Targets: p.targets}
		}
		rp, err := p.dev.hal.CreateRenderPipeline(desc)
		if err != nil {
			return nil, rhi.NewDeviceError("create graphics pipeline", err)
		}
		slogger().Debug("rhi: pipeline variant built", "pipeline", p.name, "generation", gen)
		return rp, nil
	})
}

// Variants returns the number of native variants built so far.
func (p *GraphicsPipeline) Variants() int { return p.natives.len() }

// Begin installs the pipeline in cb's current subpass.
func (p *GraphicsPipeline) Begin(c rhi.CommandBuffer) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.beginGraphics(p)
}

// Draw draws non-indexed primitives.
func (p *GraphicsPipeline) Draw(c rhi.CommandBuffer, vertexCount, firstVertex uint32) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.draw(p, vertexCount, firstVertex)
}

// DrawIndexed draws indexed primitives from the bound index buffer.
func (p *GraphicsPipeline) DrawIndexed(c rhi.CommandBuffer, indexCount, firstIndex uint32, vertexOffset int32) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.drawIndexed(p, indexCount, firstIndex, vertexOffset)
}

// End returns cb to the render pass state.
func (p *GraphicsPipeline) End(c rhi.CommandBuffer) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.endGraphics(p)
}

func (p *GraphicsPipeline) commandBuffer(c rhi.CommandBuffer) (*CommandBuffer, error) {
	if p.destroyed() {
		return nil, fmt.Errorf("%w: pipeline %q", rhi.ErrDestroyed, p.name)
	}
	return adopt[*CommandBuffer](p.dev, c, "command buffer")
}

// Destroy releases every native variant.
func (p *GraphicsPipeline) Destroy() {
	if p.release() {
		p.natives.drain(p.dev.hal.DestroyRenderPipeline)
	}
}

// ComputePipeline implements rhi.ComputePipeline.
type ComputePipeline struct {
	resource
	shader  *Shader
	natives variants[hal.ComputePipeline]
}

var _ rhi.ComputePipeline = (*ComputePipeline)(nil)

// CreateComputePipeline validates desc. Native pipelines are built per
// resource table layout on first Begin.
func (d *Device) CreateComputePipeline(desc rhi.ComputePipelineDesc) (rhi.ComputePipeline, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	cs, err := adoptShader(d, desc.Shader, rhi.StageCompute, "compute shader")
	if err != nil {
		return nil, err
	}
	p := &ComputePipeline{shader: cs}
	p.setup(d, desc.Name)
	return p, nil
}

func (p *ComputePipeline) native(gen uint64, layout hal.PipelineLayout) (hal.ComputePipeline, error) {
	return p.natives.get(gen, func() (hal.ComputePipeline, error) {
		if p.shader.destroyed() {
			return nil, fmt.Errorf("%w: shader of pipeline %q", rhi.ErrDestroyed, p.name)
		}
		cp, err := p.dev.hal.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   p.name,
			Layout:  layout,
			Compute: hal.ComputeState{Module: p.shader.native, EntryPoint: p.shader.entry},
		})
		if err != nil {
			return nil, rhi.NewDeviceError("create compute pipeline", err)
		}
		return cp, nil
	})
}

func (p *ComputePipeline) commandBuffer(c rhi.CommandBuffer) (*CommandBuffer, error) {
	if p.destroyed() {
		return nil, fmt.Errorf("%w: pipeline %q", rhi.ErrDestroyed, p.name)
	}
	return adopt[*CommandBuffer](p.dev, c, "command buffer")
}

// Begin opens a compute pass on cb and installs the pipeline.
func (p *ComputePipeline) Begin(c rhi.CommandBuffer) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.beginCompute(p)
}

// Dispatch dispatches x*y*z workgroups.
func (p *ComputePipeline) Dispatch(c rhi.CommandBuffer, x, y, z uint32) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.dispatch(p, x, y, z)
}

// End closes the compute pass.
func (p *ComputePipeline) End(c rhi.CommandBuffer) error {
	cb, err := p.commandBuffer(c)
	if err != nil {
		return err
	}
	return cb.endCompute(p)
}

// Destroy releases every native variant.
func (p *ComputePipeline) Destroy() {
	if p.release() {
		p.natives.drain(p.dev.hal.DestroyComputePipeline)
	}
}
