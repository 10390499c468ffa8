package core

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi"
)

func TestCreateShaderErrors(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	if _, err := d.CreateShader(rhi.ShaderDesc{Name: "empty", Stage: rhi.StageVertex}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("no code: got %v, want ErrInvalidDescriptor", err)
	}
	if _, err := d.CreateShader(rhi.ShaderDesc{Name: "stageless", Code: shaderCode(rhi.APIVulkan)}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("no stage: got %v, want ErrInvalidDescriptor", err)
	}
	s := mustShader(t, d, rhi.StageFragment)
	defer s.Destroy()
	if got := s.EntryPoint(); got != "main" {
		t.Errorf("EntryPoint() = %q, want main", got)
	}
}

func TestCreateGraphicsPipelineErrors(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	_, rp := renderTarget(t, d, [4]float64{})
	vs := mustShader(t, d, rhi.StageVertex)
	fs := mustShader(t, d, rhi.StageFragment)
	defer vs.Destroy()
	defer fs.Destroy()

	tests := []struct {
		name string
		desc rhi.GraphicsPipelineDesc
		want error
	}{
		{"wireframe", rhi.GraphicsPipelineDesc{Pass: rp, Vertex: vs, Fragment: fs, Fill: rhi.FillWireframe}, rhi.ErrUnsupported},
		{"subpass", rhi.GraphicsPipelineDesc{Pass: rp, Subpass: 1, Vertex: vs, Fragment: fs}, rhi.ErrInvalidDescriptor},
		{"swapped stages", rhi.GraphicsPipelineDesc{Pass: rp, Vertex: fs, Fragment: vs}, rhi.ErrInvalidDescriptor},
		{"missing fragment", rhi.GraphicsPipelineDesc{Pass: rp, Vertex: vs}, rhi.ErrInvalidDescriptor},
		{"depth without attachment", rhi.GraphicsPipelineDesc{Pass: rp, Vertex: vs, Fragment: fs, DepthTest: true}, rhi.ErrInvalidDescriptor},
		{"no pass", rhi.GraphicsPipelineDesc{Vertex: vs, Fragment: fs}, rhi.ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		tt.desc.Name = tt.name
		if _, err := d.CreateGraphicsPipeline(tt.desc); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestGraphicsPipelineState(t *testing.T) {
	d := openDevice(t, rhi.APIMetal)
	img, rp := renderTarget(t, d, [4]float64{})
	vs := mustShader(t, d, rhi.StageVertex)
	fs := mustShader(t, d, rhi.StageFragment)
	defer vs.Destroy()
	defer fs.Destroy()
	plain, err := d.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{Name: "plain", Pass: rp, Vertex: vs, Fragment: fs})
	must(t, err)
	defer plain.Destroy()
	mesh, err := d.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Name: "mesh", Pass: rp, Vertex: vs, Fragment: fs,
		Layout: rhi.NewVertexLayout(rhi.VertexFloat3, rhi.VertexFloat2),
	})
	must(t, err)
	defer mesh.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	if err := plain.Begin(cb); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("Begin outside a pass: got %v, want ErrInvalidState", err)
	}
	must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	must(t, cb.BeginRenderPass(rp))
	if err := plain.Draw(cb, 3, 0); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("Draw before Begin: got %v, want ErrInvalidState", err)
	}
	must(t, mesh.Begin(cb))
	if err := mesh.Draw(cb, 3, 0); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("Draw without vertex buffer: got %v, want ErrInvalidState", err)
	}
	if err := mesh.DrawIndexed(cb, 3, 0, 0); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("DrawIndexed without index buffer: got %v, want ErrInvalidState", err)
	}
	if err := plain.End(cb); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("End of a pipeline that is not begun: got %v, want ErrInvalidState", err)
	}
	if err := cb.EndRenderPass(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("EndRenderPass with a pipeline begun: got %v, want ErrInvalidState", err)
	}
	must(t, cb.SetViewport(0, 0, 128, 128))
	must(t, cb.SetScissor(0, 0, 64, 64))
	if err := cb.SetScissor(200, 0, 100, 10); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("scissor outside the area: got %v, want ErrInvalidDescriptor", err)
	}
	if err := cb.SetViewport(0, 0, 0, 10); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("empty viewport: got %v, want ErrInvalidDescriptor", err)
	}
	must(t, mesh.End(cb))
	must(t, cb.EndRenderPass())
	must(t, cb.End())
}

func TestIndexedDraw(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	img, rp := renderTarget(t, d, [4]float64{0, 0, 0, 1})
	vs := mustShader(t, d, rhi.StageVertex)
	fs := mustShader(t, d, rhi.StageFragment)
	defer vs.Destroy()
	defer fs.Destroy()
	gp, err := d.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Name: "indexed", Pass: rp, Vertex: vs, Fragment: fs,
		Layout: rhi.NewVertexLayout(rhi.VertexFloat2),
	})
	must(t, err)
	defer gp.Destroy()

	vb := mustBuffer(t, d, 24, rhi.BufferVertex, rhi.MemoryHostVisible)
	ib := mustBuffer(t, d, 6, rhi.BufferIndex, rhi.MemoryHostVisible)
	defer vb.Destroy()
	defer ib.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	must(t, cb.BeginRenderPass(rp))
	must(t, gp.Begin(cb))
	must(t, cb.BindVertexBuffer(vb, 0))
	must(t, cb.BindIndexBuffer(ib, 0, rhi.IndexUint16))
	must(t, gp.DrawIndexed(cb, 3, 0, 0))
	must(t, gp.End(cb))
	must(t, cb.EndRenderPass())
	must(t, cb.End())
}

func TestComputePipeline(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	cs, err := d.CreateShader(rhi.ShaderDesc{Name: "cs", Stage: rhi.StageCompute, Code: shaderCode(rhi.APIVulkan)})
	must(t, err)
	defer cs.Destroy()
	vs := mustShader(t, d, rhi.StageVertex)
	defer vs.Destroy()
	if _, err := d.CreateComputePipeline(rhi.ComputePipelineDesc{Name: "wrong", Shader: vs}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("vertex shader in compute pipeline: got %v, want ErrInvalidDescriptor", err)
	}
	cp, err := d.CreateComputePipeline(rhi.ComputePipelineDesc{Name: "reduce", Shader: cs})
	must(t, err)
	defer cp.Destroy()

	cb := mustCommandBuffer(t, d)
	if err := cp.Begin(cb); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("Begin in Initial: got %v, want ErrInvalidState", err)
	}
	must(t, cb.Begin())
	must(t, cp.Begin(cb))
	if got := cb.State(); got != rhi.StateComputePipeline {
		t.Fatalf("state = %s, want ComputePipeline", got)
	}
	if err := cp.Dispatch(cb, 1<<20, 1, 1); !errors.Is(err, rhi.ErrUnsupported) {
		t.Errorf("dispatch above the workgroup limit: got %v, want ErrUnsupported", err)
	}
	if err := cb.End(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("End inside a compute pass: got %v, want ErrInvalidState", err)
	}
	must(t, cp.End(cb))
	must(t, cb.End())
}

func TestPipelineBeginWrongSubpass(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	color := mustImage(t, d, rhi.ImageDesc{Name: "gbuffer", Width: 32, Height: 32, MipLevels: 1,
		Format: rhi.FormatRGBA8Unorm, Usage: rhi.ImageColorAttachment})
	light := mustImage(t, d, rhi.ImageDesc{Name: "light", Width: 32, Height: 32, MipLevels: 1,
		Format: rhi.FormatRGBA16Float, Usage: rhi.ImageColorAttachment})
	defer color.Destroy()
	defer light.Destroy()
	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{
		Name: "deferred",
		Attachments: []rhi.Attachment{
			{Image: color, Load: rhi.LoadClear, Store: rhi.StoreDiscard},
			{Image: light, Load: rhi.LoadClear, Store: rhi.StoreStore},
		},
		Subpasses: []rhi.Subpass{{ColorAttachments: []int{0}}, {ColorAttachments: []int{1}}},
	})
	must(t, err)
	defer rp.Destroy()

	vs := mustShader(t, d, rhi.StageVertex)
	fs := mustShader(t, d, rhi.StageFragment)
	defer vs.Destroy()
	defer fs.Destroy()
	lighting, err := d.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{Name: "lighting", Pass: rp, Subpass: 1, Vertex: vs, Fragment: fs})
	must(t, err)
	defer lighting.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	must(t, cb.SynchronizeImageUsage(color, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	must(t, cb.SynchronizeImageUsage(light, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	must(t, cb.BeginRenderPass(rp))
	if err := lighting.Begin(cb); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("pipeline of subpass 1 in subpass 0: got %v, want ErrInvalidState", err)
	}
	if err := cb.EndRenderPass(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("EndRenderPass in subpass 0 of 2: got %v, want ErrInvalidState", err)
	}
	must(t, cb.NextSubpass())
	must(t, lighting.Begin(cb))
	must(t, lighting.Draw(cb, 3, 0))
	must(t, lighting.End(cb))
	if err := cb.NextSubpass(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("NextSubpass past the last: got %v, want ErrInvalidState", err)
	}
	must(t, cb.EndRenderPass())
	must(t, cb.End())
}
