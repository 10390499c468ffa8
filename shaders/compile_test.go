package shaders

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi"
)

const triangleWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(i) - 1);
    let y = f32(i32(i & 1u) * 2 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

func TestCompileVulkan(t *testing.T) {
	desc, err := Compile(rhi.APIVulkan, "triangle.vs", rhi.StageVertex, "vs_main", triangleWGSL)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(desc.Code.SPIRV) < 5 || desc.Code.SPIRV[0] != 0x07230203 {
		t.Fatalf("not SPIR-V: %d words", len(desc.Code.SPIRV))
	}
	if desc.Name != "triangle.vs" || desc.Stage != rhi.StageVertex || desc.EntryPoint != "vs_main" {
		t.Errorf("desc = %+v", desc)
	}
}

func TestCompileMetal(t *testing.T) {
	desc, err := Compile(rhi.APIMetal, "triangle.fs", rhi.StageFragment, "fs_main", triangleWGSL)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if desc.Code.Source != triangleWGSL || len(desc.Code.SPIRV) != 0 {
		t.Errorf("metal code = %+v", desc.Code)
	}
}

func TestCompileErrors(t *testing.T) {
	for _, api := range []rhi.API{rhi.APIVulkan, rhi.APIMetal} {
		if _, err := Compile(api, "broken", rhi.StageFragment, "main", "fn main( {"); err == nil {
			t.Errorf("%s: invalid WGSL compiled", api)
		}
	}
	if _, err := Compile(rhi.APIOpenGL, "x", rhi.StageFragment, "fs_main", triangleWGSL); !errors.Is(err, rhi.ErrUnsupported) {
		t.Errorf("opengl: got %v, want ErrUnsupported", err)
	}
}

func TestCompileCache(t *testing.T) {
	vs, err := Compile(rhi.APIVulkan, "cached.vs", rhi.StageVertex, "vs_main", triangleWGSL)
	if err != nil {
		t.Fatal(err)
	}
	before := CacheStats().Hits
	fs, err := Compile(rhi.APIVulkan, "cached.fs", rhi.StageFragment, "fs_main", triangleWGSL)
	if err != nil {
		t.Fatal(err)
	}
	if CacheStats().Hits != before+1 {
		t.Error("second entry point of the same module was recompiled")
	}
	if fs.Name != "cached.fs" || fs.EntryPoint != "fs_main" || fs.Stage != rhi.StageFragment {
		t.Errorf("desc = %s %s %v", fs.Name, fs.EntryPoint, fs.Stage)
	}
	fs.Code.SPIRV[0] = 0
	if vs.Code.SPIRV[0] != 0x07230203 {
		t.Error("cached code shared between descriptors")
	}
}
