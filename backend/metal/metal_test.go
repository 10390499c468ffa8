package metal

import (
	"bytes"
	"errors"
	"runtime"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/rhi"
)

func TestFormatsRoundTrip(t *testing.T) {
	all := rhi.SupportedFormats()
	if formats.Len() != len(all) {
		t.Errorf("table maps %d formats, %d are portable", formats.Len(), len(all))
	}
	for _, f := range all {
		n, err := formats.ToNative(f)
		if err != nil {
			t.Errorf("ToNative(%s): %v", f, err)
			continue
		}
		if back, ok := formats.FromNative(n); !ok || back != f {
			t.Errorf("FromNative(%d) = %s, %v; want %s", n, back, ok, f)
		}
	}
	natives := formats.Natives()
	for i := 1; i < len(natives); i++ {
		if natives[i-1] >= natives[i] {
			t.Fatalf("Natives() not strictly ascending at %d: %v", i, natives)
		}
	}
}

func TestFamilies(t *testing.T) {
	gpu := hal.ExposedAdapter{Info: gputypes.AdapterInfo{DeviceType: gputypes.DeviceTypeIntegratedGPU}}
	gpu.Features.Insert(gputypes.FeatureIndirectFirstInstance)
	gpu.Features.Insert(gputypes.FeatureTimestampQuery)

	states, bits, err := Families().Resolve(gpu, []string{FamilyMetal3})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	enabled := make(map[string]bool)
	for _, s := range states {
		enabled[s.Name] = s.Enabled
	}
	for _, name := range []string{FamilyCommon1, FamilyCommon2, FamilyCommon3, ArgumentBuffersTier2, FamilyMetal3, CounterSampling} {
		if !enabled[name] {
			t.Errorf("%s disabled on an integrated GPU", name)
		}
	}
	if enabled[HalfPrecision] || enabled[DepthClipMode] {
		t.Error("feature enabled without its hal bit")
	}
	if !bits.Contains(gputypes.FeatureTimestampQuery) {
		t.Error("counter sampling did not request timestamp queries")
	}

	cpu := hal.ExposedAdapter{Info: gputypes.AdapterInfo{DeviceType: gputypes.DeviceTypeCPU}}
	if _, _, err := Families().Resolve(cpu, []string{FamilyMetal3}); !errors.Is(err, rhi.ErrMissingExtension) {
		t.Errorf("Metal3 on a CPU adapter: got %v, want ErrMissingExtension", err)
	}
}

func TestTableCapacity(t *testing.T) {
	c := TableCapacity(gputypes.Limits{})
	for _, class := range rhi.ResourceClasses {
		if c[class] != TableClassCapacity {
			t.Errorf("%s capacity = %d, want %d", class, c[class], TableClassCapacity)
		}
	}
}

func TestShaderSource(t *testing.T) {
	if _, err := ShaderSource(rhi.ShaderCode{SPIRV: []uint32{0x07230203}}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("SPIR-V only: got %v, want ErrInvalidDescriptor", err)
	}
	src, err := ShaderSource(rhi.ShaderCode{Source: "@fragment fn main() {}"})
	if err != nil || src.WGSL == "" {
		t.Errorf("ShaderSource = %+v, %v", src, err)
	}
}

func TestOpenWithoutDriver(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("native driver present")
	}
	if _, err := rhi.NewDevice(rhi.WithAPI(rhi.APIMetal)); !errors.Is(err, rhi.ErrUnsupported) {
		t.Errorf("NewDevice without driver: got %v, want ErrUnsupported", err)
	}
}

// TestClearOnSoftware runs a clear and readback through the Metal policy.
func TestClearOnSoftware(t *testing.T) {
	dev, err := rhi.NewDevice(rhi.WithAPI(rhi.APIMetal), rhi.WithExecutor(software.API{}), rhi.WithStrictHazards(true))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Destroy()

	img, err := dev.CreateImage(rhi.ImageDesc{Name: "target", Width: 8, Height: 8, MipLevels: 1,
		Format: rhi.FormatRGBA8Unorm, Usage: rhi.ImageColorAttachment | rhi.ImageTransferSrc})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Destroy()
	rp, err := dev.CreateRenderPass(rhi.RenderPassDesc{Name: "clear", Attachments: []rhi.Attachment{{
		Image: img, Clear: rhi.ClearValue{Color: [4]float64{0, 1, 0, 1}},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Destroy()
	out, err := dev.CreateBuffer(rhi.BufferDesc{Name: "readback", Size: 8 * 8 * 4,
		Usage: rhi.BufferTransferDst, Memory: rhi.MemoryHostVisible})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Destroy()

	cb, err := dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: "frame"})
	if err != nil {
		t.Fatal(err)
	}
	defer cb.Destroy()
	steps := []func() error{
		cb.Begin,
		func() error {
			return cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{})
		},
		func() error { return cb.BeginRenderPass(rp) },
		cb.EndRenderPass,
		func() error {
			return cb.SynchronizeImageUsage(img, rhi.UsageColorAttachment, rhi.UsageTransferSrc, rhi.ImageRange{})
		},
		func() error { return cb.CopyImageToBuffer(img, out, 0, 0, 0) },
		cb.End,
		func() error { return dev.Submit(cb) },
		func() error { return dev.WaitForCommandBuffer(cb) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	got := make([]byte, 8*8*4)
	if err := out.ReadToMemory(got, 0, 0); err != nil {
		t.Fatal(err)
	}
	if want := bytes.Repeat([]byte{0, 255, 0, 255}, 64); !bytes.Equal(got, want) {
		t.Errorf("readback = %v", got[:16])
	}
}
