package vulkan

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/software"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

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
		back, ok := formats.FromNative(n)
		if !ok || back != f {
			t.Errorf("FromNative(%d) = %s, %v; want %s", n, back, ok, f)
		}
	}
	if n, _ := formats.ToNative(rhi.FormatBGRA8Unorm); n != uint32(vk.FormatB8g8r8a8Unorm) {
		t.Errorf("BGRA8Unorm = %d, want VK_FORMAT_B8G8R8A8_UNORM", n)
	}
	if _, err := formats.ToNative(rhi.Format{Layout: rhi.LayoutBGRA, Type: rhi.TypeFloat32}); !errors.Is(err, rhi.ErrUnsupportedFormat) {
		t.Errorf("unmapped format: got %v, want ErrUnsupportedFormat", err)
	}
}

func TestTableCapacity(t *testing.T) {
	c := TableCapacity(gputypes.DefaultLimits())
	want := rhi.TableCapacity{12, 8, 16, 4, 16}
	if c != want {
		t.Errorf("TableCapacity(default) = %v, want %v", c, want)
	}
	tight := gputypes.DefaultLimits()
	tight.MaxBindingsPerBindGroup = 6
	if got := TableCapacity(tight); got[rhi.ClassSampledImage] != 6 || got[rhi.ClassStorageImage] != 4 {
		t.Errorf("TableCapacity capped by group = %v", got)
	}
}

func TestShaderSource(t *testing.T) {
	if _, err := ShaderSource(rhi.ShaderCode{Source: "fn main() {}"}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("text source: got %v, want ErrInvalidDescriptor", err)
	}
	if _, err := ShaderSource(rhi.ShaderCode{SPIRV: []uint32{0xdeadbeef}}); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("bad magic: got %v, want ErrInvalidDescriptor", err)
	}
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0}
	src, err := ShaderSource(rhi.ShaderCode{SPIRV: words})
	if err != nil {
		t.Fatal(err)
	}
	if len(src.SPIRV) != len(words) || src.WGSL != "" {
		t.Errorf("ShaderSource = %+v", src)
	}
}

func TestExtensionsOnSoftware(t *testing.T) {
	dev, err := rhi.NewDevice(rhi.WithAPI(rhi.APIVulkan), rhi.WithExecutor(software.API{}))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Destroy()

	if dev.API() != rhi.APIVulkan {
		t.Errorf("API() = %s", dev.API())
	}
	for _, name := range []string{ExtSurface, ExtSwapchain, ExtMaintenance3, ExtDescriptorIndexing, ExtTimelineSemaphore} {
		if !dev.IsFeatureEnabled(name) {
			t.Errorf("%s disabled on the software adapter", name)
		}
	}
	// The software adapter exposes no optional hal features.
	for _, name := range []string{ExtDepthClipEnable, ExtCalibratedTimestamp} {
		if dev.IsFeatureEnabled(name) {
			t.Errorf("%s enabled without adapter support", name)
		}
	}
	n, err := dev.FormatToNative(rhi.FormatRGBA8Unorm)
	if err != nil || n != uint32(vk.FormatR8g8b8a8Unorm) {
		t.Errorf("FormatToNative(RGBA8Unorm) = %d, %v", n, err)
	}

	if _, err := rhi.NewDevice(rhi.WithAPI(rhi.APIVulkan), rhi.WithExecutor(software.API{}),
		rhi.WithRequiredFeatures(ExtCalibratedTimestamp)); !errors.Is(err, rhi.ErrMissingExtension) {
		t.Errorf("required calibrated timestamps: got %v, want ErrMissingExtension", err)
	}
}
