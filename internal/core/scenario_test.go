package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/rhi"
)

const targetSize = 256

// renderTarget creates a color image and a single-subpass pass clearing
// it to color.
func renderTarget(t *testing.T, d *Device, color [4]float64) (*Image, *RenderPass) {
	t.Helper()
	img := mustImage(t, d, rhi.ImageDesc{
		Name:      "target",
		Width:     targetSize,
		Height:    targetSize,
		MipLevels: 1,
		Format:    rhi.FormatRGBA8Unorm,
		Usage:     rhi.ImageColorAttachment | rhi.ImageSampled | rhi.ImageTransferSrc,
	})
	t.Cleanup(img.Destroy)
	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{
		Name: "clear",
		Attachments: []rhi.Attachment{{
			Image: img,
			Load:  rhi.LoadClear,
			Store: rhi.StoreStore,
			Clear: rhi.ClearValue{Color: color},
		}},
	})
	must(t, err)
	t.Cleanup(rp.Destroy)
	return img, rp.(*RenderPass)
}

func TestClearDrawReadback(t *testing.T) {
	for _, api := range profiles {
		t.Run(api.String(), func(t *testing.T) {
			d := openDevice(t, api, rhi.WithStrictHazards(true))
			img, rp := renderTarget(t, d, [4]float64{1, 0, 0, 1})

			vs := mustShader(t, d, rhi.StageVertex)
			fs := mustShader(t, d, rhi.StageFragment)
			defer vs.Destroy()
			defer fs.Destroy()
			gp, err := d.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
				Name: "triangle", Pass: rp, Vertex: vs, Fragment: fs,
			})
			must(t, err)
			defer gp.Destroy()

			readback := mustBuffer(t, d, targetSize*targetSize*4, rhi.BufferTransferDst, rhi.MemoryHostVisible)
			defer readback.Destroy()

			cb := mustCommandBuffer(t, d)
			must(t, cb.Begin())
			must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
			must(t, cb.BeginRenderPass(rp))
			must(t, gp.Begin(cb))
			must(t, gp.Draw(cb, 3, 0))
			must(t, gp.End(cb))
			must(t, cb.EndRenderPass())
			must(t, cb.SynchronizeImageUsage(img, rhi.UsageColorAttachment, rhi.UsageTransferSrc, rhi.ImageRange{}))
			must(t, cb.CopyImageToBuffer(img, readback, 0, 0, 0))
			must(t, cb.End())
			must(t, d.Submit(cb))
			must(t, d.WaitForCommandBuffer(cb))

			pixels := make([]byte, targetSize*targetSize*4)
			must(t, readback.ReadToMemory(pixels, 0, 0))
			want := []byte{255, 0, 0, 255}
			for i := 0; i < len(pixels); i += 4 {
				if !bytes.Equal(pixels[i:i+4], want) {
					t.Fatalf("pixel %d = %v, want %v", i/4, pixels[i:i+4], want)
				}
			}
		})
	}
}

func TestUploadReadback(t *testing.T) {
	for _, api := range profiles {
		t.Run(api.String(), func(t *testing.T) {
			d := openDevice(t, api, rhi.WithStrictHazards(true))
			img := mustImage(t, d, rhi.ImageDesc{
				Name: "texture", Width: 4, Height: 4, MipLevels: 1,
				Format: rhi.FormatRGBA8Unorm,
				Usage:  rhi.ImageSampled | rhi.ImageTransferDst | rhi.ImageTransferSrc,
			})
			defer img.Destroy()
			staging := mustBuffer(t, d, img.ByteSize(), rhi.BufferTransferSrc, rhi.MemoryHostVisible)
			readback := mustBuffer(t, d, img.ByteSize(), rhi.BufferTransferDst, rhi.MemoryHostVisible)
			defer staging.Destroy()
			defer readback.Destroy()

			texels := make([]byte, img.ByteSize())
			for i := range texels {
				texels[i] = byte(i * 3)
			}
			must(t, staging.CopyFromMemory(texels, 0, 0, 0))

			cb := mustCommandBuffer(t, d)
			must(t, cb.Begin())
			must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageTransferDst, rhi.ImageRange{}))
			must(t, cb.CopyBufferToImage(staging, img, 0, 0, 0))
			must(t, cb.SynchronizeImageUsage(img, rhi.UsageTransferDst, rhi.UsageTransferSrc, rhi.ImageRange{}))
			must(t, cb.CopyImageToBuffer(img, readback, 0, 0, 0))
			must(t, cb.End())
			must(t, d.Submit(cb))
			must(t, d.WaitIdle())

			got := make([]byte, len(texels))
			must(t, readback.ReadToMemory(got, 0, 0))
			if !bytes.Equal(got, texels) {
				t.Errorf("readback differs from upload:\n got %v\nwant %v", got, texels)
			}
		})
	}
}

func TestStrictHazards(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan, rhi.WithStrictHazards(true))
	img, rp := renderTarget(t, d, [4]float64{0, 0, 1, 1})
	readback := mustBuffer(t, d, targetSize*targetSize*4, rhi.BufferTransferDst, rhi.MemoryHostVisible)
	defer readback.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	// The attachment was never moved to ColorAttachment.
	if err := cb.BeginRenderPass(rp); !errors.Is(err, rhi.ErrHazard) {
		t.Errorf("BeginRenderPass in usage None: got %v, want ErrHazard", err)
	}
	// Reading an image nothing has written.
	if err := cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageTransferSrc, rhi.ImageRange{}); !errors.Is(err, rhi.ErrHazard) {
		t.Errorf("read before write: got %v, want ErrHazard", err)
	}
	if err := cb.CopyImageToBuffer(img, readback, 0, 0, 0); !errors.Is(err, rhi.ErrHazard) {
		t.Errorf("copy of uninitialized image: got %v, want ErrHazard", err)
	}
	must(t, cb.End())
}

func TestLenientHazards(t *testing.T) {
	d := openDevice(t, rhi.APIMetal)
	_, rp := renderTarget(t, d, [4]float64{0, 1, 0, 1})

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	// Without strict mode the missing transition is only logged.
	must(t, cb.BeginRenderPass(rp))
	must(t, cb.EndRenderPass())
	must(t, cb.End())
}

func TestImageCopyValidation(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	img := mustImage(t, d, rhi.ImageDesc{
		Name: "mipped", Width: 8, Height: 8,
		Format: rhi.FormatRGBA8Unorm,
		Usage:  rhi.ImageSampled | rhi.ImageTransferDst,
	})
	defer img.Destroy()
	if got := img.MipLevels(); got != 4 {
		t.Fatalf("MipLevels() = %d, want full chain of 4", got)
	}
	small := mustBuffer(t, d, 64, rhi.BufferTransferSrc, rhi.MemoryHostVisible)
	defer small.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"mip 0 too large", cb.CopyBufferToImage(small, img, 0, 0, 0), rhi.ErrBufferOverflow},
		{"mip out of range", cb.CopyBufferToImage(small, img, 0, 4, 0), rhi.ErrInvalidDescriptor},
		{"layer out of range", cb.CopyBufferToImage(small, img, 0, 1, 1), rhi.ErrInvalidDescriptor},
		{"unaligned offset", cb.CopyBufferToImage(small, img, 2, 2, 0), rhi.ErrInvalidDescriptor},
		{"wrong direction", cb.CopyImageToBuffer(img, small, 0, 3, 0), rhi.ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.err, tt.want)
		}
	}
	// Mip 1 is 4x4: exactly 64 bytes.
	must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageTransferDst, rhi.ImageRange{BaseMip: 1, MipCount: 1}))
	must(t, cb.CopyBufferToImage(small, img, 0, 1, 0))
	must(t, cb.End())
}
