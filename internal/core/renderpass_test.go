package core

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

func colorImage(t *testing.T, d *Device, name string, w, h uint32, f rhi.Format) *Image {
	t.Helper()
	img := mustImage(t, d, rhi.ImageDesc{Name: name, Width: w, Height: h, MipLevels: 1, Format: f,
		Usage: rhi.ImageColorAttachment | rhi.ImageTransferSrc})
	t.Cleanup(img.Destroy)
	return img
}

func TestCreateRenderPassErrors(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	color := colorImage(t, d, "color", 64, 64, rhi.FormatRGBA8Unorm)
	small := colorImage(t, d, "small", 32, 32, rhi.FormatRGBA8Unorm)
	sampled := mustImage(t, d, rhi.ImageDesc{Name: "sampled", Width: 64, Height: 64, MipLevels: 1,
		Format: rhi.FormatRGBA8Unorm, Usage: rhi.ImageSampled})
	defer sampled.Destroy()
	depth := mustImage(t, d, rhi.ImageDesc{Name: "depth", Width: 64, Height: 64, MipLevels: 1,
		Format: rhi.FormatDepth32, Usage: rhi.ImageDepthAttachment})
	defer depth.Destroy()

	tests := []struct {
		name string
		desc rhi.RenderPassDesc
	}{
		{"no attachments", rhi.RenderPassDesc{}},
		{"not an attachment", rhi.RenderPassDesc{Attachments: []rhi.Attachment{{Image: sampled}}}},
		{"depth as color", rhi.RenderPassDesc{Attachments: []rhi.Attachment{{Image: depth}}}},
		{"color as depth", rhi.RenderPassDesc{Depth: &rhi.DepthAttachment{Image: color}}},
		{"subpass index", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color}},
			Subpasses:   []rhi.Subpass{{ColorAttachments: []int{1}}},
		}},
		{"duplicate reference", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color}},
			Subpasses:   []rhi.Subpass{{ColorAttachments: []int{0, 0}}},
		}},
		{"missing depth", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color}},
			Subpasses:   []rhi.Subpass{{ColorAttachments: []int{0}, UseDepth: true}},
		}},
		{"empty subpass", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color}},
			Subpasses:   []rhi.Subpass{{}},
		}},
		{"area larger than attachment", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color}, {Image: small}},
		}},
		{"resolve of single-sampled", rhi.RenderPassDesc{
			Attachments: []rhi.Attachment{{Image: color, Resolve: &rhi.ResolveTarget{Image: small}}},
		}},
	}
	for _, tt := range tests {
		tt.desc.Name = tt.name
		if _, err := d.CreateRenderPass(tt.desc); !errors.Is(err, rhi.ErrInvalidDescriptor) {
			t.Errorf("%s: got %v, want ErrInvalidDescriptor", tt.name, err)
		}
	}
}

func TestRenderPassDefaults(t *testing.T) {
	d := openDevice(t, rhi.APIMetal)
	a := colorImage(t, d, "a", 64, 48, rhi.FormatRGBA8Unorm)
	b := colorImage(t, d, "b", 64, 48, rhi.FormatRGBA16Float)
	depth := mustImage(t, d, rhi.ImageDesc{Name: "depth", Width: 64, Height: 48, MipLevels: 1,
		Format: rhi.FormatDepth32, Usage: rhi.ImageDepthAttachment})
	defer depth.Destroy()

	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{
		Name:        "mrt",
		Attachments: []rhi.Attachment{{Image: a}, {Image: b}},
		Depth:       &rhi.DepthAttachment{Image: depth, Clear: rhi.ClearValue{Depth: 1}},
	})
	must(t, err)
	defer rp.Destroy()
	if got := rp.Subpasses(); got != 1 {
		t.Errorf("Subpasses() = %d, want one implicit subpass", got)
	}
	if w, h := rp.Size(); w != 64 || h != 48 {
		t.Errorf("Size() = %dx%d, want the first attachment's 64x48", w, h)
	}
	pass := rp.(*RenderPass)
	if sp := pass.subpasses[0]; len(sp.ColorAttachments) != 2 || !sp.UseDepth {
		t.Errorf("implicit subpass = %+v, want every attachment", sp)
	}
}

func TestRenderPassAttachmentRange(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	gbuf := colorImage(t, d, "gbuffer", 16, 16, rhi.FormatRGBA8Unorm)
	out := colorImage(t, d, "out", 16, 16, rhi.FormatRGBA8Unorm)
	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{
		Name: "two-step",
		Attachments: []rhi.Attachment{
			{Image: gbuf, Load: rhi.LoadClear, Store: rhi.StoreDiscard},
			{Image: out, Load: rhi.LoadDontCare, Store: rhi.StoreStore},
		},
		Subpasses: []rhi.Subpass{
			{ColorAttachments: []int{0}},
			{ColorAttachments: []int{0, 1}},
		},
	})
	must(t, err)
	defer rp.Destroy()
	pass := rp.(*RenderPass)
	plan, err := pass.snapshot()
	must(t, err)

	if first, last := pass.useRange(0); first != 0 || last != 1 {
		t.Errorf("useRange(0) = %d, %d; want 0, 1", first, last)
	}
	if first, last := pass.useRange(1); first != 1 || last != 1 {
		t.Errorf("useRange(1) = %d, %d; want 1, 1", first, last)
	}
	// The gbuffer clears in subpass 0 and is only discarded after subpass 1.
	first := plan.subpassDesc(0).ColorAttachments[0]
	if first.StoreOp == plan.subpassDesc(1).ColorAttachments[0].StoreOp {
		t.Error("intermediate subpass used the final store action")
	}
	if got := plan.subpassDesc(1).ColorAttachments[0].LoadOp; got == first.LoadOp {
		t.Error("later subpass repeated the clear")
	}
}

func TestRenderPassResizeRebind(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan)
	a := colorImage(t, d, "a", 64, 64, rhi.FormatRGBA8Unorm)
	bigger := colorImage(t, d, "bigger", 128, 128, rhi.FormatRGBA8Unorm)
	other := colorImage(t, d, "other", 128, 128, rhi.FormatBGRA8Unorm)
	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{Name: "resizable", Attachments: []rhi.Attachment{{Image: a}}})
	must(t, err)
	defer rp.Destroy()

	if err := rp.Rebind(0, other); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("rebind with another format: got %v, want ErrInvalidDescriptor", err)
	}
	if err := rp.Rebind(1, bigger); !errors.Is(err, rhi.ErrIndexOutOfBounds) {
		t.Errorf("rebind past the attachment count: got %v, want ErrIndexOutOfBounds", err)
	}
	if err := rp.Resize(0, 10); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("zero area: got %v, want ErrInvalidDescriptor", err)
	}

	must(t, rp.Resize(128, 128))
	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	must(t, cb.SynchronizeImageUsage(a, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	if err := cb.BeginRenderPass(rp); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("begin with the area larger than the attachment: got %v, want ErrInvalidDescriptor", err)
	}
	must(t, rp.Rebind(0, bigger))
	must(t, cb.SynchronizeImageUsage(bigger, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	must(t, cb.BeginRenderPass(rp))
	must(t, cb.EndRenderPass())
	must(t, cb.End())
}

func TestLoadOfUninitializedAttachment(t *testing.T) {
	d := openDevice(t, rhi.APIVulkan, rhi.WithStrictHazards(true))
	img := colorImage(t, d, "fresh", 16, 16, rhi.FormatRGBA8Unorm)
	rp, err := d.CreateRenderPass(rhi.RenderPassDesc{
		Name:        "load",
		Attachments: []rhi.Attachment{{Image: img, Load: rhi.LoadLoad}},
	})
	must(t, err)
	defer rp.Destroy()

	cb := mustCommandBuffer(t, d)
	must(t, cb.Begin())
	// Moving to ColorAttachment counts as a write; drop the contents the
	// way a presentable image comes back from acquire.
	must(t, cb.SynchronizeImageUsage(img, rhi.UsageNone, rhi.UsageColorAttachment, rhi.ImageRange{}))
	img.mu.Lock()
	img.track.states[0].init = false
	img.mu.Unlock()
	if err := cb.BeginRenderPass(rp); !errors.Is(err, rhi.ErrHazard) {
		t.Errorf("load of uninitialized attachment: got %v, want ErrHazard", err)
	}
	must(t, cb.End())
}

func TestColorStore(t *testing.T) {
	tests := []struct {
		name        string
		a           rhi.Attachment
		wantStore   gputypes.StoreOp
		wantResolve bool
	}{
		{"store", rhi.Attachment{Store: rhi.StoreStore}, gputypes.StoreOpStore, false},
		{"discard", rhi.Attachment{Store: rhi.StoreDiscard}, gputypes.StoreOpDiscard, false},
		{"resolve stored", rhi.Attachment{Store: rhi.StoreStore, Resolve: &rhi.ResolveTarget{Store: rhi.StoreStore}},
			gputypes.StoreOpDiscard, true},
		{"resolve discarded", rhi.Attachment{Store: rhi.StoreStore, Resolve: &rhi.ResolveTarget{Store: rhi.StoreDiscard}},
			gputypes.StoreOpDiscard, false},
		{"primary discard ignored", rhi.Attachment{Store: rhi.StoreDiscard, Resolve: &rhi.ResolveTarget{Store: rhi.StoreStore}},
			gputypes.StoreOpDiscard, true},
	}
	for _, tt := range tests {
		store, resolve := colorStore(tt.a)
		if store != tt.wantStore || resolve != tt.wantResolve {
			t.Errorf("%s: colorStore = %v, %v; want %v, %v", tt.name, store, resolve, tt.wantStore, tt.wantResolve)
		}
	}
}
