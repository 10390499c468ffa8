package core

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Image implements rhi.Image.
type Image struct {
	resource
	desc   rhi.ImageDesc
	format gputypes.TextureFormat
	native hal.Texture
	// view covers every mip and layer.
	view hal.TextureView
	// targetView covers mip 0 of layer 0; equal to view for single-mip,
	// single-layer images.
	targetView hal.TextureView
	borrowed   bool

	mu    sync.Mutex
	track *imageTracker
}

var _ rhi.Image = (*Image)(nil)

func imageHalUsage(u rhi.ImageUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&(rhi.ImageColorAttachment|rhi.ImageDepthAttachment) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u.Has(rhi.ImageSampled) {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u.Has(rhi.ImageStorage) {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u.Has(rhi.ImageTransferSrc) {
		out |= gputypes.TextureUsageCopySrc
	}
	if u.Has(rhi.ImageTransferDst) {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}

// CreateImage creates a 2D image or 2D image array with a default view.
func (d *Device) CreateImage(desc rhi.ImageDesc) (rhi.Image, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	n := desc.Normalized()
	if err := d.checkImage(n); err != nil {
		return nil, fmt.Errorf("create image %q: %w", desc.Name, err)
	}
	tf, _ := n.Format.TextureFormat()
	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label:         n.Name,
		Size:          hal.Extent3D{Width: n.Width, Height: n.Height, DepthOrArrayLayers: n.Layers},
		MipLevelCount: n.MipLevels,
		SampleCount:   n.Samples,
		Dimension:     gputypes.TextureDimension2D,
		Format:        tf,
		Usage:         imageHalUsage(n.Usage),
	})
	if err != nil {
		return nil, rhi.NewDeviceError("create image", err)
	}
	img := &Image{desc: n, format: tf, native: tex}
	img.setup(d, n.Name)
	if err := img.createViews(); err != nil {
		d.hal.DestroyTexture(tex)
		return nil, err
	}
	return img, nil
}

// wrapSurfaceImage wraps a presentable texture owned by a surface.
func (d *Device) wrapSurfaceImage(name string, tex hal.Texture, f rhi.Format, w, h uint32) (*Image, error) {
	tf, err := f.TextureFormat()
	if err != nil {
		return nil, err
	}
	img := &Image{
		desc: rhi.ImageDesc{
			Name: name, Width: w, Height: h, MipLevels: 1, Layers: 1, Samples: 1,
			Format: f, Usage: rhi.ImageColorAttachment | rhi.ImageTransferSrc | rhi.ImageTransferDst,
		},
		format:   tf,
		native:   tex,
		borrowed: true,
	}
	img.setup(d, name)
	if err := img.createViews(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) aspect() gputypes.TextureAspect {
	return gputypes.TextureAspectAll
}

func (img *Image) createViews() error {
	d := img.dev
	dim := gputypes.TextureViewDimension2D
	if img.desc.Layers > 1 {
		dim = gputypes.TextureViewDimension2DArray
	}
	view, err := d.hal.CreateTextureView(img.native, &hal.TextureViewDescriptor{
		Label:           img.name,
		Format:          img.format,
		Dimension:       dim,
		Aspect:          img.aspect(),
		MipLevelCount:   img.desc.MipLevels,
		ArrayLayerCount: img.desc.Layers,
	})
	if err != nil {
		return rhi.NewDeviceError("create image view", err)
	}
	img.view, img.targetView = view, view
	if img.desc.MipLevels > 1 || img.desc.Layers > 1 {
		tv, err := d.hal.CreateTextureView(img.native, &hal.TextureViewDescriptor{
			Label:           img.name + "/target",
			Format:          img.format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          img.aspect(),
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			d.hal.DestroyTextureView(view)
			return rhi.NewDeviceError("create image view", err)
		}
		img.targetView = tv
	}
	img.track = newImageTracker(img.desc.MipLevels, img.desc.Layers)
	return nil
}

func (img *Image) Width() uint32          { return img.desc.Width }
func (img *Image) Height() uint32         { return img.desc.Height }
func (img *Image) MipLevels() uint32      { return img.desc.MipLevels }
func (img *Image) Layers() uint32         { return img.desc.Layers }
func (img *Image) Samples() uint32        { return img.desc.Samples }
func (img *Image) Format() rhi.Format     { return img.desc.Format }
func (img *Image) Usage() rhi.ImageUsage  { return img.desc.Usage }
func (img *Image) Borrowed() bool         { return img.borrowed }
func (img *Image) Desc() rhi.ImageDesc    { return img.desc }
func (img *Image) Native() hal.Texture    { return img.native }
func (img *Image) view2D() hal.TextureView { return img.targetView }

// SubresourceSize returns the extent of mip level mip.
func (img *Image) SubresourceSize(mip uint32) (uint32, uint32) {
	return rhi.MipExtent(img.desc.Width, img.desc.Height, mip)
}

// subresourceBytes is the tightly packed size of one mip of one layer.
func (img *Image) subresourceBytes(mip uint32) uint64 {
	w, h := img.SubresourceSize(mip)
	return uint64(w) * uint64(h) * img.desc.Format.TexelSize() * uint64(img.desc.Samples)
}

// ByteSize returns the tightly packed size of every subresource.
func (img *Image) ByteSize() uint64 {
	var total uint64
	for m := uint32(0); m < img.desc.MipLevels; m++ {
		total += img.subresourceBytes(m)
	}
	return total * uint64(img.desc.Layers)
}

func (img *Image) transition(prev, next rhi.Usage, r rhi.ImageRange) (rhi.ImageRange, []string, error) {
	if !prev.ValidForImage() || !next.ValidForImage() {
		return r, nil, fmt.Errorf("%w: %s -> %s is not an image transition", rhi.ErrInvalidDescriptor, prev, next)
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	r, err := img.track.resolve(r)
	if err != nil {
		return r, nil, err
	}
	return r, img.track.transition(r, prev, next), nil
}

// expect reports subresources of r not in usage u.
func (img *Image) expect(r rhi.ImageRange, u rhi.Usage) []string {
	img.mu.Lock()
	defer img.mu.Unlock()
	r, err := img.track.resolve(r)
	if err != nil {
		return []string{err.Error()}
	}
	return img.track.expect(r, u)
}

func (img *Image) initialized(r rhi.ImageRange) bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	r, err := img.track.resolve(r)
	return err == nil && img.track.initialized(r)
}

func (img *Image) markWritten(r rhi.ImageRange) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if r, err := img.track.resolve(r); err == nil {
		img.track.markWritten(r)
	}
}

func (img *Image) resetTracking() {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.track.reset()
}

// Destroy releases the views and, unless the image is borrowed from a
// swapchain, the texture.
func (img *Image) Destroy() {
	if !img.release() {
		return
	}
	d := img.dev
	if img.targetView != img.view {
		d.hal.DestroyTextureView(img.targetView)
	}
	d.hal.DestroyTextureView(img.view)
	if !img.borrowed {
		d.hal.DestroyTexture(img.native)
	}
}
