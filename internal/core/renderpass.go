package core

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// RenderPass implements rhi.RenderPass. hal has no render pass objects,
// so a pass is a validated plan: per subpass, which attachments are used
// and with which load and store actions.
type RenderPass struct {
	resource
	subpasses []rhi.Subpass
	samples   uint32

	mu     sync.Mutex
	colors []rhi.Attachment
	depth  *rhi.DepthAttachment
	width  uint32
	height uint32
}

var _ rhi.RenderPass = (*RenderPass)(nil)

// CreateRenderPass validates desc. An empty subpass list means one subpass
// using every attachment.
func (d *Device) CreateRenderPass(desc rhi.RenderPassDesc) (rhi.RenderPass, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	p := &RenderPass{
		colors: append([]rhi.Attachment(nil), desc.Attachments...),
		width:  desc.Width,
		height: desc.Height,
	}
	if desc.Depth != nil {
		dep := *desc.Depth
		p.depth = &dep
	}
	p.setup(d, desc.Name)
	if err := p.validate(desc.Subpasses); err != nil {
		return nil, fmt.Errorf("create render pass %q: %w", desc.Name, err)
	}
	return p, nil
}

func (p *RenderPass) validate(subpasses []rhi.Subpass) error {
	d := p.dev
	if len(p.colors) == 0 && p.depth == nil {
		return fmt.Errorf("%w: no attachments", rhi.ErrInvalidDescriptor)
	}
	if maxColor := d.limits.MaxColorAttachments; maxColor > 0 && uint32(len(p.colors)) > maxColor {
		return fmt.Errorf("%w: %d color attachments exceed max %d", rhi.ErrUnsupported, len(p.colors), maxColor)
	}
	for i := range p.colors {
		if err := p.checkColor(i, p.colors[i].Image); err != nil {
			return err
		}
		if r := p.colors[i].Resolve; r != nil {
			if err := p.checkResolve(i, r.Image); err != nil {
				return err
			}
		}
	}
	if p.depth != nil {
		img, err := adopt[*Image](d, p.depth.Image, "depth attachment")
		if err != nil {
			return err
		}
		if !img.desc.Format.IsDepth() || !img.desc.Usage.Has(rhi.ImageDepthAttachment) {
			return fmt.Errorf("%w: depth attachment %q needs a depth format and DepthAttachment usage",
				rhi.ErrInvalidDescriptor, img.name)
		}
		if err := p.checkSamples(img); err != nil {
			return err
		}
	}

	if len(subpasses) == 0 {
		all := make([]int, len(p.colors))
		for i := range all {
			all[i] = i
		}
		subpasses = []rhi.Subpass{{ColorAttachments: all, UseDepth: p.depth != nil}}
	}
	for si, sp := range subpasses {
		seen := make(map[int]bool, len(sp.ColorAttachments))
		for _, ai := range sp.ColorAttachments {
			if ai < 0 || ai >= len(p.colors) {
				return fmt.Errorf("%w: subpass %d references attachment %d of %d", rhi.ErrInvalidDescriptor, si, ai, len(p.colors))
			}
			if seen[ai] {
				return fmt.Errorf("%w: subpass %d references attachment %d twice", rhi.ErrInvalidDescriptor, si, ai)
			}
			seen[ai] = true
		}
		if sp.UseDepth && p.depth == nil {
			return fmt.Errorf("%w: subpass %d uses depth but the pass has none", rhi.ErrInvalidDescriptor, si)
		}
		if len(sp.ColorAttachments) == 0 && !sp.UseDepth {
			return fmt.Errorf("%w: subpass %d uses no attachments", rhi.ErrInvalidDescriptor, si)
		}
		p.subpasses = append(p.subpasses, rhi.Subpass{
			ColorAttachments: append([]int(nil), sp.ColorAttachments...),
			UseDepth:         sp.UseDepth,
		})
	}

	if p.width == 0 || p.height == 0 {
		w, h := p.firstExtent()
		p.width, p.height = w, h
	}
	return p.checkExtent()
}

func (p *RenderPass) checkColor(i int, image rhi.Image) error {
	img, err := adopt[*Image](p.dev, image, fmt.Sprintf("color attachment %d", i))
	if err != nil {
		return err
	}
	if img.desc.Format.IsDepth() || !img.desc.Usage.Has(rhi.ImageColorAttachment) {
		return fmt.Errorf("%w: color attachment %d %q needs a color format and ColorAttachment usage",
			rhi.ErrInvalidDescriptor, i, img.name)
	}
	return p.checkSamples(img)
}

func (p *RenderPass) checkResolve(i int, image rhi.Image) error {
	src := p.colors[i].Image.(*Image)
	img, err := adopt[*Image](p.dev, image, fmt.Sprintf("resolve target %d", i))
	if err != nil {
		return err
	}
	switch {
	case src.desc.Samples == 1:
		return fmt.Errorf("%w: attachment %d resolves but is single-sampled", rhi.ErrInvalidDescriptor, i)
	case img.desc.Samples != 1:
		return fmt.Errorf("%w: resolve target %q is multisampled", rhi.ErrInvalidDescriptor, img.name)
	case img.desc.Format != src.desc.Format:
		return fmt.Errorf("%w: resolve target %q format %s differs from %s",
			rhi.ErrInvalidDescriptor, img.name, img.desc.Format, src.desc.Format)
	case img.desc.Width != src.desc.Width || img.desc.Height != src.desc.Height:
		return fmt.Errorf("%w: resolve target %q is %dx%d, attachment is %dx%d", rhi.ErrInvalidDescriptor,
			img.name, img.desc.Width, img.desc.Height, src.desc.Width, src.desc.Height)
	case !img.desc.Usage.Has(rhi.ImageColorAttachment):
		return fmt.Errorf("%w: resolve target %q needs ColorAttachment usage", rhi.ErrInvalidDescriptor, img.name)
	}
	return nil
}

// checkSamples requires every attachment to share one sample count.
func (p *RenderPass) checkSamples(img *Image) error {
	if p.samples == 0 {
		p.samples = img.desc.Samples
		return nil
	}
	if img.desc.Samples != p.samples {
		return fmt.Errorf("%w: attachment %q has %d samples, pass has %d",
			rhi.ErrInvalidDescriptor, img.name, img.desc.Samples, p.samples)
	}
	return nil
}

func (p *RenderPass) firstExtent() (uint32, uint32) {
	if len(p.colors) > 0 {
		img := p.colors[0].Image
		return img.Width(), img.Height()
	}
	return p.depth.Image.Width(), p.depth.Image.Height()
}

// checkExtent requires every attachment to cover the render area.
func (p *RenderPass) checkExtent() error {
	check := func(img rhi.Image) error {
		if img.Width() < p.width || img.Height() < p.height {
			return fmt.Errorf("%w: attachment %q is %dx%d, render area is %dx%d", rhi.ErrInvalidDescriptor,
				img.Name(), img.Width(), img.Height(), p.width, p.height)
		}
		return nil
	}
	for _, a := range p.colors {
		if err := check(a.Image); err != nil {
			return err
		}
	}
	if p.depth != nil {
		return check(p.depth.Image)
	}
	return nil
}

// Subpasses returns the subpass count.
func (p *RenderPass) Subpasses() int { return len(p.subpasses) }

// Samples returns the shared sample count of the attachments.
func (p *RenderPass) Samples() uint32 { return p.samples }

// Size returns the render area.
func (p *RenderPass) Size() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Resize changes the render area. Attachments are checked against it when
// the pass next begins, so callers may Resize before Rebind.
func (p *RenderPass) Resize(width, height uint32) error {
	if p.destroyed() {
		return fmt.Errorf("%w: render pass %q", rhi.ErrDestroyed, p.name)
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: render area %dx%d", rhi.ErrInvalidDescriptor, width, height)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	return nil
}

// Rebind replaces the image of color attachment i. The new image must
// match the old one in format, samples and usage.
func (p *RenderPass) Rebind(i int, image rhi.Image) error {
	if p.destroyed() {
		return fmt.Errorf("%w: render pass %q", rhi.ErrDestroyed, p.name)
	}
	if i < 0 || i >= len(p.colors) {
		return fmt.Errorf("%w: attachment %d of %d", rhi.ErrIndexOutOfBounds, i, len(p.colors))
	}
	img, err := adopt[*Image](p.dev, image, "attachment")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.colors[i].Image
	if img.desc.Format != old.Format() || img.desc.Samples != old.Samples() || !img.desc.Usage.Has(rhi.ImageColorAttachment) {
		return fmt.Errorf("%w: %q (%s, %d samples) cannot replace %q (%s, %d samples)", rhi.ErrInvalidDescriptor,
			img.name, img.desc.Format, img.desc.Samples, old.Name(), old.Format(), old.Samples())
	}
	p.colors[i].Image = img
	return nil
}

// passTarget is one attachment image together with the usage it must be
// in while the pass runs.
type passTarget struct {
	img   *Image
	usage rhi.Usage
	// written is false when the attachment's store action discards it.
	written bool
}

// passPlan is a snapshot of a render pass taken at BeginRenderPass, so a
// later Rebind or Resize does not affect the recording in progress.
type passPlan struct {
	pass   *RenderPass
	colors []rhi.Attachment
	depth  *rhi.DepthAttachment
	width  uint32
	height uint32
}

func (p *RenderPass) snapshot() (*passPlan, error) {
	if p.destroyed() {
		return nil, fmt.Errorf("%w: render pass %q", rhi.ErrDestroyed, p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkExtent(); err != nil {
		return nil, err
	}
	plan := &passPlan{
		pass:   p,
		colors: append([]rhi.Attachment(nil), p.colors...),
		depth:  p.depth,
		width:  p.width,
		height: p.height,
	}
	for _, t := range plan.targets() {
		if t.img.destroyed() {
			return nil, fmt.Errorf("%w: attachment %q of %q", rhi.ErrDestroyed, t.img.name, p.name)
		}
	}
	return plan, nil
}

// targets lists every image the pass touches.
func (pl *passPlan) targets() []passTarget {
	var out []passTarget
	for _, a := range pl.colors {
		out = append(out, passTarget{img: a.Image.(*Image), usage: rhi.UsageColorAttachment, written: a.Store == rhi.StoreStore})
		if a.Resolve != nil {
			out = append(out, passTarget{img: a.Resolve.Image.(*Image), usage: rhi.UsageColorAttachment, written: a.Resolve.Store == rhi.StoreStore})
		}
	}
	if pl.depth != nil {
		out = append(out, passTarget{img: pl.depth.Image.(*Image), usage: rhi.UsageDepthAttachment,
			written: pl.depth.Store == rhi.StoreStore && !pl.depth.ReadOnly})
	}
	return out
}

// useRange returns the first and last subpass using color attachment ai,
// or the depth attachment when ai is -1.
func (p *RenderPass) useRange(ai int) (first, last int) {
	first, last = -1, -1
	for si, sp := range p.subpasses {
		used := sp.UseDepth
		if ai >= 0 {
			used = false
			for _, c := range sp.ColorAttachments {
				used = used || c == ai
			}
		}
		if used {
			if first < 0 {
				first = si
			}
			last = si
		}
	}
	return first, last
}

func loadOp(l rhi.LoadOp) gputypes.LoadOp {
	if l == rhi.LoadLoad {
		return gputypes.LoadOpLoad
	}
	// hal has no don't-care load action; clearing is the cheapest defined one.
	return gputypes.LoadOpClear
}

func storeOp(s rhi.StoreOp) gputypes.StoreOp {
	if s == rhi.StoreDiscard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

// colorStore returns the final store action of a color attachment and
// whether its resolve runs. With a resolve target the multisampled samples
// are never kept: the resolve target's store op alone decides between
// resolving and discarding.
func colorStore(a rhi.Attachment) (gputypes.StoreOp, bool) {
	if a.Resolve == nil {
		return storeOp(a.Store), false
	}
	return gputypes.StoreOpDiscard, a.Resolve.Store == rhi.StoreStore
}

// subpassDesc builds the native pass for subpass si. The attachment's load
// action applies only at its first use and its store action only at its
// last; uses in between load and store.
func (pl *passPlan) subpassDesc(si int) *hal.RenderPassDescriptor {
	p := pl.pass
	sp := p.subpasses[si]
	desc := &hal.RenderPassDescriptor{Label: fmt.Sprintf("%s/%d", p.name, si)}
	for _, ai := range sp.ColorAttachments {
		a := pl.colors[ai]
		first, last := p.useRange(ai)
		ca := hal.RenderPassColorAttachment{
			View:    a.Image.(*Image).view2D(),
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: a.Clear.Color[0], G: a.Clear.Color[1], B: a.Clear.Color[2], A: a.Clear.Color[3],
			},
		}
		if si == first {
			ca.LoadOp = loadOp(a.Load)
		}
		if si == last {
			var resolve bool
			ca.StoreOp, resolve = colorStore(a)
			if resolve {
				ca.ResolveTarget = a.Resolve.Image.(*Image).view2D()
			}
		}
		desc.ColorAttachments = append(desc.ColorAttachments, ca)
	}
	if sp.UseDepth {
		dep := pl.depth
		first, last := p.useRange(-1)
		da := &hal.RenderPassDepthStencilAttachment{
			View:              dep.Image.(*Image).view2D(),
			DepthLoadOp:       gputypes.LoadOpLoad,
			DepthStoreOp:      gputypes.StoreOpStore,
			DepthClearValue:   dep.Clear.Depth,
			DepthReadOnly:     dep.ReadOnly,
			StencilLoadOp:     gputypes.LoadOpLoad,
			StencilStoreOp:    gputypes.StoreOpStore,
			StencilClearValue: dep.Clear.Stencil,
			StencilReadOnly:   dep.ReadOnly,
		}
		if si == first {
			da.DepthLoadOp = loadOp(dep.Load)
			da.StencilLoadOp = da.DepthLoadOp
		}
		if si == last {
			da.DepthStoreOp = storeOp(dep.Store)
			da.StencilStoreOp = da.DepthStoreOp
		}
		desc.DepthStencilAttachment = da
	}
	return desc
}

// subpassTextures returns the native textures written by subpass si, used
// for the dependency barrier between subpasses.
func (pl *passPlan) subpassTextures(si int) []*Image {
	sp := pl.pass.subpasses[si]
	var out []*Image
	for _, ai := range sp.ColorAttachments {
		out = append(out, pl.colors[ai].Image.(*Image))
	}
	if sp.UseDepth {
		out = append(out, pl.depth.Image.(*Image))
	}
	return out
}

// Destroy releases the pass. Attachment images are not destroyed.
func (p *RenderPass) Destroy() { p.release() }
