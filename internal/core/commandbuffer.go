package core

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// debugAnnotator is implemented by native encoders that can label regions
// of a command stream for GPU debuggers.
type debugAnnotator interface {
	PushDebugGroup(label string, color [4]float32)
	PopDebugGroup()
	InsertDebugMarker(label string, color [4]float32)
}

// CommandBuffer implements rhi.CommandBuffer over one hal command encoder.
//
// Reusable profiles keep the encoder and reset it on every Begin. Others
// destroy the encoder and create a new one. In both cases Begin requires
// the previous submission to have completed.
type CommandBuffer struct {
	resource

	mu         sync.Mutex
	state      rhi.CommandBufferState
	encoder    hal.CommandEncoder
	native     hal.CommandBuffer
	submission uint64
	pending    []deferred
	encoders   int

	table       *ResourceTable
	tableNative *tableNative
	vertex      *Buffer
	vertexOff   uint64
	index       *Buffer
	indexOff    uint64
	indexFormat gputypes.IndexFormat

	plan     *passPlan
	subpass  int
	rpe      hal.RenderPassEncoder
	graphics *GraphicsPipeline
	cpe      hal.ComputePassEncoder
	compute  *ComputePipeline
	gen      uint64

	regions []string
}

var _ rhi.CommandBuffer = (*CommandBuffer)(nil)

// CreateCommandBuffer creates a command buffer in the Initial state.
func (d *Device) CreateCommandBuffer(desc rhi.CommandBufferDesc) (rhi.CommandBuffer, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	return d.newCommandBuffer(desc.Name), nil
}

func (d *Device) newCommandBuffer(name string) *CommandBuffer {
	cb := &CommandBuffer{}
	cb.setup(d, name)
	return cb
}

// expect fails with ErrInvalidState unless cb is in one of allowed.
// c.mu must be held.
func (c *CommandBuffer) expect(op string, allowed ...rhi.CommandBufferState) error {
	if c.destroyed() {
		return fmt.Errorf("%w: command buffer %q", rhi.ErrDestroyed, c.name)
	}
	if slices.Contains(allowed, c.state) {
		return nil
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = s.String()
	}
	return fmt.Errorf("%w: %s on %q in state %s, requires %s",
		rhi.ErrInvalidState, op, c.name, c.state, strings.Join(names, " or "))
}

// refresh moves a submitted command buffer to Completed once the device
// reports its submission done. c.mu must be held.
func (c *CommandBuffer) refresh() {
	if c.state == rhi.StateSubmitted && c.dev.completedIndex() >= c.submission {
		c.state = rhi.StateCompleted
	}
}

// State returns the current recording state.
func (c *CommandBuffer) State() rhi.CommandBufferState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	return c.state
}

// Submission returns the queue submission index of the last Submit, 0 if
// the command buffer was never submitted.
func (c *CommandBuffer) Submission() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submission
}

// Encoders returns how many native encoders have been allocated.
func (c *CommandBuffer) Encoders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoders
}

// Begin starts recording. A submitted command buffer must have completed.
func (c *CommandBuffer) Begin() error {
	// Poll runs after c.mu is released: deferred entries may destroy other
	// command buffers.
	defer c.dev.Poll()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	if err := c.expect("Begin", rhi.StateInitial, rhi.StateEnded, rhi.StateCompleted); err != nil {
		return err
	}
	c.releasePending()

	if err := c.prepareEncoder(); err != nil {
		return err
	}
	if err := c.encoder.BeginEncoding(c.name); err != nil {
		return rhi.NewDeviceError("begin command buffer", err)
	}
	c.resetBindings()
	c.regions = c.regions[:0]
	c.state = rhi.StateRecording
	return nil
}

// prepareEncoder readies a native encoder for a new recording.
func (c *CommandBuffer) prepareEncoder() error {
	d := c.dev
	if c.encoder != nil && d.profile.ReusableCommandBuffers {
		if c.native != nil {
			c.encoder.ResetAll([]hal.CommandBuffer{c.native})
			c.native = nil
		}
		return nil
	}
	if c.encoder != nil {
		if c.native != nil {
			d.hal.FreeCommandBuffer(c.native)
			c.native = nil
		}
		c.encoder.Destroy()
		c.encoder = nil
	}
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: c.name})
	if err != nil {
		return rhi.NewDeviceError("create command encoder", err)
	}
	c.encoder = enc
	c.encoders++
	return nil
}

// releasePending moves the queued entries, and extra, to the device arena.
// A submitted command buffer's entries wait for its submission. Entries of a
// recording that never reached the queue wait for every submission made so
// far, because other command buffers may still use the resources.
// c.mu must be held.
func (c *CommandBuffer) releasePending(extra ...deferred) {
	pending := append(c.pending, extra...)
	c.pending = nil
	if len(pending) == 0 {
		return
	}
	idx := c.dev.lastSubmission()
	if c.state == rhi.StateSubmitted {
		idx = c.submission
	}
	c.dev.arena.Defer(idx, pending)
}

func (c *CommandBuffer) resetBindings() {
	c.table, c.tableNative = nil, nil
	c.vertex, c.index = nil, nil
	c.plan, c.rpe, c.graphics = nil, nil, nil
	c.cpe, c.compute = nil, nil
	c.gen = 0
}

// End finishes recording. Render passes, compute passes and debug regions
// must be closed.
func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("End", rhi.StateRecording); err != nil {
		return err
	}
	if len(c.regions) > 0 {
		return fmt.Errorf("%w: End on %q with %d open debug regions (innermost %q)",
			rhi.ErrInvalidState, c.name, len(c.regions), c.regions[len(c.regions)-1])
	}
	native, err := c.encoder.EndEncoding()
	if err != nil {
		return rhi.NewDeviceError("end command buffer", err)
	}
	c.native = native
	c.resetBindings()
	c.state = rhi.StateEnded
	return nil
}

// readyForSubmit returns the native command buffer of an ended recording.
func (c *CommandBuffer) readyForSubmit() (hal.CommandBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("Submit", rhi.StateEnded); err != nil {
		return nil, err
	}
	return c.native, nil
}

// markSubmitted records the submission index and hands over the queued
// destruction entries, which now wait for that submission.
func (c *CommandBuffer) markSubmitted(idx uint64) []deferred {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = rhi.StateSubmitted
	c.submission = idx
	pending := c.pending
	c.pending = nil
	return pending
}

// wait blocks until the last submission completes and drains the deferred
// destruction waiting on it.
func (c *CommandBuffer) wait() error {
	c.mu.Lock()
	idx := c.submission
	submitted := c.state == rhi.StateSubmitted
	c.mu.Unlock()
	if !submitted {
		return nil
	}
	if err := c.dev.waitFor(idx); err != nil {
		return err
	}
	c.dev.Poll()
	c.mu.Lock()
	c.refresh()
	c.mu.Unlock()
	return nil
}

// retire queues fn to run once this command buffer's next submission has
// completed. c.mu must be held.
func (c *CommandBuffer) retire(label string, fn func()) {
	c.pending = append(c.pending, deferred{label: label, fn: fn})
}

func (c *CommandBuffer) queue(r rhi.Resource, what string) error {
	o, err := adopt[owned](c.dev, r, what)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed() {
		return fmt.Errorf("%w: command buffer %q", rhi.ErrDestroyed, c.name)
	}
	c.refresh()
	if c.state == rhi.StateSubmitted {
		// The submission may already reference o.
		c.dev.arena.Defer(c.submission, []deferred{{label: o.Name(), fn: o.Destroy}})
		return nil
	}
	c.retire(o.Name(), o.Destroy)
	return nil
}

// QueueBufferForDestruction destroys buf once this command buffer's
// in-flight submission, or else its next one, has completed.
func (c *CommandBuffer) QueueBufferForDestruction(buf rhi.Buffer) error {
	if _, err := adopt[*Buffer](c.dev, buf, "buffer"); err != nil {
		return err
	}
	return c.queue(buf, "buffer")
}

// QueueImageForDestruction destroys img once this command buffer's
// in-flight submission, or else its next one, has completed.
func (c *CommandBuffer) QueueImageForDestruction(img rhi.Image) error {
	if _, err := adopt[*Image](c.dev, img, "image"); err != nil {
		return err
	}
	return c.queue(img, "image")
}

// QueueForDestruction destroys any device resource once this command
// buffer's in-flight submission, or else its next one, has completed.
func (c *CommandBuffer) QueueForDestruction(r rhi.Resource) error {
	if r == rhi.Resource(c) {
		return fmt.Errorf("%w: command buffer %q cannot queue itself", rhi.ErrInvalidDescriptor, c.name)
	}
	return c.queue(r, "resource")
}

// BindResourceTable selects the table used by pipelines begun afterwards.
// A recording uses at most one table.
func (c *CommandBuffer) BindResourceTable(t rhi.ResourceTable) error {
	table, err := adopt[*ResourceTable](c.dev, t, "resource table")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("BindResourceTable", rhi.StateRecording, rhi.StateRenderPass); err != nil {
		return err
	}
	if c.table != nil && c.table != table {
		return fmt.Errorf("%w: %q already has table %q bound", rhi.ErrInvalidState, c.name, c.table.name)
	}
	c.table = table
	return nil
}

// BindVertexBuffer binds the vertex buffer used by subsequent draws.
func (c *CommandBuffer) BindVertexBuffer(b rhi.Buffer, offset uint64) error {
	buf, err := adopt[*Buffer](c.dev, b, "vertex buffer")
	if err != nil {
		return err
	}
	if !buf.usage.Has(rhi.BufferVertex) {
		return fmt.Errorf("%w: buffer %q lacks Vertex usage", rhi.ErrInvalidDescriptor, buf.name)
	}
	if offset >= buf.size {
		return fmt.Errorf("%w: vertex offset %d past size %d of %q", rhi.ErrBufferOverflow, offset, buf.size, buf.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("BindVertexBuffer", rhi.StateRecording, rhi.StateRenderPass, rhi.StateGraphicsPipeline); err != nil {
		return err
	}
	c.vertex, c.vertexOff = buf, offset
	if c.graphics != nil {
		c.rpe.SetVertexBuffer(0, buf.native, offset)
	}
	return nil
}

// BindIndexBuffer binds the index buffer used by DrawIndexed.
func (c *CommandBuffer) BindIndexBuffer(b rhi.Buffer, offset uint64, format rhi.IndexFormat) error {
	buf, err := adopt[*Buffer](c.dev, b, "index buffer")
	if err != nil {
		return err
	}
	if !buf.usage.Has(rhi.BufferIndex) {
		return fmt.Errorf("%w: buffer %q lacks Index usage", rhi.ErrInvalidDescriptor, buf.name)
	}
	if offset >= buf.size {
		return fmt.Errorf("%w: index offset %d past size %d of %q", rhi.ErrBufferOverflow, offset, buf.size, buf.name)
	}
	f := gputypes.IndexFormatUint16
	if format == rhi.IndexUint32 {
		f = gputypes.IndexFormatUint32
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("BindIndexBuffer", rhi.StateRecording, rhi.StateRenderPass, rhi.StateGraphicsPipeline); err != nil {
		return err
	}
	c.index, c.indexOff, c.indexFormat = buf, offset, f
	if c.graphics != nil {
		c.rpe.SetIndexBuffer(buf.native, f, offset)
	}
	return nil
}

// BeginRenderPass begins the first subpass of pass. Every attachment must
// be in its attachment usage.
func (c *CommandBuffer) BeginRenderPass(rp rhi.RenderPass) error {
	pass, err := adopt[*RenderPass](c.dev, rp, "render pass")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("BeginRenderPass", rhi.StateRecording); err != nil {
		return err
	}
	plan, err := pass.snapshot()
	if err != nil {
		return err
	}
	if err := c.checkAttachments(plan); err != nil {
		return err
	}
	c.plan, c.subpass = plan, 0
	c.openSubpass()
	c.state = rhi.StateRenderPass
	return nil
}

// checkAttachments validates the tracked usage of every attachment and
// that loaded attachments hold data.
func (c *CommandBuffer) checkAttachments(plan *passPlan) error {
	whole := rhi.ImageRange{MipCount: 1, LayerCount: 1}
	for _, t := range plan.targets() {
		problems := t.img.expect(whole, t.usage)
		if err := c.dev.hazard("BeginRenderPass", t.img.name, problems); err != nil {
			return err
		}
	}
	for _, a := range plan.colors {
		if img := a.Image.(*Image); a.Load == rhi.LoadLoad && !img.initialized(whole) {
			if err := c.dev.hazard("BeginRenderPass", img.name, []string{"load of uninitialized contents (use before write)"}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *CommandBuffer) openSubpass() {
	plan := c.plan
	c.rpe = c.encoder.BeginRenderPass(plan.subpassDesc(c.subpass))
	c.rpe.SetViewport(0, 0, float32(plan.width), float32(plan.height), 0, 1)
	c.rpe.SetScissorRect(0, 0, plan.width, plan.height)
}

// NextSubpass ends the current subpass and begins the next.
func (c *CommandBuffer) NextSubpass() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("NextSubpass", rhi.StateRenderPass); err != nil {
		return err
	}
	if c.subpass+1 >= len(c.plan.pass.subpasses) {
		return fmt.Errorf("%w: NextSubpass past last subpass %d of %q",
			rhi.ErrInvalidState, c.subpass, c.plan.pass.name)
	}
	c.rpe.End()
	d := c.dev
	if d.profile.NativeSubpasses && d.profile.ExplicitBarriers {
		var barriers []hal.TextureBarrier
		for _, img := range c.plan.subpassTextures(c.subpass) {
			barriers = append(barriers, hal.TextureBarrier{
				Texture: img.native,
				Range:   hal.TextureRange{Aspect: img.aspect(), MipLevelCount: 1, ArrayLayerCount: 1},
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageRenderAttachment,
					NewUsage: gputypes.TextureUsageRenderAttachment,
				},
			})
		}
		c.encoder.TransitionTextures(barriers)
		slogger().Debug("rhi: subpass dependency", "pass", c.plan.pass.name, "from", c.subpass, "images", len(barriers))
	}
	c.subpass++
	c.openSubpass()
	return nil
}

// EndRenderPass ends the last subpass.
func (c *CommandBuffer) EndRenderPass() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("EndRenderPass", rhi.StateRenderPass); err != nil {
		return err
	}
	if last := len(c.plan.pass.subpasses) - 1; c.subpass != last {
		return fmt.Errorf("%w: EndRenderPass in subpass %d of %q, last is %d",
			rhi.ErrInvalidState, c.subpass, c.plan.pass.name, last)
	}
	c.rpe.End()
	for _, t := range c.plan.targets() {
		if t.written {
			t.img.markWritten(rhi.ImageRange{MipCount: 1, LayerCount: 1})
		}
	}
	c.plan, c.rpe = nil, nil
	c.state = rhi.StateRecording
	return nil
}

// SetViewport sets the viewport of the current subpass.
func (c *CommandBuffer) SetViewport(x, y, width, height float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("SetViewport", rhi.StateRenderPass, rhi.StateGraphicsPipeline); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: viewport %gx%g", rhi.ErrInvalidDescriptor, width, height)
	}
	c.rpe.SetViewport(x, y, width, height, 0, 1)
	return nil
}

// SetScissor sets the scissor rectangle of the current subpass.
func (c *CommandBuffer) SetScissor(x, y, width, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("SetScissor", rhi.StateRenderPass, rhi.StateGraphicsPipeline); err != nil {
		return err
	}
	if x+width > c.plan.width || y+height > c.plan.height {
		return fmt.Errorf("%w: scissor %d,%d %dx%d outside render area %dx%d",
			rhi.ErrInvalidDescriptor, x, y, width, height, c.plan.width, c.plan.height)
	}
	c.rpe.SetScissorRect(x, y, width, height)
	return nil
}

// bindings returns the native layout and group for the bound table, or
// the empty layout when no table is bound. c.mu must be held.
func (c *CommandBuffer) bindings() (uint64, hal.PipelineLayout, hal.BindGroup, error) {
	if c.table == nil {
		pl, err := c.dev.emptyPipelineLayout()
		return 0, pl, nil, err
	}
	n, err := c.table.prepare(c)
	if err != nil {
		return 0, nil, nil, err
	}
	c.tableNative = n
	return n.gen, n.pl, n.group, nil
}

func (c *CommandBuffer) beginGraphics(p *GraphicsPipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("GraphicsPipeline.Begin", rhi.StateRenderPass); err != nil {
		return err
	}
	if p.pass != c.plan.pass || p.subpass != c.subpass {
		return fmt.Errorf("%w: pipeline %q targets subpass %d of %q, recording subpass %d of %q",
			rhi.ErrInvalidState, p.name, p.subpass, p.pass.name, c.subpass, c.plan.pass.name)
	}
	gen, pl, group, err := c.bindings()
	if err != nil {
		return err
	}
	native, err := p.native(gen, pl)
	if err != nil {
		return err
	}
	c.rpe.SetPipeline(native)
	if group != nil {
		c.rpe.SetBindGroup(0, group, nil)
	}
	if c.vertex != nil {
		c.rpe.SetVertexBuffer(0, c.vertex.native, c.vertexOff)
	}
	if c.index != nil {
		c.rpe.SetIndexBuffer(c.index.native, c.indexFormat, c.indexOff)
	}
	c.graphics, c.gen = p, gen
	c.state = rhi.StateGraphicsPipeline
	return nil
}

// refreshGraphics rebinds the table group, and the pipeline variant when
// the table layout changed, after table writes during the pipeline.
func (c *CommandBuffer) refreshGraphics() error {
	if c.table == nil || c.tableNative == nil || c.tableNative == c.table.current() {
		return nil
	}
	gen, pl, group, err := c.bindings()
	if err != nil {
		return err
	}
	if gen != c.gen {
		native, err := c.graphics.native(gen, pl)
		if err != nil {
			return err
		}
		c.rpe.SetPipeline(native)
		c.gen = gen
	}
	c.rpe.SetBindGroup(0, group, nil)
	return nil
}

func (c *CommandBuffer) checkGraphics(op string, p *GraphicsPipeline) error {
	if err := c.expect(op, rhi.StateGraphicsPipeline); err != nil {
		return err
	}
	if c.graphics != p {
		return fmt.Errorf("%w: %s with %q while %q is begun", rhi.ErrInvalidState, op, p.name, c.graphics.name)
	}
	return nil
}

func (c *CommandBuffer) draw(p *GraphicsPipeline, vertexCount, firstVertex uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkGraphics("Draw", p); err != nil {
		return err
	}
	if !p.layout.Empty() && c.vertex == nil {
		return fmt.Errorf("%w: Draw with %q needs a vertex buffer", rhi.ErrInvalidState, p.name)
	}
	if err := c.refreshGraphics(); err != nil {
		return err
	}
	c.rpe.Draw(vertexCount, 1, firstVertex, 0)
	return nil
}

func (c *CommandBuffer) drawIndexed(p *GraphicsPipeline, indexCount, firstIndex uint32, vertexOffset int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkGraphics("DrawIndexed", p); err != nil {
		return err
	}
	if c.index == nil {
		return fmt.Errorf("%w: DrawIndexed with %q needs an index buffer", rhi.ErrInvalidState, p.name)
	}
	if !p.layout.Empty() && c.vertex == nil {
		return fmt.Errorf("%w: DrawIndexed with %q needs a vertex buffer", rhi.ErrInvalidState, p.name)
	}
	if err := c.refreshGraphics(); err != nil {
		return err
	}
	c.rpe.DrawIndexed(indexCount, 1, firstIndex, vertexOffset, 0)
	return nil
}

func (c *CommandBuffer) endGraphics(p *GraphicsPipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkGraphics("GraphicsPipeline.End", p); err != nil {
		return err
	}
	c.graphics = nil
	c.state = rhi.StateRenderPass
	return nil
}

func (c *CommandBuffer) beginCompute(p *ComputePipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("ComputePipeline.Begin", rhi.StateRecording); err != nil {
		return err
	}
	gen, pl, group, err := c.bindings()
	if err != nil {
		return err
	}
	native, err := p.native(gen, pl)
	if err != nil {
		return err
	}
	c.cpe = c.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.name})
	c.cpe.SetPipeline(native)
	if group != nil {
		c.cpe.SetBindGroup(0, group, nil)
	}
	c.compute, c.gen = p, gen
	c.state = rhi.StateComputePipeline
	return nil
}

func (c *CommandBuffer) checkCompute(op string, p *ComputePipeline) error {
	if err := c.expect(op, rhi.StateComputePipeline); err != nil {
		return err
	}
	if c.compute != p {
		return fmt.Errorf("%w: %s with %q while %q is begun", rhi.ErrInvalidState, op, p.name, c.compute.name)
	}
	return nil
}

func (c *CommandBuffer) dispatch(p *ComputePipeline, x, y, z uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCompute("Dispatch", p); err != nil {
		return err
	}
	if maxGroups := c.dev.limits.MaxComputeWorkgroupsPerDimension; maxGroups > 0 && max(x, y, z) > maxGroups {
		return fmt.Errorf("%w: dispatch %dx%dx%d exceeds %d workgroups per dimension", rhi.ErrUnsupported, x, y, z, maxGroups)
	}
	if c.table != nil && c.tableNative != c.table.current() {
		gen, pl, group, err := c.bindings()
		if err != nil {
			return err
		}
		if gen != c.gen {
			native, err := p.native(gen, pl)
			if err != nil {
				return err
			}
			c.cpe.SetPipeline(native)
			c.gen = gen
		}
		c.cpe.SetBindGroup(0, group, nil)
	}
	c.cpe.Dispatch(x, y, z)
	return nil
}

func (c *CommandBuffer) endCompute(p *ComputePipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCompute("ComputePipeline.End", p); err != nil {
		return err
	}
	c.cpe.End()
	c.cpe, c.compute = nil, nil
	c.state = rhi.StateRecording
	return nil
}

// SynchronizeBufferUsage declares that [offset, offset+size) moves from
// prev to next. Explicit-barrier profiles record a native barrier.
func (c *CommandBuffer) SynchronizeBufferUsage(b rhi.Buffer, prev, next rhi.Usage, size, offset uint64) error {
	buf, err := adopt[*Buffer](c.dev, b, "buffer")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("SynchronizeBufferUsage", rhi.StateRecording); err != nil {
		return err
	}
	size, problems, err := buf.transition(prev, next, size, offset)
	if err != nil {
		return err
	}
	if err := c.dev.hazard("SynchronizeBufferUsage", buf.name, problems); err != nil {
		return err
	}
	if c.dev.profile.ExplicitBarriers {
		c.encoder.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: buf.native,
			Usage:  hal.BufferUsageTransition{OldUsage: bufferUsageBits(prev), NewUsage: bufferUsageBits(next)},
		}})
		slogger().Debug("rhi: buffer barrier", "buffer", buf.name, "from", prev, "to", next, "offset", offset, "size", size)
	}
	return nil
}

// SynchronizeImageUsage declares that the subresources in r move from prev
// to next. Transitions to or from Present are validated only; presentation
// performs its own layout change.
func (c *CommandBuffer) SynchronizeImageUsage(i rhi.Image, prev, next rhi.Usage, r rhi.ImageRange) error {
	img, err := adopt[*Image](c.dev, i, "image")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("SynchronizeImageUsage", rhi.StateRecording); err != nil {
		return err
	}
	r, problems, err := img.transition(prev, next, r)
	if err != nil {
		return err
	}
	if err := c.dev.hazard("SynchronizeImageUsage", img.name, problems); err != nil {
		return err
	}
	if !c.dev.profile.ExplicitBarriers {
		return nil
	}
	from, okFrom := textureUsageBits(prev)
	to, okTo := textureUsageBits(next)
	if !okFrom || !okTo {
		return nil
	}
	c.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: img.native,
		Range: hal.TextureRange{
			Aspect:          img.aspect(),
			BaseMipLevel:    r.BaseMip,
			MipLevelCount:   r.MipCount,
			BaseArrayLayer:  r.BaseLayer,
			ArrayLayerCount: r.LayerCount,
		},
		Usage: hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
	}})
	slogger().Debug("rhi: image barrier", "image", img.name, "from", prev, "to", next,
		"mips", r.MipCount, "layers", r.LayerCount)
	return nil
}

// CopyBufferToBuffer copies size bytes. Size 0 copies the largest range
// both buffers hold from their offsets.
func (c *CommandBuffer) CopyBufferToBuffer(s, t rhi.Buffer, size, srcOffset, dstOffset uint64) error {
	src, err := adopt[*Buffer](c.dev, s, "source buffer")
	if err != nil {
		return err
	}
	dst, err := adopt[*Buffer](c.dev, t, "destination buffer")
	if err != nil {
		return err
	}
	if !src.usage.Has(rhi.BufferTransferSrc) || !dst.usage.Has(rhi.BufferTransferDst) {
		return fmt.Errorf("%w: copy %q -> %q needs TransferSrc and TransferDst usage", rhi.ErrInvalidDescriptor, src.name, dst.name)
	}
	if srcOffset > src.size || dstOffset > dst.size {
		return fmt.Errorf("%w: copy offsets %d, %d past sizes %d, %d", rhi.ErrBufferOverflow, srcOffset, dstOffset, src.size, dst.size)
	}
	if size == 0 {
		size = min(src.size-srcOffset, dst.size-dstOffset)
	}
	if size > src.size-srcOffset || size > dst.size-dstOffset {
		return fmt.Errorf("%w: copy of %d bytes from %q+%d to %q+%d", rhi.ErrBufferOverflow, size, src.name, srcOffset, dst.name, dstOffset)
	}
	if src == dst && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		return fmt.Errorf("%w: overlapping copy within %q", rhi.ErrInvalidDescriptor, src.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("CopyBufferToBuffer", rhi.StateRecording); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	c.encoder.CopyBufferToBuffer(src.native, dst.native, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	dst.mu.Lock()
	dst.track.markWritten(dstOffset, dstOffset+size)
	dst.mu.Unlock()
	return nil
}

// imageCopy validates a buffer<->image copy of one subresource and returns
// the native region.
func imageCopy(buf *Buffer, img *Image, offset uint64, mip, layer uint32) (hal.BufferTextureCopy, uint64, error) {
	var region hal.BufferTextureCopy
	if img.desc.Samples > 1 {
		return region, 0, fmt.Errorf("%w: copy of multisampled image %q", rhi.ErrInvalidDescriptor, img.name)
	}
	if mip >= img.desc.MipLevels || layer >= img.desc.Layers {
		return region, 0, fmt.Errorf("%w: mip %d layer %d of %q (%d mips, %d layers)",
			rhi.ErrInvalidDescriptor, mip, layer, img.name, img.desc.MipLevels, img.desc.Layers)
	}
	texel := img.desc.Format.TexelSize()
	if offset%texel != 0 {
		return region, 0, fmt.Errorf("%w: buffer offset %d not a multiple of texel size %d", rhi.ErrInvalidDescriptor, offset, texel)
	}
	n := img.subresourceBytes(mip)
	if offset > buf.size || n > buf.size-offset {
		return region, 0, fmt.Errorf("%w: %d bytes at %d exceed size %d of %q", rhi.ErrBufferOverflow, n, offset, buf.size, buf.name)
	}
	w, h := img.SubresourceSize(mip)
	aspect := gputypes.TextureAspectAll
	if img.desc.Format.IsDepth() {
		aspect = gputypes.TextureAspectDepthOnly
	}
	region = hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{Offset: offset, BytesPerRow: w * uint32(texel), RowsPerImage: h},
		TextureBase: hal.ImageCopyTexture{
			Texture:  img.native,
			MipLevel: mip,
			Origin:   hal.Origin3D{Z: layer},
			Aspect:   aspect,
		},
		Size: hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}
	return region, n, nil
}

// CopyBufferToImage fills one subresource from tightly packed texels at
// srcOffset. The image range must be in TransferDst usage.
func (c *CommandBuffer) CopyBufferToImage(s rhi.Buffer, t rhi.Image, srcOffset uint64, mip, layer uint32) error {
	src, err := adopt[*Buffer](c.dev, s, "source buffer")
	if err != nil {
		return err
	}
	dst, err := adopt[*Image](c.dev, t, "destination image")
	if err != nil {
		return err
	}
	if !src.usage.Has(rhi.BufferTransferSrc) || !dst.desc.Usage.Has(rhi.ImageTransferDst) {
		return fmt.Errorf("%w: copy %q -> %q needs TransferSrc and TransferDst usage", rhi.ErrInvalidDescriptor, src.name, dst.name)
	}
	region, _, err := imageCopy(src, dst, srcOffset, mip, layer)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("CopyBufferToImage", rhi.StateRecording); err != nil {
		return err
	}
	r := rhi.ImageRange{BaseMip: mip, MipCount: 1, BaseLayer: layer, LayerCount: 1}
	if err := c.dev.hazard("CopyBufferToImage", dst.name, dst.expect(r, rhi.UsageTransferDst)); err != nil {
		return err
	}
	c.encoder.CopyBufferToTexture(src.native, dst.native, []hal.BufferTextureCopy{region})
	dst.markWritten(r)
	return nil
}

// CopyImageToBuffer reads one subresource into tightly packed texels at
// dstOffset. The image range must be in TransferSrc usage.
func (c *CommandBuffer) CopyImageToBuffer(s rhi.Image, t rhi.Buffer, dstOffset uint64, mip, layer uint32) error {
	src, err := adopt[*Image](c.dev, s, "source image")
	if err != nil {
		return err
	}
	dst, err := adopt[*Buffer](c.dev, t, "destination buffer")
	if err != nil {
		return err
	}
	if !src.desc.Usage.Has(rhi.ImageTransferSrc) || !dst.usage.Has(rhi.BufferTransferDst) {
		return fmt.Errorf("%w: copy %q -> %q needs TransferSrc and TransferDst usage", rhi.ErrInvalidDescriptor, src.name, dst.name)
	}
	region, n, err := imageCopy(dst, src, dstOffset, mip, layer)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("CopyImageToBuffer", rhi.StateRecording); err != nil {
		return err
	}
	r := rhi.ImageRange{BaseMip: mip, MipCount: 1, BaseLayer: layer, LayerCount: 1}
	problems := src.expect(r, rhi.UsageTransferSrc)
	if !src.initialized(r) {
		problems = append(problems, "read of uninitialized contents (use before write)")
	}
	if err := c.dev.hazard("CopyImageToBuffer", src.name, problems); err != nil {
		return err
	}
	c.encoder.CopyTextureToBuffer(src.native, dst.native, []hal.BufferTextureCopy{region})
	dst.mu.Lock()
	dst.track.markWritten(dstOffset, dstOffset+n)
	dst.mu.Unlock()
	return nil
}

var recordingStates = []rhi.CommandBufferState{
	rhi.StateRecording, rhi.StateRenderPass, rhi.StateGraphicsPipeline, rhi.StateComputePipeline,
}

// BeginDebugRegion opens a named region. Regions nest and must be closed
// before End.
func (c *CommandBuffer) BeginDebugRegion(name string, color [4]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("BeginDebugRegion", recordingStates...); err != nil {
		return err
	}
	c.regions = append(c.regions, name)
	if a, ok := c.encoder.(debugAnnotator); ok {
		a.PushDebugGroup(name, color)
		return nil
	}
	slogger().Debug("rhi: debug region", "cb", c.name, "region", name, "depth", len(c.regions))
	return nil
}

// InsertDebugMarker labels a single point in the command stream.
func (c *CommandBuffer) InsertDebugMarker(name string, color [4]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("InsertDebugMarker", recordingStates...); err != nil {
		return err
	}
	if a, ok := c.encoder.(debugAnnotator); ok {
		a.InsertDebugMarker(name, color)
		return nil
	}
	slogger().Debug("rhi: debug marker", "cb", c.name, "marker", name)
	return nil
}

// EndDebugRegion closes the innermost region.
func (c *CommandBuffer) EndDebugRegion() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect("EndDebugRegion", recordingStates...); err != nil {
		return err
	}
	if len(c.regions) == 0 {
		return fmt.Errorf("%w: EndDebugRegion on %q without an open region", rhi.ErrInvalidState, c.name)
	}
	c.regions = c.regions[:len(c.regions)-1]
	if a, ok := c.encoder.(debugAnnotator); ok {
		a.PopDebugGroup()
	}
	return nil
}

// Destroy releases the encoder. Work still executing keeps the encoder and
// the queued resources alive until its submission completes.
func (c *CommandBuffer) Destroy() {
	if !c.release() {
		return
	}
	d := c.dev
	c.mu.Lock()
	c.refresh()
	enc, native := c.encoder, c.native
	c.encoder, c.native = nil, nil
	if enc == nil {
		c.releasePending()
		c.mu.Unlock()
		d.Poll()
		return
	}
	if slices.Contains(recordingStates, c.state) {
		enc.DiscardEncoding()
	}
	free := deferred{label: c.name, fn: func() {
		if native != nil {
			d.hal.FreeCommandBuffer(native)
		}
		enc.Destroy()
	}}
	if c.state == rhi.StateSubmitted {
		c.releasePending(free)
		c.mu.Unlock()
		d.Poll()
		return
	}
	c.releasePending()
	c.mu.Unlock()
	free.fn()
	d.Poll()
}
