package core

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// ResourceTable implements rhi.ResourceTable on a single hal bind group.
//
// hal has no descriptor arrays, so slot i of class c becomes binding
// c.BindingBase()+i of group 0 and the group only declares occupied slots.
// Filling a new slot changes the bind group layout; every layout gets a
// device-unique generation, and pipelines build one native variant per
// generation they are used with. Rebinding an occupied slot with a
// compatible resource only rebuilds the group.
type ResourceTable struct {
	resource
	capacity rhi.TableCapacity

	mu    sync.Mutex
	slots [len(rhi.ResourceClasses)]map[uint32]tableSlot
	dirty bool
	keys  []layoutKey
	gen   uint64
	cur   *tableNative
}

var _ rhi.ResourceTable = (*ResourceTable)(nil)

type tableSlot struct {
	res          rhi.Resource
	offset, size uint64
}

// layoutKey captures everything about a slot that affects the layout.
type layoutKey struct {
	binding uint32
	class   rhi.ResourceClass
	sample  gputypes.TextureSampleType
	dim     gputypes.TextureViewDimension
	format  gputypes.TextureFormat
	msaa    bool
}

// tableNative is one built generation of a table.
type tableNative struct {
	gen    uint64
	layout hal.BindGroupLayout
	pl     hal.PipelineLayout
	group  hal.BindGroup
}

// CreateResourceTable creates an empty table. Zero capacities select the
// backend maximum; larger requests fail with ErrUnsupported.
func (d *Device) CreateResourceTable(desc rhi.ResourceTableDesc) (rhi.ResourceTable, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	t := &ResourceTable{dirty: true}
	for _, c := range rhi.ResourceClasses {
		limit := d.tableCap[c]
		want := desc.Capacity[c]
		if want == 0 {
			want = limit
		}
		if want > limit {
			return nil, fmt.Errorf("%w: table %q %s capacity %d exceeds backend max %d",
				rhi.ErrUnsupported, desc.Name, c, want, limit)
		}
		t.capacity[c] = want
		t.slots[c] = make(map[uint32]tableSlot)
	}
	t.setup(d, desc.Name)
	return t, nil
}

// Capacity returns the slot count of a class.
func (t *ResourceTable) Capacity(c rhi.ResourceClass) uint32 {
	if int(c) >= len(t.capacity) {
		return 0
	}
	return t.capacity[c]
}

// BindingNumber returns the shader binding of slot index of class c.
func (t *ResourceTable) BindingNumber(c rhi.ResourceClass, index uint32) uint32 {
	return c.BindingBase() + index
}

func (t *ResourceTable) checkIndex(c rhi.ResourceClass, index uint32) error {
	if t.destroyed() {
		return fmt.Errorf("%w: table %q", rhi.ErrDestroyed, t.name)
	}
	if index >= t.Capacity(c) {
		return fmt.Errorf("%w: %s slot %d of %q (capacity %d)", rhi.ErrIndexOutOfBounds, c, index, t.name, t.Capacity(c))
	}
	return nil
}

func (t *ResourceTable) put(c rhi.ResourceClass, index uint32, s tableSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[c][index] = s
	t.dirty = true
}

func (t *ResourceTable) bindBuffer(c rhi.ResourceClass, need rhi.BufferUsage, index uint32, b rhi.Buffer, offset, size uint64) error {
	if err := t.checkIndex(c, index); err != nil {
		return err
	}
	buf, err := adopt[*Buffer](t.dev, b, "buffer")
	if err != nil {
		return err
	}
	if buf.usage&need == 0 {
		return fmt.Errorf("%w: buffer %q lacks usage for %s binding", rhi.ErrInvalidDescriptor, buf.name, c)
	}
	if offset >= buf.size {
		return fmt.Errorf("%w: binding offset %d past size %d of %q", rhi.ErrBufferOverflow, offset, buf.size, buf.name)
	}
	if size == 0 {
		size = buf.size - offset
	}
	if size > buf.size-offset {
		return fmt.Errorf("%w: binding of %d bytes at %d exceeds size %d of %q",
			rhi.ErrBufferOverflow, size, offset, buf.size, buf.name)
	}
	t.put(c, index, tableSlot{res: buf, offset: offset, size: size})
	return nil
}

// BindUniformBuffer binds a buffer range as a uniform buffer. Size 0
// binds the remainder of the buffer.
func (t *ResourceTable) BindUniformBuffer(index uint32, b rhi.Buffer, offset, size uint64) error {
	return t.bindBuffer(rhi.ClassUniformBuffer, rhi.BufferUniform, index, b, offset, size)
}

// BindStorageBuffer binds a buffer range as a storage buffer.
func (t *ResourceTable) BindStorageBuffer(index uint32, b rhi.Buffer, offset, size uint64) error {
	return t.bindBuffer(rhi.ClassStorageBuffer, rhi.BufferStorage, index, b, offset, size)
}

func (t *ResourceTable) bindImage(c rhi.ResourceClass, need rhi.ImageUsage, index uint32, i rhi.Image) error {
	if err := t.checkIndex(c, index); err != nil {
		return err
	}
	img, err := adopt[*Image](t.dev, i, "image")
	if err != nil {
		return err
	}
	if !img.desc.Usage.Has(need) {
		return fmt.Errorf("%w: image %q lacks %s usage", rhi.ErrInvalidDescriptor, img.name, need)
	}
	t.put(c, index, tableSlot{res: img})
	return nil
}

// BindSampledImage binds every mip and layer of an image for sampling.
func (t *ResourceTable) BindSampledImage(index uint32, img rhi.Image) error {
	return t.bindImage(rhi.ClassSampledImage, rhi.ImageSampled, index, img)
}

// BindStorageImage binds mip 0 of an image for shader writes.
func (t *ResourceTable) BindStorageImage(index uint32, img rhi.Image) error {
	return t.bindImage(rhi.ClassStorageImage, rhi.ImageStorage, index, img)
}

// BindSampler binds a sampler.
func (t *ResourceTable) BindSampler(index uint32, s rhi.Sampler) error {
	if err := t.checkIndex(rhi.ClassSampler, index); err != nil {
		return err
	}
	smp, err := adopt[*Sampler](t.dev, s, "sampler")
	if err != nil {
		return err
	}
	t.put(rhi.ClassSampler, index, tableSlot{res: smp})
	return nil
}

// Bound returns the occupant of a slot.
func (t *ResourceTable) Bound(c rhi.ResourceClass, index uint32) (rhi.Resource, bool) {
	if int(c) >= len(t.slots) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[c][index]
	return s.res, ok
}

// Generation returns the current layout generation, 0 before the first build.
func (t *ResourceTable) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func sampleType(f rhi.Format) gputypes.TextureSampleType {
	switch {
	case f.IsDepth():
		return gputypes.TextureSampleTypeDepth
	case f.Type == rhi.TypeUInt8 || f.Type == rhi.TypeUInt32:
		return gputypes.TextureSampleTypeUint
	case f.Type == rhi.TypeSInt8 || f.Type == rhi.TypeSInt32:
		return gputypes.TextureSampleTypeSint
	case f.Type == rhi.TypeFloat32:
		return gputypes.TextureSampleTypeUnfilterableFloat
	default:
		return gputypes.TextureSampleTypeFloat
	}
}

const allStages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute

// entries builds the layout and group entries of the occupied slots in
// binding order.
func (t *ResourceTable) entries() ([]layoutKey, []gputypes.BindGroupLayoutEntry, []gputypes.BindGroupEntry, error) {
	var (
		keys    []layoutKey
		layouts []gputypes.BindGroupLayoutEntry
		groups  []gputypes.BindGroupEntry
	)
	for _, c := range rhi.ResourceClasses {
		for _, index := range slices.Sorted(maps.Keys(t.slots[c])) {
			s := t.slots[c][index]
			binding := c.BindingBase() + index
			if s.res.(owned).destroyed() {
				return nil, nil, nil, fmt.Errorf("%w: %s slot %d of %q holds destroyed %q",
					rhi.ErrDestroyed, c, index, t.name, s.res.Name())
			}
			key := layoutKey{binding: binding, class: c}
			le := gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: allStages}
			var res gputypes.BindingResource
			switch c {
			case rhi.ClassUniformBuffer, rhi.ClassStorageBuffer:
				typ := gputypes.BufferBindingTypeUniform
				if c == rhi.ClassStorageBuffer {
					typ = gputypes.BufferBindingTypeStorage
					le.Visibility = gputypes.ShaderStageFragment | gputypes.ShaderStageCompute
				}
				le.Buffer = &gputypes.BufferBindingLayout{Type: typ}
				res = gputypes.BufferBinding{Buffer: s.res.(*Buffer).native.NativeHandle(), Offset: s.offset, Size: s.size}
			case rhi.ClassSampledImage:
				img := s.res.(*Image)
				key.sample = sampleType(img.desc.Format)
				key.dim = gputypes.TextureViewDimension2D
				if img.desc.Layers > 1 {
					key.dim = gputypes.TextureViewDimension2DArray
				}
				key.msaa = img.desc.Samples > 1
				le.Texture = &gputypes.TextureBindingLayout{SampleType: key.sample, ViewDimension: key.dim, Multisampled: key.msaa}
				res = gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()}
			case rhi.ClassStorageImage:
				img := s.res.(*Image)
				key.format = img.format
				key.dim = gputypes.TextureViewDimension2D
				le.Visibility = gputypes.ShaderStageFragment | gputypes.ShaderStageCompute
				le.StorageTexture = &gputypes.StorageTextureBindingLayout{
					Access:        gputypes.StorageTextureAccessReadWrite,
					Format:        key.format,
					ViewDimension: key.dim,
				}
				res = gputypes.TextureViewBinding{TextureView: img.targetView.NativeHandle()}
			case rhi.ClassSampler:
				le.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
				res = gputypes.SamplerBinding{Sampler: s.res.(*Sampler).native.NativeHandle()}
			}
			keys = append(keys, key)
			layouts = append(layouts, le)
			groups = append(groups, gputypes.BindGroupEntry{Binding: binding, Resource: res})
		}
	}
	return keys, layouts, groups, nil
}

// prepare returns the native objects of the current contents, rebuilding
// them when slots changed. Replaced natives are retired on cb so they
// outlive the work already recorded against them.
func (t *ResourceTable) prepare(cb *CommandBuffer) (*tableNative, error) {
	if t.destroyed() {
		return nil, fmt.Errorf("%w: table %q", rhi.ErrDestroyed, t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty && t.cur != nil {
		return t.cur, nil
	}
	keys, layoutEntries, groupEntries, err := t.entries()
	if err != nil {
		return nil, err
	}
	d := t.dev
	old := t.cur
	next := &tableNative{}
	if old != nil && slices.Equal(keys, t.keys) {
		next.gen, next.layout, next.pl = old.gen, old.layout, old.pl
	} else {
		next.layout, err = d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: t.name, Entries: layoutEntries})
		if err != nil {
			return nil, rhi.NewDeviceError("create table layout", err)
		}
		next.pl, err = d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            t.name,
			BindGroupLayouts: []hal.BindGroupLayout{next.layout},
		})
		if err != nil {
			d.hal.DestroyBindGroupLayout(next.layout)
			return nil, rhi.NewDeviceError("create table pipeline layout", err)
		}
		next.gen = d.nextGeneration()
	}
	next.group, err = d.hal.CreateBindGroup(&hal.BindGroupDescriptor{Label: t.name, Layout: next.layout, Entries: groupEntries})
	if err != nil {
		if old == nil || next.layout != old.layout {
			d.hal.DestroyPipelineLayout(next.pl)
			d.hal.DestroyBindGroupLayout(next.layout)
		}
		return nil, rhi.NewDeviceError("create table group", err)
	}
	if old != nil {
		cb.retire(t.name+"/group", func() { d.hal.DestroyBindGroup(old.group) })
		if old.layout != next.layout {
			cb.retire(t.name+"/layout", func() {
				d.hal.DestroyPipelineLayout(old.pl)
				d.hal.DestroyBindGroupLayout(old.layout)
			})
		}
	}
	if next.gen != t.gen {
		slogger().Debug("rhi: table layout rebuilt", "table", t.name, "generation", next.gen, "bindings", len(keys))
	}
	t.keys, t.cur, t.gen, t.dirty = keys, next, next.gen, false
	return next, nil
}

// current returns the built natives, or nil when slots changed since the
// last build.
func (t *ResourceTable) current() *tableNative {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty {
		return nil
	}
	return t.cur
}

// Destroy releases the native objects. Bound resources are not destroyed.
func (t *ResourceTable) Destroy() {
	if !t.release() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.cur; cur != nil {
		d := t.dev
		d.hal.DestroyBindGroup(cur.group)
		d.hal.DestroyPipelineLayout(cur.pl)
		d.hal.DestroyBindGroupLayout(cur.layout)
		t.cur = nil
	}
}
