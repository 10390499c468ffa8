package core

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Buffer implements rhi.Buffer.
type Buffer struct {
	resource
	size   uint64
	usage  rhi.BufferUsage
	memory rhi.MemoryLocation
	native hal.Buffer

	mu    sync.Mutex
	track *rangeTracker
}

var _ rhi.Buffer = (*Buffer)(nil)

func bufferHalUsage(u rhi.BufferUsage, m rhi.MemoryLocation) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	flags := []struct {
		in  rhi.BufferUsage
		out gputypes.BufferUsage
	}{
		{rhi.BufferTransferSrc, gputypes.BufferUsageCopySrc},
		{rhi.BufferTransferDst, gputypes.BufferUsageCopyDst},
		{rhi.BufferVertex, gputypes.BufferUsageVertex},
		{rhi.BufferIndex, gputypes.BufferUsageIndex},
		{rhi.BufferUniform, gputypes.BufferUsageUniform},
		{rhi.BufferStorage, gputypes.BufferUsageStorage},
		{rhi.BufferIndirect, gputypes.BufferUsageIndirect},
	}
	for _, f := range flags {
		if u&f.in != 0 {
			out |= f.out
		}
	}
	if m == rhi.MemoryHostVisible {
		out |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	}
	return out
}

// CreateBuffer creates a buffer. MemoryAuto is resolved from the usage.
func (d *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if maxSize := d.limits.MaxBufferSize; maxSize > 0 && desc.Size > maxSize {
		return nil, fmt.Errorf("%w: buffer %q size %d exceeds max %d", rhi.ErrUnsupported, desc.Name, desc.Size, maxSize)
	}
	memory := desc.Memory.Resolve(desc.Usage)
	native, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Name,
		Size:  desc.Size,
		Usage: bufferHalUsage(desc.Usage, memory),
	})
	if err != nil {
		return nil, rhi.NewDeviceError("create buffer", err)
	}
	b := &Buffer{
		size:   desc.Size,
		usage:  desc.Usage,
		memory: memory,
		native: native,
		track:  newRangeTracker(desc.Size),
	}
	b.setup(d, desc.Name)
	return b, nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags.
func (b *Buffer) Usage() rhi.BufferUsage { return b.usage }

// Memory returns the resolved memory location.
func (b *Buffer) Memory() rhi.MemoryLocation { return b.memory }

// hostRange validates a host access of size bytes at off. Size 0 means
// avail bytes, clamped to the end of the buffer.
func (b *Buffer) hostRange(op string, size, off, avail uint64) (uint64, error) {
	if b.destroyed() {
		return 0, fmt.Errorf("%w: buffer %q", rhi.ErrDestroyed, b.name)
	}
	if b.memory != rhi.MemoryHostVisible {
		return 0, fmt.Errorf("%w: %s on %q", rhi.ErrNotHostVisible, op, b.name)
	}
	if off > b.size {
		return 0, fmt.Errorf("%w: %s offset %d past size %d of %q", rhi.ErrBufferOverflow, op, off, b.size, b.name)
	}
	if size == 0 {
		size = min(avail, b.size-off)
	}
	if size > b.size-off {
		return 0, fmt.Errorf("%w: %s of %d bytes at %d exceeds size %d of %q",
			rhi.ErrBufferOverflow, op, size, off, b.size, b.name)
	}
	return size, nil
}

// mapped maps [off, off+size) and calls fn with the mapped bytes.
func (b *Buffer) mapped(off, size uint64, fn func([]byte)) error {
	d := b.dev
	m, err := d.hal.MapBuffer(b.native, off, size)
	if err != nil {
		return rhi.NewDeviceError("map buffer", err)
	}
	fn(unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.hal.UnmapBuffer(b.native); err != nil {
		return rhi.NewDeviceError("unmap buffer", err)
	}
	return nil
}

// CopyFromMemory copies size bytes of src starting at srcOffset into the
// buffer at dstOffset. Size 0 copies as much as both sides hold.
func (b *Buffer) CopyFromMemory(src []byte, size, srcOffset, dstOffset uint64) error {
	if srcOffset > uint64(len(src)) {
		return fmt.Errorf("%w: source offset %d past source length %d", rhi.ErrBufferOverflow, srcOffset, len(src))
	}
	avail := uint64(len(src)) - srcOffset
	n, err := b.hostRange("copy from memory", size, dstOffset, avail)
	if err != nil {
		return err
	}
	if n > avail {
		return fmt.Errorf("%w: source holds %d bytes after offset %d, copy needs %d",
			rhi.ErrBufferOverflow, avail, srcOffset, n)
	}
	if n == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.mapped(dstOffset, n, func(dst []byte) {
		copy(dst, src[srcOffset:srcOffset+n])
	})
	if err == nil {
		b.track.markWritten(dstOffset, dstOffset+n)
	}
	return err
}

// SetMemory fills size bytes at offset with value. Size 0 fills to the end.
func (b *Buffer) SetMemory(value byte, size, offset uint64) error {
	n, err := b.hostRange("set memory", size, offset, b.size)
	if err != nil || n == 0 {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.mapped(offset, n, func(dst []byte) {
		for i := range dst {
			dst[i] = value
		}
	})
	if err == nil {
		b.track.markWritten(offset, offset+n)
	}
	return err
}

// ReadToMemory copies size bytes starting at srcOffset into dst. Size 0
// reads as much as dst holds.
func (b *Buffer) ReadToMemory(dst []byte, size, srcOffset uint64) error {
	n, err := b.hostRange("read to memory", size, srcOffset, uint64(len(dst)))
	if err != nil {
		return err
	}
	if n > uint64(len(dst)) {
		return fmt.Errorf("%w: destination holds %d bytes, read needs %d", rhi.ErrBufferOverflow, len(dst), n)
	}
	if n == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped(srcOffset, n, func(src []byte) {
		copy(dst, src)
	})
}

// transition validates prev->next over [off, off+size); size 0 covers the
// rest of the buffer.
func (b *Buffer) transition(prev, next rhi.Usage, size, off uint64) (uint64, []string, error) {
	if !prev.ValidForBuffer() || !next.ValidForBuffer() {
		return 0, nil, fmt.Errorf("%w: %s -> %s is not a buffer transition", rhi.ErrInvalidDescriptor, prev, next)
	}
	if off >= b.size {
		return 0, nil, fmt.Errorf("%w: sync offset %d past size %d of %q", rhi.ErrBufferOverflow, off, b.size, b.name)
	}
	if size == 0 {
		size = b.size - off
	}
	if size > b.size-off {
		return 0, nil, fmt.Errorf("%w: sync of %d bytes at %d exceeds size %d of %q",
			rhi.ErrBufferOverflow, size, off, b.size, b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return size, b.track.transition(off, off+size, prev, next), nil
}

// Destroy releases the buffer immediately. Use
// CommandBuffer.QueueBufferForDestruction while GPU work may still use it.
func (b *Buffer) Destroy() {
	if !b.release() {
		return
	}
	b.dev.hal.DestroyBuffer(b.native)
}
