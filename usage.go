package rhi

import "strings"

// MemoryLocation selects where a buffer's memory lives.
type MemoryLocation uint8

const (
	// MemoryAuto picks host-visible memory for staging, uniform and readback
	// buffers and device-local memory for buffers the GPU reads heavily
	// (vertex, index, storage).
	MemoryAuto MemoryLocation = iota
	// MemoryHostVisible is CPU-mappable memory.
	MemoryHostVisible
	// MemoryDeviceLocal is GPU-private memory, filled only through transfers.
	MemoryDeviceLocal
)

func (m MemoryLocation) String() string {
	switch m {
	case MemoryHostVisible:
		return "HostVisible"
	case MemoryDeviceLocal:
		return "DeviceLocal"
	default:
		return "Auto"
	}
}

// BufferUsage is a set of buffer usage flags.
type BufferUsage uint32

const (
	BufferTransferSrc BufferUsage = 1 << iota
	BufferTransferDst
	BufferVertex
	BufferIndex
	BufferUniform
	BufferStorage
	BufferIndirect
)

// Has reports whether all flags in o are set.
func (u BufferUsage) Has(o BufferUsage) bool { return u&o == o }

// Resolve returns the concrete location for m given the buffer usage.
func (m MemoryLocation) Resolve(u BufferUsage) MemoryLocation {
	if m != MemoryAuto {
		return m
	}
	if u&(BufferVertex|BufferIndex|BufferStorage|BufferIndirect) != 0 {
		return MemoryDeviceLocal
	}
	return MemoryHostVisible
}

// ImageUsage is a set of image usage flags.
type ImageUsage uint32

const (
	ImageColorAttachment ImageUsage = 1 << iota
	ImageDepthAttachment
	ImageSampled
	ImageStorage
	ImageTransferSrc
	ImageTransferDst
)

// Has reports whether all flags in o are set.
func (u ImageUsage) Has(o ImageUsage) bool { return u&o == o }

func (u ImageUsage) String() string {
	var parts []string
	names := []struct {
		flag ImageUsage
		name string
	}{
		{ImageColorAttachment, "ColorAttachment"},
		{ImageDepthAttachment, "DepthAttachment"},
		{ImageSampled, "Sampled"},
		{ImageStorage, "Storage"},
		{ImageTransferSrc, "TransferSrc"},
		{ImageTransferDst, "TransferDst"},
	}
	for _, n := range names {
		if u&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// Usage is a synchronization state: how a buffer range or image
// subresource is accessed between two synchronization points.
type Usage uint8

const (
	UsageNone Usage = iota
	UsageTransferSrc
	UsageTransferDst
	UsageVertexBuffer
	UsageIndexBuffer
	UsageUniformRead
	UsageShaderRead
	UsageShaderWrite
	UsageColorAttachment
	UsageDepthAttachment
	UsagePresent
	UsageHostRead
	UsageHostWrite
)

func (u Usage) String() string {
	switch u {
	case UsageNone:
		return "None"
	case UsageTransferSrc:
		return "TransferSrc"
	case UsageTransferDst:
		return "TransferDst"
	case UsageVertexBuffer:
		return "VertexBuffer"
	case UsageIndexBuffer:
		return "IndexBuffer"
	case UsageUniformRead:
		return "UniformRead"
	case UsageShaderRead:
		return "ShaderRead"
	case UsageShaderWrite:
		return "ShaderWrite"
	case UsageColorAttachment:
		return "ColorAttachment"
	case UsageDepthAttachment:
		return "DepthAttachment"
	case UsagePresent:
		return "Present"
	case UsageHostRead:
		return "HostRead"
	case UsageHostWrite:
		return "HostWrite"
	default:
		return "Unknown"
	}
}

// IsWrite reports whether the usage writes the resource contents.
func (u Usage) IsWrite() bool {
	switch u {
	case UsageTransferDst, UsageShaderWrite, UsageColorAttachment, UsageDepthAttachment, UsageHostWrite:
		return true
	}
	return false
}

// IsRead reports whether the usage reads existing contents.
func (u Usage) IsRead() bool {
	switch u {
	case UsageTransferSrc, UsageVertexBuffer, UsageIndexBuffer, UsageUniformRead,
		UsageShaderRead, UsagePresent, UsageHostRead:
		return true
	}
	return false
}

// ValidForBuffer reports whether a buffer can be in this state.
func (u Usage) ValidForBuffer() bool {
	switch u {
	case UsageColorAttachment, UsageDepthAttachment, UsagePresent:
		return false
	}
	return u <= UsageHostWrite
}

// ValidForImage reports whether an image can be in this state.
func (u Usage) ValidForImage() bool {
	switch u {
	case UsageVertexBuffer, UsageIndexBuffer, UsageUniformRead, UsageHostRead, UsageHostWrite:
		return false
	}
	return u <= UsageHostWrite
}
