package rhi

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Device is the logical execution context of one backend. It creates every
// other resource and owns the single submission queue.
//
// Destroy waits for all submitted work, drains every deferred-destruction
// queue and then releases the native device. Resources created from the
// device must be destroyed first.
type Device interface {
	Resource

	AdapterInfo() gputypes.AdapterInfo
	Limits() gputypes.Limits
	Features() []FeatureState
	IsFeatureEnabled(name string) bool

	// Capability queries. Callers consult these before creation; creation
	// of an unsupported configuration fails with ErrUnsupported.
	IsImageSamplingSupported(f Format) bool
	IsImageConfigurationSupported(desc ImageDesc) bool
	GetSupportedImageFormat(candidates []Format, usage ImageUsage) (Format, bool)

	// FormatToNative and FormatFromNative translate between Format and the
	// backend pixel format enum (VkFormat, MTLPixelFormat).
	FormatToNative(f Format) (uint32, error)
	FormatFromNative(native uint32) (Format, bool)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateShader(desc ShaderDesc) (Shader, error)
	CreateResourceTable(desc ResourceTableDesc) (ResourceTable, error)
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (GraphicsPipeline, error)
	CreateComputePipeline(desc ComputePipelineDesc) (ComputePipeline, error)
	CreateCommandBuffer(desc CommandBufferDesc) (CommandBuffer, error)
	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)

	// Submit submits ended command buffers in order.
	Submit(cbs ...CommandBuffer) error
	// WaitForCommandBuffer blocks until cb's last submission has completed
	// and drains its deferred-destruction queue.
	WaitForCommandBuffer(cb CommandBuffer) error
	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
}

// Buffer is a linear GPU allocation of fixed size.
type Buffer interface {
	Resource
	Size() uint64
	Usage() BufferUsage
	Memory() MemoryLocation

	// CopyFromMemory copies size bytes from src[srcOffset:] into the buffer
	// at dstOffset. Size 0 copies the remaining extent.
	CopyFromMemory(src []byte, size, srcOffset, dstOffset uint64) error
	// SetMemory fills size bytes at offset with value. Size 0 fills to the end.
	SetMemory(value byte, size, offset uint64) error
	// ReadToMemory copies size bytes starting at srcOffset into dst.
	// Size 0 reads min(len(dst), Size()-srcOffset) bytes.
	ReadToMemory(dst []byte, size, srcOffset uint64) error
}

// Image is GPU pixel storage.
type Image interface {
	Resource
	Width() uint32
	Height() uint32
	MipLevels() uint32
	Layers() uint32
	Samples() uint32
	Format() Format
	Usage() ImageUsage
	// Borrowed reports whether the storage belongs to a swapchain.
	Borrowed() bool
	// SubresourceSize returns the extent of a mip level.
	SubresourceSize(mip uint32) (width, height uint32)
	// ByteSize returns the tightly packed size of all subresources.
	ByteSize() uint64
}

// Sampler is a texture sampling state object.
type Sampler interface {
	Resource
}

// Shader is a compiled shader module.
type Shader interface {
	Resource
	Stage() ShaderStage
	EntryPoint() string
}

// ResourceTable is a bindless registry of buffers, images and samplers.
// Slots are caller-managed; a bind overwrites the previous occupant.
type ResourceTable interface {
	Resource
	Capacity(class ResourceClass) uint32
	// BindingNumber returns the shader binding of a slot.
	BindingNumber(class ResourceClass, index uint32) uint32

	BindUniformBuffer(index uint32, buf Buffer, offset, size uint64) error
	BindStorageBuffer(index uint32, buf Buffer, offset, size uint64) error
	BindSampledImage(index uint32, img Image) error
	BindStorageImage(index uint32, img Image) error
	BindSampler(index uint32, s Sampler) error

	// Bound returns the occupant of a slot.
	Bound(class ResourceClass, index uint32) (Resource, bool)
}

// RenderPass is a compiled set of attachments and subpasses.
type RenderPass interface {
	Resource
	Subpasses() int
	Size() (width, height uint32)
	// Resize changes the render area of every subpass. Attachment images
	// are resolved again when the pass begins.
	Resize(width, height uint32) error
	// Rebind replaces the image of a color attachment.
	Rebind(attachment int, img Image) error
}

// GraphicsPipeline draws within one subpass of a render pass.
type GraphicsPipeline interface {
	Resource
	Begin(cb CommandBuffer) error
	Draw(cb CommandBuffer, vertexCount, firstVertex uint32) error
	DrawIndexed(cb CommandBuffer, indexCount, firstIndex uint32, vertexOffset int32) error
	End(cb CommandBuffer) error
}

// ComputePipeline dispatches compute work outside render passes.
type ComputePipeline interface {
	Resource
	Begin(cb CommandBuffer) error
	Dispatch(cb CommandBuffer, x, y, z uint32) error
	End(cb CommandBuffer) error
}

// ImageRange selects mips and layers of an image. Zero counts select the
// remainder of the image from the base.
type ImageRange struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// CommandBufferState is the recording state of a command buffer.
type CommandBufferState uint8

const (
	StateInitial CommandBufferState = iota
	StateRecording
	StateRenderPass
	StateGraphicsPipeline
	StateComputePipeline
	StateEnded
	StateSubmitted
	StateCompleted
)

func (s CommandBufferState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRecording:
		return "Recording"
	case StateRenderPass:
		return "RenderPass"
	case StateGraphicsPipeline:
		return "GraphicsPipeline"
	case StateComputePipeline:
		return "ComputePipeline"
	case StateEnded:
		return "Ended"
	case StateSubmitted:
		return "Submitted"
	case StateCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// CommandBuffer records GPU work.
//
// State machine:
//
//	Initial -> Begin -> Recording
//	Recording -> BeginRenderPass -> RenderPass -> pipeline Begin -> GraphicsPipeline
//	Recording -> compute Begin -> ComputePipeline
//	Recording -> End -> Ended -> Submit -> Submitted -> (wait) -> Completed
//	Ended, Completed -> Begin -> Recording
//
// Commands issued in the wrong state fail with ErrInvalidState.
type CommandBuffer interface {
	Resource
	State() CommandBufferState

	Begin() error
	End() error

	BindResourceTable(table ResourceTable) error
	BindVertexBuffer(buf Buffer, offset uint64) error
	BindIndexBuffer(buf Buffer, offset uint64, format IndexFormat) error

	BeginRenderPass(pass RenderPass) error
	NextSubpass() error
	EndRenderPass() error
	SetViewport(x, y, width, height float32) error
	SetScissor(x, y, width, height uint32) error

	// SynchronizeBufferUsage declares a usage transition of a byte range.
	// Size 0 covers the remainder of the buffer.
	SynchronizeBufferUsage(buf Buffer, prev, next Usage, size, offset uint64) error
	// SynchronizeImageUsage declares a usage transition of image subresources.
	SynchronizeImageUsage(img Image, prev, next Usage, r ImageRange) error

	// CopyBufferToBuffer copies a byte range. Size 0 copies the largest
	// range both buffers can hold from their offsets.
	CopyBufferToBuffer(src, dst Buffer, size, srcOffset, dstOffset uint64) error
	// CopyBufferToImage fills one subresource from tightly packed texels.
	CopyBufferToImage(src Buffer, dst Image, srcOffset uint64, mip, layer uint32) error
	// CopyImageToBuffer reads one subresource into tightly packed texels.
	CopyImageToBuffer(src Image, dst Buffer, dstOffset uint64, mip, layer uint32) error

	// Ownership of queued resources moves to the command buffer; they are
	// destroyed once its GPU work is known to be complete.
	QueueBufferForDestruction(buf Buffer) error
	QueueImageForDestruction(img Image) error
	QueueForDestruction(r Resource) error

	BeginDebugRegion(name string, color [4]float32) error
	InsertDebugMarker(name string, color [4]float32) error
	EndDebugRegion() error
}

// Frame is one acquired swapchain slot.
type Frame struct {
	// Index is the slot in [0, FramesInFlight).
	Index int
	Image Image
	// CommandBuffer is the slot's command buffer. It is ready to Begin.
	CommandBuffer CommandBuffer
}

// Swapchain is a ring of presentable images bound to one window.
type Swapchain interface {
	Resource
	FramesInFlight() int
	FrameIndex() int
	Format() Format
	Size() (width, height uint32)

	// AcquireNextFrame advances the slot, waits for the slot's previous
	// command buffer and acquires the next presentable image.
	AcquireNextFrame() (Frame, error)
	// Present hands the frame image to the compositor. The frame's command
	// buffer must have been submitted.
	Present(f Frame) error
	// Resize waits for the device to go idle and reconfigures the surface.
	Resize(width, height uint32) error
}

// Window is the presentation target of a swapchain.
type Window interface {
	gpucontext.WindowProvider
	// NativeHandles returns the platform display and window handles.
	NativeHandles() (display, window uintptr)
	Closed() bool
}
