package rhi

import (
	"fmt"
	"math/bits"
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Name   string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryLocation
}

// Validate checks the descriptor for structural errors.
func (d BufferDesc) Validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, d.Name)
	}
	if d.Usage == 0 {
		return fmt.Errorf("%w: buffer %q has no usage", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// ImageDesc describes a 2D image or 2D image array.
//
// Zero values select defaults: MipLevels 0 is the full mip chain, Layers 0
// and Samples 0 mean one.
type ImageDesc struct {
	Name      string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Layers    uint32
	Samples   uint32
	Format    Format
	Usage     ImageUsage
	Memory    MemoryLocation
}

// MipChainLength returns floor(log2(max(w, h))) + 1.
func MipChainLength(w, h uint32) uint32 {
	m := max(w, h)
	if m == 0 {
		return 0
	}
	return uint32(bits.Len32(m))
}

// Normalized returns a copy with zero fields replaced by their defaults.
func (d ImageDesc) Normalized() ImageDesc {
	if d.MipLevels == 0 {
		d.MipLevels = MipChainLength(d.Width, d.Height)
	}
	if d.Layers == 0 {
		d.Layers = 1
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	return d
}

// Validate checks the normalized descriptor for structural errors.
func (d ImageDesc) Validate() error {
	n := d.Normalized()
	switch {
	case n.Width == 0 || n.Height == 0:
		return fmt.Errorf("%w: image %q has zero extent", ErrInvalidDescriptor, d.Name)
	case n.Usage == 0:
		return fmt.Errorf("%w: image %q has no usage", ErrInvalidDescriptor, d.Name)
	case n.MipLevels > MipChainLength(n.Width, n.Height):
		return fmt.Errorf("%w: image %q requests %d mips, max %d",
			ErrInvalidDescriptor, d.Name, n.MipLevels, MipChainLength(n.Width, n.Height))
	case n.Samples&(n.Samples-1) != 0:
		return fmt.Errorf("%w: image %q sample count %d is not a power of two",
			ErrInvalidDescriptor, d.Name, n.Samples)
	case n.Samples > 1 && n.MipLevels > 1:
		return fmt.Errorf("%w: multisampled image %q cannot have mips", ErrInvalidDescriptor, d.Name)
	case n.Usage.Has(ImageDepthAttachment) && !n.Format.IsDepth():
		return fmt.Errorf("%w: image %q has depth usage with color format %s",
			ErrInvalidDescriptor, d.Name, n.Format)
	case n.Usage.Has(ImageColorAttachment) && n.Format.IsDepth():
		return fmt.Errorf("%w: image %q has color usage with depth format %s",
			ErrInvalidDescriptor, d.Name, n.Format)
	}
	return nil
}

// MipExtent returns the dimensions of a mip level, clamped to 1.
func MipExtent(w, h, mip uint32) (uint32, uint32) {
	return max(w>>mip, 1), max(h>>mip, 1)
}

// Filter is a texture filter mode.
type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

// AddressMode selects how coordinates outside [0, 1] are resolved.
type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressMirrorRepeat
	AddressClampToEdge
)

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Name          string
	MinFilter     Filter
	MagFilter     Filter
	MipFilter     Filter
	Address       AddressMode
	MaxAnisotropy uint16
	LodMin        float32
	LodMax        float32
}

// ShaderStage is a programmable pipeline stage.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota + 1
	StageFragment
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// ShaderCode is precompiled shader code for one backend. Vulkan consumes
// SPIR-V words; Metal consumes source text that its driver compiles at
// load time.
type ShaderCode struct {
	SPIRV  []uint32
	Source string
}

// Empty reports whether no code is present.
func (c ShaderCode) Empty() bool { return len(c.SPIRV) == 0 && c.Source == "" }

// ShaderDesc describes a shader module with a single entry point.
type ShaderDesc struct {
	Name       string
	Stage      ShaderStage
	EntryPoint string
	Code       ShaderCode
}

// ResourceClass is one of the fixed-capacity classes of a ResourceTable.
type ResourceClass uint8

const (
	ClassUniformBuffer ResourceClass = iota
	ClassStorageBuffer
	ClassSampledImage
	ClassStorageImage
	ClassSampler

	numResourceClasses
)

// ResourceClasses lists every class in binding order.
var ResourceClasses = [...]ResourceClass{
	ClassUniformBuffer, ClassStorageBuffer, ClassSampledImage, ClassStorageImage, ClassSampler,
}

// classStride separates the binding ranges of the table classes.
const classStride = 1 << 20

// BindingBase returns the first shader binding number of the class.
// Shaders address table slot i of class c at binding c.BindingBase()+i
// in group 0.
func (c ResourceClass) BindingBase() uint32 { return uint32(c) * classStride }

func (c ResourceClass) String() string {
	switch c {
	case ClassUniformBuffer:
		return "UniformBuffer"
	case ClassStorageBuffer:
		return "StorageBuffer"
	case ClassSampledImage:
		return "SampledImage"
	case ClassStorageImage:
		return "StorageImage"
	case ClassSampler:
		return "Sampler"
	default:
		return "Unknown"
	}
}

// TableCapacity holds the per-class capacity of a resource table. A zero
// field selects the backend maximum.
type TableCapacity [numResourceClasses]uint32

// ResourceTableDesc describes a resource table.
type ResourceTableDesc struct {
	Name     string
	Capacity TableCapacity
}

// LoadOp is the action applied to an attachment when a pass begins.
type LoadOp uint8

const (
	LoadClear LoadOp = iota
	LoadLoad
	LoadDontCare
)

// StoreOp is the action applied to an attachment when a pass ends.
type StoreOp uint8

const (
	StoreStore StoreOp = iota
	StoreDiscard
)

// ClearValue holds clear values for color and depth/stencil attachments.
type ClearValue struct {
	Color   [4]float64
	Depth   float32
	Stencil uint32
}

// ResolveTarget is the single-sampled image a multisampled color
// attachment resolves into.
type ResolveTarget struct {
	Image Image
	Store StoreOp
}

// Attachment is a color attachment of a render pass.
type Attachment struct {
	Image   Image
	Load    LoadOp
	Store   StoreOp
	Clear   ClearValue
	Resolve *ResolveTarget
}

// DepthAttachment is the optional depth/stencil attachment of a render pass.
type DepthAttachment struct {
	Image    Image
	Load     LoadOp
	Store    StoreOp
	Clear    ClearValue
	ReadOnly bool
}

// Subpass references the attachments it renders into.
type Subpass struct {
	ColorAttachments []int
	UseDepth         bool
}

// RenderPassDesc describes a render pass.
//
// Width and Height default to the extent of the first attachment.
type RenderPassDesc struct {
	Name        string
	Attachments []Attachment
	Depth       *DepthAttachment
	Subpasses   []Subpass
	Width       uint32
	Height      uint32
}

// CullMode selects which faces are discarded.
type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// FillMode selects polygon rasterization.
type FillMode uint8

const (
	FillSolid FillMode = iota
	FillWireframe
)

// Winding selects the front-face orientation.
type Winding uint8

const (
	WindingCounterClockwise Winding = iota
	WindingClockwise
)

// Topology is the primitive topology.
type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyLineStrip
	TopologyPointList
)

// IndexFormat is the element type of an index buffer.
type IndexFormat uint8

const (
	IndexUint16 IndexFormat = iota
	IndexUint32
)

// BlendMode selects a color blend equation.
type BlendMode uint8

const (
	BlendNone BlendMode = iota
	BlendAlpha
	BlendPremultiplied
)

// GraphicsPipelineDesc describes a graphics pipeline for one subpass of
// a render pass.
type GraphicsPipelineDesc struct {
	Name       string
	Pass       RenderPass
	Subpass    int
	Vertex     Shader
	Fragment   Shader
	Layout     VertexLayout
	Topology   Topology
	Cull       CullMode
	Fill       FillMode
	Winding    Winding
	Blend      BlendMode
	DepthTest  bool
	DepthWrite bool
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Name   string
	Shader Shader
}

// CommandBufferDesc describes a command buffer.
type CommandBufferDesc struct {
	Name string
}

// SwapchainDesc describes a swapchain bound to one window.
type SwapchainDesc struct {
	Name   string
	Window Window
	// FramesInFlight is the concurrent frame count; 0 means 2.
	FramesInFlight int
	// Format defaults to FormatBGRA8Unorm.
	Format Format
	VSync  bool
}

// FeatureState reports the negotiation result of one backend feature.
type FeatureState struct {
	Name     string
	Required bool
	Enabled  bool
	// Reason explains why a feature is disabled.
	Reason string
}
