package rhi

// VertexFormat is the type of one vertex attribute. Only 32-bit float
// scalars and vectors are supported.
type VertexFormat uint8

const (
	VertexFloat VertexFormat = iota + 1
	VertexFloat2
	VertexFloat3
	VertexFloat4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat:
		return 4
	case VertexFloat2:
		return 8
	case VertexFloat3:
		return 12
	case VertexFloat4:
		return 16
	default:
		return 0
	}
}

func (f VertexFormat) String() string {
	switch f {
	case VertexFloat:
		return "Float"
	case VertexFloat2:
		return "Float2"
	case VertexFloat3:
		return "Float3"
	case VertexFloat4:
		return "Float4"
	default:
		return "Invalid"
	}
}

// VertexAttribute is one attribute of a VertexLayout.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes a single interleaved vertex buffer.
type VertexLayout struct {
	Attributes []VertexAttribute
	Stride     uint32
}

// NewVertexLayout builds a layout from attribute formats in declaration
// order. Shader locations follow the order; offsets and the stride
// accumulate attribute sizes.
//
//	NewVertexLayout(VertexFloat3, VertexFloat2) // offsets 0, 12; stride 20
func NewVertexLayout(formats ...VertexFormat) VertexLayout {
	l := VertexLayout{Attributes: make([]VertexAttribute, 0, len(formats))}
	for i, f := range formats {
		l.Attributes = append(l.Attributes, VertexAttribute{
			Location: uint32(i),
			Format:   f,
			Offset:   l.Stride,
		})
		l.Stride += f.Size()
	}
	return l
}

// Empty reports whether the layout has no attributes; pipelines with an
// empty layout generate vertices in the shader.
func (l VertexLayout) Empty() bool { return len(l.Attributes) == 0 }
