// Package shaders stores precompiled shaders in bundles and loads them into
// rhi devices.
//
// A bundle holds one entry per (name, API) pair. Entries are compressed
// individually with lz4 so a single shader can be read without inflating
// the rest of the file:
//
//	magic   "RHSB"
//	version uint32, little endian
//	length  uint32, little endian, of the gob-encoded index
//	index   []Entry
//	payload concatenated lz4 frames, Entry.Offset relative to its start
package shaders

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/gogpu/rhi"
)

const (
	magic   = "RHSB"
	version = 1

	// prefixSize is magic, version and index length.
	prefixSize = 12
)

var (
	// ErrFormat is returned for input that is not a shader bundle.
	ErrFormat = errors.New("shaders: not a shader bundle")
	// ErrNotFound is returned when a bundle has no entry for a name and API.
	ErrNotFound = errors.New("shaders: shader not found")
)

// Kind is the encoding of an entry's code.
type Kind uint8

const (
	// KindSPIRV entries hold little-endian SPIR-V words.
	KindSPIRV Kind = iota + 1
	// KindText entries hold shader source text.
	KindText
)

// Entry is one shader in the bundle index.
type Entry struct {
	Name       string
	API        string
	Stage      rhi.ShaderStage
	EntryPoint string
	Kind       Kind

	Offset         int64
	Size           int64
	CompressedSize int64
}

type key struct {
	name string
	api  string
}

// encodeCode flattens shader code into bytes.
func encodeCode(code rhi.ShaderCode) ([]byte, Kind, error) {
	switch {
	case len(code.SPIRV) > 0:
		buf := make([]byte, 4*len(code.SPIRV))
		for i, w := range code.SPIRV {
			binary.LittleEndian.PutUint32(buf[4*i:], w)
		}
		return buf, KindSPIRV, nil
	case code.Source != "":
		return []byte(code.Source), KindText, nil
	default:
		return nil, 0, fmt.Errorf("%w: empty shader code", rhi.ErrInvalidDescriptor)
	}
}

func decodeCode(data []byte, kind Kind) (rhi.ShaderCode, error) {
	switch kind {
	case KindSPIRV:
		if len(data)%4 != 0 {
			return rhi.ShaderCode{}, fmt.Errorf("%w: SPIR-V of %d bytes", ErrFormat, len(data))
		}
		words := make([]uint32, len(data)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(data[4*i:])
		}
		return rhi.ShaderCode{SPIRV: words}, nil
	case KindText:
		return rhi.ShaderCode{Source: string(data)}, nil
	default:
		return rhi.ShaderCode{}, fmt.Errorf("%w: unknown code kind %d", ErrFormat, kind)
	}
}

type builtEntry struct {
	Entry
	data []byte
}

// Builder assembles a bundle in memory. Add is safe for concurrent use.
type Builder struct {
	mu      sync.Mutex
	entries []builtEntry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Add compresses desc for api. A second Add of the same name and API
// replaces the first.
func (b *Builder) Add(api rhi.API, desc rhi.ShaderDesc) error {
	if desc.Name == "" {
		return fmt.Errorf("%w: shader has no name", rhi.ErrInvalidDescriptor)
	}
	raw, kind, err := encodeCode(desc.Code)
	if err != nil {
		return fmt.Errorf("shaders: add %q: %w", desc.Name, err)
	}
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("shaders: compress %q: %w", desc.Name, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("shaders: compress %q: %w", desc.Name, err)
	}

	e := builtEntry{
		Entry: Entry{
			Name:           desc.Name,
			API:            api.String(),
			Stage:          desc.Stage,
			EntryPoint:     desc.EntryPoint,
			Kind:           kind,
			Size:           int64(len(raw)),
			CompressedSize: int64(compressed.Len()),
		},
		data: compressed.Bytes(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = slices.DeleteFunc(b.entries, func(x builtEntry) bool {
		return x.Name == e.Name && x.API == e.API
	})
	b.entries = append(b.entries, e)
	return nil
}

// Len returns the number of entries added.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// WriteTo writes the bundle. Entries are ordered by name and API so the
// output does not depend on the order of concurrent Adds.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slices.SortFunc(b.entries, func(x, y builtEntry) int {
		if c := strings.Compare(x.Name, y.Name); c != 0 {
			return c
		}
		return strings.Compare(x.API, y.API)
	})

	index := make([]Entry, len(b.entries))
	var off int64
	for i, e := range b.entries {
		index[i] = e.Entry
		index[i].Offset = off
		off += e.CompressedSize
	}
	var hdr bytes.Buffer
	if err := gob.NewEncoder(&hdr).Encode(index); err != nil {
		return 0, fmt.Errorf("shaders: encode index: %w", err)
	}

	prefix := make([]byte, prefixSize)
	copy(prefix, magic)
	binary.LittleEndian.PutUint32(prefix[4:], version)
	binary.LittleEndian.PutUint32(prefix[8:], uint32(hdr.Len()))

	var total int64
	for _, chunk := range append([][]byte{prefix, hdr.Bytes()}, payloads(b.entries)...) {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func payloads(entries []builtEntry) [][]byte {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.data
	}
	return out
}

// Bundle reads shaders from an encoded bundle. It is safe for concurrent use.
type Bundle struct {
	r       io.ReaderAt
	entries []Entry
	index   map[key]int
	base    int64
}

// Open reads the bundle index from r.
func Open(r io.ReaderAt) (*Bundle, error) {
	prefix := make([]byte, prefixSize)
	if _, err := r.ReadAt(prefix, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrFormat
		}
		return nil, err
	}
	if string(prefix[:4]) != magic {
		return nil, ErrFormat
	}
	if v := binary.LittleEndian.Uint32(prefix[4:]); v != version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormat, v, version)
	}
	hdrLen := int64(binary.LittleEndian.Uint32(prefix[8:]))

	var entries []Entry
	dec := gob.NewDecoder(io.NewSectionReader(r, prefixSize, hdrLen))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: index: %w", ErrFormat, err)
	}
	b := &Bundle{
		r:       r,
		entries: entries,
		index:   make(map[key]int, len(entries)),
		base:    prefixSize + hdrLen,
	}
	for i, e := range entries {
		b.index[key{e.Name, e.API}] = i
	}
	return b, nil
}

// OpenFile reads a bundle file into memory. The file is not kept open, so
// rewriting it in place does not change the returned bundle.
func OpenFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Open(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("shaders: %s: %w", path, err)
	}
	return b, nil
}

// Close releases the bundle. Bundles hold no file handles, so it always
// returns nil.
func (b *Bundle) Close() error { return nil }

// Entries returns the index in file order.
func (b *Bundle) Entries() []Entry { return slices.Clone(b.entries) }

// Has reports whether the bundle has name for api.
func (b *Bundle) Has(name string, api rhi.API) bool {
	_, ok := b.index[key{name, api.String()}]
	return ok
}

// Shader decompresses the entry for name and api into a descriptor.
func (b *Bundle) Shader(name string, api rhi.API) (rhi.ShaderDesc, error) {
	i, ok := b.index[key{name, api.String()}]
	if !ok {
		return rhi.ShaderDesc{}, fmt.Errorf("%w: %q for %s", ErrNotFound, name, api)
	}
	e := b.entries[i]
	zr := lz4.NewReader(io.NewSectionReader(b.r, b.base+e.Offset, e.CompressedSize))
	raw := make([]byte, e.Size)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return rhi.ShaderDesc{}, fmt.Errorf("shaders: inflate %q: %w", name, err)
	}
	code, err := decodeCode(raw, e.Kind)
	if err != nil {
		return rhi.ShaderDesc{}, err
	}
	return rhi.ShaderDesc{Name: e.Name, Stage: e.Stage, EntryPoint: e.EntryPoint, Code: code}, nil
}

// Load creates the shader name on dev for the device's API.
func (b *Bundle) Load(dev rhi.Device, name string) (rhi.Shader, error) {
	desc, err := b.Shader(name, dev.API())
	if err != nil {
		return nil, err
	}
	return dev.CreateShader(desc)
}
