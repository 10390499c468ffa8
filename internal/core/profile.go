package core

import (
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Profile describes how one native API is driven through hal.
type Profile struct {
	API rhi.API

	// Driver is the native hal backend. Nil when the API has no driver on
	// this platform; Open then requires Config.Executor.
	Driver hal.Backend

	// Backends is passed to hal instance creation.
	Backends gputypes.Backends

	// ExplicitBarriers emits hal transitions for declared usage changes.
	// Without it transitions are validated and logged only.
	ExplicitBarriers bool

	// ReusableCommandBuffers keeps the native encoder across recordings and
	// resets it on Begin. Without it the previous encoder is destroyed and
	// a new one allocated on every Begin.
	ReusableCommandBuffers bool

	// NativeSubpasses records a render-attachment dependency between
	// subpasses. Without it each subpass is an independent native pass.
	NativeSubpasses bool

	Formats *FormatTable

	// TableCapacity returns the maximum per-class resource table capacity.
	TableCapacity func(limits gputypes.Limits) rhi.TableCapacity

	// Features is the backend feature dependency graph.
	Features *FeatureGraph

	// ShaderSource converts backend shader code into a hal shader source.
	ShaderSource func(code rhi.ShaderCode) (hal.ShaderSource, error)
}

// FormatTable is a bijective mapping between rhi formats and a native
// pixel format enum.
type FormatTable struct {
	toNative   map[rhi.Format]uint32
	fromNative map[uint32]rhi.Format
}

// NewFormatTable builds a table. Duplicate native values are a programming
// error and panic.
func NewFormatTable(m map[rhi.Format]uint32) *FormatTable {
	t := &FormatTable{
		toNative:   make(map[rhi.Format]uint32, len(m)),
		fromNative: make(map[uint32]rhi.Format, len(m)),
	}
	for f, n := range m {
		if prev, dup := t.fromNative[n]; dup {
			panic(fmt.Sprintf("core: native format %d mapped by %s and %s", n, prev, f))
		}
		t.toNative[f] = n
		t.fromNative[n] = f
	}
	return t
}

// ToNative translates f. Unmapped pairs fail with ErrUnsupportedFormat.
func (t *FormatTable) ToNative(f rhi.Format) (uint32, error) {
	n, ok := t.toNative[f]
	if !ok {
		return 0, fmt.Errorf("%w: no native format for %s", rhi.ErrUnsupportedFormat, f)
	}
	return n, nil
}

// FromNative translates a native format back.
func (t *FormatTable) FromNative(n uint32) (rhi.Format, bool) {
	f, ok := t.fromNative[n]
	return f, ok
}

// Natives returns every mapped native value in ascending order.
func (t *FormatTable) Natives() []uint32 {
	out := make([]uint32, 0, len(t.fromNative))
	for n := range t.fromNative {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of mapped formats.
func (t *FormatTable) Len() int { return len(t.toNative) }
