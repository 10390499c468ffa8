package core

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

// usageState is the tracked state of a buffer range or image subresource.
type usageState struct {
	usage rhi.Usage
	// init is set once the contents have been written.
	init bool
}

// check returns a diagnostic when the declared transition disagrees with
// the tracked state, or "" when it is consistent.
func (s usageState) check(prev, next rhi.Usage) string {
	if s.usage != prev {
		return fmt.Sprintf("declared previous usage %s, tracked %s", prev, s.usage)
	}
	if next.IsRead() && !s.init && !prev.IsWrite() {
		return fmt.Sprintf("%s of uninitialized contents (use before write)", next)
	}
	return ""
}

func (s usageState) apply(prev, next rhi.Usage) usageState {
	s.usage = next
	s.init = s.init || prev.IsWrite() || next.IsWrite()
	return s
}

// span is a byte range [start, end) in one state.
type span struct {
	start, end uint64
	usageState
}

// rangeTracker tracks states over a buffer as sorted, non-overlapping
// spans covering [0, size).
type rangeTracker struct {
	spans []span
}

func newRangeTracker(size uint64) *rangeTracker {
	return &rangeTracker{spans: []span{{start: 0, end: size}}}
}

// split ensures a span boundary at off.
func (t *rangeTracker) split(off uint64) {
	for i, s := range t.spans {
		if off <= s.start {
			return
		}
		if off < s.end {
			right := s
			right.start = off
			t.spans[i].end = off
			t.spans = append(t.spans, span{})
			copy(t.spans[i+2:], t.spans[i+1:])
			t.spans[i+1] = right
			return
		}
	}
}

// each calls fn for every span inside [start, end), splitting at the
// bounds first.
func (t *rangeTracker) each(start, end uint64, fn func(*usageState)) {
	t.split(start)
	t.split(end)
	for i := range t.spans {
		if t.spans[i].start >= start && t.spans[i].end <= end {
			fn(&t.spans[i].usageState)
		}
	}
	t.coalesce()
}

func (t *rangeTracker) coalesce() {
	n := 0
	for i := 1; i < len(t.spans); i++ {
		if t.spans[i].usageState == t.spans[n].usageState {
			t.spans[n].end = t.spans[i].end
			continue
		}
		n++
		t.spans[n] = t.spans[i]
	}
	t.spans = t.spans[:n+1]
}

// transition validates and applies prev->next over [start, end).
func (t *rangeTracker) transition(start, end uint64, prev, next rhi.Usage) []string {
	var problems []string
	t.each(start, end, func(s *usageState) {
		if p := s.check(prev, next); p != "" {
			problems = append(problems, p)
		}
		*s = s.apply(prev, next)
	})
	return problems
}

// markWritten records a host or transfer write without changing usage.
func (t *rangeTracker) markWritten(start, end uint64) {
	t.each(start, end, func(s *usageState) { s.init = true })
}

// initialized reports whether every byte in [start, end) was written.
func (t *rangeTracker) initialized(start, end uint64) bool {
	ok := true
	for _, s := range t.spans {
		if s.end > start && s.start < end && !s.init {
			ok = false
		}
	}
	return ok
}

// imageTracker tracks one state per (mip, layer) subresource.
type imageTracker struct {
	mips, layers uint32
	states       []usageState
}

func newImageTracker(mips, layers uint32) *imageTracker {
	return &imageTracker{mips: mips, layers: layers, states: make([]usageState, mips*layers)}
}

// resolve expands zero counts and bounds-checks the range.
func (t *imageTracker) resolve(r rhi.ImageRange) (rhi.ImageRange, error) {
	if r.BaseMip >= t.mips || r.BaseLayer >= t.layers {
		return r, fmt.Errorf("%w: range base mip %d layer %d outside %dx%d subresources",
			rhi.ErrInvalidDescriptor, r.BaseMip, r.BaseLayer, t.mips, t.layers)
	}
	if r.MipCount == 0 {
		r.MipCount = t.mips - r.BaseMip
	}
	if r.LayerCount == 0 {
		r.LayerCount = t.layers - r.BaseLayer
	}
	if r.BaseMip+r.MipCount > t.mips || r.BaseLayer+r.LayerCount > t.layers {
		return r, fmt.Errorf("%w: range mips %d+%d layers %d+%d outside %dx%d subresources",
			rhi.ErrInvalidDescriptor, r.BaseMip, r.MipCount, r.BaseLayer, r.LayerCount, t.mips, t.layers)
	}
	return r, nil
}

func (t *imageTracker) each(r rhi.ImageRange, fn func(*usageState)) {
	for m := r.BaseMip; m < r.BaseMip+r.MipCount; m++ {
		for l := r.BaseLayer; l < r.BaseLayer+r.LayerCount; l++ {
			fn(&t.states[m*t.layers+l])
		}
	}
}

func (t *imageTracker) transition(r rhi.ImageRange, prev, next rhi.Usage) []string {
	var problems []string
	t.each(r, func(s *usageState) {
		if p := s.check(prev, next); p != "" {
			problems = append(problems, p)
		}
		*s = s.apply(prev, next)
	})
	return problems
}

// expect reports subresources not in usage u.
func (t *imageTracker) expect(r rhi.ImageRange, u rhi.Usage) []string {
	var problems []string
	t.each(r, func(s *usageState) {
		if s.usage != u {
			problems = append(problems, fmt.Sprintf("expected %s, tracked %s", u, s.usage))
		}
	})
	return problems
}

func (t *imageTracker) initialized(r rhi.ImageRange) bool {
	ok := true
	t.each(r, func(s *usageState) { ok = ok && s.init })
	return ok
}

func (t *imageTracker) markWritten(r rhi.ImageRange) {
	t.each(r, func(s *usageState) { s.init = true })
}

// reset forgets all state; presentable images come back undefined.
func (t *imageTracker) reset() {
	clear(t.states)
}

// bufferUsageBits maps a sync state to the hal buffer usage used for barriers.
func bufferUsageBits(u rhi.Usage) gputypes.BufferUsage {
	switch u {
	case rhi.UsageTransferSrc:
		return gputypes.BufferUsageCopySrc
	case rhi.UsageTransferDst:
		return gputypes.BufferUsageCopyDst
	case rhi.UsageVertexBuffer:
		return gputypes.BufferUsageVertex
	case rhi.UsageIndexBuffer:
		return gputypes.BufferUsageIndex
	case rhi.UsageUniformRead:
		return gputypes.BufferUsageUniform
	case rhi.UsageShaderRead, rhi.UsageShaderWrite:
		return gputypes.BufferUsageStorage
	case rhi.UsageHostRead:
		return gputypes.BufferUsageMapRead
	case rhi.UsageHostWrite:
		return gputypes.BufferUsageMapWrite
	default:
		return gputypes.BufferUsageNone
	}
}

// textureUsageBits maps a sync state to the hal texture usage used for
// barriers. The second result is false for states hal cannot express.
func textureUsageBits(u rhi.Usage) (gputypes.TextureUsage, bool) {
	switch u {
	case rhi.UsageNone:
		return gputypes.TextureUsageNone, true
	case rhi.UsageTransferSrc:
		return gputypes.TextureUsageCopySrc, true
	case rhi.UsageTransferDst:
		return gputypes.TextureUsageCopyDst, true
	case rhi.UsageShaderRead:
		return gputypes.TextureUsageTextureBinding, true
	case rhi.UsageShaderWrite:
		return gputypes.TextureUsageStorageBinding, true
	case rhi.UsageColorAttachment, rhi.UsageDepthAttachment:
		return gputypes.TextureUsageRenderAttachment, true
	default:
		return gputypes.TextureUsageNone, false
	}
}
