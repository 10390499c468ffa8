package editor

import (
	"sync"

	"github.com/gogpu/gpucontext"
)

// ButtonState is the per-frame transition state of a key or mouse button.
type ButtonState uint8

const (
	// Resting buttons are up and were up last frame.
	Resting ButtonState = iota
	// Pressed buttons went down since the previous frame.
	Pressed
	// Held buttons are down and were down last frame.
	Held
	// Released buttons went up since the previous frame.
	Released
)

func (s ButtonState) String() string {
	switch s {
	case Resting:
		return "Resting"
	case Pressed:
		return "Pressed"
	case Held:
		return "Held"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// Down reports whether the button is pressed or held.
func (s ButtonState) Down() bool { return s == Pressed || s == Held }

// buttons folds live down/up events into per-frame states.
type buttons[K comparable] struct {
	live   map[K]bool
	tapped map[K]bool
	frame  map[K]ButtonState
}

func newButtons[K comparable]() buttons[K] {
	return buttons[K]{live: make(map[K]bool), tapped: make(map[K]bool), frame: make(map[K]ButtonState)}
}

func (b *buttons[K]) press(k K) {
	b.live[k] = true
	b.tapped[k] = true
}

func (b *buttons[K]) release(k K) { delete(b.live, k) }

// advance computes the next frame. A press and release between two polls
// still reports Pressed for one frame and Released for the next.
func (b *buttons[K]) advance() {
	next := make(map[K]ButtonState, len(b.frame)+len(b.tapped))
	seen := func(k K) {
		if _, ok := next[k]; ok {
			return
		}
		was := b.frame[k].Down()
		is := b.live[k] || b.tapped[k]
		switch {
		case !was && is:
			next[k] = Pressed
		case was && is:
			next[k] = Held
		case was && !is:
			next[k] = Released
		}
	}
	for k := range b.frame {
		seen(k)
	}
	for k := range b.live {
		seen(k)
	}
	for k := range b.tapped {
		seen(k)
	}
	clear(b.tapped)
	b.frame = next
}

func (b *buttons[K]) state(k K) ButtonState { return b.frame[k] }

// Input is a per-frame snapshot of keyboard and mouse state built from a
// gpucontext.EventSource. Event callbacks may run on any goroutine; the
// snapshot only changes in Poll.
type Input struct {
	mu      sync.Mutex
	keys    buttons[gpucontext.Key]
	mouse   buttons[gpucontext.MouseButton]
	mods    gpucontext.Modifiers
	x, y    float64
	sx, sy  float64
	text    []rune
	focused bool

	// snapshot
	frameMods    gpucontext.Modifiers
	frameX       float64
	frameY       float64
	frameScrollX float64
	frameScrollY float64
	frameText    string
}

// NewInput returns an empty snapshot.
func NewInput() *Input {
	return &Input{
		keys:    newButtons[gpucontext.Key](),
		mouse:   newButtons[gpucontext.MouseButton](),
		focused: true,
	}
}

// Attach registers the snapshot's callbacks on src.
func (in *Input) Attach(src gpucontext.EventSource) {
	src.OnKeyPress(func(k gpucontext.Key, mods gpucontext.Modifiers) {
		in.mu.Lock()
		in.keys.press(k)
		in.mods = mods
		in.mu.Unlock()
	})
	src.OnKeyRelease(func(k gpucontext.Key, mods gpucontext.Modifiers) {
		in.mu.Lock()
		in.keys.release(k)
		in.mods = mods
		in.mu.Unlock()
	})
	src.OnTextInput(func(text string) {
		in.mu.Lock()
		in.text = append(in.text, []rune(text)...)
		in.mu.Unlock()
	})
	src.OnMouseMove(func(x, y float64) {
		in.mu.Lock()
		in.x, in.y = x, y
		in.mu.Unlock()
	})
	src.OnMousePress(func(b gpucontext.MouseButton, x, y float64) {
		in.mu.Lock()
		in.mouse.press(b)
		in.x, in.y = x, y
		in.mu.Unlock()
	})
	src.OnMouseRelease(func(b gpucontext.MouseButton, x, y float64) {
		in.mu.Lock()
		in.mouse.release(b)
		in.x, in.y = x, y
		in.mu.Unlock()
	})
	src.OnScroll(func(dx, dy float64) {
		in.mu.Lock()
		in.sx += dx
		in.sy += dy
		in.mu.Unlock()
	})
	src.OnFocus(func(focused bool) {
		in.mu.Lock()
		in.focused = focused
		if !focused {
			// Releases are not delivered to unfocused windows.
			clear(in.keys.live)
			clear(in.mouse.live)
		}
		in.mu.Unlock()
	})
	src.OnResize(func(int, int) {})
	src.OnIMECompositionStart(func() {})
	src.OnIMECompositionUpdate(func(gpucontext.IMEState) {})
	src.OnIMECompositionEnd(func(committed string) {
		in.mu.Lock()
		in.text = append(in.text, []rune(committed)...)
		in.mu.Unlock()
	})
}

// Poll advances the snapshot to the events received since the last Poll.
func (in *Input) Poll() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.keys.advance()
	in.mouse.advance()
	in.frameMods = in.mods
	in.frameX, in.frameY = in.x, in.y
	in.frameScrollX, in.frameScrollY = in.sx, in.sy
	in.sx, in.sy = 0, 0
	in.frameText = string(in.text)
	in.text = in.text[:0]
}

func (in *Input) Key(k gpucontext.Key) ButtonState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.keys.state(k)
}

func (in *Input) KeyPressed(k gpucontext.Key) bool  { return in.Key(k) == Pressed }
func (in *Input) KeyHeld(k gpucontext.Key) bool     { return in.Key(k) == Held }
func (in *Input) KeyReleased(k gpucontext.Key) bool { return in.Key(k) == Released }
func (in *Input) KeyResting(k gpucontext.Key) bool  { return in.Key(k) == Resting }

func (in *Input) Mouse(b gpucontext.MouseButton) ButtonState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.mouse.state(b)
}

func (in *Input) MousePressed(b gpucontext.MouseButton) bool  { return in.Mouse(b) == Pressed }
func (in *Input) MouseHeld(b gpucontext.MouseButton) bool     { return in.Mouse(b) == Held }
func (in *Input) MouseReleased(b gpucontext.MouseButton) bool { return in.Mouse(b) == Released }
func (in *Input) MouseResting(b gpucontext.MouseButton) bool  { return in.Mouse(b) == Resting }

// Modifiers returns the modifier state of the last key event.
func (in *Input) Modifiers() gpucontext.Modifiers {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.frameMods
}

// Cursor returns the mouse position in window coordinates.
func (in *Input) Cursor() (x, y float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.frameX, in.frameY
}

// Scroll returns the scroll accumulated during the last frame.
func (in *Input) Scroll() (dx, dy float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.frameScrollX, in.frameScrollY
}

// Text returns the text typed during the last frame.
func (in *Input) Text() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.frameText
}

// Focused reports whether the window has keyboard focus.
func (in *Input) Focused() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.focused
}
