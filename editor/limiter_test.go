package editor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	for range 100 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("unlimited waits took %v", d)
	}
}

func TestLimiterPaces(t *testing.T) {
	l := NewLimiter(100)
	defer l.Stop()
	start := time.Now()
	for range 5 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// Five ticks at 10ms each.
	if d := time.Since(start); d < 40*time.Millisecond {
		t.Errorf("5 frames at 100 fps took %v", d)
	}
}

func TestLimiterContext(t *testing.T) {
	l := NewLimiter(1)
	defer l.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
}

func TestLimiterSetFPS(t *testing.T) {
	l := NewLimiter(30)
	if l.FPS() != 30 {
		t.Errorf("FPS() = %d", l.FPS())
	}
	l.SetFPS(-5)
	if l.FPS() != 0 || l.ticker != nil {
		t.Errorf("negative rate: FPS() = %d, ticker %v", l.FPS(), l.ticker)
	}
	l.SetFPS(120)
	if l.FPS() != 120 || l.ticker == nil {
		t.Errorf("FPS() = %d after SetFPS(120)", l.FPS())
	}
	l.Stop()
	if l.FPS() != 0 {
		t.Errorf("FPS() = %d after Stop", l.FPS())
	}
}
