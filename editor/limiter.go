package editor

import (
	"context"
	"time"
)

// Limiter paces the frame loop to a target rate. A zero rate is unlimited.
type Limiter struct {
	fps    int
	ticker *time.Ticker
}

// NewLimiter returns a limiter for fps frames per second.
func NewLimiter(fps int) *Limiter {
	l := &Limiter{}
	l.SetFPS(fps)
	return l
}

// FPS returns the target rate, 0 when unlimited.
func (l *Limiter) FPS() int { return l.fps }

// SetFPS changes the target rate.
func (l *Limiter) SetFPS(fps int) {
	fps = max(fps, 0)
	if fps == l.fps && (fps == 0) == (l.ticker == nil) {
		return
	}
	l.fps = fps
	if fps == 0 {
		l.Stop()
		return
	}
	d := time.Second / time.Duration(fps)
	if l.ticker == nil {
		l.ticker = time.NewTicker(d)
		return
	}
	l.ticker.Reset(d)
}

// Wait blocks until the next frame is due or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-l.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker. The limiter is unlimited afterwards.
func (l *Limiter) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	l.fps = 0
}
