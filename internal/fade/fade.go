// Package fade animates a single value over time on a clock.Clock.
//
// Fades drive choice-icon opacity, visual fade overlays and audio volume.
// Each step advances a gween tween by the clock time elapsed since the
// previous step, so a late tick catches up instead of stretching the fade.
package fade

import (
	"time"

	"narrative-playout/internal/clock"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// DefaultStep is the interval between value updates.
const DefaultStep = 50 * time.Millisecond

// Fade is a running tween. The zero value is not usable; use Start.
type Fade struct {
	clk    clock.Clock
	tween  *gween.Tween
	set    func(float64)
	done   func()
	ticker clock.Timer
	last   time.Time
	value  float64
	active bool
}

// Start tweens from → to over d, calling set every step and done once the
// target is reached. Either callback may be nil. A non-positive d applies
// the target immediately.
func Start(clk clock.Clock, from, to float64, d, step time.Duration, fn ease.TweenFunc, set func(float64), done func()) *Fade {
	if fn == nil {
		fn = ease.Linear
	}
	if step <= 0 {
		step = DefaultStep
	}
	f := &Fade{clk: clk, set: set, done: done, value: from}
	if d <= 0 {
		f.finish(to)
		return f
	}
	f.tween = gween.New(float32(from), float32(to), float32(d.Seconds()), fn)
	f.last = clk.Now()
	f.active = true
	f.apply(from)
	f.ticker = clk.Every(step, f.step)
	return f
}

// Value returns the most recently applied value.
func (f *Fade) Value() float64 { return f.value }

// Running reports whether the fade has neither finished nor been stopped.
func (f *Fade) Running() bool { return f.active }

// Stop halts the fade where it is without calling done. It reports whether
// the fade was running.
func (f *Fade) Stop() bool {
	if f == nil || !f.active {
		return false
	}
	f.active = false
	clock.StopTimer(f.ticker)
	return true
}

func (f *Fade) step() {
	if !f.active {
		return
	}
	now := f.clk.Now()
	dt := now.Sub(f.last).Seconds()
	f.last = now
	v, finished := f.tween.Update(float32(dt))
	if finished {
		f.active = false
		clock.StopTimer(f.ticker)
		f.finish(float64(v))
		return
	}
	f.apply(float64(v))
}

func (f *Fade) finish(to float64) {
	f.apply(to)
	if f.done != nil {
		f.done()
	}
}

func (f *Fade) apply(v float64) {
	f.value = v
	if f.set != nil {
		f.set(v)
	}
}
