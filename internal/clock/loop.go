package clock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopStopped is returned by Do when the loop is no longer running.
var ErrLoopStopped = errors.New("control loop stopped")

// DefaultQueueSize is the number of posted tasks buffered before Post blocks.
const DefaultQueueSize = 256

// Loop is a single-goroutine executor backed by wall-clock timers.
//
// Work posted from any goroutine runs serially on the goroutine that called
// Run, in the order it was posted.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop returns a Loop with the given task buffer. If size <= 0,
// DefaultQueueSize is used.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes posted tasks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post implements Clock.Post. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements Clock.Now.
func (l *Loop) Now() time.Time { return time.Now() }

// Go implements Clock.Go.
func (l *Loop) Go(fn func()) { go fn() }

// AfterFunc implements Clock.AfterFunc.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			// Stop may have been called after the wall-clock timer fired but
			// before the task reached the loop.
			if t.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return t
}

// Every implements Clock.Every.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	t := &loopTicker{stop: make(chan struct{})}
	go func() {
		tk := time.NewTicker(d)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				l.Post(func() {
					if !t.stopped.Load() {
						fn()
					}
				})
			case <-t.stop:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return !t.stopped.Swap(true)
}

type loopTicker struct {
	stop    chan struct{}
	stopped atomic.Bool
}

func (t *loopTicker) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	close(t.stop)
	return true
}
