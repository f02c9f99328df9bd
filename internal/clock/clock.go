// Package clock provides the single cooperative timeline every playback
// component runs on.
//
// All renderer, scheduler, resolver and pool code assumes it is invoked from
// one control goroutine. Timers, tickers, externally fired events and the
// continuations of asynchronous work are funnelled onto that goroutine
// through Post, so components never lock their own state.
//
// Two implementations exist:
//   - Loop executes posted work on a dedicated goroutine and uses wall-clock
//     timers. It is what the server and CLI run on.
//   - Manual is a deterministic clock for tests: time only moves on Advance,
//     and posted work runs on Drain or Advance.
package clock

import "time"

// Timer is a handle to a pending one-shot or repeating callback.
type Timer interface {
	// Stop prevents any further invocation. It reports whether the timer was
	// still pending.
	Stop() bool
}

// Clock is the time source and executor shared by playback components.
type Clock interface {
	Now() time.Time
	// AfterFunc runs fn on the control goroutine once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn on the control goroutine every d until stopped.
	Every(d time.Duration, fn func()) Timer
	// Post queues fn to run on the control goroutine.
	Post(fn func())
	// Go runs blocking work off the control goroutine. Results must be
	// handed back through Post.
	Go(fn func())
}

// Await runs work off the control goroutine and delivers its result to then
// on the control goroutine. It is the suspension point used for fetches.
func Await[T any](c Clock, work func() (T, error), then func(T, error)) {
	c.Go(func() {
		v, err := work()
		c.Post(func() { then(v, err) })
	})
}

// StopTimer stops t if it is non-nil.
func StopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
