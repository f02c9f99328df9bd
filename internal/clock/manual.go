package clock

import "time"

// Manual is a deterministic Clock for tests and headless simulation.
//
// Time only moves on Advance. Timers fire in due order (ties broken by
// registration order) with Now set to their due time, and posted work is
// drained after every callback. Go runs work synchronously; its Post-ed
// continuation waits for the next Drain or Advance, which keeps async
// suspension points observable.
type Manual struct {
	now    time.Time
	seq    uint64
	timers []*manualTimer
	posted []func()
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.Now.
func (m *Manual) Now() time.Time { return m.now }

// AfterFunc implements Clock.AfterFunc.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

// Every implements Clock.Every.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return m.add(d, d, fn)
}

// Post implements Clock.Post.
func (m *Manual) Post(fn func()) { m.posted = append(m.posted, fn) }

// Go implements Clock.Go.
func (m *Manual) Go(fn func()) { fn() }

// Drain runs posted work, including work posted while draining.
func (m *Manual) Drain() {
	for len(m.posted) > 0 {
		fn := m.posted[0]
		m.posted = m.posted[1:]
		fn()
	}
}

// Advance moves time forward by d, firing every timer that falls due.
func (m *Manual) Advance(d time.Duration) {
	end := m.now.Add(d)
	m.Drain()
	for {
		t := m.next(end)
		if t == nil {
			break
		}
		m.now = t.due
		if t.period > 0 {
			t.due = t.due.Add(t.period)
			t.seq = m.nextSeq()
		} else {
			m.remove(t)
		}
		t.fn()
		m.Drain()
	}
	m.now = end
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int { return len(m.timers) }

func (m *Manual) add(d, period time.Duration, fn func()) *manualTimer {
	t := &manualTimer{m: m, due: m.now.Add(d), period: period, fn: fn, seq: m.nextSeq()}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) next(end time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.due.After(end) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (m *Manual) remove(t *manualTimer) bool {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manual) nextSeq() uint64 {
	m.seq++
	return m.seq
}

type manualTimer struct {
	m      *Manual
	due    time.Time
	period time.Duration
	seq    uint64
	fn     func()
}

func (t *manualTimer) Stop() bool { return t.m.remove(t) }
