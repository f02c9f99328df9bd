package scheduler

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"narrative-playout/internal/behaviour"
	"narrative-playout/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type feed struct {
	t  float64
	ok bool
}

func (f *feed) now() (float64, bool) { return f.t, f.ok }

func newTestScheduler(f *feed, allowed func() bool) (*Scheduler, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk, Config{Now: f.now, Allowed: allowed, Logger: quietLogger()})
	return s, clk
}

func TestScheduler_WindowStartsOnceAndClearsOnce(t *testing.T) {
	f := &feed{ok: true}
	s, _ := newTestScheduler(f, nil)

	var log []string
	s.Add(TimedEvent{
		ID:      "ev",
		Start:   5,
		End:     10,
		OnStart: func() { log = append(log, "start") },
		OnClear: func() error { log = append(log, "clear"); return nil },
	})

	expected := map[float64][]string{
		0:  nil,
		4:  nil,
		5:  {"start"},
		7:  {"start"},
		10: {"start"},
		11: {"start", "clear"},
	}
	for _, at := range []float64{0, 4, 5, 7, 10, 11} {
		f.t = at
		s.Tick()
		assert.Equal(t, expected[at], log, "t=%v", at)
	}
	assert.False(t, s.Running("ev"))
}

func TestScheduler_OpenEndedWindowNeverClears(t *testing.T) {
	f := &feed{ok: true}
	s, _ := newTestScheduler(f, nil)

	starts, clears := 0, 0
	s.Add(TimedEvent{
		ID: "forever", Start: 2, End: Forever,
		OnStart: func() { starts++ },
		OnClear: func() error { clears++; return nil },
	})
	for _, at := range []float64{1, 2, 100, 1e9} {
		f.t = at
		s.Tick()
	}
	assert.Equal(t, 1, starts)
	assert.Zero(t, clears)

	// Seeking back before the window clears it.
	f.t = 0
	s.Tick()
	assert.Equal(t, 1, clears)
}

func TestScheduler_GateAndUnavailableTime(t *testing.T) {
	f := &feed{t: 3}
	allowed := false
	s, _ := newTestScheduler(f, func() bool { return allowed })

	started := 0
	s.Add(TimedEvent{ID: "ev", Start: 0, End: Forever, OnStart: func() { started++ }})

	f.ok = true
	s.Tick()
	assert.Zero(t, started, "no evaluation before interaction")

	allowed = true
	f.ok = false
	s.Tick()
	assert.Zero(t, started, "no evaluation without a position")

	f.ok = true
	s.Tick()
	assert.Equal(t, 1, started)
}

func TestScheduler_ClearFailuresAreSwallowed(t *testing.T) {
	f := &feed{ok: true, t: 1}
	s, _ := newTestScheduler(f, nil)

	s.Add(TimedEvent{ID: "a", Start: 0, End: 2, OnStart: func() {},
		OnClear: func() error { return errors.New("node already removed") }})
	s.Add(TimedEvent{ID: "b", Start: 0, End: 2, OnStart: func() {},
		OnClear: func() error { panic("boom") }})
	cleared := false
	s.Add(TimedEvent{ID: "c", Start: 0, End: 2, OnStart: func() {},
		OnClear: func() error { cleared = true; return nil }})

	s.Tick()
	f.t = 3
	assert.NotPanics(t, s.Tick)
	assert.True(t, cleared)
}

func TestScheduler_ArmTicksAtInterval(t *testing.T) {
	f := &feed{ok: true}
	s, clk := newTestScheduler(f, nil)

	started := false
	s.Add(TimedEvent{ID: "ev", Start: 0.5, End: Forever, OnStart: func() { started = true }})
	s.Arm()
	require.True(t, s.Armed())

	f.t = 0.5
	clk.Advance(DefaultInterval)
	assert.True(t, started)

	s.Disarm()
	assert.False(t, s.Armed())
	assert.Zero(t, clk.Pending())
}

func TestScheduler_AddReplacesAndClearsRunning(t *testing.T) {
	f := &feed{ok: true, t: 1}
	s, _ := newTestScheduler(f, nil)
	cleared := 0
	s.Add(TimedEvent{ID: "x", Start: 0, End: 5, OnStart: func() {},
		OnClear: func() error { cleared++; return nil }})
	s.Tick()
	require.True(t, s.Running("x"))

	s.Add(TimedEvent{ID: "x", Start: 0, End: 5, OnStart: func() {}})
	assert.Equal(t, 1, cleared)
	assert.False(t, s.Running("x"))
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("x"))
	assert.False(t, s.Remove("x"))
}

func TestRunner_CompletesWhenAllDone(t *testing.T) {
	r := NewRunner(quietLogger())
	var dones []func()
	apply := func(b behaviour.Behaviour, done func()) func() {
		dones = append(dones, done)
		return nil
	}
	completed := 0
	ok := r.Run([]behaviour.Behaviour{{ID: "a"}, {ID: "b"}}, apply, func() { completed++ })
	require.True(t, ok)
	assert.Equal(t, 2, r.Pending())

	dones[0]()
	dones[0]()
	assert.Zero(t, completed, "done is counted once per behaviour")
	dones[1]()
	assert.Equal(t, 1, completed)
}

func TestRunner_EmptyAndSynchronous(t *testing.T) {
	r := NewRunner(quietLogger())
	assert.False(t, r.Run(nil, nil, func() { t.Fatal("must not complete") }))

	completed := false
	sync := func(b behaviour.Behaviour, done func()) func() { done(); return func() {} }
	assert.True(t, r.Run([]behaviour.Behaviour{{ID: "a"}}, sync, func() { completed = true }))
	assert.True(t, completed)
}

func TestRunner_DestroyCancelsAndIgnoresLateDone(t *testing.T) {
	r := NewRunner(quietLogger())
	var done func()
	cancelled := false
	apply := func(b behaviour.Behaviour, d func()) func() {
		done = d
		return func() { cancelled = true }
	}
	r.Run([]behaviour.Behaviour{{ID: "pause"}}, apply, func() { t.Fatal("late completion") })

	r.Destroy()
	assert.True(t, cancelled)
	done()
	assert.Zero(t, r.Pending())
}
