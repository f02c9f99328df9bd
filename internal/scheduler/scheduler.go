// Package scheduler starts and clears time-windowed callbacks against an
// externally sampled playback position, and runs the one-shot behaviours
// of a finished representation.
//
// The playback position belongs to a media backend, not to the scheduler, so
// windows are evaluated by polling at a fixed tick rather than by arming
// timers per event.
package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"narrative-playout/internal/clock"
)

// DefaultInterval is the tick period used when Config.Interval is zero.
const DefaultInterval = 10 * time.Millisecond

// Forever is the end time of a window that never closes.
var Forever = math.Inf(1)

// TimedEvent is a callback pair bound to the window [Start, End] of the
// playback timeline, in seconds.
type TimedEvent struct {
	ID      string
	Start   float64
	End     float64
	OnStart func()
	// OnClear is optional. Errors and panics are logged and swallowed.
	OnClear func() error

	running bool
}

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	// Now samples the playback position. It reports false while no position
	// is available, which skips the tick.
	Now func() (float64, bool)
	// Allowed gates evaluation until the viewer has started playback. Nil
	// always allows.
	Allowed func() bool
	Logger  *slog.Logger
}

// Scheduler polls a time source and fires TimedEvents as the position
// enters and leaves their windows. It is driven from the control goroutine.
type Scheduler struct {
	clk      clock.Clock
	interval time.Duration
	now      func() (float64, bool)
	allowed  func() bool
	log      *slog.Logger

	events map[string]*TimedEvent
	ticker clock.Timer
}

// New returns a disarmed Scheduler.
func New(clk clock.Clock, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		clk:      clk,
		interval: cfg.Interval,
		now:      cfg.Now,
		allowed:  cfg.Allowed,
		log:      cfg.Logger,
		events:   make(map[string]*TimedEvent),
	}
}

// Add registers ev, replacing any event with the same id. A replaced event
// that was running is cleared first.
func (s *Scheduler) Add(ev TimedEvent) {
	if old, ok := s.events[ev.ID]; ok && old.running {
		s.clear(old)
	}
	ev.running = false
	s.events[ev.ID] = &ev
}

// Remove drops the event with the given id without clearing it.
func (s *Scheduler) Remove(id string) bool {
	if _, ok := s.events[id]; !ok {
		return false
	}
	delete(s.events, id)
	return true
}

// Reset drops every event without clearing them.
func (s *Scheduler) Reset() {
	s.events = make(map[string]*TimedEvent)
}

// Len returns the number of registered events.
func (s *Scheduler) Len() int { return len(s.events) }

// Running reports whether the event with the given id has started and not
// been cleared.
func (s *Scheduler) Running(id string) bool {
	ev, ok := s.events[id]
	return ok && ev.running
}

// Arm evaluates the events immediately and then on every tick. Arming an
// armed scheduler restarts its ticker.
func (s *Scheduler) Arm() {
	s.Disarm()
	s.Tick()
	s.ticker = s.clk.Every(s.interval, s.Tick)
}

// Disarm stops the ticker.
func (s *Scheduler) Disarm() {
	clock.StopTimer(s.ticker)
	s.ticker = nil
}

// Armed reports whether the ticker is running.
func (s *Scheduler) Armed() bool { return s.ticker != nil }

// Tick evaluates every event once against the current position, in id order.
func (s *Scheduler) Tick() {
	if s.allowed != nil && !s.allowed() {
		return
	}
	if s.now == nil {
		return
	}
	now, ok := s.now()
	if !ok {
		return
	}

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ev, ok := s.events[id]
		if !ok {
			// Removed by an earlier callback in this tick.
			continue
		}
		inWindow := now >= ev.Start && now <= ev.End
		switch {
		case inWindow && !ev.running:
			ev.running = true
			if ev.OnStart != nil {
				ev.OnStart()
			}
		case !inWindow && ev.running:
			ev.running = false
			s.clear(ev)
		}
	}
}

func (s *Scheduler) clear(ev *TimedEvent) {
	if ev.OnClear == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("timed event clear panicked",
				slog.String("event_id", ev.ID),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := ev.OnClear(); err != nil {
		s.log.Warn("timed event clear failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()))
	}
}
