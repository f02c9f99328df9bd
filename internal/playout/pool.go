// Package playout pools scarce media outputs across the renderers of a
// playback session.
//
// Every renderer owns one slot keyed by its RendererID. Queuing a slot
// records what it will play; activating it binds a physical output from the
// InstanceManager and replays any listeners registered while inactive.
// Inactive slots keep their output so switching back is instant; only
// Unqueue gives the output back.
//
// A Pool is not safe for concurrent use. It is driven from the control
// goroutine of a clock.Clock.
package playout

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/platform/metrics"
)

// ErrUnknownSlot is returned when an operation requires a queued slot.
var ErrUnknownSlot = errors.New("unknown playout slot")

// SeekPolicy bounds the correction loop applied after a seek.
type SeekPolicy struct {
	RetryInterval time.Duration
	MaxAttempts   int
	// Tolerance is the accepted distance, in seconds, from the target.
	Tolerance float64
}

// DefaultSeekPolicy returns the policy used when none is configured.
func DefaultSeekPolicy() SeekPolicy {
	return SeekPolicy{RetryInterval: 100 * time.Millisecond, MaxAttempts: 5, Tolerance: 0.25}
}

// Affordances receives per-slot UI controls as slots become active.
type Affordances interface {
	AddVolumeControl(id RendererID, label string)
	RemoveVolumeControl(id RendererID)
}

// Subscription identifies a listener registered with On. The zero value is
// never issued.
type Subscription uint64

type subscription struct {
	id       Subscription
	ev       Event
	fn       func()
	outputID int
}

type seekState struct {
	target   float64
	attempts int
	listener int
	timer    clock.Timer
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(log *slog.Logger) Option { return func(p *Pool) { p.log = log } }

// WithMetrics sets the metrics sink. It may be nil.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// WithSeekPolicy overrides DefaultSeekPolicy.
func WithSeekPolicy(sp SeekPolicy) Option { return func(p *Pool) { p.seek = sp } }

// WithAffordances registers the owner of per-slot UI controls.
func WithAffordances(a Affordances) Option { return func(p *Pool) { p.affordances = a } }

// Pool is the media resource pool.
type Pool struct {
	clk         clock.Clock
	store       SlotStore
	instances   *InstanceManager
	log         *slog.Logger
	metrics     *metrics.Metrics
	seek        SeekPolicy
	affordances Affordances

	nextSub           Subscription
	playing           bool
	permissionToPlay  bool
	backgroundsPaused bool
	subtitlesShowing  bool
}

// NewPool returns an empty pool drawing outputs from instances.
func NewPool(clk clock.Clock, instances *InstanceManager, opts ...Option) *Pool {
	p := &Pool{
		clk:       clk,
		store:     NewInMemorySlotStore(),
		instances: instances,
		log:       slog.Default(),
		seek:      DefaultSeekPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Queue creates the slot for id if absent and merges d into its descriptor.
// It never activates the slot.
func (p *Pool) Queue(id RendererID, d Descriptor) {
	s, ok := p.store.Get(id)
	if !ok {
		s = &Slot{ID: id, attached: make(map[Subscription]*subscription)}
		p.store.Put(s)
	}
	prev := s.Media
	s.Media = s.Media.Merge(d)
	if s.Media.Type == "" {
		s.Media.Type = MediaForegroundAV
	}
	if s.Instance == nil {
		return
	}
	out := s.Instance.Output
	if s.Media.URL != prev.URL {
		out.Load(s.Media.URL)
	}
	out.SetLoop(s.Media.Looping())
	p.applySubtitles(s)
}

// SetActive activates the slot for id. The first activation checks out an
// output of the slot's class; when none is free the slot stays inactive and
// ErrPoolExhausted is returned.
func (p *Pool) SetActive(id RendererID) error {
	s, ok := p.store.Get(id)
	if !ok {
		return fmt.Errorf("activate %s: %w", id, ErrUnknownSlot)
	}
	if s.Active {
		return nil
	}
	if s.Instance == nil {
		class := s.Media.Type.Class()
		inst, err := p.instances.Checkout(class, id)
		if err != nil {
			p.metrics.IncCheckoutRejected(string(class))
			p.log.Warn("playout activation rejected",
				slog.String("renderer_id", string(id)),
				slog.String("class", string(class)),
				slog.String("error", err.Error()))
			return err
		}
		s.Instance = inst
		inst.Output.Load(s.Media.URL)
		inst.Output.SetLoop(s.Media.Looping())
	}
	s.Active = true

	for _, sub := range s.queued {
		p.attach(s, sub)
	}
	s.queued = nil

	if s.pendingAt != nil {
		t := *s.pendingAt
		s.pendingAt = nil
		p.seekSlot(s, t)
	}
	p.applySubtitles(s)
	if p.affordances != nil {
		p.affordances.AddVolumeControl(id, string(s.Media.Type))
	}
	if p.playing && p.permissionToPlay && p.follows(s) {
		s.Instance.Output.Play()
	}

	p.log.Debug("playout active",
		slog.String("renderer_id", string(id)),
		slog.String("instance", s.Instance.ID))
	return nil
}

// SetInactive deactivates the slot for id, keeping its output bound.
// Missing slots are ignored.
func (p *Pool) SetInactive(id RendererID) {
	s, ok := p.store.Get(id)
	if !ok || !s.Active {
		return
	}
	s.Active = false
	if s.Instance != nil {
		s.Instance.Output.Pause()
		s.Instance.Output.DetachSubtitles()
	}
	if p.affordances != nil {
		p.affordances.RemoveVolumeControl(id)
	}
	p.log.Debug("playout inactive", slog.String("renderer_id", string(id)))
}

// Unqueue deactivates the slot for id, returns its output to the pool and
// deletes it. Missing slots are ignored.
func (p *Pool) Unqueue(id RendererID) {
	s, ok := p.store.Get(id)
	if !ok {
		return
	}
	p.SetInactive(id)
	p.stopSeek(s)
	if s.Instance != nil {
		for _, sub := range s.attached {
			s.Instance.Output.RemoveListener(sub.outputID)
		}
		p.instances.Return(s.Instance)
		s.Instance = nil
	}
	s.attached = nil
	s.queued = nil
	p.store.Delete(id)
	p.log.Debug("playout unqueued", slog.String("renderer_id", string(id)))
}

// On registers fn for ev on the slot for id. Active slots attach to their
// output directly; inactive slots hold the listener until activation.
// Missing slots are ignored and the zero Subscription is returned.
func (p *Pool) On(id RendererID, ev Event, fn func()) Subscription {
	s, ok := p.store.Get(id)
	if !ok {
		return 0
	}
	p.nextSub++
	sub := &subscription{id: p.nextSub, ev: ev, fn: fn}
	if s.Active && s.Instance != nil {
		p.attach(s, sub)
	} else {
		s.queued = append(s.queued, sub)
	}
	return sub.id
}

// Off removes a listener registered with On. Unknown slots and
// subscriptions are ignored.
func (p *Pool) Off(id RendererID, subID Subscription) {
	s, ok := p.store.Get(id)
	if !ok || subID == 0 {
		return
	}
	if sub, ok := s.attached[subID]; ok {
		if s.Instance != nil {
			s.Instance.Output.RemoveListener(sub.outputID)
		}
		delete(s.attached, subID)
		return
	}
	for i, sub := range s.queued {
		if sub.id == subID {
			s.queued = append(s.queued[:i], s.queued[i+1:]...)
			return
		}
	}
}

// Play starts global playback of active foreground slots, and of active
// background slots unless they were paused with PauseBackgrounds. Nothing
// plays until permission has been granted.
func (p *Pool) Play() {
	p.playing = true
	if !p.permissionToPlay {
		p.log.Debug("play deferred until permission to play")
		return
	}
	p.eachActive(func(s *Slot) {
		if p.follows(s) {
			s.Instance.Output.Play()
		}
	})
}

// Pause pauses active foreground slots. Background slots keep playing.
func (p *Pool) Pause() {
	p.playing = false
	p.eachActive(func(s *Slot) {
		if s.Media.Type.Foreground() {
			s.Instance.Output.Pause()
		}
	})
}

// IsPlaying reports the global transport state.
func (p *Pool) IsPlaying() bool { return p.playing }

// PlayBackgrounds resumes active background slots.
func (p *Pool) PlayBackgrounds() {
	p.backgroundsPaused = false
	if !p.permissionToPlay {
		return
	}
	p.eachActive(func(s *Slot) {
		if !s.Media.Type.Foreground() {
			s.Instance.Output.Play()
		}
	})
}

// PauseBackgrounds pauses active background slots.
func (p *Pool) PauseBackgrounds() {
	p.backgroundsPaused = true
	p.eachActive(func(s *Slot) {
		if !s.Media.Type.Foreground() {
			s.Instance.Output.Pause()
		}
	})
}

// SetPermissionToPlay records whether the viewer has allowed playback. If
// playback was requested earlier it starts now.
func (p *Pool) SetPermissionToPlay(granted bool) {
	p.permissionToPlay = granted
	if granted && p.playing {
		p.Play()
	}
}

// SetSubtitlesShowing toggles subtitle tracks on every active slot that has
// one.
func (p *Pool) SetSubtitlesShowing(show bool) {
	p.subtitlesShowing = show
	for _, id := range p.store.IDs() {
		if s, ok := p.store.Get(id); ok {
			p.applySubtitles(s)
		}
	}
}

// SubtitlesShowing reports the pool-wide subtitle setting.
func (p *Pool) SubtitlesShowing() bool { return p.subtitlesShowing }

// SetCurrentTime seeks the slot for id to t seconds. When the media is not
// buffered yet the seek waits for EventDataReady; a slot that has never been
// activated applies it on activation. The seek is then re-applied until the
// output reports a position within tolerance or the attempt cap is reached.
// It reports false only for a missing slot.
func (p *Pool) SetCurrentTime(id RendererID, t float64) bool {
	s, ok := p.store.Get(id)
	if !ok {
		return false
	}
	if s.Instance == nil {
		s.pendingAt = &t
		return true
	}
	p.seekSlot(s, t)
	return true
}

// CurrentTime returns the playhead of the slot for id. It reports false for
// missing, unbound or still-buffering slots.
func (p *Pool) CurrentTime(id RendererID) (float64, bool) {
	out, ok := p.readyOutput(id)
	if !ok {
		return 0, false
	}
	return out.CurrentTime(), true
}

// Duration returns the media duration of the slot for id.
func (p *Pool) Duration(id RendererID) (float64, bool) {
	out, ok := p.readyOutput(id)
	if !ok {
		return 0, false
	}
	return out.Duration()
}

// IsEnded reports whether the slot's media played to its end.
func (p *Pool) IsEnded(id RendererID) bool {
	s, ok := p.store.Get(id)
	return ok && s.Instance != nil && s.Instance.Output.Ended()
}

// IsActive reports whether the slot for id exists and is active.
func (p *Pool) IsActive(id RendererID) bool {
	s, ok := p.store.Get(id)
	return ok && s.Active
}

// IsLooping reports whether the slot for id loops.
func (p *Pool) IsLooping(id RendererID) bool {
	s, ok := p.store.Get(id)
	return ok && s.Media.Looping()
}

// SetLoop changes looping of the slot for id.
func (p *Pool) SetLoop(id RendererID, loop bool) {
	if _, ok := p.store.Get(id); !ok {
		return
	}
	p.Queue(id, Descriptor{Loop: &loop})
}

// SetVolume sets the output volume of the slot for id, in [0, 1].
func (p *Pool) SetVolume(id RendererID, v float64) {
	s, ok := p.store.Get(id)
	if !ok || s.Instance == nil {
		return
	}
	s.Instance.Output.SetVolume(v)
}

// Volume returns the output volume of the slot for id.
func (p *Pool) Volume(id RendererID) (float64, bool) {
	s, ok := p.store.Get(id)
	if !ok || s.Instance == nil {
		return 0, false
	}
	return s.Instance.Output.Volume(), true
}

// Slot returns a snapshot of the slot for id.
func (p *Pool) Slot(id RendererID) (SlotInfo, bool) {
	s, ok := p.store.Get(id)
	if !ok {
		return SlotInfo{}, false
	}
	info := SlotInfo{ID: s.ID, Media: s.Media, Active: s.Active}
	if s.Instance != nil {
		info.InstanceID = s.Instance.ID
	}
	if t, ok := p.CurrentTime(id); ok {
		info.CurrentTime = &t
	}
	return info, true
}

// Slots returns snapshots of every slot ordered by id.
func (p *Pool) Slots() []SlotInfo {
	ids := p.store.IDs()
	out := make([]SlotInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := p.Slot(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Stats summarises pool occupancy.
func (p *Pool) Stats() Stats {
	st := Stats{InstancesInUse: p.instances.InUse()}
	for _, id := range p.store.IDs() {
		st.Queued++
		if s, ok := p.store.Get(id); ok && s.Active {
			st.Active++
		}
	}
	return st
}

func (p *Pool) attach(s *Slot, sub *subscription) {
	sub.outputID = s.Instance.Output.AddListener(sub.ev, sub.fn)
	s.attached[sub.id] = sub
}

func (p *Pool) follows(s *Slot) bool {
	return s.Media.Type.Foreground() || !p.backgroundsPaused
}

func (p *Pool) eachActive(fn func(s *Slot)) {
	for _, id := range p.store.IDs() {
		if s, ok := p.store.Get(id); ok && s.Active && s.Instance != nil {
			fn(s)
		}
	}
}

func (p *Pool) readyOutput(id RendererID) (Output, bool) {
	s, ok := p.store.Get(id)
	if !ok || s.Instance == nil || !s.Instance.Output.Ready() {
		return nil, false
	}
	return s.Instance.Output, true
}

func (p *Pool) applySubtitles(s *Slot) {
	if s.Instance == nil {
		return
	}
	out := s.Instance.Output
	want := s.Active && p.subtitlesShowing && s.Media.SubtitlesURL != ""
	switch {
	case want:
		out.AttachSubtitles(s.Media.SubtitlesURL)
	case out.SubtitlesAttached():
		out.DetachSubtitles()
	}
}

func (p *Pool) seekSlot(s *Slot, t float64) {
	p.stopSeek(s)
	st := &seekState{target: t}
	s.seek = st
	out := s.Instance.Output
	if out.Ready() {
		p.applySeek(s, st)
		return
	}
	st.listener = out.AddListener(EventDataReady, func() {
		if s.seek != st {
			return
		}
		out.RemoveListener(st.listener)
		st.listener = 0
		p.applySeek(s, st)
	})
}

func (p *Pool) applySeek(s *Slot, st *seekState) {
	out := s.Instance.Output
	out.SetCurrentTime(st.target)
	st.timer = p.clk.AfterFunc(p.seek.RetryInterval, func() {
		if s.seek != st || s.Instance == nil {
			return
		}
		if math.Abs(out.CurrentTime()-st.target) <= p.seek.Tolerance {
			s.seek = nil
			return
		}
		if st.attempts >= p.seek.MaxAttempts {
			p.log.Debug("seek correction abandoned",
				slog.String("renderer_id", string(s.ID)),
				slog.Float64("target", st.target),
				slog.Float64("position", out.CurrentTime()))
			s.seek = nil
			return
		}
		st.attempts++
		p.metrics.IncSeekRetries()
		p.applySeek(s, st)
	})
}

func (p *Pool) stopSeek(s *Slot) {
	st := s.seek
	if st == nil {
		return
	}
	clock.StopTimer(st.timer)
	if st.listener != 0 && s.Instance != nil {
		s.Instance.Output.RemoveListener(st.listener)
	}
	s.seek = nil
}
