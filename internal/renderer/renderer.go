// Package renderer drives the presentation of one narrative element's
// representation.
//
// A Renderer owns one id in the playout pool, a behaviour scheduler for its
// during behaviours, a runner for its completed behaviours and a link-choice
// resolver. It moves through the phases
//
//	constructing → constructed → main → [media finished →] completing → ended → destroyed
//
// and reports its progress to the sequencer through events. Everything runs
// on the clock's control goroutine. Asynchronous fetches check the
// destroyed flag before touching the renderer again.
package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"narrative-playout/internal/behaviour"
	"narrative-playout/internal/clock"
	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/metrics"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/scheduler"
)

// Policy holds the renderer's timing values.
type Policy struct {
	// StartRetry is how long Start waits before retrying while the
	// renderer is still constructing.
	StartRetry time.Duration
	// Tick is the behaviour scheduler's polling interval.
	Tick time.Duration
	// SeekStep is the distance of the seek buttons, in seconds.
	SeekStep float64
	// ControlHideLead is how far ahead of a control-hiding behaviour the
	// controls are hidden, in seconds.
	ControlHideLead float64
	// InspectInterval is how often content checks its own progress.
	InspectInterval time.Duration
	// StallWindow is how close to the end a stalled playhead counts as
	// finished; StallTimeout is how long it must not move.
	StallWindow  time.Duration
	StallTimeout time.Duration
	FadeStep     time.Duration
	Choice       linkchoice.Policy
}

// DefaultPolicy returns the policy used for unset fields.
func DefaultPolicy() Policy {
	return Policy{
		StartRetry:      100 * time.Millisecond,
		Tick:            scheduler.DefaultInterval,
		SeekStep:        10,
		ControlHideLead: 0.4,
		InspectInterval: 50 * time.Millisecond,
		StallWindow:     2 * time.Second,
		StallTimeout:    time.Second,
		FadeStep:        50 * time.Millisecond,
		Choice:          linkchoice.DefaultPolicy(),
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.StartRetry <= 0 {
		p.StartRetry = d.StartRetry
	}
	if p.Tick <= 0 {
		p.Tick = d.Tick
	}
	if p.SeekStep <= 0 {
		p.SeekStep = d.SeekStep
	}
	if p.ControlHideLead <= 0 {
		p.ControlHideLead = d.ControlHideLead
	}
	if p.InspectInterval <= 0 {
		p.InspectInterval = d.InspectInterval
	}
	if p.StallWindow <= 0 {
		p.StallWindow = d.StallWindow
	}
	if p.StallTimeout <= 0 {
		p.StallTimeout = d.StallTimeout
	}
	if p.FadeStep <= 0 {
		p.FadeStep = d.FadeStep
	}
	if p.Choice.FadeDelay <= 0 {
		p.Choice.FadeDelay = d.Choice.FadeDelay
	}
	if p.Choice.FadeStep <= 0 {
		p.Choice.FadeStep = p.FadeStep
	}
	return p
}

// Config wires a Renderer to its collaborators.
type Config struct {
	// ID defaults to a fresh random id.
	ID         playout.RendererID
	Element    *narrative.Element
	Clock      clock.Clock
	Pool       *playout.Pool
	Controller narrative.Controller
	Fetcher    narrative.Fetcher
	Surface    Surface
	Policy     Policy
	// Content defaults to DefaultContent.
	Content ContentFactory
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Renderer presents one representation.
type Renderer struct {
	id      playout.RendererID
	element *narrative.Element
	rep     narrative.Representation
	clk     clock.Clock
	pool    *playout.Pool
	ctrl    narrative.Controller
	fetcher narrative.Fetcher
	surface Surface
	policy  Policy
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	content  Content
	sched    *scheduler.Scheduler
	runner   *scheduler.Runner
	resolver *linkchoice.Resolver
	events   emitter

	phase        Phase
	destroyed    bool
	loadFailed   bool
	startPending bool
	startRetry   clock.Timer
	transportOff func()
	pauseSkip    func()
	duringCancel map[string]func() error
}

// New builds a Renderer for cfg.Element and starts loading its content in
// the background. It fails when the representation uses a behaviour kind
// without a handler.
func New(cfg Config) (*Renderer, error) {
	if cfg.Element == nil {
		return nil, fmt.Errorf("new renderer: %w", narrative.ErrUnknownElement)
	}
	rep := cfg.Element.Representation
	if err := CheckBehaviours(rep.Behaviours); err != nil {
		return nil, fmt.Errorf("representation %q: %w", rep.ID, err)
	}
	if cfg.ID == "" {
		cfg.ID = playout.NewRendererID()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Content == nil {
		cfg.Content = DefaultContent
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Renderer{
		id:      cfg.ID,
		element: cfg.Element,
		rep:     rep,
		clk:     cfg.Clock,
		pool:    cfg.Pool,
		ctrl:    cfg.Controller,
		fetcher: cfg.Fetcher,
		surface: cfg.Surface,
		policy:  cfg.Policy.withDefaults(),
		log: cfg.Logger.With(
			slog.String("renderer_id", string(cfg.ID)),
			slog.String("representation_id", rep.ID)),
		metrics:      cfg.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		duringCancel: make(map[string]func() error),
	}
	r.sched = scheduler.New(r.clk, scheduler.Config{
		Interval: r.policy.Tick,
		Now:      r.timelinePosition,
		Allowed:  r.surface.InteractionStarted,
		Logger:   r.log,
	})
	r.runner = scheduler.NewRunner(r.log)
	r.resolver = linkchoice.New(linkchoice.Config{
		Owner:      r.id,
		Clock:      r.clk,
		Controller: r.ctrl,
		Fetcher:    r.fetcher,
		Surface:    r.surface,
		Host:       r,
		Policy:     r.policy.Choice,
		Logger:     r.log,
		Metrics:    r.metrics,
	})
	r.content = cfg.Content(r)
	r.load()
	return r, nil
}

func (r *Renderer) load() {
	ctx := r.ctx
	clock.Await(r.clk, func() (func(), error) {
		return r.content.Load(ctx)
	}, func(commit func(), err error) {
		if r.destroyed || r.phase != PhaseConstructing {
			return
		}
		if err != nil {
			r.log.Error("content failed to load", slog.String("error", err.Error()))
			r.loadFailed = true
		} else if commit != nil {
			commit()
		}
		r.setPhase(PhaseConstructed)
		r.events.emit(EventConstructed)
	})
}

// ID returns the renderer's pool id.
func (r *Renderer) ID() playout.RendererID { return r.id }

// Element returns the element being presented.
func (r *Renderer) Element() *narrative.Element { return r.element }

// Phase returns the current phase.
func (r *Renderer) Phase() Phase { return r.phase }

// On registers fn for ev and returns a function that removes it.
func (r *Renderer) On(ev Event, fn func()) (off func()) { return r.events.on(ev, fn) }

// Resolver returns the renderer's link-choice resolver.
func (r *Renderer) Resolver() *linkchoice.Resolver { return r.resolver }

// Start begins presentation. While the renderer is still constructing the
// start is retried after Policy.StartRetry. It fails once the renderer has
// ended.
func (r *Renderer) Start() error {
	switch {
	case r.phase == PhaseEnded || r.phase == PhaseDestroyed:
		return fmt.Errorf("start %s: %w", r.id, ErrEnded)
	case r.phase.started():
		return nil
	case r.phase == PhaseConstructing:
		if !r.startPending {
			r.log.Debug("start deferred until construction completes")
		}
		r.startPending = true
		clock.StopTimer(r.startRetry)
		r.startRetry = r.clk.AfterFunc(r.policy.StartRetry, func() {
			r.startRetry = nil
			if err := r.Start(); err != nil {
				r.log.Warn("deferred start failed", slog.String("error", err.Error()))
			}
		})
		return nil
	}
	r.startPending = false

	failed := r.loadFailed
	if !failed {
		if err := r.content.Start(); err != nil {
			r.log.Error("content failed to start", slog.String("error", err.Error()))
			failed = true
		}
	}

	r.registerDuringBehaviours()
	r.sched.Arm()
	r.transportOff = r.surface.OnTransport(r.onTransport)
	r.setPhase(PhaseMain)
	r.events.emit(EventStarted)

	if failed {
		r.Complete()
	}
	return nil
}

// Complete finishes the main content and runs the completed behaviours.
// It does nothing while a link is being followed, and it leaves the
// renderer waiting while a forced choice is unanswered.
func (r *Renderer) Complete() {
	if r.destroyed || !r.phase.started() || r.phase == PhaseCompleting {
		return
	}
	if r.resolver.FadePending() {
		r.log.Debug("complete skipped while a link fade is pending")
		return
	}
	if r.resolver.TakeOverCompletion() {
		r.log.Info("following the chosen link")
		return
	}
	if r.resolver.ForceChoicePending() {
		r.log.Info("waiting for the viewer to choose")
		return
	}
	if !r.setPhase(PhaseCompleting) {
		return
	}

	completed := r.rep.Behaviours.Completed
	if len(completed) > 0 {
		r.surface.EnterCompleteBehaviourPhase()
	}
	r.events.emit(EventStartedCompleteBehaviours)
	if !r.runner.Run(completed, r.runCompleted, r.completed) {
		r.completed()
	}
}

// MediaFinished is called by the content when it reaches its natural end.
func (r *Renderer) MediaFinished() {
	if r.phase != PhaseMain {
		return
	}
	r.setPhase(PhaseMediaFinished)
	r.Complete()
}

func (r *Renderer) completed() {
	if r.destroyed || r.phase != PhaseCompleting {
		return
	}
	if len(r.rep.Behaviours.Completed) > 0 {
		r.surface.ExitCompleteBehaviourPhase()
	}
	r.events.emit(EventCompleted)
}

// End stops presentation and releases transient state: transport
// listeners, the scheduler, behaviour nodes and chosen links. It returns
// false when the renderer had already ended.
func (r *Renderer) End() bool {
	if r.phase == PhaseEnded || r.phase == PhaseDestroyed {
		return false
	}
	clock.StopTimer(r.startRetry)
	r.startRetry = nil
	r.startPending = false

	if r.transportOff != nil {
		r.transportOff()
		r.transportOff = nil
	}
	r.sched.Disarm()
	r.sched.Reset()
	for id, cancel := range r.duringCancel {
		if err := cancel(); err != nil {
			r.log.Warn("during behaviour cleanup failed", slog.String("behaviour_id", id), slog.String("error", err.Error()))
		}
	}
	r.duringCancel = make(map[string]func() error)
	r.runner.Destroy()
	r.pauseSkip = nil
	r.resolver.End()

	wasStarted := r.phase.started()
	r.setPhase(PhaseEnded)
	if wasStarted && !r.loadFailed {
		r.content.End()
	}
	r.surface.RemoveNodes(r.id)
	return true
}

// Destroy ends the renderer if needed, tears down its content and pool
// slot and emits EventDestroyed. Late asynchronous results are discarded.
// It returns false when already destroyed.
func (r *Renderer) Destroy() bool {
	if r.phase == PhaseDestroyed {
		return false
	}
	r.End()
	r.destroyed = true
	r.cancel()
	r.resolver.Destroy()
	r.content.Destroy()
	r.setPhase(PhaseDestroyed)
	r.events.emit(EventDestroyed)
	r.events.reset()
	return true
}

// SwitchFrom ends the renderer for a swap on the shared surface.
func (r *Renderer) SwitchFrom() bool { return r.End() }

// SwitchTo starts the renderer after a swap.
func (r *Renderer) SwitchTo() error { return r.Start() }

// CueUp prepares content that was buffered ahead of time.
func (r *Renderer) CueUp() {
	if c, ok := r.content.(CueUpper); ok && r.phase == PhaseConstructed {
		c.CueUp()
	}
}

// CurrentTime returns the renderer's timeline position.
func (r *Renderer) CurrentTime() TimeInfo { return r.content.CurrentTime() }

// SetCurrentTime seeks to t seconds and re-evaluates the scheduler. A seek
// from before the first link choice stops at the choice.
func (r *Renderer) SetCurrentTime(t float64) {
	if ct := r.rep.Behaviours.ChoiceTime(); ct >= 0 && t > ct && r.content.CurrentTime().CurrentTime < ct {
		t = ct
	}
	r.content.SetCurrentTime(t)
	if r.sched.Armed() {
		r.sched.Arm()
	}
}

// MediaEnded reports whether the main content has finished.
func (r *Renderer) MediaEnded() bool {
	return r.phase == PhaseMediaFinished || r.phase == PhaseCompleting || r.content.MediaEnded()
}

// RemainingTime returns the time left on the timeline.
func (r *Renderer) RemainingTime() (float64, bool) {
	ti := r.content.CurrentTime()
	if ti.Remaining == nil {
		return 0, false
	}
	return *ti.Remaining, true
}

// ResolveMapping maps a behaviour asset mapping id of the representation.
func (r *Renderer) ResolveMapping(mappingID string) (string, bool) {
	return r.rep.ResolveMapping(mappingID)
}

// EnsurePlaying resumes the transport if it is paused.
func (r *Renderer) EnsurePlaying() {
	if !r.pool.IsPlaying() {
		r.pool.Play()
	}
}

// ChoiceReleased completes a renderer whose content ended while a forced
// choice was holding it.
func (r *Renderer) ChoiceReleased() {
	r.clk.Post(func() {
		if r.destroyed || r.phase != PhaseMediaFinished {
			return
		}
		r.log.Info("forced choice released, completing")
		r.Complete()
	})
}

// ContentHost implementation.

func (r *Renderer) Clock() clock.Clock                       { return r.clk }
func (r *Renderer) Pool() *playout.Pool                      { return r.pool }
func (r *Renderer) Surface() Surface                         { return r.surface }
func (r *Renderer) Fetcher() narrative.Fetcher               { return r.fetcher }
func (r *Renderer) Representation() narrative.Representation { return r.rep }
func (r *Renderer) Policy() Policy                           { return r.policy }
func (r *Renderer) Logger() *slog.Logger                     { return r.log }

func (r *Renderer) setPhase(p Phase) bool {
	if r.phase == p {
		return true
	}
	if !CanTransition(r.phase, p) {
		r.log.Warn("phase transition refused",
			slog.String("from", r.phase.String()),
			slog.String("to", p.String()))
		return false
	}
	r.log.Debug("phase", slog.String("from", r.phase.String()), slog.String("to", p.String()))
	r.phase = p
	r.metrics.IncPhaseTransition(p.String())
	return true
}

func (r *Renderer) timelinePosition() (float64, bool) {
	if !r.phase.started() {
		return 0, false
	}
	return r.content.CurrentTime().CurrentTime, true
}

func (r *Renderer) registerDuringBehaviours() {
	for _, d := range r.rep.Behaviours.During {
		d := d
		b := d.Behaviour
		r.sched.Add(scheduler.TimedEvent{
			ID:      b.ID,
			Start:   d.StartTime,
			End:     d.EndTime(),
			OnStart: func() { r.startDuring(b) },
			OnClear: func() error { return r.clearDuring(b) },
		})
		if !b.HidesControls() {
			continue
		}
		if d.StartTime > 1 {
			r.sched.Add(scheduler.TimedEvent{
				ID:    b.ID + "/prechoice-control-hide",
				Start: d.StartTime - r.policy.ControlHideLead,
				End:   math.Inf(1),
				OnStart: func() {
					r.surface.DisableControls()
					r.surface.HideSeekButtons()
				},
			})
		} else {
			r.surface.DisableControls()
			r.surface.HideSeekButtons()
		}
	}
}

func (r *Renderer) startDuring(b behaviour.Behaviour) {
	r.metrics.IncBehaviourStarted(b.Kind.String())
	r.log.Debug("during behaviour started", slog.String("behaviour_id", b.ID), slog.String("kind", b.Kind.String()))
	if cancel := handlers[b.Kind](r, b, func() {}); cancel != nil {
		r.duringCancel[b.ID] = cancel
	}
}

func (r *Renderer) clearDuring(b behaviour.Behaviour) error {
	cancel := r.duringCancel[b.ID]
	delete(r.duringCancel, b.ID)
	if r.surface.InteractionStarted() {
		r.surface.EnableControls()
	}
	if cancel == nil {
		return nil
	}
	return cancel()
}

// runCompleted adapts a handler to the completed-behaviour runner.
func (r *Renderer) runCompleted(b behaviour.Behaviour, done func()) func() {
	r.metrics.IncBehaviourStarted(b.Kind.String())
	r.log.Debug("completed behaviour started", slog.String("behaviour_id", b.ID), slog.String("kind", b.Kind.String()))
	cancel := handlers[b.Kind](r, b, done)
	if cancel == nil {
		return nil
	}
	return func() {
		if err := cancel(); err != nil {
			r.log.Warn("completed behaviour cleanup failed",
				slog.String("behaviour_id", b.ID), slog.String("error", err.Error()))
		}
	}
}
