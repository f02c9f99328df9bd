// Package session sequences the renderers of one viewing of a story.
//
// A Session owns the renderer of the current element and a set of
// renderers buffered ahead for the elements that can follow it. When the
// story controller moves to a new element the old renderer is switched
// out and destroyed before the next one starts, so the foreground output
// it held is free again. All methods must be called on the control
// goroutine of the session's clock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/metrics"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/renderer"

	"github.com/google/uuid"
)

var (
	// ErrNotStarted is returned for viewer input before Start.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrStoryEnded is returned for choices after the last element.
	ErrStoryEnded = errors.New("story has ended")
	// ErrUnknownAction is returned by Transport for an unrecognised action.
	ErrUnknownAction = errors.New("unknown transport action")
)

// Action is a viewer transport command.
type Action string

const (
	ActionPlay         Action = "play"
	ActionPause        Action = "pause"
	ActionSeekForward  Action = "seek_forward"
	ActionSeekBack     Action = "seek_back"
	ActionSubtitlesOn  Action = "subtitles_on"
	ActionSubtitlesOff Action = "subtitles_off"
)

// Step records one navigation between elements.
type Step struct {
	From narrative.ElementID `json:"from"`
	To   narrative.ElementID `json:"to"`
	At   time.Time           `json:"at"`
}

// State is a read-only view of a session.
type State struct {
	ID          string                 `json:"id"`
	Started     bool                   `json:"started"`
	Ended       bool                   `json:"ended"`
	Element     narrative.ElementID    `json:"element,omitempty"`
	RendererID  playout.RendererID     `json:"renderer_id,omitempty"`
	Phase       string                 `json:"phase,omitempty"`
	CurrentTime float64                `json:"current_time"`
	Duration    *float64               `json:"duration,omitempty"`
	Remaining   *float64               `json:"remaining,omitempty"`
	Playing     bool                   `json:"playing"`
	Subtitles   bool                   `json:"subtitles"`
	Variables   map[string]interface{} `json:"variables"`
	Choice      linkchoice.Snapshot    `json:"choice"`
	Buffered    []narrative.ElementID  `json:"buffered,omitempty"`
	Surface     SurfaceState           `json:"surface"`
	Trace       []Step                 `json:"trace"`
}

// Config wires a Session to its collaborators.
type Config struct {
	Clock      clock.Clock
	Pool       *playout.Pool
	Controller *narrative.StoryController
	Fetcher    narrative.Fetcher
	Surface    *RecordingSurface
	Policy     renderer.Policy
	Logger     *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Session plays one story from its beginning.
type Session struct {
	id      string
	clk     clock.Clock
	pool    *playout.Pool
	ctrl    *narrative.StoryController
	fetcher narrative.Fetcher
	surface *RecordingSurface
	policy  renderer.Policy
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	started    bool
	ended      bool
	current    *renderer.Renderer
	currentOff func()
	buffered   map[narrative.ElementID]*renderer.Renderer
	navOff     func()
	trace      []Step
	onEnded    []func()
}

// New returns an unstarted Session. A nil Surface gets a fresh
// RecordingSurface.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Surface == nil {
		cfg.Surface = NewRecordingSurface()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		clk:      cfg.Clock,
		pool:     cfg.Pool,
		ctrl:     cfg.Controller,
		fetcher:  cfg.Fetcher,
		surface:  cfg.Surface,
		policy:   cfg.Policy,
		log:      cfg.Logger.With(slog.String("session_id", id)),
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		buffered: make(map[narrative.ElementID]*renderer.Renderer),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Surface returns the session's render surface.
func (s *Session) Surface() *RecordingSurface { return s.surface }

// Current returns the renderer of the current element, or nil before Start.
func (s *Session) Current() *renderer.Renderer { return s.current }

// Ended reports whether the story has reached an element with no valid
// links and that element has completed.
func (s *Session) Ended() bool { return s.ended }

// Trace returns the navigation history.
func (s *Session) Trace() []Step { return slices.Clone(s.trace) }

// OnEnded registers fn to run when the story ends.
func (s *Session) OnEnded(fn func()) { s.onEnded = append(s.onEnded, fn) }

// Start records the viewer's first interaction, grants permission to play
// and presents the controller's current element.
func (s *Session) Start() error {
	if s.started {
		return ErrAlreadyStarted
	}
	el, ok := s.ctrl.CurrentElement()
	if !ok {
		return fmt.Errorf("start session: %w", narrative.ErrUnknownElement)
	}
	r, err := s.build(el)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.started = true
	s.surface.StartInteraction()
	s.pool.SetPermissionToPlay(true)
	s.pool.Play()
	s.navOff = s.ctrl.OnNavigate(func(from, to narrative.ElementID) {
		s.clk.Post(func() { s.navigate(from, to) })
	})
	s.log.Info("session started", slog.String("element_id", string(el.ID)))
	s.show(r)
	return nil
}

// Transport applies a viewer transport command.
func (s *Session) Transport(a Action) error {
	if !s.started {
		return ErrNotStarted
	}
	switch a {
	case ActionPlay:
		s.pool.Play()
		s.surface.Press(renderer.ActionPlay)
	case ActionPause:
		s.pool.Pause()
		s.surface.Press(renderer.ActionPause)
	case ActionSeekForward:
		s.surface.Press(renderer.ActionSeekForward)
	case ActionSeekBack:
		s.surface.Press(renderer.ActionSeekBack)
	case ActionSubtitlesOn:
		s.pool.SetSubtitlesShowing(true)
	case ActionSubtitlesOff:
		s.pool.SetSubtitlesShowing(false)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	s.log.Debug("transport", slog.String("action", string(a)))
	return nil
}

// Choose selects target on the current element's link choice.
func (s *Session) Choose(target narrative.ElementID) error {
	if !s.started {
		return ErrNotStarted
	}
	if s.ended {
		return ErrStoryEnded
	}
	return s.current.Resolver().Choose(target)
}

// SetVariable sets a story variable. Presented link choices re-resolve
// against the new value.
func (s *Session) SetVariable(name string, value interface{}) error {
	return s.ctrl.SetVariableValue(name, value)
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	st := State{
		ID:        s.id,
		Started:   s.started,
		Ended:     s.ended,
		Playing:   s.pool.IsPlaying(),
		Subtitles: s.pool.SubtitlesShowing(),
		Variables: s.ctrl.VariableState(),
		Buffered:  slices.Sorted(maps.Keys(s.buffered)),
		Surface:   s.surface.Snapshot(),
		Trace:     s.Trace(),
	}
	if st.Trace == nil {
		st.Trace = []Step{}
	}
	if r := s.current; r != nil {
		ti := r.CurrentTime()
		st.Element = r.Element().ID
		st.RendererID = r.ID()
		st.Phase = r.Phase().String()
		st.CurrentTime = ti.CurrentTime
		st.Duration = ti.Duration
		st.Remaining = ti.Remaining
		st.Choice = r.Resolver().Snapshot()
	}
	return st
}

// Close destroys every renderer of the session.
func (s *Session) Close() {
	s.cancel()
	if s.navOff != nil {
		s.navOff()
		s.navOff = nil
	}
	s.retire()
	s.dropBuffered()
}

func (s *Session) build(el *narrative.Element) (*renderer.Renderer, error) {
	return renderer.New(renderer.Config{
		Element:    el,
		Clock:      s.clk,
		Pool:       s.pool,
		Controller: s.ctrl,
		Fetcher:    s.fetcher,
		Surface:    s.surface,
		Policy:     s.policy,
		Logger:     s.log,
		Metrics:    s.metrics,
	})
}

func (s *Session) show(r *renderer.Renderer) {
	s.current = r
	s.currentOff = r.On(renderer.EventCompleted, func() {
		s.clk.Post(func() { s.advance(r) })
	})
	r.CueUp()
	if err := r.SwitchTo(); err != nil {
		s.log.Error("renderer did not start",
			slog.String("element_id", string(r.Element().ID)),
			slog.String("error", err.Error()))
	}
	s.prebuffer(r)
}

// navigate swaps to the renderer for to. The outgoing renderer is
// destroyed first so its pool output is returned before the next one
// activates.
func (s *Session) navigate(from, to narrative.ElementID) {
	if s.ctx.Err() != nil {
		return
	}
	s.trace = append(s.trace, Step{From: from, To: to, At: s.clk.Now()})
	s.retire()

	next, ok := s.buffered[to]
	delete(s.buffered, to)
	s.dropBuffered()
	if !ok {
		el, found := s.ctrl.Story().Element(to)
		if !found {
			s.log.Error("navigated to unknown element", slog.String("element_id", string(to)))
			return
		}
		var err error
		if next, err = s.build(el); err != nil {
			s.log.Error("could not build renderer",
				slog.String("element_id", string(to)), slog.String("error", err.Error()))
			return
		}
	}
	s.log.Info("element changed", slog.String("from", string(from)), slog.String("to", string(to)),
		slog.Bool("buffered", ok))
	s.show(next)
}

// advance follows a link once the current renderer has completed: the
// viewer's chosen link when it is still valid, otherwise the first valid
// one. With no valid links the story ends.
func (s *Session) advance(r *renderer.Renderer) {
	if r != s.current {
		return
	}
	ctx := s.ctx
	clock.Await(s.clk, func() ([]narrative.NextStep, error) {
		return s.ctrl.ValidNextSteps(ctx)
	}, func(steps []narrative.NextStep, err error) {
		if r != s.current || ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Error("could not resolve next element", slog.String("error", err.Error()))
			return
		}
		if len(steps) == 0 {
			s.finish()
			return
		}
		target := steps[0].Target
		if chosen, ok := r.Resolver().Chosen(); ok && containsStep(steps, chosen) {
			target = chosen
		}
		if err := s.ctrl.FollowLink(target); err != nil {
			s.log.Error("could not follow link", slog.String("target", string(target)), slog.String("error", err.Error()))
			return
		}
		s.metrics.IncLinksFollowed()
	})
}

func (s *Session) finish() {
	s.ended = true
	if s.current != nil {
		s.current.SwitchFrom()
	}
	s.log.Info("story ended", slog.Int("steps", len(s.trace)))
	for _, fn := range s.onEnded {
		fn()
	}
}

// prebuffer builds renderers for the valid next elements of r so their
// media is queued before it is needed.
func (s *Session) prebuffer(r *renderer.Renderer) {
	ctx := s.ctx
	clock.Await(s.clk, func() ([]narrative.NextStep, error) {
		return s.ctrl.ValidNextSteps(ctx)
	}, func(steps []narrative.NextStep, err error) {
		if r != s.current || ctx.Err() != nil || s.ctrl.CurrentID() != r.Element().ID {
			return
		}
		if err != nil {
			s.log.Warn("could not resolve elements to buffer", slog.String("error", err.Error()))
			return
		}
		for _, st := range steps {
			if _, ok := s.buffered[st.Target]; ok {
				continue
			}
			br, err := s.build(st.Element)
			if err != nil {
				s.log.Warn("could not buffer element",
					slog.String("element_id", string(st.Target)), slog.String("error", err.Error()))
				continue
			}
			s.buffered[st.Target] = br
		}
	})
}

func (s *Session) retire() {
	if s.current == nil {
		return
	}
	if s.currentOff != nil {
		s.currentOff()
		s.currentOff = nil
	}
	s.current.SwitchFrom()
	s.current.Destroy()
}

func (s *Session) dropBuffered() {
	for id, r := range s.buffered {
		r.Destroy()
		delete(s.buffered, id)
	}
}

func containsStep(steps []narrative.NextStep, target narrative.ElementID) bool {
	return slices.ContainsFunc(steps, func(st narrative.NextStep) bool { return st.Target == target })
}
