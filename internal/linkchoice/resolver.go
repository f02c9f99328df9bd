// Package linkchoice resolves and presents the branch choices of a
// narrative element.
//
// A Resolver is owned by one renderer. It queries the valid next elements,
// builds an icon per target, re-resolves whenever a story variable changes,
// and on selection either follows the link after fading the choice out or
// records the choice for when the content ends.
//
// Resolutions are numbered. A result that arrives after a newer resolution
// has started is dropped, so the presented icons always reflect the latest
// variable state.
package linkchoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"narrative-playout/internal/behaviour"
	"narrative-playout/internal/clock"
	"narrative-playout/internal/fade"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/metrics"
	"narrative-playout/internal/playout"
)

// Icon is the presentation details of one choice.
type Icon struct {
	Target narrative.ElementID `json:"target"`
	// Index is the 0-based position among the presented choices.
	Index    int                 `json:"index"`
	Text     string              `json:"text,omitempty"`
	ImageURL string              `json:"image_url,omitempty"`
	Position *behaviour.Position `json:"position,omitempty"`
	// Placeholder is set when the behaviour maps no text or image to the
	// target.
	Placeholder bool `json:"placeholder,omitempty"`
}

// ShowOptions tells the surface how to present built icons.
type ShowOptions struct {
	// Default is highlighted initially; empty when the choice is forced.
	Default      narrative.ElementID
	OverlayClass string
	Count        int
}

// Surface is the part of the render surface that presents choices.
type Surface interface {
	BuildIcon(owner playout.RendererID, icon Icon)
	ShowIcons(owner playout.RendererID, opts ShowOptions)
	SetChoiceOpacity(owner playout.RendererID, opacity float64)
	ClearIcons(owner playout.RendererID)
	EnableControls()
	DisableControls()
	ShowSeekButtons()
	StartCountdown(owner playout.RendererID, remaining float64)
}

// Host is the renderer a Resolver works for.
type Host interface {
	MediaEnded() bool
	RemainingTime() (float64, bool)
	ResolveMapping(mappingID string) (string, bool)
	// EnsurePlaying resumes playback if the transport is paused.
	EnsurePlaying()
	// ChoiceReleased is called when a forced choice stops holding up
	// completion without a selection.
	ChoiceReleased()
}

// Policy holds the resolver's timing values.
type Policy struct {
	// FadeDelay is how long the choice UI fades before a link is followed.
	FadeDelay time.Duration
	FadeStep  time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{FadeDelay: 1500 * time.Millisecond, FadeStep: fade.DefaultStep}
}

// Config wires a Resolver to its collaborators.
type Config struct {
	Owner      playout.RendererID
	Clock      clock.Clock
	Controller narrative.Controller
	Fetcher    narrative.Fetcher
	Surface    Surface
	Host       Host
	Policy     Policy
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// State is the link-choice state of the running choice behaviour.
type State struct {
	Behaviour behaviour.Behaviour
	Options   behaviour.ChoiceOptions
	// Icons is nil until a resolution has been presented. Each rebuild
	// replaces the slice.
	Icons []Icon

	targets   []narrative.ElementID
	committed bool
	done      func()
	doneSent  bool
}

// Snapshot is a read-only view of the resolver.
type Snapshot struct {
	Active      bool                `json:"active"`
	BehaviourID string              `json:"behaviour_id,omitempty"`
	Icons       []Icon              `json:"icons,omitempty"`
	Chosen      narrative.ElementID `json:"chosen,omitempty"`
	FadePending bool                `json:"fade_pending"`
}

// Resolver runs link-choice behaviours for one renderer. It is driven from
// the control goroutine.
type Resolver struct {
	cfg    Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	state       *State
	overrides   map[narrative.ElementID]bool
	chosen      narrative.ElementID
	gen         uint64
	fadeTimer   clock.Timer
	fadeAnim    *fade.Fade
	unsubscribe func()
	destroyed   bool
}

// New returns an idle Resolver.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.FadeDelay <= 0 {
		cfg.Policy.FadeDelay = DefaultPolicy().FadeDelay
	}
	if cfg.Policy.FadeStep <= 0 {
		cfg.Policy.FadeStep = DefaultPolicy().FadeStep
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("renderer_id", string(cfg.Owner))),
		ctx:       ctx,
		cancel:    cancel,
		overrides: make(map[narrative.ElementID]bool),
	}
}

// Show starts the link-choice behaviour b. done is called once the
// behaviour no longer holds up completion: immediately when there is
// nothing to choose, after presentation unless the choice is forced, or
// after a forced choice has been made.
func (r *Resolver) Show(b behaviour.Behaviour, done func()) {
	if r.destroyed {
		return
	}
	r.Abort()
	r.state = &State{Behaviour: b, Options: b.ChoiceOptions(), done: done}
	r.unsubscribe = r.cfg.Controller.OnVariableChanged(func(name string, _ interface{}) {
		r.log.Debug("variable changed, resolving choices again", slog.String("variable", name))
		r.cfg.Clock.Post(r.resolve)
	})
	r.resolve()
}

// Choose handles the viewer selecting target.
func (r *Resolver) Choose(target narrative.ElementID) error {
	st := r.state
	if r.destroyed || st == nil {
		return fmt.Errorf("choose %q: %w", target, ErrNoChoice)
	}
	if r.FadePending() {
		r.log.Info("choice ignored while a link fade is pending", slog.String("target", string(target)))
		return nil
	}
	if !st.offers(target) {
		return fmt.Errorf("choose %q: %w", target, ErrNotOffered)
	}

	r.cfg.Host.EnsurePlaying()
	r.stopListening()
	st.Options.ForceChoice = false

	if !st.Options.ShowNeToEnd {
		r.hide(target)
		return nil
	}

	r.overrides = map[narrative.ElementID]bool{target: true}
	r.chosen = target
	switch {
	case r.cfg.Host.MediaEnded():
		r.hide(target)
	case st.Options.OneShot:
		r.hide("")
		r.cfg.Surface.EnableControls()
		r.cfg.Surface.ShowSeekButtons()
	}
	return nil
}

// TakeOverCompletion follows a link chosen earlier in the element, fading
// the still visible choice out first. It reports whether it did so, in
// which case the renderer must not complete on its own.
func (r *Resolver) TakeOverCompletion() bool {
	st := r.state
	if r.destroyed || st == nil || r.chosen == "" || st.Options.OneShot || r.FadePending() {
		return false
	}
	r.hide(r.chosen)
	return true
}

// FadePending reports whether a link is about to be followed.
func (r *Resolver) FadePending() bool { return r.fadeTimer != nil }

// ForceChoicePending reports whether completion must wait for the viewer.
func (r *Resolver) ForceChoicePending() bool {
	return r.state != nil && r.state.Options.ForceChoice
}

// Overridden reports whether target carries the chosen flag.
func (r *Resolver) Overridden(target narrative.ElementID) bool { return r.overrides[target] }

// Chosen returns the link the viewer picked for when the element ends.
func (r *Resolver) Chosen() (narrative.ElementID, bool) {
	return r.chosen, r.chosen != ""
}

// Snapshot returns the current state for inspection.
func (r *Resolver) Snapshot() Snapshot {
	s := Snapshot{Chosen: r.chosen, FadePending: r.FadePending()}
	if r.state != nil {
		s.Active = true
		s.BehaviourID = r.state.Behaviour.ID
		s.Icons = append([]Icon(nil), r.state.Icons...)
	}
	return s
}

// State returns the running behaviour's state, or nil.
func (r *Resolver) State() *State { return r.state }

// Abort stops the running choice behaviour: pending resolutions are
// dropped, the fade timer is cancelled and the icons are cleared. Chosen
// links are kept until End.
func (r *Resolver) Abort() {
	r.gen++
	r.stopListening()
	r.stopFade()
	if r.state != nil {
		r.cfg.Surface.ClearIcons(r.cfg.Owner)
	}
	r.state = nil
}

// End aborts and reverts the chosen flags so a restart sees the original
// link order.
func (r *Resolver) End() {
	r.Abort()
	r.overrides = make(map[narrative.ElementID]bool)
	r.chosen = ""
}

// Destroy ends the resolver and cancels outstanding fetches. Late results
// are discarded.
func (r *Resolver) Destroy() {
	r.End()
	r.destroyed = true
	r.cancel()
}

func (r *Resolver) resolve() {
	st := r.state
	if r.destroyed || st == nil {
		return
	}
	if st.Options.DisableControls {
		r.cfg.Surface.DisableControls()
	}
	r.gen++
	gen := r.gen
	ctx := r.ctx

	clock.Await(r.cfg.Clock, func() ([]narrative.NextStep, error) {
		return r.cfg.Controller.ValidNextSteps(ctx)
	}, func(steps []narrative.NextStep, err error) {
		if !r.current(st, gen) {
			return
		}
		if err != nil {
			r.log.Error("could not get next steps for link choices", slog.String("error", err.Error()))
			r.release(st)
			return
		}
		r.onSteps(st, gen, steps)
	})
}

func (r *Resolver) onSteps(st *State, gen uint64, steps []narrative.NextStep) {
	targets := make([]narrative.ElementID, 0, len(steps))
	for _, s := range steps {
		targets = append(targets, s.Target)
	}

	if st.committed {
		if sameTargets(st.targets, targets) {
			r.log.Debug("variables changed but the same links are valid")
			return
		}
		r.log.Info("valid links changed, rebuilding choice icons")
		r.cfg.Surface.ClearIcons(r.cfg.Owner)
		st.Icons = nil
		st.committed = false
	}

	switch {
	case len(targets) == 0:
		r.log.Warn("link choice shown but no links are valid")
		r.commit(st, targets, nil)
		r.cfg.Surface.EnableControls()
		r.release(st)
		return
	case len(targets) == 1 && !st.Options.ShowIfOneChoice:
		r.log.Info("link choice skipped, only one link")
		r.commit(st, targets, nil)
		r.cfg.Surface.EnableControls()
		r.release(st)
		return
	}

	defaultTarget := r.defaultLink(targets)
	ctx := r.ctx
	clock.Await(r.cfg.Clock, func() ([]Icon, error) {
		return r.iconSpecs(ctx, st.Behaviour, targets), nil
	}, func(icons []Icon, _ error) {
		if !r.current(st, gen) {
			return
		}
		r.present(st, targets, icons, defaultTarget)
	})
}

func (r *Resolver) present(st *State, targets []narrative.ElementID, icons []Icon, defaultTarget narrative.ElementID) {
	r.cfg.Surface.ClearIcons(r.cfg.Owner)
	for _, icon := range icons {
		r.cfg.Surface.BuildIcon(r.cfg.Owner, icon)
	}
	r.commit(st, targets, icons)

	opts := ShowOptions{OverlayClass: st.Options.OverlayClass, Count: len(icons)}
	if !st.Options.ForceChoice {
		opts.Default = defaultTarget
	}
	r.cfg.Surface.ShowIcons(r.cfg.Owner, opts)
	r.cfg.Surface.SetChoiceOpacity(r.cfg.Owner, 1)
	if st.Options.DisableControls {
		r.cfg.Surface.DisableControls()
	}
	if st.Options.Countdown {
		if remaining, ok := r.cfg.Host.RemainingTime(); ok {
			r.cfg.Surface.StartCountdown(r.cfg.Owner, remaining)
		}
	}
	if !st.Options.ForceChoice {
		r.signalDone(st)
	}
}

// iconSpecs runs off the control goroutine. Fetch failures drop the image
// and keep the icon.
func (r *Resolver) iconSpecs(ctx context.Context, b behaviour.Behaviour, targets []narrative.ElementID) []Icon {
	icons := make([]Icon, 0, len(targets))
	for i, target := range targets {
		icon := Icon{Target: target, Index: i}
		if li, ok := b.Icon(string(target)); ok {
			icon.Text = li.Text
			icon.Position = li.Position
			if li.Image != "" {
				icon.ImageURL = r.imageURL(ctx, li.Image)
			}
		}
		if icon.Text == "" && icon.ImageURL == "" {
			icon.Text = fmt.Sprintf("Option %d", i+1)
			icon.Placeholder = true
		}
		icons = append(icons, icon)
	}
	return icons
}

func (r *Resolver) imageURL(ctx context.Context, mappingID string) string {
	acID, ok := r.cfg.Host.ResolveMapping(mappingID)
	if !ok {
		r.log.Warn("no asset collection for icon mapping", slog.String("mapping_id", mappingID))
		return ""
	}
	ac, err := r.cfg.Fetcher.FetchAssetCollection(ctx, acID)
	if err != nil {
		r.log.Error("could not fetch icon asset collection",
			slog.String("asset_collection_id", acID), slog.String("error", err.Error()))
		return ""
	}
	if ac.Assets.ImageSrc == "" {
		return ""
	}
	u, err := r.cfg.Fetcher.FetchMedia(ctx, ac.Assets.ImageSrc)
	if err != nil {
		r.log.Error("could not fetch icon image",
			slog.String("asset_collection_id", acID), slog.String("error", err.Error()))
		return ""
	}
	return u
}

// defaultLink returns the first link of the current element, chosen links
// first, whose target is still valid.
func (r *Resolver) defaultLink(valid []narrative.ElementID) narrative.ElementID {
	el, ok := r.cfg.Controller.CurrentElement()
	if !ok {
		return ""
	}
	isValid := make(map[narrative.ElementID]bool, len(valid))
	for _, t := range valid {
		isValid[t] = true
	}
	var first narrative.ElementID
	for _, link := range el.Links {
		if !isValid[link.Target] {
			continue
		}
		if r.overrides[link.Target] {
			return link.Target
		}
		if first == "" {
			first = link.Target
		}
	}
	return first
}

// hide fades the choice out and then follows target, or finishes the
// behaviour when target is empty.
func (r *Resolver) hide(target narrative.ElementID) {
	if target != "" {
		r.overrides = make(map[narrative.ElementID]bool)
		r.chosen = ""
	}
	r.stopFade()
	st := r.state

	r.fadeAnim = fade.Start(r.cfg.Clock, 1, 0, r.cfg.Policy.FadeDelay, r.cfg.Policy.FadeStep, nil,
		func(v float64) { r.cfg.Surface.SetChoiceOpacity(r.cfg.Owner, v) }, nil)
	r.fadeTimer = r.cfg.Clock.AfterFunc(r.cfg.Policy.FadeDelay, func() {
		r.fadeTimer = nil
		r.fadeAnim.Stop()
		r.cfg.Surface.SetChoiceOpacity(r.cfg.Owner, 0)
		r.cfg.Surface.ClearIcons(r.cfg.Owner)
		if st != nil {
			st.Icons = nil
			st.committed = false
		}
		if target == "" {
			if st != nil {
				r.signalDone(st)
			}
			return
		}
		if err := r.cfg.Controller.FollowLink(target); err != nil {
			r.log.Error("follow link failed", slog.String("target", string(target)), slog.String("error", err.Error()))
			return
		}
		r.cfg.Metrics.IncLinksFollowed()
	})
}

func (r *Resolver) stopFade() {
	clock.StopTimer(r.fadeTimer)
	r.fadeTimer = nil
	r.fadeAnim.Stop()
	r.fadeAnim = nil
}

func (r *Resolver) stopListening() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Resolver) commit(st *State, targets []narrative.ElementID, icons []Icon) {
	st.targets = targets
	st.Icons = icons
	st.committed = true
}

// release drops a forced choice that can no longer be made and signals
// completion.
func (r *Resolver) release(st *State) {
	forced := st.Options.ForceChoice
	st.Options.ForceChoice = false
	r.signalDone(st)
	if forced {
		r.cfg.Host.ChoiceReleased()
	}
}

func (r *Resolver) signalDone(st *State) {
	if st.doneSent || st.done == nil {
		return
	}
	st.doneSent = true
	st.done()
}

// current reports whether a continuation for st started at gen may still
// apply its result.
func (r *Resolver) current(st *State, gen uint64) bool {
	if r.destroyed {
		return false
	}
	if r.state != st || r.gen != gen {
		r.log.Debug("dropping stale link choice resolution", slog.Uint64("generation", gen))
		return false
	}
	return true
}

func (st *State) offers(target narrative.ElementID) bool {
	for _, icon := range st.Icons {
		if icon.Target == target {
			return true
		}
	}
	return false
}

func sameTargets(a, b []narrative.ElementID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[narrative.ElementID]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if !set[t] {
			return false
		}
	}
	return true
}
