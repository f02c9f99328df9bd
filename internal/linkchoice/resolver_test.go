package linkchoice

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"narrative-playout/internal/behaviour"
	"narrative-playout/internal/clock"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/playout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const choiceStory = `
id: choices
beginning: hub
variables:
  open:
    type: boolean
    default_value: true
  other:
    type: number
    default_value: 0
  mood:
    type: string
    default_value: calm
asset_collections:
  - id: ac-hub
    assets:
      av_src: hub.mp4?duration=20
  - id: ac-a-icon
    assets:
      image_src: icons/a.png
narrative_elements:
  - id: hub
    links:
      - target_narrative_element_id: a
      - target_narrative_element_id: b
        condition: open
      - target_narrative_element_id: c
        condition: other > 3
    representation:
      id: rep-hub
      representation_type: video
      asset_collections:
        foreground_id: ac-hub
        behaviours:
          - behaviour_asset_collection_mapping_id: a-icon
            asset_collection_id: ac-a-icon
  - id: a
    representation:
      id: rep-a
      representation_type: text
      duration: 1
  - id: b
    representation:
      id: rep-b
      representation_type: text
      duration: 1
  - id: c
    representation:
      id: rep-c
      representation_type: text
      duration: 1
`

type fakeSurface struct {
	built       []Icon
	shown       []ShowOptions
	clears      int
	opacity     float64
	enabled     int
	disabled    int
	seekButtons int
	countdowns  []float64
}

func (s *fakeSurface) BuildIcon(_ playout.RendererID, icon Icon) { s.built = append(s.built, icon) }
func (s *fakeSurface) ShowIcons(_ playout.RendererID, opts ShowOptions) {
	s.shown = append(s.shown, opts)
}
func (s *fakeSurface) SetChoiceOpacity(_ playout.RendererID, v float64) { s.opacity = v }
func (s *fakeSurface) ClearIcons(playout.RendererID)                   { s.clears++ }
func (s *fakeSurface) EnableControls()                                 { s.enabled++ }
func (s *fakeSurface) DisableControls()                                { s.disabled++ }
func (s *fakeSurface) ShowSeekButtons()                                { s.seekButtons++ }
func (s *fakeSurface) StartCountdown(_ playout.RendererID, remaining float64) {
	s.countdowns = append(s.countdowns, remaining)
}

type fakeHost struct {
	ended     bool
	remaining float64
	plays     int
	releases  int
	rep       narrative.Representation
}

func (h *fakeHost) MediaEnded() bool                { return h.ended }
func (h *fakeHost) RemainingTime() (float64, bool) { return h.remaining, true }
func (h *fakeHost) ResolveMapping(id string) (string, bool) {
	return h.rep.ResolveMapping(id)
}
func (h *fakeHost) EnsurePlaying()  { h.plays++ }
func (h *fakeHost) ChoiceReleased() { h.releases++ }

type fixture struct {
	clk     *clock.Manual
	ctrl    *narrative.StoryController
	surface *fakeSurface
	host    *fakeHost
	res     *Resolver
	navs    []narrative.ElementID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	story, err := narrative.ParseStory([]byte(choiceStory))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := narrative.NewStoryController(story, log)
	require.NoError(t, err)
	catalog, err := narrative.NewCatalog(story, "https://cdn.example.com/media")
	require.NoError(t, err)
	hub, ok := story.Element("hub")
	require.True(t, ok)

	f := &fixture{
		clk:     clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		ctrl:    ctrl,
		surface: &fakeSurface{},
		host:    &fakeHost{remaining: 4, rep: hub.Representation},
	}
	ctrl.OnNavigate(func(_, to narrative.ElementID) { f.navs = append(f.navs, to) })
	f.res = New(Config{
		Owner:      "r1",
		Clock:      f.clk,
		Controller: ctrl,
		Fetcher:    catalog,
		Surface:    f.surface,
		Host:       f.host,
		Logger:     log,
	})
	return f
}

func choiceBehaviour(mod func(*behaviour.Behaviour)) behaviour.Behaviour {
	b := behaviour.Behaviour{
		ID:   "choose",
		Kind: behaviour.KindShowLinkChoices,
		LinkIcons: []behaviour.LinkIcon{
			{TargetElementID: "a", Image: "a-icon"},
		},
	}
	if mod != nil {
		mod(&b)
	}
	return b
}

func boolPtr(v bool) *bool { return &v }

func TestResolver_SingleLinkCompletesWithoutIcons(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.SetVariableValue("open", false))

	done := 0
	f.res.Show(choiceBehaviour(nil), func() { done++ })
	f.clk.Drain()

	assert.Equal(t, 1, done)
	assert.Empty(t, f.surface.built)
	assert.Empty(t, f.surface.shown)
	assert.Equal(t, 1, f.surface.enabled)
}

func TestResolver_PresentsIcons(t *testing.T) {
	f := newFixture(t)

	done := 0
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.ShowTimeRemaining = boolPtr(true)
	}), func() { done++ })
	f.clk.Drain()

	require.Len(t, f.surface.built, 2)
	assert.Equal(t, "https://cdn.example.com/media/icons/a.png", f.surface.built[0].ImageURL)
	assert.False(t, f.surface.built[0].Placeholder)
	assert.Equal(t, "Option 2", f.surface.built[1].Text)
	assert.True(t, f.surface.built[1].Placeholder)

	require.Len(t, f.surface.shown, 1)
	assert.Equal(t, narrative.ElementID("a"), f.surface.shown[0].Default)
	assert.Equal(t, 2, f.surface.shown[0].Count)
	assert.Equal(t, []float64{4}, f.surface.countdowns)
	assert.Equal(t, 1, done, "unforced choice does not hold up completion")
	assert.GreaterOrEqual(t, f.surface.disabled, 1)
}

func TestResolver_UnchangedLinksKeepIcons(t *testing.T) {
	f := newFixture(t)
	f.res.Show(choiceBehaviour(nil), func() {})
	f.clk.Drain()

	require.Len(t, f.res.State().Icons, 2)
	first := &f.res.State().Icons[0]

	require.NoError(t, f.ctrl.SetVariableValue("mood", "tense"))
	f.clk.Drain()
	assert.Len(t, f.surface.built, 2, "no rebuild")
	assert.Same(t, first, &f.res.State().Icons[0])

	require.NoError(t, f.ctrl.SetVariableValue("other", 5))
	f.clk.Drain()
	assert.Len(t, f.surface.built, 5, "rebuilt with the third link")
	assert.Len(t, f.res.State().Icons, 3)
}

func TestResolver_LatestResolutionWins(t *testing.T) {
	f := newFixture(t)
	f.res.Show(choiceBehaviour(nil), func() {})
	// Change a variable while the first resolution is still in flight.
	require.NoError(t, f.ctrl.SetVariableValue("other", 5))
	f.clk.Drain()

	assert.Len(t, f.surface.built, 3, "the stale two-link result is dropped")
	require.Len(t, f.surface.shown, 1)
	assert.Equal(t, 3, f.surface.shown[0].Count)
}

func TestResolver_ChosenLinkFollowedAtNaturalEnd(t *testing.T) {
	f := newFixture(t)
	f.res.Show(choiceBehaviour(nil), func() {})
	f.clk.Drain()

	require.NoError(t, f.res.Choose("a"))
	assert.True(t, f.res.Overridden("a"))
	assert.False(t, f.res.Overridden("b"))
	assert.Empty(t, f.navs, "nothing followed before the element ends")
	assert.Equal(t, 1, f.host.plays)

	f.host.ended = true
	require.True(t, f.res.TakeOverCompletion())
	assert.True(t, f.res.FadePending())
	assert.False(t, f.res.TakeOverCompletion())

	f.clk.Advance(1499 * time.Millisecond)
	assert.Empty(t, f.navs)
	f.clk.Advance(time.Millisecond)
	assert.Equal(t, []narrative.ElementID{"a"}, f.navs)
	assert.False(t, f.res.FadePending())
	assert.False(t, f.res.Overridden("a"), "overrides revert once followed")
	assert.Zero(t, f.surface.opacity)

	f.clk.Advance(5 * time.Second)
	assert.Len(t, f.navs, 1)
}

func TestResolver_ImmediateFollowIgnoresSecondSelection(t *testing.T) {
	f := newFixture(t)
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.ShowNeToEnd = boolPtr(false)
	}), func() {})
	f.clk.Drain()

	require.NoError(t, f.res.Choose("b"))
	require.NoError(t, f.res.Choose("a"))
	f.clk.Advance(2 * time.Second)
	assert.Equal(t, []narrative.ElementID{"b"}, f.navs)
}

func TestResolver_OneShotHidesAndKeepsChoice(t *testing.T) {
	f := newFixture(t)
	done := 0
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.OneShot = boolPtr(true)
	}), func() { done++ })
	f.clk.Drain()

	require.NoError(t, f.res.Choose("b"))
	f.clk.Advance(2 * time.Second)

	assert.Empty(t, f.navs)
	assert.Equal(t, 1, f.surface.seekButtons)
	chosen, ok := f.res.Chosen()
	assert.True(t, ok)
	assert.Equal(t, narrative.ElementID("b"), chosen)
	assert.False(t, f.res.TakeOverCompletion())
	assert.Equal(t, 1, done)
}

func TestResolver_ForcedChoiceHoldsCompletion(t *testing.T) {
	f := newFixture(t)
	done := 0
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.ForceChoice = boolPtr(true)
	}), func() { done++ })
	f.clk.Drain()

	assert.Zero(t, done)
	assert.True(t, f.res.ForceChoicePending())
	require.Len(t, f.surface.shown, 1)
	assert.Empty(t, f.surface.shown[0].Default, "no default highlighted when forced")

	f.host.ended = true
	require.NoError(t, f.res.Choose("b"))
	assert.False(t, f.res.ForceChoicePending())
	f.clk.Advance(1500 * time.Millisecond)
	assert.Equal(t, []narrative.ElementID{"b"}, f.navs)
}

func TestResolver_ForcedChoiceReleasedWhenLinksCollapse(t *testing.T) {
	f := newFixture(t)
	done := 0
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.ForceChoice = boolPtr(true)
	}), func() { done++ })
	f.clk.Drain()
	require.True(t, f.res.ForceChoicePending())

	require.NoError(t, f.ctrl.SetVariableValue("open", false))
	f.clk.Drain()

	assert.False(t, f.res.ForceChoicePending())
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, f.host.releases)

	require.NoError(t, f.ctrl.SetVariableValue("open", true))
	f.clk.Drain()
	assert.Equal(t, 1, f.host.releases, "released once")
}

func TestResolver_AbortCancelsPendingFollow(t *testing.T) {
	f := newFixture(t)
	f.res.Show(choiceBehaviour(func(b *behaviour.Behaviour) {
		b.ShowNeToEnd = boolPtr(false)
	}), func() {})
	f.clk.Drain()
	require.NoError(t, f.res.Choose("a"))

	f.res.Abort()
	f.clk.Advance(3 * time.Second)
	assert.Empty(t, f.navs)
	assert.False(t, f.res.Snapshot().Active)
}

func TestResolver_ChooseErrors(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.res.Choose("a"), ErrNoChoice)

	f.res.Show(choiceBehaviour(nil), func() {})
	f.clk.Drain()
	assert.ErrorIs(t, f.res.Choose("c"), ErrNotOffered)

	f.res.Destroy()
	assert.ErrorIs(t, f.res.Choose("a"), ErrNoChoice)
}
