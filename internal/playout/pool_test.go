package playout

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"narrative-playout/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bufferDelay = 50 * time.Millisecond

func newTestPool(t *testing.T, capacity map[Class]int) (*Pool, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	im := NewInstanceManager(capacity, SimFactory(clk, bufferDelay))
	p := NewPool(clk, im, WithLogger(log))
	p.SetPermissionToPlay(true)
	return p, clk
}

func simOf(t *testing.T, p *Pool, id RendererID) *SimOutput {
	t.Helper()
	s, ok := p.store.Get(id)
	require.True(t, ok)
	require.NotNil(t, s.Instance)
	out, ok := s.Instance.Output.(*SimOutput)
	require.True(t, ok)
	return out
}

func boolPtr(b bool) *bool { return &b }

type fakeAffordances struct {
	controls map[RendererID]string
	removed  int
}

func (a *fakeAffordances) AddVolumeControl(id RendererID, label string) { a.controls[id] = label }
func (a *fakeAffordances) RemoveVolumeControl(id RendererID) {
	a.removed++
	delete(a.controls, id)
}

func TestPool_VolumeControlFollowsActivation(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	aff := &fakeAffordances{controls: make(map[RendererID]string)}
	p := NewPool(clk, NewInstanceManager(nil, SimFactory(clk, bufferDelay)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAffordances(aff))

	p.Queue("r1", Descriptor{Type: MediaForegroundAV, URL: "a.mp4"})
	p.Queue("bg", Descriptor{Type: MediaBackgroundAudio, URL: "b.mp3"})
	assert.Empty(t, aff.controls, "queued slots have no controls")

	require.NoError(t, p.SetActive("r1"))
	require.NoError(t, p.SetActive("bg"))
	assert.Equal(t, map[RendererID]string{"r1": "foreground_av", "bg": "background_audio"}, aff.controls)

	p.SetInactive("r1")
	assert.Equal(t, map[RendererID]string{"bg": "background_audio"}, aff.controls)
	p.SetInactive("r1")
	assert.Equal(t, 1, aff.removed, "already inactive")

	p.Unqueue("bg")
	assert.Empty(t, aff.controls)
	assert.Equal(t, 2, aff.removed)
}

func TestPool_SlotStateMachine(t *testing.T) {
	p, _ := newTestPool(t, nil)
	id := RendererID("r1")

	_, ok := p.Slot(id)
	assert.False(t, ok)

	p.Queue(id, Descriptor{URL: "a.mp4"})
	info, ok := p.Slot(id)
	require.True(t, ok)
	assert.False(t, info.Active)
	assert.Empty(t, info.InstanceID)

	require.NoError(t, p.SetActive(id))
	info, _ = p.Slot(id)
	assert.True(t, info.Active)
	require.NotEmpty(t, info.InstanceID)
	bound := info.InstanceID

	p.SetInactive(id)
	info, _ = p.Slot(id)
	assert.False(t, info.Active)
	assert.Equal(t, bound, info.InstanceID, "deactivation keeps the instance bound")

	require.NoError(t, p.SetActive(id))
	info, _ = p.Slot(id)
	assert.Equal(t, bound, info.InstanceID)
	assert.Equal(t, 1, p.Stats().InstancesInUse)

	p.Unqueue(id)
	_, ok = p.Slot(id)
	assert.False(t, ok)
	assert.Equal(t, Stats{}, p.Stats())

	// Everything on a removed slot is a silent no-op.
	p.SetInactive(id)
	p.Unqueue(id)
	assert.ErrorIs(t, p.SetActive(id), ErrUnknownSlot)
	assert.False(t, p.SetCurrentTime(id, 3))
	_, ok = p.CurrentTime(id)
	assert.False(t, ok)
}

func TestPool_QueueMergesFields(t *testing.T) {
	p, _ := newTestPool(t, nil)
	id := RendererID("r1")

	p.Queue(id, Descriptor{Type: MediaForegroundAudio, URL: "a.mp3"})
	p.Queue(id, Descriptor{SubtitlesURL: "a.vtt", Loop: boolPtr(true)})
	p.Queue(id, Descriptor{URL: "b.mp3"})

	info, _ := p.Slot(id)
	assert.Equal(t, MediaForegroundAudio, info.Media.Type)
	assert.Equal(t, "b.mp3", info.Media.URL)
	assert.Equal(t, "a.vtt", info.Media.SubtitlesURL)
	assert.True(t, p.IsLooping(id))
}

func TestPool_ListenersQueuedUntilActive(t *testing.T) {
	p, clk := newTestPool(t, nil)
	id := RendererID("r1")

	assert.Zero(t, p.On("missing", EventDataReady, func() {}))
	p.Off("missing", 7)

	p.Queue(id, Descriptor{URL: "a.mp4"})
	ready := 0
	p.On(id, EventDataReady, func() { ready++ })
	removed := p.On(id, EventDataReady, func() { t.Fatal("removed listener fired") })
	p.Off(id, removed)

	clk.Advance(time.Second)
	assert.Zero(t, ready, "inactive slot has no output yet")

	require.NoError(t, p.SetActive(id))
	clk.Advance(bufferDelay)
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, simOf(t, p, id).ListenerCount())
}

func TestPool_CapacityOneRejectsSecondForeground(t *testing.T) {
	p, clk := newTestPool(t, map[Class]int{ClassForeground: 1})
	first, second := RendererID("first"), RendererID("second")

	p.Queue(first, Descriptor{Type: MediaForegroundAV, URL: "first.mp4"})
	require.NoError(t, p.SetActive(first))
	clk.Advance(bufferDelay)
	out := simOf(t, p, first)
	firstInstance, _ := p.Slot(first)

	p.Queue(second, Descriptor{Type: MediaForegroundAV, URL: "second.mp4"})
	err := p.SetActive(second)
	require.ErrorIs(t, err, ErrPoolExhausted)

	info, _ := p.Slot(second)
	assert.False(t, info.Active)
	assert.Empty(t, info.InstanceID)

	after, _ := p.Slot(first)
	assert.Equal(t, firstInstance.InstanceID, after.InstanceID)
	assert.Equal(t, "first.mp4", out.Source(), "bound instance must not be repointed")
	assert.True(t, after.Active)

	// Background audio draws from its own class.
	p.Queue("music", Descriptor{Type: MediaBackgroundAudio, URL: "music.mp3"})
	require.NoError(t, p.SetActive("music"))

	p.Unqueue(first)
	require.NoError(t, p.SetActive(second))
	info, _ = p.Slot(second)
	assert.Equal(t, firstInstance.InstanceID, info.InstanceID, "returned instance is reused")
	assert.Equal(t, "second.mp4", simOf(t, p, second).Source())
}

func TestPool_PauseExcludesBackground(t *testing.T) {
	p, clk := newTestPool(t, nil)
	p.Queue("fg", Descriptor{Type: MediaForegroundAV, URL: "fg.mp4"})
	p.Queue("bg", Descriptor{Type: MediaBackgroundAudio, URL: "bg.mp3"})
	require.NoError(t, p.SetActive("fg"))
	require.NoError(t, p.SetActive("bg"))
	clk.Advance(bufferDelay)

	p.Play()
	assert.True(t, simOf(t, p, "fg").Playing())
	assert.True(t, simOf(t, p, "bg").Playing())

	p.Pause()
	assert.False(t, p.IsPlaying())
	assert.False(t, simOf(t, p, "fg").Playing())
	assert.True(t, simOf(t, p, "bg").Playing())

	p.PauseBackgrounds()
	assert.False(t, simOf(t, p, "bg").Playing())
	p.Play()
	assert.False(t, simOf(t, p, "bg").Playing())
	p.PlayBackgrounds()
	assert.True(t, simOf(t, p, "bg").Playing())
}

func TestPool_PlayWaitsForPermission(t *testing.T) {
	p, clk := newTestPool(t, nil)
	p.SetPermissionToPlay(false)
	p.Queue("fg", Descriptor{URL: "fg.mp4"})
	require.NoError(t, p.SetActive("fg"))
	clk.Advance(bufferDelay)

	p.Play()
	assert.False(t, simOf(t, p, "fg").Playing())

	p.SetPermissionToPlay(true)
	assert.True(t, simOf(t, p, "fg").Playing())
}

func TestPool_SetCurrentTimeDeferredUntilReady(t *testing.T) {
	p, clk := newTestPool(t, nil)
	id := RendererID("r1")
	p.Queue(id, Descriptor{URL: "a.mp4?duration=30"})

	require.True(t, p.SetCurrentTime(id, 12), "seek before activation is kept")
	require.NoError(t, p.SetActive(id))

	_, ok := p.CurrentTime(id)
	assert.False(t, ok, "not ready while buffering")

	clk.Advance(bufferDelay)
	now, ok := p.CurrentTime(id)
	require.True(t, ok)
	assert.Equal(t, 12.0, now)

	d, ok := p.Duration(id)
	require.True(t, ok)
	assert.Equal(t, 30.0, d)
}

func TestPool_SeekCorrectionRetriesThenGivesUp(t *testing.T) {
	p, clk := newTestPool(t, nil)
	id := RendererID("r1")
	p.Queue(id, Descriptor{URL: "a.mp4?duration=30"})
	require.NoError(t, p.SetActive(id))
	clk.Advance(bufferDelay)
	out := simOf(t, p, id)

	out.SnapBack(2)
	p.SetCurrentTime(id, 20)
	assert.Equal(t, 0.0, out.CurrentTime())
	clk.Advance(p.seek.RetryInterval * 3)
	assert.Equal(t, 20.0, out.CurrentTime())
	assert.Zero(t, clk.Pending())

	out.SnapBack(1000)
	p.SetCurrentTime(id, 5)
	clk.Advance(p.seek.RetryInterval * time.Duration(p.seek.MaxAttempts+5))
	assert.Equal(t, 20.0, out.CurrentTime(), "abandoned after the attempt cap")
	assert.Zero(t, clk.Pending())
}

func TestPool_SubtitlesFollowActiveSlots(t *testing.T) {
	p, _ := newTestPool(t, nil)
	p.Queue("a", Descriptor{URL: "a.mp4", SubtitlesURL: "a.vtt"})
	p.Queue("b", Descriptor{URL: "b.mp4"})
	require.NoError(t, p.SetActive("a"))
	require.NoError(t, p.SetActive("b"))

	p.SetSubtitlesShowing(true)
	assert.True(t, simOf(t, p, "a").SubtitlesAttached())
	assert.False(t, simOf(t, p, "b").SubtitlesAttached())

	p.SetInactive("a")
	assert.False(t, simOf(t, p, "a").SubtitlesAttached())

	require.NoError(t, p.SetActive("a"))
	assert.True(t, simOf(t, p, "a").SubtitlesAttached())

	p.SetSubtitlesShowing(false)
	assert.False(t, simOf(t, p, "a").SubtitlesAttached())
}

func TestPool_EndedEventAndLoop(t *testing.T) {
	p, clk := newTestPool(t, nil)
	id := RendererID("r1")
	p.Queue(id, Descriptor{URL: "a.mp4?duration=2"})
	ended := 0
	p.On(id, EventEnded, func() { ended++ })
	require.NoError(t, p.SetActive(id))
	p.Play()

	clk.Advance(bufferDelay + 2*time.Second)
	assert.Equal(t, 1, ended)
	assert.True(t, p.IsEnded(id))

	p.SetLoop(id, true)
	p.SetCurrentTime(id, 0)
	p.Play()
	p.Play()
	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, ended, "looping media never ends")
}
