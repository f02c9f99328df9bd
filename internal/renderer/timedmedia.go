package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/playout"
)

// TimedMedia plays a representation's foreground media, and any background
// audio, through the playout pool. The timeline starts at the asset's in
// point and ends at its out point or at the end of the media. Looping media
// reports the total time played and ends at the representation duration, if
// it has one.
type TimedMedia struct {
	h   ContentHost
	id  playout.RendererID
	log *slog.Logger

	in, out     float64
	backgrounds []playout.RendererID

	endedSub   playout.Subscription
	watch      clock.Timer
	finished   bool
	latched    float64
	// accumulated is the time played across loops.
	accumulated float64
	lastRaw    float64
	lastMove   time.Time
	userVolume float64
}

// NewTimedMedia returns TimedMedia content for h.
func NewTimedMedia(h ContentHost) Content {
	return &TimedMedia{h: h, id: h.ID(), log: h.Logger(), userVolume: 1}
}

type backgroundMedia struct {
	url  string
	loop bool
}

// Load implements Content.Load.
func (m *TimedMedia) Load(ctx context.Context) (func(), error) {
	rep := m.h.Representation()
	fetch := m.h.Fetcher()

	ac, err := fetch.FetchAssetCollection(ctx, rep.AssetCollections.ForegroundID)
	if err != nil {
		return nil, fmt.Errorf("foreground asset collection: %w", err)
	}
	mediaType := playout.MediaForegroundAV
	src := ac.Assets.AVSrc
	if rep.Type == narrative.RepresentationAudio || src == "" {
		if ac.Assets.AudioSrc != "" {
			src = ac.Assets.AudioSrc
			mediaType = playout.MediaForegroundAudio
		}
	}
	url, err := fetch.FetchMedia(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("foreground media: %w", err)
	}

	var subtitles string
	if ac.Assets.SubSrc != "" {
		if subtitles, err = fetch.FetchMedia(ctx, ac.Assets.SubSrc); err != nil {
			m.log.Warn("could not fetch subtitles", slog.String("error", err.Error()))
			subtitles = ""
		}
	}

	var bgs []backgroundMedia
	for _, id := range rep.AssetCollections.BackgroundIDs {
		bac, err := fetch.FetchAssetCollection(ctx, id)
		if err != nil {
			m.log.Warn("could not fetch background asset collection",
				slog.String("asset_collection_id", id), slog.String("error", err.Error()))
			continue
		}
		ref := bac.Assets.AudioSrc
		if ref == "" {
			ref = bac.Assets.AVSrc
		}
		bu, err := fetch.FetchMedia(ctx, ref)
		if err != nil {
			m.log.Warn("could not fetch background media",
				slog.String("asset_collection_id", id), slog.String("error", err.Error()))
			continue
		}
		bgs = append(bgs, backgroundMedia{url: bu, loop: bac.Loop})
	}

	return func() {
		pool := m.h.Pool()
		m.in, m.out = ac.Meta.In, ac.Meta.Out
		loop := ac.Loop
		pool.Queue(m.id, playout.Descriptor{Type: mediaType, URL: url, SubtitlesURL: subtitles, Loop: &loop})
		if m.in > 0 {
			pool.SetCurrentTime(m.id, m.in)
		}
		for i, bg := range bgs {
			bid := playout.RendererID(string(m.id) + "/background/" + strconv.Itoa(i))
			bgLoop := bg.loop
			pool.Queue(bid, playout.Descriptor{Type: playout.MediaBackgroundAudio, URL: bg.url, Loop: &bgLoop})
			m.backgrounds = append(m.backgrounds, bid)
		}
	}, nil
}

// Start implements Content.Start.
func (m *TimedMedia) Start() error {
	pool := m.h.Pool()
	if err := pool.SetActive(m.id); err != nil {
		return err
	}
	for _, bid := range m.backgrounds {
		if err := pool.SetActive(bid); err != nil {
			m.log.Warn("background audio not started", slog.String("slot", string(bid)), slog.String("error", err.Error()))
		}
	}
	if v, ok := pool.Volume(m.id); ok {
		m.userVolume = v
	}
	m.finished = false
	m.endedSub = pool.On(m.id, playout.EventEnded, m.onEnded)
	m.lastMove = m.h.Clock().Now()
	m.watch = m.h.Clock().Every(m.h.Policy().InspectInterval, m.inspect)
	return nil
}

// CueUp seeks the queued media back to its in point.
func (m *TimedMedia) CueUp() {
	m.h.Pool().SetCurrentTime(m.id, m.in)
	m.latched = 0
	m.accumulated = 0
}

// End implements Content.End. The slot is rewound and deactivated but keeps
// its buffered media.
func (m *TimedMedia) End() {
	pool := m.h.Pool()
	m.stopWatch()
	pool.Off(m.id, m.endedSub)
	m.endedSub = 0
	pool.SetVolume(m.id, m.userVolume)
	pool.SetCurrentTime(m.id, m.in)
	m.latched = 0
	m.accumulated = 0
	pool.SetInactive(m.id)
	for _, bid := range m.backgrounds {
		pool.SetInactive(bid)
	}
}

// Destroy implements Content.Destroy.
func (m *TimedMedia) Destroy() {
	m.stopWatch()
	pool := m.h.Pool()
	pool.Unqueue(m.id)
	for _, bid := range m.backgrounds {
		pool.Unqueue(bid)
	}
	m.backgrounds = nil
}

// CurrentTime implements Content.CurrentTime. While the media is buffering
// the last known position is reported.
func (m *TimedMedia) CurrentTime() TimeInfo {
	pool := m.h.Pool()
	looping := pool.IsLooping(m.id)
	if raw, ok := pool.CurrentTime(m.id); ok {
		pos := math.Max(0, raw-m.in)
		if diff := pos - m.latched; looping && diff > 0 {
			m.accumulated += diff
		}
		m.latched = pos
	}
	if looping {
		ti := TimeInfo{TimeBased: true, CurrentTime: m.accumulated}
		if d, ok := m.loopDuration(); ok {
			rem := math.Max(0, d-m.accumulated)
			ti.Duration = &d
			ti.Remaining = &rem
		}
		return ti
	}
	ti := TimeInfo{TimeBased: true, CurrentTime: m.latched}
	if end, ok := m.endPoint(); ok {
		d := math.Max(0, end-m.in)
		rem := math.Max(0, d-m.latched)
		ti.Duration = &d
		ti.Remaining = &rem
	}
	return ti
}

// SetCurrentTime implements Content.SetCurrentTime. On looping media t is a
// total play time and the playhead moves to the matching point of the loop.
func (m *TimedMedia) SetCurrentTime(t float64) {
	t = math.Max(0, t)
	pool := m.h.Pool()
	if pool.IsLooping(m.id) {
		if d, ok := m.loopDuration(); ok {
			t = math.Min(t, d)
		}
		m.accumulated = t
		pos := t
		if end, ok := m.endPoint(); ok && end-m.in > 0 {
			pos = math.Mod(t, end-m.in)
		}
		m.latched = pos
		pool.SetCurrentTime(m.id, pos+m.in)
		return
	}
	if end, ok := m.endPoint(); ok {
		t = math.Min(t, end-m.in)
	}
	m.latched = t
	pool.SetCurrentTime(m.id, t+m.in)
}

// MediaEnded implements Content.MediaEnded.
func (m *TimedMedia) MediaEnded() bool { return m.finished }

func (m *TimedMedia) endPoint() (float64, bool) {
	if m.out > 0 {
		return m.out, true
	}
	return m.h.Pool().Duration(m.id)
}

// loopDuration is the representation duration that bounds looping media.
func (m *TimedMedia) loopDuration() (float64, bool) {
	if d := m.h.Representation().Duration; d != nil && *d > 0 {
		return *d, true
	}
	return 0, false
}

func (m *TimedMedia) onEnded() {
	if m.h.Pool().IsLooping(m.id) {
		return
	}
	m.finish("media ended")
}

// inspect detects the out point, the representation duration of looping
// media, and playback that stalls just before the end without the backend
// reporting it.
func (m *TimedMedia) inspect() {
	if m.finished {
		return
	}
	pool := m.h.Pool()
	raw, ok := pool.CurrentTime(m.id)
	if !ok {
		return
	}
	if m.out > 0 && raw >= m.out {
		m.finish("out point reached")
		return
	}
	if pool.IsLooping(m.id) {
		if d, ok := m.loopDuration(); ok && m.CurrentTime().CurrentTime >= d {
			m.finish("loop duration reached")
			return
		}
	}

	now := m.h.Clock().Now()
	if raw != m.lastRaw {
		m.lastRaw = raw
		m.lastMove = now
		return
	}
	if !pool.IsPlaying() || pool.IsLooping(m.id) {
		m.lastMove = now
		return
	}
	policy := m.h.Policy()
	ti := m.CurrentTime()
	if ti.Remaining != nil && *ti.Remaining <= policy.StallWindow.Seconds() && now.Sub(m.lastMove) >= policy.StallTimeout {
		m.finish("stalled near the end")
	}
}

func (m *TimedMedia) finish(reason string) {
	if m.finished {
		return
	}
	m.finished = true
	m.stopWatch()
	m.log.Info("media finished", slog.String("reason", reason))
	m.h.MediaFinished()
}

func (m *TimedMedia) stopWatch() {
	clock.StopTimer(m.watch)
	m.watch = nil
}
