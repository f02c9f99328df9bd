package renderer

import (
	"context"
	"fmt"
	"math"
	"time"

	"narrative-playout/internal/clock"
)

// contentNodeID is the surface node an Interval draws its image into.
const contentNodeID = "content"

// Interval presents a representation with no media clock, such as an image
// or text card. Its timeline is the clock time that passes while the
// transport is playing, and it finishes after the representation's
// duration. Without a duration it never finishes on its own.
type Interval struct {
	h        ContentHost
	duration float64
	imageURL string

	elapsed  float64
	last     time.Time
	ticker   clock.Timer
	finished bool
}

// NewInterval returns Interval content for h.
func NewInterval(h ContentHost) Content {
	d := math.Inf(1)
	if p := h.Representation().Duration; p != nil {
		d = *p
	}
	return &Interval{h: h, duration: d}
}

// Load implements Content.Load.
func (iv *Interval) Load(ctx context.Context) (func(), error) {
	acID := iv.h.Representation().AssetCollections.ForegroundID
	if acID == "" {
		return func() {}, nil
	}
	ac, err := iv.h.Fetcher().FetchAssetCollection(ctx, acID)
	if err != nil {
		return nil, fmt.Errorf("foreground asset collection: %w", err)
	}
	if ac.Assets.ImageSrc == "" {
		return func() {}, nil
	}
	u, err := iv.h.Fetcher().FetchMedia(ctx, ac.Assets.ImageSrc)
	if err != nil {
		return nil, fmt.Errorf("foreground image: %w", err)
	}
	return func() { iv.imageURL = u }, nil
}

// Start implements Content.Start.
func (iv *Interval) Start() error {
	if iv.imageURL != "" {
		iv.h.Surface().AddNode(iv.h.ID(), Node{ID: contentNodeID, Kind: NodeContent, ImageURL: iv.imageURL, Opacity: 1})
	}
	iv.finished = false
	iv.last = iv.h.Clock().Now()
	iv.ticker = iv.h.Clock().Every(iv.h.Policy().InspectInterval, iv.tick)
	return nil
}

func (iv *Interval) tick() {
	now := iv.h.Clock().Now()
	if iv.h.Pool().IsPlaying() {
		iv.elapsed += now.Sub(iv.last).Seconds()
	}
	iv.last = now
	if !iv.finished && iv.elapsed >= iv.duration {
		iv.elapsed = iv.duration
		iv.finished = true
		iv.stop()
		iv.h.MediaFinished()
	}
}

// End implements Content.End.
func (iv *Interval) End() {
	iv.stop()
	iv.elapsed = 0
}

// Destroy implements Content.Destroy.
func (iv *Interval) Destroy() { iv.stop() }

// CurrentTime implements Content.CurrentTime.
func (iv *Interval) CurrentTime() TimeInfo {
	ti := TimeInfo{CurrentTime: iv.elapsed}
	if !math.IsInf(iv.duration, 1) {
		d := iv.duration
		rem := math.Max(0, d-iv.elapsed)
		ti.Duration = &d
		ti.Remaining = &rem
	}
	return ti
}

// SetCurrentTime implements Content.SetCurrentTime.
func (iv *Interval) SetCurrentTime(t float64) {
	iv.elapsed = math.Min(math.Max(0, t), iv.duration)
	iv.last = iv.h.Clock().Now()
}

// MediaEnded implements Content.MediaEnded.
func (iv *Interval) MediaEnded() bool { return iv.finished }

func (iv *Interval) stop() {
	clock.StopTimer(iv.ticker)
	iv.ticker = nil
}
