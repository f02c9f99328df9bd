package renderer

import (
	"context"
	"fmt"
	"log/slog"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/playout"
)

// TimeInfo is a renderer's position on its timeline, in seconds.
type TimeInfo struct {
	TimeBased   bool     `json:"time_based"`
	CurrentTime float64  `json:"current_time"`
	Duration    *float64 `json:"duration,omitempty"`
	Remaining   *float64 `json:"remaining,omitempty"`
}

// Content presents a representation's main content. A renderer drives one
// Content through its lifecycle on the control goroutine, except Load.
type Content interface {
	// Load runs off the control goroutine. It fetches what the content
	// needs and returns a commit that applies the result on the control
	// goroutine.
	Load(ctx context.Context) (commit func(), err error)
	Start() error
	End()
	Destroy()
	CurrentTime() TimeInfo
	SetCurrentTime(t float64)
	// MediaEnded reports whether the content reached its natural end.
	MediaEnded() bool
}

// CueUpper is implemented by content that can prepare itself before it is
// switched to.
type CueUpper interface {
	CueUp()
}

// ContentHost is what a renderer offers its Content.
type ContentHost interface {
	ID() playout.RendererID
	Clock() clock.Clock
	Pool() *playout.Pool
	Surface() Surface
	Fetcher() narrative.Fetcher
	Representation() narrative.Representation
	Policy() Policy
	Logger() *slog.Logger
	// MediaFinished tells the renderer the content reached its end.
	MediaFinished()
}

// ContentFactory builds the Content for a renderer.
type ContentFactory func(h ContentHost) Content

// DefaultContent picks TimedMedia for time-based representations and
// Interval for everything else.
func DefaultContent(h ContentHost) Content {
	if h.Representation().Type.TimeBased() {
		return NewTimedMedia(h)
	}
	return NewInterval(h)
}

// UnimplementedContent panics on every operation. Embed it in content that
// only implements part of the interface.
type UnimplementedContent struct{}

func notImplemented(op string) {
	panic(fmt.Errorf("content %s: %w", op, ErrNotImplemented))
}

func (UnimplementedContent) Load(context.Context) (func(), error) {
	notImplemented("load")
	return nil, nil
}

func (UnimplementedContent) Start() error {
	notImplemented("start")
	return nil
}

func (UnimplementedContent) End()     { notImplemented("end") }
func (UnimplementedContent) Destroy() { notImplemented("destroy") }

func (UnimplementedContent) CurrentTime() TimeInfo {
	notImplemented("current time")
	return TimeInfo{}
}

func (UnimplementedContent) SetCurrentTime(float64) { notImplemented("set current time") }

func (UnimplementedContent) MediaEnded() bool {
	notImplemented("media ended")
	return false
}
