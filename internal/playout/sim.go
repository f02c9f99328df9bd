package playout

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"time"

	"narrative-playout/internal/clock"
)

// DefaultSimDuration is the media length SimOutput assumes when the source
// URL carries no duration parameter.
const DefaultSimDuration = 10.0

// SimOutput is an in-memory Output whose playhead advances with a Clock.
//
// The media duration is read from a "duration" query parameter of the source
// URL (seconds). Buffering completes BufferDelay after Load.
type SimOutput struct {
	clk         clock.Clock
	bufferDelay time.Duration

	src       string
	duration  float64
	ready     bool
	playing   bool
	ended     bool
	loop      bool
	volume    float64
	position  float64
	anchor    time.Time
	subtitles string

	// snapBacks is the number of upcoming seeks the output will ignore,
	// imitating backends that restore the old position after a seek.
	snapBacks int

	nextListener int
	listeners    map[int]simListener
	loadTimer    clock.Timer
	endTimer     clock.Timer
}

type simListener struct {
	ev Event
	fn func()
}

// NewSimOutput returns a SimOutput driven by clk.
func NewSimOutput(clk clock.Clock, bufferDelay time.Duration) *SimOutput {
	return &SimOutput{
		clk:         clk,
		bufferDelay: bufferDelay,
		volume:      1,
		listeners:   make(map[int]simListener),
	}
}

// SimFactory returns an OutputFactory producing SimOutputs.
func SimFactory(clk clock.Clock, bufferDelay time.Duration) OutputFactory {
	return func(Class) Output { return NewSimOutput(clk, bufferDelay) }
}

// SnapBack makes the next n seeks leave the playhead where it was.
func (o *SimOutput) SnapBack(n int) { o.snapBacks = n }

// Load implements Output.Load.
func (o *SimOutput) Load(src string) {
	if src == o.src {
		return
	}
	clock.StopTimer(o.loadTimer)
	clock.StopTimer(o.endTimer)
	o.src = src
	o.ready = false
	o.playing = false
	o.ended = false
	o.position = 0
	o.duration = parseSimDuration(src)
	if src == "" {
		return
	}
	o.loadTimer = o.clk.AfterFunc(o.bufferDelay, func() {
		o.ready = true
		o.emit(EventDataReady)
		if o.playing {
			o.anchor = o.clk.Now()
			o.scheduleEnd()
		}
	})
}

// Source implements Output.Source.
func (o *SimOutput) Source() string { return o.src }

// Play implements Output.Play. Playback begins once buffered.
func (o *SimOutput) Play() {
	if o.playing || o.src == "" {
		return
	}
	if o.ended {
		o.ended = false
		o.position = 0
	}
	o.playing = true
	if o.ready {
		o.anchor = o.clk.Now()
		o.scheduleEnd()
	}
	o.emit(EventPlaying)
}

// Pause implements Output.Pause.
func (o *SimOutput) Pause() {
	if !o.playing {
		return
	}
	o.position = o.CurrentTime()
	o.playing = false
	clock.StopTimer(o.endTimer)
	o.emit(EventPause)
}

// Playing implements Output.Playing.
func (o *SimOutput) Playing() bool { return o.playing }

// Ready implements Output.Ready.
func (o *SimOutput) Ready() bool { return o.ready }

// Ended implements Output.Ended.
func (o *SimOutput) Ended() bool { return o.ended }

// CurrentTime implements Output.CurrentTime.
func (o *SimOutput) CurrentTime() float64 {
	if !o.playing || !o.ready {
		return o.position
	}
	t := o.position + o.clk.Now().Sub(o.anchor).Seconds()
	if o.loop && o.duration > 0 {
		return math.Mod(t, o.duration)
	}
	return math.Min(t, o.duration)
}

// SetCurrentTime implements Output.SetCurrentTime.
func (o *SimOutput) SetCurrentTime(t float64) {
	if o.snapBacks > 0 {
		o.snapBacks--
		o.emit(EventSeeked)
		return
	}
	o.position = math.Max(0, math.Min(t, o.duration))
	o.anchor = o.clk.Now()
	o.ended = false
	if o.playing && o.ready {
		o.scheduleEnd()
	}
	o.emit(EventSeeked)
}

// Duration implements Output.Duration.
func (o *SimOutput) Duration() (float64, bool) {
	if !o.ready {
		return 0, false
	}
	return o.duration, true
}

// SetLoop implements Output.SetLoop.
func (o *SimOutput) SetLoop(loop bool) {
	if o.playing && o.ready {
		o.position = o.CurrentTime()
		o.anchor = o.clk.Now()
	}
	o.loop = loop
	if o.playing && o.ready {
		o.scheduleEnd()
	}
}

// Loop implements Output.Loop.
func (o *SimOutput) Loop() bool { return o.loop }

// SetVolume implements Output.SetVolume.
func (o *SimOutput) SetVolume(v float64) { o.volume = math.Max(0, math.Min(1, v)) }

// Volume implements Output.Volume.
func (o *SimOutput) Volume() float64 { return o.volume }

// AttachSubtitles implements Output.AttachSubtitles.
func (o *SimOutput) AttachSubtitles(src string) { o.subtitles = src }

// DetachSubtitles implements Output.DetachSubtitles.
func (o *SimOutput) DetachSubtitles() { o.subtitles = "" }

// SubtitlesAttached implements Output.SubtitlesAttached.
func (o *SimOutput) SubtitlesAttached() bool { return o.subtitles != "" }

// AddListener implements Output.AddListener.
func (o *SimOutput) AddListener(ev Event, fn func()) int {
	o.nextListener++
	o.listeners[o.nextListener] = simListener{ev: ev, fn: fn}
	return o.nextListener
}

// RemoveListener implements Output.RemoveListener.
func (o *SimOutput) RemoveListener(id int) { delete(o.listeners, id) }

// ListenerCount returns the number of registered listeners.
func (o *SimOutput) ListenerCount() int { return len(o.listeners) }

// Reset implements Output.Reset.
func (o *SimOutput) Reset() {
	o.Load("")
	o.loop = false
	o.volume = 1
	o.subtitles = ""
	o.snapBacks = 0
	o.listeners = make(map[int]simListener)
}

func (o *SimOutput) scheduleEnd() {
	clock.StopTimer(o.endTimer)
	remaining := o.duration - o.position
	if o.loop {
		if o.duration <= 0 {
			return
		}
		remaining = o.duration - math.Mod(o.position, o.duration)
	}
	d := time.Duration(math.Max(remaining, 0) * float64(time.Second))
	o.endTimer = o.clk.AfterFunc(d, func() {
		if o.loop {
			o.position = 0
			o.anchor = o.clk.Now()
			o.scheduleEnd()
			return
		}
		o.position = o.duration
		o.playing = false
		o.ended = true
		o.emit(EventEnded)
	})
}

func (o *SimOutput) emit(ev Event) {
	ids := make([]int, 0, len(o.listeners))
	for id, l := range o.listeners {
		if l.ev == ev {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	for _, id := range ids {
		// A listener may remove others.
		if l, ok := o.listeners[id]; ok {
			l.fn()
		}
	}
}

func parseSimDuration(src string) float64 {
	u, err := url.Parse(src)
	if err != nil {
		return DefaultSimDuration
	}
	if d, err := strconv.ParseFloat(u.Query().Get("duration"), 64); err == nil && d > 0 {
		return d
	}
	return DefaultSimDuration
}
