package playout

// Event names a media output notification.
type Event string

const (
	EventDataReady Event = "loadeddata"
	EventPlaying   Event = "playing"
	EventPause     Event = "pause"
	EventSeeked    Event = "seeked"
	EventEnded     Event = "ended"
)

// Output is a physical media playback element. Implementations are driven
// from the control goroutine only and must deliver listener callbacks on it.
type Output interface {
	// Load starts buffering url. EventDataReady fires once it can play.
	Load(url string)
	Source() string
	Play()
	Pause()
	Playing() bool
	Ready() bool
	Ended() bool
	CurrentTime() float64
	SetCurrentTime(t float64)
	// Duration reports false until metadata is available.
	Duration() (float64, bool)
	SetLoop(loop bool)
	Loop() bool
	SetVolume(v float64)
	Volume() float64
	AttachSubtitles(url string)
	DetachSubtitles()
	SubtitlesAttached() bool
	AddListener(ev Event, fn func()) int
	RemoveListener(id int)
	// Reset unloads media and drops every listener so the output can be
	// handed to another slot.
	Reset()
}
