package playout

import "github.com/google/uuid"

// RendererID is the opaque key a renderer uses for its slot in the pool.
type RendererID string

// NewRendererID returns a fresh random RendererID.
func NewRendererID() RendererID {
	return RendererID(uuid.NewString())
}

// MediaType is the kind of media a slot plays.
type MediaType string

const (
	MediaForegroundAV    MediaType = "foreground_av"
	MediaForegroundAudio MediaType = "foreground_audio"
	MediaBackgroundAudio MediaType = "background_audio"
)

// Class returns the output class that can play media of type t: video
// outputs for audio-visual media, audio outputs for everything else.
func (t MediaType) Class() Class {
	if t == MediaForegroundAV {
		return ClassForeground
	}
	return ClassBackground
}

// Foreground reports whether t follows the global pause.
func (t MediaType) Foreground() bool {
	return t == MediaForegroundAV || t == MediaForegroundAudio
}

// Class groups interchangeable physical outputs.
type Class string

const (
	ClassForeground Class = "foreground"
	ClassBackground Class = "background"
)

// Descriptor describes the media queued for a slot. Zero-valued fields are
// unset and do not overwrite earlier values when merged.
type Descriptor struct {
	Type         MediaType `json:"type,omitempty"`
	URL          string    `json:"url,omitempty"`
	SubtitlesURL string    `json:"subtitles_url,omitempty"`
	Loop         *bool     `json:"loop,omitempty"`
}

// Merge returns d with every set field of p applied on top.
func (d Descriptor) Merge(p Descriptor) Descriptor {
	if p.Type != "" {
		d.Type = p.Type
	}
	if p.URL != "" {
		d.URL = p.URL
	}
	if p.SubtitlesURL != "" {
		d.SubtitlesURL = p.SubtitlesURL
	}
	if p.Loop != nil {
		loop := *p.Loop
		d.Loop = &loop
	}
	return d
}

// Looping reports whether the descriptor asks for looped playback.
func (d Descriptor) Looping() bool {
	return d.Loop != nil && *d.Loop
}

// Slot is the pool's record for one renderer id.
type Slot struct {
	ID       RendererID
	Media    Descriptor
	Active   bool
	Instance *Instance

	// queued holds subscriptions registered while the slot was inactive.
	queued []*subscription
	// attached holds subscriptions bound to the instance's output.
	attached map[Subscription]*subscription

	seek      *seekState
	pendingAt *float64
}

// SlotInfo is a read-only snapshot of a slot.
type SlotInfo struct {
	ID          RendererID `json:"id"`
	Media       Descriptor `json:"media"`
	Active      bool       `json:"active"`
	InstanceID  string     `json:"instance_id,omitempty"`
	CurrentTime *float64   `json:"current_time,omitempty"`
}

// Stats summarises pool occupancy.
type Stats struct {
	Queued         int `json:"queued"`
	Active         int `json:"active"`
	InstancesInUse int `json:"instances_in_use"`
}
