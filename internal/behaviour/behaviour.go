package behaviour

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidBehaviour is returned by Validate for structurally broken
// behaviour definitions.
var ErrInvalidBehaviour = errors.New("invalid behaviour")

// Behaviour is a single behaviour definition as authored in a story file.
// Only the fields relevant to its Kind are read.
type Behaviour struct {
	ID   string `yaml:"id"`
	Kind Kind   `yaml:"type"`

	// Pause: seconds to hold; negative holds until skipped.
	PauseTime float64 `yaml:"pause_time,omitempty"`

	// Overlays and visual fades.
	Colour   string  `yaml:"colour,omitempty"`
	Image    string  `yaml:"image,omitempty"` // behaviour asset collection mapping id
	Text     string  `yaml:"text,omitempty"`
	Duration float64 `yaml:"duration,omitempty"`

	// Variable manipulation: Lua expression assigned to TargetVariable.
	TargetVariable string `yaml:"target_variable,omitempty"`
	Operation      string `yaml:"operation,omitempty"`

	// Link choices. Nil fields take the defaults applied by ChoiceOptions.
	ShowNeToEnd       *bool      `yaml:"show_ne_to_end,omitempty"`
	OneShot           *bool      `yaml:"one_shot,omitempty"`
	ShowIfOneChoice   *bool      `yaml:"show_if_one_choice,omitempty"`
	ShowTimeRemaining *bool      `yaml:"show_time_remaining,omitempty"`
	DisableControls   *bool      `yaml:"disable_controls,omitempty"`
	ForceChoice       *bool      `yaml:"force_choice,omitempty"`
	OverlayClass      string     `yaml:"overlay_class,omitempty"`
	LinkIcons         []LinkIcon `yaml:"link_icons,omitempty"`
}

// LinkIcon describes how one link target is presented in a choice.
type LinkIcon struct {
	TargetElementID string    `yaml:"target_narrative_element_id"`
	Image           string    `yaml:"image,omitempty"` // behaviour asset collection mapping id
	Text            string    `yaml:"text,omitempty"`
	Position        *Position `yaml:"position,omitempty"`
}

// Position places an icon in percentages of the render surface.
type Position struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// ChoiceOptions is the resolved presentation policy of a link-choice
// behaviour.
type ChoiceOptions struct {
	ShowNeToEnd     bool
	OneShot         bool
	ShowIfOneChoice bool
	Countdown       bool
	DisableControls bool
	ForceChoice     bool
	OverlayClass    string
}

// ChoiceOptions returns b's link-choice options with defaults filled in.
func (b Behaviour) ChoiceOptions() ChoiceOptions {
	return ChoiceOptions{
		ShowNeToEnd:     boolOr(b.ShowNeToEnd, true),
		OneShot:         boolOr(b.OneShot, false),
		ShowIfOneChoice: boolOr(b.ShowIfOneChoice, false),
		Countdown:       boolOr(b.ShowTimeRemaining, false),
		DisableControls: boolOr(b.DisableControls, true),
		ForceChoice:     boolOr(b.ForceChoice, false),
		OverlayClass:    b.OverlayClass,
	}
}

// HidesControls reports whether b hides transport controls ahead of its start.
func (b Behaviour) HidesControls() bool {
	return b.Kind == KindShowLinkChoices && b.ChoiceOptions().DisableControls
}

// Icon returns the icon definition for target, if any.
func (b Behaviour) Icon(target string) (LinkIcon, bool) {
	for _, li := range b.LinkIcons {
		if li.TargetElementID == target {
			return li, true
		}
	}
	return LinkIcon{}, false
}

// Validate checks the fields b's kind depends on.
func (b Behaviour) Validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("%w: behaviour %q", ErrUnknownKind, b.ID)
	}
	if b.ID == "" {
		return fmt.Errorf("%w: %s behaviour has no id", ErrInvalidBehaviour, b.Kind)
	}
	switch b.Kind {
	case KindManipulateVariable:
		if b.TargetVariable == "" || b.Operation == "" {
			return fmt.Errorf("%w: %q needs target_variable and operation", ErrInvalidBehaviour, b.ID)
		}
	case KindShowImage:
		if b.Image == "" {
			return fmt.Errorf("%w: %q needs image", ErrInvalidBehaviour, b.ID)
		}
	case KindFadeIn, KindFadeOut, KindFadeAudioIn, KindFadeAudioOut:
		if b.Duration < 0 {
			return fmt.Errorf("%w: %q has negative duration", ErrInvalidBehaviour, b.ID)
		}
	}
	return nil
}

// During is a behaviour bound to a window of the representation's timeline.
type During struct {
	Behaviour Behaviour `yaml:"behaviour"`
	StartTime float64   `yaml:"start_time"`
	// Duration is open-ended when nil.
	Duration *float64 `yaml:"duration,omitempty"`
}

// EndTime returns the end of the window, or +Inf when it has no duration.
func (d During) EndTime() float64 {
	if d.Duration == nil {
		return math.Inf(1)
	}
	return d.StartTime + *d.Duration
}

// Set groups a representation's behaviours by timing.
type Set struct {
	During    []During    `yaml:"during,omitempty"`
	Completed []Behaviour `yaml:"completed,omitempty"`
}

// Validate validates every behaviour in s and rejects duplicate ids.
func (s Set) Validate() error {
	seen := make(map[string]bool)
	check := func(b Behaviour) error {
		if err := b.Validate(); err != nil {
			return err
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidBehaviour, b.ID)
		}
		seen[b.ID] = true
		return nil
	}
	for _, d := range s.During {
		if err := check(d.Behaviour); err != nil {
			return err
		}
		if d.StartTime < 0 {
			return fmt.Errorf("%w: %q starts before 0", ErrInvalidBehaviour, d.Behaviour.ID)
		}
	}
	for _, b := range s.Completed {
		if err := check(b); err != nil {
			return err
		}
	}
	return nil
}

// Kinds returns the distinct kinds used in s.
func (s Set) Kinds() []Kind {
	seen := make(map[Kind]bool)
	var out []Kind
	add := func(k Kind) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, d := range s.During {
		add(d.Behaviour.Kind)
	}
	for _, b := range s.Completed {
		add(b.Kind)
	}
	return out
}

// ChoiceTime returns the earliest start time of a during link choice, or -1
// when there is none.
func (s Set) ChoiceTime() float64 {
	t := -1.0
	for _, d := range s.During {
		if d.Behaviour.Kind != KindShowLinkChoices {
			continue
		}
		if t < 0 || d.StartTime < t {
			t = d.StartTime
		}
	}
	return t
}

// HasLinkChoice reports whether any behaviour in s presents link choices.
func (s Set) HasLinkChoice() bool {
	for _, k := range s.Kinds() {
		if k == KindShowLinkChoices {
			return true
		}
	}
	return false
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
