package session

import (
	"errors"
	"maps"
	"slices"

	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/renderer"
)

// ErrNodeNotFound is returned by RemoveNode for a node the owner never added.
var ErrNodeNotFound = errors.New("surface node not found")

// ChoiceView is what the surface currently shows for one renderer's link
// choice.
type ChoiceView struct {
	Owner     playout.RendererID  `json:"owner"`
	Icons     []linkchoice.Icon   `json:"icons"`
	Shown     bool                `json:"shown"`
	Default   narrative.ElementID `json:"default,omitempty"`
	Class     string              `json:"class,omitempty"`
	Opacity   float64             `json:"opacity"`
	Countdown *float64            `json:"countdown,omitempty"`
}

// OwnedNode is a surface node together with the renderer that added it.
type OwnedNode struct {
	Owner playout.RendererID `json:"owner"`
	renderer.Node
}

// VolumeControl is the volume slider of one active media slot.
type VolumeControl struct {
	Slot  playout.RendererID `json:"slot"`
	Label string             `json:"label"`
}

// SurfaceState is a snapshot of a RecordingSurface.
type SurfaceState struct {
	InteractionStarted     bool            `json:"interaction_started"`
	ControlsEnabled        bool            `json:"controls_enabled"`
	SeekButtonsVisible     bool            `json:"seek_buttons_visible"`
	CompleteBehaviourPhase bool            `json:"complete_behaviour_phase"`
	Choices                []ChoiceView    `json:"choices,omitempty"`
	Nodes                  []OwnedNode     `json:"nodes,omitempty"`
	VolumeControls         []VolumeControl `json:"volume_controls,omitempty"`
}

// RecordingSurface is a headless render surface. It keeps the state a
// visual surface would draw and forwards transport presses to the
// renderers listening for them. It also shows the volume controls of active
// media slots as a playout.Affordances.
//
// It is not safe for concurrent use; it lives on the control goroutine
// with the renderers that draw on it.
type RecordingSurface struct {
	interaction   bool
	controls      bool
	seekButtons   bool
	completePhase bool

	choices map[playout.RendererID]*ChoiceView
	nodes   map[playout.RendererID]map[string]renderer.Node
	volumes map[playout.RendererID]string

	nextListener int
	listeners    map[int]func(renderer.TransportAction)
}

// NewRecordingSurface returns a surface with controls and seek buttons
// visible and no interaction yet.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{
		controls:    true,
		seekButtons: true,
		choices:     make(map[playout.RendererID]*ChoiceView),
		nodes:       make(map[playout.RendererID]map[string]renderer.Node),
		volumes:     make(map[playout.RendererID]string),
		listeners:   make(map[int]func(renderer.TransportAction)),
	}
}

// StartInteraction records that the viewer has begun playback.
func (s *RecordingSurface) StartInteraction() { s.interaction = true }

// InteractionStarted implements renderer.Surface.
func (s *RecordingSurface) InteractionStarted() bool { return s.interaction }

// Press delivers a transport button press to every listener, in
// registration order.
func (s *RecordingSurface) Press(a renderer.TransportAction) {
	for _, id := range slices.Sorted(maps.Keys(s.listeners)) {
		if fn, ok := s.listeners[id]; ok {
			fn(a)
		}
	}
}

// OnTransport implements renderer.Surface.
func (s *RecordingSurface) OnTransport(fn func(renderer.TransportAction)) func() {
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

// Listeners returns the number of registered transport listeners.
func (s *RecordingSurface) Listeners() int { return len(s.listeners) }

func (s *RecordingSurface) EnableControls()  { s.controls = true }
func (s *RecordingSurface) DisableControls() { s.controls = false }
func (s *RecordingSurface) ShowSeekButtons() { s.seekButtons = true }
func (s *RecordingSurface) HideSeekButtons() { s.seekButtons = false }

func (s *RecordingSurface) EnterCompleteBehaviourPhase() { s.completePhase = true }
func (s *RecordingSurface) ExitCompleteBehaviourPhase()  { s.completePhase = false }

func (s *RecordingSurface) choice(owner playout.RendererID) *ChoiceView {
	c, ok := s.choices[owner]
	if !ok {
		c = &ChoiceView{Owner: owner, Opacity: 1}
		s.choices[owner] = c
	}
	return c
}

// BuildIcon implements linkchoice.Surface.
func (s *RecordingSurface) BuildIcon(owner playout.RendererID, icon linkchoice.Icon) {
	c := s.choice(owner)
	c.Icons = append(c.Icons, icon)
}

// ShowIcons implements linkchoice.Surface.
func (s *RecordingSurface) ShowIcons(owner playout.RendererID, opts linkchoice.ShowOptions) {
	c := s.choice(owner)
	c.Shown = true
	c.Default = opts.Default
	c.Class = opts.OverlayClass
}

// SetChoiceOpacity implements linkchoice.Surface.
func (s *RecordingSurface) SetChoiceOpacity(owner playout.RendererID, v float64) {
	if c, ok := s.choices[owner]; ok {
		c.Opacity = v
	}
}

// ClearIcons implements linkchoice.Surface.
func (s *RecordingSurface) ClearIcons(owner playout.RendererID) { delete(s.choices, owner) }

// StartCountdown implements linkchoice.Surface.
func (s *RecordingSurface) StartCountdown(owner playout.RendererID, remaining float64) {
	s.choice(owner).Countdown = &remaining
}

// AddNode implements renderer.Surface. A node with an existing id replaces
// it.
func (s *RecordingSurface) AddNode(owner playout.RendererID, n renderer.Node) {
	m, ok := s.nodes[owner]
	if !ok {
		m = make(map[string]renderer.Node)
		s.nodes[owner] = m
	}
	m[n.ID] = n
}

// SetNodeOpacity implements renderer.Surface.
func (s *RecordingSurface) SetNodeOpacity(owner playout.RendererID, id string, v float64) {
	if n, ok := s.nodes[owner][id]; ok {
		n.Opacity = v
		s.nodes[owner][id] = n
	}
}

// RemoveNode implements renderer.Surface.
func (s *RecordingSurface) RemoveNode(owner playout.RendererID, id string) error {
	if _, ok := s.nodes[owner][id]; !ok {
		return ErrNodeNotFound
	}
	delete(s.nodes[owner], id)
	return nil
}

// RemoveNodes implements renderer.Surface.
func (s *RecordingSurface) RemoveNodes(owner playout.RendererID) { delete(s.nodes, owner) }

// AddVolumeControl implements playout.Affordances.
func (s *RecordingSurface) AddVolumeControl(id playout.RendererID, label string) {
	s.volumes[id] = label
}

// RemoveVolumeControl implements playout.Affordances.
func (s *RecordingSurface) RemoveVolumeControl(id playout.RendererID) { delete(s.volumes, id) }

// Snapshot returns the surface state, ordered by owner and node id.
func (s *RecordingSurface) Snapshot() SurfaceState {
	st := SurfaceState{
		InteractionStarted:     s.interaction,
		ControlsEnabled:        s.controls,
		SeekButtonsVisible:     s.seekButtons,
		CompleteBehaviourPhase: s.completePhase,
	}
	for _, owner := range slices.Sorted(maps.Keys(s.choices)) {
		c := *s.choices[owner]
		c.Icons = slices.Clone(c.Icons)
		st.Choices = append(st.Choices, c)
	}
	for _, owner := range slices.Sorted(maps.Keys(s.nodes)) {
		m := s.nodes[owner]
		for _, id := range slices.Sorted(maps.Keys(m)) {
			st.Nodes = append(st.Nodes, OwnedNode{Owner: owner, Node: m[id]})
		}
	}
	for _, id := range slices.Sorted(maps.Keys(s.volumes)) {
		st.VolumeControls = append(st.VolumeControls, VolumeControl{Slot: id, Label: s.volumes[id]})
	}
	return st
}
