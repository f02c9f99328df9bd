package renderer

import (
	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/playout"
)

// TransportAction is a transport button press forwarded by the surface.
type TransportAction string

const (
	ActionPlay        TransportAction = "play"
	ActionPause       TransportAction = "pause"
	ActionSeekForward TransportAction = "seek_forward"
	ActionSeekBack    TransportAction = "seek_back"
)

// NodeKind says what a surface node draws.
type NodeKind string

const (
	NodeColour  NodeKind = "colour"
	NodeImage   NodeKind = "image"
	NodeText    NodeKind = "text"
	NodeContent NodeKind = "content"
)

// Node is an element a renderer adds to the render surface. Nodes are
// tagged with the owning renderer's id so they can be removed together.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Colour   string   `json:"colour,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Text     string   `json:"text,omitempty"`
	Class    string   `json:"class,omitempty"`
	Opacity  float64  `json:"opacity"`
}

// Surface is the render surface shared by every renderer of a session.
type Surface interface {
	linkchoice.Surface

	// InteractionStarted reports whether the viewer has begun playback.
	InteractionStarted() bool
	// OnTransport registers fn for transport button presses.
	OnTransport(fn func(TransportAction)) (off func())
	HideSeekButtons()

	AddNode(owner playout.RendererID, n Node)
	SetNodeOpacity(owner playout.RendererID, id string, opacity float64)
	// RemoveNode fails when the node is not present.
	RemoveNode(owner playout.RendererID, id string) error
	RemoveNodes(owner playout.RendererID)

	EnterCompleteBehaviourPhase()
	ExitCompleteBehaviourPhase()
}
