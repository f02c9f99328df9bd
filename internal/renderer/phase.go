package renderer

// Phase is a renderer's lifecycle state.
type Phase int

const (
	PhaseConstructing Phase = iota
	PhaseConstructed
	PhaseMain
	PhaseCompleting
	PhaseMediaFinished
	PhaseEnded
	PhaseDestroyed
)

var phaseNames = map[Phase]string{
	PhaseConstructing:  "constructing",
	PhaseConstructed:   "constructed",
	PhaseMain:          "main",
	PhaseCompleting:    "completing",
	PhaseMediaFinished: "media_finished",
	PhaseEnded:         "ended",
	PhaseDestroyed:     "destroyed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// transitions lists the phases reachable from each phase. Phases only move
// forward; Destroyed has no exits.
var transitions = map[Phase][]Phase{
	PhaseConstructing:  {PhaseConstructed, PhaseEnded, PhaseDestroyed},
	PhaseConstructed:   {PhaseMain, PhaseEnded, PhaseDestroyed},
	PhaseMain:          {PhaseMediaFinished, PhaseCompleting, PhaseEnded, PhaseDestroyed},
	PhaseMediaFinished: {PhaseCompleting, PhaseEnded, PhaseDestroyed},
	PhaseCompleting:    {PhaseEnded, PhaseDestroyed},
	PhaseEnded:         {PhaseDestroyed},
}

// CanTransition reports whether a renderer in phase from may enter to.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// started reports whether p is one of the phases between start and end.
func (p Phase) started() bool {
	return p == PhaseMain || p == PhaseMediaFinished || p == PhaseCompleting
}
