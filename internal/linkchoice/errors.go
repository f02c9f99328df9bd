package linkchoice

import "errors"

var (
	// ErrNoChoice is returned when a selection arrives while no choice is
	// being presented.
	ErrNoChoice = errors.New("no link choice is being presented")

	// ErrNotOffered is returned when the selected target is not one of the
	// presented choices.
	ErrNotOffered = errors.New("link target not offered")
)
