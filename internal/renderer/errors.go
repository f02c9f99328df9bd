package renderer

import "errors"

var (
	// ErrNotImplemented is the panic value of content operations that a
	// content type does not provide.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedBehaviour is returned when a representation uses a
	// behaviour kind the renderer has no handler for.
	ErrUnsupportedBehaviour = errors.New("unsupported behaviour")

	// ErrEnded is returned by Start once the renderer has ended.
	ErrEnded = errors.New("renderer has ended")
)
