package memory

import "errors"

var (
	// ErrNotOpen is returned for operations before Open.
	ErrNotOpen = errors.New("memory manager not open")
	// ErrClosed is returned for operations after Close.
	ErrClosed = errors.New("memory manager closed")
	// ErrInvalidTurn rejects turns with an unknown role or no content.
	ErrInvalidTurn = errors.New("invalid conversation turn")
	// ErrInvalidScope rejects scopes without an agent.
	ErrInvalidScope = errors.New("memory scope requires an agent")
)
