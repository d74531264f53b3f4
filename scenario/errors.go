package scenario

import "errors"

var (
	// ErrNoExits indicates a scenario with zero exits; rasterization and
	// every solver require at least one exit cell.
	ErrNoExits = errors.New("scenario: at least one exit is required")
	// ErrMalformedWall indicates a wall segment with non-finite
	// coordinates; zero-length segments are accepted.
	ErrMalformedWall = errors.New("scenario: malformed wall segment")
	// ErrInvalidParameters indicates a negative count or non-positive
	// grid/time parameter.
	ErrInvalidParameters = errors.New("scenario: invalid parameters")
)
