package room

import "errors"

// Domain errors for the room package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, room.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a room ID does not exist.
	ErrNotFound = errors.New("room: not found")

	// ErrExists is returned when creating a room with an ID that already exists.
	ErrExists = errors.New("room: already exists")

	// ErrInvalidRoom is returned when room validation fails.
	ErrInvalidRoom = errors.New("room: invalid")

	// ErrInvalidName is returned when a room name is empty or too long.
	ErrInvalidName = errors.New("room: invalid name")

	// ErrInvalidEntity is returned when an entity reference is malformed.
	ErrInvalidEntity = errors.New("room: invalid entity reference")

	// ErrInvalidEvent is returned when event validation fails.
	ErrInvalidEvent = errors.New("room: invalid event")

	// ErrInvalidKind is returned when an event kind is not P1 or P2.
	ErrInvalidKind = errors.New("room: invalid event kind")

	// ErrInvalidShot is returned when a shot is out of range.
	ErrInvalidShot = errors.New("room: invalid shot")

	// ErrEventNotFound is returned when a room has no event of the
	// requested kind.
	ErrEventNotFound = errors.New("room: event not found")

	// ErrRunNotFound is returned when a run record ID does not exist.
	ErrRunNotFound = errors.New("room: run not found")
)
