package hardware

import (
	"context"
	"errors"
)

// LightState is the observed state of a room's light circuit.
type LightState string

const (
	LightOn  LightState = "on"
	LightOff LightState = "off"

	// LightUnknown means no retained state has been seen or the entity
	// is offline. The fail-safe gate treats unknown as not-watering.
	LightUnknown LightState = "unknown"
)

// Domain errors for the hardware package.
var (
	// ErrPublishFailed is returned when the command could not be put on
	// the wire at all.
	ErrPublishFailed = errors.New("hardware: publish failed")

	// ErrActuationTimeout is returned when a bridge did not echo the
	// commanded state within the actuation timeout.
	ErrActuationTimeout = errors.New("hardware: actuation timed out")

	// ErrInvalidEntity is returned for an empty entity reference.
	ErrInvalidEntity = errors.New("hardware: invalid entity")
)

// Actuator switches pumps and zone valves. Implementations must be safe
// for concurrent use; the engine drives multiple rooms at once.
type Actuator interface {
	// TurnOn commands the entity on and waits for the bridge to confirm.
	TurnOn(ctx context.Context, entity string) error

	// TurnOff commands the entity off and waits for the bridge to confirm.
	TurnOff(ctx context.Context, entity string) error
}

// Observer reads entity state without actuating.
type Observer interface {
	// Light returns the observed state of a light entity.
	Light(entity string) LightState

	// Available reports whether a bridge has announced the entity online.
	Available(entity string) bool

	// State returns the last observed switch state ("on"/"off") and
	// whether any state has been seen at all.
	State(entity string) (string, bool)
}
