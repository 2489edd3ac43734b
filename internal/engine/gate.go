package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/verdantgrow/irrigation-core/internal/hardware"
	"github.com/verdantgrow/irrigation-core/internal/room"
)

// DenialReason is the structured reason a run was refused admission.
// Denials are recorded in run history and published on the event bus so
// an operator can see why a room did not water.
type DenialReason string

const (
	// DenialNone means the run was admitted.
	DenialNone DenialReason = ""

	// DenialAlreadyActive: the room already has a run in progress.
	DenialAlreadyActive DenialReason = "ALREADY_ACTIVE"

	// DenialEmergencyStop: a facility or room emergency stop is latched.
	DenialEmergencyStop DenialReason = "EMERGENCY_STOP_ACTIVE"

	// DenialLightsOff: the room's light circuit is off. Watering into a
	// dark room points at a schedule misconfiguration, so the gate
	// refuses rather than risk saturated media with no transpiration.
	DenialLightsOff DenialReason = "LIGHTS_OFF"

	// DenialEntityUnavailable: the pump, a zone valve or the light
	// entity is offline or has never reported state.
	DenialEntityUnavailable DenialReason = "ENTITY_UNAVAILABLE"

	// DenialDailyLimit: the room has reached its daily watering cap.
	DenialDailyLimit DenialReason = "DAILY_LIMIT_REACHED"
)

// UsageReader is the ledger view the gate needs.
type UsageReader interface {
	Used(ctx context.Context, roomID string, at time.Time) (int, error)
}

// Gate performs the fail-safe admission checks before any hardware is
// touched. Already-active and emergency-stop checks live in the Engine,
// which owns that state; the gate covers the environmental checks.
type Gate struct {
	observer        hardware.Observer
	ledger          UsageReader
	maxDailySeconds int
	failSafeEnabled bool
}

// NewGate creates an admission gate.
func NewGate(observer hardware.Observer, ledger UsageReader, maxDailySeconds int, failSafeEnabled bool) *Gate {
	return &Gate{
		observer:        observer,
		ledger:          ledger,
		maxDailySeconds: maxDailySeconds,
		failSafeEnabled: failSafeEnabled,
	}
}

// Check runs the environmental fail-safe checks for a room.
//
// Manual and scheduled runs alike pass through every check; an operator
// can skip them only with an explicit override, which applies to all of
// them uniformly. Already-active and emergency state are enforced
// upstream and can never be overridden.
//
// Check order: entity availability, then lights, then the daily cap.
// The first failure wins.
func (g *Gate) Check(ctx context.Context, rm *room.Room, override bool, now time.Time) (DenialReason, error) {
	if override || !g.failSafeEnabled {
		return DenialNone, nil
	}

	// Every actuator the run will touch must be reachable.
	if !g.observer.Available(rm.PumpEntity) {
		return DenialEntityUnavailable, nil
	}
	for _, zone := range rm.ZoneEntities {
		if !g.observer.Available(zone) {
			return DenialEntityUnavailable, nil
		}
	}

	// Lights must be confirmed on, but only for rooms that carry a
	// light reference; the check is skipped outright without one.
	// Unknown is an availability problem, not a lights-off condition.
	if rm.LightEntity != "" {
		switch g.observer.Light(rm.LightEntity) {
		case hardware.LightUnknown:
			return DenialEntityUnavailable, nil
		case hardware.LightOff:
			return DenialLightsOff, nil
		case hardware.LightOn:
		}
	}

	used, err := g.ledger.Used(ctx, rm.ID, now)
	if err != nil {
		return DenialNone, fmt.Errorf("reading daily usage: %w", err)
	}
	if used >= g.maxDailySeconds {
		return DenialDailyLimit, nil
	}

	return DenialNone, nil
}
