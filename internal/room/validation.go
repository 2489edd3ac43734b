package room

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/verdantgrow/irrigation-core/internal/schedule"
)

// Validation constants.
const (
	maxNameLength = 100
	maxZones      = 16
	maxSensors    = 16
	maxShots      = 10

	// Shot bounds mirror the hardware reality: sub-second pulses do not
	// wet media evenly, and a single shot longer than an hour is a
	// misconfiguration, not a programme.
	minShotSeconds = 1
	maxShotSeconds = 3600

	// maxIntervalSeconds caps soak pauses at 2 hours.
	maxIntervalSeconds = 7200

	entityPattern = `^[a-z0-9]+(?:[-_][a-z0-9]+)*$`
)

var entityRegex = regexp.MustCompile(entityPattern)

// Pre-computed validation set for O(1) kind lookups.
var validKinds map[EventKind]struct{}

func init() {
	validKinds = make(map[EventKind]struct{}, len(AllKinds()))
	for _, k := range AllKinds() {
		validKinds[k] = struct{}{}
	}
}

// ValidateRoom performs comprehensive validation on a room.
// Returns an error describing the first validation failure found.
func ValidateRoom(r *Room) error {
	if r == nil {
		return ErrInvalidRoom
	}

	if err := ValidateName(r.Name); err != nil {
		return err
	}

	// Pump is mandatory: zones are dead without it.
	if err := ValidateEntity(r.PumpEntity); err != nil {
		return fmt.Errorf("pump: %w", err)
	}

	// At least one zone, all well-formed, no duplicates.
	if len(r.ZoneEntities) == 0 {
		return fmt.Errorf("%w: at least one zone is required", ErrInvalidRoom)
	}
	if len(r.ZoneEntities) > maxZones {
		return fmt.Errorf("%w: exceeds maximum of %d zones", ErrInvalidRoom, maxZones)
	}
	seen := make(map[string]struct{}, len(r.ZoneEntities))
	for i, z := range r.ZoneEntities {
		if err := ValidateEntity(z); err != nil {
			return fmt.Errorf("zone[%d]: %w", i, err)
		}
		if _, dup := seen[z]; dup {
			return fmt.Errorf("%w: duplicate zone %q", ErrInvalidRoom, z)
		}
		seen[z] = struct{}{}
	}

	// The light reference is optional: without one the gate skips the
	// lights check. When present it must be well-formed.
	if r.LightEntity != "" {
		if err := ValidateEntity(r.LightEntity); err != nil {
			return fmt.Errorf("light: %w", err)
		}
	}

	if len(r.MoistureSensors) > maxSensors {
		return fmt.Errorf("%w: exceeds maximum of %d moisture sensors", ErrInvalidRoom, maxSensors)
	}
	for i, s := range r.MoistureSensors {
		if err := ValidateEntity(s); err != nil {
			return fmt.Errorf("moisture_sensor[%d]: %w", i, err)
		}
	}

	for kind, event := range r.Events {
		if event == nil {
			return fmt.Errorf("%w: event %q is nil", ErrInvalidEvent, kind)
		}
		if kind != event.Kind {
			return fmt.Errorf("%w: event keyed %q declares kind %q", ErrInvalidEvent, kind, event.Kind)
		}
		if err := ValidateEvent(event); err != nil {
			return err
		}
	}

	return nil
}

// ValidateName checks if a room name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateEntity checks an MQTT entity reference.
// References become topic segments, so the charset is restricted to
// lowercase alphanumerics with hyphen/underscore separators.
func ValidateEntity(entity string) error {
	if entity == "" {
		return fmt.Errorf("%w: entity cannot be empty", ErrInvalidEntity)
	}
	if !entityRegex.MatchString(entity) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with hyphens or underscores", ErrInvalidEntity, entity)
	}
	return nil
}

// ValidateEvent checks an event's kind, cron expression and shots.
// The cron expression is compiled here so malformed schedules are
// rejected at save time, never at tick time.
func ValidateEvent(e *Event) error {
	if e == nil {
		return ErrInvalidEvent
	}

	if _, ok := validKinds[e.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}

	if err := schedule.Validate(e.CronExpr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if len(e.Shots) == 0 {
		return fmt.Errorf("%w: at least one shot is required", ErrInvalidEvent)
	}
	if len(e.Shots) > maxShots {
		return fmt.Errorf("%w: exceeds maximum of %d shots", ErrInvalidEvent, maxShots)
	}

	for i, shot := range e.Shots {
		if err := ValidateShot(shot); err != nil {
			return fmt.Errorf("shot[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateShot checks a single shot's bounds.
func ValidateShot(s Shot) error {
	if s.DurationSeconds < minShotSeconds || s.DurationSeconds > maxShotSeconds {
		return fmt.Errorf("%w: duration_seconds must be %d-%d", ErrInvalidShot, minShotSeconds, maxShotSeconds)
	}
	if s.IntervalAfterSeconds < 0 || s.IntervalAfterSeconds > maxIntervalSeconds {
		return fmt.Errorf("%w: interval_after_seconds must be 0-%d", ErrInvalidShot, maxIntervalSeconds)
	}
	return nil
}

// GenerateID creates a new UUID for a room or run record.
func GenerateID() string {
	return uuid.New().String()
}
