package room

import "time"

// Room represents a physically plumbed grow room: one pump feeding one or
// more zone valves, a light circuit used by the fail-safe checks, and the
// watering events configured for it.
type Room struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Enabled rooms are evaluated by the scheduler. Disabling a room
	// suspends scheduled watering without losing its configuration.
	Enabled bool `json:"enabled"`

	// Hardware entity references, addressed over the MQTT bridge
	// scheme. The light reference is optional; a room without one skips
	// the lights fail-safe.
	PumpEntity   string   `json:"pump_entity"`
	ZoneEntities []string `json:"zone_entities"`
	LightEntity  string   `json:"light_entity"`

	// Optional moisture sensors, surfaced in status for operators.
	MoistureSensors []string `json:"moisture_sensors,omitempty"`

	// Watering events keyed by kind. A room has at most one event per kind.
	Events map[EventKind]*Event `json:"events"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a cron-scheduled watering programme for a room.
type Event struct {
	Kind EventKind `json:"kind"`

	// CronExpr is a five-field cron expression evaluated in the site's
	// configured timezone. Validated at save time.
	CronExpr string `json:"cron"`

	Enabled bool `json:"enabled"`

	// Shots execute in order; each shot waters then pauses.
	Shots []Shot `json:"shots"`

	// Scheduling state, maintained by the engine.
	LastFired  *time.Time `json:"last_fired,omitempty"`
	NextFire   *time.Time `json:"next_fire,omitempty"`
	FiredCount int        `json:"fired_count"`
}

// Shot is a single watering pulse within an event.
type Shot struct {
	// DurationSeconds is the watering time with zones open (1-3600).
	DurationSeconds int `json:"duration_seconds"`

	// IntervalAfterSeconds is the soak pause after this shot before the
	// next one starts (0-7200). Ignored for the final shot of a run.
	IntervalAfterSeconds int `json:"interval_after_seconds"`
}

// EventKind identifies a watering programme slot.
//
// P1 is the primary (typically lights-on ramp) programme, P2 the
// secondary (maintenance) programme. Manual runs are not events; they
// are ad-hoc single-shot runs requested through the API.
type EventKind string

const (
	KindP1 EventKind = "P1"
	KindP2 EventKind = "P2"
)

// AllKinds returns all valid event kinds.
func AllKinds() []EventKind {
	return []EventKind{KindP1, KindP2}
}

// TotalSeconds returns the summed watering seconds of all shots,
// excluding soak intervals.
func (e *Event) TotalSeconds() int {
	total := 0
	for _, s := range e.Shots {
		total += s.DurationSeconds
	}
	return total
}

// RunResult is the terminal outcome of an irrigation run.
type RunResult string

const (
	// RunActive marks a run record still in progress.
	RunActive RunResult = "active"

	// RunCompleted means every shot executed in full.
	RunCompleted RunResult = "completed"

	// RunStopped means an operator soft-stopped the run.
	RunStopped RunResult = "stopped"

	// RunFailed means a hardware actuation failed mid-run.
	RunFailed RunResult = "failed"

	// RunEmergencyStopped means the emergency stop terminated the run.
	RunEmergencyStopped RunResult = "emergency_stopped"

	// RunDenied means the fail-safe gate refused admission; no hardware
	// was actuated.
	RunDenied RunResult = "denied"
)

// RunRecord is the persisted history entry for a single run (or denial).
type RunRecord struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`

	// Kind is "P1", "P2" or "manual".
	Kind string `json:"kind"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result RunResult `json:"result"`

	// Reason carries the structured denial or failure reason, empty for
	// clean completions and stops.
	Reason string `json:"reason,omitempty"`

	// PlannedSeconds is the watering total the run was admitted with;
	// ExecutedSeconds is what was actually delivered.
	PlannedSeconds  int `json:"planned_seconds"`
	ExecutedSeconds int `json:"executed_seconds"`
}

// DeepCopy creates a complete independent copy of the Room.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (r *Room) DeepCopy() *Room {
	if r == nil {
		return nil
	}

	cpy := *r // Shallow copy of value fields

	if r.ZoneEntities != nil {
		cpy.ZoneEntities = make([]string, len(r.ZoneEntities))
		copy(cpy.ZoneEntities, r.ZoneEntities)
	}
	if r.MoistureSensors != nil {
		cpy.MoistureSensors = make([]string, len(r.MoistureSensors))
		copy(cpy.MoistureSensors, r.MoistureSensors)
	}
	if r.Events != nil {
		cpy.Events = make(map[EventKind]*Event, len(r.Events))
		for k, e := range r.Events {
			cpy.Events[k] = e.DeepCopy()
		}
	}

	return &cpy
}

// DeepCopy creates an independent copy of the Event.
func (e *Event) DeepCopy() *Event {
	if e == nil {
		return nil
	}

	cpy := *e

	if e.Shots != nil {
		cpy.Shots = make([]Shot, len(e.Shots))
		copy(cpy.Shots, e.Shots)
	}
	if e.LastFired != nil {
		t := *e.LastFired
		cpy.LastFired = &t
	}
	if e.NextFire != nil {
		t := *e.NextFire
		cpy.NextFire = &t
	}

	return &cpy
}
