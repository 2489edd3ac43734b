package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/verdantgrow/irrigation-core/internal/bus"
	"github.com/verdantgrow/irrigation-core/internal/hardware"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/mqtt"
	"github.com/verdantgrow/irrigation-core/internal/room"
)

// ManualKind labels operator-triggered runs in run history and events.
const ManualKind = "manual"

// Phase is the sequencer's position within a run.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePumpPriming  Phase = "pump_priming"
	PhaseShotActive   Phase = "shot_active"
	PhaseShotInterval Phase = "shot_interval"
	PhaseCompleting   Phase = "completing"
)

// Timing holds the sequencer's fixed delays. SecondUnit is the wall
// duration of one configured watering second; production uses
// time.Second, tests compress it.
type Timing struct {
	PumpZoneDelay time.Duration
	PumpOffSettle time.Duration
	SecondUnit    time.Duration
}

// RoomStore is the room registry view the engine needs.
type RoomStore interface {
	GetRoom(ctx context.Context, id string) (*room.Room, error)
	ListEnabledRooms(ctx context.Context) ([]room.Room, error)
	UpdateEventState(ctx context.Context, roomID string, kind room.EventKind, lastFired, nextFire *time.Time, fired bool) error
	IncrementFired(ctx context.Context, roomID string, kind room.EventKind) error
}

// RunStore persists run history records.
type RunStore interface {
	CreateRun(ctx context.Context, run *room.RunRecord) error
	UpdateRun(ctx context.Context, run *room.RunRecord) error
}

// UsageRecorder is the ledger view the engine needs.
type UsageRecorder interface {
	UsageReader
	Record(ctx context.Context, roomID string, seconds int, at time.Time) (int, error)
}

// Metrics receives telemetry writes. Optional; may be nil.
type Metrics interface {
	WriteRunEvent(roomID, kind, result string, executedSeconds float64)
	WriteDenial(roomID, kind, reason string)
	WriteDailyUsage(roomID string, usedSeconds, capSeconds float64)
}

// Publisher mirrors run events onto MQTT. Optional; may be nil.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config wires an Engine's dependencies.
type Config struct {
	Rooms    RoomStore
	Runs     RunStore
	Ledger   UsageRecorder
	Actuator hardware.Actuator
	Gate     *Gate
	Bus      *bus.Bus

	// Optional.
	Metrics   Metrics
	Publisher Publisher
	Logger    Logger

	Timing          Timing
	MaxDailySeconds int
	Location        *time.Location
}

// stopCause distinguishes how an in-flight run was interrupted.
type stopCause int

const (
	causeNone stopCause = iota
	causeSoft
	causeEmergency
	causeShutdown
)

// activeRun is the engine's in-memory state for one running sequence.
type activeRun struct {
	record *room.RunRecord
	rm     *room.Room
	shots  []room.Shot
	manual bool
	kind   room.EventKind // set for scheduled runs

	mu        sync.Mutex
	phase     Phase
	shotIndex int // 0-based
	stopCh    chan stopCause
	stopped   bool
	cause     stopCause
}

// signalStop delivers a stop cause to the sequencer. An emergency
// arriving while a softer stop winds down upgrades the latched cause so
// the run still terminates as emergency-stopped.
func (a *activeRun) signalStop(cause stopCause) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		if cause != causeEmergency || a.cause == causeEmergency {
			return
		}
		a.cause = cause
		// Wake the sequencer if it is mid-wait; if the original signal
		// is still pending the latched cause carries the upgrade.
		select {
		case a.stopCh <- cause:
		default:
		}
		return
	}
	a.stopped = true
	a.cause = cause
	a.stopCh <- cause
}

// stopCause returns the latched cause, which a late emergency may have
// upgraded past the value read from the channel.
func (a *activeRun) stopCause() stopCause {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cause
}

func (a *activeRun) setProgress(phase Phase, shotIndex int) {
	a.mu.Lock()
	a.phase = phase
	a.shotIndex = shotIndex
	a.mu.Unlock()
}

// RoomStatus is a point-in-time snapshot of a room's run state.
type RoomStatus struct {
	RoomID          string     `json:"room_id"`
	Active          bool       `json:"active"`
	RunID           string     `json:"run_id,omitempty"`
	Kind            string     `json:"kind,omitempty"`
	Phase           Phase      `json:"phase"`
	Shot            int        `json:"shot,omitempty"` // 1-based
	ShotCount       int        `json:"shot_count,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ExecutedSeconds int        `json:"executed_seconds"`
	Emergency       bool       `json:"emergency"`
}

// Engine owns the per-room run state machines, the admission gate and
// the emergency latches. All public methods are thread-safe.
type Engine struct {
	rooms     RoomStore
	runs      RunStore
	ledger    UsageRecorder
	actuator  hardware.Actuator
	gate      *Gate
	bus       *bus.Bus
	metrics   Metrics
	publisher Publisher
	logger    Logger
	timing    Timing
	maxDaily  int
	loc       *time.Location
	topics    mqtt.Topics

	mu             sync.Mutex
	active         map[string]*activeRun // by room ID
	emergencyAll   bool
	emergencyRooms map[string]bool

	runCtx context.Context
	wg     sync.WaitGroup
}

// New creates an engine. Start must be called before any runs.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	timing := cfg.Timing
	if timing.SecondUnit <= 0 {
		timing.SecondUnit = time.Second
	}

	return &Engine{
		rooms:          cfg.Rooms,
		runs:           cfg.Runs,
		ledger:         cfg.Ledger,
		actuator:       cfg.Actuator,
		gate:           cfg.Gate,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		publisher:      cfg.Publisher,
		logger:         logger,
		timing:         timing,
		maxDaily:       cfg.MaxDailySeconds,
		loc:            loc,
		active:         make(map[string]*activeRun),
		emergencyRooms: make(map[string]bool),
		runCtx:         context.Background(),
	}
}

// Start binds the engine's run goroutines to the given context.
// Cancelling it soft-stops every in-flight run.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
}

// Shutdown soft-stops all active runs and waits for their sequencers
// to wind down (zones closed, pumps off).
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, run := range e.active {
		run.signalStop(causeShutdown)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// StartScheduled admits and starts a cron-triggered run for the room's
// event of the given kind. Returns the run ID on admission, or the
// denial reason when the gate refuses.
func (e *Engine) StartScheduled(ctx context.Context, roomID string, kind room.EventKind) (string, DenialReason, error) {
	rm, err := e.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return "", DenialNone, err
	}

	event, ok := rm.Events[kind]
	if !ok {
		return "", DenialNone, room.ErrEventNotFound
	}

	return e.start(ctx, rm, string(kind), kind, event.Shots, false, false)
}

// StartManual starts an operator-triggered single-shot run. Manual runs
// go through the same fail-safe gate as scheduled ones; overrideFailSafe
// skips the environmental checks, but already-active and emergency state
// still apply.
func (e *Engine) StartManual(ctx context.Context, roomID string, durationSeconds int, overrideFailSafe bool) (string, DenialReason, error) {
	if err := room.ValidateShot(room.Shot{DurationSeconds: durationSeconds}); err != nil {
		return "", DenialNone, err
	}

	rm, err := e.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return "", DenialNone, err
	}

	if overrideFailSafe {
		e.logger.Warn("fail-safe override used", "room_id", roomID, "duration_seconds", durationSeconds)
	}

	shots := []room.Shot{{DurationSeconds: durationSeconds}}
	return e.start(ctx, rm, ManualKind, "", shots, true, overrideFailSafe)
}

// start runs the admission sequence and, if admitted, launches the
// sequencer goroutine.
func (e *Engine) start(ctx context.Context, rm *room.Room, kindLabel string, eventKind room.EventKind, shots []room.Shot, manual, override bool) (string, DenialReason, error) {
	now := time.Now()

	// State the engine owns: emergency latches and the active map.
	e.mu.Lock()
	var denial DenialReason
	switch {
	case e.emergencyAll || e.emergencyRooms[rm.ID]:
		denial = DenialEmergencyStop
	case e.active[rm.ID] != nil:
		denial = DenialAlreadyActive
	}
	e.mu.Unlock()

	if denial == DenialNone {
		var err error
		denial, err = e.gate.Check(ctx, rm, override, now)
		if err != nil {
			return "", DenialNone, err
		}
	}

	planned := 0
	for _, s := range shots {
		planned += s.DurationSeconds
	}

	if denial != DenialNone {
		e.recordDenial(ctx, rm, kindLabel, denial, planned, now)
		return "", denial, nil
	}

	record := &room.RunRecord{
		ID:             room.GenerateID(),
		RoomID:         rm.ID,
		Kind:           kindLabel,
		StartedAt:      now.UTC(),
		Result:         room.RunActive,
		PlannedSeconds: planned,
	}

	run := &activeRun{
		record: record,
		rm:     rm,
		shots:  shots,
		manual: manual,
		kind:   eventKind,
		phase:  PhasePumpPriming,
		stopCh: make(chan stopCause, 1),
	}

	// Re-check under lock: another caller may have won the race since
	// the gate check.
	e.mu.Lock()
	if e.active[rm.ID] != nil {
		e.mu.Unlock()
		e.recordDenial(ctx, rm, kindLabel, DenialAlreadyActive, planned, now)
		return "", DenialAlreadyActive, nil
	}
	e.active[rm.ID] = run
	e.mu.Unlock()

	if err := e.runs.CreateRun(ctx, record); err != nil {
		e.mu.Lock()
		delete(e.active, rm.ID)
		e.mu.Unlock()
		return "", DenialNone, fmt.Errorf("persisting run record: %w", err)
	}

	e.logger.Info("run admitted",
		"run_id", record.ID, "room_id", rm.ID, "kind", kindLabel, "shots", len(shots), "planned_seconds", planned)

	e.publishEvent(bus.EventRunStarted, rm.ID, map[string]any{
		"run_id":          record.ID,
		"kind":            kindLabel,
		"shot_count":      len(shots),
		"planned_seconds": planned,
	})

	e.wg.Add(1)
	go e.execute(run)

	return record.ID, DenialNone, nil
}

// Stop requests an orderly stop of a room's active run. The current
// shot ends immediately, zones close, the pump settles and shuts off.
func (e *Engine) Stop(roomID string) error {
	e.mu.Lock()
	run := e.active[roomID]
	e.mu.Unlock()

	if run == nil {
		return ErrNoActiveRun
	}
	run.signalStop(causeSoft)
	e.logger.Info("run stop requested", "room_id", roomID, "run_id", run.record.ID)
	return nil
}

// EmergencyStopRoom latches the room's emergency stop and kills its
// active run, if any. The latch holds until cleared.
func (e *Engine) EmergencyStopRoom(roomID string) {
	e.mu.Lock()
	e.emergencyRooms[roomID] = true
	run := e.active[roomID]
	e.mu.Unlock()

	if run != nil {
		run.signalStop(causeEmergency)
	}

	e.logger.Warn("emergency stop latched", "room_id", roomID)
	e.publishEvent(bus.EventEmergencyChanged, roomID, map[string]any{
		"scope":  "room",
		"active": true,
	})
}

// EmergencyStopAll latches the facility-wide emergency stop and kills
// every active run.
func (e *Engine) EmergencyStopAll() {
	e.mu.Lock()
	e.emergencyAll = true
	runs := make([]*activeRun, 0, len(e.active))
	for _, run := range e.active {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	for _, run := range runs {
		run.signalStop(causeEmergency)
	}

	e.logger.Warn("facility emergency stop latched", "active_runs", len(runs))
	e.publishEvent(bus.EventEmergencyChanged, "", map[string]any{
		"scope":  "all",
		"active": true,
	})
}

// ClearEmergency clears a room's emergency latch.
func (e *Engine) ClearEmergency(roomID string) {
	e.mu.Lock()
	delete(e.emergencyRooms, roomID)
	e.mu.Unlock()

	e.logger.Info("emergency stop cleared", "room_id", roomID)
	e.publishEvent(bus.EventEmergencyChanged, roomID, map[string]any{
		"scope":  "room",
		"active": false,
	})
}

// ClearEmergencyAll clears the facility latch. Room latches were set
// deliberately for those rooms and stay until cleared individually.
func (e *Engine) ClearEmergencyAll() {
	e.mu.Lock()
	e.emergencyAll = false
	e.mu.Unlock()

	e.logger.Info("facility emergency stop cleared")
	e.publishEvent(bus.EventEmergencyChanged, "", map[string]any{
		"scope":  "all",
		"active": false,
	})
}

// EmergencyActive reports whether the facility-wide latch is set.
func (e *Engine) EmergencyActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyAll
}

// RoomEmergency reports whether a room-level or facility latch blocks
// the given room.
func (e *Engine) RoomEmergency(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyAll || e.emergencyRooms[roomID]
}

// Status returns the run snapshot for a room.
func (e *Engine) Status(roomID string) RoomStatus {
	e.mu.Lock()
	run := e.active[roomID]
	emergency := e.emergencyAll || e.emergencyRooms[roomID]
	e.mu.Unlock()

	status := RoomStatus{
		RoomID:    roomID,
		Phase:     PhaseIdle,
		Emergency: emergency,
	}
	if run == nil {
		return status
	}

	run.mu.Lock()
	status.Active = true
	status.RunID = run.record.ID
	status.Kind = run.record.Kind
	status.Phase = run.phase
	status.Shot = run.shotIndex + 1
	status.ShotCount = len(run.shots)
	started := run.record.StartedAt
	status.StartedAt = &started
	status.ExecutedSeconds = run.record.ExecutedSeconds
	run.mu.Unlock()

	return status
}

// ActiveCount returns the number of rooms with a run in flight.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// recordDenial persists a denied run record and publishes the denial.
func (e *Engine) recordDenial(ctx context.Context, rm *room.Room, kindLabel string, reason DenialReason, planned int, now time.Time) {
	completed := now.UTC()
	record := &room.RunRecord{
		ID:             room.GenerateID(),
		RoomID:         rm.ID,
		Kind:           kindLabel,
		StartedAt:      completed,
		CompletedAt:    &completed,
		Result:         room.RunDenied,
		Reason:         string(reason),
		PlannedSeconds: planned,
	}
	if err := e.runs.CreateRun(ctx, record); err != nil {
		e.logger.Error("persisting denial failed", "room_id", rm.ID, "error", err)
	}

	e.logger.Warn("run denied", "room_id", rm.ID, "kind", kindLabel, "reason", reason)

	if e.metrics != nil {
		e.metrics.WriteDenial(rm.ID, kindLabel, string(reason))
	}
	e.publishEvent(bus.EventRunDenied, rm.ID, map[string]any{
		"run_id": record.ID,
		"kind":   kindLabel,
		"reason": string(reason),
	})
}

// publishEvent fans an event out to the bus and, when configured,
// mirrors it onto the room's MQTT event topic.
func (e *Engine) publishEvent(eventType bus.EventType, roomID string, payload map[string]any) {
	e.bus.Publish(bus.Event{Type: eventType, RoomID: roomID, Payload: payload})

	if e.publisher == nil || roomID == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"type":      string(eventType),
		"room_id":   roomID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload":   payload,
	})
	if err != nil {
		return
	}
	if err := e.publisher.Publish(e.topics.RoomEvent(roomID), body, 1, false); err != nil {
		e.logger.Debug("event mirror publish failed", "room_id", roomID, "error", err)
	}
}
