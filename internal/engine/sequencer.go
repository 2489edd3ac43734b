package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/verdantgrow/irrigation-core/internal/bus"
	"github.com/verdantgrow/irrigation-core/internal/room"
)

// shutdownAttempts bounds re-issuing of safe-shutdown off commands.
// Only off commands are retried; a valve stuck open is worse than one
// stuck closed.
const shutdownAttempts = 3

// execute drives one run's sequencer from pump prime to terminal state.
// It is the only goroutine that touches hardware for the room while the
// run is active.
func (e *Engine) execute(run *activeRun) {
	defer e.wg.Done()

	result, reason := e.sequence(run)
	e.finalize(run, result, reason)
}

// sequence walks the state machine:
//
//	PumpPriming -> [ShotActive -> ShotInterval]... -> Completing
//
// Invariant on every exit path: zones are commanded off before the pump
// is commanded off. Off commands use a background context so they still
// go out during shutdown.
func (e *Engine) sequence(run *activeRun) (room.RunResult, string) {
	rm := run.rm

	// Prime: pump on, then give it time to build pressure before any
	// zone opens.
	e.progress(run, PhasePumpPriming, 0)
	if err := e.actuator.TurnOn(e.runCtx, rm.PumpEntity); err != nil {
		e.logger.Error("pump actuation failed", "room_id", rm.ID, "entity", rm.PumpEntity, "error", err)
		e.pumpOff(run, true)
		return room.RunFailed, fmt.Sprintf("pump %s: %v", rm.PumpEntity, err)
	}
	if _, cause := e.wait(run, e.timing.PumpZoneDelay); cause != causeNone {
		return e.interrupt(run, cause), ""
	}

	for i, shot := range run.shots {
		if entity, err := e.zonesOn(rm); err != nil {
			e.logger.Error("zone actuation failed", "room_id", rm.ID, "entity", entity, "error", err)
			e.zonesOff(rm)
			e.pumpOff(run, true)
			return room.RunFailed, fmt.Sprintf("zone %s: %v", entity, err)
		}

		e.progress(run, PhaseShotActive, i)
		shotDur := time.Duration(shot.DurationSeconds) * e.timing.SecondUnit
		elapsed, cause := e.wait(run, shotDur)

		// Water went out whether or not the shot finished; account for
		// what was actually delivered before anything else.
		e.accrue(run, shot, elapsed)

		if err := e.zonesOff(rm); err != nil {
			e.pumpOff(run, true)
			return room.RunFailed, fmt.Sprintf("closing zones: %v", err)
		}

		if cause != causeNone {
			return e.interrupt(run, cause), ""
		}

		if i < len(run.shots)-1 && shot.IntervalAfterSeconds > 0 {
			e.progress(run, PhaseShotInterval, i)
			interval := time.Duration(shot.IntervalAfterSeconds) * e.timing.SecondUnit
			if _, cause := e.wait(run, interval); cause != causeNone {
				return e.interrupt(run, cause), ""
			}
		}
	}

	e.progress(run, PhaseCompleting, len(run.shots)-1)
	late, err := e.pumpOff(run, false)
	if err != nil {
		return room.RunFailed, fmt.Sprintf("pump %s: %v", rm.PumpEntity, err)
	}
	if late == causeEmergency {
		return room.RunEmergencyStopped, ""
	}

	return room.RunCompleted, ""
}

// interrupt winds an interrupted run down: emergencies cut the pump
// straight off, softer stops settle first. An emergency arriving during
// the settle upgrades the terminal state.
func (e *Engine) interrupt(run *activeRun, cause stopCause) room.RunResult {
	late, _ := e.pumpOff(run, cause == causeEmergency)
	if late == causeEmergency {
		cause = causeEmergency
	}
	return resultFromCause(cause)
}

// finalize persists the terminal record, releases the room and fans the
// terminal event out.
func (e *Engine) finalize(run *activeRun, result room.RunResult, reason string) {
	now := time.Now().UTC()

	run.mu.Lock()
	run.record.CompletedAt = &now
	run.record.Result = result
	run.record.Reason = reason
	record := *run.record
	run.mu.Unlock()

	// Background context: the record must land even mid-shutdown.
	if err := e.runs.UpdateRun(context.Background(), &record); err != nil {
		e.logger.Error("persisting run result failed", "run_id", record.ID, "error", err)
	}

	e.mu.Lock()
	delete(e.active, record.RoomID)
	e.mu.Unlock()

	e.logger.Info("run finished",
		"run_id", record.ID, "room_id", record.RoomID, "result", result,
		"executed_seconds", record.ExecutedSeconds, "planned_seconds", record.PlannedSeconds)

	if e.metrics != nil {
		e.metrics.WriteRunEvent(record.RoomID, record.Kind, string(result), float64(record.ExecutedSeconds))
	}

	// A scheduled run that delivered every shot counts as a fire.
	if !run.manual && result == room.RunCompleted && run.kind != "" {
		if err := e.rooms.IncrementFired(context.Background(), record.RoomID, run.kind); err != nil {
			e.logger.Warn("incrementing fired count failed", "room_id", record.RoomID, "error", err)
		}
	}

	e.publishEvent(terminalEvent(result), record.RoomID, map[string]any{
		"run_id":           record.ID,
		"kind":             record.Kind,
		"result":           string(result),
		"reason":           reason,
		"executed_seconds": record.ExecutedSeconds,
		"planned_seconds":  record.PlannedSeconds,
	})
}

// wait sleeps for d or until the run is interrupted. Returns how long
// it actually waited and why it woke early.
func (e *Engine) wait(run *activeRun, d time.Duration) (time.Duration, stopCause) {
	if d <= 0 {
		return 0, causeNone
	}

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return d, causeNone
	case <-run.stopCh:
		// The latched cause wins: a late emergency may have upgraded
		// the value that travelled through the channel.
		elapsed := time.Since(start)
		if elapsed > d {
			elapsed = d
		}
		return elapsed, run.stopCause()
	case <-e.runCtx.Done():
		elapsed := time.Since(start)
		if elapsed > d {
			elapsed = d
		}
		return elapsed, causeShutdown
	}
}

// accrue books delivered watering time against the run record, the
// daily ledger and telemetry. Partial shots count for the seconds that
// actually ran.
func (e *Engine) accrue(run *activeRun, shot room.Shot, elapsed time.Duration) {
	seconds := int(elapsed / e.timing.SecondUnit)
	if seconds > shot.DurationSeconds {
		seconds = shot.DurationSeconds
	}
	if seconds <= 0 {
		return
	}

	run.mu.Lock()
	run.record.ExecutedSeconds += seconds
	run.mu.Unlock()

	total, err := e.ledger.Record(context.Background(), run.rm.ID, seconds, time.Now().In(e.loc))
	if err != nil {
		e.logger.Error("recording usage failed", "room_id", run.rm.ID, "error", err)
		return
	}

	if e.metrics != nil {
		e.metrics.WriteDailyUsage(run.rm.ID, float64(total), float64(e.maxDaily))
	}
	e.publishEvent(bus.EventUsageUpdated, run.rm.ID, map[string]any{
		"used_seconds": total,
		"cap_seconds":  e.maxDaily,
	})
}

// progress records a phase transition and publishes it.
func (e *Engine) progress(run *activeRun, phase Phase, shotIndex int) {
	run.setProgress(phase, shotIndex)

	run.mu.Lock()
	executed := run.record.ExecutedSeconds
	runID := run.record.ID
	run.mu.Unlock()

	e.publishEvent(bus.EventRunProgress, run.rm.ID, map[string]any{
		"run_id":           runID,
		"phase":            string(phase),
		"shot":             shotIndex + 1,
		"shot_count":       len(run.shots),
		"executed_seconds": executed,
	})
}

// zonesOn opens every zone valve in order. Returns the failing entity
// on error.
func (e *Engine) zonesOn(rm *room.Room) (string, error) {
	for _, zone := range rm.ZoneEntities {
		if err := e.actuator.TurnOn(e.runCtx, zone); err != nil {
			return zone, err
		}
	}
	return "", nil
}

// zonesOff closes every zone valve, attempting all of them even after
// a failure and retrying each a bounded number of times. Uses a
// background context so closes go out on shutdown.
func (e *Engine) zonesOff(rm *room.Room) error {
	var firstErr error
	for _, zone := range rm.ZoneEntities {
		if err := e.turnOffRetry(zone); err != nil {
			e.logger.Error("zone close failed", "room_id", rm.ID, "entity", zone, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// pumpOff shuts the pump down. Orderly shutdowns settle first so the
// line depressurises through the still-closed zones; emergencies cut
// straight off. The settle is a cancellable wait, and the returned
// cause reports an emergency that arrived during it.
func (e *Engine) pumpOff(run *activeRun, immediate bool) (stopCause, error) {
	var late stopCause
	if !immediate {
		_, late = e.wait(run, e.timing.PumpOffSettle)
	}
	if err := e.turnOffRetry(run.rm.PumpEntity); err != nil {
		e.logger.Error("pump off failed", "room_id", run.rm.ID, "entity", run.rm.PumpEntity, "error", err)
		return late, err
	}
	return late, nil
}

// turnOffRetry issues an off command with bounded retries.
func (e *Engine) turnOffRetry(entity string) error {
	var err error
	for attempt := 0; attempt < shutdownAttempts; attempt++ {
		if err = e.actuator.TurnOff(context.Background(), entity); err == nil {
			return nil
		}
	}
	return err
}

func resultFromCause(cause stopCause) room.RunResult {
	if cause == causeEmergency {
		return room.RunEmergencyStopped
	}
	return room.RunStopped
}

func terminalEvent(result room.RunResult) bus.EventType {
	switch result {
	case room.RunCompleted:
		return bus.EventRunCompleted
	case room.RunStopped:
		return bus.EventRunStopped
	case room.RunFailed:
		return bus.EventRunFailed
	case room.RunEmergencyStopped:
		return bus.EventRunEmergencyStopped
	default:
		return bus.EventRunCompleted
	}
}
