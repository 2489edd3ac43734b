package engine

import (
	"context"
	"time"

	"github.com/verdantgrow/irrigation-core/internal/room"
	"github.com/verdantgrow/irrigation-core/internal/schedule"
)

// RunStarter is the engine surface the scheduler drives.
type RunStarter interface {
	StartScheduled(ctx context.Context, roomID string, kind room.EventKind) (string, DenialReason, error)
}

// Scheduler evaluates every enabled room's events once per tick and
// fires those that are due.
//
// Fire bookkeeping happens before the run starts: last-fired and
// next-fire advance whether the run is admitted or denied, so a denial
// consumes the occurrence rather than retrying it every tick. The
// strictly-after Next semantics of the cron evaluator make double
// firing impossible within an occurrence.
type Scheduler struct {
	engine RunStarter
	rooms  RoomStore
	tick   time.Duration
	loc    *time.Location
	logger Logger
}

// NewScheduler creates a scheduler. tick is the evaluation interval,
// loc the site timezone cron expressions are evaluated in.
func NewScheduler(engine RunStarter, rooms RoomStore, tick time.Duration, loc *time.Location, logger Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		engine: engine,
		rooms:  rooms,
		tick:   tick,
		loc:    loc,
		logger: logger,
	}
}

// Run drives the tick loop until the context is cancelled. The first
// evaluation happens immediately so next-fire times are seeded without
// waiting a full tick after startup.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick", s.tick, "timezone", s.loc.String())

	s.evaluate(ctx, time.Now())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.evaluate(ctx, now)
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		}
	}
}

// evaluate walks every enabled room's enabled events and fires due ones.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	rooms, err := s.rooms.ListEnabledRooms(ctx)
	if err != nil {
		s.logger.Error("listing rooms failed", "error", err)
		return
	}

	for i := range rooms {
		rm := &rooms[i]
		for _, kind := range room.AllKinds() {
			event, ok := rm.Events[kind]
			if !ok || !event.Enabled {
				continue
			}
			s.evaluateEvent(ctx, rm, kind, event, now)
		}
	}
}

func (s *Scheduler) evaluateEvent(ctx context.Context, rm *room.Room, kind room.EventKind, event *room.Event, now time.Time) {
	sched, err := schedule.Parse(event.CronExpr)
	if err != nil {
		// Expressions are validated at save time; reaching this means
		// a bad row landed in the store some other way.
		s.logger.Error("invalid cron expression in store",
			"room_id", rm.ID, "kind", kind, "cron", event.CronExpr, "error", err)
		return
	}

	// First sighting (new event, edit, or restart): seed next-fire and
	// wait for it. Never fire on a seed, or a restart at the wrong
	// moment would water on boot.
	if event.NextFire == nil {
		next := sched.NextFrom(now, s.loc)
		if err := s.rooms.UpdateEventState(ctx, rm.ID, kind, nil, &next, false); err != nil {
			s.logger.Error("seeding next fire failed", "room_id", rm.ID, "kind", kind, "error", err)
		}
		s.logger.Debug("next fire seeded", "room_id", rm.ID, "kind", kind, "next", next)
		return
	}

	due := *event.NextFire
	if now.Before(due) {
		return
	}

	next := sched.NextFrom(now, s.loc)

	// An occurrence older than one tick was missed while the service
	// was down or stalled. Watering late is worse than not watering:
	// the light schedule has moved on. Skip it and realign.
	if now.Sub(due) > s.tick {
		s.logger.Warn("missed occurrence skipped",
			"room_id", rm.ID, "kind", kind, "due", due, "next", next)
		if err := s.rooms.UpdateEventState(ctx, rm.ID, kind, nil, &next, false); err != nil {
			s.logger.Error("advancing schedule failed", "room_id", rm.ID, "kind", kind, "error", err)
		}
		return
	}

	// Consume the occurrence before starting the run.
	fireTime := now
	if err := s.rooms.UpdateEventState(ctx, rm.ID, kind, &fireTime, &next, false); err != nil {
		s.logger.Error("recording fire failed", "room_id", rm.ID, "kind", kind, "error", err)
		return
	}

	runID, denial, err := s.engine.StartScheduled(ctx, rm.ID, kind)
	switch {
	case err != nil:
		s.logger.Error("starting scheduled run failed", "room_id", rm.ID, "kind", kind, "error", err)
	case denial != DenialNone:
		s.logger.Info("scheduled run denied", "room_id", rm.ID, "kind", kind, "reason", denial)
	default:
		s.logger.Info("scheduled run started", "room_id", rm.ID, "kind", kind, "run_id", runID, "next", next)
	}
}
