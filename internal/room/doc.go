// Package room provides room and watering-event management for
// Irrigation Core.
//
// A room models one physically plumbed grow room: a pump feeding one or
// more zone valves, a light circuit consulted by the fail-safe checks,
// and up to two cron-scheduled watering events (P1 and P2). Each event
// carries an ordered list of shots, a shot being a watering pulse
// followed by a soak pause.
//
// # Key Types
//
//   - Room: Pump, zones, light and the configured watering events
//   - Event: Cron-scheduled watering programme with ordered shots
//   - Shot: A single watering pulse (duration + soak interval)
//   - RunRecord: Persisted history entry for a run or denial
//   - Registry: Thread-safe in-memory cache wrapping Repository
//
// # Thread Safety
//
// Registry is safe for concurrent use from multiple goroutines. All
// reads return deep copies so the scheduler and the API surface never
// share mutable state.
//
// # Usage
//
//	repo := room.NewSQLiteRepository(db)
//	registry := room.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	rm, err := registry.GetRoom(ctx, roomID)
package room
