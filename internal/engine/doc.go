// Package engine provides the irrigation run machinery for Irrigation
// Core: the admission gate, the shot sequencer, the emergency latches
// and the cron scheduler.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                Scheduler (scheduler.go)                  │
//	│  Ticks every tick_interval, fires due events             │
//	│        │                                                 │
//	│        ▼                                                 │
//	│  ┌───────────┐   deny   ┌──────────────────────────┐    │
//	│  │   Gate    │─────────▶│ run history + event bus  │    │
//	│  │ (gate.go) │          └──────────────────────────┘    │
//	│  └───────────┘                                          │
//	│        │ admit                                          │
//	│        ▼                                                 │
//	│  ┌──────────────────────────────────────────────────┐   │
//	│  │  Sequencer (sequencer.go), one goroutine per run  │   │
//	│  │  PumpPriming → ShotActive → ShotInterval → ...    │   │
//	│  │  → Completing, zones always off before pump off   │   │
//	│  └──────────────────────────────────────────────────┘   │
//	└─────────────────────────────────────────────────────────┘
//
// # Fail-Safe Gate
//
// Before hardware is touched, a run must pass: no run already active in
// the room, no emergency stop latched, every actuator online, lights
// confirmed on, daily cap not reached. Manual runs bypass the
// environmental checks but never the active/emergency checks.
//
// # Emergency Stops
//
// A room or facility emergency stop kills in-flight runs without the
// pump settle delay and latches until explicitly cleared. Latched rooms
// deny all new runs, manual included.
//
// # Thread Safety
//
// Engine and Scheduler are safe for concurrent use. One sequencer
// goroutine runs per active room; the engine enforces at most one run
// per room.
package engine
