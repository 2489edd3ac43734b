// Package logging provides structured logging for Irrigation Core.
//
// It wraps log/slog so every component logs through the same handler
// with service and version stamped on each line. Components tag
// themselves with With:
//
//	seqLog := logger.With("component", "sequencer")
//	seqLog.Info("run admitted", "room_id", roomID, "kind", "P1")
//
// # Configuration
//
// The logging section of config.yaml selects level, format and output:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// JSON is the production format; text is for watching a controller
// interactively. An invalid level falls back to info so a config typo
// cannot keep irrigation from starting.
//
// # What gets logged
//
// Run admissions and denials at info, fail-safe overrides at warn,
// hardware command failures at error. Never log MQTT credentials or
// the InfluxDB token.
package logging
