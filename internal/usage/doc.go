// Package usage provides the daily watering ledger for Irrigation Core.
//
// The ledger accumulates actually-delivered watering seconds per room
// per local day. The engine's fail-safe gate consults it before every
// run: a room at or over the configured daily cap is denied until local
// midnight or until an operator resets it.
//
// Totals are written through to SQLite on every record, so the cap
// holds across process restarts. Day boundaries follow the site's
// configured timezone, derived from the clock on each call rather than
// tracked by a rollover timer.
package usage
