// Package database owns the controller's SQLite store: room
// definitions, run history and the daily usage ledger.
//
// Everything the fail-safes depend on after a restart lives here, so
// the controller does not start until the store opens and migrates
// cleanly:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// WAL mode lets the API read run history while the sequencer records
// usage; the busy timeout covers the remaining writer contention. The
// file is chmod 0600 since room rows name controllable hardware.
//
// # Migration strategy
//
// The schema ships embedded in the binary (see the migrations package)
// and changes are additive only: new columns are nullable or carry
// defaults, and nothing is dropped or renamed. Each version is an
// .up.sql/.down.sql pair; down files exist for development, the
// controller itself only migrates up.
package database
