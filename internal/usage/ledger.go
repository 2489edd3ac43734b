package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dayFormat is the ledger's day key layout. Days are wall-clock days in
// the site's configured timezone, not UTC days, so the cap resets at
// local midnight the way an operator expects.
const dayFormat = "2006-01-02"

// Logger defines the logging interface used by the Ledger.
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

// Ledger tracks per-room watering seconds per local day.
//
// Every recorded second is written through to SQLite immediately, so
// totals survive a process restart mid-day and the daily cap cannot be
// dodged by bouncing the service. Rollover needs no timer: the day key
// is derived from the clock on every call, so a new day simply reads
// as zero.
//
// All public methods are thread-safe (SQLite serialises writers).
type Ledger struct {
	db     *sql.DB
	loc    *time.Location
	logger Logger
}

// NewLedger creates a ledger recording against the given location's
// wall-clock days.
func NewLedger(db *sql.DB, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{db: db, loc: loc, logger: noopLogger{}}
}

// SetLogger sets the logger for the ledger.
func (l *Ledger) SetLogger(logger Logger) {
	l.logger = logger
}

// DayKey returns the ledger day the given instant falls in.
func (l *Ledger) DayKey(at time.Time) string {
	return at.In(l.loc).Format(dayFormat)
}

// Record adds watering seconds to a room's total for the day containing
// the given instant and returns the new total. Negative or zero amounts
// are rejected.
func (l *Ledger) Record(ctx context.Context, roomID string, seconds int, at time.Time) (int, error) {
	if roomID == "" {
		return 0, errors.New("usage: room id required")
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("usage: seconds must be positive, got %d", seconds)
	}

	day := l.DayKey(at)
	query := `
		INSERT INTO daily_usage (room_id, day, used_seconds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, day) DO UPDATE SET
			used_seconds = used_seconds + excluded.used_seconds,
			updated_at = excluded.updated_at`

	_, err := l.db.ExecContext(ctx, query, roomID, day, seconds, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("recording usage: %w", err)
	}

	total, err := l.Used(ctx, roomID, at)
	if err != nil {
		return 0, err
	}

	l.logger.Debug("usage recorded", "room_id", roomID, "day", day, "added", seconds, "total", total)
	return total, nil
}

// Used returns the seconds recorded for a room on the day containing
// the given instant. A room with no entry reads as zero.
func (l *Ledger) Used(ctx context.Context, roomID string, at time.Time) (int, error) {
	var total int
	query := `SELECT used_seconds FROM daily_usage WHERE room_id = ? AND day = ?`

	err := l.db.QueryRowContext(ctx, query, roomID, l.DayKey(at)).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return total, nil
}

// Snapshot returns the recorded totals for all rooms on the day
// containing the given instant, keyed by room ID.
func (l *Ledger) Snapshot(ctx context.Context, at time.Time) (map[string]int, error) {
	query := `SELECT room_id, used_seconds FROM daily_usage WHERE day = ?`

	rows, err := l.db.QueryContext(ctx, query, l.DayKey(at))
	if err != nil {
		return nil, fmt.Errorf("querying usage snapshot: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var roomID string
		var used int
		if err := rows.Scan(&roomID, &used); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		totals[roomID] = used
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return totals, nil
}

// Reset zeroes a single room's total for the day containing the given
// instant. Resetting a room with no entry is a no-op.
func (l *Ledger) Reset(ctx context.Context, roomID string, at time.Time) error {
	if roomID == "" {
		return errors.New("usage: room id required")
	}

	day := l.DayKey(at)
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM daily_usage WHERE room_id = ? AND day = ?`, roomID, day)
	if err != nil {
		return fmt.Errorf("resetting usage: %w", err)
	}

	l.logger.Info("usage reset", "room_id", roomID, "day", day)
	return nil
}

// ResetAll zeroes every room's total for the day containing the given
// instant.
func (l *Ledger) ResetAll(ctx context.Context, at time.Time) error {
	day := l.DayKey(at)
	_, err := l.db.ExecContext(ctx, `DELETE FROM daily_usage WHERE day = ?`, day)
	if err != nil {
		return fmt.Errorf("resetting usage: %w", err)
	}

	l.logger.Info("usage reset for all rooms", "day", day)
	return nil
}

// Prune deletes entries older than the given number of days, measured
// from the day containing now. History beyond the retention window has
// no bearing on the cap.
func (l *Ledger) Prune(ctx context.Context, now time.Time, retainDays int) (int64, error) {
	if retainDays < 1 {
		retainDays = 1
	}

	cutoff := now.In(l.loc).AddDate(0, 0, -retainDays).Format(dayFormat)
	result, err := l.db.ExecContext(ctx, `DELETE FROM daily_usage WHERE day < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning usage: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if deleted > 0 {
		l.logger.Info("usage pruned", "before", cutoff, "rows", deleted)
	}
	return deleted, nil
}
