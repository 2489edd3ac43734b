package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for room persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Room CRUD
	GetByID(ctx context.Context, id string) (*Room, error)
	List(ctx context.Context) ([]Room, error)
	Create(ctx context.Context, room *Room) error
	Update(ctx context.Context, room *Room) error
	Delete(ctx context.Context, id string) error

	// Run history
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, roomID string, since time.Time, limit int) ([]RunRecord, error)
}

// roomColumns is the SELECT column list for room queries.
const roomColumns = `id, name, enabled, pump_entity, zone_entities, light_entity,
			moisture_sensors, events, created_at, updated_at`

// runColumns is the SELECT column list for run record queries.
const runColumns = `id, room_id, kind, started_at, completed_at, result, reason,
			planned_seconds, executed_seconds`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a room by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rm, err := scanRoomRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying room by id: %w", err)
	}
	return rm, nil
}

// List retrieves all rooms ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		rm, scanErr := scanRoomRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning room: %w", scanErr)
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

// Create inserts a new room.
func (r *SQLiteRepository) Create(ctx context.Context, room *Room) error {
	zonesJSON, sensorsJSON, eventsJSON, err := marshalRoomFields(room)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now

	query := `
		INSERT INTO rooms (
			id, name, enabled, pump_entity, zone_entities, light_entity,
			moisture_sensors, events, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		room.ID,
		room.Name,
		boolToInt(room.Enabled),
		room.PumpEntity,
		zonesJSON,
		room.LightEntity,
		sensorsJSON,
		eventsJSON,
		room.CreatedAt.Format(time.RFC3339),
		room.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting room: %w", err)
	}
	return nil
}

// Update modifies an existing room.
func (r *SQLiteRepository) Update(ctx context.Context, room *Room) error {
	zonesJSON, sensorsJSON, eventsJSON, err := marshalRoomFields(room)
	if err != nil {
		return err
	}

	room.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rooms SET
			name = ?, enabled = ?, pump_entity = ?, zone_entities = ?,
			light_entity = ?, moisture_sensors = ?, events = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		room.Name,
		boolToInt(room.Enabled),
		room.PumpEntity,
		zonesJSON,
		room.LightEntity,
		sensorsJSON,
		eventsJSON,
		room.UpdatedAt.Format(time.RFC3339),
		room.ID,
	)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a room by ID. Run history is retained for audit.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun inserts a new run history record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO irrigation_runs (
			id, room_id, kind, started_at, completed_at, result, reason,
			planned_seconds, executed_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.RoomID,
		run.Kind,
		run.StartedAt.Format(time.RFC3339),
		nullableTime(run.CompletedAt),
		string(run.Result),
		nullableReason(run.Reason),
		run.PlannedSeconds,
		run.ExecutedSeconds,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun updates an existing run history record.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *RunRecord) error {
	query := `
		UPDATE irrigation_runs SET
			completed_at = ?, result = ?, reason = ?, executed_seconds = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableTime(run.CompletedAt),
		string(run.Result),
		nullableReason(run.Reason),
		run.ExecutedSeconds,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM irrigation_runs WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	run, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves run records for a room since the given time,
// newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, roomID string, since time.Time, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + runColumns + `
		FROM irrigation_runs
		WHERE room_id = ? AND started_at >= ?
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, roomID, since.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoomRow(scanner rowScanner) (*Room, error) {
	var rm Room
	var enabled int
	var zonesJSON, eventsJSON string
	var sensorsJSON sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rm.ID,
		&rm.Name,
		&enabled,
		&rm.PumpEntity,
		&zonesJSON,
		&rm.LightEntity,
		&sensorsJSON,
		&eventsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rm.Enabled = enabled != 0

	if err := json.Unmarshal([]byte(zonesJSON), &rm.ZoneEntities); err != nil {
		return nil, fmt.Errorf("unmarshalling zones: %w", err)
	}
	if sensorsJSON.Valid && sensorsJSON.String != "" {
		if err := json.Unmarshal([]byte(sensorsJSON.String), &rm.MoistureSensors); err != nil {
			return nil, fmt.Errorf("unmarshalling sensors: %w", err)
		}
	}
	if eventsJSON != "" && eventsJSON != "{}" {
		if err := json.Unmarshal([]byte(eventsJSON), &rm.Events); err != nil {
			return nil, fmt.Errorf("unmarshalling events: %w", err)
		}
	}
	if rm.Events == nil {
		rm.Events = map[EventKind]*Event{}
	}

	// Timestamps are stored as RFC3339.
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		rm.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		rm.UpdatedAt = t
	}

	return &rm, nil
}

func scanRunRow(scanner rowScanner) (*RunRecord, error) {
	var run RunRecord
	var startedAt string
	var completedAt, reason sql.NullString
	var result string

	err := scanner.Scan(
		&run.ID,
		&run.RoomID,
		&run.Kind,
		&startedAt,
		&completedAt,
		&result,
		&reason,
		&run.PlannedSeconds,
		&run.ExecutedSeconds,
	)
	if err != nil {
		return nil, err
	}

	run.Result = RunResult(result)
	if t, parseErr := time.Parse(time.RFC3339, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if reason.Valid {
		run.Reason = reason.String
	}

	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalRoomFields(room *Room) (zones, sensors, events string, err error) {
	zonesBytes, err := json.Marshal(room.ZoneEntities)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling zones: %w", err)
	}

	sensorsBytes, err := json.Marshal(room.MoistureSensors)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling sensors: %w", err)
	}

	if room.Events == nil {
		room.Events = map[EventKind]*Event{}
	}
	eventsBytes, err := json.Marshal(room.Events)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling events: %w", err)
	}

	return string(zonesBytes), string(sensorsBytes), string(eventsBytes), nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullableReason(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
