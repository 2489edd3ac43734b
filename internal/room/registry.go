package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// Registry provides room management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. The scheduler reads room state
// every tick, so lookups must never touch the database on the hot path.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Room // Cached rooms by ID
	cacheMu sync.RWMutex     // Protects cache
	logger  Logger
}

// NewRegistry creates a new room registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Room),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rooms from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rooms, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rooms: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Room, len(rooms))
	for i := range rooms {
		rm := rooms[i]
		r.cache[rm.ID] = rm.DeepCopy()
	}

	r.logger.Info("room cache refreshed", "count", len(rooms))
	return nil
}

// GetRoom retrieves a room by ID.
// The returned room is a deep copy; callers can safely modify it.
func (r *Registry) GetRoom(_ context.Context, id string) (*Room, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrNotFound
}

// ListRooms retrieves all rooms from the cache.
// Returns deep copies sorted by name for deterministic ordering.
func (r *Registry) ListRooms(_ context.Context) ([]Room, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rooms := make([]Room, 0, len(r.cache))
	for _, rm := range r.cache {
		rooms = append(rooms, *rm.DeepCopy())
	}
	sortRooms(rooms)
	return rooms, nil
}

// ListEnabledRooms retrieves all enabled rooms from the cache.
// This is the scheduler's per-tick working set.
func (r *Registry) ListEnabledRooms(_ context.Context) ([]Room, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var rooms []Room
	for _, rm := range r.cache {
		if rm.Enabled {
			rooms = append(rooms, *rm.DeepCopy())
		}
	}
	sortRooms(rooms)
	return rooms, nil
}

// sortRooms sorts rooms by name, matching the DB query ordering.
func sortRooms(rooms []Room) {
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Name < rooms[j].Name
	})
}

// CreateRoom validates, persists, and caches a new room.
func (r *Registry) CreateRoom(ctx context.Context, room *Room) error {
	// Generate ID if not provided
	if room.ID == "" {
		room.ID = GenerateID()
	}
	if room.Events == nil {
		room.Events = map[EventKind]*Event{}
	}

	// Validate
	if err := ValidateRoom(room); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, room); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[room.ID] = room.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("room created", "id", room.ID, "name", room.Name)
	return nil
}

// UpdateRoom validates, persists, and updates the cached room.
func (r *Registry) UpdateRoom(ctx context.Context, room *Room) error {
	// Validate
	if err := ValidateRoom(room); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, room); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[room.ID] = room.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("room updated", "id", room.ID, "name", room.Name)
	return nil
}

// DeleteRoom removes a room from persistence and cache.
func (r *Registry) DeleteRoom(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("room deleted", "id", id)
	return nil
}

// SetEvent creates or replaces the event of the given kind on a room.
// Scheduling state (last fired, fire count) carries over when replacing
// an existing event so an edit does not reset history; next fire is
// cleared for recomputation against the new cron expression.
func (r *Registry) SetEvent(ctx context.Context, roomID string, event *Event) (*Room, error) {
	if err := ValidateEvent(event); err != nil {
		return nil, err
	}

	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if prev, ok := room.Events[event.Kind]; ok {
		event.LastFired = prev.LastFired
		event.FiredCount = prev.FiredCount
	}
	event.NextFire = nil
	room.Events[event.Kind] = event.DeepCopy()

	if err := r.persistAndCache(ctx, room); err != nil {
		return nil, err
	}

	r.logger.Info("event set", "room_id", roomID, "kind", event.Kind, "cron", event.CronExpr)
	return room.DeepCopy(), nil
}

// RemoveEvent deletes the event of the given kind from a room.
func (r *Registry) RemoveEvent(ctx context.Context, roomID string, kind EventKind) (*Room, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if _, ok := room.Events[kind]; !ok {
		return nil, ErrEventNotFound
	}
	delete(room.Events, kind)

	if err := r.persistAndCache(ctx, room); err != nil {
		return nil, err
	}

	r.logger.Info("event removed", "room_id", roomID, "kind", kind)
	return room.DeepCopy(), nil
}

// EnableEvent toggles the enabled flag on an event.
func (r *Registry) EnableEvent(ctx context.Context, roomID string, kind EventKind, enabled bool) (*Room, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	event, ok := room.Events[kind]
	if !ok {
		return nil, ErrEventNotFound
	}
	event.Enabled = enabled
	if !enabled {
		event.NextFire = nil
	}

	if err := r.persistAndCache(ctx, room); err != nil {
		return nil, err
	}

	r.logger.Info("event toggled", "room_id", roomID, "kind", kind, "enabled", enabled)
	return room.DeepCopy(), nil
}

// UpdateEventState records scheduling state after an event fires or its
// next occurrence is recomputed. lastFired may be nil to leave the
// existing value untouched; fired controls whether the fire counter
// increments.
func (r *Registry) UpdateEventState(ctx context.Context, roomID string, kind EventKind, lastFired *time.Time, nextFire *time.Time, fired bool) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	event, ok := room.Events[kind]
	if !ok {
		return ErrEventNotFound
	}
	if lastFired != nil {
		t := *lastFired
		event.LastFired = &t
	}
	if nextFire != nil {
		t := *nextFire
		event.NextFire = &t
	} else {
		event.NextFire = nil
	}
	if fired {
		event.FiredCount++
	}

	return r.persistAndCache(ctx, room)
}

// IncrementFired bumps an event's fire counter without touching its
// scheduling timestamps. Called when a scheduled run completes cleanly.
func (r *Registry) IncrementFired(ctx context.Context, roomID string, kind EventKind) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	event, ok := room.Events[kind]
	if !ok {
		return ErrEventNotFound
	}
	event.FiredCount++

	return r.persistAndCache(ctx, room)
}

// persistAndCache writes a modified room through to the repository and
// replaces the cache entry.
func (r *Registry) persistAndCache(ctx context.Context, room *Room) error {
	if err := r.repo.Update(ctx, room); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[room.ID] = room.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// GetRoomCount returns the number of cached rooms.
func (r *Registry) GetRoomCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
