package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/verdantgrow/irrigation-core/internal/bus"
	"github.com/verdantgrow/irrigation-core/internal/engine"
	"github.com/verdantgrow/irrigation-core/internal/hardware"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/config"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/logging"
	"github.com/verdantgrow/irrigation-core/internal/room"
	"github.com/verdantgrow/irrigation-core/internal/usage"
)

// ─── Test Fixtures ───────────────────────────────────────────────────

// fakeActuator accepts every command without talking to hardware.
type fakeActuator struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeActuator) TurnOn(_ context.Context, entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, entity+" on")
	return nil
}

func (f *fakeActuator) TurnOff(_ context.Context, entity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, entity+" off")
	return nil
}

// fakeObserver reports every entity online with lights on.
type fakeObserver struct{}

func (fakeObserver) Light(string) hardware.LightState { return hardware.LightOn }
func (fakeObserver) Available(string) bool            { return true }
func (fakeObserver) State(string) (string, bool)      { return "off", true }

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	schema := `
		CREATE TABLE rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			pump_entity TEXT NOT NULL,
			zone_entities TEXT NOT NULL DEFAULT '[]',
			light_entity TEXT NOT NULL,
			moisture_sensors TEXT,
			events TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE irrigation_runs (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			result TEXT NOT NULL DEFAULT 'active',
			reason TEXT,
			planned_seconds INTEGER NOT NULL DEFAULT 0,
			executed_seconds INTEGER NOT NULL DEFAULT 0
		) STRICT;

		CREATE INDEX idx_runs_room_started ON irrigation_runs(room_id, started_at);

		CREATE TABLE daily_usage (
			room_id TEXT NOT NULL,
			day TEXT NOT NULL,
			used_seconds INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (room_id, day)
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testHarness bundles the API server with its live dependencies.
type testHarness struct {
	server  *Server
	handler http.Handler
	rooms   *room.Registry
	engine  *engine.Engine
	ledger  *usage.Ledger
	bus     *bus.Bus
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db := setupTestDB(t)
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stderr"}, "test")

	repo := room.NewSQLiteRepository(db)
	registry := room.NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refreshing registry cache: %v", err)
	}

	ledger := usage.NewLedger(db, time.UTC)
	eventBus := bus.New()
	t.Cleanup(eventBus.Close)

	gate := engine.NewGate(fakeObserver{}, ledger, 3600, true)
	eng := engine.New(engine.Config{
		Rooms:    registry,
		Runs:     repo,
		Ledger:   ledger,
		Actuator: &fakeActuator{},
		Gate:     gate,
		Bus:      eventBus,
		Timing: engine.Timing{
			PumpZoneDelay: 2 * time.Millisecond,
			PumpOffSettle: 2 * time.Millisecond,
			SecondUnit:    time.Millisecond,
		},
		MaxDailySeconds: 3600,
		Location:        time.UTC,
	})
	eng.Start(context.Background())
	t.Cleanup(eng.Shutdown)

	engineCfg := config.EngineConfig{
		TickInterval:     60,
		PumpZoneDelay:    5,
		PumpOffSettle:    3,
		ActuationTimeout: 10,
		MaxDailySeconds:  3600,
		FailSafeEnabled:  true,
	}
	wsCfg := config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10}

	server, err := New(Deps{
		Config:    config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:        wsCfg,
		EngineCfg: engineCfg,
		Logger:    logger,
		Rooms:     registry,
		Runs:      repo,
		Engine:    eng,
		Ledger:    ledger,
		Bus:       eventBus,
		DB:        db,
		Location:  time.UTC,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// The hub normally comes up in Start(); wire it directly so tests
	// can exercise handlers without opening a listener.
	server.hub = NewHub(wsCfg, logger)

	return &testHarness{
		server:  server,
		handler: server.buildRouter(),
		rooms:   registry,
		engine:  eng,
		ledger:  ledger,
		bus:     eventBus,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func createTestRoom(t *testing.T, h *testHarness, name string) string {
	t.Helper()

	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	rec := h.do(t, http.MethodPost, "/api/v1/rooms", CreateRoomRequest{
		Name:         name,
		PumpEntity:   "pump-" + slug,
		ZoneEntities: []string{"zone-" + slug + "-1", "zone-" + slug + "-2"},
		LightEntity:  "light-" + slug,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating room: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("created room has no ID")
	}
	return id
}

// waitForEvent blocks until the bus delivers an event of the given type
// for the room, or the timeout expires.
func waitForEvent(t *testing.T, events <-chan bus.Event, eventType bus.EventType, roomID string) bus.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == eventType && event.RoomID == roomID {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

// ─── Tests ───────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	components, _ := body["components"].(map[string]any)
	if components["database"] != "ok" {
		t.Errorf("components.database = %v, want ok", components["database"])
	}
}

func TestAPI_RoomCRUD(t *testing.T) {
	h := newTestHarness(t)

	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodGet, "/api/v1/rooms/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["name"] != "Veg A" {
		t.Errorf("name = %v, want Veg A", body["name"])
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if count := decodeBody(t, rec)["count"]; count != float64(1) {
		t.Errorf("count = %v, want 1", count)
	}

	rec = h.do(t, http.MethodPut, "/api/v1/rooms/"+id, CreateRoomRequest{
		Name:         "Veg A Renamed",
		PumpEntity:   "pump-veg-a",
		ZoneEntities: []string{"zone-veg-a-1"},
		LightEntity:  "light-veg-a",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if name := decodeBody(t, rec)["name"]; name != "Veg A Renamed" {
		t.Errorf("name after update = %v", name)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/rooms/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestAPI_CreateRoomValidation(t *testing.T) {
	h := newTestHarness(t)

	tests := []struct {
		name string
		req  CreateRoomRequest
	}{
		{
			name: "missing name",
			req: CreateRoomRequest{
				PumpEntity:   "pump-1",
				ZoneEntities: []string{"zone-1"},
				LightEntity:  "light-1",
			},
		},
		{
			name: "bad entity ID",
			req: CreateRoomRequest{
				Name:         "Veg B",
				PumpEntity:   "Pump One!",
				ZoneEntities: []string{"zone-1"},
				LightEntity:  "light-1",
			},
		},
		{
			name: "no zones",
			req: CreateRoomRequest{
				Name:        "Veg C",
				PumpEntity:  "pump-1",
				LightEntity: "light-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/rooms", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAPI_DuplicateRoomConflicts(t *testing.T) {
	h := newTestHarness(t)

	createTestRoom(t, h, "Veg A")
	rec := h.do(t, http.MethodPost, "/api/v1/rooms", CreateRoomRequest{
		Name:         "Veg A",
		PumpEntity:   "pump-veg-a",
		ZoneEntities: []string{"zone-veg-a-1"},
		LightEntity:  "light-veg-a",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestAPI_EventLifecycle(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPut, "/api/v1/rooms/"+id+"/events/p1", SetEventRequest{
		Cron: "0 8 * * *",
		Shots: []room.Shot{
			{DurationSeconds: 30, IntervalAfterSeconds: 120},
			{DurationSeconds: 30},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set event: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/events/P1/enable", EnableEventRequest{Enabled: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("disable event: status = %d", rec.Code)
	}
	rm, err := h.rooms.GetRoom(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRoom() error = %v", err)
	}
	if rm.Events[room.KindP1].Enabled {
		t.Error("event still enabled after disable")
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/rooms/"+id+"/events/P1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove event: status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/rooms/"+id+"/events/P1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove missing event: status = %d, want 404", rec.Code)
	}

	rec = h.do(t, http.MethodPut, "/api/v1/rooms/"+id+"/events/p9", SetEventRequest{Cron: "0 8 * * *"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPut, "/api/v1/rooms/"+id+"/events/p1", SetEventRequest{
		Cron:  "not a cron",
		Shots: []room.Shot{{DurationSeconds: 30}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad cron: status = %d, want 400", rec.Code)
	}
}

func TestAPI_ManualRunLifecycle(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	rec := h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 20})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("run: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatal("run_id missing from response")
	}

	waitForEvent(t, events, bus.EventRunCompleted, id)

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: status = %d", rec.Code)
	}
	if active := decodeBody(t, rec)["active"]; active != false {
		t.Errorf("active = %v after completion, want false", active)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status = %d", rec.Code)
	}
	history := decodeBody(t, rec)
	if count := history["count"]; count != float64(1) {
		t.Fatalf("history count = %v, want 1", count)
	}
	runs, _ := history["runs"].([]any)
	record, _ := runs[0].(map[string]any)
	if record["result"] != string(room.RunCompleted) {
		t.Errorf("result = %v, want %s", record["result"], room.RunCompleted)
	}
	if record["executed_seconds"] != float64(20) {
		t.Errorf("executed_seconds = %v, want 20", record["executed_seconds"])
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/usage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: status = %d", rec.Code)
	}
	if used := decodeBody(t, rec)["used_seconds"]; used != float64(20) {
		t.Errorf("used_seconds = %v, want 20", used)
	}
}

func TestAPI_ManualRunValidation(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero duration: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 30})
	if rec.Code != http.StatusAccepted {
		t.Errorf("valid duration: status = %d, want 202", rec.Code)
	}
}

func TestAPI_ManualRunDeniedDuringEmergency(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/emergency-stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency stop: status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 10})
	if rec.Code != http.StatusConflict {
		t.Fatalf("run during emergency: status = %d, want 409", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["reason"] != string(engine.DenialEmergencyStop) {
		t.Errorf("reason = %v, want %s", body["reason"], engine.DenialEmergencyStop)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/emergency-clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency clear: status = %d", rec.Code)
	}

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 5})
	if rec.Code != http.StatusAccepted {
		t.Errorf("run after clear: status = %d, want 202", rec.Code)
	}
	waitForEvent(t, events, bus.EventRunCompleted, id)
}

func TestAPI_ManualRunOverrideFailsafe(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	// Exhaust today's cap so the gate refuses a plain manual run.
	if _, err := h.ledger.Record(context.Background(), id, 3600, time.Now()); err != nil {
		t.Fatalf("seeding ledger: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run", ManualRunRequest{DurationSeconds: 10})
	if rec.Code != http.StatusConflict {
		t.Fatalf("capped manual run: status = %d, want 409", rec.Code)
	}
	if reason := decodeBody(t, rec)["reason"]; reason != string(engine.DenialDailyLimit) {
		t.Errorf("reason = %v, want %s", reason, engine.DenialDailyLimit)
	}

	// The explicit override is the only way past the cap.
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/run",
		ManualRunRequest{DurationSeconds: 10, OverrideFailsafe: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("overridden manual run: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	waitForEvent(t, events, bus.EventRunCompleted, id)
}

func TestAPI_StopWithoutActiveRun(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestAPI_SystemEmergencyStop(t *testing.T) {
	h := newTestHarness(t)
	createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPost, "/api/v1/system/emergency-stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency stop: status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/system/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("system status: status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["emergency_stop"] != true {
		t.Error("emergency_stop = false after stop, want true")
	}
	if body["room_count"] != float64(1) {
		t.Errorf("room_count = %v, want 1", body["room_count"])
	}

	rec = h.do(t, http.MethodPost, "/api/v1/system/emergency-clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency clear: status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/v1/system/status", nil)
	if body := decodeBody(t, rec); body["emergency_stop"] != false {
		t.Error("emergency_stop = true after clear, want false")
	}
}

func TestAPI_Settings(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/system/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["max_daily_seconds"] != float64(3600) {
		t.Errorf("max_daily_seconds = %v, want 3600", body["max_daily_seconds"])
	}
	if body["fail_safe_enabled"] != true {
		t.Error("fail_safe_enabled = false, want true")
	}
	if body["timezone"] != "UTC" {
		t.Errorf("timezone = %v, want UTC", body["timezone"])
	}
}

func TestAPI_UsageResetAndSnapshot(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	if _, err := h.ledger.Record(context.Background(), id, 120, time.Now()); err != nil {
		t.Fatalf("recording usage: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/usage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: status = %d", rec.Code)
	}
	snapshot, _ := decodeBody(t, rec)["usage"].(map[string]any)
	if snapshot[id] != float64(120) {
		t.Errorf("snapshot[%s] = %v, want 120", id, snapshot[id])
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/usage/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/usage", nil)
	if used := decodeBody(t, rec)["used_seconds"]; used != float64(0) {
		t.Errorf("used_seconds after reset = %v, want 0", used)
	}
}

func TestAPI_FacilityUsageReset(t *testing.T) {
	h := newTestHarness(t)
	roomA := createTestRoom(t, h, "Veg A")
	roomB := createTestRoom(t, h, "Veg B")

	for _, id := range []string{roomA, roomB} {
		if _, err := h.ledger.Record(context.Background(), id, 60, time.Now()); err != nil {
			t.Fatalf("recording usage: %v", err)
		}
	}

	// Named reset clears only that room.
	rec := h.do(t, http.MethodPost, "/api/v1/usage/reset", ResetUsageRequest{RoomID: roomA})
	if rec.Code != http.StatusOK {
		t.Fatalf("room reset: status = %d", rec.Code)
	}
	snapshot := func() map[string]any {
		rec := h.do(t, http.MethodGet, "/api/v1/usage", nil)
		usage, _ := decodeBody(t, rec)["usage"].(map[string]any)
		return usage
	}
	usage := snapshot()
	if _, ok := usage[roomA]; ok {
		t.Errorf("room A usage survived reset: %v", usage[roomA])
	}
	if usage[roomB] != float64(60) {
		t.Errorf("room B usage = %v, want 60", usage[roomB])
	}

	// Empty body resets the lot.
	rec = h.do(t, http.MethodPost, "/api/v1/usage/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("facility reset: status = %d", rec.Code)
	}
	if usage := snapshot(); len(usage) != 0 {
		t.Errorf("usage after facility reset = %v, want empty", usage)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/usage/reset", ResetUsageRequest{RoomID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown room reset: status = %d, want 404", rec.Code)
	}
}

func TestAPI_RoomStatusIncludesScheduleContext(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodPut, "/api/v1/rooms/"+id+"/events/p1", SetEventRequest{
		Cron:  "0 8 * * *",
		Shots: []room.Shot{{DurationSeconds: 30}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set event: status = %d", rec.Code)
	}
	if _, err := h.ledger.Record(context.Background(), id, 90, time.Now()); err != nil {
		t.Fatalf("recording usage: %v", err)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["active"] != false {
		t.Errorf("active = %v, want false", body["active"])
	}
	if body["used_seconds"] != float64(90) {
		t.Errorf("used_seconds = %v, want 90", body["used_seconds"])
	}
	events, _ := body["events"].(map[string]any)
	p1, _ := events["P1"].(map[string]any)
	if p1 == nil {
		t.Fatalf("events = %v, want P1 entry", events)
	}
	if p1["cron"] != "0 8 * * *" {
		t.Errorf("P1 cron = %v, want 0 8 * * *", p1["cron"])
	}
	if p1["fired_count"] != float64(0) {
		t.Errorf("P1 fired_count = %v, want 0", p1["fired_count"])
	}
}

func TestAPI_RunHistoryParams(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/history?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/history?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec = h.do(t, http.MethodGet, "/api/v1/rooms/"+id+"/history?since="+since+"&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid params: status = %d, want 200", rec.Code)
	}
}

func TestAPI_Metrics(t *testing.T) {
	h := newTestHarness(t)
	createTestRoom(t, h, "Veg A")

	rec := h.do(t, http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var metrics SystemMetrics
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if metrics.Engine.Rooms != 1 {
		t.Errorf("Engine.Rooms = %d, want 1", metrics.Engine.Rooms)
	}
	if metrics.Engine.ActiveRuns != 0 {
		t.Errorf("Engine.ActiveRuns = %d, want 0", metrics.Engine.ActiveRuns)
	}
	if metrics.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
	if metrics.Database.OpenConnections == 0 {
		t.Error("Database.OpenConnections = 0")
	}
}

func TestAPI_UnknownRoom(t *testing.T) {
	h := newTestHarness(t)

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/rooms/nope", nil},
		{http.MethodGet, "/api/v1/rooms/nope/status", nil},
		{http.MethodGet, "/api/v1/rooms/nope/usage", nil},
		{http.MethodGet, "/api/v1/rooms/nope/history", nil},
		{http.MethodPost, "/api/v1/rooms/nope/run", ManualRunRequest{DurationSeconds: 10}},
		{http.MethodPost, "/api/v1/rooms/nope/emergency-stop", nil},
	}
	for _, tt := range paths {
		rec := h.do(t, tt.method, tt.path, tt.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tt.method, tt.path, rec.Code)
		}
	}
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	h := newTestHarness(t)

	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialling websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	subscribe := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{string(bus.EventRunStarted)}},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		t.Fatalf("sending subscribe: %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q, want %q", ack.Type, WSTypeResponse)
	}

	h.server.hub.Broadcast(string(bus.EventRunStarted), map[string]any{"room_id": "room-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if event.Type != WSTypeEvent {
		t.Errorf("event type = %q, want %q", event.Type, WSTypeEvent)
	}
	if event.EventType != string(bus.EventRunStarted) {
		t.Errorf("event channel = %q, want %q", event.EventType, bus.EventRunStarted)
	}
}

func TestWebSocket_UnsubscribedClientReceivesNothing(t *testing.T) {
	h := newTestHarness(t)

	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialling websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	h.server.hub.Broadcast(string(bus.EventRunStarted), map[string]any{"room_id": "room-1"})

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("received %+v without a subscription", msg)
	}
}

func TestAPI_DeleteRoomWithActiveRunConflicts(t *testing.T) {
	h := newTestHarness(t)
	id := createTestRoom(t, h, "Veg A")

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// A long run keeps the room busy while the delete is attempted.
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/run", id), ManualRunRequest{DurationSeconds: 3600})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("run: status = %d", rec.Code)
	}
	waitForEvent(t, events, bus.EventRunStarted, id)

	rec = h.do(t, http.MethodDelete, "/api/v1/rooms/"+id, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete during run: status = %d, want 409", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/rooms/"+id+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rec.Code)
	}
	waitForEvent(t, events, bus.EventRunStopped, id)
}
