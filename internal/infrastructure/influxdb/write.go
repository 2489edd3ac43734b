package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRunEvent records an irrigation run lifecycle transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - roomID: Room the run belongs to
//   - kind: Event kind that triggered the run ("P1", "P2", "manual")
//   - result: Terminal result or transition name (e.g. "started", "completed", "stopped")
//   - executedSeconds: Watering seconds actually delivered so far
//
// Example:
//
//	client.WriteRunEvent("room-veg1", "P1", "completed", 540)
func (c *Client) WriteRunEvent(roomID, kind, result string, executedSeconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"irrigation_runs",
		map[string]string{
			"room_id": roomID,
			"kind":    kind,
			"result":  result,
		},
		map[string]interface{}{
			"executed_seconds": executedSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDenial records a fail-safe admission denial.
//
// Parameters:
//   - roomID: Room the denied run was for
//   - kind: Requested event kind
//   - reason: Structured denial reason (e.g. "LIGHTS_OFF", "DAILY_LIMIT_REACHED")
func (c *Client) WriteDenial(roomID, kind, reason string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"irrigation_denials",
		map[string]string{
			"room_id": roomID,
			"kind":    kind,
			"reason":  reason,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDailyUsage records a room's accumulated watering seconds for the day.
//
// Written after every ledger update so dashboards can track consumption
// against the daily cap without querying the core.
//
// Parameters:
//   - roomID: Room identifier
//   - usedSeconds: Total watering seconds recorded today
//   - capSeconds: The configured daily cap
func (c *Client) WriteDailyUsage(roomID string, usedSeconds, capSeconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"irrigation_usage",
		map[string]string{
			"room_id": roomID,
		},
		map[string]interface{}{
			"used_seconds": usedSeconds,
			"cap_seconds":  capSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
