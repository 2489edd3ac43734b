// Package bus provides the in-process event fan-out for Irrigation Core.
//
// The engine publishes run lifecycle events (started, progress,
// completed, stopped, failed, emergency stopped, denied) and facility
// events (emergency state changes, usage updates). Consumers such as
// the WebSocket hub, the MQTT event publisher and the InfluxDB writer
// subscribe independently.
//
// Delivery is best-effort: a subscriber that falls behind loses events
// rather than stalling the watering state machine.
package bus
