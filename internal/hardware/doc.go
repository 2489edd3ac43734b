// Package hardware provides the actuator layer for Irrigation Core.
//
// Pumps, zone valves and lights are physical devices behind MQTT
// bridges. The Controller publishes on/off commands and confirms each
// one by waiting for the bridge's state echo, bounded by the configured
// actuation timeout. It also caches retained state and availability
// topics so the engine's fail-safe checks read from memory.
//
// # Confirmation Model
//
// A command is only successful once the bridge reports the commanded
// state back. An unconfirmed pump-on must never be treated as running
// water; the engine aborts the run instead.
//
// # Usage
//
//	ctrl := hardware.NewController(mqttClient, 5*time.Second)
//	ctrl.SetLogger(log)
//	if err := ctrl.Start(); err != nil {
//	    return err
//	}
//
//	if err := ctrl.TurnOn(ctx, "pump-veg1"); err != nil {
//	    // abort the run, close zones
//	}
package hardware
