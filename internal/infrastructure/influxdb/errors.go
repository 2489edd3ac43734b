package influxdb

import "errors"

// Sentinel errors, matched with errors.Is. The controller treats every
// one of them as telemetry degradation, never as a reason to block a
// run.
var (
	// ErrNotConnected indicates the client has been closed or never
	// connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the startup ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a write failed. Most write failures
	// surface asynchronously through the SetOnError callback instead.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates the influxdb section of config.yaml has
	// enabled: false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
