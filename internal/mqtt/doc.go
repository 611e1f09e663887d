// Package mqtt is the broker side of the bridge. It wraps an Eclipse
// Paho v2 [autopaho] connection manager and exposes the handful of
// publish operations the bridge needs: JSON values, raw payloads,
// discovery configs, and retractions.
//
// Publishing is fire-and-forget. Failures are logged and counted but
// never returned to the caller; the next telemetry tick supersedes
// whatever was lost. Reconnection is autopaho's job. Connection errors
// it reports are funneled into a channel that [Client.Keep] drains,
// pausing [KeepaliveBackoff] after each one so a flapping broker does
// not flood the log.
//
// The package also owns the Home Assistant device block shared by
// every entity and the persistent instance ID that identifies this
// installation.
package mqtt
