// Package broker runs an embedded MQTT broker that mirrors the capture
// events and accepts remote capture commands, so rigs, tally boxes and
// dashboards on the local network can follow a capture without polling the
// HTTP API.
//
// # Topic Hierarchy
//
//	omnicapture/capture/state          # CaptureStateChangedEvent (retained)
//	omnicapture/capture/stats          # CaptureStatsEvent, once per second
//	omnicapture/capture/warnings       # CaptureWarningEvent
//	omnicapture/capture/segments       # SegmentCompletedEvent
//	omnicapture/capture/attempts       # CaptureCompletedEvent and CaptureFailedEvent
//	omnicapture/encoder/capabilities   # CapabilitiesProbedEvent (retained)
//	omnicapture/command/{action}       # start, stop, pause, resume (client -> broker)
//	omnicapture/result/{action}        # CommandResult for each command
//
// Payloads are JSON. Commands are handled one at a time in arrival order.
//
// # Debugging with mosquitto clients
//
// Follow everything:
//
//	mosquitto_sub -h localhost -p 1883 -t 'omnicapture/#' -v
//
// Start a capture into another directory, then stop it without muxing:
//
//	mosquitto_pub -h localhost -p 1883 -t omnicapture/command/start -m '{"output_directory":"/srv/take2"}'
//	mosquitto_pub -h localhost -p 1883 -t omnicapture/command/stop -m '{"finalize":false}'
package broker
