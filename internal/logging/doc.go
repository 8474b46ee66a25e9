// Package logging provides module-scoped slog loggers for the capture service.
//
// Every record goes to up to three places: stdout (text or JSON) when it is
// connected, the systemd journal when its socket exists, and a bounded
// in-memory history that the HTTP API replays to new log stream clients.
//
// Initialize once at startup, then ask for a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"capture": "debug", "api": "warn"},
//	})
//
//	logger := logging.GetLogger("capture").With("attempt", attempt)
//	logger.Info("Capture started", "output", dir)
//
// Module levels override the global level and can be changed at runtime with
// [SetModuleLevel]. Loggers obtained before Initialize are rebuilt by it.
//
// Journal fields are the upper-cased attribute keys, so one capture attempt
// or one encoder step can be selected directly:
//
//	journalctl -t omnicapture MODULE=nvenc -p warning
//	journalctl -t omnicapture ATTEMPT=3
//
// [SetEntryCallback] hands each buffered entry to the event bus without this
// package importing it.
package logging
