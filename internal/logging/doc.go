// Package logging wraps log/slog with per-module levels and an in-memory
// history of recent entries.
//
// Call [Initialize] once at startup, then ask for a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text", // or "json"
//		Modules: map[string]string{"session": "debug", "api": "warn"},
//	})
//
//	logger := logging.GetLogger("session").With("camera_id", id)
//	logger.Info("Capture started", "trigger_mode", mode)
//
// Module loggers are cached and hold a [slog.LevelVar], so loggers taken
// before Initialize, or kept across a [SetLevels] call, follow the current
// configuration. A module without an override uses the global level.
//
// # Sinks
//
// Each record goes to:
//
//   - stdout (or Config.Output) as text or JSON, when stdout is usable
//   - the systemd journal, when its socket is reachable
//   - the ring buffer returned by [GetBuffer]
//
// The ring buffer numbers entries with a sequence that keeps increasing
// across wraparound and re-initialization. [RingBuffer.Last] serves the
// history endpoint and [RingBuffer.Since] lets a reader resume after the
// last entry it saw. The callback set with [SetLogCallback] receives each
// entry after its sequence number is assigned, so live subscribers can
// drop entries they already replayed from history.
//
// # Journal fields
//
// Records are sent with SYSLOG_IDENTIFIER=camnode. Attribute keys are
// uppercased and grouped keys are joined with underscores:
//
//	journalctl -t camnode -f
//	journalctl -t camnode MODULE=session CAMERA_ID=0d6f1c2e
//	journalctl -t camnode -p warning --since "10 min ago"
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	buffer_size = 1000
//	session = "debug"
//	broker = "warn"
//
// Keys other than level, format and buffer_size are module levels.
package logging
