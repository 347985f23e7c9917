// Package logging provides structured logging for camrig capture sessions.
//
// This package wraps Go's log/slog to provide JSON-formatted logs. Every
// capture operation is logged with the session it belongs to, the operation
// in progress, and, for per-recorder events, the device it concerns, so a
// desynchronized group can be reconstructed from the log after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying handler safely; the
// synchronization monitor logs from one goroutine per device.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/camrig", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessLog := logger.WithSession(sess.ID).WithOperation("load")
//	sessLog.WithDevice("C1").Debug("ready pattern matched", "line", line)
//
// # Rotation
//
// File logs rotate by size (logging.max_size_mb) into camrig.log.1 through
// camrig.log.N (logging.max_backups). Rotation happens between entries, so
// every file holds whole JSON lines.
//
// # Log Levels
//
//   - DEBUG: per-device confirmations and spawned command lines
//   - INFO: committed transitions
//   - WARN: device setup failures, finalize warnings, partial termination
//   - ERROR: aborted transitions
package logging
