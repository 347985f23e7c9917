// Package state implements the synchronization barrier of capture
// transitions.
//
// A transition is complete only when every recorder of the group has printed
// its confirmation line. [Monitor.AwaitAll] fans out one cancellable wait per
// recorder and joins them: it returns nil once all have confirmed, and fails
// as soon as one recorder's stream closes or the shared deadline passes. On
// failure the remaining waits are canceled and the returned
// [errors.SyncTimeoutError] lists the devices still pending and the devices
// whose process exited.
//
// The barrier's latency is that of the slowest recorder, not the sum.
//
// [errors.SyncTimeoutError]: github.com/Iron-Ham/camrig/internal/errors.SyncTimeoutError
package state
