// Package process spawns and controls recorder processes.
//
// Each recorder runs as a plain child process, attached either to a
// pseudo-terminal (so that stdio-buffered programs flush every line) or to a
// pipe shared by stdout and stderr. Its output is exposed through a
// [capture.Watcher].
//
// # Main Types
//
//   - [Spec]: what to run (command, args, env, pty or pipe)
//   - [Handle]: one running recorder: PID, watcher, exit status, Signal, Close
//   - [Group]: recorders of one load, sharing a process group so a single
//     signal reaches all of them
//
// # Process Groups
//
// The first recorder of a [Group] becomes the group leader and every later
// one joins its group. Control signals are delivered with kill(2) on the
// negative group ID, so the recorders receive them as close together as the
// kernel allows. [Group.Kill] escalates SIGTERM to SIGKILL for stragglers.
//
// # Thread Safety
//
// [Handle] and [Group] are safe for concurrent use. Only the watcher's Await
// must not be called concurrently on the same handle.
//
// [capture.Watcher]: github.com/Iron-Ham/camrig/internal/instance/capture.Watcher
package process
