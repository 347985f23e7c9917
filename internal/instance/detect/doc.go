// Package detect knows what a recorder prints when it changes state.
//
// Every transition of the capture state machine is confirmed by a line in
// each recorder's output. This package names those confirmations as a
// [Phase] and compiles the configured regular expressions into [Patterns].
//
// # Phases
//
//   - [PhaseReady]: the recorder opened its device and is idle
//   - [PhaseStarted]: the encoder began writing after a toggle
//   - [PhaseStopped]: the encoder closed the file after a toggle
//   - [PhaseTerminated]: the recorder acknowledged the terminate signal
//
// # Usage
//
//	patterns, err := detect.Compile(cfg.Patterns)
//	if err != nil {
//	    return err
//	}
//	line, err := watcher.Await(ctx, patterns.For(detect.PhaseStarted))
package detect
