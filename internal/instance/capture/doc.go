// Package capture reads recorder output streams.
//
// A recorder announces every state change by printing a line: a version
// banner once it is ready, an encoder line when capture starts or stops, a
// signal notice when it is asked to exit. [Watcher] turns the stream into a
// cursor over those lines so the synchronization monitor can wait for the
// next confirmation of each recorder independently.
//
// # Main Types
//
//   - [Watcher]: line pump with Await(ctx, pattern) consuming matches in order
//   - [RingBuffer]: bounded transcript of the raw bytes, for diagnostics
//
// # Usage
//
//	w := capture.NewWatcher(ptmx, 0)
//	line, err := w.Await(ctx, readyPattern)
//	if errors.Is(err, capture.ErrStreamClosed) {
//	    // the recorder exited before it became ready
//	    log.Warn("recorder output", "tail", w.Tail())
//	}
package capture
