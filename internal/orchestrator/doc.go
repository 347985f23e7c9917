// Package orchestrator implements the capture controller: the state machine
// that takes a rig of recorders from a committed session through load,
// capture, and kill.
//
// # States
//
//	Unconfigured --configure--> Configured --load--> LoadedIdle <--toggle--> LoadedCapturing
//	                                  ^                   |                        |
//	                                  +-------kill--------+----------kill----------+
//
// Every transition between loaded states is a barrier: the controller
// broadcasts one signal to the recorder process group and waits until each
// recorder prints its confirmation line. A barrier that times out leaves the
// state unchanged. A recorder that exits during a barrier unloads the whole
// rig.
//
// Stopping a capture finalizes it: each recording is moved from the temp dir
// to its final name. Finalize problems are returned as warnings in the
// Outcome and the affected devices stay pending for Save.
//
// # Usage
//
//	ctrl, err := orchestrator.New(cfg, orchestrator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if _, err := ctrl.Configure(params); err != nil {
//	    return err
//	}
//	if _, err := ctrl.Load(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Shutdown(context.Background())
//
//	ctrl.Toggle(ctx) // start
//	out, err := ctrl.Toggle(ctx) // stop and finalize
//
// Operations are serialized. State, Session, and Pending may be called from
// any goroutine.
package orchestrator
