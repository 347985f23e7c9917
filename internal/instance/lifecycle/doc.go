// Package lifecycle supervises the recorder processes of one capture load.
//
// A [Supervisor] turns a committed session into running recorders: it runs
// the per-device driver configuration command (retrying once and tolerating
// a second failure), creates the session's temp directory, takes the base
// path lock, and spawns one recorder per device into a shared process group.
// A failed spawn unwinds the whole load before the error is returned.
//
// Usage:
//
//	sup, err := lifecycle.NewSupervisor(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	res, err := sup.SpawnAll(ctx, sess)
//	if err != nil {
//	    return err // nothing is left running
//	}
//	defer sup.Terminate(grace)
//
//	_ = sup.Broadcast(lifecycle.SignalToggle)
//
// The supervisor only spawns, signals, and reaps. Waiting for confirmation
// lines is the synchronization monitor's job (package state).
package lifecycle
