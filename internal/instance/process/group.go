package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultKillGrace is used by Kill when no positive grace period is given.
const DefaultKillGrace = 3 * time.Second

// Group is a set of recorders sharing one process group. The first process
// started becomes the group leader; later ones join it, so a single kill(2)
// on the negative group ID reaches every recorder at once.
type Group struct {
	mu      sync.Mutex
	pgid    int
	handles []*Handle
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Start spawns spec as a member of the group.
func (g *Group) Start(spec Spec) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, err := Start(spec, g.pgid)
	if err != nil {
		return nil, err
	}
	if g.pgid == 0 {
		g.pgid = h.PID()
	}
	g.handles = append(g.handles, h)
	return h, nil
}

// PGID returns the group ID, or zero before the first Start.
func (g *Group) PGID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pgid
}

// Handles returns the members in start order.
func (g *Group) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Handle(nil), g.handles...)
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Signal sends sig to the whole process group. A group whose members have
// all exited yields ErrNotRunning.
func (g *Group) Signal(sig unix.Signal) error {
	pgid := g.PGID()
	if pgid == 0 {
		return ErrGroupEmpty
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		if err == unix.ESRCH {
			return ErrNotRunning
		}
		return fmt.Errorf("signal %s to process group %d: %w", unix.SignalName(sig), pgid, err)
	}
	return nil
}

// Running returns the members that have not exited.
func (g *Group) Running() []*Handle {
	var running []*Handle
	for _, h := range g.Handles() {
		if h.Running() {
			running = append(running, h)
		}
	}
	return running
}

// WaitAll blocks until every member has exited or ctx is done. On ctx
// expiry it returns the context error; Running reports the stragglers.
func (g *Group) WaitAll(ctx context.Context) error {
	for _, h := range g.Handles() {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Kill stops every remaining member: SIGTERM to the group, then SIGKILL if
// any member outlives grace. It returns once all members have exited, or an
// error if they survive SIGKILL for another grace period.
func (g *Group) Kill(grace time.Duration) error {
	if len(g.Running()) == 0 {
		return nil
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	if err := g.Signal(unix.SIGTERM); err != nil && err != ErrNotRunning {
		return err
	}
	if g.waitFor(grace) {
		return nil
	}

	if err := g.Signal(unix.SIGKILL); err != nil && err != ErrNotRunning {
		return err
	}
	if g.waitFor(grace) {
		return nil
	}

	return fmt.Errorf("process group %d: %d members survived SIGKILL", g.PGID(), len(g.Running()))
}

func (g *Group) waitFor(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.WaitAll(ctx) == nil
}

// Close closes every member's output stream. Members should have exited.
func (g *Group) Close() error {
	var firstErr error
	for _, h := range g.Handles() {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
