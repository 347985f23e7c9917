package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/camrig/internal/instance/capture"
)

// Handle owns one spawned recorder: the process, its output stream, and its
// exit status.
//
// Two goroutines run per handle: the Watcher's pump and a waiter around
// cmd.Wait. Both end once the process has exited and Close has been called.
type Handle struct {
	name string
	cmd  *exec.Cmd
	pid  int
	pgid int

	out     *os.File
	watcher *capture.Watcher

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

// Start spawns the process described by spec. pgid selects the process group
// to join; zero makes the new process the leader of a fresh group.
func Start(spec Spec, pgid int) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	attrs := &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}

	var out *os.File
	if spec.UsePTY {
		ptmx, err := pty.StartWithAttrs(cmd, nil, attrs)
		if err != nil {
			return nil, err
		}
		out = ptmx
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create output pipe: %w", err)
		}
		cmd.Stdout = w
		cmd.Stderr = w
		cmd.SysProcAttr = attrs
		if err := cmd.Start(); err != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, err
		}
		// The child holds its own copy of the write end.
		_ = w.Close()
		out = r
	}

	h := &Handle{
		name:    spec.Name,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		pgid:    pgid,
		out:     out,
		watcher: capture.NewWatcher(out, spec.TranscriptSize),
		exited:  make(chan struct{}),
	}
	if h.pgid == 0 {
		h.pgid = h.pid
	}

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	h.exitErr = h.cmd.Wait()
	close(h.exited)
}

// Name returns the label given in the Spec.
func (h *Handle) Name() string { return h.name }

// PID returns the process ID.
func (h *Handle) PID() int { return h.pid }

// PGID returns the process group the process belongs to.
func (h *Handle) PGID() int { return h.pgid }

// Watcher returns the process's output watcher.
func (h *Handle) Watcher() *capture.Watcher { return h.watcher }

// Exited is closed once the process has exited and been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Running reports whether the process has not exited yet.
func (h *Handle) Running() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of cmd.Wait. Only meaningful once Exited is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.exited:
		return h.exitErr
	default:
		return nil
	}
}

// Signal delivers sig to this process only.
func (h *Handle) Signal(sig unix.Signal) error {
	if !h.Running() {
		return ErrNotRunning
	}
	if err := unix.Kill(h.pid, sig); err != nil {
		if err == unix.ESRCH {
			return ErrNotRunning
		}
		return fmt.Errorf("signal %s to %s (pid %d): %w", unix.SignalName(sig), h.name, h.pid, err)
	}
	return nil
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the output stream and waits for the watcher's pump to end.
// It does not stop the process; callers terminate it first. Safe to call more
// than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.out.Close()
		<-h.watcher.Done()
	})
	return err
}
