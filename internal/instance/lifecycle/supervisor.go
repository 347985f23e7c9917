package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/instance/process"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/session"
	"github.com/Iron-Ham/camrig/internal/util"
)

// Common errors returned by Supervisor operations.
var (
	// ErrAlreadyLoaded is returned when SpawnAll is called while recorders are running.
	ErrAlreadyLoaded = errors.New("recorders already loaded")

	// ErrNotLoaded is returned when an operation requires loaded recorders.
	ErrNotLoaded = errors.New("recorders not loaded")

	// ErrUnknownDevice is returned by Signal for a name with no recorder.
	ErrUnknownDevice = errors.New("no recorder for device")
)

// maxSetupOutput bounds the setup command output kept on a DeviceConfigError.
const maxSetupOutput = 512

// deviceSetupAttempts is the first try plus exactly one retry.
const deviceSetupAttempts = 2

// SignalKind selects which configured control signal Broadcast sends.
type SignalKind int

const (
	// SignalToggle starts or stops capture.
	SignalToggle SignalKind = iota
	// SignalTerminate asks every recorder to exit.
	SignalTerminate
)

// String returns a human-readable name for the signal kind.
func (k SignalKind) String() string {
	switch k {
	case SignalToggle:
		return "toggle"
	case SignalTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// CommandRunner runs a short-lived command and returns its combined output.
// Device setup goes through it so tests can substitute the driver tool.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SpawnResult describes a successful SpawnAll.
type SpawnResult struct {
	// Handles holds one recorder per session device, in device order.
	Handles []*process.Handle
	// Warnings holds non-fatal DeviceConfigErrors.
	Warnings []error
}

// Supervisor spawns, signals, and reaps the recorders of one load at a time.
type Supervisor struct {
	cfg    *config.Config
	logger *logging.Logger
	runner CommandRunner

	toggleSig    unix.Signal
	terminateSig unix.Signal

	mu    sync.Mutex
	sess  *session.Session
	group *process.Group
	lock  *session.Lock
}

// NewSupervisor creates a supervisor for cfg. logger may be nil.
func NewSupervisor(cfg *config.Config, logger *logging.Logger) (*Supervisor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	toggle, err := process.ParseSignal(cfg.Signals.Toggle)
	if err != nil {
		return nil, fmt.Errorf("toggle signal: %w", err)
	}
	terminate, err := process.ParseSignal(cfg.Signals.Terminate)
	if err != nil {
		return nil, fmt.Errorf("terminate signal: %w", err)
	}

	return &Supervisor{
		cfg:          cfg,
		logger:       logger,
		runner:       ExecRunner,
		toggleSig:    toggle,
		terminateSig: terminate,
	}, nil
}

// SetCommandRunner replaces the runner used for device setup. A nil runner
// restores ExecRunner.
func (s *Supervisor) SetCommandRunner(r CommandRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = ExecRunner
	}
	s.runner = r
}

// Handles returns the current recorders in device order, or nil.
func (s *Supervisor) Handles() []*process.Handle {
	g := s.currentGroup()
	if g == nil {
		return nil
	}
	return g.Handles()
}

// PGID returns the process group of the current load, or zero.
func (s *Supervisor) PGID() int {
	g := s.currentGroup()
	if g == nil {
		return 0
	}
	return g.PGID()
}

func (s *Supervisor) currentGroup() *process.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

// SpawnAll starts one recorder per device of sess. Device setup failures are
// returned as warnings. Any spawn failure terminates the recorders already
// started, removes the temp dir if this call created it and it is still
// empty, and returns a SpawnError.
func (s *Supervisor) SpawnAll(ctx context.Context, sess *session.Session) (SpawnResult, error) {
	if sess == nil || len(sess.Devices) == 0 {
		return SpawnResult{}, errors.NewValidationError("session has no devices").WithField("devices")
	}

	s.mu.Lock()
	if s.group != nil {
		s.mu.Unlock()
		return SpawnResult{}, ErrAlreadyLoaded
	}
	runner := s.runner
	s.mu.Unlock()

	logger := s.logger.WithSession(sess.ID).WithOperation("load")

	createdTmp, err := makeTmpDir(sess.TmpDir)
	if err != nil {
		return SpawnResult{}, errors.NewSpawnError("", fmt.Errorf("failed to create temp dir: %w", err))
	}

	lock, err := session.AcquireLock(sess.BasePath, sess.ID, logger)
	if err != nil {
		if createdTmp {
			removeIfEmpty(sess.TmpDir)
		}
		return SpawnResult{}, errors.NewSpawnError("", err)
	}

	group := process.NewGroup()
	rollback := func() {
		if err := group.Kill(s.cfg.Timeouts.ExitGrace()); err != nil {
			logger.Error("rollback left recorders running", "error", err.Error())
		}
		_ = group.Close()
		_ = lock.Release()
		if createdTmp {
			removeIfEmpty(sess.TmpDir)
		}
	}

	var res SpawnResult
	for _, dev := range sess.Devices {
		devLogger := logger.WithDevice(dev.Name())

		if err := ctx.Err(); err != nil {
			rollback()
			return SpawnResult{}, errors.NewSpawnError(dev.Name(), err)
		}

		if s.cfg.DeviceSetup.Enabled {
			if err := s.configureDevice(ctx, runner, dev, devLogger); err != nil {
				devLogger.Warn("device setup failed, continuing", "device_id", dev.ID, "error", err.Error())
				res.Warnings = append(res.Warnings, err)
			}
		}

		spec, err := process.RecorderSpec(s.cfg.Recorder, process.TemplateData{
			Device: dev.ID,
			Output: sess.OutputPath(dev),
			Name:   dev.Name(),
			Index:  dev.Index,
		})
		if err != nil {
			rollback()
			return SpawnResult{}, errors.NewSpawnError(dev.Name(), err)
		}

		h, err := group.Start(spec)
		if err != nil {
			devLogger.Error("failed to spawn recorder",
				"device_id", dev.ID,
				"command", spec.CommandLine(),
				"error", err.Error())
			rollback()
			return SpawnResult{}, errors.NewSpawnError(dev.Name(), err).WithCommand(spec.CommandLine())
		}
		res.Handles = append(res.Handles, h)
		h.Watcher().SetOnLine(func(line string) {
			devLogger.Debug("recorder output", "line", line)
		})

		devLogger.Info("recorder spawned",
			"device_id", dev.ID,
			"pid", h.PID(),
			"pgid", h.PGID(),
			"output", sess.OutputPath(dev))
	}

	s.mu.Lock()
	s.sess = sess
	s.group = group
	s.lock = lock
	s.mu.Unlock()

	logger.Info("recorders spawned", "count", len(res.Handles), "pgid", group.PGID())
	return res, nil
}

// configureDevice runs the driver setup command, retrying exactly once.
func (s *Supervisor) configureDevice(ctx context.Context, runner CommandRunner, dev session.Device, logger *logging.Logger) error {
	args, err := process.RenderArgs(s.cfg.DeviceSetup.Args, process.TemplateData{
		Device: dev.ID,
		Name:   dev.Name(),
		Index:  dev.Index,
	})
	if err != nil {
		return errors.NewDeviceConfigError(dev.Name(), 0, err)
	}

	var (
		out     []byte
		lastErr error
	)
	for attempt := 1; attempt <= deviceSetupAttempts; attempt++ {
		runCtx, cancel := withOptionalTimeout(ctx, s.cfg.Timeouts.DeviceSetup())
		out, lastErr = runner(runCtx, s.cfg.DeviceSetup.Command, args...)
		cancel()
		if lastErr == nil {
			logger.Debug("device setup done", "device_id", dev.ID, "attempt", attempt)
			return nil
		}
		if attempt < deviceSetupAttempts {
			logger.Warn("device setup failed, retrying", "device_id", dev.ID, "error", lastErr.Error())
		}
	}
	return errors.NewDeviceConfigError(dev.Name(), deviceSetupAttempts, lastErr).
		WithOutput(util.TruncateString(strings.TrimSpace(string(out)), maxSetupOutput))
}

// EnsureTmpDir recreates the temp dir of the current load. Finalize removes
// it after every stop, and the next capture needs it again.
func (s *Supervisor) EnsureTmpDir() error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return ErrNotLoaded
	}
	if err := os.MkdirAll(sess.TmpDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	return nil
}

// Broadcast sends the configured signal of the given kind to the whole
// recorder process group with a single kill(2).
func (s *Supervisor) Broadcast(kind SignalKind) error {
	g := s.currentGroup()
	if g == nil {
		return ErrNotLoaded
	}

	sig := s.signalFor(kind)
	if err := g.Signal(sig); err != nil {
		return errors.Wrapf(err, "broadcast %s", kind)
	}
	s.logger.Debug("signal broadcast",
		"kind", kind.String(),
		"signal", unix.SignalName(sig),
		"pgid", g.PGID())
	return nil
}

// Signal sends the configured signal of the given kind to the named
// recorders only, one kill(2) each. Every device is attempted; the errors
// are joined.
func (s *Supervisor) Signal(kind SignalKind, devices []string) error {
	g := s.currentGroup()
	if g == nil {
		return ErrNotLoaded
	}

	sig := s.signalFor(kind)
	byName := make(map[string]*process.Handle, len(g.Handles()))
	for _, h := range g.Handles() {
		byName[h.Name()] = h
	}

	var errs []error
	for _, name := range devices {
		h, ok := byName[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrUnknownDevice))
			continue
		}
		if err := h.Signal(sig); err != nil {
			errs = append(errs, errors.Wrap(err, name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("signal sent",
		"kind", kind.String(),
		"signal", unix.SignalName(sig),
		"devices", devices)
	return nil
}

func (s *Supervisor) signalFor(kind SignalKind) unix.Signal {
	if kind == SignalTerminate {
		return s.terminateSig
	}
	return s.toggleSig
}

// AwaitAllExit waits until every recorder has exited. timeout zero waits
// until ctx is done. Stragglers are reported as pending devices of a
// SyncTimeoutError.
func (s *Supervisor) AwaitAllExit(ctx context.Context, timeout time.Duration) error {
	g := s.currentGroup()
	if g == nil {
		return nil
	}

	waitCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	if err := g.WaitAll(waitCtx); err != nil {
		var pending []string
		for _, h := range g.Running() {
			pending = append(pending, h.Name())
		}
		return errors.NewSyncTimeoutError("kill", "exited", timeout).
			WithPending(pending).
			WithCause(err)
	}
	return nil
}

// Terminate reaps the current load: SIGTERM then SIGKILL for any recorder
// still alive after grace, then closes every output stream and releases the
// base path lock. An empty temp dir is removed. The supervisor is unloaded
// afterwards even on error.
func (s *Supervisor) Terminate(grace time.Duration) error {
	s.mu.Lock()
	g, lock, sess := s.group, s.lock, s.sess
	s.group, s.lock, s.sess = nil, nil, nil
	s.mu.Unlock()

	if g == nil {
		return nil
	}

	var errs []error
	stragglers := len(g.Running())
	if err := g.Kill(grace); err != nil {
		errs = append(errs, err)
	}
	if err := g.Close(); err != nil {
		s.logger.Debug("closing recorder output failed (may be expected)", "error", err.Error())
	}
	if err := lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release base path lock: %w", err))
	}

	logger := s.logger
	if sess != nil {
		logger = logger.WithSession(sess.ID)
		removeIfEmpty(sess.TmpDir)
	}
	if stragglers > 0 {
		logger.Warn("recorders force-stopped", "count", stragglers)
	}
	logger.Info("recorders unloaded", "count", g.Len())

	return errors.Join(errs...)
}

// makeTmpDir creates dir and reports whether it did not exist before.
func makeTmpDir(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	return true, nil
}

// removeIfEmpty removes dir unless it still holds files. os.Remove refuses
// non-empty directories, so unmoved artifacts survive.
func removeIfEmpty(dir string) {
	_ = os.Remove(dir)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
