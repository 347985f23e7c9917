package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/camrig/internal/cleanup"
	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/instance/detect"
	"github.com/Iron-Ham/camrig/internal/instance/lifecycle"
	"github.com/Iron-Ham/camrig/internal/instance/process"
	"github.com/Iron-Ham/camrig/internal/instance/state"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/metrics"
	"github.com/Iron-Ham/camrig/internal/session"
)

// Controller drives one rig of recorders through the capture lifecycle.
type Controller struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	supervisor *lifecycle.Supervisor
	monitor    *state.Monitor
	finalizer  *cleanup.Finalizer

	// opMu serializes operations and is held across their waits.
	opMu sync.Mutex

	mu            sync.RWMutex
	current       State
	sess          *session.Session
	pending       []session.Device
	stateCallback func(from, to State)
}

// New creates a controller in the Unconfigured state. A nil cfg uses
// config.Default.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cc := defaultControllerConfig()
	for _, opt := range opts {
		opt(&cc)
	}

	patterns, err := detect.Compile(cfg.Patterns)
	if err != nil {
		return nil, errors.NewValidationError("invalid confirmation pattern").
			WithField("patterns").
			WithCause(err)
	}

	sup, err := lifecycle.NewSupervisor(cfg, cc.logger)
	if err != nil {
		return nil, err
	}
	if cc.runner != nil {
		sup.SetCommandRunner(cc.runner)
	}

	mon := state.NewMonitor(patterns)
	mon.SetLogger(cc.logger)
	if m := cc.metrics; m != nil {
		mon.OnConfirm(func(_ string, phase detect.Phase, elapsed time.Duration) {
			m.ObserveConfirm(phase.String(), elapsed)
		})
	}

	c := &Controller{
		cfg:        cfg,
		logger:     cc.logger,
		metrics:    cc.metrics,
		supervisor: sup,
		monitor:    mon,
		finalizer:  cleanup.NewFinalizer(cfg.Output, cc.logger),
		current:    Unconfigured,
	}
	c.metrics.SetState(Unconfigured.String(), stateNames())
	c.metrics.SetLoadedRecorders(0)
	return c, nil
}

// OnStateChange sets a callback invoked after every state change. It runs on
// the goroutine of the operation that caused the change.
func (c *Controller) OnStateChange(cb func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCallback = cb
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Session returns the committed session, or nil when Unconfigured.
func (c *Controller) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// Pending returns the devices whose last recording was not moved to its
// final name.
func (c *Controller) Pending() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deviceNames(c.pending)
}

// Recorders returns the number of loaded recorder processes.
func (c *Controller) Recorders() int {
	return len(c.supervisor.Handles())
}

// PGID returns the process group of the loaded recorders, or zero.
func (c *Controller) PGID() int {
	return c.supervisor.PGID()
}

func (c *Controller) snapshot() (State, *session.Session) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.sess
}

// Configure validates p and commits it as the session. Empty fields of p are
// filled from the configuration. It is rejected while recorders are loaded.
func (c *Controller) Configure(p session.Params) (*session.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	if from := c.State(); from.Loaded() {
		err := errors.NewInvalidStateError("configure", from.String()).
			WithReason("kill the recorders before changing settings")
		c.observe("configure", start, err)
		return nil, err
	}

	if len(p.Devices) == 0 {
		p.Devices = c.cfg.Devices
	}
	if p.BasePath == "" {
		p.BasePath = c.cfg.Output.BasePath
	}
	if p.Container == "" {
		p.Container = c.cfg.Output.Container
	}
	if p.TmpDirName == "" {
		p.TmpDirName = c.cfg.Output.TmpDirName
	}

	sess, err := session.New(p)
	if err != nil {
		c.observe("configure", start, err)
		return nil, err
	}

	logger := c.logger.WithSession(sess.ID).WithOperation("configure")
	if dups := session.Duplicates(p.Devices); len(dups) > 0 {
		logger.Warn("device listed more than once", "devices", dups)
	}

	c.mu.Lock()
	c.sess = sess
	c.pending = nil
	c.mu.Unlock()
	c.transition(Configured)

	logger.Info("session configured",
		"prefix", sess.Prefix,
		"base_path", sess.BasePath,
		"devices", sess.DeviceNames())
	c.observe("configure", start, nil)
	return sess, nil
}

// Load spawns one recorder per device and waits until all of them report
// ready. On failure every spawned recorder is terminated and the controller
// stays Configured.
func (c *Controller) Load(ctx context.Context) (Outcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	out, err := c.load(ctx)
	c.observe("load", start, err)
	return out, err
}

func (c *Controller) load(ctx context.Context) (Outcome, error) {
	from, sess := c.snapshot()
	out := Outcome{Operation: "load", From: from, To: from}
	if from != Configured {
		return out, errors.NewInvalidStateError("load", from.String()).
			WithReason("load requires a configured session and no loaded recorders")
	}
	logger := c.logger.WithSession(sess.ID).WithOperation("load")

	res, err := c.supervisor.SpawnAll(ctx, sess)
	if err != nil {
		logger.Error("failed to spawn recorders", "error", err.Error())
		return out, err
	}
	out.Warnings = res.Warnings
	c.metrics.AddDeviceSetupFailures(len(res.Warnings))
	c.metrics.SetLoadedRecorders(len(res.Handles))

	err = c.monitor.AwaitAll(ctx, "load", detect.PhaseReady, targets(res.Handles), c.cfg.Timeouts.Ready())
	if err != nil {
		logger.Error("recorders did not become ready, unloading", "error", err.Error())
		if termErr := c.supervisor.Terminate(c.cfg.Timeouts.ExitGrace()); termErr != nil {
			err = errors.Join(err, termErr)
		}
		c.metrics.SetLoadedRecorders(0)
		return out, err
	}

	c.transition(LoadedIdle)
	out.To = LoadedIdle
	logger.Info("recorders ready", "count", len(res.Handles), "pgid", c.supervisor.PGID())
	return out, nil
}

// Toggle starts capture when LoadedIdle and stops it when LoadedCapturing.
// A stop finalizes the recordings. A confirmation timeout on every recorder
// leaves the state unchanged. A start confirmed by only some recorders is
// stopped again on those and the state stays LoadedIdle. A recorder that
// exited, a stop confirmed by only some recorders, or a failed undo unloads
// every recorder, finalizes what was recorded and returns the controller to
// Configured.
func (c *Controller) Toggle(ctx context.Context) (Outcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	var (
		out Outcome
		err error
	)
	switch from := c.State(); from {
	case LoadedIdle:
		out, err = c.startCapture(ctx)
	case LoadedCapturing:
		out, err = c.stopCapture(ctx)
	default:
		out = Outcome{Operation: "toggle", From: from, To: from}
		err = errors.NewInvalidStateError("toggle", from.String()).
			WithReason("load the recorders first")
	}
	c.observe("toggle", start, err)
	return out, err
}

func (c *Controller) startCapture(ctx context.Context) (Outcome, error) {
	out := Outcome{Operation: "toggle", From: LoadedIdle, To: LoadedIdle}

	if err := c.supervisor.EnsureTmpDir(); err != nil {
		return out, err
	}
	if err := c.toggleAndAwait(ctx, &out, detect.PhaseStarted, c.cfg.Timeouts.Start()); err != nil {
		out.To = c.State()
		return out, err
	}

	c.transition(LoadedCapturing)
	out.To = LoadedCapturing
	c.logger.WithOperation("toggle").Info("capture started", "count", c.Recorders())
	return out, nil
}

func (c *Controller) stopCapture(ctx context.Context) (Outcome, error) {
	out := Outcome{Operation: "toggle", From: LoadedCapturing, To: LoadedCapturing}

	if err := c.toggleAndAwait(ctx, &out, detect.PhaseStopped, c.cfg.Timeouts.Stop()); err != nil {
		out.To = c.State()
		return out, err
	}

	// The transition is committed before finalize; finalize problems are
	// warnings and never undo it.
	c.transition(LoadedIdle)
	out.To = LoadedIdle
	c.logger.WithOperation("toggle").Info("capture stopped", "count", c.Recorders())

	sess := c.Session()
	c.finalize(ctx, &out, sess, sess.Devices)
	return out, nil
}

// toggleAndAwait broadcasts the toggle and waits until every recorder reports
// phase. If no recorder confirmed, the state is left as it was. Otherwise the
// group must not stay split: a start that reached only some recorders is
// undone on those, and any other partial result unloads the rig.
func (c *Controller) toggleAndAwait(ctx context.Context, out *Outcome, phase detect.Phase, timeout time.Duration) error {
	handles := c.supervisor.Handles()

	if err := c.supervisor.Broadcast(lifecycle.SignalToggle); err != nil {
		if errors.Is(err, process.ErrNotRunning) {
			return c.teardown(ctx, out, phase, err, "every recorder exited")
		}
		return err
	}

	err := c.monitor.AwaitAll(ctx, "toggle", phase, targets(handles), timeout)
	if err == nil {
		return nil
	}
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		return err
	}

	confirmed := without(handleNames(handles), syncErr.Devices())
	switch {
	case len(syncErr.Exited) > 0:
		return c.teardown(ctx, out, phase, err, strings.Join(syncErr.Exited, ", ")+" exited")
	case len(confirmed) == 0:
		return err
	case phase == detect.PhaseStarted:
		return c.undoStart(ctx, out, err, confirmed)
	default:
		// Restarting the recorders that stopped would begin new files, so
		// the capture ends here for every device.
		return c.teardown(ctx, out, phase, err, "only "+strings.Join(confirmed, ", ")+" stopped")
	}
}

// undoStart toggles the recorders that confirmed a start once more and waits
// for them to stop, leaving the whole group idle. If that fails the rig is
// unloaded.
func (c *Controller) undoStart(ctx context.Context, out *Outcome, cause error, started []string) error {
	logger := c.logger.WithOperation("toggle")
	logger.Warn("capture started on some recorders only, stopping them", "started", started)

	// Leaving the group split is worse than ignoring a canceled caller.
	ctx = context.WithoutCancel(ctx)
	err := c.supervisor.Signal(lifecycle.SignalToggle, started)
	if err == nil {
		err = c.monitor.AwaitAll(ctx, "toggle", detect.PhaseStopped, c.targetsNamed(started), c.cfg.Timeouts.Stop())
	}
	if err != nil {
		return c.teardown(ctx, out, detect.PhaseStarted, errors.Join(cause, err),
			"stopping "+strings.Join(started, ", ")+" again failed")
	}

	logger.Info("capture stopped again", "devices", started)
	sess := c.Session()
	for _, dev := range c.finalizer.Recorded(sess, sess.Devices) {
		if slices.Contains(started, dev.Name()) {
			out.Warnings = append(out.Warnings,
				errors.NewFinalizeWarning("aborted start left a partial recording", nil).
					WithDevice(dev.Name()).
					WithPath(sess.TmpDir))
		}
	}
	return fmt.Errorf("%w; capture stopped again on %s", cause, strings.Join(started, ", "))
}

// teardown unloads every recorder once the group can no longer be kept in
// step, then finalizes whatever was recorded: every device when capture was
// being stopped, and only the devices that left a file when it was being
// started. cause is returned annotated with reason.
func (c *Controller) teardown(ctx context.Context, out *Outcome, phase detect.Phase, cause error, reason string) error {
	sess := c.Session()
	c.logger.WithSession(sess.ID).WithOperation("toggle").Error("unloading all recorders",
		"reason", reason,
		"error", cause.Error())

	err := fmt.Errorf("%w; recorders unloaded: %s", cause, reason)
	if termErr := c.supervisor.Terminate(c.cfg.Timeouts.ExitGrace()); termErr != nil {
		err = errors.Join(err, termErr)
	}
	c.metrics.SetLoadedRecorders(0)
	c.transition(Configured)

	recorded := sess.Devices
	if phase == detect.PhaseStarted {
		recorded = c.finalizer.Recorded(sess, sess.Devices)
	}
	if len(recorded) > 0 {
		c.finalize(ctx, out, sess, recorded)
	}
	return err
}

// Kill terminates every recorder and returns the controller to Configured.
// When capturing it stops first. A failed stop is reported as a warning and
// the recordings are finalized after the recorders exit, unless the stop
// already unloaded the rig. Kill fails only when nothing is loaded.
func (c *Controller) Kill(ctx context.Context) (Outcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	from, sess := c.snapshot()
	out := Outcome{Operation: "kill", From: from, To: from}
	if !from.Loaded() {
		err := errors.NewInvalidStateError("kill", from.String()).WithReason("no recorders are loaded")
		c.observe("kill", start, err)
		return out, err
	}
	logger := c.logger.WithSession(sess.ID).WithOperation("kill")

	stopFailed := false
	if from == LoadedCapturing {
		stop, err := c.stopCapture(ctx)
		out.Files = stop.Files
		out.Pending = stop.Pending
		out.Warnings = append(out.Warnings, stop.Warnings...)
		if err != nil {
			logger.Warn("stop before kill failed", "error", err.Error())
			out.Warnings = append(out.Warnings, err)
			// A stop that split the group has already unloaded and
			// finalized.
			stopFailed = c.State().Loaded()
		}
	}

	if c.State().Loaded() {
		c.terminate(ctx, &out, logger)
	}
	if stopFailed {
		c.finalize(ctx, &out, sess, sess.Devices)
	}

	out.To = c.State()
	logger.Info("recorders killed", "warnings", len(out.Warnings))
	c.observe("kill", start, nil)
	return out, nil
}

// terminate asks every recorder to exit, waits for the acknowledgements and
// the exits, and reaps whatever is left. Partial termination is a warning.
func (c *Controller) terminate(ctx context.Context, out *Outcome, logger *logging.Logger) {
	handles := c.supervisor.Handles()
	timeouts := c.cfg.Timeouts

	err := c.supervisor.Broadcast(lifecycle.SignalTerminate)
	switch {
	case err == nil:
		if err := c.monitor.AwaitAll(ctx, "kill", detect.PhaseTerminated, targets(handles), timeouts.Terminate()); err != nil {
			logger.Warn("not every recorder acknowledged termination", "error", err.Error())
			out.Warnings = append(out.Warnings, err)
		}
	case errors.Is(err, process.ErrNotRunning):
		logger.Debug("recorders already exited")
	default:
		logger.Warn("failed to signal termination", "error", err.Error())
		out.Warnings = append(out.Warnings, err)
	}

	// A zero grace would wait forever here; Terminate kills at once instead.
	if grace := timeouts.ExitGrace(); grace > 0 {
		if err := c.supervisor.AwaitAllExit(ctx, grace); err != nil {
			logger.Warn("recorders still running after grace period", "error", err.Error())
			out.Warnings = append(out.Warnings, err)
		}
	}
	if err := c.supervisor.Terminate(timeouts.ExitGrace()); err != nil {
		logger.Error("failed to reap recorders", "error", err.Error())
		out.Warnings = append(out.Warnings, err)
	}

	c.metrics.SetLoadedRecorders(0)
	c.transition(Configured)
}

// Save retries moving recordings left in the temp dir by the last finalize.
// It is rejected while capturing and is a no-op unless LoadedIdle with
// pending recordings.
func (c *Controller) Save(ctx context.Context) (Outcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	c.mu.RLock()
	from, sess := c.current, c.sess
	pending := append([]session.Device(nil), c.pending...)
	c.mu.RUnlock()

	out := Outcome{Operation: "save", From: from, To: from}
	if from == LoadedCapturing {
		err := errors.NewInvalidStateError("save", from.String()).WithReason("stop the capture first")
		c.observe("save", start, err)
		return out, err
	}
	if from != LoadedIdle || len(pending) == 0 {
		c.logger.WithOperation("save").Debug("nothing to save", "state", from.String(), "pending", len(pending))
		c.observe("save", start, nil)
		return out, nil
	}

	c.finalize(ctx, &out, sess, pending)
	c.observe("save", start, nil)
	return out, nil
}

// Reset discards the session. It is rejected while recorders are loaded.
func (c *Controller) Reset() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := time.Now()

	if from := c.State(); from.Loaded() {
		err := errors.NewInvalidStateError("reset", from.String()).WithReason("kill the recorders first")
		c.observe("reset", start, err)
		return err
	}

	c.mu.Lock()
	c.sess = nil
	c.pending = nil
	c.mu.Unlock()
	c.transition(Unconfigured)
	c.observe("reset", start, nil)
	return nil
}

// Shutdown kills loaded recorders, if any. It is safe to call in any state.
func (c *Controller) Shutdown(ctx context.Context) (Outcome, error) {
	if s := c.State(); !s.Loaded() {
		return Outcome{Operation: "kill", From: s, To: s}, nil
	}
	return c.Kill(ctx)
}

func (c *Controller) finalize(ctx context.Context, out *Outcome, sess *session.Session, devices []session.Device) {
	report := c.finalizer.Finalize(ctx, sess, devices)

	c.mu.Lock()
	c.pending = report.Pending
	c.mu.Unlock()

	out.Files = append(out.Files, report.Files()...)
	out.Pending = deviceNames(report.Pending)
	out.Warnings = append(out.Warnings, report.Warnings...)
	c.metrics.AddFinalized(len(report.Moved), len(report.Warnings))
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.current
	c.current = to
	cb := c.stateCallback
	c.mu.Unlock()

	if from == to {
		return
	}
	c.metrics.SetState(to.String(), stateNames())
	c.logger.Debug("state changed", "from", from.String(), "to", to.String())
	if cb != nil {
		cb(from, to)
	}
}

func (c *Controller) observe(op string, start time.Time, err error) {
	c.metrics.ObserveTransition(op, time.Since(start), err)
}

func targets(handles []*process.Handle) []state.Target {
	out := make([]state.Target, len(handles))
	for i, h := range handles {
		out[i] = h
	}
	return out
}

func (c *Controller) targetsNamed(names []string) []state.Target {
	var out []state.Target
	for _, h := range c.supervisor.Handles() {
		if slices.Contains(names, h.Name()) {
			out = append(out, h)
		}
	}
	return out
}

// without returns the names not listed in drop, keeping order.
func without(names, drop []string) []string {
	var out []string
	for _, n := range names {
		if !slices.Contains(drop, n) {
			out = append(out, n)
		}
	}
	return out
}

func handleNames(handles []*process.Handle) []string {
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = h.Name()
	}
	return names
}

func deviceNames(devices []session.Device) []string {
	if len(devices) == 0 {
		return nil
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name()
	}
	return names
}
