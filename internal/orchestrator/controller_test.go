package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/metrics"
	"github.com/Iron-Ham/camrig/internal/session"
	"github.com/Iron-Ham/camrig/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.MaybeRunFakeRecorder()
	os.Exit(m.Run())
}

func newController(t *testing.T, cfg *config.Config, opts ...Option) *Controller {
	t.Helper()
	if cfg == nil {
		cfg = testutil.FakeRecorderConfig()
	}
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _, _ = c.Shutdown(context.Background()) })
	return c
}

func configure(t *testing.T, c *Controller, devices ...string) *session.Session {
	t.Helper()
	sess, err := c.Configure(session.Params{
		Devices:        devices,
		BasePath:       t.TempDir(),
		SequenceNumber: "01",
		SequenceName:   "test run",
		Increment:      "1",
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return sess
}

func mustLoad(t *testing.T, c *Controller) Outcome {
	t.Helper()
	out, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return out
}

func mustToggle(t *testing.T, c *Controller, want State) Outcome {
	t.Helper()
	out, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if out.To != want || c.State() != want {
		t.Fatalf("Toggle() moved to %s (State() = %s), want %s", out.To, c.State(), want)
	}
	return out
}

func assertState(t *testing.T, c *Controller, want State) {
	t.Helper()
	if got := c.State(); got != want {
		t.Errorf("State() = %s, want %s", got, want)
	}
}

func assertInvalidState(t *testing.T, err error, op string) {
	t.Helper()
	var ise *errors.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("%s error = %v, want InvalidStateError", op, err)
	}
	if ise.Operation != op {
		t.Errorf("InvalidStateError.Operation = %q, want %q", ise.Operation, op)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestState_String(t *testing.T) {
	want := []string{"unconfigured", "configured", "loaded-idle", "loaded-capturing"}
	if diff := cmp.Diff(want, stateNames()); diff != "" {
		t.Errorf("state names mismatch (-want +got):\n%s", diff)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("State(42).String() = %q, want unknown", got)
	}
	if Configured.Loaded() || !LoadedCapturing.Loaded() {
		t.Error("Loaded() wrong for Configured or LoadedCapturing")
	}
}

func TestController_Unconfigured(t *testing.T) {
	c := newController(t, nil)
	ctx := context.Background()
	assertState(t, c, Unconfigured)

	_, err := c.Load(ctx)
	assertInvalidState(t, err, "load")
	_, err = c.Toggle(ctx)
	assertInvalidState(t, err, "toggle")
	_, err = c.Kill(ctx)
	assertInvalidState(t, err, "kill")

	out, err := c.Save(ctx)
	if err != nil {
		t.Errorf("Save() error = %v, want no-op", err)
	}
	if out.Changed() || len(out.Files) != 0 {
		t.Errorf("Save() = %+v, want no-op", out)
	}
	assertState(t, c, Unconfigured)
}

func TestController_ConfigureValidation(t *testing.T) {
	c := newController(t, nil)
	_, err := c.Configure(session.Params{
		Devices:        []string{testutil.FakeDevice("1")},
		BasePath:       t.TempDir(),
		SequenceNumber: "",
		SequenceName:   "take",
		Increment:      "1",
	})
	var ve *errors.ValidationError
	if !errors.As(err, &ve) || ve.Field != "sequenceNumber" {
		t.Errorf("Configure() error = %v, want ValidationError on sequenceNumber", err)
	}
	assertState(t, c, Unconfigured)
	if c.Session() != nil {
		t.Error("Session() set after failed Configure")
	}
}

func TestController_ConfigureDefaultsDevices(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Devices = []string{"/dev/video7", "/dev/video8"}
	c := newController(t, cfg)

	sess := configure(t, c)
	if diff := cmp.Diff([]string{"C1", "C2"}, sess.DeviceNames()); diff != "" {
		t.Errorf("DeviceNames() mismatch (-want +got):\n%s", diff)
	}
	if sess.Devices[1].ID != "/dev/video8" {
		t.Errorf("device 2 = %q, want /dev/video8", sess.Devices[1].ID)
	}
}

func TestController_FullCycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := New(testutil.FakeRecorderConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2"), testutil.FakeDevice("3"))
	assertState(t, c, Configured)

	load := mustLoad(t, c)
	if load.From != Configured || load.To != LoadedIdle {
		t.Errorf("Load() = %s -> %s, want configured -> loaded-idle", load.From, load.To)
	}
	if c.Recorders() != 3 || c.PGID() == 0 {
		t.Errorf("Recorders() = %d, PGID() = %d after load", c.Recorders(), c.PGID())
	}
	if !exists(sess.TmpDir) {
		t.Error("temp dir missing after load")
	}

	mustToggle(t, c, LoadedCapturing)
	stop := mustToggle(t, c, LoadedIdle)

	want := []string{
		filepath.Join(sess.BasePath, "S01_Test Run_1_C1.mkv"),
		filepath.Join(sess.BasePath, "S01_Test Run_1_C2.mkv"),
		filepath.Join(sess.BasePath, "S01_Test Run_1_C3.mkv"),
	}
	if diff := cmp.Diff(want, stop.Files); diff != "" {
		t.Errorf("stop Files mismatch (-want +got):\n%s", diff)
	}
	if len(stop.Warnings) != 0 || len(stop.Pending) != 0 {
		t.Errorf("stop warnings = %v, pending = %v, want none", stop.Warnings, stop.Pending)
	}
	for _, p := range want {
		if !exists(p) {
			t.Errorf("%s missing", p)
		}
	}
	if exists(sess.TmpDir) {
		t.Error("temp dir still present after complete finalize")
	}

	kill, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if kill.To != Configured || len(kill.Warnings) != 0 {
		t.Errorf("Kill() = %+v, want clean move to configured", kill)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after kill", c.Recorders())
	}
	if exists(filepath.Join(sess.BasePath, session.LockFileName)) {
		t.Error("base path lock still held after kill")
	}
}

func TestController_SecondCaptureNeverOverwrites(t *testing.T) {
	c := newController(t, nil)
	sess := configure(t, c, testutil.FakeDevice("1"))
	mustLoad(t, c)

	mustToggle(t, c, LoadedCapturing)
	first := mustToggle(t, c, LoadedIdle)
	if len(first.Files) != 1 {
		t.Fatalf("first capture Files = %v, want one", first.Files)
	}

	// The temp dir was removed by finalize and must come back for the next take.
	mustToggle(t, c, LoadedCapturing)
	if !exists(sess.TmpDir) {
		t.Fatal("temp dir not recreated for the second capture")
	}
	second := mustToggle(t, c, LoadedIdle)

	if len(second.Files) != 0 {
		t.Errorf("second capture Files = %v, want none", second.Files)
	}
	if diff := cmp.Diff([]string{"C1"}, second.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if len(second.Warnings) == 0 || !errors.Is(second.Warnings[0], os.ErrExist) {
		t.Errorf("Warnings = %v, want final-file-exists warning", second.Warnings)
	}
	if diff := cmp.Diff([]string{"C1"}, c.Pending()); diff != "" {
		t.Errorf("Pending() mismatch (-want +got):\n%s", diff)
	}
}

func TestController_ConfigureRejectedWhileLoaded(t *testing.T) {
	c := newController(t, nil)
	sess := configure(t, c, testutil.FakeDevice("1"))
	mustLoad(t, c)

	_, err := c.Configure(session.Params{
		Devices:        []string{testutil.FakeDevice("9")},
		BasePath:       t.TempDir(),
		SequenceNumber: "02",
		SequenceName:   "other",
		Increment:      "1",
	})
	assertInvalidState(t, err, "configure")
	if c.Session() != sess {
		t.Error("Configure() replaced the session while loaded")
	}
	assertState(t, c, LoadedIdle)

	_, err = c.Load(context.Background())
	assertInvalidState(t, err, "load")
	assertInvalidState(t, c.Reset(), "reset")
}

func TestController_LoadFailureUnloads(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.ReadySeconds = 1
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.NoReady))

	out, err := c.Load(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Load() error = %v, want SyncTimeoutError", err)
	}
	if diff := cmp.Diff([]string{"C2"}, syncErr.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if out.Changed() {
		t.Errorf("Load() outcome moved %s -> %s", out.From, out.To)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after failed load", c.Recorders())
	}
	if exists(sess.TmpDir) {
		t.Error("empty temp dir left behind by failed load")
	}
}

func TestController_SpawnFailure(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Recorder.Command = filepath.Join(t.TempDir(), "no-such-recorder")
	c := newController(t, cfg)
	configure(t, c, testutil.FakeDevice("1"))

	_, err := c.Load(context.Background())
	if !errors.Is(err, errors.ErrSpawnFailed) {
		t.Fatalf("Load() error = %v, want ErrSpawnFailed", err)
	}
	assertState(t, c, Configured)
}

func TestController_StopTimeoutKeepsState(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StopSeconds = 1
	c := newController(t, cfg)
	sess := configure(t, c, testutil.FakeDevice("1", testutil.NoStop), testutil.FakeDevice("2", testutil.NoStop))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)

	out, err := c.Toggle(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Toggle() error = %v, want SyncTimeoutError", err)
	}
	if syncErr.Phase != "stopped" {
		t.Errorf("Phase = %q, want stopped", syncErr.Phase)
	}
	if diff := cmp.Diff([]string{"C1", "C2"}, syncErr.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if out.Changed() {
		t.Errorf("Toggle() outcome moved %s -> %s", out.From, out.To)
	}
	assertState(t, c, LoadedCapturing)
	if c.Recorders() != 2 {
		t.Errorf("Recorders() = %d, want both still loaded", c.Recorders())
	}

	// Kill still terminates and finalizes, reporting the failed stop.
	kill, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	assertState(t, c, Configured)
	if len(kill.Files) != 2 {
		t.Errorf("Kill() Files = %v, want both recordings finalized", kill.Files)
	}
	foundStop := false
	for _, w := range kill.Warnings {
		if errors.Is(w, errors.ErrSyncTimeout) {
			foundStop = true
		}
	}
	if !foundStop {
		t.Errorf("Kill() warnings = %v, want the stop failure", kill.Warnings)
	}
	if exists(sess.TmpDir) {
		t.Error("temp dir still present after kill finalized everything")
	}
}

func TestController_PartialStopTearsDown(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StopSeconds = 1
	c := newController(t, cfg)
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.NoStop))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)

	out, err := c.Toggle(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Toggle() error = %v, want SyncTimeoutError", err)
	}
	if diff := cmp.Diff([]string{"C2"}, syncErr.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "only C1 stopped") {
		t.Errorf("Toggle() error = %q, want it to name the device that stopped", err)
	}
	if out.To != Configured {
		t.Errorf("Toggle() outcome To = %s, want configured", out.To)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after teardown", c.Recorders())
	}

	want := []string{sess.FinalPath(sess.Devices[0]), sess.FinalPath(sess.Devices[1])}
	if diff := cmp.Diff(want, out.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	if exists(sess.TmpDir) {
		t.Error("temp dir still present after teardown finalized everything")
	}

	// Nothing is left to stop or restart.
	_, err = c.Kill(context.Background())
	assertInvalidState(t, err, "kill")
}

func TestController_KillAfterPartialStop(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StopSeconds = 1
	c := newController(t, cfg)
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.NoStop))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)
	c1 := c.supervisor.Handles()[0]

	out, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	assertState(t, c, Configured)

	// C1 stopped on the first toggle and was never toggled back on.
	if n := strings.Count(c1.Watcher().Tail(), testutil.StartLine); n != 1 {
		t.Errorf("C1 started %d times, want 1\noutput:\n%s", n, c1.Watcher().Tail())
	}
	want := []string{sess.FinalPath(sess.Devices[0]), sess.FinalPath(sess.Devices[1])}
	if diff := cmp.Diff(want, out.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	foundStop := false
	for _, w := range out.Warnings {
		if errors.Is(w, errors.ErrSyncTimeout) {
			foundStop = true
		}
	}
	if !foundStop {
		t.Errorf("Kill() warnings = %v, want the stop failure", out.Warnings)
	}
}

func TestController_StartTimeoutKeepsState(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StartSeconds = 1
	c := newController(t, cfg)
	configure(t, c, testutil.FakeDevice("1", testutil.NoStart), testutil.FakeDevice("2", testutil.NoStart))
	mustLoad(t, c)

	out, err := c.Toggle(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Toggle() error = %v, want SyncTimeoutError", err)
	}
	if diff := cmp.Diff([]string{"C1", "C2"}, syncErr.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if out.Changed() {
		t.Errorf("Toggle() outcome moved %s -> %s", out.From, out.To)
	}
	assertState(t, c, LoadedIdle)
	if c.Recorders() != 2 {
		t.Errorf("Recorders() = %d, want both still loaded", c.Recorders())
	}
}

func TestController_PartialStartStopsStartedRecorders(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StartSeconds = 1
	c := newController(t, cfg)
	configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.NoStart))
	mustLoad(t, c)
	c1 := c.supervisor.Handles()[0]

	out, err := c.Toggle(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Toggle() error = %v, want SyncTimeoutError", err)
	}
	if diff := cmp.Diff([]string{"C2"}, syncErr.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "capture stopped again on C1") {
		t.Errorf("Toggle() error = %q, want it to name the device stopped again", err)
	}
	if out.Changed() {
		t.Errorf("Toggle() outcome moved %s -> %s", out.From, out.To)
	}
	assertState(t, c, LoadedIdle)
	if c.Recorders() != 2 {
		t.Errorf("Recorders() = %d, want both still loaded", c.Recorders())
	}

	tail := c1.Watcher().Tail()
	if strings.Count(tail, testutil.StartLine) != 1 || strings.Count(tail, testutil.StopLine) != 1 {
		t.Errorf("C1 should have started and stopped once\noutput:\n%s", tail)
	}
	// The short file C1 wrote is reported, not silently left behind.
	var fw *errors.FinalizeWarning
	if len(out.Warnings) != 1 || !errors.As(out.Warnings[0], &fw) || fw.Device != "C1" {
		t.Errorf("Warnings = %v, want one finalize warning for C1", out.Warnings)
	}

	kill, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if len(kill.Files) != 0 {
		t.Errorf("Kill() from idle finalized %v", kill.Files)
	}
	assertState(t, c, Configured)
}

func TestController_PartialStartUndoFailureTearsDown(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.StartSeconds = 1
	cfg.Timeouts.StopSeconds = 1
	c := newController(t, cfg)
	sess := configure(t, c, testutil.FakeDevice("1", testutil.NoStop), testutil.FakeDevice("2", testutil.NoStart))
	mustLoad(t, c)

	out, err := c.Toggle(context.Background())
	if !errors.Is(err, errors.ErrSyncTimeout) {
		t.Fatalf("Toggle() error = %v, want ErrSyncTimeout", err)
	}
	if !strings.Contains(err.Error(), "recorders unloaded") {
		t.Errorf("Toggle() error = %q, want the teardown noted", err)
	}
	if out.To != Configured {
		t.Errorf("Toggle() outcome To = %s, want configured", out.To)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after teardown", c.Recorders())
	}

	// Only C1 ever recorded anything.
	if diff := cmp.Diff([]string{sess.FinalPath(sess.Devices[0])}, out.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	if len(out.Pending) != 0 {
		t.Errorf("Pending = %v, want none", out.Pending)
	}
}

func TestController_CrashTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := New(testutil.FakeRecorderConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.Crash))
	mustLoad(t, c)

	out, err := c.Toggle(context.Background())
	var syncErr *errors.SyncTimeoutError
	if !errors.As(err, &syncErr) {
		t.Fatalf("Toggle() error = %v, want SyncTimeoutError", err)
	}
	if diff := cmp.Diff([]string{"C2"}, syncErr.Exited); diff != "" {
		t.Errorf("Exited mismatch (-want +got):\n%s", diff)
	}
	if out.To != Configured {
		t.Errorf("Toggle() outcome To = %s, want configured", out.To)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after teardown", c.Recorders())
	}

	// The session survives the teardown and can be loaded again.
	mustLoad(t, c)
	if _, err := c.Kill(context.Background()); err != nil {
		t.Errorf("Kill() error = %v", err)
	}
}

func TestController_KillFromCapturing(t *testing.T) {
	c := newController(t, nil)
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.LateFile))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)

	out, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if out.From != LoadedCapturing || out.To != Configured {
		t.Errorf("Kill() = %s -> %s, want loaded-capturing -> configured", out.From, out.To)
	}
	want := []string{sess.FinalPath(sess.Devices[0]), sess.FinalPath(sess.Devices[1])}
	if diff := cmp.Diff(want, out.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", out.Warnings)
	}
	assertState(t, c, Configured)
}

func TestController_KillReportsMissingAck(t *testing.T) {
	c := newController(t, nil)
	configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2", testutil.NoAck))
	mustLoad(t, c)

	out, err := c.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("Kill() reported no warning for the unacknowledged termination")
	}
	var syncErr *errors.SyncTimeoutError
	if !errors.As(out.Warnings[0], &syncErr) || syncErr.Phase != "terminated" {
		t.Errorf("warning = %v, want terminated SyncTimeoutError", out.Warnings[0])
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d after kill", c.Recorders())
	}
}

func TestController_SaveRejectedWhileCapturing(t *testing.T) {
	c := newController(t, nil)
	sess := configure(t, c, testutil.FakeDevice("1"))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)

	before, err := os.ReadDir(sess.TmpDir)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Save(context.Background())
	assertInvalidState(t, err, "save")

	after, err := os.ReadDir(sess.TmpDir)
	if err != nil {
		t.Fatalf("temp dir touched by rejected save: %v", err)
	}
	if len(before) != len(after) {
		t.Errorf("temp dir changed by rejected save: %d -> %d entries", len(before), len(after))
	}
	if exists(sess.FinalPath(sess.Devices[0])) {
		t.Error("rejected save moved a recording")
	}
	assertState(t, c, LoadedCapturing)
}

func TestController_SaveRetriesPending(t *testing.T) {
	c := newController(t, nil)
	sess := configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2"))
	c1 := sess.Devices[0]

	blocker := sess.FinalPath(c1)
	if err := os.WriteFile(blocker, []byte("earlier take"), 0644); err != nil {
		t.Fatal(err)
	}

	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)
	stop := mustToggle(t, c, LoadedIdle)
	if diff := cmp.Diff([]string{"C1"}, stop.Pending); diff != "" {
		t.Fatalf("stop Pending mismatch (-want +got):\n%s", diff)
	}
	if !exists(sess.TmpDir) {
		t.Fatal("temp dir removed with a pending recording")
	}

	if err := os.Rename(blocker, blocker+".bak"); err != nil {
		t.Fatal(err)
	}

	out, err := c.Save(context.Background())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if diff := cmp.Diff([]string{blocker}, out.Files); diff != "" {
		t.Errorf("Save() Files mismatch (-want +got):\n%s", diff)
	}
	if len(c.Pending()) != 0 {
		t.Errorf("Pending() = %v after save", c.Pending())
	}
	if exists(sess.TmpDir) {
		t.Error("temp dir still present after save completed")
	}

	again, err := c.Save(context.Background())
	if err != nil || len(again.Files) != 0 {
		t.Errorf("second Save() = %+v, %v, want no-op", again, err)
	}
}

func TestController_Reset(t *testing.T) {
	c := newController(t, nil)
	configure(t, c, testutil.FakeDevice("1"))
	mustLoad(t, c)

	assertInvalidState(t, c.Reset(), "reset")

	if _, err := c.Kill(context.Background()); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	assertState(t, c, Unconfigured)
	if c.Session() != nil {
		t.Error("Session() not cleared by Reset")
	}
}

func TestController_DeviceSetupWarnings(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.DeviceSetup.Enabled = true

	var mu sync.Mutex
	calls := 0
	runner := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return []byte("uvcdynctrl: device busy"), errors.New("exit status 1")
	}

	c := newController(t, cfg, WithCommandRunner(runner))
	configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2"))

	out := mustLoad(t, c)
	assertState(t, c, LoadedIdle)
	if len(out.Warnings) != 2 {
		t.Fatalf("Load() warnings = %v, want one per device", out.Warnings)
	}
	for _, w := range out.Warnings {
		if !errors.Is(w, errors.ErrDeviceConfig) {
			t.Errorf("warning %v is not a device config error", w)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 4 {
		t.Errorf("setup command ran %d times, want 4 (one retry per device)", calls)
	}
}

func TestController_StateCallback(t *testing.T) {
	c := newController(t, nil)

	var mu sync.Mutex
	var seen []string
	c.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, from.String()+">"+to.String())
	})

	configure(t, c, testutil.FakeDevice("1"))
	mustLoad(t, c)
	mustToggle(t, c, LoadedCapturing)
	mustToggle(t, c, LoadedIdle)
	if _, err := c.Kill(context.Background()); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	want := []string{
		"unconfigured>configured",
		"configured>loaded-idle",
		"loaded-idle>loaded-capturing",
		"loaded-capturing>loaded-idle",
		"loaded-idle>configured",
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestController_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newController(t, nil, WithMetrics(metrics.New(reg)))

	configure(t, c, testutil.FakeDevice("1"), testutil.FakeDevice("2"))
	mustLoad(t, c)
	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if _, err := c.Save(context.Background()); err == nil {
		t.Fatal("Save() while capturing succeeded")
	}

	tests := []struct {
		name string
		want int
	}{
		// configure/ok, load/ok, toggle/ok, save/invalid_state
		{"camrig_transitions_total", 4},
		// ready and started
		{"camrig_confirm_latency_seconds", 2},
		{"camrig_state", len(States())},
		{"camrig_loaded_recorders", 1},
	}
	for _, tt := range tests {
		got, err := promtestutil.GatherAndCount(reg, tt.name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s series = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestController_CanceledLoad(t *testing.T) {
	cfg := testutil.FakeRecorderConfig()
	cfg.Timeouts.ReadySeconds = 0
	c := newController(t, cfg)
	configure(t, c, testutil.FakeDevice("1", testutil.NoReady))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	_, err := c.Load(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
	assertState(t, c, Configured)
	if c.Recorders() != 0 {
		t.Errorf("Recorders() = %d, canceled load left recorders running", c.Recorders())
	}
}
