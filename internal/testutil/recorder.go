// Package testutil provides testing utilities for camrig tests.
//
// Its centerpiece is a fake recorder: a test binary whose TestMain calls
// MaybeRunFakeRecorder turns into a guvcview stand-in when re-executed with
// FakeRecorderEnv set. The fake prints the same banner and encoder lines,
// reacts to the same signals, and writes its artifact with the same "-1"
// suffix, so supervisor and controller tests run the whole protocol against
// real processes in a real process group.
package testutil

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/camrig/internal/config"
)

// FakeRecorderEnv switches a re-executed test binary into fake recorder mode.
const FakeRecorderEnv = "CAMRIG_FAKE_RECORDER"

// Fake recorder behaviors, selected per device through FakeDevice.
const (
	// NoReady never prints the version banner.
	NoReady = "noready"
	// NoStart ignores the toggle signal while idle.
	NoStart = "nostart"
	// NoStop ignores the toggle signal while capturing.
	NoStop = "nostop"
	// Crash exits with status 3 on the first toggle signal.
	Crash = "crash"
	// NoAck exits on the terminate signal without acknowledging it.
	NoAck = "noack"
	// Stubborn ignores the terminate signal and SIGTERM; only SIGKILL works.
	Stubborn = "stubborn"
	// LateFile creates the artifact only after announcing the stop.
	LateFile = "latefile"
	// NoFile never creates an artifact.
	NoFile = "nofile"
)

// Lines printed by the fake recorder.
const (
	BannerLine    = "GUVCVIEW: version 2.0.6"
	StartLine     = "ENCODER: (matroska) add seekhead entry 1 (ID:0x1654ae6b)"
	StopLine      = "ENCODER: (matroska) end duration = 1000000000 (1000 ms)"
	TerminateLine = "GUVCVIEW Caught signal 2"
)

const fakeRecorderLifetime = 2 * time.Minute

// FakeDevice builds a device identifier that carries fake recorder behaviors.
func FakeDevice(name string, behaviors ...string) string {
	if len(behaviors) == 0 {
		return "/dev/fake-" + name
	}
	return "/dev/fake-" + name + "+" + strings.Join(behaviors, ",")
}

// FakeRecorderConfig returns a configuration whose recorder is the current
// test binary in fake mode. Device setup is disabled and timeouts are short.
func FakeRecorderConfig() *config.Config {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	cfg := config.Default()
	cfg.Recorder.Command = exe
	cfg.Recorder.Env = []string{FakeRecorderEnv + "=1"}
	cfg.DeviceSetup.Enabled = false
	cfg.Output.ArtifactWaitMs = 1000
	cfg.Timeouts = config.TimeoutConfig{
		ReadySeconds:       5,
		StartSeconds:       5,
		StopSeconds:        5,
		TerminateSeconds:   5,
		ExitGraceSeconds:   2,
		DeviceSetupSeconds: 2,
	}
	return cfg
}

// MaybeRunFakeRecorder runs the fake recorder and exits when FakeRecorderEnv
// is set. Call it first thing in TestMain.
func MaybeRunFakeRecorder() {
	if os.Getenv(FakeRecorderEnv) == "" {
		return
	}
	os.Exit(runFakeRecorder(os.Args[1:]))
}

func runFakeRecorder(args []string) int {
	var device, video string
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "--device="); ok {
			device = v
		}
		if v, ok := strings.CutPrefix(a, "--video="); ok {
			video = v
		}
	}

	var behaviors []string
	if _, b, ok := strings.Cut(device, "+"); ok {
		behaviors = strings.Split(b, ",")
	}
	has := func(b string) bool { return slices.Contains(behaviors, b) }

	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("V4L2_CORE: checking format: MJPG")
	if !has(NoReady) {
		fmt.Println(BannerLine)
	}

	artifact := artifactPath(video)
	capturing := false

	// A fake left behind by a failed test must not outlive the test run.
	orphaned := time.After(fakeRecorderLifetime)

	for {
		var sig os.Signal
		select {
		case sig = <-sigs:
		case <-orphaned:
			return 124
		}

		switch sig {
		case syscall.SIGUSR1:
			if has(Crash) {
				return 3
			}
			if !capturing {
				if has(NoStart) {
					continue
				}
				if !has(LateFile) && !has(NoFile) {
					if err := os.WriteFile(artifact, []byte("frames\n"), 0644); err != nil {
						fmt.Println("ENCODER: could not open output:", err)
						return 1
					}
				}
				capturing = true
				fmt.Println(StartLine)
				continue
			}
			if has(NoStop) {
				continue
			}
			capturing = false
			fmt.Println(StopLine)
			if has(LateFile) {
				time.Sleep(200 * time.Millisecond)
				_ = os.WriteFile(artifact, []byte("frames\n"), 0644)
			}

		case syscall.SIGINT:
			if has(Stubborn) {
				continue
			}
			if !has(NoAck) {
				fmt.Println(TerminateLine)
			}
			return 0

		case syscall.SIGTERM:
			if has(Stubborn) {
				continue
			}
			return 143
		}
	}
}

// artifactPath mirrors guvcview, which appends "-1" before the extension.
func artifactPath(video string) string {
	if video == "" {
		return filepath.Join(os.TempDir(), "camrig-fake-1.mkv")
	}
	ext := filepath.Ext(video)
	return strings.TrimSuffix(video, ext) + "-1" + ext
}
