package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	wantDevices := []string{"/dev/video1", "/dev/video2", "/dev/video3", "/dev/video0"}
	if len(cfg.Devices) != len(wantDevices) {
		t.Fatalf("Devices = %v, want %v", cfg.Devices, wantDevices)
	}
	for i := range wantDevices {
		if cfg.Devices[i] != wantDevices[i] {
			t.Errorf("Devices[%d] = %q, want %q", i, cfg.Devices[i], wantDevices[i])
		}
	}

	if cfg.Output.TmpDirName != ".tmp" {
		t.Errorf("Output.TmpDirName = %q, want %q", cfg.Output.TmpDirName, ".tmp")
	}
	if cfg.Output.Container != "mkv" {
		t.Errorf("Output.Container = %q, want %q", cfg.Output.Container, "mkv")
	}
	if cfg.Output.ArtifactSuffix != "-1" {
		t.Errorf("Output.ArtifactSuffix = %q, want %q", cfg.Output.ArtifactSuffix, "-1")
	}

	if cfg.Recorder.Command != "guvcview" {
		t.Errorf("Recorder.Command = %q, want %q", cfg.Recorder.Command, "guvcview")
	}
	if cfg.Recorder.FPS != 15 {
		t.Errorf("Recorder.FPS = %d, want 15", cfg.Recorder.FPS)
	}
	if !cfg.Recorder.UsePTY {
		t.Error("Recorder.UsePTY should be true by default")
	}

	if !cfg.DeviceSetup.Enabled {
		t.Error("DeviceSetup.Enabled should be true by default")
	}

	if cfg.Signals.Toggle != "SIGUSR1" {
		t.Errorf("Signals.Toggle = %q, want SIGUSR1", cfg.Signals.Toggle)
	}
	if cfg.Signals.Terminate != "SIGINT" {
		t.Errorf("Signals.Terminate = %q, want SIGINT", cfg.Signals.Terminate)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Metrics.ListenAddress != "" {
		t.Errorf("Metrics.ListenAddress = %q, want empty", cfg.Metrics.ListenAddress)
	}
}

func TestTimeoutConfig_Durations(t *testing.T) {
	tc := TimeoutConfig{
		ReadySeconds:       30,
		StartSeconds:       10,
		StopSeconds:        20,
		TerminateSeconds:   5,
		ExitGraceSeconds:   2,
		DeviceSetupSeconds: 0,
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"ready", tc.Ready(), 30 * time.Second},
		{"start", tc.Start(), 10 * time.Second},
		{"stop", tc.Stop(), 20 * time.Second},
		{"terminate", tc.Terminate(), 5 * time.Second},
		{"exit grace", tc.ExitGrace(), 2 * time.Second},
		{"device setup unbounded", tc.DeviceSetup(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestOutputConfig_ArtifactWait(t *testing.T) {
	oc := OutputConfig{ArtifactWaitMs: 1500}
	if got := oc.ArtifactWait(); got != 1500*time.Millisecond {
		t.Errorf("ArtifactWait() = %v, want 1.5s", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/camrig" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/camrig")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/operator")
		if got := ConfigDir(); got != "/home/operator/.config/camrig" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/home/operator/.config/camrig")
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/camrig/config.yaml" {
		t.Errorf("ConfigFile() = %q, want %q", got, "/custom/config/camrig/config.yaml")
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Recorder.Command != "guvcview" {
		t.Errorf("Get().Recorder.Command = %q, want %q", cfg.Recorder.Command, "guvcview")
	}
	if len(cfg.Devices) != 4 {
		t.Errorf("Get().Devices = %v, want 4 devices", cfg.Devices)
	}
	if cfg.Timeouts.Start() != 15*time.Second {
		t.Errorf("Get().Timeouts.Start() = %v, want 15s", cfg.Timeouts.Start())
	}
}

func TestLoad(t *testing.T) {
	t.Run("overrides are applied", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		viper.Set("devices", []string{"/dev/video4", "/dev/video5"})
		viper.Set("recorder.fps", 30)
		viper.Set("output.base_path", "/srv/takes")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(cfg.Devices) != 2 || cfg.Devices[0] != "/dev/video4" {
			t.Errorf("Devices = %v, want [/dev/video4 /dev/video5]", cfg.Devices)
		}
		if cfg.Recorder.FPS != 30 {
			t.Errorf("Recorder.FPS = %d, want 30", cfg.Recorder.FPS)
		}
		if cfg.Output.BasePath != "/srv/takes" {
			t.Errorf("Output.BasePath = %q, want /srv/takes", cfg.Output.BasePath)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		viper.Set("signals.toggle", "SIGNOPE")

		_, err := Load()
		if err == nil {
			t.Fatal("Load() expected validation error")
		}
		if _, ok := err.(ValidationErrors); !ok {
			t.Errorf("Load() error type = %T, want ValidationErrors", err)
		}

		// Get falls back to defaults.
		if cfg := Get(); cfg.Signals.Toggle != "SIGUSR1" {
			t.Errorf("Get().Signals.Toggle = %q, want default SIGUSR1", cfg.Signals.Toggle)
		}
	})
}
