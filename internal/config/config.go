package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete camrig configuration
type Config struct {
	Devices     []string          `mapstructure:"devices" yaml:"devices"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Recorder    RecorderConfig    `mapstructure:"recorder" yaml:"recorder"`
	DeviceSetup DeviceSetupConfig `mapstructure:"device_setup" yaml:"device_setup"`
	Patterns    PatternConfig     `mapstructure:"patterns" yaml:"patterns"`
	Signals     SignalConfig      `mapstructure:"signals" yaml:"signals"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts" yaml:"timeouts"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery" yaml:"discovery"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// OutputConfig controls where recordings are written and how they are named
type OutputConfig struct {
	// BasePath is the default save directory (may be overridden per session)
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
	// TmpDirName is the name of the working directory created under BasePath
	// while recorders are loaded (default: ".tmp")
	TmpDirName string `mapstructure:"tmp_dir_name" yaml:"tmp_dir_name"`
	// Container is the output file extension without the dot (default: "mkv")
	Container string `mapstructure:"container" yaml:"container"`
	// ArtifactSuffix is what the encoder appends to the requested file name
	// before the extension (guvcview writes "name-1.mkv"; default: "-1")
	ArtifactSuffix string `mapstructure:"artifact_suffix" yaml:"artifact_suffix"`
	// ArtifactWaitMs is how long finalize waits for a missing artifact to appear
	ArtifactWaitMs int `mapstructure:"artifact_wait_ms" yaml:"artifact_wait_ms"`
}

// RecorderConfig describes the external capture process spawned per device.
// Args are Go text/template strings rendered with the device, output path,
// and the resolution/fps/format/codec values below.
type RecorderConfig struct {
	Command    string   `mapstructure:"command" yaml:"command"`
	Args       []string `mapstructure:"args" yaml:"args"`
	Resolution string   `mapstructure:"resolution" yaml:"resolution"`
	FPS        int      `mapstructure:"fps" yaml:"fps"`
	Format     string   `mapstructure:"format" yaml:"format"`
	Codec      string   `mapstructure:"codec" yaml:"codec"`
	// UsePTY runs the recorder on a pseudo-terminal so it line-buffers its
	// output. When false, stdout and stderr share a plain pipe.
	UsePTY bool `mapstructure:"use_pty" yaml:"use_pty"`
	// Env holds extra KEY=VALUE entries added to the recorder's environment
	Env []string `mapstructure:"env" yaml:"env"`
}

// DeviceSetupConfig is the one-shot driver configuration command issued for
// each device before its recorder is spawned.
type DeviceSetupConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// PatternConfig holds the confirmation regexes matched against each
// recorder's output
type PatternConfig struct {
	Ready     string `mapstructure:"ready" yaml:"ready"`
	Start     string `mapstructure:"start" yaml:"start"`
	Stop      string `mapstructure:"stop" yaml:"stop"`
	Terminate string `mapstructure:"terminate" yaml:"terminate"`
}

// SignalConfig names the signals broadcast to the recorder process group
type SignalConfig struct {
	// Toggle starts and stops capture (default: "SIGUSR1")
	Toggle string `mapstructure:"toggle" yaml:"toggle"`
	// Terminate asks recorders to exit (default: "SIGINT")
	Terminate string `mapstructure:"terminate" yaml:"terminate"`
}

// TimeoutConfig bounds every synchronization wait. Zero means wait forever.
type TimeoutConfig struct {
	ReadySeconds     int `mapstructure:"ready_seconds" yaml:"ready_seconds"`
	StartSeconds     int `mapstructure:"start_seconds" yaml:"start_seconds"`
	StopSeconds      int `mapstructure:"stop_seconds" yaml:"stop_seconds"`
	TerminateSeconds int `mapstructure:"terminate_seconds" yaml:"terminate_seconds"`
	// ExitGraceSeconds is how long recorders get to exit after acknowledging
	// termination before the process group is killed
	ExitGraceSeconds int `mapstructure:"exit_grace_seconds" yaml:"exit_grace_seconds"`
	// DeviceSetupSeconds bounds each driver configuration command
	DeviceSetupSeconds int `mapstructure:"device_setup_seconds" yaml:"device_setup_seconds"`
}

// DiscoveryConfig controls `camrig devices`
type DiscoveryConfig struct {
	// Pattern is a glob matched against device node paths (default: "/dev/video*")
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where camrig.log is written; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB rotates camrig.log at this size; 0 never rotates
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is how many rotated log files are kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// MetricsConfig controls the optional prometheus endpoint
type MetricsConfig struct {
	// ListenAddress serves /metrics when non-empty (e.g. ":9464")
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Devices: []string{
			"/dev/video1",
			"/dev/video2",
			"/dev/video3",
			"/dev/video0",
		},
		Output: OutputConfig{
			BasePath:       "",
			TmpDirName:     ".tmp",
			Container:      "mkv",
			ArtifactSuffix: "-1",
			ArtifactWaitMs: 2000,
		},
		Recorder: RecorderConfig{
			Command: "guvcview",
			Args: []string{
				"--device={{.Device}}",
				"--resolution={{.Resolution}}",
				"--fps={{.FPS}}",
				"--format={{.Format}}",
				"--audio=none",
				"--gui=none",
				"--video_codec={{.Codec}}",
				"--render=none",
				"--render_window=none",
				"--video={{.Output}}",
			},
			Resolution: "1920x1080",
			FPS:        15,
			Format:     "MJPG",
			Codec:      "raw",
			UsePTY:     true,
		},
		DeviceSetup: DeviceSetupConfig{
			Enabled: true,
			Command: "uvcdynctrl",
			Args: []string{
				"--device={{.Device}}",
				"--set=Power Line Frequency",
				"1",
			},
		},
		Patterns: PatternConfig{
			Ready:     `GUVCVIEW: version 2\.0.*`,
			Start:     `ENCODER: \(matroska\) add seekhead entry .*`,
			Stop:      `ENCODER: \(matroska\) end duration = .*`,
			Terminate: `GUVCVIEW Caught signal 2`,
		},
		Signals: SignalConfig{
			Toggle:    "SIGUSR1",
			Terminate: "SIGINT",
		},
		Timeouts: TimeoutConfig{
			ReadySeconds:       30,
			StartSeconds:       15,
			StopSeconds:        30,
			TerminateSeconds:   15,
			ExitGraceSeconds:   5,
			DeviceSetupSeconds: 10,
		},
		Discovery: DiscoveryConfig{
			Pattern: "/dev/video*",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			ListenAddress: "",
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Ready returns the timeout for the ready pattern after spawn.
func (t *TimeoutConfig) Ready() time.Duration { return seconds(t.ReadySeconds) }

// Start returns the timeout for the start confirmation.
func (t *TimeoutConfig) Start() time.Duration { return seconds(t.StartSeconds) }

// Stop returns the timeout for the stop confirmation.
func (t *TimeoutConfig) Stop() time.Duration { return seconds(t.StopSeconds) }

// Terminate returns the timeout for termination acknowledgements.
func (t *TimeoutConfig) Terminate() time.Duration { return seconds(t.TerminateSeconds) }

// ExitGrace returns the grace period between acknowledgement and group kill.
func (t *TimeoutConfig) ExitGrace() time.Duration { return seconds(t.ExitGraceSeconds) }

// DeviceSetup returns the per-attempt timeout of the driver configuration command.
func (t *TimeoutConfig) DeviceSetup() time.Duration { return seconds(t.DeviceSetupSeconds) }

// ArtifactWait returns how long finalize waits for missing artifacts.
func (o *OutputConfig) ArtifactWait() time.Duration {
	return time.Duration(o.ArtifactWaitMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("devices", defaults.Devices)

	viper.SetDefault("output.base_path", defaults.Output.BasePath)
	viper.SetDefault("output.tmp_dir_name", defaults.Output.TmpDirName)
	viper.SetDefault("output.container", defaults.Output.Container)
	viper.SetDefault("output.artifact_suffix", defaults.Output.ArtifactSuffix)
	viper.SetDefault("output.artifact_wait_ms", defaults.Output.ArtifactWaitMs)

	viper.SetDefault("recorder.command", defaults.Recorder.Command)
	viper.SetDefault("recorder.args", defaults.Recorder.Args)
	viper.SetDefault("recorder.resolution", defaults.Recorder.Resolution)
	viper.SetDefault("recorder.fps", defaults.Recorder.FPS)
	viper.SetDefault("recorder.format", defaults.Recorder.Format)
	viper.SetDefault("recorder.codec", defaults.Recorder.Codec)
	viper.SetDefault("recorder.use_pty", defaults.Recorder.UsePTY)
	viper.SetDefault("recorder.env", defaults.Recorder.Env)

	viper.SetDefault("device_setup.enabled", defaults.DeviceSetup.Enabled)
	viper.SetDefault("device_setup.command", defaults.DeviceSetup.Command)
	viper.SetDefault("device_setup.args", defaults.DeviceSetup.Args)

	viper.SetDefault("patterns.ready", defaults.Patterns.Ready)
	viper.SetDefault("patterns.start", defaults.Patterns.Start)
	viper.SetDefault("patterns.stop", defaults.Patterns.Stop)
	viper.SetDefault("patterns.terminate", defaults.Patterns.Terminate)

	viper.SetDefault("signals.toggle", defaults.Signals.Toggle)
	viper.SetDefault("signals.terminate", defaults.Signals.Terminate)

	viper.SetDefault("timeouts.ready_seconds", defaults.Timeouts.ReadySeconds)
	viper.SetDefault("timeouts.start_seconds", defaults.Timeouts.StartSeconds)
	viper.SetDefault("timeouts.stop_seconds", defaults.Timeouts.StopSeconds)
	viper.SetDefault("timeouts.terminate_seconds", defaults.Timeouts.TerminateSeconds)
	viper.SetDefault("timeouts.exit_grace_seconds", defaults.Timeouts.ExitGraceSeconds)
	viper.SetDefault("timeouts.device_setup_seconds", defaults.Timeouts.DeviceSetupSeconds)

	viper.SetDefault("discovery.pattern", defaults.Discovery.Pattern)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("metrics.listen_address", defaults.Metrics.ListenAddress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is unusable
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "camrig")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".camrig"
	}
	return filepath.Join(home, ".config", "camrig")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
