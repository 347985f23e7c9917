package config

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/gobwas/glob"
	"golang.org/x/sys/unix"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "timeouts.start_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var resolutionRegex = regexp.MustCompile(`^[1-9][0-9]*x[1-9][0-9]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// NormalizeSignalName upper-cases a signal name and adds the SIG prefix
// when it is missing, so "usr1", "SIGUSR1" and "Usr1" all name SIGUSR1.
func NormalizeSignalName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name != "" && !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	return name
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDevices()...)
	errors = append(errors, c.validateOutput()...)
	errors = append(errors, c.validateRecorder()...)
	errors = append(errors, c.validateDeviceSetup()...)
	errors = append(errors, c.validatePatterns()...)
	errors = append(errors, c.validateSignals()...)
	errors = append(errors, c.validateTimeouts()...)
	errors = append(errors, c.validateDiscovery()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

// validateDevices validates the default device list. Duplicates are
// permitted here; the session layer warns about them.
func (c *Config) validateDevices() []ValidationError {
	var errors []ValidationError

	if len(c.Devices) == 0 {
		errors = append(errors, ValidationError{
			Field:   "devices",
			Value:   c.Devices,
			Message: "at least one device is required",
		})
	}
	for i, dev := range c.Devices {
		if strings.TrimSpace(dev) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("devices[%d]", i),
				Value:   dev,
				Message: "cannot be empty",
			})
		}
	}

	return errors
}

// validateOutput validates the OutputConfig
func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if c.Output.TmpDirName == "" {
		errors = append(errors, ValidationError{
			Field:   "output.tmp_dir_name",
			Value:   c.Output.TmpDirName,
			Message: "cannot be empty",
		})
	} else if strings.ContainsRune(c.Output.TmpDirName, '/') || c.Output.TmpDirName == "." || c.Output.TmpDirName == ".." {
		errors = append(errors, ValidationError{
			Field:   "output.tmp_dir_name",
			Value:   c.Output.TmpDirName,
			Message: "must be a single directory name",
		})
	}

	if c.Output.Container == "" {
		errors = append(errors, ValidationError{
			Field:   "output.container",
			Value:   c.Output.Container,
			Message: "cannot be empty",
		})
	} else if strings.ContainsAny(c.Output.Container, "./") {
		errors = append(errors, ValidationError{
			Field:   "output.container",
			Value:   c.Output.Container,
			Message: "must be an extension without dots or slashes (e.g. mkv)",
		})
	}

	if strings.ContainsRune(c.Output.ArtifactSuffix, '/') {
		errors = append(errors, ValidationError{
			Field:   "output.artifact_suffix",
			Value:   c.Output.ArtifactSuffix,
			Message: "cannot contain path separators",
		})
	}

	if c.Output.ArtifactWaitMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "output.artifact_wait_ms",
			Value:   c.Output.ArtifactWaitMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateRecorder validates the RecorderConfig
func (c *Config) validateRecorder() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Recorder.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "recorder.command",
			Value:   c.Recorder.Command,
			Message: "cannot be empty",
		})
	}

	errors = append(errors, validateTemplates("recorder.args", c.Recorder.Args)...)

	// Without the output path the recorder would write somewhere finalize
	// never looks.
	if !slices.ContainsFunc(c.Recorder.Args, func(arg string) bool {
		return strings.Contains(arg, ".Output")
	}) {
		errors = append(errors, ValidationError{
			Field:   "recorder.args",
			Value:   c.Recorder.Args,
			Message: "one argument must reference {{.Output}}",
		})
	}

	if !resolutionRegex.MatchString(c.Recorder.Resolution) {
		errors = append(errors, ValidationError{
			Field:   "recorder.resolution",
			Value:   c.Recorder.Resolution,
			Message: "must be WIDTHxHEIGHT (e.g. 1920x1080)",
		})
	}

	for i, kv := range c.Recorder.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("recorder.env[%d]", i),
				Value:   kv,
				Message: "must be KEY=VALUE",
			})
		}
	}

	const maxFPS = 240
	if c.Recorder.FPS < 1 || c.Recorder.FPS > maxFPS {
		errors = append(errors, ValidationError{
			Field:   "recorder.fps",
			Value:   c.Recorder.FPS,
			Message: fmt.Sprintf("must be between 1 and %d", maxFPS),
		})
	}

	return errors
}

// validateDeviceSetup validates the DeviceSetupConfig
func (c *Config) validateDeviceSetup() []ValidationError {
	if !c.DeviceSetup.Enabled {
		return nil
	}

	var errors []ValidationError
	if strings.TrimSpace(c.DeviceSetup.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "device_setup.command",
			Value:   c.DeviceSetup.Command,
			Message: "cannot be empty when device_setup.enabled is true",
		})
	}
	errors = append(errors, validateTemplates("device_setup.args", c.DeviceSetup.Args)...)

	return errors
}

func validateTemplates(field string, args []string) []ValidationError {
	var errors []ValidationError
	for i, arg := range args {
		if _, err := template.New(field).Option("missingkey=error").Parse(arg); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Value:   arg,
				Message: fmt.Sprintf("invalid template: %v", err),
			})
		}
	}
	return errors
}

// validatePatterns validates the PatternConfig
func (c *Config) validatePatterns() []ValidationError {
	var errors []ValidationError

	patterns := []struct {
		field string
		value string
	}{
		{"patterns.ready", c.Patterns.Ready},
		{"patterns.start", c.Patterns.Start},
		{"patterns.stop", c.Patterns.Stop},
		{"patterns.terminate", c.Patterns.Terminate},
	}

	for _, p := range patterns {
		if p.value == "" {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "cannot be empty",
			})
			continue
		}
		if _, err := regexp.Compile(p.value); err != nil {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	return errors
}

// validateSignals validates the SignalConfig
func (c *Config) validateSignals() []ValidationError {
	var errors []ValidationError

	signals := []struct {
		field string
		value string
	}{
		{"signals.toggle", c.Signals.Toggle},
		{"signals.terminate", c.Signals.Terminate},
	}

	for _, s := range signals {
		name := NormalizeSignalName(s.value)
		if unix.SignalNum(name) == 0 {
			errors = append(errors, ValidationError{
				Field:   s.field,
				Value:   s.value,
				Message: "unknown signal name",
			})
			continue
		}
		if name == "SIGKILL" || name == "SIGSTOP" {
			errors = append(errors, ValidationError{
				Field:   s.field,
				Value:   s.value,
				Message: "must be a signal the recorder can handle",
			})
		}
	}

	if c.Signals.Toggle != "" && NormalizeSignalName(c.Signals.Toggle) == NormalizeSignalName(c.Signals.Terminate) {
		errors = append(errors, ValidationError{
			Field:   "signals.terminate",
			Value:   c.Signals.Terminate,
			Message: "must differ from signals.toggle",
		})
	}

	return errors
}

// validateTimeouts validates the TimeoutConfig (0 means unbounded)
func (c *Config) validateTimeouts() []ValidationError {
	var errors []ValidationError

	timeouts := []struct {
		field string
		value int
	}{
		{"timeouts.ready_seconds", c.Timeouts.ReadySeconds},
		{"timeouts.start_seconds", c.Timeouts.StartSeconds},
		{"timeouts.stop_seconds", c.Timeouts.StopSeconds},
		{"timeouts.terminate_seconds", c.Timeouts.TerminateSeconds},
		{"timeouts.exit_grace_seconds", c.Timeouts.ExitGraceSeconds},
		{"timeouts.device_setup_seconds", c.Timeouts.DeviceSetupSeconds},
	}

	for _, to := range timeouts {
		if to.value < 0 {
			errors = append(errors, ValidationError{
				Field:   to.field,
				Value:   to.value,
				Message: "must be non-negative (0 waits without bound)",
			})
		}
	}

	return errors
}

// validateDiscovery validates the DiscoveryConfig
func (c *Config) validateDiscovery() []ValidationError {
	if c.Discovery.Pattern == "" {
		return []ValidationError{{
			Field:   "discovery.pattern",
			Value:   c.Discovery.Pattern,
			Message: "cannot be empty",
		}}
	}
	if _, err := glob.Compile(c.Discovery.Pattern, '/'); err != nil {
		return []ValidationError{{
			Field:   "discovery.pattern",
			Value:   c.Discovery.Pattern,
			Message: fmt.Sprintf("invalid glob: %v", err),
		}}
	}
	return nil
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.ListenAddress == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
		return []ValidationError{{
			Field:   "metrics.listen_address",
			Value:   c.Metrics.ListenAddress,
			Message: "must be host:port (e.g. :9464)",
		}}
	}
	return nil
}
