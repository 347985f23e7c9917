package orchestrator

import (
	"github.com/Iron-Ham/camrig/internal/instance/lifecycle"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/metrics"
)

// Option configures a Controller.
type Option func(*controllerConfig)

type controllerConfig struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	runner  lifecycle.CommandRunner
}

func defaultControllerConfig() controllerConfig {
	return controllerConfig{
		logger: logging.NopLogger(),
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *logging.Logger) Option {
	return func(c *controllerConfig) {
		if logger == nil {
			logger = logging.NopLogger()
		}
		c.logger = logger
	}
}

// WithMetrics records transitions, confirmations, and finalize results in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *controllerConfig) {
		c.metrics = m
	}
}

// WithCommandRunner replaces the runner used for device setup commands.
func WithCommandRunner(r lifecycle.CommandRunner) Option {
	return func(c *controllerConfig) {
		c.runner = r
	}
}
