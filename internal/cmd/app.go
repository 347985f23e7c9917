package cmd

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/metrics"
	"github.com/Iron-Ham/camrig/internal/orchestrator"
)

// app bundles the controller of a recording command with its logger and
// metrics registry.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	ctrl     *orchestrator.Controller
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return newAppWithConfig(cfg)
}

func newAppWithConfig(cfg *config.Config) (*app, error) {
	logger, err := logging.NewRotatingLogger(cfg.Logging.Dir, cfg.Logging.Level,
		logging.RotationFromMB(cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctrl, err := orchestrator.New(cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: reg, ctrl: ctrl}, nil
}

func (a *app) Close() {
	_ = a.logger.Close()
}

// printOutcome reports what an operation did, warnings last.
func printOutcome(w io.Writer, out orchestrator.Outcome) {
	if out.Changed() {
		fmt.Fprintf(w, "%s: %s -> %s\n", out.Operation, out.From, out.To)
	}
	for _, f := range out.Files {
		fmt.Fprintf(w, "  saved %s\n", f)
	}
	for _, d := range out.Pending {
		fmt.Fprintf(w, "  %s: recording left in temp dir (run save to retry)\n", d)
	}
	for _, problem := range out.Warnings {
		fmt.Fprintf(w, "  %s: %v\n", problemLabel(problem), problem)
	}
}

// problemLabel tells a finalize or device setup warning apart from a failed
// step that the operation carried on past, such as a stop before kill.
func problemLabel(err error) string {
	if errors.IsWarning(err) {
		return "warning"
	}
	return errors.GetSeverity(err).String()
}
