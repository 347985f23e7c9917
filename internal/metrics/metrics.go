// Package metrics provides Prometheus metrics for capture transitions.
//
// Metrics are registered on the Registerer passed to New, so several
// controllers (and tests) can each own a registry. Every method is safe to
// call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/camrig/internal/errors"
)

const namespace = "camrig"

// Result labels of camrig_transitions_total.
const (
	ResultOK           = "ok"
	ResultInvalidState = "invalid_state"
	ResultSpawnError   = "spawn_error"
	ResultSyncTimeout  = "sync_timeout"
	ResultError        = "error"
)

// Metrics holds the collectors of one controller.
type Metrics struct {
	transitions         *prometheus.CounterVec
	transitionDuration  *prometheus.HistogramVec
	confirmLatency      *prometheus.HistogramVec
	syncFailures        *prometheus.CounterVec
	state               *prometheus.GaugeVec
	loadedRecorders     prometheus.Gauge
	finalizedFiles      prometheus.Counter
	finalizeWarnings    prometheus.Counter
	deviceSetupFailures prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Capture operations, by operation and result.",
		}, []string{"operation", "result"}),

		transitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Wall time of capture operations, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"operation"}),

		confirmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_latency_seconds",
			Help:      "Time from broadcast to a device's confirmation line, by phase.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"phase"}),

		syncFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Barriers that did not complete, by phase.",
		}, []string{"phase"}),

		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current capture state; the active state is 1.",
		}, []string{"state"}),

		loadedRecorders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_recorders",
			Help:      "Recorder processes currently loaded.",
		}),

		finalizedFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_files_total",
			Help:      "Recordings moved to their final name.",
		}),

		finalizeWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_warnings_total",
			Help:      "Non-fatal finalize failures.",
		}),

		deviceSetupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_setup_failures_total",
			Help:      "Device driver configuration commands that failed after their retry.",
		}),
	}
}

// Result classifies an operation error for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, errors.ErrInvalidState):
		return ResultInvalidState
	case errors.Is(err, errors.ErrSpawnFailed):
		return ResultSpawnError
	case errors.Is(err, errors.ErrSyncTimeout):
		return ResultSyncTimeout
	default:
		return ResultError
	}
}

// ObserveTransition records one finished operation.
func (m *Metrics) ObserveTransition(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, Result(err)).Inc()
	m.transitionDuration.WithLabelValues(op).Observe(d.Seconds())

	var syncErr *errors.SyncTimeoutError
	if errors.As(err, &syncErr) {
		m.syncFailures.WithLabelValues(syncErr.Phase).Inc()
	}
}

// ObserveConfirm records one device's confirmation latency.
func (m *Metrics) ObserveConfirm(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmLatency.WithLabelValues(phase).Observe(d.Seconds())
}

// SetState marks current as the active state among all.
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// SetLoadedRecorders sets the number of loaded recorder processes.
func (m *Metrics) SetLoadedRecorders(n int) {
	if m == nil {
		return
	}
	m.loadedRecorders.Set(float64(n))
}

// AddFinalized counts moved recordings and finalize warnings.
func (m *Metrics) AddFinalized(files, warnings int) {
	if m == nil {
		return
	}
	m.finalizedFiles.Add(float64(files))
	m.finalizeWarnings.Add(float64(warnings))
}

// AddDeviceSetupFailures counts failed device configuration commands.
func (m *Metrics) AddDeviceSetupFailures(n int) {
	if m == nil {
		return
	}
	m.deviceSetupFailures.Add(float64(n))
}
