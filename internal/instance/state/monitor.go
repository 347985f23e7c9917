package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/instance/capture"
	"github.com/Iron-Ham/camrig/internal/instance/detect"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/util"
)

// maxTailLog bounds the recorder output quoted in timeout logs.
const maxTailLog = 200

// Target is one recorder taking part in a transition. *process.Handle
// satisfies it.
type Target interface {
	Name() string
	Watcher() *capture.Watcher
}

// ConfirmCallback is called once per device that confirmed a phase, with the
// time it took since the barrier started.
type ConfirmCallback func(device string, phase detect.Phase, elapsed time.Duration)

// Monitor waits for confirmation lines across a group of recorders.
//
// Monitor is safe for concurrent use, but the targets' watchers must not be
// awaited by anyone else during AwaitAll.
type Monitor struct {
	mu        sync.RWMutex
	patterns  *detect.Patterns
	logger    *logging.Logger
	onConfirm ConfirmCallback
}

// NewMonitor creates a monitor matching patterns. A nil patterns uses
// detect.Default.
func NewMonitor(patterns *detect.Patterns) *Monitor {
	if patterns == nil {
		patterns = detect.Default()
	}
	return &Monitor{
		patterns: patterns,
		logger:   logging.NopLogger(),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger *logging.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger == nil {
		logger = logging.NopLogger()
	}
	m.logger = logger
}

// OnConfirm sets a callback for per-device confirmations.
func (m *Monitor) OnConfirm(cb ConfirmCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConfirm = cb
}

// Patterns returns the confirmation patterns in use.
func (m *Monitor) Patterns() *detect.Patterns {
	return m.patterns
}

// AwaitAll blocks until every target prints the confirmation line of phase.
// timeout bounds the whole barrier; zero waits until ctx is done. op names
// the operation in errors and logs.
//
// The first failure cancels every other wait. The error is a
// *errors.SyncTimeoutError whose Pending lists targets that were still
// waiting and whose Exited lists targets whose stream closed first.
func (m *Monitor) AwaitAll(ctx context.Context, op string, phase detect.Phase, targets []Target, timeout time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	m.mu.RLock()
	logger := m.logger.WithOperation(op)
	onConfirm := m.onConfirm
	m.mu.RUnlock()

	re := m.patterns.For(phase)
	if re == nil {
		return fmt.Errorf("no pattern for phase %s", phase)
	}

	var (
		waitCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		mu        sync.Mutex
		confirmed = make(map[string]bool, len(targets))
		exited    = make(map[string]bool)
	)

	start := time.Now()
	p := pool.New().WithContext(waitCtx).WithCancelOnError().WithFirstError()
	for _, t := range targets {
		p.Go(func(ctx context.Context) error {
			line, err := t.Watcher().Await(ctx, re)
			if err != nil {
				if errors.Is(err, capture.ErrStreamClosed) {
					mu.Lock()
					exited[t.Name()] = true
					mu.Unlock()
					return fmt.Errorf("%s: %w", t.Name(), err)
				}
				return err
			}

			elapsed := time.Since(start)
			mu.Lock()
			confirmed[t.Name()] = true
			mu.Unlock()

			logger.Debug("device confirmed",
				"device", t.Name(),
				"phase", phase.String(),
				"line", line,
				"elapsed_ms", elapsed.Milliseconds())
			if onConfirm != nil {
				onConfirm(t.Name(), phase, elapsed)
			}
			return nil
		})
	}

	err := p.Wait()
	if err == nil {
		logger.Debug("all devices confirmed",
			"phase", phase.String(),
			"count", len(targets),
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil
	}

	var pending, gone []string
	for _, t := range targets {
		switch {
		case exited[t.Name()]:
			gone = append(gone, t.Name())
		case !confirmed[t.Name()]:
			pending = append(pending, t.Name())
		}
	}

	syncErr := errors.NewSyncTimeoutError(op, phase.String(), timeout).
		WithPending(pending).
		WithExited(gone).
		WithCause(err)

	args := []any{"phase", phase.String(), "pending", pending, "exited", gone}
	for _, t := range targets {
		if exited[t.Name()] || !confirmed[t.Name()] {
			args = append(args, "tail_"+t.Name(), util.TruncateString(util.LastLine(t.Watcher().Tail()), maxTailLog))
		}
	}
	logger.Warn("devices failed to confirm", args...)

	return syncErr
}
