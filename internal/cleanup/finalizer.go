package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/logging"
	"github.com/Iron-Ham/camrig/internal/session"
)

// Move records one artifact relocated to its final name.
type Move struct {
	Device string
	From   string
	To     string
}

// Report is the result of one Finalize call.
type Report struct {
	// Moved lists the artifacts now at their final path, in device order.
	Moved []Move
	// Pending lists the devices whose artifact is still in the temp dir.
	Pending []session.Device
	// Warnings holds one FinalizeWarning per failed move or cleanup step.
	Warnings []error
	// TmpDirRemoved reports whether the temp dir is gone.
	TmpDirRemoved bool
}

// Files returns the final paths of every moved artifact.
func (r Report) Files() []string {
	files := make([]string, len(r.Moved))
	for i, m := range r.Moved {
		files[i] = m.To
	}
	return files
}

// Complete reports whether every artifact was moved and the temp dir removed.
func (r Report) Complete() bool {
	return len(r.Pending) == 0 && r.TmpDirRemoved
}

// Finalizer moves recordings from a session's temp dir to their final names.
type Finalizer struct {
	suffix string
	wait   time.Duration
	logger *logging.Logger
}

// NewFinalizer creates a finalizer for the given output settings. logger may
// be nil.
func NewFinalizer(cfg config.OutputConfig, logger *logging.Logger) *Finalizer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Finalizer{
		suffix: cfg.ArtifactSuffix,
		wait:   cfg.ArtifactWait(),
		logger: logger,
	}
}

// Recorded returns the devices of devices whose artifact is in the temp dir
// now. It does not wait for late files.
func (f *Finalizer) Recorded(sess *session.Session, devices []session.Device) []session.Device {
	if sess == nil {
		return nil
	}
	var out []session.Device
	for _, dev := range devices {
		if findArtifact(sess.TmpDir, sess.FileName(dev), f.suffix) != "" {
			out = append(out, dev)
		}
	}
	return out
}

// Finalize moves the artifact of each device in devices to
// sess.FinalPath(device). Encoders may print their stop line before the file
// appears, so missing artifacts are awaited for the configured artifact wait.
//
// Failures never abort the pass. An existing final file is never
// overwritten. The temp dir is removed only when every device of sess has
// been moved; otherwise it is kept for a later retry.
func (f *Finalizer) Finalize(ctx context.Context, sess *session.Session, devices []session.Device) Report {
	var report Report
	if sess == nil {
		return report
	}
	logger := f.logger.WithSession(sess.ID).WithOperation("finalize")

	ready := func() bool {
		for _, dev := range devices {
			if findArtifact(sess.TmpDir, sess.FileName(dev), f.suffix) == "" {
				return false
			}
		}
		return true
	}
	if !waitFor(ctx, sess.TmpDir, f.wait, ready, logger) {
		logger.Warn("not every artifact appeared in time", "wait", f.wait.String())
	}

	for _, dev := range devices {
		devLogger := logger.WithDevice(dev.Name())
		dst := sess.FinalPath(dev)

		src := findArtifact(sess.TmpDir, sess.FileName(dev), f.suffix)
		if src == "" {
			report.Pending = append(report.Pending, dev)
			report.Warnings = append(report.Warnings,
				errors.NewFinalizeWarning("recording not found", os.ErrNotExist).
					WithDevice(dev.Name()).
					WithPath(sess.OutputPath(dev)))
			devLogger.Warn("recording not found", "tmp_dir", sess.TmpDir)
			continue
		}

		if _, err := os.Lstat(dst); err == nil {
			report.Pending = append(report.Pending, dev)
			report.Warnings = append(report.Warnings,
				errors.NewFinalizeWarning("final file already exists", os.ErrExist).
					WithDevice(dev.Name()).
					WithPath(dst))
			devLogger.Warn("final file already exists, leaving recording in temp dir",
				"src", src,
				"dst", dst)
			continue
		}

		if err := os.Rename(src, dst); err != nil {
			report.Pending = append(report.Pending, dev)
			report.Warnings = append(report.Warnings,
				errors.NewFinalizeWarning("failed to move recording", err).
					WithDevice(dev.Name()).
					WithPath(src))
			devLogger.Error("failed to move recording",
				"src", src,
				"dst", dst,
				"error", err.Error())
			continue
		}

		report.Moved = append(report.Moved, Move{Device: dev.Name(), From: src, To: dst})
		devLogger.Info("recording finalized", "path", dst)
	}

	if len(report.Pending) > 0 {
		report.Warnings = append(report.Warnings,
			errors.NewFinalizeWarning(
				fmt.Sprintf("temp dir kept: %d recording(s) not moved", len(report.Pending)), nil).
				WithPath(sess.TmpDir))
		return report
	}

	if err := os.RemoveAll(sess.TmpDir); err != nil {
		report.Warnings = append(report.Warnings,
			errors.NewFinalizeWarning("failed to remove temp dir", err).WithPath(sess.TmpDir))
		logger.Error("failed to remove temp dir", "path", sess.TmpDir, "error", err.Error())
		return report
	}
	report.TmpDirRemoved = true
	logger.Info("finalize complete", "files", len(report.Moved))
	return report
}
