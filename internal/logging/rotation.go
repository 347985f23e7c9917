package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig bounds the size of a log file.
type RotationConfig struct {
	// MaxBytes is the size at which the file is rotated. Zero disables rotation.
	MaxBytes int64
	// MaxBackups is how many rotated files (camrig.log.1 ... .N) are kept.
	MaxBackups int
}

// DefaultRotationConfig keeps three 10 MB backups.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxBytes:   10 * 1024 * 1024,
		MaxBackups: 3,
	}
}

// RotationFromMB builds a RotationConfig from the megabyte figure used in
// configuration files.
func RotationFromMB(maxSizeMB, maxBackups int) RotationConfig {
	return RotationConfig{
		MaxBytes:   int64(maxSizeMB) * 1024 * 1024,
		MaxBackups: maxBackups,
	}
}

// RotatingWriter appends to a file and rotates it once it would exceed
// MaxBytes. A single write is never split across files. It is safe for
// concurrent use.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{path: path, cfg: cfg}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.cfg.MaxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.cfg.MaxBytes {
		if err := rw.rotate(); err != nil {
			// Keep logging to whatever file is open rather than dropping entries.
			fmt.Fprintf(os.Stderr, "camrig: log rotation failed: %v\n", err)
			if rw.file == nil {
				return 0, err
			}
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate shifts backups up by one and starts a new file. Caller holds mu.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	if rw.cfg.MaxBackups <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to truncate log file: %w", err)
		}
		return rw.open()
	}

	_ = os.Remove(rw.backup(rw.cfg.MaxBackups))
	for i := rw.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(rw.backup(i), rw.backup(i+1))
	}
	if err := os.Rename(rw.path, rw.backup(1)); err != nil {
		if openErr := rw.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	return rw.open()
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// Path returns the path of the active log file.
func (rw *RotatingWriter) Path() string {
	return rw.path
}

// Close syncs and closes the file. Closing twice is not an error.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
