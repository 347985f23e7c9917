package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/logging"
)

// LockFileName is the name of the lock file placed in a session's base path
// while recorders are loaded. It keeps two camrig processes from sharing a
// temp dir.
const LockFileName = ".camrig.lock"

// ErrBasePathLocked is returned when another live process holds the lock.
var ErrBasePathLocked = errors.New("base path is in use by another capture session")

// Lock is a held base path lock.
type Lock struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes the lock in basePath for sessionID. A lock left by a
// process that no longer exists is replaced. logger may be nil.
func AcquireLock(basePath, sessionID string, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	lockPath := filepath.Join(basePath, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: session %s, PID %d on %s",
				ErrBasePathLocked, existing.SessionID, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock removed", "path", lockPath, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      lockPath,
		logger:    logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL loses the race cleanly if another process created it first.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrBasePathLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Debug("base path lock acquired", "path", lockPath)
	return lock, nil
}

// Release removes the lock file if this lock still owns it. Safe to call
// more than once and on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}

	existing, err := ReadLock(l.path)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID || existing.SessionID != l.SessionID {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.logger.Debug("base path lock released", "path", l.path)
	return nil
}

// ReadLock reads a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.path = lockPath
	lock.logger = logging.NopLogger()

	return &lock, nil
}

// isProcessAlive reports whether pid exists. EPERM means it exists but
// belongs to another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
