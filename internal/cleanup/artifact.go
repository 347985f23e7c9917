package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/camrig/internal/logging"
)

// findArtifact locates the file an encoder produced for fileName inside dir.
// Encoders such as guvcview append a counter before the extension and bump
// it when the file already exists, so the newest recording carries the
// highest "-N". The lookup tries, in order: the highest counter present, the
// configured suffix, and the requested name itself. It returns "" if none
// exists.
func findArtifact(dir, fileName, suffix string) string {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)

	if p := highestCounter(dir, stem, ext); p != "" {
		return p
	}
	if suffix != "" {
		if p := filepath.Join(dir, stem+suffix+ext); isFile(p) {
			return p
		}
	}
	if p := filepath.Join(dir, fileName); isFile(p) {
		return p
	}
	return ""
}

// highestCounter returns the path of stem-N.ext in dir with the largest N.
func highestCounter(dir, stem, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var best string
	bestN := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), stem+"-")
		if !ok {
			continue
		}
		num, ok := strings.CutSuffix(rest, ext)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil || n <= bestN {
			continue
		}
		best, bestN = e.Name(), n
	}
	if best == "" {
		return ""
	}
	return filepath.Join(dir, best)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// waitFor blocks until ready returns true, timeout elapses, or ctx is done,
// re-checking whenever something changes in dir. It returns the final
// result of ready.
func waitFor(ctx context.Context, dir string, timeout time.Duration, ready func() bool, logger *logging.Logger) bool {
	if ready() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, not waiting for artifacts", "error", err.Error())
		return ready()
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(dir); err != nil {
		logger.Debug("cannot watch temp dir", "dir", dir, "error", err.Error())
		return ready()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// A file created between the first check and Add raised no event.
	if ready() {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return ready()
		case <-timer.C:
			return ready()
		case event, ok := <-watcher.Events:
			if !ok {
				return ready()
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && ready() {
				return true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return ready()
			}
			logger.Warn("fsnotify watcher error", "error", err.Error())
		}
	}
}
