package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultDiscoveryPattern matches V4L2 device nodes.
const DefaultDiscoveryPattern = "/dev/video*"

// Discover lists the device nodes matching pattern, ordered by their numeric
// suffix (video2 before video10). Only the directory holding the first
// wildcard is scanned; the registry itself is never changed.
func Discover(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultDiscoveryPattern
	}

	g, err := glob.Compile(pattern, filepath.Separator)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery pattern %q: %w", pattern, err)
	}

	dir := scanDir(pattern)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if g.Match(path) {
			devices = append(devices, path)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		ni, oki := numericSuffix(devices[i])
		nj, okj := numericSuffix(devices[j])
		if oki && okj && ni != nj {
			return ni < nj
		}
		return devices[i] < devices[j]
	})

	return devices, nil
}

// scanDir returns the directory part of pattern that precedes any glob
// metacharacter.
func scanDir(pattern string) string {
	static := pattern
	if i := strings.IndexAny(pattern, "*?[{\\"); i >= 0 {
		static = pattern[:i]
	}
	if strings.HasSuffix(static, string(filepath.Separator)) {
		return filepath.Clean(static)
	}
	return filepath.Dir(static)
}

func numericSuffix(path string) (int, bool) {
	end := len(path)
	start := end
	for start > 0 && path[start-1] >= '0' && path[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(path[start:end])
	return n, err == nil
}
