package session

import "strings"

// ResolveDevices applies per-position overrides to the default device list.
// An empty override keeps the default at that position; overrides past the
// end of defaults append devices (empty ones there are skipped).
func ResolveDevices(defaults, overrides []string) []string {
	n := max(len(defaults), len(overrides))
	devices := make([]string, 0, n)

	for i := 0; i < n; i++ {
		var override string
		if i < len(overrides) {
			override = strings.TrimSpace(overrides[i])
		}
		switch {
		case override != "":
			devices = append(devices, override)
		case i < len(defaults):
			devices = append(devices, defaults[i])
		}
	}

	return devices
}

// Duplicates returns every device identifier that appears more than once,
// in order of its second appearance.
func Duplicates(devices []string) []string {
	seen := make(map[string]int, len(devices))
	var dups []string
	for _, d := range devices {
		seen[d]++
		if seen[d] == 2 {
			dups = append(dups, d)
		}
	}
	return dups
}
