package process

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/camrig/internal/config"
)

// ParseSignal resolves a signal name such as "SIGUSR1" or "usr1".
func ParseSignal(name string) (unix.Signal, error) {
	sig := unix.SignalNum(config.NormalizeSignalName(name))
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
