package detect

import (
	"fmt"
	"regexp"

	"github.com/Iron-Ham/camrig/internal/config"
)

// Phase is a recorder state confirmed by one output line.
type Phase int

const (
	// PhaseReady means the recorder is up and idle.
	PhaseReady Phase = iota
	// PhaseStarted means capture started.
	PhaseStarted
	// PhaseStopped means capture stopped and the file is closed.
	PhaseStopped
	// PhaseTerminated means the recorder received the terminate signal.
	PhaseTerminated
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseStarted:
		return "started"
	case PhaseStopped:
		return "stopped"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Phases lists every phase in protocol order.
func Phases() []Phase {
	return []Phase{PhaseReady, PhaseStarted, PhaseStopped, PhaseTerminated}
}

// Patterns holds one compiled confirmation regex per phase.
type Patterns struct {
	byPhase map[Phase]*regexp.Regexp
}

// Compile builds Patterns from configuration.
func Compile(cfg config.PatternConfig) (*Patterns, error) {
	sources := map[Phase]string{
		PhaseReady:      cfg.Ready,
		PhaseStarted:    cfg.Start,
		PhaseStopped:    cfg.Stop,
		PhaseTerminated: cfg.Terminate,
	}

	p := &Patterns{byPhase: make(map[Phase]*regexp.Regexp, len(sources))}
	for _, phase := range Phases() {
		src := sources[phase]
		if src == "" {
			return nil, fmt.Errorf("%s pattern is empty", phase)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("%s pattern: %w", phase, err)
		}
		p.byPhase[phase] = re
	}
	return p, nil
}

// MustCompile is like Compile but panics on error. Intended for defaults and tests.
func MustCompile(cfg config.PatternConfig) *Patterns {
	p, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the patterns of the default configuration.
func Default() *Patterns {
	return MustCompile(config.Default().Patterns)
}

// For returns the regex confirming phase, or nil for an unknown phase.
func (p *Patterns) For(phase Phase) *regexp.Regexp {
	return p.byPhase[phase]
}

// Classify reports which phase line confirms, if any. Used to annotate
// recorder output in debug logs.
func (p *Patterns) Classify(line string) (Phase, bool) {
	for _, phase := range Phases() {
		if p.byPhase[phase].MatchString(line) {
			return phase, true
		}
	}
	return 0, false
}
