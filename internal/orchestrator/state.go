package orchestrator

// State is the position of the controller in the capture lifecycle.
type State int

const (
	// Unconfigured means no session has been committed.
	Unconfigured State = iota
	// Configured means a session exists but no recorders are running.
	Configured
	// LoadedIdle means every recorder confirmed it is ready and none is capturing.
	LoadedIdle
	// LoadedCapturing means every recorder confirmed it started capturing.
	LoadedCapturing
)

// String returns the name used in logs, errors, and metrics.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case LoadedIdle:
		return "loaded-idle"
	case LoadedCapturing:
		return "loaded-capturing"
	default:
		return "unknown"
	}
}

// Loaded reports whether recorders are running in this state.
func (s State) Loaded() bool {
	return s == LoadedIdle || s == LoadedCapturing
}

// States returns every state in lifecycle order.
func States() []State {
	return []State{Unconfigured, Configured, LoadedIdle, LoadedCapturing}
}

func stateNames() []string {
	all := States()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.String()
	}
	return names
}

// Outcome describes a completed operation.
type Outcome struct {
	Operation string
	From      State
	To        State
	// Files lists recordings moved to their final names by this operation.
	Files []string
	// Pending names devices whose recording is still in the temp dir.
	Pending []string
	// Warnings holds non-fatal problems: device setup failures, finalize
	// warnings, and partial termination.
	Warnings []error
}

// Changed reports whether the operation moved the controller to another state.
func (o Outcome) Changed() bool {
	return o.From != o.To
}
