package driver

// State is the lifecycle position reached by a part within one invocation.
type State int

const (
	StateIdle State = iota
	StatePulled
	StateBuilt
	StateInstalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulled:
		return "pulled"
	case StateBuilt:
		return "built"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further phase may run in this invocation.
func (s State) Terminal() bool {
	return s == StateInstalled || s == StateFailed
}

// CanAdvance reports whether moving from s to next respects the phase
// order. Pull may be skipped, install may run standalone from idle, and a
// build that chains install reports only the installed state.
func (s State) CanAdvance(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateIdle:
		return next == StatePulled || next == StateBuilt || next == StateInstalled
	case StatePulled:
		return next == StateBuilt || next == StateInstalled
	case StateBuilt:
		return next == StateInstalled
	}
	return false
}

// Tracker follows a single invocation through its phases.
type Tracker struct {
	state State
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Observe records the state reached by a phase. Skipped phases leave the
// state unchanged.
func (t *Tracker) Observe(res *PhaseResult) error {
	if res == nil || res.Skipped {
		return nil
	}
	if !t.state.CanAdvance(res.State) {
		return &OrderError{From: t.state, To: res.State, Phase: res.Phase}
	}
	t.state = res.State
	return nil
}

// OrderError reports a phase that ran out of lifecycle order.
type OrderError struct {
	From  State
	To    State
	Phase string
}

func (e *OrderError) Error() string {
	return "phase " + e.Phase + " cannot move a part from " + e.From.String() + " to " + e.To.String()
}
