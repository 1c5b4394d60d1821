package lifecycle

import "sync/atomic"

// Phase is the process lifecycle stage reported by the health endpoint.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. Shutting down is terminal: once set,
// later calls are ignored until Reset.
func SetPhase(p Phase) {
	for {
		cur := phase.Load()
		if Phase(cur) == PhaseShuttingDown {
			return
		}
		if phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// CurrentPhase returns the current phase.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown moves to PhaseShuttingDown. Call when SIGTERM/SIGINT is received;
// the scheduler stops starting cycles and health reports shutting-down.
func SetShuttingDown() {
	phase.Store(int32(PhaseShuttingDown))
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseShuttingDown
}

// Reset returns to PhaseStarting. Tests only.
func Reset() {
	phase.Store(int32(PhaseStarting))
}
