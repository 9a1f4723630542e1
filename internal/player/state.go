// Package player implements the per-session playback state machine: source
// loading with asynchronous readiness, the play/pause/seek/stop lifecycle,
// position computation for on-demand and live media, and stall detection
// from buffering signals.
package player

// State represents the lifecycle state of a playback session.
type State int

const (
	// StateIdle is the initial state before any source has been loaded.
	StateIdle State = iota
	// StateLoading means a resource is being prepared and is not yet playable.
	StateLoading
	// StateReady means the current resource is playable but playback has not started.
	StateReady
	// StatePlaying means playback is in progress.
	StatePlaying
	// StatePaused means playback is suspended but the resource is retained.
	StatePaused
	// StateStopped means the resource has been detached; session attributes are retained.
	StateStopped
	// StateFailed means the current resource failed to load or play.
	StateFailed
	// StateReleased means all observers and resources have been discarded.
	// A released session stays addressable; a new load reactivates it.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// allowsStallTimer reports whether the stall monitor may run in this state.
func (s State) allowsStallTimer() bool {
	switch s {
	case StateReady, StatePlaying, StatePaused:
		return true
	default:
		return false
	}
}
