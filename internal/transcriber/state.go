package transcriber

import "fmt"

// State represents the lifecycle state of a Session.
//
// State transitions:
//
//	UNCONFIGURED → CONFIGURED → RUNNING ⇄ STOPPED
//	                   │           │
//	                   │           └── Stop() / worker output ended
//	                   └── Start() spawns the worker
//
// Rules:
//   - Only New produces a CONFIGURED session; a failed build yields none.
//   - RUNNING owns exactly one worker; Start while RUNNING is rejected.
//   - STOPPED holds no process or pipe; Start spawns a fresh worker.
type State int

const (
	// StateUnconfigured - zero Session, never built.
	StateUnconfigured State = iota
	// StateConfigured - built and validated, no worker yet.
	StateConfigured
	// StateRunning - worker spawned and its output not yet ended.
	StateRunning
	// StateStopped - worker terminated and reaped, or its output ended.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateConfigured:
		return "CONFIGURED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// CanStart reports whether Start is valid from this state.
func (s State) CanStart() bool {
	return s == StateConfigured || s == StateStopped
}
