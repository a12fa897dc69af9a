// SPDX-License-Identifier: MPL-2.0

package serverbase

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateStopped and StateFailed are terminal.
	StateStopped
	StateFailed
)

// State is the lifecycle state of a server.
type State int32

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the server can no longer change state.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
