// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

const (
	HandleStarting HandleState = "starting"
	HandleRunning  HandleState = "running"
	HandleFailed   HandleState = "failed"
	HandleStopped  HandleState = "stopped"
)

type (
	// State is the supervisor lifecycle state.
	State int32

	// HandleState is the state of one backend process generation.
	HandleState string

	// Handle describes the backend process the supervisor currently owns.
	// Callers receive copies; only the supervisor mutates it.
	Handle struct {
		ID          uuid.UUID   `json:"id"`
		PID         int         `json:"pid"`
		StartedAt   time.Time   `json:"startedAt"`
		ProjectPath string      `json:"projectPath"`
		State       HandleState `json:"state"`
	}
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown backend state %q", text)
}
