// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"encoding/json"
	"testing"
)

func TestState_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		name  string
	}{
		{StateIdle, "idle"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(Status{State: tt.state})
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			if want := `{"state":"` + tt.name + `"}`; string(data) != want {
				t.Errorf("Marshal() = %s, want %s", data, want)
			}

			var got Status
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal(%s) error: %v", data, err)
			}
			if got.State != tt.state {
				t.Errorf("State = %v, want %v", got.State, tt.state)
			}
		})
	}
}

func TestState_UnmarshalUnknownName(t *testing.T) {
	t.Parallel()

	var st State
	for _, in := range []string{"unknown", "", "Running"} {
		if err := st.UnmarshalText([]byte(in)); err == nil {
			t.Errorf("UnmarshalText(%q) succeeded, want error", in)
		}
	}
}
