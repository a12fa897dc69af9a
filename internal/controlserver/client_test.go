// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/supervisor"
)

func TestClient_Status(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.mu.Lock()
	f.backend.state = supervisor.StateStopping
	f.backend.mu.Unlock()

	st, err := f.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.State != supervisor.StateStopping {
		t.Errorf("State = %v, want %v", st.State, supervisor.StateStopping)
	}
}

func TestClient_StreamJoinsMultilineData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "event: event\ndata: {\"level\":\"INFO\",\ndata: \"message\":\"two lines\"}\n\n")
	}))
	defer srv.Close()

	var got []lifecyclelog.Event
	client := NewClient(srv.URL, testToken, nil)
	err := client.StreamEvents(context.Background(), func(e lifecyclelog.Event) { got = append(got, e) })
	if err != nil {
		t.Fatalf("StreamEvents() error: %v", err)
	}
	if len(got) != 1 || got[0].Message != "two lines" || got[0].Level != lifecyclelog.LevelInfo {
		t.Errorf("events = %+v", got)
	}
}

func TestClient_StreamRejectedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	client := NewClient(f.srv.URL(), "wrong-token", nil)
	err := client.StreamEvents(context.Background(), func(lifecyclelog.Event) {})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("StreamEvents() error = %v, want 401 StatusError", err)
	}
}
