// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestCatalog_EveryIdResolves(t *testing.T) {
	t.Parallel()

	for id := RuntimeNotFoundId; id <= ControlServerStartFailedId; id++ {
		got := Get(id)
		if got == nil {
			t.Errorf("Get(%d) returned nil", id)
			continue
		}
		if got.Id() != id {
			t.Errorf("Get(%d).Id() = %d", id, got.Id())
		}
		if strings.TrimSpace(string(got.MarkdownMsg())) == "" {
			t.Errorf("issue %d has an empty message", id)
		}
	}
	if Get(0) != nil {
		t.Error("Get(0) should return nil")
	}
}

func TestValues_Ordered(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(ControlServerStartFailedId) {
		t.Fatalf("Values() returned %d issues, want %d", len(values), ControlServerStartFailedId)
	}
	for i := 1; i < len(values); i++ {
		if values[i-1].Id() >= values[i].Id() {
			t.Fatalf("Values() not ordered at %d", i)
		}
	}
}

func TestIssue_ExtLinksIsACopy(t *testing.T) {
	t.Parallel()

	links := Get(RuntimeNotFoundId).ExtLinks()
	if len(links) == 0 {
		t.Fatal("expected external links")
	}
	links[0] = "mutated"
	if Get(RuntimeNotFoundId).ExtLinks()[0] == "mutated" {
		t.Error("ExtLinks exposed internal slice")
	}
}

func TestIssue_Render(t *testing.T) {
	t.Parallel()

	out, err := Get(PortInUseId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "port") {
		t.Errorf("rendered output missing body: %q", out)
	}
}
