// SPDX-License-Identifier: MPL-2.0

package config

import (
	"path/filepath"
	"slices"
	"testing"
)

func testEnv(k string) string {
	return map[string]string{
		"HOME":  "/home/dev",
		"CACHE": "/var/cache",
		"NAME":  "two words",
	}[k]
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"~", "/home/dev"},
		{"~/newrev/log", "/home/dev/newrev/log"},
		{"$CACHE/newrev", "/var/cache/newrev"},
		{"${CACHE}/a/../b", "/var/cache/b"},
		{"/abs/$UNSET/x", "/abs/x"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in, testEnv)
		if err != nil {
			t.Errorf("ExpandPath(%q) error: %v", tt.in, err)
			continue
		}
		want := tt.want
		if want != "" {
			want = filepath.Clean(want)
		}
		if got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, want)
		}
	}

	if _, err := ExpandPath("~/x", func(string) string { return "" }); err == nil {
		t.Error("ExpandPath should fail without a home directory")
	}
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"--debug", []string{"--debug"}},
		{`--name "my app" --port=5001`, []string{"--name", "my app", "--port=5001"}},
		{`--user "$NAME"`, []string{"--user", "two words"}},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in, testEnv)
		if err != nil {
			t.Errorf("SplitArgs(%q) error: %v", tt.in, err)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("SplitArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := SplitArgs(`--x "unterminated`, testEnv); err == nil {
		t.Error("SplitArgs should reject unbalanced quotes")
	}
}

func TestFieldPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"#Config", "backend", "port"}, "backend.port"},
		{[]string{"backend", "ready_patterns", "0"}, "backend.ready_patterns[0]"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := fieldPath(tt.in); got != tt.want {
			t.Errorf("fieldPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfig_DerivedPaths(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Provision.InstallDir = "/opt/rt"
	cfg.Log.Path = "/var/log/newrev.log"
	cfg.Control.SSH.HostKeyPath = "/etc/newrev/key"

	if got, _ := cfg.InstallDir(); got != "/opt/rt" {
		t.Errorf("InstallDir() = %q", got)
	}
	if got, _ := cfg.LogPath(); got != "/var/log/newrev.log" {
		t.Errorf("LogPath() = %q", got)
	}
	if got, _ := cfg.HostKeyPath(); got != "/etc/newrev/key" {
		t.Errorf("HostKeyPath() = %q", got)
	}
	cfg.Backend.AppRoot = "relative/app"
	if got, err := cfg.AppRoot(); err != nil || !filepath.IsAbs(got) {
		t.Errorf("AppRoot() = %q, %v", got, err)
	}
}
