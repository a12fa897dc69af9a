// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"os"
	"sync"
)

const (
	SandboxNone    SandboxType = ""
	SandboxFlatpak SandboxType = "flatpak"
	SandboxSnap    SandboxType = "snap"
)

// SandboxType identifies the application sandbox the process runs in.
type SandboxType string

// detectOnce caches detection for the process lifetime. detectSandboxFrom
// must not panic: sync.OnceValue re-panics on every call.
//
//nolint:gochecknoglobals // sandbox membership cannot change while running
var detectOnce = sync.OnceValue(func() SandboxType {
	return detectSandboxFrom(os.Getenv, func(path string) error {
		_, err := os.Stat(path)
		return err
	})
})

// DetectSandbox reports the sandbox the current process runs in.
// Inside a sandbox the host's system interpreter locations are not the
// ones visible to the process, so interpreter discovery skips them.
func DetectSandbox() SandboxType {
	return detectOnce()
}

// IsInSandbox reports whether DetectSandbox found any sandbox.
func IsInSandbox() bool {
	return DetectSandbox() != SandboxNone
}

func detectSandboxFrom(getenv func(string) string, stat func(string) error) SandboxType {
	if stat("/.flatpak-info") == nil {
		return SandboxFlatpak
	}
	if getenv("SNAP_NAME") != "" {
		return SandboxSnap
	}
	return SandboxNone
}
