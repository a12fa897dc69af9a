// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrUnsupportedPlatform is returned when no portable interpreter build is
// published for an (OS, arch) pair.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

type (
	// Target describes the portable interpreter build for one (OS, arch) pair.
	Target struct {
		OS   string
		Arch string
		// Triple is the build's target triple as used in archive names,
		// e.g. "x86_64-unknown-linux-gnu".
		Triple string
		// Interpreter is the interpreter path relative to the extracted
		// archive root.
		Interpreter string
	}

	targetKey struct{ os, arch string }
)

//nolint:gochecknoglobals // read-only lookup table
var targets = map[targetKey]Target{
	{Linux, "amd64"}:   {Triple: "x86_64-unknown-linux-gnu", Interpreter: "python/bin/python3"},
	{Linux, "arm64"}:   {Triple: "aarch64-unknown-linux-gnu", Interpreter: "python/bin/python3"},
	{Darwin, "amd64"}:  {Triple: "x86_64-apple-darwin", Interpreter: "python/bin/python3"},
	{Darwin, "arm64"}:  {Triple: "aarch64-apple-darwin", Interpreter: "python/bin/python3"},
	{Windows, "amd64"}: {Triple: "x86_64-pc-windows-msvc", Interpreter: "python/python.exe"},
	{Windows, "arm64"}: {Triple: "aarch64-pc-windows-msvc", Interpreter: "python/python.exe"},
}

// CurrentTarget returns the Target for the running binary.
func CurrentTarget() (Target, error) {
	return LookupTarget(runtime.GOOS, runtime.GOARCH)
}

// LookupTarget returns the Target for goos/goarch.
func LookupTarget(goos, goarch string) (Target, error) {
	t, ok := targets[targetKey{goos, goarch}]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	t.OS, t.Arch = goos, goarch
	return t, nil
}

// ArchiveName returns the install-only archive file name for a CPython
// version published under releaseTag.
func (t Target) ArchiveName(pythonVersion, releaseTag string) string {
	return fmt.Sprintf("cpython-%s+%s-%s-install_only.tar.gz", pythonVersion, releaseTag, t.Triple)
}

// InterpreterPath joins the interpreter location onto an extraction root.
func (t Target) InterpreterPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(t.Interpreter))
}
