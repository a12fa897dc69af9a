// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"path/filepath"
	"runtime"
)

// OS name constants for runtime.GOOS comparisons.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)

// ExeSuffix returns ".exe" on Windows and "" elsewhere.
func ExeSuffix(goos string) string {
	if goos == Windows {
		return ".exe"
	}
	return ""
}

// VenvPython returns the interpreter path inside a virtual environment
// rooted at venvDir for the running OS.
func VenvPython(venvDir string) string {
	return venvPythonFor(runtime.GOOS, venvDir)
}

// VenvBinDir returns the directory holding the venv's executables.
func VenvBinDir(venvDir string) string {
	return venvBinDirFor(runtime.GOOS, venvDir)
}

func venvBinDirFor(goos, venvDir string) string {
	if goos == Windows {
		return filepath.Join(venvDir, "Scripts")
	}
	return filepath.Join(venvDir, "bin")
}

func venvPythonFor(goos, venvDir string) string {
	name := "python"
	if goos != Windows {
		name = "python3"
	}
	return filepath.Join(venvBinDirFor(goos, venvDir), name+ExeSuffix(goos))
}
