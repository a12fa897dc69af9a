// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/newrev/newrev/pkg/platform"
)

// systemCandidates lists well-known interpreter install locations for the
// running OS, newest minor version first where a glob is involved.
func systemCandidates() []string {
	return systemCandidatesFor(runtime.GOOS, os.Getenv, globDescending)
}

func systemCandidatesFor(goos string, getenv func(string) string, glob func(string) []string) []string {
	switch goos {
	case platform.Windows:
		var out []string
		if local := getenv("LOCALAPPDATA"); local != "" {
			out = append(out, glob(filepath.Join(local, "Programs", "Python", "Python3*", "python.exe"))...)
		}
		for _, root := range []string{getenv("ProgramFiles"), `C:\`} {
			if root != "" {
				out = append(out, glob(filepath.Join(root, "Python3*", "python.exe"))...)
			}
		}
		return out
	case platform.Darwin:
		out := []string{
			"/opt/homebrew/bin/python3",
			"/usr/local/bin/python3",
		}
		out = append(out, glob("/Library/Frameworks/Python.framework/Versions/3.*/bin/python3")...)
		return append(out, "/usr/bin/python3")
	default:
		out := []string{"/usr/local/bin/python3"}
		out = append(out, glob("/usr/local/bin/python3.[0-9]*")...)
		out = append(out, "/usr/bin/python3")
		return append(out, glob("/usr/bin/python3.[0-9]*")...)
	}
}

// pathNames are the executable names resolved through PATH.
func pathNames() []string {
	if runtime.GOOS == platform.Windows {
		return []string{"python", "python3", "py"}
	}
	return []string{"python3", "python"}
}

func globDescending(pattern string) []string {
	all, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	matches := slices.DeleteFunc(all, func(m string) bool {
		return strings.HasSuffix(m, "-config")
	})
	// Lexical order puts 3.9 after 3.12; sort on the version instead.
	slices.SortFunc(matches, func(a, b string) int {
		va, _ := ParseVersion(a)
		vb, _ := ParseVersion(b)
		switch {
		case va == vb:
			return 0
		case AtLeast(va, vb):
			return -1
		default:
			return 1
		}
	})
	return matches
}
