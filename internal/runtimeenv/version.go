// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"
)

// DefaultMinVersion is the oldest interpreter the backend supports.
const DefaultMinVersion = "3.10"

//nolint:gochecknoglobals // compiled once
var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts "X.Y.Z" from `python --version` output such as
// "Python 3.12.4" or "Python 3.13.0rc1".
func ParseVersion(out string) (string, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized version output %q", LastLine(out))
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return m[1] + "." + m[2] + "." + patch, nil
}

// AtLeast reports whether version >= minimum. Both are dotted numeric
// versions; a minimum of "" always passes.
func AtLeast(version, minimum string) bool {
	if minimum == "" {
		return true
	}
	v, floor := canonical(version), canonical(minimum)
	if v == "" || floor == "" {
		return false
	}
	return semver.Compare(v, floor) >= 0
}

// ValidVersion reports whether v is a dotted numeric version.
func ValidVersion(v string) bool {
	return canonical(v) != ""
}

func canonical(v string) string {
	return semver.Canonical("v" + v)
}
