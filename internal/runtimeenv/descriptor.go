// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"errors"
	"fmt"
	"strings"
)

const (
	SourceConfigured  Source = "configured"
	SourceProvisioned Source = "provisioned"
	SourceSystem      Source = "system"
	SourcePath        Source = "path"
)

// ErrNotFound is wrapped by NotFoundError.
var ErrNotFound = errors.New("no usable python interpreter found")

type (
	// Source records where a candidate interpreter came from.
	Source string

	// Descriptor describes a verified interpreter. Values are only produced
	// by Locator.Verify after both probes pass; callers treat them as
	// immutable.
	Descriptor struct {
		Path     string `json:"path"`
		Version  string `json:"version"`
		Verified bool   `json:"verified"`
		Source   Source `json:"source"`
	}

	// Rejection explains why one candidate was not used.
	Rejection struct {
		Path   string `json:"path"`
		Source Source `json:"source"`
		Reason string `json:"reason"`
	}

	// NotFoundError lists every rejected candidate.
	NotFoundError struct {
		Rejections []Rejection
	}
)

func (e *NotFoundError) Error() string {
	if len(e.Rejections) == 0 {
		return ErrNotFound.Error() + ": no candidates"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d candidates rejected)", ErrNotFound, len(e.Rejections))
	for _, r := range e.Rejections {
		fmt.Fprintf(&sb, "\n  %s [%s]: %s", r.Path, r.Source, r.Reason)
	}
	return sb.String()
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
