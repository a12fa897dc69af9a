// SPDX-License-Identifier: MPL-2.0

// Package runtimeenv locates a Python interpreter able to run the backend.
//
// Candidates are tried in a fixed priority order (an explicitly configured
// interpreter, the provisioned isolated runtime, well-known system install
// locations, then PATH) and each must pass two probes: a version query and
// an import of every library the backend needs. The first candidate passing
// both wins; a candidate passing only the version query is rejected.
package runtimeenv
