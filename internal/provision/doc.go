// SPDX-License-Identifier: MPL-2.0

// Package provision installs an isolated Python runtime when no usable
// interpreter exists on the machine.
//
// A portable CPython build for the running OS and architecture is
// downloaded, optionally checksum-verified, and extracted into the runtime
// cache. A virtual environment is created on top of it and the backend's
// dependencies are installed. The result is verified with the same probes
// the locator uses. Any failure removes the install directory, so a retry
// always starts clean.
package provision
