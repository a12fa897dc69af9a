// SPDX-License-Identifier: MPL-2.0

// Package app is the composition root shared by the CLI and the control
// server. It turns a loaded configuration into a wired Service: locator,
// provisioner, port guard, lifecycle log, metrics and supervisor.
package app
