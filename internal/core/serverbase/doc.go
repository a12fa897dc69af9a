// SPDX-License-Identifier: MPL-2.0

// Package serverbase runs the listen/serve/shutdown lifecycle shared by the
// control server and the SSH event feed.
//
// A Base moves through Created → Starting → Running → Stopping → Stopped,
// or into Failed when listening or serving fails. Instances are single-use.
package serverbase
