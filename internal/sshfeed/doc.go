// SPDX-License-Identifier: MPL-2.0

// Package sshfeed serves the lifecycle event feed over SSH so a developer
// can tail the backend from another terminal:
//
//	ssh -p 5022 newrev@127.0.0.1
//
// Sessions are read-only. Password authentication uses the control token;
// public keys are refused.
package sshfeed
