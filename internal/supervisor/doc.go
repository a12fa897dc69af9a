// SPDX-License-Identifier: MPL-2.0

// Package supervisor runs the Python backend as a child process.
//
// A Supervisor owns at most one backend process at a time. Start resolves
// an interpreter (locating one, or provisioning one when none exists),
// checks that the backend port is free, spawns the entry script and waits
// for the readiness banner on stdout or stderr. Every output line becomes
// a lifecycle event. Exits are classified by exit code so callers can show
// a remediation rather than a bare status.
//
// State machine:
//
//	Idle -> Starting -> Running -> Stopping -> Idle
//	           |           |
//	           v           v
//	         Failed      Failed -> Idle (on the next Start or Stop)
//
// Nothing is retried automatically; every failure needs an explicit Start
// or Restart.
package supervisor
