// SPDX-License-Identifier: MPL-2.0

// Package metrics records backend lifecycle measurements. The supervisor
// and provisioner report through Collector; the control server exposes the
// Prometheus implementation on /metrics.
package metrics

import "time"

// Outcome labels for start and provision observations.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector receives lifecycle measurements. Labels are plain strings so
// this package stays free of supervisor types.
type Collector interface {
	// StateTransition records a supervisor state change.
	StateTransition(from, to string)
	// StartFinished records how long Start took. kind is empty on success,
	// otherwise the error kind.
	StartFinished(d time.Duration, kind string)
	// StopFinished records how long a two-phase stop took and whether the
	// child had to be killed.
	StopFinished(d time.Duration, killed bool)
	// UnexpectedExit records a child that died while running.
	UnexpectedExit(classification string)
	// ProvisionFinished records a provisioning run.
	ProvisionFinished(d time.Duration, outcome string)
}

type noop struct{}

// Noop returns a Collector that discards everything.
func Noop() Collector { return noop{} }

func (noop) StateTransition(string, string)          {}
func (noop) StartFinished(time.Duration, string)     {}
func (noop) StopFinished(time.Duration, bool)        {}
func (noop) UnexpectedExit(string)                   {}
func (noop) ProvisionFinished(time.Duration, string) {}
