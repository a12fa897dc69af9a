// SPDX-License-Identifier: MPL-2.0

// Package health polls the backend's HTTP surface after the supervisor has
// seen the readiness banner. The banner only proves the web server printed
// its startup line; WaitReady proves it accepts requests.
package health
