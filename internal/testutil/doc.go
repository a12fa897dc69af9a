// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by package tests: a controllable
// clock for timer-driven code, environment and filesystem helpers that fail
// the test on error, and polling assertions for asynchronous state.
package testutil
