// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing error reporting: ActionableError wraps a
// failure with the operation, resource and remediation hints, and the issue
// catalog holds markdown remediation pages rendered with glamour.
package issue
