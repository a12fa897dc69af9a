// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the newrev command tree.
package cmd
