// SPDX-License-Identifier: MPL-2.0

// Package lifecyclelog records supervision events and backend output.
//
// Every event is appended to a durable per-user file (rotated by size) and
// kept in a bounded in-memory feed that live subscribers tail. Clearing the
// feed never touches the file.
package lifecyclelog
