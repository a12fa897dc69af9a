// SPDX-License-Identifier: MPL-2.0

// Package controlserver exposes a supervisor to the desktop UI over a
// localhost HTTP API. Mutating and streaming routes require the bearer
// token the server was created with; /health does not.
//
// Events and provisioning progress are streamed as server-sent events.
// Browsers cannot set headers on an EventSource, so the token is also
// accepted as the "token" query parameter.
package controlserver
