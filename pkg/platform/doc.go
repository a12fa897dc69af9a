// SPDX-License-Identifier: MPL-2.0

// Package platform isolates operating-system and architecture differences:
// OS name constants, interpreter executable layout inside virtual
// environments, the (OS, arch) lookup for portable interpreter builds, and
// application sandbox detection.
package platform
