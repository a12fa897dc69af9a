// SPDX-License-Identifier: MPL-2.0

// Package config loads newrev's configuration with Viper, using CUE as the
// file format.
//
// The file lives at config.cue in the platform configuration directory
// ($XDG_CONFIG_HOME/newrev on Linux, ~/Library/Application Support/newrev on
// macOS, %APPDATA%\newrev on Windows). It is validated against the embedded
// #Config schema (config_schema.cue) before it is merged over the defaults.
package config
