// SPDX-License-Identifier: MPL-2.0

package config

// Directory overrides for tests. os.UserHomeDir and os.UserCacheDir do not
// honor HOME on every platform.
var (
	configDirOverride string
	cacheDirOverride  string
)

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
	cacheDirOverride = ""
}

// SetConfigDirOverride makes ConfigDir return dir.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SetCacheDirOverride makes CacheDir return dir.
func SetCacheDirOverride(dir string) {
	cacheDirOverride = dir
}
