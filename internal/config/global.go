// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride lets tests pin the config directory. os.UserHomeDir() does
// not honor HOME on every platform.
var configDirOverride string

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride pins the directory returned by ConfigDir.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
