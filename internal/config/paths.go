// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "storeauth"

// Dir returns the XDG config directory for storeauth.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultPath is the config file read when no --config is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// resolvePath returns the file Load should read, or "" for none. An explicit
// path is returned as is; otherwise DefaultPath is used only if it exists.
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if info, err := os.Stat(DefaultPath()); err == nil && !info.IsDir() {
		return DefaultPath()
	}
	return ""
}
