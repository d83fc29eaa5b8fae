// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// dockerDataPath is the fixed mount point inside the container image.
const dockerDataPath = "/plexdata"

func isDocker() bool {
	return os.Getenv("IS_DOCKER") != ""
}

// DiscoverDataPath guesses the Plex data directory for the current
// platform. PLEX_HOME always wins; otherwise the platform-standard
// location under LOCALAPPDATA or HOME is used. The result is not
// checked for existence; validation does that.
func DiscoverDataPath() string {
	if isDocker() {
		return dockerDataPath
	}
	if plexHome := os.Getenv("PLEX_HOME"); plexHome != "" {
		return filepath.Join(plexHome, "Plex Media Server")
	}

	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "Plex Media Server")
		}
		return ""
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Application Support", "Plex Media Server")
		}
		return ""
	default:
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".local", "share", "plexmediaserver",
				"Library", "Application Support", "Plex Media Server")
		}
		return "/var/lib/plexmediaserver/Library/Application Support/Plex Media Server"
	}
}

// HostDatabasePath derives the library database location from a data
// directory.
func HostDatabasePath(dataPath string) string {
	if dataPath == "" {
		return ""
	}
	return filepath.Join(dataPath, "Plug-in Support", "Databases",
		"com.plexapp.plugins.library.db")
}
