// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/pathmap"
	"github.com/tomtom215/markerforge/internal/plex"
)

var validate = validator.New()

// sqliteMagic is the first 16 bytes of every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// checkDataPath accepts an empty value (auto-discovery applies) or a
// directory that looks like a Plex data dir.
func checkDataPath(path string) (bool, string) {
	if path == "" {
		return true, ""
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", path)
	}
	for _, probe := range []string{
		filepath.Join(path, "Media", "localhost"),
		filepath.Join(path, "Plug-in Support", "Databases"),
	} {
		if _, err := os.Stat(probe); err == nil {
			return true, ""
		}
	}
	return false, fmt.Sprintf("%s does not look like a Plex data directory "+
		"(no Media/localhost or Plug-in Support/Databases)", path)
}

// checkDatabase accepts an empty value (derived from the data path)
// or a real SQLite file carrying the expected Plex tables.
func checkDatabase(path string) (bool, string) {
	if path == "" {
		return true, ""
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Sprintf("cannot open %s", path)
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := f.Read(header); err != nil || string(header) != string(sqliteMagic) {
		return false, fmt.Sprintf("%s is not a SQLite database", path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := database.Open(path, database.DefaultOptions())
	if err != nil {
		return false, fmt.Sprintf("cannot read %s", path)
	}
	defer db.Close()
	if err := plex.CheckExpectedTables(ctx, db); err != nil {
		return false, fmt.Sprintf("%s does not contain the expected Plex tables", path)
	}
	return true, ""
}

// checkBind verifies a throwaway socket can be bound on host:port.
// Catches unresolvable hosts and in-use ports before a restart would.
func checkBind(host string, port int) (bool, string) {
	if err := validate.Var(port, "gte=1,lte=65535"); err != nil {
		return false, fmt.Sprintf("port %d out of range", port)
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false, fmt.Sprintf("cannot bind %s:%d: %v", host, port, err)
	}
	listener.Close()
	return true, ""
}

// checkCertPair verifies cert and key parse and match.
func checkCertPair(certPath, keyPath string) (bool, string) {
	if certPath == "" || keyPath == "" {
		return false, "both certificate and key paths are required"
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return false, fmt.Sprintf("invalid certificate pair: %v", err)
	}
	return true, ""
}

func checkLogLevel(level string) (bool, string) {
	if err := validate.Var(level, "oneof=trace debug info warn error"); err != nil {
		return false, fmt.Sprintf("unknown log level %q", level)
	}
	return true, ""
}

func checkSessionTimeout(seconds int) (bool, string) {
	if err := validate.Var(seconds, "gte=300"); err != nil {
		return false, "session timeout must be at least 300 seconds"
	}
	return true, ""
}

func checkAutoSuspendTimeout(seconds int) (bool, string) {
	if err := validate.Var(seconds, "gte=10"); err != nil {
		return false, "auto-suspend timeout must be at least 10 seconds"
	}
	return true, ""
}

// checkPathMappings requires every mapping target to exist locally.
func checkPathMappings(mappings []pathmap.Mapping) (bool, string) {
	for _, mapping := range mappings {
		if mapping.From == "" || mapping.To == "" {
			return false, "path mappings require both from and to"
		}
		if _, err := os.Stat(mapping.To); err != nil {
			return false, fmt.Sprintf("mapping target %s does not exist", mapping.To)
		}
	}
	return true, ""
}
