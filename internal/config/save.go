// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package config

import (
	"bytes"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"

	"github.com/tomtom215/markerforge/internal/apperr"
)

// save atomically rewrites the config file. Unknown top-level keys in
// the existing file are preserved; known keys are replaced wholesale.
func save(path string, f File) error {
	merged := map[string]json.RawMessage{}
	if existing, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(existing, &merged); err != nil {
			// A corrupt file is replaced rather than preserved.
			merged = map[string]json.RawMessage{}
		}
	}

	known, err := json.Marshal(f)
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "config marshal failed")
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "config marshal failed")
	}
	for key, value := range knownMap {
		merged[key] = value
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(merged); err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "config encode failed")
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "config write failed")
	}
	return nil
}
