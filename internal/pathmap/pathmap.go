// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package pathmap translates paths stored in the Plex database into
// paths valid on the machine running this server. Plex records the
// path the media had on the machine running Plex; when this server
// runs elsewhere (or inside a container) those prefixes differ.
package pathmap

import "strings"

// Mapping is a single from→to prefix replacement.
type Mapping struct {
	From string `koanf:"from" json:"from"`
	To   string `koanf:"to" json:"to"`
}

// Mapper applies an ordered list of exact-prefix replacements.
// No pattern syntax; the first matching prefix wins.
type Mapper struct {
	mappings []Mapping
}

// New creates a Mapper. Mappings with an empty From are dropped since
// they would match every path.
func New(mappings []Mapping) *Mapper {
	kept := make([]Mapping, 0, len(mappings))
	for _, m := range mappings {
		if m.From != "" {
			kept = append(kept, m)
		}
	}
	return &Mapper{mappings: kept}
}

// Map translates a database-stored path. If no mapping matches, the
// input is returned unchanged.
func (m *Mapper) Map(path string) string {
	for _, mapping := range m.mappings {
		if strings.HasPrefix(path, mapping.From) {
			return mapping.To + path[len(mapping.From):]
		}
	}
	return path
}
