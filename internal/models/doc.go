// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package models defines the shared domain types: markers, base items
// (episodes/movies), sections, chapters, and the Plex metadata-type
// constants used across the query manager, cache, and API layers.
package models
