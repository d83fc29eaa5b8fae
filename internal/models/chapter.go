// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package models

// Chapter is a read-only chapter entry supplied by the host database.
// Chapters are referenced by timestamp expressions (Ch1, Ch(name), ...)
// but are never mutated by this application.
type Chapter struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Start int64  `json:"start"` // milliseconds
	End   int64  `json:"end"`   // milliseconds
}
