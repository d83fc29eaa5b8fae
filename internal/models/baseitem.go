// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package models

// Plex metadata_type values for the rows this application cares about.
const (
	MetadataTypeMovie   = 1
	MetadataTypeShow    = 2
	MetadataTypeSeason  = 3
	MetadataTypeEpisode = 4
)

// NoParent is the sentinel for SeasonID/ShowID on movie rows.
const NoParent int64 = -1

// BaseItem is the leaf media entity that owns markers: an episode or a
// movie. SeasonID and ShowID are NoParent for movies.
type BaseItem struct {
	MetadataID int64  `json:"metadataId"`
	SectionID  int64  `json:"sectionId"`
	SeasonID   int64  `json:"seasonId"`
	ShowID     int64  `json:"showId"`
	Duration   int64  `json:"duration"` // milliseconds
	GUID       string `json:"-"`
	Title      string `json:"title,omitempty"`
}

// IsMovie reports whether the item sits directly under its section.
func (b *BaseItem) IsMovie() bool {
	return b.ShowID == NoParent
}

// LibrarySection is a Plex library (a "section" in the host schema).
type LibrarySection struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Type is 1 for movie libraries and 2 for show libraries.
	Type int `json:"type"`
}

// SectionItem is a top-level library entry: a show in a TV section or
// a movie in a movie section.
type SectionItem struct {
	MetadataID int64  `json:"metadataId"`
	Title      string `json:"title"`
	Type       int    `json:"metadataType"`
}

// SeasonInfo describes one season of a show for listing endpoints.
type SeasonInfo struct {
	MetadataID int64  `json:"metadataId"`
	Title      string `json:"title"`
	Index      int    `json:"index"`
	Episodes   int    `json:"episodeCount"`
}

// EpisodeInfo describes one episode of a season for listing endpoints.
type EpisodeInfo struct {
	MetadataID int64  `json:"metadataId"`
	Title      string `json:"title"`
	Index      int    `json:"index"`
	Duration   int64  `json:"duration"`
}
