// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package models

import (
	"fmt"
	"strings"
)

// MarkerType classifies a marker row in the Plex database.
// The raw value is what Plex stores in the taggings `text` column.
type MarkerType string

const (
	// MarkerTypeIntro is an intro (skippable opening) marker.
	MarkerTypeIntro MarkerType = "intro"

	// MarkerTypeCredits is an end-credits marker.
	MarkerTypeCredits MarkerType = "credits"

	// MarkerTypeCommercial is a commercial/advertisement marker.
	MarkerTypeCommercial MarkerType = "commercial"
)

// ParseMarkerType converts user input into a MarkerType.
// "ad" is accepted as an alias for commercial, matching what some
// Plex agents write.
func ParseMarkerType(s string) (MarkerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intro":
		return MarkerTypeIntro, nil
	case "credits":
		return MarkerTypeCredits, nil
	case "commercial", "ad":
		return MarkerTypeCommercial, nil
	default:
		return "", fmt.Errorf("unknown marker type %q", s)
	}
}

// Valid reports whether t is one of the three known marker types.
func (t MarkerType) Valid() bool {
	switch t {
	case MarkerTypeIntro, MarkerTypeCredits, MarkerTypeCommercial:
		return true
	}
	return false
}

// Marker is a single timestamp-range annotation on an episode or movie,
// in canonical form. IDs are Plex metadata/taggings row ids and remain
// valid only until the host rewrites its database.
//
// Invariants maintained by the query manager:
//   - Start >= 0 and Start < End
//   - Index values within one parent are {0..n-1} in start-time order
//   - no two markers of the same parent overlap
type Marker struct {
	ID        int64      `json:"id"`
	ParentID  int64      `json:"parentId"`
	SeasonID  int64      `json:"seasonId"` // -1 for movies
	ShowID    int64      `json:"showId"`   // -1 for movies
	SectionID int64      `json:"sectionId"`
	Start     int64      `json:"start"` // milliseconds
	End       int64      `json:"end"`   // milliseconds
	Type      MarkerType `json:"markerType"`
	Index     int        `json:"index"`

	// CreatedAt and ModifiedAt are epoch milliseconds. ModifiedAt is zero
	// for markers never touched by this application.
	CreatedAt  int64 `json:"createdAt"`
	ModifiedAt int64 `json:"modifiedAt,omitempty"`

	// CreatedByUser is true for markers inserted through this application
	// rather than by Plex's own analysis.
	CreatedByUser bool `json:"createdByUser"`

	// Final marks an end-of-item credits marker (credits that run to the
	// end of the media).
	Final bool `json:"isFinal"`
}

// Duration returns the marker length in milliseconds.
func (m *Marker) Duration() int64 {
	return m.End - m.Start
}

// Overlaps reports whether m and other intersect. Touching boundaries
// (equal start or equal end timestamps) count as overlap.
func (m *Marker) Overlaps(start, end int64) bool {
	if m.Start <= start {
		return m.End >= start
	}
	return end >= m.Start
}

// MarkerBefore orders two markers for reindexing: start ascending, then
// shorter range first, then id ascending.
func MarkerBefore(a, b *Marker) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if ad, bd := a.Duration(), b.Duration(); ad != bd {
		return ad < bd
	}
	return a.ID < b.ID
}
