// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package plex

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/logging"
)

// Plex tag_type values in the tags table.
const (
	tagTypeChapter = 9
	tagTypeMarker  = 12
)

// Schema versions (max row of schema_migrations) this build knows how
// to write extra_data for. Markers appeared with the intro-detection
// schema; versions above the ceiling get markers without extra_data
// until the encoding is verified against that schema.
const (
	minMarkerSchemaVersion = 183
	maxKnownSchemaVersion  = 260
)

// extraDataVersion is the pv:version value Plex writes on marker rows.
const extraDataVersion = "5"

// schemaInfo is discovered once at manager construction.
type schemaInfo struct {
	markerTagID   int64
	chapterTagID  int64
	schemaVersion int
}

// discoverSchema reads the marker/chapter tag ids and the migration
// version from the host database. A missing marker tag is not fatal:
// it appears the first time anything creates a marker, and the manager
// creates it on demand for its own inserts.
func discoverSchema(ctx context.Context, db *database.DB) (schemaInfo, error) {
	var info schemaInfo

	row, err := db.Get(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err != nil {
		return info, err
	}
	if err := row.Scan(&info.schemaVersion); err != nil {
		return info, apperr.Wrap(apperr.KindBackend, err, "host database has no schema_migrations table")
	}

	row, err = db.Get(ctx, `SELECT id FROM tags WHERE tag_type = ? LIMIT 1`, tagTypeMarker)
	if err != nil {
		return info, err
	}
	if err := row.Scan(&info.markerTagID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return info, apperr.Wrap(apperr.KindBackend, err, "marker tag lookup failed")
	}

	row, err = db.Get(ctx, `SELECT id FROM tags WHERE tag_type = ? LIMIT 1`, tagTypeChapter)
	if err != nil {
		return info, err
	}
	if err := row.Scan(&info.chapterTagID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return info, apperr.Wrap(apperr.KindBackend, err, "chapter tag lookup failed")
	}

	logging.Info().
		Int("schema_version", info.schemaVersion).
		Int64("marker_tag", info.markerTagID).
		Msg("Host schema discovered")
	return info, nil
}

// extraDataSupported reports whether this build knows the extra_data
// encoding for the discovered schema version.
func (s schemaInfo) extraDataSupported() bool {
	return s.schemaVersion >= minMarkerSchemaVersion && s.schemaVersion <= maxKnownSchemaVersion
}

// encodeExtraData builds the URL-encoded blob Plex's own consumers
// expect on marker rows (`pv%3Aversion=5`, plus `pv%3Afinal=1` on an
// end-of-item credits marker).
func encodeExtraData(final bool) string {
	v := url.Values{}
	v.Set("pv:version", extraDataVersion)
	if final {
		v.Set("pv:final", "1")
	}
	return v.Encode()
}

// decodeExtraData extracts the final flag from a marker row's
// extra_data blob. Unknown keys are ignored.
func decodeExtraData(blob string) (final bool) {
	v, err := url.ParseQuery(blob)
	if err != nil {
		return false
	}
	return v.Get("pv:final") == "1"
}

// parseCreatedAt handles the two shapes Plex has used for
// taggings.created_at: epoch seconds and `YYYY-MM-DD HH:MM:SS`.
// Returns epoch milliseconds, zero when unparseable.
func parseCreatedAt(raw string) int64 {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs * 1000
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return ts.UnixMilli()
	}
	return 0
}

// formatCreatedAt produces the datetime string written to created_at
// and (for user-created markers) thumb_url.
func formatCreatedAt(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// expectedTables is the probe set used to verify a file is a Plex
// library database before accepting it from config.
var expectedTables = []string{"library_sections", "metadata_items", "taggings", "tags", "media_items", "media_parts"}

// CheckExpectedTables returns an error naming the first expected table
// missing from db. Used by config validation.
func CheckExpectedTables(ctx context.Context, db *database.DB) error {
	for _, table := range expectedTables {
		row, err := db.Get(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err != nil {
			return err
		}
		var n int
		if err := row.Scan(&n); err != nil {
			return apperr.Wrap(apperr.KindBackend, err, "schema probe failed")
		}
		if n == 0 {
			return apperr.Newf(apperr.KindConfigInvalid, "database is missing expected table %q", table)
		}
	}
	return nil
}
