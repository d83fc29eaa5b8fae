// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package backup records every marker mutation into its own SQLite
// file and reconciles that log against the host database: markers the
// host silently removed during a re-scan surface as "purged" and can
// be restored or ignored. Rows are matched by content signature, not
// host id, because host re-scans renumber rows.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/models"
)

// schemaVersion is the backup database's own version, stored in
// schema_info. Migrations are forward-only.
const schemaVersion = 1

// Action row states for the two-database commit protocol: rows are
// inserted pending before the host transaction and promoted to
// committed after it, so a crash between the two leaves evidence
// instead of a silent divergence.
const (
	statePending   = "pending"
	stateCommitted = "committed"
)

// pendingGracePeriod is how old a pending row must be before the
// startup sweep reconciles it.
const pendingGracePeriod = time.Minute

var migrations = []string{
	// v1
	`CREATE TABLE IF NOT EXISTS schema_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		marker_id INTEGER NOT NULL DEFAULT 0,
		section_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		show_id INTEGER NOT NULL DEFAULT -1,
		season_id INTEGER NOT NULL DEFAULT -1,
		parent_guid TEXT NOT NULL DEFAULT '',
		parent_signature TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		marker_type TEXT NOT NULL,
		is_final INTEGER NOT NULL DEFAULT 0,
		created_by_user INTEGER NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL,
		restored_from INTEGER NOT NULL DEFAULT 0,
		ignored INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_actions_section ON actions (section_id, state);
	CREATE INDEX IF NOT EXISTS idx_actions_marker ON actions (marker_id);
	CREATE INDEX IF NOT EXISTS idx_actions_signature ON actions (parent_signature);`,
}

// Signature derives the stable fingerprint of a marker's parent item
// from its guid, which survives host id churn across re-scans.
func Signature(parentGUID string) string {
	sum := sha256.Sum256([]byte(parentGUID))
	return hex.EncodeToString(sum[:])
}

// openStore opens (creating if needed) the backup database and applies
// pending migrations.
func openStore(path string) (*database.DB, error) {
	db, err := database.Open(path, database.Options{BusyTimeout: 10 * time.Second, WAL: true})
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *database.DB) error {
	ctx := context.Background()
	current := 0
	if row, err := db.Get(ctx, `SELECT value FROM schema_info WHERE key = 'version'`); err == nil {
		var raw string
		if scanErr := row.Scan(&raw); scanErr == nil {
			current = parseVersion(raw)
		}
	}

	if current > schemaVersion {
		return apperr.Newf(apperr.KindConfigInvalid,
			"backup database version %d is newer than this build supports (%d)", current, schemaVersion)
	}
	for v := current; v < schemaVersion; v++ {
		if _, err := db.Run(ctx, migrations[v]); err != nil {
			return apperr.Wrap(apperr.KindBackend, err, "backup schema migration failed")
		}
	}
	if current < schemaVersion {
		if _, err := db.Run(ctx,
			`INSERT INTO schema_info (key, value) VALUES ('version', ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, schemaVersion); err != nil {
			return apperr.Wrap(apperr.KindBackend, err, "backup schema version write failed")
		}
		logging.Info().Int("from", current).Int("to", schemaVersion).Msg("Backup database migrated")
	}
	return nil
}

func parseVersion(raw string) int {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

const actionColumns = `
	id, kind, state, marker_id, section_id, parent_id, show_id, season_id,
	parent_guid, parent_signature, start_ms, end_ms, marker_type,
	is_final, created_by_user, recorded_at, restored_from, ignored`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(s rowScanner) (*models.BackupAction, error) {
	var (
		a     models.BackupAction
		state string
		kind  int
	)
	err := s.Scan(&a.ID, &kind, &state, &a.MarkerID, &a.SectionID, &a.ParentID,
		&a.ShowID, &a.SeasonID, &a.ParentGUID, &a.ParentSignature,
		&a.Start, &a.End, &a.Type, &a.Final, &a.CreatedByUser,
		&a.RecordedAt, &a.RestoredFrom, &a.Ignored)
	if err != nil {
		return nil, err
	}
	a.Kind = models.ActionKind(kind)
	a.KindName = a.Kind.String()
	return &a, nil
}

// Begin inserts a pending action row before the host mutation runs.
// Part of the plex.ActionRecorder contract.
func (m *Manager) Begin(ctx context.Context, action *models.BackupAction) (int64, error) {
	if action.ParentSignature == "" {
		action.ParentSignature = Signature(action.ParentGUID)
	}
	res, err := m.db.Run(ctx, `
		INSERT INTO actions (kind, state, marker_id, section_id, parent_id, show_id, season_id,
			parent_guid, parent_signature, start_ms, end_ms, marker_type,
			is_final, created_by_user, recorded_at, restored_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(action.Kind), statePending, action.MarkerID, action.SectionID, action.ParentID,
		action.ShowID, action.SeasonID, action.ParentGUID, action.ParentSignature,
		action.Start, action.End, string(action.Type),
		action.Final, action.CreatedByUser, action.RecordedAt, action.RestoredFrom)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindBackend, err, "backup action insert failed")
	}
	action.ID = res.LastInsertID
	return res.LastInsertID, nil
}

// Commit promotes a pending action after the host transaction
// committed, stamping the host marker id the mutation produced.
func (m *Manager) Commit(ctx context.Context, actionID, markerID int64) error {
	_, err := m.db.Run(ctx, `UPDATE actions SET state = ?, marker_id = ? WHERE id = ?`,
		stateCommitted, markerID, actionID)
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "backup action commit failed")
	}
	return nil
}

// Abort removes a pending action after the host transaction rolled
// back.
func (m *Manager) Abort(ctx context.Context, actionID int64) error {
	_, err := m.db.Run(ctx, `DELETE FROM actions WHERE id = ? AND state = ?`, actionID, statePending)
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "backup action abort failed")
	}
	return nil
}

// sweepPending reconciles pending rows left behind by a crash between
// the backup insert and the host commit: a row whose marker is present
// in the host is promoted, anything else is dropped.
func (m *Manager) sweepPending(ctx context.Context) error {
	cutoff := time.Now().Add(-pendingGracePeriod).UnixMilli()
	rows, err := m.db.All(ctx, `SELECT`+actionColumns+` FROM actions WHERE state = ? AND recorded_at < ?`,
		statePending, cutoff)
	if err != nil {
		return err
	}
	var stale []*models.BackupAction
	err = func() error {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			a, err := scanAction(rows)
			if err != nil {
				return err
			}
			stale = append(stale, a)
		}
		return rows.Err()
	}()
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, err, "pending sweep scan failed")
	}

	promoted, dropped := 0, 0
	for _, a := range stale {
		id, found, err := m.findHostMarker(ctx, a)
		if err != nil {
			logging.Warn().Err(err).Int64("action", a.ID).Msg("Pending sweep could not probe host")
			continue
		}
		switch {
		case found && a.Kind != models.ActionDelete:
			if err := m.Commit(ctx, a.ID, id); err != nil {
				return err
			}
			promoted++
		case !found && a.Kind == models.ActionDelete:
			if err := m.Commit(ctx, a.ID, a.MarkerID); err != nil {
				return err
			}
			promoted++
		default:
			if _, err := m.db.Run(ctx, `DELETE FROM actions WHERE id = ?`, a.ID); err != nil {
				return apperr.Wrap(apperr.KindBackend, err, "pending sweep delete failed")
			}
			dropped++
		}
	}
	if promoted+dropped > 0 {
		logging.Info().Int("promoted", promoted).Int("dropped", dropped).Msg("Reconciled pending backup actions")
	}
	return nil
}

// findHostMarker locates a live host marker matching the action's
// signature tuple, returning its current id.
func (m *Manager) findHostMarker(ctx context.Context, a *models.BackupAction) (int64, bool, error) {
	metadataID, err := m.host.GUIDToMetadataID(ctx, a.ParentGUID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	byParent, err := m.host.MarkersForParents(ctx, []int64{metadataID})
	if err != nil {
		return 0, false, err
	}
	for _, marker := range byParent[metadataID] {
		if marker.Start == a.Start && marker.End == a.End && marker.Type == a.Type {
			return marker.ID, true, nil
		}
	}
	return 0, false, nil
}
