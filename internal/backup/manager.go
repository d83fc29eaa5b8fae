// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package backup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/models"
)

// Host is the slice of the query manager the backup manager needs to
// probe and repair the host database.
type Host interface {
	GUIDToMetadataID(ctx context.Context, guid string) (int64, error)
	MarkersForParents(ctx context.Context, parentIDs []int64) (map[int64][]*models.Marker, error)
	RestoreMarker(ctx context.Context, metadataID, start, end int64, mt models.MarkerType, final bool) (*models.Marker, bool, error)
}

// Manager owns the backup database. It implements plex.ActionRecorder
// (Begin/Commit/Abort in store.go) and layers purge detection, restore
// and ignore on top of the recorded log.
type Manager struct {
	db   *database.DB
	host Host

	// Purge counts are precomputed so the client's per-section and
	// per-show indicators never trigger host probes on page loads.
	mu              sync.RWMutex
	purgedBySection map[int64]int
	purgedByShow    map[int64]int
}

// New opens the backup database at path, reconciles pending rows left
// by a crash, and returns the manager. Call RebuildPurgeCache once the
// marker cache is built.
func New(ctx context.Context, path string, host Host) (*Manager, error) {
	db, err := openStore(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		db:              db,
		host:            host,
		purgedBySection: make(map[int64]int),
		purgedByShow:    make(map[int64]int),
	}
	if err := m.sweepPending(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the backup database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// latestActions reduces a committed-action list to the newest action
// per recorded marker id, dropping chains whose newest row is ignored.
func latestActions(actions []*models.BackupAction) []*models.BackupAction {
	latest := make(map[int64]*models.BackupAction, len(actions))
	for _, a := range actions {
		if prev, ok := latest[a.MarkerID]; !ok || a.ID > prev.ID {
			latest[a.MarkerID] = a
		}
	}
	result := make([]*models.BackupAction, 0, len(latest))
	for _, a := range latest {
		if a.Ignored {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// committedActions loads committed rows, optionally filtered to a
// scope id matched against section, show, season, or parent.
func (m *Manager) committedActions(ctx context.Context, scopeID int64) ([]*models.BackupAction, error) {
	query := `SELECT` + actionColumns + ` FROM actions WHERE state = ?`
	args := []any{stateCommitted}
	if scopeID != 0 {
		query += ` AND (section_id = ? OR show_id = ? OR season_id = ? OR parent_id = ?)`
		args = append(args, scopeID, scopeID, scopeID, scopeID)
	}
	query += ` ORDER BY id`

	rows, err := m.db.All(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*models.BackupAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBackend, err, "action scan failed")
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, err, "action scan failed")
	}
	return actions, nil
}

// purgesAmong probes the host for every expected-to-exist action and
// returns the ones whose marker is gone. Host lookups are batched by
// parent guid.
func (m *Manager) purgesAmong(ctx context.Context, actions []*models.BackupAction) ([]*models.BackupAction, error) {
	var expected []*models.BackupAction
	for _, a := range latestActions(actions) {
		switch a.Kind {
		case models.ActionAdd, models.ActionEdit, models.ActionRestore:
			expected = append(expected, a)
		}
	}
	if len(expected) == 0 {
		return nil, nil
	}

	// Resolve each distinct guid to its live metadata id. A guid that
	// no longer resolves means the whole parent is gone; its markers
	// are purged.
	guidToID := make(map[string]int64)
	var parentIDs []int64
	for _, a := range expected {
		if _, seen := guidToID[a.ParentGUID]; seen {
			continue
		}
		id, err := m.host.GUIDToMetadataID(ctx, a.ParentGUID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				guidToID[a.ParentGUID] = 0
				continue
			}
			return nil, err
		}
		guidToID[a.ParentGUID] = id
		parentIDs = append(parentIDs, id)
	}
	live := make(map[int64][]*models.Marker)
	if len(parentIDs) > 0 {
		byParent, err := m.host.MarkersForParents(ctx, parentIDs)
		if err != nil {
			return nil, err
		}
		live = byParent
	}

	var purged []*models.BackupAction
	for _, a := range expected {
		parentID := guidToID[a.ParentGUID]
		found := false
		for _, marker := range live[parentID] {
			if marker.Start == a.Start && marker.End == a.End && marker.Type == a.Type {
				found = true
				break
			}
		}
		if !found {
			purged = append(purged, a)
		}
	}
	return purged, nil
}

// CheckForPurges finds purged markers under one scope (section, show,
// season, or base item id).
func (m *Manager) CheckForPurges(ctx context.Context, scopeID int64) ([]*models.BackupAction, error) {
	actions, err := m.committedActions(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return m.purgesAmong(ctx, actions)
}

// AllPurges scans the whole action log and groups purges by section.
func (m *Manager) AllPurges(ctx context.Context) (map[int64][]*models.BackupAction, error) {
	actions, err := m.committedActions(ctx, 0)
	if err != nil {
		return nil, err
	}
	purged, err := m.purgesAmong(ctx, actions)
	if err != nil {
		return nil, err
	}
	bySection := make(map[int64][]*models.BackupAction)
	for _, a := range purged {
		bySection[a.SectionID] = append(bySection[a.SectionID], a)
	}
	return bySection, nil
}

// RestoreResult is the per-action outcome of a restore request.
type RestoreResult struct {
	ActionID int64          `json:"actionId"`
	Marker   *models.Marker `json:"marker,omitempty"`
	Skipped  bool           `json:"skipped"`
	Error    string         `json:"error,omitempty"`
}

// RestoreMarkers re-inserts purged markers into the host. Each restore
// emits a restore action linked to the action it revived. Parents that
// no longer exist produce a per-item error; identical markers already
// present are skipped without a new action.
func (m *Manager) RestoreMarkers(ctx context.Context, actionIDs []int64) ([]RestoreResult, error) {
	results := make([]RestoreResult, 0, len(actionIDs))
	for _, id := range actionIDs {
		results = append(results, m.restoreOne(ctx, id))
	}
	m.recountPurges(ctx)
	return results, nil
}

func (m *Manager) restoreOne(ctx context.Context, actionID int64) RestoreResult {
	result := RestoreResult{ActionID: actionID}

	action, err := m.action(ctx, actionID)
	if err != nil {
		result.Error = apperr.MessageOf(err)
		return result
	}
	metadataID, err := m.host.GUIDToMetadataID(ctx, action.ParentGUID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			result.Error = "parent item no longer exists"
		} else {
			result.Error = apperr.MessageOf(err)
		}
		return result
	}

	marker, skipped, err := m.host.RestoreMarker(ctx, metadataID, action.Start, action.End, action.Type, action.Final)
	if err != nil {
		result.Error = apperr.MessageOf(err)
		return result
	}
	result.Marker, result.Skipped = marker, skipped
	if skipped {
		return result
	}

	restore := &models.BackupAction{
		Kind: models.ActionRestore, MarkerID: marker.ID,
		SectionID: action.SectionID, ParentID: metadataID,
		ShowID: action.ShowID, SeasonID: action.SeasonID,
		ParentGUID: action.ParentGUID, ParentSignature: action.ParentSignature,
		Start: action.Start, End: action.End, Type: action.Type,
		Final: action.Final, CreatedByUser: action.CreatedByUser,
		RecordedAt: time.Now().UnixMilli(), RestoredFrom: action.ID,
	}
	restoreID, err := m.Begin(ctx, restore)
	if err != nil {
		result.Error = apperr.MessageOf(err)
		return result
	}
	if err := m.Commit(ctx, restoreID, marker.ID); err != nil {
		result.Error = apperr.MessageOf(err)
	}
	return result
}

// IgnorePurgedMarkers flags the actions so they stop surfacing as
// purges.
func (m *Manager) IgnorePurgedMarkers(ctx context.Context, actionIDs []int64) error {
	for _, id := range actionIDs {
		if _, err := m.db.Run(ctx, `UPDATE actions SET ignored = 1 WHERE id = ?`, id); err != nil {
			return apperr.Wrap(apperr.KindBackend, err, "ignore flag write failed")
		}
	}
	m.recountPurges(ctx)
	return nil
}

func (m *Manager) action(ctx context.Context, id int64) (*models.BackupAction, error) {
	row, err := m.db.Get(ctx, `SELECT`+actionColumns+` FROM actions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	a, err := scanAction(row)
	if err != nil {
		return nil, apperr.Newf(apperr.KindNotFound, "action %d not found", id)
	}
	return a, nil
}

// RebuildPurgeCache recomputes the per-section and per-show purge
// counts. Wired to the RebuildPurgedCache event and run once at boot.
func (m *Manager) RebuildPurgeCache(ctx context.Context) error {
	bySection, err := m.AllPurges(ctx)
	if err != nil {
		return err
	}
	sections := make(map[int64]int, len(bySection))
	shows := make(map[int64]int)
	total := 0
	for sectionID, purges := range bySection {
		sections[sectionID] = len(purges)
		total += len(purges)
		for _, a := range purges {
			if a.ShowID > 0 {
				shows[a.ShowID]++
			}
		}
	}

	m.mu.Lock()
	m.purgedBySection = sections
	m.purgedByShow = shows
	m.mu.Unlock()

	logging.Info().Int("purged", total).Msg("Purge cache rebuilt")
	return nil
}

func (m *Manager) recountPurges(ctx context.Context) {
	if err := m.RebuildPurgeCache(ctx); err != nil {
		logging.Error().Err(err).Msg("Purge cache recount failed")
	}
}

// PurgeCounts returns the cached per-section and per-show purge counts.
func (m *Manager) PurgeCounts() (bySection, byShow map[int64]int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySection = make(map[int64]int, len(m.purgedBySection))
	for k, v := range m.purgedBySection {
		bySection[k] = v
	}
	byShow = make(map[int64]int, len(m.purgedByShow))
	for k, v := range m.purgedByShow {
		byShow[k] = v
	}
	return bySection, byShow
}

// ExportActions returns the full committed action log, oldest first.
func (m *Manager) ExportActions(ctx context.Context) ([]*models.BackupAction, error) {
	return m.committedActions(ctx, 0)
}

// ImportResult summarizes an ImportActions call.
type ImportResult struct {
	Imported int `json:"imported"`
	Rejected int `json:"rejected"`
}

// ImportActions appends previously exported actions to the log as
// committed rows with fresh ids. Rows without a parent guid cannot be
// matched against the host later and are rejected per item.
func (m *Manager) ImportActions(ctx context.Context, actions []*models.BackupAction) (ImportResult, error) {
	var result ImportResult
	for _, a := range actions {
		if a.ParentGUID == "" || !a.Type.Valid() || a.Kind.String() == "unknown" {
			result.Rejected++
			continue
		}
		imported := *a
		imported.ID = 0
		imported.ParentSignature = Signature(a.ParentGUID)
		if imported.RecordedAt == 0 {
			imported.RecordedAt = time.Now().UnixMilli()
		}
		id, err := m.Begin(ctx, &imported)
		if err != nil {
			return result, err
		}
		if err := m.Commit(ctx, id, imported.MarkerID); err != nil {
			return result, err
		}
		result.Imported++
	}
	m.recountPurges(ctx)
	return result, nil
}
