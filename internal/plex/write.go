// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package plex

import (
	"context"
	"sort"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/models"
)

// validateBounds enforces start >= 0, start < end, and end within the
// item duration when the host recorded one.
func validateBounds(start, end, duration int64) error {
	if start < 0 {
		return apperr.Newf(apperr.KindInvalidBounds, "start %dms is negative", start)
	}
	if start >= end {
		return apperr.Newf(apperr.KindInvalidBounds, "start %dms must be before end %dms", start, end)
	}
	if duration > 0 && end > duration {
		return apperr.Newf(apperr.KindInvalidBounds, "end %dms exceeds item duration %dms", end, duration)
	}
	return nil
}

// findOverlap returns the first marker in markers whose range
// intersects [start, end], skipping excludeID. Touching boundaries
// count as overlap.
func findOverlap(markers []*models.Marker, start, end, excludeID int64) *models.Marker {
	for _, m := range markers {
		if m.ID == excludeID {
			continue
		}
		if m.Overlaps(start, end) {
			return m
		}
	}
	return nil
}

// sortMarkers orders markers canonically: start ascending, shorter
// range first, then id.
func sortMarkers(markers []*models.Marker) {
	sort.Slice(markers, func(i, j int) bool {
		return models.MarkerBefore(markers[i], markers[j])
	})
}

// markersForParentTx reads the parent's markers inside the mutation's
// own transaction so the pre-image cannot drift before the write.
func (m *Manager) markersForParentTx(ctx context.Context, tx *database.Tx, parentID int64) ([]*models.Marker, error) {
	rows, err := tx.All(ctx, `SELECT`+markerColumns+markerFrom+` WHERE t.tag_id = ? AND t.metadata_item_id = ?`,
		m.schema.markerTagID, parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var markers []*models.Marker
	for rows.Next() {
		marker, err := scanMarker(rows)
		if err != nil {
			return nil, wrapRows(err)
		}
		markers = append(markers, marker)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	sortMarkers(markers)
	return markers, nil
}

// reindexTx rewrites "index" so the parent's markers are {0..n-1} in
// canonical order. Only changed rows are updated.
func (m *Manager) reindexTx(ctx context.Context, tx *database.Tx, markers []*models.Marker) error {
	sortMarkers(markers)
	for i, marker := range markers {
		if marker.Index == i {
			continue
		}
		if _, err := tx.Run(ctx, `UPDATE taggings SET "index" = ? WHERE id = ?`, i, marker.ID); err != nil {
			return err
		}
		marker.Index = i
	}
	return nil
}

// ensureMarkerTagTx creates the marker tag row if the host has never
// had markers. Plex creates the same row on its first intro scan.
func (m *Manager) ensureMarkerTagTx(ctx context.Context, tx *database.Tx) error {
	if m.schema.markerTagID != 0 {
		return nil
	}
	res, err := tx.Run(ctx, `INSERT INTO tags (tag, tag_type, created_at, updated_at) VALUES ('', ?, ?, ?)`,
		tagTypeMarker, formatCreatedAt(now()), formatCreatedAt(now()))
	if err != nil {
		return err
	}
	m.schema.markerTagID = res.LastInsertID
	logging.Info().Int64("tag_id", res.LastInsertID).Msg("Created marker tag")
	return nil
}

// writeExtraDataTx writes the host-visible extra_data blob. Failures
// are logged but never roll back the mutation that carried them.
func (m *Manager) writeExtraDataTx(ctx context.Context, tx *database.Tx, markerID int64, final bool) {
	if !m.writeExtraData.Load() {
		return
	}
	if !m.schema.extraDataSupported() {
		logging.Warn().
			Int("schema_version", m.schema.schemaVersion).
			Msg("Skipping extra_data write: unverified host schema version")
		return
	}
	if _, err := tx.Run(ctx, `UPDATE taggings SET extra_data = ? WHERE id = ?`,
		encodeExtraData(final), markerID); err != nil {
		logging.Error().Err(err).Int64("marker", markerID).Msg("Failed to write extra_data")
	}
}

// insertMarkerTx inserts one marker row and reindexes the parent.
// siblings is the parent's current marker set; it is updated in place.
func (m *Manager) insertMarkerTx(ctx context.Context, tx *database.Tx, item *models.BaseItem, start, end int64, mt models.MarkerType, final bool) (*models.Marker, error) {
	if err := m.ensureMarkerTagTx(ctx, tx); err != nil {
		return nil, err
	}

	created := formatCreatedAt(now())
	res, err := tx.Run(ctx, `
		INSERT INTO taggings (metadata_item_id, tag_id, "index", text, time_offset, end_time_offset, thumb_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.MetadataID, m.schema.markerTagID, 0, string(mt), start, end, created, created)
	if err != nil {
		return nil, err
	}
	m.writeExtraDataTx(ctx, tx, res.LastInsertID, final && mt == models.MarkerTypeCredits)

	marker := &models.Marker{
		ID:            res.LastInsertID,
		ParentID:      item.MetadataID,
		SeasonID:      item.SeasonID,
		ShowID:        item.ShowID,
		SectionID:     item.SectionID,
		Start:         start,
		End:           end,
		Type:          mt,
		CreatedAt:     now().UnixMilli(),
		CreatedByUser: true,
		Final:         final && mt == models.MarkerTypeCredits,
	}
	return marker, nil
}

// Add creates a marker on the given episode or movie. The new marker
// must not intersect any existing marker of the same parent; touching
// boundaries count as intersection.
func (m *Manager) Add(ctx context.Context, metadataID, start, end int64, mt models.MarkerType, final bool) (*models.Marker, error) {
	if !mt.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid marker type %q", mt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.BaseItem(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	if err := validateBounds(start, end, item.Duration); err != nil {
		return nil, err
	}

	actionID, err := m.beginAction(ctx, &models.BackupAction{
		Kind: models.ActionAdd, SectionID: item.SectionID, ParentID: item.MetadataID,
		ShowID: item.ShowID, SeasonID: item.SeasonID, ParentGUID: item.GUID,
		Start: start, End: end, Type: mt, Final: final, CreatedByUser: true,
	})
	if err != nil {
		return nil, err
	}

	var created *models.Marker
	err = m.db.Transaction(ctx, func(tx *database.Tx) error {
		siblings, err := m.markersForParentTx(ctx, tx, metadataID)
		if err != nil {
			return err
		}
		if hit := findOverlap(siblings, start, end, 0); hit != nil {
			return apperr.Newf(apperr.KindOverlap, "range [%d, %d] overlaps existing %s marker [%d, %d]",
				start, end, hit.Type, hit.Start, hit.End)
		}
		created, err = m.insertMarkerTx(ctx, tx, item, start, end, mt, final)
		if err != nil {
			return err
		}
		return m.reindexTx(ctx, tx, append(siblings, created))
	})
	if err != nil {
		m.abortAction(ctx, actionID)
		return nil, err
	}
	m.commitAction(ctx, actionID, created.ID)

	if m.cache != nil {
		m.cache.AddMarker(created)
	}
	return created, nil
}

// Edit updates a marker's range, type, and final flag. If the new
// start moves the marker past its siblings, indexes are recomputed.
func (m *Manager) Edit(ctx context.Context, id, start, end int64, mt models.MarkerType, final bool) (*models.Marker, error) {
	if !mt.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid marker type %q", mt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.Marker(ctx, id)
	if err != nil {
		return nil, err
	}
	item, err := m.BaseItem(ctx, existing.ParentID)
	if err != nil {
		return nil, err
	}
	if err := validateBounds(start, end, item.Duration); err != nil {
		return nil, err
	}

	actionID, err := m.beginAction(ctx, &models.BackupAction{
		Kind: models.ActionEdit, MarkerID: id, SectionID: item.SectionID, ParentID: item.MetadataID,
		ShowID: item.ShowID, SeasonID: item.SeasonID, ParentGUID: item.GUID,
		Start: start, End: end, Type: mt, Final: final, CreatedByUser: existing.CreatedByUser,
	})
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Start, updated.End, updated.Type = start, end, mt
	updated.Final = final && mt == models.MarkerTypeCredits
	updated.ModifiedAt = now().UnixMilli()

	err = m.db.Transaction(ctx, func(tx *database.Tx) error {
		siblings, err := m.markersForParentTx(ctx, tx, existing.ParentID)
		if err != nil {
			return err
		}
		if hit := findOverlap(siblings, start, end, id); hit != nil {
			return apperr.Newf(apperr.KindOverlap, "range [%d, %d] overlaps existing %s marker [%d, %d]",
				start, end, hit.Type, hit.Start, hit.End)
		}
		if _, err := tx.Run(ctx, `UPDATE taggings SET text = ?, time_offset = ?, end_time_offset = ? WHERE id = ?`,
			string(mt), start, end, id); err != nil {
			return err
		}
		m.writeExtraDataTx(ctx, tx, id, updated.Final)

		for i, s := range siblings {
			if s.ID == id {
				siblings[i] = &updated
			}
		}
		return m.reindexTx(ctx, tx, siblings)
	})
	if err != nil {
		m.abortAction(ctx, actionID)
		return nil, err
	}
	m.commitAction(ctx, actionID, id)

	if m.cache != nil {
		m.cache.UpdateMarker(existing, &updated)
	}
	return &updated, nil
}

// Delete removes a marker and reindexes the survivors contiguously.
func (m *Manager) Delete(ctx context.Context, id int64) (*models.Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.Marker(ctx, id)
	if err != nil {
		return nil, err
	}
	item, err := m.BaseItem(ctx, existing.ParentID)
	if err != nil {
		return nil, err
	}

	actionID, err := m.beginAction(ctx, &models.BackupAction{
		Kind: models.ActionDelete, MarkerID: id, SectionID: item.SectionID, ParentID: item.MetadataID,
		ShowID: item.ShowID, SeasonID: item.SeasonID, ParentGUID: item.GUID,
		Start: existing.Start, End: existing.End, Type: existing.Type,
		Final: existing.Final, CreatedByUser: existing.CreatedByUser,
	})
	if err != nil {
		return nil, err
	}

	err = m.db.Transaction(ctx, func(tx *database.Tx) error {
		return m.deleteMarkerTx(ctx, tx, existing)
	})
	if err != nil {
		m.abortAction(ctx, actionID)
		return nil, err
	}
	m.commitAction(ctx, actionID, id)

	if m.cache != nil {
		m.cache.RemoveMarker(existing)
	}
	return existing, nil
}

// deleteMarkerTx removes one row and reindexes the parent's survivors.
func (m *Manager) deleteMarkerTx(ctx context.Context, tx *database.Tx, marker *models.Marker) error {
	res, err := tx.Run(ctx, `DELETE FROM taggings WHERE id = ? AND tag_id = ?`, marker.ID, m.schema.markerTagID)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "marker %d not found", marker.ID)
	}
	survivors, err := m.markersForParentTx(ctx, tx, marker.ParentID)
	if err != nil {
		return err
	}
	return m.reindexTx(ctx, tx, survivors)
}

// RestoreMarker re-inserts a purged marker for the backup manager. It
// does not record a backup action itself; the backup manager writes
// the restore action with its provenance link. Returns the existing
// marker with skipped=true when an identical one is already present.
func (m *Manager) RestoreMarker(ctx context.Context, metadataID, start, end int64, mt models.MarkerType, final bool) (marker *models.Marker, skipped bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.BaseItem(ctx, metadataID)
	if err != nil {
		return nil, false, err
	}
	if err := validateBounds(start, end, item.Duration); err != nil {
		return nil, false, err
	}

	err = m.db.Transaction(ctx, func(tx *database.Tx) error {
		siblings, err := m.markersForParentTx(ctx, tx, metadataID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.Start == start && s.End == end && s.Type == mt {
				marker, skipped = s, true
				return nil
			}
		}
		if hit := findOverlap(siblings, start, end, 0); hit != nil {
			return apperr.Newf(apperr.KindOverlap, "restore range [%d, %d] overlaps existing marker [%d, %d]",
				start, end, hit.Start, hit.End)
		}
		marker, err = m.insertMarkerTx(ctx, tx, item, start, end, mt, final)
		if err != nil {
			return err
		}
		return m.reindexTx(ctx, tx, append(siblings, marker))
	})
	if err != nil {
		return nil, false, err
	}
	if !skipped && m.cache != nil {
		m.cache.AddMarker(marker)
	}
	return marker, skipped, nil
}

// beginAction/commitAction/abortAction bracket the host transaction
// with the backup log's pending protocol. A nil recorder (tests)
// reduces them to no-ops.
func (m *Manager) beginAction(ctx context.Context, action *models.BackupAction) (int64, error) {
	if m.recorder == nil {
		return 0, nil
	}
	action.RecordedAt = now().UnixMilli()
	id, err := m.recorder.Begin(ctx, action)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindBackend, err, "backup log write failed")
	}
	return id, nil
}

func (m *Manager) commitAction(ctx context.Context, actionID, markerID int64) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Commit(ctx, actionID, markerID); err != nil {
		logging.Error().Err(err).Int64("action", actionID).Msg("Failed to commit backup action")
	}
}

func (m *Manager) abortAction(ctx context.Context, actionID int64) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Abort(ctx, actionID); err != nil {
		logging.Error().Err(err).Int64("action", actionID).Msg("Failed to abort backup action")
	}
}
