// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package plex

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/models"
)

// ShiftPolicy controls what a bulk shift does when shifted markers
// collide with each other or with markers outside the shift set.
type ShiftPolicy int

const (
	// ShiftMerge merges colliding shifted markers into one marker
	// spanning their combined range. Collisions with markers outside
	// the shift set skip the item.
	ShiftMerge ShiftPolicy = iota

	// ShiftSkip leaves any item with a collision untouched.
	ShiftSkip

	// ShiftForce applies the shift even when the result overlaps.
	ShiftForce
)

// ParseShiftPolicy converts the wire value.
func ParseShiftPolicy(s string) (ShiftPolicy, error) {
	switch s {
	case "merge":
		return ShiftMerge, nil
	case "skip":
		return ShiftSkip, nil
	case "force", "forceOverlap":
		return ShiftForce, nil
	default:
		return 0, apperr.Newf(apperr.KindInvalidInput, "unknown shift policy %q", s)
	}
}

// AddPolicy controls bulk-add behavior when the new range overlaps an
// existing marker on an item.
type AddPolicy int

const (
	// AddIgnore skips items where the range would overlap.
	AddIgnore AddPolicy = iota

	// AddMerge expands the new marker to the union of itself and
	// everything it overlaps, deleting the absorbed markers.
	AddMerge

	// AddOverwrite deletes overlapping markers and adds the new range
	// as given.
	AddOverwrite
)

// ParseAddPolicy converts the wire value.
func ParseAddPolicy(s string) (AddPolicy, error) {
	switch s {
	case "ignore":
		return AddIgnore, nil
	case "merge":
		return AddMerge, nil
	case "overwrite":
		return AddOverwrite, nil
	default:
		return 0, apperr.Newf(apperr.KindInvalidInput, "unknown add policy %q", s)
	}
}

// BulkItemResult reports the outcome for one base item of a bulk
// operation. Individual item failures do not roll back other items.
type BulkItemResult struct {
	MetadataID int64            `json:"metadataId"`
	Status     string           `json:"status"`
	Markers    []*models.Marker `json:"markers,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Bulk item statuses.
const (
	StatusShifted     = "shifted"
	StatusAdded       = "added"
	StatusMerged      = "merged"
	StatusOverwritten = "overwritten"
	StatusDeleted     = "deleted"
	StatusSkipped     = "skipped"
	StatusUnchanged   = "unchanged"
	StatusConflict    = "conflict"
	StatusError       = "error"
)

// typeSet builds the filter used by bulk operations. An empty list
// means "all types".
func typeSet(types []models.MarkerType) map[models.MarkerType]bool {
	set := make(map[models.MarkerType]bool, len(types))
	if len(types) == 0 {
		set[models.MarkerTypeIntro] = true
		set[models.MarkerTypeCredits] = true
		set[models.MarkerTypeCommercial] = true
		return set
	}
	for _, t := range types {
		set[t] = true
	}
	return set
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ScopeItems resolves a bulk scope id (show, season, movie, or
// episode) to the base items beneath it.
func (m *Manager) ScopeItems(ctx context.Context, scopeID int64) ([]*models.BaseItem, error) {
	row, err := m.db.Get(ctx, `SELECT metadata_type FROM metadata_items WHERE id = ?`, scopeID)
	if err != nil {
		return nil, err
	}
	var metadataType int
	if err := row.Scan(&metadataType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, m.classifyMissingScope(ctx, scopeID)
		}
		return nil, wrapRows(err)
	}

	var query string
	switch metadataType {
	case models.MetadataTypeMovie, models.MetadataTypeEpisode:
		item, err := m.BaseItem(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		return []*models.BaseItem{item}, nil
	case models.MetadataTypeSeason:
		query = `
			SELECT i.id, i.library_section_id, i.metadata_type,
			       COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1),
			       COALESCE(i.duration, 0), COALESCE(i.guid, ''), COALESCE(i.title, '')
			FROM metadata_items i
			LEFT JOIN metadata_items season ON i.parent_id = season.id
			WHERE i.parent_id = ? AND i.metadata_type = 4
			ORDER BY i."index"`
	case models.MetadataTypeShow:
		query = `
			SELECT i.id, i.library_section_id, i.metadata_type,
			       COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1),
			       COALESCE(i.duration, 0), COALESCE(i.guid, ''), COALESCE(i.title, '')
			FROM metadata_items i
			JOIN metadata_items season ON i.parent_id = season.id
			WHERE season.parent_id = ? AND i.metadata_type = 4
			ORDER BY season."index", i."index"`
	default:
		return nil, apperr.Newf(apperr.KindInvalidInput, "item %d is not a valid bulk scope", scopeID)
	}

	rows, err := m.db.All(ctx, query, scopeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*models.BaseItem
	for rows.Next() {
		item, err := scanBaseItem(rows)
		if err != nil {
			return nil, wrapRows(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return items, nil
}

// classifyMissingScope distinguishes a section id from a genuinely
// unknown one. Sections live in library_sections, not metadata_items,
// and section-wide deletion goes through NukeSection instead.
func (m *Manager) classifyMissingScope(ctx context.Context, scopeID int64) error {
	row, err := m.db.Get(ctx, `SELECT COUNT(*) FROM library_sections WHERE id = ?`, scopeID)
	if err != nil {
		return err
	}
	var sections int
	if err := row.Scan(&sections); err != nil {
		return wrapRows(err)
	}
	if sections > 0 {
		return apperr.Newf(apperr.KindInvalidInput,
			"item %d is a library section, not a bulk scope", scopeID)
	}
	return apperr.Newf(apperr.KindNotFound, "scope %d not found", scopeID)
}

// shiftMove is one marker with its post-shift bounds.
type shiftMove struct {
	marker   *models.Marker
	newStart int64
	newEnd   int64
}

// shiftPlan is the per-item outcome computed before touching the
// database.
type shiftPlan struct {
	moves   []shiftMove
	deletes []*models.Marker
}

func clampShift(v, duration int64) int64 {
	if v < 0 {
		return 0
	}
	if duration > 0 && v > duration {
		return duration
	}
	return v
}

// planShift computes one item's shift outcome. Colliding shifted
// markers are detected on their swept range (original union shifted),
// so markers that cross each other during the shift merge rather than
// leapfrog. Returns skip=true when the policy demands leaving the item
// untouched.
func planShift(markers []*models.Marker, delta, duration int64, apply map[models.MarkerType]bool, excluded map[int64]bool, policy ShiftPolicy) (plan shiftPlan, skip bool) {
	var candidates []shiftMove
	var fixed []*models.Marker
	for _, marker := range markers {
		if !apply[marker.Type] || excluded[marker.ID] {
			fixed = append(fixed, marker)
			continue
		}
		newStart := clampShift(marker.Start+delta, duration)
		newEnd := clampShift(marker.End+delta, duration)
		if newEnd <= newStart {
			plan.deletes = append(plan.deletes, marker)
			continue
		}
		candidates = append(candidates, shiftMove{marker: marker, newStart: newStart, newEnd: newEnd})
	}

	// Group candidates whose swept ranges chain together.
	var groups [][]shiftMove
	for _, c := range candidates {
		placed := false
		for gi, group := range groups {
			for _, member := range group {
				if sweptOverlap(member, c) {
					groups[gi] = append(groups[gi], c)
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, []shiftMove{c})
		}
	}

	for _, group := range groups {
		if len(group) == 1 || policy == ShiftForce {
			plan.moves = append(plan.moves, group...)
			continue
		}
		if policy == ShiftSkip {
			return shiftPlan{}, true
		}
		// Merge: the earliest member survives with the group's hull.
		survivor := group[0]
		for _, member := range group[1:] {
			if member.newStart < survivor.newStart {
				survivor, member = member, survivor
			}
			if member.newEnd > survivor.newEnd {
				survivor.newEnd = member.newEnd
			}
			plan.deletes = append(plan.deletes, member.marker)
		}
		plan.moves = append(plan.moves, survivor)
	}

	// Collisions with markers outside the shift set cannot be merged
	// away; only force pushes through them.
	if policy != ShiftForce {
		for _, move := range plan.moves {
			if hit := findOverlap(fixed, move.newStart, move.newEnd, move.marker.ID); hit != nil {
				return shiftPlan{}, true
			}
		}
	}
	return plan, false
}

func sweptOverlap(a, b shiftMove) bool {
	aLo, aHi := minInt64(a.marker.Start, a.newStart), maxInt64(a.marker.End, a.newEnd)
	bLo, bHi := minInt64(b.marker.Start, b.newStart), maxInt64(b.marker.End, b.newEnd)
	if aLo <= bLo {
		return aHi >= bLo
	}
	return bHi >= aLo
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// BulkShift shifts every matching marker under the scope by deltaMs.
// Each item commits in its own transaction; per-item failures do not
// roll back other items.
func (m *Manager) BulkShift(ctx context.Context, scopeID, deltaMs int64, types []models.MarkerType, policy ShiftPolicy, excludedIDs []int64) ([]BulkItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	apply := typeSet(types)
	excluded := idSet(excludedIDs)

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.shiftItem(ctx, item, deltaMs, apply, excluded, policy))
	}
	return results, nil
}

func (m *Manager) shiftItem(ctx context.Context, item *models.BaseItem, delta int64, apply map[models.MarkerType]bool, excluded map[int64]bool, policy ShiftPolicy) BulkItemResult {
	result := BulkItemResult{MetadataID: item.MetadataID}

	var finalMarkers []*models.Marker
	var removed []*models.Marker
	var moved []shiftMove

	err := m.db.Transaction(ctx, func(tx *database.Tx) error {
		markers, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}
		plan, skip := planShift(markers, delta, item.Duration, apply, excluded, policy)
		if skip {
			result.Status = StatusSkipped
			result.Message = "shift would overlap markers outside the shift set"
			return nil
		}
		if len(plan.moves) == 0 && len(plan.deletes) == 0 {
			result.Status = StatusUnchanged
			return nil
		}

		for _, dead := range plan.deletes {
			if _, err := tx.Run(ctx, `DELETE FROM taggings WHERE id = ?`, dead.ID); err != nil {
				return err
			}
		}
		for _, move := range plan.moves {
			if _, err := tx.Run(ctx, `UPDATE taggings SET time_offset = ?, end_time_offset = ? WHERE id = ?`,
				move.newStart, move.newEnd, move.marker.ID); err != nil {
				return err
			}
		}

		survivors, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}
		if err := m.reindexTx(ctx, tx, survivors); err != nil {
			return err
		}
		finalMarkers, removed, moved = survivors, plan.deletes, plan.moves
		result.Status = StatusShifted
		return nil
	})
	if err != nil {
		result.Status = StatusError
		result.Message = apperr.MessageOf(err)
		return result
	}
	if result.Status != StatusShifted {
		return result
	}

	// Mirror the committed deltas into the cache and backup log.
	for _, dead := range removed {
		m.recordCommitted(ctx, &models.BackupAction{
			Kind: models.ActionDelete, MarkerID: dead.ID, SectionID: item.SectionID,
			ParentID: item.MetadataID, ShowID: item.ShowID, SeasonID: item.SeasonID,
			ParentGUID: item.GUID, Start: dead.Start, End: dead.End, Type: dead.Type,
			Final: dead.Final, CreatedByUser: dead.CreatedByUser,
		}, dead.ID)
		if m.cache != nil {
			m.cache.RemoveMarker(dead)
		}
	}
	for _, move := range moved {
		m.recordCommitted(ctx, &models.BackupAction{
			Kind: models.ActionEdit, MarkerID: move.marker.ID, SectionID: item.SectionID,
			ParentID: item.MetadataID, ShowID: item.ShowID, SeasonID: item.SeasonID,
			ParentGUID: item.GUID, Start: move.newStart, End: move.newEnd, Type: move.marker.Type,
			Final: move.marker.Final, CreatedByUser: move.marker.CreatedByUser,
		}, move.marker.ID)
		if m.cache != nil {
			updated := *move.marker
			updated.Start, updated.End = move.newStart, move.newEnd
			m.cache.UpdateMarker(move.marker, &updated)
		}
	}
	result.Markers = finalMarkers
	return result
}

// CheckBulkShift is the dry run for BulkShift: it reports what each
// item would do without mutating anything.
func (m *Manager) CheckBulkShift(ctx context.Context, scopeID, deltaMs int64, types []models.MarkerType, policy ShiftPolicy, excludedIDs []int64) ([]BulkItemResult, error) {
	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	markersByParent, err := m.MarkersForParents(ctx, itemIDs(items))
	if err != nil {
		return nil, err
	}
	apply := typeSet(types)
	excluded := idSet(excludedIDs)

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		result := BulkItemResult{MetadataID: item.MetadataID}
		plan, skip := planShift(markersByParent[item.MetadataID], deltaMs, item.Duration, apply, excluded, policy)
		switch {
		case skip:
			result.Status = StatusSkipped
		case len(plan.moves) == 0 && len(plan.deletes) == 0:
			result.Status = StatusUnchanged
		default:
			result.Status = StatusShifted
			for _, move := range plan.moves {
				preview := *move.marker
				preview.Start, preview.End = move.newStart, move.newEnd
				result.Markers = append(result.Markers, &preview)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// BulkAdd adds the same range to every base item under the scope.
func (m *Manager) BulkAdd(ctx context.Context, scopeID, start, end int64, mt models.MarkerType, final bool, policy AddPolicy) ([]BulkItemResult, error) {
	if !mt.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid marker type %q", mt)
	}
	if start < 0 || start >= end {
		return nil, apperr.Newf(apperr.KindInvalidBounds, "invalid range [%d, %d]", start, end)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.bulkAddItem(ctx, item, start, end, mt, final, policy))
	}
	return results, nil
}

func (m *Manager) bulkAddItem(ctx context.Context, item *models.BaseItem, start, end int64, mt models.MarkerType, final bool, policy AddPolicy) BulkItemResult {
	result := BulkItemResult{MetadataID: item.MetadataID}

	if item.Duration > 0 && start >= item.Duration {
		result.Status = StatusSkipped
		result.Message = "start is beyond the item's duration"
		return result
	}
	addEnd := end
	if item.Duration > 0 && addEnd > item.Duration {
		addEnd = item.Duration
	}

	var created *models.Marker
	var absorbed []*models.Marker

	err := m.db.Transaction(ctx, func(tx *database.Tx) error {
		markers, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}

		newStart, newEnd := start, addEnd
		var overlapped []*models.Marker
		for _, marker := range markers {
			if marker.Overlaps(newStart, newEnd) {
				overlapped = append(overlapped, marker)
			}
		}
		if len(overlapped) > 0 {
			switch policy {
			case AddIgnore:
				result.Status = StatusSkipped
				result.Message = "range overlaps an existing marker"
				return nil
			case AddMerge:
				for _, o := range overlapped {
					newStart = minInt64(newStart, o.Start)
					newEnd = maxInt64(newEnd, o.End)
				}
				result.Status = StatusMerged
			case AddOverwrite:
				result.Status = StatusOverwritten
			}
			for _, o := range overlapped {
				if _, err := tx.Run(ctx, `DELETE FROM taggings WHERE id = ?`, o.ID); err != nil {
					return err
				}
			}
			absorbed = overlapped
		} else {
			result.Status = StatusAdded
		}

		created, err = m.insertMarkerTx(ctx, tx, item, newStart, newEnd, mt, final)
		if err != nil {
			return err
		}
		survivors, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}
		return m.reindexTx(ctx, tx, survivors)
	})
	if err != nil {
		return BulkItemResult{MetadataID: item.MetadataID, Status: StatusError, Message: apperr.MessageOf(err)}
	}
	if created == nil {
		return result
	}

	for _, dead := range absorbed {
		m.recordCommitted(ctx, &models.BackupAction{
			Kind: models.ActionDelete, MarkerID: dead.ID, SectionID: item.SectionID,
			ParentID: item.MetadataID, ShowID: item.ShowID, SeasonID: item.SeasonID,
			ParentGUID: item.GUID, Start: dead.Start, End: dead.End, Type: dead.Type,
			Final: dead.Final, CreatedByUser: dead.CreatedByUser,
		}, dead.ID)
		if m.cache != nil {
			m.cache.RemoveMarker(dead)
		}
	}
	m.recordCommitted(ctx, &models.BackupAction{
		Kind: models.ActionAdd, MarkerID: created.ID, SectionID: item.SectionID,
		ParentID: item.MetadataID, ShowID: item.ShowID, SeasonID: item.SeasonID,
		ParentGUID: item.GUID, Start: created.Start, End: created.End, Type: created.Type,
		Final: created.Final, CreatedByUser: true,
	}, created.ID)
	if m.cache != nil {
		m.cache.AddMarker(created)
	}
	result.Markers = []*models.Marker{created}
	return result
}

// CheckBulkAdd is the dry run for BulkAdd.
func (m *Manager) CheckBulkAdd(ctx context.Context, scopeID, start, end int64, policy AddPolicy) ([]BulkItemResult, error) {
	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	markersByParent, err := m.MarkersForParents(ctx, itemIDs(items))
	if err != nil {
		return nil, err
	}

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		result := BulkItemResult{MetadataID: item.MetadataID, Markers: markersByParent[item.MetadataID]}
		switch {
		case item.Duration > 0 && start >= item.Duration:
			result.Status = StatusSkipped
		case findOverlap(markersByParent[item.MetadataID], start, end, 0) != nil:
			switch policy {
			case AddIgnore:
				result.Status = StatusSkipped
			case AddMerge:
				result.Status = StatusMerged
			case AddOverwrite:
				result.Status = StatusOverwritten
			}
		default:
			result.Status = StatusAdded
		}
		results = append(results, result)
	}
	return results, nil
}

// BulkDelete deletes markers by scope and type filter.
func (m *Manager) BulkDelete(ctx context.Context, scopeID int64, types []models.MarkerType, excludedIDs []int64) ([]BulkItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	apply := typeSet(types)
	excluded := idSet(excludedIDs)

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.bulkDeleteItem(ctx, item, apply, excluded))
	}
	return results, nil
}

func (m *Manager) bulkDeleteItem(ctx context.Context, item *models.BaseItem, apply map[models.MarkerType]bool, excluded map[int64]bool) BulkItemResult {
	result := BulkItemResult{MetadataID: item.MetadataID}

	var victims []*models.Marker
	err := m.db.Transaction(ctx, func(tx *database.Tx) error {
		markers, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}
		for _, marker := range markers {
			if apply[marker.Type] && !excluded[marker.ID] {
				victims = append(victims, marker)
			}
		}
		if len(victims) == 0 {
			result.Status = StatusUnchanged
			return nil
		}
		for _, dead := range victims {
			if _, err := tx.Run(ctx, `DELETE FROM taggings WHERE id = ?`, dead.ID); err != nil {
				return err
			}
		}
		survivors, err := m.markersForParentTx(ctx, tx, item.MetadataID)
		if err != nil {
			return err
		}
		if err := m.reindexTx(ctx, tx, survivors); err != nil {
			return err
		}
		result.Status = StatusDeleted
		return nil
	})
	if err != nil {
		return BulkItemResult{MetadataID: item.MetadataID, Status: StatusError, Message: apperr.MessageOf(err)}
	}
	if result.Status != StatusDeleted {
		return result
	}

	for _, dead := range victims {
		m.recordCommitted(ctx, &models.BackupAction{
			Kind: models.ActionDelete, MarkerID: dead.ID, SectionID: item.SectionID,
			ParentID: item.MetadataID, ShowID: item.ShowID, SeasonID: item.SeasonID,
			ParentGUID: item.GUID, Start: dead.Start, End: dead.End, Type: dead.Type,
			Final: dead.Final, CreatedByUser: dead.CreatedByUser,
		}, dead.ID)
		if m.cache != nil {
			m.cache.RemoveMarker(dead)
		}
	}
	result.Markers = victims
	return result
}

// CheckBulkDelete is the dry run for BulkDelete.
func (m *Manager) CheckBulkDelete(ctx context.Context, scopeID int64, types []models.MarkerType, excludedIDs []int64) ([]BulkItemResult, error) {
	items, err := m.ScopeItems(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	markersByParent, err := m.MarkersForParents(ctx, itemIDs(items))
	if err != nil {
		return nil, err
	}
	apply := typeSet(types)
	excluded := idSet(excludedIDs)

	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		result := BulkItemResult{MetadataID: item.MetadataID, Status: StatusUnchanged}
		for _, marker := range markersByParent[item.MetadataID] {
			if apply[marker.Type] && !excluded[marker.ID] {
				result.Markers = append(result.Markers, marker)
			}
		}
		if len(result.Markers) > 0 {
			result.Status = StatusDeleted
		}
		results = append(results, result)
	}
	return results, nil
}

// NukeSection deletes all markers of the listed types in a section.
func (m *Manager) NukeSection(ctx context.Context, sectionID int64, types []models.MarkerType) ([]BulkItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.All(ctx, `
		SELECT DISTINCT i.id, i.library_section_id, i.metadata_type,
		       COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1),
		       COALESCE(i.duration, 0), COALESCE(i.guid, ''), COALESCE(i.title, '')
		FROM metadata_items i
		LEFT JOIN metadata_items season ON i.parent_id = season.id
		JOIN taggings t ON t.metadata_item_id = i.id AND t.tag_id = ?
		WHERE i.library_section_id = ? AND i.metadata_type IN (?, ?)`,
		m.schema.markerTagID, sectionID, models.MetadataTypeMovie, models.MetadataTypeEpisode)
	if err != nil {
		return nil, err
	}
	var items []*models.BaseItem
	err = func() error {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			item, err := scanBaseItem(rows)
			if err != nil {
				return wrapRows(err)
			}
			items = append(items, item)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, wrapRows(err)
	}

	apply := typeSet(types)
	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.bulkDeleteItem(ctx, item, apply, nil))
	}
	return results, nil
}

// recordCommitted writes an already-committed mutation to the backup
// log (begin and promote in one step). Used by bulk operations, which
// commit per item and then mirror the deltas.
func (m *Manager) recordCommitted(ctx context.Context, action *models.BackupAction, markerID int64) {
	if m.recorder == nil {
		return
	}
	action.RecordedAt = now().UnixMilli()
	actionID, err := m.recorder.Begin(ctx, action)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to record bulk action")
		return
	}
	if err := m.recorder.Commit(ctx, actionID, markerID); err != nil {
		logging.Error().Err(err).Int64("action", actionID).Msg("Failed to commit bulk action")
	}
}

func itemIDs(items []*models.BaseItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.MetadataID
	}
	return ids
}
