// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/models"
	"github.com/tomtom215/markerforge/internal/plex"
)

const hostSchema = `
CREATE TABLE schema_migrations (version INTEGER NOT NULL);
CREATE TABLE library_sections (id INTEGER PRIMARY KEY, name TEXT, section_type INTEGER);
CREATE TABLE metadata_items (
	id INTEGER PRIMARY KEY,
	library_section_id INTEGER,
	metadata_type INTEGER,
	parent_id INTEGER,
	"index" INTEGER,
	title TEXT,
	duration INTEGER,
	guid TEXT,
	hash TEXT
);
CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, tag TEXT, tag_type INTEGER, created_at TEXT, updated_at TEXT);
CREATE TABLE taggings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metadata_item_id INTEGER,
	tag_id INTEGER,
	"index" INTEGER,
	text TEXT,
	time_offset INTEGER,
	end_time_offset INTEGER,
	thumb_url TEXT,
	created_at TEXT,
	extra_data TEXT
);
CREATE TABLE media_items (id INTEGER PRIMARY KEY, metadata_item_id INTEGER);
CREATE TABLE media_parts (id INTEGER PRIMARY KEY, media_item_id INTEGER, file TEXT);
INSERT INTO schema_migrations (version) VALUES (200);
INSERT INTO tags (id, tag, tag_type, created_at, updated_at) VALUES (1, '', 12, '', '');
INSERT INTO library_sections (id, name, section_type) VALUES (1, 'TV Shows', 2);
INSERT INTO metadata_items (id, library_section_id, metadata_type, parent_id, "index", title, duration, guid)
	VALUES (10, 1, 2, NULL, 1, 'Show', 0, 'plex://show/abc');
INSERT INTO metadata_items (id, library_section_id, metadata_type, parent_id, "index", title, duration, guid)
	VALUES (11, 1, 3, 10, 1, 'Season 1', 0, 'plex://season/abc');
INSERT INTO metadata_items (id, library_section_id, metadata_type, parent_id, "index", title, duration, guid)
	VALUES (12, 1, 4, 11, 1, 'Episode 1', 1800000, 'plex://episode/e1');
`

// fixture wires a real query manager and backup manager against a
// seeded host database, mirroring the production construction order.
type fixture struct {
	hostDB *database.DB
	plex   *plex.Manager
	backup *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	hostDB, err := database.Open(filepath.Join(dir, "library.db"), database.DefaultOptions())
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	t.Cleanup(func() { _ = hostDB.Close() })
	if _, err := hostDB.Run(ctx, hostSchema); err != nil {
		t.Fatalf("seed host: %v", err)
	}

	plexMgr, err := plex.New(ctx, hostDB, nil, nil, false)
	if err != nil {
		t.Fatalf("query manager: %v", err)
	}
	backupMgr, err := New(ctx, filepath.Join(dir, "backup.db"), plexMgr)
	if err != nil {
		t.Fatalf("backup manager: %v", err)
	}
	t.Cleanup(func() { _ = backupMgr.Close() })
	plexMgr.SetRecorder(backupMgr)

	return &fixture{hostDB: hostDB, plex: plexMgr, backup: backupMgr}
}

func TestSignatureStability(t *testing.T) {
	a := Signature("plex://episode/e1")
	b := Signature("plex://episode/e1")
	if a != b || len(a) != 64 {
		t.Fatalf("signature not stable hex sha256: %q vs %q", a, b)
	}
	if Signature("plex://episode/e2") == a {
		t.Fatal("distinct guids must not collide")
	}
}

func TestActionProtocol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	action := &models.BackupAction{
		Kind: models.ActionAdd, SectionID: 1, ParentID: 12, ShowID: 10, SeasonID: 11,
		ParentGUID: "plex://episode/e1", Start: 1000, End: 2000,
		Type: models.MarkerTypeIntro, RecordedAt: time.Now().UnixMilli(),
	}
	id, err := f.backup.Begin(ctx, action)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if action.ParentSignature == "" {
		t.Error("begin should derive the parent signature")
	}

	// Pending rows are invisible to the export.
	exported, err := f.backup.ExportActions(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 0 {
		t.Fatalf("pending action leaked into export: %+v", exported)
	}

	if err := f.backup.Commit(ctx, id, 42); err != nil {
		t.Fatalf("commit: %v", err)
	}
	exported, _ = f.backup.ExportActions(ctx)
	if len(exported) != 1 || exported[0].MarkerID != 42 || exported[0].Kind != models.ActionAdd {
		t.Fatalf("exported = %+v", exported)
	}

	// Abort drops a pending row but never a committed one.
	abortID, _ := f.backup.Begin(ctx, &models.BackupAction{
		Kind: models.ActionAdd, SectionID: 1, ParentID: 12,
		ParentGUID: "plex://episode/e1", Start: 5000, End: 6000,
		Type: models.MarkerTypeIntro, RecordedAt: time.Now().UnixMilli(),
	})
	if err := f.backup.Abort(ctx, abortID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := f.backup.Abort(ctx, id); err != nil {
		t.Fatalf("abort committed: %v", err)
	}
	exported, _ = f.backup.ExportActions(ctx)
	if len(exported) != 1 {
		t.Fatalf("export after aborts = %+v", exported)
	}
}

func TestPurgeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker, err := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Nothing purged while the marker lives.
	purged, err := f.backup.CheckForPurges(ctx, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(purged) != 0 {
		t.Fatalf("false purge: %+v", purged)
	}

	// Host re-scan wipes the row out from under us.
	if _, err := f.hostDB.Run(ctx, `DELETE FROM taggings WHERE id = ?`, marker.ID); err != nil {
		t.Fatalf("simulate purge: %v", err)
	}

	purged, err = f.backup.CheckForPurges(ctx, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(purged) != 1 {
		t.Fatalf("purge count = %d, want 1", len(purged))
	}
	if purged[0].Start != 10000 || purged[0].End != 20000 || purged[0].Type != models.MarkerTypeIntro {
		t.Fatalf("purged action = %+v", purged[0])
	}

	// Scoping by show and by episode finds it too.
	for _, scope := range []int64{10, 11, 12} {
		scoped, err := f.backup.CheckForPurges(ctx, scope)
		if err != nil || len(scoped) != 1 {
			t.Errorf("scope %d: purges = %d err = %v, want 1", scope, len(scoped), err)
		}
	}

	// Restore puts an equivalent row back and links the new action.
	results, err := f.backup.RestoreMarkers(ctx, []int64{purged[0].ID})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(results) != 1 || results[0].Error != "" || results[0].Skipped {
		t.Fatalf("restore results = %+v", results)
	}
	restored := results[0].Marker
	if restored.Start != 10000 || restored.End != 20000 || restored.Type != models.MarkerTypeIntro {
		t.Fatalf("restored = %+v", restored)
	}
	if restored.ID == marker.ID {
		t.Error("restored marker should have a new host id")
	}

	exported, _ := f.backup.ExportActions(ctx)
	var restoreAction *models.BackupAction
	for _, a := range exported {
		if a.Kind == models.ActionRestore {
			restoreAction = a
		}
	}
	if restoreAction == nil || restoreAction.RestoredFrom != purged[0].ID {
		t.Fatalf("restore action = %+v, want link to %d", restoreAction, purged[0].ID)
	}

	// The purge is gone now.
	purged, _ = f.backup.CheckForPurges(ctx, 1)
	if len(purged) != 0 {
		t.Fatalf("still purged after restore: %+v", purged)
	}

	// Restoring again skips: the marker already exists.
	results, _ = f.backup.RestoreMarkers(ctx, []int64{restoreAction.ID})
	if !results[0].Skipped {
		t.Fatalf("second restore = %+v, want skipped", results[0])
	}
}

func TestIgnorePurgedMarkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker, err := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.hostDB.Run(ctx, `DELETE FROM taggings WHERE id = ?`, marker.ID); err != nil {
		t.Fatalf("simulate purge: %v", err)
	}

	purged, _ := f.backup.CheckForPurges(ctx, 1)
	if len(purged) != 1 {
		t.Fatalf("purge count = %d", len(purged))
	}
	if err := f.backup.IgnorePurgedMarkers(ctx, []int64{purged[0].ID}); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	purged, _ = f.backup.CheckForPurges(ctx, 1)
	if len(purged) != 0 {
		t.Fatalf("ignored action still surfaces: %+v", purged)
	}
}

func TestDeleteSupersedesAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker, err := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.plex.Delete(ctx, marker.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A marker we deleted ourselves is not a purge.
	purged, err := f.backup.CheckForPurges(ctx, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(purged) != 0 {
		t.Fatalf("own delete surfaced as purge: %+v", purged)
	}
}

func TestPurgeCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker, _ := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false)
	if _, err := f.hostDB.Run(ctx, `DELETE FROM taggings WHERE id = ?`, marker.ID); err != nil {
		t.Fatalf("simulate purge: %v", err)
	}

	if err := f.backup.RebuildPurgeCache(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	bySection, byShow := f.backup.PurgeCounts()
	if bySection[1] != 1 || byShow[10] != 1 {
		t.Fatalf("counts = %v / %v, want section 1 and show 10 at 1", bySection, byShow)
	}

	// Ignoring recounts automatically.
	purged, _ := f.backup.CheckForPurges(ctx, 1)
	_ = f.backup.IgnorePurgedMarkers(ctx, []int64{purged[0].ID})
	bySection, _ = f.backup.PurgeCounts()
	if bySection[1] != 0 {
		t.Fatalf("counts after ignore = %v", bySection)
	}
}

func TestPendingSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A live marker inserted outside the recorder, plus a stale pending
	// row describing it: the sweep should promote that row. A second
	// stale pending row with no matching marker gets dropped.
	marker, err := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	stale := time.Now().Add(-2 * time.Minute).UnixMilli()
	promotable, _ := f.backup.Begin(ctx, &models.BackupAction{
		Kind: models.ActionAdd, SectionID: 1, ParentID: 12, ShowID: 10, SeasonID: 11,
		ParentGUID: "plex://episode/e1", Start: 10000, End: 20000,
		Type: models.MarkerTypeIntro, RecordedAt: stale,
	})
	droppable, _ := f.backup.Begin(ctx, &models.BackupAction{
		Kind: models.ActionAdd, SectionID: 1, ParentID: 12, ShowID: 10, SeasonID: 11,
		ParentGUID: "plex://episode/e1", Start: 700000, End: 710000,
		Type: models.MarkerTypeIntro, RecordedAt: stale,
	})

	if err := f.backup.sweepPending(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	exported, _ := f.backup.ExportActions(ctx)
	ids := make(map[int64]*models.BackupAction, len(exported))
	for _, a := range exported {
		ids[a.ID] = a
	}
	if a, ok := ids[promotable]; !ok || a.MarkerID != marker.ID {
		t.Fatalf("promotable row = %+v, want committed with marker %d", a, marker.ID)
	}
	if _, ok := ids[droppable]; ok {
		t.Fatal("droppable pending row survived the sweep")
	}
}

func TestImportExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.plex.Add(ctx, 12, 10000, 20000, models.MarkerTypeIntro, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	exported, err := f.backup.ExportActions(ctx)
	if err != nil || len(exported) != 1 {
		t.Fatalf("export = %d actions, err %v", len(exported), err)
	}

	// Import into a fresh backup database.
	other := newFixture(t)
	result, err := other.backup.ImportActions(ctx, append(exported, &models.BackupAction{
		Kind: models.ActionAdd, Type: models.MarkerTypeIntro, // no guid
	}))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 || result.Rejected != 1 {
		t.Fatalf("result = %+v, want 1 imported 1 rejected", result)
	}

	reExported, _ := other.backup.ExportActions(ctx)
	if len(reExported) != 1 || reExported[0].Start != 10000 {
		t.Fatalf("re-export = %+v", reExported)
	}
}
