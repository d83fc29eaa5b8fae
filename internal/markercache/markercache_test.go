// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package markercache

import (
	"context"
	"testing"

	"github.com/tomtom215/markerforge/internal/models"
)

type fakeSource struct {
	items   []*models.BaseItem
	markers []*models.Marker
}

func (f *fakeSource) AllBaseItems(context.Context) ([]*models.BaseItem, error) {
	return f.items, nil
}

func (f *fakeSource) AllMarkers(context.Context) ([]*models.Marker, error) {
	return f.markers, nil
}

func (f *fakeSource) ScopeItems(_ context.Context, scopeID int64) ([]*models.BaseItem, error) {
	var items []*models.BaseItem
	for _, item := range f.items {
		if item.MetadataID == scopeID || item.SeasonID == scopeID || item.ShowID == scopeID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeSource) MarkersForParents(_ context.Context, parentIDs []int64) (map[int64][]*models.Marker, error) {
	want := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = true
	}
	result := make(map[int64][]*models.Marker)
	for _, m := range f.markers {
		if want[m.ParentID] {
			result[m.ParentID] = append(result[m.ParentID], m)
		}
	}
	return result, nil
}

func episode(id, seasonID, showID, sectionID int64) *models.BaseItem {
	return &models.BaseItem{MetadataID: id, SectionID: sectionID, SeasonID: seasonID, ShowID: showID, Duration: 1800000}
}

func movie(id, sectionID int64) *models.BaseItem {
	return &models.BaseItem{MetadataID: id, SectionID: sectionID, SeasonID: models.NoParent, ShowID: models.NoParent, Duration: 6000000}
}

func marker(id, parentID, seasonID, showID, sectionID int64, mt models.MarkerType) *models.Marker {
	return &models.Marker{
		ID: id, ParentID: parentID, SeasonID: seasonID, ShowID: showID, SectionID: sectionID,
		Start: id * 1000, End: id*1000 + 500, Type: mt,
	}
}

// Layout: section 1 holds show 10 with seasons 11 (episodes 12, 13)
// and 14 (episode 15); section 2 holds movie 20.
func newTestCache(t *testing.T) (*Cache, *fakeSource) {
	t.Helper()
	src := &fakeSource{
		items: []*models.BaseItem{
			episode(12, 11, 10, 1),
			episode(13, 11, 10, 1),
			episode(15, 14, 10, 1),
			movie(20, 2),
		},
		markers: []*models.Marker{
			marker(1, 12, 11, 10, 1, models.MarkerTypeIntro),
			marker(2, 12, 11, 10, 1, models.MarkerTypeCredits),
			marker(3, 13, 11, 10, 1, models.MarkerTypeIntro),
			marker(4, 20, -1, -1, 2, models.MarkerTypeCommercial),
			marker(5, 20, -1, -1, 2, models.MarkerTypeCredits),
		},
	}
	c := New(src)
	if err := c.Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	return c, src
}

func sumBreakdowns(parts ...Breakdown) Breakdown {
	total := Breakdown{Keys: make(map[int64]int64)}
	for _, p := range parts {
		for k, v := range p.Keys {
			total.Keys[k] += v
		}
		total.Commercials += p.Commercials
		total.Items += p.Items
	}
	return total
}

func assertBreakdownEqual(t *testing.T, got, want Breakdown, label string) {
	t.Helper()
	if got.Commercials != want.Commercials || got.Items != want.Items {
		t.Errorf("%s: commercials/items = %d/%d, want %d/%d",
			label, got.Commercials, got.Items, want.Commercials, want.Items)
	}
	if len(got.Keys) != len(want.Keys) {
		t.Errorf("%s: keys = %v, want %v", label, got.Keys, want.Keys)
		return
	}
	for k, v := range want.Keys {
		if got.Keys[k] != v {
			t.Errorf("%s: key %d count = %d, want %d", label, k, got.Keys[k], v)
		}
	}
}

// assertCoherent verifies the rollup invariant: every node's breakdown
// equals the sum of its children's.
func assertCoherent(t *testing.T, c *Cache) {
	t.Helper()

	tree, ok := c.TreeStats(10)
	if !ok {
		t.Fatal("show 10 missing")
	}
	var seasons []Breakdown
	for _, bd := range tree.Seasons {
		seasons = append(seasons, bd)
	}
	assertBreakdownEqual(t, tree.Show, sumBreakdowns(seasons...), "show vs seasons")

	for _, sectionID := range []int64{1, 2} {
		overview, ok := c.SectionOverview(sectionID)
		if !ok {
			t.Fatalf("section %d missing", sectionID)
		}
		top, _ := c.TopLevelStats(sectionID)
		var children []Breakdown
		for _, bd := range top {
			children = append(children, bd)
		}
		assertBreakdownEqual(t, overview, sumBreakdowns(children...), "section vs top-level")
	}
}

func TestPackKey(t *testing.T) {
	for _, tc := range [][2]int64{{0, 0}, {1, 0}, {0, 1}, {3, 2}, {500, 1023}} {
		intros, credits := UnpackKey(PackKey(tc[0], tc[1]))
		if intros != tc[0] || credits != tc[1] {
			t.Errorf("round trip (%d, %d) -> (%d, %d)", tc[0], tc[1], intros, credits)
		}
	}
}

func TestBuild(t *testing.T) {
	c, _ := newTestCache(t)
	if !c.Ready() {
		t.Fatal("cache not ready after build")
	}

	overview, ok := c.SectionOverview(1)
	if !ok {
		t.Fatal("section 1 missing")
	}
	// Episode 12: one intro + one credits. Episode 13: one intro.
	// Episode 15: bare.
	want := Breakdown{Keys: map[int64]int64{
		PackKey(1, 1): 1,
		PackKey(1, 0): 1,
		0:             1,
	}, Items: 3}
	assertBreakdownEqual(t, overview, want, "section 1")

	movies, ok := c.SectionOverview(2)
	if !ok {
		t.Fatal("section 2 missing")
	}
	want = Breakdown{Keys: map[int64]int64{PackKey(0, 1): 1}, Commercials: 1, Items: 1}
	assertBreakdownEqual(t, movies, want, "section 2")

	assertCoherent(t, c)

	if !c.MarkerExists(1) || c.MarkerExists(999) {
		t.Error("MarkerExists wrong")
	}
	if !c.BaseItemExists(12) || c.BaseItemExists(999) {
		t.Error("BaseItemExists wrong")
	}
}

func TestBuildSkipsOrphanedMarkers(t *testing.T) {
	src := &fakeSource{
		items:   []*models.BaseItem{episode(12, 11, 10, 1)},
		markers: []*models.Marker{marker(1, 777, 11, 10, 1, models.MarkerTypeIntro)},
	}
	c := New(src)
	if err := c.Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.MarkerExists(1) {
		t.Error("orphaned marker should not be indexed")
	}
	overview, _ := c.SectionOverview(1)
	assertBreakdownEqual(t, overview, Breakdown{Keys: map[int64]int64{0: 1}, Items: 1}, "section 1")
}

func TestMutationDeltas(t *testing.T) {
	c, _ := newTestCache(t)

	// Episode 15 gains an intro: key 0 -> key(1,0).
	added := marker(6, 15, 14, 10, 1, models.MarkerTypeIntro)
	c.AddMarker(added)
	assertCoherent(t, c)

	season, ok := c.SeasonStats(10, 14)
	if !ok {
		t.Fatal("season 14 missing")
	}
	assertBreakdownEqual(t, season, Breakdown{Keys: map[int64]int64{PackKey(1, 0): 1}, Items: 1}, "season 14 after add")

	// Type change moves the key.
	edited := *added
	edited.Type = models.MarkerTypeCredits
	c.UpdateMarker(added, &edited)
	assertCoherent(t, c)
	season, _ = c.SeasonStats(10, 14)
	assertBreakdownEqual(t, season, Breakdown{Keys: map[int64]int64{PackKey(0, 1): 1}, Items: 1}, "season 14 after type change")

	// A pure range edit moves no keys.
	moved := edited
	moved.Start, moved.End = 99000, 99500
	c.UpdateMarker(&edited, &moved)
	season, _ = c.SeasonStats(10, 14)
	assertBreakdownEqual(t, season, Breakdown{Keys: map[int64]int64{PackKey(0, 1): 1}, Items: 1}, "season 14 after range edit")

	// Removal restores the bare key.
	c.RemoveMarker(&moved)
	assertCoherent(t, c)
	season, _ = c.SeasonStats(10, 14)
	assertBreakdownEqual(t, season, Breakdown{Keys: map[int64]int64{0: 1}, Items: 1}, "season 14 after remove")
	if c.MarkerExists(6) {
		t.Error("removed marker still indexed")
	}
}

func TestCommercialsRideBesideKey(t *testing.T) {
	c, _ := newTestCache(t)

	// A commercial on episode 13 changes no key, only the count.
	before, _ := c.TreeStats(10)
	c.AddMarker(marker(7, 13, 11, 10, 1, models.MarkerTypeCommercial))
	after, _ := c.TreeStats(10)

	assertBreakdownEqual(t, after.Show,
		Breakdown{Keys: before.Show.Keys, Commercials: before.Show.Commercials + 1, Items: before.Show.Items},
		"show after commercial")
	assertCoherent(t, c)
}

func TestNukeSection(t *testing.T) {
	c, _ := newTestCache(t)

	// Only intros in section 1.
	c.NukeSection(1, []models.MarkerType{models.MarkerTypeIntro})
	assertCoherent(t, c)

	overview, _ := c.SectionOverview(1)
	want := Breakdown{Keys: map[int64]int64{PackKey(0, 1): 1, 0: 2}, Items: 3}
	assertBreakdownEqual(t, overview, want, "section 1 after nuke intros")

	// Section 2 untouched.
	movies, _ := c.SectionOverview(2)
	if movies.Commercials != 1 {
		t.Errorf("section 2 commercials = %d, want 1", movies.Commercials)
	}

	// Full nuke clears everything.
	c.NukeSection(2, nil)
	movies, _ = c.SectionOverview(2)
	assertBreakdownEqual(t, movies, Breakdown{Keys: map[int64]int64{0: 1}, Items: 1}, "section 2 after full nuke")
}

func TestTryUpdateCache(t *testing.T) {
	c, src := newTestCache(t)

	// The host added a new show since boot.
	src.items = append(src.items, episode(31, 30, 29, 1))
	src.markers = append(src.markers, marker(8, 31, 30, 29, 1, models.MarkerTypeIntro))

	if c.BaseItemExists(31) {
		t.Fatal("item 31 should be unknown before injection")
	}
	if err := c.TryUpdateCache(context.Background(), 29); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if !c.BaseItemExists(31) || !c.MarkerExists(8) {
		t.Fatal("injected subtree not visible")
	}

	tree, ok := c.TreeStats(29)
	if !ok {
		t.Fatal("show 29 missing after injection")
	}
	assertBreakdownEqual(t, tree.Show, Breakdown{Keys: map[int64]int64{PackKey(1, 0): 1}, Items: 1}, "injected show")

	// Re-injecting the same scope must not double-count.
	if err := c.TryUpdateCache(context.Background(), 29); err != nil {
		t.Fatalf("re-inject: %v", err)
	}
	tree, _ = c.TreeStats(29)
	assertBreakdownEqual(t, tree.Show, Breakdown{Keys: map[int64]int64{PackKey(1, 0): 1}, Items: 1}, "re-injected show")
	assertCoherent(t, c)
}

func TestItemMarkersOrdered(t *testing.T) {
	c, _ := newTestCache(t)
	markers := c.ItemMarkers(12)
	if len(markers) != 2 {
		t.Fatalf("marker count = %d, want 2", len(markers))
	}
	if markers[0].Start > markers[1].Start {
		t.Error("markers not in start order")
	}
	if c.ItemMarkers(999) != nil {
		t.Error("unknown item should return nil")
	}
}
