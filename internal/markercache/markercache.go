// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package markercache is the hierarchical in-memory index of every
// marker and base item, keyed Section -> Show -> Season -> Episode for
// show libraries and Section -> Movie for movie libraries. Each node
// carries an aggregate breakdown; mutation deltas propagate up the id
// chain iteratively. The whole structure sits behind one RWMutex:
// queries take the read side, mutators take the write side for the
// delta only.
package markercache

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/models"
)

// keyBase packs a base item's (intros, credits) pair into one integer:
// key = intros*keyBase + credits. Commercials ride beside the key as a
// separate count and never contribute to it.
const keyBase = 1024

// PackKey builds the breakdown key for an (intros, credits) pair.
func PackKey(intros, credits int64) int64 {
	return intros*keyBase + credits
}

// UnpackKey is the inverse of PackKey.
func UnpackKey(key int64) (intros, credits int64) {
	return key / keyBase, key % keyBase
}

// Breakdown is the aggregate view of a node: how many base items below
// it carry each (intros, credits) key, plus the commercial marker
// count.
type Breakdown struct {
	Keys        map[int64]int64 `json:"keys"`
	Commercials int64           `json:"commercials"`
	Items       int64           `json:"itemCount"`
}

func newBreakdown() *Breakdown {
	return &Breakdown{Keys: make(map[int64]int64)}
}

func (b *Breakdown) shift(oldKey, newKey int64) {
	if oldKey == newKey {
		return
	}
	b.Keys[oldKey]--
	if b.Keys[oldKey] == 0 {
		delete(b.Keys, oldKey)
	}
	b.Keys[newKey]++
}

func (b *Breakdown) addItem(key int64) {
	b.Keys[key]++
	b.Items++
}

func (b *Breakdown) removeItem(key int64) {
	b.Keys[key]--
	if b.Keys[key] == 0 {
		delete(b.Keys, key)
	}
	b.Items--
}

// Clone returns a copy safe to hand out after the read lock drops.
func (b *Breakdown) Clone() Breakdown {
	keys := make(map[int64]int64, len(b.Keys))
	for k, v := range b.Keys {
		keys[k] = v
	}
	return Breakdown{Keys: keys, Commercials: b.Commercials, Items: b.Items}
}

// Source supplies the cache's bulk reads. Implemented by the query
// manager.
type Source interface {
	AllBaseItems(ctx context.Context) ([]*models.BaseItem, error)
	AllMarkers(ctx context.Context) ([]*models.Marker, error)
	ScopeItems(ctx context.Context, scopeID int64) ([]*models.BaseItem, error)
	MarkersForParents(ctx context.Context, parentIDs []int64) (map[int64][]*models.Marker, error)
}

// itemNode is a leaf: one episode or movie with its markers and per
// type counts.
type itemNode struct {
	item        *models.BaseItem
	markers     map[int64]*models.Marker
	intros      int64
	credits     int64
	commercials int64
}

func (n *itemNode) key() int64 {
	return PackKey(n.intros, n.credits)
}

type seasonNode struct {
	id       int64
	showID   int64
	episodes map[int64]struct{}
	bd       *Breakdown
}

type showNode struct {
	id        int64
	sectionID int64
	seasons   map[int64]struct{}
	bd        *Breakdown
}

type sectionNode struct {
	id     int64
	shows  map[int64]struct{}
	movies map[int64]struct{}
	bd     *Breakdown
}

// Cache is the shared marker index. Zero value is not usable; call New.
type Cache struct {
	src Source

	mu       sync.RWMutex
	sections map[int64]*sectionNode
	shows    map[int64]*showNode
	seasons  map[int64]*seasonNode
	items    map[int64]*itemNode
	markers  map[int64]int64 // marker id -> parent id
	built    bool
}

// New returns an empty cache backed by src.
func New(src Source) *Cache {
	c := &Cache{src: src}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.sections = make(map[int64]*sectionNode)
	c.shows = make(map[int64]*showNode)
	c.seasons = make(map[int64]*seasonNode)
	c.items = make(map[int64]*itemNode)
	c.markers = make(map[int64]int64)
}

// Build populates the cache from two bulk queries, joined in memory.
// Safe to call again for a full rebuild.
func (c *Cache) Build(ctx context.Context) error {
	items, err := c.src.AllBaseItems(ctx)
	if err != nil {
		return err
	}
	markers, err := c.src.AllMarkers(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	for _, item := range items {
		c.ensureItemLocked(item)
	}
	orphans := 0
	for _, marker := range markers {
		if _, ok := c.items[marker.ParentID]; !ok {
			orphans++
			continue
		}
		c.addMarkerLocked(marker)
	}
	c.built = true

	evt := logging.Info().
		Int("items", len(items)).
		Int("markers", len(markers)).
		Int("sections", len(c.sections))
	if orphans > 0 {
		evt = evt.Int("orphaned_markers", orphans)
	}
	evt.Msg("Marker cache built")
	return nil
}

// Ready reports whether Build has completed at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// ensureItemLocked creates the leaf node and its ancestor chain,
// registering the empty (key 0) breakdown entry on every ancestor.
func (c *Cache) ensureItemLocked(item *models.BaseItem) *itemNode {
	if node, ok := c.items[item.MetadataID]; ok {
		return node
	}
	node := &itemNode{item: item, markers: make(map[int64]*models.Marker)}
	c.items[item.MetadataID] = node

	section, ok := c.sections[item.SectionID]
	if !ok {
		section = &sectionNode{
			id:     item.SectionID,
			shows:  make(map[int64]struct{}),
			movies: make(map[int64]struct{}),
			bd:     newBreakdown(),
		}
		c.sections[item.SectionID] = section
	}

	if item.IsMovie() {
		section.movies[item.MetadataID] = struct{}{}
		section.bd.addItem(0)
		return node
	}

	show, ok := c.shows[item.ShowID]
	if !ok {
		show = &showNode{id: item.ShowID, sectionID: item.SectionID, seasons: make(map[int64]struct{}), bd: newBreakdown()}
		c.shows[item.ShowID] = show
		section.shows[item.ShowID] = struct{}{}
	}
	season, ok := c.seasons[item.SeasonID]
	if !ok {
		season = &seasonNode{id: item.SeasonID, showID: item.ShowID, episodes: make(map[int64]struct{}), bd: newBreakdown()}
		c.seasons[item.SeasonID] = season
		show.seasons[item.SeasonID] = struct{}{}
	}
	season.episodes[item.MetadataID] = struct{}{}

	season.bd.addItem(0)
	show.bd.addItem(0)
	section.bd.addItem(0)
	return node
}

// ancestors walks the id chain from a leaf to the root, iteratively.
func (c *Cache) ancestors(node *itemNode) []*Breakdown {
	chain := make([]*Breakdown, 0, 3)
	if !node.item.IsMovie() {
		if season, ok := c.seasons[node.item.SeasonID]; ok {
			chain = append(chain, season.bd)
		}
		if show, ok := c.shows[node.item.ShowID]; ok {
			chain = append(chain, show.bd)
		}
	}
	if section, ok := c.sections[node.item.SectionID]; ok {
		chain = append(chain, section.bd)
	}
	return chain
}

func (c *Cache) applyDelta(node *itemNode, oldKey int64, commercialDelta int64) {
	newKey := node.key()
	for _, bd := range c.ancestors(node) {
		bd.shift(oldKey, newKey)
		bd.Commercials += commercialDelta
	}
}

func (c *Cache) addMarkerLocked(marker *models.Marker) {
	node, ok := c.items[marker.ParentID]
	if !ok {
		logging.Warn().
			Int64("marker", marker.ID).
			Int64("parent", marker.ParentID).
			Msg("Marker for unknown base item ignored by cache")
		return
	}
	oldKey := node.key()
	node.markers[marker.ID] = marker
	c.markers[marker.ID] = marker.ParentID

	var commercialDelta int64
	switch marker.Type {
	case models.MarkerTypeIntro:
		node.intros++
	case models.MarkerTypeCredits:
		node.credits++
	case models.MarkerTypeCommercial:
		node.commercials++
		commercialDelta = 1
	}
	c.applyDelta(node, oldKey, commercialDelta)
}

func (c *Cache) removeMarkerLocked(marker *models.Marker) {
	parentID, ok := c.markers[marker.ID]
	if !ok {
		return
	}
	node, ok := c.items[parentID]
	if !ok {
		return
	}
	oldKey := node.key()
	delete(node.markers, marker.ID)
	delete(c.markers, marker.ID)

	var commercialDelta int64
	switch marker.Type {
	case models.MarkerTypeIntro:
		node.intros--
	case models.MarkerTypeCredits:
		node.credits--
	case models.MarkerTypeCommercial:
		node.commercials--
		commercialDelta = -1
	}
	c.applyDelta(node, oldKey, commercialDelta)
}

// AddMarker registers a committed marker insert.
func (c *Cache) AddMarker(marker *models.Marker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addMarkerLocked(marker)
}

// RemoveMarker registers a committed marker delete.
func (c *Cache) RemoveMarker(marker *models.Marker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeMarkerLocked(marker)
}

// UpdateMarker registers a committed marker edit. Only a type change
// moves the breakdown key; range edits just replace the stored row.
func (c *Cache) UpdateMarker(old, updated *models.Marker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[updated.ParentID]
	if !ok {
		return
	}
	if old.Type != updated.Type {
		c.removeMarkerLocked(old)
		c.addMarkerLocked(updated)
		return
	}
	node.markers[updated.ID] = updated
	c.markers[updated.ID] = updated.ParentID
}

// NukeSection drops every cached marker of the listed types in a
// section. An empty type list means all types.
func (c *Cache) NukeSection(sectionID int64, types []models.MarkerType) {
	match := make(map[models.MarkerType]bool, 3)
	if len(types) == 0 {
		match[models.MarkerTypeIntro] = true
		match[models.MarkerTypeCredits] = true
		match[models.MarkerTypeCommercial] = true
	} else {
		for _, t := range types {
			match[t] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.items {
		if node.item.SectionID != sectionID {
			continue
		}
		for _, marker := range node.markers {
			if match[marker.Type] {
				c.removeMarkerLocked(marker)
			}
		}
	}
}

// TryUpdateCache fetches and injects the subtree under scopeID (a
// show, season, episode, or movie the cache has never seen, typically
// content the host added after boot). Existing subtree entries are
// replaced.
func (c *Cache) TryUpdateCache(ctx context.Context, scopeID int64) error {
	items, err := c.src.ScopeItems(ctx, scopeID)
	if err != nil {
		return err
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.MetadataID
	}
	markersByParent, err := c.src.MarkersForParents(ctx, ids)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range items {
		if node, ok := c.items[item.MetadataID]; ok {
			for _, marker := range node.markers {
				c.removeMarkerLocked(marker)
			}
		}
		node := c.ensureItemLocked(item)
		node.item = item
		for _, marker := range markersByParent[item.MetadataID] {
			c.addMarkerLocked(marker)
		}
	}
	logging.Debug().Int64("scope", scopeID).Int("items", len(items)).Msg("Cache subtree injected")
	return nil
}

// SectionOverview returns the aggregate breakdown of one section.
func (c *Cache) SectionOverview(sectionID int64) (Breakdown, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	section, ok := c.sections[sectionID]
	if !ok {
		return Breakdown{}, false
	}
	return section.bd.Clone(), true
}

// TopLevelStats returns the breakdown of every top-level item (show or
// movie) in a section, keyed by metadata id.
func (c *Cache) TopLevelStats(sectionID int64) (map[int64]Breakdown, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	section, ok := c.sections[sectionID]
	if !ok {
		return nil, false
	}
	stats := make(map[int64]Breakdown, len(section.shows)+len(section.movies))
	for showID := range section.shows {
		if show, ok := c.shows[showID]; ok {
			stats[showID] = show.bd.Clone()
		}
	}
	for movieID := range section.movies {
		if node, ok := c.items[movieID]; ok {
			stats[movieID] = itemBreakdown(node)
		}
	}
	return stats, true
}

// SeasonStats returns the breakdown of one season of a show.
func (c *Cache) SeasonStats(showID, seasonID int64) (Breakdown, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	season, ok := c.seasons[seasonID]
	if !ok || season.showID != showID {
		return Breakdown{}, false
	}
	return season.bd.Clone(), true
}

// ShowStats is the TreeStats result: the show rollup plus per-season
// breakdowns.
type ShowStats struct {
	Show    Breakdown           `json:"show"`
	Seasons map[int64]Breakdown `json:"seasons"`
}

// TreeStats returns the show's breakdown with every season broken out.
func (c *Cache) TreeStats(showID int64) (ShowStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	show, ok := c.shows[showID]
	if !ok {
		return ShowStats{}, false
	}
	stats := ShowStats{Show: show.bd.Clone(), Seasons: make(map[int64]Breakdown, len(show.seasons))}
	for seasonID := range show.seasons {
		if season, ok := c.seasons[seasonID]; ok {
			stats.Seasons[seasonID] = season.bd.Clone()
		}
	}
	return stats, true
}

// ItemMarkers returns the cached markers of one base item in canonical
// order, or nil when the item is unknown.
func (c *Cache) ItemMarkers(metadataID int64) []*models.Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.items[metadataID]
	if !ok {
		return nil
	}
	markers := make([]*models.Marker, 0, len(node.markers))
	for _, m := range node.markers {
		markers = append(markers, m)
	}
	sortCached(markers)
	return markers
}

// MarkerExists reports whether the cache has seen the marker id.
func (c *Cache) MarkerExists(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.markers[id]
	return ok
}

// BaseItemExists reports whether the cache has seen the base item id.
func (c *Cache) BaseItemExists(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[id]
	return ok
}

func sortCached(markers []*models.Marker) {
	sort.Slice(markers, func(i, j int) bool {
		return models.MarkerBefore(markers[i], markers[j])
	})
}

func itemBreakdown(node *itemNode) Breakdown {
	bd := Breakdown{Keys: map[int64]int64{node.key(): 1}, Commercials: node.commercials, Items: 1}
	return bd
}
