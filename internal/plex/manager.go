// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package plex is the query manager: the only component that reads and
// writes marker rows in the Plex database. It enforces the marker
// invariants (ordering, non-overlap, index contiguity), executes every
// mutation inside a transaction on the single writer queue, and
// mirrors each committed mutation into the marker cache and the backup
// action log.
package plex

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/models"
)

// CacheSink receives post-commit mutation deltas. Implemented by the
// marker cache; nil-safe via the manager's guards.
type CacheSink interface {
	AddMarker(m *models.Marker)
	RemoveMarker(m *models.Marker)
	UpdateMarker(old, updated *models.Marker)
}

// ActionRecorder is the backup log's write-ahead interface. Begin is
// called before the host mutation with the intended action; Commit
// promotes it once the host transaction has committed; Abort removes
// it when the host transaction rolled back.
type ActionRecorder interface {
	Begin(ctx context.Context, action *models.BackupAction) (int64, error)
	Commit(ctx context.Context, actionID, markerID int64) error
	Abort(ctx context.Context, actionID int64) error
}

// Manager is the typed read/write layer over the host database.
type Manager struct {
	db     *database.DB
	schema schemaInfo

	// mu is the logical writer queue: mutations on the same parent
	// commit in arrival order.
	mu sync.Mutex

	cache    CacheSink
	recorder ActionRecorder

	writeExtraData atomic.Bool
}

// New discovers the host schema and returns a Manager. cache and
// recorder may be nil (tests); the API layer always wires both.
func New(ctx context.Context, db *database.DB, cache CacheSink, recorder ActionRecorder, writeExtraData bool) (*Manager, error) {
	schema, err := discoverSchema(ctx, db)
	if err != nil {
		return nil, err
	}
	m := &Manager{db: db, schema: schema, cache: cache, recorder: recorder}
	m.writeExtraData.Store(writeExtraData)
	return m, nil
}

// SetCache wires the marker cache after construction. The cache needs
// the manager for its bulk reads, so it cannot exist first.
func (m *Manager) SetCache(cache CacheSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = cache
}

// SetRecorder wires the backup recorder after construction, for the
// same reason as SetCache.
func (m *Manager) SetRecorder(recorder ActionRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = recorder
}

// SetWriteExtraData hot-applies the write-extra-data setting.
func (m *Manager) SetWriteExtraData(enabled bool) {
	m.writeExtraData.Store(enabled)
}

// SchemaVersion exposes the discovered migration version.
func (m *Manager) SchemaVersion() int {
	return m.schema.schemaVersion
}

// markerColumns is the canonical select list for marker rows. The
// joined season row supplies show/section ids for episodes; movies
// fall back to the item's own section with -1 hierarchy ids.
const markerColumns = `
	t.id, t.metadata_item_id, t."index", t.text,
	t.time_offset, t.end_time_offset,
	COALESCE(t.thumb_url, ''), COALESCE(t.created_at, ''), COALESCE(t.extra_data, ''),
	i.library_section_id, i.metadata_type,
	COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1)`

const markerFrom = `
	FROM taggings t
	JOIN metadata_items i ON t.metadata_item_id = i.id
	LEFT JOIN metadata_items season ON i.parent_id = season.id`

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMarker reads one markerColumns row into canonical form.
func scanMarker(s rowScanner) (*models.Marker, error) {
	var (
		m            models.Marker
		text         string
		thumbURL     string
		createdAt    string
		extraData    string
		metadataType int
	)
	err := s.Scan(&m.ID, &m.ParentID, &m.Index, &text,
		&m.Start, &m.End,
		&thumbURL, &createdAt, &extraData,
		&m.SectionID, &metadataType,
		&m.SeasonID, &m.ShowID)
	if err != nil {
		return nil, err
	}
	mt, err := models.ParseMarkerType(text)
	if err != nil {
		// Unknown tagging text on the marker tag; treat as commercial
		// rather than dropping the row silently.
		mt = models.MarkerTypeCommercial
	}
	m.Type = mt
	if metadataType == models.MetadataTypeMovie {
		m.SeasonID = models.NoParent
		m.ShowID = models.NoParent
	}
	m.CreatedByUser = thumbURL != ""
	m.CreatedAt = parseCreatedAt(createdAt)
	m.Final = decodeExtraData(extraData)
	return &m, nil
}

// Marker fetches one marker by id.
func (m *Manager) Marker(ctx context.Context, id int64) (*models.Marker, error) {
	rows, err := m.db.All(ctx, `SELECT`+markerColumns+markerFrom+` WHERE t.id = ? AND t.tag_id = ?`, id, m.schema.markerTagID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapRows(err)
		}
		return nil, apperr.Newf(apperr.KindNotFound, "marker %d not found", id)
	}
	marker, err := scanMarker(rows)
	if err != nil {
		return nil, wrapRows(err)
	}
	return marker, nil
}

// MarkersForParents fetches all markers owned by the given base items,
// grouped by parent, each group in canonical (reindexed) order.
func (m *Manager) MarkersForParents(ctx context.Context, parentIDs []int64) (map[int64][]*models.Marker, error) {
	result := make(map[int64][]*models.Marker, len(parentIDs))
	for _, chunk := range chunkIDs(parentIDs, 500) {
		query := `SELECT` + markerColumns + markerFrom + ` WHERE t.tag_id = ? AND t.metadata_item_id IN (` + placeholders(len(chunk)) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, m.schema.markerTagID)
		for _, id := range chunk {
			args = append(args, id)
		}
		rows, err := m.db.All(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if err := func() error {
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				marker, err := scanMarker(rows)
				if err != nil {
					return wrapRows(err)
				}
				result[marker.ParentID] = append(result[marker.ParentID], marker)
			}
			return rows.Err()
		}(); err != nil {
			return nil, wrapRows(err)
		}
	}
	for _, markers := range result {
		sortMarkers(markers)
	}
	return result, nil
}

// AllMarkers enumerates every marker row for the cache build.
func (m *Manager) AllMarkers(ctx context.Context) ([]*models.Marker, error) {
	rows, err := m.db.All(ctx, `SELECT`+markerColumns+markerFrom+` WHERE t.tag_id = ?`, m.schema.markerTagID)
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
	return markers, nil
}

// BaseItem fetches one episode/movie row with its hierarchy ids and
// duration.
func (m *Manager) BaseItem(ctx context.Context, metadataID int64) (*models.BaseItem, error) {
	row, err := m.db.Get(ctx, `
		SELECT i.id, i.library_section_id, i.metadata_type,
		       COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1),
		       COALESCE(i.duration, 0), COALESCE(i.guid, ''), COALESCE(i.title, '')
		FROM metadata_items i
		LEFT JOIN metadata_items season ON i.parent_id = season.id
		WHERE i.id = ? AND i.metadata_type IN (?, ?)`,
		metadataID, models.MetadataTypeMovie, models.MetadataTypeEpisode)
	if err != nil {
		return nil, err
	}
	item, err := scanBaseItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "item %d not found", metadataID)
	}
	return item, err
}

func scanBaseItem(s rowScanner) (*models.BaseItem, error) {
	var (
		item         models.BaseItem
		metadataType int
	)
	err := s.Scan(&item.MetadataID, &item.SectionID, &metadataType,
		&item.SeasonID, &item.ShowID, &item.Duration, &item.GUID, &item.Title)
	if err != nil {
		return nil, err
	}
	if metadataType == models.MetadataTypeMovie {
		item.SeasonID = models.NoParent
		item.ShowID = models.NoParent
	}
	return &item, nil
}

// AllBaseItems enumerates every episode and movie for the cache build.
func (m *Manager) AllBaseItems(ctx context.Context) ([]*models.BaseItem, error) {
	rows, err := m.db.All(ctx, `
		SELECT i.id, i.library_section_id, i.metadata_type,
		       COALESCE(i.parent_id, -1), COALESCE(season.parent_id, -1),
		       COALESCE(i.duration, 0), COALESCE(i.guid, ''), COALESCE(i.title, '')
		FROM metadata_items i
		LEFT JOIN metadata_items season ON i.parent_id = season.id
		WHERE i.metadata_type IN (?, ?)`,
		models.MetadataTypeMovie, models.MetadataTypeEpisode)
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

// Sections lists the libraries that can hold markers (movie and show
// sections only).
func (m *Manager) Sections(ctx context.Context) ([]models.LibrarySection, error) {
	rows, err := m.db.All(ctx, `
		SELECT id, name, section_type
		FROM library_sections
		WHERE section_type IN (1, 2)
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sections []models.LibrarySection
	for rows.Next() {
		var s models.LibrarySection
		if err := rows.Scan(&s.ID, &s.Name, &s.Type); err != nil {
			return nil, wrapRows(err)
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return sections, nil
}

// SectionItems lists the top-level entries of a section: shows for TV
// libraries, movies for movie libraries.
func (m *Manager) SectionItems(ctx context.Context, sectionID int64) ([]models.SectionItem, error) {
	rows, err := m.db.All(ctx, `
		SELECT id, COALESCE(title, ''), metadata_type
		FROM metadata_items
		WHERE library_section_id = ? AND metadata_type IN (?, ?)
		ORDER BY title`,
		sectionID, models.MetadataTypeMovie, models.MetadataTypeShow)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []models.SectionItem
	for rows.Next() {
		var item models.SectionItem
		if err := rows.Scan(&item.MetadataID, &item.Title, &item.Type); err != nil {
			return nil, wrapRows(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return items, nil
}

// Seasons lists the seasons of a show.
func (m *Manager) Seasons(ctx context.Context, showID int64) ([]models.SeasonInfo, error) {
	rows, err := m.db.All(ctx, `
		SELECT s.id, COALESCE(s.title, ''), COALESCE(s."index", 0),
		       (SELECT COUNT(*) FROM metadata_items e WHERE e.parent_id = s.id AND e.metadata_type = ?)
		FROM metadata_items s
		WHERE s.parent_id = ? AND s.metadata_type = ?
		ORDER BY s."index"`,
		models.MetadataTypeEpisode, showID, models.MetadataTypeSeason)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var seasons []models.SeasonInfo
	for rows.Next() {
		var s models.SeasonInfo
		if err := rows.Scan(&s.MetadataID, &s.Title, &s.Index, &s.Episodes); err != nil {
			return nil, wrapRows(err)
		}
		seasons = append(seasons, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return seasons, nil
}

// Episodes lists the episodes of a season.
func (m *Manager) Episodes(ctx context.Context, seasonID int64) ([]models.EpisodeInfo, error) {
	rows, err := m.db.All(ctx, `
		SELECT e.id, COALESCE(e.title, ''), COALESCE(e."index", 0), COALESCE(e.duration, 0)
		FROM metadata_items e
		WHERE e.parent_id = ? AND e.metadata_type = ?
		ORDER BY e."index"`,
		seasonID, models.MetadataTypeEpisode)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var episodes []models.EpisodeInfo
	for rows.Next() {
		var e models.EpisodeInfo
		if err := rows.Scan(&e.MetadataID, &e.Title, &e.Index, &e.Duration); err != nil {
			return nil, wrapRows(err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return episodes, nil
}

// Chapters reads the item's chapter taggings. Items without chapters
// return an empty slice.
func (m *Manager) Chapters(ctx context.Context, metadataID int64) ([]models.Chapter, error) {
	if m.schema.chapterTagID == 0 {
		return nil, nil
	}
	rows, err := m.db.All(ctx, `
		SELECT COALESCE(t."index", 0), COALESCE(t.text, ''), t.time_offset, t.end_time_offset
		FROM taggings t
		WHERE t.metadata_item_id = ? AND t.tag_id = ?
		ORDER BY t.time_offset`,
		metadataID, m.schema.chapterTagID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chapters []models.Chapter
	for rows.Next() {
		var c models.Chapter
		if err := rows.Scan(&c.Index, &c.Name, &c.Start, &c.End); err != nil {
			return nil, wrapRows(err)
		}
		chapters = append(chapters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return chapters, nil
}

// MediaPath returns the first on-disk file path recorded for the item,
// as stored by Plex (unmapped).
func (m *Manager) MediaPath(ctx context.Context, metadataID int64) (string, error) {
	row, err := m.db.Get(ctx, `
		SELECT mp.file
		FROM media_items mi
		JOIN media_parts mp ON mp.media_item_id = mi.id
		WHERE mi.metadata_item_id = ?
		ORDER BY mp.id LIMIT 1`, metadataID)
	if err != nil {
		return "", err
	}
	var file string
	if err := row.Scan(&file); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.Newf(apperr.KindNotFound, "no media file recorded for item %d", metadataID)
		}
		return "", wrapRows(err)
	}
	return file, nil
}

// MediaHash returns the bundle hash Plex derived for the item, used to
// locate its precomputed thumbnail index.
func (m *Manager) MediaHash(ctx context.Context, metadataID int64) (string, error) {
	row, err := m.db.Get(ctx, `SELECT COALESCE(hash, '') FROM metadata_items WHERE id = ?`, metadataID)
	if err != nil {
		return "", err
	}
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.Newf(apperr.KindNotFound, "item %d not found", metadataID)
		}
		return "", wrapRows(err)
	}
	return hash, nil
}

// GUIDToMetadataID resolves a parent guid back to a live metadata id.
// Used when restoring purged markers after a host rescan re-created
// rows under new ids.
func (m *Manager) GUIDToMetadataID(ctx context.Context, guid string) (int64, error) {
	row, err := m.db.Get(ctx, `
		SELECT id FROM metadata_items
		WHERE guid = ? AND metadata_type IN (?, ?) LIMIT 1`,
		guid, models.MetadataTypeMovie, models.MetadataTypeEpisode)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.Newf(apperr.KindNotFound, "no item with guid %q", guid)
		}
		return 0, wrapRows(err)
	}
	return id, nil
}

// SectionStats returns marker counts per type for one section, used by
// cache rebuild reporting.
func (m *Manager) SectionStats(ctx context.Context, sectionID int64) (map[models.MarkerType]int64, error) {
	rows, err := m.db.All(ctx, `
		SELECT t.text, COUNT(*)
		FROM taggings t
		JOIN metadata_items i ON t.metadata_item_id = i.id
		WHERE t.tag_id = ? AND i.library_section_id = ?
		GROUP BY t.text`, m.schema.markerTagID, sectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[models.MarkerType]int64)
	for rows.Next() {
		var (
			text string
			n    int64
		)
		if err := rows.Scan(&text, &n); err != nil {
			return nil, wrapRows(err)
		}
		if mt, err := models.ParseMarkerType(text); err == nil {
			stats[mt] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapRows(err)
	}
	return stats, nil
}

// now is a hook for tests.
var now = time.Now

func wrapRows(err error) error {
	return apperr.Wrap(apperr.KindBackend, err, "row scan failed")
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}
	return string(b)
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]int64
	for size < len(ids) {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	return append(chunks, ids)
}
