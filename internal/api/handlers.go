// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/auth"
	"github.com/tomtom215/markerforge/internal/config"
	"github.com/tomtom215/markerforge/internal/events"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/markercache"
	"github.com/tomtom215/markerforge/internal/metrics"
	"github.com/tomtom215/markerforge/internal/models"
	"github.com/tomtom215/markerforge/internal/plex"
	"github.com/tomtom215/markerforge/internal/timeexp"
)

// ---- marker queries ----

type queryRequest struct {
	Keys []int64 `json:"keys"`
}

// handleQuery returns the markers for each requested base item, keyed
// by metadata id. Unknown ids trigger a subtree refresh before giving
// up, so items added since the cache build still resolve.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) (any, error) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Keys) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "no keys requested")
	}

	result := make(map[int64][]*models.Marker, len(req.Keys))
	for _, key := range req.Keys {
		if !s.deps.Cache.BaseItemExists(key) {
			if err := s.deps.Cache.TryUpdateCache(r.Context(), key); err != nil {
				return nil, err
			}
		}
		markers := s.deps.Cache.ItemMarkers(key)
		if markers == nil {
			markers = []*models.Marker{}
		}
		result[key] = markers
	}
	return result, nil
}

// ---- single-marker mutations ----

// timeValue is a timestamp field that arrives either as milliseconds
// or as a textual expression ("1:30", "-2:00", "=C@Ch1S+5000").
type timeValue struct {
	raw json.RawMessage
}

func (t *timeValue) UnmarshalJSON(data []byte) error {
	t.raw = append(t.raw[:0], data...)
	return nil
}

func (t *timeValue) isSet() bool {
	return len(t.raw) > 0 && string(t.raw) != "null"
}

// resolve evaluates the field for one base item. The returned marker
// type is non-empty only when the expression forces one.
func (s *Server) resolve(r *http.Request, t timeValue, metadataID int64, isEnd bool) (int64, models.MarkerType, error) {
	if !t.isSet() {
		return 0, "", apperr.New(apperr.KindInvalidInput, "missing timestamp")
	}

	var ms int64
	if err := json.Unmarshal(t.raw, &ms); err == nil {
		return ms, "", nil
	}

	var text string
	if err := json.Unmarshal(t.raw, &text); err != nil {
		return 0, "", apperr.New(apperr.KindInvalidInput, "timestamp must be a number or expression string")
	}

	expr, err := timeexp.Parse(text)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.KindInvalidInput, err, "bad timestamp expression")
	}

	ectx := timeexp.Context{IsEnd: isEnd}
	item, err := s.deps.Plex.BaseItem(r.Context(), metadataID)
	if err != nil {
		return 0, "", err
	}
	ectx.Duration = item.Duration
	ectx.Markers = s.deps.Cache.ItemMarkers(metadataID)
	if expr.HasReference() {
		chapters, err := s.deps.Plex.Chapters(r.Context(), metadataID)
		if err != nil {
			return 0, "", err
		}
		ectx.Chapters = chapters
	}

	ms, err = expr.Evaluate(ectx)
	if err != nil {
		if errors.Is(err, timeexp.ErrChapterNotFound) {
			return 0, "", apperr.Wrap(apperr.KindInvalidInput, err, "no matching chapter")
		}
		return 0, "", apperr.Wrap(apperr.KindInvalidInput, err, "expression did not evaluate")
	}
	return ms, expr.ForcedType(), nil
}

type addRequest struct {
	MetadataID int64     `json:"metadataId"`
	Start      timeValue `json:"start"`
	End        timeValue `json:"end"`
	Type       string    `json:"markerType"`
	Final      bool      `json:"final"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) (any, error) {
	var req addRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	start, forcedStart, err := s.resolve(r, req.Start, req.MetadataID, false)
	if err != nil {
		return nil, err
	}
	end, forcedEnd, err := s.resolve(r, req.End, req.MetadataID, true)
	if err != nil {
		return nil, err
	}

	mt, err := resolveMarkerType(req.Type, forcedStart, forcedEnd)
	if err != nil {
		return nil, err
	}

	marker, err := s.deps.Plex.Add(r.Context(), req.MetadataID, start, end, mt, req.Final)
	metrics.RecordMutation("add", err)
	if err != nil {
		return nil, err
	}
	return marker, nil
}

type editRequest struct {
	ID    int64     `json:"id"`
	Start timeValue `json:"start"`
	End   timeValue `json:"end"`
	Type  string    `json:"markerType"`
	Final bool      `json:"final"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) (any, error) {
	var req editRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	existing, err := s.deps.Plex.Marker(r.Context(), req.ID)
	if err != nil {
		return nil, err
	}

	start, forcedStart, err := s.resolve(r, req.Start, existing.ParentID, false)
	if err != nil {
		return nil, err
	}
	end, forcedEnd, err := s.resolve(r, req.End, existing.ParentID, true)
	if err != nil {
		return nil, err
	}

	mt, err := resolveMarkerType(req.Type, forcedStart, forcedEnd)
	if err != nil {
		return nil, err
	}

	marker, err := s.deps.Plex.Edit(r.Context(), req.ID, start, end, mt, req.Final)
	metrics.RecordMutation("edit", err)
	if err != nil {
		return nil, err
	}
	return marker, nil
}

type deleteRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) (any, error) {
	var req deleteRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	marker, err := s.deps.Plex.Delete(r.Context(), req.ID)
	metrics.RecordMutation("delete", err)
	if err != nil {
		return nil, err
	}
	return marker, nil
}

// resolveMarkerType reconciles the explicit type field with any type
// forced by a start/end expression. An explicit field wins; two
// expressions forcing different types is an error.
func resolveMarkerType(explicit string, forcedStart, forcedEnd models.MarkerType) (models.MarkerType, error) {
	if forcedStart != "" && forcedEnd != "" && forcedStart != forcedEnd {
		return "", apperr.Newf(apperr.KindInvalidInput,
			"expressions force conflicting types %q and %q", forcedStart, forcedEnd)
	}
	if explicit != "" {
		mt, err := models.ParseMarkerType(explicit)
		if err != nil {
			return "", apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
		}
		return mt, nil
	}
	if forcedStart != "" {
		return forcedStart, nil
	}
	if forcedEnd != "" {
		return forcedEnd, nil
	}
	return models.MarkerTypeIntro, nil
}

// ---- library browsing ----

func (s *Server) handleGetSections(w http.ResponseWriter, r *http.Request) (any, error) {
	sections, err := s.deps.Plex.Sections(r.Context())
	if err != nil {
		return nil, err
	}
	bySection, _ := s.deps.Backup.PurgeCounts()

	type sectionView struct {
		models.LibrarySection
		PurgeCount int `json:"purgeCount"`
	}
	views := make([]sectionView, 0, len(sections))
	for _, section := range sections {
		views = append(views, sectionView{
			LibrarySection: section,
			PurgeCount:     bySection[section.ID],
		})
	}
	return views, nil
}

type scopeRequest struct {
	ID int64 `json:"id"`
}

// handleGetSection lists a section's top-level items (shows or movies)
// with their marker breakdowns.
func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	items, err := s.deps.Plex.SectionItems(r.Context(), req.ID)
	if err != nil {
		return nil, err
	}
	stats, ok := s.deps.Cache.TopLevelStats(req.ID)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "unknown section %d", req.ID)
	}
	_, byShow := s.deps.Backup.PurgeCounts()

	type itemView struct {
		models.SectionItem
		Breakdown  markercache.Breakdown `json:"breakdown"`
		PurgeCount int                   `json:"purgeCount"`
	}
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, itemView{
			SectionItem: item,
			Breakdown:   stats[item.MetadataID],
			PurgeCount:  byShow[item.MetadataID],
		})
	}
	return views, nil
}

func (s *Server) handleGetSeasons(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	seasons, err := s.deps.Plex.Seasons(r.Context(), req.ID)
	if err != nil {
		return nil, err
	}
	tree, ok := s.deps.Cache.TreeStats(req.ID)
	if !ok {
		if err := s.deps.Cache.TryUpdateCache(r.Context(), req.ID); err != nil {
			return nil, err
		}
		tree, _ = s.deps.Cache.TreeStats(req.ID)
	}

	type seasonView struct {
		models.SeasonInfo
		Breakdown markercache.Breakdown `json:"breakdown"`
	}
	views := make([]seasonView, 0, len(seasons))
	for _, season := range seasons {
		views = append(views, seasonView{
			SeasonInfo: season,
			Breakdown:  tree.Seasons[season.MetadataID],
		})
	}
	return views, nil
}

func (s *Server) handleGetEpisodes(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	episodes, err := s.deps.Plex.Episodes(r.Context(), req.ID)
	if err != nil {
		return nil, err
	}

	type episodeView struct {
		models.EpisodeInfo
		Markers []*models.Marker `json:"markers"`
	}
	views := make([]episodeView, 0, len(episodes))
	for _, episode := range episodes {
		markers := s.deps.Cache.ItemMarkers(episode.MetadataID)
		if markers == nil {
			markers = []*models.Marker{}
		}
		views = append(views, episodeView{EpisodeInfo: episode, Markers: markers})
	}
	return views, nil
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	overview, ok := s.deps.Cache.SectionOverview(req.ID)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "unknown section %d", req.ID)
	}
	return overview, nil
}

func (s *Server) handleGetBreakdown(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	tree, ok := s.deps.Cache.TreeStats(req.ID)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "unknown show %d", req.ID)
	}
	return tree, nil
}

func (s *Server) handleGetChapters(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.deps.Plex.Chapters(r.Context(), req.ID)
}

// ---- bulk operations ----

func parseTypes(names []string) ([]models.MarkerType, error) {
	if len(names) == 0 {
		return []models.MarkerType{
			models.MarkerTypeIntro,
			models.MarkerTypeCredits,
			models.MarkerTypeCommercial,
		}, nil
	}
	types := make([]models.MarkerType, 0, len(names))
	for _, name := range names {
		mt, err := models.ParseMarkerType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, mt)
	}
	return types, nil
}

type bulkShiftRequest struct {
	ID       int64    `json:"id"`
	Shift    int64    `json:"shift"`
	Types    []string `json:"applyTo"`
	Policy   string   `json:"overlapPolicy"`
	Excluded []int64  `json:"excluded"`
	DryRun   bool     `json:"dryRun"`
}

func (s *Server) handleBulkShift(w http.ResponseWriter, r *http.Request) (any, error) {
	var req bulkShiftRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	types, err := parseTypes(req.Types)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
	}
	policy := plex.ShiftMerge
	if req.Policy != "" {
		if policy, err = plex.ParseShiftPolicy(req.Policy); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad overlap policy")
		}
	}

	if req.DryRun {
		return s.deps.Plex.CheckBulkShift(r.Context(), req.ID, req.Shift, types, policy, req.Excluded)
	}
	results, err := s.deps.Plex.BulkShift(r.Context(), req.ID, req.Shift, types, policy, req.Excluded)
	metrics.RecordMutation("bulkShift", err)
	return results, err
}

type bulkAddRequest struct {
	ID     int64  `json:"id"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Type   string `json:"markerType"`
	Final  bool   `json:"final"`
	Policy string `json:"overlapPolicy"`
}

func (s *Server) handleCheckBulkAdd(w http.ResponseWriter, r *http.Request) (any, error) {
	var req bulkAddRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	policy, err := parseAddPolicy(req.Policy)
	if err != nil {
		return nil, err
	}
	return s.deps.Plex.CheckBulkAdd(r.Context(), req.ID, req.Start, req.End, policy)
}

func (s *Server) handleBulkAdd(w http.ResponseWriter, r *http.Request) (any, error) {
	var req bulkAddRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	mt, err := models.ParseMarkerType(req.Type)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
	}
	policy, err := parseAddPolicy(req.Policy)
	if err != nil {
		return nil, err
	}
	results, err := s.deps.Plex.BulkAdd(r.Context(), req.ID, req.Start, req.End, mt, req.Final, policy)
	metrics.RecordMutation("bulkAdd", err)
	return results, err
}

func parseAddPolicy(name string) (plex.AddPolicy, error) {
	if name == "" {
		return plex.AddIgnore, nil
	}
	policy, err := plex.ParseAddPolicy(name)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInvalidInput, err, "bad overlap policy")
	}
	return policy, nil
}

type bulkDeleteRequest struct {
	ID       int64    `json:"id"`
	Types    []string `json:"applyTo"`
	Excluded []int64  `json:"excluded"`
}

func (s *Server) handleCheckBulkDelete(w http.ResponseWriter, r *http.Request) (any, error) {
	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
	}
	return s.deps.Plex.CheckBulkDelete(r.Context(), req.ID, types, req.Excluded)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) (any, error) {
	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
	}
	results, err := s.deps.Plex.BulkDelete(r.Context(), req.ID, types, req.Excluded)
	metrics.RecordMutation("bulkDelete", err)
	return results, err
}

type nukeRequest struct {
	SectionID int64    `json:"sectionId"`
	Types     []string `json:"applyTo"`
}

func (s *Server) handleNukeSection(w http.ResponseWriter, r *http.Request) (any, error) {
	var req nukeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "bad marker type")
	}
	results, err := s.deps.Plex.NukeSection(r.Context(), req.SectionID, types)
	metrics.RecordMutation("nukeSection", err)
	return results, err
}

// ---- purge reconciliation ----

func (s *Server) handlePurgeCheck(w http.ResponseWriter, r *http.Request) (any, error) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.deps.Backup.CheckForPurges(r.Context(), req.ID)
}

func (s *Server) handleAllPurges(w http.ResponseWriter, r *http.Request) (any, error) {
	return s.deps.Backup.AllPurges(r.Context())
}

type actionIDsRequest struct {
	ActionIDs []int64 `json:"actionIds"`
}

func (s *Server) handleRestorePurge(w http.ResponseWriter, r *http.Request) (any, error) {
	var req actionIDsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.ActionIDs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "no actions selected")
	}
	results, err := s.deps.Backup.RestoreMarkers(r.Context(), req.ActionIDs)
	metrics.RecordMutation("restore", err)
	if err != nil {
		return nil, err
	}
	s.rebuildPurgeIndicators(r)
	return results, nil
}

func (s *Server) handleIgnorePurge(w http.ResponseWriter, r *http.Request) (any, error) {
	var req actionIDsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.ActionIDs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "no actions selected")
	}
	if err := s.deps.Backup.IgnorePurgedMarkers(r.Context(), req.ActionIDs); err != nil {
		return nil, err
	}
	s.rebuildPurgeIndicators(r)
	return nil, nil
}

// rebuildPurgeIndicators refreshes the per-section purge counts after a
// restore or ignore so the sidebar badges update on the next fetch.
func (s *Server) rebuildPurgeIndicators(r *http.Request) {
	if s.deps.Bus == nil {
		return
	}
	if err := s.deps.Bus.Publish(r.Context(), events.EventRebuildPurgedCache); err != nil {
		log := logging.Ctx(r.Context())
		log.Warn().Err(err).Msg("Purge cache rebuild not delivered")
	}
}

func (s *Server) handleExportActions(w http.ResponseWriter, r *http.Request) (any, error) {
	return s.deps.Backup.ExportActions(r.Context())
}

type importRequest struct {
	Actions []*models.BackupAction `json:"actions"`
}

func (s *Server) handleImportActions(w http.ResponseWriter, r *http.Request) (any, error) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Actions) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "nothing to import")
	}
	return s.deps.Backup.ImportActions(r.Context(), req.Actions)
}

// ---- configuration ----

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) (any, error) {
	return map[string]any{
		"state":    s.deps.FSM.State().String(),
		"settings": s.deps.Config.Serialize(),
	}, nil
}

type logSettingsRequest struct {
	Level string `json:"level"`
}

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

func (s *Server) handleSetLogSettings(w http.ResponseWriter, r *http.Request) (any, error) {
	var req logSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !logLevels[req.Level] {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown log level %q", req.Level)
	}
	logging.SetLevel(req.Level)
	return map[string]string{"level": req.Level}, nil
}

type validateConfigRequest struct {
	Config config.File `json:"config"`
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) (any, error) {
	var req validateConfigRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.deps.Config.Validate(req.Config), nil
}

type validateValueRequest struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleValidateConfigValue(w http.ResponseWriter, r *http.Request) (any, error) {
	var req validateValueRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.deps.Config.ValidateField(req.Name, req.Value)
}

func (s *Server) handleSetServerConfig(w http.ResponseWriter, r *http.Request) (any, error) {
	var req validateConfigRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	result, err := s.deps.Config.Apply(req.Config)
	if err != nil {
		return nil, err
	}
	if s.deps.Reconfigure != nil {
		if err := s.deps.Reconfigure(r.Context(), result); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"classification": result.Classification.String(),
		"changed":        result.Changed,
	}, nil
}

// ---- authentication ----

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) (any, error) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	token, err := s.deps.Auth.Login(r.Context(), req.Password)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
	return map[string]string{"token": token}, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) (any, error) {
	if token := sessionToken(r); token != "" {
		s.deps.Auth.Logout(r.Context(), token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return nil, nil
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) (any, error) {
	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	hash, err := s.deps.Auth.ChangePassword(r.Context(), req.OldPassword, req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Config.SetPassword(hash); err != nil {
		return nil, err
	}
	return nil, nil
}

// ---- lifecycle ----

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.deps.FSM.Transition(StateShuttingDown); err != nil {
		return nil, err
	}
	if s.deps.OnShutdown != nil {
		// Give the response a moment to flush before the listener dies.
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.deps.OnShutdown()
		}()
	}
	return map[string]string{"state": StateShuttingDown.String()}, nil
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.deps.FSM.Transition(StateReInit); err != nil {
		return nil, err
	}
	if s.deps.OnRestart != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.deps.OnRestart()
		}()
	}
	return map[string]string{"state": StateReInit.String()}, nil
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.deps.FSM.Transition(StateSuspended); err != nil {
		return nil, err
	}
	if err := s.deps.DB.Suspend(); err != nil {
		return nil, err
	}
	return map[string]string{"state": StateSuspended.String()}, nil
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.deps.FSM.Transition(StateRunning); err != nil {
		return nil, err
	}
	return map[string]string{"state": StateRunning.String()}, nil
}
