// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/models"
)

// handleStatic serves the client bundle. Any path containing ".." is
// rejected before touching the filesystem.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Path
	if strings.Contains(requested, "..") {
		writeError(w, r, apperr.New(apperr.KindForbidden, "invalid path"))
		return
	}

	if requested == "/" || requested == "/index.html" {
		requested = "/index.html"
	}
	full := filepath.Join(s.deps.StaticRoot, filepath.FromSlash(requested))

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, r, apperr.New(apperr.KindNotFound, "not found"))
		return
	}

	// ServeFile answers */index.html with a canonical redirect to ./;
	// serve the page content directly.
	if filepath.Base(full) == "index.html" {
		f, err := os.Open(full)
		if err != nil {
			writeError(w, r, apperr.New(apperr.KindNotFound, "not found"))
			return
		}
		defer func() { _ = f.Close() }()
		http.ServeContent(w, r, "index.html", info.ModTime(), f)
		return
	}
	http.ServeFile(w, r, full)
}

// handleIcon serves a themed SVG: the client passes the fill color in
// the path and the server substitutes it into the icon template.
func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	hexColor := chi.URLParam(r, "hexColor")
	icon := chi.URLParam(r, "icon")

	if !validHexColor(hexColor) {
		writeError(w, r, apperr.Newf(apperr.KindInvalidInput, "invalid color %q", hexColor))
		return
	}
	if strings.Contains(icon, "..") {
		writeError(w, r, apperr.New(apperr.KindForbidden, "invalid path"))
		return
	}
	if !strings.HasSuffix(icon, ".svg") {
		writeError(w, r, apperr.New(apperr.KindNotFound, "not found"))
		return
	}

	data, err := os.ReadFile(filepath.Join(s.deps.StaticRoot, "i", icon))
	if err != nil {
		writeError(w, r, apperr.Newf(apperr.KindNotFound, "unknown icon %q", icon))
		return
	}

	themed := strings.ReplaceAll(string(data), "FILL_COLOR", "#"+hexColor)
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(themed))
}

func validHexColor(s string) bool {
	if len(s) != 3 && len(s) != 6 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// handleThumbnail serves a preview frame. Rejected while suspended:
// precise mode would reopen the database the user asked to release.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if state := s.deps.FSM.State(); state != StateRunning {
		if state == StateSuspended {
			writeError(w, r, apperr.New(apperr.KindSuspended, "server is suspended"))
		} else {
			writeError(w, r, apperr.New(apperr.KindShuttingDown, "server is not serving"))
		}
		return
	}
	if err := s.requireAuth(r); err != nil {
		writeError(w, r, err)
		return
	}

	sectionType, err := strconv.Atoi(chi.URLParam(r, "sectionType"))
	if err != nil || (sectionType != models.MetadataTypeMovie && sectionType != models.MetadataTypeEpisode) {
		writeError(w, r, apperr.New(apperr.KindInvalidInput, "section type must be 1 (movie) or 4 (episode)"))
		return
	}
	metadataID, err := strconv.ParseInt(chi.URLParam(r, "metadataID"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindInvalidInput, "bad metadata id"))
		return
	}
	timestampMs, err := strconv.ParseInt(chi.URLParam(r, "timestampMs"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindInvalidInput, "bad timestamp"))
		return
	}

	data, err := s.deps.Thumbs.Thumbnail(r.Context(), metadataID, timestampMs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
