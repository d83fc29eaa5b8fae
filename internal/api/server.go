// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package api is the HTTP dispatcher: every client command is a POST to
// /api/<command>, static assets and thumbnails are GETs, and a small
// lifecycle state machine gates all of it.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/auth"
	"github.com/tomtom215/markerforge/internal/backup"
	"github.com/tomtom215/markerforge/internal/config"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/events"
	"github.com/tomtom215/markerforge/internal/markercache"
	"github.com/tomtom215/markerforge/internal/middleware"
	"github.com/tomtom215/markerforge/internal/plex"
	"github.com/tomtom215/markerforge/internal/thumbnails"
)

// Deps carries every component the dispatcher calls into. There is no
// package-level state; the process wires one Server with one set of
// dependencies.
type Deps struct {
	Config *config.Config
	Plex   *plex.Manager
	Cache  *markercache.Cache
	Backup *backup.Manager
	Thumbs *thumbnails.Manager
	Auth   *auth.Manager
	Bus    *events.Bus
	FSM    *FSM
	DB     *database.DB

	// StaticRoot is the directory the client bundle is served from.
	StaticRoot string

	// Reconfigure applies a setServerConfig result: hot changes take
	// effect in place, soft changes rebuild caches, full changes
	// schedule a restart. Runs after the new config is persisted.
	Reconfigure func(ctx context.Context, result config.ApplyResult) error

	// OnShutdown and OnRestart are invoked after the lifecycle
	// transition commits, off the request goroutine.
	OnShutdown func()
	OnRestart  func()
}

// commandFunc handles one dispatched command. The returned payload is
// encoded as the 200 response body.
type commandFunc func(w http.ResponseWriter, r *http.Request) (any, error)

// Server routes commands, static assets, and thumbnails.
type Server struct {
	deps     Deps
	commands map[string]commandFunc
}

// NewServer wires the command table. Deps must be fully populated
// except for the optional callbacks.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}
	s.commands = map[string]commandFunc{
		"query":  s.handleQuery,
		"add":    s.handleAdd,
		"edit":   s.handleEdit,
		"delete": s.handleDelete,

		"getSections":  s.handleGetSections,
		"getSection":   s.handleGetSection,
		"getSeasons":   s.handleGetSeasons,
		"getEpisodes":  s.handleGetEpisodes,
		"getStats":     s.handleGetStats,
		"getBreakdown": s.handleGetBreakdown,
		"getChapters":  s.handleGetChapters,

		"bulkShift":       s.handleBulkShift,
		"checkBulkAdd":    s.handleCheckBulkAdd,
		"bulkAdd":         s.handleBulkAdd,
		"checkBulkDelete": s.handleCheckBulkDelete,
		"bulkDelete":      s.handleBulkDelete,
		"nukeSection":     s.handleNukeSection,

		"purgeCheck":    s.handlePurgeCheck,
		"allPurges":     s.handleAllPurges,
		"restorePurge":  s.handleRestorePurge,
		"ignorePurge":   s.handleIgnorePurge,
		"exportActions": s.handleExportActions,
		"importActions": s.handleImportActions,

		"getConfig":           s.handleGetConfig,
		"setLogSettings":      s.handleSetLogSettings,
		"validateConfig":      s.handleValidateConfig,
		"validateConfigValue": s.handleValidateConfigValue,
		"setServerConfig":     s.handleSetServerConfig,

		"login":          s.handleLogin,
		"logout":         s.handleLogout,
		"changePassword": s.handleChangePassword,

		"shutdown": s.handleShutdown,
		"restart":  s.handleRestart,
		"suspend":  s.handleSuspend,
		"resume":   s.handleResume,
	}
	return s
}

// Router assembles the middleware stack and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		// Login gets its own route so the brute-force limit applies
		// before the password check.
		api.With(httprate.LimitByIP(10, time.Minute)).
			Post("/login", s.dispatchNamed("login"))
		api.Post("/{command}", s.dispatch)
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/t/{sectionType}/{metadataID}/{timestampMs}", s.handleThumbnail)
	r.Get("/i/{hexColor}/{icon}", s.handleIcon)
	r.Get("/*", s.handleStatic)

	return r
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	s.serveCommand(w, r, chi.URLParam(r, "command"))
}

func (s *Server) dispatchNamed(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveCommand(w, r, command)
	}
}

func (s *Server) serveCommand(w http.ResponseWriter, r *http.Request, command string) {
	handler, ok := s.commands[command]
	if !ok {
		writeError(w, r, apperr.Newf(apperr.KindNotFound, "unknown command %q", command))
		return
	}

	if err := s.deps.FSM.gate(command); err != nil {
		writeError(w, r, err)
		return
	}

	if command != "login" {
		if err := s.requireAuth(r); err != nil {
			writeError(w, r, err)
			return
		}
	}

	payload, err := handler(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// requireAuth validates the session cookie or bearer token. A no-op
// when authentication is disabled.
func (s *Server) requireAuth(r *http.Request) error {
	if !s.deps.Config.File().Authentication.Enabled {
		return nil
	}

	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(auth.CookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}

	if _, err := s.deps.Auth.Validate(r.Context(), token); err != nil {
		return err
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

// sessionToken extracts the request's token for logout.
func sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// handleHealth reports lifecycle state and cache readiness. Static
// monitoring only; it never blocks on the databases.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.deps.FSM.State()
	status := "ok"
	code := http.StatusOK
	if state == StateShuttingDown {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":            status,
		"state":             state.String(),
		"markerCacheReady":  s.deps.Cache.Ready(),
		"databaseSuspended": s.deps.DB.Suspended(),
	})
}
