// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package main is the Markerforge entry point.
//
// Markerforge edits intro/credits/commercial markers directly in a
// Plex Media Server database, out of band: Plex keeps running, this
// server opens the same SQLite file and serializes its own writes.
//
// Initialization order:
//
//  1. Configuration: defaults, config.json, MARKERFORGE_* environment
//     variables (Koanf v2 layered sources, highest wins)
//  2. Host database: open the Plex library SQLite file, verify schema
//  3. Query manager and marker cache (full build)
//  4. Backup database: action log, purge cache rebuild
//  5. Thumbnails, authentication, event bus
//  6. HTTP dispatcher under a suture supervision tree
//
// The `restart` command tears the whole generation down and runs the
// sequence again; `shutdown` and SIGINT/SIGTERM exit after a graceful
// drain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/markerforge/internal/api"
	"github.com/tomtom215/markerforge/internal/auth"
	"github.com/tomtom215/markerforge/internal/backup"
	"github.com/tomtom215/markerforge/internal/config"
	"github.com/tomtom215/markerforge/internal/database"
	"github.com/tomtom215/markerforge/internal/events"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/markercache"
	"github.com/tomtom215/markerforge/internal/pathmap"
	"github.com/tomtom215/markerforge/internal/plex"
	"github.com/tomtom215/markerforge/internal/supervisor"
	"github.com/tomtom215/markerforge/internal/supervisor/services"
	"github.com/tomtom215/markerforge/internal/thumbnails"
)

// version is stamped by the build.
var version = "dev"

type cliOptions struct {
	configPath string
	testMode   bool
	staticRoot string
}

func main() {
	var opts cliOptions
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.StringVar(&opts.configPath, "config_override", "config.json", "path to the config file")
	flag.BoolVar(&opts.testMode, "test", false, "test mode: fatal on invalid config, no browser auto-open")
	flag.StringVar(&opts.staticRoot, "static_root", "www", "directory holding the client bundle")
	flag.Parse()

	if *showVersion {
		fmt.Println("markerforge " + version)
		return
	}

	// The restart command exits one generation and starts the next
	// with a freshly loaded config.
	for {
		restart, err := run(opts)
		if err != nil {
			logging.Fatal().Err(err).Msg("Server failed")
		}
		if !restart {
			logging.Info().Msg("Server stopped")
			return
		}
		logging.Info().Msg("Restarting")
	}
}

// run builds and serves one server generation. It returns true when
// the generation ended with a restart request.
func run(opts cliOptions) (restart bool, err error) {
	cfg, err := config.Load(config.Options{Path: opts.configPath, TestMode: opts.testMode})
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	file := cfg.File()

	logging.Init(logging.Config{Level: file.LogLevel})
	logging.Info().
		Str("version", version).
		Str("dataPath", cfg.DataPath()).
		Str("database", cfg.DatabasePath()).
		Bool("auth", file.Authentication.Enabled).
		Msg("Starting Markerforge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(cfg.DatabasePath(), database.DefaultOptions())
	if err != nil {
		return false, fmt.Errorf("open plex database: %w", err)
	}
	defer db.Close()

	if err := plex.CheckExpectedTables(ctx, db); err != nil {
		return false, fmt.Errorf("verify plex schema: %w", err)
	}

	plexMgr, err := plex.New(ctx, db, nil, nil, file.Features.WriteExtraData)
	if err != nil {
		return false, fmt.Errorf("query manager: %w", err)
	}
	logging.Info().Int("schemaVersion", plexMgr.SchemaVersion()).Msg("Plex schema detected")

	cache := markercache.New(plexMgr)
	if err := cache.Build(ctx); err != nil {
		return false, fmt.Errorf("build marker cache: %w", err)
	}
	plexMgr.SetCache(cache)

	backupPath := filepath.Join(filepath.Dir(opts.configPath), "markerforge.backup.db")
	backupMgr, err := backup.New(ctx, backupPath, plexMgr)
	if err != nil {
		return false, fmt.Errorf("open backup database: %w", err)
	}
	defer backupMgr.Close()
	plexMgr.SetRecorder(backupMgr)

	if err := backupMgr.RebuildPurgeCache(ctx); err != nil {
		logging.Warn().Err(err).Msg("Purge cache rebuild failed; indicators unavailable until next check")
	}

	mapper := pathmap.New(file.PathMappings)
	thumbs := thumbnails.New(plexMgr, mapper, thumbnails.Options{DataPath: cfg.DataPath()})
	thumbs.SetEnabled(file.Features.PreviewThumbnails)
	thumbs.SetPrecise(file.Features.PreciseThumbnails)

	sessionStore, err := buildSessionStore(file, opts.configPath)
	if err != nil {
		return false, fmt.Errorf("session store: %w", err)
	}
	authMgr, err := auth.New(auth.Options{
		Username:       file.Authentication.Username,
		PasswordHash:   file.Authentication.Password,
		SessionTimeout: time.Duration(file.Authentication.SessionTimeout) * time.Second,
		Store:          sessionStore,
	})
	if err != nil {
		return false, fmt.Errorf("auth manager: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	suspendTimeout := time.Duration(0)
	if file.AutoSuspend {
		suspendTimeout = time.Duration(file.AutoSuspendTimeout) * time.Second
	}
	monitor := database.NewSuspendMonitor(db, suspendTimeout, func(ctx context.Context) {
		if err := bus.Publish(ctx, events.EventAutoSuspend); err != nil {
			logging.Warn().Err(err).Msg("Auto-suspend event not delivered")
		}
	})

	if err := subscribeAll(bus, cache, thumbs, backupMgr, cfg, monitor); err != nil {
		return false, fmt.Errorf("event subscriptions: %w", err)
	}

	fsm := api.NewFSM()

	restartCh := make(chan struct{})
	shutdownCh := make(chan struct{})
	once := func(ch chan struct{}) func() {
		return func() {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Plex:       plexMgr,
		Cache:      cache,
		Backup:     backupMgr,
		Thumbs:     thumbs,
		Auth:       authMgr,
		Bus:        bus,
		FSM:        fsm,
		DB:         db,
		StaticRoot: opts.staticRoot,
		OnShutdown: once(shutdownCh),
		OnRestart:  once(restartCh),
		Reconfigure: func(ctx context.Context, result config.ApplyResult) error {
			return reconfigure(ctx, result, reconfigureDeps{
				cfg:     cfg,
				plexMgr: plexMgr,
				thumbs:  thumbs,
				authMgr: authMgr,
				monitor: monitor,
				bus:     bus,
				restart: once(restartCh),
			})
		},
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddCoreService(monitor)
	tree.AddCoreService(auth.NewSweeper(sessionStore, 0))

	router := server.Router()
	listen := fmt.Sprintf("%s:%d", file.Host, file.Port)
	if !file.SSL.Enabled || !file.SSL.SSLOnly {
		tree.AddAPIService(services.NewHTTPServerService("http-server", &http.Server{
			Addr:        listen,
			Handler:     router,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		}, 10*time.Second))
	}
	if file.SSL.Enabled {
		tree.AddAPIService(services.NewHTTPSServerService("https-server", &http.Server{
			Addr:        fmt.Sprintf("%s:%d", file.SSL.Host, file.SSL.Port),
			Handler:     router,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		}, 10*time.Second, file.SSL.CertPath, file.SSL.KeyPath))
	}

	errCh := tree.ServeBackground(ctx)

	if err := fsm.Transition(api.StateRunning); err != nil {
		return false, err
	}
	logging.Info().Str("addr", listen).Str("baseUrl", cfg.BaseURL()).Msg("Markerforge ready")

	if file.Features.AutoOpen && !cfg.TestMode() {
		openBrowser("http://" + strings.Replace(listen, "0.0.0.0", "localhost", 1) + cfg.BaseURL())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		// A lifecycle transition may legally fail here if a shutdown
		// command already won the race.
		_ = fsm.Transition(api.StateShuttingDown)
	case <-shutdownCh:
	case <-restartCh:
		restart = true
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}

	cancel()
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop in time")
	}
	return restart, nil
}

// buildSessionStore picks the persistent badger store when configured,
// otherwise the in-memory store.
func buildSessionStore(file config.File, configPath string) (auth.SessionStore, error) {
	if !file.Authentication.PersistSessions {
		return auth.NewMemorySessionStore(), nil
	}
	dir := filepath.Join(filepath.Dir(configPath), "sessions")
	store, err := auth.OpenBadgerSessionStore(dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// subscribeAll wires the event bus to the caches.
func subscribeAll(
	bus *events.Bus,
	cache *markercache.Cache,
	thumbs *thumbnails.Manager,
	backupMgr *backup.Manager,
	cfg *config.Config,
	monitor *database.SuspendMonitor,
) error {
	subs := []struct {
		event   events.Event
		name    string
		handler events.Handler
	}{
		{events.EventReloadThumbnails, "thumbnails", thumbs.HandleReload},
		{events.EventReloadMarkerStats, "markercache", cache.Build},
		{events.EventRebuildPurgedCache, "backup", backupMgr.RebuildPurgeCache},
		{events.EventSoftRestart, "markercache", cache.Build},
		{events.EventSoftRestart, "thumbnails", thumbs.HandleReload},
		{events.EventSoftRestart, "backup", backupMgr.RebuildPurgeCache},
		{events.EventAutoSuspendChanged, "suspend-monitor", func(ctx context.Context) error {
			file := cfg.File()
			timeout := time.Duration(0)
			if file.AutoSuspend {
				timeout = time.Duration(file.AutoSuspendTimeout) * time.Second
			}
			monitor.SetTimeout(timeout)
			return nil
		}},
	}
	for _, sub := range subs {
		if err := bus.Subscribe(sub.event, sub.name, sub.handler); err != nil {
			return err
		}
	}
	return nil
}

type reconfigureDeps struct {
	cfg     *config.Config
	plexMgr *plex.Manager
	thumbs  *thumbnails.Manager
	authMgr *auth.Manager
	monitor *database.SuspendMonitor
	bus     *events.Bus
	restart func()
}

// reconfigure pushes an applied config into the running components.
// Hot settings always take effect in place; soft changes additionally
// rebuild the caches; full changes schedule a restart.
func reconfigure(ctx context.Context, result config.ApplyResult, deps reconfigureDeps) error {
	file := deps.cfg.File()

	logging.SetLevel(file.LogLevel)
	deps.thumbs.SetEnabled(file.Features.PreviewThumbnails)
	deps.thumbs.SetPrecise(file.Features.PreciseThumbnails)
	deps.thumbs.SetMapper(pathmap.New(file.PathMappings))
	deps.thumbs.SetDataPath(deps.cfg.DataPath())
	deps.plexMgr.SetWriteExtraData(file.Features.WriteExtraData)
	deps.authMgr.SetTimeout(time.Duration(file.Authentication.SessionTimeout) * time.Second)

	if err := deps.bus.Publish(ctx, events.EventAutoSuspendChanged); err != nil {
		return err
	}

	switch result.Classification {
	case config.ApplySoft:
		logging.Info().Strs("changed", result.Changed).Msg("Soft reload")
		return deps.bus.Publish(ctx, events.EventSoftRestart)
	case config.ApplyFull:
		logging.Info().Strs("changed", result.Changed).Msg("Full restart required")
		go deps.restart()
		return nil
	default:
		logging.Info().Strs("changed", result.Changed).Msg("Settings applied")
		return nil
	}
}

// openBrowser is best effort; a headless host just logs the URL.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logging.Info().Str("url", url).Msg("Open this URL in a browser")
	}
}
