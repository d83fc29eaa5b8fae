// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package config loads, validates, and persists server settings.
// Sources layer as env > file > defaults. Every setting carries its
// default and validity so the client can render the settings dialog
// without a second round trip, and every change is classified as
// hot-apply, soft reload, or full restart.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/pathmap"
)

// EnvPrefix guards which environment variables are consulted.
const EnvPrefix = "MARKERFORGE_"

// SSL is the `ssl` sub-object of the config file.
type SSL struct {
	Enabled  bool   `koanf:"enabled" json:"enabled"`
	SSLOnly  bool   `koanf:"sslOnly" json:"sslOnly"`
	Host     string `koanf:"host" json:"host"`
	Port     int    `koanf:"port" json:"port"`
	CertPath string `koanf:"certPath" json:"certPath"`
	KeyPath  string `koanf:"keyPath" json:"keyPath"`
}

// Authentication is the `authentication` sub-object. Password holds
// the encoded argon2id hash, never a plaintext password.
type Authentication struct {
	Enabled         bool   `koanf:"enabled" json:"enabled"`
	Username        string `koanf:"username" json:"username"`
	Password        string `koanf:"password" json:"password"`
	SessionTimeout  int    `koanf:"sessionTimeout" json:"sessionTimeout"`
	PersistSessions bool   `koanf:"persistSessions" json:"persistSessions"`
}

// Features is the `features` sub-object.
type Features struct {
	AutoOpen            bool `koanf:"autoOpen" json:"autoOpen"`
	ExtendedMarkerStats bool `koanf:"extendedMarkerStats" json:"extendedMarkerStats"`
	PreviewThumbnails   bool `koanf:"previewThumbnails" json:"previewThumbnails"`
	PreciseThumbnails   bool `koanf:"preciseThumbnails" json:"preciseThumbnails"`
	WriteExtraData      bool `koanf:"writeExtraData" json:"writeExtraData"`
}

// File mirrors the JSON config file: a flat top level plus the ssl,
// authentication, and features sub-objects. Every field is optional
// in the file and falls back to its default.
type File struct {
	DataPath           string            `koanf:"dataPath" json:"dataPath"`
	Database           string            `koanf:"database" json:"database"`
	Host               string            `koanf:"host" json:"host"`
	Port               int               `koanf:"port" json:"port"`
	BaseURL            string            `koanf:"baseUrl" json:"baseUrl"`
	LogLevel           string            `koanf:"logLevel" json:"logLevel"`
	AutoSuspend        bool              `koanf:"autoSuspend" json:"autoSuspend"`
	AutoSuspendTimeout int               `koanf:"autoSuspendTimeout" json:"autoSuspendTimeout"`
	PathMappings       []pathmap.Mapping `koanf:"pathMappings" json:"pathMappings"`
	SSL                SSL               `koanf:"ssl" json:"ssl"`
	Authentication     Authentication    `koanf:"authentication" json:"authentication"`
	Features           Features          `koanf:"features" json:"features"`
}

// Defaults returns the built-in configuration.
func Defaults() File {
	return File{
		DataPath:           "",
		Database:           "",
		Host:               "localhost",
		Port:               3232,
		BaseURL:            "/",
		LogLevel:           "info",
		AutoSuspend:        false,
		AutoSuspendTimeout: 300,
		PathMappings:       nil,
		SSL: SSL{
			Enabled: false,
			SSLOnly: false,
			Host:    "0.0.0.0",
			Port:    3233,
		},
		Authentication: Authentication{
			Enabled:         false,
			Username:        "admin",
			SessionTimeout:  3600,
			PersistSessions: false,
		},
		Features: Features{
			AutoOpen:            true,
			ExtendedMarkerStats: true,
			PreviewThumbnails:   true,
			PreciseThumbnails:   false,
			WriteExtraData:      false,
		},
	}
}

// Config is the live configuration: the effective file contents plus
// the machinery to validate and apply changes.
type Config struct {
	mu       sync.RWMutex
	path     string
	testMode bool
	current  File
	defaults File
}

// Options controls loading.
type Options struct {
	// Path is the config file location. A missing file is not an
	// error; defaults plus env apply.
	Path string

	// TestMode treats an invalid config as fatal and suppresses
	// browser auto-open.
	TestMode bool
}

// Load builds the effective configuration from defaults, the config
// file, and MARKERFORGE_-prefixed environment variables.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, err, "default config load failed")
	}

	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err == nil {
			if err := k.Load(file.Provider(opts.Path), json.Parser()); err != nil {
				return nil, apperr.Wrap(apperr.KindConfigInvalid, err,
					fmt.Sprintf("config file %s is not valid JSON", opts.Path))
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, err, "environment overrides failed")
	}

	var current File
	if err := k.Unmarshal("", &current); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, err, "config unmarshal failed")
	}

	applyEnvironmentOverrides(&current)

	c := &Config{
		path:     opts.Path,
		testMode: opts.TestMode,
		current:  current,
		defaults: defaults,
	}
	return c, nil
}

// envTransform maps MARKERFORGE_* variables onto config paths. The
// table is explicit so stray environment variables never leak in.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	mappings := map[string]string{
		"data_path":            "dataPath",
		"database":             "database",
		"host":                 "host",
		"port":                 "port",
		"base_url":             "baseUrl",
		"log_level":            "logLevel",
		"auto_suspend":         "autoSuspend",
		"auto_suspend_timeout": "autoSuspendTimeout",
		"ssl_enabled":          "ssl.enabled",
		"ssl_only":             "ssl.sslOnly",
		"ssl_host":             "ssl.host",
		"ssl_port":             "ssl.port",
		"ssl_cert_path":        "ssl.certPath",
		"ssl_key_path":         "ssl.keyPath",
		"auth_enabled":         "authentication.enabled",
		"auth_username":        "authentication.username",
		"auth_session_timeout": "authentication.sessionTimeout",
		"auth_persist":         "authentication.persistSessions",
		"auto_open":            "features.autoOpen",
		"extended_stats":       "features.extendedMarkerStats",
		"preview_thumbnails":   "features.previewThumbnails",
		"precise_thumbnails":   "features.preciseThumbnails",
		"write_extra_data":     "features.writeExtraData",
	}
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}

// applyEnvironmentOverrides handles the non-prefixed environment
// contract: IS_DOCKER pins the data path to the container mount and
// the listen host to all interfaces.
func applyEnvironmentOverrides(f *File) {
	if !isDocker() {
		return
	}
	f.DataPath = dockerDataPath
	f.Host = "0.0.0.0"
}

// TestMode reports whether --test was passed.
func (c *Config) TestMode() bool {
	return c.testMode
}

// Path returns the config file location.
func (c *Config) Path() string {
	return c.path
}

// File returns a copy of the effective configuration.
func (c *Config) File() File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyCurrent()
}

// copyCurrent clones the current file; the caller holds at least a
// read lock. PathMappings is the only reference field.
func (c *Config) copyCurrent() File {
	f := c.current
	if f.PathMappings != nil {
		f.PathMappings = append([]pathmap.Mapping(nil), f.PathMappings...)
	}
	return f
}

// DataPath returns the configured or auto-discovered Plex data
// directory.
func (c *Config) DataPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current.DataPath != "" {
		return c.current.DataPath
	}
	return DiscoverDataPath()
}

// DatabasePath returns the configured host database path, or derives
// it from the data path.
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	explicit := c.current.Database
	c.mu.RUnlock()
	if explicit != "" {
		return explicit
	}
	return HostDatabasePath(c.DataPath())
}

// BaseURL returns the base url normalized to have exactly one leading
// and one trailing slash.
func (c *Config) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return normalizeBaseURL(c.current.BaseURL)
}

func normalizeBaseURL(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed + "/"
}

// SetPassword records a new password hash and persists immediately.
// Not part of Apply because changePassword bypasses the settings
// dialog.
func (c *Config) SetPassword(hash string) error {
	c.mu.Lock()
	c.current.Authentication.Password = hash
	f := c.copyCurrent()
	path := c.path
	c.mu.Unlock()
	if path == "" {
		return nil
	}
	return save(path, f)
}
