// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/pathmap"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	f := c.File()
	if f.Host != "localhost" || f.Port != 3232 {
		t.Fatalf("default socket = %s:%d, want localhost:3232", f.Host, f.Port)
	}
	if f.LogLevel != "info" {
		t.Fatalf("default log level = %q", f.LogLevel)
	}
	if !f.Features.PreviewThumbnails || f.Features.PreciseThumbnails {
		t.Fatalf("unexpected feature defaults: %+v", f.Features)
	}
	if f.Authentication.SessionTimeout != 3600 {
		t.Fatalf("default session timeout = %d", f.Authentication.SessionTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 4000,
		"logLevel": "debug",
		"authentication": {"enabled": true, "username": "carol"},
		"features": {"preciseThumbnails": true}
	}`)

	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	f := c.File()
	if f.Port != 4000 || f.LogLevel != "debug" {
		t.Fatalf("file overrides not applied: %+v", f)
	}
	if !f.Authentication.Enabled || f.Authentication.Username != "carol" {
		t.Fatalf("nested override not applied: %+v", f.Authentication)
	}
	// Untouched settings keep their defaults.
	if f.Host != "localhost" || f.Authentication.SessionTimeout != 3600 {
		t.Fatalf("defaults lost: %+v", f)
	}
	if !f.Features.PreciseThumbnails || !f.Features.PreviewThumbnails {
		t.Fatalf("feature merge wrong: %+v", f.Features)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"port": 4000}`)
	t.Setenv("MARKERFORGE_PORT", "5000")
	t.Setenv("MARKERFORGE_LOG_LEVEL", "warn")
	t.Setenv("SOME_UNRELATED_VAR", "ignored")

	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := c.File()
	if f.Port != 5000 {
		t.Fatalf("env port override lost: %d", f.Port)
	}
	if f.LogLevel != "warn" {
		t.Fatalf("env log level override lost: %q", f.LogLevel)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(Options{Path: path})
	if apperr.KindOf(err) != apperr.KindConfigInvalid {
		t.Fatalf("kind = %v, want KindConfigInvalid", apperr.KindOf(err))
	}
}

func TestDockerOverrides(t *testing.T) {
	t.Setenv("IS_DOCKER", "1")
	c, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	f := c.File()
	if f.DataPath != dockerDataPath || f.Host != "0.0.0.0" {
		t.Fatalf("docker overrides not applied: dataPath=%q host=%q", f.DataPath, f.Host)
	}
}

func TestBaseURLNormalization(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"marker":    "/marker/",
		"/marker":   "/marker/",
		"/marker/":  "/marker/",
		"//marker/": "/marker/",
	}
	for raw, want := range cases {
		if got := normalizeBaseURL(raw); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestHostDatabasePath(t *testing.T) {
	got := HostDatabasePath("/data")
	want := filepath.Join("/data", "Plug-in Support", "Databases", "com.plexapp.plugins.library.db")
	if got != want {
		t.Fatalf("HostDatabasePath = %q, want %q", got, want)
	}
	if HostDatabasePath("") != "" {
		t.Fatal("empty data path should yield empty database path")
	}
}

func TestCheckDataPath(t *testing.T) {
	if ok, _ := checkDataPath(""); !ok {
		t.Fatal("empty data path must be valid (auto-discovery)")
	}
	if ok, _ := checkDataPath("/definitely/not/here"); ok {
		t.Fatal("missing directory accepted")
	}

	bare := t.TempDir()
	if ok, _ := checkDataPath(bare); ok {
		t.Fatal("directory without Plex layout accepted")
	}

	plexish := t.TempDir()
	if err := os.MkdirAll(filepath.Join(plexish, "Media", "localhost"), 0o755); err != nil {
		t.Fatal(err)
	}
	if ok, msg := checkDataPath(plexish); !ok {
		t.Fatalf("plex-shaped directory rejected: %s", msg)
	}
}

func TestCheckDatabaseRejectsNonSQLite(t *testing.T) {
	if ok, _ := checkDatabase(""); !ok {
		t.Fatal("empty database path must be valid (derived)")
	}

	path := filepath.Join(t.TempDir(), "bogus.db")
	if err := os.WriteFile(path, []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := checkDatabase(path); ok {
		t.Fatal("non-SQLite file accepted")
	}
}

func TestCheckBind(t *testing.T) {
	if ok, _ := checkBind("localhost", 0); ok {
		t.Fatal("port 0 accepted")
	}
	if ok, _ := checkBind("no.such.host.invalid", 3232); ok {
		t.Fatal("unresolvable host accepted")
	}

	// Occupy a port, then expect the probe to reject it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port
	if ok, _ := checkBind("127.0.0.1", port); ok {
		t.Fatalf("in-use port %d accepted", port)
	}
}

func TestValidateField(t *testing.T) {
	c, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}

	view, err := c.ValidateField("authentication.sessionTimeout", json.RawMessage(`120`))
	if err != nil {
		t.Fatalf("ValidateField: %v", err)
	}
	if view.IsValid {
		t.Fatal("session timeout below 300 accepted")
	}

	view, err = c.ValidateField("authentication.sessionTimeout", json.RawMessage(`600`))
	if err != nil || !view.IsValid {
		t.Fatalf("valid timeout rejected: %+v, %v", view, err)
	}

	view, err = c.ValidateField("logLevel", json.RawMessage(`"verbose"`))
	if err != nil || view.IsValid {
		t.Fatalf("unknown log level accepted: %+v", view)
	}

	view, err = c.ValidateField("port", json.RawMessage(`"not a number"`))
	if err != nil || view.IsValid {
		t.Fatalf("malformed value accepted: %+v", view)
	}

	if _, err := c.ValidateField("noSuchSetting", json.RawMessage(`1`)); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("unknown setting kind = %v, want KindInvalidInput", apperr.KindOf(err))
	}
}

func TestValidateFieldPathMappings(t *testing.T) {
	c, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	good, _ := json.Marshal([]pathmap.Mapping{{From: "/mnt/media", To: target}})
	view, err := c.ValidateField("pathMappings", good)
	if err != nil || !view.IsValid {
		t.Fatalf("valid mapping rejected: %+v, %v", view, err)
	}

	bad, _ := json.Marshal([]pathmap.Mapping{{From: "/mnt/media", To: "/no/such/target"}})
	view, err = c.ValidateField("pathMappings", bad)
	if err != nil || view.IsValid {
		t.Fatal("mapping with missing target accepted")
	}
}

func TestSerialize(t *testing.T) {
	path := writeConfig(t, `{"logLevel": "debug"}`)
	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	views := c.Serialize()
	logLevel, ok := views["logLevel"]
	if !ok {
		t.Fatal("logLevel missing from serialization")
	}
	if logLevel.Value != "debug" || logLevel.Default != "info" {
		t.Fatalf("logLevel view = %+v", logLevel)
	}
	if logLevel.Unchanged {
		t.Fatal("changed setting reported as unchanged")
	}
	if host := views["host"]; !host.Unchanged {
		t.Fatalf("untouched setting reported as changed: %+v", host)
	}
	if _, ok := views["authentication.password"]; ok {
		t.Fatal("password hash leaked into serialization")
	}
}

func TestApplyClassification(t *testing.T) {
	path := writeConfig(t, `{}`)
	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	// Hot: log level only.
	proposed := c.File()
	proposed.LogLevel = "debug"
	result, err := c.Apply(proposed)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Classification != ApplyHot || len(result.Changed) != 1 {
		t.Fatalf("hot change classified as %v (%v)", result.Classification, result.Changed)
	}

	// Soft: session timeout.
	proposed = c.File()
	proposed.Authentication.SessionTimeout = 900
	result, err = c.Apply(proposed)
	if err != nil {
		t.Fatal(err)
	}
	if result.Classification != ApplySoft {
		t.Fatalf("soft change classified as %v", result.Classification)
	}

	// Full: auth toggle dominates a simultaneous hot change.
	proposed = c.File()
	proposed.Authentication.Enabled = true
	proposed.LogLevel = "info"
	result, err = c.Apply(proposed)
	if err != nil {
		t.Fatal(err)
	}
	if result.Classification != ApplyFull {
		t.Fatalf("full change classified as %v", result.Classification)
	}

	if c.File().Authentication.SessionTimeout != 900 {
		t.Fatal("applied config not retained")
	}
}

func TestApplyRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `{}`)
	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	proposed := c.File()
	proposed.Authentication.SessionTimeout = 60
	if _, err := c.Apply(proposed); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("kind = %v, want KindInvalidInput", apperr.KindOf(err))
	}
	if c.File().Authentication.SessionTimeout == 60 {
		t.Fatal("rejected config was applied")
	}
}

func TestSavePreservesUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"logLevel": "debug", "customClientKey": {"nested": true}}`)
	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	proposed := c.File()
	proposed.LogLevel = "warn"
	if _, err := c.Apply(proposed); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("rewritten config is not JSON: %v", err)
	}
	if _, ok := onDisk["customClientKey"]; !ok {
		t.Fatal("unknown top-level key dropped on save")
	}
	var level string
	if err := json.Unmarshal(onDisk["logLevel"], &level); err != nil || level != "warn" {
		t.Fatalf("logLevel on disk = %q (%v), want warn", level, err)
	}
}

func TestSetPasswordPersists(t *testing.T) {
	path := writeConfig(t, `{}`)
	c, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SetPassword("$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	reloaded, err := Load(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.File().Authentication.Password == "" {
		t.Fatal("password hash not persisted")
	}
}
