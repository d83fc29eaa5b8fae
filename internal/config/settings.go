// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package config

import (
	"fmt"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/pathmap"
)

// Classification says what a setting change requires of the server.
type Classification int

const (
	// ApplyHot takes effect immediately.
	ApplyHot Classification = iota

	// ApplySoft rebuilds caches and reopens databases, same sockets.
	ApplySoft

	// ApplyFull rebinds sockets or changes the auth wall; the server
	// restarts its HTTP layer.
	ApplyFull
)

func (c Classification) String() string {
	switch c {
	case ApplySoft:
		return "soft"
	case ApplyFull:
		return "full"
	default:
		return "hot"
	}
}

// SettingView is one setting as serialized to the client.
type SettingView struct {
	Value          any    `json:"value"`
	Default        any    `json:"defaultValue"`
	IsValid        bool   `json:"isValid"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Unchanged      bool   `json:"unchanged,omitempty"`
}

// settingDef wires one named setting to its storage, its validator,
// and its restart classification. Names use dotted paths matching the
// file layout (e.g. "ssl.enabled").
type settingDef struct {
	name  string
	class Classification
	get   func(f *File) any
	set   func(f *File, raw json.RawMessage) error
	check func(f *File) (bool, string)

	// checkOnlyOnChange skips validation when the value is untouched.
	// Bind probes would otherwise reject the port the server itself
	// currently occupies.
	checkOnlyOnChange bool
}

func setJSON[T any](target *T, raw json.RawMessage) error {
	return json.Unmarshal(raw, target)
}

// settings is the full registry. The authentication password hash is
// deliberately absent: it only changes through changePassword.
var settings = []settingDef{
	{
		name: "dataPath", class: ApplySoft,
		get: func(f *File) any { return f.DataPath },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.DataPath, raw) },
		check: func(f *File) (bool, string) { return checkDataPath(f.DataPath) },
	},
	{
		name: "database", class: ApplySoft,
		get: func(f *File) any { return f.Database },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Database, raw) },
		check: func(f *File) (bool, string) { return checkDatabase(f.Database) },
	},
	{
		name: "host", class: ApplyFull,
		get: func(f *File) any { return f.Host },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Host, raw) },
		check: func(f *File) (bool, string) { return checkBind(f.Host, f.Port) },
		checkOnlyOnChange: true,
	},
	{
		name: "port", class: ApplyFull,
		get: func(f *File) any { return f.Port },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Port, raw) },
		check: func(f *File) (bool, string) { return checkBind(f.Host, f.Port) },
		checkOnlyOnChange: true,
	},
	{
		name: "baseUrl", class: ApplyFull,
		get: func(f *File) any { return f.BaseURL },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.BaseURL, raw) },
	},
	{
		name: "logLevel", class: ApplyHot,
		get: func(f *File) any { return f.LogLevel },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.LogLevel, raw) },
		check: func(f *File) (bool, string) { return checkLogLevel(f.LogLevel) },
	},
	{
		name: "autoSuspend", class: ApplyHot,
		get: func(f *File) any { return f.AutoSuspend },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.AutoSuspend, raw) },
	},
	{
		name: "autoSuspendTimeout", class: ApplyHot,
		get: func(f *File) any { return f.AutoSuspendTimeout },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.AutoSuspendTimeout, raw) },
		check: func(f *File) (bool, string) { return checkAutoSuspendTimeout(f.AutoSuspendTimeout) },
	},
	{
		name: "pathMappings", class: ApplyHot,
		get: func(f *File) any {
			if f.PathMappings == nil {
				return []pathmap.Mapping{}
			}
			return f.PathMappings
		},
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.PathMappings, raw) },
		check: func(f *File) (bool, string) { return checkPathMappings(f.PathMappings) },
	},
	{
		name: "ssl.enabled", class: ApplyFull,
		get: func(f *File) any { return f.SSL.Enabled },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.Enabled, raw) },
		check: func(f *File) (bool, string) {
			if !f.SSL.Enabled {
				return true, ""
			}
			return checkCertPair(f.SSL.CertPath, f.SSL.KeyPath)
		},
	},
	{
		name: "ssl.sslOnly", class: ApplyFull,
		get: func(f *File) any { return f.SSL.SSLOnly },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.SSLOnly, raw) },
	},
	{
		name: "ssl.host", class: ApplyFull,
		get: func(f *File) any { return f.SSL.Host },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.Host, raw) },
	},
	{
		name: "ssl.port", class: ApplyFull,
		get: func(f *File) any { return f.SSL.Port },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.Port, raw) },
		check: func(f *File) (bool, string) {
			if !f.SSL.Enabled {
				return true, ""
			}
			return checkBind(f.SSL.Host, f.SSL.Port)
		},
		checkOnlyOnChange: true,
	},
	{
		name: "ssl.certPath", class: ApplyFull,
		get: func(f *File) any { return f.SSL.CertPath },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.CertPath, raw) },
		check: func(f *File) (bool, string) {
			if !f.SSL.Enabled {
				return true, ""
			}
			return checkCertPair(f.SSL.CertPath, f.SSL.KeyPath)
		},
	},
	{
		name: "ssl.keyPath", class: ApplyFull,
		get: func(f *File) any { return f.SSL.KeyPath },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.SSL.KeyPath, raw) },
		check: func(f *File) (bool, string) {
			if !f.SSL.Enabled {
				return true, ""
			}
			return checkCertPair(f.SSL.CertPath, f.SSL.KeyPath)
		},
	},
	{
		name: "authentication.enabled", class: ApplyFull,
		get: func(f *File) any { return f.Authentication.Enabled },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Authentication.Enabled, raw) },
	},
	{
		name: "authentication.username", class: ApplyHot,
		get: func(f *File) any { return f.Authentication.Username },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Authentication.Username, raw) },
		check: func(f *File) (bool, string) {
			if f.Authentication.Enabled && f.Authentication.Username == "" {
				return false, "username is required when authentication is enabled"
			}
			return true, ""
		},
	},
	{
		name: "authentication.sessionTimeout", class: ApplySoft,
		get: func(f *File) any { return f.Authentication.SessionTimeout },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Authentication.SessionTimeout, raw) },
		check: func(f *File) (bool, string) { return checkSessionTimeout(f.Authentication.SessionTimeout) },
	},
	{
		name: "authentication.persistSessions", class: ApplySoft,
		get: func(f *File) any { return f.Authentication.PersistSessions },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Authentication.PersistSessions, raw) },
	},
	{
		name: "features.autoOpen", class: ApplyHot,
		get: func(f *File) any { return f.Features.AutoOpen },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Features.AutoOpen, raw) },
	},
	{
		name: "features.extendedMarkerStats", class: ApplySoft,
		get: func(f *File) any { return f.Features.ExtendedMarkerStats },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Features.ExtendedMarkerStats, raw) },
	},
	{
		name: "features.previewThumbnails", class: ApplyHot,
		get: func(f *File) any { return f.Features.PreviewThumbnails },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Features.PreviewThumbnails, raw) },
	},
	{
		name: "features.preciseThumbnails", class: ApplyHot,
		get: func(f *File) any { return f.Features.PreciseThumbnails },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Features.PreciseThumbnails, raw) },
	},
	{
		name: "features.writeExtraData", class: ApplyHot,
		get: func(f *File) any { return f.Features.WriteExtraData },
		set: func(f *File, raw json.RawMessage) error { return setJSON(&f.Features.WriteExtraData, raw) },
	},
}

func findSetting(name string) (*settingDef, error) {
	for i := range settings {
		if settings[i].name == name {
			return &settings[i], nil
		}
	}
	return nil, apperr.Newf(apperr.KindInvalidInput, "unknown setting %q", name)
}

// Serialize renders every setting with value, default, and validity
// for the settings dialog.
func (c *Config) Serialize() map[string]SettingView {
	c.mu.RLock()
	current := c.copyCurrent()
	c.mu.RUnlock()

	views := make(map[string]SettingView, len(settings))
	for i := range settings {
		def := &settings[i]
		view := SettingView{
			Value:   def.get(&current),
			Default: def.get(&c.defaults),
			IsValid: true,
		}
		// Bind probes are skipped here: the server is already
		// listening on the current socket.
		if def.check != nil && !def.checkOnlyOnChange {
			view.IsValid, view.InvalidMessage = def.check(&current)
		}
		view.Unchanged = reflect.DeepEqual(view.Value, view.Default)
		views[def.name] = view
	}
	return views
}

// ValidateField checks one proposed value without applying it. Used
// for live feedback while the settings dialog is open.
func (c *Config) ValidateField(name string, raw json.RawMessage) (SettingView, error) {
	def, err := findSetting(name)
	if err != nil {
		return SettingView{}, err
	}

	c.mu.RLock()
	candidate := c.copyCurrent()
	c.mu.RUnlock()

	if err := def.set(&candidate, raw); err != nil {
		return SettingView{
			Value:          json.RawMessage(raw),
			Default:        def.get(&c.defaults),
			IsValid:        false,
			InvalidMessage: fmt.Sprintf("malformed value for %s", name),
		}, nil
	}

	view := SettingView{
		Value:   def.get(&candidate),
		Default: def.get(&c.defaults),
		IsValid: true,
	}
	if def.check != nil {
		view.IsValid, view.InvalidMessage = def.check(&candidate)
	}
	view.Unchanged = reflect.DeepEqual(view.Value, view.Default)
	return view, nil
}

// Validate checks a whole proposed configuration without applying it.
// The result carries one view per setting so the dialog can flag every
// invalid field at once.
func (c *Config) Validate(proposed File) map[string]SettingView {
	c.mu.RLock()
	previous := c.copyCurrent()
	c.mu.RUnlock()

	views := make(map[string]SettingView, len(settings))
	for i := range settings {
		def := &settings[i]
		view := SettingView{
			Value:   def.get(&proposed),
			Default: def.get(&c.defaults),
			IsValid: true,
		}
		skipCheck := def.checkOnlyOnChange &&
			reflect.DeepEqual(def.get(&previous), def.get(&proposed))
		if def.check != nil && !skipCheck {
			view.IsValid, view.InvalidMessage = def.check(&proposed)
		}
		view.Unchanged = reflect.DeepEqual(view.Value, view.Default)
		views[def.name] = view
	}
	return views
}

// ApplyResult reports what an Apply changed.
type ApplyResult struct {
	Classification Classification
	Changed        []string
}

// Apply validates the whole proposed configuration, persists it, and
// reports the strongest restart classification among the changed
// settings. Invalid settings reject the entire apply.
func (c *Config) Apply(proposed File) (ApplyResult, error) {
	// The password hash never arrives from the settings dialog; carry
	// the current one forward.
	c.mu.RLock()
	proposed.Authentication.Password = c.current.Authentication.Password
	previous := c.copyCurrent()
	c.mu.RUnlock()

	var invalid []string
	for i := range settings {
		def := &settings[i]
		if def.check == nil {
			continue
		}
		if def.checkOnlyOnChange && reflect.DeepEqual(def.get(&previous), def.get(&proposed)) {
			continue
		}
		if ok, msg := def.check(&proposed); !ok {
			invalid = append(invalid, fmt.Sprintf("%s: %s", def.name, msg))
		}
	}
	if len(invalid) > 0 {
		return ApplyResult{}, apperr.Newf(apperr.KindInvalidInput,
			"invalid settings: %v", invalid)
	}

	result := ApplyResult{Classification: ApplyHot}
	for i := range settings {
		def := &settings[i]
		if reflect.DeepEqual(def.get(&previous), def.get(&proposed)) {
			continue
		}
		result.Changed = append(result.Changed, def.name)
		if def.class > result.Classification {
			result.Classification = def.class
		}
	}

	c.mu.Lock()
	c.current = proposed
	path := c.path
	c.mu.Unlock()

	if path != "" {
		if err := save(path, proposed); err != nil {
			return result, err
		}
	}
	return result, nil
}
