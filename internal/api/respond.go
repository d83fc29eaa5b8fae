// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/logging"
)

// errorEnvelope is the uniform failure shape the client expects.
type errorEnvelope struct {
	Error string `json:"Error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		payload = struct{}{}
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Response encoding failed")
	}
}

// writeError maps the error kind to a status code and the envelope.
// User-actionable kinds stay at debug level; backend failures log the
// underlying error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	message := apperr.MessageOf(err)

	log := logging.Ctx(r.Context())
	switch kind {
	case apperr.KindBackend, apperr.KindExternal:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	case apperr.KindNotFound, apperr.KindOverlap:
		log.Debug().Str("path", r.URL.Path).Str("error", message).Msg("Request rejected")
	default:
		log.Info().Str("path", r.URL.Path).Str("error", message).Msg("Request rejected")
	}

	writeJSON(w, status, errorEnvelope{Error: message})
}

// decodeBody parses a JSON command body into dst. An empty body is
// allowed for commands without parameters.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	return nil
}
