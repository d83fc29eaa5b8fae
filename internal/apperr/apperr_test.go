// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBackend, http.StatusInternalServerError},
		{KindInvalidInput, http.StatusBadRequest},
		{KindInvalidBounds, http.StatusBadRequest},
		{KindOverlap, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindSuspended, http.StatusServiceUnavailable},
		{KindShuttingDown, http.StatusServiceUnavailable},
		{KindConfigInvalid, http.StatusServiceUnavailable},
		{KindExternal, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := tc.kind.HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(New(KindOverlap, "overlaps")); got != KindOverlap {
		t.Errorf("KindOf = %v, want Overlap", got)
	}
	wrapped := fmt.Errorf("outer: %w", New(KindNotFound, "gone"))
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf(wrapped) = %v, want NotFound", got)
	}
	if got := KindOf(errors.New("raw")); got != KindBackend {
		t.Errorf("KindOf(raw) = %v, want Backend", got)
	}
}

func TestMessageOfHidesUnclassified(t *testing.T) {
	if got := MessageOf(errors.New("sqlite disk I/O error")); got != "internal server error" {
		t.Errorf("MessageOf leaked internals: %q", got)
	}
	if got := MessageOf(Wrap(KindBackend, errors.New("disk"), "query failed")); got != "query failed" {
		t.Errorf("MessageOf = %q, want wrapped message", got)
	}
}
