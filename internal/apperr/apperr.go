// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package apperr defines the typed error taxonomy shared by every
// component. Operations return an *Error whose Kind drives both the
// HTTP status mapping in the API layer and the logging level (user
// errors like NotFound and Overlap are never logged at error level).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and logging.
type Kind int

const (
	// KindBackend is the zero value: a host or backup database failure.
	KindBackend Kind = iota

	// KindInvalidInput is a malformed or missing request parameter.
	KindInvalidInput

	// KindInvalidBounds is a timestamp outside [0, duration) or start >= end.
	KindInvalidBounds

	// KindOverlap is a marker range colliding with an existing marker.
	KindOverlap

	// KindNotFound is a missing marker, base item, or section.
	KindNotFound

	// KindUnauthorized is a missing or invalid session.
	KindUnauthorized

	// KindForbidden is a refused request (e.g. path traversal).
	KindForbidden

	// KindSuspended is a command rejected while the server is suspended.
	KindSuspended

	// KindShuttingDown is a command rejected during shutdown.
	KindShuttingDown

	// KindConfigInvalid is an operation blocked by invalid configuration.
	KindConfigInvalid

	// KindExternal is a media-tool (ffmpeg) failure.
	KindExternal
)

// String returns the taxonomy name for logs.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindInvalidBounds:
		return "InvalidBounds"
	case KindOverlap:
		return "Overlap"
	case KindNotFound:
		return "NotFound"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindSuspended:
		return "Suspended"
	case KindShuttingDown:
		return "ShuttingDown"
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindExternal:
		return "External"
	default:
		return "Backend"
	}
}

// HTTPStatus maps the kind to the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindInvalidBounds:
		return http.StatusBadRequest
	case KindOverlap:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindSuspended, KindShuttingDown, KindConfigInvalid:
		return http.StatusServiceUnavailable
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserFacing reports whether the kind represents a user-actionable
// condition that should not be logged as a server error.
func (k Kind) UserFacing() bool {
	switch k {
	case KindInvalidInput, KindInvalidBounds, KindOverlap, KindNotFound,
		KindUnauthorized, KindForbidden, KindSuspended, KindShuttingDown:
		return true
	}
	return false
}

// Error is a classified application error. Message is safe to return to
// clients verbatim; wrapped causes are not.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a client-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted client-visible message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause. The cause is logged but never sent to clients.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindBackend for
// unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindBackend
}

// MessageOf returns the client-visible message for err. Unclassified
// errors get a generic message so database internals never leak.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}
