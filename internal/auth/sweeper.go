// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package auth

import (
	"context"
	"time"

	"github.com/tomtom215/markerforge/internal/logging"
)

// Sweeper evicts expired sessions on a ticker. It runs as a suture
// service under the server's supervision tree.
type Sweeper struct {
	store    SessionStore
	interval time.Duration
}

// NewSweeper creates a sweeper. Interval defaults to one minute.
func NewSweeper(store SessionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval}
}

// Serve implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := s.store.CleanupExpired(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("Session sweep failed")
				continue
			}
			if count > 0 {
				logging.Debug().Int("sessions", count).Msg("Swept expired sessions")
			}
		}
	}
}

func (s *Sweeper) String() string { return "auth.Sweeper" }
