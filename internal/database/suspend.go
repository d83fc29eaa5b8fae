// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package database

import (
	"context"
	"sync/atomic"
	"time"
)

// SuspendNotifier is called after the monitor suspends the connection.
// The server uses it to publish the AutoSuspend event.
type SuspendNotifier func(ctx context.Context)

// SuspendMonitor closes an idle database connection after a
// configurable timeout. It runs as a suture service; settings are
// hot-applied through SetTimeout when the config changes.
type SuspendMonitor struct {
	db     *DB
	notify SuspendNotifier

	// timeout in nanoseconds; zero disables suspension.
	timeout atomic.Int64
}

// NewSuspendMonitor creates a monitor for db. A zero timeout leaves
// the monitor idle until SetTimeout enables it.
func NewSuspendMonitor(db *DB, timeout time.Duration, notify SuspendNotifier) *SuspendMonitor {
	m := &SuspendMonitor{db: db, notify: notify}
	m.timeout.Store(int64(timeout))
	return m
}

// SetTimeout hot-applies a new idle timeout. Zero disables
// auto-suspend entirely.
func (m *SuspendMonitor) SetTimeout(timeout time.Duration) {
	m.timeout.Store(int64(timeout))
}

// Serve implements suture.Service. It polls the database's idle time
// once a second and suspends the connection when the timeout elapses.
func (m *SuspendMonitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			timeout := time.Duration(m.timeout.Load())
			if timeout <= 0 || m.db.Suspended() {
				continue
			}
			if time.Since(m.db.IdleSince()) < timeout {
				continue
			}
			if err := m.db.Suspend(); err != nil {
				return err
			}
			if m.notify != nil {
				m.notify(ctx)
			}
		}
	}
}

func (m *SuspendMonitor) String() string {
	return "database-suspend-monitor"
}
