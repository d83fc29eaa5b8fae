// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package database is the gateway to the SQLite files this server
// touches: the Plex host database and the backup (action log) database.
// It serializes writes through a single writer gate, surfaces SQLite
// error codes on failures, and supports auto-suspend: after a
// configurable idle period the underlying connection is closed and
// transparently reopened by the next request.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/logging"
)

// ErrClosed is returned for operations on a permanently closed DB.
var ErrClosed = errors.New("database closed")

// Options configures one database handle.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY. Plex holds write locks during scans, so
	// the default is generous.
	BusyTimeout time.Duration

	// WAL switches the database to write-ahead logging. Never set for
	// the Plex database - its journal mode belongs to Plex.
	WAL bool
}

// DefaultOptions returns the options used for the host database.
func DefaultOptions() Options {
	return Options{BusyTimeout: 10 * time.Second}
}

// Result reports the outcome of a write.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// DB wraps one SQLite file. Reads may run concurrently; Exec and
// Transaction serialize through the writer gate.
type DB struct {
	path string
	opts Options

	// writeMu is the single-writer gate.
	writeMu sync.Mutex

	// mu guards handle and closed.
	mu     sync.Mutex
	handle *sql.DB
	closed bool

	// lastUsed is unix nanos of the most recent operation, read by the
	// auto-suspend monitor.
	lastUsed atomic.Int64
}

// Open opens (and eagerly validates) the SQLite file at path.
func Open(path string, opts Options) (*DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 10 * time.Second
	}
	d := &DB{path: path, opts: opts}
	d.touch()

	handle, err := d.open()
	if err != nil {
		return nil, err
	}
	d.handle = handle
	return d, nil
}

// dsn builds the modernc.org/sqlite DSN. The driver accepts pragmas in
// the query string.
func (d *DB) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", d.opts.BusyTimeout.Milliseconds()))
	if d.opts.WAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + d.path + "?" + q.Encode()
}

func (d *DB) open() (*sql.DB, error) {
	handle, err := sql.Open("sqlite", d.dsn())
	if err != nil {
		return nil, wrapSQLite(err, "open database")
	}
	if err := handle.Ping(); err != nil {
		_ = handle.Close()
		return nil, wrapSQLite(err, "open database")
	}
	return handle, nil
}

// conn returns the live handle, reopening after an auto-suspend.
func (d *DB) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.handle == nil {
		handle, err := d.open()
		if err != nil {
			return nil, fmt.Errorf("reopen after suspend: %w", err)
		}
		logging.Debug().Str("path", d.path).Msg("Database connection reopened")
		d.handle = handle
	}
	return d.handle, nil
}

func (d *DB) touch() {
	d.lastUsed.Store(time.Now().UnixNano())
}

// Path returns the on-disk path of the database file.
func (d *DB) Path() string {
	return d.path
}

// IdleSince returns the time of the most recent operation.
func (d *DB) IdleSince() time.Time {
	return time.Unix(0, d.lastUsed.Load())
}

// All runs a read query. The caller owns the returned rows and must
// close them.
func (d *DB) All(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.touch()
	handle, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := handle.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLite(err, "query")
	}
	return rows, nil
}

// Get runs a read query expected to return at most one row. The
// caller checks sql.ErrNoRows on Scan.
func (d *DB) Get(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	d.touch()
	handle, err := d.conn()
	if err != nil {
		return nil, err
	}
	return handle.QueryRowContext(ctx, query, args...), nil
}

// Run executes a single write under the writer gate.
func (d *DB) Run(ctx context.Context, query string, args ...any) (Result, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.touch()

	handle, err := d.conn()
	if err != nil {
		return Result{}, err
	}
	res, err := handle.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, wrapSQLite(err, "exec")
	}
	return resultOf(res), nil
}

// Transaction acquires exclusive access to the writer gate for the
// duration of fn. Any error from fn rolls the transaction back before
// surfacing.
func (d *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.touch()

	handle, err := d.conn()
	if err != nil {
		return err
	}
	sqlTx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite(err, "begin transaction")
	}

	if err := fn(&Tx{tx: sqlTx, db: d}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Error().Err(rbErr).Str("path", d.path).Msg("Transaction rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapSQLite(err, "commit transaction")
	}
	return nil
}

// Suspend closes the underlying connection. The next operation
// reopens it; failure to reopen fails that operation.
func (d *DB) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil || d.closed {
		return nil
	}
	err := d.handle.Close()
	d.handle = nil
	logging.Info().Str("path", d.path).Msg("Database connection suspended")
	return err
}

// Suspended reports whether the connection is currently closed by
// auto-suspend.
func (d *DB) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle == nil && !d.closed
}

// Close permanently closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.handle == nil {
		return nil
	}
	err := d.handle.Close()
	d.handle = nil
	return err
}

// Tx is an open transaction. It exposes the same read/write surface as
// DB; everything runs on the one underlying connection.
type Tx struct {
	tx *sql.Tx
	db *DB
}

// All runs a read query inside the transaction.
func (t *Tx) All(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t.db.touch()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLite(err, "query")
	}
	return rows, nil
}

// Get runs a single-row read query inside the transaction.
func (t *Tx) Get(ctx context.Context, query string, args ...any) *sql.Row {
	t.db.touch()
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Run executes a write inside the transaction.
func (t *Tx) Run(ctx context.Context, query string, args ...any) (Result, error) {
	t.db.touch()
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, wrapSQLite(err, "exec")
	}
	return resultOf(res), nil
}

func resultOf(res sql.Result) Result {
	// modernc.org/sqlite implements both accessors; errors here would
	// mean a driver bug, so they collapse to zero values.
	id, _ := res.LastInsertId()
	n, _ := res.RowsAffected()
	return Result{LastInsertID: id, RowsAffected: n}
}

// wrapSQLite classifies a driver error as Backend and attaches the
// SQLite result code when one is available.
func wrapSQLite(err error, op string) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return apperr.Wrap(apperr.KindBackend, err, fmt.Sprintf("%s failed (sqlite code %d)", op, se.Code()))
	}
	return apperr.Wrap(apperr.KindBackend, err, op+" failed")
}
