// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/logging"
)

// CookieName is the session cookie the dispatcher sets on login.
const CookieName = "markerforge_auth"

// MinSessionTimeout is the floor config validation enforces.
const MinSessionTimeout = 300 * time.Second

// Options configures the Manager.
type Options struct {
	// Username and PasswordHash come from the authentication config
	// section. An empty hash means no password has ever been set.
	Username     string
	PasswordHash string

	// SessionTimeout is the inactivity deadline. Defaults to one hour.
	SessionTimeout time.Duration

	// JWTSecret signs session tokens. When nil a random per-boot
	// secret is generated, invalidating tokens across restarts.
	JWTSecret []byte

	// Store defaults to the in-memory store.
	Store SessionStore

	HashParams HashParams
}

// Manager implements the single-user credential check and session
// lifecycle. Whether auth is enforced at all is the dispatcher's
// decision; the manager only answers credential and session queries.
type Manager struct {
	store SessionStore

	mu           sync.RWMutex
	username     string
	passwordHash string
	timeout      time.Duration

	jwtSecret  []byte
	hashParams HashParams
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		opts.Store = NewMemorySessionStore()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = time.Hour
	}
	if opts.JWTSecret == nil {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, apperr.Wrap(apperr.KindBackend, err, "token secret generation failed")
		}
		opts.JWTSecret = secret
	}

	return &Manager{
		store:        opts.Store,
		username:     opts.Username,
		passwordHash: opts.PasswordHash,
		timeout:      opts.SessionTimeout,
		jwtSecret:    opts.JWTSecret,
		hashParams:   opts.HashParams,
	}, nil
}

// SetTimeout hot-applies a session timeout change. Existing sessions
// keep their current deadline until their next authenticated request.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
}

// PasswordSet reports whether a password has ever been configured.
func (m *Manager) PasswordSet() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passwordHash != ""
}

// Username returns the configured account name.
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.username
}

// Login verifies the password and mints a session token.
func (m *Manager) Login(ctx context.Context, password string) (string, error) {
	m.mu.RLock()
	hash := m.passwordHash
	timeout := m.timeout
	username := m.username
	m.mu.RUnlock()

	if hash == "" {
		return "", apperr.New(apperr.KindUnauthorized, "no password has been set")
	}
	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.KindUnauthorized, "invalid password")
	}

	session := newSession(username, timeout)
	if err := m.store.Create(ctx, session); err != nil {
		return "", apperr.Wrap(apperr.KindBackend, err, "session creation failed")
	}
	logging.Info().Str("user", username).Msg("Login succeeded")
	return m.signToken(session.ID)
}

// Validate checks a session token and bumps the inactivity deadline.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	id, err := m.parseToken(token)
	if err != nil {
		return nil, err
	}

	session, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
			return nil, apperr.Wrap(apperr.KindUnauthorized, err, "session invalid")
		}
		return nil, apperr.Wrap(apperr.KindBackend, err, "session lookup failed")
	}

	m.mu.RLock()
	timeout := m.timeout
	m.mu.RUnlock()
	if err := m.store.Touch(ctx, id, time.Now().Add(timeout)); err != nil && !errors.Is(err, ErrSessionNotFound) {
		logging.Warn().Err(err).Msg("Session touch failed")
	}
	return session, nil
}

// Logout destroys the token's session. Invalid tokens are a no-op.
func (m *Manager) Logout(ctx context.Context, token string) error {
	id, err := m.parseToken(token)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// ChangePassword verifies the old password and returns the new
// encoded hash for the config layer to persist. The old password is
// not required the first time one is set. All sessions are revoked.
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword string) (string, error) {
	if strings.TrimSpace(newPassword) == "" {
		return "", apperr.New(apperr.KindInvalidInput, "new password must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.passwordHash != "" {
		ok, err := VerifyPassword(oldPassword, m.passwordHash)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperr.New(apperr.KindUnauthorized, "old password is incorrect")
		}
	}

	hash, err := HashPassword(newPassword, m.hashParams)
	if err != nil {
		return "", err
	}
	m.passwordHash = hash

	if count, err := m.store.DeleteAll(ctx); err != nil {
		logging.Warn().Err(err).Msg("Session revocation after password change failed")
	} else if count > 0 {
		logging.Info().Int("sessions", count).Msg("Revoked sessions after password change")
	}
	return hash, nil
}

// SessionCount reports live sessions for the health endpoint.
func (m *Manager) SessionCount(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// signToken wraps a session id in a signed HS256 token. Expiry is
// enforced by the store, not the token: the claim carries no deadline
// because touches keep moving it.
func (m *Manager) signToken(sessionID string) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:       sessionID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Issuer:   "markerforge",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindBackend, err, "token signing failed")
	}
	return token, nil
}

func (m *Manager) parseToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Newf(apperr.KindUnauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil || !parsed.Valid || claims.ID == "" {
		return "", apperr.New(apperr.KindUnauthorized, "invalid session token")
	}
	return claims.ID, nil
}
