// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/markerforge/internal/apperr"
)

// fastParams keeps argon2 cheap in tests.
var fastParams = HashParams{Time: 1, Memory: 8 * 1024, Threads: 1}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", fastParams)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected hash prefix: %s", hash)
	}

	ok, err := VerifyPassword("hunter2", hash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword(correct) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = VerifyPassword("hunter3", hash)
	if err != nil || ok {
		t.Fatalf("VerifyPassword(wrong) = (%v, %v), want (false, nil)", ok, err)
	}

	// Hashes are salted: two hashes of the same password differ.
	hash2, err := HashPassword("hunter2", fastParams)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == hash2 {
		t.Fatal("identical hashes for the same password")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, encoded := range cases {
		if _, err := VerifyPassword("pw", encoded); err == nil {
			t.Errorf("VerifyPassword accepted malformed hash %q", encoded)
		}
	}
}

func newTestManager(t *testing.T, password string) *Manager {
	t.Helper()
	var hash string
	if password != "" {
		var err error
		hash, err = HashPassword(password, fastParams)
		if err != nil {
			t.Fatal(err)
		}
	}
	m, err := New(Options{
		Username:       "admin",
		PasswordHash:   hash,
		SessionTimeout: time.Hour,
		HashParams:     fastParams,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestLoginAndValidate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")

	token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	session, err := m.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if session.Username != "admin" {
		t.Fatalf("session user = %q, want admin", session.Username)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")

	_, err := m.Login(ctx, "wrong")
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized", apperr.KindOf(err))
	}
}

func TestLoginRequiresConfiguredPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "")

	_, err := m.Login(ctx, "anything")
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized", apperr.KindOf(err))
	}
}

func TestValidateRejectsGarbageTokens(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")

	for _, token := range []string{"", "not.a.jwt", "a.b.c"} {
		if _, err := m.Validate(ctx, token); apperr.KindOf(err) != apperr.KindUnauthorized {
			t.Errorf("Validate(%q) kind = %v, want KindUnauthorized", token, apperr.KindOf(err))
		}
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	m1 := newTestManager(t, "secret")
	m2 := newTestManager(t, "secret")

	token, err := m1.Login(ctx, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Validate(ctx, token); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized", apperr.KindOf(err))
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")

	token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := m.Validate(ctx, token); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized", apperr.KindOf(err))
	}
	// Logging out twice is fine.
	if err := m.Logout(ctx, token); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestSessionInactivityTimeout(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")
	m.SetTimeout(20 * time.Millisecond)

	token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Validate(ctx, token); err != nil {
		t.Fatalf("Validate before timeout: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := m.Validate(ctx, token); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized after inactivity", apperr.KindOf(err))
	}
}

func TestValidateBumpsDeadline(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")
	m.SetTimeout(60 * time.Millisecond)

	token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatal(err)
	}

	// Keep touching past the original deadline; the session must stay
	// alive because each request extends it.
	for i := 0; i < 5; i++ {
		time.Sleep(25 * time.Millisecond)
		if _, err := m.Validate(ctx, token); err != nil {
			t.Fatalf("Validate on touch %d: %v", i, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "old-pass")

	token, err := m.Login(ctx, "old-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ChangePassword(ctx, "wrong", "new-pass"); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("kind = %v, want KindUnauthorized for wrong old password", apperr.KindOf(err))
	}

	hash, err := m.ChangePassword(ctx, "old-pass", "new-pass")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if ok, err := VerifyPassword("new-pass", hash); err != nil || !ok {
		t.Fatalf("returned hash does not verify new password: (%v, %v)", ok, err)
	}

	// Existing sessions are revoked.
	if _, err := m.Validate(ctx, token); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("old session survived password change")
	}
	if _, err := m.Login(ctx, "old-pass"); err == nil {
		t.Fatal("old password still accepted")
	}
	if _, err := m.Login(ctx, "new-pass"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangePasswordFirstSetSkipsOldCheck(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "")

	if m.PasswordSet() {
		t.Fatal("PasswordSet true before first set")
	}
	if _, err := m.ChangePassword(ctx, "", "first-pass"); err != nil {
		t.Fatalf("first ChangePassword: %v", err)
	}
	if !m.PasswordSet() {
		t.Fatal("PasswordSet false after first set")
	}
	if _, err := m.Login(ctx, "first-pass"); err != nil {
		t.Fatalf("Login after first set: %v", err)
	}
}

func TestChangePasswordRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, "secret")

	if _, err := m.ChangePassword(ctx, "secret", "  "); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("kind = %v, want KindInvalidInput", apperr.KindOf(err))
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()

	live := newSession("admin", time.Hour)
	dead := newSession("admin", -time.Minute)
	for _, s := range []*Session{live, dead} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.Get(ctx, dead.ID); err != ErrSessionExpired {
		t.Fatalf("Get(expired) = %v, want ErrSessionExpired", err)
	}

	count, err := store.CleanupExpired(ctx)
	if err != nil || count != 1 {
		t.Fatalf("CleanupExpired = (%d, %v), want (1, nil)", count, err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Fatalf("live session lost: %v", err)
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerSessionStore: %v", err)
	}
	defer store.Close()

	session := newSession("admin", time.Hour)
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Username != "admin" || got.ID != session.ID {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	newExpiry := time.Now().Add(2 * time.Hour)
	if err := store.Touch(ctx, session.ID, newExpiry); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err = store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ExpiresAt.After(session.ExpiresAt) {
		t.Fatal("Touch did not extend expiry")
	}

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, session.ID); err != ErrSessionNotFound {
		t.Fatalf("Get(deleted) = %v, want ErrSessionNotFound", err)
	}
	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete(absent): %v", err)
	}
}

func TestBadgerStoreDeleteAll(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		if err := store.Create(ctx, newSession("admin", time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	count, err := store.DeleteAll(ctx)
	if err != nil || count != 3 {
		t.Fatalf("DeleteAll = (%d, %v), want (3, nil)", count, err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("Count = %d after DeleteAll, want 0", n)
	}
}
