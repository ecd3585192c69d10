// Package session implements the Session/Token Store (C9): opaque
// session and refresh handles backed by the fast KV store, with a
// per-user active-handle set and a blacklist for revocation. Grounded on
// auth-handler.go's generateToken (crypto/rand, hex-encoded, prefixed)
// and session bookkeeping, but replacing its O(n) InvalidateAllSessions
// full-scan loop with the set-based `user:<subjectId>:tokens` design of
// spec §4.9 so logout-all is a single SMEMBERS plus per-handle blacklist,
// not a scan over every session ever issued.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"knowledge-hub/internal/apperr"
)

type KVStore interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, member string) error
	SRem(ctx context.Context, key string, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

type record struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Store struct {
	kv         KVStore
	sessionTTL time.Duration
	refreshTTL time.Duration
	grace      time.Duration
}

func New(kv KVStore, sessionTTL, refreshTTL, grace time.Duration) *Store {
	return &Store{kv: kv, sessionTTL: sessionTTL, refreshTTL: refreshTTL, grace: grace}
}

func validKey(handle string) string     { return "valid:" + handle }
func blacklistKey(handle string) string { return "blacklist:" + handle }
func refreshKey(handle string) string   { return "refresh:" + handle }
func userTokensKey(subject string) string { return "user:" + subject + ":tokens" }

func newHandle() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Upstream("generate session handle", err)
	}
	return hex.EncodeToString(b), nil
}

// IssueSession creates a fresh session handle for subject, per spec §4.9.
func (s *Store) IssueSession(ctx context.Context, subject string) (handle string, expiresAt time.Time, err error) {
	handle, err = newHandle()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt = time.Now().Add(s.sessionTTL)

	if err := s.kv.SetJSON(ctx, validKey(handle), record{Subject: subject, ExpiresAt: expiresAt}, s.sessionTTL+s.grace); err != nil {
		return "", time.Time{}, err
	}
	if err := s.kv.SAdd(ctx, userTokensKey(subject), handle); err != nil {
		return "", time.Time{}, err
	}
	return handle, expiresAt, nil
}

// IssueRefresh creates a long-lived refresh handle, a single-purpose
// family separate from session handles (spec §4.9 last paragraph).
func (s *Store) IssueRefresh(ctx context.Context, subject string) (handle string, err error) {
	handle, err = newHandle()
	if err != nil {
		return "", err
	}
	if err := s.kv.SetJSON(ctx, refreshKey(handle), record{Subject: subject, ExpiresAt: time.Now().Add(s.refreshTTL)}, s.refreshTTL); err != nil {
		return "", err
	}
	return handle, nil
}

// Validate reports whether handle is a live, non-blacklisted session
// handle and returns its subject.
func (s *Store) Validate(ctx context.Context, handle string) (subject string, err error) {
	blacklisted, err := s.kv.Exists(ctx, blacklistKey(handle))
	if err != nil {
		return "", err
	}
	if blacklisted {
		return "", apperr.AuthN("session revoked")
	}

	var rec record
	ok, err := s.kv.GetJSON(ctx, validKey(handle), &rec)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.AuthN("invalid session")
	}
	if time.Now().After(rec.ExpiresAt) {
		return "", apperr.AuthN("session expired")
	}
	return rec.Subject, nil
}

// RotateFromRefresh exchanges a refresh handle for a fresh session+refresh
// pair (spec §6's /auth/refreshToken "rotate both handles").
func (s *Store) RotateFromRefresh(ctx context.Context, refreshHandle string) (sessionHandle string, newRefreshHandle string, expiresAt time.Time, err error) {
	var rec record
	ok, err := s.kv.GetJSON(ctx, refreshKey(refreshHandle), &rec)
	if err != nil {
		return "", "", time.Time{}, err
	}
	if !ok || time.Now().After(rec.ExpiresAt) {
		return "", "", time.Time{}, apperr.AuthN("invalid or expired refresh handle")
	}

	if err := s.kv.Del(ctx, refreshKey(refreshHandle)); err != nil {
		return "", "", time.Time{}, err
	}

	sessionHandle, expiresAt, err = s.IssueSession(ctx, rec.Subject)
	if err != nil {
		return "", "", time.Time{}, err
	}
	newRefreshHandle, err = s.IssueRefresh(ctx, rec.Subject)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return sessionHandle, newRefreshHandle, expiresAt, nil
}

// Logout blacklists one handle (TTL = remaining lifetime) and removes it
// from the user's active-handle set.
func (s *Store) Logout(ctx context.Context, handle string) error {
	var rec record
	ok, err := s.kv.GetJSON(ctx, validKey(handle), &rec)
	if err != nil {
		return err
	}

	remaining := s.grace
	if ok {
		if ttl := time.Until(rec.ExpiresAt); ttl > 0 {
			remaining = ttl
		}
		if err := s.kv.SRem(ctx, userTokensKey(rec.Subject), handle); err != nil {
			return err
		}
	}

	return s.kv.SetJSON(ctx, blacklistKey(handle), true, remaining)
}

// LogoutAll blacklists every active handle for subject by iterating the
// user's handle set, then clears the set itself.
func (s *Store) LogoutAll(ctx context.Context, subject string) error {
	handles, err := s.kv.SMembers(ctx, userTokensKey(subject))
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := s.kv.SetJSON(ctx, blacklistKey(h), true, s.sessionTTL+s.grace); err != nil {
			return err
		}
	}
	return s.kv.Del(ctx, userTokensKey(subject))
}
