package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"knowledge-hub/internal/apperr"
)

type fakeKV struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	sets   map[string]map[string]bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string][]byte{}, ttls: map[string]time.Duration{}, sets: map[string]map[string]bool{}}
}

func (f *fakeKV) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.values[key] = b
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
		delete(f.sets, k)
	}
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) SAdd(ctx context.Context, key string, member string) error {
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	f.sets[key][member] = true
	return nil
}

func (f *fakeKV) SRem(ctx context.Context, key string, member string) error {
	delete(f.sets[key], member)
	return nil
}

func (f *fakeKV) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func TestIssueThenValidate(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, time.Hour, 7*24*time.Hour, 5*time.Minute)

	handle, _, err := s.IssueSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	subject, err := s.Validate(context.Background(), handle)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %s", subject)
	}
}

func TestLogoutBlacklistsHandle(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, time.Hour, 7*24*time.Hour, 5*time.Minute)
	ctx := context.Background()

	handle, _, _ := s.IssueSession(ctx, "user-1")
	if err := s.Logout(ctx, handle); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.Validate(ctx, handle); !apperr.IsClass(err, apperr.ClassAuthN) {
		t.Fatalf("expected AuthN error after logout, got %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, time.Hour, 7*24*time.Hour, 5*time.Minute)
	ctx := context.Background()

	h1, _, _ := s.IssueSession(ctx, "user-1")
	h2, _, _ := s.IssueSession(ctx, "user-1")

	if err := s.LogoutAll(ctx, "user-1"); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, h := range []string{h1, h2} {
		if _, err := s.Validate(ctx, h); !apperr.IsClass(err, apperr.ClassAuthN) {
			t.Fatalf("expected handle %s to be revoked, got %v", h, err)
		}
	}
}

func TestRefreshHandleCannotBeUsedAsSessionHandle(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, time.Hour, 7*24*time.Hour, 5*time.Minute)
	ctx := context.Background()

	refreshHandle, err := s.IssueRefresh(ctx, "user-1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := s.Validate(ctx, refreshHandle); !apperr.IsClass(err, apperr.ClassAuthN) {
		t.Fatalf("expected refresh handle to be rejected as a session handle, got %v", err)
	}
}
