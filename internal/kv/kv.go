// Package kv wraps go-redis, grounded on auth-handler.go's redisClient
// usage (Set/Get/Del with string keys and TTLs) generalized to the
// bitmap, set, and JSON-blob operations the rest of the hub needs:
// upload bitmaps (C2), conversations (C8), and session/blacklist sets
// (C9). Per spec §5 this is the sole shared mutable state.
package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"knowledge-hub/internal/apperr"
)

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperr.Upstream("ping fast kv store", err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }

// --- generic JSON blob storage, for Conversation and SessionHandle records ---

func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return apperr.Upstream("marshal kv value", err)
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return apperr.Upstream("write kv value", err)
	}
	return nil
}

// GetJSON unmarshals into dst and reports whether the key existed.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, apperr.Upstream("read kv value", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, apperr.Upstream("unmarshal kv value", err)
	}
	return true, nil
}

// DeletePattern removes every key matching a glob pattern via SCAN, used
// for the cache-wide invalidations that admin tag mutations require.
func (s *Store) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return apperr.Upstream("scan kv keys", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return apperr.Upstream("delete scanned kv keys", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.Upstream("delete kv keys", err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return apperr.Upstream("renew kv ttl", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apperr.Upstream("check kv existence", err)
	}
	return n > 0, nil
}

// --- bitmaps, for the upload ledger (C2) ---

func (s *Store) SetBit(ctx context.Context, key string, offset int64, value int) error {
	if err := s.client.SetBit(ctx, key, offset, value).Err(); err != nil {
		return apperr.Upstream("set bitmap bit", err)
	}
	return nil
}

func (s *Store) GetBit(ctx context.Context, key string, offset int64) (bool, error) {
	v, err := s.client.GetBit(ctx, key, offset).Result()
	if err != nil {
		return false, apperr.Upstream("read bitmap bit", err)
	}
	return v == 1, nil
}

// GetBitmap fetches the raw bitmap in one round trip, satisfying C2's
// O(1)-round-trips invariant for listUploaded regardless of N.
func (s *Store) GetBitmap(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Upstream("read bitmap", err)
	}
	return b, nil
}

// --- sets, for C9's user -> active-session-handle index ---

func (s *Store) SAdd(ctx context.Context, key string, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return apperr.Upstream("add set member", err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key string, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return apperr.Upstream("remove set member", err)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, apperr.Upstream("list set members", err)
	}
	return members, nil
}

// Client exposes the underlying client for packages (queue) that need
// Redis Streams primitives not worth re-wrapping generically.
func (s *Store) Client() *redis.Client { return s.client }
