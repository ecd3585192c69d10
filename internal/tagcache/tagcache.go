// Package tagcache implements the Tag Resolver & Cache (C1): expansion of
// a user's assigned tags to their transitive ancestors plus DEFAULT, with
// a 24h sliding-TTL per-user cache in the fast KV store. Grounded on the
// teacher's cache-then-repository-fallback shape in
// go-chat-service's PyTorchStyleCache (in-memory map with TTL,
// Get/Set/expiry check) generalized onto the shared Redis store so the
// cache survives process restarts and is shared across handler instances.
package tagcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"knowledge-hub/internal/model"
)

type TagRepository interface {
	GetTag(ctx context.Context, id string) (*model.OrganizationTag, error)
}

type Resolver struct {
	repo   TagRepository
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

type KVStore interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

func New(repo TagRepository, kv KVStore, ttl time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string { return "tagcache:" + userID }

// EffectiveTags returns the transitive-ancestor closure of assignedTags
// plus DEFAULT, serving from cache when present (renewing the entry's TTL)
// and materialising (and caching) on a miss. Any repository error during
// materialisation falls back to {DEFAULT} rather than propagating (spec §4.1).
func (r *Resolver) EffectiveTags(ctx context.Context, userID string, assignedTags []string) []string {
	var cached []string
	if ok, err := r.kv.GetJSON(ctx, cacheKey(userID), &cached); err == nil && ok {
		if err := r.kv.Expire(ctx, cacheKey(userID), r.ttl); err != nil {
			r.logger.Warn("failed to renew effective tag set ttl", zap.String("user", userID), zap.Error(err))
		}
		return cached
	}

	effective, err := r.expand(ctx, assignedTags)
	if err != nil {
		r.logger.Warn("tag expansion failed, falling back to DEFAULT",
			zap.String("user", userID), zap.Error(err))
		return []string{model.DefaultTagID}
	}

	if err := r.kv.SetJSON(ctx, cacheKey(userID), effective, r.ttl); err != nil {
		r.logger.Warn("failed to cache effective tag set", zap.String("user", userID), zap.Error(err))
	}
	return effective
}

// expand performs the bounded ancestor walk with a cycle guard: each tag
// is visited at most once even if the forest (incorrectly) contains a
// cycle.
func (r *Resolver) expand(ctx context.Context, assignedTags []string) ([]string, error) {
	seen := map[string]bool{model.DefaultTagID: true}
	out := []string{model.DefaultTagID}

	for _, t := range assignedTags {
		if err := r.walk(ctx, t, seen, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Resolver) walk(ctx context.Context, tagID string, seen map[string]bool, out *[]string) error {
	for tagID != "" && !seen[tagID] {
		seen[tagID] = true
		*out = append(*out, tagID)

		tag, err := r.repo.GetTag(ctx, tagID)
		if err != nil {
			return err
		}
		tagID = tag.ParentID
	}
	return nil
}

// InvalidateUser drops the cached effective set for one user, used when an
// admin reassigns that user's tags.
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) error {
	return r.kv.Del(ctx, cacheKey(userID))
}

// InvalidateAll drops every cached effective tag set, used when an admin
// changes a tag's parent or deletes a tag (a global invalidation rather
// than tracking reverse dependencies per user). Creating a tag does not
// call it.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	return r.kv.DeletePattern(ctx, "tagcache:*")
}
