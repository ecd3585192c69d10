// Package hybrid implements Hybrid Search (C6): resolve the caller's
// effective tag set, embed the query, compose and execute the hybrid
// kNN+lexical request, and fall back to a lexical-only retry on any
// search-store error, per spec §4.6.
package hybrid

import (
	"context"

	"go.uber.org/zap"

	"knowledge-hub/internal/model"
	"knowledge-hub/internal/searchstore"
)

type TagResolver interface {
	EffectiveTags(ctx context.Context, userID string, assignedTags []string) []string
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type SearchStore interface {
	Search(ctx context.Context, q searchstore.Query) ([]searchstore.Hit, error)
}

type FilenameRepository interface {
	FilenamesByFingerprint(ctx context.Context, fingerprints []string) (map[string]string, error)
}

type Service struct {
	tags      TagResolver
	users     UserRepository
	embedder  EmbeddingClient
	store     SearchStore
	filenames FilenameRepository
	logger    *zap.Logger
}

func New(tags TagResolver, users UserRepository, embedder EmbeddingClient, store SearchStore, filenames FilenameRepository, logger *zap.Logger) *Service {
	return &Service{tags: tags, users: users, embedder: embedder, store: store, filenames: filenames, logger: logger}
}

// SearchWithPermission implements spec §4.6's searchWithPermission entry
// point.
func (s *Service) SearchWithPermission(ctx context.Context, query string, userID string, topK int) ([]model.SearchResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	effective := s.tags.EffectiveTags(ctx, userID, user.AssignedTags)

	q := searchstore.Query{QueryText: query, TopK: topK, Owner: userID, ScopeTags: effective}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		s.logger.Warn("query embedding failed, falling back to lexical-only search", zap.Error(err))
		return s.lexicalFallback(ctx, q)
	}
	q.QueryVector = vectors[0]

	hits, err := s.store.Search(ctx, q)
	if err != nil {
		s.logger.Warn("hybrid search failed, retrying lexical-only", zap.Error(err))
		return s.lexicalFallback(ctx, q)
	}
	return s.enrich(ctx, hits)
}

func (s *Service) lexicalFallback(ctx context.Context, q searchstore.Query) ([]model.SearchResult, error) {
	q.LexicalOnly = true
	q.MinScore = 0.3
	hits, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, hits)
}

// Search is the unauthenticated diagnostic variant of spec §4.6's final
// paragraph: it drops the permission filter entirely and must not be
// exposed to end users (the httpapi router never mounts it).
func (s *Service) Search(ctx context.Context, query string, topK int) ([]model.SearchResult, error) {
	q := searchstore.Query{QueryText: query, TopK: topK, NoFilter: true, LexicalOnly: true, MinScore: 0}
	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err == nil && len(vectors) > 0 {
		q.QueryVector = vectors[0]
		q.LexicalOnly = false
	}
	hits, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, hits)
}

func (s *Service) enrich(ctx context.Context, hits []searchstore.Hit) ([]model.SearchResult, error) {
	fingerprints := make([]string, 0, len(hits))
	seen := map[string]bool{}
	for _, h := range hits {
		if !seen[h.Fingerprint] {
			seen[h.Fingerprint] = true
			fingerprints = append(fingerprints, h.Fingerprint)
		}
	}
	names, err := s.filenames.FilenamesByFingerprint(ctx, fingerprints)
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = model.SearchResult{
			Fingerprint: h.Fingerprint,
			ChunkID:     h.ChunkID,
			Text:        h.Text,
			Score:       h.Score,
			Owner:       h.Owner,
			ScopeTag:    h.ScopeTag,
			IsPublic:    h.IsPublic,
			Filename:    names[h.Fingerprint],
		}
	}
	return out, nil
}
