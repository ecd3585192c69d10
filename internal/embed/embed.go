// Package embed implements the Embedder & Indexer (C5): fetches Passages
// for a fingerprint, batch-embeds them, builds SearchDocuments, and bulk
// indexes. Grounded on unified-rag-service's
// generateChunkEmbedding/processDocumentChunks flow (fetch -> embed ->
// store), re-targeted from a per-row UPDATE onto a bulk index call per
// spec §4.5, and using deterministic document ids per spec §9 instead of
// the teacher's fresh-UUID-per-embed approach so retries overwrite
// instead of duplicating.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

const batchSize = 100

type PassageSource interface {
	ListPassages(ctx context.Context, fingerprint string) ([]model.Passage, error)
}

type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Indexer interface {
	BulkIndex(ctx context.Context, docs []model.SearchDocument) error
}

type Service struct {
	passages PassageSource
	embedder EmbeddingClient
	indexer  Indexer
	modelTag string
	logger   *zap.Logger
}

func New(passages PassageSource, embedder EmbeddingClient, indexer Indexer, modelTag string, logger *zap.Logger) *Service {
	return &Service{passages: passages, embedder: embedder, indexer: indexer, modelTag: modelTag, logger: logger}
}

// DocumentID derives a deterministic search-document id from (fileMd5,
// chunkId) per spec §9, so at-least-once ingestion retries overwrite
// rather than duplicate.
func DocumentID(fingerprint string, chunkID int) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(chunkID)))
	return hex.EncodeToString(h.Sum(nil))
}

// EmbedAndIndex implements spec §4.5. An empty passage list is a no-op.
func (s *Service) EmbedAndIndex(ctx context.Context, fingerprint string) error {
	passages, err := s.passages.ListPassages(ctx, fingerprint)
	if err != nil {
		return err
	}
	if len(passages) == 0 {
		s.logger.Info("no passages to embed", zap.String("fingerprint", fingerprint))
		return nil
	}

	for start := 0; start < len(passages); start += batchSize {
		end := start + batchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return apperr.Upstream("embedding response size mismatch", nil)
		}

		docs := make([]model.SearchDocument, len(batch))
		for i, p := range batch {
			docs[i] = model.SearchDocument{
				ID:          DocumentID(p.Fingerprint, p.ChunkID),
				Fingerprint: p.Fingerprint,
				ChunkID:     p.ChunkID,
				Text:        p.Text,
				Vector:      vectors[i],
				ModelTag:    s.modelTag,
				Owner:       p.Owner,
				ScopeTag:    p.ScopeTag,
				IsPublic:    p.IsPublic,
			}
		}

		if err := s.indexer.BulkIndex(ctx, docs); err != nil {
			s.logger.Error("bulk index failed", zap.String("fingerprint", fingerprint), zap.Error(err))
			return apperr.Upstream("bulk index error", err)
		}
	}
	return nil
}
