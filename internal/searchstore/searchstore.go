// Package searchstore is the Elasticsearch-backed hybrid search store
// behind spec §6's knowledge_base index contract (kNN + bool/should
// permission filter + rescore). Grounded on the
// other_examples/manifests/DataDog-datadog-agent go.mod dependency on
// github.com/elastic/go-elasticsearch/v8: the teacher's own
// unified-rag-service composes an equivalent hybrid query against
// pgvector-in-Postgres (vector_distance + ts_rank combined with a
// weighted ORDER BY), but spec §4.6's query shape — a kNN branch, a
// should-of-terms permission filter, and a rescore phase — is an
// Elasticsearch query DSL shape, not a SQL one, so this package
// generalizes the teacher's hybrid-scoring *concern* onto the client
// that is actually shaped like the contract.
package searchstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

const IndexName = "knowledge_base"

const indexMapping = `{
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "fileMd5": {"type": "keyword"},
      "chunkId": {"type": "integer"},
      "textContent": {"type": "text"},
      "vector": {"type": "dense_vector", "dims": %d, "similarity": "cosine", "index": true},
      "modelVersion": {"type": "keyword"},
      "userId": {"type": "keyword"},
      "orgTag": {"type": "keyword"},
      "public": {"type": "boolean"}
    }
  }
}`

type Store struct {
	client *elasticsearch.Client
}

func New(addresses []string, dimension int) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, apperr.Upstream("create search store client", err)
	}
	s := &Store{client: client}
	if err := s.ensureIndex(context.Background(), dimension); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndex(ctx context.Context, dimension int) error {
	exists, err := s.client.Indices.Exists([]string{IndexName}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperr.Upstream("check search index existence", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	body := fmt.Sprintf(indexMapping, dimension)
	res, err := s.client.Indices.Create(IndexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader([]byte(body))))
	if err != nil {
		return apperr.Upstream("create search index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Upstream("create search index rejected", nil)
	}
	return nil
}

func docBody(d model.SearchDocument) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"fileMd5":      d.Fingerprint,
		"chunkId":      d.ChunkID,
		"textContent":  d.Text,
		"vector":       d.Vector,
		"modelVersion": d.ModelTag,
		"userId":       d.Owner,
		"orgTag":       d.ScopeTag,
		"public":       d.IsPublic,
	}
}

// BulkIndex submits one bulk request for the given documents, returning an
// IndexError (an Upstream-classed error) on any per-item failure so the
// ingestion task can be retried per spec §4.5 step 4.
func (s *Store) BulkIndex(ctx context.Context, docs []model.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": IndexName, "_id": d.ID}}
		metaLine, _ := json.Marshal(meta)
		buf.Write(metaLine)
		buf.WriteByte('\n')
		docLine, _ := json.Marshal(docBody(d))
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return apperr.Upstream("bulk index request failed", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Upstream("bulk index request rejected", nil)
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return apperr.Upstream("decode bulk index response", err)
	}
	if parsed.Errors {
		return apperr.Upstream("bulk index reported per-item errors", nil)
	}
	return nil
}

// Query describes the composed hybrid request of spec §4.6.
type Query struct {
	QueryVector []float32
	QueryText   string
	TopK        int
	Owner       string
	ScopeTags   []string // caller's effective tag set; empty means deny scoped access
	LexicalOnly bool
	MinScore    float64
	NoFilter    bool // internal-diagnostics only: drops the permission filter entirely
}

type Hit struct {
	Fingerprint string
	ChunkID     int
	Text        string
	Score       float64
	Owner       string
	ScopeTag    string
	IsPublic    bool
}

func permissionFilter(q Query) map[string]any {
	if q.NoFilter {
		return map[string]any{"match_all": map[string]any{}}
	}
	should := []map[string]any{
		{"term": map[string]any{"userId": q.Owner}},
		{"term": map[string]any{"public": true}},
	}
	switch len(q.ScopeTags) {
	case 0:
		// no should-of-scope clause: only owner/public can match.
	case 1:
		should = append(should, map[string]any{"term": map[string]any{"orgTag": q.ScopeTags[0]}})
	default:
		terms := make([]map[string]any, len(q.ScopeTags))
		for i, t := range q.ScopeTags {
			terms[i] = map[string]any{"term": map[string]any{"orgTag": t}}
		}
		should = append(should, terms...)
	}
	return map[string]any{
		"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

// Search executes the kNN + bool/rescore hybrid query (or the
// lexical-only fallback when q.LexicalOnly is set).
func (s *Store) Search(ctx context.Context, q Query) ([]Hit, error) {
	numCandidates := 30 * q.TopK
	var body map[string]any

	if q.LexicalOnly {
		minScore := q.MinScore
		if minScore == 0 {
			minScore = 0.3
		}
		body = map[string]any{
			"size":      q.TopK,
			"min_score": minScore,
			"query": map[string]any{
				"bool": map[string]any{
					"must":   map[string]any{"match": map[string]any{"textContent": q.QueryText}},
					"filter": permissionFilter(q),
				},
			},
		}
	} else {
		body = map[string]any{
			"size": q.TopK,
			"knn": map[string]any{
				"field":          "vector",
				"query_vector":   q.QueryVector,
				"k":              numCandidates,
				"num_candidates": numCandidates,
				"filter":         permissionFilter(q),
			},
			"query": map[string]any{
				"bool": map[string]any{
					"must":   map[string]any{"match": map[string]any{"textContent": q.QueryText}},
					"filter": permissionFilter(q),
				},
			},
			"rescore": map[string]any{
				"window_size": numCandidates,
				"query": map[string]any{
					"rescore_query": map[string]any{
						"match": map[string]any{
							"textContent": map[string]any{"query": q.QueryText, "operator": "AND"},
						},
					},
					"query_weight":        0.2,
					"rescore_query_weight": 1.0,
				},
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Upstream("marshal search request", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(IndexName),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, apperr.Upstream("search request failed", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperr.Upstream("search request rejected", nil)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					FileMd5     string  `json:"fileMd5"`
					ChunkID     int     `json:"chunkId"`
					TextContent string  `json:"textContent"`
					UserID      string  `json:"userId"`
					OrgTag      string  `json:"orgTag"`
					Public      bool    `json:"public"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperr.Upstream("decode search response", err)
	}

	out := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, Hit{
			Fingerprint: h.Source.FileMd5,
			ChunkID:     h.Source.ChunkID,
			Text:        h.Source.TextContent,
			Score:       h.Score,
			Owner:       h.Source.UserID,
			ScopeTag:    h.Source.OrgTag,
			IsPublic:    h.Source.Public,
		})
	}
	return out, nil
}
