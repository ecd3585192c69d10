package hybrid

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"knowledge-hub/internal/model"
	"knowledge-hub/internal/searchstore"
)

type fakeTags struct{ tags []string }

func (f fakeTags) EffectiveTags(ctx context.Context, userID string, assigned []string) []string {
	return f.tags
}

type fakeUsers struct{ user model.User }

func (f fakeUsers) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u := f.user
	return &u, nil
}

type fakeEmbedder struct {
	fail bool
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	return [][]float32{{0.1, 0.2}}, nil
}

type fakeStore struct {
	lastQuery searchstore.Query
	failOnce  bool
	called    int
}

func (f *fakeStore) Search(ctx context.Context, q searchstore.Query) ([]searchstore.Hit, error) {
	f.lastQuery = q
	f.called++
	if f.failOnce && f.called == 1 {
		return nil, errors.New("search store error")
	}
	return []searchstore.Hit{{Fingerprint: "fp1", ChunkID: 1, Text: "hello", Score: 1.0}}, nil
}

type fakeFilenames struct{}

func (fakeFilenames) FilenamesByFingerprint(ctx context.Context, fps []string) (map[string]string, error) {
	out := map[string]string{}
	for _, fp := range fps {
		out[fp] = fp + ".txt"
	}
	return out, nil
}

func TestSearchWithPermissionEmbeddingFailureFallsBackLexical(t *testing.T) {
	store := &fakeStore{}
	svc := New(fakeTags{tags: []string{"DEFAULT"}}, fakeUsers{}, fakeEmbedder{fail: true}, store, fakeFilenames{}, zap.NewNop())

	results, err := svc.SearchWithPermission(context.Background(), "q", "u1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.lastQuery.LexicalOnly {
		t.Fatalf("expected lexical-only query after embedding failure")
	}
	if store.lastQuery.MinScore < 0.3 {
		t.Fatalf("expected minScore >= 0.3, got %v", store.lastQuery.MinScore)
	}
	if len(results) != 1 || results[0].Filename != "fp1.txt" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearchWithPermissionStoreErrorRetriesLexical(t *testing.T) {
	store := &fakeStore{failOnce: true}
	svc := New(fakeTags{tags: []string{"DEFAULT"}}, fakeUsers{}, fakeEmbedder{}, store, fakeFilenames{}, zap.NewNop())

	results, err := svc.SearchWithPermission(context.Background(), "q", "u1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.called != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", store.called)
	}
	if !store.lastQuery.LexicalOnly {
		t.Fatalf("expected the retry to be lexical-only")
	}
	if len(results) != 1 {
		t.Fatalf("expected results from the lexical retry")
	}
}
