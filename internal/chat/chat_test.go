package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"knowledge-hub/internal/chatmodel"
	"knowledge-hub/internal/model"
)

type fakeSearch struct {
	results []model.SearchResult
	err     error
}

func (f *fakeSearch) SearchWithPermission(ctx context.Context, query string, userID string, topK int) ([]model.SearchResult, error) {
	return f.results, f.err
}

type fakeConvStore struct {
	values map[string][]byte
}

func newFakeConvStore() *fakeConvStore { return &fakeConvStore{values: map[string][]byte{}} }

func (f *fakeConvStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (f *fakeConvStore) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.values[key] = b
	return nil
}

type fakeModel struct {
	deltas []string
	err    error
}

func (f *fakeModel) Stream(ctx context.Context, turns []chatmodel.ChatTurn, temperature, topP float64, maxTokens int, onDelta func(string)) error {
	for _, d := range f.deltas {
		onDelta(d)
	}
	return f.err
}

func TestHandleMessageEmitsChunksThenCompletion(t *testing.T) {
	search := &fakeSearch{results: []model.SearchResult{{Filename: "a.pdf", Text: "Alpha beta."}}}
	store := newFakeConvStore()
	mdl := &fakeModel{deltas: []string{"Hel", "lo."}}
	o := New(search, store, mdl, zap.NewNop(), "rules", "no refs", 0.3, 0.9, 2000, time.Hour)

	var frames []Frame
	o.HandleMessage(context.Background(), "session-1", "user-1", "Hi", func(f Frame) {
		frames = append(frames, f)
	})

	if len(frames) != 4 {
		t.Fatalf("expected 4 frames (session + 2 chunks + completion), got %d: %+v", len(frames), frames)
	}
	if frames[0].Type != "session" || frames[0].Token == "" {
		t.Fatalf("expected a session frame carrying a cancel token, got %+v", frames[0])
	}
	if frames[1].Chunk != "Hel" || frames[2].Chunk != "lo." {
		t.Fatalf("unexpected chunk frames: %+v", frames[1:3])
	}
	if frames[3].Type != "completion" || frames[3].Status != "finished" {
		t.Fatalf("expected completion frame, got %+v", frames[3])
	}
	if frames[3].Message != "Hello." {
		t.Fatalf("expected assembled message 'Hello.', got %q", frames[3].Message)
	}

	var conv model.Conversation
	ok, err := store.GetJSON(context.Background(), conversationKey("user-1"), &conv)
	if err != nil || !ok {
		t.Fatalf("expected conversation to be persisted, ok=%v err=%v", ok, err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages in conversation, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Content != "Hi" || conv.Messages[1].Content != "Hello." {
		t.Fatalf("unexpected conversation contents: %+v", conv.Messages)
	}
}

func TestHandleMessageModelErrorStillEmitsCompletion(t *testing.T) {
	search := &fakeSearch{}
	store := newFakeConvStore()
	mdl := &fakeModel{err: context.DeadlineExceeded}
	o := New(search, store, mdl, zap.NewNop(), "rules", "no refs", 0.3, 0.9, 2000, time.Hour)

	var frames []Frame
	o.HandleMessage(context.Background(), "session-2", "user-2", "Hi", func(f Frame) {
		frames = append(frames, f)
	})

	if len(frames) != 3 {
		t.Fatalf("expected session + error frame + completion frame, got %d: %+v", len(frames), frames)
	}
	if frames[0].Type != "session" {
		t.Fatalf("expected first frame to be the session frame, got %+v", frames[0])
	}
	if frames[1].Error == "" {
		t.Fatalf("expected second frame to carry an error, got %+v", frames[1])
	}
	if frames[2].Type != "completion" {
		t.Fatalf("expected completion frame after error, got %+v", frames[2])
	}

	if _, ok := store.values[conversationKey("user-2")]; ok {
		t.Fatalf("conversation must not be persisted on model error")
	}
}

func TestBuildContextTruncatesAndCapsAtFive(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	results := make([]model.SearchResult, 7)
	for i := range results {
		results[i] = model.SearchResult{Filename: "f.pdf", Text: string(long)}
	}
	ctx := buildContext(results)
	count := 0
	xs := 0
	for _, r := range []byte(ctx) {
		if r == '\n' {
			count++
		}
		if r == 'x' {
			xs++
		}
	}
	if count != 5 {
		t.Fatalf("expected context capped at 5 lines, got %d", count)
	}
	if xs != 5*300 {
		t.Fatalf("expected each result truncated to 300 characters, got %d in total", xs)
	}
}

func TestCancelSetsFlagThenClears(t *testing.T) {
	o := New(&fakeSearch{}, newFakeConvStore(), &fakeModel{}, zap.NewNop(), "rules", "no refs", 0.3, 0.9, 2000, time.Hour)
	st := o.stateFor("session-3")
	st.cancelToken = "tok"

	var frames []Frame
	o.Cancel("session-3", "tok", func(f Frame) { frames = append(frames, f) })

	if len(frames) != 1 || frames[0].Type != "stop" {
		t.Fatalf("expected a stop frame, got %+v", frames)
	}
	st.mu.Lock()
	cancelled := st.cancel
	st.mu.Unlock()
	if !cancelled {
		t.Fatalf("expected cancel flag to be set immediately after Cancel")
	}

	time.Sleep(2500 * time.Millisecond)
	st.mu.Lock()
	cancelled = st.cancel
	st.mu.Unlock()
	if cancelled {
		t.Fatalf("expected cancel flag to be cleared 2s after Cancel")
	}
}
