package upload

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
	"knowledge-hub/internal/queue"
)

type fakeLedger struct {
	marked map[string]bool
	meta   map[string][]model.ChunkRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{marked: map[string]bool{}, meta: map[string][]model.ChunkRecord{}}
}

func key(userID, fingerprint string, index int) string {
	return userID + "|" + fingerprint + "|" + string(rune('0'+index))
}

func (l *fakeLedger) MarkUploaded(ctx context.Context, userID, fingerprint string, index int) error {
	if index < 0 {
		return apperr.Validation("chunk index must be >= 0")
	}
	l.marked[key(userID, fingerprint, index)] = true
	return nil
}

func (l *fakeLedger) IsUploaded(ctx context.Context, userID, fingerprint string, index int) (bool, error) {
	if index < 0 {
		return false, apperr.Validation("chunk index must be >= 0")
	}
	return l.marked[key(userID, fingerprint, index)], nil
}

func (l *fakeLedger) ListUploaded(ctx context.Context, userID, fingerprint string, n int) ([]int, error) {
	var out []int
	for i := 0; i < n; i++ {
		if l.marked[key(userID, fingerprint, i)] {
			out = append(out, i)
		}
	}
	return out, nil
}

func (l *fakeLedger) SaveChunkMeta(ctx context.Context, fingerprint string, index int, chunkFingerprint, storagePath string) error {
	recs := l.meta[fingerprint]
	for i, r := range recs {
		if r.Index == index {
			recs[i].ChunkFingerprint = chunkFingerprint
			recs[i].StoragePath = storagePath
			l.meta[fingerprint] = recs
			return nil
		}
	}
	l.meta[fingerprint] = append(recs, model.ChunkRecord{Fingerprint: fingerprint, Index: index, ChunkFingerprint: chunkFingerprint, StoragePath: storagePath})
	return nil
}

func (l *fakeLedger) ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error) {
	recs := append([]model.ChunkRecord{}, l.meta[fingerprint]...)
	return recs, nil
}

func (l *fakeLedger) DeleteBitmap(ctx context.Context, userID, fingerprint string) error {
	for k := range l.marked {
		delete(l.marked, k)
	}
	return nil
}

type fakeFiles struct {
	records map[string]*model.FileRecord
}

func newFakeFiles() *fakeFiles { return &fakeFiles{records: map[string]*model.FileRecord{}} }

func frKey(fingerprint, userID string) string { return fingerprint + "|" + userID }

func (f *fakeFiles) GetFileRecord(ctx context.Context, fingerprint, userID string) (*model.FileRecord, error) {
	r, ok := f.records[frKey(fingerprint, userID)]
	if !ok {
		return nil, apperr.NotFound("file not found")
	}
	return r, nil
}

func (f *fakeFiles) CreateFileRecord(ctx context.Context, fr *model.FileRecord) error {
	f.records[frKey(fr.Fingerprint, fr.UserID)] = fr
	return nil
}

func (f *fakeFiles) MarkFileMerged(ctx context.Context, fingerprint, userID string, mergedAt time.Time) error {
	r, ok := f.records[frKey(fingerprint, userID)]
	if !ok {
		return apperr.NotFound("file not found")
	}
	r.Status = model.FileStatusMerged
	r.MergedAt = mergedAt
	return nil
}

type fakeUsers struct{}

func (fakeUsers) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, PrimaryTag: "PRIVATE_" + id}, nil
}

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (s *fakeStore) PutChunk(ctx context.Context, fingerprint string, index int, r io.Reader, size int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[chunkKey(fingerprint, index)] = b
	return nil
}

func chunkKey(fingerprint string, index int) string {
	return "chunks/" + fingerprint + "/" + string(rune('0'+index))
}

func (s *fakeStore) Exists(ctx context.Context, path string) (bool, int64, error) {
	b, ok := s.objects[path]
	return ok, int64(len(b)), nil
}

func (s *fakeStore) ComposeChunks(ctx context.Context, fingerprint string, chunkCount int, filename string) error {
	var buf bytes.Buffer
	for i := 0; i < chunkCount; i++ {
		buf.Write(s.objects[chunkKey(fingerprint, i)])
	}
	s.objects["merged/"+filename] = buf.Bytes()
	return nil
}

func (s *fakeStore) RemoveChunks(ctx context.Context, fingerprint string, chunkCount int) {
	for i := 0; i < chunkCount; i++ {
		delete(s.objects, chunkKey(fingerprint, i))
	}
}

func (s *fakeStore) PresignedDownloadURL(ctx context.Context, path string, expirySeconds int) (string, error) {
	return "https://example.test/" + path, nil
}

type fakeBroker struct {
	tasks []queue.PostMergeTask
}

func (b *fakeBroker) Enqueue(ctx context.Context, task queue.PostMergeTask) error {
	b.tasks = append(b.tasks, task)
	return nil
}

func TestUploadChunkIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	ledger, files, store, broker := newFakeLedger(), newFakeFiles(), newFakeStore(), &fakeBroker{}
	c := New(ledger, files, fakeUsers{}, store, broker, 5<<20)

	data := []byte("hello world")
	err := c.UploadChunk(ctx, "u1", "fp1", 1, int64(len(data)), "doc.txt", bytes.NewReader(data), "", false)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	err = c.UploadChunk(ctx, "u1", "fp1", 1, int64(len(data)), "doc.txt", bytes.NewReader(data), "", false)
	if err != nil {
		t.Fatalf("replay upload: %v", err)
	}
	if len(ledger.meta["fp1"]) != 1 {
		t.Fatalf("expected exactly one chunk record, got %d", len(ledger.meta["fp1"]))
	}
}

func TestUploadChunkNegativeIndexRejected(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeLedger(), newFakeFiles(), fakeUsers{}, newFakeStore(), &fakeBroker{}, 5<<20)
	err := c.UploadChunk(ctx, "u1", "fp1", -1, 10, "doc.txt", bytes.NewReader(nil), "", false)
	if !apperr.IsClass(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadChunkUnsupportedType(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeLedger(), newFakeFiles(), fakeUsers{}, newFakeStore(), &fakeBroker{}, 5<<20)
	err := c.UploadChunk(ctx, "u1", "fp2", 0, 10, "malware.exe", bytes.NewReader([]byte("x")), "", false)
	if !apperr.IsClass(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error for denied extension, got %v", err)
	}
}

func TestMergeIncompleteChunksRejected(t *testing.T) {
	ctx := context.Background()
	ledger, files, store, broker := newFakeLedger(), newFakeFiles(), newFakeStore(), &fakeBroker{}
	c := New(ledger, files, fakeUsers{}, store, broker, 5<<20)

	data := bytes.Repeat([]byte("a"), 5<<20)
	if err := c.UploadChunk(ctx, "u1", "fp3", 0, int64(12<<20), "doc.txt", bytes.NewReader(data), "", false); err != nil {
		t.Fatalf("upload chunk 0: %v", err)
	}

	if _, err := c.Merge(ctx, "u1", "fp3", "doc.txt"); !apperr.IsClass(err, apperr.ClassValidation) {
		t.Fatalf("expected incomplete-chunks validation error, got %v", err)
	}
}

func TestMergeSuccessEnqueuesTask(t *testing.T) {
	ctx := context.Background()
	ledger, files, store, broker := newFakeLedger(), newFakeFiles(), newFakeStore(), &fakeBroker{}
	c := New(ledger, files, fakeUsers{}, store, broker, 5<<20)

	chunkData := bytes.Repeat([]byte("a"), 5<<20)
	lastChunk := bytes.Repeat([]byte("b"), 2<<20)
	totalSize := int64(2*(5<<20) + len(lastChunk))

	for i := 0; i < 2; i++ {
		if err := c.UploadChunk(ctx, "u1", "fp4", i, totalSize, "doc.txt", bytes.NewReader(chunkData), "", false); err != nil {
			t.Fatalf("upload chunk %d: %v", i, err)
		}
	}
	if err := c.UploadChunk(ctx, "u1", "fp4", 2, totalSize, "doc.txt", bytes.NewReader(lastChunk), "", false); err != nil {
		t.Fatalf("upload chunk 2: %v", err)
	}

	url, err := c.Merge(ctx, "u1", "fp4", "doc.txt")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if url == "" {
		t.Fatalf("expected a non-empty presigned url")
	}
	if len(broker.tasks) != 1 {
		t.Fatalf("expected exactly one enqueued task, got %d", len(broker.tasks))
	}
	if broker.tasks[0].Fingerprint != "fp4" {
		t.Fatalf("unexpected task fingerprint: %+v", broker.tasks[0])
	}
	if files.records[frKey("fp4", "u1")].Status != model.FileStatusMerged {
		t.Fatalf("expected file record to be marked MERGED")
	}
}
