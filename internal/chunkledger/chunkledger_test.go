package chunkledger

import (
	"context"
	"testing"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

type fakeKV struct {
	bitmaps map[string][]byte
	deleted []string
}

func newFakeKV() *fakeKV { return &fakeKV{bitmaps: map[string][]byte{}} }

func (f *fakeKV) SetBit(ctx context.Context, key string, offset int64, value int) error {
	b := f.bitmaps[key]
	byteIdx := int(offset / 8)
	for len(b) <= byteIdx {
		b = append(b, 0)
	}
	bitIdx := uint(7 - offset%8)
	if value == 1 {
		b[byteIdx] |= 1 << bitIdx
	} else {
		b[byteIdx] &^= 1 << bitIdx
	}
	f.bitmaps[key] = b
	return nil
}

func (f *fakeKV) GetBit(ctx context.Context, key string, offset int64) (bool, error) {
	b := f.bitmaps[key]
	byteIdx := int(offset / 8)
	if byteIdx >= len(b) {
		return false, nil
	}
	bitIdx := uint(7 - offset%8)
	return b[byteIdx]&(1<<bitIdx) != 0, nil
}

func (f *fakeKV) GetBitmap(ctx context.Context, key string) ([]byte, error) {
	return f.bitmaps[key], nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	delete(f.bitmaps, keys[0])
	return nil
}

type fakeMeta struct {
	rows []model.ChunkRecord
}

func (f *fakeMeta) SaveChunkMeta(ctx context.Context, c *model.ChunkRecord) error {
	f.rows = append(f.rows, *c)
	return nil
}

func (f *fakeMeta) ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error) {
	var out []model.ChunkRecord
	for _, r := range f.rows {
		if r.Fingerprint == fingerprint {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestMarkThenIsUploaded(t *testing.T) {
	l := New(newFakeKV(), &fakeMeta{})
	ctx := context.Background()

	if err := l.MarkUploaded(ctx, "u1", "fp1", 2); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	ok, err := l.IsUploaded(ctx, "u1", "fp1", 2)
	if err != nil || !ok {
		t.Fatalf("expected bit 2 set, got ok=%v err=%v", ok, err)
	}
	ok, err = l.IsUploaded(ctx, "u1", "fp1", 1)
	if err != nil || ok {
		t.Fatalf("expected bit 1 unset, got ok=%v err=%v", ok, err)
	}
}

func TestListUploadedOrderedSubset(t *testing.T) {
	l := New(newFakeKV(), &fakeMeta{})
	ctx := context.Background()

	for _, i := range []int{0, 2} {
		if err := l.MarkUploaded(ctx, "u1", "fp1", i); err != nil {
			t.Fatalf("MarkUploaded(%d): %v", i, err)
		}
	}
	got, err := l.ListUploaded(ctx, "u1", "fp1", 3)
	if err != nil {
		t.Fatalf("ListUploaded: %v", err)
	}
	want := []int{0, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNegativeIndexRejected(t *testing.T) {
	l := New(newFakeKV(), &fakeMeta{})
	ctx := context.Background()

	if err := l.MarkUploaded(ctx, "u1", "fp1", -1); !apperr.IsClass(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := l.IsUploaded(ctx, "u1", "fp1", -1); !apperr.IsClass(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteBitmap(t *testing.T) {
	kv := newFakeKV()
	l := New(kv, &fakeMeta{})
	ctx := context.Background()

	_ = l.MarkUploaded(ctx, "u1", "fp1", 0)
	if err := l.DeleteBitmap(ctx, "u1", "fp1"); err != nil {
		t.Fatalf("DeleteBitmap: %v", err)
	}
	if _, ok := kv.bitmaps[bitmapKey("u1", "fp1")]; ok {
		t.Fatalf("expected bitmap to be deleted")
	}
}
