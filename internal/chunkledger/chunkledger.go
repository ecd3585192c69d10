// Package chunkledger implements the Chunk Ledger (C2): a bitmap surface
// in the fast KV store tracking which chunk indices of a (user,
// fingerprint) pair have arrived, plus per-chunk metadata in the
// relational store. Grounded on the bitmap-free, fully in-memory
// ChunkedUploadSession.Uploaded map[int]bool in
// other_examples/.../securestor-securestor chunked_upload_handler.go,
// re-expressed against a real bitmap primitive (SETBIT/GETBIT) so state
// survives process restarts and is shared across handler instances, per
// spec §4.2.
package chunkledger

import (
	"context"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

type KVStore interface {
	SetBit(ctx context.Context, key string, offset int64, value int) error
	GetBit(ctx context.Context, key string, offset int64) (bool, error)
	GetBitmap(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

type MetaStore interface {
	SaveChunkMeta(ctx context.Context, c *model.ChunkRecord) error
	ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error)
}

type Ledger struct {
	kv   KVStore
	meta MetaStore
}

func New(kv KVStore, meta MetaStore) *Ledger {
	return &Ledger{kv: kv, meta: meta}
}

func bitmapKey(userID, fingerprint string) string {
	return "upload:" + userID + ":" + fingerprint
}

func (l *Ledger) MarkUploaded(ctx context.Context, userID, fingerprint string, index int) error {
	if index < 0 {
		return apperr.Validation("chunk index must be >= 0")
	}
	return l.kv.SetBit(ctx, bitmapKey(userID, fingerprint), int64(index), 1)
}

func (l *Ledger) IsUploaded(ctx context.Context, userID, fingerprint string, index int) (bool, error) {
	if index < 0 {
		return false, apperr.Validation("chunk index must be >= 0")
	}
	return l.kv.GetBit(ctx, bitmapKey(userID, fingerprint), int64(index))
}

// ListUploaded fetches the raw bitmap in a single round trip and scans
// bits 0..n-1, satisfying C2's O(1)-round-trips invariant.
func (l *Ledger) ListUploaded(ctx context.Context, userID, fingerprint string, n int) ([]int, error) {
	raw, err := l.kv.GetBitmap(ctx, bitmapKey(userID, fingerprint))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		if byteIdx >= len(raw) {
			break
		}
		bitIdx := uint(7 - i%8) // Redis bitmaps are big-endian within a byte
		if raw[byteIdx]&(1<<bitIdx) != 0 {
			out = append(out, i)
		}
	}
	return out, nil
}

func (l *Ledger) SaveChunkMeta(ctx context.Context, fingerprint string, index int, chunkFingerprint, storagePath string) error {
	return l.meta.SaveChunkMeta(ctx, &model.ChunkRecord{
		Fingerprint:      fingerprint,
		Index:            index,
		ChunkFingerprint: chunkFingerprint,
		StoragePath:      storagePath,
	})
}

func (l *Ledger) ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error) {
	return l.meta.ListChunkMeta(ctx, fingerprint)
}

func (l *Ledger) DeleteBitmap(ctx context.Context, userID, fingerprint string) error {
	return l.kv.Del(ctx, bitmapKey(userID, fingerprint))
}
