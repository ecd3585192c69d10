// Package upload implements the Upload Coordinator (C3): accepts chunk
// uploads, deduplicates and stores them, and on request composes the
// final object. Grounded on the merge flow of
// other_examples/.../securestor-securestor chunked_upload_handler.go
// (handleUploadChunk/handleCompleteChunkedUpload: per-chunk checksum,
// assemble-in-order, delete source chunks, trigger async post-processing)
// re-expressed against the bitmap + relational + object-store split of
// spec §4.3 instead of that file's fully in-memory session map.
package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
	"knowledge-hub/internal/objectstore"
	"knowledge-hub/internal/queue"
)

// SupportedExtensions is the documented file-type allow-list (spec §6).
var SupportedExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true, "txt": true, "rtf": true, "md": true,
	"odt": true, "ods": true, "odp": true, "html": true, "htm": true,
	"xml": true, "json": true, "csv": true, "epub": true, "pages": true,
	"numbers": true, "keynote": true,
}

// DeniedExtensions is the explicit binary/media deny-list producing a
// specific "unsupported" error rather than the generic guidance error.
var DeniedExtensions = map[string]bool{
	"exe": true, "dll": true, "so": true, "bin": true, "msi": true,
	"mp3": true, "mp4": true, "avi": true, "mov": true, "mkv": true,
	"jpg": true, "jpeg": true, "png": true, "gif": true, "zip": true,
	"rar": true, "7z": true, "iso": true,
}

type Ledger interface {
	MarkUploaded(ctx context.Context, userID, fingerprint string, index int) error
	IsUploaded(ctx context.Context, userID, fingerprint string, index int) (bool, error)
	ListUploaded(ctx context.Context, userID, fingerprint string, n int) ([]int, error)
	SaveChunkMeta(ctx context.Context, fingerprint string, index int, chunkFingerprint, storagePath string) error
	ListChunkMeta(ctx context.Context, fingerprint string) ([]model.ChunkRecord, error)
	DeleteBitmap(ctx context.Context, userID, fingerprint string) error
}

type FileRepository interface {
	GetFileRecord(ctx context.Context, fingerprint, userID string) (*model.FileRecord, error)
	CreateFileRecord(ctx context.Context, f *model.FileRecord) error
	MarkFileMerged(ctx context.Context, fingerprint, userID string, mergedAt time.Time) error
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type ObjectStore interface {
	PutChunk(ctx context.Context, fingerprint string, index int, r io.Reader, size int64) error
	Exists(ctx context.Context, path string) (bool, int64, error)
	ComposeChunks(ctx context.Context, fingerprint string, chunkCount int, filename string) error
	RemoveChunks(ctx context.Context, fingerprint string, chunkCount int)
	PresignedDownloadURL(ctx context.Context, path string, expirySeconds int) (string, error)
}

type Broker interface {
	Enqueue(ctx context.Context, task queue.PostMergeTask) error
}

type Coordinator struct {
	ledger      Ledger
	files       FileRepository
	users       UserRepository
	store       ObjectStore
	broker      Broker
	chunkSize   int64
	presignSecs int
}

func New(ledger Ledger, files FileRepository, users UserRepository, store ObjectStore, broker Broker, chunkSize int64) *Coordinator {
	return &Coordinator{
		ledger: ledger, files: files, users: users, store: store, broker: broker,
		chunkSize: chunkSize, presignSecs: 15 * 60,
	}
}

func classifyExtension(filename string) (ext string, supported bool, denied bool) {
	ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext, SupportedExtensions[ext], DeniedExtensions[ext]
}

// UploadChunk implements spec §4.3's uploadChunk operation.
func (c *Coordinator) UploadChunk(ctx context.Context, userID, fingerprint string, index int, totalSize int64, filename string, data io.Reader, scopeTag string, isPublic bool) error {
	if index < 0 {
		return apperr.Validation("chunk index must be >= 0")
	}

	existing, err := c.files.GetFileRecord(ctx, fingerprint, userID)
	if err != nil && !apperr.IsClass(err, apperr.ClassNotFound) {
		return err
	}

	if existing == nil {
		if index == 0 {
			ext, supported, denied := classifyExtension(filename)
			if denied {
				return apperr.Validationf("unsupported file type: %s", ext)
			}
			if !supported {
				return apperr.Validationf("unrecognized file type: %s", ext)
			}
		}

		if scopeTag == "" {
			user, err := c.users.GetUserByID(ctx, userID)
			if err != nil {
				return err
			}
			scopeTag = user.PrimaryTag
		}

		if err := c.files.CreateFileRecord(ctx, &model.FileRecord{
			Fingerprint: fingerprint,
			UserID:      userID,
			Filename:    filename,
			TotalSize:   totalSize,
			Status:      model.FileStatusUploading,
			ScopeTag:    scopeTag,
			IsPublic:    isPublic,
			CreatedAt:   time.Now(),
		}); err != nil {
			return err
		}
	}

	already, err := c.ledger.IsUploaded(ctx, userID, fingerprint, index)
	if err != nil {
		return err
	}
	if already {
		path := objectstore.ChunkPath(fingerprint, index)
		exists, _, err := c.store.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		// bit set but object missing: fall through and re-store.
	}

	sum := md5.New()
	tee := io.TeeReader(data, sum)

	if err := c.store.PutChunk(ctx, fingerprint, index, tee, -1); err != nil {
		return apperr.Upstream("store chunk object", err)
	}

	chunkFingerprint := hex.EncodeToString(sum.Sum(nil))
	if err := c.ledger.SaveChunkMeta(ctx, fingerprint, index, chunkFingerprint, objectstore.ChunkPath(fingerprint, index)); err != nil {
		return err
	}
	return c.ledger.MarkUploaded(ctx, userID, fingerprint, index)
}

func (c *Coordinator) ListUploaded(ctx context.Context, userID, fingerprint string, totalSize int64) ([]int, error) {
	n := expectedChunks(totalSize, c.chunkSize)
	return c.ledger.ListUploaded(ctx, userID, fingerprint, n)
}

// ExpectedChunks reports how many chunks a file of totalSize is expected
// to have (spec §4.3's ceil(totalSize/chunkSize)), letting callers (the
// upload-status handler) compute progress without duplicating the
// deployment chunk-size constant.
func (c *Coordinator) ExpectedChunks(totalSize int64) int {
	return expectedChunks(totalSize, c.chunkSize)
}

func expectedChunks(totalSize, chunkSize int64) int {
	return int(math.Ceil(float64(totalSize) / float64(chunkSize)))
}

// Merge implements spec §4.3's merge operation.
func (c *Coordinator) Merge(ctx context.Context, userID, fingerprint, filename string) (string, error) {
	file, err := c.files.GetFileRecord(ctx, fingerprint, userID)
	if err != nil {
		return "", err
	}
	if file.Status != model.FileStatusUploading {
		return "", apperr.Conflict("file is not in an uploadable state")
	}

	chunks, err := c.ledger.ListChunkMeta(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	expected := expectedChunks(file.TotalSize, c.chunkSize)
	if len(chunks) != expected {
		return "", apperr.Validation("incomplete chunks")
	}
	for i, rec := range chunks {
		if rec.Index != i {
			return "", apperr.Validation("incomplete chunks")
		}
		exists, _, err := c.store.Exists(ctx, rec.StoragePath)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", apperr.Validation("incomplete chunks")
		}
	}

	if err := c.store.ComposeChunks(ctx, fingerprint, expected, filename); err != nil {
		return "", err
	}
	mergedPath := objectstore.MergedPath(filename)
	exists, _, err := c.store.Exists(ctx, mergedPath)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperr.Upstream("compose merged object", nil)
	}

	c.store.RemoveChunks(ctx, fingerprint, expected)

	if err := c.ledger.DeleteBitmap(ctx, userID, fingerprint); err != nil {
		return "", err
	}

	mergedAt := time.Now()
	if err := c.files.MarkFileMerged(ctx, fingerprint, userID, mergedAt); err != nil {
		return "", err
	}

	if err := c.broker.Enqueue(ctx, queue.PostMergeTask{
		Fingerprint: fingerprint,
		MergedURL:   mergedPath,
		Filename:    filename,
		UserID:      userID,
		ScopeTag:    file.ScopeTag,
		IsPublic:    file.IsPublic,
	}); err != nil {
		return "", err
	}

	return c.store.PresignedDownloadURL(ctx, mergedPath, c.presignSecs)
}
