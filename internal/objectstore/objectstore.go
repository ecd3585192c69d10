// Package objectstore wraps minio-go, grounded on
// go-inference-service/minio_integration.go's MinIOService (bucket
// bootstrap, Put/Get/Remove wrappers) generalized to the chunk/merge
// layout of spec §6: chunks/<fingerprint>/<index> and merged/<filename>.
package objectstore

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
)

type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, apperr.Upstream("create object store client", err)
	}
	s := &Store{client: client, bucket: bucket, logger: logger}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperr.Upstream("check bucket existence", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperr.Upstream("create bucket", err)
	}
	s.logger.Info("created object store bucket", zap.String("bucket", s.bucket))
	return nil
}

func ChunkPath(fingerprint string, index int) string {
	return "chunks/" + fingerprint + "/" + strconv.Itoa(index)
}

func MergedPath(filename string) string {
	return "merged/" + filename
}

func (s *Store) PutChunk(ctx context.Context, fingerprint string, index int, r io.Reader, size int64) error {
	path := ChunkPath(fingerprint, index)
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return apperr.Upstream("store chunk object", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.StatusCode == 404 {
			return false, 0, nil
		}
		return false, 0, apperr.Upstream("stat object", err)
	}
	return true, info.Size, nil
}

// ComposeChunks invokes the store's native composition primitive to merge
// the ordered chunk objects into merged/<filename> (spec §4.3 step 4).
func (s *Store) ComposeChunks(ctx context.Context, fingerprint string, chunkCount int, filename string) error {
	srcs := make([]minio.CopySrcOptions, chunkCount)
	for i := 0; i < chunkCount; i++ {
		srcs[i] = minio.CopySrcOptions{Bucket: s.bucket, Object: ChunkPath(fingerprint, i)}
	}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: MergedPath(filename)}
	if _, err := s.client.ComposeObject(ctx, dst, srcs...); err != nil {
		return apperr.Upstream("compose merged object", err)
	}
	return nil
}

// RemoveChunks deletes the source chunk objects after a successful merge.
// Failures are best-effort per spec §4.3 step 5: the caller logs and swallows.
func (s *Store) RemoveChunks(ctx context.Context, fingerprint string, chunkCount int) {
	for i := 0; i < chunkCount; i++ {
		if err := s.client.RemoveObject(ctx, s.bucket, ChunkPath(fingerprint, i), minio.RemoveObjectOptions{}); err != nil {
			s.logger.Warn("failed to remove source chunk object",
				zap.String("fingerprint", fingerprint), zap.Int("index", i), zap.Error(err))
		}
	}
}

func (s *Store) GetObject(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Upstream("open object", err)
	}
	return obj, nil
}

func (s *Store) PresignedDownloadURL(ctx context.Context, path string, expirySeconds int) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, time.Duration(expirySeconds)*time.Second, nil)
	if err != nil {
		return "", apperr.Upstream("presign download url", err)
	}
	return u.String(), nil
}
