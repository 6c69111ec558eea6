// Package objectstore uploads extraction output to an S3-compatible bucket,
// or to a directory tree standing in for one.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/config"
)

// ObjectStore abstracts the bucket operations the pusher needs.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	PutFile(ctx context.Context, bucket, key, path string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error)
}

// FromConfig returns an S3 client when an endpoint is configured, otherwise
// a LocalStore rooted at cfg.ObjectStoreRoot.
func FromConfig(cfg *config.Config, logger *zap.Logger) (ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		logger.Info("no object store endpoint configured, using local store", zap.String("root", cfg.ObjectStoreRoot))
		return NewLocalStore(cfg.ObjectStoreRoot), nil
	}
	return NewS3Client(S3Config{
		EndpointURL:     cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
		UseSSL:          cfg.MinioUseSSL,
		Region:          cfg.MinioRegion,
	})
}

// LocalStore persists objects on disk, one directory per bucket.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local object store rooted at root.
func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "objectstore")
	}
	return &LocalStore{root: root}
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	return nil
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}
	if err := os.MkdirAll(s.bucketPath(bucket), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	return nil
}

func (s *LocalStore) PutFile(ctx context.Context, bucket, key, path string) error {
	if err := s.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	if key == "" {
		return wrapError(CodeUnknown, false, fmt.Errorf("object key is required"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return wrapError(CodeUnknown, true, err)
	}
	fullPath := filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return wrapError(CodeUnknown, true, err)
	}
	return nil
}

func (s *LocalStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeUnknown, true, err)
	}
	return data, nil
}

func (s *LocalStore) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := s.bucketPath(bucket)

	var keys []string
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, wrapError(CodeUnknown, true, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, filepath.Base(filepath.Clean("/"+bucket)))
}
