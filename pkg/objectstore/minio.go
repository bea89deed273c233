package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
)

// MinioStore implements Store on any S3-compatible endpoint.
// It is safe for concurrent use.
type MinioStore struct {
	client *miniogo.Client
	logger *zap.Logger
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore creates a client for cfg. It does not contact the server.
func NewMinioStore(cfg *config.ObjectStoreConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &MinioStore{client: client, logger: logger.Named("objectstore")}, nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, bucket, key)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(err, bucket, key)
	}

	s.logger.Debug("Opened object",
		zap.String("bucket", bucket),
		zap.String("key", key))
	return obj, nil
}

func (s *MinioStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	opts := miniogo.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, bucket, prefix)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// mapError turns missing buckets and keys into apperrors.ErrNotFound.
func mapError(err error, bucket, key string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	resp := miniogo.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.Code == "NoSuchBucket",
		resp.Code == "NoSuchKey":
		return fmt.Errorf("%s%s/%s: %w", Scheme, bucket, key, apperrors.ErrNotFound)
	case resp.StatusCode == http.StatusForbidden,
		resp.Code == "AccessDenied",
		resp.Code == "InvalidAccessKeyId",
		resp.Code == "SignatureDoesNotMatch":
		return fmt.Errorf("access denied to %s%s/%s: %w", Scheme, bucket, key, err)
	}
	return fmt.Errorf("object store request for %s%s/%s failed: %w", Scheme, bucket, key, err)
}
