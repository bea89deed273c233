// Package objectstore reads catalog snapshots and CSV uploads kept in
// S3-compatible object storage.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Scheme prefixes object URIs, as in s3://bucket/key.
const Scheme = "s3://"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the read-only view of object storage the catalog layer needs.
type Store interface {
	// Get opens the object at key. The caller must close the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// List returns the objects under prefix, recursively, ordered by key.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// IsURI reports whether path names an object rather than a local file.
func IsURI(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ParseURI splits s3://bucket/key into bucket and key. The key may be empty
// or end in "/" when the URI names a prefix.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("not an object uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("object uri %q has no bucket", uri)
	}
	return bucket, key, nil
}
