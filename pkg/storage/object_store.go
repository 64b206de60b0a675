package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultListLimit caps prefix listings. Callers must not assume a listing
// is complete for buckets holding more objects than the cap.
const DefaultListLimit = 100

// ErrObjectNotFound reports an absent key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored blob without its payload.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Object is a stored blob opened for reading. Callers own Body.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// ObjectStore provides opaque byte storage addressed by key. Objects are
// immutable once stored; Put overwrites whole objects only.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (string, error)
	Get(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
