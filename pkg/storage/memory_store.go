package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryObjectStore keeps blobs in-process. It mirrors MinioStore semantics
// (overwrite on put, prefix listing with cap, md5 etags) for tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryObjectStore initializes an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memObject)}
}

// Put stores bytes under a key, overwriting any existing object.
func (m *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{
		data:        data,
		contentType: contentType,
		metadata:    meta,
		modified:    time.Now().UTC(),
	}
	return key, nil
}

// Get opens an object for reading.
func (m *MemoryObjectStore) Get(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &Object{
		ObjectInfo: infoFor(key, obj),
		Body:       io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// List returns up to limit objects whose key has the given prefix.
func (m *MemoryObjectStore) List(_ context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	infos := make([]ObjectInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, infoFor(key, m.objects[key]))
	}
	return infos, nil
}

// Delete removes an object. Removing a missing key succeeds.
func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryObjectStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func infoFor(key string, obj memObject) ObjectInfo {
	sum := md5.Sum(obj.data)
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: obj.modified,
		Metadata:     obj.metadata,
	}
}
