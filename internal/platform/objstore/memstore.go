package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/smithy-go"
)

// MemStore is an in-memory Store for tests. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]map[string][]byte)}
}

// EnsureBucket creates the bucket if absent.
func (m *MemStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

// BucketExists reports whether the bucket exists.
func (m *MemStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

// PutObject stores a copy of data under key.
func (m *MemStore) PutObject(_ context.Context, bucket, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		return fmt.Errorf("failed to put object %s in bucket %s: %w", key, bucket, errBucketNotFound)
	}
	objects[key] = append([]byte(nil), data...)
	return nil
}

// GetObject returns a copy of the stored data.
func (m *MemStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, errBucketNotFound)
	}
	data, ok := objects[key]
	if !ok {
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, errObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// DeleteObject removes an object. Deleting an absent object succeeds,
// matching S3.
func (m *MemStore) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if objects, ok := m.buckets[bucket]; ok {
		delete(objects, key)
	}
	return nil
}

// ListObjects returns sorted keys under prefix.
func (m *MemStore) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("failed to list objects in bucket %s: %w", bucket, errBucketNotFound)
	}
	var keys []string
	for key := range objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// EmptyAndDeleteBucket drops the bucket and everything in it.
func (m *MemStore) EmptyAndDeleteBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, bucket)
	return nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

// ErrorCode lets IsNotFound classify MemStore errors the same way it
// classifies wire errors.
func (e notFoundError) ErrorCode() string { return "NotFound" }

func (e notFoundError) ErrorMessage() string { return string(e) }

func (e notFoundError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

const (
	errBucketNotFound = notFoundError("bucket does not exist")
	errObjectNotFound = notFoundError("object does not exist")
)
