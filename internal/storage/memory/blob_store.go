// Package memory keeps blobs and metadata in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

type object struct {
	data        []byte
	contentType string
}

// BlobStore implements crawler.ObjectStore over a map.
type BlobStore struct {
	bucket string
	mu     sync.RWMutex
	data   map[string]object
}

// NewBlobStore creates a new in-memory blob store for bucket.
func NewBlobStore(bucket string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		data:   make(map[string]object),
	}
}

// Bucket names the bucket the store writes to.
func (s *BlobStore) Bucket() string {
	return s.bucket
}

// Exists reports whether key holds an object.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// Get returns a copy of the object at key.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, crawler.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Put stores a copy of data and returns its location.
func (s *BlobStore) Put(_ context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return crawler.Location(s.bucket, key), nil
}

// List returns the keys under prefix in lexical order.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ContentType returns the content type recorded for key.
func (s *BlobStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key].contentType
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
