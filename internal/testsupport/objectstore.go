package testsupport

import (
	"context"
	"fmt"
	"sync"

	"github.com/makeasinger/stemsplit/internal/model"
)

// ObjectStore is an in-memory object store. Setting Err makes every call fail
// with a storage error wrapping it.
type ObjectStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string

	Err   error
	Puts  int
	Gets  int
	Stats int
}

// NewObjectStore returns an empty store with no buckets.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (s *ObjectStore) fail() error {
	if s.Err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorage, s.Err)
	}
	return nil
}

func (s *ObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts++
	if err := s.fail(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[bucket+"/"+key] = cp
	s.types[bucket+"/"+key] = contentType
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if err := s.fail(); err != nil {
		return nil, err
	}
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrNotFound, bucket, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *ObjectStore) Remove(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.objects[bucket+"/"+key]; !ok {
		return fmt.Errorf("%w: %s/%s", model.ErrNotFound, bucket, key)
	}
	delete(s.objects, bucket+"/"+key)
	delete(s.types, bucket+"/"+key)
	return nil
}

func (s *ObjectStore) Stat(ctx context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats++
	if err := s.fail(); err != nil {
		return false, err
	}
	_, ok := s.objects[bucket+"/"+key]
	return ok, nil
}

func (s *ObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	return s.buckets[bucket], nil
}

func (s *ObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.buckets[bucket] = true
	return nil
}

// HasBucket reports whether CreateBucket ran for bucket.
func (s *ObjectStore) HasBucket(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucket]
}

// Keys returns the number of stored objects.
func (s *ObjectStore) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// ContentType returns the content type recorded for bucket/key.
func (s *ObjectStore) ContentType(bucket, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[bucket+"/"+key]
}
