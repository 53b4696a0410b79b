package storage

import (
	"context"
	"fmt"

	"github.com/makeasinger/stemsplit/internal/client"
	"github.com/makeasinger/stemsplit/internal/model"
)

// ContentStore keeps job artifacts in a single bucket, one key prefix per job
type ContentStore struct {
	store  client.ObjectStore
	bucket string
}

// NewContentStore creates a content store over the given bucket
func NewContentStore(store client.ObjectStore, bucket string) *ContentStore {
	return &ContentStore{
		store:  store,
		bucket: bucket,
	}
}

// Bucket returns the working bucket name
func (s *ContentStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the working bucket if it is missing
func (s *ContentStore) EnsureBucket(ctx context.Context) error {
	return client.EnsureBucket(ctx, s.store, s.bucket)
}

// BucketExists reports whether the working bucket is reachable and present
func (s *ContentStore) BucketExists(ctx context.Context) (bool, error) {
	return s.store.BucketExists(ctx, s.bucket)
}

// Key returns the object key of an artifact
func Key(jobID, name string) string {
	return fmt.Sprintf("%s/%s.mp3", jobID, name)
}

// Put stores an artifact, overwriting any previous content
func (s *ContentStore) Put(ctx context.Context, a *model.Artifact) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = model.ContentTypeMP3
	}
	return s.store.Put(ctx, s.bucket, Key(a.JobID, a.Name), a.Data, contentType)
}

// Get returns an artifact or model.ErrNotFound
func (s *ContentStore) Get(ctx context.Context, jobID, name string) (*model.Artifact, error) {
	data, err := s.store.Get(ctx, s.bucket, Key(jobID, name))
	if err != nil {
		return nil, err
	}
	return &model.Artifact{
		JobID:       jobID,
		Name:        name,
		ContentType: model.ContentTypeMP3,
		Data:        data,
	}, nil
}

// Exists reports whether an artifact is present
func (s *ContentStore) Exists(ctx context.Context, jobID, name string) (bool, error) {
	return s.store.Stat(ctx, s.bucket, Key(jobID, name))
}

// Remove deletes an artifact or returns model.ErrNotFound
func (s *ContentStore) Remove(ctx context.Context, jobID, name string) error {
	return s.store.Remove(ctx, s.bucket, Key(jobID, name))
}
