package service

import (
	"context"

	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/storage"
)

// TrackService is the read/delete surface over the queue and the content store
type TrackService struct {
	store *storage.ContentStore
	queue *queue.RedisQueue
	log   *logsink.Logger
}

func NewTrackService(store *storage.ContentStore, jobQueue *queue.RedisQueue, logger *logsink.Logger) *TrackService {
	return &TrackService{
		store: store,
		queue: jobQueue,
		log:   logger,
	}
}

// ListPending returns the queued descriptors in queue order
func (s *TrackService) ListPending(ctx context.Context) ([]model.JobDescriptor, error) {
	return s.queue.Snapshot(ctx)
}

// FetchArtifact returns an artifact or model.ErrNotFound
func (s *TrackService) FetchArtifact(ctx context.Context, jobID, name string) (*model.Artifact, error) {
	return s.store.Get(ctx, jobID, name)
}

// RemoveArtifact deletes an artifact or returns model.ErrNotFound
func (s *TrackService) RemoveArtifact(ctx context.Context, jobID, name string) error {
	if err := s.store.Remove(ctx, jobID, name); err != nil {
		return err
	}
	s.log.Infof("Removed track %s for songhash %s", name, jobID)
	return nil
}

// Status reports which artifacts of a job exist and whether it is still queued
func (s *TrackService) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	resp := &model.JobStatusResponse{
		Songhash:  jobID,
		Artifacts: make(map[string]bool, len(model.ArtifactNames)),
	}

	for _, name := range model.ArtifactNames {
		exists, err := s.store.Exists(ctx, jobID, name)
		if err != nil {
			return nil, err
		}
		resp.Artifacts[name] = exists
	}

	pending, err := s.queue.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range pending {
		if d.JobID == jobID {
			resp.Pending = true
			break
		}
	}

	resp.AllStems = true
	for _, stem := range model.Stems {
		resp.AllStems = resp.AllStems && resp.Artifacts[stem]
	}

	return resp, nil
}
