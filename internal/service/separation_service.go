package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/storage"
)

// SeparationService accepts audio for separation
type SeparationService struct {
	store *storage.ContentStore
	queue *queue.RedisQueue
	log   *logsink.Logger
}

func NewSeparationService(store *storage.ContentStore, jobQueue *queue.RedisQueue, logger *logsink.Logger) *SeparationService {
	return &SeparationService{
		store: store,
		queue: jobQueue,
		log:   logger,
	}
}

// ComputeJobID fingerprints a payload exactly as it was submitted
func ComputeJobID(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Submit stores the decoded audio under the job's "original" artifact and
// queues the job. The job ID is derived from the encoded payload before any
// decoding, so identical submissions always map to the same job.
func (s *SeparationService) Submit(ctx context.Context, payload string) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("%w: mp3 payload is required", model.ErrValidation)
	}

	jobID := ComputeJobID(payload)

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: mp3 payload is not valid base64: %w", model.ErrValidation, err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: mp3 payload is empty", model.ErrValidation)
	}

	// Overwriting an existing original with identical bytes is harmless
	err = s.store.Put(ctx, &model.Artifact{
		JobID:       jobID,
		Name:        model.ArtifactOriginal,
		ContentType: model.ContentTypeMP3,
		Data:        audio,
	})
	if err != nil {
		return "", err
	}
	s.log.Infof("Uploaded MP3 data with songhash %s (%d bytes)", jobID, len(audio))

	if err := s.queue.Push(ctx, model.JobDescriptor{JobID: jobID}); err != nil {
		return "", err
	}
	s.log.Infof("Queued songhash %s on %s", jobID, s.queue.Name())

	return jobID, nil
}
