package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
)

// Task type names
const (
	TaskTypeSeparationFailed = "separation:failed"
)

// deadLetterPageSize bounds a single listing
const deadLetterPageSize = 100

// DeadLetterService parks failed jobs in an asynq queue nobody consumes, so
// operators can inspect them and push them back onto the job queue.
type DeadLetterService struct {
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	queueName   string
	retention   time.Duration
	jobs        *queue.RedisQueue
	log         *logsink.Logger
	pageSize    int
}

func NewDeadLetterService(asynqClient *asynq.Client, inspector *asynq.Inspector, queueName string, retention time.Duration, jobs *queue.RedisQueue, logger *logsink.Logger) *DeadLetterService {
	return &DeadLetterService{
		asynqClient: asynqClient,
		inspector:   inspector,
		queueName:   queueName,
		retention:   retention,
		jobs:        jobs,
		log:         logger,
		pageSize:    deadLetterPageSize,
	}
}

// Record parks a failed job
func (s *DeadLetterService) Record(ctx context.Context, dl model.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}

	task, err := newDeadLetterTask(dl)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(s.queueName),
		asynq.TaskID(dl.ID),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record dead letter for %s: %w", model.ErrQueue, dl.JobID, err)
	}

	s.log.Infof("Dead-lettered songhash %s at stage %s: %s", dl.JobID, dl.Stage, dl.Error)
	return nil
}

// List returns the parked jobs, oldest first. Entries older than the
// retention period are purged on the way.
func (s *DeadLetterService) List(ctx context.Context) ([]model.DeadLetter, error) {
	tasks, err := s.pending()
	if err != nil {
		return nil, err
	}

	letters := make([]model.DeadLetter, 0, len(tasks))
	for _, t := range tasks {
		dl, err := decodeDeadLetter(t)
		if err != nil {
			s.log.Debugf("Skipping dead letter %s: %v", t.ID, err)
			continue
		}
		if s.expired(dl) {
			if err := s.inspector.DeleteTask(s.queueName, t.ID); err != nil {
				s.log.Debugf("Failed to purge dead letter %s: %v", t.ID, err)
			}
			continue
		}
		letters = append(letters, dl)
	}

	return letters, nil
}

// pending reads every page of the dead-letter queue before anything is purged,
// so deletions cannot shift entries between pages.
func (s *DeadLetterService) pending() ([]*asynq.TaskInfo, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := s.inspector.ListPendingTasks(s.queueName, asynq.Page(page), asynq.PageSize(s.pageSize))
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return all, nil
			}
			return nil, fmt.Errorf("%w: failed to list dead letters: %w", model.ErrQueue, err)
		}
		all = append(all, tasks...)
		if len(tasks) < s.pageSize {
			return all, nil
		}
	}
}

// Retry pushes a parked job back onto the job queue and drops the dead letter
func (s *DeadLetterService) Retry(ctx context.Context, id string) (*model.DeadLetter, error) {
	info, err := s.inspector.GetTaskInfo(s.queueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("%w: dead letter %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to read dead letter %s: %w", model.ErrQueue, id, err)
	}

	dl, err := decodeDeadLetter(info)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.Push(ctx, model.JobDescriptor{JobID: dl.JobID}); err != nil {
		return nil, err
	}
	if err := s.inspector.DeleteTask(s.queueName, id); err != nil {
		// The job is already requeued; a leftover dead letter is only noise
		s.log.Infof("Requeued songhash %s but failed to drop dead letter %s: %v", dl.JobID, id, err)
		return &dl, nil
	}

	s.log.Infof("Requeued dead-lettered songhash %s", dl.JobID)
	return &dl, nil
}

func (s *DeadLetterService) expired(dl model.DeadLetter) bool {
	return s.retention > 0 && time.Since(dl.FailedAt) > s.retention
}

func newDeadLetterTask(dl model.DeadLetter) (*asynq.Task, error) {
	data, err := json.Marshal(dl)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSeparationFailed, data), nil
}

func decodeDeadLetter(info *asynq.TaskInfo) (model.DeadLetter, error) {
	var dl model.DeadLetter
	if err := json.Unmarshal(info.Payload, &dl); err != nil {
		return dl, fmt.Errorf("%w: malformed dead letter: %w", model.ErrValidation, err)
	}
	dl.ID = info.ID
	return dl, nil
}
