package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/makeasinger/stemsplit/internal/client"
	"github.com/makeasinger/stemsplit/internal/events"
	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/storage"
)

// maxBackoff caps the wait between attempts to reach the broker
const maxBackoff = 30 * time.Second

// DeadLetterRecorder parks jobs the coordinator gave up on
type DeadLetterRecorder interface {
	Record(ctx context.Context, dl model.DeadLetter) error
}

// Options carries the collaborators of a coordinator
type Options struct {
	Queue       *queue.RedisQueue
	Store       *storage.ContentStore
	Separator   client.Separator
	Events      events.Publisher   // optional
	DeadLetters DeadLetterRecorder // optional
	Logger      *logsink.Logger
	WorkDir     string
	PopTimeout  time.Duration
}

// Coordinator pulls job descriptors off the queue and turns each into
// published stems: fetch the original, separate it, upload what was produced.
type Coordinator struct {
	id   string
	opts Options
}

// NewCoordinator creates a coordinator with a fresh instance id
func NewCoordinator(opts Options) *Coordinator {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Coordinator{
		id:   uuid.New().String(),
		opts: opts,
	}
}

// ID returns the coordinator instance id
func (c *Coordinator) ID() string {
	return c.id
}

// Run processes jobs until ctx is cancelled. A job already taken off the
// queue is finished before Run returns. Broker errors are retried with
// exponential backoff; nothing a single job does stops the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.opts.Logger.Infof("Coordinator %s waiting for jobs on %s", c.id, c.opts.Queue.Name())

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			c.opts.Logger.Infof("Coordinator %s stopped", c.id)
			return nil
		}

		_, err := c.RunOnce(ctx)
		if err == nil {
			b.Reset()
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		if errors.Is(err, model.ErrValidation) {
			c.opts.Logger.Infof("Dropping queue entry: %v", err)
			continue
		}

		wait := b.NextBackOff()
		c.opts.Logger.Infof("Queue unavailable, retrying in %s: %v", wait, err)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// RunOnce waits up to the pop timeout for one job and processes it. It
// reports whether a job was taken. Only queue errors are returned; job
// failures are logged, published and dead-lettered.
func (c *Coordinator) RunOnce(ctx context.Context) (bool, error) {
	delivery, err := c.opts.Queue.Claim(ctx, c.opts.PopTimeout)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	jobID := delivery.Descriptor.JobID
	c.opts.Logger.Infof("Coordinator %s took songhash %s", c.id, jobID)

	// Shutdown takes effect between jobs, not in the middle of one
	jobCtx := context.WithoutCancel(ctx)

	start := time.Now()
	if err := c.process(jobCtx, jobID); err != nil {
		c.opts.Logger.Infof("Failed to process songhash %s: %v", jobID, err)
	} else {
		c.opts.Logger.Infof("Finished songhash %s in %s", jobID, time.Since(start).Round(time.Millisecond))
	}

	if err := c.opts.Queue.Ack(jobCtx, delivery); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Coordinator) process(ctx context.Context, jobID string) error {
	dir, err := os.MkdirTemp(c.opts.WorkDir, fmt.Sprintf("job-%s-", jobID))
	if err != nil {
		return c.fail(ctx, jobID, model.StageFetching, fmt.Errorf("failed to create working dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.opts.Logger.Infof("Failed to remove working dir %s: %v", dir, err)
		}
	}()

	// Fetching
	c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StageFetching})
	original, err := c.opts.Store.Get(ctx, jobID, model.ArtifactOriginal)
	if err != nil {
		return c.fail(ctx, jobID, model.StageFetching, err)
	}

	// The separator names its output folder after the input file
	inputPath := filepath.Join(dir, "input", jobID+".mp3")
	if err := os.MkdirAll(filepath.Dir(inputPath), 0o755); err != nil {
		return c.fail(ctx, jobID, model.StageFetching, err)
	}
	if err := os.WriteFile(inputPath, original.Data, 0o644); err != nil {
		return c.fail(ctx, jobID, model.StageFetching, err)
	}
	c.opts.Logger.Debugf("Fetched %d bytes for songhash %s", len(original.Data), jobID)

	// Separating
	c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StageSeparating})
	stemDir, err := c.opts.Separator.Separate(ctx, jobID, inputPath, filepath.Join(dir, "output"))
	if err != nil {
		return c.fail(ctx, jobID, model.StageSeparating, err)
	}

	// Publishing
	c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StagePublishing})
	published := 0
	for _, stem := range model.Stems {
		data, err := os.ReadFile(filepath.Join(stemDir, stem+".mp3"))
		if errors.Is(err, fs.ErrNotExist) {
			c.opts.Logger.Debugf("No %s stem produced for songhash %s", stem, jobID)
			continue
		}
		if err != nil {
			return c.fail(ctx, jobID, model.StagePublishing, fmt.Errorf("failed to read %s stem: %w", stem, err))
		}

		err = c.opts.Store.Put(ctx, &model.Artifact{
			JobID:       jobID,
			Name:        stem,
			ContentType: model.ContentTypeMP3,
			Data:        data,
		})
		if err != nil {
			return c.fail(ctx, jobID, model.StagePublishing, err)
		}
		published++
		c.opts.Logger.Debugf("Published %s for songhash %s", stem, jobID)
		c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StagePublished, Stem: stem})
	}

	c.opts.Logger.Infof("Published %d stems for songhash %s", published, jobID)
	c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StageCompleted})
	return nil
}

func (c *Coordinator) fail(ctx context.Context, jobID string, stage model.JobStage, cause error) error {
	c.emit(ctx, model.JobEvent{JobID: jobID, Stage: model.StageFailed, Error: cause.Error()})

	if c.opts.DeadLetters != nil {
		err := c.opts.DeadLetters.Record(ctx, model.DeadLetter{
			JobID:    jobID,
			Stage:    stage,
			Error:    cause.Error(),
			Worker:   c.id,
			FailedAt: time.Now().UTC(),
		})
		if err != nil {
			c.opts.Logger.Infof("Failed to dead-letter songhash %s: %v", jobID, err)
		}
	}

	return fmt.Errorf("%s: %w", stage, cause)
}

func (c *Coordinator) emit(ctx context.Context, event model.JobEvent) {
	if c.opts.Events == nil {
		return
	}
	event.Worker = c.id
	if err := c.opts.Events.Publish(ctx, event); err != nil {
		c.opts.Logger.Debugf("Failed to publish %s event for songhash %s: %v", event.Stage, event.JobID, err)
	}
}
