package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/internal/storage"
	"github.com/makeasinger/stemsplit/internal/testsupport"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (r *recordedEvents) Publish(ctx context.Context, event model.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) stages() []model.JobStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make([]model.JobStage, 0, len(r.events))
	for _, e := range r.events {
		stages = append(stages, e.Stage)
	}
	return stages
}

type recordedDeadLetters struct {
	mu      sync.Mutex
	letters []model.DeadLetter
}

func (r *recordedDeadLetters) Record(ctx context.Context, dl model.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return nil
}

func (r *recordedDeadLetters) all() []model.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DeadLetter(nil), r.letters...)
}

type harness struct {
	mr          *miniredis.Miniredis
	queue       *queue.RedisQueue
	store       *storage.ContentStore
	objects     *testsupport.ObjectStore
	separator   *testsupport.Separator
	events      *recordedEvents
	deadLetters *recordedDeadLetters
	submit      *service.SeparationService
	tracks      *service.TrackService
	opts        Options
}

func newHarness(t *testing.T, stems ...string) *harness {
	t.Helper()
	rdb, mr := testsupport.NewRedis(t)
	objects := testsupport.NewObjectStore()
	store := storage.NewContentStore(objects, "audio-tracks")
	q := queue.NewRedisQueue(rdb, "toWorkers")
	logger := logsink.NewLogger(nil, "worker")

	h := &harness{
		mr:          mr,
		queue:       q,
		store:       store,
		objects:     objects,
		separator:   testsupport.NewSeparator(stems...),
		events:      &recordedEvents{},
		deadLetters: &recordedDeadLetters{},
		submit:      service.NewSeparationService(store, q, logger),
		tracks:      service.NewTrackService(store, q, logger),
	}
	h.opts = Options{
		Queue:       q,
		Store:       store,
		Separator:   h.separator,
		Events:      h.events,
		DeadLetters: h.deadLetters,
		Logger:      logger,
		WorkDir:     t.TempDir(),
		PopTimeout:  time.Second,
	}
	return h
}

func (h *harness) submitSong(t *testing.T, song string) string {
	t.Helper()
	jobID, err := h.submit.Submit(context.Background(), base64.StdEncoding.EncodeToString([]byte(song)))
	require.NoError(t, err)
	return jobID
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCoordinator_PartialStems(t *testing.T) {
	h := newHarness(t, model.ArtifactVocals)
	ctx := context.Background()

	jobID := h.submitSong(t, "a song with only vocals")

	pending, err := h.tracks.ListPending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, model.JobDescriptor{JobID: jobID})

	processed, err := NewCoordinator(h.opts).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	vocals, err := h.tracks.FetchArtifact(ctx, jobID, model.ArtifactVocals)
	require.NoError(t, err)
	assert.Equal(t, []byte("vocals:"+jobID), vocals.Data)

	_, err = h.tracks.FetchArtifact(ctx, jobID, model.ArtifactDrums)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	assert.Equal(t, [][]byte{[]byte("a song with only vocals")}, h.separator.Inputs)
	assert.Equal(t, []model.JobStage{
		model.StageFetching,
		model.StageSeparating,
		model.StagePublishing,
		model.StagePublished,
		model.StageCompleted,
	}, h.events.stages())
	assert.Empty(t, h.deadLetters.all())
	assertWorkDirEmpty(t, h.opts.WorkDir)

	// A finished partial job reports its stems without claiming all four
	status, err := h.tracks.Status(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, status.Pending)
	assert.True(t, status.Artifacts[model.ArtifactVocals])
	assert.False(t, status.Artifacts[model.ArtifactDrums])
	assert.False(t, status.AllStems)
}

func TestCoordinator_AllStems(t *testing.T) {
	h := newHarness(t, model.Stems...)
	ctx := context.Background()
	jobID := h.submitSong(t, "full band")

	_, err := NewCoordinator(h.opts).RunOnce(ctx)
	require.NoError(t, err)

	status, err := h.tracks.Status(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, status.AllStems)
	assert.False(t, status.Pending)
}

func TestCoordinator_MissingOriginalKeepsGoing(t *testing.T) {
	h := newHarness(t, model.ArtifactVocals)
	ctx := context.Background()

	require.NoError(t, h.queue.Push(ctx, model.JobDescriptor{JobID: "deadbeef"}))
	jobID := h.submitSong(t, "good song")

	c := NewCoordinator(h.opts)

	processed, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Zero(t, h.separator.CallCount())

	letters := h.deadLetters.all()
	require.Len(t, letters, 1)
	assert.Equal(t, "deadbeef", letters[0].JobID)
	assert.Equal(t, model.StageFetching, letters[0].Stage)
	assert.Equal(t, c.ID(), letters[0].Worker)

	processed, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = h.tracks.FetchArtifact(ctx, jobID, model.ArtifactVocals)
	assert.NoError(t, err)
	assertWorkDirEmpty(t, h.opts.WorkDir)
}

func TestCoordinator_SeparationFailure(t *testing.T) {
	h := newHarness(t, model.Stems...)
	h.separator.Err = errors.New("exit status 1")
	ctx := context.Background()

	jobID := h.submitSong(t, "broken song")

	processed, err := NewCoordinator(h.opts).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	for _, stem := range model.Stems {
		exists, err := h.store.Exists(ctx, jobID, stem)
		require.NoError(t, err)
		assert.False(t, exists, stem)
	}

	letters := h.deadLetters.all()
	require.Len(t, letters, 1)
	assert.Equal(t, model.StageSeparating, letters[0].Stage)
	assert.Contains(t, letters[0].Error, "exit status 1")
	assert.Contains(t, h.events.stages(), model.StageFailed)
	assertWorkDirEmpty(t, h.opts.WorkDir)
}

func TestCoordinator_PublishFailure(t *testing.T) {
	h := newHarness(t, model.ArtifactBass)
	ctx := context.Background()
	h.submitSong(t, "song")

	// Fetch succeeds, the stem upload does not
	h.opts.Store = storage.NewContentStore(&failingPuts{ObjectStore: h.objects}, "audio-tracks")

	processed, err := NewCoordinator(h.opts).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	letters := h.deadLetters.all()
	require.Len(t, letters, 1)
	assert.Equal(t, model.StagePublishing, letters[0].Stage)
	assertWorkDirEmpty(t, h.opts.WorkDir)
}

type failingPuts struct {
	*testsupport.ObjectStore
}

func (f *failingPuts) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return model.ErrStorage
}

func TestCoordinator_IdleOnTimeout(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	processed, err := NewCoordinator(h.opts).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Zero(t, h.separator.CallCount())
}

func TestCoordinator_BrokerDown(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	_, err := NewCoordinator(h.opts).RunOnce(context.Background())
	assert.True(t, errors.Is(err, model.ErrQueue), "got %v", err)
}

func TestCoordinator_RunUntilCancelled(t *testing.T) {
	h := newHarness(t, model.ArtifactDrums)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewCoordinator(h.opts).Run(ctx)
	}()

	var jobs []string
	for _, song := range []string{"one", "two", "three"} {
		jobs = append(jobs, h.submitSong(t, song))
	}

	assert.Eventually(t, func() bool {
		return h.separator.CallCount() == 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	for _, jobID := range jobs {
		exists, err := h.store.Exists(context.Background(), jobID, model.ArtifactDrums)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestPool_SharesQueue(t *testing.T) {
	h := newHarness(t, model.ArtifactOther)
	ctx, cancel := context.WithCancel(context.Background())

	pool := NewPool(3, h.opts)
	assert.Equal(t, 3, pool.Size())

	const jobs = 9
	for i := 0; i < jobs; i++ {
		h.submitSong(t, "song "+string(rune('a'+i)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return h.separator.CallCount() == jobs
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	seen := map[string]int{}
	for _, jobID := range h.separator.Calls {
		seen[jobID]++
	}
	assert.Len(t, seen, jobs)
	for jobID, n := range seen {
		assert.Equal(t, 1, n, jobID)
	}
}

func TestPool_ReliableRequeuesInflight(t *testing.T) {
	h := newHarness(t, model.ArtifactVocals)
	h.queue.WithReliable(true)
	ctx, cancel := context.WithCancel(context.Background())

	jobID := h.submitSong(t, "left behind")
	// Simulate a crashed worker: the descriptor sits in the processing list
	payload, err := model.JobDescriptor{JobID: jobID}.Encode()
	require.NoError(t, err)
	_, err = h.mr.Lpop("toWorkers")
	require.NoError(t, err)
	_, err = h.mr.Push("toWorkers:processing", payload)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewPool(1, h.opts).Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return h.separator.CallCount() == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	inflight, _ := h.mr.List("toWorkers:processing")
	assert.Empty(t, inflight)
	exists, err := h.store.Exists(context.Background(), jobID, model.ArtifactVocals)
	require.NoError(t, err)
	assert.True(t, exists)
}
