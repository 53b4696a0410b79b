package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/stemsplit/internal/config"
	"github.com/makeasinger/stemsplit/internal/logsink"
	"github.com/makeasinger/stemsplit/internal/model"
	"github.com/makeasinger/stemsplit/internal/queue"
	"github.com/makeasinger/stemsplit/internal/service"
	"github.com/makeasinger/stemsplit/internal/storage"
	"github.com/makeasinger/stemsplit/internal/testsupport"
	ws "github.com/makeasinger/stemsplit/internal/websocket"
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	objects *testsupport.ObjectStore
	store   *storage.ContentStore
	queue   *queue.RedisQueue
}

// setupApp builds the app the way main does, over in-process Redis and an
// in-memory object store.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	rdb, _ := testsupport.NewRedis(t)
	objects := testsupport.NewObjectStore()
	store := storage.NewContentStore(objects, "audio-tracks")
	require.NoError(t, store.EnsureBucket(context.Background()))

	jobs := queue.NewRedisQueue(rdb, "toWorkers")
	logger := logsink.NewLogger(nil, "api")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub()
	go hub.Run(ctx)

	cfg := &config.Config{}
	cfg.Server.BodyLimit = 10
	cfg.RateLimit.SubmitPerHour = 10000

	app := NewApp(Deps{
		Config:     cfg,
		Redis:      rdb,
		Store:      store,
		Separation: service.NewSeparationService(store, jobs, logger),
		Tracks:     service.NewTrackService(store, jobs, logger),
		Hub:        hub,
		Logger:     logger,
	})

	return &testApp{app: app, objects: objects, store: store, queue: jobs}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body.
func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result), "body: %s", body)
	return result
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := e["code"].(string)
	return code
}

func separateBody(audio string) string {
	return `{"mp3": "` + base64.StdEncoding.EncodeToString([]byte(audio)) + `"}`
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseJSON(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": true, "storage": true}, body["services"])
}

func TestSeparate_Success(t *testing.T) {
	ta := setupApp(t)
	body := separateBody("ID3 some mp3")

	resp, err := doRequest(ta.app, http.MethodPost, "/apiv1/separate", body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	songhash, _ := parseJSON(t, resp)["songhash"].(string)
	assert.Equal(t, service.ComputeJobID(base64.StdEncoding.EncodeToString([]byte("ID3 some mp3"))), songhash)

	resp, err = doRequest(ta.app, http.MethodGet, "/apiv1/queue", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pending []string
	require.NoError(t, json.Unmarshal(readBody(t, resp), &pending))
	assert.Equal(t, []string{`{"jobId":"` + songhash + `"}`}, pending)
}

func TestSeparate_WithCallback(t *testing.T) {
	ta := setupApp(t)
	body := `{"mp3": "` + base64.StdEncoding.EncodeToString([]byte("x")) + `", "callback": {"url": "http://example.com/done"}}`

	resp, err := doRequest(ta.app, http.MethodPost, "/apiv1/separate", body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSeparate_Invalid(t *testing.T) {
	ta := setupApp(t)

	cases := map[string]string{
		"malformed json": `{"mp3": `,
		"missing mp3":    `{}`,
		"not base64":     `{"mp3": "not base64 at all!"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodPost, "/apiv1/separate", body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
		})
	}

	n, err := ta.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeparate_StorageFailure(t *testing.T) {
	ta := setupApp(t)
	ta.objects.Err = errors.New("connection refused")

	resp, err := doRequest(ta.app, http.MethodPost, "/apiv1/separate", separateBody("song"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "STORAGE_ERROR", errorCode(t, resp))
}

func TestQueue_Empty(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/apiv1/queue", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(readBody(t, resp)))
}

func TestTrack_Download(t *testing.T) {
	ta := setupApp(t)
	songhash := service.ComputeJobID("song")
	require.NoError(t, ta.store.Put(context.Background(), &model.Artifact{
		JobID: songhash,
		Name:  model.ArtifactVocals,
		Data:  []byte("vocal frames"),
	}))

	resp, err := doRequest(ta.app, http.MethodGet, "/apiv1/track/"+songhash+"/vocals", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="vocals.mp3"`)
	assert.Equal(t, []byte("vocal frames"), readBody(t, resp))
}

func TestTrack_NotFound(t *testing.T) {
	ta := setupApp(t)
	songhash := service.ComputeJobID("song")

	resp, err := doRequest(ta.app, http.MethodGet, "/apiv1/track/"+songhash+"/drums", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestTrack_InvalidParams(t *testing.T) {
	ta := setupApp(t)
	songhash := service.ComputeJobID("song")

	for name, path := range map[string]string{
		"unknown track": "/apiv1/track/" + songhash + "/guitar",
		"short hash":    "/apiv1/track/abc123/vocals",
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodGet, path, "")
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRemove(t *testing.T) {
	ta := setupApp(t)
	songhash := service.ComputeJobID("song")
	require.NoError(t, ta.store.Put(context.Background(), &model.Artifact{
		JobID: songhash,
		Name:  model.ArtifactBass,
		Data:  []byte("bass"),
	}))

	resp, err := doRequest(ta.app, http.MethodDelete, "/apiv1/remove/"+songhash+"/bass", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Track removed successfully", parseJSON(t, resp)["status"])

	resp, err = doRequest(ta.app, http.MethodDelete, "/apiv1/remove/"+songhash+"/bass", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/apiv1/separate", separateBody("song"))
	require.NoError(t, err)
	songhash, _ := parseJSON(t, resp)["songhash"].(string)

	resp, err = doRequest(ta.app, http.MethodGet, "/apiv1/status/"+songhash, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status model.JobStatusResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &status))
	assert.True(t, status.Pending)
	assert.True(t, status.Artifacts[model.ArtifactOriginal])
	assert.False(t, status.AllStems)

	resp, err = doRequest(ta.app, http.MethodGet, "/apiv1/status/nothex", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeadLetters_Disabled(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/apiv1/deadletters", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = doRequest(ta.app, http.MethodPost, "/apiv1/deadletters/abc/retry", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/apiv1/nope", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/ws/jobs/abc", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
