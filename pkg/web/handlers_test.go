package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/lock"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/remote"
	"github.com/dukex/amhsctl/pkg/store"
	"github.com/dukex/amhsctl/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	doc     *document.Document
	samples map[int]string
	saveErr error
	saves   int
}

func (m *memoryStore) Load(context.Context) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return nil, &remote.BusinessError{Endpoint: store.LoadEndpoint, Message: "layout_seed.input not found in DB"}
	}

	return m.doc, nil
}

func (m *memoryStore) LoadSample(_ context.Context, number int) (*document.Document, error) {
	return document.Parse([]byte(m.samples[number]))
}

func (m *memoryStore) Save(_ context.Context, doc *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	m.saves++
	m.doc = doc

	return nil
}

type okCaller struct{}

func (okCaller) Call(_ context.Context, req remote.Request) (*remote.Envelope, error) {
	if req.Endpoint == "/api/run-check" {
		return &remote.Envelope{Success: false, Message: "Checker failed"}, nil
	}

	return &remote.Envelope{Success: true, Message: req.Endpoint + " done"}, nil
}

type savedCounter struct {
	mu    sync.Mutex
	saves map[string]int
}

func (s *savedCounter) SeedSaved(source string, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if succeeded {
		s.saves[source]++
	}
}

func setupTestApp(t *testing.T, seeds *memoryStore, runner web.Runner, steps []pipeline.StepDescriptor) (*fiber.App, *savedCounter) {
	t.Helper()

	counter := &savedCounter{saves: make(map[string]int)}
	handlers := web.NewAPIHandlers(seeds, runner, steps,
		validator.New(validator.WithRequiredStructEnabled()),
		web.WithRecorder(counter),
		web.WithLogger(log.NewNop()),
	)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api")
	api.Get("/seed", handlers.GetSeed)
	api.Post("/seed", handlers.SaveSeed)
	api.Post("/seed/samples/:number", handlers.LoadSample)
	api.Get("/pipeline", handlers.GetPipelineState)
	api.Post("/pipeline/runs", handlers.RunPipeline)

	return app, counter
}

func newRunner() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(okCaller{}, pipeline.WithPause(0), pipeline.WithLogger(log.NewNop()))
}

func seedStore(t *testing.T, input string) *memoryStore {
	t.Helper()

	doc, err := document.Parse([]byte(input))
	require.NoError(t, err)

	return &memoryStore{doc: doc, samples: map[int]string{2: `{"sample": 2, "layers": ["z1", "z2"]}`}}
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var p struct {
		Type string `json:"type"`
	}

	require.NoError(t, json.Unmarshal(body, &p))

	return p.Type
}

func TestAPIHandlers_GetSeed(t *testing.T) {
	app, _ := setupTestApp(t, seedStore(t, `{"grid": {"x": 10, "y": 20}, "layers": ["z6022"]}`), newRunner(), nil)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/seed", nil))
	require.Equal(t, http.StatusOK, status)

	var response web.SeedResponse
	require.NoError(t, json.Unmarshal(body, &response))
	require.Len(t, response.Fields, 3)

	assert.Equal(t, "grid.x", response.Fields[0].Name)
	assert.Equal(t, "grid.y", response.Fields[1].Name)
	assert.Equal(t, "layers", response.Fields[2].Name)
	assert.Equal(t, 3, response.Fields[2].Rows)
	assert.Equal(t, []string{"grid"}, response.Fields[0].Group)
}

func TestAPIHandlers_GetSeed_RemoteFailure(t *testing.T) {
	app, _ := setupTestApp(t, &memoryStore{}, newRunner(), nil)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/seed", nil))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "remote_failure", problemType(t, body))
	assert.Contains(t, string(body), "layout_seed.input not found in DB")
}

func TestAPIHandlers_SaveSeed(t *testing.T) {
	tests := []struct {
		name           string
		contentType    string
		body           string
		expectedStatus int
		expectedType   string
		expectedKeys   []string
	}{
		{
			name:           "json submission keeps order",
			contentType:    fiber.MIMEApplicationJSON,
			body:           `{"fields": {"title": "\"seed\"", "grid.y": "20", "grid.x": "10"}}`,
			expectedStatus: http.StatusOK,
			expectedKeys:   []string{"title", "grid"},
		},
		{
			name:           "form submission",
			contentType:    fiber.MIMEApplicationForm,
			body:           url.Values{"layers": {`["z6022"]`}}.Encode(),
			expectedStatus: http.StatusOK,
			expectedKeys:   []string{"layers"},
		},
		{
			name:           "malformed leaf",
			contentType:    fiber.MIMEApplicationJSON,
			body:           `{"fields": {"grid.x": "[1, 2"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "malformed_leaf",
		},
		{
			name:           "path conflict",
			contentType:    fiber.MIMEApplicationJSON,
			body:           `{"fields": {"grid": "1", "grid.x": "2"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "path_conflict",
		},
		{
			name:           "fields missing",
			contentType:    fiber.MIMEApplicationJSON,
			body:           `{"values": {}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "invalid json",
			contentType:    fiber.MIMEApplicationJSON,
			body:           `not json`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeds := seedStore(t, `{}`)
			app, counter := setupTestApp(t, seeds, newRunner(), nil)

			req := httptest.NewRequest(http.MethodPost, "/api/seed", strings.NewReader(tt.body))
			req.Header.Set(fiber.HeaderContentType, tt.contentType)

			status, body := doRequest(t, app, req)
			require.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
				assert.Zero(t, seeds.saves)

				return
			}

			assert.Equal(t, 1, seeds.saves)
			assert.Equal(t, tt.expectedKeys, seeds.doc.Keys())
			assert.Equal(t, 1, counter.saves[web.SourceForm])
		})
	}
}

func TestAPIHandlers_SaveSeed_SchemaRejection(t *testing.T) {
	seeds := seedStore(t, `{}`)
	seeds.saveErr = &store.SchemaError{Violations: []string{"grid: x is required"}}

	app, _ := setupTestApp(t, seeds, newRunner(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/seed", bytes.NewBufferString(`{"fields": {"grid.y": "1"}}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	status, body := doRequest(t, app, req)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "schema_violation", problemType(t, body))
}

func TestAPIHandlers_SaveSeed_Timeout(t *testing.T) {
	seeds := seedStore(t, `{}`)
	seeds.saveErr = &remote.RemoteCallError{Endpoint: store.SaveEndpoint, Cause: remote.CauseTimeout, Err: context.DeadlineExceeded}

	app, _ := setupTestApp(t, seeds, newRunner(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/seed", bytes.NewBufferString(`{"fields": {}}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	status, body := doRequest(t, app, req)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "remote_timeout", problemType(t, body))
}

func TestAPIHandlers_LoadSample(t *testing.T) {
	seeds := seedStore(t, `{}`)
	app, counter := setupTestApp(t, seeds, newRunner(), nil)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/seed/samples/2", nil))
	require.Equal(t, http.StatusOK, status, string(body))

	var response web.SeedResponse
	require.NoError(t, json.Unmarshal(body, &response))
	require.Len(t, response.Fields, 2)
	assert.Equal(t, "sample", response.Fields[0].Name)
	assert.Equal(t, []string{"sample", "layers"}, seeds.doc.Keys())
	assert.Equal(t, 1, counter.saves[web.SourceSample])

	for _, number := range []string{"0", "4", "two"} {
		status, body = doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/seed/samples/"+number, nil))
		assert.Equal(t, http.StatusBadRequest, status, number)
		assert.Equal(t, "validation_error", problemType(t, body))
	}
}

func remoteSteps(ids ...string) []pipeline.StepDescriptor {
	steps := make([]pipeline.StepDescriptor, len(ids))
	for i, id := range ids {
		steps[i] = pipeline.StepDescriptor{ID: id, DisplayName: id, Endpoint: "/api/run-" + id}
	}

	return steps
}

func TestAPIHandlers_RunPipeline(t *testing.T) {
	app, _ := setupTestApp(t, seedStore(t, `{}`), newRunner(), remoteSteps("generate", "stations"))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil))
	require.Equal(t, http.StatusOK, status)

	var response web.RunResponse
	require.NoError(t, json.Unmarshal(body, &response))

	assert.True(t, response.Succeeded)
	assert.Equal(t, pipeline.DefaultName, response.Pipeline)
	assert.Equal(t, "completed", response.State)
	assert.NotEmpty(t, response.RunID)
	require.Len(t, response.Results, 2)
	assert.Equal(t, "/api/run-stations done", response.Results[1].Message)
}

// busyRunner reports the state of some later run, as if another run had
// started between the end of this one and the response being written.
type busyRunner struct {
	*pipeline.Orchestrator
}

func (busyRunner) State() pipeline.State {
	return pipeline.State{Phase: pipeline.PhaseRunning, RunID: "later-run"}
}

func TestAPIHandlers_RunPipeline_ReportsItsOwnRun(t *testing.T) {
	app, _ := setupTestApp(t, seedStore(t, `{}`), busyRunner{newRunner()}, remoteSteps("generate"))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil))
	require.Equal(t, http.StatusOK, status)

	var response web.RunResponse
	require.NoError(t, json.Unmarshal(body, &response))

	assert.Equal(t, "completed", response.State)
	assert.NotEmpty(t, response.RunID)
	assert.NotEqual(t, "later-run", response.RunID)
}

func TestAPIHandlers_RunPipeline_StepFailure(t *testing.T) {
	app, _ := setupTestApp(t, seedStore(t, `{}`), newRunner(), remoteSteps("generate", "check", "stations"))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil))
	require.Equal(t, http.StatusOK, status)

	var response web.RunResponse
	require.NoError(t, json.Unmarshal(body, &response))

	assert.False(t, response.Succeeded)
	assert.Equal(t, "aborted", response.State)
	require.Len(t, response.Results, 2)
	assert.Equal(t, "Checker failed", response.Results[1].Message)
	assert.NotEmpty(t, response.Results[1].Error)
}

func TestAPIHandlers_RunPipeline_InProgress(t *testing.T) {
	locker := lock.NewLocal()

	unlock, err := locker.TryLock(context.Background(), pipeline.DefaultLockKey)
	require.NoError(t, err)

	defer func() { _ = unlock(context.Background()) }()

	runner := pipeline.NewOrchestrator(okCaller{},
		pipeline.WithLocker(locker, pipeline.DefaultLockKey),
		pipeline.WithLogger(log.NewNop()),
	)
	app, _ := setupTestApp(t, seedStore(t, `{}`), runner, remoteSteps("generate"))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "run_in_progress", problemType(t, body))
}

func TestAPIHandlers_HealthAndState(t *testing.T) {
	app, _ := setupTestApp(t, seedStore(t, `{}`), newRunner(), remoteSteps("generate"))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"ok"`)

	status, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/pipeline", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"state":"idle"`)
	assert.Contains(t, string(body), `"steps":1`)
}
