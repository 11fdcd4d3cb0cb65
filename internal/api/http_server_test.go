package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/service"
	"tasksync/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result *models.SyncResult
	err    error
	online bool
	calls  int
}

func (r *stubRunner) Run(context.Context) (*models.SyncResult, error) {
	r.calls++
	return r.result, r.err
}

func (r *stubRunner) Online(context.Context) bool { return r.online }

type testEnv struct {
	ts     *httptest.Server
	db     *database.DB
	runner *stubRunner
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := service.NewTaskService(db, events.NewEventBus(nil), 3, &logger)
	runner := &stubRunner{online: true, result: &models.SyncResult{Success: true, Errors: []models.SyncError{}}}

	srv := NewHTTPServer(cfg, tasks, runner, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, db: db, runner: runner}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTaskCRUD(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.do(t, http.MethodPost, "/api/tasks", `{"title":"Write report","description":"q2"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Task](t, resp)
	assert.Equal(t, "Write report", created.Title)
	assert.Equal(t, models.SyncStatusPending, created.SyncStatus)

	resp = env.do(t, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[models.Task](t, resp).ID)

	resp = env.do(t, http.MethodPut, "/api/tasks/"+created.ID, `{"completed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.Task](t, resp)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Write report", updated.Title)

	resp = env.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Task](t, resp), 1)

	resp = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tasks", "")
	assert.Empty(t, decode[[]models.Task](t, resp))

	items, err := env.db.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestTaskErrors(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"InvalidJSON", http.MethodPost, "/api/tasks", `{`, http.StatusBadRequest},
		{"UnknownField", http.MethodPost, "/api/tasks", `{"priority":1}`, http.StatusBadRequest},
		{"TitleTooLong", http.MethodPost, "/api/tasks", `{"title":"` + strings.Repeat("x", 300) + `"}`, http.StatusBadRequest},
		{"UpdateMissing", http.MethodPut, "/api/tasks/nope", `{"title":"x"}`, http.StatusNotFound},
		{"DeleteMissing", http.MethodDelete, "/api/tasks/nope", "", http.StatusNotFound},
		{"MethodNotAllowed", http.MethodPatch, "/api/tasks", "", http.StatusMethodNotAllowed},
		{"UnknownAction", http.MethodPost, "/api/tasks/abc/archive", "", http.StatusNotFound},
		{"EmptyID", http.MethodGet, "/api/tasks/", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestRequeue(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	created := decode[models.Task](t, env.do(t, http.MethodPost, "/api/tasks", `{"title":"x"}`))

	resp := env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/requeue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), body["requeued_items"])

	resp = env.do(t, http.MethodPost, "/api/tasks/missing/requeue", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		result *models.SyncResult
		err    error
		want   int
	}{
		{"Success", &models.SyncResult{Success: true, SyncedItems: 2, Errors: []models.SyncError{}}, nil, http.StatusOK},
		{"Partial", &models.SyncResult{Success: false, FailedItems: 1, Errors: []models.SyncError{{TaskID: "a", Error: "x"}}}, nil, http.StatusOK},
		{"Offline", nil, syncer.ErrOffline, http.StatusServiceUnavailable},
		{"InProgress", nil, syncer.ErrSyncInProgress, http.StatusConflict},
		{"Aborted", &models.SyncResult{Errors: []models.SyncError{{Operation: "sync", Error: "disk"}}}, errors.New("disk"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.APIConfig{})
			env.runner.result = tt.result
			env.runner.err = tt.err

			resp := env.do(t, http.MethodPost, "/api/sync", "")
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, 1, env.runner.calls)

			if tt.want == http.StatusOK {
				body := decode[map[string]any](t, resp)
				assert.Equal(t, tt.result.Success, body["success"])
				assert.Equal(t, float64(tt.result.SyncedItems), body["synced_items"])
				assert.Equal(t, float64(tt.result.FailedItems), body["failed_items"])
				assert.NotNil(t, body["errors"])
			}
		})
	}

	env := newTestEnv(t, config.APIConfig{})
	resp := env.do(t, http.MethodGet, "/api/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.runner.online = false
	env.do(t, http.MethodPost, "/api/tasks", `{"title":"a"}`)
	env.do(t, http.MethodPost, "/api/tasks", `{"title":"b"}`)

	resp := env.do(t, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, false, body["online"])
	assert.Equal(t, float64(2), body["pending"])
	assert.Equal(t, float64(0), body["failed"])
	assert.Nil(t, body["last_sync"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "").StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/health", "").StatusCode)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/tasks", routeLabel("/api/tasks"))
	assert.Equal(t, "/api/tasks/{id}", routeLabel("/api/tasks/123"))
	assert.Equal(t, "/api/tasks/{id}/requeue", routeLabel("/api/tasks/123/requeue"))
	assert.Equal(t, "/api/sync", routeLabel("/api/sync"))
	assert.Equal(t, "/api/sync/status", routeLabel("/api/sync/status"))
	assert.Equal(t, "/api/health", routeLabel("/api/health"))
	assert.Equal(t, "other", routeLabel("/wp-admin/login.php"))
	assert.Equal(t, "other", routeLabel("/api/random-"+strings.Repeat("x", 40)))
}
