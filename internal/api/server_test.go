package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/clock/system"
	"github.com/JakeFAU/crawl-pipeline/internal/dispatcher"
	"github.com/JakeFAU/crawl-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/crawl-pipeline/internal/pool"
	"github.com/JakeFAU/crawl-pipeline/internal/stats"
	"github.com/JakeFAU/crawl-pipeline/internal/store"
	"github.com/JakeFAU/crawl-pipeline/internal/store/memory"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
	"github.com/JakeFAU/crawl-pipeline/internal/worker"
)

func newTestServer(t *testing.T) (*Server, worker.Env, *memory.Store) {
	t.Helper()

	keys := store.Keyspace{Prefix: "test"}
	clk := system.NewManual(time.Unix(1_700_000_000, 0))
	s := memory.New(clk)
	running := pool.NewRunning(s, keys)
	env := worker.Env{
		Store:         s,
		Pending:       pool.NewPending(s, keys, running),
		Running:       running,
		CrawlErrors:   pool.NewCrawlErrors(s, keys),
		ProcessErrors: pool.NewProcessErrors(s, keys),
		Warnings:      pool.NewWarnings(s, keys, sha256.New()),
		Unknown:       pool.NewUnknownErrors(s, keys, nil, nil),
		Instances:     stats.NewInstance(s, keys, clk),
		Cluster:       stats.NewCluster(s, keys, clk),
		Clock:         clk,
	}
	return NewServer(env, dispatcher.New(env.Pending, nil), zap.NewNop()), env, s
}

func serve(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv, _, s := newTestServer(t)

	rec := serve(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, s.Close())
	rec = serve(t, srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	serve(t, srv, http.MethodGet, "/healthz", nil)

	rec := serve(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestEnqueueTask(t *testing.T) {
	t.Parallel()

	srv, env, _ := newTestServer(t)
	body := []byte(`{"func_name":"fetch_page","url":"https://example.com","second_rate_limit":2}`)

	rec := serve(t, srv, http.MethodPost, "/v1/instances/wiki/tasks", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["task_id"], 12)

	got, err := env.Pending.Fetch(context.Background(), "wiki")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, resp["task_id"], got.ID)
	require.Equal(t, "fetch_page", got.FuncName)
	require.Equal(t, 2, got.SecondRateLimit)
}

func TestEnqueueTaskValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	for _, body := range []string{`{`, `{"url":"https://example.com"}`, `{"func_name":"f","url":"u","second_rate_limit":-1}`} {
		rec := serve(t, srv, http.MethodPost, "/v1/instances/wiki/tasks", []byte(body))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestInstanceStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, env, s := newTestServer(t)
	require.NoError(t, env.Pending.Push(ctx, &task.Task{ID: "p1", InstanceID: "wiki"}))
	b := s.NewBatch()
	env.Instances.Incr(b, "wiki", stats.Success)
	require.NoError(t, env.Instances.AddTaskForTimeCost(b, &task.Task{ID: "done", InstanceID: "wiki", CrawlSeconds: 1.5}))
	require.NoError(t, b.Commit(ctx))

	rec := serve(t, srv, http.MethodGet, "/v1/instances/wiki/stats?costs=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto instanceStatsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.EqualValues(t, 1, dto.Pending)
	require.EqualValues(t, 1, dto.Counters[stats.Success])
	require.InDelta(t, 1.5, dto.TimeCosts["done"].CrawlSeconds, 1e-9)
}

func TestListErrorsAndWarnings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, env, s := newTestServer(t)
	failed := &task.Task{ID: "f1", InstanceID: "wiki", CrawlErrorTraceback: "crawl: boom"}
	b := s.NewBatch()
	require.NoError(t, env.CrawlErrors.Add(b, failed))
	require.NoError(t, b.Commit(ctx))
	_, err := env.Warnings.Add(ctx, failed)
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodGet, "/v1/instances/wiki/errors/crawl?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"f1"`)

	rec = serve(t, srv, http.MethodGet, "/v1/instances/wiki/errors/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tasks":[]}`, rec.Body.String())

	rec = serve(t, srv, http.MethodGet, "/v1/instances/wiki/errors/other", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/instances/wiki/errors/crawl?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/instances/wiki/warnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"f1"`)
}

func TestClusterStatsAndFaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, env, _ := newTestServer(t)
	require.NoError(t, env.Cluster.AddThread(ctx, "host-0"))
	require.NoError(t, env.Unknown.Add(ctx, pool.Fault{Thread: "host-0", Trace: "panic: boom"}))

	rec := serve(t, srv, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "host-0")

	rec = serve(t, srv, http.MethodGet, "/v1/faults?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "panic: boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
