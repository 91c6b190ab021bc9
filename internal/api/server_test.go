package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/indexer"
	"github.com/JakeFAU/realtime-job-indexer/internal/queue/memory"
	"github.com/JakeFAU/realtime-job-indexer/internal/worker"
)

type fakeSource struct {
	ready   bool
	report  indexer.Report
	stats   memory.Stats
	workers []worker.Info
	panics  bool
}

func (f *fakeSource) RunID() string { return "run-7" }
func (f *fakeSource) Ready() bool   { return f.ready }
func (f *fakeSource) Progress() indexer.Report {
	if f.panics {
		panic("boom")
	}
	return f.report
}
func (f *fakeSource) QueueStats() memory.Stats { return f.stats }
func (f *fakeSource) Workers() []worker.Info   { return f.workers }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(&fakeSource{}, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsStart(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	s := NewServer(src, zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, get(t, s, "/readyz").Code)

	src.ready = true
	rec := get(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","run_id":"run-7"}`, rec.Body.String())
}

func TestRunReportsProgressAndQueue(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		ready:  true,
		report: indexer.Report{RunID: "run-7", CatalogKey: "board", Enqueued: 5, Submitted: 3},
		stats:  memory.Stats{Capacity: 4, Buffered: 1, Outstanding: 2, Enqueued: 5, Acked: 3},
	}
	rec := get(t, NewServer(src, nil), "/v1/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var body runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "run-7", body.RunID)
	require.True(t, body.Ready)
	require.Equal(t, 3, body.Report.Submitted)
	require.Equal(t, 2, body.Queue.Outstanding)
}

func TestWorkersSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	s := NewServer(src, zap.NewNop())
	require.JSONEq(t, `{"workers":[]}`, get(t, s, "/v1/workers").Body.String())

	src.workers = []worker.Info{{
		ID:       1,
		Identity: "detail-fetch-1",
		Purpose:  crawler.PurposeDetailFetch,
		OpenedAt: time.Unix(0, 0).UTC(),
	}}
	var body struct {
		Workers []worker.Info `json:"workers"`
	}
	require.NoError(t, json.NewDecoder(get(t, s, "/v1/workers").Body).Decode(&body))
	require.Len(t, body.Workers, 1)
	require.Equal(t, "detail-fetch-1", body.Workers[0].Identity)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(&fakeSource{}, zap.NewNop()), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(&fakeSource{panics: true}, zap.NewNop()), "/v1/run")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(&fakeSource{ready: true}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
