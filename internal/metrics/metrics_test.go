package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://UK.indeed.com/jobs?q=go", "uk.indeed.com"},
		{"uk.indeed.com/viewjob", "uk.indeed.com"},
		{"localhost:9200", "localhost"},
		{"UK.Indeed.com", "uk.indeed.com"},
		{"http://%", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Site(tt.in), tt.in)
	}
}

func TestObserveRecordAndIndexCall(t *testing.T) {
	Init()
	Init()

	submitted := recordsTotal.WithLabelValues("submitted")
	before := testutil.ToFloat64(submitted)
	ObserveRecord("submitted")
	ObserveRecord("submitted")
	require.Equal(t, before+2, testutil.ToFloat64(submitted))

	failed := indexCallsTotal.WithLabelValues("get", "error")
	failedBefore := testutil.ToFloat64(failed)
	ObserveIndexCall("get", nil, 10*time.Millisecond)
	ObserveIndexCall("get", errors.New("boom"), 10*time.Millisecond)
	require.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestWorkerGauge(t *testing.T) {
	WorkerOpened("gauge-test")
	WorkerOpened("gauge-test")
	WorkerStopped("gauge-test")
	require.Equal(t, 1.0, testutil.ToFloat64(workersActive.WithLabelValues("gauge-test")))
	WorkerStopped("gauge-test")
	require.Zero(t, testutil.ToFloat64(workersActive.WithLabelValues("gauge-test")))
}

func TestSiteLabelsAreNormalized(t *testing.T) {
	ObserveRobotsFallback("https://Robots.Example.com/robots.txt")
	ObserveRobotsFallback("robots.example.com")
	require.Equal(t, 2.0, testutil.ToFloat64(robotsFallbacks.WithLabelValues("robots.example.com")))
}

func TestHandlerListsFamilies(t *testing.T) {
	SetQueueOutstanding(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "jobindexer_queue_outstanding 3")
}

func FuzzSite(f *testing.F) {
	for _, seed := range []string{"https://uk.indeed.com", "http://localhost:9200", "ftp://example.com", ""} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		if Site(raw) == "" {
			t.Errorf("Site(%q) returned an empty label", raw)
		}
	})
}
