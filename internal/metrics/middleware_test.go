package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/workers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	ok := opsRequestsTotal.WithLabelValues(http.MethodGet, "/v1/workers/{id}", "200")
	gone := opsRequestsTotal.WithLabelValues(http.MethodGet, "/gone", "410")
	okBefore, goneBefore := testutil.ToFloat64(ok), testutil.ToFloat64(gone)

	for _, path := range []string{"/v1/workers/a", "/v1/workers/b", "/gone"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	require.Equal(t, goneBefore+1, testutil.ToFloat64(gone))
	require.Positive(t, testutil.CollectAndCount(opsRequestSeconds))
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	Init()
	unmatched := opsRequestsTotal.WithLabelValues(http.MethodPost, "unmatched", "418")
	before := testutil.ToFloat64(unmatched)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/anything", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(unmatched))
}
